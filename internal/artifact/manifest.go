// Package artifact implements artifact bundle manifests, schema-versioned
// documents, Ed25519-signed attestations, run/job indices, and retention
// GC, per the content-addressed artifact subsystem.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ManifestSchemaID/Version identify the manifest document shape.
const (
	ManifestSchemaID      = "rch-xcode/manifest@1"
	ManifestSchemaVersion = 1
)

// excludedFiles are never included as manifest entries even though they
// live in the job directory.
var excludedFiles = map[string]bool{
	"manifest.json":     true,
	"attestation.json":  true,
	"manifest.json.tmp": true,
}

// EntryType closed set.
type EntryType string

const (
	EntryFile EntryType = "file"
	EntryDir  EntryType = "dir"
)

// ManifestEntry describes one file in a committed artifact bundle.
type ManifestEntry struct {
	RelativePath string    `json:"relative_path"`
	Type         EntryType `json:"type"`
	Size         int64     `json:"size"`
	SHA256       string    `json:"sha256,omitempty"`
}

// Manifest is the schema-versioned, two-phase-committed document
// describing every file produced by a job.
type Manifest struct {
	SchemaVersion int             `json:"schema_version"`
	SchemaID      string          `json:"schema_id"`
	CreatedAt     time.Time       `json:"created_at"`
	Entries       []ManifestEntry `json:"entries"`
}

// BuildManifest walks jobDir and hashes every regular file except the
// manifest/attestation documents themselves.
func BuildManifest(jobDir string) (*Manifest, error) {
	var entries []ManifestEntry
	err := filepath.Walk(jobDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(jobDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if excludedFiles[rel] {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			entries = append(entries, ManifestEntry{RelativePath: filepath.ToSlash(rel), Type: EntryDir})
			return nil
		}
		sum, err := hashFile(path)
		if err != nil {
			return fmt.Errorf("hash %s: %w", rel, err)
		}
		entries = append(entries, ManifestEntry{
			RelativePath: filepath.ToSlash(rel),
			Type:         EntryFile,
			Size:         info.Size(),
			SHA256:       sum,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("artifact: build manifest: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].RelativePath < entries[j].RelativePath })
	return &Manifest{
		SchemaVersion: ManifestSchemaVersion,
		SchemaID:      ManifestSchemaID,
		CreatedAt:     time.Now().UTC(),
		Entries:       entries,
	}, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CommitManifest writes m to jobDir/manifest.json via a two-phase
// write-temp-then-rename, matching the commit discipline used for every
// other durable document in this subsystem.
func CommitManifest(jobDir string, m *Manifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: marshal manifest: %w", err)
	}
	finalPath := filepath.Join(jobDir, "manifest.json")
	tmpPath := finalPath + ".tmp"
	if err := os.WriteFile(tmpPath, b, 0o644); err != nil {
		return fmt.Errorf("artifact: write manifest temp: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("artifact: commit manifest: %w", err)
	}
	return nil
}

// LoadManifest reads and schema-validates jobDir/manifest.json.
func LoadManifest(jobDir string) (*Manifest, error) {
	b, err := os.ReadFile(filepath.Join(jobDir, "manifest.json"))
	if err != nil {
		return nil, fmt.Errorf("artifact: read manifest: %w", err)
	}
	var header schemaHeader
	if err := json.Unmarshal(b, &header); err != nil {
		return nil, fmt.Errorf("artifact: parse manifest header: %w", err)
	}
	if err := checkSchemaMajor(header.SchemaID, ManifestSchemaID); err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("artifact: unmarshal manifest: %w", err)
	}
	return &m, nil
}
