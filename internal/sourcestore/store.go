// Package sourcestore implements the content-addressed, SHA-256-keyed
// source bundle store. Bundles are immutable once committed: there is no
// delete API, only upload and read.
package sourcestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rch-lane/xcode-worker/internal/protocol"
)

// ErrTooLarge is returned by Upload when the declared content length
// exceeds the configured limit.
var ErrTooLarge = errors.New("sourcestore: payload exceeds max upload size")

// Meta is the sidecar document stored next to each bundle.
type Meta struct {
	SizeBytes   uint64 `json:"size_bytes"`
	WireSHA256  string `json:"wire_sha256"`
	Compression string `json:"compression,omitempty"`
	Format      string `json:"format"`
	StoredAt    time.Time `json:"stored_at"`
}

// Mirror is an optional write-behind remote durability backstop for
// committed bundles. Failures to mirror never fail the local commit.
type Mirror interface {
	Put(ctx context.Context, sha256Hex string, r io.Reader, size int64) error
}

// Store manages <root>/sources/<sha256>/{bundle.tar[.zst], meta.json}.
type Store struct {
	root   string
	mirror Mirror
}

// New opens a Store rooted at root, creating the directory if needed.
func New(root string, mirror Mirror) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("sourcestore: create root: %w", err)
	}
	return &Store{root: root, mirror: mirror}, nil
}

func (s *Store) dir(sha256Hex string) string {
	return filepath.Join(s.root, sha256Hex)
}

func (s *Store) bundlePath(sha256Hex, format, compression string) string {
	name := "bundle." + format
	if compression == "zstd" {
		name += ".zst"
	}
	return filepath.Join(s.dir(sha256Hex), name)
}

// Has reports whether sha256Hex is already committed.
func (s *Store) Has(sha256Hex string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.dir(sha256Hex), "meta.json"))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("sourcestore: stat meta: %w", err)
}

// Upload streams a bundle into the store under sha256Hex, verifying the
// bytes received match info.ContentSHA256 and, for an uncompressed bundle,
// that they also hash to sha256Hex. A zstd-compressed bundle is stored as
// received: it is not decompressed, so sha256Hex is not checked against
// its contents. Re-uploading an existing sha256Hex is a no-op
// (idempotent, spec P6): the stream is still drained so the caller's wire
// protocol stays consistent, but the existing bundle is left untouched.
func (s *Store) Upload(ctx context.Context, sha256Hex string, stream io.Reader, info protocol.StreamInfo, maxUploadBytes uint64) (alreadyHad bool, err error) {
	if maxUploadBytes > 0 && info.ContentLength > maxUploadBytes {
		io.Copy(io.Discard, io.LimitReader(stream, int64(info.ContentLength)))
		return false, fmt.Errorf("%w: %s > %s", ErrTooLarge,
			humanize.Bytes(info.ContentLength), humanize.Bytes(maxUploadBytes))
	}

	had, err := s.Has(sha256Hex)
	if err != nil {
		return false, err
	}

	dir := s.dir(sha256Hex)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return had, fmt.Errorf("sourcestore: mkdir: %w", err)
	}
	finalPath := s.bundlePath(sha256Hex, orDefault(info.Format, "tar"), info.Compression)
	tmpPath := finalPath + ".tmp"

	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return had, fmt.Errorf("sourcestore: create temp file: %w", err)
	}
	h := sha256.New()
	n, copyErr := io.Copy(io.MultiWriter(tmp, h), io.LimitReader(stream, int64(info.ContentLength)))
	closeErr := tmp.Close()

	if copyErr != nil {
		os.Remove(tmpPath)
		return had, fmt.Errorf("sourcestore: write bundle: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return had, fmt.Errorf("sourcestore: close bundle: %w", closeErr)
	}
	if uint64(n) != info.ContentLength {
		os.Remove(tmpPath)
		return had, fmt.Errorf("sourcestore: short write: got %d bytes, want %d", n, info.ContentLength)
	}
	gotSHA := hex.EncodeToString(h.Sum(nil))
	if info.ContentSHA256 != "" && gotSHA != info.ContentSHA256 {
		os.Remove(tmpPath)
		return had, fmt.Errorf("sourcestore: content hash mismatch: got %s, want %s", gotSHA, info.ContentSHA256)
	}
	if info.Compression != "zstd" && gotSHA != sha256Hex {
		os.Remove(tmpPath)
		return had, fmt.Errorf("sourcestore: source hash mismatch: got %s, want %s", gotSHA, sha256Hex)
	}

	if had {
		os.Remove(tmpPath)
		return true, nil
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return false, fmt.Errorf("sourcestore: commit bundle: %w", err)
	}

	meta := Meta{
		SizeBytes:   info.ContentLength,
		WireSHA256:  gotSHA,
		Compression: info.Compression,
		Format:      orDefault(info.Format, "tar"),
		StoredAt:    time.Now().UTC(),
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return false, fmt.Errorf("sourcestore: marshal meta: %w", err)
	}
	metaTmp := filepath.Join(dir, "meta.json.tmp")
	if err := os.WriteFile(metaTmp, metaBytes, 0o644); err != nil {
		return false, fmt.Errorf("sourcestore: write meta: %w", err)
	}
	if err := os.Rename(metaTmp, filepath.Join(dir, "meta.json")); err != nil {
		return false, fmt.Errorf("sourcestore: commit meta: %w", err)
	}

	if s.mirror != nil {
		if f, err := os.Open(finalPath); err == nil {
			defer f.Close()
			_ = s.mirror.Put(ctx, sha256Hex, f, int64(info.ContentLength))
		}
	}

	return false, nil
}

// Open returns a reader over the committed bundle for sha256Hex, and its
// Meta sidecar.
func (s *Store) Open(sha256Hex string) (io.ReadCloser, Meta, error) {
	var meta Meta
	metaBytes, err := os.ReadFile(filepath.Join(s.dir(sha256Hex), "meta.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Meta{}, fmt.Errorf("sourcestore: %s: %w", sha256Hex, os.ErrNotExist)
		}
		return nil, Meta{}, fmt.Errorf("sourcestore: read meta: %w", err)
	}
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, Meta{}, fmt.Errorf("sourcestore: unmarshal meta: %w", err)
	}
	f, err := os.Open(s.bundlePath(sha256Hex, meta.Format, meta.Compression))
	if err != nil {
		return nil, Meta{}, fmt.Errorf("sourcestore: open bundle: %w", err)
	}
	return f, meta, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
