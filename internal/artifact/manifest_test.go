package artifact

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestBuildAndCommitManifest(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "build.log"), "hello")
	writeTestFile(t, filepath.Join(dir, "Products", "App.app", "Info.plist"), "binary-plist")

	m, err := BuildManifest(dir)
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}
	if len(m.Entries) == 0 {
		t.Fatalf("expected manifest entries")
	}

	if err := CommitManifest(dir, m); err != nil {
		t.Fatalf("CommitManifest: %v", err)
	}

	loaded, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if len(loaded.Entries) != len(m.Entries) {
		t.Fatalf("loaded %d entries, want %d", len(loaded.Entries), len(m.Entries))
	}
}

func TestBuildManifestExcludesOwnDocuments(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "build.log"), "hello")
	writeTestFile(t, filepath.Join(dir, "manifest.json"), "{}")
	writeTestFile(t, filepath.Join(dir, "attestation.json"), "{}")

	m, err := BuildManifest(dir)
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}
	for _, e := range m.Entries {
		if e.RelativePath == "manifest.json" || e.RelativePath == "attestation.json" {
			t.Fatalf("manifest should not include %s", e.RelativePath)
		}
	}
}

func TestVerifyDetectsMismatchAndMissing(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "build.log"), "hello")

	m, err := BuildManifest(dir)
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}

	res, err := Verify(dir, m)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected verify OK on pristine dir, got %+v", res)
	}

	writeTestFile(t, filepath.Join(dir, "build.log"), "tampered")
	res, err = Verify(dir, m)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.OK || len(res.Mismatch) != 1 {
		t.Fatalf("expected mismatch detected, got %+v", res)
	}

	if err := os.Remove(filepath.Join(dir, "build.log")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	res, err = Verify(dir, m)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.OK || len(res.Missing) != 1 {
		t.Fatalf("expected missing detected, got %+v", res)
	}
}

func TestSchemaMajorMismatchRejected(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "manifest.json"), `{"schema_version":2,"schema_id":"rch-xcode/manifest@2","created_at":"2026-01-01T00:00:00Z","entries":[]}`)

	_, err := LoadManifest(dir)
	if err == nil {
		t.Fatalf("expected schema mismatch error")
	}
	if _, ok := err.(*SchemaMismatchError); !ok {
		t.Fatalf("expected SchemaMismatchError, got %T: %v", err, err)
	}
}
