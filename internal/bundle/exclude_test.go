package bundle

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultExcludes(t *testing.T) {
	r := New()
	tests := []struct {
		path     string
		excluded bool
	}{
		{".git", true},
		{".git/HEAD", true},
		{"DerivedData/Build/Products", true},
		{"Sources/App.swift", false},
		{"Tests/AppTests.swift", false},
		{".DS_Store", true},
		{"Sub/.DS_Store", true},
		{"Results.xcresult", true},
		{"Results.xcresult/info.plist", true},
	}
	for _, tt := range tests {
		if got := r.IsExcluded(tt.path); got != tt.excluded {
			t.Errorf("IsExcluded(%q) = %v, want %v", tt.path, got, tt.excluded)
		}
	}
}

func TestWithIgnoreFile(t *testing.T) {
	dir := t.TempDir()
	ignorePath := filepath.Join(dir, ".rchignore")
	if err := writeFile(ignorePath, "# comment\n\nVendor/**\nVendor\n"); err != nil {
		t.Fatalf("write ignore file: %v", err)
	}

	r, err := WithIgnoreFile(ignorePath)
	if err != nil {
		t.Fatalf("WithIgnoreFile: %v", err)
	}
	if !r.IsExcluded("Vendor/lib.swift") {
		t.Fatalf("expected Vendor/lib.swift to be excluded")
	}
	if r.IsExcluded("Sources/App.swift") {
		t.Fatalf("did not expect Sources/App.swift to be excluded")
	}
}

func TestWithIgnoreFileMissingIsNotError(t *testing.T) {
	r, err := WithIgnoreFile(filepath.Join(t.TempDir(), "nope.rchignore"))
	if err != nil {
		t.Fatalf("expected missing ignore file to be tolerated, got %v", err)
	}
	if !r.IsExcluded(".git") {
		t.Fatalf("expected defaults to still apply")
	}
}

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o644)
}
