package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const baseYAML = `
max_concurrent_jobs: 4
max_upload_bytes: 1073741824
state_root: /var/lib/rchworker/state
source_root: /var/lib/rchworker/sources
artifact_root: /var/lib/rchworker/artifacts
cache_root: /var/lib/rchworker/cache
signing_key_path: /etc/rchworker/signing.key
`

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "rchworker.yaml", baseYAML)

	cfg, filename, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if filename != "rchworker.yaml" {
		t.Errorf("expected rchworker.yaml, got %s", filename)
	}
	if cfg.MaxConcurrentJobs != 4 {
		t.Errorf("expected max_concurrent_jobs 4, got %d", cfg.MaxConcurrentJobs)
	}
	if cfg.StateRoot != "/var/lib/rchworker/state" {
		t.Errorf("unexpected state_root %q", cfg.StateRoot)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	content := `
max_concurrent_jobs = 2
max_upload_bytes = 2147483648
state_root = "/srv/rchworker/state"
source_root = "/srv/rchworker/sources"
artifact_root = "/srv/rchworker/artifacts"
cache_root = "/srv/rchworker/cache"
signing_key_path = "/srv/rchworker/signing.key"
`
	writeConfig(t, dir, "rchworker.toml", content)

	cfg, filename, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if filename != "rchworker.toml" {
		t.Errorf("expected rchworker.toml, got %s", filename)
	}
	if cfg.MaxConcurrentJobs != 2 {
		t.Errorf("expected max_concurrent_jobs 2, got %d", cfg.MaxConcurrentJobs)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	content := `{
		"max_concurrent_jobs": 1,
		"max_upload_bytes": 1048576,
		"state_root": "/s",
		"source_root": "/s2",
		"artifact_root": "/s3",
		"cache_root": "/s4",
		"signing_key_path": "/s5"
	}`
	writeConfig(t, dir, "rchworker.json", content)

	cfg, filename, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if filename != "rchworker.json" {
		t.Errorf("expected rchworker.json, got %s", filename)
	}
	if cfg.MaxConcurrentJobs != 1 {
		t.Errorf("expected max_concurrent_jobs 1, got %d", cfg.MaxConcurrentJobs)
	}
}

func TestLoadPriority(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "rchworker.yaml", baseYAML)
	shadowed := strings.Replace(baseYAML, "max_concurrent_jobs: 4", "max_concurrent_jobs: 99", 1)
	writeConfig(t, dir, ".rchworker.yaml", shadowed)

	cfg, filename, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if filename != "rchworker.yaml" {
		t.Errorf("expected rchworker.yaml to take priority, got %s", filename)
	}
	if cfg.MaxConcurrentJobs != 4 {
		t.Errorf("expected the unprefixed file's value to win, got %d", cfg.MaxConcurrentJobs)
	}
}

func TestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "rchworker.yaml", baseYAML)

	cfg, _, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ProtocolMin != 1 || cfg.ProtocolMax != 1 {
		t.Errorf("expected default protocol range [1,1], got [%d,%d]", cfg.ProtocolMin, cfg.ProtocolMax)
	}
	if cfg.Retention.MaxAge.Duration() != 30*24*time.Hour {
		t.Errorf("expected default retention max_age 720h, got %v", cfg.Retention.MaxAge.Duration())
	}
}

func TestRetentionDuration(t *testing.T) {
	dir := t.TempDir()
	content := baseYAML + "retention:\n  max_age: 12h\n  max_bytes: 5000000\n"
	writeConfig(t, dir, "rchworker.yaml", content)

	cfg, _, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Retention.MaxAge.Duration() != 12*time.Hour {
		t.Errorf("expected 12h, got %v", cfg.Retention.MaxAge.Duration())
	}
	policy := cfg.Retention.ToArtifactPolicy()
	if policy.MaxAge != 12*time.Hour || policy.MaxBytes != 5000000 {
		t.Errorf("ToArtifactPolicy mismatch: %+v", policy)
	}
}

func TestMirrorConfig(t *testing.T) {
	dir := t.TempDir()
	content := baseYAML + `mirror:
  endpoint: https://r2.example.com
  bucket: rch-artifacts
  access_key_id: AKIAEXAMPLE
  secret_access_key: supersecret
`
	writeConfig(t, dir, "rchworker.yaml", content)

	cfg, _, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mirror == nil {
		t.Fatal("expected mirror to be set")
	}
	if cfg.Mirror.Bucket != "rch-artifacts" {
		t.Errorf("expected bucket rch-artifacts, got %q", cfg.Mirror.Bucket)
	}
}

func TestRequireLeaseConfig(t *testing.T) {
	dir := t.TempDir()
	content := baseYAML + "require_lease: true\nidentity_secret_path: /etc/rchworker/identity.key\n"
	writeConfig(t, dir, "rchworker.yaml", content)

	cfg, _, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.RequireLease {
		t.Error("expected require_lease true")
	}
	if cfg.IdentitySecretPath != "/etc/rchworker/identity.key" {
		t.Errorf("unexpected identity_secret_path %q", cfg.IdentitySecretPath)
	}
}

func TestValidateMirrorMissingCredentials(t *testing.T) {
	cfg := &WorkerConfig{
		ProtocolMin: 1, ProtocolMax: 1,
		MaxConcurrentJobs: 1, MaxUploadBytes: 1,
		StateRoot: "a", SourceRoot: "b", ArtifactRoot: "c", CacheRoot: "d",
		SigningKeyPath: "e",
		Mirror:         &MirrorConfig{Bucket: "bucket"},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for mirror missing credentials")
	}
}

func TestValidateMissingRoots(t *testing.T) {
	cfg := &WorkerConfig{
		ProtocolMin: 1, ProtocolMax: 1,
		MaxConcurrentJobs: 1, MaxUploadBytes: 1,
		SigningKeyPath: "e",
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing roots")
	}
}

func TestValidateProtocolRangeOutsideSupported(t *testing.T) {
	cfg := &WorkerConfig{
		ProtocolMin: 5, ProtocolMax: 6,
		MaxConcurrentJobs: 1, MaxUploadBytes: 1,
		StateRoot: "a", SourceRoot: "b", ArtifactRoot: "c", CacheRoot: "d",
		SigningKeyPath: "e",
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for a configured range with no overlap with this binary's supported range")
	}
}

func TestNoConfigError(t *testing.T) {
	dir := t.TempDir()
	_, _, err := Load(dir)
	if err != ErrNoConfig {
		t.Errorf("expected ErrNoConfig, got %v", err)
	}
}

func TestStrictDecodeRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	content := baseYAML + "totally_unknown_field: true\n"
	writeConfig(t, dir, "rchworker.yaml", content)

	if _, _, err := Load(dir); err == nil {
		t.Error("expected strict YAML decode to reject an unknown field")
	}
}
