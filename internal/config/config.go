// Package config loads a worker's own operational settings: roots for
// state/source/artifact/cache storage, protocol version bounds, concurrency
// and upload limits, retention policy, and the signing key and optional
// remote-mirror locations.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/rch-lane/xcode-worker/internal/artifact"
	"github.com/rch-lane/xcode-worker/internal/protocol"
)

// ErrNoConfig is returned when no worker config file is found in dir.
var ErrNoConfig = errors.New("no rchworker config file found")

// WorkerConfig is a worker's own operational settings, as opposed to a
// per-job effective configuration (see internal/effconfig).
type WorkerConfig struct {
	ProtocolMin int `yaml:"protocol_min" toml:"protocol_min" json:"protocol_min"`
	ProtocolMax int `yaml:"protocol_max" toml:"protocol_max" json:"protocol_max"`

	MaxConcurrentJobs int    `yaml:"max_concurrent_jobs" toml:"max_concurrent_jobs" json:"max_concurrent_jobs"`
	MaxUploadBytes    uint64 `yaml:"max_upload_bytes" toml:"max_upload_bytes" json:"max_upload_bytes"`

	StateRoot    string `yaml:"state_root" toml:"state_root" json:"state_root"`
	SourceRoot   string `yaml:"source_root" toml:"source_root" json:"source_root"`
	ArtifactRoot string `yaml:"artifact_root" toml:"artifact_root" json:"artifact_root"`
	CacheRoot    string `yaml:"cache_root" toml:"cache_root" json:"cache_root"`

	Retention RetentionPolicy `yaml:"retention" toml:"retention" json:"retention"`

	SigningKeyPath string `yaml:"signing_key_path" toml:"signing_key_path" json:"signing_key_path"`

	// RequireLease rejects any submit that does not reference an active
	// lease_id (spec.md §4.6); a worker handling untrusted or
	// multi-backend traffic sets this, a single-backend dev setup
	// typically does not. When IdentitySecretPath is also set, it further
	// requires submit/reserve to carry a valid identity_token.
	RequireLease bool `yaml:"require_lease" toml:"require_lease" json:"require_lease"`
	// IdentitySecretPath points to a file holding the shared HMAC secret
	// used to verify identity_token bearer JWTs. Empty disables identity
	// verification: tokens, if sent, are ignored.
	IdentitySecretPath string `yaml:"identity_secret_path,omitempty" toml:"identity_secret_path,omitempty" json:"identity_secret_path,omitempty"`

	Mirror *MirrorConfig `yaml:"mirror,omitempty" toml:"mirror,omitempty" json:"mirror,omitempty"`
}

// RetentionPolicy mirrors artifact.RetentionPolicy but with a
// human-readable duration in config files ("720h" rather than a raw
// nanosecond count).
type RetentionPolicy struct {
	MaxAge   Duration `yaml:"max_age" toml:"max_age" json:"max_age"`
	MaxBytes uint64   `yaml:"max_bytes" toml:"max_bytes" json:"max_bytes"`
}

// ToArtifactPolicy converts to the type internal/artifact's GC expects.
func (r RetentionPolicy) ToArtifactPolicy() artifact.RetentionPolicy {
	return artifact.RetentionPolicy{
		MaxAge:   r.MaxAge.Duration(),
		MaxBytes: r.MaxBytes,
	}
}

// MirrorConfig configures an optional S3-compatible write-behind mirror for
// committed source bundles; artifact bundles are not mirrored.
type MirrorConfig struct {
	Endpoint        string `yaml:"endpoint" toml:"endpoint" json:"endpoint"`
	Bucket          string `yaml:"bucket" toml:"bucket" json:"bucket"`
	AccessKeyID     string `yaml:"access_key_id" toml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" toml:"secret_access_key" json:"secret_access_key"`
}

// Duration wraps time.Duration for human-readable config parsing.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(dur)
	return nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// Load finds and parses a worker config file from the given directory,
// applying defaults and validation.
func Load(dir string) (*WorkerConfig, string, error) {
	candidates := []struct {
		name   string
		parser func([]byte, *WorkerConfig) error
	}{
		{"rchworker.yaml", parseYAML},
		{"rchworker.yml", parseYAML},
		{"rchworker.toml", parseTOML},
		{"rchworker.json", parseJSON},
		{".rchworker.yaml", parseYAML},
		{".rchworker.yml", parseYAML},
		{".rchworker.toml", parseTOML},
		{".rchworker.json", parseJSON},
	}

	for _, c := range candidates {
		path := filepath.Join(dir, c.name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var cfg WorkerConfig
		if err := c.parser(data, &cfg); err != nil {
			return nil, c.name, fmt.Errorf("parse %s: %w", c.name, err)
		}

		cfg.applyDefaults()

		if err := cfg.Validate(); err != nil {
			return nil, c.name, fmt.Errorf("validate %s: %w", c.name, err)
		}

		return &cfg, c.name, nil
	}

	return nil, "", ErrNoConfig
}

func parseYAML(data []byte, cfg *WorkerConfig) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	return decoder.Decode(cfg)
}

func parseTOML(data []byte, cfg *WorkerConfig) error {
	_, err := toml.Decode(string(data), cfg)
	return err
}

func parseJSON(data []byte, cfg *WorkerConfig) error {
	return json.Unmarshal(data, cfg)
}

// Validate checks the config for internally-inconsistent or out-of-range
// values. It does not check that the roots exist on disk; callers create
// them on first use.
func (c *WorkerConfig) Validate() error {
	if c.ProtocolMin <= 0 || c.ProtocolMax <= 0 {
		return errors.New("protocol_min and protocol_max must be positive")
	}
	if c.ProtocolMin > c.ProtocolMax {
		return errors.New("protocol_min must not exceed protocol_max")
	}
	if c.ProtocolMin > protocol.ProtocolMax || c.ProtocolMax < protocol.ProtocolMin {
		return fmt.Errorf("configured protocol range [%d,%d] does not overlap this binary's supported range [%d,%d]",
			c.ProtocolMin, c.ProtocolMax, protocol.ProtocolMin, protocol.ProtocolMax)
	}
	if c.MaxConcurrentJobs <= 0 {
		return errors.New("max_concurrent_jobs must be positive")
	}
	if c.MaxUploadBytes == 0 {
		return errors.New("max_upload_bytes must be positive")
	}
	if c.StateRoot == "" || c.SourceRoot == "" || c.ArtifactRoot == "" || c.CacheRoot == "" {
		return errors.New("state_root, source_root, artifact_root, and cache_root are all required")
	}
	if c.SigningKeyPath == "" {
		return errors.New("signing_key_path is required")
	}
	if c.Mirror != nil {
		if c.Mirror.Bucket == "" {
			return errors.New("mirror.bucket is required when mirror is configured")
		}
		if c.Mirror.AccessKeyID == "" || c.Mirror.SecretAccessKey == "" {
			return errors.New("mirror.access_key_id and mirror.secret_access_key are required when mirror is configured")
		}
	}
	return nil
}

func (c *WorkerConfig) applyDefaults() {
	if c.ProtocolMin == 0 {
		c.ProtocolMin = protocol.ProtocolMin
	}
	if c.ProtocolMax == 0 {
		c.ProtocolMax = protocol.ProtocolMax
	}
	if c.MaxConcurrentJobs == 0 {
		c.MaxConcurrentJobs = 2
	}
	if c.MaxUploadBytes == 0 {
		c.MaxUploadBytes = 2 << 30 // 2 GiB
	}
	if c.Retention.MaxAge == 0 {
		c.Retention.MaxAge = Duration(30 * 24 * time.Hour)
	}
}
