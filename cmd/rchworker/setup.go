package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rch-lane/xcode-worker/internal/artifact"
	"github.com/rch-lane/xcode-worker/internal/config"
	"github.com/rch-lane/xcode-worker/internal/identity"
	"github.com/rch-lane/xcode-worker/internal/logging"
	"github.com/spf13/cobra"
)

// loadConfig resolves config-dir and loads the worker's own config, using
// the --json-logs/--verbose persistent flags to build its logger.
func loadConfig(cmd *cobra.Command) (*config.WorkerConfig, *slog.Logger, error) {
	dir, err := cmd.Flags().GetString("config-dir")
	if err != nil {
		return nil, nil, err
	}
	forceJSON, err := cmd.Flags().GetBool("json-logs")
	if err != nil {
		return nil, nil, err
	}
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return nil, nil, err
	}

	log := logging.New(os.Stderr, logging.Options{Verbose: verbose, ForceJSON: forceJSON})

	cfg, name, err := config.Load(dir)
	if err != nil {
		return nil, log, fmt.Errorf("load config: %w", err)
	}
	log.Debug("loaded worker config", "file", name)
	return cfg, log, nil
}

// buildMirror constructs the shared S3 mirror from cfg.Mirror, or returns
// (nil, nil) if no mirror is configured. runRPC hands it to the source
// store only, which mirrors each newly committed source bundle through its
// Put method; artifact bundles committed by the dispatcher are not
// mirrored.
func buildMirror(ctx context.Context, cfg *config.WorkerConfig, log *slog.Logger) (*artifact.S3Mirror, error) {
	if cfg.Mirror == nil {
		return nil, nil
	}
	return artifact.NewS3Mirror(ctx, artifact.MirrorConfig{
		Endpoint:        cfg.Mirror.Endpoint,
		Bucket:          cfg.Mirror.Bucket,
		AccessKeyID:     cfg.Mirror.AccessKeyID,
		SecretAccessKey: cfg.Mirror.SecretAccessKey,
	}, log)
}

// loadSigningKey reads the Ed25519 private key from cfg.SigningKeyPath. It
// does not generate one: that is keygenCmd's job, run once ahead of time.
func loadSigningKey(cfg *config.WorkerConfig) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(cfg.SigningKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read signing key %s: %w", cfg.SigningKeyPath, err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing key %s: expected %d bytes, got %d", cfg.SigningKeyPath, ed25519.PrivateKeySize, len(raw))
	}
	return ed25519.PrivateKey(raw), nil
}

// loadIdentityVerifier builds an identity.Verifier from the HMAC secret at
// cfg.IdentitySecretPath, or returns (nil, nil) if no path is configured:
// identity verification is opt-in, not every worker accepts multi-backend
// traffic.
func loadIdentityVerifier(cfg *config.WorkerConfig) (*identity.Verifier, error) {
	if cfg.IdentitySecretPath == "" {
		return nil, nil
	}
	secret, err := os.ReadFile(cfg.IdentitySecretPath)
	if err != nil {
		return nil, fmt.Errorf("read identity secret %s: %w", cfg.IdentitySecretPath, err)
	}
	return identity.NewVerifier(secret), nil
}

// writeFileAtomic writes data to path via a .tmp sibling and rename, the
// same two-phase commit idiom used throughout internal/artifact and
// internal/sourcestore.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit %s: %w", path, err)
	}
	return nil
}

