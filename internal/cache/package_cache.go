package cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// PackageMode is the closed set of package-resolution cache modes.
type PackageMode string

const (
	PackageOff    PackageMode = "off"
	PackageShared PackageMode = "shared"
)

// PackageCache manages <cache_root>/<namespace>/spm/<mode>/<toolchain>/<resolved_hash>/...
type PackageCache struct {
	root        string
	lockTimeout time.Duration
	log         *slog.Logger
}

// NewPackageCache opens a PackageCache rooted at cacheRoot/namespace.
func NewPackageCache(cacheRoot, namespace string, lockTimeout time.Duration, log *slog.Logger) *PackageCache {
	if log == nil {
		log = slog.Default()
	}
	return &PackageCache{
		root:        filepath.Join(cacheRoot, namespace, "spm"),
		lockTimeout: lockTimeout,
		log:         log,
	}
}

// Dir returns the shared package-resolution cache directory for
// mode/key/resolvedHash (a caller-supplied content hash naming the entry;
// internal/dispatch passes the SHA-256 of the job's canonical
// effective_config), and an unlock function callers must invoke when done.
func (c *PackageCache) Dir(ctx context.Context, mode PackageMode, key ToolchainKey, resolvedHash string) (dir string, unlock func(), err error) {
	switch mode {
	case PackageOff, "":
		return "", func() {}, nil
	case PackageShared:
		dir = filepath.Join(c.root, string(PackageShared), key.DirName(), resolvedHash)
	default:
		return "", nil, fmt.Errorf("cache: unknown package mode %q", mode)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("cache: mkdir package cache dir: %w", err)
	}

	unlockFn, err := Lock(ctx, dir, c.lockTimeout)
	if err != nil {
		c.log.Warn("package cache lock unavailable, proceeding without cache", "dir", dir, "error", err)
		return "", func() {}, nil
	}
	return dir, unlockFn, nil
}
