package cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// DerivedDataMode is the closed set of derived-data cache modes.
type DerivedDataMode string

const (
	DerivedDataOff    DerivedDataMode = "off"
	DerivedDataPerJob DerivedDataMode = "per_job"
	DerivedDataShared DerivedDataMode = "shared"
)

// DerivedDataCache manages <cache_root>/<namespace>/derived_data/<mode>/<toolchain>/...
type DerivedDataCache struct {
	root        string
	lockTimeout time.Duration
	log         *slog.Logger
}

// NewDerivedDataCache opens a DerivedDataCache rooted at cacheRoot/namespace.
func NewDerivedDataCache(cacheRoot, namespace string, lockTimeout time.Duration, log *slog.Logger) *DerivedDataCache {
	if log == nil {
		log = slog.Default()
	}
	return &DerivedDataCache{
		root:        filepath.Join(cacheRoot, namespace, "derived_data"),
		lockTimeout: lockTimeout,
		log:         log,
	}
}

// Dir returns the directory a job should point its derived-data output at
// for mode/key, and an unlock function that must be called (even on
// failure) once the job has finished using the directory. In per_job mode
// the directory is keyed by jobKey and the caller is expected to remove it
// once the job reaches a terminal state; in shared mode it is keyed only
// by toolchain and survives across jobs.
//
// If mode is off, Dir returns ("", a no-op unlock, nil): callers must then
// have the executor use a private scratch directory instead.
func (c *DerivedDataCache) Dir(ctx context.Context, mode DerivedDataMode, key ToolchainKey, jobKey string) (dir string, unlock func(), err error) {
	switch mode {
	case DerivedDataOff, "":
		return "", func() {}, nil
	case DerivedDataPerJob:
		dir = filepath.Join(c.root, string(DerivedDataPerJob), key.DirName(), jobKey)
	case DerivedDataShared:
		dir = filepath.Join(c.root, string(DerivedDataShared), key.DirName(), "shared")
	default:
		return "", nil, fmt.Errorf("cache: unknown derived_data mode %q", mode)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("cache: mkdir derived data dir: %w", err)
	}

	if mode == DerivedDataShared {
		unlockFn, err := Lock(ctx, dir, c.lockTimeout)
		if err != nil {
			c.log.Warn("derived data cache lock unavailable, proceeding without cache", "dir", dir, "error", err)
			return "", func() {}, nil
		}
		return dir, unlockFn, nil
	}
	return dir, func() {}, nil
}

// RemoveJobDir removes a per_job derived-data directory once its job has
// reached a terminal state.
func (c *DerivedDataCache) RemoveJobDir(key ToolchainKey, jobKey string) error {
	dir := filepath.Join(c.root, string(DerivedDataPerJob), key.DirName(), jobKey)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("cache: remove per-job derived data dir: %w", err)
	}
	return nil
}
