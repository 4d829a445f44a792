package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rch-lane/xcode-worker/internal/artifact"
	"github.com/rch-lane/xcode-worker/internal/cache"
	"github.com/rch-lane/xcode-worker/internal/jobstate"
	"github.com/spf13/cobra"
)

func gcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Prune artifact state past retention and evict cold cache entries",
		Long: "gc applies the configured retention policy to terminal jobs' artifact " +
			"directories, then evicts cache entries beyond the derived-data and package " +
			"cache budgets. It is meant to run on a schedule (cron, launchd), separately " +
			"from request handling.",
		RunE: runGC,
	}
}

func runGC(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, err := jobstate.Open(filepath.Join(cfg.StateRoot, "state.db"), log)
	if err != nil {
		return fmt.Errorf("open job state: %w", err)
	}
	defer store.Close()

	jobs, err := store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	dirInfos := make([]artifact.JobDirInfo, 0, len(jobs))
	for _, j := range jobs {
		path := j.ArtifactsPath
		if path == "" {
			path = filepath.Join(cfg.ArtifactRoot, j.ID)
		}
		dirInfos = append(dirInfos, artifact.JobDirInfo{
			JobID:     j.ID,
			Path:      path,
			State:     j.State,
			UpdatedAt: j.UpdatedAt,
		})
	}

	artifactResult, err := artifact.GC(dirInfos, cfg.Retention.ToArtifactPolicy())
	if err != nil {
		return fmt.Errorf("artifact gc: %w", err)
	}
	log.Info("artifact gc complete", "summary", artifact.SummarizeGC(artifactResult))

	budget := cache.EvictionBudget{MaxBytes: cfg.Retention.MaxBytes}

	derivedDataRoot := filepath.Join(cfg.CacheRoot, cacheNamespace, "derived_data")
	if err := gcModeDirs(derivedDataRoot, budget, log, "derived data"); err != nil {
		return err
	}

	spmRoot := filepath.Join(cfg.CacheRoot, cacheNamespace, "spm")
	if err := gcModeDirs(spmRoot, budget, log, "package"); err != nil {
		return err
	}

	return nil
}

// gcModeDirs evicts within each toolchain-keyed directory under root
// (<root>/<mode>/<toolchain>/<entry>), treating each per-job, shared or
// per-resolved-hash directory as one eviction entry: those are the
// directories the caches lock, so cache.GC's lock check skips the ones in
// use. root itself is not a valid GC target: its immediate children are
// mode names ("off", "per_job", "shared"), not cache entries.
func gcModeDirs(root string, budget cache.EvictionBudget, log *slog.Logger, label string) error {
	modes, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%s cache gc: read %s: %w", label, root, err)
	}
	for _, mode := range modes {
		if !mode.IsDir() {
			continue
		}
		modeDir := filepath.Join(root, mode.Name())
		toolchains, err := os.ReadDir(modeDir)
		if err != nil {
			return fmt.Errorf("%s cache gc: read %s: %w", label, modeDir, err)
		}
		for _, tc := range toolchains {
			if !tc.IsDir() {
				continue
			}
			result, err := cache.GC(filepath.Join(modeDir, tc.Name()), budget)
			if err != nil {
				return fmt.Errorf("%s cache gc (%s/%s): %w", label, mode.Name(), tc.Name(), err)
			}
			log.Info(label+" cache gc complete", "mode", mode.Name(), "toolchain", tc.Name(), "summary", cache.SummarizeGC(result))
		}
	}
	return nil
}
