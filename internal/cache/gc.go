package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
)

// EvictionBudget bounds a GC pass over one cache directory tree. Entries
// are evicted oldest-mtime-first until both constraints are satisfied;
// either may be left at zero to disable that constraint.
type EvictionBudget struct {
	MaxBytes   uint64
	MaxEntries int
}

// GCResult reports what a cache GC pass removed.
type GCResult struct {
	RemovedDirs []string
	BytesFreed  uint64
}

type entryInfo struct {
	path    string
	size    uint64
	modTime time.Time
}

// GC walks the immediate child directories of root (each one a cache
// entry directory, e.g. a per-job or per-resolved-hash directory) and
// evicts oldest-first until under budget. A directory currently held by
// another process's advisory lock is skipped rather than removed out from
// under it.
func GC(root string, budget EvictionBudget) (GCResult, error) {
	var result GCResult

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return result, fmt.Errorf("cache: read dir %s: %w", root, err)
	}

	var infos []entryInfo
	var total uint64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(root, e.Name())
		info, err := e.Info()
		if err != nil {
			continue
		}
		size, err := dirSize(path)
		if err != nil {
			return result, err
		}
		infos = append(infos, entryInfo{path: path, size: size, modTime: info.ModTime()})
		total += size
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].modTime.Before(infos[j].modTime) })

	remaining := len(infos)
	for _, e := range infos {
		overBytes := budget.MaxBytes > 0 && total > budget.MaxBytes
		overEntries := budget.MaxEntries > 0 && remaining > budget.MaxEntries
		if !overBytes && !overEntries {
			break
		}
		if locked(e.path) {
			continue
		}
		if err := os.RemoveAll(e.path); err != nil {
			return result, fmt.Errorf("cache: evict %s: %w", e.path, err)
		}
		result.RemovedDirs = append(result.RemovedDirs, e.path)
		result.BytesFreed += e.size
		total -= e.size
		remaining--
	}

	return result, nil
}

func dirSize(path string) (uint64, error) {
	var total uint64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			total += uint64(info.Size())
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cache: dir size %s: %w", path, err)
	}
	return total, nil
}

// locked performs a non-blocking check of whether dir's sentinel is
// currently held by another process, without itself holding the lock past
// the check (the TOCTOU window here is acceptable: GC is advisory, and a
// losing race simply means a directory is removed slightly later than
// ideal, never that a live cache is torn out from under a running job,
// since any job holding the lock would still be holding it a moment later
// and the check would be repeated next GC pass).
func locked(dir string) bool {
	unlock, err := Lock(context.Background(), dir, 0)
	if err != nil {
		return true
	}
	unlock()
	return false
}

// SummarizeGC renders a GCResult as a human-readable log line.
func SummarizeGC(r GCResult) string {
	return fmt.Sprintf("evicted %d cache entries, freed %s", len(r.RemovedDirs), humanize.Bytes(r.BytesFreed))
}
