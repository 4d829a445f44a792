package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rch-lane/xcode-worker/internal/protocol"
)

// RetentionPolicy bounds artifact GC. MaxAge prunes by age first; MaxBytes
// then prunes oldest-first until the total is under budget. A job whose
// state is not terminal is never pruned by either rule.
type RetentionPolicy struct {
	MaxAge   time.Duration
	MaxBytes uint64
}

// JobDirInfo is what the GC caller knows about one job directory, sourced
// from jobstate so GC never has to re-derive lifecycle state by inspecting
// the filesystem.
type JobDirInfo struct {
	JobID     string
	Path      string
	State     protocol.JobState
	UpdatedAt time.Time
}

// GCResult reports what a GC pass removed.
type GCResult struct {
	RemovedJobIDs []string
	BytesFreed    uint64
}

// GC prunes job directories under policy: first anything past MaxAge, then
// (if still over MaxBytes) the oldest remaining terminal jobs until under
// budget. Non-terminal jobs are never touched by either rule.
func GC(jobs []JobDirInfo, policy RetentionPolicy) (GCResult, error) {
	var result GCResult
	now := time.Now().UTC()

	var survivors []JobDirInfo
	for _, j := range jobs {
		if !j.State.Terminal() {
			survivors = append(survivors, j)
			continue
		}
		if policy.MaxAge > 0 && now.Sub(j.UpdatedAt) > policy.MaxAge {
			freed, err := removeJobDir(j.Path)
			if err != nil {
				return result, err
			}
			result.RemovedJobIDs = append(result.RemovedJobIDs, j.JobID)
			result.BytesFreed += freed
			continue
		}
		survivors = append(survivors, j)
	}

	if policy.MaxBytes > 0 {
		var total uint64
		sizes := make(map[string]uint64, len(survivors))
		for _, j := range survivors {
			sz, err := dirSize(j.Path)
			if err != nil {
				return result, err
			}
			sizes[j.JobID] = sz
			total += sz
		}
		sort.Slice(survivors, func(i, k int) bool { return survivors[i].UpdatedAt.Before(survivors[k].UpdatedAt) })
		for _, j := range survivors {
			if total <= policy.MaxBytes {
				break
			}
			if !j.State.Terminal() {
				continue
			}
			freed, err := removeJobDir(j.Path)
			if err != nil {
				return result, err
			}
			result.RemovedJobIDs = append(result.RemovedJobIDs, j.JobID)
			result.BytesFreed += freed
			total -= sizes[j.JobID]
		}
	}

	return result, nil
}

func removeJobDir(path string) (uint64, error) {
	sz, err := dirSize(path)
	if err != nil {
		return 0, err
	}
	if err := os.RemoveAll(path); err != nil {
		return 0, fmt.Errorf("artifact: gc remove %s: %w", path, err)
	}
	return sz, nil
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
		return 0, fmt.Errorf("artifact: dir size %s: %w", path, err)
	}
	return total, nil
}

// SummarizeGC renders a GCResult as a human-readable log line.
func SummarizeGC(r GCResult) string {
	return fmt.Sprintf("removed %d jobs, freed %s", len(r.RemovedJobIDs), humanize.Bytes(r.BytesFreed))
}
