package artifact

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rch-lane/xcode-worker/internal/protocol"
)

func mkJobDir(t *testing.T, root, id string, size int) string {
	t.Helper()
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "build.log"), make([]byte, size), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return dir
}

func TestGCNeverRemovesNonTerminalJobs(t *testing.T) {
	root := t.TempDir()
	dir := mkJobDir(t, root, "job-running", 100)

	jobs := []JobDirInfo{
		{JobID: "job-running", Path: dir, State: protocol.JobRunning, UpdatedAt: time.Now().Add(-48 * time.Hour)},
	}
	result, err := GC(jobs, RetentionPolicy{MaxAge: time.Hour})
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if len(result.RemovedJobIDs) != 0 {
		t.Fatalf("expected no removals for non-terminal job, got %v", result.RemovedJobIDs)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("job dir should survive: %v", err)
	}
}

func TestGCPrunesOldTerminalJobsByAge(t *testing.T) {
	root := t.TempDir()
	oldDir := mkJobDir(t, root, "job-old", 100)
	newDir := mkJobDir(t, root, "job-new", 100)

	jobs := []JobDirInfo{
		{JobID: "job-old", Path: oldDir, State: protocol.JobSucceeded, UpdatedAt: time.Now().Add(-48 * time.Hour)},
		{JobID: "job-new", Path: newDir, State: protocol.JobSucceeded, UpdatedAt: time.Now()},
	}
	result, err := GC(jobs, RetentionPolicy{MaxAge: time.Hour})
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if len(result.RemovedJobIDs) != 1 || result.RemovedJobIDs[0] != "job-old" {
		t.Fatalf("expected only job-old removed, got %v", result.RemovedJobIDs)
	}
	if _, err := os.Stat(newDir); err != nil {
		t.Fatalf("new job dir should survive: %v", err)
	}
}

func TestGCPrunesOldestFirstByBudget(t *testing.T) {
	root := t.TempDir()
	oldest := mkJobDir(t, root, "job-1", 1000)
	middle := mkJobDir(t, root, "job-2", 1000)
	newest := mkJobDir(t, root, "job-3", 1000)

	now := time.Now()
	jobs := []JobDirInfo{
		{JobID: "job-1", Path: oldest, State: protocol.JobSucceeded, UpdatedAt: now.Add(-3 * time.Hour)},
		{JobID: "job-2", Path: middle, State: protocol.JobSucceeded, UpdatedAt: now.Add(-2 * time.Hour)},
		{JobID: "job-3", Path: newest, State: protocol.JobSucceeded, UpdatedAt: now.Add(-1 * time.Hour)},
	}
	result, err := GC(jobs, RetentionPolicy{MaxBytes: 1500})
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if len(result.RemovedJobIDs) != 2 {
		t.Fatalf("expected 2 removals, got %v", result.RemovedJobIDs)
	}
	if _, err := os.Stat(newest); err != nil {
		t.Fatalf("newest job dir should survive: %v", err)
	}
}
