package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rch-lane/xcode-worker/internal/protocol"
)

// JobIndexSchemaID/RunIndexSchemaID identify the two regenerated index
// documents. Indices are pointers only (job_id, job_key, artifacts_path,
// status); they hold no back-references and are never authoritative — a
// corrupted or missing index is always safe to delete and rebuild from the
// per-job directories.
const (
	JobIndexSchemaID      = "rch-xcode/job-index@1"
	JobIndexSchemaVersion = 1
	RunIndexSchemaID      = "rch-xcode/run-index@1"
	RunIndexSchemaVersion = 1
)

// JobPointer is one entry in a JobIndex.
type JobPointer struct {
	JobID         string            `json:"job_id"`
	JobKey        string            `json:"job_key"`
	ArtifactsPath string            `json:"artifacts_path"`
	Status        protocol.JobState `json:"status"`
}

// JobIndex is regenerated from scratch from the job records passed to
// RebuildIndices.
type JobIndex struct {
	SchemaVersion int          `json:"schema_version"`
	SchemaID      string       `json:"schema_id"`
	CreatedAt     time.Time    `json:"created_at"`
	Jobs          []JobPointer `json:"jobs"`
}

// RunIndex is regenerated alongside JobIndex and carries the same pointer
// list under its own schema id; jobs are not grouped into runs.
type RunIndex struct {
	SchemaVersion int          `json:"schema_version"`
	SchemaID      string       `json:"schema_id"`
	CreatedAt     time.Time    `json:"created_at"`
	Jobs          []JobPointer `json:"jobs"`
}

// JobRecord is the minimal per-job status info needed to build indices.
type JobRecord struct {
	JobID         string
	JobKey        string
	ArtifactsPath string
	Status        protocol.JobState
}

// RebuildIndices writes job_index.json / run_index.json under root from
// scratch, one pointer per record, sorted by job_id. It reads no job
// directory and never trusts a previous index's contents.
func RebuildIndices(root string, records []JobRecord) error {
	pointers := make([]JobPointer, 0, len(records))
	for _, r := range records {
		pointers = append(pointers, JobPointer{
			JobID:         r.JobID,
			JobKey:        r.JobKey,
			ArtifactsPath: r.ArtifactsPath,
			Status:        r.Status,
		})
	}
	sort.Slice(pointers, func(i, j int) bool { return pointers[i].JobID < pointers[j].JobID })

	now := time.Now().UTC()
	jobIdx := JobIndex{SchemaVersion: JobIndexSchemaVersion, SchemaID: JobIndexSchemaID, CreatedAt: now, Jobs: pointers}
	runIdx := RunIndex{SchemaVersion: RunIndexSchemaVersion, SchemaID: RunIndexSchemaID, CreatedAt: now, Jobs: pointers}

	if err := writeJSONAtomic(filepath.Join(root, "job_index.json"), jobIdx); err != nil {
		return err
	}
	if err := writeJSONAtomic(filepath.Join(root, "run_index.json"), runIdx); err != nil {
		return err
	}
	return nil
}

func writeJSONAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("artifact: write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("artifact: commit %s: %w", filepath.Base(path), err)
	}
	return nil
}
