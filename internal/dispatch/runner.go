package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rch-lane/xcode-worker/internal/artifact"
	"github.com/rch-lane/xcode-worker/internal/bundle"
	"github.com/rch-lane/xcode-worker/internal/cache"
	"github.com/rch-lane/xcode-worker/internal/canon"
	"github.com/rch-lane/xcode-worker/internal/executor"
	"github.com/rch-lane/xcode-worker/internal/jobstate"
	"github.com/rch-lane/xcode-worker/internal/protocol"
)

func timeNow() time.Time { return time.Now().UTC() }

// startJob launches a QUEUED job's execution in the background. A real
// deployment would detach this onto an independent process so it survives
// the current RPC invocation exiting (see DESIGN.md); tests and the
// in-process mock executor run it as a goroutine instead.
func (d *Dispatcher) startJob(job jobstate.Job) {
	go d.runJob(context.Background(), job)
}

func (d *Dispatcher) runJob(ctx context.Context, job jobstate.Job) {
	jobDir := filepath.Join(d.ArtifactRoot, job.ID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		d.failInfrastructure(ctx, job.ID, "create job dir", err)
		return
	}

	sourceDir := filepath.Join(jobDir, "source")
	if err := d.extractSource(job.JobKeyInputs.SourceSHA256, sourceDir); err != nil {
		d.failInfrastructure(ctx, job.ID, "extract source bundle", err)
		return
	}

	toolchainKey := cache.ToolchainKey{XcodeBuild: job.JobKeyInputs.ToolchainKey}
	// The package cache entry is keyed by the SHA-256 of the job's canonical
	// effective_config; no resolved-packages document is read from the source.
	resolvedHash, err := canon.HashValue(job.JobKeyInputs.EffectiveConfig)
	if err != nil {
		d.failInfrastructure(ctx, job.ID, "hash effective config", err)
		return
	}

	var derivedDataDir, packageCacheDir string
	if d.DerivedData != nil {
		dir, unlock, err := d.DerivedData.Dir(ctx, cache.DerivedDataMode(job.JobKeyInputs.CacheMode.DerivedData), toolchainKey, job.JobKey)
		if err != nil {
			d.failInfrastructure(ctx, job.ID, "acquire derived data cache", err)
			return
		}
		defer unlock()
		derivedDataDir = dir
	}
	if d.Packages != nil {
		dir, unlock, err := d.Packages.Dir(ctx, cache.PackageMode(job.JobKeyInputs.CacheMode.Packages), toolchainKey, resolvedHash)
		if err != nil {
			d.failInfrastructure(ctx, job.ID, "acquire package cache", err)
			return
		}
		defer unlock()
		packageCacheDir = dir
	}

	input := executor.JobInput{
		JobID:           job.ID,
		Action:          job.JobKeyInputs.Action,
		SourceDir:       sourceDir,
		ToolchainKey:    job.JobKeyInputs.ToolchainKey,
		Destination:     job.JobKeyInputs.Destination,
		EffectiveConfig: job.JobKeyInputs.EffectiveConfig,
		DerivedDataDir:  derivedDataDir,
		PackageCacheDir: packageCacheDir,
	}

	if current, ok, err := d.Store.GetJob(ctx, job.ID); err == nil && ok && current.State == protocol.JobCancelRequested {
		if _, err := d.Store.Finish(ctx, job.ID, protocol.JobCancelled, &protocol.FailureInfo{Kind: executor.FailureCancelled, Message: "cancelled before execution started"}, "", ""); err != nil {
			d.Log.Error("record pre-start cancellation failed", "job_id", job.ID, "error", err)
		}
		return
	}

	handle, err := d.Executor.Start(ctx, input, jobDir)
	if err != nil {
		d.failInfrastructure(ctx, job.ID, "start executor", err)
		return
	}
	if _, err := d.Store.Transition(ctx, job.ID, protocol.JobRunning); err != nil {
		d.Log.Error("transition to running failed", "job_id", job.ID, "error", err)
	}

	d.monitors.store(job.ID, handle)
	defer d.monitors.delete(job.ID)

	result, err := d.Executor.AwaitTerminal(ctx, handle, d.CancelGrace)
	if err != nil {
		d.failInfrastructure(ctx, job.ID, "await executor", err)
		return
	}

	if err := d.drainBuildLog(ctx, job.ID, jobDir); err != nil {
		d.Log.Warn("drain build log failed", "job_id", job.ID, "error", err)
	}

	if job.JobKeyInputs.CacheMode.DerivedData == string(cache.DerivedDataPerJob) && d.DerivedData != nil {
		if err := d.DerivedData.RemoveJobDir(toolchainKey, job.JobKey); err != nil {
			d.Log.Warn("remove per-job derived data dir failed", "job_id", job.ID, "error", err)
		}
	}

	if !result.Succeeded {
		failure := &protocol.FailureInfo{Kind: executor.FailureInfrastructure, Message: "job failed"}
		if result.Failure != nil {
			failure = &protocol.FailureInfo{Kind: result.Failure.Kind, Subkind: result.Failure.Subkind, Message: result.Failure.Message}
		}
		final := protocol.JobFailed
		if failure.Kind == executor.FailureCancelled {
			final = protocol.JobCancelled
		}
		if _, err := d.Store.Finish(ctx, job.ID, final, failure, result.ArtifactsPath, result.XCResultPath); err != nil {
			d.Log.Error("record job failure failed", "job_id", job.ID, "error", err)
		}
		return
	}

	artifactsPath, err := d.commitArtifacts(job, jobDir)
	if err != nil {
		d.Log.Error("commit artifacts failed", "job_id", job.ID, "error", err)
		failure := &protocol.FailureInfo{Kind: executor.FailureInfrastructure, Message: err.Error()}
		if _, ferr := d.Store.Finish(ctx, job.ID, protocol.JobFailed, failure, "", result.XCResultPath); ferr != nil {
			d.Log.Error("record job failure failed", "job_id", job.ID, "error", ferr)
		}
		return
	}

	if _, err := d.Store.Finish(ctx, job.ID, protocol.JobSucceeded, nil, artifactsPath, result.XCResultPath); err != nil {
		d.Log.Error("record job success failed", "job_id", job.ID, "error", err)
	}
}

func (d *Dispatcher) extractSource(sourceSHA256, destDir string) error {
	r, _, err := d.Sources.Open(sourceSHA256)
	if err != nil {
		return err
	}
	defer r.Close()
	return bundle.Extract(r, destDir)
}

// commitArtifacts builds and commits the job's manifest, and, when a
// signing key is configured, a signed attestation binding the manifest to
// this worker's identity.
func (d *Dispatcher) commitArtifacts(job jobstate.Job, jobDir string) (string, error) {
	manifest, err := artifact.BuildManifest(jobDir)
	if err != nil {
		return "", err
	}
	if err := artifact.CommitManifest(jobDir, manifest); err != nil {
		return "", err
	}

	if len(d.SigningKey) > 0 {
		manifestBytes, err := canon.Canonicalize(manifest)
		if err != nil {
			return "", err
		}
		att := artifact.Attestation{
			SchemaVersion:   artifact.AttestationSchemaVersion,
			SchemaID:        artifact.AttestationSchemaID,
			CreatedAt:       timeNow(),
			WorkerIdentity:  d.WorkerIdentity,
			BackendIdentity: job.BackendIdentity,
			JobID:           job.ID,
			JobKey:          job.JobKey,
			ManifestSHA256:  canon.SHA256Hex(manifestBytes),
		}
		signed, err := artifact.Sign(att, d.SigningKey)
		if err != nil {
			return "", err
		}
		if err := artifact.CommitAttestation(jobDir, signed); err != nil {
			return "", err
		}
	}

	return jobDir, nil
}

func (d *Dispatcher) drainBuildLog(ctx context.Context, jobID, jobDir string) error {
	data, err := os.ReadFile(filepath.Join(jobDir, "build.log"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return d.Store.AppendLog(ctx, jobID, data)
}

func (d *Dispatcher) failInfrastructure(ctx context.Context, jobID, step string, cause error) {
	d.Log.Error("job failed", "job_id", jobID, "step", step, "error", cause)
	failure := &protocol.FailureInfo{Kind: executor.FailureInfrastructure, Message: step + ": " + cause.Error()}
	if _, err := d.Store.Finish(ctx, jobID, protocol.JobFailed, failure, "", ""); err != nil {
		d.Log.Error("record infrastructure failure failed", "job_id", jobID, "error", err)
	}
}
