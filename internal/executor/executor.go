// Package executor defines the pluggable job-runner contract. The core
// never executes xcodebuild/xctest itself: it hands a job to whatever
// Executor implementation the embedding program supplies, and only tracks
// lifecycle and artifacts. This mirrors the teacher's Forge interface
// pattern (one interface, several concrete collaborators), repurposed here
// for the single pluggable collaborator the spec defines.
package executor

import (
	"context"
	"time"
)

// Handle is an opaque reference to a started job, returned by Start and
// threaded through SignalCancel/AwaitTerminal. Concrete Executors define
// their own handle type.
type Handle any

// JobInput is everything an Executor needs to run one job.
type JobInput struct {
	JobID           string
	Action          string
	SourceDir       string
	ToolchainKey    string
	Destination     string
	EffectiveConfig []byte
	DerivedDataDir  string // "" if derived-data caching is off
	PackageCacheDir string // "" if package caching is off
}

// FailureInfo classifies a terminal failure. It never becomes an RPC
// error: a failed build is a successful RPC that reports FAILED state.
type FailureInfo struct {
	Kind    string
	Subkind string
	Message string
}

// Known failure kinds (closed set).
const (
	FailureCompile            = "compile"
	FailureLink               = "link"
	FailureSigning            = "signing"
	FailureSimulatorBootstrap = "simulator_bootstrap"
	FailureTest               = "test"
	FailureCancelled          = "cancelled"
	FailureTimeout            = "timeout"
	FailureInfrastructure     = "infrastructure"
)

// Result is what AwaitTerminal returns once a job reaches a terminal
// state.
type Result struct {
	Succeeded     bool
	Failure       *FailureInfo
	ArtifactsPath string
	XCResultPath  string
}

// Executor runs one job to completion, cooperatively cancellable.
type Executor interface {
	// Start begins executing input inside jobDir and returns a Handle used
	// to track it. Start must not block until the job finishes.
	Start(ctx context.Context, input JobInput, jobDir string) (Handle, error)

	// SignalCancel asks the running job referenced by h to stop. It does
	// not block; cancellation is cooperative and its effect is observed
	// through AwaitTerminal.
	SignalCancel(h Handle)

	// AwaitTerminal blocks until h reaches a terminal state or grace
	// elapses after a cancel signal, whichever comes first.
	AwaitTerminal(ctx context.Context, h Handle, grace time.Duration) (Result, error)
}
