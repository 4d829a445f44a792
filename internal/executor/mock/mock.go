// Package mock implements a configurable Executor used by the core's own
// tests: a scripted, deterministic stand-in for a real xcodebuild/xctest
// invocation, with failure injection for exercising error paths.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rch-lane/xcode-worker/internal/executor"
)

// Script describes how the mock should behave for a given job_id. If no
// script is registered for a job_id, the job succeeds immediately.
type Script struct {
	Delay      time.Duration
	Result     executor.Result
	CancelFunc func() executor.Result // invoked if SignalCancel is observed before Delay elapses
}

type handle struct {
	jobID      string
	cancelled  chan struct{}
	cancelOnce sync.Once
}

// Executor is a deterministic, in-process Executor for tests.
type Executor struct {
	mu      sync.Mutex
	scripts map[string]Script
}

// New creates an empty mock Executor; register behavior with Script.
func New() *Executor {
	return &Executor{scripts: map[string]Script{}}
}

// SetScript registers how jobID should behave when started.
func (e *Executor) SetScript(jobID string, s Script) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scripts[jobID] = s
}

// Start implements executor.Executor.
func (e *Executor) Start(ctx context.Context, input executor.JobInput, jobDir string) (executor.Handle, error) {
	return &handle{jobID: input.JobID, cancelled: make(chan struct{})}, nil
}

// SignalCancel implements executor.Executor.
func (e *Executor) SignalCancel(h executor.Handle) {
	hd, ok := h.(*handle)
	if !ok {
		return
	}
	hd.cancelOnce.Do(func() { close(hd.cancelled) })
}

// AwaitTerminal implements executor.Executor.
func (e *Executor) AwaitTerminal(ctx context.Context, h executor.Handle, grace time.Duration) (executor.Result, error) {
	hd, ok := h.(*handle)
	if !ok {
		return executor.Result{}, fmt.Errorf("mock: unexpected handle type %T", h)
	}

	e.mu.Lock()
	script, registered := e.scripts[hd.jobID]
	e.mu.Unlock()
	if !registered {
		return executor.Result{Succeeded: true}, nil
	}

	select {
	case <-hd.cancelled:
		if script.CancelFunc != nil {
			return script.CancelFunc(), nil
		}
		return executor.Result{
			Succeeded: false,
			Failure:   &executor.FailureInfo{Kind: executor.FailureCancelled, Message: "cancelled by request"},
		}, nil
	case <-time.After(script.Delay):
		return script.Result, nil
	case <-ctx.Done():
		return executor.Result{}, ctx.Err()
	}
}
