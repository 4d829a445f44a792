package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rch-lane/xcode-worker/internal/cache"
	"github.com/rch-lane/xcode-worker/internal/config"
	"github.com/rch-lane/xcode-worker/internal/dispatch"
	"github.com/rch-lane/xcode-worker/internal/executor/mock"
	"github.com/rch-lane/xcode-worker/internal/jobstate"
	"github.com/rch-lane/xcode-worker/internal/protocol"
	"github.com/rch-lane/xcode-worker/internal/sourcestore"
	"github.com/spf13/cobra"
)

// cacheNamespace is the single tenant namespace used by this worker
// binary. rch-xcode workers are dedicated per host rather than
// multi-tenant, so there is exactly one namespace to key caches under.
const cacheNamespace = "default"

func rpcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rpc",
		Short: "Serve exactly one RPC request read from stdin, writing its response to stdout",
		Long: "rpc reads a single framed request from stdin, dispatches it against this " +
			"worker's local state, and writes the framed response to stdout. It is meant to " +
			"be invoked once per request, typically as an SSH forced command.",
		RunE: runRPC,
	}
}

func runRPC(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	mirror, err := buildMirror(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("build mirror: %w", err)
	}

	var srcMirror sourcestore.Mirror
	if mirror != nil {
		srcMirror = mirror
	}
	sources, err := sourcestore.New(cfg.SourceRoot, srcMirror)
	if err != nil {
		return fmt.Errorf("open source store: %w", err)
	}

	if err := os.MkdirAll(cfg.ArtifactRoot, 0o755); err != nil {
		return fmt.Errorf("create artifact root: %w", err)
	}

	signingKey, err := loadSigningKey(cfg)
	if err != nil {
		return fmt.Errorf("load signing key (run 'rchworker keygen' first): %w", err)
	}

	identityVerifier, err := loadIdentityVerifier(cfg)
	if err != nil {
		return fmt.Errorf("load identity verifier: %w", err)
	}

	store, err := jobstate.Open(filepath.Join(cfg.StateRoot, "state.db"), log)
	if err != nil {
		return fmt.Errorf("open job state: %w", err)
	}
	defer store.Close()

	const lockTimeout = 10 * time.Second
	derivedData := cache.NewDerivedDataCache(cfg.CacheRoot, cacheNamespace, lockTimeout, log)
	packages := cache.NewPackageCache(cfg.CacheRoot, cacheNamespace, lockTimeout, log)

	activeJobs, err := store.CountActive(ctx)
	if err != nil {
		return fmt.Errorf("count active jobs: %w", err)
	}
	caps := probeCapabilities(ctx, log, cfg.MaxConcurrentJobs, activeJobs)

	hostname, _ := os.Hostname()

	d := dispatch.New(dispatch.Dispatcher{
		Store:           store,
		Sources:         sources,
		ArtifactRoot:    cfg.ArtifactRoot,
		DerivedData:     derivedData,
		Packages:        packages,
		Executor:        mock.New(),
		SigningKey:      signingKey,
		WorkerIdentity:  hostname,
		Capabilities:    caps,
		MaxConcurrency:  cfg.MaxConcurrentJobs,
		DefaultLeaseTTL: 60 * time.Second,
		MaxUploadBytes:  cfg.MaxUploadBytes,
		CancelGrace:     30 * time.Second,
		Log:             log,
		Identity:        identityVerifier,
		RequireLease:    cfg.RequireLease,
	})

	codec := protocol.NewCodec(os.Stdin, os.Stdout)
	req, body, err := codec.ReadRequest()
	if errors.Is(err, protocol.ErrHeaderTooLarge) {
		return codec.WriteResponse(protocol.Fail(0, "", protocol.ErrPayloadTooLarge, "request header exceeds 10 MiB"))
	}
	if err != nil {
		return fmt.Errorf("read request: %w", err)
	}

	resp, reply, err := d.Handle(ctx, req, body)
	if err != nil {
		return fmt.Errorf("handle %s: %w", req.Op, err)
	}

	if reply != nil {
		resp.Stream = &reply.Info
		return codec.WriteFramedResponse(resp, reply.Body)
	}
	return codec.WriteResponse(resp)
}
