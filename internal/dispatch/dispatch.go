// Package dispatch implements protocol negotiation and the per-operation
// handler registry that sits between the wire codec and the
// jobstate/sourcestore/artifact/cache/executor subsystems.
package dispatch

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/rch-lane/xcode-worker/internal/cache"
	"github.com/rch-lane/xcode-worker/internal/executor"
	"github.com/rch-lane/xcode-worker/internal/identity"
	"github.com/rch-lane/xcode-worker/internal/jobstate"
	"github.com/rch-lane/xcode-worker/internal/protocol"
	"github.com/rch-lane/xcode-worker/internal/sourcestore"
)

// Handler serves one op. body is non-nil only for ops that accept a
// binary stream frame (currently only upload_source).
type Handler func(ctx context.Context, d *Dispatcher, req *protocol.Request, body io.Reader) (*protocol.Response, *BinaryReply, error)

// BinaryReply is set by handlers (currently only fetch) that respond with
// a binary stream frame instead of (or alongside) a JSON payload.
type BinaryReply struct {
	Info protocol.StreamInfo
	Body io.Reader
}

// Dispatcher wires every subsystem together and serves one RPC
// invocation's request.
type Dispatcher struct {
	Store           *jobstate.Store
	Sources         *sourcestore.Store
	ArtifactRoot    string
	DerivedData     *cache.DerivedDataCache
	Packages        *cache.PackageCache
	Executor        executor.Executor
	SigningKey      ed25519.PrivateKey
	WorkerIdentity  string
	Capabilities    protocol.Capabilities
	MaxConcurrency  int
	DefaultLeaseTTL time.Duration
	MaxUploadBytes  uint64
	CancelGrace     time.Duration
	Log             *slog.Logger

	// Identity verifies bearer tokens submitted alongside reserve/submit
	// calls. Nil disables identity verification entirely (a token, if
	// sent, is ignored and never recorded).
	Identity *identity.Verifier
	// RequireLease rejects any submit lacking an active lease_id, and, if
	// Identity is also configured, any submit or reserve lacking a valid
	// identity_token (spec.md §4.6).
	RequireLease bool

	handlers map[string]Handler
	monitors handleRegistry
}

// New builds a Dispatcher with every operation handler registered.
func New(d Dispatcher) *Dispatcher {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	disp := &d
	disp.handlers = map[string]Handler{
		protocol.OpProbe:        handleProbe,
		protocol.OpReserve:      handleReserve,
		protocol.OpRelease:      handleRelease,
		protocol.OpSubmit:       handleSubmit,
		protocol.OpStatus:       handleStatus,
		protocol.OpTail:         handleTail,
		protocol.OpCancel:       handleCancel,
		protocol.OpHasSource:    handleHasSource,
		protocol.OpUploadSource: handleUploadSource,
		protocol.OpFetch:        handleFetch,
	}
	return disp
}

// Features lists every registered op name, sorted. Because probe derives
// its feature list directly from this registry, a release can never ship
// with a feature silently dropped: removing an op removes a handler
// entry, which is a protocol-version-bump-worthy change, not a quiet
// feature-list edit (spec.md §9 open question).
func (d *Dispatcher) Features() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle negotiates protocol version and runs the matching handler,
// recovering any panic into a single-line INVALID_REQUEST response rather
// than propagating it.
func (d *Dispatcher) Handle(ctx context.Context, req *protocol.Request, body io.Reader) (resp *protocol.Response, reply *BinaryReply, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.Log.Error("handler panic recovered", "op", req.Op, "request_id", req.RequestID, "panic", r)
			resp = protocol.Fail(req.ProtocolVersion, req.RequestID, protocol.ErrInvalidRequest, "internal error handling request")
			reply = nil
			err = nil
		}
	}()

	if req.Op == protocol.OpProbe {
		if req.ProtocolVersion != protocol.ProbeVersion {
			return protocol.Fail(req.ProtocolVersion, req.RequestID, protocol.ErrUnsupportedProtocol,
				fmt.Sprintf("probe must use protocol_version %d", protocol.ProbeVersion)), nil, nil
		}
	} else {
		if req.ProtocolVersion == protocol.ProbeVersion ||
			req.ProtocolVersion < protocol.ProtocolMin || req.ProtocolVersion > protocol.ProtocolMax {
			return protocol.Fail(req.ProtocolVersion, req.RequestID, protocol.ErrUnsupportedProtocol,
				fmt.Sprintf("protocol_version %d outside [%d, %d]", req.ProtocolVersion, protocol.ProtocolMin, protocol.ProtocolMax)), nil, nil
		}
	}

	handler, ok := d.handlers[req.Op]
	if !ok {
		return protocol.Fail(req.ProtocolVersion, req.RequestID, protocol.ErrUnknownOperation,
			fmt.Sprintf("unknown operation %q", req.Op)), nil, nil
	}

	return handler(ctx, d, req, body)
}

func decodeOrFail[T any](req *protocol.Request) (T, *protocol.Response) {
	v, err := protocol.DecodePayload[T](req.Payload)
	if err != nil {
		var zero T
		return zero, protocol.Fail(req.ProtocolVersion, req.RequestID, protocol.ErrInvalidRequest,
			fmt.Sprintf("invalid payload: %v", err))
	}
	return v, nil
}

func okResponse(req *protocol.Request, payload any) (*protocol.Response, *BinaryReply, error) {
	resp, err := protocol.OK(req.ProtocolVersion, req.RequestID, payload)
	if err != nil {
		return nil, nil, fmt.Errorf("dispatch: marshal response payload: %w", err)
	}
	return resp, nil, nil
}

