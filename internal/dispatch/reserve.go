package dispatch

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rch-lane/xcode-worker/internal/jobstate"
	"github.com/rch-lane/xcode-worker/internal/protocol"
)

func handleReserve(ctx context.Context, d *Dispatcher, req *protocol.Request, body io.Reader) (*protocol.Response, *BinaryReply, error) {
	in, failResp := decodeOrFail[protocol.ReserveRequest](req)
	if failResp != nil {
		return failResp, nil, nil
	}

	if _, failResp := verifyIdentity(d, req, in.IdentityToken, ""); failResp != nil {
		return failResp, nil, nil
	}

	var ttl time.Duration
	if in.TTLSeconds != nil {
		ttl = time.Duration(*in.TTLSeconds) * time.Second
	}

	lease, err := d.Store.Reserve(ctx, d.MaxConcurrency, ttl, d.DefaultLeaseTTL)
	if err != nil {
		if errors.Is(err, jobstate.ErrBusy) {
			return protocol.Fail(req.ProtocolVersion, req.RequestID, protocol.ErrBusy, "worker at capacity"), nil, nil
		}
		return nil, nil, err
	}

	return okResponse(req, protocol.ReserveResponse{
		LeaseID:    lease.ID,
		TTLSeconds: uint32(lease.ExpiresAt.Sub(lease.ReservedAt) / time.Second),
	})
}
