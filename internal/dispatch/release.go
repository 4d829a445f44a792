package dispatch

import (
	"context"
	"io"

	"github.com/rch-lane/xcode-worker/internal/protocol"
)

func handleRelease(ctx context.Context, d *Dispatcher, req *protocol.Request, body io.Reader) (*protocol.Response, *BinaryReply, error) {
	in, failResp := decodeOrFail[protocol.ReleaseRequest](req)
	if failResp != nil {
		return failResp, nil, nil
	}

	released, err := d.Store.Release(ctx, in.LeaseID)
	if err != nil {
		return nil, nil, err
	}

	return okResponse(req, protocol.ReleaseResponse{Released: released})
}
