package dispatch

import (
	"context"
	"io"

	"github.com/rch-lane/xcode-worker/internal/protocol"
)

func handleHasSource(ctx context.Context, d *Dispatcher, req *protocol.Request, body io.Reader) (*protocol.Response, *BinaryReply, error) {
	in, failResp := decodeOrFail[protocol.HasSourceRequest](req)
	if failResp != nil {
		return failResp, nil, nil
	}

	present, err := d.Sources.Has(in.SourceSHA256)
	if err != nil {
		return nil, nil, err
	}

	return okResponse(req, protocol.HasSourceResponse{Present: present})
}
