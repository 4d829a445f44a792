package dispatch

import (
	"context"
	"errors"
	"io"

	"github.com/rch-lane/xcode-worker/internal/protocol"
	"github.com/rch-lane/xcode-worker/internal/sourcestore"
)

func handleUploadSource(ctx context.Context, d *Dispatcher, req *protocol.Request, body io.Reader) (*protocol.Response, *BinaryReply, error) {
	in, failResp := decodeOrFail[protocol.UploadSourceRequest](req)
	if failResp != nil {
		return failResp, nil, nil
	}
	if req.Stream == nil || body == nil {
		return protocol.Fail(req.ProtocolVersion, req.RequestID, protocol.ErrInvalidRequest,
			"upload_source requires a binary stream frame"), nil, nil
	}

	alreadyHad, err := d.Sources.Upload(ctx, in.SourceSHA256, body, *req.Stream, d.MaxUploadBytes)
	if err != nil {
		if errors.Is(err, sourcestore.ErrTooLarge) {
			return protocol.Fail(req.ProtocolVersion, req.RequestID, protocol.ErrPayloadTooLarge, err.Error()), nil, nil
		}
		return nil, nil, err
	}

	return okResponse(req, protocol.UploadSourceResponse{
		SourceSHA256: in.SourceSHA256,
		AlreadyHad:   alreadyHad,
	})
}
