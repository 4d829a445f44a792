package dispatch

import (
	"context"
	"io"

	"github.com/rch-lane/xcode-worker/internal/jobstate"
	"github.com/rch-lane/xcode-worker/internal/protocol"
)

func handleTail(ctx context.Context, d *Dispatcher, req *protocol.Request, body io.Reader) (*protocol.Response, *BinaryReply, error) {
	in, failResp := decodeOrFail[protocol.TailRequest](req)
	if failResp != nil {
		return failResp, nil, nil
	}

	data, next, eof, err := d.Store.ReadLog(ctx, in.JobID, in.Cursor, in.MaxBytes)
	if err != nil {
		if _, ok := err.(*jobstate.JobNotFoundError); ok {
			return protocol.Fail(req.ProtocolVersion, req.RequestID, protocol.ErrJobNotFound,
				"no job with that job_id"), nil, nil
		}
		return nil, nil, err
	}

	resp := protocol.TailResponse{Data: data, EOF: eof}
	if !eof {
		resp.NextCursor = &next
	}
	return okResponse(req, resp)
}
