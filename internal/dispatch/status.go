package dispatch

import (
	"context"
	"io"

	"github.com/rch-lane/xcode-worker/internal/protocol"
)

func handleStatus(ctx context.Context, d *Dispatcher, req *protocol.Request, body io.Reader) (*protocol.Response, *BinaryReply, error) {
	in, failResp := decodeOrFail[protocol.StatusRequest](req)
	if failResp != nil {
		return failResp, nil, nil
	}

	job, ok, err := d.Store.GetJob(ctx, in.JobID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return protocol.Fail(req.ProtocolVersion, req.RequestID, protocol.ErrJobNotFound,
			"no job with that job_id"), nil, nil
	}

	return okResponse(req, protocol.StatusResponse{
		JobID:         job.ID,
		State:         job.State,
		Failure:       job.Failure,
		ArtifactsPath: job.ArtifactsPath,
		XCResultPath:  job.XCResultPath,
	})
}
