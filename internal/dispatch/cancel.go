package dispatch

import (
	"context"
	"io"

	"github.com/rch-lane/xcode-worker/internal/jobstate"
	"github.com/rch-lane/xcode-worker/internal/protocol"
)

func handleCancel(ctx context.Context, d *Dispatcher, req *protocol.Request, body io.Reader) (*protocol.Response, *BinaryReply, error) {
	in, failResp := decodeOrFail[protocol.CancelRequest](req)
	if failResp != nil {
		return failResp, nil, nil
	}

	job, acknowledged, err := d.Store.Cancel(ctx, in.JobID)
	if err != nil {
		if _, ok := err.(*jobstate.JobNotFoundError); ok {
			return protocol.Fail(req.ProtocolVersion, req.RequestID, protocol.ErrJobNotFound,
				"no job with that job_id"), nil, nil
		}
		return nil, nil, err
	}

	if acknowledged {
		if h, ok := d.monitors.get(in.JobID); ok {
			// Running in this process: signal the executor directly.
			// AwaitTerminal observes the effect and finalizes state.
			d.Executor.SignalCancel(h)
		}
		// No registered handle means the job either has not started yet
		// (runner.go checks for CANCEL_REQUESTED before transitioning to
		// RUNNING) or is running under a different process invocation.
		// That invocation's executor is not signalled; the job stays
		// CANCEL_REQUESTED until its runner records the executor's result.
	}

	return okResponse(req, protocol.CancelResponse{State: job.State, Acknowledged: acknowledged})
}
