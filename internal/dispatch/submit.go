package dispatch

import (
	"context"
	"errors"
	"io"

	"github.com/rch-lane/xcode-worker/internal/canon"
	"github.com/rch-lane/xcode-worker/internal/identity"
	"github.com/rch-lane/xcode-worker/internal/jobstate"
	"github.com/rch-lane/xcode-worker/internal/protocol"
)

func handleSubmit(ctx context.Context, d *Dispatcher, req *protocol.Request, body io.Reader) (*protocol.Response, *BinaryReply, error) {
	in, failResp := decodeOrFail[protocol.SubmitRequest](req)
	if failResp != nil {
		return failResp, nil, nil
	}

	wantKey, err := canon.HashValue(in.Job.JobKeyInputs)
	if err != nil {
		return nil, nil, err
	}
	if in.Job.JobKey != wantKey {
		return protocol.Fail(req.ProtocolVersion, req.RequestID, protocol.ErrInvalidRequest,
			"job_key does not match sha256(JCS(job_key_inputs))"), nil, nil
	}

	if d.RequireLease && in.Job.LeaseID == "" {
		return protocol.Fail(req.ProtocolVersion, req.RequestID, protocol.ErrInvalidRequest,
			"lease_id is required: this worker is configured with require_lease"), nil, nil
	}

	if in.Job.LeaseID != "" {
		lease, ok, err := d.Store.GetLease(ctx, in.Job.LeaseID)
		if err != nil {
			return nil, nil, err
		}
		if !ok || !lease.Active(timeNow()) {
			return protocol.Fail(req.ProtocolVersion, req.RequestID, protocol.ErrLeaseExpired,
				"lease is not active"), nil, nil
		}
	}

	backendIdentity, failResp := verifyIdentity(d, req, in.Job.IdentityToken, in.Job.LeaseID)
	if failResp != nil {
		return failResp, nil, nil
	}

	job, existed, err := d.Store.Submit(ctx, in.Job, backendIdentity)
	if err != nil {
		var dup *jobstate.DuplicateJobKeyError
		if errors.As(err, &dup) {
			return protocol.Fail(req.ProtocolVersion, req.RequestID, protocol.ErrInvalidRequest,
				dup.Error()), nil, nil
		}
		return nil, nil, err
	}
	if existed && job.JobKey != in.Job.JobKey {
		return protocol.Fail(req.ProtocolVersion, req.RequestID, protocol.ErrInvalidRequest,
			"job_id already submitted with a different job_key"), nil, nil
	}

	if !existed {
		d.startJob(job)
	}

	return okResponse(req, protocol.SubmitResponse{JobID: job.ID, State: job.State})
}

// verifyIdentity checks an identity_token against d.Identity when
// configured, returning the verified backend identity (empty if identity
// is not configured on this worker). With a verifier configured it rejects
// with ErrUnauthorized any token that fails verification, and a missing
// token when require_lease is set; the raw token is never logged, only its
// SHA3-256 hash.
func verifyIdentity(d *Dispatcher, req *protocol.Request, token, leaseID string) (string, *protocol.Response) {
	if d.Identity == nil {
		return "", nil
	}
	if token == "" {
		if d.RequireLease {
			return "", protocol.Fail(req.ProtocolVersion, req.RequestID, protocol.ErrUnauthorized,
				"identity_token is required: this worker is configured with require_lease")
		}
		return "", nil
	}

	claims, err := d.Identity.Verify(token, leaseID)
	if err != nil {
		d.Log.Warn("rejected identity token", "request_id", req.RequestID, "token_sha3_256", identity.HashBearerToken(token))
		return "", protocol.Fail(req.ProtocolVersion, req.RequestID, protocol.ErrUnauthorized, "invalid identity token")
	}
	return claims.BackendIdentity, nil
}
