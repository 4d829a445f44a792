package dispatch

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/rch-lane/xcode-worker/internal/artifact"
	"github.com/rch-lane/xcode-worker/internal/protocol"
)

func handleFetch(ctx context.Context, d *Dispatcher, req *protocol.Request, body io.Reader) (*protocol.Response, *BinaryReply, error) {
	in, failResp := decodeOrFail[protocol.FetchRequest](req)
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
	if job.ArtifactsPath == "" {
		return protocol.Fail(req.ProtocolVersion, req.RequestID, protocol.ErrArtifactsGone,
			"job has no committed artifacts"), nil, nil
	}
	if _, err := os.Stat(job.ArtifactsPath); err != nil {
		return protocol.Fail(req.ProtocolVersion, req.RequestID, protocol.ErrArtifactsGone,
			"artifact directory no longer present"), nil, nil
	}

	tarPath, size, sha256Hex, cleanup, err := artifact.TarJobDir(filepath.Clean(job.ArtifactsPath))
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(tarPath)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	resp, err := protocol.OK(req.ProtocolVersion, req.RequestID, protocol.FetchResponse{JobID: job.ID})
	if err != nil {
		f.Close()
		cleanup()
		return nil, nil, err
	}
	resp.Stream = &protocol.StreamInfo{
		ContentLength: uint64(size),
		ContentSHA256: sha256Hex,
		Format:        "tar",
	}

	return resp, &BinaryReply{Info: *resp.Stream, Body: &cleanupReader{f, cleanup}}, nil
}

// cleanupReader closes the underlying file and removes the backing temp
// file when Close is called; reading it to EOF alone removes nothing.
type cleanupReader struct {
	*os.File
	cleanup func()
}

func (c *cleanupReader) Close() error {
	err := c.File.Close()
	c.cleanup()
	return err
}
