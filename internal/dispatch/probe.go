package dispatch

import (
	"context"
	"io"

	"github.com/rch-lane/xcode-worker/internal/protocol"
)

func handleProbe(ctx context.Context, d *Dispatcher, req *protocol.Request, body io.Reader) (*protocol.Response, *BinaryReply, error) {
	caps := d.Capabilities
	caps.Capacity.MaxConcurrentJobs = d.MaxConcurrency
	if active, err := d.Store.CountActive(ctx); err == nil {
		caps.Capacity.ActiveJobs = active
	}

	return okResponse(req, protocol.ProbeResponse{
		ProtocolMin:  protocol.ProtocolMin,
		ProtocolMax:  protocol.ProtocolMax,
		Features:     d.Features(),
		Capabilities: caps,
	})
}
