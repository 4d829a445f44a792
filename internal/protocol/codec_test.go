package protocol

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
)

func TestCodecRoundTripRequest(t *testing.T) {
	var buf bytes.Buffer
	c := NewCodec(&buf, &buf)

	req := &Request{
		ProtocolVersion: ProtocolMin,
		Op:              OpStatus,
		RequestID:       "req-1",
		Payload:         json.RawMessage(`{"job_id":"job-1"}`),
	}
	if err := c.WriteRequest(req); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}

	got, body, err := c.ReadRequest()
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if body != nil {
		t.Fatalf("expected nil body for unframed request")
	}
	if got.Op != OpStatus || got.RequestID != "req-1" {
		t.Fatalf("unexpected request: %+v", got)
	}

	var payload StatusRequest
	if err := json.Unmarshal(got.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.JobID != "job-1" {
		t.Fatalf("job id = %q", payload.JobID)
	}
}

func TestCodecFramedStream(t *testing.T) {
	var buf bytes.Buffer
	c := NewCodec(&buf, &buf)

	body := []byte("hello world")
	req := &Request{
		ProtocolVersion: ProtocolMin,
		Op:              OpUploadSource,
		RequestID:       "req-2",
		Payload:         json.RawMessage(`{"source_sha256":"abc"}`),
		Stream: &StreamInfo{
			ContentLength: uint64(len(body)),
			ContentSHA256: "ignored-in-this-test",
			Format:        "tar",
		},
	}
	if err := c.WriteRequest(req); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	if _, err := buf.Write(body); err != nil {
		t.Fatalf("write body: %v", err)
	}

	got, stream, err := c.ReadRequest()
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if stream == nil {
		t.Fatalf("expected framed stream")
	}
	hr := NewHashingReader(stream)
	drained, err := io.ReadAll(hr)
	if err != nil {
		t.Fatalf("drain stream: %v", err)
	}
	if string(drained) != "hello world" {
		t.Fatalf("drained = %q", drained)
	}
	if got.Stream.ContentLength != uint64(len(body)) {
		t.Fatalf("content length mismatch")
	}
}

func TestCodecHeaderTooLarge(t *testing.T) {
	huge := strings.Repeat("a", MaxHeaderBytes+10)
	line := `{"protocol_version":1,"op":"status","request_id":"` + huge + `"}` + "\n"
	c := NewCodec(strings.NewReader(line), io.Discard)

	_, _, err := c.ReadRequest()
	if err != ErrHeaderTooLarge {
		t.Fatalf("expected ErrHeaderTooLarge, got %v", err)
	}
}

func TestErrorCodeIsKnown(t *testing.T) {
	tests := []struct {
		code  ErrorCode
		known bool
	}{
		{ErrInvalidRequest, true},
		{ErrJobNotFound, true},
		{ErrorCode("NOT_A_REAL_CODE"), false},
	}
	for _, tt := range tests {
		if got := tt.code.IsKnown(); got != tt.known {
			t.Errorf("%s.IsKnown() = %v, want %v", tt.code, got, tt.known)
		}
	}
}
