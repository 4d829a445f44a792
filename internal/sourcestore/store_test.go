package sourcestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"github.com/rch-lane/xcode-worker/internal/protocol"
)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestUploadThenHas(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	body := "tar-bytes-go-here"
	sum := sha256Hex(body)
	info := protocol.StreamInfo{
		ContentLength: uint64(len(body)),
		ContentSHA256: sum,
		Format:        "tar",
	}

	had, err := s.Upload(context.Background(), sum, strings.NewReader(body), info, 0)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if had {
		t.Fatalf("expected first upload to report not already present")
	}

	present, err := s.Has(sum)
	if err != nil || !present {
		t.Fatalf("Has: present=%v err=%v", present, err)
	}

	rc, meta, err := s.Open(sum)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != body {
		t.Fatalf("got %q, want %q", got, body)
	}
	if meta.SizeBytes != uint64(len(body)) {
		t.Fatalf("meta size = %d", meta.SizeBytes)
	}
}

func TestUploadIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	body := "same-bytes"
	sum := sha256Hex(body)
	info := protocol.StreamInfo{ContentLength: uint64(len(body)), ContentSHA256: sum, Format: "tar"}

	if _, err := s.Upload(context.Background(), sum, strings.NewReader(body), info, 0); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	had, err := s.Upload(context.Background(), sum, strings.NewReader(body), info, 0)
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}
	if !had {
		t.Fatalf("expected second upload to report already present")
	}
}

func TestUploadRejectsTooLarge(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	body := strings.Repeat("x", 100)
	info := protocol.StreamInfo{ContentLength: uint64(len(body)), ContentSHA256: sha256Hex(body), Format: "tar"}

	_, err = s.Upload(context.Background(), sha256Hex(body), strings.NewReader(body), info, 10)
	if err == nil {
		t.Fatalf("expected error for oversized upload")
	}
}

func TestUploadRejectsHashMismatch(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	body := "actual-bytes"
	info := protocol.StreamInfo{ContentLength: uint64(len(body)), ContentSHA256: "deadbeef", Format: "tar"}

	_, err = s.Upload(context.Background(), sha256Hex(body), strings.NewReader(body), info, 0)
	if err == nil {
		t.Fatalf("expected hash mismatch error")
	}
}
