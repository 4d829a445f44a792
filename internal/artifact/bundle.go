package artifact

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// TarJobDir packs jobDir into a temporary tar file (manifest.json and
// attestation.json included) and reports its size and content hash so the
// caller can populate a protocol.StreamInfo before streaming it. The
// returned cleanup must be called once the caller is done reading.
func TarJobDir(jobDir string) (path string, size int64, sha256Hex string, cleanup func(), err error) {
	tmp, err := os.CreateTemp("", "artifact-bundle-*.tar")
	if err != nil {
		return "", 0, "", nil, fmt.Errorf("artifact: create temp bundle: %w", err)
	}
	cleanup = func() { os.Remove(tmp.Name()) }

	h := sha256.New()
	counter := &countingWriter{}
	tw := tar.NewWriter(io.MultiWriter(tmp, h, counter))

	walkErr := filepath.Walk(jobDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(jobDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if walkErr == nil {
		walkErr = tw.Close()
	}
	closeErr := tmp.Close()
	if walkErr != nil {
		cleanup()
		return "", 0, "", nil, fmt.Errorf("artifact: build bundle tar: %w", walkErr)
	}
	if closeErr != nil {
		cleanup()
		return "", 0, "", nil, fmt.Errorf("artifact: close bundle tar: %w", closeErr)
	}

	return tmp.Name(), counter.n, hex.EncodeToString(h.Sum(nil)), cleanup, nil
}

type countingWriter struct{ n int64 }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}
