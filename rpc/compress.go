package rpc

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"
)

// CompressThreshold is the payload size above which CompressPayload
// bothers compressing at all; ROM dataspace transfers below this size
// are sent as-is, matching the teacher's entryWriter threshold for
// skipping compression on small entries.
const CompressThreshold = 4096

// CompressPayload compresses p if it is larger than CompressThreshold,
// returning the (possibly unchanged) bytes and whether compression was
// applied. Used when marshalling a large ROM module's content into an
// argument blob (§6.3) so a boot module transfer doesn't dominate the
// RPC channel's bandwidth.
func CompressPayload(p []byte) ([]byte, bool, error) {
	if len(p) <= CompressThreshold {
		return p, false, nil
	}
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, false, err
	}
	if _, err := w.Write(p); err != nil {
		_ = w.Close()
		return nil, false, err
	}
	if err := w.Close(); err != nil {
		return nil, false, err
	}
	return buf.Bytes(), true, nil
}

// DecompressPayload reverses CompressPayload.
func DecompressPayload(p []byte) ([]byte, error) {
	r, err := zstd.NewReader(bytes.NewReader(p))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
