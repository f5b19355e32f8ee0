// Package gate implements the gate transport (C7) and protocol (C8):
// a length-prefixed JSON frame stream carried over an SSH session's
// stdin/stdout, with request/response correlation by a monotonic
// per-gate id and an interleaved event stream.
package gate

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/oriys/ftl2/internal/domain"
	"github.com/oriys/ftl2/internal/ferr"
)

// maxFrameBytes bounds a single frame, guarding against a misbehaving
// or corrupted gate claiming an unreasonable length.
const maxFrameBytes = 64 << 20

// writeFrame serializes and writes one frame: a 4-byte big-endian
// length prefix followed by that many bytes of JSON, batched into a
// single write to reduce syscalls, grounded directly on
// oriys-nova/internal/firecracker/vsock.go's sendLocked.
func writeFrame(w io.Writer, frame *domain.GateFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(data)))
	copy(buf[4:], data)

	return writeFull(w, buf)
}

// readFrame reads one length-prefixed frame, grounded on vsock.go's
// receiveLocked.
func readFrame(r io.Reader) (*domain.GateFrame, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(lenBuf)
	if n > maxFrameBytes {
		return nil, &ferr.ProtocolError{Detail: fmt.Sprintf("frame too large: %d bytes", n)}
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}

	var frame domain.GateFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, &ferr.ProtocolError{Detail: fmt.Sprintf("malformed frame: %v", err)}
	}
	return &frame, nil
}

func writeFull(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}
