// Package protocol implements the newline-delimited JSON framing used
// between a Participant and the Server, and the small message vocabulary
// carried over it.
package protocol

import (
	"io"

	"github.com/pkg/errors"
)

// ErrConnectionBroken is returned when a write to a connection cannot be
// completed (zero-length write, or an unrecoverable error mid-write).
var ErrConnectionBroken = errors.New("connection broken")

// ErrConnectionClosed is returned when a read encounters EOF or an
// unrecoverable error; the connection's receive buffer is discarded.
var ErrConnectionClosed = errors.New("connection closed")

const readChunkSize = 1024

// delimiter separates whole JSON texts on the wire. JSON payloads never
// legitimately contain a raw LF, so this framing needs no length prefix
// and no conservative frame-size cap.
const delimiter = '\n'

// Writer is the minimal connection surface send_frame needs.
type Writer interface {
	Write(p []byte) (int, error)
}

// Reader is the minimal connection surface recv_frame needs.
type Reader interface {
	Read(p []byte) (int, error)
}

// SendFrame writes payload followed by one LF, retrying on short writes
// until the full frame is transmitted or the connection breaks.
func SendFrame(w Writer, payload []byte) error {
	framed := make([]byte, 0, len(payload)+1)
	framed = append(framed, payload...)
	framed = append(framed, delimiter)

	for written := 0; written < len(framed); {
		n, err := w.Write(framed[written:])
		if n <= 0 || (err != nil && n == 0) {
			return ErrConnectionBroken
		}
		if err != nil {
			return errors.Wrap(ErrConnectionBroken, err.Error())
		}
		written += n
	}

	return nil
}

// RecvBuffer is a per-connection persistent buffer that reassembles
// partial reads into whole LF-delimited frames. It belongs to exactly one
// session slot and must never be shared across connections.
type RecvBuffer struct {
	buf []byte
}

// Next returns the next complete frame from conn (without the trailing
// LF). It blocks, reading further chunks from conn as needed.
func (b *RecvBuffer) Next(conn Reader) ([]byte, error) {
	for {
		if idx := indexByte(b.buf, delimiter); idx >= 0 {
			frame := make([]byte, idx)
			copy(frame, b.buf[:idx])
			b.buf = append(b.buf[:0:0], b.buf[idx+1:]...)
			return frame, nil
		}

		chunk := make([]byte, readChunkSize)
		n, err := conn.Read(chunk)
		if n > 0 {
			b.buf = append(b.buf, chunk[:n]...)
			if err == nil {
				continue
			}
		}
		if err != nil {
			b.buf = nil
			if err == io.EOF {
				return nil, ErrConnectionClosed
			}
			return nil, errors.Wrap(ErrConnectionClosed, err.Error())
		}
	}
}

func indexByte(buf []byte, b byte) int {
	for i, c := range buf {
		if c == b {
			return i
		}
	}
	return -1
}
