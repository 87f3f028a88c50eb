package protocol

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkedReader dribbles out bytes a few at a time to exercise RecvBuffer's
// partial-read reassembly.
type chunkedReader struct {
	chunks [][]byte
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

func TestRecvBufferReassemblesPartialFrames(t *testing.T) {
	r := &chunkedReader{chunks: [][]byte{
		[]byte(`{"ty`),
		[]byte(`pe":"X"}`),
		[]byte("\n"),
	}}

	var buf RecvBuffer
	frame, err := buf.Next(r)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"X"}`, string(frame))
}

func TestRecvBufferReturnsMultipleQueuedFrames(t *testing.T) {
	r := &chunkedReader{chunks: [][]byte{
		[]byte("{\"type\":\"A\"}\n{\"type\":\"B\"}\n"),
	}}

	var buf RecvBuffer
	first, err := buf.Next(r)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"A"}`, string(first))

	second, err := buf.Next(r)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"B"}`, string(second))
}

func TestRecvBufferReportsConnectionClosed(t *testing.T) {
	r := &chunkedReader{}
	var buf RecvBuffer
	_, err := buf.Next(r)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestSendFrameAppendsDelimiter(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, SendFrame(&out, []byte(`{"type":"X"}`)))
	assert.Equal(t, "{\"type\":\"X\"}\n", out.String())
}

type brokenWriter struct{}

func (brokenWriter) Write(p []byte) (int, error) { return 0, io.ErrClosedPipe }

func TestSendFrameReportsConnectionBroken(t *testing.T) {
	err := SendFrame(brokenWriter{}, []byte("x"))
	assert.ErrorIs(t, err, ErrConnectionBroken)
}

// TestFrameRoundTripOverRealSocket exercises send/recv against a real TCP
// loopback connection end to end, in the teacher's style of testing the
// codec over real sockets rather than mocks.
func TestFrameRoundTripOverRealSocket(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var buf RecvBuffer
		frame, err := buf.Next(conn)
		if err != nil {
			return
		}
		serverDone <- frame
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, SendFrame(conn, []byte(`{"type":"PING"}`)))

	select {
	case got := <-serverDone:
		assert.Equal(t, `{"type":"PING"}`, string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
}
