package frameconn

import (
	"bytes"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqrep/reqrep/internal/rpc"
	"github.com/reqrep/reqrep/internal/status"
	"github.com/reqrep/reqrep/internal/util/socketpair"
)

// step is one scripted result of the underlying reader or writer.
type step struct {
	n   int
	err error
}

type scriptedReader struct {
	src   *bytes.Reader
	steps []step
	calls int
}

func (r *scriptedReader) Read(p []byte) (int, error) {
	r.calls++
	if len(r.steps) == 0 {
		return r.src.Read(p)
	}
	s := r.steps[0]
	r.steps = r.steps[1:]
	if s.n > len(p) {
		s.n = len(p)
	}
	n, _ := r.src.Read(p[:s.n])
	return n, s.err
}

type scriptedWriter struct {
	buf   bytes.Buffer
	steps []step
	calls int
}

func (w *scriptedWriter) Write(p []byte) (int, error) {
	w.calls++
	if len(w.steps) == 0 {
		return w.buf.Write(p)
	}
	s := w.steps[0]
	w.steps = w.steps[1:]
	if s.n > len(p) {
		s.n = len(p)
	}
	w.buf.Write(p[:s.n])
	return s.n, s.err
}

var timeout = os.ErrDeadlineExceeded

func TestReadExact(t *testing.T) {
	data := []byte("0123456789")

	t.Run("single attempt", func(t *testing.T) {
		buf := make([]byte, len(data))
		n, err := ReadExact(bytes.NewReader(data), buf)
		require.NoError(t, err)
		assert.Equal(t, len(data), n)
		assert.Equal(t, data, buf)
	})

	t.Run("timeouts with progress are retried", func(t *testing.T) {
		r := &scriptedReader{src: bytes.NewReader(data), steps: []step{{3, timeout}, {3, timeout}}}
		buf := make([]byte, len(data))
		n, err := ReadExact(r, buf)
		require.NoError(t, err)
		assert.Equal(t, len(data), n)
		assert.Equal(t, data, buf)
	})

	t.Run("attempts are capped", func(t *testing.T) {
		r := &scriptedReader{src: bytes.NewReader(data), steps: []step{{1, timeout}, {1, timeout}, {1, timeout}, {7, nil}}}
		buf := make([]byte, len(data))
		n, err := ReadExact(r, buf)
		assert.Equal(t, MaxAttempts, 3)
		assert.Equal(t, 3, n)
		var te *TransferError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "read", te.Op)
		assert.Equal(t, 3, te.Attempts)
		assert.EqualValues(t, len(data), te.Want)
		assert.ErrorIs(t, err, ErrShortRead)
		assert.True(t, rpc.IsTimeout(err))
		assert.Equal(t, status.CodeTimeout, status.CodeOf(err))
	})

	t.Run("no progress aborts", func(t *testing.T) {
		r := &scriptedReader{src: bytes.NewReader(data), steps: []step{{4, timeout}, {0, timeout}}}
		buf := make([]byte, len(data))
		n, err := ReadExact(r, buf)
		assert.Equal(t, 4, n)
		assert.Equal(t, 2, r.calls)
		var te *TransferError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, 2, te.Attempts)
	})

	t.Run("non-timeout error aborts", func(t *testing.T) {
		boom := errors.New("boom")
		r := &scriptedReader{src: bytes.NewReader(data), steps: []step{{2, boom}}}
		_, err := ReadExact(r, make([]byte, len(data)))
		assert.ErrorIs(t, err, boom)
		assert.ErrorIs(t, err, ErrShortRead)
		assert.Equal(t, status.CodeIO, status.CodeOf(err))
		assert.Equal(t, 1, r.calls)
	})

	t.Run("clean EOF", func(t *testing.T) {
		n, err := ReadExact(bytes.NewReader(nil), make([]byte, 4))
		assert.Equal(t, 0, n)
		assert.Equal(t, io.EOF, err)
	})

	t.Run("EOF mid-message", func(t *testing.T) {
		n, err := ReadExact(bytes.NewReader(data[:2]), make([]byte, 4))
		assert.Equal(t, 2, n)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
		assert.ErrorIs(t, err, ErrShortRead)
	})
}

func TestWriteExact(t *testing.T) {
	data := []byte("abcdefgh")

	t.Run("partial writes", func(t *testing.T) {
		w := &scriptedWriter{steps: []step{{2, timeout}, {2, timeout}}}
		n, err := WriteExact(w, data)
		require.NoError(t, err)
		assert.Equal(t, len(data), n)
		assert.Equal(t, data, w.buf.Bytes())
		assert.Equal(t, 3, w.calls)
	})

	t.Run("stuck writer", func(t *testing.T) {
		w := &scriptedWriter{steps: []step{{1, timeout}, {0, nil}}}
		n, err := WriteExact(w, data)
		assert.Equal(t, 1, n)
		var te *TransferError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "write", te.Op)
		assert.ErrorIs(t, err, ErrShortWrite)
		assert.Equal(t, status.CodeIO, status.CodeOf(err))
	})
}

func TestDiscard(t *testing.T) {
	r := bytes.NewReader([]byte("0123456789"))
	n, err := Discard(r, 6)
	require.NoError(t, err)
	assert.EqualValues(t, 6, n)
	rest, _ := io.ReadAll(r)
	assert.Equal(t, []byte("6789"), rest)

	n, err = Discard(bytes.NewReader([]byte("ab")), 5)
	assert.EqualValues(t, 2, n)
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestHeaderIsNativeEndian(t *testing.T) {
	var buf [HeaderLen]byte
	EncodeHeader(buf[:], 0x01020304)
	assert.EqualValues(t, 0x01020304, DecodeHeader(buf[:]))

	var w bytes.Buffer
	require.NoError(t, WriteFrame(&w, []byte("ping")))
	l, err := ReadHeader(&w)
	require.NoError(t, err)
	assert.EqualValues(t, 4, l)
	assert.Equal(t, "ping", w.String())
}

func TestFrameRoundTrip(t *testing.T) {
	a, b, err := socketpair.SocketPair()
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	for _, size := range []int{0, 1, 100, 1000, 60000} {
		payload := bytes.Repeat([]byte{'x'}, size)
		errc := make(chan error, 1)
		go func() { errc <- WriteFrame(a, payload) }()

		require.NoError(t, b.SetReadDeadline(time.Now().Add(5*time.Second)))
		buf := make([]byte, HeaderLen+65536)
		got, err := ReadFrame(b, buf)
		require.NoError(t, err)
		require.NoError(t, <-errc)
		assert.Equal(t, size, len(got))
		assert.Equal(t, payload, got)
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	var w bytes.Buffer
	require.NoError(t, WriteFrame(&w, []byte("0123456789")))

	buf := make([]byte, HeaderLen+4)
	_, err := ReadFrame(&w, buf)
	var tooLarge *rpc.MessageTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.EqualValues(t, 10, tooLarge.Length)
	assert.Equal(t, 4, tooLarge.Capacity)
	assert.ErrorIs(t, err, rpc.ErrBufferTooSmall)
	// payload is left for the caller to discard
	assert.Equal(t, 10, w.Len())
}
