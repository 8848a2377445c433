package stream

import (
	"bytes"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqrep/reqrep/internal/logger"
	"github.com/reqrep/reqrep/internal/rpc"
	"github.com/reqrep/reqrep/internal/rpc/frameconn"
	"github.com/reqrep/reqrep/internal/status"
)

const testMaxMessageSize = 1024

type testServer struct {
	*Server
	port int
	errc chan error
}

func (ts *testServer) serve() {
	ts.errc = make(chan error, 1)
	go func() { ts.errc <- ts.Serve() }()
}

func (ts *testServer) stop(t *testing.T) {
	require.NoError(t, ts.Close())
	assert.Equal(t, ErrServerClosed, <-ts.errc)
	ts.errc = nil
}

func startServer(t *testing.T, h rpc.Handler, maxMessageSize int) *testServer {
	t.Helper()
	s := NewServer(
		rpc.WithName(t.Name()),
		rpc.WithHandler(h),
		rpc.WithLogger(logger.NewTestLogger(t)),
		rpc.WithIOTimeout(2*time.Second),
	)
	require.NoError(t, s.Configure(0, maxMessageSize, 0))
	ts := &testServer{Server: s, port: s.Addr().(*net.TCPAddr).Port}
	ts.serve()
	t.Cleanup(func() {
		if ts.errc != nil {
			ts.stop(t)
		}
	})
	return ts
}

func newClient(t *testing.T, port int, replyTimeout time.Duration) *Client {
	t.Helper()
	c := NewClient(rpc.WithName(t.Name()), rpc.WithLogger(logger.NewTestLogger(t)))
	require.NoError(t, c.Configure("127.0.0.1", port, replyTimeout, 0))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestEcho(t *testing.T) {
	ts := startServer(t, rpc.Echo, testMaxMessageSize)
	c := newClient(t, ts.port, 5*time.Second)

	in := make([]byte, testMaxMessageSize)
	n, err := c.Request([]byte("ping"), in)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(in[:n]))

	acc, ok := ts.ring.Latest(1)
	require.True(t, ok)
	assert.Equal(t, status.CodeOK, acc.Code)
	assert.True(t, strings.HasPrefix(acc.Message, "accept 127.0.0.1:"), acc.Message)
}

func TestEchoAllSizes(t *testing.T) {
	ts := startServer(t, rpc.Echo, testMaxMessageSize)
	c := newClient(t, ts.port, 5*time.Second)

	rng := rand.New(rand.NewSource(1))
	in := make([]byte, testMaxMessageSize)
	for size := 0; size <= testMaxMessageSize; size++ {
		out := make([]byte, size)
		rng.Read(out)
		n, err := c.Request(out, in)
		require.NoError(t, err, "size %d", size)
		require.Equal(t, size, n)
		require.True(t, bytes.Equal(out, in[:n]), "size %d", size)
	}
}

func TestOversizedRequestIsDropped(t *testing.T) {
	var invoked atomic.Int32
	h := rpc.HandlerFunc(func(req []byte) ([]byte, bool) {
		invoked.Add(1)
		return req, true
	})
	ts := startServer(t, h, 16)
	c := newClient(t, ts.port, 5*time.Second)

	in := make([]byte, 64)
	_, err := c.Request(bytes.Repeat([]byte{'a'}, 32), in)
	require.Error(t, err)
	assert.Zero(t, invoked.Load())
	assert.Equal(t, status.CodeGeneric, ts.StatusCode())
	assert.Contains(t, ts.StatusMessage(), "buffer not large enough")

	// the server is still serving, the client reconnects
	n, err := c.Request([]byte("small"), in)
	require.NoError(t, err)
	assert.Equal(t, "small", string(in[:n]))
	assert.EqualValues(t, 1, invoked.Load())
}

func TestSlowOversizedSenderDoesNotStallOthers(t *testing.T) {
	ts := startServer(t, rpc.Echo, 16)

	slow, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", ts.port))
	require.NoError(t, err)
	defer slow.Close()
	hdr := make([]byte, frameconn.HeaderLen)
	frameconn.EncodeHeader(hdr, 1<<30)
	_, err = slow.Write(append(hdr, "only a few bytes"...))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	// well below the server's idle timeout
	c := newClient(t, ts.port, time.Second)
	in := make([]byte, 16)
	n, err := c.Request([]byte("next"), in)
	require.NoError(t, err)
	assert.Equal(t, "next", string(in[:n]))

	// the slow sender was dropped
	require.NoError(t, slow.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = slow.Read(make([]byte, 1))
	assert.Error(t, err)
	assert.False(t, rpc.IsTimeout(err), "%v", err)
}

func TestIdleClientDoesNotBlockOthers(t *testing.T) {
	ts := startServer(t, rpc.Echo, testMaxMessageSize)
	idle := newClient(t, ts.port, 5*time.Second)
	busy := newClient(t, ts.port, 5*time.Second)

	in := make([]byte, testMaxMessageSize)
	for i := 0; i < 10; i++ {
		n, err := busy.Request([]byte("busy"), in)
		require.NoError(t, err)
		assert.Equal(t, "busy", string(in[:n]))
	}
	n, err := idle.Request([]byte("idle"), in)
	require.NoError(t, err)
	assert.Equal(t, "idle", string(in[:n]))
}

func TestReconnectAfterServerRestart(t *testing.T) {
	ts := startServer(t, rpc.Echo, testMaxMessageSize)
	c := newClient(t, ts.port, 5*time.Second)

	in := make([]byte, testMaxMessageSize)
	_, err := c.Request([]byte("one"), in)
	require.NoError(t, err)

	ts.stop(t)
	require.NoError(t, ts.Configure(ts.port, testMaxMessageSize, 0))
	ts.serve()
	time.Sleep(50 * time.Millisecond) // let the FIN arrive

	n, err := c.Request([]byte("two"), in)
	require.NoError(t, err)
	assert.Equal(t, "two", string(in[:n]))
}

func TestReconnectFailure(t *testing.T) {
	ts := startServer(t, rpc.Echo, testMaxMessageSize)
	c := newClient(t, ts.port, 5*time.Second)

	in := make([]byte, testMaxMessageSize)
	_, err := c.Request([]byte("one"), in)
	require.NoError(t, err)

	ts.stop(t)
	time.Sleep(50 * time.Millisecond)

	_, err = c.Request([]byte("two"), in)
	require.Error(t, err)
	assert.NotEqual(t, status.CodeOK, c.StatusCode())
	assert.Contains(t, c.StatusMessage(), "request(reconnect)")
}

func TestFireAndForget(t *testing.T) {
	seen := make(chan string, 1)
	h := rpc.HandlerFunc(func(req []byte) ([]byte, bool) {
		if bytes.HasPrefix(req, []byte("ff:")) {
			seen <- string(req)
			return nil, false
		}
		return req, true
	})
	ts := startServer(t, h, testMaxMessageSize)
	c := newClient(t, ts.port, 5*time.Second)

	n, err := c.Request([]byte("ff:hello"), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	select {
	case got := <-seen:
		assert.Equal(t, "ff:hello", got)
	case <-time.After(5 * time.Second):
		t.Fatal("fire-and-forget request not delivered")
	}

	in := make([]byte, 16)
	n, err = c.Request([]byte("after"), in)
	require.NoError(t, err)
	assert.Equal(t, "after", string(in[:n]))
}

func TestReplyTooLarge(t *testing.T) {
	big := bytes.Repeat([]byte{'b'}, 100)
	h := rpc.HandlerFunc(func(req []byte) ([]byte, bool) {
		if string(req) == "big" {
			return big, true
		}
		return req, true
	})
	ts := startServer(t, h, testMaxMessageSize)
	c := newClient(t, ts.port, 5*time.Second)

	_, err := c.Request([]byte("big"), make([]byte, 10))
	require.ErrorIs(t, err, rpc.ErrBufferTooSmall)
	assert.Equal(t, status.CodeGeneric, c.StatusCode())

	in := make([]byte, 200)
	n, err := c.Request([]byte("big"), in)
	require.NoError(t, err)
	assert.Equal(t, big, in[:n])
}

func TestReplyTimeout(t *testing.T) {
	h := rpc.HandlerFunc(func(req []byte) ([]byte, bool) {
		time.Sleep(300 * time.Millisecond)
		return req, true
	})
	ts := startServer(t, h, testMaxMessageSize)
	c := newClient(t, ts.port, 50*time.Millisecond)

	_, err := c.Request([]byte("slow"), make([]byte, 16))
	require.ErrorIs(t, err, rpc.ErrTimeout)
	assert.Equal(t, status.CodeTimeout, c.StatusCode())
}

func TestHandlerPanic(t *testing.T) {
	h := rpc.HandlerFunc(func(req []byte) ([]byte, bool) {
		if string(req) == "panic" {
			panic("boom")
		}
		return req, true
	})
	ts := startServer(t, h, testMaxMessageSize)
	c := newClient(t, ts.port, 5*time.Second)

	in := make([]byte, 16)
	_, err := c.Request([]byte("panic"), in)
	require.Error(t, err)
	assert.Contains(t, ts.StatusMessage(), "handler panicked")

	n, err := c.Request([]byte("fine"), in)
	require.NoError(t, err)
	assert.Equal(t, "fine", string(in[:n]))
}

func TestNotConfigured(t *testing.T) {
	c := NewClient()
	_, err := c.Request([]byte("x"), nil)
	assert.ErrorIs(t, err, rpc.ErrNotConfigured)
	assert.Equal(t, status.CodeGeneric, c.StatusCode())

	s := NewServer()
	assert.ErrorIs(t, s.Serve(), rpc.ErrNotConfigured)
	assert.Nil(t, s.Addr())
	assert.NoError(t, s.Close())
}

func TestInvalidBuffer(t *testing.T) {
	ts := startServer(t, rpc.Echo, testMaxMessageSize)
	c := newClient(t, ts.port, 5*time.Second)

	_, err := c.Request(nil, make([]byte, 4))
	assert.ErrorIs(t, err, rpc.ErrInvalidBuffer)
	assert.Equal(t, status.CodeInvalid, c.StatusCode())
}

func TestConfigureFailures(t *testing.T) {
	ts := startServer(t, rpc.Echo, testMaxMessageSize)

	s := NewServer()
	err := s.Configure(ts.port, testMaxMessageSize, 0)
	require.Error(t, err)
	assert.Contains(t, s.StatusMessage(), "configure(listen)")
	assert.Nil(t, s.Addr())

	err = s.Configure(0, 0, 0)
	require.Error(t, err)
	assert.Equal(t, status.CodeInvalid, s.StatusCode())
	assert.Contains(t, s.StatusMessage(), "configure(malloc)")

	c := NewClient()
	err = c.Configure("127.0.0.1", ts.port, time.Second, 0)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	_, err = c.Request([]byte("x"), nil)
	assert.ErrorIs(t, err, rpc.ErrNotConfigured)
}

func TestUserSinkReceivesReports(t *testing.T) {
	var reports atomic.Int32
	sink := status.SinkFunc(func(code int, message string) { reports.Add(1) })

	c := NewClient(rpc.WithSink(sink))
	_, err := c.Request([]byte("x"), nil)
	require.Error(t, err)
	assert.EqualValues(t, 1, reports.Load())
	assert.Contains(t, c.StatusMessage(), "not configured")
}
