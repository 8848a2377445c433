package sockopt

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestListenAppliesOptions(t *testing.T) {
	o := Options{ReuseAddr: true, BufferSize: BufferSizeFromBDP(64)}
	l, err := Listen(context.Background(), 0, o)
	require.NoError(t, err)
	defer l.Close()

	reuse, err := GetInt(l, unix.SOL_SOCKET, unix.SO_REUSEADDR)
	require.NoError(t, err)
	assert.NotZero(t, reuse)

	rcvbuf, err := GetInt(l, unix.SOL_SOCKET, unix.SO_RCVBUF)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, rcvbuf, 64*1024)
}

func TestDial(t *testing.T) {
	l, err := Listen(context.Background(), 0, Options{ReuseAddr: true})
	require.NoError(t, err)
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port

	c, err := Dial(context.Background(), net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), time.Second, Options{NoDelay: true, BufferSize: 8192})
	require.NoError(t, err)
	defer c.Close()

	nodelay, err := GetInt(c, unix.IPPROTO_TCP, unix.TCP_NODELAY)
	require.NoError(t, err)
	assert.NotZero(t, nodelay)
}

func TestListenPacketEphemeral(t *testing.T) {
	c, err := ListenPacket(context.Background(), 0, Options{BufferSize: 4096})
	require.NoError(t, err)
	defer c.Close()
	assert.NotZero(t, c.LocalAddr().(*net.UDPAddr).Port)
}

func TestListenPortInUse(t *testing.T) {
	l, err := Listen(context.Background(), 0, Options{})
	require.NoError(t, err)
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port

	_, err = Listen(context.Background(), port, Options{ReuseAddr: true})
	assert.ErrorIs(t, err, unix.EADDRINUSE)
}

func TestListenBacklog(t *testing.T) {
	l, err := Listen(context.Background(), 0, Options{ReuseAddr: true, Backlog: 20})
	require.NoError(t, err)
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port
	require.NotZero(t, port)

	c, err := Dial(context.Background(), net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), time.Second, Options{})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, l.SetDeadline(time.Now().Add(5*time.Second)))
	s, err := l.AcceptTCP()
	require.NoError(t, err)
	s.Close()
}
