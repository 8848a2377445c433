package socketpair

import (
	"io"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketPairIsConnected(t *testing.T) {
	a, b, err := SocketPair()
	require.NoError(t, err)
	defer b.Close()

	_, err = a.Write([]byte("abc"))
	require.NoError(t, err)
	buf := make([]byte, 3)
	_, err = io.ReadFull(b, buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf))

	require.NoError(t, a.Close())
	_, err = b.Read(buf)
	assert.Equal(t, io.EOF, err)
}

func TestSocketPairSupportsDeadlinesAndRawConn(t *testing.T) {
	a, b, err := SocketPair()
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	require.NoError(t, b.SetReadDeadline(time.Now().Add(10*time.Millisecond)))
	_, err = b.Read(make([]byte, 1))
	require.Error(t, err)
	assert.True(t, err.(interface{ Timeout() bool }).Timeout())

	sc, ok := a.(syscall.Conn)
	require.True(t, ok)
	rc, err := sc.SyscallConn()
	require.NoError(t, err)
	require.NoError(t, rc.Control(func(fd uintptr) {}))
}
