package timeoutconn

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqrep/reqrep/internal/util/socketpair"
)

type deadlineRecorder struct {
	net.Conn
	read, write []time.Time
}

func (d *deadlineRecorder) SetReadDeadline(t time.Time) error {
	d.read = append(d.read, t)
	return nil
}

func (d *deadlineRecorder) SetWriteDeadline(t time.Time) error {
	d.write = append(d.write, t)
	return nil
}

func (d *deadlineRecorder) Read(p []byte) (int, error)  { return len(p), nil }
func (d *deadlineRecorder) Write(p []byte) (int, error) { return len(p), nil }

func TestDeadlinesRenewedPerCall(t *testing.T) {
	rec := &deadlineRecorder{}
	c := Wrap(rec, time.Minute, 0)

	before := time.Now()
	_, _ = c.Read(make([]byte, 1))
	_, _ = c.Read(make([]byte, 1))
	_, _ = c.Write([]byte("x"))

	require.Len(t, rec.read, 2)
	for _, d := range rec.read {
		assert.True(t, d.After(before.Add(59*time.Second)))
	}
	require.Len(t, rec.write, 1)
	assert.True(t, rec.write[0].IsZero(), "zero write timeout must clear the deadline")
}

func TestReadTimesOut(t *testing.T) {
	a, b, err := socketpair.SocketPair()
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	c := Wrap(a, 20*time.Millisecond, 0)
	_, err = c.Read(make([]byte, 1))
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)

	// the deadline does not outlive the call once cleared
	require.NoError(t, c.ClearDeadlines())
	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = b.Write([]byte("y"))
	}()
	c.SetTimeouts(time.Second, 0)
	buf := make([]byte, 1)
	n, err := c.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDisableTimeouts(t *testing.T) {
	rec := &deadlineRecorder{Conn: nil}
	c := Wrap(&setDeadlineConn{rec}, time.Second, time.Second)
	require.NoError(t, c.DisableTimeouts())
	_, _ = c.Read(make([]byte, 1))
	assert.Empty(t, rec.read)
}

// setDeadlineConn adds a SetDeadline that does not touch the recorder.
type setDeadlineConn struct {
	*deadlineRecorder
}

func (setDeadlineConn) SetDeadline(time.Time) error { return nil }

func TestSyscallConnNotSupported(t *testing.T) {
	c := Wrap(&deadlineRecorder{}, 0, 0)
	_, err := c.SyscallConn()
	assert.Equal(t, SyscallConnNotSupported, err)
}
