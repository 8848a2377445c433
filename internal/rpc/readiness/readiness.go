// Package readiness turns the runtime network poller into a single stream of
// "descriptor is readable" events, so that one goroutine can multiplex a
// listener and many connections the way a select(2) loop would.
//
// Each watched descriptor gets a Watcher. A Watcher delivers at most one
// Event and then parks until the consumer calls Resume, which keeps the
// consumer in charge of all reads on the descriptor.
//
// Listeners are the exception: their raw connection cannot wait for
// readability, so a listener Watcher accepts by itself and hands the new
// connection over in the Event.
package readiness

import (
	"errors"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Event signals that the descriptor registered under Key is readable.
// Readable includes end of stream and a pending socket error. For listener
// watchers, Conn is the accepted connection.
//
// Err is set if waiting or accepting failed. A connection watcher stops
// after such an event, a listener watcher only once the listener is closed.
type Event struct {
	Key  uint64
	Conn net.Conn
	Err  error
}

type Watcher struct {
	key    uint64
	wait   func() (net.Conn, error)
	fatal  func(error) bool
	events chan<- Event

	resume   chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// Watch starts watching conn and delivers events for it on events.
//
// The consumer must clear any read deadline on conn before calling Resume:
// waiting honors the same deadline as Read.
func Watch(conn syscall.Conn, key uint64, events chan<- Event) (*Watcher, error) {
	rc, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}
	w := newWatcher(key, events)
	w.wait = func() (net.Conn, error) {
		var perr error
		err := rc.Read(func(fd uintptr) bool {
			var ready bool
			ready, perr = readable(int(fd))
			return ready || perr != nil
		})
		if err == nil {
			err = perr
		}
		return nil, err
	}
	w.fatal = func(error) bool { return true }
	go w.run()
	return w, nil
}

const maxAcceptBackoff = time.Second

// WatchListener accepts connections on l and delivers each one as an Event.
// The next accept is only issued after Resume.
func WatchListener(l net.Listener, key uint64, events chan<- Event) *Watcher {
	w := newWatcher(key, events)
	var backoff time.Duration
	w.wait = func() (net.Conn, error) {
		if backoff > 0 {
			time.Sleep(backoff)
		}
		conn, err := l.Accept()
		switch {
		case err == nil:
			backoff = 0
		case backoff == 0:
			backoff = 5 * time.Millisecond
		default:
			backoff = min(2*backoff, maxAcceptBackoff)
		}
		return conn, err
	}
	w.fatal = func(err error) bool { return errors.Is(err, net.ErrClosed) }
	go w.run()
	return w
}

func newWatcher(key uint64, events chan<- Event) *Watcher {
	return &Watcher{
		key:    key,
		events: events,
		resume: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
}

func (w *Watcher) Key() uint64 { return w.key }

// Resume re-arms the watcher after its event has been handled.
func (w *Watcher) Resume() {
	select {
	case w.resume <- struct{}{}:
	default:
	}
}

// Stop ends the watch. If the watcher is blocked waiting for readability or
// in accept, it only returns once conn or the listener is closed, so callers
// close it right after. An event may still be in flight; consumers drop
// events for unknown keys. A connection accepted after Stop is closed.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *Watcher) stopped() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

func (w *Watcher) run() {
	for {
		conn, err := w.wait()
		if w.stopped() {
			closeConn(conn)
			return
		}
		select {
		case w.events <- Event{Key: w.key, Conn: conn, Err: err}:
		case <-w.stop:
			closeConn(conn)
			return
		}
		if err != nil && w.fatal(err) {
			return
		}
		select {
		case <-w.resume:
		case <-w.stop:
			return
		}
	}
}

func closeConn(conn net.Conn) {
	if conn != nil {
		conn.Close()
	}
}

func readable(fd int) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		return n > 0 && fds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0, nil
	}
}

// PeerAlive checks a connected stream socket without consuming data or
// blocking. Pending data or an empty receive queue mean alive; end of
// stream or a pending socket error mean the peer is gone.
func PeerAlive(conn syscall.Conn) (bool, error) {
	rc, err := conn.SyscallConn()
	if err != nil {
		return false, err
	}
	var (
		n       int
		peekErr error
	)
	var buf [1]byte
	err = rc.Control(func(fd uintptr) {
		for {
			n, _, peekErr = unix.Recvfrom(int(fd), buf[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
			if peekErr != unix.EINTR {
				return
			}
		}
	})
	if err != nil {
		return false, err
	}
	switch {
	case peekErr == unix.EAGAIN || peekErr == unix.EWOULDBLOCK:
		return true, nil
	case peekErr != nil:
		return false, peekErr
	case n == 0:
		return false, nil
	default:
		return true, nil
	}
}
