// Package stream implements request/reply over TCP with length-prefixed
// framing (see package frameconn).
//
// The server multiplexes its listener and all accepted connections on a
// single dispatch goroutine: requests are read, handled and answered one at
// a time, in the order their connections become readable. The client keeps
// one connection and transparently reconnects once per request if the peer
// went away.
package stream

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/reqrep/reqrep/internal/logger"
	"github.com/reqrep/reqrep/internal/rpc"
	"github.com/reqrep/reqrep/internal/rpc/frameconn"
	"github.com/reqrep/reqrep/internal/rpc/readiness"
	"github.com/reqrep/reqrep/internal/rpc/sockopt"
	"github.com/reqrep/reqrep/internal/rpc/timeoutconn"
	"github.com/reqrep/reqrep/internal/sigpipe"
	"github.com/reqrep/reqrep/internal/status"
)

// Backlog is the listen queue length of server sockets.
const Backlog = 20

// drainTimeout bounds the total time spent discarding an oversized request.
// The dispatch goroutine serves no one else while draining.
const drainTimeout = 250 * time.Millisecond

var ErrServerClosed = errors.New("stream server closed")

type Server struct {
	opts rpc.Options
	ring *status.Ring
	sink status.Sink
	log  logger.Logger

	mtx            sync.Mutex
	listener       *net.TCPListener
	buf            []byte
	maxMessageSize int
	closing        chan struct{}
	serveDone      chan struct{}
}

func NewServer(opts ...rpc.Option) *Server {
	o := rpc.ApplyOptions(opts)
	ring := status.NewDefaultRing()
	return &Server{
		opts: o,
		ring: ring,
		sink: status.Tee(ring, o.Sink),
		log:  o.Log.WithField("server", o.Name),
	}
}

func allocate(n int) (buf []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = status.NewError(status.CodeNoMem, fmt.Sprintf("cannot allocate %d bytes: %v", n, r))
		}
	}()
	return make([]byte, n), nil
}

// Configure binds the server to port on all interfaces and allocates the
// receive buffer for requests of up to maxMessageSize bytes. bdpKB, if
// non-zero, sizes the socket buffers. Configuring a configured server closes
// the previous listener first.
func (s *Server) Configure(port, maxMessageSize, bdpKB int) error {
	if err := s.Close(); err != nil {
		s.log.WithError(err).Warn("error closing previous listener")
	}

	fail := func(op string, err error) error {
		status.ReportError(s.sink, op, err)
		return errors.Wrap(err, op)
	}

	if maxMessageSize <= 0 {
		return fail("configure(malloc)", status.NewError(status.CodeInvalid, fmt.Sprintf("invalid max message size %d", maxMessageSize)))
	}
	buf, err := allocate(maxMessageSize + frameconn.HeaderLen)
	if err != nil {
		return fail("configure(malloc)", err)
	}

	l, err := sockopt.Listen(context.Background(), port, sockopt.Options{
		ReuseAddr:  true,
		BufferSize: sockopt.BufferSizeFromBDP(bdpKB),
		Backlog:    Backlog,
	})
	if err != nil {
		return fail("configure(listen)", err)
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.listener = l
	s.buf = buf
	s.maxMessageSize = maxMessageSize
	s.closing = make(chan struct{})
	s.serveDone = nil
	s.log.WithField("addr", l.Addr().String()).WithField("max_message_size", maxMessageSize).Info("listening")
	return nil
}

func (s *Server) Addr() net.Addr {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops a running Serve, closes the listener and all connections.
// It is a no-op on an unconfigured server.
func (s *Server) Close() error {
	s.mtx.Lock()
	l, closing, done := s.listener, s.closing, s.serveDone
	s.listener = nil
	s.mtx.Unlock()
	if l == nil {
		return nil
	}
	close(closing)
	err := l.Close()
	if done != nil {
		<-done
	}
	return err
}

func (s *Server) EnableIgnoreSigPipe()  { sigpipe.Ignore() }
func (s *Server) DisableIgnoreSigPipe() { sigpipe.Restore() }

func (s *Server) StatusCode() int       { return s.ring.Code() }
func (s *Server) StatusMessage() string { return s.ring.Message() }

// Status returns the server's retained reports, most recent first.
func (s *Server) Status() []status.Report { return s.ring.Reports() }

// Serve runs the dispatch loop until the listener fails. After Close, it
// returns ErrServerClosed.
func (s *Server) Serve() error {
	s.mtx.Lock()
	if s.listener == nil {
		s.mtx.Unlock()
		status.ReportError(s.sink, "serve", rpc.ErrNotConfigured)
		return rpc.ErrNotConfigured
	}
	if s.serveDone != nil {
		s.mtx.Unlock()
		return errors.New("stream server is already serving")
	}
	done := make(chan struct{})
	d := &dispatcher{
		s:        s,
		listener: s.listener,
		buf:      s.buf,
		closing:  s.closing,
		events:   make(chan readiness.Event),
		conns:    make(map[uint64]*serverConn),
	}
	s.serveDone = done
	s.mtx.Unlock()

	defer func() {
		s.mtx.Lock()
		if s.serveDone == done {
			s.serveDone = nil
		}
		s.mtx.Unlock()
		close(done)
	}()
	return d.run()
}

const listenerKey = 0

type serverConn struct {
	key     uint64
	conn    *timeoutconn.Conn
	watcher *readiness.Watcher
	peer    string
	log     logger.Logger
}

// dispatcher holds the state that only the Serve goroutine touches.
type dispatcher struct {
	s        *Server
	listener *net.TCPListener
	buf      []byte
	closing  <-chan struct{}
	events   chan readiness.Event
	conns    map[uint64]*serverConn
	lastKey  uint64
}

func (d *dispatcher) isClosing() bool {
	select {
	case <-d.closing:
		return true
	default:
		return false
	}
}

func (d *dispatcher) run() error {
	lw := readiness.WatchListener(d.listener, listenerKey, d.events)
	defer func() {
		lw.Stop()
		for _, c := range d.conns {
			d.drop(c)
		}
	}()

	for {
		select {
		case <-d.closing:
			return ErrServerClosed
		case ev := <-d.events:
			if ev.Key != listenerKey {
				d.serveConn(ev)
				continue
			}
			if err := d.accept(ev); err != nil {
				if d.isClosing() {
					return ErrServerClosed
				}
				status.ReportError(d.s.sink, "serve(accept)", err)
				return errors.Wrap(err, "serve(accept)")
			}
			lw.Resume()
		}
	}
}

// accept registers the connection carried by ev. It returns an error only
// if the listener is unusable.
func (d *dispatcher) accept(ev readiness.Event) error {
	if errors.Is(ev.Err, net.ErrClosed) {
		return ev.Err
	}
	if ev.Err != nil {
		// e.g. EMFILE, ECONNABORTED: the listener itself is fine
		status.ReportError(d.s.sink, "accept", ev.Err)
		return nil
	}
	tc, ok := ev.Conn.(*net.TCPConn)
	if !ok {
		ev.Conn.Close()
		return errors.Errorf("unexpected connection type %T", ev.Conn)
	}

	if err := tc.SetNoDelay(true); err != nil {
		d.s.log.WithError(err).Warn("cannot set TCP_NODELAY")
	}

	d.lastKey++
	key := d.lastKey
	w, err := readiness.Watch(tc, key, d.events)
	if err != nil {
		status.ReportError(d.s.sink, "accept(watch)", err)
		tc.Close()
		return nil
	}
	peer := tc.RemoteAddr().String()
	c := &serverConn{
		key:     key,
		conn:    timeoutconn.Wrap(tc, d.s.opts.IOTimeout, d.s.opts.IOTimeout),
		watcher: w,
		peer:    peer,
		log:     d.s.log.WithField("peer", peer),
	}
	d.conns[key] = c

	d.s.sink.Report(status.CodeOK, "accept "+peer)
	prom.ServerAccepted.WithLabelValues(d.s.opts.Name).Inc()
	prom.ServerOpenConns.WithLabelValues(d.s.opts.Name).Inc()
	c.log.Debug("accepted connection")
	return nil
}

func (d *dispatcher) drop(c *serverConn) {
	c.watcher.Stop()
	if err := c.conn.Close(); err != nil {
		c.log.WithError(err).Debug("error closing connection")
	}
	delete(d.conns, c.key)
	prom.ServerOpenConns.WithLabelValues(d.s.opts.Name).Dec()
	c.log.Debug("dropped connection")
}

// drain discards up to n bytes of a request that is dropped anyway, giving up
// after drainTimeout in total.
func (d *dispatcher) drain(c *serverConn, n int64) (int64, error) {
	if err := c.conn.DisableTimeouts(); err != nil {
		return 0, err
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(drainTimeout)); err != nil {
		return 0, err
	}
	return frameconn.Discard(c.conn, n)
}

func (d *dispatcher) ioError(c *serverConn, op string, err error) {
	status.ReportError(d.s.sink, op, err)
	prom.ServerIOErrors.WithLabelValues(d.s.opts.Name, op).Inc()
	c.log.WithError(err).WithField("op", op).Debug("dropping connection")
	d.drop(c)
}

// serveConn performs one request/reply exchange on a readable connection.
func (d *dispatcher) serveConn(ev readiness.Event) {
	c, ok := d.conns[ev.Key]
	if !ok {
		return // stale event from a dropped connection
	}
	if ev.Err != nil {
		d.ioError(c, "serve(wait)", ev.Err)
		return
	}

	req, err := frameconn.ReadFrame(c.conn, d.buf)
	var tooLarge *rpc.MessageTooLargeError
	switch {
	case err == io.EOF:
		c.log.Debug("peer closed connection")
		d.drop(c)
		return
	case errors.As(err, &tooLarge):
		discarded, derr := d.drain(c, tooLarge.Length)
		l := c.log.WithField("length", tooLarge.Length).WithField("discarded", discarded)
		if derr != nil {
			l = l.WithError(derr)
		}
		l.Warn("request exceeds max message size")
		status.ReportError(d.s.sink, "serve(recv)", err)
		prom.ServerOversized.WithLabelValues(d.s.opts.Name).Inc()
		d.drop(c)
		return
	case err != nil:
		d.ioError(c, "serve(recv)", err)
		return
	}

	prom.ServerRequests.WithLabelValues(d.s.opts.Name).Inc()
	begin := time.Now()
	reply, ok, err := rpc.Invoke(d.s.opts.Handler, req)
	prom.ServerHandlerSeconds.WithLabelValues(d.s.opts.Name).Observe(time.Since(begin).Seconds())
	if err != nil {
		var pe *rpc.HandlerPanicError
		if errors.As(err, &pe) {
			c.log.WithError(err).WithField("stack", string(pe.Stack)).Error("handler panicked")
		}
		status.ReportError(d.s.sink, "serve(handler)", err)
		d.drop(c)
		return
	}
	if ok {
		if err := frameconn.WriteFrame(c.conn, reply); err != nil {
			d.ioError(c, "serve(send)", err)
			return
		}
	}

	if err := c.conn.ClearDeadlines(); err != nil {
		d.ioError(c, "serve(deadline)", err)
		return
	}
	c.watcher.Resume()
}
