// Package datagram implements request/reply over UDP. Each datagram is one
// message; replies go back to the request's source address.
//
// Messages larger than the receiver's buffer are truncated by the transport
// and delivered as-is.
package datagram

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/reqrep/reqrep/internal/logger"
	"github.com/reqrep/reqrep/internal/rpc"
	"github.com/reqrep/reqrep/internal/rpc/sockopt"
	"github.com/reqrep/reqrep/internal/status"
)

var ErrServerClosed = errors.New("datagram server closed")

type Server struct {
	opts rpc.Options
	ring *status.Ring
	sink status.Sink
	log  logger.Logger

	mtx  sync.Mutex
	conn *net.UDPConn
	buf  []byte
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

// Configure binds the server to port on all interfaces and allocates a
// receive buffer of maxMessageSize bytes.
func (s *Server) Configure(port, maxMessageSize, bdpKB int) error {
	if err := s.Close(); err != nil {
		s.log.WithError(err).Warn("error closing previous socket")
	}

	fail := func(op string, err error) error {
		status.ReportError(s.sink, op, err)
		return errors.Wrap(err, op)
	}

	if maxMessageSize <= 0 {
		return fail("configure(malloc)", status.NewError(status.CodeInvalid, fmt.Sprintf("invalid max message size %d", maxMessageSize)))
	}
	buf, err := allocate(maxMessageSize)
	if err != nil {
		return fail("configure(malloc)", err)
	}
	conn, err := sockopt.ListenPacket(context.Background(), port, sockopt.Options{
		ReuseAddr:  true,
		BufferSize: sockopt.BufferSizeFromBDP(bdpKB),
	})
	if err != nil {
		return fail("configure(bind)", err)
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.conn = conn
	s.buf = buf
	s.log.WithField("addr", conn.LocalAddr().String()).WithField("max_message_size", maxMessageSize).Info("listening")
	return nil
}

func allocate(n int) (buf []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = status.NewError(status.CodeNoMem, fmt.Sprintf("cannot allocate %d bytes: %v", n, r))
		}
	}()
	return make([]byte, n), nil
}

func (s *Server) Addr() net.Addr {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Close closes the socket. A running Serve returns ErrServerClosed.
func (s *Server) Close() error {
	s.mtx.Lock()
	conn := s.conn
	s.conn = nil
	s.mtx.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (s *Server) StatusCode() int         { return s.ring.Code() }
func (s *Server) StatusMessage() string   { return s.ring.Message() }
func (s *Server) Status() []status.Report { return s.ring.Reports() }

// Serve receives datagrams until ctx is done or the socket is closed.
// Receive and send failures are reported and do not end the loop.
func (s *Server) Serve(ctx context.Context) error {
	s.mtx.Lock()
	conn, buf := s.conn, s.buf
	s.mtx.Unlock()
	if conn == nil {
		status.ReportError(s.sink, "serve", rpc.ErrNotConfigured)
		return rpc.ErrNotConfigured
	}

	// a previous cancelled Serve may have left a deadline behind
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		status.ReportError(s.sink, "serve", err)
		return errors.Wrap(err, "serve")
	}
	// unblock a pending receive on cancellation
	stop := context.AfterFunc(ctx, func() {
		if err := conn.SetReadDeadline(time.Unix(1, 0)); err != nil {
			s.log.WithError(err).Debug("cannot interrupt receive")
		}
	})
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			if ctx.Err() != nil {
				continue
			}
			status.ReportError(s.sink, "serve(recv)", err)
			prom.ServerIOErrors.WithLabelValues(s.opts.Name, "recv").Inc()
			continue
		}
		s.handle(conn, buf[:n], from)
	}
}

func (s *Server) handle(conn *net.UDPConn, req []byte, from *net.UDPAddr) {
	prom.ServerRequests.WithLabelValues(s.opts.Name).Inc()
	begin := time.Now()
	reply, ok, err := rpc.Invoke(s.opts.Handler, req)
	prom.ServerHandlerSeconds.WithLabelValues(s.opts.Name).Observe(time.Since(begin).Seconds())
	if err != nil {
		var pe *rpc.HandlerPanicError
		if errors.As(err, &pe) {
			s.log.WithError(err).WithField("peer", from.String()).WithField("stack", string(pe.Stack)).Error("handler panicked")
		}
		status.ReportError(s.sink, "serve(handler)", err)
		return
	}
	if !ok {
		return
	}
	n, err := conn.WriteToUDP(reply, from)
	if err == nil && n != len(reply) {
		err = status.NewError(status.CodeIO, fmt.Sprintf("short send: %d of %d bytes", n, len(reply)))
	}
	if err != nil {
		status.ReportError(s.sink, "serve(send)", err)
		prom.ServerIOErrors.WithLabelValues(s.opts.Name, "send").Inc()
	}
}
