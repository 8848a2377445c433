package stream

import (
	"context"
	"io"
	"net"
	"strconv"
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

// Client sends framed requests over a single connection.
// A Client must not be used concurrently.
type Client struct {
	opts rpc.Options
	ring *status.Ring
	sink status.Sink
	log  logger.Logger

	configured   bool
	host         string
	addr         *net.TCPAddr
	replyTimeout time.Duration
	bdpKB        int

	conn *timeoutconn.Conn
}

func NewClient(opts ...rpc.Option) *Client {
	o := rpc.ApplyOptions(opts)
	ring := status.NewDefaultRing()
	return &Client{
		opts: o,
		ring: ring,
		sink: status.Tee(ring, o.Sink),
		log:  o.Log.WithField("client", o.Name),
	}
}

func (c *Client) fail(op string, err error) error {
	status.ReportError(c.sink, op, err)
	return errors.Wrap(err, op)
}

// Configure connects to host:port. replyTimeout bounds each wait for reply
// data (0 waits forever); bdpKB, if non-zero, sizes the socket buffers.
//
// host is resolved once and the result reused until a different host is
// configured.
func (c *Client) Configure(host string, port int, replyTimeout time.Duration, bdpKB int) error {
	c.closeConn()
	c.configured = false

	if c.addr == nil || host != c.host {
		addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			return c.fail("configure(resolve)", err)
		}
		c.host = host
		c.addr = addr
	} else if c.addr.Port != port {
		addr := *c.addr
		addr.Port = port
		c.addr = &addr
	}
	c.replyTimeout = replyTimeout
	c.bdpKB = bdpKB

	if err := c.connect(); err != nil {
		return c.fail("configure(connect)", err)
	}
	c.configured = true
	return nil
}

func (c *Client) connect() error {
	tc, err := sockopt.Dial(context.Background(), c.addr.String(), c.opts.DialTimeout, sockopt.Options{
		NoDelay:    true,
		BufferSize: sockopt.BufferSizeFromBDP(c.bdpKB),
	})
	if err != nil {
		return err
	}
	c.conn = timeoutconn.Wrap(tc, c.replyTimeout, c.opts.WriteTimeout)
	c.log.WithField("addr", c.addr.String()).Debug("connected")
	return nil
}

func (c *Client) closeConn() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil {
		c.log.WithError(err).Debug("error closing connection")
	}
	c.conn = nil
}

func (c *Client) alive() bool {
	if c.conn == nil {
		return false
	}
	alive, err := readiness.PeerAlive(c.conn)
	if err != nil {
		c.log.WithError(err).Debug("liveness check failed")
	}
	return alive
}

// Request sends out as one frame and, unless in is nil, waits for the reply
// and copies it into in, returning the reply length.
//
// If the connection was lost since the last call, Request reconnects once
// before sending. Any failure closes the connection; the next call
// reconnects. A reply larger than in fails with an error matching
// rpc.ErrBufferTooSmall.
func (c *Client) Request(out, in []byte) (n int, err error) {
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		prom.ClientRequests.WithLabelValues(c.opts.Name, result).Inc()
	}()

	if !c.configured {
		return 0, c.fail("request", rpc.ErrNotConfigured)
	}
	if !c.alive() {
		c.closeConn()
		if err := c.connect(); err != nil {
			return 0, c.fail("request(reconnect)", err)
		}
		prom.ClientReconnects.WithLabelValues(c.opts.Name).Inc()
		c.log.Info("reconnected")
	}
	if out == nil {
		return 0, c.fail("request", rpc.ErrInvalidBuffer)
	}

	if err := frameconn.WriteFrame(c.conn, out); err != nil {
		c.closeConn()
		return 0, c.fail("request(send)", err)
	}
	if in == nil {
		return 0, nil
	}

	length, err := frameconn.ReadHeader(c.conn)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		c.closeConn()
		return 0, c.fail("request(recv)", rpc.WrapTimeout(err))
	}
	if int64(length) > int64(len(in)) {
		c.closeConn()
		return 0, c.fail("request(recv)", &rpc.MessageTooLargeError{Length: int64(length), Capacity: len(in)})
	}
	n, err = frameconn.ReadExact(c.conn, in[:length])
	if err != nil {
		c.closeConn()
		return 0, c.fail("request(recv)", rpc.WrapTimeout(err))
	}
	return n, nil
}

// Close closes the connection. The client must be configured again before
// the next request.
func (c *Client) Close() error {
	c.configured = false
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) EnableIgnoreSigPipe()  { sigpipe.Ignore() }
func (c *Client) DisableIgnoreSigPipe() { sigpipe.Restore() }

func (c *Client) StatusCode() int       { return c.ring.Code() }
func (c *Client) StatusMessage() string { return c.ring.Message() }
