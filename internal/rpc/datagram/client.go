package datagram

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/reqrep/reqrep/internal/logger"
	"github.com/reqrep/reqrep/internal/rpc"
	"github.com/reqrep/reqrep/internal/rpc/sockopt"
	"github.com/reqrep/reqrep/internal/status"
)

// Client sends requests from an ephemeral local port and accepts replies
// only from the configured peer. A Client must not be used concurrently.
type Client struct {
	opts rpc.Options
	ring *status.Ring
	sink status.Sink
	log  logger.Logger

	configured   bool
	peer         *net.UDPAddr
	replyTimeout time.Duration
	bdpKB        int

	conn *net.UDPConn
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

// Configure resolves the peer and opens the local socket.
// replyTimeout bounds the wait for each reply; 0 waits forever.
func (c *Client) Configure(host string, port int, replyTimeout time.Duration, bdpKB int) error {
	c.closeConn()
	c.configured = false

	peer, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return c.fail("configure(resolve)", err)
	}
	c.peer = peer
	c.replyTimeout = replyTimeout
	c.bdpKB = bdpKB

	if err := c.open(); err != nil {
		return c.fail("configure(bind)", err)
	}
	c.configured = true
	return nil
}

func (c *Client) open() error {
	conn, err := sockopt.ListenPacket(context.Background(), 0, sockopt.Options{
		BufferSize: sockopt.BufferSizeFromBDP(c.bdpKB),
	})
	if err != nil {
		return err
	}
	c.conn = conn
	c.log.WithField("local", conn.LocalAddr().String()).WithField("peer", c.peer.String()).Debug("socket opened")
	return nil
}

func (c *Client) closeConn() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil {
		c.log.WithError(err).Debug("error closing socket")
	}
	c.conn = nil
}

func samePeer(a, b *net.UDPAddr) bool {
	return a.Port == b.Port && a.IP.Equal(b.IP)
}

// Request sends out as one datagram and, unless in is nil, waits for the
// reply and copies it into in. A reply longer than in is truncated.
//
// A reply from any address other than the configured peer fails with
// rpc.ErrPeerMismatch. Failures close the socket; the next call opens a new
// one.
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
	if out == nil {
		return 0, c.fail("request", rpc.ErrInvalidBuffer)
	}
	if c.conn == nil {
		if err := c.open(); err != nil {
			return 0, c.fail("request(reopen)", err)
		}
	}

	sent, err := c.conn.WriteToUDP(out, c.peer)
	if err == nil && sent != len(out) {
		err = status.NewError(status.CodeIO, fmt.Sprintf("short send: %d of %d bytes", sent, len(out)))
	}
	if err != nil {
		c.closeConn()
		return 0, c.fail("request(send)", err)
	}
	if in == nil {
		return 0, nil
	}

	var deadline time.Time
	if c.replyTimeout > 0 {
		deadline = time.Now().Add(c.replyTimeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		c.closeConn()
		return 0, c.fail("request(recv)", err)
	}
	n, from, err := c.conn.ReadFromUDP(in)
	if err != nil {
		c.closeConn()
		return 0, c.fail("request(recv)", rpc.WrapTimeout(err))
	}
	if !samePeer(from, c.peer) {
		c.closeConn()
		prom.ClientPeerMismatches.WithLabelValues(c.opts.Name).Inc()
		c.log.WithField("from", from.String()).WithField("peer", c.peer.String()).Warn("dropping reply from unexpected source")
		return 0, c.fail("request(recv)", rpc.ErrPeerMismatch)
	}
	return n, nil
}

// LocalAddr returns the address of the client's current socket, or nil.
func (c *Client) LocalAddr() net.Addr {
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

func (c *Client) Close() error {
	c.configured = false
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) StatusCode() int       { return c.ring.Code() }
func (c *Client) StatusMessage() string { return c.ring.Message() }
