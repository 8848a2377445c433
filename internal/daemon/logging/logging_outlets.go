package logging

import (
	"bytes"
	"context"
	"io"
	"log/syslog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/reqrep/reqrep/internal/logger"
)

type EntryFormatter interface {
	SetMetadataFlags(flags MetadataFlags)
	Format(e *logger.Entry) ([]byte, error)
}

// WriterOutlet writes one formatted entry per line.
type WriterOutlet struct {
	formatter EntryFormatter
	writer    io.Writer
}

func NewWriterOutlet(formatter EntryFormatter, writer io.Writer) WriterOutlet {
	return WriterOutlet{formatter, writer}
}

func (h WriterOutlet) WriteEntry(entry logger.Entry) error {
	line, err := h.formatter.Format(&entry)
	if err != nil {
		return err
	}
	_, err = h.writer.Write(append(line, '\n'))
	return err
}

var errTCPOutletCongested = errors.New("log collector unreachable or too slow, entry dropped")

// TCPOutlet ships formatted entries to a remote log collector from a
// background goroutine. Entries written while the connection is down or
// congested are dropped and counted.
type TCPOutlet struct {
	formatter     EntryFormatter
	connect       func(ctx context.Context) (net.Conn, error)
	retryInterval time.Duration

	// one entry in flight while the previous one is being written
	entries chan *bytes.Buffer
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

func NewTCPOutlet(formatter EntryFormatter, network, address string, retryInterval time.Duration) *TCPOutlet {
	connect := func(ctx context.Context) (net.Conn, error) {
		var dialer net.Dialer
		return dialer.DialContext(ctx, network, address)
	}
	return newTCPOutlet(formatter, connect, retryInterval)
}

func newTCPOutlet(formatter EntryFormatter, connect func(ctx context.Context) (net.Conn, error), retryInterval time.Duration) *TCPOutlet {
	o := &TCPOutlet{
		formatter:     formatter,
		connect:       connect,
		retryInterval: retryInterval,
		entries:       make(chan *bytes.Buffer, 1),
		done:          make(chan struct{}),
	}
	go o.outLoop()
	return o
}

// Dropped returns the number of entries discarded so far.
func (h *TCPOutlet) Dropped() int64 { return h.dropped.Load() }

// Close stops accepting entries, flushes the pending one if the collector is
// reachable and waits for the background goroutine to exit.
func (h *TCPOutlet) Close() error {
	h.closeOnce.Do(func() { close(h.entries) })
	<-h.done
	return nil
}

func (h *TCPOutlet) outLoop() {
	defer close(h.done)

	var retry time.Time
	var conn net.Conn
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	for msg := range h.entries {
		if conn == nil {
			time.Sleep(time.Until(retry))
			ctx, cancel := context.WithTimeout(context.Background(), h.retryInterval)
			c, err := h.connect(ctx)
			cancel()
			if err != nil {
				retry = time.Now().Add(h.retryInterval)
				h.dropped.Add(1)
				continue
			}
			conn = c
		}
		err := conn.SetWriteDeadline(time.Now().Add(h.retryInterval))
		if err == nil {
			_, err = io.Copy(conn, msg)
		}
		if err != nil {
			retry = time.Now().Add(h.retryInterval)
			h.dropped.Add(1)
			conn.Close()
			conn = nil
		}
	}
}

func (h *TCPOutlet) WriteEntry(e logger.Entry) (err error) {
	line, err := h.formatter.Format(&e)
	if err != nil {
		return err
	}
	buf := bytes.NewBuffer(append(line, '\n'))

	defer func() {
		// send on closed channel
		if recover() != nil {
			err = errors.New("outlet closed")
		}
	}()
	select {
	case h.entries <- buf:
		return nil
	default:
		h.dropped.Add(1)
		return errTCPOutletCongested
	}
}

var syslogPriorities = map[logger.Level]func(w *syslog.Writer, m string) error{
	logger.Debug: (*syslog.Writer).Debug,
	logger.Info:  (*syslog.Writer).Info,
	logger.Warn:  (*syslog.Writer).Warning,
	logger.Error: (*syslog.Writer).Err,
}

// SyslogOutlet writes to the local syslog daemon, reconnecting at most once
// per RetryInterval.
type SyslogOutlet struct {
	Formatter     EntryFormatter
	RetryInterval time.Duration
	Facility      syslog.Priority

	mtx                sync.Mutex
	writer             *syslog.Writer
	lastConnectAttempt time.Time
}

func (o *SyslogOutlet) WriteEntry(entry logger.Entry) error {
	msg, err := o.Formatter.Format(&entry)
	if err != nil {
		return err
	}

	o.mtx.Lock()
	defer o.mtx.Unlock()

	if o.writer == nil {
		if time.Since(o.lastConnectAttempt) < o.RetryInterval {
			return nil // not an error toward logger
		}
		o.lastConnectAttempt = time.Now()
		o.writer, err = syslog.New(o.Facility, "reqrep")
		if err != nil {
			o.writer = nil
			return err
		}
	}

	write, ok := syslogPriorities[entry.Level]
	if !ok {
		write = (*syslog.Writer).Err
	}
	return write(o.writer, string(msg))
}

func (o *SyslogOutlet) Close() error {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	if o.writer == nil {
		return nil
	}
	err := o.writer.Close()
	o.writer = nil
	return err
}
