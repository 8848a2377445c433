package rpc

import (
	"time"

	"github.com/reqrep/reqrep/internal/logger"
	"github.com/reqrep/reqrep/internal/status"
	"github.com/reqrep/reqrep/internal/util/envconst"
)

// Options collects the settings shared by the stream and datagram servers
// and clients. Fields that do not apply to a given endpoint are ignored.
type Options struct {
	// Name labels log entries and metrics.
	Name string
	// Handler answers requests on servers. Clients ignore it.
	Handler Handler
	// Sink receives a copy of every status report in addition to the
	// endpoint's own ring.
	Sink status.Sink
	Log  logger.Logger
	// IOTimeout bounds each read and write a stream server performs on an
	// accepted connection. 0 disables it.
	IOTimeout time.Duration
	// DialTimeout bounds connection setup of stream clients.
	DialTimeout time.Duration
	// WriteTimeout bounds each request write of a stream client. Reads are
	// bounded by the reply timeout passed to Configure.
	WriteTimeout time.Duration
}

type Option func(*Options)

func WithName(name string) Option             { return func(o *Options) { o.Name = name } }
func WithHandler(h Handler) Option            { return func(o *Options) { o.Handler = h } }
func WithSink(s status.Sink) Option           { return func(o *Options) { o.Sink = s } }
func WithLogger(l logger.Logger) Option       { return func(o *Options) { o.Log = l } }
func WithIOTimeout(d time.Duration) Option    { return func(o *Options) { o.IOTimeout = d } }
func WithDialTimeout(d time.Duration) Option  { return func(o *Options) { o.DialTimeout = d } }
func WithWriteTimeout(d time.Duration) Option { return func(o *Options) { o.WriteTimeout = d } }

func DefaultOptions() Options {
	return Options{
		Name:         "default",
		Handler:      NoReply,
		Sink:         status.Discard,
		Log:          logger.NewNullLogger(),
		IOTimeout:    envconst.Duration("REQREP_IO_TIMEOUT", 10*time.Second),
		DialTimeout:  envconst.Duration("REQREP_DIAL_TIMEOUT", 10*time.Second),
		WriteTimeout: envconst.Duration("REQREP_WRITE_TIMEOUT", 10*time.Second),
	}
}

// ApplyOptions returns DefaultOptions modified by opts. A nil Handler, Sink
// or Log set through an option falls back to the default.
func ApplyOptions(opts []Option) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	def := DefaultOptions()
	if o.Handler == nil {
		o.Handler = def.Handler
	}
	if o.Sink == nil {
		o.Sink = def.Sink
	}
	if o.Log == nil {
		o.Log = def.Log
	}
	return o
}
