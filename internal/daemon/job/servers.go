package job

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/reqrep/reqrep/internal/config"
	"github.com/reqrep/reqrep/internal/daemon/logging"
	"github.com/reqrep/reqrep/internal/rpc"
	"github.com/reqrep/reqrep/internal/rpc/datagram"
	"github.com/reqrep/reqrep/internal/rpc/stream"
	"github.com/reqrep/reqrep/internal/status"
)

// registerShared registers collectors that are shared by all jobs of a kind.
func registerShared(register func(prometheus.Registerer) error, registerer prometheus.Registerer) error {
	err := register(registerer)
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		return nil
	}
	return err
}

type serverStatus struct {
	mtx     sync.Mutex
	addr    string
	reports func() []status.Report
}

func (s *serverStatus) set(addr string, reports func() []status.Report) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.addr = addr
	s.reports = reports
}

func (s *serverStatus) get() *ServerStatus {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	st := &ServerStatus{Addr: s.addr}
	if s.reports != nil {
		st.Reports = s.reports()
	}
	return st
}

type StreamJob struct {
	conf    *config.StreamServer
	handler rpc.Handler
	sink    status.Sink
	status  serverStatus
}

func newStreamJob(in *config.StreamServer, sink status.Sink) (*StreamJob, error) {
	h, err := HandlerFromConfig(in.Handler)
	if err != nil {
		return nil, err
	}
	return &StreamJob{conf: in, handler: h, sink: sink}, nil
}

func (j *StreamJob) Name() string { return j.conf.Name }

func (j *StreamJob) Status() *Status {
	return &Status{Type: TypeStream, JobSpecific: j.status.get()}
}

func (j *StreamJob) RegisterMetrics(registerer prometheus.Registerer) error {
	return registerShared(stream.PrometheusRegister, registerer)
}

func (j *StreamJob) Run(ctx context.Context) error {
	log := getSubsystemLogger(ctx, logging.SubsysStream)

	s := stream.NewServer(
		rpc.WithName(j.conf.Name),
		rpc.WithHandler(j.handler),
		rpc.WithSink(j.sink),
		rpc.WithLogger(log),
		rpc.WithIOTimeout(j.conf.IOTimeout),
	)
	if j.conf.IgnoreSigPipe {
		s.EnableIgnoreSigPipe()
	}
	if err := s.Configure(j.conf.Port, j.conf.MaxMessageSize, j.conf.BandwidthDelayKB()); err != nil {
		return err
	}
	j.status.set(s.Addr().String(), s.Status)

	errc := make(chan error, 1)
	go func() { errc <- s.Serve() }()

	select {
	case <-ctx.Done():
		log.WithError(ctx.Err()).Info("context done, closing server")
		if err := s.Close(); err != nil {
			log.WithError(err).Warn("error closing server")
		}
		<-errc
		return nil
	case err := <-errc:
		s.Close()
		return err
	}
}

type DatagramJob struct {
	conf    *config.DatagramServer
	handler rpc.Handler
	sink    status.Sink
	status  serverStatus
}

func newDatagramJob(in *config.DatagramServer, sink status.Sink) (*DatagramJob, error) {
	h, err := HandlerFromConfig(in.Handler)
	if err != nil {
		return nil, err
	}
	return &DatagramJob{conf: in, handler: h, sink: sink}, nil
}

func (j *DatagramJob) Name() string { return j.conf.Name }

func (j *DatagramJob) Status() *Status {
	return &Status{Type: TypeDatagram, JobSpecific: j.status.get()}
}

func (j *DatagramJob) RegisterMetrics(registerer prometheus.Registerer) error {
	return registerShared(datagram.PrometheusRegister, registerer)
}

func (j *DatagramJob) Run(ctx context.Context) error {
	log := getSubsystemLogger(ctx, logging.SubsysDatagram)

	s := datagram.NewServer(
		rpc.WithName(j.conf.Name),
		rpc.WithHandler(j.handler),
		rpc.WithSink(j.sink),
		rpc.WithLogger(log),
	)
	if err := s.Configure(j.conf.Port, j.conf.MaxMessageSize, j.conf.BandwidthDelayKB()); err != nil {
		return err
	}
	defer s.Close()
	j.status.set(s.Addr().String(), s.Status)

	err := s.Serve(ctx)
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}
