// Package daemon runs the servers configured in the config file until it
// receives SIGINT or SIGTERM.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/reqrep/reqrep/internal/config"
	"github.com/reqrep/reqrep/internal/daemon/job"
	"github.com/reqrep/reqrep/internal/daemon/logging"
	"github.com/reqrep/reqrep/internal/logger"
	"github.com/reqrep/reqrep/internal/status"
	"github.com/reqrep/reqrep/internal/version"
)

func Run(ctx context.Context, conf *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	outlets, err := logging.OutletsFromConfig(*conf.Global.Logging)
	if err != nil {
		return errors.Wrap(err, "cannot build logging from config")
	}
	defer outlets.Close()
	logEntries := newPrometheusLogOutlet()
	outlets.Add(logEntries, logger.Debug)

	log := logger.NewLogger(outlets, 1*time.Second)
	log.Info(version.NewInformation().String())

	return run(ctx, conf, log, logEntries)
}

// run is Run without the process-wide setup of signals and log outlets.
func run(ctx context.Context, conf *config.Config, log logger.Logger, logEntries *prometheusLogOutlet) error {
	ring, err := statusRingFromConfig(conf.Global.Status)
	if err != nil {
		return errors.Wrap(err, "cannot build status ring from config")
	}
	sink := status.Tee(ring, status.LoggerSink{Log: logging.LogSubsystem(log, logging.SubsysStatus)})

	confJobs, err := job.JobsFromConfig(conf, sink)
	if err != nil {
		return errors.Wrap(err, "cannot build jobs from config")
	}
	for _, j := range confJobs {
		if IsInternalJobName(j.Name()) {
			return errors.Errorf("server name %q is reserved for internal jobs", j.Name())
		}
	}

	// per-daemon registry so that several daemons can share a process in tests
	registry := prometheus.NewRegistry()
	if err := version.PrometheusRegister(registry); err != nil {
		return err
	}
	if logEntries != nil {
		if err := registry.Register(logEntries.entries); err != nil {
			return err
		}
	}

	jobs := newJobs(log, registry, ring)
	log = log.WithField("instance", jobs.instance)

	for i, jc := range conf.Global.Monitoring {
		var (
			j   job.Job
			err error
		)
		switch v := jc.Ret.(type) {
		case *config.PrometheusMonitoring:
			j, err = newPrometheusJobFromConfig(v, registry, jobs)
		default:
			return errors.Errorf("unknown monitoring job #%d (type %T)", i, v)
		}
		if err != nil {
			return errors.Wrapf(err, "cannot build monitoring job #%d", i)
		}
		if err := jobs.start(ctx, j, true); err != nil {
			jobs.stop()
			jobs.wait()
			return err
		}
	}

	log.Info("starting daemon")
	for _, j := range confJobs {
		if err := jobs.start(ctx, j, false); err != nil {
			jobs.stop()
			jobs.wait()
			return err
		}
	}

	err = jobs.wait()
	jobs.stop()
	if ctx.Err() != nil {
		log.WithError(ctx.Err()).Info("context finished")
	}
	log.Info("daemon exiting")
	return err
}

func statusRingFromConfig(in *config.GlobalStatus) (*status.Ring, error) {
	var mode status.Mode
	switch in.Mode {
	case "circular":
		mode = status.Circular
	case "linear":
		mode = status.Linear
	default:
		return nil, errors.Errorf("invalid status mode %q", in.Mode)
	}
	return status.NewRing(in.Capacity, mode, in.MaxMessageLen)
}

// Status is what the /status endpoint serves.
type Status struct {
	Jobs   map[string]*job.Status
	Global GlobalStatus
}

type GlobalStatus struct {
	// Instance changes whenever the daemon restarts.
	Instance string
	Version  *version.Information
	// Reports of all servers, in arrival order.
	Reports []status.Report
	// Overflow counts reports that no longer fit into the ring.
	Overflow int
}

type jobs struct {
	instance string
	log      logger.Logger
	registry prometheus.Registerer
	ring     *status.Ring

	eg     *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	// m protects all fields below it
	m    sync.RWMutex
	jobs map[string]job.Job
}

func newJobs(log logger.Logger, registry prometheus.Registerer, ring *status.Ring) *jobs {
	return &jobs{
		instance: uuid.NewString(),
		log:      log,
		registry: registry,
		ring:     ring,
		jobs:     make(map[string]job.Job),
	}
}

// wait blocks until all jobs have exited and returns the first job error.
func (s *jobs) wait() error {
	s.m.RLock()
	eg := s.eg
	s.m.RUnlock()
	if eg == nil {
		return nil
	}
	return eg.Wait()
}

func (s *jobs) stop() {
	s.m.RLock()
	defer s.m.RUnlock()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *jobs) status() *Status {
	s.m.RLock()
	defer s.m.RUnlock()

	type res struct {
		name   string
		status *job.Status
	}
	var wg sync.WaitGroup
	c := make(chan res, len(s.jobs))
	for name, j := range s.jobs {
		wg.Add(1)
		go func(name string, j job.Job) {
			defer wg.Done()
			c <- res{name: name, status: j.Status()}
		}(name, j)
	}
	wg.Wait()
	close(c)
	ret := &Status{
		Jobs: make(map[string]*job.Status, len(s.jobs)),
		Global: GlobalStatus{
			Instance: s.instance,
			Version:  version.NewInformation(),
			Reports:  s.ring.Reports(),
			Overflow: s.ring.Overflow(),
		},
	}
	for res := range c {
		ret.Jobs[res.name] = res.status
	}
	return ret
}

const (
	jobNamePrometheus = "_prometheus"
)

func IsInternalJobName(s string) bool {
	return strings.HasPrefix(s, "_")
}

// start runs j until ctx is done. A job that fails cancels all other jobs.
func (s *jobs) start(ctx context.Context, j job.Job, internal bool) error {
	s.m.Lock()
	defer s.m.Unlock()

	if s.eg == nil {
		var egCtx context.Context
		s.ctx, s.cancel = context.WithCancel(ctx)
		s.eg, egCtx = errgroup.WithContext(s.ctx)
		s.ctx = egCtx
	}

	jobName := j.Name()
	if !internal && IsInternalJobName(jobName) {
		panic(fmt.Sprintf("internal job name used for non-internal job %s", jobName))
	}
	if internal && !IsInternalJobName(jobName) {
		panic(fmt.Sprintf("internal job does not use internal job name %s", jobName))
	}
	if _, ok := s.jobs[jobName]; ok {
		panic(fmt.Sprintf("duplicate job name %s", jobName))
	}

	if err := j.RegisterMetrics(s.registry); err != nil {
		return errors.Wrapf(err, "cannot register metrics of job %q", jobName)
	}
	s.jobs[jobName] = j

	log := s.log.WithField(logging.JobField, jobName)
	jobCtx := job.WithLogger(s.ctx, log)
	s.eg.Go(func() error {
		log.Info("starting job")
		err := j.Run(jobCtx)
		if err != nil {
			log.WithError(err).Error("job exited with error")
			return errors.Wrapf(err, "job %q", jobName)
		}
		log.Info("job exited")
		return nil
	})
	return nil
}
