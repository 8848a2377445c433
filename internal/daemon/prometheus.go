package daemon

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reqrep/reqrep/internal/config"
	"github.com/reqrep/reqrep/internal/daemon/job"
	"github.com/reqrep/reqrep/internal/daemon/logging"
	"github.com/reqrep/reqrep/internal/logger"
	"github.com/reqrep/reqrep/internal/rpc/sockopt"
)

// prometheusJob serves /metrics and the daemon status at /status.
type prometheusJob struct {
	listen   string
	freeBind bool
	gatherer prometheus.Gatherer
	jobs     *jobs
}

func newPrometheusJobFromConfig(in *config.PrometheusMonitoring, gatherer prometheus.Gatherer, jobs *jobs) (*prometheusJob, error) {
	_, _, err := net.SplitHostPort(in.Listen)
	if err != nil {
		return nil, err
	}
	return &prometheusJob{
		listen:   in.Listen,
		freeBind: in.ListenFreeBind,
		gatherer: gatherer,
		jobs:     jobs,
	}, nil
}

func (j *prometheusJob) Name() string { return jobNamePrometheus }

func (j *prometheusJob) Status() *job.Status { return &job.Status{Type: job.TypeInternal} }

func (j *prometheusJob) RegisterMetrics(registerer prometheus.Registerer) error { return nil }

func (j *prometheusJob) Run(ctx context.Context) error {
	log := logging.LogSubsystem(job.GetLogger(ctx), logging.SubsysMonitoring)

	l, err := sockopt.ListenAddress(ctx, j.listen, sockopt.Options{ReuseAddr: true, FreeBind: j.freeBind})
	if err != nil {
		log.WithError(err).Error("cannot listen")
		return err
	}
	log.WithField("addr", l.Addr().String()).Info("serving metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(j.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", j.serveStatus)

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		server.Close()
	}()

	err = server.Serve(l)
	if err != nil && ctx.Err() == nil {
		log.WithError(err).Error("error while serving")
		return err
	}
	return nil
}

func (j *prometheusJob) serveStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(j.jobs.status()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// prometheusLogOutlet counts log entries per job and level.
type prometheusLogOutlet struct {
	entries *prometheus.CounterVec
}

var _ logger.Outlet = (*prometheusLogOutlet)(nil)

func newPrometheusLogOutlet() *prometheusLogOutlet {
	return &prometheusLogOutlet{
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reqrep",
			Subsystem: "daemon",
			Name:      "log_entries",
			Help:      "number of log entries per job and level",
		}, []string{"reqrep_job", "level"}),
	}
}

func (o *prometheusLogOutlet) WriteEntry(entry logger.Entry) error {
	jobFieldVal, ok := entry.Fields[logging.JobField].(string)
	if !ok {
		jobFieldVal = "_nojob"
	}
	o.entries.WithLabelValues(jobFieldVal, entry.Level.String()).Inc()
	return nil
}
