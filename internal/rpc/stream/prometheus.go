package stream

import "github.com/prometheus/client_golang/prometheus"

var prom struct {
	ServerAccepted       *prometheus.CounterVec
	ServerOpenConns      *prometheus.GaugeVec
	ServerRequests       *prometheus.CounterVec
	ServerOversized      *prometheus.CounterVec
	ServerIOErrors       *prometheus.CounterVec
	ServerHandlerSeconds *prometheus.HistogramVec
	ClientReconnects     *prometheus.CounterVec
	ClientRequests       *prometheus.CounterVec
}

func init() {
	prom.ServerAccepted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reqrep",
		Subsystem: "stream",
		Name:      "server_accepted_connections",
		Help:      "Number of connections accepted by the stream server",
	}, []string{"server"})
	prom.ServerOpenConns = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "reqrep",
		Subsystem: "stream",
		Name:      "server_open_connections",
		Help:      "Number of connections currently watched by the stream server",
	}, []string{"server"})
	prom.ServerRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reqrep",
		Subsystem: "stream",
		Name:      "server_requests",
		Help:      "Number of requests handed to the handler",
	}, []string{"server"})
	prom.ServerOversized = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reqrep",
		Subsystem: "stream",
		Name:      "server_oversized_messages",
		Help:      "Number of requests dropped because they exceeded the maximum message size",
	}, []string{"server"})
	prom.ServerIOErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reqrep",
		Subsystem: "stream",
		Name:      "server_io_errors",
		Help:      "Number of connections dropped due to I/O errors",
	}, []string{"server", "op"})
	prom.ServerHandlerSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reqrep",
		Subsystem: "stream",
		Name:      "server_handler_seconds",
		Help:      "Time spent in the request handler",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
	}, []string{"server"})
	prom.ClientReconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reqrep",
		Subsystem: "stream",
		Name:      "client_reconnects",
		Help:      "Number of times a client re-established its connection before a request",
	}, []string{"client"})
	prom.ClientRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reqrep",
		Subsystem: "stream",
		Name:      "client_requests",
		Help:      "Number of client requests by result",
	}, []string{"client", "result"})
}

func PrometheusRegister(registry prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		prom.ServerAccepted,
		prom.ServerOpenConns,
		prom.ServerRequests,
		prom.ServerOversized,
		prom.ServerIOErrors,
		prom.ServerHandlerSeconds,
		prom.ClientReconnects,
		prom.ClientRequests,
	} {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}
