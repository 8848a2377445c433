package datagram

import "github.com/prometheus/client_golang/prometheus"

var prom struct {
	ServerRequests       *prometheus.CounterVec
	ServerIOErrors       *prometheus.CounterVec
	ServerHandlerSeconds *prometheus.HistogramVec
	ClientRequests       *prometheus.CounterVec
	ClientPeerMismatches *prometheus.CounterVec
}

func init() {
	prom.ServerRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reqrep",
		Subsystem: "datagram",
		Name:      "server_requests",
		Help:      "Number of datagrams handed to the handler",
	}, []string{"server"})
	prom.ServerIOErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reqrep",
		Subsystem: "datagram",
		Name:      "server_io_errors",
		Help:      "Number of failed receives and sends",
	}, []string{"server", "op"})
	prom.ServerHandlerSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reqrep",
		Subsystem: "datagram",
		Name:      "server_handler_seconds",
		Help:      "Time spent in the request handler",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
	}, []string{"server"})
	prom.ClientRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reqrep",
		Subsystem: "datagram",
		Name:      "client_requests",
		Help:      "Number of client requests by result",
	}, []string{"client", "result"})
	prom.ClientPeerMismatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reqrep",
		Subsystem: "datagram",
		Name:      "client_peer_mismatches",
		Help:      "Number of replies rejected because they came from an unexpected address",
	}, []string{"client"})
}

func PrometheusRegister(registry prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		prom.ServerRequests,
		prom.ServerIOErrors,
		prom.ServerHandlerSeconds,
		prom.ClientRequests,
		prom.ClientPeerMismatches,
	} {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}
