package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	MetricsNamespace         = "rpc_proxy"
	defaultReadHeaderTimeout = 10 * time.Second

	// Error kind labels.
	ErrorKindTimeout   = "timeout"
	ErrorKindTransport = "transport"
	ErrorKindHTTP      = "http_status"
	ErrorKindDecode    = "decode"
	ErrorKindUpstream  = "upstream_error"
)

var (
	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "server",
			Name:      "rpc_requests",
			Help:      "Count of RPC requests accepted by the proxy.",
		},
		[]string{"method"},
	)

	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "dispatch",
			Name:      "upstream_requests",
			Help:      "Count of dispatch attempts per upstream.",
		},
		[]string{"url", "method"},
	)

	UpstreamErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "dispatch",
			Name:      "upstream_errors",
			Help:      "Count of dispatch attempts that failed, by failure kind.",
		},
		[]string{"url", "kind"},
	)

	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: "dispatch",
			Name:      "upstream_duration_seconds",
			Help:      "Latency of dispatch attempts per upstream.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"url"},
	)

	HealthyEndpoints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Subsystem: "health",
			Name:      "healthy_endpoints",
			Help:      "Number of upstreams currently considered healthy.",
		},
	)

	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: "cache",
			Name:      "hits",
			Help:      "Count of responses served from the response cache.",
		},
	)
)

func NewMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
}
