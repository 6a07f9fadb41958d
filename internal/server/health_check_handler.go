package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/obsidianlabs/rpc-proxy/internal/cache"
	"github.com/obsidianlabs/rpc-proxy/internal/checks"
	conf "github.com/obsidianlabs/rpc-proxy/internal/config"
	"github.com/obsidianlabs/rpc-proxy/internal/route"
	"github.com/obsidianlabs/rpc-proxy/internal/stats"
	"go.uber.org/zap"
)

type HealthCheckHandler struct {
	registry *checks.Registry
	stats    *stats.Stats
	rpcCache *cache.RPCCache
	router   route.Router
	config   *conf.Config
	logger   *zap.Logger
}

type endpointReport struct {
	URL                 string     `json:"url"`
	IsHealthy           bool       `json:"isHealthy"`
	ActiveRequests      int        `json:"activeRequests"`
	TotalRequests       int64      `json:"totalRequests"`
	TotalFailures       int64      `json:"totalFailures"`
	FailureRate         float64    `json:"failureRate"`
	AverageResponseTime float64    `json:"averageResponseTime"`
	LastFailure         *time.Time `json:"lastFailure"`
}

type cacheReport struct {
	Enabled bool  `json:"enabled"`
	Size    int   `json:"size"`
	TTL     int64 `json:"ttl"`
}

type configReport struct {
	MaxConcurrentRequests int   `json:"maxConcurrentRequests"`
	RequestTimeout        int64 `json:"requestTimeout"`
	MaxRequestSize        int64 `json:"maxRequestSize"`
}

type healthReport struct {
	Status              string           `json:"status"`
	Stats               stats.Snapshot   `json:"stats"`
	RPCURLs             []string         `json:"rpcUrls"`
	HealthyEndpoints    int              `json:"healthyEndpoints"`
	TotalActiveRequests int              `json:"totalActiveRequests"`
	CurrentIndex        int              `json:"currentIndex"`
	Endpoints           []endpointReport `json:"endpoints"`
	Cache               cacheReport      `json:"cache"`
	Config              configReport     `json:"config"`
}

func (h *HealthCheckHandler) ServeHTTP(writer http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(writer, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	report := h.buildReport()

	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(writer).Encode(report); err != nil {
		h.logger.Error("Failed to write health report.", zap.Error(err))
	}
}

func (h *HealthCheckHandler) buildReport() healthReport {
	snapshot := h.registry.Snapshot()
	endpoints := make([]endpointReport, 0, len(snapshot))

	for _, endpoint := range snapshot {
		failureRate := 0.0
		if endpoint.TotalRequests > 0 {
			failureRate = float64(endpoint.TotalFailures) / float64(endpoint.TotalRequests)
		}

		var lastFailure *time.Time
		if !endpoint.LastFailureAt.IsZero() {
			at := endpoint.LastFailureAt
			lastFailure = &at
		}

		endpoints = append(endpoints, endpointReport{
			URL:                 endpoint.URL,
			IsHealthy:           endpoint.IsHealthy,
			ActiveRequests:      endpoint.ActiveRequests,
			TotalRequests:       endpoint.TotalRequests,
			TotalFailures:       endpoint.TotalFailures,
			FailureRate:         failureRate,
			AverageResponseTime: float64(endpoint.AverageResponseTime.Milliseconds()),
			LastFailure:         lastFailure,
		})
	}

	healthyEndpoints := h.registry.HealthyCount()

	status := "healthy"
	if healthyEndpoints == 0 {
		status = "degraded"
	}

	cacheState := cacheReport{Enabled: false}
	if h.rpcCache != nil {
		cacheState = cacheReport{
			Enabled: true,
			Size:    h.rpcCache.Size(),
			TTL:     h.rpcCache.TTL().Milliseconds(),
		}
	}

	return healthReport{
		Status:              status,
		Stats:               h.stats.Snapshot(),
		RPCURLs:             h.config.RPCURLs(),
		HealthyEndpoints:    healthyEndpoints,
		TotalActiveRequests: h.registry.TotalActiveRequests(),
		CurrentIndex:        h.router.CurrentIndex(),
		Endpoints:           endpoints,
		Cache:               cacheState,
		Config: configReport{
			MaxConcurrentRequests: h.config.MaxConcurrentRequests,
			RequestTimeout:        h.config.RequestTimeout.Milliseconds(),
			MaxRequestSize:        h.config.MaxRequestSize,
		},
	}
}
