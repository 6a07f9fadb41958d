package checks

import (
	"sync"
	"time"

	"github.com/obsidianlabs/rpc-proxy/internal/metrics"
	"go.uber.org/zap"
)

const (
	// Three consecutive failures demote an endpoint; any successful
	// dispatch promotes it back.
	UnhealthyThreshold = 3

	latencyWindowSize = 100
)

// EndpointHealth is the per-upstream health record. One exists per
// configured URL for the lifetime of the process.
type EndpointHealth struct {
	URL                 string
	IsHealthy           bool
	ConsecutiveFailures int
	LastFailureAt       time.Time
	ActiveRequests      int
	TotalRequests       int64
	TotalFailures       int64
	AverageResponseTime time.Duration

	latencySamples []time.Duration
	latencyNext    int
}

func (e *EndpointHealth) recordLatency(latency time.Duration) {
	if len(e.latencySamples) < latencyWindowSize {
		e.latencySamples = append(e.latencySamples, latency)
	} else {
		e.latencySamples[e.latencyNext] = latency
		e.latencyNext = (e.latencyNext + 1) % latencyWindowSize
	}

	var sum time.Duration
	for _, sample := range e.latencySamples {
		sum += sample
	}

	e.AverageResponseTime = sum / time.Duration(len(e.latencySamples))
}

// Registry is the mutable table from upstream URL to its health record.
// All mutation happens on dispatch-related code paths under one lock; the
// critical sections are counter updates and ring appends.
type Registry struct {
	mu        sync.Mutex
	endpoints map[string]*EndpointHealth
	urls      []string
	logger    *zap.Logger
}

func NewRegistry(urls []string, logger *zap.Logger) *Registry {
	endpoints := make(map[string]*EndpointHealth, len(urls))
	for _, url := range urls {
		endpoints[url] = &EndpointHealth{
			URL:       url,
			IsHealthy: true,
		}
	}

	r := &Registry{
		endpoints: endpoints,
		urls:      append([]string(nil), urls...),
		logger:    logger,
	}
	metrics.HealthyEndpoints.Set(float64(len(urls)))

	return r
}

// URLs returns the configured upstreams in their stable selection order.
func (r *Registry) URLs() []string {
	return r.urls
}

func (r *Registry) RecordSuccess(url string, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	endpoint, ok := r.endpoints[url]
	if !ok {
		return
	}

	endpoint.TotalRequests++
	endpoint.ConsecutiveFailures = 0
	endpoint.recordLatency(latency)

	if !endpoint.IsHealthy {
		endpoint.IsHealthy = true
		r.logger.Info("Endpoint recovered.", zap.String("url", url))
		metrics.HealthyEndpoints.Inc()
	}
}

func (r *Registry) RecordFailure(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	endpoint, ok := r.endpoints[url]
	if !ok {
		return
	}

	endpoint.TotalRequests++
	endpoint.TotalFailures++
	endpoint.ConsecutiveFailures++
	endpoint.LastFailureAt = time.Now()

	if endpoint.IsHealthy && endpoint.ConsecutiveFailures >= UnhealthyThreshold {
		endpoint.IsHealthy = false
		r.logger.Warn("Endpoint marked unhealthy.",
			zap.String("url", url),
			zap.Int("consecutiveFailures", endpoint.ConsecutiveFailures))
		metrics.HealthyEndpoints.Dec()
	}
}

// BeginDispatch reserves an in-flight slot; called before the network send.
func (r *Registry) BeginDispatch(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if endpoint, ok := r.endpoints[url]; ok {
		endpoint.ActiveRequests++
	}
}

// EndDispatch releases the slot; called unconditionally on completion.
func (r *Registry) EndDispatch(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if endpoint, ok := r.endpoints[url]; ok && endpoint.ActiveRequests > 0 {
		endpoint.ActiveRequests--
	}
}

// ForceHealthy returns an endpoint to service, clearing its failure streak.
// Used by the recovery scanner after a successful probe.
func (r *Registry) ForceHealthy(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	endpoint, ok := r.endpoints[url]
	if !ok {
		return
	}

	endpoint.ConsecutiveFailures = 0

	if !endpoint.IsHealthy {
		endpoint.IsHealthy = true
		r.logger.Info("Endpoint force-healed.", zap.String("url", url))
		metrics.HealthyEndpoints.Inc()
	}
}

// Eligible reports whether an endpoint may take a primary or retry pick:
// healthy and below the per-endpoint concurrency cap.
func (r *Registry) Eligible(url string, maxConcurrent int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	endpoint, ok := r.endpoints[url]

	return ok && endpoint.IsHealthy && endpoint.ActiveRequests < maxConcurrent
}

// LeastLoaded returns the URL with the fewest in-flight dispatches,
// ignoring health. The selector falls back to it when every endpoint is
// unhealthy or saturated; proxying anyway beats deadlocking.
func (r *Registry) LeastLoaded() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best string

	bestActive := -1

	for _, url := range r.urls {
		endpoint := r.endpoints[url]
		if bestActive == -1 || endpoint.ActiveRequests < bestActive {
			best = url
			bestActive = endpoint.ActiveRequests
		}
	}

	return best
}

func (r *Registry) HealthyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0

	for _, endpoint := range r.endpoints {
		if endpoint.IsHealthy {
			count++
		}
	}

	return count
}

func (r *Registry) TotalActiveRequests() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0

	for _, endpoint := range r.endpoints {
		total += endpoint.ActiveRequests
	}

	return total
}

// Snapshot returns copies of every health record in configured order, for
// the health report and the recovery scanner.
func (r *Registry) Snapshot() []EndpointHealth {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make([]EndpointHealth, 0, len(r.urls))
	for _, url := range r.urls {
		endpoint := *r.endpoints[url]
		endpoint.latencySamples = nil
		snapshot = append(snapshot, endpoint)
	}

	return snapshot
}
