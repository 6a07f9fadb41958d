package stats

import (
	"sync"
	"time"
)

const rpsWindow = 10 * time.Second

// Stats holds the process-lifetime counters reported by /health.
//
// "Successful" counts requests whose response the proxy delivered, including
// application-level RPC errors passed through from upstreams; "failed" counts
// only proxy-attributable failures.
type Stats struct {
	mu                 sync.Mutex
	startedAt          time.Time
	totalRequests      int64
	successfulRequests int64
	failedRequests     int64
	rpcErrors          int64
	proxyErrors        int64
	window             []time.Time
}

func New() *Stats {
	return &Stats{startedAt: time.Now()}
}

// RecordRequest counts a request entering the dispatch core and feeds the
// requests-per-second window.
func (s *Stats) RecordRequest() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalRequests++
	now := time.Now()
	s.window = append(s.window, now)
	s.prune(now)
}

func (s *Stats) RecordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.successfulRequests++
}

// RecordRPCError counts a delivered application-level RPC error. The
// delivery itself is a success from the proxy's perspective.
func (s *Stats) RecordRPCError() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.successfulRequests++
	s.rpcErrors++
}

func (s *Stats) RecordProxyError() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failedRequests++
	s.proxyErrors++
}

// prune drops window entries older than the RPS horizon. Caller holds the lock.
func (s *Stats) prune(now time.Time) {
	cutoff := now.Add(-rpsWindow)

	firstLive := 0
	for firstLive < len(s.window) && s.window[firstLive].Before(cutoff) {
		firstLive++
	}

	if firstLive > 0 {
		s.window = append(s.window[:0], s.window[firstLive:]...)
	}
}

type Snapshot struct {
	TotalRequests      int64   `json:"totalRequests"`
	SuccessfulRequests int64   `json:"successfulRequests"`
	FailedRequests     int64   `json:"failedRequests"`
	RPCErrors          int64   `json:"rpcErrors"`
	ProxyErrors        int64   `json:"proxyErrors"`
	RequestsPerSecond  float64 `json:"requestsPerSecond"`
	UptimeSeconds      float64 `json:"uptime"`
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.prune(now)

	return Snapshot{
		TotalRequests:      s.totalRequests,
		SuccessfulRequests: s.successfulRequests,
		FailedRequests:     s.failedRequests,
		RPCErrors:          s.rpcErrors,
		ProxyErrors:        s.proxyErrors,
		RequestsPerSecond:  float64(len(s.window)) / rpsWindow.Seconds(),
		UptimeSeconds:      now.Sub(s.startedAt).Seconds(),
	}
}
