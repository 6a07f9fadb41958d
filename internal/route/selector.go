package route

import (
	"sync"

	"github.com/obsidianlabs/rpc-proxy/internal/checks"
)

// RoundRobinSelector picks upstreams for primary dispatches and retry
// walks. The cursor advances exactly once per primary pick, whether or not
// the endpoint at the cursor is accepted, which spreads load across the
// healthy set.
type RoundRobinSelector struct {
	mu            sync.Mutex
	registry      *checks.Registry
	urls          []string
	cursor        int
	maxConcurrent int
}

func NewRoundRobinSelector(registry *checks.Registry, maxConcurrent int) *RoundRobinSelector {
	return &RoundRobinSelector{
		registry:      registry,
		urls:          registry.URLs(),
		maxConcurrent: maxConcurrent,
	}
}

// PrimaryPick returns the next upstream for a fresh request: the first
// healthy, under-capacity URL scanning forward from the cursor. When a full
// revolution accepts nothing, it falls back to the least-loaded endpoint
// regardless of health, so the request still goes somewhere. Returns ""
// only when no upstreams are configured.
func (s *RoundRobinSelector) PrimaryPick() string {
	if len(s.urls) == 0 {
		return ""
	}

	s.mu.Lock()
	start := s.cursor % len(s.urls)
	s.cursor++
	s.mu.Unlock()

	for i := range s.urls {
		url := s.urls[(start+i)%len(s.urls)]
		if s.registry.Eligible(url, s.maxConcurrent) {
			return url
		}
	}

	return s.registry.LeastLoaded()
}

// RetryPicks collects up to n alternative upstreams, walking forward from
// the position after failedURL. The primary cursor is not touched.
func (s *RoundRobinSelector) RetryPicks(failedURL string, n int) []string {
	if len(s.urls) < 2 || n < 1 {
		return nil
	}

	failedIndex := 0

	for i, url := range s.urls {
		if url == failedURL {
			failedIndex = i
			break
		}
	}

	picks := make([]string, 0, n)

	for i := 1; i < len(s.urls) && len(picks) < n; i++ {
		url := s.urls[(failedIndex+i)%len(s.urls)]
		if url != failedURL && s.registry.Eligible(url, s.maxConcurrent) {
			picks = append(picks, url)
		}
	}

	return picks
}

// CurrentIndex reports the cursor position, exposed by the health report.
func (s *RoundRobinSelector) CurrentIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.urls) == 0 {
		return 0
	}

	return s.cursor % len(s.urls)
}
