package checks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/obsidianlabs/rpc-proxy/internal/classify"
	"github.com/obsidianlabs/rpc-proxy/internal/client"
	"github.com/obsidianlabs/rpc-proxy/internal/config"
	"go.uber.org/zap"
)

const (
	// An unhealthy endpoint is probed only after this much quiet time
	// since its last recorded failure.
	recoveryQuiescence = 60 * time.Second

	probeTimeout = 5 * time.Second
)

// RecoveryScanner periodically probes unhealthy endpoints with a minimal
// eth_blockNumber request and returns them to service on success. This is
// the active half of recovery; the passive half is any regular dispatch
// succeeding against an endpoint the selector fell back to.
type RecoveryScanner struct {
	registry     *Registry
	clientGetter client.EthClientGetter
	config       *config.Config
	interval     time.Duration
	logger       *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

func NewRecoveryScanner(registry *Registry, clientGetter client.EthClientGetter, cfg *config.Config, logger *zap.Logger) *RecoveryScanner {
	return &RecoveryScanner{
		registry:     registry,
		clientGetter: clientGetter,
		config:       cfg,
		interval:     cfg.RecoveryInterval,
		logger:       logger,
		stop:         make(chan struct{}),
	}
}

func (s *RecoveryScanner) Start() {
	s.logger.Info("Starting recovery scanner.", zap.Duration("interval", s.interval))

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.scanOnce()
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *RecoveryScanner) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

func (s *RecoveryScanner) scanOnce() {
	for _, endpoint := range s.registry.Snapshot() {
		if endpoint.IsHealthy || time.Since(endpoint.LastFailureAt) < recoveryQuiescence {
			continue
		}

		s.probe(endpoint.URL)
	}
}

func (s *RecoveryScanner) probe(url string) {
	var credentials *config.BasicAuthConfig
	if upstream := s.config.UpstreamFor(url); upstream != nil {
		credentials = &upstream.BasicAuth
	}

	probeClient, err := s.clientGetter(url, credentials)
	if err != nil {
		s.logger.Debug("Recovery probe could not connect.", zap.String("url", url), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	_, err = probeClient.BlockNumber(ctx)
	if err == nil {
		s.logger.Info("Recovery probe succeeded.", zap.String("url", url))
		s.registry.ForceHealthy(url)

		return
	}

	// Only an RPC-level error means the endpoint answered; anything else
	// (dial failure, timeout, HTTP error) leaves it unhealthy. An RPC
	// error that is not an endpoint failure still proves the endpoint is
	// serving requests.
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && !classify.IsEndpointFailure(err) {
		s.logger.Info("Recovery probe got a non-endpoint-failure RPC error, recovering.", zap.String("url", url), zap.Error(err))
		s.registry.ForceHealthy(url)

		return
	}

	s.logger.Debug("Recovery probe failed.", zap.String("url", url), zap.Error(err))
}
