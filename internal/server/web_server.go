package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/obsidianlabs/rpc-proxy/internal/cache"
	"github.com/obsidianlabs/rpc-proxy/internal/checks"
	"github.com/obsidianlabs/rpc-proxy/internal/client"
	conf "github.com/obsidianlabs/rpc-proxy/internal/config"
	"github.com/obsidianlabs/rpc-proxy/internal/route"
	"github.com/obsidianlabs/rpc-proxy/internal/stats"
	"go.uber.org/zap"
)

const defaultReadHeaderTimeout = 10 * time.Second

type RPCServer struct {
	httpServer *http.Server
	scanner    *checks.RecoveryScanner
}

func NewRPCServer(cfg conf.Config, logger *zap.Logger) *RPCServer {
	dependencies := wireDependencies(&cfg, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           dependencies.mux,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}

	return &RPCServer{
		httpServer: httpServer,
		scanner:    dependencies.scanner,
	}
}

type dependencyContainer struct {
	mux     *http.ServeMux
	router  route.Router
	scanner *checks.RecoveryScanner
}

func wireDependencies(cfg *conf.Config, logger *zap.Logger) *dependencyContainer {
	registry := checks.NewRegistry(cfg.RPCURLs(), logger)
	proxyStats := stats.New()

	var rpcCache *cache.RPCCache
	if cfg.EnableCache {
		rpcCache = cache.NewRPCCache(cfg.CacheTTL, cfg.RedisURL)
	}

	httpClient := &http.Client{}
	router := route.NewRouter(cfg, registry, httpClient, rpcCache, proxyStats, logger)
	scanner := checks.NewRecoveryScanner(registry, client.NewEthClient, cfg, logger)

	rpcHandler := &RPCHandler{
		router: router,
		config: cfg,
		logger: logger,
	}
	healthCheckHandler := &HealthCheckHandler{
		registry: registry,
		stats:    proxyStats,
		rpcCache: rpcCache,
		router:   router,
		config:   cfg,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.Handle("/rpc", rpcHandler)
	mux.Handle("/health", healthCheckHandler)
	mux.HandleFunc("/", func(writer http.ResponseWriter, req *http.Request) {
		http.Error(writer, "Not found", http.StatusNotFound)
	})

	return &dependencyContainer{
		mux:     mux,
		router:  router,
		scanner: scanner,
	}
}

func (s *RPCServer) Start() error {
	s.scanner.Start()
	return s.httpServer.ListenAndServe()
}

func (s *RPCServer) Shutdown() error {
	s.scanner.Stop()
	return s.httpServer.Shutdown(context.Background())
}
