package route

import (
	"github.com/obsidianlabs/rpc-proxy/internal/cache"
	"github.com/obsidianlabs/rpc-proxy/internal/checks"
	"github.com/obsidianlabs/rpc-proxy/internal/client"
	"github.com/obsidianlabs/rpc-proxy/internal/config"
	"github.com/obsidianlabs/rpc-proxy/internal/jsonrpc"
	"github.com/obsidianlabs/rpc-proxy/internal/metrics"
	"github.com/obsidianlabs/rpc-proxy/internal/stats"
	"go.uber.org/zap"
)

// Router is the dispatch core: chain-identity short-circuits, the response
// cache, and the primary-plus-retries orchestration over the selector and
// dispatcher. The bool result reports whether the final response is an
// endpoint-failure-class error.
type Router interface {
	Route(request *jsonrpc.SingleRequestBody) (*jsonrpc.SingleResponseBody, bool)
	CurrentIndex() int
}

type ProxyRouter struct {
	config     *config.Config
	selector   *RoundRobinSelector
	dispatcher *Dispatcher
	rpcCache   *cache.RPCCache
	stats      *stats.Stats
	logger     *zap.Logger
}

func NewRouter(
	cfg *config.Config,
	registry *checks.Registry,
	httpClient client.HTTPClient,
	rpcCache *cache.RPCCache,
	proxyStats *stats.Stats,
	logger *zap.Logger,
) Router {
	return &ProxyRouter{
		config:     cfg,
		selector:   NewRoundRobinSelector(registry, cfg.MaxConcurrentRequests),
		dispatcher: NewDispatcher(httpClient, registry, cfg, logger),
		rpcCache:   rpcCache,
		stats:      proxyStats,
		logger:     logger,
	}
}

func (r *ProxyRouter) CurrentIndex() int {
	return r.selector.CurrentIndex()
}

func (r *ProxyRouter) Route(request *jsonrpc.SingleRequestBody) (*jsonrpc.SingleResponseBody, bool) {
	r.stats.RecordRequest()
	metrics.RPCRequestsTotal.WithLabelValues(request.Method).Inc()

	if respBody := r.localShortcut(request); respBody != nil {
		r.stats.RecordSuccess()
		return respBody, false
	}

	respBody, isEndpointFailure := r.resolve(request)

	switch {
	case respBody.Error == nil:
		r.stats.RecordSuccess()
	case isEndpointFailure:
		r.stats.RecordProxyError()
	default:
		// Delivered application-level RPC errors are successes from the
		// proxy's perspective.
		r.stats.RecordRPCError()
	}

	return respBody, isEndpointFailure
}

// localShortcut answers chain-identity methods from configuration, with no
// upstream traffic.
func (r *ProxyRouter) localShortcut(request *jsonrpc.SingleRequestBody) *jsonrpc.SingleResponseBody {
	switch request.Method {
	case "eth_chainId":
		return jsonrpc.NewResultResponse(request.ID, jsonrpc.MustMarshal(r.config.ChainIDHex()))
	case "net_version":
		return jsonrpc.NewResultResponse(request.ID, jsonrpc.MustMarshal(r.config.NetVersion()))
	default:
		return nil
	}
}

func (r *ProxyRouter) resolve(request *jsonrpc.SingleRequestBody) (*jsonrpc.SingleResponseBody, bool) {
	if r.rpcCache == nil || !r.rpcCache.ShouldCacheMethod(request.Method) {
		return r.proxyWithRetries(request)
	}

	var (
		origin       *jsonrpc.SingleResponseBody
		originFailed bool
	)

	result, err := r.rpcCache.HandleRequest(*request, func() (*jsonrpc.SingleResponseBody, error) {
		origin, originFailed = r.proxyWithRetries(request)
		return origin, nil
	})

	// The origin was consulted: either a fresh fill or an uncacheable
	// response. Return it directly.
	if origin != nil {
		return origin, originFailed
	}

	if err != nil || result == nil {
		r.logger.Warn("Response cache error, proxying directly.", zap.String("method", request.Method), zap.Error(err))
		return r.proxyWithRetries(request)
	}

	r.logger.Debug("Cache hit.", zap.String("method", request.Method))
	metrics.CacheHitsTotal.Inc()

	return jsonrpc.NewResultResponse(request.ID, result), false
}

// proxyWithRetries is the retry orchestration: one primary attempt, then,
// if that attempt failed at the endpoint level, up to MaxRetryAttempts
// alternates tried in turn until one returns a response without an error.
// An application RPC error from the primary is returned as-is; alternative
// endpoints would give the same answer.
func (r *ProxyRouter) proxyWithRetries(request *jsonrpc.SingleRequestBody) (*jsonrpc.SingleResponseBody, bool) {
	primary := r.selector.PrimaryPick()
	if primary == "" {
		return jsonrpc.NewErrorResponse(request.ID, jsonrpc.InternalErrorCode, "Internal error", "no upstream endpoints configured"), true
	}

	r.logger.Debug("Routing request to upstream.", zap.String("url", primary), zap.String("method", request.Method))

	respBody, isEndpointFailure := r.dispatcher.Dispatch(request, primary)
	if respBody.Error == nil || !isEndpointFailure || r.config.MaxRetryAttempts < 1 {
		return respBody, isEndpointFailure
	}

	for _, url := range r.selector.RetryPicks(primary, r.config.MaxRetryAttempts) {
		r.logger.Debug("Retrying request on alternate upstream.", zap.String("url", url), zap.String("method", request.Method))

		respBody, isEndpointFailure = r.dispatcher.Dispatch(request, url)
		if respBody.Error == nil {
			break
		}
	}

	return respBody, isEndpointFailure
}
