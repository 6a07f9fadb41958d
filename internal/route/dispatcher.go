package route

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/obsidianlabs/rpc-proxy/internal/checks"
	"github.com/obsidianlabs/rpc-proxy/internal/classify"
	"github.com/obsidianlabs/rpc-proxy/internal/client"
	"github.com/obsidianlabs/rpc-proxy/internal/config"
	"github.com/obsidianlabs/rpc-proxy/internal/jsonrpc"
	"github.com/obsidianlabs/rpc-proxy/internal/metrics"
	"go.uber.org/zap"
)

const (
	userAgent = "rpc-proxy/1.0"

	// Upstream error bodies quoted back in error data are capped; some
	// providers return entire HTML error pages.
	maxErrorDataLen = 256
)

// Dispatcher performs one forwarding attempt against one upstream. It never
// returns a Go error: every failure mode becomes a well-formed JSON-RPC
// error envelope. The second return value reports whether the attempt
// counted as an endpoint failure, which drives the retry policy.
type Dispatcher struct {
	httpClient client.HTTPClient
	registry   *checks.Registry
	config     *config.Config
	logger     *zap.Logger
}

func NewDispatcher(httpClient client.HTTPClient, registry *checks.Registry, cfg *config.Config, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		httpClient: httpClient,
		registry:   registry,
		config:     cfg,
		logger:     logger,
	}
}

func (d *Dispatcher) Dispatch(request *jsonrpc.SingleRequestBody, url string) (*jsonrpc.SingleResponseBody, bool) {
	d.registry.BeginDispatch(url)
	defer d.registry.EndDispatch(url)

	metrics.UpstreamRequestsTotal.WithLabelValues(url, request.Method).Inc()

	start := time.Now()

	bodyBytes, err := request.Encode()
	if err != nil {
		d.logger.Error("Could not serialize request.", zap.Any("request", request), zap.Error(err))
		return d.internalError(request, err.Error()), false
	}

	// Each attempt carries its own deadline, detached from the client
	// connection: a disconnecting client does not cancel upstream traffic.
	ctx, cancel := context.WithTimeout(context.Background(), d.config.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		d.logger.Error("Could not create upstream request.", zap.String("url", url), zap.Error(err))
		return d.internalError(request, err.Error()), false
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	if upstream := d.config.UpstreamFor(url); upstream != nil && upstream.BasicAuth.Username != "" {
		encodedCredentials := base64.StdEncoding.EncodeToString([]byte(upstream.BasicAuth.Username + ":" + upstream.BasicAuth.Password))
		httpReq.Header.Set("Authorization", "Basic "+encodedCredentials)
	}

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		d.registry.RecordFailure(url)

		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			d.logger.Warn("Upstream request timed out.", zap.String("url", url), zap.String("method", request.Method))
			metrics.UpstreamErrorsTotal.WithLabelValues(url, metrics.ErrorKindTimeout).Inc()

			return d.timeoutError(request, err.Error()), true
		}

		d.logger.Warn("Upstream request failed.", zap.String("url", url), zap.Error(err))
		metrics.UpstreamErrorsTotal.WithLabelValues(url, metrics.ErrorKindTransport).Inc()

		return d.internalError(request, err.Error()), true
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		d.registry.RecordFailure(url)

		if ctx.Err() != nil {
			metrics.UpstreamErrorsTotal.WithLabelValues(url, metrics.ErrorKindTimeout).Inc()
			return d.timeoutError(request, err.Error()), true
		}

		d.logger.Warn("Could not read upstream response.", zap.String("url", url), zap.Error(err))
		metrics.UpstreamErrorsTotal.WithLabelValues(url, metrics.ErrorKindTransport).Inc()

		return d.internalError(request, err.Error()), true
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		d.registry.RecordFailure(url)
		d.logger.Warn("Upstream returned non-2xx status.", zap.String("url", url), zap.Int("status", resp.StatusCode))
		metrics.UpstreamErrorsTotal.WithLabelValues(url, metrics.ErrorKindHTTP).Inc()

		return d.internalError(request, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(respBytes)))), true
	}

	respBody, err := jsonrpc.DecodeResponseBody(respBytes)
	if err != nil {
		d.registry.RecordFailure(url)
		d.logger.Warn("Could not deserialize upstream response.", zap.String("url", url), zap.Error(err))
		metrics.UpstreamErrorsTotal.WithLabelValues(url, metrics.ErrorKindDecode).Inc()

		return d.internalError(request, "invalid JSON from upstream: "+truncate(string(respBytes))), true
	}

	latency := time.Since(start)
	metrics.UpstreamDuration.WithLabelValues(url).Observe(latency.Seconds())

	isEndpointFailure := respBody.Error != nil && classify.IsEndpointFailure(respBody.Error)
	if isEndpointFailure {
		d.registry.RecordFailure(url)
		d.logger.Warn("Upstream returned endpoint-failure error.",
			zap.String("url", url),
			zap.String("method", request.Method),
			zap.Any("error", respBody.Error))
		metrics.UpstreamErrorsTotal.WithLabelValues(url, metrics.ErrorKindUpstream).Inc()
	} else {
		d.registry.RecordSuccess(url, latency)
	}

	d.normalize(request, respBody)

	return respBody, isEndpointFailure
}

// normalize pins the envelope to the wire contract: version set, id
// present, exactly one of result/error.
func (d *Dispatcher) normalize(request *jsonrpc.SingleRequestBody, respBody *jsonrpc.SingleResponseBody) {
	respBody.JSONRPC = jsonrpc.Version

	if respBody.ID == nil {
		respBody.ID = request.ID
	}

	if respBody.Error != nil {
		respBody.Result = nil
	} else if respBody.Result == nil {
		respBody.Result = []byte("null")
	}
}

func (d *Dispatcher) timeoutError(request *jsonrpc.SingleRequestBody, detail string) *jsonrpc.SingleResponseBody {
	return jsonrpc.NewErrorResponse(request.ID, jsonrpc.RequestTimeoutCode, "Request timeout", detail)
}

func (d *Dispatcher) internalError(request *jsonrpc.SingleRequestBody, detail string) *jsonrpc.SingleResponseBody {
	return jsonrpc.NewErrorResponse(request.ID, jsonrpc.InternalErrorCode, "Internal error", detail)
}

func truncate(s string) string {
	if len(s) > maxErrorDataLen {
		return s[:maxErrorDataLen]
	}

	return s
}
