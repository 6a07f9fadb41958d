package server

import (
	"io"
	"net/http"

	conf "github.com/obsidianlabs/rpc-proxy/internal/config"
	"github.com/obsidianlabs/rpc-proxy/internal/jsonrpc"
	"github.com/obsidianlabs/rpc-proxy/internal/route"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

type RPCHandler struct {
	router route.Router
	config *conf.Config
	logger *zap.Logger
}

func (h *RPCHandler) ServeHTTP(writer http.ResponseWriter, req *http.Request) {
	h.setCORSHeaders(writer, req)

	switch req.Method {
	case http.MethodOptions:
		writer.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		resp := jsonrpc.NewErrorResponse(nil, jsonrpc.MethodNotAllowedCode, "Method not allowed", nil)
		respondJSONRPC(h.logger, writer, resp, http.StatusMethodNotAllowed)

		return
	}

	// No need to close the request body, the Server implementation will take care of it.
	body, err := io.ReadAll(io.LimitReader(req.Body, h.config.MaxRequestSize+1))
	if err != nil {
		h.logger.Error("Request body could not be read.", zap.Error(err))
		respondJSONRPC(h.logger, writer, jsonrpc.NewErrorResponse(nil, jsonrpc.ParseErrorCode, "Parse error", nil), http.StatusBadRequest)

		return
	}

	if int64(len(body)) > h.config.MaxRequestSize {
		h.logger.Warn("Rejecting oversized request body.", zap.Int("size", len(body)))
		respondJSONRPC(h.logger, writer, jsonrpc.NewErrorResponse(nil, jsonrpc.ParseErrorCode, "Request too large", nil), http.StatusRequestEntityTooLarge)

		return
	}

	single, batch, err := jsonrpc.DecodeRequestBody(body)
	if err != nil {
		h.logger.Debug("Request body could not be parsed.", zap.Error(err))
		respondJSONRPC(h.logger, writer, jsonrpc.NewErrorResponse(nil, jsonrpc.ParseErrorCode, "Parse error", nil), http.StatusBadRequest)

		return
	}

	if batch != nil {
		h.serveBatch(writer, batch)
		return
	}

	// Bare "{}" bodies are endpoint probes from client libraries; answer
	// with a synthetic chain id so their handshake succeeds.
	if single.IsEmpty() {
		resp := jsonrpc.NewResultResponse([]byte("1"), jsonrpc.MustMarshal(h.config.ChainIDHex()))
		respondJSONRPC(h.logger, writer, resp, http.StatusOK)

		return
	}

	if !single.IsValid() {
		respondJSONRPC(h.logger, writer, jsonrpc.NewErrorResponse(single.ID, jsonrpc.InvalidRequestCode, "Invalid Request", nil), http.StatusBadRequest)
		return
	}

	respBody, _ := h.router.Route(single)
	respondJSONRPC(h.logger, writer, respBody, http.StatusOK)
}

// serveBatch runs the pipeline per element, collecting results in input
// order. Invalid elements yield error envelopes in their slots; the batch
// as a whole still responds 200.
func (h *RPCHandler) serveBatch(writer http.ResponseWriter, batch *jsonrpc.BatchRequestBody) {
	if len(batch.Requests) == 0 {
		respondJSONRPC(h.logger, writer, jsonrpc.NewErrorResponse(nil, jsonrpc.InvalidRequestCode, "Invalid Request", nil), http.StatusBadRequest)
		return
	}

	responses := make([]jsonrpc.SingleResponseBody, 0, len(batch.Requests))

	for i := range batch.Requests {
		request := &batch.Requests[i]

		if !request.IsValid() {
			responses = append(responses, *jsonrpc.NewErrorResponse(request.ID, jsonrpc.InvalidRequestCode, "Invalid Request", nil))
			continue
		}

		respBody, _ := h.router.Route(request)
		responses = append(responses, *respBody)
	}

	respondJSONRPC(h.logger, writer, &jsonrpc.BatchResponseBody{Responses: responses}, http.StatusOK)
}

func (h *RPCHandler) setCORSHeaders(writer http.ResponseWriter, req *http.Request) {
	origin := req.Header.Get("Origin")

	allowed := ""

	switch {
	case slices.Contains(h.config.CORSOrigins, "*"):
		allowed = "*"
	case origin != "" && slices.Contains(h.config.CORSOrigins, origin):
		allowed = origin
	default:
		return
	}

	headers := writer.Header()
	headers.Set("Access-Control-Allow-Origin", allowed)
	headers.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	headers.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	headers.Set("Access-Control-Max-Age", "86400")
}

func respondJSONRPC(logger *zap.Logger, writer http.ResponseWriter, response jsonrpc.ResponseBody, httpStatusCode int) {
	respBytes, err := response.Encode()
	if err != nil {
		logger.Error("Failed to serialize response.", zap.Error(err))
		writer.WriteHeader(http.StatusInternalServerError)

		return
	}

	writer.Header().Set("Content-Type", "application/json")

	// Note: Call `WriteHeader` last otherwise headers won't get written.
	writer.WriteHeader(httpStatusCode)

	if i, err := writer.Write(respBytes); err != nil {
		logger.Error("Failed to write JSON RPC response body.", zap.Error(err), zap.Int("bytesWritten", i))
		return
	}
}
