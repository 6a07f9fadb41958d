package classify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	for _, tc := range []struct {
		source   string
		expected Class
	}{
		// Application errors reflect the request's own semantics.
		{"execution reverted", ApplicationError},
		{"Execution Reverted: out of gas", ApplicationError},
		{"intrinsic gas too low", ApplicationError},
		{"insufficient funds for gas * price + value", ApplicationError},
		{"nonce too low", ApplicationError},
		{"nonce too high", ApplicationError},
		{"transaction underpriced", ApplicationError},
		{"invalid argument 0: json: cannot unmarshal", ApplicationError},
		{"invalid signature", ApplicationError},
		{"already known", ApplicationError},
		{"replacement transaction underpriced", ApplicationError},

		// Endpoint failures are the provider's fault.
		{"rate limit exceeded", EndpointFailure},
		{"Too Many Requests", EndpointFailure},
		{"request limit exceeded", EndpointFailure},
		{"your app has been throttled", EndpointFailure},
		{"upstream returned 429", EndpointFailure},
		{"monthly compute units exceeded", EndpointFailure},
		{"quota exceeded for this key", EndpointFailure},
		{"insufficient credits", EndpointFailure},
		{"connect ECONNREFUSED 10.0.0.1:8545", EndpointFailure},
		{"ETIMEDOUT", EndpointFailure},
		{"getaddrinfo ENOTFOUND rpc.example.com", EndpointFailure},
		{"socket hang up", EndpointFailure},
		{"network error", EndpointFailure},
		{"connection refused", EndpointFailure},
		{"connection reset by peer", EndpointFailure},
		{"request timeout", EndpointFailure},
		{"i/o timed out", EndpointFailure},
		{"Service Unavailable", EndpointFailure},
		{"502 Bad Gateway", EndpointFailure},
		{"internal server error", EndpointFailure},

		// Unknown errors never demote an endpoint.
		{"some brand new provider error", ApplicationError},
		{"", ApplicationError},
	} {
		t.Run(tc.source, func(t *testing.T) {
			assert.Equal(t, tc.expected, Classify(tc.source))
		})
	}
}

// Strings matching both tables resolve in favor of the application table.
func TestClassifyOrderSensitive(t *testing.T) {
	assert.Equal(t, ApplicationError, Classify("exceeds block gas limit"))
	assert.Equal(t, ApplicationError, Classify("gas limit reached, request timeout"))
	assert.Equal(t, ApplicationError, Classify("execution reverted: connection closed"))
}

func TestSource(t *testing.T) {
	for _, tc := range []struct {
		testName string
		value    any
		expected string
	}{
		{"string", "rate limit", "rate limit"},
		{"error", errors.New("socket hang up"), "socket hang up"},
		{"map with message", map[string]any{"message": "nonce too low", "code": -32000}, "nonce too low"},
		{"map with data only", map[string]any{"data": "throttled"}, `"throttled"`},
		{"unshaped map", map[string]any{"reason": "odd"}, `{"reason":"odd"}`},
		{"nil", nil, ""},
	} {
		t.Run(tc.testName, func(t *testing.T) {
			assert.Equal(t, tc.expected, Source(tc.value))
		})
	}
}

func TestIsEndpointFailureOnStructuredError(t *testing.T) {
	type rpcError struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}

	assert.True(t, IsEndpointFailure(&rpcError{Code: -32005, Message: "rate limit exceeded"}))
	assert.False(t, IsEndpointFailure(&rpcError{Code: 3, Message: "execution reverted"}))
	assert.False(t, IsEndpointFailure(&rpcError{Code: -32000, Message: "mystery"}))
}
