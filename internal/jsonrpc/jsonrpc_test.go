package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequestBody(t *testing.T) {
	for _, tc := range []struct {
		testName        string
		body            string
		expectedRequest *SingleRequestBody
		expectBatchLen  int
		expectError     bool
	}{
		{
			testName: "numeric id",
			body:     `{"jsonrpc":"2.0","method":"eth_blockNumber","params":[],"id":1}`,
			expectedRequest: &SingleRequestBody{
				JSONRPC: "2.0",
				Method:  "eth_blockNumber",
				Params:  json.RawMessage(`[]`),
				ID:      json.RawMessage(`1`),
			},
		},
		{
			testName: "string id",
			body:     `{"jsonrpc":"2.0","method":"eth_call","id":"abc-42"}`,
			expectedRequest: &SingleRequestBody{
				JSONRPC: "2.0",
				Method:  "eth_call",
				ID:      json.RawMessage(`"abc-42"`),
			},
		},
		{
			testName: "null id",
			body:     `{"jsonrpc":"2.0","method":"eth_call","id":null}`,
			expectedRequest: &SingleRequestBody{
				JSONRPC: "2.0",
				Method:  "eth_call",
				ID:      json.RawMessage(`null`),
			},
		},
		{
			testName:        "empty object probe",
			body:            `{}`,
			expectedRequest: &SingleRequestBody{},
		},
		{
			testName:       "batch",
			body:           `[{"jsonrpc":"2.0","method":"a","id":1},{"jsonrpc":"2.0","method":"b","id":2}]`,
			expectBatchLen: 2,
		},
		{
			testName:    "empty body",
			body:        "",
			expectError: true,
		},
		{
			testName:    "invalid json",
			body:        `{invalid json}`,
			expectError: true,
		},
		{
			testName:    "non-object body",
			body:        `"eth_blockNumber"`,
			expectError: true,
		},
	} {
		t.Run(tc.testName, func(t *testing.T) {
			single, batch, err := DecodeRequestBody([]byte(tc.body))

			if tc.expectError {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)

			if tc.expectBatchLen > 0 {
				require.NotNil(t, batch)
				assert.Len(t, batch.Requests, tc.expectBatchLen)

				return
			}

			assert.Equal(t, tc.expectedRequest, single)
		})
	}
}

func TestResponseFieldOrder(t *testing.T) {
	for _, tc := range []struct {
		testName string
		response *SingleResponseBody
		expected string
	}{
		{
			testName: "result",
			response: NewResultResponse(json.RawMessage(`1`), json.RawMessage(`"0x10"`)),
			expected: `{"jsonrpc":"2.0","id":1,"result":"0x10"}`,
		},
		{
			testName: "error",
			response: NewErrorResponse(json.RawMessage(`"x"`), InternalErrorCode, "Internal error", nil),
			expected: `{"jsonrpc":"2.0","id":"x","error":{"code":-32603,"message":"Internal error"}}`,
		},
		{
			testName: "null id",
			response: NewErrorResponse(nil, ParseErrorCode, "Parse error", nil),
			expected: `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error"}}`,
		},
	} {
		t.Run(tc.testName, func(t *testing.T) {
			encoded, err := tc.response.Encode()

			require.NoError(t, err)
			assert.Equal(t, tc.expected, string(encoded))
		})
	}
}

func TestIDRoundTrip(t *testing.T) {
	// Ids must survive the proxy byte-for-byte, whatever their JSON type.
	for _, id := range []string{`1`, `0`, `"request-7"`, `null`, `9007199254740993`} {
		body := `{"jsonrpc":"2.0","method":"eth_blockNumber","id":` + id + `}`

		single, _, err := DecodeRequestBody([]byte(body))
		require.NoError(t, err)

		encoded, err := NewResultResponse(single.ID, json.RawMessage(`"0x1"`)).Encode()
		require.NoError(t, err)

		assert.Equal(t, `{"jsonrpc":"2.0","id":`+id+`,"result":"0x1"}`, string(encoded))
	}
}

func TestDecodeResponseBodyToleratesUnknownFields(t *testing.T) {
	respBody, err := DecodeResponseBody([]byte(`{"jsonrpc":"2.0","id":5,"result":"0x2","vendor":"extra"}`))

	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"0x2"`), respBody.Result)
	assert.Equal(t, json.RawMessage(`5`), respBody.ID)
}

func TestRequestValidation(t *testing.T) {
	assert.True(t, (&SingleRequestBody{JSONRPC: "2.0", Method: "eth_call"}).IsValid())
	assert.False(t, (&SingleRequestBody{JSONRPC: "2.0"}).IsValid())
	assert.False(t, (&SingleRequestBody{Method: "eth_call"}).IsValid())

	assert.True(t, (&SingleRequestBody{}).IsEmpty())
	assert.False(t, (&SingleRequestBody{ID: json.RawMessage(`1`)}).IsEmpty())
}

func TestBatchEncode(t *testing.T) {
	batch := &BatchResponseBody{
		Responses: []SingleResponseBody{
			*NewResultResponse(json.RawMessage(`1`), json.RawMessage(`"a"`)),
			*NewErrorResponse(json.RawMessage(`2`), InvalidRequestCode, "Invalid Request", nil),
		},
	}

	encoded, err := batch.Encode()

	require.NoError(t, err)
	assert.Equal(t, `[{"jsonrpc":"2.0","id":1,"result":"a"},{"jsonrpc":"2.0","id":2,"error":{"code":-32600,"message":"Invalid Request"}}]`, string(encoded))
}
