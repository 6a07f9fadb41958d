package cache

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/obsidianlabs/rpc-proxy/internal/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *RPCCache {
	t.Helper()
	return NewRPCCache(time.Minute, "")
}

func request(method string, params string, id string) jsonrpc.SingleRequestBody {
	body := jsonrpc.SingleRequestBody{
		JSONRPC: "2.0",
		Method:  method,
		ID:      json.RawMessage(id),
	}
	if params != "" {
		body.Params = json.RawMessage(params)
	}

	return body
}

func TestCreateRequestKey(t *testing.T) {
	c := newTestCache(t)

	assert.Equal(t, `eth_getBalance:["0xabc","latest"]`, c.CreateRequestKey(request("eth_getBalance", `["0xabc","latest"]`, `1`)))
	assert.Equal(t, "eth_blockNumber:null", c.CreateRequestKey(request("eth_blockNumber", "", `1`)))

	// Whitespace variants of the same params share a key.
	spaced := c.CreateRequestKey(request("eth_getBalance", `[ "0xabc" , "latest" ]`, `2`))
	compact := c.CreateRequestKey(request("eth_getBalance", `["0xabc","latest"]`, `3`))
	assert.Equal(t, compact, spaced)
}

func TestShouldCacheMethod(t *testing.T) {
	c := newTestCache(t)

	assert.True(t, c.ShouldCacheMethod("eth_getTransactionReceipt"))
	assert.True(t, c.ShouldCacheMethod("eth_blockNumber"))
	assert.False(t, c.ShouldCacheMethod("eth_sendRawTransaction"))
	assert.False(t, c.ShouldCacheMethod("eth_sendTransaction"))
}

func TestHandleRequestMissThenHit(t *testing.T) {
	c := newTestCache(t)
	reqBody := request("eth_blockNumber", `[]`, `1`)

	originCalls := 0
	origin := func() (*jsonrpc.SingleResponseBody, error) {
		originCalls++
		return jsonrpc.NewResultResponse(json.RawMessage(`1`), json.RawMessage(`"0x10"`)), nil
	}

	first, err := c.HandleRequest(reqBody, origin)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"0x10"`), first)

	second, err := c.HandleRequest(reqBody, origin)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"0x10"`), second)

	assert.Equal(t, 1, originCalls)
	assert.Equal(t, 1, c.Size())
}

func TestHandleRequestDoesNotCacheRPCErrors(t *testing.T) {
	c := newTestCache(t)
	reqBody := request("eth_call", `[]`, `1`)

	originCalls := 0
	origin := func() (*jsonrpc.SingleResponseBody, error) {
		originCalls++
		return jsonrpc.NewErrorResponse(json.RawMessage(`1`), 3, "execution reverted", nil), nil
	}

	result, err := c.HandleRequest(reqBody, origin)
	require.NoError(t, err)
	assert.Nil(t, result)

	_, err = c.HandleRequest(reqBody, origin)
	require.NoError(t, err)

	assert.Equal(t, 2, originCalls)
	assert.Equal(t, 0, c.Size())
}

func TestHandleRequestDoesNotCacheNullResults(t *testing.T) {
	c := newTestCache(t)
	reqBody := request("eth_getTransactionReceipt", `["0xdead"]`, `1`)

	origin := func() (*jsonrpc.SingleResponseBody, error) {
		return jsonrpc.NewResultResponse(json.RawMessage(`1`), json.RawMessage(`null`)), nil
	}

	result, err := c.HandleRequest(reqBody, origin)

	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 0, c.Size())
}

func TestHandleRequestPropagatesOriginErrors(t *testing.T) {
	c := newTestCache(t)
	reqBody := request("eth_call", `[]`, `1`)

	origin := func() (*jsonrpc.SingleResponseBody, error) {
		return nil, errors.New("origin down")
	}

	_, err := c.HandleRequest(reqBody, origin)

	assert.Error(t, err)
}

func TestSizeSweepsExpiredEntries(t *testing.T) {
	c := NewRPCCache(10*time.Millisecond, "")

	_, err := c.HandleRequest(request("eth_blockNumber", `[]`, `1`), func() (*jsonrpc.SingleResponseBody, error) {
		return jsonrpc.NewResultResponse(json.RawMessage(`1`), json.RawMessage(`"0x1"`)), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Size())

	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, 0, c.Size())
}
