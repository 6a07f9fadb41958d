package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/obsidianlabs/rpc-proxy/internal/jsonrpc"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
)

// MaxEntries caps the local cache; the TinyLFU backend evicts beyond it.
const MaxEntries = 1000

// Write-path methods are never cached; everything else is fair game under
// the short TTL.
var uncacheableMethods = []string{
	"eth_sendRawTransaction",
	"eth_sendTransaction",
}

type JSONRPCError struct {
	err *jsonrpc.Error
}

func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("error found in JSON RPC response: %v", e.err)
}

type NullResultError struct{}

func (e *NullResultError) Error() string {
	return "JSON RPC response has null Result field."
}

type RPCCache struct {
	cache *cache.Cache
	ttl   time.Duration

	// Shadow index of inserted keys, kept for size reporting and the
	// opportunistic expiry sweep. Values live in the backing cache.
	mu       sync.Mutex
	inserted map[string]time.Time
}

// NewRPCCache builds the response cache. With a Redis address the cache is
// shared; without one it is purely in-process (TinyLFU, MaxEntries).
func NewRPCCache(ttl time.Duration, redisURL string) *RPCCache {
	options := &cache.Options{
		LocalCache: cache.NewTinyLFU(MaxEntries, ttl),
	}

	if redisURL != "" {
		// If we start seeing slow cached requests due to network issues,
		// change DialTimeout, ReadTimeout, and WriteTimeout options.
		options.Redis = redis.NewClient(&redis.Options{
			Addr: redisURL,
		})
	}

	return &RPCCache{
		cache:    cache.New(options),
		ttl:      ttl,
		inserted: make(map[string]time.Time),
	}
}

func (c *RPCCache) ShouldCacheMethod(method string) bool {
	return !lo.Contains(uncacheableMethods, method)
}

func (c *RPCCache) TTL() time.Duration {
	return c.ttl
}

// CreateRequestKey derives the cache key from method and params. Params are
// compacted so whitespace variants of the same request share an entry.
func (c *RPCCache) CreateRequestKey(requestBody jsonrpc.SingleRequestBody) string {
	params := "null"

	if requestBody.Params != nil {
		var compact bytes.Buffer
		if err := json.Compact(&compact, requestBody.Params); err == nil {
			params = compact.String()
		} else {
			params = string(requestBody.Params)
		}
	}

	return requestBody.Method + ":" + params
}

// HandleRequest serves the request from the cache, filling it from
// originFunc on a miss. A nil result with a nil error means the origin was
// consulted and returned something uncacheable (an RPC error or a null
// result); the caller holds that response. Do() also runs when the cache
// backend is down, so origin traffic survives cache outages.
func (c *RPCCache) HandleRequest(reqBody jsonrpc.SingleRequestBody, originFunc func() (*jsonrpc.SingleResponseBody, error)) (json.RawMessage, error) {
	var result json.RawMessage

	key := c.CreateRequestKey(reqBody)

	err := c.cache.Once(&cache.Item{
		Key:   key,
		Value: &result,
		TTL:   c.ttl,
		Do: func(*cache.Item) (interface{}, error) {
			respBody, err := originFunc()
			if err != nil {
				return nil, err
			}

			if respBody.Error != nil {
				return nil, &JSONRPCError{respBody.Error}
			}

			if bytes.Equal(respBody.Result, []byte("null")) || respBody.Result == nil {
				return nil, &NullResultError{}
			}

			c.recordInsert(key)

			return &respBody.Result, nil
		},
	})

	if err != nil {
		switch err.(type) {
		// An RPC error response is returned to the user but not cached.
		case *JSONRPCError:
			return nil, nil
		// Same for a null Result field.
		case *NullResultError:
			return nil, nil
		}

		return nil, err
	}

	return result, nil
}

// Size reports the number of live entries in the shadow index.
func (c *RPCCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked()

	return len(c.inserted)
}

func (c *RPCCache) recordInsert(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inserted[key] = time.Now()

	if len(c.inserted) > MaxEntries {
		c.sweepLocked()
	}
}

// sweepLocked drops expired keys from the shadow index. Caller holds the lock.
func (c *RPCCache) sweepLocked() {
	cutoff := time.Now().Add(-c.ttl)

	for key, insertedAt := range c.inserted {
		if insertedAt.Before(cutoff) {
			delete(c.inserted, key)
		}
	}
}
