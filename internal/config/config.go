package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort                  = 3000
	DefaultMetricsPort           = 9090
	DefaultMaxRequestSize        = 1 << 20 // 1 MiB
	DefaultRequestTimeout        = 6000 * time.Millisecond
	DefaultMaxConcurrentRequests = 200
	DefaultCacheTTL              = 1000 * time.Millisecond
	DefaultMaxRetryAttempts      = 2
	DefaultChainID               = 42161 // Arbitrum One
	DefaultRecoveryInterval      = 30 * time.Second
)

type BasicAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type UpstreamConfig struct {
	URL       string          `yaml:"url"`
	BasicAuth BasicAuthConfig `yaml:"basicAuth"`
}

func (c *UpstreamConfig) isValid() bool {
	parsed, err := url.Parse(c.URL)
	if err != nil || c.URL == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		zap.L().Error("Upstream URL must be an absolute http(s) URL.", zap.String("url", c.URL))
		return false
	}

	return true
}

type Config struct {
	Port                  int
	MetricsPort           int
	Upstreams             []UpstreamConfig
	CORSOrigins           []string
	MaxRequestSize        int64
	RequestTimeout        time.Duration
	MaxConcurrentRequests int
	EnableCache           bool
	CacheTTL              time.Duration
	RedisURL              string
	MaxRetryAttempts      int
	ChainID               uint64
	RecoveryInterval      time.Duration
	Env                   string
}

// ChainIDHex is the eth_chainId short-circuit result, e.g. "0xa4b1".
func (c *Config) ChainIDHex() string {
	return "0x" + strconv.FormatUint(c.ChainID, 16)
}

// NetVersion is the net_version short-circuit result, e.g. "42161".
func (c *Config) NetVersion() string {
	return strconv.FormatUint(c.ChainID, 10)
}

func (c *Config) RPCURLs() []string {
	urls := make([]string, 0, len(c.Upstreams))
	for _, upstream := range c.Upstreams {
		urls = append(urls, upstream.URL)
	}

	return urls
}

func (c *Config) UpstreamFor(url string) *UpstreamConfig {
	for i := range c.Upstreams {
		if c.Upstreams[i].URL == url {
			return &c.Upstreams[i]
		}
	}

	return nil
}

// Load reads configuration from the process environment, with a .env file
// as a fallback layer. Real environment variables win over .env entries.
func Load() (Config, error) {
	// Missing .env is the common case in production; ignore it.
	_ = godotenv.Load()

	config := Config{
		Port:                  getEnvInt("PORT", DefaultPort),
		MetricsPort:           getEnvInt("METRICS_PORT", DefaultMetricsPort),
		CORSOrigins:           getEnvSlice("CORS_ORIGINS", []string{"*"}),
		MaxRequestSize:        int64(getEnvInt("MAX_REQUEST_SIZE", DefaultMaxRequestSize)),
		RequestTimeout:        getEnvMillis("REQUEST_TIMEOUT", DefaultRequestTimeout),
		MaxConcurrentRequests: getEnvInt("MAX_CONCURRENT_REQUESTS", DefaultMaxConcurrentRequests),
		EnableCache:           getEnvBool("ENABLE_CACHE", false),
		CacheTTL:              getEnvMillis("CACHE_TTL", DefaultCacheTTL),
		RedisURL:              getEnv("REDIS_URL", ""),
		MaxRetryAttempts:      getEnvInt("MAX_RETRY_ATTEMPTS", DefaultMaxRetryAttempts),
		ChainID:               uint64(getEnvInt("CHAIN_ID", DefaultChainID)),
		RecoveryInterval:      getEnvMillis("RECOVERY_INTERVAL", DefaultRecoveryInterval),
		Env:                   getEnv("ENV", "development"),
	}

	upstreams, err := loadUpstreams()
	if err != nil {
		return Config{}, err
	}

	config.Upstreams = upstreams

	if !config.isValid() {
		return Config{}, errors.New("invalid configuration")
	}

	return config, nil
}

// loadUpstreams reads the upstream set from UPSTREAMS_FILE when present,
// otherwise from the RPC_URLS csv. The file form also carries credentials.
func loadUpstreams() ([]UpstreamConfig, error) {
	if path := getEnv("UPSTREAMS_FILE", ""); path != "" {
		return parseUpstreamsFile(path)
	}

	urls := getEnvSlice("RPC_URLS", nil)
	upstreams := make([]UpstreamConfig, 0, len(urls))

	for _, u := range urls {
		upstreams = append(upstreams, UpstreamConfig{URL: u})
	}

	return upstreams, nil
}

func parseUpstreamsFile(path string) ([]UpstreamConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading upstreams file: %w", err)
	}

	var parsed struct {
		Upstreams []UpstreamConfig `yaml:"upstreams"`
	}

	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parsing upstreams file: %w", err)
	}

	return parsed.Upstreams, nil
}

func (c *Config) isValid() bool {
	isValid := true

	for i := range c.Upstreams {
		isValid = c.Upstreams[i].isValid() && isValid
	}

	if c.ChainID == 0 {
		zap.L().Error("CHAIN_ID cannot be zero.")

		isValid = false
	}

	if c.MaxRetryAttempts < 0 || c.MaxConcurrentRequests < 1 || c.MaxRequestSize < 1 {
		zap.L().Error("Request limits must be positive.",
			zap.Int("maxRetryAttempts", c.MaxRetryAttempts),
			zap.Int("maxConcurrentRequests", c.MaxConcurrentRequests),
			zap.Int64("maxRequestSize", c.MaxRequestSize))

		isValid = false
	}

	return isValid
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}

		zap.L().Warn("Ignoring non-integer environment value.", zap.String("key", key), zap.String("value", v))
	}

	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true")
	}

	return def
}

// getEnvMillis parses a duration given as integer milliseconds.
func getEnvMillis(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return time.Duration(i) * time.Millisecond
		}

		zap.L().Warn("Ignoring non-integer environment value.", zap.String("key", key), zap.String("value", v))
	}

	return def
}

func getEnvSlice(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}

	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
