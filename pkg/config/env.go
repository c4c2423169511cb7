package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/speedrun-hq/speedrun-router/pkg/logger"
)

// Store drivers
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreMySQL  = "mysql"
	StoreRedis  = "redis"
)

// Replay drivers. ReplayStore keeps the flags in the sqlite or mysql record database.
const (
	ReplayMemory = "memory"
	ReplayRedis  = "redis"
	ReplayStore  = "store"
)

const (
	// DefaultLifiAPIURL is the public LI.FI endpoint
	DefaultLifiAPIURL = "https://li.quest"

	// DefaultLifiTimeout bounds one backend call, in seconds
	DefaultLifiTimeout = 20

	// DefaultMaxRetries is the number of retries after the first backend attempt
	DefaultMaxRetries = 3

	// DefaultRetryDelayMs is the first backoff delay
	DefaultRetryDelayMs = 500

	// DefaultRetryMaxDelay caps the backoff, in seconds
	DefaultRetryMaxDelay = 30

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker, in seconds
	DefaultCircuitBreakerWindow = 60

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker, in seconds
	DefaultCircuitBreakerReset = 30

	// DefaultWorkerCount defines the default number of workers driving intents
	DefaultWorkerCount = 5

	DefaultStageDelayMs         = 0
	DefaultStatusPollAttempts   = 3
	DefaultStatusPollIntervalMs = 5000
	DefaultStoreCASRetries      = 5

	// DefaultExpirySweepInterval is how often expired intents are collected
	DefaultExpirySweepInterval = 30 * time.Second

	DefaultStoreDriver = StoreMemory

	// DefaultAMQPExchange is the topic exchange for lifecycle events
	DefaultAMQPExchange = "router.intents"

	// DefaultAPIPort defines the default port for the public API
	DefaultAPIPort = "8000"

	// DefaultMetricsPort defines the default port for the metrics server
	DefaultMetricsPort = "8080"

	DefaultDomainName    = "SpeedrunRouter"
	DefaultDomainVersion = "1"
	DefaultDomainChainID = 7000
)

// GetEnvLifiAPIURL returns the routing backend endpoint
func GetEnvLifiAPIURL() (string, error) {
	apiURL := os.Getenv("LIFI_API_URL")
	if apiURL == "" {
		return DefaultLifiAPIURL, nil
	}

	// Validate URL format
	if _, err := url.ParseRequestURI(apiURL); err != nil {
		return "", fmt.Errorf("invalid LIFI_API_URL value: %s, must be a valid URL", apiURL)
	}
	return strings.TrimRight(apiURL, "/"), nil
}

// GetEnvLifiTimeout returns the per-call backend timeout
func GetEnvLifiTimeout() (time.Duration, error) {
	seconds, err := positiveInt("LIFI_TIMEOUT", DefaultLifiTimeout)
	return time.Duration(seconds) * time.Second, err
}

// GetEnvMaxRetries returns the maximum number of retries from environment variables
func GetEnvMaxRetries() (int, error) {
	maxRetries := os.Getenv("MAX_RETRIES")
	if maxRetries == "" {
		return DefaultMaxRetries, nil
	}

	maxRetriesInt, err := strconv.Atoi(maxRetries)
	if err != nil {
		return 0, fmt.Errorf("invalid MAX_RETRIES value: %s, must be an integer", maxRetries)
	}
	if maxRetriesInt < 0 {
		return 0, fmt.Errorf("MAX_RETRIES must be greater than or equal to 0")
	}
	return maxRetriesInt, nil
}

// GetEnvRetryDelay returns the first backoff delay
func GetEnvRetryDelay() (time.Duration, error) {
	ms, err := positiveInt("RETRY_DELAY_MS", DefaultRetryDelayMs)
	return time.Duration(ms) * time.Millisecond, err
}

// GetEnvRetryMaxDelay returns the backoff cap
func GetEnvRetryMaxDelay() (time.Duration, error) {
	seconds, err := positiveInt("RETRY_MAX_DELAY", DefaultRetryMaxDelay)
	return time.Duration(seconds) * time.Second, err
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	return boolean("CIRCUIT_BREAKER_ENABLED", DefaultCircuitBreakerEnabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	return positiveInt("CIRCUIT_BREAKER_THRESHOLD", DefaultCircuitBreakerThreshold)
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	return duration("CIRCUIT_BREAKER_WINDOW", DefaultCircuitBreakerWindow*time.Second)
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	return duration("CIRCUIT_BREAKER_RESET", DefaultCircuitBreakerReset*time.Second)
}

// GetEnvWorkerCount returns the number of workers from environment variables
func GetEnvWorkerCount() (int, error) {
	return positiveInt("WORKER_COUNT", DefaultWorkerCount)
}

// GetEnvStageDelay returns the pause between lifecycle stages
func GetEnvStageDelay() (time.Duration, error) {
	ms, err := nonNegativeInt("STAGE_DELAY_MS", DefaultStageDelayMs)
	return time.Duration(ms) * time.Millisecond, err
}

// GetEnvStatusPollAttempts returns how many times a live status is polled
func GetEnvStatusPollAttempts() (int, error) {
	return positiveInt("STATUS_POLL_ATTEMPTS", DefaultStatusPollAttempts)
}

// GetEnvStatusPollInterval returns the pause between status polls
func GetEnvStatusPollInterval() (time.Duration, error) {
	ms, err := nonNegativeInt("STATUS_POLL_INTERVAL_MS", DefaultStatusPollIntervalMs)
	return time.Duration(ms) * time.Millisecond, err
}

// GetEnvStoreCASRetries returns the compare-and-swap retry budget
func GetEnvStoreCASRetries() (int, error) {
	return nonNegativeInt("STORE_CAS_RETRIES", DefaultStoreCASRetries)
}

// GetEnvExpirySweepInterval returns the sweep period; zero disables it
func GetEnvExpirySweepInterval() (time.Duration, error) {
	return duration("EXPIRY_SWEEP_INTERVAL", DefaultExpirySweepInterval)
}

// GetEnvAcceptDegraded returns whether fallback routes may settle
func GetEnvAcceptDegraded() (bool, error) {
	return boolean("ACCEPT_DEGRADED", false)
}

// GetEnvStoreDriver returns the record store backend
func GetEnvStoreDriver() (string, error) {
	driver := strings.ToLower(os.Getenv("STORE_DRIVER"))
	if driver == "" {
		return DefaultStoreDriver, nil
	}
	switch driver {
	case StoreMemory, StoreSQLite, StoreMySQL, StoreRedis:
		return driver, nil
	}
	return "", fmt.Errorf("invalid STORE_DRIVER value: %s, must be one of memory, sqlite, mysql, redis", driver)
}

// DefaultReplayDriver keeps settlement flags as durable as the intent records:
// a persistent store never gets in-memory replay protection by default.
func DefaultReplayDriver(storeDriver string) string {
	switch storeDriver {
	case StoreRedis:
		return ReplayRedis
	case StoreSQLite, StoreMySQL:
		return ReplayStore
	}
	return ReplayMemory
}

// GetEnvReplayDriver returns the replay reservation backend, defaulting by store driver
func GetEnvReplayDriver(storeDriver string) (string, error) {
	driver := strings.ToLower(os.Getenv("REPLAY_DRIVER"))
	if driver == "" {
		return DefaultReplayDriver(storeDriver), nil
	}
	if driver != ReplayMemory && driver != ReplayRedis && driver != ReplayStore {
		return "", fmt.Errorf("invalid REPLAY_DRIVER value: %s, must be one of memory, redis, store", driver)
	}
	return driver, nil
}

// GetEnvRedisDB returns the redis database index
func GetEnvRedisDB() (int, error) {
	return nonNegativeInt("REDIS_DB", 0)
}

// GetEnvAPIPort returns the public API port
func GetEnvAPIPort() (string, error) {
	return port("API_PORT", DefaultAPIPort)
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	return port("METRICS_PORT", DefaultMetricsPort)
}

// GetEnvAddress returns an optional hex address; empty yields the zero address
func GetEnvAddress(name string) (common.Address, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return common.Address{}, nil
	}

	// Validate Ethereum address format
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid %s value: %s, must be a valid Ethereum address", name, value)
	}
	return common.HexToAddress(value), nil
}

// GetEnvSettlementExecutors returns the comma separated executor allowlist
func GetEnvSettlementExecutors() ([]common.Address, error) {
	raw := os.Getenv("SETTLEMENT_EXECUTORS")
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var executors []common.Address
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !common.IsHexAddress(part) {
			return nil, fmt.Errorf("invalid SETTLEMENT_EXECUTORS entry: %s, must be a valid Ethereum address", part)
		}
		executors = append(executors, common.HexToAddress(part))
	}
	return executors, nil
}

// GetEnvDomainChainID returns the chain id of the signing domain
func GetEnvDomainChainID() (int64, error) {
	chainID, err := positiveInt("DOMAIN_CHAIN_ID", DefaultDomainChainID)
	return int64(chainID), err
}

// GetEnvPolicyMaxAmountOut returns the per-intent output cap; zero means no cap
func GetEnvPolicyMaxAmountOut() (decimal.Decimal, error) {
	raw := os.Getenv("POLICY_MAX_AMOUNT_OUT")
	if raw == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil || value.IsNegative() {
		return decimal.Zero, fmt.Errorf("invalid POLICY_MAX_AMOUNT_OUT value: %s, must be a non-negative decimal", raw)
	}
	return value, nil
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return logger.InfoLevel, fmt.Errorf("invalid LOG_LEVEL value: %w", err)
	}
	return level, nil
}

// GetEnvLogColoring returns whether log output is colored
func GetEnvLogColoring() (bool, error) {
	return boolean("LOG_COLORING", true)
}

// getEnvString returns the variable or def when unset
func getEnvString(name, def string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return def
}

func positiveInt(name string, def int) (int, error) {
	value, err := nonNegativeInt(name, def)
	if err != nil {
		return 0, err
	}
	if value == 0 {
		return 0, fmt.Errorf("%s must be greater than 0", name)
	}
	return value, nil
}

func nonNegativeInt(name string, def int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be an integer", name, raw)
	}
	if value < 0 {
		return 0, fmt.Errorf("%s must be greater than or equal to 0", name)
	}
	return value, nil
}

func duration(name string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}

	// Validate duration format
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed < 0 {
		return 0, fmt.Errorf("invalid %s value: %s, must be a valid duration string", name, raw)
	}
	return parsed, nil
}

func boolean(name string, def bool) (bool, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}

	if raw == "true" {
		return true, nil
	} else if raw == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid %s value: %s, must be 'true' or 'false'", name, raw)
}

func port(name, def string) (string, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(raw); err != nil {
		return "", fmt.Errorf("invalid %s value: %s, must be a valid integer", name, raw)
	}
	return raw, nil
}
