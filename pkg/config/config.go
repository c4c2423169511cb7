package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/speedrun-hq/speedrun-router/pkg/logger"
)

// Config holds the configuration for the router service
type Config struct {
	Routing        RoutingConfig
	CircuitBreaker CircuitBreakerConfig
	Orchestrator   OrchestratorConfig
	Store          StoreConfig
	Events         EventsConfig
	HTTP           HTTPConfig
	Settlement     SettlementConfig
	// TokenRegistryFile is an optional YAML overlay for the chain/token tables
	TokenRegistryFile string
	LoggerConfig      LoggerConfig
}

// RoutingConfig holds the routing backend settings
type RoutingConfig struct {
	APIURL        string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// OrchestratorConfig holds the lifecycle scheduler settings
type OrchestratorConfig struct {
	WorkerCount        int
	StageDelay         time.Duration
	StatusPollAttempts int
	StatusPollInterval time.Duration
	CASRetries         int
	SweepInterval      time.Duration
	AcceptDegraded     bool
}

// StoreConfig selects the record and replay backends
type StoreConfig struct {
	Driver        string
	DSN           string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ReplayDriver  string
}

// EventsConfig holds the lifecycle event broker settings. An empty URL disables publishing.
type EventsConfig struct {
	AMQPURL  string
	Exchange string
}

// HTTPConfig holds listener ports and shared secrets
type HTTPConfig struct {
	APIPort         string
	MetricsPort     string
	MetricsAPIKey   string
	NotifyToken     string
	NotifySessionID string
	NotifyChannel   string
	OperatorToken   string
}

// SettlementConfig holds the validator identities. A zero Owner disables settlement.
type SettlementConfig struct {
	Owner             common.Address
	Executors         []common.Address
	Engine            common.Address
	Pool              common.Address
	DomainName        string
	DomainVersion     string
	DomainChainID     int64
	VerifyingContract common.Address
	MaxAmountOut      decimal.Decimal
}

// Enabled reports whether a settlement validator should be wired
func (s SettlementConfig) Enabled() bool {
	return s.Owner != (common.Address{})
}

// Executor is the identity the orchestrator settles as: the first
// configured executor, else the owner.
func (s SettlementConfig) Executor() common.Address {
	if len(s.Executors) > 0 {
		return s.Executors[0]
	}
	return s.Owner
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}
	return FromEnv()
}

// FromEnv reads the configuration from the process environment only
func FromEnv() (*Config, error) {
	cfg := &Config{TokenRegistryFile: os.Getenv("TOKEN_REGISTRY_FILE")}

	loaders := []func(*Config) error{
		loadRouting,
		loadCircuitBreaker,
		loadOrchestrator,
		loadStore,
		loadHTTP,
		loadSettlement,
		loadLogger,
	}
	for _, load := range loaders {
		if err := load(cfg); err != nil {
			return nil, err
		}
	}
	cfg.Events = EventsConfig{
		AMQPURL:  os.Getenv("AMQP_URL"),
		Exchange: getEnvString("AMQP_EXCHANGE", DefaultAMQPExchange),
	}

	// Validate required environment variables
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadRouting(cfg *Config) error {
	apiURL, err := GetEnvLifiAPIURL()
	if err != nil {
		return err
	}

	timeout, err := GetEnvLifiTimeout()
	if err != nil {
		return err
	}

	maxRetries, err := GetEnvMaxRetries()
	if err != nil {
		return err
	}

	retryDelay, err := GetEnvRetryDelay()
	if err != nil {
		return err
	}

	retryMaxDelay, err := GetEnvRetryMaxDelay()
	if err != nil {
		return err
	}

	cfg.Routing = RoutingConfig{
		APIURL:        apiURL,
		APIKey:        os.Getenv("LIFI_API_KEY"),
		Timeout:       timeout,
		MaxRetries:    maxRetries,
		RetryDelay:    retryDelay,
		RetryMaxDelay: retryMaxDelay,
	}
	return nil
}

func loadCircuitBreaker(cfg *Config) error {
	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return err
	}

	cfg.CircuitBreaker = CircuitBreakerConfig{
		Enabled:        cbEnabled,
		Threshold:      cbThreshold,
		WindowDuration: cbWindow,
		ResetTimeout:   cbReset,
	}
	return nil
}

func loadOrchestrator(cfg *Config) error {
	workerCount, err := GetEnvWorkerCount()
	if err != nil {
		return err
	}

	stageDelay, err := GetEnvStageDelay()
	if err != nil {
		return err
	}

	pollAttempts, err := GetEnvStatusPollAttempts()
	if err != nil {
		return err
	}

	pollInterval, err := GetEnvStatusPollInterval()
	if err != nil {
		return err
	}

	casRetries, err := GetEnvStoreCASRetries()
	if err != nil {
		return err
	}

	sweep, err := GetEnvExpirySweepInterval()
	if err != nil {
		return err
	}

	acceptDegraded, err := GetEnvAcceptDegraded()
	if err != nil {
		return err
	}

	cfg.Orchestrator = OrchestratorConfig{
		WorkerCount:        workerCount,
		StageDelay:         stageDelay,
		StatusPollAttempts: pollAttempts,
		StatusPollInterval: pollInterval,
		CASRetries:         casRetries,
		SweepInterval:      sweep,
		AcceptDegraded:     acceptDegraded,
	}
	return nil
}

func loadStore(cfg *Config) error {
	driver, err := GetEnvStoreDriver()
	if err != nil {
		return err
	}

	replay, err := GetEnvReplayDriver(driver)
	if err != nil {
		return err
	}

	redisDB, err := GetEnvRedisDB()
	if err != nil {
		return err
	}

	cfg.Store = StoreConfig{
		Driver:        driver,
		DSN:           os.Getenv("STORE_DSN"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
		ReplayDriver:  replay,
	}
	return nil
}

func loadHTTP(cfg *Config) error {
	apiPort, err := GetEnvAPIPort()
	if err != nil {
		return err
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return err
	}

	cfg.HTTP = HTTPConfig{
		APIPort:         apiPort,
		MetricsPort:     metricsPort,
		MetricsAPIKey:   os.Getenv("METRICS_API_KEY"),
		NotifyToken:     os.Getenv("NOTIFY_TOKEN"),
		NotifySessionID: os.Getenv("NOTIFY_SESSION_ID"),
		NotifyChannel:   os.Getenv("NOTIFY_CHANNEL"),
		OperatorToken:   os.Getenv("OPERATOR_TOKEN"),
	}
	return nil
}

func loadSettlement(cfg *Config) error {
	owner, err := GetEnvAddress("SETTLEMENT_OWNER")
	if err != nil {
		return err
	}

	executors, err := GetEnvSettlementExecutors()
	if err != nil {
		return err
	}

	engine, err := GetEnvAddress("SETTLEMENT_ENGINE")
	if err != nil {
		return err
	}

	pool, err := GetEnvAddress("SETTLEMENT_POOL")
	if err != nil {
		return err
	}

	chainID, err := GetEnvDomainChainID()
	if err != nil {
		return err
	}

	verifyingContract, err := GetEnvAddress("DOMAIN_VERIFYING_CONTRACT")
	if err != nil {
		return err
	}

	maxAmountOut, err := GetEnvPolicyMaxAmountOut()
	if err != nil {
		return err
	}

	cfg.Settlement = SettlementConfig{
		Owner:             owner,
		Executors:         executors,
		Engine:            engine,
		Pool:              pool,
		DomainName:        getEnvString("DOMAIN_NAME", DefaultDomainName),
		DomainVersion:     getEnvString("DOMAIN_VERSION", DefaultDomainVersion),
		DomainChainID:     chainID,
		VerifyingContract: verifyingContract,
		MaxAmountOut:      maxAmountOut,
	}
	return nil
}

func loadLogger(cfg *Config) error {
	level, err := GetEnvLogLevel()
	if err != nil {
		return err
	}

	coloring, err := GetEnvLogColoring()
	if err != nil {
		return err
	}

	cfg.LoggerConfig = LoggerConfig{Level: level, Coloring: coloring}
	return nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	switch cfg.Store.Driver {
	case StoreSQLite, StoreMySQL:
		if cfg.Store.DSN == "" {
			return fmt.Errorf("STORE_DSN environment variable is required for the %s store", cfg.Store.Driver)
		}
	case StoreRedis:
		if cfg.Store.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR environment variable is required for the redis store")
		}
	}
	if cfg.Store.ReplayDriver == ReplayRedis && cfg.Store.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR environment variable is required for the redis replay driver")
	}
	if cfg.Store.ReplayDriver == ReplayStore && cfg.Store.Driver != StoreSQLite && cfg.Store.Driver != StoreMySQL {
		return fmt.Errorf("REPLAY_DRIVER=store needs a sqlite or mysql STORE_DRIVER, got %s", cfg.Store.Driver)
	}
	if cfg.Settlement.Enabled() && cfg.Store.Driver != StoreMemory && cfg.Store.ReplayDriver == ReplayMemory {
		return fmt.Errorf("REPLAY_DRIVER=memory would forget settled intents on restart while the %s store keeps them", cfg.Store.Driver)
	}
	if cfg.HTTP.APIPort == cfg.HTTP.MetricsPort {
		return fmt.Errorf("API_PORT and METRICS_PORT must differ, both are %s", cfg.HTTP.APIPort)
	}
	if cfg.Settlement.Enabled() && cfg.Settlement.Engine == (common.Address{}) {
		return fmt.Errorf("SETTLEMENT_ENGINE environment variable is required when SETTLEMENT_OWNER is set")
	}
	return nil
}
