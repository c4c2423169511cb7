// Package service wires the router components from configuration and runs them.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/speedrun-hq/speedrun-router/pkg/api"
	"github.com/speedrun-hq/speedrun-router/pkg/chains"
	"github.com/speedrun-hq/speedrun-router/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-router/pkg/config"
	"github.com/speedrun-hq/speedrun-router/pkg/events"
	"github.com/speedrun-hq/speedrun-router/pkg/fallback"
	"github.com/speedrun-hq/speedrun-router/pkg/health"
	"github.com/speedrun-hq/speedrun-router/pkg/lificlient"
	"github.com/speedrun-hq/speedrun-router/pkg/logger"
	"github.com/speedrun-hq/speedrun-router/pkg/orchestrator"
	"github.com/speedrun-hq/speedrun-router/pkg/routing"
	"github.com/speedrun-hq/speedrun-router/pkg/settlement"
	"github.com/speedrun-hq/speedrun-router/pkg/store"
)

const (
	shutdownTimeout = 15 * time.Second
	queueSize       = 100
	redisPrefix     = "router"
)

// Service owns every long-lived component of the router
type Service struct {
	config       *config.Config
	logger       logger.Logger
	resolver     *chains.Resolver
	redis        *redis.Client
	store        store.Store
	publisher    events.Publisher
	breaker      *circuitbreaker.CircuitBreaker
	replay       settlement.ReplayGuard
	provider     *routing.Provider
	validator    *settlement.Validator
	orchestrator *orchestrator.Orchestrator
	api          *api.Server
	health       *health.Server
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// NewService connects the configured backends and builds the router
func NewService(ctx context.Context, cfg *config.Config, log logger.Logger) (_ *Service, err error) {
	s := &Service{config: cfg, logger: log}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	if s.resolver, err = Resolver(cfg.TokenRegistryFile); err != nil {
		return nil, err
	}

	if cfg.Store.Driver == config.StoreRedis || cfg.Store.ReplayDriver == config.ReplayRedis {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		if err = s.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Store.RedisAddr, err)
		}
	}

	if s.store, err = s.openStore(ctx); err != nil {
		return nil, err
	}
	log.Info("Using %s intent store", cfg.Store.Driver)

	if s.publisher, err = s.openPublisher(); err != nil {
		return nil, err
	}

	s.breaker = circuitbreaker.New("lifi", circuitbreaker.Config{
		Enabled:        cfg.CircuitBreaker.Enabled,
		Threshold:      cfg.CircuitBreaker.Threshold,
		WindowDuration: cfg.CircuitBreaker.WindowDuration,
		ResetTimeout:   cfg.CircuitBreaker.ResetTimeout,
	}, log)

	backend := lificlient.New(cfg.Routing.APIURL, cfg.Routing.APIKey, cfg.Routing.Timeout, log)
	s.provider = routing.NewProvider(backend, s.resolver, fallback.NewEngine(s.resolver), routing.Config{
		Retry: &routing.RetryPolicy{
			MaxRetries:   cfg.Routing.MaxRetries,
			InitialDelay: cfg.Routing.RetryDelay,
			MaxDelay:     cfg.Routing.RetryMaxDelay,
		},
		CallTimeout: cfg.Routing.Timeout,
	}, log, routing.WithCircuitBreaker(s.breaker))

	opts := []orchestrator.Option{orchestrator.WithPublisher(s.publisher)}
	if cfg.Settlement.Enabled() {
		if s.validator, err = s.newValidator(ctx); err != nil {
			return nil, err
		}
		opts = append(opts, orchestrator.WithSettler(s.validator))
		log.Info("Settlement enabled, owner %s, executing as %s", cfg.Settlement.Owner.Hex(), cfg.Settlement.Executor().Hex())
	}

	s.orchestrator = orchestrator.New(orchestrator.Config{
		Workers:            cfg.Orchestrator.WorkerCount,
		QueueSize:          queueSize,
		StageDelay:         cfg.Orchestrator.StageDelay,
		StatusPollAttempts: cfg.Orchestrator.StatusPollAttempts,
		StatusPollInterval: cfg.Orchestrator.StatusPollInterval,
		CASRetries:         cfg.Orchestrator.CASRetries,
		SweepInterval:      cfg.Orchestrator.SweepInterval,
		AcceptDegraded:     cfg.Orchestrator.AcceptDegraded,
		Executor:           cfg.Settlement.Executor(),
	}, s.store, s.provider, log, opts...)

	s.api = api.NewServer(cfg.HTTP.APIPort, s.orchestrator, api.AuthConfig{
		NotifyToken:     cfg.HTTP.NotifyToken,
		NotifySessionID: cfg.HTTP.NotifySessionID,
		NotifyChannel:   cfg.HTTP.NotifyChannel,
		OperatorToken:   cfg.HTTP.OperatorToken,
	}, log)

	deps := map[string]health.Pinger{"store": s.store}
	if s.redis != nil {
		deps["redis"] = pingFunc(func(ctx context.Context) error { return s.redis.Ping(ctx).Err() })
	}
	s.health = health.NewServer(cfg.HTTP.MetricsPort, cfg.HTTP.MetricsAPIKey, deps,
		[]*circuitbreaker.CircuitBreaker{s.breaker}, log)

	return s, nil
}

// Resolver returns the built-in chain/token tables, or the YAML overlay when path is set
func Resolver(path string) (*chains.Resolver, error) {
	if path == "" {
		return chains.NewResolver(), nil
	}
	resolver, err := chains.LoadRegistryFile(path)
	if err != nil {
		return nil, err
	}
	for _, id := range resolver.ChainIDs() {
		logger.RegisterChainTag(id, resolver.ChainName(id))
	}
	return resolver, nil
}

func (s *Service) openStore(ctx context.Context) (store.Store, error) {
	if s.config.Store.Driver == config.StoreRedis {
		return store.NewRedisStoreFromClient(s.redis, redisPrefix), nil
	}
	return OpenStore(ctx, s.config.Store)
}

func (s *Service) openPublisher() (events.Publisher, error) {
	if s.config.Events.AMQPURL == "" {
		return events.Noop{}, nil
	}
	p, err := events.NewAMQPPublisher(events.AMQPConfig{
		URL:      s.config.Events.AMQPURL,
		Exchange: s.config.Events.Exchange,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Publishing lifecycle events to exchange %s", p.Exchange())
	return p, nil
}

// newReplayGuard opens the settled-flag backend named by REPLAY_DRIVER.
func (s *Service) newReplayGuard(ctx context.Context) (settlement.ReplayGuard, error) {
	switch s.config.Store.ReplayDriver {
	case config.ReplayRedis:
		return settlement.NewRedisReplayGuard(s.redis, redisPrefix), nil
	case config.ReplayStore:
		sqlStore, ok := s.store.(*store.SQLStore)
		if !ok {
			return nil, fmt.Errorf("replay driver %q needs a sqlite or mysql store, have %s", config.ReplayStore, s.config.Store.Driver)
		}
		return settlement.NewSQLReplayGuard(ctx, sqlStore.DB(), sqlStore.Driver())
	}
	return settlement.NewMemoryReplayGuard(), nil
}

func (s *Service) newValidator(ctx context.Context) (*settlement.Validator, error) {
	sc := s.config.Settlement

	replay, err := s.newReplayGuard(ctx)
	if err != nil {
		return nil, err
	}
	s.replay = replay
	s.logger.Info("Using %s replay protection", s.config.Store.ReplayDriver)

	var policy settlement.PolicyAuthority
	if sc.MaxAmountOut.IsPositive() {
		policy = settlement.NewLimitsPolicy(sc.MaxAmountOut)
	}

	// The local engine nets balance deltas; real custody sits behind the engine address.
	engine := settlement.NewLocalEngine(sc.Engine, settlement.AllowOverdraft())

	return settlement.NewValidator(settlement.Config{
		Owner:     sc.Owner,
		Executors: sc.Executors,
		Domain: settlement.Domain{
			Name:              sc.DomainName,
			Version:           sc.DomainVersion,
			ChainID:           sc.DomainChainID,
			VerifyingContract: sc.VerifyingContract,
		},
		Pool: sc.Pool,
	}, s.resolver, engine, replay, policy, s.logger), nil
}

// Orchestrator exposes the lifecycle scheduler
func (s *Service) Orchestrator() *orchestrator.Orchestrator { return s.orchestrator }

// Start runs the orchestrator and both HTTP servers until ctx is cancelled
// or a server fails.
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- s.health.Start() }()
	go func() { errCh <- s.api.Start() }()

	if err := s.orchestrator.Start(ctx); err != nil {
		cancel()
		s.shutdown()
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}
	s.logger.Info("Router service started")

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info("Context cancelled, shutting down service")
	case runErr = <-errCh:
		s.logger.Error("Server stopped unexpectedly: %v", runErr)
	}
	cancel()
	s.shutdown()
	return runErr
}

func (s *Service) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.api.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown: %v", err)
	}
	if err := s.health.Shutdown(ctx); err != nil {
		s.logger.Error("Health server shutdown: %v", err)
	}
	s.orchestrator.Stop()
}

// Close releases the store, broker and redis connections
func (s *Service) Close() error {
	var errs []error
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	// the redis store closes the shared client itself
	if s.redis != nil && (s.store == nil || s.config.Store.Driver != config.StoreRedis) {
		errs = append(errs, s.redis.Close())
	}
	return errors.Join(errs...)
}

// OpenStore opens the configured record store with its own connections
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.StoreSQLite:
		return store.OpenSQLite(cfg.DSN)
	case config.StoreMySQL:
		return store.OpenMySQL(cfg.DSN)
	case config.StoreRedis:
		return store.NewRedisStore(ctx, store.RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: redisPrefix,
		})
	default:
		return store.NewMemoryStore(), nil
	}
}
