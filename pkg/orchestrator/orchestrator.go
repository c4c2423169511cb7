// Package orchestrator drives intents through their lifecycle:
// CREATED, QUOTED, EXECUTING, SETTLING and one of SETTLED, ABORTED or EXPIRED.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/speedrun-hq/speedrun-router/pkg/events"
	"github.com/speedrun-hq/speedrun-router/pkg/logger"
	"github.com/speedrun-hq/speedrun-router/pkg/metrics"
	"github.com/speedrun-hq/speedrun-router/pkg/models"
	"github.com/speedrun-hq/speedrun-router/pkg/settlement"
	"github.com/speedrun-hq/speedrun-router/pkg/store"
)

var (
	// ErrTerminal is returned when an operation needs a non-terminal intent.
	ErrTerminal = errors.New("intent already reached a terminal status")
	// ErrConflictsExhausted is returned when a record kept changing under an update.
	ErrConflictsExhausted = errors.New("intent record kept changing, update abandoned")
)

// Router fetches quote, route and status payloads. It never fails; problems
// come back as fallback payloads.
type Router interface {
	FetchQuote(ctx context.Context, intent models.Intent) models.QuoteResult
	FetchRoute(ctx context.Context, intent models.Intent) models.RouteResult
	FetchStatus(ctx context.Context, txHash string) models.StatusResult
}

// Settler authorizes and executes settlements.
type Settler interface {
	VenueFor(intent models.Intent, chainID int, id string) (settlement.Venue, error)
	Settle(ctx context.Context, req settlement.Request) (*settlement.Receipt, error)
}

var _ Settler = (*settlement.Validator)(nil)

// Config holds the orchestrator tuning knobs.
type Config struct {
	Workers   int
	QueueSize int
	// StageDelay pauses the driver between lifecycle stages
	StageDelay         time.Duration
	StatusPollAttempts int
	StatusPollInterval time.Duration
	// CASRetries bounds the compare-and-swap retries of one record update
	CASRetries int
	// SweepInterval is how often expired intents are collected; zero disables the sweep
	SweepInterval time.Duration
	// AcceptDegraded lets fallback routes proceed to settlement
	AcceptDegraded bool
	// Executor is the identity the orchestrator settles as
	Executor common.Address
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		Workers:            5,
		QueueSize:          100,
		StatusPollAttempts: 3,
		StatusPollInterval: 5 * time.Second,
		CASRetries:         5,
		SweepInterval:      30 * time.Second,
	}
}

// Orchestrator schedules one lifecycle driver per intent on a worker pool.
type Orchestrator struct {
	cfg       Config
	store     store.Store
	router    Router
	settler   Settler
	publisher events.Publisher
	logger    logger.Logger
	now       func() time.Time
	sleep     func(context.Context, time.Duration) error

	locks   *keyedMutex
	jobs    chan string
	pending sync.WaitGroup
	workers sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSettler enables the settlement stage.
func WithSettler(s Settler) Option {
	return func(o *Orchestrator) { o.settler = s }
}

// WithPublisher publishes every committed status change.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithSleep overrides how the driver waits between stages and polls.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// New creates an orchestrator. Call Start before submitting intents.
func New(cfg Config, st store.Store, router Router, logger logger.Logger, opts ...Option) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.StatusPollAttempts <= 0 {
		cfg.StatusPollAttempts = 1
	}
	if cfg.CASRetries < 0 {
		cfg.CASRetries = 0
	}
	o := &Orchestrator{
		cfg:       cfg,
		store:     st,
		router:    router,
		publisher: events.Noop{},
		logger:    logger,
		now:       time.Now,
		sleep:     sleepContext,
		locks:     newKeyedMutex(),
		jobs:      make(chan string, cfg.QueueSize),
		cancels:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Start launches the worker pool and the expiry sweep, and resumes every
// non-terminal intent already in the store. It returns immediately; the
// workers stop when ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.logger.Info("Starting %d orchestrator workers", o.cfg.Workers)
	for i := 0; i < o.cfg.Workers; i++ {
		o.workers.Add(1)
		go o.worker(ctx, i)
	}

	if o.cfg.SweepInterval > 0 {
		o.workers.Add(1)
		go o.sweepLoop(ctx)
	}

	open, err := o.store.List(ctx, store.ListOptions{Statuses: []models.Status{
		models.StatusCreated, models.StatusQuoted, models.StatusExecuting, models.StatusSettling,
	}})
	if err != nil {
		return fmt.Errorf("failed to list open intents: %w", err)
	}
	if len(open) > 0 {
		o.logger.Notice("Resuming %d open intents", len(open))
	}
	for _, rec := range open {
		if err := o.enqueue(ctx, rec.Intent.ID); err != nil {
			return err
		}
	}
	return nil
}

// Wait blocks until every scheduled driver has finished.
func (o *Orchestrator) Wait() {
	o.pending.Wait()
}

// Stop waits for the workers to exit. Cancel the Start context first.
func (o *Orchestrator) Stop() {
	o.workers.Wait()
}

func (o *Orchestrator) enqueue(ctx context.Context, id string) error {
	o.pending.Add(1)
	select {
	case o.jobs <- id:
		return nil
	case <-ctx.Done():
		o.pending.Done()
		return ctx.Err()
	}
}

// worker processes intents from the job queue
func (o *Orchestrator) worker(ctx context.Context, id int) {
	defer o.workers.Done()
	o.logger.Debug("Starting worker %d", id)
	for {
		select {
		case <-ctx.Done():
			o.logger.Debug("Worker %d shutting down", id)
			return
		case intentID := <-o.jobs:
			o.run(ctx, intentID)
			o.pending.Done()
		}
	}
}

func (o *Orchestrator) run(ctx context.Context, id string) {
	driveCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancels[id] = cancel
	o.mu.Unlock()
	metrics.ActiveIntents.Inc()

	defer func() {
		metrics.ActiveIntents.Dec()
		o.mu.Lock()
		delete(o.cancels, id)
		o.mu.Unlock()
		cancel()
	}()

	o.drive(driveCtx, id)
}

// cancelDriver stops the in-flight driver of an intent, if any.
func (o *Orchestrator) cancelDriver(id string) {
	o.mu.Lock()
	cancel, ok := o.cancels[id]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

// Submit stores a new intent as CREATED and schedules its lifecycle.
func (o *Orchestrator) Submit(ctx context.Context, intent models.Intent) (*models.IntentRecord, error) {
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	now := o.now()
	rec := models.NewIntentRecord(intent, now)
	if err := o.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store intent %s: %w", intent.ID, err)
	}
	o.committed(ctx, "", rec, now)
	o.logger.Info("Intent %s created (%s %s -> %s %s, amount %s)",
		intent.ID, intent.SourceChain, intent.TokenIn, intent.DestinationChain, intent.TokenOut, intent.AmountIn)

	if err := o.enqueue(ctx, intent.ID); err != nil {
		return rec, fmt.Errorf("failed to schedule intent %s: %w", intent.ID, err)
	}
	return rec, nil
}

// Get returns the stored record of an intent.
func (o *Orchestrator) Get(ctx context.Context, id string) (*models.IntentRecord, error) {
	return o.store.Get(ctx, id)
}

// List returns stored records.
func (o *Orchestrator) List(ctx context.Context, opts store.ListOptions) ([]*models.IntentRecord, error) {
	return o.store.List(ctx, opts)
}

// Abort marks a non-terminal intent ABORTED on behalf of an operator and
// stops its driver. Late results of the driver are discarded.
func (o *Orchestrator) Abort(ctx context.Context, id, reason string) (*models.IntentRecord, error) {
	rec, applied, err := o.update(ctx, id, false, func(r *models.IntentRecord, now time.Time) bool {
		advance(r, models.StatusAborted)
		r.AppendStep("Aborted By Operator", models.StepFailed, now, map[string]string{"reason": reason})
		r.AppendReason(models.ReasonOperatorAbort, "operator", now)
		r.OperatorLog = append(r.OperatorLog, fmt.Sprintf("aborted by operator: %s", reason))
		return true
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return rec, ErrTerminal
	}
	o.cancelDriver(id)
	o.logger.Notice("Intent %s aborted by operator: %s", id, reason)
	return rec, nil
}
