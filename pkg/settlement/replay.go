package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrAlreadySettled means the intent id has been settled before.
	ErrAlreadySettled = errors.New("intent already settled")
	// ErrSettlementInFlight means another attempt holds the reservation.
	ErrSettlementInFlight = errors.New("settlement already in progress")
)

// ReplayGuard is the settled flag per intent id. Reserve is the atomic
// check-and-set; Commit turns a reservation into the permanent settled flag and
// Release drops a reservation that did not settle. A committed id is never reset.
type ReplayGuard interface {
	Reserve(ctx context.Context, intentID string) error
	Commit(ctx context.Context, intentID string) error
	Release(ctx context.Context, intentID string) error
	Settled(ctx context.Context, intentID string) (bool, error)
}

// DefaultReservationTTL bounds how long a reservation survives a process that
// died between Reserve and Commit or Release.
const DefaultReservationTTL = 2 * time.Minute

type guardOptions struct {
	ttl time.Duration
}

// GuardOption configures a shared replay guard.
type GuardOption func(*guardOptions)

// ReservationTTL sets how long an uncommitted reservation is honored.
func ReservationTTL(d time.Duration) GuardOption {
	return func(o *guardOptions) { o.ttl = d }
}

func applyGuardOptions(opts []GuardOption) guardOptions {
	o := guardOptions{ttl: DefaultReservationTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl <= 0 {
		o.ttl = DefaultReservationTTL
	}
	return o
}

type replayState int

const (
	replayReserved replayState = iota + 1
	replaySettled
)

// MemoryReplayGuard keeps settlement flags in process memory.
type MemoryReplayGuard struct {
	mu    sync.Mutex
	state map[string]replayState
}

var _ ReplayGuard = (*MemoryReplayGuard)(nil)

func NewMemoryReplayGuard() *MemoryReplayGuard {
	return &MemoryReplayGuard{state: make(map[string]replayState)}
}

func (g *MemoryReplayGuard) Reserve(_ context.Context, intentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.state[intentID] {
	case replaySettled:
		return ErrAlreadySettled
	case replayReserved:
		return ErrSettlementInFlight
	}
	g.state[intentID] = replayReserved
	return nil
}

func (g *MemoryReplayGuard) Commit(_ context.Context, intentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state[intentID] != replayReserved && g.state[intentID] != replaySettled {
		return fmt.Errorf("intent %s has no reservation to commit", intentID)
	}
	g.state[intentID] = replaySettled
	return nil
}

func (g *MemoryReplayGuard) Release(_ context.Context, intentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state[intentID] == replayReserved {
		delete(g.state, intentID)
	}
	return nil
}

func (g *MemoryReplayGuard) Settled(_ context.Context, intentID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state[intentID] == replaySettled, nil
}

const (
	flagReserved = "reserved"
	flagSettled  = "settled"
)

// releaseScript deletes the key only while it still holds a reservation.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisReplayGuard shares settlement flags between router instances.
// Reservations expire after the reservation TTL; settled flags never do.
type RedisReplayGuard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ ReplayGuard = (*RedisReplayGuard)(nil)

func NewRedisReplayGuard(client *redis.Client, prefix string, opts ...GuardOption) *RedisReplayGuard {
	if prefix == "" {
		prefix = "router"
	}
	return &RedisReplayGuard{client: client, prefix: prefix, ttl: applyGuardOptions(opts).ttl}
}

func (g *RedisReplayGuard) key(intentID string) string {
	return g.prefix + ":settled:" + intentID
}

func (g *RedisReplayGuard) Reserve(ctx context.Context, intentID string) error {
	ok, err := g.client.SetNX(ctx, g.key(intentID), flagReserved, g.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve settlement: %w", err)
	}
	if ok {
		return nil
	}
	current, err := g.client.Get(ctx, g.key(intentID)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// released between SETNX and GET; the caller may retry
		return ErrSettlementInFlight
	case err != nil:
		return fmt.Errorf("failed to read settlement flag: %w", err)
	case current == flagSettled:
		return ErrAlreadySettled
	default:
		return ErrSettlementInFlight
	}
}

// Commit overwrites the reservation without an expiry, which also drops its TTL.
func (g *RedisReplayGuard) Commit(ctx context.Context, intentID string) error {
	if err := g.client.Set(ctx, g.key(intentID), flagSettled, 0).Err(); err != nil {
		return fmt.Errorf("failed to commit settlement flag: %w", err)
	}
	return nil
}

func (g *RedisReplayGuard) Release(ctx context.Context, intentID string) error {
	if err := releaseScript.Run(ctx, g.client, []string{g.key(intentID)}, flagReserved).Err(); err != nil {
		return fmt.Errorf("failed to release settlement reservation: %w", err)
	}
	return nil
}

func (g *RedisReplayGuard) Settled(ctx context.Context, intentID string) (bool, error) {
	v, err := g.client.Get(ctx, g.key(intentID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read settlement flag: %w", err)
	}
	return v == flagSettled, nil
}
