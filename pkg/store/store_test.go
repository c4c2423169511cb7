package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/speedrun-hq/speedrun-router/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(createdAt time.Time) *models.IntentRecord {
	return models.NewIntentRecord(models.Intent{
		ID:               uuid.NewString(),
		SourceChain:      "arbitrum",
		DestinationChain: "optimism",
		TokenIn:          "USDC",
		TokenOut:         "WETH",
		AmountIn:         "100",
		Deadline:         createdAt.Add(time.Hour).Unix(),
	}, createdAt)
}

// runStoreContract exercises the behavior every backend must share.
func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		_, err := s.Get(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put then get", func(t *testing.T) {
		rec := newRecord(time.Now())
		require.NoError(t, s.Put(ctx, rec))
		assert.Equal(t, int64(1), rec.Version)

		got, err := s.Get(ctx, rec.Intent.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.Intent, got.Intent)
		assert.Equal(t, models.StatusCreated, got.Status)
		assert.Equal(t, int64(1), got.Version)
		require.Len(t, got.ExecutionSteps, 1)

		assert.ErrorIs(t, s.Put(ctx, newRecordWithID(rec.Intent.ID)), ErrExists)
	})

	t.Run("compare and swap", func(t *testing.T) {
		rec := newRecord(time.Now())
		require.NoError(t, s.Put(ctx, rec))

		rec.Status = models.StatusQuoted
		rec.AppendStep("Quote Received", models.StepCompleted, time.Now(), nil)
		require.NoError(t, s.CompareAndSwap(ctx, 1, rec))
		assert.Equal(t, int64(2), rec.Version)

		stale := rec.Clone()
		stale.Status = models.StatusAborted
		assert.ErrorIs(t, s.CompareAndSwap(ctx, 1, stale), ErrConflict)

		got, err := s.Get(ctx, rec.Intent.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusQuoted, got.Status)
		assert.Len(t, got.ExecutionSteps, 2)

		assert.ErrorIs(t, s.CompareAndSwap(ctx, 1, newRecord(time.Now())), ErrNotFound)
	})

	t.Run("returned records are copies", func(t *testing.T) {
		rec := newRecord(time.Now())
		require.NoError(t, s.Put(ctx, rec))

		got, err := s.Get(ctx, rec.Intent.ID)
		require.NoError(t, err)
		got.ExecutionSteps[0].Step = "mutated"

		again, err := s.Get(ctx, rec.Intent.ID)
		require.NoError(t, err)
		assert.NotEqual(t, "mutated", again.ExecutionSteps[0].Step)
	})

	t.Run("concurrent writers never lose updates", func(t *testing.T) {
		rec := newRecord(time.Now())
		require.NoError(t, s.Put(ctx, rec))

		const writers = 8
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				for {
					current, err := s.Get(ctx, rec.Intent.ID)
					if !assert.NoError(t, err) {
						return
					}
					current.AppendStep(fmt.Sprintf("writer %d", i), models.StepInfo, time.Now(), nil)
					err = s.CompareAndSwap(ctx, current.Version, current)
					if err == nil {
						return
					}
					if !assert.ErrorIs(t, err, ErrConflict) {
						return
					}
				}
			}(i)
		}
		wg.Wait()

		got, err := s.Get(ctx, rec.Intent.ID)
		require.NoError(t, err)
		assert.Len(t, got.ExecutionSteps, writers+1)
		assert.Equal(t, int64(writers+1), got.Version)
	})

	t.Run("list filters by status", func(t *testing.T) {
		base := time.Now().Add(time.Hour)
		settled := newRecord(base)
		require.NoError(t, s.Put(ctx, settled))
		settled.Status = models.StatusSettled
		require.NoError(t, s.CompareAndSwap(ctx, 1, settled))

		records, err := s.List(ctx, ListOptions{Statuses: []models.Status{models.StatusSettled}})
		require.NoError(t, err)
		found := false
		for _, r := range records {
			assert.Equal(t, models.StatusSettled, r.Status)
			if r.Intent.ID == settled.Intent.ID {
				found = true
			}
		}
		assert.True(t, found)

		limited, err := s.List(ctx, ListOptions{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})

	t.Run("empty list is not nil", func(t *testing.T) {
		records, err := s.List(ctx, ListOptions{Statuses: []models.Status{models.StatusExpired}})
		require.NoError(t, err)
		assert.NotNil(t, records)
		assert.Empty(t, records)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, s.Ping(ctx))
	})
}

func newRecordWithID(id string) *models.IntentRecord {
	rec := newRecord(time.Now())
	rec.Intent.ID = id
	return rec
}

func TestCASMissKeepsLookupErrors(t *testing.T) {
	assert.ErrorIs(t, casMiss("a", nil), ErrConflict)
	assert.ErrorIs(t, casMiss("a", sql.ErrNoRows), ErrNotFound)

	err := casMiss("a", sql.ErrConnDone)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "intents.db"))
	require.NoError(t, err)
	defer s.Close()
	runStoreContract(t, s)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intents.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	rec := newRecord(time.Now())
	require.NoError(t, s.Put(context.Background(), rec))
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get(context.Background(), rec.Intent.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Intent.ID, got.Intent.ID)
}

func TestDecodeRecordToleratesOldPayloads(t *testing.T) {
	rec, err := decodeRecord(`{"intent":{"id":"x"},"status":"QUOTED","futureField":true}`, 4)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQuoted, rec.Status)
	assert.Equal(t, int64(4), rec.Version)
	assert.NotNil(t, rec.ReasonCodes)
	assert.NotNil(t, rec.FallbackMode.Reasons)
}

func TestMySQLStore(t *testing.T) {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		t.Skip("MYSQL_DSN not set")
	}
	s, err := OpenMySQL(dsn)
	require.NoError(t, err)
	defer s.Close()
	runStoreContract(t, s)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	s, err := NewRedisStore(context.Background(), RedisConfig{Addr: addr, KeyPrefix: "test-" + uuid.NewString()})
	require.NoError(t, err)
	defer s.Close()
	runStoreContract(t, s)
}
