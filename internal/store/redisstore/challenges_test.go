package redisstore

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"authcore.dev/internal/auth"
	"authcore.dev/internal/ids"
)

func TestDecodeChallenge(t *testing.T) {
	now := time.UnixMilli(time.Now().UnixMilli()).UTC()
	c, err := decodeChallenge("c1", map[string]string{
		"user_id":    "u1",
		"session_id": "s1",
		"created_at": "1700000000000",
		"expires_at": "1700000300000",
	})
	require.NoError(t, err)
	require.Equal(t, "u1", c.UserID)
	require.Equal(t, 5*time.Minute, c.ExpiresAt.Sub(c.CreatedAt))
	require.Nil(t, c.ConsumedAt)

	c, err = decodeChallenge("c1", map[string]string{
		"created_at":  "1",
		"expires_at":  "2",
		"consumed_at": "2",
	})
	require.NoError(t, err)
	require.NotNil(t, c.ConsumedAt)
	require.False(t, c.Open(now))

	_, err = decodeChallenge("c1", map[string]string{"created_at": "x"})
	require.Error(t, err)
}

func TestWithPrefix(t *testing.T) {
	s := New(nil, WithPrefix("test:"))
	require.Equal(t, "test:abc", s.key("abc"))
	require.Equal(t, defaultPrefix+"abc", New(nil, WithPrefix("")).key("abc"))
}

func liveStore(t *testing.T) *ChallengeStore {
	t.Helper()
	addr := os.Getenv("AUTHCORE_REDIS_ADDR")
	if addr == "" {
		t.Skip("AUTHCORE_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	return New(client, WithPrefix("authcore:test:"+ids.New()+":"))
}

func TestChallengeLifecycle(t *testing.T) {
	s := liveStore(t)
	ctx := context.Background()
	now := time.Now()
	c := &auth.Challenge{ID: "c1", UserID: "u1", SessionID: "s1", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}

	require.NoError(t, s.Create(ctx, c))
	require.ErrorIs(t, s.Create(ctx, c), auth.ErrConflict)

	got, err := s.Find(ctx, "c1")
	require.NoError(t, err)
	require.True(t, got.Open(now))

	require.NoError(t, s.Consume(ctx, "c1", now))
	require.ErrorIs(t, s.Consume(ctx, "c1", now), auth.ErrConflict)
	require.ErrorIs(t, s.Consume(ctx, "missing", now), auth.ErrNotFound)

	_, err = s.Find(ctx, "missing")
	require.ErrorIs(t, err, auth.ErrNotFound)
}

func TestChallengeConsumedOnce(t *testing.T) {
	s := liveStore(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.Create(ctx, &auth.Challenge{ID: "race", UserID: "u1", SessionID: "s1", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}))

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := s.Consume(ctx, "race", now); {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, auth.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
	require.Equal(t, int32(15), conflicts.Load())
}
