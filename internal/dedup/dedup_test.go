package dedup_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/k1networth/cdc-relay/internal/dedup"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStoreLifecycle(t *testing.T) {
	mr, client := setupTestRedis(t)
	s := dedup.NewRedis(client, time.Hour)
	ctx := context.Background()
	e := dedup.Entry{EventID: "ev-1", DetailType: "ProductDataChangeEvent", Source: "kinesis.inventory.products"}

	t.Run("first attempt processes", func(t *testing.T) {
		ok, err := s.Begin(ctx, e)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("failed attempt is retried", func(t *testing.T) {
		require.NoError(t, s.Failed(ctx, e.EventID, errors.New("boom")))
		ok, err := s.Begin(ctx, e)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("done is skipped", func(t *testing.T) {
		require.NoError(t, s.Done(ctx, e.EventID))
		ok, err := s.Begin(ctx, e)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("expired key processes again", func(t *testing.T) {
		mr.FastForward(2 * time.Hour)
		ok, err := s.Begin(ctx, e)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestRedisStoreSetsTTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	s := dedup.NewRedis(client, 10*time.Minute)

	_, err := s.Begin(context.Background(), dedup.Entry{EventID: "ev-2"})
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, mr.TTL("cdc:processed:ev-2"))
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr, client := setupTestRedis(t)
	mr.Close()

	_, err := dedup.NewRedis(client, time.Hour).Begin(context.Background(), dedup.Entry{EventID: "ev-3"})
	require.Error(t, err)
}

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    dedup.Backend
		wantErr bool
	}{
		{"", dedup.BackendNone, false},
		{"none", dedup.BackendNone, false},
		{"Postgres", dedup.BackendPostgres, false},
		{"redis", dedup.BackendRedis, false},
		{"dynamo", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := dedup.ParseBackend(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, dedup.ErrUnknownBackend)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
