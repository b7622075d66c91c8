package tabular

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerSerializesPerKey(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background(), "Detalle")
	require.NoError(t, err)

	other, err := l.Lock(context.Background(), "Historial")
	require.NoError(t, err, "different keys must not block")
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "Detalle")
	assert.True(t, errors.Is(err, ErrLockBusy))

	unlock()
	again, err := l.Lock(context.Background(), "Detalle")
	require.NoError(t, err)
	again()
}

func TestRedisLockerExcludesSecondHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l := NewRedisLocker(client, time.Minute, 0)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "Detalle")
	require.NoError(t, err)

	_, err = l.Lock(ctx, "Detalle")
	assert.ErrorIs(t, err, ErrLockBusy)
	assert.True(t, IsRetryable(err))

	unlock()
	again, err := l.Lock(ctx, "Detalle")
	require.NoError(t, err)
	again()
}
