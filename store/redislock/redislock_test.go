package redislock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/renewal-engine/renewal"
)

func setupLock(t *testing.T) (*miniredis.Miniredis, *Lock) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, New(client)
}

func TestLock_SecondAcquireFailsUntilReleased(t *testing.T) {
	mr, lock := setupLock(t)
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "run", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("run"))

	_, err = lock.Acquire(ctx, "run", time.Minute)
	assert.ErrorIs(t, err, renewal.ErrRunInProgress)

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists("run"))

	release2, err := lock.Acquire(ctx, "run", time.Minute)
	require.NoError(t, err)
	require.NoError(t, release2(ctx))
}

func TestLock_ExpiresAfterTTL(t *testing.T) {
	mr, lock := setupLock(t)
	ctx := context.Background()

	_, err := lock.Acquire(ctx, "run", time.Minute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = lock.Acquire(ctx, "run", time.Minute)
	assert.NoError(t, err)
}

func TestLock_StaleReleaseKeepsNewHolder(t *testing.T) {
	mr, lock := setupLock(t)
	ctx := context.Background()

	// GIVEN: first holder's key expired and a second holder took over
	staleRelease, err := lock.Acquire(ctx, "run", time.Minute)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = lock.Acquire(ctx, "run", time.Minute)
	require.NoError(t, err)

	// WHEN: the first holder releases late
	require.NoError(t, staleRelease(ctx))

	// THEN: the second holder's key survives
	assert.True(t, mr.Exists("run"))
}
