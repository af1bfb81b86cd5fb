package dlock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidateDefaults(t *testing.T) {
	var cfg Config
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.TTL)
	assert.Equal(t, 2*time.Second, cfg.Wait)
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval)

	// Explicit values survive validation.
	cfg = Config{TTL: time.Minute, Wait: 5 * time.Second, PollInterval: time.Second}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Minute, cfg.TTL)
	assert.Equal(t, 5*time.Second, cfg.Wait)
	assert.Equal(t, time.Second, cfg.PollInterval)
}

func TestNopProvider(t *testing.T) {
	ctx := context.Background()
	lock, err := NopProvider{}.Acquire(ctx, "dlock:clearing:USD")
	require.NoError(t, err)
	require.NotNil(t, lock)

	// Acquisition never contends and release is idempotent.
	again, err := NopProvider{}.Acquire(ctx, "dlock:clearing:USD")
	require.NoError(t, err)
	assert.NoError(t, again.Release(ctx))
	assert.NoError(t, lock.Release(ctx))
	assert.NoError(t, lock.Release(ctx))
}
