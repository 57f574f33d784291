package idempotency

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuard(t *testing.T, opts ...GuardOption) *Guard {
	t.Helper()
	g, err := NewGuard(filepath.Join(t.TempDir(), "idempotency.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestExecuteOnceRunsExactlyOnce(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	calls := 0
	op := func(ctx context.Context) (any, error) {
		calls++
		return map[string]any{"order_id": "ord-1", "amount": "25.00"}, nil
	}

	first, err := g.ExecuteOnce(ctx, "forward-order:ord-1", op)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, first.Status)
	assert.False(t, first.WasCached)

	second, err := g.ExecuteOnce(ctx, "forward-order:ord-1", op)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, second.Status)
	assert.True(t, second.WasCached)
	assert.Equal(t, 1, calls, "operation must not run twice")

	// The cached result round-trips through JSON.
	cached, ok := second.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ord-1", cached["order_id"])
	assert.Equal(t, "25.00", cached["amount"])
}

func TestExecuteOnceRetryAfterFailure(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	calls := 0
	boom := errors.New("gateway timeout")
	op := func(ctx context.Context) (any, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return "ok", nil
	}

	_, err := g.ExecuteOnce(ctx, "k1", op)
	require.ErrorIs(t, err, boom, "operation error must come back unmodified")

	res, err := g.ExecuteOnce(ctx, "k1", op)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "ok", res.Result)
	assert.Equal(t, 2, calls)
}

func TestExecuteOnceConflictOnInFlightKey(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	_, err := g.ExecuteOnce(ctx, "k2", func(ctx context.Context) (any, error) {
		// Same key is PROCESSING while we are inside the operation.
		_, inner := g.ExecuteOnce(ctx, "k2", func(ctx context.Context) (any, error) {
			return nil, nil
		})
		var conflict *ConflictError
		require.ErrorAs(t, inner, &conflict)
		assert.Equal(t, "k2", conflict.Key)
		return "done", nil
	})
	require.NoError(t, err)
}

func TestExecuteOnceRequiresKey(t *testing.T) {
	g := newTestGuard(t)
	_, err := g.ExecuteOnce(context.Background(), "  ", func(ctx context.Context) (any, error) {
		return nil, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key is required")
}

func TestIsCompletedAndClear(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	done, err := g.IsCompleted(ctx, "k3")
	require.NoError(t, err)
	assert.False(t, done)

	_, err = g.ExecuteOnce(ctx, "k3", func(ctx context.Context) (any, error) { return 1, nil })
	require.NoError(t, err)

	done, err = g.IsCompleted(ctx, "k3")
	require.NoError(t, err)
	assert.True(t, done)

	require.NoError(t, g.Clear(ctx, "k3"))
	done, err = g.IsCompleted(ctx, "k3")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestTTLExpiryAllowsReexecution(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for TTL expiry")
	}
	g := newTestGuard(t, WithTTL(time.Second))
	ctx := context.Background()

	calls := 0
	op := func(ctx context.Context) (any, error) {
		calls++
		return "v", nil
	}

	_, err := g.ExecuteOnce(ctx, "k4", op)
	require.NoError(t, err)

	time.Sleep(2100 * time.Millisecond)

	purged, err := g.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)

	res, err := g.ExecuteOnce(ctx, "k4", op)
	require.NoError(t, err)
	assert.False(t, res.WasCached)
	assert.Equal(t, 2, calls)
}

func TestGuardSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idempotency.db")
	ctx := context.Background()

	g1, err := NewGuard(path)
	require.NoError(t, err)
	_, err = g1.ExecuteOnce(ctx, "k5", func(ctx context.Context) (any, error) { return "v", nil })
	require.NoError(t, err)
	require.NoError(t, g1.Close())

	g2, err := NewGuard(path)
	require.NoError(t, err)
	defer g2.Close()

	res, err := g2.ExecuteOnce(ctx, "k5", func(ctx context.Context) (any, error) {
		t.Fatal("operation must not run for a completed key")
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, res.WasCached)
	assert.Equal(t, "v", res.Result)
}
