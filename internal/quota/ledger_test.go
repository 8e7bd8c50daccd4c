package quota

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openTestLedger(t *testing.T, limit int64, window time.Duration) *Ledger {
	t.Helper()
	l, err := Open(Config{
		Path:   filepath.Join(t.TempDir(), "ledger.db"),
		Limit:  limit,
		Window: window,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedgerBoundary(t *testing.T) {
	l := openTestLedger(t, 5, 24*time.Hour)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		res, err := l.CheckAndIncrement(ctx, "caller-a")
		require.NoError(t, err)
		assert.Equal(t, int64(i), res.Count)
		assert.True(t, res.Allowed, "call %d should be allowed", i)
	}

	// Call 6 is rejected but the increment stands.
	res, err := l.CheckAndIncrement(ctx, "caller-a")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(6), res.Count)

	count, err := l.Count(ctx, "caller-a")
	require.NoError(t, err)
	assert.Equal(t, int64(6), count)
}

func TestLedgerCallersIndependent(t *testing.T) {
	l := openTestLedger(t, 5, 24*time.Hour)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := l.CheckAndIncrement(ctx, "noisy")
		require.NoError(t, err)
	}

	res, err := l.CheckAndIncrement(ctx, "quiet")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1), res.Count)
}

// N concurrent calls for one caller must observe counts that are a
// permutation of {1..N}: no lost updates, no duplicates.
func TestLedgerConcurrentIncrements(t *testing.T) {
	l := openTestLedger(t, 1000, 24*time.Hour)
	ctx := context.Background()

	const n = 50
	counts := make([]int64, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			res, err := l.CheckAndIncrement(ctx, "caller-c")
			if err != nil {
				t.Error(err)
				return
			}
			counts[i] = res.Count
		}(i)
	}
	wg.Wait()

	sort.Slice(counts, func(i, j int) bool { return counts[i] < counts[j] })
	for i := 0; i < n; i++ {
		require.Equal(t, int64(i+1), counts[i], "counts must be a gap-free permutation")
	}
}

func TestLedgerWindowRollover(t *testing.T) {
	l := openTestLedger(t, 5, time.Hour)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 10, 30, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	for i := 0; i < 6; i++ {
		_, err := l.CheckAndIncrement(ctx, "caller-w")
		require.NoError(t, err)
	}
	res, err := l.CheckAndIncrement(ctx, "caller-w")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, base.Truncate(time.Hour).Add(time.Hour), res.ResetAt)

	// Next window starts a fresh count.
	l.now = func() time.Time { return base.Add(time.Hour) }
	res, err = l.CheckAndIncrement(ctx, "caller-w")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1), res.Count)
}

func TestLedgerFailsClosedAfterClose(t *testing.T) {
	l := openTestLedger(t, 5, 24*time.Hour)
	require.NoError(t, l.Close())

	_, err := l.CheckAndIncrement(context.Background(), "caller-x")
	assert.Error(t, err)
}

func TestOpenRejectsNonPositiveLimit(t *testing.T) {
	_, err := Open(Config{Path: filepath.Join(t.TempDir(), "l.db"), Limit: 0}, nil)
	assert.Error(t, err)
}
