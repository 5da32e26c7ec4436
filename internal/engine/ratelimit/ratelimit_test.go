package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanChunksSizeTiers(t *testing.T) {
	cases := []struct {
		name      string
		size      int64
		maxChunks int
		wantN     int
	}{
		{"zero size", 0, 4, 1},
		{"under 1MiB", 500 * 1024, 4, 1},
		{"under 10MiB two chunks", 5 * 1024 * 1024, 4, 2},
		{"under 10MiB capped by max", 5 * 1024 * 1024, 1, 1},
		{"under 100MiB four chunks", 50 * 1024 * 1024, 4, 4},
		{"large file uses max", 500 * 1024 * 1024, 8, 8},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := PlanChunks(tc.size, tc.maxChunks)
			assert.Len(t, plan.Chunks, tc.wantN)
		})
	}
}

func TestPlanChunksContiguousNoGapsNoOverlap(t *testing.T) {
	plan := PlanChunks(1048576, 4)
	require.Len(t, plan.Chunks, 2)

	var prevEnd int64 = -1
	for _, c := range plan.Chunks {
		assert.Equal(t, prevEnd+1, c.Start)
		require.NotNil(t, c.End)
		prevEnd = *c.End
	}
	assert.Equal(t, int64(1048575), prevEnd)
}

func TestPlanChunksZeroSizeIsOpenEnded(t *testing.T) {
	plan := PlanChunks(0, 4)
	require.Len(t, plan.Chunks, 1)
	assert.Nil(t, plan.Chunks[0].End)
}

func TestAwaitTokensGrantsImmediatelyWithinBurst(t *testing.T) {
	l := New()
	l.SetGlobalLimit(10 * 1024 * 1024)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := l.AwaitTokens(ctx, "https://example.com/a.ts", 1024)
	assert.NoError(t, err)
}

func TestSignalErrorIncreasesBackoffCappedAt8(t *testing.T) {
	l := New()
	url := "https://example.com/a.ts"

	for i := 0; i < 20; i++ {
		l.SignalError(url)
	}

	b := l.bucketFor(url)
	b.mu.Lock()
	defer b.mu.Unlock()
	assert.LessOrEqual(t, b.backoffMultiplier, maxBackoff)
	assert.Equal(t, maxBackoff, b.backoffMultiplier)
}

func TestRecordThroughputDecaysBackoffTowardOne(t *testing.T) {
	l := New()
	url := "https://example.com/a.ts"

	l.SignalError(url)
	l.SignalError(url)
	before := l.bucketFor(url)
	before.mu.Lock()
	multBefore := before.backoffMultiplier
	before.mu.Unlock()

	l.RecordThroughput(url, 1024*1024, 1.0)

	after := l.bucketFor(url)
	after.mu.Lock()
	defer after.mu.Unlock()
	assert.Less(t, after.backoffMultiplier, multBefore)
	assert.GreaterOrEqual(t, after.backoffMultiplier, minBackoff)
}

func TestAverageSpeedReflectsRollingWindow(t *testing.T) {
	l := New()
	url := "https://example.com/a.ts"

	assert.Equal(t, float64(0), l.AverageSpeed(url))

	for i := 0; i < 3; i++ {
		l.RecordThroughput(url, 1024*1024, 1.0)
	}

	assert.InDelta(t, 1024*1024, l.AverageSpeed(url), 1.0)
}
