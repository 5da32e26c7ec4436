// Package ratelimit implements the engine's per-URL token bucket with
// adaptive backoff (spec.md §4.1), grounded on the per-key token bucket
// shape of a generic rate-limit middleware in the example pack and the
// throughput/backoff arithmetic of original_source/download_optimizer.py.
package ratelimit

import (
	"context"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/streampull/streampull/internal/engine/types"
	"github.com/streampull/streampull/internal/utils"
)

const (
	minBackoff         = 1.0
	maxBackoff         = 8.0
	backoffGrowth      = 1.5
	backoffDecay       = 0.9
	defaultRateBps     = 5 * types.MB
	speedWindowSamples = 5
)

type bucket struct {
	mu sync.Mutex

	tokens            float64
	lastRefill        time.Time
	backoffMultiplier float64

	speedSamples []float64 // bytes/sec, rolling window
}

// Limiter is a per-URL token bucket rate limiter shared by every fetcher of
// one engine instance.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	globalLimitBps int64 // 0 = unlimited

	now func() time.Time
}

// New returns a Limiter with no global cap set.
func New() *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *Limiter) bucketFor(rawURL string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[rawURL]
	if !ok {
		b = &bucket{
			lastRefill:        l.now(),
			backoffMultiplier: minBackoff,
		}
		l.buckets[rawURL] = b
	}
	return b
}

// SetGlobalLimit sets a shared speed cap across every URL; 0 means
// unlimited.
func (l *Limiter) SetGlobalLimit(bytesPerSecond int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.globalLimitBps = bytesPerSecond
}

// PlanChunks selects a chunk layout for a file of the given size using the
// size-tier rule from spec.md §4.1, identical to
// download_optimizer.py's calculate_optimal_chunks.
func PlanChunks(fileSize int64, maxChunks int) types.ChunkPlan {
	if fileSize <= 0 {
		return types.ChunkPlan{Chunks: []types.Chunk{{Index: 0, Start: 0, End: nil}}}
	}
	if maxChunks < 1 {
		maxChunks = 1
	}

	var n int
	switch {
	case fileSize < 1*types.MB:
		n = 1
	case fileSize < 10*types.MB:
		n = min(2, maxChunks)
	case fileSize < 100*types.MB:
		n = min(4, maxChunks)
	default:
		n = maxChunks
	}
	if n < 1 {
		n = 1
	}

	chunkSize := fileSize / int64(n)
	chunks := make([]types.Chunk, n)
	for i := 0; i < n; i++ {
		start := int64(i) * chunkSize
		var end int64
		if i == n-1 {
			end = fileSize - 1
		} else {
			end = start + chunkSize - 1
		}
		e := end
		chunks[i] = types.Chunk{Index: i, Start: start, End: &e}
	}

	return types.ChunkPlan{Chunks: chunks, TotalSize: fileSize}
}

// AwaitTokens blocks until the bucket for url holds at least n bytes of
// transfer permission, then subtracts them.
func (l *Limiter) AwaitTokens(ctx context.Context, rawURL string, n int64) error {
	b := l.bucketFor(rawURL)

	for {
		b.mu.Lock()
		now := l.now()
		delta := now.Sub(b.lastRefill).Seconds()
		rate := l.effectiveRate(b)
		maxTokens := float64(2 * defaultMaxChunkSize())

		b.tokens += delta * rate
		if b.tokens > maxTokens {
			b.tokens = maxTokens
		}
		b.lastRefill = now

		if b.tokens >= float64(n) {
			b.tokens -= float64(n)
			b.mu.Unlock()
			return nil
		}

		deficit := float64(n) - b.tokens
		waitSecs := deficit / rate
		jitter := 1.0 + rand.Float64()*0.1
		waitSecs *= jitter
		b.tokens = 0
		b.mu.Unlock()

		timer := time.NewTimer(time.Duration(waitSecs * float64(time.Second)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func defaultMaxChunkSize() int64 { return 32 * types.MB }

// effectiveRate must be called with b.mu held.
func (l *Limiter) effectiveRate(b *bucket) float64 {
	l.mu.Lock()
	global := l.globalLimitBps
	l.mu.Unlock()

	if global > 0 {
		return float64(global) / b.backoffMultiplier
	}

	if avg := averageOf(b.speedSamples); avg > 0 {
		return 1.2 * avg / b.backoffMultiplier
	}

	return float64(defaultRateBps) / b.backoffMultiplier
}

// RecordThroughput folds one observed sample into the rolling window and
// decays the backoff multiplier toward 1.0 on a good sample.
func (l *Limiter) RecordThroughput(rawURL string, n int64, elapsedSeconds float64) {
	if elapsedSeconds <= 0 {
		return
	}
	b := l.bucketFor(rawURL)
	b.mu.Lock()
	defer b.mu.Unlock()

	speed := float64(n) / elapsedSeconds
	b.speedSamples = append(b.speedSamples, speed)
	if len(b.speedSamples) > speedWindowSamples {
		b.speedSamples = b.speedSamples[len(b.speedSamples)-speedWindowSamples:]
	}

	b.backoffMultiplier = 1.0 + (b.backoffMultiplier-1.0)*backoffDecay
	if b.backoffMultiplier < minBackoff {
		b.backoffMultiplier = minBackoff
	}
}

// SignalError multiplies the backoff multiplier by 1.5, capped at 8.0.
func (l *Limiter) SignalError(rawURL string) {
	b := l.bucketFor(rawURL)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.backoffMultiplier *= backoffGrowth
	if b.backoffMultiplier > maxBackoff {
		b.backoffMultiplier = maxBackoff
	}
	utils.Debug("ratelimit: backoff for %s now %.2fx", hostOf(rawURL), b.backoffMultiplier)
}

// AverageSpeed returns the rolling-window average bytes/sec observed for
// url, or 0 if no samples have been recorded yet. Supplemented from the
// Python optimizer's get_download_speed (not named in spec.md, used by
// BatchScheduler's active-download aggregation).
func (l *Limiter) AverageSpeed(rawURL string) float64 {
	b := l.bucketFor(rawURL)
	b.mu.Lock()
	defer b.mu.Unlock()
	return averageOf(b.speedSamples)
}

func averageOf(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}
