package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	p := New(4, 2)
	ctx := context.Background()

	release, err := p.Acquire(ctx, "https://a.example.com/x.ts")
	require.NoError(t, err)
	assert.Equal(t, 1, p.HostInflight("https://a.example.com/x.ts"))
	assert.Equal(t, 1, p.URLInflight("https://a.example.com/x.ts"))

	release()
	assert.Equal(t, 0, p.HostInflight("https://a.example.com/x.ts"))
	assert.Equal(t, 0, p.URLInflight("https://a.example.com/x.ts"))
}

func TestPerHostCapEnforced(t *testing.T) {
	p := New(10, 2)
	ctx := context.Background()

	var observedMax int32
	var current int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := p.Acquire(ctx, "https://shared.example.com/v.ts")
			require.NoError(t, err)
			n := atomic.AddInt32(&current, 1)
			for {
				old := atomic.LoadInt32(&observedMax)
				if n <= old || atomic.CompareAndSwapInt32(&observedMax, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&current, -1)
			release()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, observedMax, int32(2))
}

func TestGlobalCapEnforced(t *testing.T) {
	p := New(2, 10)
	ctx := context.Background()

	var observedMax int32
	var current int32
	var wg sync.WaitGroup

	hosts := []string{"a.example.com", "b.example.com", "c.example.com", "d.example.com"}
	for i := 0; i < 8; i++ {
		host := hosts[i%len(hosts)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := p.Acquire(ctx, "https://"+host+"/v.ts")
			require.NoError(t, err)
			n := atomic.AddInt32(&current, 1)
			for {
				old := atomic.LoadInt32(&observedMax)
				if n <= old || atomic.CompareAndSwapInt32(&observedMax, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&current, -1)
			release()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, observedMax, int32(2))
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	p := New(1, 1)
	ctx := context.Background()

	release, err := p.Acquire(ctx, "https://example.com/a.ts")
	require.NoError(t, err)
	defer release()

	cctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(cctx, "https://example.com/a.ts")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
