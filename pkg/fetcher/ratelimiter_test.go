package fetcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterEnforcesConcurrencyCap(t *testing.T) {
	rl := NewRateLimiter[int](2, 100, time.Hour)

	var inFlight, maxInFlight int32
	release := make(chan struct{})

	submit := func() <-chan Result[int] {
		return rl.Submit(context.Background(), func(ctx context.Context) (int, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&maxInFlight)
				if n <= old || atomic.CompareAndSwapInt32(&maxInFlight, old, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&inFlight, -1)
			return 0, nil
		})
	}

	results := make([]<-chan Result[int], 5)
	for i := range results {
		results[i] = submit()
	}

	time.Sleep(50 * time.Millisecond)
	require.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(2))

	close(release)
	for _, r := range results {
		<-r
	}
}

func TestRateLimiterEnforcesWindowCap(t *testing.T) {
	rl := NewRateLimiter[int](10, 2, 100*time.Millisecond)

	var admitted int32
	submit := func() <-chan Result[int] {
		return rl.Submit(context.Background(), func(ctx context.Context) (int, error) {
			atomic.AddInt32(&admitted, 1)
			return 0, nil
		})
	}

	ch1, ch2, ch3 := submit(), submit(), submit()
	<-ch1
	<-ch2

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(2), atomic.LoadInt32(&admitted), "third submission should not be admitted yet")

	<-ch3 // unblocks once the window resets
	require.Equal(t, int32(3), atomic.LoadInt32(&admitted))
}

func TestRateLimiterSubmitRespectsContextCancellation(t *testing.T) {
	rl := NewRateLimiter[int](1, 1, time.Hour)

	// Saturate the single per-interval admission slot.
	block := make(chan struct{})
	first := rl.Submit(context.Background(), func(ctx context.Context) (int, error) {
		<-block
		return 0, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	second := rl.Submit(ctx, func(ctx context.Context) (int, error) { return 0, nil })

	res := <-second
	require.Error(t, res.Err)

	close(block)
	<-first
}
