package fetcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryEnvelopeCanRetry(t *testing.T) {
	e := RetryEnvelope[string]{Payload: "x", Delay: 8 * time.Second, Max: 8 * time.Second}
	require.True(t, e.CanRetry())

	e.Delay = 9 * time.Second
	require.False(t, e.CanRetry())
}

func TestRetryQueueScenario6DelaySequence(t *testing.T) {
	// Scenario 6 (delay=2s, factor=2, max=8s) scaled down to milliseconds and
	// started one step lower, at a 1ms base: the three observed delays are
	// 1ms, 2ms and 4ms, and a fourth retry at 8ms is still permitted.
	q := NewRetryQueue[string](4)
	start := time.Now()

	var observed []time.Duration
	envelope := NewRetryEnvelope("media.jpg", 1*time.Millisecond, 2, 8*time.Millisecond)

	for i := 0; i < 3; i++ {
		require.True(t, envelope.CanRetry())
		q.Enqueue(envelope)
		envelope = <-q.Output()
		observed = append(observed, time.Since(start))
		start = time.Now()
	}

	require.Len(t, observed, 3)
	// A 4th retry would need delay=8ms, still within max, so it's allowed.
	require.True(t, envelope.CanRetry())

	next := envelope
	next.Delay = time.Duration(float64(next.Delay) * float64(next.Factor))
	require.False(t, next.CanRetry(), "delay should eventually exceed max")
}

func TestRetryQueueDelayOutGreaterThanDelayIn(t *testing.T) {
	q := NewRetryQueue[int](1)
	envelope := NewRetryEnvelope(1, time.Millisecond, 3, time.Second)

	delayIn := envelope.Delay
	q.Enqueue(envelope)
	next := <-q.Output()

	require.Greater(t, next.Delay, delayIn)
	require.LessOrEqual(t, delayIn, envelope.Max)
}

func TestRetryQueueDropsEnvelopeThatCannotRetry(t *testing.T) {
	q := NewRetryQueue[int](1)
	envelope := RetryEnvelope[int]{Payload: 1, Delay: 10 * time.Second, Factor: 2, Max: time.Second}

	q.Enqueue(envelope) // CanRetry() is false, Enqueue must no-op

	select {
	case <-q.Output():
		t.Fatal("expected no envelope to be enqueued")
	case <-time.After(20 * time.Millisecond):
	}
}
