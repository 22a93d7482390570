package fetcher

import "time"

// RetryEnvelope carries a payload alongside its own exponential-backoff
// state. CanRetry reports whether Delay is still within Max; each trip
// through the retry queue multiplies Delay by Factor before the payload
// is re-enqueued.
type RetryEnvelope[T any] struct {
	Payload T
	Delay   time.Duration
	Factor  uint32
	Max     time.Duration
}

// CanRetry reports whether another retry is permitted for this envelope's
// current delay.
func (e RetryEnvelope[T]) CanRetry() bool {
	return e.Delay <= e.Max
}

// NewRetryEnvelope builds the initial envelope for a payload using a
// pipeline's configured base delay/factor/max.
func NewRetryEnvelope[T any](payload T, base time.Duration, factor uint32, max time.Duration) RetryEnvelope[T] {
	return RetryEnvelope[T]{Payload: payload, Delay: base, Factor: factor, Max: max}
}

// RetryQueue re-emits enqueued envelopes on its Output channel after their
// current Delay elapses, carrying the next (Delay *= Factor) envelope so
// that a subsequent failure waits longer. Built on time.AfterFunc rather
// than a literal DelayQueue port, since that is the idiomatic Go rendition
// of "delayed re-injection into a channel".
type RetryQueue[T any] struct {
	out chan RetryEnvelope[T]
}

// NewRetryQueue constructs a retry queue with the given output buffer.
func NewRetryQueue[T any](buffer int) *RetryQueue[T] {
	return &RetryQueue[T]{out: make(chan RetryEnvelope[T], buffer)}
}

// Enqueue schedules envelope's payload to reappear on Output after
// envelope.Delay, carrying the next envelope (Delay multiplied by Factor).
// No-ops if the envelope cannot retry; callers should check CanRetry
// themselves to decide whether to give up instead.
func (q *RetryQueue[T]) Enqueue(envelope RetryEnvelope[T]) {
	if !envelope.CanRetry() {
		return
	}
	delay := envelope.Delay
	next := envelope
	next.Delay = time.Duration(float64(envelope.Delay) * float64(envelope.Factor))

	time.AfterFunc(delay, func() {
		q.out <- next
	})
}

// Output receives each envelope once its delay has elapsed.
func (q *RetryQueue[T]) Output() <-chan RetryEnvelope[T] {
	return q.out
}
