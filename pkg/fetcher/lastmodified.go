package fetcher

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/pluieelectrique/ena/pkg/fourchan"
)

// LastModifiedKey identifies either a board's thread-index resource or one
// specific thread's resource.
type LastModifiedKey struct {
	Board    fourchan.Board
	ThreadNo uint64
	isThread bool
}

// IndexOf builds the key for a board's threads.json resource.
func IndexOf(board fourchan.Board) LastModifiedKey {
	return LastModifiedKey{Board: board}
}

// ThreadOf builds the key for one thread's resource.
func ThreadOf(board fourchan.Board, no uint64) LastModifiedKey {
	return LastModifiedKey{Board: board, ThreadNo: no, isThread: true}
}

// epochDefault is sent as If-Modified-Since when no stored value exists
// yet for a key: a fixed point long before any thread could exist, so the
// first fetch of a key is always treated as unconditional.
var epochDefault = time.Unix(1065062160, 0).UTC()

// lastModifiedMap is consulted before every conditional request and
// updated on every 200 OK. It is logically owned by one actor (the
// Fetcher) and mutated only through Update, which enforces the
// monotonicity invariant; the mutex exists only because Go goroutines can
// still race on it even though a single actor owns the value.
type lastModifiedMap struct {
	mu     sync.Mutex
	values map[LastModifiedKey]time.Time
	seenAt map[LastModifiedKey]time.Time
	logger log.Logger
}

func newLastModifiedMap(logger log.Logger) *lastModifiedMap {
	return &lastModifiedMap{
		values: make(map[LastModifiedKey]time.Time),
		seenAt: make(map[LastModifiedKey]time.Time),
		logger: logger,
	}
}

func (m *lastModifiedMap) Get(key LastModifiedKey) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.values[key]
	return ts, ok
}

// Update applies a freshly observed Last-Modified value, rejecting (and
// logging) any regression.
func (m *lastModifiedMap) Update(key LastModifiedKey, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.values[key]; ok && ts.Before(existing) {
		level.Warn(m.logger).Log("msg", "rejected out-of-order last-modified update", "board", key.Board, "thread", key.ThreadNo, "existing", existing, "got", ts)
		return
	}
	m.values[key] = ts
	m.seenAt[key] = time.Now()
}

// sweep drops entries whose last update is older than maxAge.
func (m *lastModifiedMap) sweep(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for key, seenAt := range m.seenAt {
		if now.Sub(seenAt) > maxAge {
			delete(m.values, key)
			delete(m.seenAt, key)
		}
	}
}

// runSweeper sweeps entries untouched for more than 24h once per hour,
// bounding the map's size without needing a per-key expiry timer.
func (m *lastModifiedMap) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep(24 * time.Hour)
		case <-ctx.Done():
			return
		}
	}
}
