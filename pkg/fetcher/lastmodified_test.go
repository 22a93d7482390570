package fetcher

import (
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/pluieelectrique/ena/pkg/fourchan"
)

func TestLastModifiedMapGetMissingKey(t *testing.T) {
	m := newLastModifiedMap(log.NewNopLogger())
	_, ok := m.Get(IndexOf("g"))
	require.False(t, ok)
}

func TestLastModifiedMapUpdateThenGet(t *testing.T) {
	m := newLastModifiedMap(log.NewNopLogger())
	key := ThreadOf(fourchan.Board("g"), 100)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	m.Update(key, ts)

	got, ok := m.Get(key)
	require.True(t, ok)
	require.True(t, got.Equal(ts))
}

func TestLastModifiedMapRejectsRegression(t *testing.T) {
	m := newLastModifiedMap(log.NewNopLogger())
	key := IndexOf(fourchan.Board("g"))

	newer := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	m.Update(key, newer)
	m.Update(key, older)

	got, ok := m.Get(key)
	require.True(t, ok)
	require.True(t, got.Equal(newer), "regression should be rejected, keeping the later value")
}

func TestLastModifiedMapDistinguishesIndexAndThreadKeys(t *testing.T) {
	board := fourchan.Board("g")
	indexKey := IndexOf(board)
	threadKey := ThreadOf(board, 0)
	require.NotEqual(t, indexKey, threadKey)
}

func TestLastModifiedMapSweepDropsStaleEntries(t *testing.T) {
	m := newLastModifiedMap(log.NewNopLogger())
	key := ThreadOf(fourchan.Board("g"), 1)
	m.Update(key, time.Now())

	m.seenAt[key] = time.Now().Add(-25 * time.Hour)
	m.sweep(24 * time.Hour)

	_, ok := m.Get(key)
	require.False(t, ok)
}

func TestLastModifiedMapSweepKeepsFreshEntries(t *testing.T) {
	m := newLastModifiedMap(log.NewNopLogger())
	key := ThreadOf(fourchan.Board("g"), 1)
	m.Update(key, time.Now())

	m.sweep(24 * time.Hour)

	_, ok := m.Get(key)
	require.True(t, ok)
}
