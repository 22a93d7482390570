package boardpoller

import "github.com/pluieelectrique/ena/pkg/fourchan"

// BoardUpdate is sent to the ThreadUpdater after each successful poll,
// delayed by a small constant so the remote's thread body has caught up to
// the index's Last-Modified.
type BoardUpdate struct {
	Board        fourchan.Board
	Updates      []ThreadUpdate
	LastModified int64
}

// ArchiveUpdate is sent to the ThreadUpdater whenever a board's
// archive.json poll returns a non-empty result.
type ArchiveUpdate struct {
	Board fourchan.Board
	Nums  []uint64
}
