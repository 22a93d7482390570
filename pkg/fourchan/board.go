// Package fourchan defines the wire data model for the imageboard's JSON
// API: boards, thread-index entries, and posts.
package fourchan

import "fmt"

// Board is a validated, closed-set board code (e.g. "a", "g", "3").
type Board string

// knownBoards mirrors the remote's current board list. Archived/max-threads
// behavior for boards not in this set falls back to the "archived" defaults,
// since new boards are added to the 4chan API far more often than this
// program is redeployed.
var knownBoards = map[Board]boardInfo{
	"a":    {archived: true, maxThreads: 150},
	"b":    {archived: false, maxThreads: 150},
	"g":    {archived: true, maxThreads: 150},
	"vg":   {archived: true, maxThreads: 150},
	"3":    {archived: true, maxThreads: 150},
	"f":    {archived: false, maxThreads: 30},
	"bant": {archived: false, maxThreads: 150},
	"trash": {archived: false, maxThreads: 150},
	"po":   {archived: true, maxThreads: 150},
}

type boardInfo struct {
	archived   bool
	maxThreads int
}

// IsArchived reports whether the board has an archive.json endpoint.
// Unrecognized boards are conservatively treated as archived, since
// refetching a nonexistent archive endpoint only costs one extra 404.
func (b Board) IsArchived() bool {
	if info, ok := knownBoards[b]; ok {
		return info.archived
	}
	return true
}

// MaxThreads returns the index capacity (number of threads visible across
// all index pages) for the board.
func (b Board) MaxThreads() int {
	if info, ok := knownBoards[b]; ok {
		return info.maxThreads
	}
	return 150
}

// Valid reports whether b is a recognized board code.
func (b Board) Valid() bool {
	_, ok := knownBoards[b]
	return ok
}

func (b Board) String() string {
	return string(b)
}

// BoardNo identifies a thread within a board, the key under which
// ThreadUpdater tracks live per-thread metadata.
type BoardNo struct {
	Board Board
	No    uint64
}

func (k BoardNo) String() string {
	return fmt.Sprintf("%s/%d", k.Board, k.No)
}
