package threadupdater

import "github.com/pluieelectrique/ena/pkg/fourchan"

// FetchedThread is delivered by the Fetcher for each (board, no) it was
// asked to fetch via FetchThreads, whether it succeeded or failed.
type FetchedThread struct {
	Board       fourchan.Board
	No          uint64
	FromArchive bool

	// WasBumpedOffOnArchivedBoard marks a refetch of a thread that fell off
	// its board's live index while the board is archived: handleFetchedThread
	// reconciles against the retained prev_meta as usual, then drops it,
	// instead of the caller dropping it up front and forcing a blind insert.
	WasBumpedOffOnArchivedBoard bool

	Posts        []fourchan.Post
	LastModified int64
	Err          error
}
