// Package threadupdater reconciles successive fetches of a thread's post
// list against remembered metadata, producing insert/update/removal
// messages for the archive database.
package threadupdater

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/pluieelectrique/ena/pkg/boardpoller"
	"github.com/pluieelectrique/ena/pkg/fourchan"
	"github.com/pluieelectrique/ena/pkg/mailbox"
)

// Fetcher is the subset of the Fetcher actor's surface ThreadUpdater needs.
// Satisfied structurally by *fetcher.Service.
type Fetcher interface {
	FetchThreads(ctx context.Context, board fourchan.Board, nums []uint64, fromArchive bool, dropMetaAfterFetch bool) error
	FetchMedia(ctx context.Context, board fourchan.Board, files []fourchan.MediaFile) error
}

// Database is the subset of the archive database actor's surface
// ThreadUpdater needs. Satisfied structurally by *archivedb.Service.
type Database interface {
	InsertPosts(ctx context.Context, board fourchan.Board, threadNo uint64, posts []fourchan.Post) ([]fourchan.MediaFile, error)
	UpdateOp(ctx context.Context, board fourchan.Board, threadNo uint64, op fourchan.OpData) error
	UpdatePost(ctx context.Context, board fourchan.Board, threadNo uint64, posts []ModifiedPost) error
	MarkPostsRemoved(ctx context.Context, board fourchan.Board, removals []fourchan.Removal, lastModified int64) error
	GetUnarchivedThreads(ctx context.Context, board fourchan.Board, nums []uint64) ([]uint64, error)
}

// Options configures per-deployment reconciliation policy, corresponding
// to the configuration file's asagi_compat block.
type Options struct {
	RefetchArchivedThreads bool
	AlwaysAddArchiveTimes  bool
}

// Service is the ThreadUpdater actor: it owns thread_meta and touches it
// only from Run's goroutine.
type Service struct {
	fetcher  Fetcher
	database Database
	logger   log.Logger
	opts     Options

	boardUpdates   *mailbox.Mailbox[boardpoller.BoardUpdate]
	archiveUpdates *mailbox.Mailbox[boardpoller.ArchiveUpdate]
	fetchedThreads *mailbox.Mailbox[FetchedThread]

	threadMeta map[fourchan.BoardNo]ThreadMetadata
}

// New constructs a Service around a pre-allocated FetchedThread mailbox.
// Passing in fetchedThreads (rather than allocating it internally) is what
// lets cmd/ena resolve the circular Fetcher<->ThreadUpdater dependency via
// "context-first" bootstrap: the mailbox (and its Address, handed to the
// Fetcher) exists before the Service itself does.
func New(fetchedThreads *mailbox.Mailbox[FetchedThread], fetcher Fetcher, database Database, logger log.Logger, opts Options) *Service {
	return &Service{
		fetcher:        fetcher,
		database:       database,
		logger:         logger,
		opts:           opts,
		boardUpdates:   mailbox.New[boardpoller.BoardUpdate](64),
		archiveUpdates: mailbox.New[boardpoller.ArchiveUpdate](64),
		fetchedThreads: fetchedThreads,
		threadMeta:     make(map[fourchan.BoardNo]ThreadMetadata),
	}
}

// SendBoardUpdate implements boardpoller.ThreadUpdaterHandle.
func (s *Service) SendBoardUpdate(ctx context.Context, u boardpoller.BoardUpdate) error {
	return s.boardUpdates.Address().Send(ctx, u)
}

// SendArchiveUpdate implements boardpoller.ThreadUpdaterHandle.
func (s *Service) SendArchiveUpdate(ctx context.Context, u boardpoller.ArchiveUpdate) error {
	return s.archiveUpdates.Address().Send(ctx, u)
}

// FetchedThreadAddress returns the address the Fetcher should be
// constructed with to deliver FetchedThread results back to this Service.
func (s *Service) FetchedThreadAddress() *mailbox.Address[FetchedThread] {
	return s.fetchedThreads.Address()
}

// Run processes BoardUpdate, ArchiveUpdate, and FetchedThread messages one
// at a time until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	for {
		select {
		case u := <-s.boardUpdates.Recv():
			s.handleBoardUpdate(ctx, u)
		case u := <-s.archiveUpdates.Recv():
			s.handleArchiveUpdate(ctx, u)
		case f := <-s.fetchedThreads.Recv():
			s.handleFetchedThread(ctx, f)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) handleBoardUpdate(ctx context.Context, u boardpoller.BoardUpdate) {
	var fetchList []uint64
	var bumpedOffRefetch []uint64
	var removals []fourchan.Removal

	for _, upd := range u.Updates {
		key := fourchan.BoardNo{Board: u.Board, No: upd.No}
		switch upd.Kind {
		case boardpoller.New, boardpoller.Modified:
			fetchList = append(fetchList, upd.No)

		case boardpoller.BumpedOff:
			if _, ok := s.threadMeta[key]; ok {
				if u.Board.IsArchived() && s.opts.RefetchArchivedThreads {
					// Leave threadMeta[key] in place: handleFetchedThread
					// needs prev_meta to diff this refetch's result before
					// dropping it.
					bumpedOffRefetch = append(bumpedOffRefetch, upd.No)
				} else {
					if u.Board.IsArchived() || s.opts.AlwaysAddArchiveTimes {
						removals = append(removals, fourchan.Removal{No: upd.No, Reason: fourchan.Archived})
					}
					delete(s.threadMeta, key)
				}
			}

		case boardpoller.Deleted:
			if _, ok := s.threadMeta[key]; ok {
				delete(s.threadMeta, key)
				removals = append(removals, fourchan.Removal{No: upd.No, Reason: fourchan.Deleted})
			}
		}
	}

	if len(removals) > 0 {
		if err := s.database.MarkPostsRemoved(ctx, u.Board, removals, u.LastModified); err != nil {
			level.Warn(s.logger).Log("msg", "mark posts removed failed", "board", u.Board, "err", err)
		}
	}
	if len(fetchList) > 0 {
		if err := s.fetcher.FetchThreads(ctx, u.Board, fetchList, false, false); err != nil {
			level.Warn(s.logger).Log("msg", "fetch threads request failed", "board", u.Board, "err", err)
		}
	}
	if len(bumpedOffRefetch) > 0 {
		if err := s.fetcher.FetchThreads(ctx, u.Board, bumpedOffRefetch, false, true); err != nil {
			level.Warn(s.logger).Log("msg", "bumped-off refetch request failed", "board", u.Board, "err", err)
		}
	}
}

func (s *Service) handleArchiveUpdate(ctx context.Context, u boardpoller.ArchiveUpdate) {
	survivors, err := s.database.GetUnarchivedThreads(ctx, u.Board, u.Nums)
	if err != nil {
		level.Warn(s.logger).Log("msg", "get unarchived threads failed", "board", u.Board, "err", err)
		return
	}
	if len(survivors) == 0 {
		return
	}
	if err := s.fetcher.FetchThreads(ctx, u.Board, survivors, true, false); err != nil {
		level.Warn(s.logger).Log("msg", "fetch threads (archive) request failed", "board", u.Board, "err", err)
	}
}

func (s *Service) handleFetchedThread(ctx context.Context, f FetchedThread) {
	key := fourchan.BoardNo{Board: f.Board, No: f.No}

	if f.Err != nil {
		switch {
		case isNotModified(f.Err):
			if f.WasBumpedOffOnArchivedBoard {
				delete(s.threadMeta, key)
			}
		case isNotFound(f.Err):
			if f.FromArchive {
				level.Warn(s.logger).Log("msg", "archived thread expired before fetch", "board", f.Board, "no", f.No)
				return
			}
			delete(s.threadMeta, key)
			removal := []fourchan.Removal{{No: f.No, Reason: fourchan.Deleted}}
			if err := s.database.MarkPostsRemoved(ctx, f.Board, removal, time.Now().Unix()); err != nil {
				level.Warn(s.logger).Log("msg", "mark thread removed failed", "board", f.Board, "no", f.No, "err", err)
			}
		default:
			level.Warn(s.logger).Log("msg", "thread fetch failed", "board", f.Board, "no", f.No, "err", f.Err)
		}
		return
	}

	currMeta, sortedPosts := buildMetadata(f.Posts)
	prevMeta, hadPrev := s.threadMeta[key]

	var mediaFiles []fourchan.MediaFile

	if !hadPrev {
		files, err := s.database.InsertPosts(ctx, f.Board, f.No, sortedPosts)
		if err != nil {
			level.Warn(s.logger).Log("msg", "insert posts failed", "board", f.Board, "no", f.No, "err", err)
			return
		}
		mediaFiles = files
	} else {
		if !prevMeta.OpData.Equal(currMeta.OpData) {
			if err := s.database.UpdateOp(ctx, f.Board, f.No, currMeta.OpData); err != nil {
				level.Warn(s.logger).Log("msg", "update op failed", "board", f.Board, "no", f.No, "err", err)
			}
		}

		newPosts, modified, deletedNos := diffPosts(prevMeta.Posts, sortedPosts)

		if len(newPosts) > 0 {
			files, err := s.database.InsertPosts(ctx, f.Board, f.No, newPosts)
			if err != nil {
				level.Warn(s.logger).Log("msg", "insert posts failed", "board", f.Board, "no", f.No, "err", err)
			} else {
				mediaFiles = append(mediaFiles, files...)
			}
		}
		if len(modified) > 0 {
			if err := s.database.UpdatePost(ctx, f.Board, f.No, modified); err != nil {
				level.Warn(s.logger).Log("msg", "update post failed", "board", f.Board, "no", f.No, "err", err)
			}
		}
		if len(deletedNos) > 0 {
			removals := make([]fourchan.Removal, len(deletedNos))
			for i, no := range deletedNos {
				removals[i] = fourchan.Removal{No: no, Reason: fourchan.Deleted}
			}
			if err := s.database.MarkPostsRemoved(ctx, f.Board, removals, f.LastModified); err != nil {
				level.Warn(s.logger).Log("msg", "mark posts removed failed", "board", f.Board, "no", f.No, "err", err)
			}
		}
	}

	// Invariant: an archived thread's metadata MUST be dropped after the
	// final diff is applied. A bumped-off-on-archived-board refetch carries
	// its own drop signal since the board may report archived=false for a
	// thread or two after it actually stops accepting new posts.
	if currMeta.OpData.Archived.Bool() || f.WasBumpedOffOnArchivedBoard {
		delete(s.threadMeta, key)
	} else {
		s.threadMeta[key] = currMeta
	}

	if len(mediaFiles) > 0 {
		if err := s.fetcher.FetchMedia(ctx, f.Board, mediaFiles); err != nil {
			level.Warn(s.logger).Log("msg", "fetch media request failed", "board", f.Board, "no", f.No, "err", err)
		}
	}
}
