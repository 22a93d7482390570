package boardpoller

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/pluieelectrique/ena/pkg/fourchan"
)

// postClassificationDelay is the pause between classifying a poll's deltas
// and notifying the ThreadUpdater. The remote's index Last-Modified has
// been observed to precede the actual thread body update by 1-2 seconds;
// firing thread fetches immediately yields stale posts.
const postClassificationDelay = 3 * time.Second

// Fetcher is the subset of the Fetcher actor's surface BoardPoller needs.
// Satisfied structurally by *fetcher.Service.
type Fetcher interface {
	FetchThreadList(ctx context.Context, board fourchan.Board) ([]fourchan.Thread, int64, error)
	FetchArchive(ctx context.Context, board fourchan.Board) ([]uint64, error)
}

// ThreadUpdaterHandle is the subset of the ThreadUpdater actor's surface
// BoardPoller needs. Satisfied structurally by *threadupdater.Service.
type ThreadUpdaterHandle interface {
	SendBoardUpdate(ctx context.Context, u BoardUpdate) error
	SendArchiveUpdate(ctx context.Context, u ArchiveUpdate) error
}

// BoardConfig is the subset of per-board scraping configuration the poller
// consults.
type BoardConfig struct {
	Board        fourchan.Board
	PollInterval time.Duration
	FetchArchive bool
}

// Poller runs one goroutine per configured board, polling its thread index
// (and, if enabled, its archive index) forever until ctx is cancelled.
type Poller struct {
	fetcher       Fetcher
	threadUpdater ThreadUpdaterHandle
	logger        log.Logger
}

// New constructs a Poller. fetcher and threadUpdater are typically the
// concrete *fetcher.Service and *threadupdater.Service, wired up by
// cmd/ena's context-first bootstrap.
func New(fetcher Fetcher, threadUpdater ThreadUpdaterHandle, logger log.Logger) *Poller {
	return &Poller{fetcher: fetcher, threadUpdater: threadUpdater, logger: logger}
}

// Run starts one poll loop per board and blocks until ctx is cancelled or
// all loops exit.
func (p *Poller) Run(ctx context.Context, boards []BoardConfig) {
	done := make(chan struct{})
	remaining := len(boards)
	if remaining == 0 {
		return
	}
	for _, b := range boards {
		b := b
		go func() {
			p.pollBoard(ctx, b)
			done <- struct{}{}
		}()
	}
	for i := 0; i < remaining; i++ {
		<-done
	}
}

func (p *Poller) pollBoard(ctx context.Context, cfg BoardConfig) {
	logger := log.With(p.logger, "board", cfg.Board)
	var prev []fourchan.Thread

	if cfg.FetchArchive {
		p.pollArchive(ctx, cfg.Board, logger)
	}

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		fetchCtx, cancel := context.WithTimeout(ctx, cfg.PollInterval)
		threads, lastModified, err := p.fetcher.FetchThreadList(fetchCtx, cfg.Board)
		cancel()

		switch {
		case err == nil:
			updates, sortedCurr, classifyErr := Classify(prev, threads)
			if classifyErr != nil {
				level.Warn(logger).Log("msg", "discarding poll: index is not monotonic", "err", classifyErr)
			} else {
				prev = sortedCurr
				if len(updates) > 0 {
					p.notify(ctx, cfg.Board, updates, lastModified, logger)
				}
				if cfg.FetchArchive {
					p.pollArchive(ctx, cfg.Board, logger)
				}
			}
		case isNotModified(err):
			// sleep and repeat
		default:
			level.Warn(logger).Log("msg", "thread list poll failed", "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) notify(ctx context.Context, board fourchan.Board, updates []ThreadUpdate, lastModified int64, logger log.Logger) {
	var newN, modN, bumpedN, delN int
	for _, u := range updates {
		switch u.Kind {
		case New:
			newN++
		case Modified:
			modN++
		case BumpedOff:
			bumpedN++
		case Deleted:
			delN++
		}
	}
	level.Debug(logger).Log("msg", "classified board update", "new", newN, "modified", modN, "bumped_off", bumpedN, "deleted", delN)

	select {
	case <-time.After(postClassificationDelay):
	case <-ctx.Done():
		return
	}

	if err := p.threadUpdater.SendBoardUpdate(ctx, BoardUpdate{Board: board, Updates: updates, LastModified: lastModified}); err != nil {
		level.Warn(logger).Log("msg", "failed to notify thread updater", "err", err)
	}
}

func (p *Poller) pollArchive(ctx context.Context, board fourchan.Board, logger log.Logger) {
	nums, err := p.fetcher.FetchArchive(ctx, board)
	if err != nil {
		level.Warn(logger).Log("msg", "archive poll failed", "err", err)
		return
	}
	if len(nums) == 0 {
		return
	}
	if err := p.threadUpdater.SendArchiveUpdate(ctx, ArchiveUpdate{Board: board, Nums: nums}); err != nil {
		level.Warn(logger).Log("msg", "failed to notify thread updater of archive update", "err", err)
	}
}

// notModifiedError is implemented by fetcher error types that represent a 304
// response; isNotModified lets BoardPoller special-case it without
// importing the fetcher package.
type notModifiedError interface {
	NotModified() bool
}

func isNotModified(err error) bool {
	nm, ok := err.(notModifiedError)
	return ok && nm.NotModified()
}
