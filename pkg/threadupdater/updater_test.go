package threadupdater

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/pluieelectrique/ena/pkg/boardpoller"
	"github.com/pluieelectrique/ena/pkg/fourchan"
	"github.com/pluieelectrique/ena/pkg/mailbox"
)

type fetchThreadsCall struct {
	nums          []uint64
	fromArchive   bool
	dropMetaAfter bool
}

type fakeFetcher struct {
	mu              sync.Mutex
	calls           []fetchThreadsCall
	fetchedMedia    []fourchan.MediaFile
	fetchThreadsErr error
}

func (f *fakeFetcher) FetchThreads(ctx context.Context, board fourchan.Board, nums []uint64, fromArchive bool, dropMetaAfterFetch bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchThreadsCall{nums: append([]uint64(nil), nums...), fromArchive: fromArchive, dropMetaAfter: dropMetaAfterFetch})
	return f.fetchThreadsErr
}

func (f *fakeFetcher) FetchMedia(ctx context.Context, board fourchan.Board, files []fourchan.MediaFile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchedMedia = append(f.fetchedMedia, files...)
	return nil
}

// allNos flattens every FetchThreads call's nums, for tests that don't care
// how the dispatch was split across calls.
func (f *fakeFetcher) allNos() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var nos []uint64
	for _, c := range f.calls {
		nos = append(nos, c.nums...)
	}
	return nos
}

func (f *fakeFetcher) callsSnapshot() []fetchThreadsCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetchThreadsCall(nil), f.calls...)
}

func (f *fakeFetcher) mediaSnapshot() []fourchan.MediaFile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fourchan.MediaFile(nil), f.fetchedMedia...)
}

type fakeDatabase struct {
	mu             sync.Mutex
	inserted       map[fourchan.BoardNo][]fourchan.Post
	removedNos     []uint64
	unarchivedNums []uint64
	insertMedia    []fourchan.MediaFile
	updatedOps     int
	updatedPosts   []ModifiedPost
}

func newFakeDatabase() *fakeDatabase {
	return &fakeDatabase{inserted: map[fourchan.BoardNo][]fourchan.Post{}}
}

func (d *fakeDatabase) InsertPosts(ctx context.Context, board fourchan.Board, threadNo uint64, posts []fourchan.Post) ([]fourchan.MediaFile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := fourchan.BoardNo{Board: board, No: threadNo}
	d.inserted[key] = append(d.inserted[key], posts...)
	return d.insertMedia, nil
}

func (d *fakeDatabase) UpdateOp(ctx context.Context, board fourchan.Board, threadNo uint64, op fourchan.OpData) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updatedOps++
	return nil
}

func (d *fakeDatabase) UpdatePost(ctx context.Context, board fourchan.Board, threadNo uint64, posts []ModifiedPost) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updatedPosts = append(d.updatedPosts, posts...)
	return nil
}

func (d *fakeDatabase) MarkPostsRemoved(ctx context.Context, board fourchan.Board, removals []fourchan.Removal, lastModified int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range removals {
		d.removedNos = append(d.removedNos, r.No)
	}
	return nil
}

func (d *fakeDatabase) GetUnarchivedThreads(ctx context.Context, board fourchan.Board, nums []uint64) ([]uint64, error) {
	return d.unarchivedNums, nil
}

func newTestService(t *testing.T, fetcher Fetcher, database Database, opts Options) (*Service, context.Context, context.CancelFunc) {
	t.Helper()
	fetchedThreads := mailbox.New[FetchedThread](8)
	svc := New(fetchedThreads, fetcher, database, log.NewNopLogger(), opts)
	ctx, cancel := context.WithCancel(context.Background())
	go svc.Run(ctx)
	return svc, ctx, cancel
}

func TestHandleBoardUpdateRequestsFetchForNewAndModified(t *testing.T) {
	fetcher := &fakeFetcher{}
	database := newFakeDatabase()
	svc, ctx, cancel := newTestService(t, fetcher, database, Options{})
	defer cancel()

	update := boardpoller.BoardUpdate{
		Board: "g",
		Updates: []boardpoller.ThreadUpdate{
			{No: 1, Kind: boardpoller.New},
			{No: 2, Kind: boardpoller.Modified},
		},
	}
	require.NoError(t, svc.SendBoardUpdate(ctx, update))

	require.Eventually(t, func() bool {
		return len(fetcher.allNos()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestHandleArchiveUpdateFetchesOnlyUnarchivedSurvivors(t *testing.T) {
	fetcher := &fakeFetcher{}
	database := newFakeDatabase()
	database.unarchivedNums = []uint64{5}
	svc, ctx, cancel := newTestService(t, fetcher, database, Options{})
	defer cancel()

	require.NoError(t, svc.SendArchiveUpdate(ctx, boardpoller.ArchiveUpdate{Board: "g", Nums: []uint64{5, 6}}))

	require.Eventually(t, func() bool {
		nos := fetcher.allNos()
		return len(nos) == 1 && nos[0] == 5
	}, time.Second, 5*time.Millisecond)
}

func TestHandleFetchedThreadInsertsNewThreadAndFetchesMedia(t *testing.T) {
	fetcher := &fakeFetcher{}
	database := newFakeDatabase()
	database.insertMedia = []fourchan.MediaFile{{Board: "g", Filename: "1.jpg"}}
	svc, ctx, cancel := newTestService(t, fetcher, database, Options{})
	defer cancel()

	f := FetchedThread{
		Board: "g",
		No:    100,
		Posts: []fourchan.Post{{No: 100, ReplyTo: 0}},
	}
	svc.fetchedThreads.Address().Send(ctx, f)

	require.Eventually(t, func() bool {
		return len(fetcher.mediaSnapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	database.mu.Lock()
	defer database.mu.Unlock()
	require.Len(t, database.inserted[fourchan.BoardNo{Board: "g", No: 100}], 1)
}

func TestHandleFetchedThreadMarksNotFoundThreadRemoved(t *testing.T) {
	fetcher := &fakeFetcher{}
	database := newFakeDatabase()
	svc, ctx, cancel := newTestService(t, fetcher, database, Options{})
	defer cancel()

	f := FetchedThread{Board: "g", No: 100, Err: notFoundStub{}}
	svc.fetchedThreads.Address().Send(ctx, f)

	require.Eventually(t, func() bool {
		database.mu.Lock()
		defer database.mu.Unlock()
		return len(database.removedNos) == 1 && database.removedNos[0] == 100
	}, time.Second, 5*time.Millisecond)
}

func TestHandleFetchedThreadSkipsRemovalForExpiredArchivedThread(t *testing.T) {
	fetcher := &fakeFetcher{}
	database := newFakeDatabase()
	svc, ctx, cancel := newTestService(t, fetcher, database, Options{})
	defer cancel()

	f := FetchedThread{Board: "g", No: 100, FromArchive: true, Err: notFoundStub{}}
	svc.fetchedThreads.Address().Send(ctx, f)

	// Give the actor's goroutine a chance to process the message, then
	// confirm it took the no-op branch rather than marking it removed.
	time.Sleep(50 * time.Millisecond)
	database.mu.Lock()
	defer database.mu.Unlock()
	require.Empty(t, database.removedNos)
}

// TestHandleBoardUpdateBumpedOffRefetchKeepsMetaUntilReconciled exercises the
// RefetchArchivedThreads path: a thread bumped off an archived board's index
// must stay in thread_meta (and be fetched with dropMetaAfterFetch=true)
// rather than being dropped immediately and forcing a blind re-insert.
func TestHandleBoardUpdateBumpedOffRefetchKeepsMetaUntilReconciled(t *testing.T) {
	fetcher := &fakeFetcher{}
	database := newFakeDatabase()
	svc, ctx, cancel := newTestService(t, fetcher, database, Options{RefetchArchivedThreads: true})
	defer cancel()

	key := fourchan.BoardNo{Board: "g", No: 100}
	prevMeta, _ := buildMetadata([]fourchan.Post{{No: 100, ReplyTo: 0}, {No: 101, ReplyTo: 100}})
	svc.threadMeta[key] = prevMeta

	update := boardpoller.BoardUpdate{
		Board:   "g",
		Updates: []boardpoller.ThreadUpdate{{No: 100, Kind: boardpoller.BumpedOff}},
	}
	require.NoError(t, svc.SendBoardUpdate(ctx, update))

	require.Eventually(t, func() bool {
		calls := fetcher.callsSnapshot()
		return len(calls) == 1 && len(calls[0].nums) == 1 && calls[0].nums[0] == 100 && calls[0].dropMetaAfter
	}, time.Second, 5*time.Millisecond)

	require.Empty(t, database.removedNos, "bumped-off refetch must not mark the thread removed up front")

	// Deliver the refetch's result with one post gone: this must take the
	// diff path (hadPrev true), emit MarkPostsRemoved for the missing post,
	// and only then drop thread_meta.
	refetched := FetchedThread{
		Board:                       "g",
		No:                          100,
		WasBumpedOffOnArchivedBoard: true,
		Posts:                       []fourchan.Post{{No: 100, ReplyTo: 0}},
		LastModified:                999,
	}
	svc.fetchedThreads.Address().Send(ctx, refetched)

	require.Eventually(t, func() bool {
		database.mu.Lock()
		defer database.mu.Unlock()
		return len(database.removedNos) == 1 && database.removedNos[0] == 101
	}, time.Second, 5*time.Millisecond)

	func() {
		database.mu.Lock()
		defer database.mu.Unlock()
		require.Empty(t, database.inserted, "diff path must not blind-insert when prev_meta was present")
	}()

	// thread_meta must be dropped once reconciliation completes: a second
	// BumpedOff for the same (board, no) now finds nothing tracked and is a
	// silent no-op rather than a second refetch dispatch.
	require.NoError(t, svc.SendBoardUpdate(ctx, boardpoller.BoardUpdate{
		Board:   "g",
		Updates: []boardpoller.ThreadUpdate{{No: 100, Kind: boardpoller.BumpedOff}},
	}))
	require.Never(t, func() bool {
		return len(fetcher.callsSnapshot()) > 1
	}, 100*time.Millisecond, 10*time.Millisecond)
}

// TestHandleBoardUpdateBumpedOffNonRefetchDropsMetaImmediately confirms the
// non-refetch branches (archived without RefetchArchivedThreads, or
// always_add_archive_times) still drop thread_meta right away, since there
// is no follow-up fetch to reconcile against.
func TestHandleBoardUpdateBumpedOffNonRefetchDropsMetaImmediately(t *testing.T) {
	fetcher := &fakeFetcher{}
	database := newFakeDatabase()
	svc, ctx, cancel := newTestService(t, fetcher, database, Options{AlwaysAddArchiveTimes: true})
	defer cancel()

	key := fourchan.BoardNo{Board: "b", No: 200}
	prevMeta, _ := buildMetadata([]fourchan.Post{{No: 200, ReplyTo: 0}})
	svc.threadMeta[key] = prevMeta

	update := boardpoller.BoardUpdate{
		Board:   "b",
		Updates: []boardpoller.ThreadUpdate{{No: 200, Kind: boardpoller.BumpedOff}},
	}
	require.NoError(t, svc.SendBoardUpdate(ctx, update))

	require.Eventually(t, func() bool {
		database.mu.Lock()
		defer database.mu.Unlock()
		return len(database.removedNos) == 1 && database.removedNos[0] == 200
	}, time.Second, 5*time.Millisecond)

	require.Empty(t, fetcher.allNos())
	_, present := svc.threadMeta[key]
	require.False(t, present)
}

type notFoundStub struct{}

func (notFoundStub) Error() string  { return "not found" }
func (notFoundStub) NotFound() bool { return true }
