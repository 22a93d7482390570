// Package fetcher implements the rate-limited, retrying, conditional HTTP
// client that bridges the imageboard's JSON API and the actor pipeline:
// BoardPoller's index/archive polls and ThreadUpdater's per-thread and
// per-media fetch requests all flow through one Service.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pluieelectrique/ena/pkg/fourchan"
	"github.com/pluieelectrique/ena/pkg/mailbox"
	"github.com/pluieelectrique/ena/pkg/threadupdater"
)

const (
	apiBaseURL   = "https://a.4cdn.org"
	imageBaseURL = "https://i.4cdn.org"
)

// PipelineConfig configures one of the three independent pipelines
// (thread_list, thread, media): a windowed rate limit plus a concurrency
// cap.
type PipelineConfig struct {
	Interval       time.Duration
	MaxPerInterval int
	MaxConcurrent  int
}

// RetryConfig configures the exponential-backoff envelope applied to the
// thread and media pipelines. The thread_list pipeline does not retry:
// it runs on a fixed poll cycle, so a failed poll is simply tried again
// next tick.
type RetryConfig struct {
	Base   time.Duration
	Factor uint32
	Max    time.Duration
}

// Config bundles a Service's fixed parameters.
type Config struct {
	MediaRoot string

	ThreadList PipelineConfig
	Thread     PipelineConfig
	Media      PipelineConfig
	Retry      RetryConfig
}

type threadFetchRequest struct {
	Board       fourchan.Board
	No          uint64
	FromArchive bool

	// WasBumpedOffOnArchivedBoard marks a refetch of a thread that fell off
	// its board's live index while the board is archived: the caller keeps
	// thread_meta around until this refetch's result reconciles, instead of
	// dropping it up front, so the diff still sees prev_meta.
	WasBumpedOffOnArchivedBoard bool
}

type mediaFetchRequest struct {
	Board    fourchan.Board
	Filename string
}

// Service is the Fetcher actor. It owns the HTTP client, the three
// pipelines, and the Last-Modified state used for conditional GETs.
type Service struct {
	cfg    Config
	client *http.Client
	logger log.Logger
	m      *metrics

	lastModified *lastModifiedMap
	threadUpdater *mailbox.Address[threadupdater.FetchedThread]

	threadListLimiter *RateLimiter[threadListResult]
	threadLimiter     *RateLimiter[threadResult]
	mediaLimiter      *RateLimiter[struct{}]

	threadRetry *RetryQueue[threadFetchRequest]
	mediaRetry  *RetryQueue[mediaFetchRequest]
}

type threadListResult struct {
	threads      []fourchan.Thread
	lastModified int64
}

type threadResult struct {
	posts        []fourchan.Post
	lastModified int64
}

// New constructs a Fetcher Service. threadUpdater is the address the
// Service delivers FetchedThread messages to; it is supplied by the
// caller so cmd/ena can resolve the Fetcher<->ThreadUpdater circular
// dependency via context-first bootstrap (allocate ThreadUpdater's
// mailbox, hand its Address here, then construct ThreadUpdater around the
// same mailbox).
func New(cfg Config, threadUpdater *mailbox.Address[threadupdater.FetchedThread], logger log.Logger, reg prometheus.Registerer) *Service {
	return &Service{
		cfg:           cfg,
		client:        &http.Client{Timeout: 30 * time.Second},
		logger:        logger,
		m:             newMetrics(reg),
		lastModified:  newLastModifiedMap(logger),
		threadUpdater: threadUpdater,

		threadListLimiter: NewRateLimiter[threadListResult](cfg.ThreadList.MaxConcurrent, cfg.ThreadList.MaxPerInterval, cfg.ThreadList.Interval),
		threadLimiter:     NewRateLimiter[threadResult](cfg.Thread.MaxConcurrent, cfg.Thread.MaxPerInterval, cfg.Thread.Interval),
		mediaLimiter:      NewRateLimiter[struct{}](cfg.Media.MaxConcurrent, cfg.Media.MaxPerInterval, cfg.Media.Interval),

		threadRetry: NewRetryQueue[threadFetchRequest](256),
		mediaRetry:  NewRetryQueue[mediaFetchRequest](256),
	}
}

// Run starts the Last-Modified sweeper and the two retry consumer loops.
// It blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	go s.lastModified.runSweeper(ctx)
	go s.consumeThreadRetries(ctx)
	go s.consumeMediaRetries(ctx)
	<-ctx.Done()
}

// FetchThreadList implements boardpoller.Fetcher.
func (s *Service) FetchThreadList(ctx context.Context, board fourchan.Board) ([]fourchan.Thread, int64, error) {
	s.m.requestsTotal.WithLabelValues("thread_list").Inc()

	result := <-s.threadListLimiter.Submit(ctx, func(ctx context.Context) (threadListResult, error) {
		key := IndexOf(board)
		data, lastModified, err := s.conditionalGet(ctx, fmt.Sprintf("%s/%s/threads.json", apiBaseURL, board), key)
		if err != nil {
			return threadListResult{}, err
		}
		threads, err := fourchan.DecodeThreadList(data)
		if err != nil {
			return threadListResult{}, &Error{Kind: KindJSONParse, Cause: err}
		}
		return threadListResult{threads: threads, lastModified: lastModified.Unix()}, nil
	})

	if result.Err != nil {
		s.m.requestErrors.WithLabelValues("thread_list", kindLabel(AsError(result.Err).Kind)).Inc()
		return nil, 0, result.Err
	}
	return result.Value.threads, result.Value.lastModified, nil
}

// FetchArchive implements boardpoller.Fetcher. archive.json has no
// Last-Modified semantics: every poll is unconditional.
func (s *Service) FetchArchive(ctx context.Context, board fourchan.Board) ([]uint64, error) {
	s.m.requestsTotal.WithLabelValues("thread_list").Inc()

	var nums []uint64
	result := <-s.threadListLimiter.Submit(ctx, func(ctx context.Context) (threadListResult, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s/archive.json", apiBaseURL, board), nil)
		if err != nil {
			return threadListResult{}, &Error{Kind: KindNetwork, Cause: err}
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return threadListResult{}, &Error{Kind: KindNetwork, Cause: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return threadListResult{}, &Error{Kind: KindBadStatus, StatusCode: resp.StatusCode}
		}
		data, err := readAll(resp)
		if err != nil {
			return threadListResult{}, &Error{Kind: KindNetwork, Cause: err}
		}
		decoded, err := fourchan.DecodeArchive(data)
		if err != nil {
			return threadListResult{}, &Error{Kind: KindJSONParse, Cause: err}
		}
		nums = decoded
		return threadListResult{}, nil
	})

	if result.Err != nil {
		s.m.requestErrors.WithLabelValues("thread_list", kindLabel(AsError(result.Err).Kind)).Inc()
		return nil, result.Err
	}
	return nums, nil
}

// FetchThreads implements threadupdater.Fetcher: fire-and-forget dispatch
// of one fetch per thread number. dropMetaAfterFetch marks a bumped-off
// refetch of an archived board's thread, threaded through to the
// FetchedThread result so the caller knows to drop its retained metadata
// only once this refetch reconciles.
func (s *Service) FetchThreads(ctx context.Context, board fourchan.Board, nums []uint64, fromArchive bool, dropMetaAfterFetch bool) error {
	for _, no := range nums {
		req := threadFetchRequest{Board: board, No: no, FromArchive: fromArchive, WasBumpedOffOnArchivedBoard: dropMetaAfterFetch}
		envelope := NewRetryEnvelope(req, s.cfg.Retry.Base, s.cfg.Retry.Factor, s.cfg.Retry.Max)
		go s.runThreadFetch(ctx, envelope)
	}
	return nil
}

// FetchMedia implements threadupdater.Fetcher: fire-and-forget dispatch of
// one download per file.
func (s *Service) FetchMedia(ctx context.Context, board fourchan.Board, files []fourchan.MediaFile) error {
	for _, f := range files {
		req := mediaFetchRequest{Board: f.Board, Filename: f.Filename}
		envelope := NewRetryEnvelope(req, s.cfg.Retry.Base, s.cfg.Retry.Factor, s.cfg.Retry.Max)
		go s.runMediaFetch(ctx, envelope)
	}
	return nil
}

func (s *Service) runThreadFetch(ctx context.Context, envelope RetryEnvelope[threadFetchRequest]) {
	req := envelope.Payload
	s.m.requestsTotal.WithLabelValues("thread").Inc()
	s.m.inFlight.WithLabelValues("thread").Inc()

	result := <-s.threadLimiter.Submit(ctx, func(ctx context.Context) (threadResult, error) {
		return s.doFetchThread(ctx, req)
	})

	s.m.inFlight.WithLabelValues("thread").Dec()

	if result.Err != nil {
		fe := AsError(result.Err)
		s.m.requestErrors.WithLabelValues("thread", kindLabel(fe.Kind)).Inc()

		if fe.Retryable(true) && envelope.CanRetry() {
			s.m.retriesTotal.WithLabelValues("thread").Inc()
			s.threadRetry.Enqueue(envelope)
			return
		}
		s.deliverFetchedThread(ctx, req, nil, 0, result.Err)
		return
	}

	s.deliverFetchedThread(ctx, req, result.Value.posts, result.Value.lastModified, nil)
}

func (s *Service) consumeThreadRetries(ctx context.Context) {
	for {
		select {
		case envelope := <-s.threadRetry.Output():
			go s.runThreadFetch(ctx, envelope)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) doFetchThread(ctx context.Context, req threadFetchRequest) (threadResult, error) {
	key := ThreadOf(req.Board, req.No)
	data, lastModified, err := s.conditionalGet(ctx, fmt.Sprintf("%s/%s/thread/%d.json", apiBaseURL, req.Board, req.No), key)
	if err != nil {
		return threadResult{}, err
	}

	posts, err := fourchan.DecodeThread(data)
	if err != nil {
		return threadResult{}, &Error{Kind: KindJSONParse, Cause: err}
	}
	if err := validateThread(posts); err != nil {
		return threadResult{}, err
	}

	return threadResult{posts: posts, lastModified: lastModified.Unix()}, nil
}

// validateThread enforces the first post must be the OP, and no later
// post may also claim to be one.
func validateThread(posts []fourchan.Post) error {
	if len(posts) == 0 {
		return &Error{Kind: KindEmptyThread}
	}
	if !posts[0].IsOp() {
		return &Error{Kind: KindInvalidReplyTo}
	}
	for _, p := range posts[1:] {
		if p.IsOp() {
			return &Error{Kind: KindInvalidReplyTo}
		}
	}
	return nil
}

func (s *Service) deliverFetchedThread(ctx context.Context, req threadFetchRequest, posts []fourchan.Post, lastModified int64, err error) {
	msg := threadupdater.FetchedThread{
		Board:                       req.Board,
		No:                          req.No,
		FromArchive:                 req.FromArchive,
		WasBumpedOffOnArchivedBoard: req.WasBumpedOffOnArchivedBoard,
		Posts:                       posts,
		LastModified:                lastModified,
		Err:                         err,
	}
	if sendErr := s.threadUpdater.Send(ctx, msg); sendErr != nil {
		level.Warn(s.logger).Log("msg", "could not deliver fetched thread", "board", req.Board, "no", req.No, "err", sendErr)
	}
}

func (s *Service) runMediaFetch(ctx context.Context, envelope RetryEnvelope[mediaFetchRequest]) {
	req := envelope.Payload
	s.m.requestsTotal.WithLabelValues("media").Inc()
	s.m.inFlight.WithLabelValues("media").Inc()

	result := <-s.mediaLimiter.Submit(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, downloadMedia(ctx, s.client, imageBaseURL, s.cfg.MediaRoot, req.Board, req.Filename)
	})

	s.m.inFlight.WithLabelValues("media").Dec()

	if result.Err == nil {
		return
	}

	fe := AsError(result.Err)
	s.m.requestErrors.WithLabelValues("media", kindLabel(fe.Kind)).Inc()

	if fe.Retryable(false) && envelope.CanRetry() {
		s.m.retriesTotal.WithLabelValues("media").Inc()
		s.mediaRetry.Enqueue(envelope)
		return
	}
	level.Warn(s.logger).Log("msg", "media fetch failed permanently", "board", req.Board, "filename", req.Filename, "err", result.Err)
}

func (s *Service) consumeMediaRetries(ctx context.Context) {
	for {
		select {
		case envelope := <-s.mediaRetry.Output():
			go s.runMediaFetch(ctx, envelope)
		case <-ctx.Done():
			return
		}
	}
}

// conditionalGet issues a GET with If-Modified-Since set from the stored
// Last-Modified value for key (or epochDefault when none exists), and
// interprets the response: 304 -> NotModified, 404 -> NotFound, 200 ->
// parse Last-Modified (defaulting to now if absent, and treating a
// regression as stale).
func (s *Service) conditionalGet(ctx context.Context, url string, key LastModifiedKey) ([]byte, time.Time, error) {
	since, ok := s.lastModified.Get(key)
	if !ok {
		since = epochDefault
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, time.Time{}, &Error{Kind: KindNetwork, Cause: err}
	}
	req.Header.Set("If-Modified-Since", since.UTC().Format(http.TimeFormat))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, time.Time{}, &Error{Kind: KindNetwork, Cause: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return nil, time.Time{}, &Error{Kind: KindNotModified}
	case http.StatusNotFound:
		return nil, time.Time{}, &Error{Kind: KindNotFound, StatusCode: http.StatusNotFound}
	case http.StatusOK:
		// fall through
	default:
		return nil, time.Time{}, &Error{Kind: KindBadStatus, StatusCode: resp.StatusCode}
	}

	data, err := readAll(resp)
	if err != nil {
		return nil, time.Time{}, &Error{Kind: KindNetwork, Cause: err}
	}

	lastModified := time.Now().UTC()
	if raw := resp.Header.Get("Last-Modified"); raw != "" {
		if parsed, err := http.ParseTime(raw); err == nil {
			lastModified = parsed.UTC()
		}
	}

	if lastModified.Before(since) {
		level.Warn(s.logger).Log("msg", "remote served stale last-modified, treating as unchanged", "url", url, "since", since, "got", lastModified)
		return nil, time.Time{}, &Error{Kind: KindNotModified}
	}

	s.lastModified.Update(key, lastModified)
	return data, lastModified, nil
}

func readAll(resp *http.Response) ([]byte, error) {
	return io.ReadAll(resp.Body)
}
