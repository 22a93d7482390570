// Package archivedb is the archive database actor: it owns the only
// connection pool that writes posts, and translates ThreadUpdater's
// reconciliation decisions into the legacy Asagi schema's per-board
// tables.
package archivedb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/pluieelectrique/ena/pkg/bbcode"
	"github.com/pluieelectrique/ena/pkg/enaconfig"
	"github.com/pluieelectrique/ena/pkg/fourchan"
	"github.com/pluieelectrique/ena/pkg/threadupdater"
)

// boardMedia is the subset of a board's config InsertPosts needs to decide
// which newly-seen media filenames to hand back for download.
type boardMedia struct {
	downloadMedia  bool
	downloadThumbs bool
}

// Service is the Database actor: all schema access goes through its one
// *sql.DB pool.
type Service struct {
	db               *sql.DB
	logger           log.Logger
	adjustTimestamps bool
	boards           map[fourchan.Board]boardMedia
}

// New opens the connection pool described by cfg.DatabaseMedia and builds
// the per-board media-download lookup table. It does not create or alter
// any schema: table layout is owned externally, so Service only ever
// SELECTs, INSERTs and UPDATEs rows.
func New(cfg *enaconfig.Config, logger log.Logger) (*Service, error) {
	dsn, err := appendCharset(cfg.DatabaseMedia.DatabaseURL, cfg.DatabaseMedia.Charset)
	if err != nil {
		return nil, errors.Wrap(err, "archivedb: invalid database_url")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "archivedb: could not open connection pool")
	}
	if err := db.PingContext(context.Background()); err != nil {
		return nil, errors.Wrap(err, "archivedb: could not reach database")
	}

	boards := make(map[fourchan.Board]boardMedia, len(cfg.Boards))
	for _, b := range cfg.Boards {
		boards[b.Board] = boardMedia{downloadMedia: b.DownloadMedia, downloadThumbs: b.DownloadThumbs}
	}

	return &Service{
		db:               db,
		logger:           logger,
		adjustTimestamps: cfg.AsagiCompat.AdjustTimestamps,
		boards:           boards,
	}, nil
}

// Close releases the connection pool.
func (s *Service) Close() error { return s.db.Close() }

// appendCharset sets the MySQL driver's "charset" DSN parameter without
// requiring the caller to hand-format it into database_url themselves.
func appendCharset(dsn, charset string) (string, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%scharset=%s", dsn, sep, charset), nil
}

// InsertPosts implements threadupdater.Database: inserts every post in
// posts (sorted ascending by No, first element the OP), and returns the
// media filenames that should now be downloaded, filtered by the board's
// download_media/download_thumbs flags. Cross-thread deduplication by MD5
// hash is delegated to the schema's own triggers/indices; a row is treated
// as "newly seen" here purely based on whether this INSERT created it.
func (s *Service) InsertPosts(ctx context.Context, board fourchan.Board, threadNo uint64, posts []fourchan.Post) ([]fourchan.MediaFile, error) {
	if len(posts) == 0 {
		return nil, errors.New("archivedb: InsertPosts called with no posts")
	}

	media := s.boards[board]
	query := boardTable(board, insertPostQuery)

	var files []fourchan.MediaFile
	for _, post := range posts {
		res, err := s.db.ExecContext(ctx, query, postInsertArgs(board, threadNo, post, s.adjustTimestamps)...)
		if err != nil {
			return nil, errors.Wrapf(err, "archivedb: insert post %s/%d", board, post.No)
		}

		affected, _ := res.RowsAffected()
		isNew := affected == 1 // ON DUPLICATE KEY UPDATE reports 2 on an actual update, 0 on a no-op duplicate.
		if isNew && post.Image != nil {
			if media.downloadMedia {
				files = append(files, fourchan.MediaFile{Board: board, Filename: fmt.Sprintf("%d%s", post.Image.TimeMillis, post.Image.Ext)})
			}
			if media.downloadThumbs && (post.Image.ThumbnailWidth != 0 || post.Image.ThumbnailHeight != 0) {
				files = append(files, fourchan.MediaFile{Board: board, Filename: fmt.Sprintf("%ds.jpg", post.Image.TimeMillis)})
			}
		}
	}
	return files, nil
}

func postInsertArgs(board fourchan.Board, threadNo uint64, post fourchan.Post, adjust bool) []any {
	threadNum := post.No
	if !post.IsOp() {
		threadNum = threadNo
	}

	var mediaFilename, mediaOrig, mediaHash, previewOrig any
	var mediaW, mediaH, mediaSize int64
	if post.Image != nil {
		img := post.Image
		mediaFilename = img.Filename + img.Ext
		mediaOrig = fmt.Sprintf("%d%s", img.TimeMillis, img.Ext)
		mediaHash = img.MD5
		mediaW, mediaH, mediaSize = int64(img.ImageWidth), int64(img.ImageHeight), img.Filesize
		if img.ThumbnailWidth != 0 || img.ThumbnailHeight != 0 {
			previewOrig = fmt.Sprintf("%ds.jpg", img.TimeMillis)
		}
	}

	var name, title, comment any
	if post.Name != "" {
		name = bbcode.Unescape(post.Name, nil)
	}
	if post.Subject != "" {
		title = bbcode.Unescape(post.Subject, nil)
	}
	if post.Comment != "" {
		comment = bbcode.Clean(post.Comment, nil)
	}

	var previewW, previewH int
	if post.Image != nil {
		previewW, previewH = post.Image.ThumbnailWidth, post.Image.ThumbnailHeight
	}

	return []any{
		post.No, threadNum, post.IsOp(),
		adjustTimestamp(post.Time, adjust), adjustTimestamp(post.OpData.ArchivedOn, adjust),
		previewOrig, previewW, previewH,
		mediaFilename, mediaW, mediaH, mediaSize, mediaHash, mediaOrig,
		post.Image != nil && post.Image.Spoiler.Bool(),
		normalizeCapcode(post.Capcode), name, post.Trip, title, comment,
		post.OpData.Sticky.Bool(),
		post.OpData.Closed.Bool() && !post.OpData.Archived.Bool(), // never lock a thread closed only by archival
		normalizePosterHash(post.ID), post.Country,
		// Guard args for insertPostQuery's WHERE NOT EXISTS clause: num and
		// thread_num again, bound a second time for the tombstone check.
		post.No, threadNum,
	}
}

// UpdateOp implements threadupdater.Database. A thread's locked status is
// preserved once it has been archived: archival itself always carries a
// closed flag, which must not overwrite a thread that was unlocked before
// archiving.
func (s *Service) UpdateOp(ctx context.Context, board fourchan.Board, threadNo uint64, op fourchan.OpData) error {
	expired := adjustTimestamp(op.ArchivedOn, s.adjustTimestamps)

	var query string
	var args []any
	if op.Archived.Bool() {
		query = boardTable(board, updateOpWithArchiveQuery)
		args = []any{op.Sticky.Bool(), expired, threadNo}
	} else {
		query = boardTable(board, updateOpQuery)
		args = []any{op.Sticky.Bool(), op.Closed.Bool(), expired, threadNo}
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrapf(err, "archivedb: update op %s/%d", board, threadNo)
	}
	return nil
}

// UpdatePost implements threadupdater.Database.
func (s *Service) UpdatePost(ctx context.Context, board fourchan.Board, threadNo uint64, posts []threadupdater.ModifiedPost) error {
	query := boardTable(board, updatePostQuery)
	for _, p := range posts {
		if _, err := s.db.ExecContext(ctx, query, bbcode.Clean(p.Comment, nil), p.Spoiler, p.No); err != nil {
			return errors.Wrapf(err, "archivedb: update post %s/%d", board, p.No)
		}
	}
	return nil
}

// MarkPostsRemoved implements threadupdater.Database.
func (s *Service) MarkPostsRemoved(ctx context.Context, board fourchan.Board, removals []fourchan.Removal, lastModified int64) error {
	query := boardTable(board, markRemovedQuery)
	expired := adjustTimestamp(lastModified, s.adjustTimestamps)

	for _, r := range removals {
		if _, err := s.db.ExecContext(ctx, query, r.Reason == fourchan.Deleted, expired, r.No); err != nil {
			return errors.Wrapf(err, "archivedb: mark removed %s/%d", board, r.No)
		}
	}
	return nil
}

// GetUnarchivedThreads implements threadupdater.Database: of the given
// archive thread numbers, returns the ones that have not yet been fully
// captured: their OP row is missing or not yet marked expired, and they are
// not tombstoned in the board's _deleted table.
func (s *Service) GetUnarchivedThreads(ctx context.Context, board fourchan.Board, nums []uint64) ([]uint64, error) {
	if len(nums) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(nums))
	args := make([]any, len(nums))
	for i, n := range nums {
		placeholders[i] = "?"
		args[i] = n
	}
	inClause := strings.Join(placeholders, ",")

	archivedQuery := boardTable(board, fmt.Sprintf(
		"SELECT num FROM %%BOARD%% WHERE num IN (%s) AND subnum = 0 AND thread_num = num AND timestamp_expired != 0",
		inClause))
	deletedQuery := boardTable(board, fmt.Sprintf(
		"SELECT num FROM %%BOARD%%_deleted WHERE num IN (%s) AND subnum = 0",
		inClause))

	done := make(map[uint64]bool, len(nums))
	for _, q := range []string{archivedQuery, deletedQuery} {
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			level.Warn(s.logger).Log("msg", "get unarchived threads query failed", "board", board, "err", err)
			return nil, errors.Wrap(err, "archivedb: get unarchived threads")
		}
		for rows.Next() {
			var num uint64
			if err := rows.Scan(&num); err != nil {
				rows.Close()
				return nil, errors.Wrap(err, "archivedb: scan unarchived threads")
			}
			done[num] = true
		}
		rows.Close()
	}

	var survivors []uint64
	for _, n := range nums {
		if !done[n] {
			survivors = append(survivors, n)
		}
	}
	return survivors, nil
}
