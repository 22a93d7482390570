package archivedb

import (
	"strings"

	"github.com/pluieelectrique/ena/pkg/fourchan"
)

const boardPlaceholder = "%%BOARD%%"

// boardTable substitutes a board code into a query template. Board is a
// closed, validated set of short alphanumeric codes (see fourchan.Board),
// never user-controlled free text, so this string substitution carries no
// injection risk despite not using a placeholder parameter.
func boardTable(board fourchan.Board, query string) string {
	return strings.ReplaceAll(query, boardPlaceholder, string(board))
}

// insertPostQuery is an INSERT...SELECT rather than a plain INSERT...VALUES
// so it can carry a WHERE guard: a row must never be resurrected by a stale
// upsert once its num (or, for a reply, its thread's num) has been
// tombstoned in %%BOARD%%_deleted. The num/thread_num pair is bound twice,
// once for the row values and once for the guard's IN clause.
const insertPostQuery = `
INSERT INTO %%BOARD%% (
	num, subnum, thread_num, op, timestamp, timestamp_expired,
	preview_orig, preview_w, preview_h,
	media_filename, media_w, media_h, media_size, media_hash, media_orig,
	spoiler, capcode, name, trip, title, comment, sticky, locked,
	poster_hash, poster_country
)
SELECT
	?, 0, ?, ?, ?, ?,
	?, ?, ?,
	?, ?, ?, ?, ?, ?,
	?, ?, ?, ?, ?, ?, ?, ?,
	?, ?
WHERE NOT EXISTS (
	SELECT * FROM %%BOARD%%_deleted WHERE num IN (?, ?) AND subnum = 0
)
ON DUPLICATE KEY UPDATE
	sticky = VALUES(sticky),
	locked = VALUES(locked),
	timestamp_expired = VALUES(timestamp_expired),
	comment = VALUES(comment),
	spoiler = VALUES(spoiler)
`

const updateOpWithArchiveQuery = `
UPDATE %%BOARD%% SET sticky = ?, timestamp_expired = ? WHERE num = ? AND subnum = 0
`

const updateOpQuery = `
UPDATE %%BOARD%% SET sticky = ?, locked = ?, timestamp_expired = ? WHERE num = ? AND subnum = 0
`

const updatePostQuery = `
UPDATE %%BOARD%% SET comment = ?, spoiler = ? WHERE num = ? AND subnum = 0
`

const markRemovedQuery = `
UPDATE %%BOARD%% SET deleted = ?, timestamp_expired = ? WHERE num = ? AND subnum = 0
`

// normalizeCapcode maps the remote's capcode string to the legacy schema's
// single-letter encoding: "manager" is the site-wide admin/mod capcode
// rendered as "G"; any other non-empty capcode is truncated to its first
// letter and upper-cased; absent capcode is "N" (none).
func normalizeCapcode(capcode string) string {
	if capcode == "" {
		return "N"
	}
	if capcode == "manager" {
		return "G"
	}
	return strings.ToUpper(capcode[:1])
}

// normalizePosterHash maps the remote's "Developer" poster ID (4chan staff)
// to the legacy schema's short-form "Dev".
func normalizePosterHash(id string) string {
	if id == "Developer" {
		return "Dev"
	}
	return id
}
