package archivedb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pluieelectrique/ena/pkg/fourchan"
)

func TestBoardTableSubstitutesPlaceholder(t *testing.T) {
	got := boardTable("g", "SELECT * FROM %%BOARD%% JOIN %%BOARD%%_deleted")
	require.Equal(t, "SELECT * FROM g JOIN g_deleted", got)
}

func TestNormalizeCapcode(t *testing.T) {
	require.Equal(t, "N", normalizeCapcode(""))
	require.Equal(t, "G", normalizeCapcode("manager"))
	require.Equal(t, "M", normalizeCapcode("mod"))
	require.Equal(t, "A", normalizeCapcode("admin"))
}

func TestNormalizePosterHash(t *testing.T) {
	require.Equal(t, "Dev", normalizePosterHash("Developer"))
	require.Equal(t, "abc123", normalizePosterHash("abc123"))
}

func TestPostInsertArgsOrderMatchesQueryPlaceholders(t *testing.T) {
	post := fourchan.Post{
		No:      100,
		ReplyTo: 0,
		Time:    1000,
		Name:    "Anonymous",
		Capcode: "manager",
		Image: &fourchan.Image{
			Filename:        "file",
			Ext:             ".jpg",
			TimeMillis:      123456,
			ThumbnailWidth:  100,
			ThumbnailHeight: 100,
		},
	}
	args := postInsertArgs("g", 100, post, false)
	require.Len(t, args, 26)
	require.Equal(t, uint64(100), args[0])  // num
	require.Equal(t, uint64(100), args[1])  // thread_num (OP: own number)
	require.Equal(t, true, args[2])  // op
	require.Equal(t, "G", args[15]) // capcode, normalized from "manager"
	require.Equal(t, uint64(100), args[24]) // NOT EXISTS guard: num again
	require.Equal(t, uint64(100), args[25]) // NOT EXISTS guard: thread_num again
}

func TestPostInsertArgsReplyThreadNum(t *testing.T) {
	post := fourchan.Post{No: 101, ReplyTo: 100, Time: 1000}
	args := postInsertArgs("g", 100, post, false)
	require.Equal(t, uint64(101), args[0])
	require.Equal(t, uint64(100), args[1]) // reply: thread_num is the OP's number
	require.Equal(t, false, args[2])
	require.Equal(t, uint64(101), args[24]) // NOT EXISTS guard mirrors num/thread_num
	require.Equal(t, uint64(100), args[25])
}
