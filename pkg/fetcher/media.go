package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pluieelectrique/ena/pkg/fourchan"
)

// mediaSubdir returns "thumb" or "image" depending on the remote's naming
// contract: thumbnails are always <time_millis>s.jpg.
func mediaSubdir(filename string) string {
	if len(filename) > 5 && filename[len(filename)-5:] == "s.jpg" {
		return "thumb"
	}
	return "image"
}

// mediaPaths computes the temp and final on-disk locations for a media
// file, sharded by the first four characters of its filename.
func mediaPaths(mediaRoot string, board fourchan.Board, filename string) (temp, final string) {
	temp = filepath.Join(mediaRoot, string(board), "tmp", filename)

	shard1, shard2 := filename, filename
	if len(filename) >= 4 {
		shard1 = filename[0:4]
	}
	if len(filename) >= 6 {
		shard2 = filename[4:6]
	}
	final = filepath.Join(mediaRoot, string(board), mediaSubdir(filename), shard1, shard2, filename)
	return temp, final
}

// downloadMedia fetches one media file and atomically installs it at its
// final path. If final already exists, the download is skipped as a
// non-retryable ExistingMedia error; the caller has most likely already
// archived this file under a different thread.
func downloadMedia(ctx context.Context, client *http.Client, imageBaseURL, mediaRoot string, board fourchan.Board, filename string) error {
	temp, final := mediaPaths(mediaRoot, board, filename)

	if _, err := os.Stat(final); err == nil {
		return &Error{Kind: KindExistingMedia}
	}

	if err := os.MkdirAll(filepath.Dir(temp), 0o755); err != nil {
		return &Error{Kind: KindNetwork, Cause: err}
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return &Error{Kind: KindNetwork, Cause: err}
	}

	url := fmt.Sprintf("%s/%s/%s", imageBaseURL, board, filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &Error{Kind: KindNetwork, Cause: err}
	}

	resp, err := client.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &Error{Kind: KindNotFound, StatusCode: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return &Error{Kind: KindBadStatus, StatusCode: resp.StatusCode}
	}

	f, err := os.Create(temp)
	if err != nil {
		return &Error{Kind: KindNetwork, Cause: err}
	}
	// On any failure before the rename, temp is left in place: it is
	// board-scoped and idempotent, so a later retry overwrites it cleanly.
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return &Error{Kind: KindNetwork, Cause: err}
	}
	if err := f.Close(); err != nil {
		return &Error{Kind: KindNetwork, Cause: err}
	}

	if err := os.Rename(temp, final); err != nil {
		return &Error{Kind: KindNetwork, Cause: err}
	}
	return nil
}
