package archivedb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAdjustTimestampNoopWhenDisabled(t *testing.T) {
	ts := int64(1700000000)
	require.Equal(t, ts, adjustTimestamp(ts, false))
}

func TestAdjustTimestampRewritesWallClock(t *testing.T) {
	// 2023-11-14 22:13:20 UTC is 2023-11-14 17:13:20 in America/New_York
	// (EST, UTC-5 in mid-November). adjustTimestamp re-renders that local
	// wall-clock reading as if it were UTC, matching the legacy archiver's
	// storage convention.
	ts := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC).Unix()
	adjusted := adjustTimestamp(ts, true)

	got := time.Unix(adjusted, 0).UTC()
	require.Equal(t, 2023, got.Year())
	require.Equal(t, time.November, got.Month())
	require.Equal(t, 14, got.Day())
	require.Equal(t, 17, got.Hour())
	require.Equal(t, 13, got.Minute())
	require.Equal(t, 20, got.Second())
}
