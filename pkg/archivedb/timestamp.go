package archivedb

import (
	"time"

	// Embeds the IANA time zone database so America/New_York loads even on
	// minimal container images that ship without a system tzdata package.
	_ "time/tzdata"
)

// newYork is loaded once; the legacy schema stores all timestamps as Unix
// seconds computed against America/New_York wall-clock time when
// asagi_compat.adjust_timestamps is enabled, matching the archiver this
// schema was designed for.
var newYork *time.Location

func init() {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// The tzdata database is expected to always be available; if it
		// isn't, every timestamp write would be silently wrong, so fail
		// loudly instead.
		panic("archivedb: could not load America/New_York: " + err.Error())
	}
	newYork = loc
}

// adjustTimestamp rewrites a Unix-seconds timestamp to the wall-clock
// value it would have in America/New_York, if adjust is set. Otherwise it
// is returned unchanged.
func adjustTimestamp(unixSeconds int64, adjust bool) int64 {
	if !adjust {
		return unixSeconds
	}
	t := time.Unix(unixSeconds, 0).UTC().In(newYork)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC).Unix()
}
