package boardpoller

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/pluieelectrique/ena/pkg/fourchan"
)

// ThreadUpdateKind classifies the fate of a single thread between two polls.
type ThreadUpdateKind int

const (
	New ThreadUpdateKind = iota
	Modified
	BumpedOff
	Deleted
)

func (k ThreadUpdateKind) String() string {
	switch k {
	case New:
		return "New"
	case Modified:
		return "Modified"
	case BumpedOff:
		return "BumpedOff"
	case Deleted:
		return "Deleted"
	default:
		return "Unknown"
	}
}

// ThreadUpdate is one entry of a BoardUpdate's delta list.
type ThreadUpdate struct {
	No   uint64
	Kind ThreadUpdateKind
}

// ErrStaleIndex is returned when the current index contradicts the
// monotonicity invariant (a thread's no or last_modified appears to have
// gone backwards). The poll is discarded rather than acted on: the remote
// API occasionally serves a stale body even behind a fresh Last-Modified.
var ErrStaleIndex = errors.New("boardpoller: current index is not monotonic relative to previous index")

// Classify diffs prev (the previously observed index, sorted ascending by
// No) against curr (the freshly fetched index, in its original fetch
// order, BumpIndex ascending) and returns the list of per-thread updates
// plus curr sorted ascending by No, for use as the next poll's prev.
//
// On ErrStaleIndex the returned updates/sorted slice are nil; the caller
// must keep the previous prev unchanged and simply log the discarded poll.
func Classify(prev []fourchan.Thread, curr []fourchan.Thread) ([]ThreadUpdate, []fourchan.Thread, error) {
	anchorPrevBumpIndex, hasAnchor := findAnchor(prev, curr)

	sortedCurr := make([]fourchan.Thread, len(curr))
	copy(sortedCurr, curr)
	sort.Slice(sortedCurr, func(i, j int) bool { return sortedCurr[i].No < sortedCurr[j].No })

	sortedPrev := make([]fourchan.Thread, len(prev))
	copy(sortedPrev, prev)
	sort.Slice(sortedPrev, func(i, j int) bool { return sortedPrev[i].No < sortedPrev[j].No })

	var updates []ThreadUpdate
	var removed []fourchan.Thread

	i, j := 0, 0
	for i < len(sortedPrev) && j < len(sortedCurr) {
		p, c := sortedPrev[i], sortedCurr[j]
		switch {
		case p.No == c.No:
			if p.LastModified > c.LastModified {
				return nil, nil, ErrStaleIndex
			}
			if p.LastModified < c.LastModified {
				updates = append(updates, ThreadUpdate{No: c.No, Kind: Modified})
			}
			// equal last_modified: no change, c is an anchor candidate
			// (handled separately by findAnchor).
			i++
			j++
		case p.No < c.No:
			removed = append(removed, p)
			i++
		default: // p.No > c.No
			updates = append(updates, ThreadUpdate{No: c.No, Kind: New})
			j++
		}
	}
	for ; i < len(sortedPrev); i++ {
		removed = append(removed, sortedPrev[i])
	}
	for ; j < len(sortedCurr); j++ {
		updates = append(updates, ThreadUpdate{No: sortedCurr[j].No, Kind: New})
	}

	for _, p := range removed {
		updates = append(updates, ThreadUpdate{No: p.No, Kind: classifyRemoved(p, len(curr), anchorPrevBumpIndex, hasAnchor)})
	}

	return updates, sortedCurr, nil
}

// findAnchor looks only at the single last thread of curr, in its original
// fetch order (the bottommost thread of the live index). If that thread
// also appears in prev with an unchanged last_modified, it is the anchor,
// and its bump_index in prev is returned. Deliberately does not search the
// rest of curr for a better candidate: if the last thread is new or its
// last_modified changed (for example it was saged), there is no anchor and
// every removal falls back to BumpedOff, since missing a deletion is safer
// than inventing one.
func findAnchor(prev, curr []fourchan.Thread) (prevBumpIndex int, ok bool) {
	if len(curr) == 0 {
		return 0, false
	}
	last := curr[len(curr)-1]
	for _, p := range prev {
		if p.No == last.No {
			if p.LastModified == last.LastModified {
				return p.BumpIndex, true
			}
			return 0, false
		}
	}
	return 0, false
}

// classifyRemoved is the anchor heuristic: a previous thread with no
// corresponding current thread is Deleted if it sat ahead of (lower
// bump_index than) the anchor's previous position, otherwise BumpedOff.
// An empty current index is the unambiguous edge case: everything removed
// is Deleted. Absent an anchor, every removal is conservatively BumpedOff.
func classifyRemoved(p fourchan.Thread, currLen int, anchorPrevBumpIndex int, hasAnchor bool) ThreadUpdateKind {
	if currLen == 0 {
		return Deleted
	}
	if !hasAnchor {
		return BumpedOff
	}
	if p.BumpIndex < anchorPrevBumpIndex {
		return Deleted
	}
	return BumpedOff
}
