package threadupdater

import (
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/pluieelectrique/ena/pkg/fourchan"
)

// PostMeta is the compact, mutable-surface summary of one post that
// ThreadMetadata retains between fetches: enough to detect a comment edit
// or spoiler flip without keeping the full post body in memory.
type PostMeta struct {
	No          uint64
	Fingerprint uint64
}

// ThreadMetadata is the in-memory record ThreadUpdater keeps for each live
// (non-archived, non-removed) thread.
type ThreadMetadata struct {
	OpData fourchan.OpData
	Posts  []PostMeta
}

// ModifiedPost carries a post whose comment or spoiler flag changed between
// fetches. Comment is moved out of the fetched Post (simply reassigned, Go
// has no ownership model to enforce this, but the fetched Post slice is not
// reused afterward) rather than cloned.
type ModifiedPost struct {
	No      uint64
	Comment string
	Spoiler bool
}

// fingerprint summarizes a post's mutable surface: the raw (pre-bbcode-
// clean) comment bytes and the spoiler flag. Any difference here means the
// post mutated.
func fingerprint(comment string, spoiler bool) uint64 {
	h := xxhash.Sum64String(comment)
	if spoiler {
		// Fold the spoiler bit into the hash so a spoiler flip alone (an
		// empty-comment post, or one whose comment is unchanged) still
		// changes the fingerprint.
		h ^= 0x1
	}
	return h
}

func spoilerOf(p fourchan.Post) bool {
	return p.Image != nil && p.Image.Spoiler.Bool()
}

// buildMetadata defensively sorts posts ascending by No and summarizes
// each into a PostMeta.
func buildMetadata(posts []fourchan.Post) (ThreadMetadata, []fourchan.Post) {
	sorted := make([]fourchan.Post, len(posts))
	copy(sorted, posts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].No < sorted[j].No })

	var op fourchan.OpData
	metas := make([]PostMeta, 0, len(sorted))
	for _, p := range sorted {
		if p.IsOp() {
			op = p.OpData
		}
		metas = append(metas, PostMeta{No: p.No, Fingerprint: fingerprint(p.Comment, spoilerOf(p))})
	}

	return ThreadMetadata{OpData: op, Posts: metas}, sorted
}
