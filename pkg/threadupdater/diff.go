package threadupdater

import "github.com/pluieelectrique/ena/pkg/fourchan"

// diffPosts walks prevPosts (a thread's previously stored metadata,
// ascending by No) and currPosts (the freshly fetched, sorted-ascending
// post list) with the same two-pointer merge scan as boardpoller.Classify,
// but at the item level: matching No with a changed fingerprint is a
// modification; previous-only is a deletion; the remote API only appends,
// so once the scan runs out of previous posts, every remaining current
// post is new (the new suffix), not merely the index positions disagree.
func diffPosts(prevPosts []PostMeta, currPosts []fourchan.Post) (newPosts []fourchan.Post, modified []ModifiedPost, deletedNos []uint64) {
	i, j := 0, 0
	for i < len(prevPosts) && j < len(currPosts) {
		p := prevPosts[i]
		c := currPosts[j]

		switch {
		case p.No == c.No:
			fp := fingerprint(c.Comment, spoilerOf(c))
			if fp != p.Fingerprint {
				modified = append(modified, ModifiedPost{No: c.No, Comment: c.Comment, Spoiler: spoilerOf(c)})
			}
			i++
			j++
		case p.No < c.No:
			deletedNos = append(deletedNos, p.No)
			i++
		default: // p.No > c.No: should not happen (no only increases), treat defensively as new
			newPosts = append(newPosts, c)
			j++
		}
	}
	for ; i < len(prevPosts); i++ {
		deletedNos = append(deletedNos, prevPosts[i].No)
	}
	for ; j < len(currPosts); j++ {
		newPosts = append(newPosts, currPosts[j])
	}
	return newPosts, modified, deletedNos
}
