// Package streamengine merges per-listing polling loops for one subreddit
// into a single ordered, deduplicated, rate-limit-aware stream of items
// with durable cursor positions.
package streamengine

import "github.com/brettboylen/reddittail/models"

// Kind classifies a StreamItem for consumers that branch on item type
// without re-inspecting the underlying payload.
type Kind string

const (
	KindSubmissions Kind = "submissions"
	KindComments    Kind = "comments"
)

// StreamItem is the immutable event wrapper MultiStream forwards to the
// consumer. Kind is computed structurally at construction: a t1_ fullname
// is always "comments", a t3_ fullname is always "submissions", whichever
// listing it came from, and every other item (mod log entries, modmail
// conversations...) falls back to its own listing name, so consumers of
// heterogeneous listings can dispatch without re-checking item types.
type StreamItem struct {
	Listing string
	Item    models.Item
	Kind    Kind
}

// NewStreamItem builds a StreamItem, deriving Kind from the item's fullname
// prefix first and the listing name otherwise.
func NewStreamItem(listing string, item models.Item) StreamItem {
	var kind Kind
	switch {
	case item.IsComment():
		kind = KindComments
	case item.IsSubmission():
		kind = KindSubmissions
	default:
		kind = Kind(listing)
	}
	return StreamItem{Listing: listing, Item: item, Kind: kind}
}
