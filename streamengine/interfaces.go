package streamengine

import (
	"context"

	"github.com/brettboylen/reddittail/models"
	"github.com/brettboylen/reddittail/ratelimit"
)

// Lister is the thin external collaborator the engine depends on: a
// paginated, newest-first listing fetch plus a per-item refresh used to
// wait out Reddit's edit-propagation lag. redditclient.Client implements
// this against the real API; tests implement it in memory.
type Lister interface {
	Fetch(ctx context.Context, source string, limit int, params map[string]string) ([]models.Item, error)
	Refresh(ctx context.Context, fullname string) (models.Item, error)
}

// QuotaAccessor is the remote quota counter a pacer reads from. It is
// satisfied directly by ratelimit.QuotaSource so a redditclient.Client can
// be handed to both the engine and the pacer without adapters.
type QuotaAccessor = ratelimit.QuotaSource

// CursorStore persists and restores a single listing's seen-set snapshot
// between restarts, keyed by subreddit and listing name.
type CursorStore interface {
	Load(subreddit, listing string) ([]Attribute, error)
	Save(subreddit, listing string, values []Attribute) error
}

// Sink optionally records every item the engine emits, independent of the
// dedup cursor, giving the consumer a queryable history.
type Sink interface {
	Record(item StreamItem) error
}

// ItemLogger optionally logs every item the engine emits, one call per
// item, before it reaches the consumer.
type ItemLogger interface {
	Log(item StreamItem)
}
