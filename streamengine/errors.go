package streamengine

import "errors"

// ErrBadCursor is returned by a Lister when the server rejects a `before`
// anchor, typically because the anchored item was deleted. SubredditStream
// reacts by forgetting the cursor and refetching from the top.
var ErrBadCursor = errors.New("streamengine: cursor rejected by listing source")

// ErrTransient is returned by a Lister for recoverable transport/server
// faults (network errors, 5xx, 429). MultiStream always runs with
// raiseErrors=true, so these always propagate up to it for pause+rebuild.
var ErrTransient = errors.New("streamengine: transient transport error")
