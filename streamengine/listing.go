package streamengine

// AttributeKind distinguishes the three dedup-identity shapes a listing
// can use: a bare fullname, a bare id, or a (fullname, edited-timestamp)
// pair for the edited listing.
type AttributeKind int

const (
	AttrFullname AttributeKind = iota
	AttrID
	AttrFullnameEdited
)

// Attribute is the per-item identity value a SubredditStream's BoundedSet
// stores: usually just a fullname, but a (fullname, editedAt) pair for the
// edited listing so distinct edits of one item are distinct attributes.
// All fields are comparable so Attribute satisfies dedup.BoundedSet's
// comparable type constraint directly.
type Attribute struct {
	Value     string  `json:"value"`
	EditedAt  float64 `json:"edited_at,omitempty"`
	HasEdited bool    `json:"has_edited,omitempty"`
}

// CursorValue returns the fullname/id portion of the attribute, the part
// used as a `before` cursor regardless of AttributeKind.
func (a Attribute) CursorValue() string {
	return a.Value
}

// ListingDescriptor names one of the thirteen supported listings, the source
// endpoint key a Lister understands, and the attribute shape used for
// dedup and cursor selection.
type ListingDescriptor struct {
	Name          string
	Source        string
	AttributeKind AttributeKind
}

// Listings is the registry of listings the engine supports.
var Listings = map[string]ListingDescriptor{
	"submissions":           {Name: "submissions", Source: "new", AttributeKind: AttrFullname},
	"comments":              {Name: "comments", Source: "comments", AttributeKind: AttrFullname},
	"hot":                   {Name: "hot", Source: "hot", AttributeKind: AttrFullname},
	"rising":                {Name: "rising", Source: "rising", AttributeKind: AttrFullname},
	"top":                   {Name: "top", Source: "top", AttributeKind: AttrFullname},
	"controversial":         {Name: "controversial", Source: "controversial", AttributeKind: AttrFullname},
	"unmoderated":           {Name: "unmoderated", Source: "mod/unmoderated", AttributeKind: AttrFullname},
	"modqueue":              {Name: "modqueue", Source: "mod/modqueue", AttributeKind: AttrFullname},
	"edited":                {Name: "edited", Source: "mod/edited", AttributeKind: AttrFullnameEdited},
	"spam":                  {Name: "spam", Source: "mod/spam", AttributeKind: AttrFullname},
	"removed":               {Name: "removed", Source: "mod/spam", AttributeKind: AttrFullname},
	"log":                   {Name: "log", Source: "mod/log", AttributeKind: AttrID},
	"modmail_conversations": {Name: "modmail_conversations", Source: "modmail/conversations", AttributeKind: AttrID},
}

// invalidationActions is the set of modlog actions that, applied to a
// fullname, mean that fullname should drop out of the modqueue's seen set:
// once actioned, the item leaves the mod queue for good.
var invalidationActions = map[string]bool{
	"approvelink":    true,
	"removelink":     true,
	"spamlink":       true,
	"approvecomment": true,
	"removecomment":  true,
	"spamcomment":    true,
}
