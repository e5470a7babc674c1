// Package redditclient is the external listing collaborator streamengine
// depends on: an OAuth2-authenticated HTTP client against Reddit's listing
// endpoints. The engine itself only depends on the thin
// streamengine.Lister/QuotaAccessor interfaces; this package implements
// them against the real API so the module runs standalone.
package redditclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/brettboylen/reddittail/models"
	"github.com/brettboylen/reddittail/ratelimit"
	"github.com/brettboylen/reddittail/streamengine"
)

const (
	baseURL        = "https://oauth.reddit.com"
	authURL        = "https://www.reddit.com/api/v1/access_token"
	defaultTimeout = 30 * time.Second

	modmailSource = "modmail/conversations"
)

// endpoints maps a streamengine listing source to its Reddit path template,
// taking the subreddit name as its one format argument. The modmail path is
// the exception: it is account-wide and scoped by an entity query parameter
// instead of a /r/<subreddit>/ prefix.
var endpoints = map[string]string{
	"new":           "/r/%s/new",
	"comments":      "/r/%s/comments",
	"hot":           "/r/%s/hot",
	"rising":        "/r/%s/rising",
	"top":           "/r/%s/top",
	"controversial": "/r/%s/controversial",

	"mod/unmoderated": "/r/%s/about/unmoderated",
	"mod/modqueue":    "/r/%s/about/modqueue",
	"mod/edited":      "/r/%s/about/edited",
	"mod/spam":        "/r/%s/about/spam",
	"mod/log":         "/r/%s/about/log",

	modmailSource: "/api/mod/conversations",
}

// Config configures a Client. RequestsPerSecond/Burst govern the local
// token-bucket burst guard, independent of (and underneath) the stream
// engine's own adaptive/exponential pacers.
type Config struct {
	ClientID          string
	ClientSecret      string
	UserAgent         string
	Subreddit         string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration

	// BaseURL overrides the oauth.reddit.com root, for tests.
	BaseURL string
}

// listingQuery is the go-querystring-encoded shape of the common listing
// parameters; anything else a caller passes through params is merged in
// afterward as a raw query value.
type listingQuery struct {
	Before string `url:"before,omitempty"`
	Limit  int    `url:"limit"`
	Only   string `url:"only,omitempty"`
	T      string `url:"t,omitempty"`
}

// Client implements streamengine.Lister and streamengine.QuotaAccessor
// against the real Reddit API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logrus.Logger
	now        func() time.Time

	quotaMu sync.RWMutex
	quota   ratelimit.QuotaSnapshot
}

// New builds a Client using an OAuth2 client-credentials token source; the
// returned http.Client fetches and refreshes its bearer token
// transparently.
func New(cfg Config, log *logrus.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = baseURL
	}

	oauthCfg := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     authURL,
	}
	httpClient := oauthCfg.Client(context.Background())
	httpClient.Timeout = cfg.Timeout

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		log:        log,
		now:        time.Now,
	}
}

// Fetch implements streamengine.Lister.
func (c *Client) Fetch(ctx context.Context, source string, limit int, params map[string]string) ([]models.Item, error) {
	path, ok := endpoints[source]
	if !ok {
		return nil, fmt.Errorf("redditclient: unknown listing source %q", source)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	values, err := c.encodeQuery(limit, params)
	if err != nil {
		return nil, fmt.Errorf("redditclient: encoding query: %w", err)
	}

	if source == modmailSource {
		return c.fetchModmail(ctx, path, values)
	}

	endpoint := fmt.Sprintf(c.cfg.BaseURL+path, url.PathEscape(c.cfg.Subreddit)) + ".json?" + values.Encode()
	resp, err := c.do(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	c.updateQuota(resp.Header)

	if err := classifyStatus(resp); err != nil {
		return nil, err
	}

	var listing struct {
		Data struct {
			Children []struct {
				Kind string      `json:"kind"`
				Data models.Item `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("redditclient: decoding listing: %w", err)
	}

	items := make([]models.Item, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		item := child.Data
		item.ThingKind = child.Kind
		items = append(items, item)
	}
	return items, nil
}

// fetchModmail fetches modmail conversations, which come back keyed by
// conversation id with a separate newest-first id order rather than as a
// listing envelope of children.
func (c *Client) fetchModmail(ctx context.Context, path string, values url.Values) ([]models.Item, error) {
	values.Set("entity", c.cfg.Subreddit)
	values.Set("sort", "recent")

	resp, err := c.do(ctx, c.cfg.BaseURL+path+"?"+values.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	c.updateQuota(resp.Header)

	if err := classifyStatus(resp); err != nil {
		return nil, err
	}

	var payload struct {
		ConversationIDs []string `json:"conversationIds"`
		Conversations   map[string]struct {
			ID          string `json:"id"`
			Subject     string `json:"subject"`
			LastUpdated string `json:"lastUpdated"`
			Authors     []struct {
				Name string `json:"name"`
			} `json:"authors"`
		} `json:"conversations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("redditclient: decoding modmail conversations: %w", err)
	}

	items := make([]models.Item, 0, len(payload.ConversationIDs))
	for _, id := range payload.ConversationIDs {
		conv, ok := payload.Conversations[id]
		if !ok {
			continue
		}
		item := models.Item{ID: conv.ID, Title: conv.Subject}
		if t, err := time.Parse(time.RFC3339, conv.LastUpdated); err == nil {
			item.CreatedUTC = float64(t.Unix())
		}
		if len(conv.Authors) > 0 {
			item.Author = conv.Authors[0].Name
		}
		items = append(items, item)
	}
	return items, nil
}

// Refresh implements streamengine.Lister's single-item refresh, used to
// wait out edit-propagation lag on the edited listing.
func (c *Client) Refresh(ctx context.Context, fullname string) (models.Item, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return models.Item{}, err
	}

	endpoint := c.cfg.BaseURL + "/api/info.json?id=" + url.QueryEscape(fullname)
	resp, err := c.do(ctx, endpoint)
	if err != nil {
		return models.Item{}, err
	}
	defer resp.Body.Close()

	c.updateQuota(resp.Header)

	if err := classifyStatus(resp); err != nil {
		return models.Item{}, err
	}

	var info struct {
		Data struct {
			Children []struct {
				Kind string      `json:"kind"`
				Data models.Item `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return models.Item{}, fmt.Errorf("redditclient: decoding info response: %w", err)
	}
	if len(info.Data.Children) == 0 {
		return models.Item{}, fmt.Errorf("redditclient: %s not found on refresh", fullname)
	}
	item := info.Data.Children[0].Data
	item.ThingKind = info.Data.Children[0].Kind
	return item, nil
}

// Quota implements streamengine.QuotaAccessor (and ratelimit.QuotaSource).
func (c *Client) Quota() ratelimit.QuotaSnapshot {
	c.quotaMu.RLock()
	defer c.quotaMu.RUnlock()
	return c.quota
}

func (c *Client) encodeQuery(limit int, params map[string]string) (url.Values, error) {
	lq := listingQuery{Limit: limit}
	extra := make(map[string]string, len(params))
	for k, v := range params {
		switch k {
		case "before":
			lq.Before = v
		case "only":
			lq.Only = v
		case "t":
			lq.T = v
		default:
			extra[k] = v
		}
	}

	values, err := query.Values(lq)
	if err != nil {
		return nil, err
	}
	for k, v := range extra {
		values.Set(k, v)
	}
	return values, nil
}

func (c *Client) do(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("redditclient: building request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", streamengine.ErrTransient, err)
	}
	return resp, nil
}

// updateQuota reads Reddit's X-Ratelimit-* headers into the snapshot the
// pacers consume.
func (c *Client) updateQuota(header http.Header) {
	used := getHeaderAsInt(header, "X-Ratelimit-Used")
	remaining := getHeaderAsInt(header, "X-Ratelimit-Remaining")
	resetSeconds := getHeaderAsInt(header, "X-Ratelimit-Reset")
	if used == 0 && remaining == 0 && resetSeconds == 0 {
		return
	}

	c.quotaMu.Lock()
	c.quota = ratelimit.QuotaSnapshot{
		Used:      used,
		Remaining: remaining,
		ResetAt:   c.now().Add(time.Duration(resetSeconds) * time.Second),
	}
	c.quotaMu.Unlock()
}

func getHeaderAsInt(header http.Header, name string) int {
	value := header.Get(name)
	if value == "" {
		return 0
	}
	// Reddit reports these headers as floats (e.g. "599.0").
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return int(f)
}

// classifyStatus maps an HTTP response status to the streamengine error
// taxonomy: a deleted cursor anchor surfaces as 400/404, transient
// transport/server faults as 429/5xx.
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: status %d: %s", streamengine.ErrBadCursor, resp.StatusCode, string(body))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: status %d: %s", streamengine.ErrTransient, resp.StatusCode, string(body))
	default:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("redditclient: unexpected status %d: %s", resp.StatusCode, string(body))
	}
}
