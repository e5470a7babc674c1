package redditclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettboylen/reddittail/streamengine"
)

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	c := New(Config{
		ClientID:     "id",
		ClientSecret: "secret",
		UserAgent:    "reddittail-test/1.0",
		Subreddit:    "golang",
		BaseURL:      server.URL,
	}, nil)
	// The OAuth2 transport would otherwise try to fetch a token from
	// reddit.com on first use; swap in the plain test-server client so
	// Fetch/Refresh hit the fake listing handler directly.
	c.httpClient = server.Client()
	return c
}

func TestClassifyStatusMapsStatusesToErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"bad request is a bad cursor", http.StatusBadRequest, streamengine.ErrBadCursor},
		{"not found is a bad cursor", http.StatusNotFound, streamengine.ErrBadCursor},
		{"rate limited is transient", http.StatusTooManyRequests, streamengine.ErrTransient},
		{"server error is transient", http.StatusBadGateway, streamengine.ErrTransient},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tc.status, Body: http.NoBody}
			err := classifyStatus(resp)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "classifyStatus(%d) = %v, want %v", tc.status, err, tc.want)
		})
	}
}

func TestEncodeQueryMergesKnownAndExtraParams(t *testing.T) {
	c := &Client{}
	values, err := c.encodeQuery(97, map[string]string{
		"before":   "t3_abc",
		"only":     "submissions",
		"raw_json": "1",
	})
	require.NoError(t, err)
	assert.Equal(t, "97", values.Get("limit"))
	assert.Equal(t, "t3_abc", values.Get("before"))
	assert.Equal(t, "submissions", values.Get("only"))
	assert.Equal(t, "1", values.Get("raw_json"))
}

func TestGetHeaderAsIntParsesRedditsFloatHeaders(t *testing.T) {
	header := http.Header{}
	header.Set("X-Ratelimit-Used", "14.0")
	assert.Equal(t, 14, getHeaderAsInt(header, "X-Ratelimit-Used"))
	assert.Equal(t, 0, getHeaderAsInt(header, "X-Ratelimit-Missing"))
}

func TestFetchUnknownListingSourceErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := newTestClient(t, server)
	_, err := c.Fetch(context.Background(), "not-a-listing", 100, nil)
	require.Error(t, err)
}

func TestFetchDecodesListingChildrenAndUpdatesQuota(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Ratelimit-Used", "3.0")
		w.Header().Set("X-Ratelimit-Remaining", "997.0")
		w.Header().Set("X-Ratelimit-Reset", "599.0")
		w.Write([]byte(`{"data":{"children":[
			{"kind":"t3","data":{"id":"a","name":"t3_a","created_utc":1.0}}
		]}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server)

	items, err := c.Fetch(context.Background(), "new", 100, nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "t3_a", items[0].Fullname)
	assert.Equal(t, "t3", items[0].ThingKind)

	quota := c.Quota()
	assert.Equal(t, 3, quota.Used)
	assert.Equal(t, 997, quota.Remaining)
}

func TestFetchClassifiesBadCursorOnBadRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("deleted anchor"))
	}))
	defer server.Close()

	c := newTestClient(t, server)
	_, err := c.Fetch(context.Background(), "new", 100, map[string]string{"before": "t3_gone"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, streamengine.ErrBadCursor))
}

func TestFetchModmailConversationsScopesByEntity(t *testing.T) {
	var gotEntity string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEntity = r.URL.Query().Get("entity")
		w.Write([]byte(`{
			"conversationIds": ["newer", "older"],
			"conversations": {
				"newer": {"id": "newer", "subject": "second", "lastUpdated": "2026-08-01T12:00:00+00:00", "authors": [{"name": "alice"}]},
				"older": {"id": "older", "subject": "first", "lastUpdated": "2026-08-01T11:00:00+00:00", "authors": [{"name": "bob"}]}
			}
		}`))
	}))
	defer server.Close()

	c := newTestClient(t, server)
	items, err := c.Fetch(context.Background(), "modmail/conversations", 100, nil)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "golang", gotEntity)
	assert.Equal(t, "newer", items[0].ID)
	assert.Equal(t, "older", items[1].ID)
	assert.Equal(t, "second", items[0].Title)
	assert.Equal(t, "alice", items[0].Author)
}

func TestRefreshDecodesSingleItem(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"children":[
			{"kind":"t1","data":{"id":"k","name":"t1_k","edited":1500.0}}
		]}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server)
	item, err := c.Refresh(context.Background(), "t1_k")
	require.NoError(t, err)
	assert.Equal(t, "t1_k", item.Fullname)
	assert.True(t, item.Edited.Present)
	assert.Equal(t, float64(1500), item.Edited.At)
}
