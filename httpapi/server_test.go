package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettboylen/reddittail/streamengine"
)

type fakeStatusSource struct {
	status []streamengine.StreamStatus
}

func (f fakeStatusSource) Status() []streamengine.StreamStatus { return f.status }

func TestHealthzReturnsOK(t *testing.T) {
	s := New(fakeStatusSource{}, nil, 100, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestStreamsEndpointReturnsStatus(t *testing.T) {
	s := New(fakeStatusSource{status: []streamengine.StreamStatus{
		{Listing: "submissions", SeenCount: 3},
	}}, nil, 100, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/streams", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "submissions")
}

func TestRecentEndpointWithoutSinkReturns404(t *testing.T) {
	s := New(fakeStatusSource{}, nil, 100, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/streams/submissions/recent", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
