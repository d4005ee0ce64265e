package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pagingHandler serves a collection split into fixed pages, linking each
// page to the next with @odata.nextLink.
type pagingHandler struct {
	pages [][]string
	calls atomic.Int32
	base  string
}

func (h *pagingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.calls.Add(1)

	page := 0
	if p := r.URL.Query().Get("page"); p != "" {
		fmt.Sscanf(p, "%d", &page)
	}

	items := make([]json.RawMessage, 0, len(h.pages[page]))
	for _, id := range h.pages[page] {
		items = append(items, json.RawMessage(fmt.Sprintf(`{"id":%q}`, id)))
	}

	resp := map[string]any{"value": items}
	if page+1 < len(h.pages) {
		resp["@odata.nextLink"] = fmt.Sprintf("%s%s?page=%d", h.base, r.URL.Path, page+1)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func newPagingClient(t *testing.T, pages [][]string) (*Client, *pagingHandler) {
	t.Helper()

	h := &pagingHandler{pages: pages}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	h.base = srv.URL

	c := NewClient(srv.URL, srv.Client(), &staticTokens{token: "t"}, testLogger(t))

	return c, h
}

func collectIDs(t *testing.T, seq func(func(json.RawMessage, error) bool)) []string {
	t.Helper()

	var ids []string

	for item, err := range seq {
		require.NoError(t, err)

		var v struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(item, &v))

		ids = append(ids, v.ID)
	}

	return ids
}

func TestRequestPaginatedFollowsNextLink(t *testing.T) {
	c, h := newPagingClient(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}})

	ids := collectIDs(t, c.RequestPaginated(context.Background(), "/me/messages", nil, 0))

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids)
	assert.Equal(t, int32(3), h.calls.Load())
}

func TestRequestPaginatedLimitStopsEarly(t *testing.T) {
	c, h := newPagingClient(t, [][]string{{"a", "b"}, {"c", "d"}})

	ids := collectIDs(t, c.RequestPaginated(context.Background(), "/me/messages", nil, 2))

	assert.Equal(t, []string{"a", "b"}, ids)

	// Limit satisfied by the first page: the second page is never fetched.
	assert.Equal(t, int32(1), h.calls.Load())
}

func TestRequestPaginatedLimitAcrossPages(t *testing.T) {
	c, h := newPagingClient(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}})

	ids := collectIDs(t, c.RequestPaginated(context.Background(), "/me/messages", nil, 3))

	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, int32(2), h.calls.Load())
}

func TestRequestPaginatedFirstRequestCarriesParams(t *testing.T) {
	var firstQuery, secondQuery url.Values

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)

		resp := map[string]any{"value": []map[string]string{{"id": "x"}}}

		switch n {
		case 1:
			firstQuery = r.URL.Query()
			resp["@odata.nextLink"] = serverURL(r) + r.URL.Path + "?%24skip=10"
		default:
			secondQuery = r.URL.Query()
		}

		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, srv.Client(), &staticTokens{token: "t"}, testLogger(t))

	params := url.Values{"$top": {"1"}}
	for _, err := range c.RequestPaginated(context.Background(), "/me/messages", params, 0) {
		require.NoError(t, err)
	}

	assert.Equal(t, "1", firstQuery.Get("$top"))

	// Subsequent pages carry only what the nextLink encodes.
	assert.Empty(t, secondQuery.Get("$top"))
	assert.Equal(t, "10", secondQuery.Get("$skip"))
}

func TestRequestPaginatedErrorFailsClosed(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			resp := map[string]any{
				"value":           []map[string]string{{"id": "a"}},
				"@odata.nextLink": serverURL(r) + r.URL.Path + "?page=1",
			}
			_ = json.NewEncoder(w).Encode(resp)

			return
		}

		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, srv.Client(), &staticTokens{token: "t"}, testLogger(t))

	var ids []string

	var gotErr error

	for item, err := range c.RequestPaginated(context.Background(), "/me/messages", nil, 0) {
		if err != nil {
			gotErr = err

			break
		}

		var v struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(item, &v))
		ids = append(ids, v.ID)
	}

	assert.Equal(t, []string{"a"}, ids)
	require.ErrorIs(t, gotErr, ErrForbidden)
}

func TestRequestPaginatedEmptyBodyEndsSequence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, srv.Client(), &staticTokens{token: "t"}, testLogger(t))

	ids := collectIDs(t, c.RequestPaginated(context.Background(), "/me/messages", nil, 0))

	assert.Empty(t, ids)
}

func TestRequestPaginatedForeignNextLinkRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := map[string]any{
			"value":           []map[string]string{{"id": "a"}},
			"@odata.nextLink": "https://evil.example.com/me/messages?page=1",
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, srv.Client(), &staticTokens{token: "t"}, testLogger(t))

	var gotErr error

	for _, err := range c.RequestPaginated(context.Background(), "/me/messages", nil, 0) {
		if err != nil {
			gotErr = err
		}
	}

	require.Error(t, gotErr)
	assert.Contains(t, gotErr.Error(), "does not match base URL")
}

// serverURL reconstructs the scheme://host origin of the test server from
// an incoming request.
func serverURL(r *http.Request) string {
	return "http://" + r.Host
}
