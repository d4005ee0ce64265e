package graph

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"id": "user-1",
			"displayName": "Ada Lovelace",
			"userPrincipalName": "ada@contoso.com",
			"mail": "ada@contoso.com"
		}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, srv.Client(), &staticTokens{token: "t"}, testLogger(t))

	user, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.Equal(t, "Ada Lovelace", user.DisplayName)
	assert.Equal(t, "ada@contoso.com", user.UserPrincipalName)
}

func TestDownloadRaw(t *testing.T) {
	content := []byte("binary\x00payload")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer t", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(content)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, srv.Client(), &staticTokens{token: "t"}, testLogger(t))

	data, err := c.DownloadRaw(context.Background(), "/me/drive/items/item-1/content", nil)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestDownloadRawNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, srv.Client(), &staticTokens{token: "t"}, testLogger(t))

	_, err := c.DownloadRaw(context.Background(), "/me/drive/items/missing/content", nil)
	require.ErrorIs(t, err, ErrNotFound)
}
