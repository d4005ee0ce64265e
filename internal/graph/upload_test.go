package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// uploadHandler plays both the Graph API (session creation) and the
// pre-authenticated upload host (chunk PUTs). It records every chunk's
// Content-Range and payload length.
type uploadHandler struct {
	mu     sync.Mutex
	ranges []string
	sizes  []int

	sessionCalls int
	total        int64
	received     int64

	// failFirstChunk makes the very first chunk PUT return 503 once.
	failFirstChunk bool
	failed         bool
}

func (h *uploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost:
		h.mu.Lock()
		h.sessionCalls++
		h.mu.Unlock()

		_ = json.NewEncoder(w).Encode(map[string]string{
			"uploadUrl":          "http://" + r.Host + "/upload-session",
			"expirationDateTime": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		})

	case r.Method == http.MethodPut && r.URL.Path == "/upload-session":
		body, _ := io.ReadAll(r.Body)

		h.mu.Lock()
		defer h.mu.Unlock()

		if h.failFirstChunk && !h.failed {
			h.failed = true
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		h.ranges = append(h.ranges, r.Header.Get("Content-Range"))
		h.sizes = append(h.sizes, len(body))
		h.received += int64(len(body))

		if h.received >= h.total {
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "item-1", "name": "big.bin"})

			return
		}

		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{"nextExpectedRanges": []string{}})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newUploadClient(t *testing.T, h *uploadHandler) *Client {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, srv.Client(), &staticTokens{token: "t"}, testLogger(t))
	c.sleepFunc = func(context.Context, time.Duration) error { return nil }

	return c
}

func TestUploadLargeFileSmallContentSinglePut(t *testing.T) {
	var gotPath, gotContentType string

	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "item-1"})
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, srv.Client(), &staticTokens{token: "t"}, testLogger(t))

	data := bytes.Repeat([]byte("x"), 1024)

	item, err := c.UploadLargeFile(context.Background(), "/me/drive/root:/small.txt:", data, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"item-1"}`, string(item))

	assert.Equal(t, "/me/drive/root:/small.txt:/content", gotPath)
	assert.Equal(t, "application/octet-stream", gotContentType)
	assert.Equal(t, data, gotBody)
}

func TestUploadLargeFileChunked(t *testing.T) {
	// One byte over the chunk size forces exactly two chunks.
	data := bytes.Repeat([]byte("y"), ChunkSize+1)

	h := &uploadHandler{total: int64(len(data))}
	c := newUploadClient(t, h)

	item, err := c.UploadLargeFile(context.Background(), "/me/drive/root:/big.bin:", data, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"item-1","name":"big.bin"}`, string(item))

	assert.Equal(t, 1, h.sessionCalls)
	require.Len(t, h.ranges, 2)
	assert.Equal(t, fmt.Sprintf("bytes 0-%d/%d", ChunkSize-1, ChunkSize+1), h.ranges[0])
	assert.Equal(t, fmt.Sprintf("bytes %d-%d/%d", ChunkSize, ChunkSize, ChunkSize+1), h.ranges[1])
	assert.Equal(t, []int{ChunkSize, 1}, h.sizes)
}

func TestUploadChunkRetriesServerError(t *testing.T) {
	data := bytes.Repeat([]byte("z"), ChunkSize+10)

	h := &uploadHandler{total: int64(len(data)), failFirstChunk: true}
	c := newUploadClient(t, h)

	var sleeps []time.Duration

	c.sleepFunc = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)

		return nil
	}

	_, err := c.UploadLargeFile(context.Background(), "/me/drive/root:/big.bin:", data, nil)
	require.NoError(t, err)

	// The failed first chunk was retried; both chunks landed.
	require.Len(t, h.ranges, 2)
	assert.Equal(t, []time.Duration{time.Second}, sleeps)
}

func TestUploadIncompleteSession(t *testing.T) {
	// A server that never sends a final 200/201 response.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_ = json.NewEncoder(w).Encode(map[string]string{
				"uploadUrl": "http://" + r.Host + "/upload-session",
			})

			return
		}

		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, srv.Client(), &staticTokens{token: "t"}, testLogger(t))

	data := bytes.Repeat([]byte("w"), ChunkSize+1)

	_, err := c.UploadLargeFile(context.Background(), "/me/drive/root:/big.bin:", data, nil)
	require.ErrorIs(t, err, ErrUploadIncomplete)
}

func TestUploadLargeMailAttachment(t *testing.T) {
	var sessionReq createAttachmentSessionRequest

	var sessionPath string

	data := bytes.Repeat([]byte("a"), ChunkSize+5)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sessionPath = r.URL.Path
			_ = json.NewDecoder(r.Body).Decode(&sessionReq)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"uploadUrl": "http://" + r.Host + "/upload-session",
			})

			return
		}

		_, _ = io.Copy(io.Discard, r.Body)

		if r.Header.Get("Content-Range") == fmt.Sprintf("bytes %d-%d/%d", ChunkSize, ChunkSize+4, len(data)) {
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "attachment-1"})

			return
		}

		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, srv.Client(), &staticTokens{token: "t"}, testLogger(t))

	result, err := c.UploadLargeMailAttachment(context.Background(), "msg-1", "report.pdf", data, "application/pdf")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"attachment-1"}`, string(result))

	assert.Equal(t, "/me/messages/msg-1/attachments/createUploadSession", sessionPath)
	assert.Equal(t, "file", sessionReq.AttachmentItem.AttachmentType)
	assert.Equal(t, "report.pdf", sessionReq.AttachmentItem.Name)
	assert.Equal(t, int64(len(data)), sessionReq.AttachmentItem.Size)
	assert.Equal(t, "application/pdf", sessionReq.AttachmentItem.ContentType)
}

func TestCreateUploadSessionMissingURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, srv.Client(), &staticTokens{token: "t"}, testLogger(t))

	_, err := c.CreateUploadSession(context.Background(), "/me/drive/root:/x:", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing uploadUrl")
}
