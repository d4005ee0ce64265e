package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ChunkSize is the upload chunk size: 15 x 320 KiB = 4,915,200 bytes.
// Graph requires every chunk except the last to be a multiple of 320 KiB.
const ChunkSize = 15 * 320 * 1024

// chunkMaxRetries is the per-chunk retry cap for transient failures.
// Independent of RequestOptions.MaxRetries, which governs JSON requests.
const chunkMaxRetries = 3

type createUploadSessionRequest struct {
	Item map[string]any `json:"item"`
}

type createAttachmentSessionRequest struct {
	AttachmentItem attachmentItem `json:"AttachmentItem"` //nolint:tagliatelle // Graph API key
}

type attachmentItem struct {
	AttachmentType string `json:"attachmentType"`
	Name           string `json:"name"`
	Size           int64  `json:"size"`
	ContentType    string `json:"contentType"`
}

// UploadSession is a resumable upload session with a pre-authenticated URL.
type UploadSession struct {
	UploadURL          string   `json:"uploadUrl"`
	ExpirationDateTime string   `json:"expirationDateTime"`
	NextExpectedRanges []string `json:"nextExpectedRanges"`
}

// CreateUploadSession creates a resumable upload session for a drive item.
// path addresses the item (e.g. "/me/drive/root:/big.bin:"); itemProps are
// optional item properties such as @microsoft.graph.conflictBehavior.
func (c *Client) CreateUploadSession(ctx context.Context, path string, itemProps map[string]any) (*UploadSession, error) {
	if itemProps == nil {
		itemProps = map[string]any{}
	}

	body, err := c.Request(ctx, http.MethodPost, path+"/createUploadSession", &RequestOptions{
		JSON: createUploadSessionRequest{Item: itemProps},
	})
	if err != nil {
		return nil, err
	}

	session, err := parseUploadSession(body)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("upload session created",
		slog.String("path", path),
		slog.Time("expires", session.expirationTime()),
	)

	return session, nil
}

// UploadLargeFile uploads file content to the drive item addressed by path.
// Content at or under ChunkSize is sent in a single PUT; larger content goes
// through an upload session in ChunkSize pieces. Returns the created or
// updated item JSON.
func (c *Client) UploadLargeFile(ctx context.Context, path string, data []byte, itemProps map[string]any) (json.RawMessage, error) {
	if len(data) <= ChunkSize {
		result, err := c.Request(ctx, http.MethodPut, path+"/content", &RequestOptions{Raw: data})
		if err != nil {
			return nil, err
		}

		if result == nil {
			return nil, fmt.Errorf("graph: upload of %s returned no item", path)
		}

		return result, nil
	}

	session, err := c.CreateUploadSession(ctx, path, itemProps)
	if err != nil {
		return nil, err
	}

	return c.uploadChunked(ctx, session, data)
}

// UploadLargeMailAttachment attaches data to a draft message using an
// attachment upload session. contentType defaults to
// application/octet-stream when empty. Returns the final session response.
func (c *Client) UploadLargeMailAttachment(ctx context.Context, messageID, name string, data []byte, contentType string) (json.RawMessage, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	body, err := c.Request(ctx, http.MethodPost,
		"/me/messages/"+messageID+"/attachments/createUploadSession",
		&RequestOptions{JSON: createAttachmentSessionRequest{
			AttachmentItem: attachmentItem{
				AttachmentType: "file",
				Name:           name,
				Size:           int64(len(data)),
				ContentType:    contentType,
			},
		}},
	)
	if err != nil {
		return nil, err
	}

	session, err := parseUploadSession(body)
	if err != nil {
		return nil, err
	}

	return c.uploadChunked(ctx, session, data)
}

// uploadChunked sends data to a session URL in ChunkSize pieces. The final
// chunk's 200/201 response carries the item JSON; intermediate chunks
// return 202. A session that runs out of chunks without a final response
// yields ErrUploadIncomplete.
func (c *Client) uploadChunked(ctx context.Context, session *UploadSession, data []byte) (json.RawMessage, error) {
	total := int64(len(data))

	for offset := int64(0); offset < total; offset += ChunkSize {
		end := min(offset+ChunkSize, total)
		chunk := data[offset:end]

		result, err := c.uploadChunk(ctx, session.UploadURL, chunk, offset, end-1, total)
		if err != nil {
			return nil, err
		}

		if result != nil {
			return result, nil
		}
	}

	return nil, ErrUploadIncomplete
}

// uploadChunk PUTs one chunk with its own retry loop: throttling honors
// Retry-After (capped at 60s), server errors back off exponentially, up to
// chunkMaxRetries additional attempts. Returns the item JSON on the final
// chunk (200/201), nil for intermediate chunks (202).
func (c *Client) uploadChunk(ctx context.Context, uploadURL string, chunk []byte, start, end, total int64) (json.RawMessage, error) {
	contentRange := fmt.Sprintf("bytes %d-%d/%d", start, end, total)

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(chunk))
		if err != nil {
			return nil, fmt.Errorf("graph: creating chunk upload request: %w", err)
		}

		tok, err := c.tokens.GetToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("graph: obtaining token for chunk upload: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("Content-Range", contentRange)
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("User-Agent", userAgent)
		req.ContentLength = int64(len(chunk))

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("graph: chunk upload canceled: %w", ctx.Err())
			}

			if attempt < chunkMaxRetries {
				if sleepErr := c.backoff(ctx, http.MethodPut, contentRange, attempt, expBackoff(attempt)); sleepErr != nil {
					return nil, sleepErr
				}

				continue
			}

			return nil, fmt.Errorf("graph: chunk upload failed after %d retries: %w", chunkMaxRetries, err)
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusAccepted:
			c.logger.Debug("intermediate chunk accepted",
				slog.String("range", contentRange),
			)

			return nil, nil

		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
			if readErr != nil {
				return nil, fmt.Errorf("graph: reading final chunk response: %w", readErr)
			}

			c.logger.Debug("upload complete",
				slog.Int64("total", total),
			)

			return json.RawMessage(body), nil

		case IsRetryable(resp.StatusCode) && attempt < chunkMaxRetries:
			if sleepErr := c.backoff(ctx, http.MethodPut, contentRange, attempt, retryDelay(resp, attempt)); sleepErr != nil {
				return nil, sleepErr
			}

		default:
			if readErr != nil {
				body = []byte("(failed to read response body)")
			}

			return nil, &GraphError{
				StatusCode: resp.StatusCode,
				RequestID:  resp.Header.Get("request-id"),
				Message:    string(body),
				Err:        classifyStatus(resp.StatusCode),
			}
		}
	}
}

func parseUploadSession(body json.RawMessage) (*UploadSession, error) {
	var session UploadSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("graph: decoding upload session response: %w", err)
	}

	if session.UploadURL == "" {
		return nil, fmt.Errorf("graph: upload session response missing uploadUrl")
	}

	return &session, nil
}

// expirationTime parses the session's expiration timestamp, returning the
// zero time when absent or malformed.
func (s *UploadSession) expirationTime() time.Time {
	t, err := time.Parse(time.RFC3339, s.ExpirationDateTime)
	if err != nil {
		return time.Time{}
	}

	return t
}
