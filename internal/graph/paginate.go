package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
)

// collectionPage is the envelope Graph wraps list responses in.
type collectionPage struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

// RequestPaginated issues a GET against a collection endpoint and yields
// items one at a time, transparently following @odata.nextLink across
// pages. limit > 0 stops the sequence after that many items; once the
// limit is satisfied no further pages are fetched. limit <= 0 yields the
// entire collection.
//
// Pagination is fail-closed: any request or decode error is yielded once
// with a nil item and the sequence ends.
func (c *Client) RequestPaginated(ctx context.Context, path string, params url.Values, limit int) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		yielded := 0

		// Query parameters travel inside the nextLink on subsequent
		// pages, so they are only sent with the first request.
		opts := &RequestOptions{Params: params}

		for {
			body, err := c.Request(ctx, http.MethodGet, path, opts)
			if err != nil {
				yield(nil, err)
				return
			}

			// An empty 2xx body means there is nothing left to page
			// through.
			if body == nil {
				return
			}

			var page collectionPage
			if err := json.Unmarshal(body, &page); err != nil {
				yield(nil, fmt.Errorf("graph: decoding collection page: %w", err))
				return
			}

			for _, item := range page.Value {
				if !yield(item, nil) {
					return
				}

				yielded++
				if limit > 0 && yielded >= limit {
					return
				}
			}

			if page.NextLink == "" {
				return
			}

			next, err := c.stripBaseURL(page.NextLink)
			if err != nil {
				yield(nil, err)
				return
			}

			path = next
			opts = nil
		}
	}
}
