package graph

import (
	"context"
	"net/http"
)

// DownloadRaw fetches binary content (file bodies, attachment bytes) from a
// Graph path such as "/me/drive/items/{id}/content". The same retry policy
// as Request applies; redirects to the pre-authenticated download host are
// followed by the HTTP client.
func (c *Client) DownloadRaw(ctx context.Context, path string, opts *RequestOptions) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, opts)
}
