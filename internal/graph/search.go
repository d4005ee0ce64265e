package graph

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"net/http"
	"slices"
)

// searchableEntityTypes are the entity types the /search/query endpoint
// accepts. Anything else in a caller's request is silently dropped.
var searchableEntityTypes = []string{
	"message",
	"event",
	"driveItem",
	"drive",
	"chatMessage",
	"person",
}

// searchStoredFields limits hit payloads to the fields callers actually
// consume, keeping result pages small.
var searchStoredFields = []string{
	"id",
	"name",
	"subject",
	"body",
	"from",
	"to",
	"receivedDateTime",
	"lastModifiedDateTime",
	"size",
	"contentType",
}

const (
	// maxSearchPageSize is the largest page the search endpoint serves.
	maxSearchPageSize = 25

	defaultSearchLimit = 50
)

type searchRequest struct {
	EntityTypes []string `json:"entityTypes"`
	Query       struct {
		QueryString string `json:"queryString"`
	} `json:"query"`
	From int `json:"from"`
	Size int `json:"size"`

	// Fields narrows which properties the caller wants returned; empty
	// means the endpoint's defaults. StoredFields is the separate knob
	// that bounds what the service materializes per hit.
	Fields       []string `json:"fields,omitempty"`
	StoredFields []string `json:"storedFields"`
}

type searchResponse struct {
	Value []struct {
		HitsContainers []struct {
			Hits []struct {
				Resource json.RawMessage `json:"resource"`
			} `json:"hits"`
			MoreResultsAvailable bool `json:"moreResultsAvailable"`
		} `json:"hitsContainers"`
	} `json:"value"`
}

// SearchQuery runs a full-text search across the given entity types and
// yields matching resources. Unknown entity types are dropped; if none
// remain, the sequence is empty and no request is issued. fields narrows
// the returned properties (nil for the endpoint's defaults). limit <= 0
// defaults to 50.
//
// Search is best-effort by contract: a partial result set is more useful
// than none, so request or decode failures are logged and simply end the
// sequence instead of surfacing an error.
func (c *Client) SearchQuery(ctx context.Context, query string, entityTypes, fields []string, limit int) iter.Seq[json.RawMessage] {
	return func(yield func(json.RawMessage) bool) {
		var types []string
		for _, t := range entityTypes {
			if slices.Contains(searchableEntityTypes, t) {
				types = append(types, t)
			}
		}

		if len(types) == 0 {
			c.logger.Warn("search skipped: no valid entity types",
				slog.Any("requested", entityTypes),
			)

			return
		}

		if limit <= 0 {
			limit = defaultSearchLimit
		}

		size := min(limit, maxSearchPageSize)
		yielded := 0

		for from := 0; yielded < limit; from += size {
			req := searchRequest{
				EntityTypes:  types,
				From:         from,
				Size:         size,
				Fields:       fields,
				StoredFields: searchStoredFields,
			}
			req.Query.QueryString = query

			body, err := c.Request(ctx, http.MethodPost, "/search/query", &RequestOptions{
				JSON: map[string]any{"requests": []searchRequest{req}},
			})
			if err != nil {
				c.logger.Error("search request failed",
					slog.String("query", query),
					slog.Any("err", err),
				)

				return
			}

			var resp searchResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				c.logger.Error("search response malformed",
					slog.String("query", query),
					slog.Any("err", err),
				)

				return
			}

			more := false
			count := 0

			for _, v := range resp.Value {
				for _, hc := range v.HitsContainers {
					if hc.MoreResultsAvailable {
						more = true
					}

					for _, hit := range hc.Hits {
						count++

						if !yield(hit.Resource) {
							return
						}

						yielded++
						if yielded >= limit {
							return
						}
					}
				}
			}

			if !more || count == 0 {
				return
			}
		}
	}
}
