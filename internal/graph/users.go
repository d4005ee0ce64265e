package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// User is the subset of the Graph user resource this module consumes.
type User struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
	Mail              string `json:"mail"`
}

// Me returns the signed-in user's profile.
func (c *Client) Me(ctx context.Context) (*User, error) {
	body, err := c.Request(ctx, http.MethodGet, "/me", nil)
	if err != nil {
		return nil, err
	}

	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("graph: decoding user profile: %w", err)
	}

	return &user, nil
}
