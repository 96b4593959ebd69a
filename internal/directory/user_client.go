package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// UserInfo is the identity projection the messaging core needs: a display
// name and the seller-verification badge.
type UserInfo struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Verified bool   `json:"verified"`
}

// IdentityResolver resolves user ids to display data. Implementations may be
// slow or fail; callers substitute a placeholder rather than propagating.
type IdentityResolver interface {
	BulkUsers(ctx context.Context, ids []int64) (map[int64]UserInfo, error)
}

// UserClient wraps the user-service internal HTTP API.
type UserClient struct {
	baseURL string
	client  *http.Client
}

// NewUserClient constructs the wrapper.
func NewUserClient(baseURL string, timeout time.Duration) *UserClient {
	return &UserClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// BulkUsers fetches multiple users in one call, keyed by id. Unknown ids are
// simply absent from the result.
func (u *UserClient) BulkUsers(ctx context.Context, ids []int64) (map[int64]UserInfo, error) {
	result := make(map[int64]UserInfo, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	params := make([]string, 0, len(ids))
	for _, id := range ids {
		params = append(params, strconv.FormatInt(id, 10))
	}

	endpoint := fmt.Sprintf("%s/internal/users?ids=%s", u.baseURL, url.QueryEscape(strings.Join(params, ",")))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user service returned status %d", resp.StatusCode)
	}

	var payload struct {
		Users []UserInfo `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode user response: %w", err)
	}

	for _, user := range payload.Users {
		result[user.ID] = user
	}
	return result, nil
}
