package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrProductNotFound is returned when the catalog has no such product.
var ErrProductNotFound = errors.New("product not found")

// ProductDirectory answers the one catalog question the messaging core asks:
// is this user the product's seller.
type ProductDirectory interface {
	IsSeller(ctx context.Context, userID, productID int64) (bool, error)
}

// CatalogClient wraps the catalog-service internal HTTP API.
type CatalogClient struct {
	baseURL string
	client  *http.Client
}

// NewCatalogClient constructs the wrapper.
func NewCatalogClient(baseURL string, timeout time.Duration) *CatalogClient {
	return &CatalogClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// IsSeller reports whether the user owns the product listing.
func (c *CatalogClient) IsSeller(ctx context.Context, userID, productID int64) (bool, error) {
	endpoint := fmt.Sprintf("%s/internal/products/%d", c.baseURL, productID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, ErrProductNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("catalog service returned status %d", resp.StatusCode)
	}

	var payload struct {
		ID       int64 `json:"id"`
		SellerID int64 `json:"seller_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, fmt.Errorf("decode product response: %w", err)
	}

	return payload.SellerID == userID, nil
}
