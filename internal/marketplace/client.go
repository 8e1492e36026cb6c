package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"fulfillsync/internal/model"
)

// Feed is the order-feed contract the sync loop consumes: given a time
// window, return the orders (with items) updated inside it.
type Feed interface {
	FetchOrders(ctx context.Context, from, to time.Time) ([]model.Order, error)
}

// ItemLookup is the live-lookup contract the identifier resolver
// consumes for placeholder-suffixed codes.
type ItemLookup interface {
	// GetItemSellerCode returns the seller-assigned code for an item,
	// preferring the variation-level field when variationID is set.
	// Returns "" when neither level carries a value.
	GetItemSellerCode(ctx context.Context, itemID, variationID string) (string, error)
}

// Client talks to the marketplace REST API.
type Client struct {
	baseURL     string
	accessToken string
	sellerID    string
	httpClient  *http.Client
}

// ClientConfig holds marketplace client settings.
type ClientConfig struct {
	BaseURL     string
	AccessToken string
	SellerID    string
	Timeout     time.Duration
}

// NewClient creates a marketplace API client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		accessToken: cfg.AccessToken,
		sellerID:    cfg.SellerID,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// FetchOrders pulls all orders updated in [from, to), following the
// feed's offset pagination.
func (c *Client) FetchOrders(ctx context.Context, from, to time.Time) ([]model.Order, error) {
	var orders []model.Order
	offset := 0

	for {
		page, total, err := c.fetchOrdersPage(ctx, from, to, offset)
		if err != nil {
			return nil, err
		}

		for _, raw := range page {
			order, err := MapOrder(raw)
			if err != nil {
				// Tolerant parsing: a malformed order is logged and
				// skipped, never fails the whole window.
				log.Printf("[Marketplace] Skipping unmappable order: %v", err)
				continue
			}
			orders = append(orders, order)
		}

		offset += len(page)
		if len(page) == 0 || offset >= total {
			break
		}
	}

	return orders, nil
}

func (c *Client) fetchOrdersPage(ctx context.Context, from, to time.Time, offset int) ([]rawOrder, int, error) {
	q := url.Values{}
	q.Set("seller", c.sellerID)
	q.Set("order.date_last_updated.from", from.UTC().Format(time.RFC3339))
	q.Set("order.date_last_updated.to", to.UTC().Format(time.RFC3339))
	q.Set("sort", "date_asc")
	q.Set("offset", fmt.Sprintf("%d", offset))

	endpoint := fmt.Sprintf("%s/orders/search?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build orders request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("orders request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("orders request returned status %d", resp.StatusCode)
	}

	var payload struct {
		Results []rawOrder `json:"results"`
		Paging  struct {
			Total int `json:"total"`
		} `json:"paging"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, 0, fmt.Errorf("failed to decode orders response: %w", err)
	}

	return payload.Results, payload.Paging.Total, nil
}

// GetItemSellerCode fetches extended item data and reads the
// seller-assigned field, variation level first.
func (c *Client) GetItemSellerCode(ctx context.Context, itemID, variationID string) (string, error) {
	endpoint := fmt.Sprintf("%s/items/%s?include_attributes=all", c.baseURL, url.PathEscape(itemID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build item request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("item request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("item request returned status %d", resp.StatusCode)
	}

	var item rawItemDetail
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return "", fmt.Errorf("failed to decode item response: %w", err)
	}

	if variationID != "" {
		for _, v := range item.Variations {
			if v.ID.String() == variationID {
				if code := v.sellerCode(); code != "" {
					return code, nil
				}
				break
			}
		}
	}

	return item.sellerCode(), nil
}

// Ensure Client implements both consumer contracts
var (
	_ Feed       = (*Client)(nil)
	_ ItemLookup = (*Client)(nil)
)
