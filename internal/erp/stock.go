// Package erp contains the clients for the external ERP: the stock
// query endpoint and the stock movement endpoint. The two deliberately
// differ in retry policy; see movement.go.
package erp

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

// StockQuerier is the per-SKU stock contract the assignment engine
// consumes.
type StockQuerier interface {
	// GetStock returns per-deposit quantities for a SKU, or an empty
	// map when the SKU is unknown or stock visibility is lost. It
	// errors only on contract misuse (empty SKU).
	GetStock(ctx context.Context, sku string) (model.StockLevels, error)
}

// StockClient queries the ERP stock endpoint with bounded retries.
// The endpoint routinely takes up to two minutes under load.
type StockClient struct {
	baseURL    string
	apiKey     string
	tenant     string
	database   string
	retries    int
	retryDelay time.Duration
	httpClient *http.Client
}

// StockClientConfig holds stock client settings.
type StockClientConfig struct {
	BaseURL    string
	APIKey     string
	Tenant     string
	Database   string
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
}

// NewStockClient creates an ERP stock client.
func NewStockClient(cfg StockClientConfig) *StockClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = 3
	}
	delay := cfg.RetryDelay
	if delay == 0 {
		delay = 2 * time.Second
	}
	return &StockClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		tenant:     cfg.Tenant,
		database:   cfg.Database,
		retries:    retries,
		retryDelay: delay,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// stockRow is one entry of the ERP stock response.
type stockRow struct {
	Articulo    string `json:"Articulo"`
	Deposito    string `json:"Deposito"`
	Stock       int    `json:"Stock"`
	Comprometido int   `json:"Comprometido"`
}

// GetStock queries per-deposit stock for a SKU. Transient failures are
// retried a fixed number of times with a fixed delay; after exhaustion
// the result is an empty map, never an error. One SKU losing visibility
// must not abort the whole pipeline.
func (c *StockClient) GetStock(ctx context.Context, sku string) (model.StockLevels, error) {
	if sku == "" {
		return nil, fmt.Errorf("sku is required")
	}

	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		levels, err := c.queryStock(ctx, sku)
		if err == nil {
			return levels, nil
		}
		lastErr = err

		if attempt < c.retries {
			log.Printf("[StockClient] Attempt %d/%d for %s failed: %v", attempt, c.retries, sku, err)
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				log.Printf("[StockClient] Context canceled while retrying %s", sku)
				return model.StockLevels{}, nil
			}
		}
	}

	log.Printf("[StockClient] No stock visibility for %s after %d attempts: %v", sku, c.retries, lastErr)
	return model.StockLevels{}, nil
}

func (c *StockClient) queryStock(ctx context.Context, sku string) (model.StockLevels, error) {
	endpoint := fmt.Sprintf("%s/stock?articulo=%s", c.baseURL, url.QueryEscape(sku))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build stock request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stock request failed: %w", err)
	}
	defer resp.Body.Close()

	// Unknown SKU is a normal outcome, not a failure.
	if resp.StatusCode == http.StatusNotFound {
		return model.StockLevels{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stock request returned status %d", resp.StatusCode)
	}

	var rows []stockRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode stock response: %w", err)
	}

	levels := make(model.StockLevels, len(rows))
	for _, row := range rows {
		if row.Deposito == "" {
			continue
		}
		levels[row.Deposito] = model.DepositStock{
			Deposit:  row.Deposito,
			Total:    row.Stock,
			Reserved: row.Comprometido,
		}
	}
	return levels, nil
}

func (c *StockClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("IdCliente", c.tenant)
	req.Header.Set("BaseDeDatos", c.database)
	req.Header.Set("Accept", "application/json")
}

// Ensure StockClient implements StockQuerier
var _ StockQuerier = (*StockClient)(nil)
