package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// MovementPoster is the compensating-movement contract the movement
// service consumes.
type MovementPoster interface {
	// PostMovement issues one movement request and returns the ERP
	// movement number on success.
	PostMovement(ctx context.Context, req MovementRequest) (string, error)
}

// Movement direction codes used by the ERP.
const (
	MovementOutbound = 2
	MovementInbound  = 1
)

// MovementLine is one article line of a movement.
type MovementLine struct {
	SKU      string
	Quantity int
}

// MovementRequest describes one compensating stock movement.
type MovementRequest struct {
	Origin      string
	Destination string
	Type        int // MovementInbound or MovementOutbound
	Observation string
	Timestamp   time.Time
	Lines       []MovementLine
}

// MovementClient posts stock movements to the ERP. Unlike the stock
// client it performs exactly one attempt with no client-side timeout: a
// retried or abandoned movement request could decrement stock twice,
// and an in-flight one may still land. Operators can bound the wait at
// the transport layer if they need to.
type MovementClient struct {
	baseURL    string
	apiKey     string
	tenant     string
	database   string
	httpClient *http.Client
}

// MovementClientConfig holds movement client settings.
type MovementClientConfig struct {
	BaseURL  string
	APIKey   string
	Tenant   string
	Database string
}

// NewMovementClient creates an ERP movement client.
func NewMovementClient(cfg MovementClientConfig) *MovementClient {
	return &MovementClient{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		tenant:   cfg.Tenant,
		database: cfg.Database,
		// Timeout deliberately zero: a single unbounded attempt.
		httpClient: &http.Client{},
	}
}

// movementBody is the wire shape of the ERP movement endpoint.
type movementBody struct {
	Origen      string             `json:"Origen"`
	Destino     string             `json:"Destino"`
	Tipo        int                `json:"Tipo"`
	Observacion string             `json:"Observacion"`
	Fecha       string             `json:"Fecha"`
	Detalle     []movementBodyLine `json:"MovimientoDetalle"`
}

type movementBodyLine struct {
	Articulo string `json:"Articulo"`
	Cantidad int    `json:"Cantidad"`
}

// PostMovement issues a single movement request. Any failure here is
// returned to the caller to be recorded as an observation; the caller
// decides retry eligibility based on whether a number was stored.
func (c *MovementClient) PostMovement(ctx context.Context, req MovementRequest) (string, error) {
	if len(req.Lines) == 0 {
		return "", fmt.Errorf("movement request has no lines")
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	body := movementBody{
		Origen:      req.Origin,
		Destino:     req.Destination,
		Tipo:        req.Type,
		Observacion: req.Observation,
		Fecha:       EncodeERPDate(ts),
		Detalle:     make([]movementBodyLine, 0, len(req.Lines)),
	}
	for _, line := range req.Lines {
		body.Detalle = append(body.Detalle, movementBodyLine{
			Articulo: line.SKU,
			Cantidad: line.Quantity,
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode movement request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/movimientodestock", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build movement request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", c.apiKey)
	httpReq.Header.Set("IdCliente", c.tenant)
	httpReq.Header.Set("BaseDeDatos", c.database)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("movement request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("movement request returned status %d", resp.StatusCode)
	}

	var result struct {
		Numero json.Number `json:"Numero"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode movement response: %w", err)
	}
	if result.Numero.String() == "" {
		return "", fmt.Errorf("movement response missing number")
	}

	return result.Numero.String(), nil
}

// EncodeERPDate renders a timestamp in the ERP's /Date(ms)/ encoding.
func EncodeERPDate(t time.Time) string {
	return fmt.Sprintf("/Date(%d)/", t.UnixMilli())
}

// Ensure MovementClient implements MovementPoster
var _ MovementPoster = (*MovementClient)(nil)
