package model

import "time"

// Order represents one marketplace order (or one member of a pack).
type Order struct {
	ID            int64     `json:"id"`
	ExternalID    string    `json:"external_id"`
	PackID        string    `json:"pack_id,omitempty"`
	BuyerNickname string    `json:"buyer_nickname,omitempty"`
	Status        Status    `json:"status"`
	Note          string    `json:"note,omitempty"`
	DateCreated   time.Time `json:"date_created"`

	Items []OrderItem `json:"items,omitempty"`

	// Assignment bookkeeping. AssignedDeposit is empty until the
	// assignment engine claims the row.
	Assigned        bool       `json:"assigned"`
	AssignedDeposit string     `json:"assigned_deposit,omitempty"`
	AssignedAt      *time.Time `json:"assigned_at,omitempty"`

	// Movement bookkeeping. MovementNumber, once set, is immutable and
	// blocks any further posting for this order.
	MovementDone   bool   `json:"movement_done"`
	MovementNumber string `json:"movement_number,omitempty"`
	MovementNote   string `json:"movement_note,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// HasMovement reports whether a movement number has been recorded.
func (o *Order) HasMovement() bool {
	return o.MovementNumber != ""
}

// OrderItem is one product line within an order.
type OrderItem struct {
	ID          int64  `json:"id"`
	OrderID     int64  `json:"order_id"`
	ItemID      string `json:"item_id"`
	VariationID string `json:"variation_id,omitempty"`
	SellerCode  string `json:"seller_code,omitempty"`
	Barcode     string `json:"barcode,omitempty"`
	Size        string `json:"size,omitempty"`
	Color       string `json:"color,omitempty"`
	Quantity    int    `json:"quantity"`

	// ResolvedSKU is populated lazily on the first resolution attempt
	// and treated as a stable fact afterwards.
	ResolvedSKU string `json:"resolved_sku,omitempty"`
}

// EffectiveSKU returns the resolved SKU when present, otherwise the raw
// seller code. Downstream callers treat both the same.
func (i *OrderItem) EffectiveSKU() string {
	if i.ResolvedSKU != "" {
		return i.ResolvedSKU
	}
	return i.SellerCode
}
