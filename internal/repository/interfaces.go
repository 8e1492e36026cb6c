package repository

import (
	"context"
	"errors"

	"fulfillsync/internal/model"
)

// ErrNotFound indicates the requested order does not exist.
var ErrNotFound = errors.New("order not found")

// OrderRepository defines order store data access. All mutating
// operations bump fecha_actualizacion; the claim operations report
// rows-affected so that exactly one concurrent caller wins.
type OrderRepository interface {
	// Upsert inserts a new order with its items, or refreshes
	// status/note/buyer of an existing one. Assignment and movement
	// fields are never touched by re-ingestion; items are written only
	// on first observation.
	Upsert(ctx context.Context, order *model.Order) error

	// GetByExternalID returns the order with its items, or ErrNotFound.
	GetByExternalID(ctx context.Context, externalID string) (*model.Order, error)

	// ListPendingAssignment returns unassigned ready_to_print orders,
	// oldest first, with items.
	ListPendingAssignment(ctx context.Context) ([]*model.Order, error)

	// ListAssignedWithoutMovement returns assigned orders that have no
	// movement number recorded, oldest first, with items.
	ListAssignedWithoutMovement(ctx context.Context) ([]*model.Order, error)

	// OldestEligible returns the oldest ready_to_print order still
	// missing its assignment or movement, or nil when none exists.
	OldestEligible(ctx context.Context) (*model.Order, error)

	// ListKnownIDs returns all external order ids in the store.
	ListKnownIDs(ctx context.Context) ([]string, error)

	// MarkAssigned commits an assignment. Returns false when another
	// worker already claimed the order (zero rows affected).
	MarkAssigned(ctx context.Context, externalID, deposit string) (bool, error)

	// ClaimMovement takes the movement claim (movimiento_realizado
	// 0 -> 1) for an assigned order with no movement number. Returns
	// false when the claim is already held or a number exists.
	ClaimMovement(ctx context.Context, externalID string) (bool, error)

	// RecordMovementSuccess stores the movement number and observation.
	// A previously recorded number is never overwritten.
	RecordMovementSuccess(ctx context.Context, externalID, number, observation string) error

	// RecordMovementFailure releases the movement claim and stores the
	// failure observation, leaving the order retry-eligible.
	RecordMovementFailure(ctx context.Context, externalID, observation string) error

	// UpdateStatus writes a new status. Legality of the transition is
	// the caller's responsibility.
	UpdateStatus(ctx context.Context, externalID string, status model.Status) error

	// SetItemResolvedSKU persists a lazily resolved canonical SKU.
	SetItemResolvedSKU(ctx context.Context, itemRowID int64, sku string) error

	// ResetAssignment clears assignment and movement claim fields for
	// maintenance. Returns false when blocked by a recorded movement
	// number (those are immutable).
	ResetAssignment(ctx context.Context, externalID string) (bool, error)

	// Ping verifies the underlying connection.
	Ping(ctx context.Context) error

	// Close closes the repository connection.
	Close() error
}
