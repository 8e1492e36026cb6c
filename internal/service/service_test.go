package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fulfillsync/internal/erp"
	"fulfillsync/internal/model"
	"fulfillsync/internal/repository"
)

// fakeRepo is an in-memory OrderRepository with the same claim
// semantics as the SQL backends.
type fakeRepo struct {
	mu     sync.Mutex
	orders map[string]*model.Order

	resolvedSKUs map[int64]string
	failUpsert   error
}

func newFakeRepo(orders ...*model.Order) *fakeRepo {
	r := &fakeRepo{
		orders:       make(map[string]*model.Order),
		resolvedSKUs: make(map[int64]string),
	}
	for _, o := range orders {
		r.orders[o.ExternalID] = o
	}
	return r
}

func (r *fakeRepo) Upsert(ctx context.Context, order *model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpsert != nil {
		return r.failUpsert
	}
	if existing, ok := r.orders[order.ExternalID]; ok {
		existing.Status = order.Status
		existing.Note = order.Note
		return nil
	}
	copied := *order
	r.orders[order.ExternalID] = &copied
	return nil
}

func (r *fakeRepo) GetByExternalID(ctx context.Context, externalID string) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[externalID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *order
	return &copied, nil
}

func (r *fakeRepo) ListPendingAssignment(ctx context.Context) ([]*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Order
	for _, o := range r.orders {
		if o.Status == model.StatusReadyToPrint && !o.Assigned {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListAssignedWithoutMovement(ctx context.Context) ([]*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Order
	for _, o := range r.orders {
		if o.Assigned && !o.MovementDone && o.MovementNumber == "" {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *fakeRepo) OldestEligible(ctx context.Context) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var oldest *model.Order
	for _, o := range r.orders {
		if o.Status != model.StatusReadyToPrint {
			continue
		}
		if o.Assigned && o.MovementNumber != "" {
			continue
		}
		if oldest == nil || o.DateCreated.Before(oldest.DateCreated) {
			oldest = o
		}
	}
	return oldest, nil
}

func (r *fakeRepo) ListKnownIDs(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id := range r.orders {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *fakeRepo) MarkAssigned(ctx context.Context, externalID, deposit string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[externalID]
	if !ok || order.Assigned {
		return false, nil
	}
	now := time.Now().UTC()
	order.Assigned = true
	order.AssignedDeposit = deposit
	order.AssignedAt = &now
	return true, nil
}

func (r *fakeRepo) ClaimMovement(ctx context.Context, externalID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[externalID]
	if !ok || !order.Assigned || order.MovementDone || order.MovementNumber != "" {
		return false, nil
	}
	order.MovementDone = true
	return true, nil
}

func (r *fakeRepo) RecordMovementSuccess(ctx context.Context, externalID, number, observation string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[externalID]
	if !ok {
		return repository.ErrNotFound
	}
	if order.MovementNumber != "" {
		return nil
	}
	order.MovementDone = true
	order.MovementNumber = number
	order.MovementNote = observation
	return nil
}

func (r *fakeRepo) RecordMovementFailure(ctx context.Context, externalID, observation string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[externalID]
	if !ok {
		return repository.ErrNotFound
	}
	if order.MovementNumber != "" {
		return nil
	}
	order.MovementDone = false
	order.MovementNote = observation
	return nil
}

func (r *fakeRepo) UpdateStatus(ctx context.Context, externalID string, status model.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[externalID]
	if !ok {
		return repository.ErrNotFound
	}
	order.Status = status
	return nil
}

func (r *fakeRepo) SetItemResolvedSKU(ctx context.Context, itemRowID int64, sku string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvedSKUs[itemRowID] = sku
	return nil
}

func (r *fakeRepo) ResetAssignment(ctx context.Context, externalID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[externalID]
	if !ok || order.MovementNumber != "" {
		return false, nil
	}
	order.Assigned = false
	order.AssignedDeposit = ""
	order.AssignedAt = nil
	order.MovementDone = false
	return true, nil
}

func (r *fakeRepo) Ping(ctx context.Context) error { return nil }
func (r *fakeRepo) Close() error                   { return nil }

var _ repository.OrderRepository = (*fakeRepo)(nil)

// fakeStock serves canned per-SKU stock levels.
type fakeStock struct {
	levels map[string]model.StockLevels
	calls  int
}

func (f *fakeStock) GetStock(ctx context.Context, sku string) (model.StockLevels, error) {
	f.calls++
	if sku == "" {
		return nil, fmt.Errorf("sku is required")
	}
	levels, ok := f.levels[sku]
	if !ok {
		return model.StockLevels{}, nil
	}
	return levels, nil
}

var _ erp.StockQuerier = (*fakeStock)(nil)

// fakePoster counts movement posts and can be told to fail.
type fakePoster struct {
	mu     sync.Mutex
	number string
	err    error
	posts  []erp.MovementRequest
}

func (f *fakePoster) PostMovement(ctx context.Context, req erp.MovementRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, req)
	if f.err != nil {
		return "", f.err
	}
	return f.number, nil
}

func (f *fakePoster) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

var _ erp.MovementPoster = (*fakePoster)(nil)

// fakeFeed returns a fixed order window.
type fakeFeed struct {
	mu     sync.Mutex
	orders []model.Order
	err    error
	calls  int
}

func (f *fakeFeed) FetchOrders(ctx context.Context, from, to time.Time) ([]model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.orders, nil
}

func (f *fakeFeed) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFeed) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}
