package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fulfillsync/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *SQLiteOrderRepository {
	t.Helper()
	repo, err := NewSQLiteOrderRepository(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testOrder(externalID string) *model.Order {
	return &model.Order{
		ExternalID:    externalID,
		BuyerNickname: "COMPRADOR1",
		Status:        model.StatusReadyToPrint,
		DateCreated:   time.Now().UTC().Add(-time.Hour),
		Items: []model.OrderItem{
			{ItemID: "MLA1", SellerCode: "CAMNEG42", Quantity: 2},
			{ItemID: "MLA2", Barcode: "779000111", Quantity: 1},
		},
	}
}

func TestUpsertAndGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, testOrder("100")))

	order, err := repo.GetByExternalID(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "100", order.ExternalID)
	assert.Equal(t, model.StatusReadyToPrint, order.Status)
	assert.False(t, order.Assigned)
	require.Len(t, order.Items, 2)
	assert.NotZero(t, order.Items[0].ID)
	assert.Equal(t, 2, order.Items[0].Quantity)

	_, err = repo.GetByExternalID(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertPreservesAssignmentState(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, testOrder("100")))

	ok, err := repo.MarkAssigned(ctx, "100", "CENTRAL")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, repo.RecordMovementSuccess(ctx, "100", "555", "movement 555 posted from CENTRAL"))

	// A later feed refresh must not disturb assignment or movement state.
	refreshed := testOrder("100")
	refreshed.Status = model.StatusShipped
	refreshed.Note = "updated note"
	require.NoError(t, repo.Upsert(ctx, refreshed))

	order, err := repo.GetByExternalID(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, model.StatusShipped, order.Status)
	assert.Equal(t, "updated note", order.Note)
	assert.True(t, order.Assigned)
	assert.Equal(t, "CENTRAL", order.AssignedDeposit)
	require.NotNil(t, order.AssignedAt)
	assert.Equal(t, "555", order.MovementNumber)
	assert.Len(t, order.Items, 2, "items are not duplicated on refresh")
}

func TestMarkAssignedSingleWinner(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Upsert(ctx, testOrder("100")))

	const workers = 8
	results := make([]bool, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := repo.MarkAssigned(ctx, "100", "CENTRAL")
			assert.NoError(t, err)
			results[i] = ok
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, ok := range results {
		if ok {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent assignment claim may win")
}

func TestClaimMovementSingleWinner(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Upsert(ctx, testOrder("100")))

	// Unassigned orders cannot be claimed at all.
	ok, err := repo.ClaimMovement(ctx, "100")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.MarkAssigned(ctx, "100", "CENTRAL")
	require.NoError(t, err)

	const workers = 8
	results := make([]bool, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := repo.ClaimMovement(ctx, "100")
			assert.NoError(t, err)
			results[i] = ok
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, ok := range results {
		if ok {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent movement claim may win")
}

func TestMovementFailureReleasesClaim(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Upsert(ctx, testOrder("100")))
	_, err := repo.MarkAssigned(ctx, "100", "CENTRAL")
	require.NoError(t, err)

	ok, err := repo.ClaimMovement(ctx, "100")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, repo.RecordMovementFailure(ctx, "100", "movement failed: erp down"))

	order, err := repo.GetByExternalID(ctx, "100")
	require.NoError(t, err)
	assert.False(t, order.MovementDone)
	assert.Empty(t, order.MovementNumber)
	assert.Equal(t, "movement failed: erp down", order.MovementNote)

	// Released claim means the order is retry-eligible.
	ok, err = repo.ClaimMovement(ctx, "100")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMovementNumberImmutable(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Upsert(ctx, testOrder("100")))
	_, err := repo.MarkAssigned(ctx, "100", "CENTRAL")
	require.NoError(t, err)

	require.NoError(t, repo.RecordMovementSuccess(ctx, "100", "555", "first"))
	require.NoError(t, repo.RecordMovementSuccess(ctx, "100", "999", "second"))

	order, err := repo.GetByExternalID(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "555", order.MovementNumber, "a recorded movement number is never overwritten")
	assert.Equal(t, "first", order.MovementNote)

	// With a number recorded, the claim is gone for good.
	ok, err := repo.ClaimMovement(ctx, "100")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListPendingAssignment(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	older := testOrder("100")
	older.DateCreated = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, repo.Upsert(ctx, older))
	require.NoError(t, repo.Upsert(ctx, testOrder("101")))

	paid := testOrder("102")
	paid.Status = model.StatusPaid
	require.NoError(t, repo.Upsert(ctx, paid))

	pending, err := repo.ListPendingAssignment(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2, "only ready_to_print orders are assignment candidates")
	assert.Equal(t, "100", pending[0].ExternalID, "oldest first")
	assert.NotEmpty(t, pending[0].Items, "listings carry items")

	_, err = repo.MarkAssigned(ctx, "100", "CENTRAL")
	require.NoError(t, err)

	pending, err = repo.ListPendingAssignment(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "101", pending[0].ExternalID)
}

func TestListAssignedWithoutMovement(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, testOrder("100")))
	require.NoError(t, repo.Upsert(ctx, testOrder("101")))
	_, err := repo.MarkAssigned(ctx, "100", "CENTRAL")
	require.NoError(t, err)
	_, err = repo.MarkAssigned(ctx, "101", "NORTE")
	require.NoError(t, err)
	require.NoError(t, repo.RecordMovementSuccess(ctx, "101", "555", ""))

	toMove, err := repo.ListAssignedWithoutMovement(ctx)
	require.NoError(t, err)
	require.Len(t, toMove, 1)
	assert.Equal(t, "100", toMove[0].ExternalID)
}

func TestOldestEligible(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	got, err := repo.OldestEligible(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	older := testOrder("100")
	older.DateCreated = time.Now().UTC().Add(-3 * time.Hour)
	require.NoError(t, repo.Upsert(ctx, older))
	require.NoError(t, repo.Upsert(ctx, testOrder("101")))

	got, err = repo.OldestEligible(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "100", got.ExternalID)

	// Assigned but unmoved orders stay eligible.
	_, err = repo.MarkAssigned(ctx, "100", "CENTRAL")
	require.NoError(t, err)
	got, err = repo.OldestEligible(ctx)
	require.NoError(t, err)
	assert.Equal(t, "100", got.ExternalID)

	// A movement number retires the order.
	require.NoError(t, repo.RecordMovementSuccess(ctx, "100", "555", ""))
	got, err = repo.OldestEligible(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "101", got.ExternalID)
}

func TestUpdateStatus(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Upsert(ctx, testOrder("100")))

	require.NoError(t, repo.UpdateStatus(ctx, "100", model.StatusPrinted))
	order, err := repo.GetByExternalID(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPrinted, order.Status)

	assert.ErrorIs(t, repo.UpdateStatus(ctx, "nope", model.StatusPrinted), ErrNotFound)
}

func TestSetItemResolvedSKU(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Upsert(ctx, testOrder("100")))

	order, err := repo.GetByExternalID(ctx, "100")
	require.NoError(t, err)
	require.NoError(t, repo.SetItemResolvedSKU(ctx, order.Items[0].ID, "CAM-NN0-T42"))

	order, err = repo.GetByExternalID(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "CAM-NN0-T42", order.Items[0].ResolvedSKU)
	assert.Empty(t, order.Items[1].ResolvedSKU)
}

func TestResetAssignment(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Upsert(ctx, testOrder("100")))
	_, err := repo.MarkAssigned(ctx, "100", "CENTRAL")
	require.NoError(t, err)

	ok, err := repo.ResetAssignment(ctx, "100")
	require.NoError(t, err)
	require.True(t, ok)

	order, err := repo.GetByExternalID(ctx, "100")
	require.NoError(t, err)
	assert.False(t, order.Assigned)
	assert.Empty(t, order.AssignedDeposit)
	assert.Nil(t, order.AssignedAt)

	// Once a movement number exists, reset is refused.
	_, err = repo.MarkAssigned(ctx, "100", "CENTRAL")
	require.NoError(t, err)
	require.NoError(t, repo.RecordMovementSuccess(ctx, "100", "555", ""))

	ok, err = repo.ResetAssignment(ctx, "100")
	require.NoError(t, err)
	assert.False(t, ok, "reset must never orphan a posted movement")
}

func TestListKnownIDs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Upsert(ctx, testOrder("100")))
	require.NoError(t, repo.Upsert(ctx, testOrder("101")))

	ids, err := repo.ListKnownIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"100", "101"}, ids)
}
