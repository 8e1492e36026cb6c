package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"fulfillsync/internal/erp"
	"fulfillsync/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assignedOrder(externalID, deposit string) *model.Order {
	now := time.Now().UTC()
	return &model.Order{
		ExternalID:      externalID,
		Status:          model.StatusReadyToPrint,
		DateCreated:     now.Add(-time.Hour),
		Assigned:        true,
		AssignedDeposit: deposit,
		AssignedAt:      &now,
		Items: []model.OrderItem{
			{SellerCode: "CAMNEG42", ResolvedSKU: "CAM-NN0-T42", Quantity: 2},
		},
	}
}

func TestPostMovementHappyPath(t *testing.T) {
	order := assignedOrder("100", "CENTRAL")
	repo := newFakeRepo(order)
	poster := &fakePoster{number: "555"}
	mover := NewMovementService(repo, poster, "VENTAS")

	number, err := mover.Post(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, "555", number)
	require.Equal(t, 1, poster.postCount())

	req := poster.posts[0]
	assert.Equal(t, "CENTRAL", req.Origin)
	assert.Equal(t, "VENTAS", req.Destination)
	assert.Equal(t, erp.MovementOutbound, req.Type)
	assert.Equal(t, "Pedido 100", req.Observation)
	require.Len(t, req.Lines, 1)
	assert.Equal(t, "CAM-NN0-T42", req.Lines[0].SKU)
	assert.Equal(t, 2, req.Lines[0].Quantity)

	stored, err := repo.GetByExternalID(context.Background(), "100")
	require.NoError(t, err)
	assert.True(t, stored.MovementDone)
	assert.Equal(t, "555", stored.MovementNumber)
	assert.Contains(t, stored.MovementNote, "movement 555 posted from CENTRAL")
}

func TestPostMovementObservationCarriesPack(t *testing.T) {
	order := assignedOrder("100", "CENTRAL")
	order.PackID = "P9"
	repo := newFakeRepo(order)
	poster := &fakePoster{number: "555"}

	_, err := NewMovementService(repo, poster, "VENTAS").Post(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, "Pedido 100 (pack P9)", poster.posts[0].Observation)
}

func TestPostMovementUnassignedIsNoop(t *testing.T) {
	order := assignedOrder("100", "")
	order.Assigned = false
	repo := newFakeRepo(order)
	poster := &fakePoster{number: "555"}

	number, err := NewMovementService(repo, poster, "VENTAS").Post(context.Background(), order)
	require.NoError(t, err)
	assert.Empty(t, number)
	assert.Zero(t, poster.postCount())
}

func TestPostMovementAtMostOnce(t *testing.T) {
	order := assignedOrder("100", "CENTRAL")
	repo := newFakeRepo(order)
	poster := &fakePoster{number: "555"}
	mover := NewMovementService(repo, poster, "VENTAS")

	number, err := mover.Post(context.Background(), order)
	require.NoError(t, err)
	require.Equal(t, "555", number)

	// A second call returns the stored number without touching the ERP.
	number, err = mover.Post(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, "555", number)
	assert.Equal(t, 1, poster.postCount())

	// Even with a stale in-memory copy, the claim refuses a re-post.
	stale := assignedOrder("100", "CENTRAL")
	number, err = mover.Post(context.Background(), stale)
	require.NoError(t, err)
	assert.Equal(t, "555", number, "lost claim resolves to the recorded number")
	assert.Equal(t, 1, poster.postCount())
}

func TestPostMovementConcurrentSingleWinner(t *testing.T) {
	repo := newFakeRepo(assignedOrder("100", "CENTRAL"))
	poster := &fakePoster{number: "555"}
	mover := NewMovementService(repo, poster, "VENTAS")

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Each worker holds its own snapshot, as separate sync
			// cycles would.
			snapshot, err := repo.GetByExternalID(context.Background(), "100")
			if err != nil {
				return
			}
			_, err = mover.Post(context.Background(), snapshot)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, poster.postCount(), "concurrent workers must produce exactly one ERP post")
}

func TestPostMovementFailureStaysRetryEligible(t *testing.T) {
	order := assignedOrder("100", "CENTRAL")
	repo := newFakeRepo(order)
	poster := &fakePoster{err: fmt.Errorf("erp unreachable")}
	mover := NewMovementService(repo, poster, "VENTAS")

	number, err := mover.Post(context.Background(), order)
	require.NoError(t, err, "a failed post is recorded, not escalated")
	assert.Empty(t, number)

	stored, err := repo.GetByExternalID(context.Background(), "100")
	require.NoError(t, err)
	assert.False(t, stored.MovementDone, "the claim is released on failure")
	assert.Empty(t, stored.MovementNumber)
	assert.Contains(t, stored.MovementNote, "erp unreachable")

	// The ERP recovers; the next cycle succeeds.
	poster.err = nil
	poster.number = "777"
	number, err = mover.Post(context.Background(), stored)
	require.NoError(t, err)
	assert.Equal(t, "777", number)
	assert.Equal(t, 2, poster.postCount())
}
