package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"fulfillsync/internal/erp"
	"fulfillsync/internal/model"
	"fulfillsync/internal/repository"
)

// MovementService posts exactly one compensating stock movement per
// assignment. The critical guarantee is at-most-once: a movement
// number, once recorded, blocks any further posting, and the posting
// attempt itself runs under an in-row claim so concurrent workers
// cannot double-post.
type MovementService struct {
	repo   repository.OrderRepository
	poster erp.MovementPoster

	// destination is the counterparty pool of the outbound movement.
	destination string
}

// NewMovementService creates a movement service.
// Returns nil if any required dependency is nil.
func NewMovementService(repo repository.OrderRepository, poster erp.MovementPoster, destination string) *MovementService {
	if repo == nil || poster == nil {
		return nil
	}
	if destination == "" {
		destination = "VENTAS"
	}
	return &MovementService{repo: repo, poster: poster, destination: destination}
}

// Post issues the compensating movement for an assigned order. It
// returns the movement number, or "" when nothing was posted (guard
// rejection, lost claim, or a recorded failure awaiting retry). Only
// database errors are returned as errors.
func (s *MovementService) Post(ctx context.Context, order *model.Order) (string, error) {
	// Idempotent guards: both are informational no-ops.
	if !order.Assigned {
		log.Printf("[Movement] Order %s is not assigned, nothing to post", order.ExternalID)
		return "", nil
	}
	if order.HasMovement() {
		log.Printf("[Movement] Order %s already has movement %s", order.ExternalID, order.MovementNumber)
		return order.MovementNumber, nil
	}

	// Take the in-row claim before any network call (check-and-set,
	// not check-then-set).
	claimed, err := s.repo.ClaimMovement(ctx, order.ExternalID)
	if err != nil {
		return "", err
	}
	if !claimed {
		// Another worker holds the claim or already recorded a number.
		current, err := s.repo.GetByExternalID(ctx, order.ExternalID)
		if err != nil {
			return "", err
		}
		if current.HasMovement() {
			log.Printf("[Movement] Order %s already moved as %s (claim lost)", order.ExternalID, current.MovementNumber)
			return current.MovementNumber, nil
		}
		log.Printf("[Movement] Movement claim for %s held elsewhere, skipping", order.ExternalID)
		return "", nil
	}

	req := erp.MovementRequest{
		Origin:      order.AssignedDeposit,
		Destination: s.destination,
		Type:        erp.MovementOutbound,
		Observation: movementObservation(order),
		Timestamp:   time.Now(),
	}
	for _, item := range order.Items {
		req.Lines = append(req.Lines, erp.MovementLine{
			SKU:      item.EffectiveSKU(),
			Quantity: item.Quantity,
		})
	}

	number, err := s.poster.PostMovement(ctx, req)
	if err != nil {
		// No number was recorded, so the order stays retry-eligible.
		// Release the claim and keep the failure on the row.
		log.Printf("[Movement] Post for order %s failed: %v", order.ExternalID, err)
		observation := fmt.Sprintf("movement failed: %v", err)
		if recErr := s.repo.RecordMovementFailure(ctx, order.ExternalID, observation); recErr != nil {
			return "", fmt.Errorf("failed to record movement failure: %w", recErr)
		}
		return "", nil
	}

	observation := fmt.Sprintf("movement %s posted from %s", number, order.AssignedDeposit)
	if err := s.repo.RecordMovementSuccess(ctx, order.ExternalID, number, observation); err != nil {
		return "", fmt.Errorf("failed to record movement success: %w", err)
	}

	order.MovementDone = true
	order.MovementNumber = number
	order.MovementNote = observation
	log.Printf("[Movement] Posted movement %s for order %s", number, order.ExternalID)
	return number, nil
}

func movementObservation(order *model.Order) string {
	if order.PackID != "" {
		return fmt.Sprintf("Pedido %s (pack %s)", order.ExternalID, order.PackID)
	}
	return fmt.Sprintf("Pedido %s", order.ExternalID)
}
