package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"fulfillsync/internal/model"
	"fulfillsync/internal/repository"
	"fulfillsync/internal/service"
	"fulfillsync/pkg/apierror"
	"fulfillsync/pkg/response"

	"github.com/go-chi/chi/v5"
)

// OrderHandler serves order inspection, the picking/printing event
// callbacks from the GUI clients, and maintenance resets.
type OrderHandler struct {
	repo repository.OrderRepository
	sync *service.SyncService
}

// NewOrderHandler creates a new order handler.
func NewOrderHandler(repo repository.OrderRepository, sync *service.SyncService) *OrderHandler {
	return &OrderHandler{repo: repo, sync: sync}
}

// ListPending handles GET /api/v1/orders/pending
func (h *OrderHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	orders, err := h.repo.ListPendingAssignment(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}

	response.OK(w, map[string]interface{}{
		"count":  len(orders),
		"orders": orders,
	})
}

// Get handles GET /api/v1/orders/{order_id}
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		response.Error(w, apierror.BadRequest("order_id is required"))
		return
	}

	order, err := h.repo.GetByExternalID(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			response.Error(w, apierror.NotFound(fmt.Sprintf("order %s not found", orderID)))
			return
		}
		response.Error(w, err)
		return
	}

	response.OK(w, order)
}

// eventRequest is the body of a picking/printing event callback.
type eventRequest struct {
	Status string `json:"status"`
}

// ReportEvent handles POST /api/v1/orders/{order_id}/events - the GUI
// clients report picked/printed/shipped transitions here. Transitions
// outside the state machine are rejected with 409.
func (h *OrderHandler) ReportEvent(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		response.Error(w, apierror.BadRequest("order_id is required"))
		return
	}

	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid JSON body"))
		return
	}
	defer r.Body.Close()

	target, err := model.ParseStatus(req.Status)
	if err != nil {
		response.Error(w, apierror.BadRequest(err.Error()))
		return
	}

	order, err := h.repo.GetByExternalID(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			response.Error(w, apierror.NotFound(fmt.Sprintf("order %s not found", orderID)))
			return
		}
		response.Error(w, err)
		return
	}

	// The store does not enforce the transition graph; callers must.
	if !model.CanTransition(order.Status, target) {
		response.Error(w, apierror.Conflict(fmt.Sprintf(
			"illegal transition %s -> %s (legal: %v)", order.Status, target, model.NextStates(order.Status))))
		return
	}

	if err := h.repo.UpdateStatus(r.Context(), orderID, target); err != nil {
		response.Error(w, err)
		return
	}

	response.OK(w, map[string]interface{}{
		"order_id": orderID,
		"from":     order.Status,
		"to":       target,
	})
}

// Reset handles POST /api/v1/orders/{order_id}/reset - maintenance
// unassign. Blocked once a movement number is recorded.
func (h *OrderHandler) Reset(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		response.Error(w, apierror.BadRequest("order_id is required"))
		return
	}

	ok, err := h.repo.ResetAssignment(r.Context(), orderID)
	if err != nil {
		response.Error(w, err)
		return
	}
	if !ok {
		response.Error(w, apierror.Conflict(
			"reset blocked: order has a recorded movement number or does not exist"))
		return
	}

	response.OK(w, map[string]interface{}{
		"order_id": orderID,
		"reset":    true,
	})
}

// RunSync handles POST /api/v1/sync/run - triggers one cycle ahead of
// the timer.
func (h *OrderHandler) RunSync(w http.ResponseWriter, r *http.Request) {
	if h.sync == nil {
		response.Error(w, apierror.BadRequest("sync loop is not running in this process"))
		return
	}

	h.sync.RunNow()
	response.Accepted(w, map[string]interface{}{
		"triggered": true,
	})
}
