package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"fulfillsync/internal/erp"
	"fulfillsync/internal/model"
	"fulfillsync/internal/repository"
	"fulfillsync/internal/resolver"
)

// AssignmentService decides which deposit fulfills an order (or pack)
// and commits the decision. It is safe to run from several workers at
// once: the conditional update in the repository is the claim, and a
// lost race is a normal outcome, not an error.
type AssignmentService struct {
	repo     repository.OrderRepository
	resolver *resolver.Resolver
	stock    erp.StockQuerier

	// depositPriority breaks availability ties; earlier entries win.
	depositPriority []string
}

// NewAssignmentService creates an assignment service.
// Returns nil if any required dependency is nil.
func NewAssignmentService(
	repo repository.OrderRepository,
	res *resolver.Resolver,
	stock erp.StockQuerier,
	depositPriority []string,
) *AssignmentService {
	if repo == nil || res == nil || stock == nil {
		return nil
	}
	return &AssignmentService{
		repo:            repo,
		resolver:        res,
		stock:           stock,
		depositPriority: depositPriority,
	}
}

// GroupByPack buckets orders so that members of the same pack are
// assigned together; a pack ships from one deposit only. Orders without
// a pack id form singleton groups. Input order is preserved.
func GroupByPack(orders []*model.Order) [][]*model.Order {
	var groups [][]*model.Order
	packIndex := make(map[string]int)

	for _, order := range orders {
		if order.PackID == "" {
			groups = append(groups, []*model.Order{order})
			continue
		}
		if idx, ok := packIndex[order.PackID]; ok {
			groups[idx] = append(groups[idx], order)
			continue
		}
		packIndex[order.PackID] = len(groups)
		groups = append(groups, []*model.Order{order})
	}
	return groups
}

// Assign evaluates one order group and commits at most one deposit for
// it. Returns the chosen deposit, or "" when no deposit can cover every
// line (the group stays a candidate for future cycles) or when another
// worker won the claim.
func (s *AssignmentService) Assign(ctx context.Context, group []*model.Order) (string, error) {
	if len(group) == 0 {
		return "", fmt.Errorf("empty order group")
	}

	lead := group[0]
	for _, order := range group {
		if order.Assigned {
			// Idempotency guard: once assigned, never reconsidered.
			log.Printf("[Assignment] Order %s already assigned to %s, skipping group", order.ExternalID, order.AssignedDeposit)
			return order.AssignedDeposit, nil
		}
	}

	lines := s.resolveLines(ctx, group)
	if len(lines) == 0 {
		log.Printf("[Assignment] Order %s has no lines, leaving unassigned", lead.ExternalID)
		return "", nil
	}

	deposit, err := s.selectDeposit(ctx, lead, lines)
	if err != nil {
		return "", err
	}
	if deposit == "" {
		log.Printf("[Assignment] No deposit covers all %d lines of order %s, leaving unassigned", len(lines), lead.ExternalID)
		return "", nil
	}

	committed := 0
	for _, order := range group {
		ok, err := s.repo.MarkAssigned(ctx, order.ExternalID, deposit)
		if err != nil {
			return "", fmt.Errorf("failed to commit assignment for %s: %w", order.ExternalID, err)
		}
		if !ok {
			// Race with another worker; the winner's decision stands.
			log.Printf("[Assignment] Lost claim for order %s, abandoning", order.ExternalID)
			continue
		}
		order.Assigned = true
		order.AssignedDeposit = deposit
		committed++
	}

	if committed == 0 {
		return "", nil
	}
	log.Printf("[Assignment] Assigned order %s (%d of %d rows) to %s", lead.ExternalID, committed, len(group), deposit)
	return deposit, nil
}

// assignmentLine is one resolved line with its required quantity.
type assignmentLine struct {
	sku      string
	quantity int
}

// resolveLines resolves every line in the group to its canonical SKU,
// persisting fresh resolutions so they stay stable.
func (s *AssignmentService) resolveLines(ctx context.Context, group []*model.Order) []assignmentLine {
	var lines []assignmentLine
	for _, order := range group {
		for i := range order.Items {
			item := &order.Items[i]

			sku := item.ResolvedSKU
			if sku == "" {
				raw := item.SellerCode
				if raw == "" {
					raw = item.Barcode
				}
				sku = s.resolver.Resolve(ctx, item.ItemID, item.VariationID, raw)
				if sku == "" {
					log.Printf("[Assignment] Line of order %s has no identifier at all, skipping line", order.ExternalID)
					continue
				}
				item.ResolvedSKU = sku
				if item.ID != 0 {
					if err := s.repo.SetItemResolvedSKU(ctx, item.ID, sku); err != nil {
						log.Printf("[Assignment] Failed to persist resolved SKU for item %d: %v", item.ID, err)
					}
				}
			}

			lines = append(lines, assignmentLine{sku: sku, quantity: item.Quantity})
		}
	}
	return lines
}

// selectDeposit queries stock per line and picks the deposit that can
// cover every line: the note-hinted deposit when sufficient, otherwise
// the one with the highest total availability, tie-broken by the fixed
// priority ordering.
func (s *AssignmentService) selectDeposit(ctx context.Context, lead *model.Order, lines []assignmentLine) (string, error) {
	// availability[deposit][lineIdx] = available units of that line's
	// SKU at that deposit. A deposit missing from a line's stock
	// response has zero availability for it (fail-safe: never assign
	// where stock is unknown).
	availability := make(map[string][]int)

	seen := make(map[string]bool)
	for idx, line := range lines {
		levels, err := s.stock.GetStock(ctx, line.sku)
		if err != nil {
			return "", fmt.Errorf("stock query contract error for %s: %w", line.sku, err)
		}
		for deposit, stock := range levels {
			if !seen[deposit] {
				seen[deposit] = true
				availability[deposit] = make([]int, len(lines))
			}
			availability[deposit][idx] = stock.Available()
		}
	}

	var candidates []string
	totals := make(map[string]int)
	for deposit, avail := range availability {
		sufficient := true
		total := 0
		for idx, line := range lines {
			if avail[idx] < line.quantity {
				sufficient = false
				break
			}
			total += avail[idx]
		}
		if sufficient {
			candidates = append(candidates, deposit)
			totals[deposit] = total
		}
	}
	if len(candidates) == 0 {
		return "", nil
	}

	// A routing hint in the note wins when that deposit qualifies.
	if hinted := s.noteHint(lead.Note); hinted != "" {
		for _, deposit := range candidates {
			if deposit == hinted {
				return hinted, nil
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if totals[candidates[i]] != totals[candidates[j]] {
			return totals[candidates[i]] > totals[candidates[j]]
		}
		pi, pj := s.priorityRank(candidates[i]), s.priorityRank(candidates[j])
		if pi != pj {
			return pi < pj
		}
		return candidates[i] < candidates[j]
	})
	return candidates[0], nil
}

// noteHint extracts a deposit routing hint from the order note by
// scanning for known deposit names.
func (s *AssignmentService) noteHint(note string) string {
	if note == "" {
		return ""
	}
	upper := strings.ToUpper(note)
	for _, deposit := range s.depositPriority {
		if strings.Contains(upper, strings.ToUpper(deposit)) {
			return deposit
		}
	}
	return ""
}

// priorityRank returns the tie-break rank of a deposit; deposits absent
// from the configured ordering rank last.
func (s *AssignmentService) priorityRank(deposit string) int {
	for i, d := range s.depositPriority {
		if d == deposit {
			return i
		}
	}
	return len(s.depositPriority)
}
