package model

import "fmt"

// Status is the lifecycle state of an order.
type Status string

const (
	StatusCreated      Status = "created"
	StatusPaid         Status = "paid"
	StatusReadyToPrint Status = "ready_to_print"
	StatusPrinted      Status = "printed"
	StatusShipped      Status = "shipped"
	StatusDelivered    Status = "delivered"
	StatusCanceled     Status = "canceled"
)

// transitions is the full directed transition graph. There are no
// implicit back-edges; delivered and canceled are terminal.
var transitions = map[Status][]Status{
	StatusCreated:      {StatusPaid, StatusCanceled},
	StatusPaid:         {StatusReadyToPrint, StatusCanceled},
	StatusReadyToPrint: {StatusPrinted, StatusCanceled},
	StatusPrinted:      {StatusShipped, StatusCanceled},
	StatusShipped:      {StatusDelivered, StatusCanceled},
	StatusDelivered:    {},
	StatusCanceled:     {},
}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if _, ok := transitions[s]; !ok {
		return "", fmt.Errorf("unknown order status: %q", raw)
	}
	return s, nil
}

// CanTransition reports whether src -> dst is a legal transition.
func CanTransition(src, dst Status) bool {
	for _, next := range transitions[src] {
		if next == dst {
			return true
		}
	}
	return false
}

// NextStates returns the legal targets from src. The slice is a copy;
// callers may mutate it freely.
func NextStates(src Status) []Status {
	next := transitions[src]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// IsTerminal reports whether the status has no outgoing transitions.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0
}
