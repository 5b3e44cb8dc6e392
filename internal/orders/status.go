package orders

import (
	"fmt"
	"strings"

	"github.com/imrishuroy/go-shop-orderflow/internal/domain"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
	StatusReturned   Status = "RETURNED"
)

// transitions lists the states reachable from each state.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered, StatusCancelled},
	StatusDelivered:  {StatusReturned},
}

// ParseStatus accepts a status name in any letter case.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled, StatusReturned:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown order status %q", domain.ErrInvalidInput, s)
}

// CanTransitionTo returns nil when the order may move from s to next.
func (s Status) CanTransitionTo(next Status) error {
	if s == StatusCancelled {
		return domain.ErrAlreadyCancelled
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, s, next)
}
