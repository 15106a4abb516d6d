package order

import "github.com/pkg/errors"

const (
	StatusCreated            Status = "created"
	StatusPaymentProcessing  Status = "payment_processing"
	StatusShippingProcessing Status = "shipping_processing"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
)

// Status is the saga position of an order. Transitions only move forward along
// created -> payment_processing -> shipping_processing -> completed, failed is reachable
// from every non-terminal status. Terminal statuses never change.
type Status string

var transitions = map[Status][]Status{
	StatusCreated:            {StatusPaymentProcessing, StatusFailed},
	StatusPaymentProcessing:  {StatusShippingProcessing, StatusFailed},
	StatusShippingProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:          {},
	StatusFailed:             {},
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// StaleTransitionErr signals that an event arrived for a status it no longer applies to,
// an expected outcome under duplicate or reordered delivery. Callers drop the event
// instead of retrying it.
type StaleTransitionErr struct {
	error
}

func WithStaleTransitionErr(err error) error {
	return StaleTransitionErr{err}
}

func staleTransition(orderUID string, from, to Status) error {
	return WithStaleTransitionErr(errors.Errorf("order %s can't move from %s to %s", orderUID, from, to))
}
