package endpoint

import (
	"context"
	"time"

	"github.com/GeorgeRitchie/bookstore-orders/pubsub/message"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../../testing/mocks/pubsub/endpoint/endpoint.go -package endpoint . Endpoint,Router

// Endpoint is a named destination for outcoming messages. Its name doubles as the
// consumer identity in the outbox ledger, so one message can be tracked per endpoint.
type Endpoint interface {
	// Name is a unique name of the endpoint
	Name() string
	// Send sends a message to the specified implementation
	Send(ctx context.Context, message *message.OutcomingMessage, options ...DeliveryOption) error
}

type deliveryOptions struct {
	delay *time.Duration
}

func WithDelay(delay time.Duration) DeliveryOption {
	return func(o *deliveryOptions) error {
		o.delay = &delay
		return nil
	}
}

type DeliveryOption func(o *deliveryOptions) error
