package order

import (
	"time"

	"github.com/GeorgeRitchie/bookstore-orders/pubsub/message"
	"github.com/GeorgeRitchie/bookstore-orders/runtime/scheme"
)

const (
	OrdersGroup    scheme.Group = "orders"
	PaymentsGroup  scheme.Group = "payments"
	ShipmentsGroup scheme.Group = "shipments"
)

// RegisterEvents adds every event the service produces or consumes to the registry.
// Called once at startup, the wire discriminators are derived from type names and must
// stay stable.
func RegisterEvents(registry scheme.KnownTypesRegistry) {
	registry.AddKnownTypes(OrdersGroup, &CreatedEvent{}, &StatusChangedEvent{}, &CompletedEvent{})
	registry.AddKnownTypes(PaymentsGroup, &PaymentRequestedEvent{}, &PaymentSucceededEvent{}, &PaymentFailedEvent{})
	registry.AddKnownTypes(ShipmentsGroup, &ShipmentRequestedEvent{}, &ShipmentCompletedEvent{}, &ShipmentFailedEvent{})
}

// CreatedEvent is raised when an order is placed. The service consumes its own event
// to start the saga asynchronously from the placing request.
type CreatedEvent struct {
	message.ObjectMeta
	OrderUID    string   `json:"order_uid"`
	CustomerUID string   `json:"customer_uid"`
	Items       []Item   `json:"items"`
	Address     *Address `json:"address,omitempty"`
}

func (e CreatedEvent) AggregateUID() string {
	return e.OrderUID
}

// StatusChangedEvent is raised on every saga transition
type StatusChangedEvent struct {
	message.ObjectMeta
	OrderUID string `json:"order_uid"`
	Previous Status `json:"previous"`
	Current  Status `json:"current"`
}

func (e StatusChangedEvent) AggregateUID() string {
	return e.OrderUID
}

// PaymentRequestedEvent asks the payments service to charge the order
type PaymentRequestedEvent struct {
	message.ObjectMeta
	OrderUID    string  `json:"order_uid"`
	CustomerUID string  `json:"customer_uid"`
	Amount      float64 `json:"amount"`
	Items       []Item  `json:"items"`
}

func (e PaymentRequestedEvent) AggregateUID() string {
	return e.OrderUID
}

// ShipmentRequestedEvent asks the shipments service to deliver the order
type ShipmentRequestedEvent struct {
	message.ObjectMeta
	OrderUID    string   `json:"order_uid"`
	CustomerUID string   `json:"customer_uid"`
	Address     *Address `json:"address,omitempty"`
	Items       []Item   `json:"items"`
}

func (e ShipmentRequestedEvent) AggregateUID() string {
	return e.OrderUID
}

// CompletedEvent announces a finished order to any interested service
type CompletedEvent struct {
	message.ObjectMeta
	OrderUID    string `json:"order_uid"`
	CustomerUID string `json:"customer_uid"`
	Items       []Item `json:"items"`
}

func (e CompletedEvent) AggregateUID() string {
	return e.OrderUID
}

// PaymentSucceededEvent arrives from the payments service
type PaymentSucceededEvent struct {
	message.ObjectMeta
	OrderUID   string    `json:"order_uid"`
	PaymentUID string    `json:"payment_uid"`
	Amount     float64   `json:"amount"`
	PaidOnUTC  time.Time `json:"paid_on_utc"`
}

func (e PaymentSucceededEvent) AggregateUID() string {
	return e.OrderUID
}

// PaymentFailedEvent arrives from the payments service
type PaymentFailedEvent struct {
	message.ObjectMeta
	OrderUID string `json:"order_uid"`
	Reason   string `json:"reason"`
}

func (e PaymentFailedEvent) AggregateUID() string {
	return e.OrderUID
}

// ShipmentCompletedEvent arrives from the shipments service
type ShipmentCompletedEvent struct {
	message.ObjectMeta
	OrderUID string `json:"order_uid"`
}

func (e ShipmentCompletedEvent) AggregateUID() string {
	return e.OrderUID
}

// ShipmentFailedEvent arrives from the shipments service
type ShipmentFailedEvent struct {
	message.ObjectMeta
	OrderUID string `json:"order_uid"`
	Reason   string `json:"reason"`
}

func (e ShipmentFailedEvent) AggregateUID() string {
	return e.OrderUID
}
