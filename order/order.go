package order

import (
	"time"

	"github.com/GeorgeRitchie/bookstore-orders/pubsub/message"
	"github.com/pkg/errors"
)

// Item is a position of an order. Items are owned by the order, set at creation and
// never mutated afterwards.
type Item struct {
	BookUID   string  `json:"book_uid"`
	Title     string  `json:"title"`
	ISBN      string  `json:"isbn,omitempty"`
	Cover     string  `json:"cover,omitempty"`
	Language  string  `json:"language"`
	SourceUID string  `json:"source_uid"`
	Format    string  `json:"format"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
}

// Paper reports whether the item requires a physical inventory reservation
func (i Item) Paper() bool {
	return i.Format == FormatPaper
}

const FormatPaper = "paper"

type Address struct {
	Country    string `json:"country"`
	Region     string `json:"region,omitempty"`
	City       string `json:"city"`
	Street     string `json:"street"`
	PostalCode string `json:"postal_code"`
}

// Payment is a local projection of the payment outcome owned by the payments service
type Payment struct {
	PaymentUID string    `json:"payment_uid"`
	Amount     float64   `json:"amount"`
	PaidOnUTC  time.Time `json:"paid_on_utc"`
}

// Order is the aggregate root. State changes go through its methods only, each method
// validates the transition and records the matching event. Events stay buffered on the
// order until DrainEvents, which the unit of work calls right before commit.
type Order struct {
	UID          string
	CustomerUID  string
	Status       Status
	OrderedOnUTC time.Time
	Items        []Item
	Address      *Address
	Payment      *Payment
	// InventoryReserved is set once the inventory hold confirmed and cleared after
	// compensation released it. It keys the compensation decision on failure.
	InventoryReserved bool
	FailureReason     string
	CreatedOnUTC      time.Time
	ModifiedOnUTC     time.Time
	Deleted           bool

	events []message.Object
}

func New(uid, customerUID string, items []Item, address *Address) (*Order, error) {
	if uid == "" {
		return nil, errors.New("order uid must not be empty")
	}

	if customerUID == "" {
		return nil, errors.New("customer uid must not be empty")
	}

	if len(items) == 0 {
		return nil, errors.New("order must contain at least one item")
	}

	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, errors.Errorf("item %s must have a positive quantity", item.BookUID)
		}
	}

	now := time.Now().UTC()

	o := &Order{
		UID:          uid,
		CustomerUID:  customerUID,
		Status:       StatusCreated,
		OrderedOnUTC: now,
		Items:        items,
		Address:      address,
		CreatedOnUTC: now,
	}

	o.raise(&CreatedEvent{
		OrderUID:    o.UID,
		CustomerUID: o.CustomerUID,
		Items:       o.Items,
		Address:     o.Address,
	})

	return o, nil
}

// MarkInventoryReserved records that the inventory hold confirmed
func (o *Order) MarkInventoryReserved() {
	o.InventoryReserved = true
	o.touch()
}

// MarkInventoryReleased records that compensation returned the hold
func (o *Order) MarkInventoryReleased() {
	o.InventoryReserved = false
	o.touch()
}

func (o *Order) BeginPaymentProcessing() error {
	return o.transition(StatusPaymentProcessing)
}

// AttachPayment stores the payment projection and moves the order to shipping
func (o *Order) AttachPayment(payment Payment) error {
	if err := o.transition(StatusShippingProcessing); err != nil {
		return err
	}

	o.Payment = &payment

	return nil
}

func (o *Order) Complete() error {
	return o.transition(StatusCompleted)
}

// Fail moves the order to its failed terminal status keeping reason for the customer
func (o *Order) Fail(reason string) error {
	if err := o.transition(StatusFailed); err != nil {
		return err
	}

	o.FailureReason = reason

	return nil
}

// Delete soft deletes the order. The row stays for audit, events of deleted orders
// are dropped by handlers.
func (o *Order) Delete() {
	o.Deleted = true
	o.touch()
}

func (o *Order) transition(next Status) error {
	if !o.Status.CanTransition(next) {
		return staleTransition(o.UID, o.Status, next)
	}

	previous := o.Status
	o.Status = next
	o.touch()

	o.raise(&StatusChangedEvent{
		OrderUID: o.UID,
		Previous: previous,
		Current:  next,
	})

	return nil
}

// DrainEvents returns the buffered events and clears the buffer. The unit of work
// appends the result to the outbox within the transaction persisting the order.
func (o *Order) DrainEvents() []message.Object {
	events := o.events
	o.events = nil

	return events
}

func (o *Order) raise(event message.Object) {
	o.events = append(o.events, event)
}

func (o *Order) touch() {
	o.ModifiedOnUTC = time.Now().UTC()
}

// Total is the amount the customer is charged
func (o *Order) Total() float64 {
	var total float64

	for _, item := range o.Items {
		total += item.UnitPrice * float64(item.Quantity)
	}

	return total
}

// PaperItems returns the items that hold physical inventory
func (o *Order) PaperItems() []Item {
	var res []Item

	for _, item := range o.Items {
		if item.Paper() {
			res = append(res, item)
		}
	}

	return res
}
