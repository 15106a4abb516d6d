package order

import (
	"context"
	"database/sql"

	"github.com/GeorgeRitchie/bookstore-orders/inbox"
	"github.com/GeorgeRitchie/bookstore-orders/log"
	"github.com/GeorgeRitchie/bookstore-orders/outbox"
	"github.com/GeorgeRitchie/bookstore-orders/pubsub/message"
	"github.com/pkg/errors"
)

// Saga drives an order through payment and shipment. It reacts to the service's own
// events and to integration events of the payments and shipments services, the stored
// status is the only source of truth for which transitions are still valid. Events
// that no longer apply are dropped, not retried.
type Saga struct {
	store     Store
	outbox    outbox.Store
	inventory InventoryClient
	logger    log.Logger
}

func NewSaga(store Store, outboxStore outbox.Store, inventory InventoryClient, logger log.Logger) *Saga {
	return &Saga{store: store, outbox: outboxStore, inventory: inventory, logger: logger}
}

func (s *Saga) RegisterHandlers(registry inbox.HandlerRegistry) {
	registry.Register(&CreatedEvent{}, s.handleCreated)
	registry.Register(&StatusChangedEvent{}, s.handleStatusChanged)
	registry.Register(&PaymentSucceededEvent{}, s.handlePaymentSucceeded)
	registry.Register(&PaymentFailedEvent{}, s.handlePaymentFailed)
	registry.Register(&ShipmentCompletedEvent{}, s.handleShipmentCompleted)
	registry.Register(&ShipmentFailedEvent{}, s.handleShipmentFailed)
}

// handleCreated reserves paper book inventory and moves the order to payment. A
// reservation refusal or timeout fails the order, nothing was reserved yet so no
// compensation is needed on this path.
func (s *Saga) handleCreated(ctx context.Context, tx *sql.Tx, msg *message.ReceivedMessage) error {
	event, ok := msg.Payload().(*CreatedEvent)

	if !ok {
		return errors.Errorf("unexpected payload type %T", msg.Payload())
	}

	o, err := s.load(ctx, tx, event.OrderUID)

	if err != nil {
		return err
	}

	if o.Status != StatusCreated {
		return inbox.WithDropErr(errors.Errorf("order %s already is %s", o.UID, o.Status))
	}

	paperItems := o.PaperItems()

	if len(paperItems) > 0 {
		if err := s.inventory.DecreasePaperBookQuantity(ctx, o.UID, paperItems); err != nil {
			s.logger.Logf(log.WarnLevel, "inventory reservation for order %s failed: %s", o.UID, err)

			if failErr := o.Fail(errors.Cause(err).Error()); failErr != nil {
				return dropIfStale(failErr)
			}

			return s.apply(ctx, tx, o)
		}

		o.MarkInventoryReserved()
	}

	if err := o.BeginPaymentProcessing(); err != nil {
		return dropIfStale(err)
	}

	return s.apply(ctx, tx, o)
}

// handleStatusChanged turns saga transitions into integration events. The handler
// checks the stored status against the event, a mismatch means the order moved on and
// the event is dropped.
func (s *Saga) handleStatusChanged(ctx context.Context, tx *sql.Tx, msg *message.ReceivedMessage) error {
	event, ok := msg.Payload().(*StatusChangedEvent)

	if !ok {
		return errors.Errorf("unexpected payload type %T", msg.Payload())
	}

	o, err := s.load(ctx, tx, event.OrderUID)

	if err != nil {
		return err
	}

	if o.Status != event.Current {
		return inbox.WithDropErr(errors.Errorf("order %s is %s, not %s anymore", o.UID, o.Status, event.Current))
	}

	switch event.Current {
	case StatusPaymentProcessing:
		return s.outbox.Append(ctx, tx, &PaymentRequestedEvent{
			OrderUID:    o.UID,
			CustomerUID: o.CustomerUID,
			Amount:      o.Total(),
			Items:       o.Items,
		})
	case StatusShippingProcessing:
		return s.outbox.Append(ctx, tx, &ShipmentRequestedEvent{
			OrderUID:    o.UID,
			CustomerUID: o.CustomerUID,
			Address:     o.Address,
			Items:       o.Items,
		})
	case StatusCompleted:
		return s.outbox.Append(ctx, tx, &CompletedEvent{
			OrderUID:    o.UID,
			CustomerUID: o.CustomerUID,
			Items:       o.Items,
		})
	case StatusFailed:
		return s.compensate(ctx, tx, o)
	}

	return nil
}

func (s *Saga) handlePaymentSucceeded(ctx context.Context, tx *sql.Tx, msg *message.ReceivedMessage) error {
	event, ok := msg.Payload().(*PaymentSucceededEvent)

	if !ok {
		return errors.Errorf("unexpected payload type %T", msg.Payload())
	}

	o, err := s.load(ctx, tx, event.OrderUID)

	if err != nil {
		return err
	}

	err = o.AttachPayment(Payment{
		PaymentUID: event.PaymentUID,
		Amount:     event.Amount,
		PaidOnUTC:  event.PaidOnUTC,
	})

	if err != nil {
		return dropIfStale(err)
	}

	return s.apply(ctx, tx, o)
}

func (s *Saga) handlePaymentFailed(ctx context.Context, tx *sql.Tx, msg *message.ReceivedMessage) error {
	event, ok := msg.Payload().(*PaymentFailedEvent)

	if !ok {
		return errors.Errorf("unexpected payload type %T", msg.Payload())
	}

	return s.fail(ctx, tx, event.OrderUID, StatusPaymentProcessing, "payment failed: "+event.Reason)
}

func (s *Saga) handleShipmentCompleted(ctx context.Context, tx *sql.Tx, msg *message.ReceivedMessage) error {
	event, ok := msg.Payload().(*ShipmentCompletedEvent)

	if !ok {
		return errors.Errorf("unexpected payload type %T", msg.Payload())
	}

	o, err := s.load(ctx, tx, event.OrderUID)

	if err != nil {
		return err
	}

	if err := o.Complete(); err != nil {
		return dropIfStale(err)
	}

	return s.apply(ctx, tx, o)
}

func (s *Saga) handleShipmentFailed(ctx context.Context, tx *sql.Tx, msg *message.ReceivedMessage) error {
	event, ok := msg.Payload().(*ShipmentFailedEvent)

	if !ok {
		return errors.Errorf("unexpected payload type %T", msg.Payload())
	}

	return s.fail(ctx, tx, event.OrderUID, StatusShippingProcessing, "shipment failed: "+event.Reason)
}

func (s *Saga) fail(ctx context.Context, tx *sql.Tx, orderUID string, expected Status, reason string) error {
	o, err := s.load(ctx, tx, orderUID)

	if err != nil {
		return err
	}

	if o.Status != expected {
		return inbox.WithDropErr(errors.Errorf("order %s is %s, not %s anymore", o.UID, o.Status, expected))
	}

	if err := o.Fail(reason); err != nil {
		return dropIfStale(err)
	}

	s.logger.Logf(log.InfoLevel, "order %s failed: %s", o.UID, reason)

	return s.apply(ctx, tx, o)
}

// compensate returns the inventory hold of a failed order. The reservation committed
// in the catalog service already, so this is a new idempotent call, not a rollback.
// An error keeps the triggering message unacknowledged, redelivery retries the call
// independently of the rest of the saga.
func (s *Saga) compensate(ctx context.Context, tx *sql.Tx, o *Order) error {
	if !o.InventoryReserved {
		return nil
	}

	if err := s.inventory.IncreasePaperBookQuantity(ctx, o.UID, o.PaperItems()); err != nil {
		return errors.Wrapf(err, "releasing inventory of failed order %s", o.UID)
	}

	o.MarkInventoryReleased()

	s.logger.Logf(log.InfoLevel, "inventory of failed order %s released", o.UID)

	return s.apply(ctx, tx, o)
}

// apply persists the order and appends its drained events within tx
func (s *Saga) apply(ctx context.Context, tx *sql.Tx, o *Order) error {
	if err := s.store.Update(ctx, tx, o); err != nil {
		return err
	}

	events := o.DrainEvents()

	if len(events) == 0 {
		return nil
	}

	return s.outbox.Append(ctx, tx, events...)
}

func (s *Saga) load(ctx context.Context, tx *sql.Tx, orderUID string) (*Order, error) {
	o, err := s.store.GetByUID(ctx, tx, orderUID)

	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return nil, inbox.WithDropErr(errors.Wrapf(err, "order %s is unknown or deleted", orderUID))
		}

		return nil, err
	}

	return o, nil
}

func dropIfStale(err error) error {
	if _, ok := err.(StaleTransitionErr); ok {
		return inbox.WithDropErr(err)
	}

	return err
}
