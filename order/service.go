package order

import (
	"context"
	"database/sql"

	"github.com/GeorgeRitchie/bookstore-orders/log"
	"github.com/GeorgeRitchie/bookstore-orders/outbox"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Service is the command side of the orders domain. Every command persists the
// aggregate and its drained events in one transaction, publishing is left to the
// outbox dispatcher so a slow broker never blocks a request.
type Service struct {
	db     *sql.DB
	store  Store
	outbox outbox.Store
	logger log.Logger
}

func NewService(db *sql.DB, store Store, outboxStore outbox.Store, logger log.Logger) *Service {
	return &Service{db: db, store: store, outbox: outboxStore, logger: logger}
}

type PlaceOrderCommand struct {
	CustomerUID string
	Items       []Item
	Address     *Address
}

func (s *Service) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (*Order, error) {
	o, err := New(uuid.New().String(), cmd.CustomerUID, cmd.Items, cmd.Address)

	if err != nil {
		return nil, errors.Wrap(err, "placing order")
	}

	tx, err := s.db.BeginTx(ctx, nil)

	if err != nil {
		return nil, errors.Wrapf(err, "beginning tx for order %s", o.UID)
	}

	if err := s.store.Create(ctx, tx, o); err != nil {
		return nil, s.rollback(tx, err)
	}

	if err := s.outbox.Append(ctx, tx, o.DrainEvents()...); err != nil {
		return nil, s.rollback(tx, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrapf(err, "committing order %s", o.UID)
	}

	s.logger.Logf(log.InfoLevel, "order %s placed by customer %s", o.UID, o.CustomerUID)

	return o, nil
}

// GetOrder loads an order for the read side. Failed orders carry FailureReason so the
// customer always sees an explanation.
func (s *Service) GetOrder(ctx context.Context, uid string) (*Order, error) {
	return s.store.Get(ctx, uid)
}

// DeleteOrder soft deletes an order keeping its rows for audit
func (s *Service) DeleteOrder(ctx context.Context, uid string) error {
	tx, err := s.db.BeginTx(ctx, nil)

	if err != nil {
		return errors.Wrapf(err, "beginning tx to delete order %s", uid)
	}

	o, err := s.store.GetByUID(ctx, tx, uid)

	if err != nil {
		return s.rollback(tx, err)
	}

	o.Delete()

	if err := s.store.Update(ctx, tx, o); err != nil {
		return s.rollback(tx, err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "committing deletion of order %s", uid)
	}

	s.logger.Logf(log.InfoLevel, "order %s deleted", uid)

	return nil
}

func (s *Service) rollback(tx *sql.Tx, err error) error {
	if rollbackErr := tx.Rollback(); rollbackErr != nil {
		return errors.Wrapf(err, "error rollback when %s", rollbackErr)
	}

	return err
}
