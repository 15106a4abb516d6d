package inbox

import (
	"context"
	"database/sql"

	"github.com/GeorgeRitchie/bookstore-orders/log"
	"github.com/GeorgeRitchie/bookstore-orders/pubsub/endpoint"
	"github.com/GeorgeRitchie/bookstore-orders/pubsub/message"
	"github.com/GeorgeRitchie/bookstore-orders/pubsub/transport"
	"github.com/GeorgeRitchie/bookstore-orders/storage/mutex"
	storagesql "github.com/GeorgeRitchie/bookstore-orders/storage/sql"
	"github.com/pkg/errors"
)

// Aggregate is implemented by payloads that belong to one order. The uid keys the
// distributed lock, so messages of different orders are processed concurrently while
// messages of one order are serialized.
type Aggregate interface {
	AggregateUID() string
}

// DropErr marks a handler error as final. The message gets its ledger stamp and an
// acknowledgment instead of a redelivery, the error is only logged and saved on the row.
type DropErr struct {
	error
}

func WithDropErr(err error) error {
	return DropErr{err}
}

// Receiver glues the transport to the inbox. For every delivery it opens one
// transaction holding the dedup guard, the handler's effects and any follow up outbox
// records, all committed together under the order's lock. Returning an error makes the
// subscriber negatively acknowledge the package, so the broker delivers it again.
type Receiver struct {
	decoder    message.Decoder
	marshaller message.Marshaller
	db         *storagesql.DB
	store      Store
	registry   HandlerRegistry
	mutex      mutex.Mutex
	consumer   string
	logger     log.Logger
	returns    endpoint.Endpoint
	maxReturns int
}

type ReceiverOpt func(r *Receiver)

// WithReturns republishes a message whose handler failed back through returnsEndpoint
// instead of leaving redelivery to the broker. Every return increments the returnsCount
// header, a message failing past maxReturns is acknowledged with only its recorded
// error left behind, so a poisoned message can't occupy the queue forever.
func WithReturns(returnsEndpoint endpoint.Endpoint, maxReturns int) ReceiverOpt {
	return func(r *Receiver) {
		r.returns = returnsEndpoint
		r.maxReturns = maxReturns
	}
}

func NewReceiver(
	decoder message.Decoder,
	marshaller message.Marshaller,
	db *storagesql.DB,
	store Store,
	registry HandlerRegistry,
	mutex mutex.Mutex,
	consumer string,
	logger log.Logger,
	opts ...ReceiverOpt,
) *Receiver {
	r := &Receiver{
		decoder:    decoder,
		marshaller: marshaller,
		db:         db,
		store:      store,
		registry:   registry,
		mutex:      mutex,
		consumer:   consumer,
		logger:     logger,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *Receiver) Process(ctx context.Context, inPkg transport.IncomingPkg) error {
	msg, err := r.decoder.Decode(inPkg)

	if err != nil {
		if _, ok := err.(message.DecoderErr); ok {
			// a payload that can't be decoded won't decode on redelivery either
			r.logger.Logf(log.ErrorLevel, "dropping undecodable package from %s: %s", inPkg.Origin(), err)
			return nil
		}

		return errors.WithStack(err)
	}

	payload := msg.Payload()

	logger := r.logger.WithFields(log.Fields{
		"uid":  msg.UID(),
		"type": payload.GroupKind().String(),
	})

	keyed, ok := payload.(Aggregate)

	if !ok {
		logger.Log(log.ErrorLevel, "dropping message, payload has no order uid")
		return nil
	}

	handler := r.registry.Handler(payload)

	if handler == nil {
		logger.Log(log.WarnLevel, "dropping message, no handler registered for its type")
		return nil
	}

	orderUID := keyed.AggregateUID()

	if err := r.mutex.Lock(ctx, orderUID); err != nil {
		return errors.Wrapf(err, "locking order %s", orderUID)
	}

	defer func() {
		if err := r.mutex.Release(ctx, orderUID); err != nil {
			logger.Logf(log.ErrorLevel, "releasing lock of order %s: %s", orderUID, err)
		}
	}()

	return r.handle(ctx, msg, handler, orderUID, logger)
}

func (r *Receiver) handle(ctx context.Context, msg *message.ReceivedMessage, handler Handler, orderUID string, logger log.Logger) error {
	conn, err := r.db.Conn(ctx, orderUID, false)

	if err != nil {
		return errors.Wrapf(err, "obtaining a connection for order %s", orderUID)
	}

	defer func() {
		if err := conn.Close(false); err != nil {
			logger.Logf(log.ErrorLevel, "closing connection of order %s: %s", orderUID, err)
		}
	}()

	tx, err := conn.BeginTx(ctx, nil)

	if err != nil {
		return errors.Wrapf(err, "beginning tx for message %s", msg.UID())
	}

	content, err := r.marshaller.Marshal(msg.Payload())

	if err != nil {
		return r.rollback(tx, errors.Wrapf(err, "marshaling payload of message %s for the ledger", msg.UID()))
	}

	rec := &Record{
		UID:           msg.UID(),
		OccurredOnUTC: msg.OccurredAt(),
		Name:          msg.Payload().GroupKind().String(),
		Content:       content,
	}

	fresh, err := r.store.Record(ctx, tx, rec, r.consumer)

	if err != nil {
		return r.rollback(tx, errors.WithStack(err))
	}

	if !fresh {
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "committing after duplicate message %s", msg.UID())
		}

		logger.Log(log.DebugLevel, "acknowledging redelivered message without effects")

		return nil
	}

	if handlerErr := handler(ctx, tx, msg); handlerErr != nil {
		if _, dropped := handlerErr.(DropErr); dropped {
			return r.drop(ctx, tx, msg.UID(), handlerErr, logger)
		}

		err := r.rollback(tx, handlerErr)

		if recordingErr := r.store.RecordError(ctx, msg.UID(), handlerErr); recordingErr != nil {
			logger.Logf(log.ErrorLevel, "saving handling error: %s", recordingErr)
		}

		if r.returns == nil {
			return errors.WithStack(err)
		}

		return r.returnMsg(ctx, msg, err, logger)
	}

	if err := r.store.MarkProcessed(ctx, tx, msg.UID()); err != nil {
		return r.rollback(tx, errors.WithStack(err))
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "committing effects of message %s", msg.UID())
	}

	return nil
}

// drop commits the stamped ledger row without the handler's effects, so the broker's
// redelivery of the same message becomes a no-op. Handlers returning WithDropErr must
// do so before executing any writes in tx.
func (r *Receiver) drop(ctx context.Context, tx *sql.Tx, uid string, handlerErr error, logger log.Logger) error {
	logger.Logf(log.WarnLevel, "dropping message: %s", handlerErr)

	if err := r.store.MarkProcessed(ctx, tx, uid); err != nil {
		return r.rollback(tx, errors.WithStack(err))
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "committing ledger row of dropped message %s", uid)
	}

	if err := r.store.RecordError(ctx, uid, handlerErr); err != nil {
		logger.Logf(log.ErrorLevel, "saving handling error: %s", err)
	}

	return nil
}

// returnMsg sends the failed message back through the returns endpoint and acknowledges
// the original delivery. The republished message keeps its uid, and its effects were
// rolled back without a ledger row, so the next attempt starts from a clean slate. When
// the endpoint itself fails the message falls back to broker redelivery.
func (r *Receiver) returnMsg(ctx context.Context, msg *message.ReceivedMessage, handlerErr error, logger log.Logger) error {
	headers := msg.Headers()

	if headers.ReturnsCount() >= r.maxReturns {
		logger.Logf(log.ErrorLevel, "abandoning message after %d returns: %s", headers.ReturnsCount(), handlerErr)
		return nil
	}

	headers.RegisterReturn()

	if sendErr := r.returns.Send(ctx, message.FromReceivedMsg(msg)); sendErr != nil {
		logger.Logf(log.ErrorLevel, "returning message to the queue: %s", sendErr)
		return errors.WithStack(handlerErr)
	}

	logger.Logf(log.WarnLevel, "returned message to the queue, attempt %d of %d: %s", headers.ReturnsCount(), r.maxReturns, handlerErr)

	return nil
}

func (r *Receiver) rollback(tx *sql.Tx, err error) error {
	if rollbackErr := tx.Rollback(); rollbackErr != nil {
		return errors.Wrapf(err, "error rollback when %s", rollbackErr)
	}

	return err
}
