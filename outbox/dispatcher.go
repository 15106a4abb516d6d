package outbox

import (
	"context"
	"time"

	"github.com/GeorgeRitchie/bookstore-orders/log"
	"github.com/GeorgeRitchie/bookstore-orders/pubsub/endpoint"
	"github.com/GeorgeRitchie/bookstore-orders/pubsub/message"
	"github.com/pkg/errors"
)

// DispatcherConfig tunes the relay loop
type DispatcherConfig struct {
	// PollInterval is the pause between ledger polls
	PollInterval time.Duration
	// BatchSize limits how many pending records one poll picks up
	BatchSize int
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		PollInterval: time.Second * 2,
		BatchSize:    20,
	}
}

// Dispatcher is the relay half of the outbox. It polls the ledger for records without
// a processed mark, publishes each one to the endpoints routed for its payload type and
// marks the record per endpoint. Publishing is at least once: a crash between Send and
// MarkConsumed makes the next poll publish the same record again with the same uid.
type Dispatcher interface {
	// Run blocks polling the ledger until ctx is canceled
	Run(ctx context.Context) error
	// Dispatch runs a single poll cycle
	Dispatch(ctx context.Context) error
}

func NewDispatcher(store Store, router endpoint.Router, marshaller message.Marshaller, config DispatcherConfig, logger log.Logger) Dispatcher {
	return &dispatcher{
		store:      store,
		router:     router,
		marshaller: marshaller,
		config:     config,
		logger:     logger,
	}
}

type dispatcher struct {
	store      Store
	router     endpoint.Router
	marshaller message.Marshaller
	config     DispatcherConfig
	logger     log.Logger
}

func (d *dispatcher) Run(ctx context.Context) error {
	d.logger.Logf(log.InfoLevel, "outbox dispatcher started. poll interval %s, batch size %d", d.config.PollInterval, d.config.BatchSize)

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Log(log.InfoLevel, "outbox dispatcher stopped")
			return nil
		case <-ticker.C:
			if err := d.Dispatch(ctx); err != nil {
				if ctx.Err() != nil {
					d.logger.Log(log.InfoLevel, "outbox dispatcher stopped")
					return nil
				}

				d.logger.Logf(log.ErrorLevel, "dispatching outbox records: %s", err)
			}
		}
	}
}

func (d *dispatcher) Dispatch(ctx context.Context) error {
	records, err := d.store.FetchPending(ctx, d.config.BatchSize)

	if err != nil {
		return errors.Wrap(err, "fetching pending records")
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return errors.WithStack(err)
		}

		if err := d.dispatchRecord(ctx, rec); err != nil {
			d.logger.Logf(log.ErrorLevel, "dispatching record %s: %s", rec.UID, err)

			if recordingErr := d.store.RecordError(ctx, rec.UID, err); recordingErr != nil {
				d.logger.Logf(log.ErrorLevel, "saving delivery error of record %s: %s", rec.UID, recordingErr)
			}
		}
	}

	return nil
}

func (d *dispatcher) dispatchRecord(ctx context.Context, rec *Record) error {
	payload, err := d.marshaller.Unmarshal(rec.Content)

	if err != nil {
		return errors.Wrapf(err, "unmarshaling content of type %s", rec.Name)
	}

	endpoints := d.router.Route(payload)

	if len(endpoints) == 0 {
		return errors.Errorf("no endpoints registered for type %s", rec.Name)
	}

	// the wire uid equals the ledger uid, so receivers can deduplicate redeliveries
	msg := message.NewOutcomingMessage(
		payload,
		message.WithUID(rec.UID),
		message.WithOccurredAt(rec.OccurredOnUTC),
	)

	for _, ep := range endpoints {
		if rec.ConsumedBy(ep.Name()) {
			continue
		}

		if err := ep.Send(ctx, msg); err != nil {
			return errors.Wrapf(err, "sending record to endpoint %s", ep.Name())
		}

		if err := d.store.MarkConsumed(ctx, rec.UID, ep.Name(), len(endpoints)); err != nil {
			return errors.Wrapf(err, "marking record consumed by %s", ep.Name())
		}

		d.logger.Logf(log.DebugLevel, "record %s of type %s sent to %s", rec.UID, rec.Name, ep.Name())
	}

	return nil
}
