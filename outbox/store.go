package outbox

import (
	"context"
	"database/sql"

	"github.com/GeorgeRitchie/bookstore-orders/pubsub/message"
)

// Store is the outbox ledger. Append runs inside the caller's transaction, so an event
// row exists iff the state change that raised it was committed. The remaining methods
// are used by the relay and run on their own connections.
type Store interface {
	// Append serializes events and inserts one ledger row per event within tx
	Append(ctx context.Context, tx *sql.Tx, events ...message.Object) error
	// FetchPending returns the oldest unprocessed records with their consumer marks
	FetchPending(ctx context.Context, limit int) ([]*Record, error)
	// MarkConsumed records that consumer confirmed the message and closes the record
	// once all totalConsumers confirmed it
	MarkConsumed(ctx context.Context, uid, consumer string, totalConsumers int) error
	// RecordError saves the last delivery error of a record without closing it
	RecordError(ctx context.Context, uid string, deliveryErr error) error
}
