package inbox

import (
	"context"
	"database/sql"
)

// Store is the inbox ledger. Record and MarkProcessed run inside the caller's
// transaction so the idempotency guard commits or rolls back together with the
// handler's state changes.
type Store interface {
	// Record inserts the ledger row and the consumer mark for rec within tx.
	// It returns false when consumer already holds a mark for rec, meaning the
	// message was processed before and must be acknowledged without effects.
	Record(ctx context.Context, tx *sql.Tx, rec *Record, consumer string) (bool, error)
	// MarkProcessed stamps the ledger row once the handler finished
	MarkProcessed(ctx context.Context, tx *sql.Tx, uid string) error
	// RecordError saves the last handling error of a row without closing it.
	// It runs on its own connection so it survives the handler's rollback.
	RecordError(ctx context.Context, uid string, handlingErr error) error
}
