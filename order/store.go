package order

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when no live order exists for a uid. Soft deleted orders
// count as not found.
var ErrNotFound = errors.New("order not found")

// Store persists orders. Create, Update and GetByUID run inside the caller's
// transaction so aggregate changes commit together with their ledger rows. Get serves
// reads outside of any saga flow.
type Store interface {
	Create(ctx context.Context, tx *sql.Tx, o *Order) error
	Update(ctx context.Context, tx *sql.Tx, o *Order) error
	GetByUID(ctx context.Context, tx *sql.Tx, uid string) (*Order, error)
	Get(ctx context.Context, uid string) (*Order, error)
}
