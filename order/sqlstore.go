package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/GeorgeRitchie/bookstore-orders/storage"
	"github.com/pkg/errors"
)

const (
	ordersTable = "orders"
	itemsTable  = "order_items"
)

// NewSQLStore creates order tables if needed and returns the store bound to db
func NewSQLStore(db *sql.DB, driver storage.SQLDriver) (Store, error) {
	s := &sqlStore{db: db, driver: driver}

	if err := s.initTables(); err != nil {
		return nil, errors.Wrapf(err, "initializing %s tables", ordersTable)
	}

	return s, nil
}

type sqlStore struct {
	db     *sql.DB
	driver storage.SQLDriver
}

// querier is implemented by *sql.DB and *sql.Tx
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s sqlStore) Create(ctx context.Context, tx *sql.Tx, o *Order) error {
	address, payment, err := marshalProjections(o)

	if err != nil {
		return errors.Wrapf(err, "serializing projections of order %s", o.UID)
	}

	_, err = tx.ExecContext(
		ctx,
		s.prepQuery("INSERT INTO "+ordersTable+
			" (uid, customer_uid, status, ordered_on_utc, address, payment, inventory_reserved, failure_reason, created_on_utc, modified_on_utc, deleted)"+
			" VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);"),
		o.UID,
		o.CustomerUID,
		string(o.Status),
		o.OrderedOnUTC,
		address,
		payment,
		o.InventoryReserved,
		o.FailureReason,
		o.CreatedOnUTC,
		nullableTime(o.ModifiedOnUTC),
		o.Deleted,
	)

	if err != nil {
		return errors.Wrapf(err, "inserting order %s", o.UID)
	}

	for _, item := range o.Items {
		_, err := tx.ExecContext(
			ctx,
			s.prepQuery("INSERT INTO "+itemsTable+
				" (order_uid, book_uid, title, isbn, cover, language, source_uid, format, unit_price, quantity)"+
				" VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);"),
			o.UID,
			item.BookUID,
			item.Title,
			item.ISBN,
			item.Cover,
			item.Language,
			item.SourceUID,
			item.Format,
			item.UnitPrice,
			item.Quantity,
		)

		if err != nil {
			return errors.Wrapf(err, "inserting item %s of order %s", item.BookUID, o.UID)
		}
	}

	return nil
}

func (s sqlStore) Update(ctx context.Context, tx *sql.Tx, o *Order) error {
	address, payment, err := marshalProjections(o)

	if err != nil {
		return errors.Wrapf(err, "serializing projections of order %s", o.UID)
	}

	res, err := tx.ExecContext(
		ctx,
		s.prepQuery("UPDATE "+ordersTable+
			" SET status = ?, address = ?, payment = ?, inventory_reserved = ?, failure_reason = ?, modified_on_utc = ?, deleted = ?"+
			" WHERE uid = ?;"),
		string(o.Status),
		address,
		payment,
		o.InventoryReserved,
		o.FailureReason,
		nullableTime(o.ModifiedOnUTC),
		o.Deleted,
		o.UID,
	)

	if err != nil {
		return errors.Wrapf(err, "updating order %s", o.UID)
	}

	affected, err := res.RowsAffected()

	if err != nil {
		return errors.Wrapf(err, "reading affected rows of order %s update", o.UID)
	}

	if affected == 0 {
		return errors.Wrapf(ErrNotFound, "updating order %s", o.UID)
	}

	return nil
}

func (s sqlStore) GetByUID(ctx context.Context, tx *sql.Tx, uid string) (*Order, error) {
	return s.get(ctx, tx, uid)
}

func (s sqlStore) Get(ctx context.Context, uid string) (*Order, error) {
	return s.get(ctx, s.db, uid)
}

func (s sqlStore) get(ctx context.Context, q querier, uid string) (*Order, error) {
	var (
		o          Order
		status     string
		address    sql.NullString
		payment    sql.NullString
		failure    sql.NullString
		modifiedOn sql.NullTime
	)

	err := q.QueryRowContext(
		ctx,
		s.prepQuery("SELECT uid, customer_uid, status, ordered_on_utc, address, payment, inventory_reserved, failure_reason, created_on_utc, modified_on_utc"+
			" FROM "+ordersTable+" WHERE uid = ? AND deleted = false;"),
		uid,
	).Scan(&o.UID, &o.CustomerUID, &status, &o.OrderedOnUTC, &address, &payment, &o.InventoryReserved, &failure, &o.CreatedOnUTC, &modifiedOn)

	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "loading order %s", uid)
	}

	if err != nil {
		return nil, errors.Wrapf(err, "loading order %s", uid)
	}

	o.Status = Status(status)
	o.FailureReason = failure.String

	if modifiedOn.Valid {
		o.ModifiedOnUTC = modifiedOn.Time
	}

	if address.Valid && address.String != "" {
		o.Address = &Address{}
		if err := json.Unmarshal([]byte(address.String), o.Address); err != nil {
			return nil, errors.Wrapf(err, "deserializing address of order %s", uid)
		}
	}

	if payment.Valid && payment.String != "" {
		o.Payment = &Payment{}
		if err := json.Unmarshal([]byte(payment.String), o.Payment); err != nil {
			return nil, errors.Wrapf(err, "deserializing payment of order %s", uid)
		}
	}

	items, err := s.loadItems(ctx, q, uid)

	if err != nil {
		return nil, err
	}

	o.Items = items

	return &o, nil
}

func (s sqlStore) loadItems(ctx context.Context, q querier, orderUID string) ([]Item, error) {
	rows, err := q.QueryContext(
		ctx,
		s.prepQuery("SELECT book_uid, title, isbn, cover, language, source_uid, format, unit_price, quantity"+
			" FROM "+itemsTable+" WHERE order_uid = ? ORDER BY book_uid ASC;"),
		orderUID,
	)

	if err != nil {
		return nil, errors.Wrapf(err, "loading items of order %s", orderUID)
	}

	defer rows.Close()

	var items []Item

	for rows.Next() {
		var item Item

		err := rows.Scan(
			&item.BookUID,
			&item.Title,
			&item.ISBN,
			&item.Cover,
			&item.Language,
			&item.SourceUID,
			&item.Format,
			&item.UnitPrice,
			&item.Quantity,
		)

		if err != nil {
			return nil, errors.Wrapf(err, "scanning item of order %s", orderUID)
		}

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "iterating items of order %s", orderUID)
	}

	return items, nil
}

func (s sqlStore) rollback(tx *sql.Tx, err error) error {
	if rollbackErr := tx.Rollback(); rollbackErr != nil {
		return errors.Wrapf(err, "error rollback when %s", rollbackErr)
	}

	return err
}

func (s sqlStore) initTables() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)

	if err != nil {
		return errors.WithStack(err)
	}

	_, err = tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+ordersTable+` (
		uid varchar(255) NOT NULL PRIMARY KEY,
		customer_uid varchar(255) NOT NULL,
		status varchar(32) NOT NULL,
		ordered_on_utc timestamp(6) NOT NULL,
		address text,
		payment text,
		inventory_reserved boolean NOT NULL DEFAULT false,
		failure_reason text,
		created_on_utc timestamp(6) NOT NULL,
		modified_on_utc timestamp(6) NULL,
		deleted boolean NOT NULL DEFAULT false
	);`)

	if err != nil {
		return s.rollback(tx, errors.WithStack(err))
	}

	_, err = tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+itemsTable+` (
		order_uid varchar(255) NOT NULL,
		book_uid varchar(255) NOT NULL,
		title varchar(255) NOT NULL,
		isbn varchar(32),
		cover varchar(255),
		language varchar(32),
		source_uid varchar(255),
		format varchar(32),
		unit_price double precision,
		quantity int,
		PRIMARY KEY (order_uid, book_uid)
	);`)

	if err != nil {
		return s.rollback(tx, errors.WithStack(err))
	}

	if err := tx.Commit(); err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (s sqlStore) prepQuery(query string) string {
	return storage.PrepQuery(s.driver, query)
}

func marshalProjections(o *Order) (address, payment interface{}, err error) {
	if o.Address != nil {
		b, err := json.Marshal(o.Address)
		if err != nil {
			return nil, nil, errors.WithStack(err)
		}
		address = string(b)
	}

	if o.Payment != nil {
		b, err := json.Marshal(o.Payment)
		if err != nil {
			return nil, nil, errors.WithStack(err)
		}
		payment = string(b)
	}

	return address, payment, nil
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}

	return t
}
