package inbox

import (
	"context"
	"database/sql"
	"time"

	"github.com/GeorgeRitchie/bookstore-orders/storage"
	"github.com/pkg/errors"
)

const (
	messagesTable  = "inbox_messages"
	consumersTable = "inbox_message_consumers"
)

// NewSQLStore creates messages tables if needed and returns the ledger bound to db
func NewSQLStore(db *sql.DB, driver storage.SQLDriver) (Store, error) {
	s := &sqlStore{db: db, driver: driver}

	if err := s.initTables(); err != nil {
		return nil, errors.Wrapf(err, "initializing %s tables", messagesTable)
	}

	return s, nil
}

type sqlStore struct {
	db     *sql.DB
	driver storage.SQLDriver
}

func (s sqlStore) Record(ctx context.Context, tx *sql.Tx, rec *Record, consumer string) (bool, error) {
	insertMsg := "INSERT IGNORE INTO " + messagesTable + " (id, occurred_on_utc, type, content) VALUES (?, ?, ?, ?);"
	insertConsumer := "INSERT IGNORE INTO " + consumersTable + " (id, name) VALUES (?, ?);"

	if s.driver == storage.PGDriver {
		insertMsg = "INSERT INTO " + messagesTable + " (id, occurred_on_utc, type, content) VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING;"
		insertConsumer = "INSERT INTO " + consumersTable + " (id, name) VALUES (?, ?) ON CONFLICT DO NOTHING;"
	}

	_, err := tx.ExecContext(ctx, s.prepQuery(insertMsg), rec.UID, rec.OccurredOnUTC, rec.Name, rec.Content)

	if err != nil {
		return false, errors.Wrapf(err, "inserting inbox record %s", rec.UID)
	}

	res, err := tx.ExecContext(ctx, s.prepQuery(insertConsumer), rec.UID, consumer)

	if err != nil {
		return false, errors.Wrapf(err, "inserting consumer mark %s for record %s", consumer, rec.UID)
	}

	affected, err := res.RowsAffected()

	if err != nil {
		return false, errors.Wrapf(err, "reading affected rows of consumer mark %s for record %s", consumer, rec.UID)
	}

	// zero affected rows means the mark exists already, the message is a redelivery
	return affected == 1, nil
}

func (s sqlStore) MarkProcessed(ctx context.Context, tx *sql.Tx, uid string) error {
	_, err := tx.ExecContext(
		ctx,
		s.prepQuery("UPDATE "+messagesTable+" SET processed_on_utc = ? WHERE id = ? AND processed_on_utc IS NULL;"),
		time.Now().UTC(),
		uid,
	)

	return errors.Wrapf(err, "stamping inbox record %s", uid)
}

func (s sqlStore) RecordError(ctx context.Context, uid string, handlingErr error) error {
	// the update matches nothing when the ledger row was rolled back together with
	// the handler, the error of that attempt is then only visible in logs
	_, err := s.db.ExecContext(
		ctx,
		s.prepQuery("UPDATE "+messagesTable+" SET error = ? WHERE id = ?;"),
		handlingErr.Error(),
		uid,
	)

	return errors.Wrapf(err, "saving handling error of record %s", uid)
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

	_, err = tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+messagesTable+` (
		id varchar(255) NOT NULL PRIMARY KEY,
		occurred_on_utc timestamp(6) NOT NULL,
		type varchar(255) NOT NULL,
		content text,
		processed_on_utc timestamp(6) NULL,
		error text
	);`)

	if err != nil {
		return s.rollback(tx, errors.WithStack(err))
	}

	_, err = tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+consumersTable+` (
		id varchar(255) NOT NULL,
		name varchar(255) NOT NULL,
		PRIMARY KEY (id, name)
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
