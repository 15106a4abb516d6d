package outbox

import (
	"context"
	"database/sql"
	"time"

	"github.com/GeorgeRitchie/bookstore-orders/pubsub/message"
	"github.com/GeorgeRitchie/bookstore-orders/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	messagesTable  = "outbox_messages"
	consumersTable = "outbox_message_consumers"
)

// NewSQLStore creates messages tables if needed and returns the ledger bound to db
func NewSQLStore(db *sql.DB, driver storage.SQLDriver, marshaller message.Marshaller) (Store, error) {
	s := &sqlStore{db: db, driver: driver, marshaller: marshaller}

	if err := s.initTables(); err != nil {
		return nil, errors.Wrapf(err, "initializing %s tables", messagesTable)
	}

	return s, nil
}

type sqlStore struct {
	db         *sql.DB
	driver     storage.SQLDriver
	marshaller message.Marshaller
}

func (s sqlStore) Append(ctx context.Context, tx *sql.Tx, events ...message.Object) error {
	for _, event := range events {
		payload, err := s.marshaller.Marshal(event)

		if err != nil {
			return errors.Wrapf(err, "marshaling event %s", event.GroupKind().String())
		}

		_, err = tx.ExecContext(
			ctx,
			s.prepQuery("INSERT INTO "+messagesTable+" (id, occurred_on_utc, type, content) VALUES (?, ?, ?, ?);"),
			uuid.New().String(),
			time.Now().UTC(),
			event.GroupKind().String(),
			payload,
		)

		if err != nil {
			return errors.Wrapf(err, "inserting outbox record for event %s", event.GroupKind().String())
		}
	}

	return nil
}

func (s sqlStore) FetchPending(ctx context.Context, limit int) ([]*Record, error) {
	rows, err := s.db.QueryContext(
		ctx,
		s.prepQuery(`SELECT m.id, m.occurred_on_utc, m.type, m.content, m.error, c.name
			FROM (
				SELECT id, occurred_on_utc, type, content, error
				FROM `+messagesTable+`
				WHERE processed_on_utc IS NULL
				ORDER BY occurred_on_utc ASC
				LIMIT ?
			) m
			LEFT JOIN `+consumersTable+` c ON c.id = m.id
			ORDER BY m.occurred_on_utc ASC;`),
		limit,
	)

	if err != nil {
		return nil, errors.Wrap(err, "querying pending outbox records")
	}

	defer rows.Close()

	var (
		res   []*Record
		index = make(map[string]*Record)
	)

	for rows.Next() {
		var (
			rec      Record
			errMsg   sql.NullString
			consumer sql.NullString
		)

		if err := rows.Scan(&rec.UID, &rec.OccurredOnUTC, &rec.Name, &rec.Content, &errMsg, &consumer); err != nil {
			return nil, errors.Wrap(err, "scanning outbox record")
		}

		existing, ok := index[rec.UID]

		if !ok {
			rec.Error = errMsg.String
			existing = &rec
			index[rec.UID] = existing
			res = append(res, existing)
		}

		if consumer.Valid {
			existing.Consumers = append(existing.Consumers, consumer.String)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating pending outbox records")
	}

	return res, nil
}

func (s sqlStore) MarkConsumed(ctx context.Context, uid, consumer string, totalConsumers int) error {
	tx, err := s.db.BeginTx(ctx, nil)

	if err != nil {
		return errors.Wrapf(err, "beginning tx to mark record %s consumed by %s", uid, consumer)
	}

	insertQuery := "INSERT IGNORE INTO " + consumersTable + " (id, name) VALUES (?, ?);"
	if s.driver == storage.PGDriver {
		insertQuery = "INSERT INTO " + consumersTable + " (id, name) VALUES (?, ?) ON CONFLICT DO NOTHING;"
	}

	if _, err := tx.ExecContext(ctx, s.prepQuery(insertQuery), uid, consumer); err != nil {
		return s.rollback(tx, errors.Wrapf(err, "inserting consumer mark %s for record %s", consumer, uid))
	}

	var marked int

	err = tx.
		QueryRowContext(ctx, s.prepQuery("SELECT COUNT(*) FROM "+consumersTable+" WHERE id = ?;"), uid).
		Scan(&marked)

	if err != nil {
		return s.rollback(tx, errors.Wrapf(err, "counting consumer marks of record %s", uid))
	}

	if marked >= totalConsumers {
		_, err := tx.ExecContext(
			ctx,
			s.prepQuery("UPDATE "+messagesTable+" SET processed_on_utc = ? WHERE id = ? AND processed_on_utc IS NULL;"),
			time.Now().UTC(),
			uid,
		)

		if err != nil {
			return s.rollback(tx, errors.Wrapf(err, "closing outbox record %s", uid))
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "committing consumer mark %s for record %s", consumer, uid)
	}

	return nil
}

func (s sqlStore) RecordError(ctx context.Context, uid string, deliveryErr error) error {
	_, err := s.db.ExecContext(
		ctx,
		s.prepQuery("UPDATE "+messagesTable+" SET error = ? WHERE id = ?;"),
		deliveryErr.Error(),
		uid,
	)

	return errors.Wrapf(err, "saving delivery error of record %s", uid)
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
