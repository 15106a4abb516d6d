package mutex

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/GeorgeRitchie/bookstore-orders/storage"
	"github.com/pkg/errors"
)

func NewSQLMutex(db *sql.DB, driver storage.SQLDriver) Mutex {
	if driver == storage.MYSQLDriver {
		return &mysqlMutex{db: db, connections: make(map[string]*sql.Conn)}
	}
	return &pgsqlMutex{db: db, connections: make(map[string]*sql.Conn)}
}

type mysqlMutex struct {
	db          *sql.DB
	mapLock     sync.Mutex
	connections map[string]*sql.Conn
}

func (m *mysqlMutex) Lock(ctx context.Context, orderUID string) error {
	conn, err := m.db.Conn(ctx)

	if err != nil {
		return WithMutexErr(errors.Wrapf(err, "obtaining a connection from pool for order %s", orderUID))
	}

	r := sql.NullInt64{}
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, -1);", orderUID).Scan(&r); err != nil {
		closingErr := conn.Close()
		return WithMutexErr(errors.Wrapf(err, "acquiring lock for order %s. %s", orderUID, closingErr))
	}

	/*
		Returns 1 if the lock was obtained successfully,
		0 if the attempt timed out (for example, because another client has previously locked the name),
		or NULL if an error occurred.
	*/
	if r.Int64 == 1 {
		// GET_LOCK passed, other clients won't be able to pass that point, it's safe to write the map
		m.mapLock.Lock()
		defer m.mapLock.Unlock()

		m.connections[orderUID] = conn

		return nil
	}

	closingErr := conn.Close()

	return WithMutexErr(errors.Errorf("got 0 when acquiring lock for order %s. %s", orderUID, closingErr))
}

func (m *mysqlMutex) Release(ctx context.Context, orderUID string) error {
	m.mapLock.Lock()
	conn, exists := m.connections[orderUID]
	if !exists {
		m.mapLock.Unlock()
		return WithMutexErr(errors.Errorf("connection which acquired the lock is not found in runtime map. Was Release() called after processing a message?"))
	}

	r := sql.NullInt64{}
	if err := conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?);", orderUID).Scan(&r); err != nil {
		closingErr := conn.Close()
		return WithMutexErr(errors.Wrapf(err, "releasing lock for order %s. %s", orderUID, closingErr))
	}

	if r.Int64 != 1 {
		closingErr := conn.Close()
		return WithMutexErr(errors.Errorf("lock was not established by this thread for order %s. %s", orderUID, closingErr))
	}

	delete(m.connections, orderUID)
	m.mapLock.Unlock()

	if err := conn.Close(); err != nil {
		return WithMutexErr(errors.Wrapf(err, "closing connection of order's %s mutex", orderUID))
	}

	return nil
}

type pgsqlMutex struct {
	db          *sql.DB
	mapLock     sync.Mutex
	connections map[string]*sql.Conn
}

func (p *pgsqlMutex) Lock(ctx context.Context, orderUID string) error {
	var (
		conn *sql.Conn
		err  error
	)

	retries := 3

	// database/sql with pg sometimes returns a connection which is closed already,
	// see https://github.com/golang/go/issues/32530. Ping and retry before giving up.
	for i := 0; i < retries; i++ {
		conn, err = p.db.Conn(ctx)

		if err != nil {
			return WithMutexErr(errors.Wrapf(err, "obtaining a connection from pool for order %s", orderUID))
		}

		if err := conn.PingContext(ctx); err != nil {
			if i < retries-1 {
				continue
			}
		}

		break
	}

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock(hashtext($1));`, orderUID); err != nil {
		errMsg := fmt.Sprintf("acquiring lock for order %s. %s", orderUID, err)

		if closingErr := conn.Close(); closingErr != nil {
			errMsg = fmt.Sprintf("%s. also failed to close connection %s", errMsg, closingErr.Error())
		}
		return WithMutexErr(errors.New(errMsg))
	}

	p.mapLock.Lock()
	defer p.mapLock.Unlock()

	p.connections[orderUID] = conn

	return nil
}

func (p *pgsqlMutex) Release(ctx context.Context, orderUID string) error {
	p.mapLock.Lock()
	defer p.mapLock.Unlock()

	conn, exists := p.connections[orderUID]
	if !exists {
		return WithMutexErr(errors.Errorf("connection which acquired the lock is not found in runtime map. Was Release() called after processing a message?"))
	}

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock(hashtext($1));", orderUID); err != nil {
		closingErr := conn.Close()
		return WithMutexErr(errors.Wrapf(err, "releasing lock for order %s. %s", orderUID, closingErr))
	}

	delete(p.connections, orderUID)

	if err := conn.Close(); err != nil {
		return WithMutexErr(errors.Wrapf(err, "closing mutex connection of order %s", orderUID))
	}

	return nil
}
