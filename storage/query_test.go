package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrepQuery(t *testing.T) {
	query := "INSERT INTO outbox_messages (id, type) VALUES (?, ?);"

	assert.Equal(t, query, PrepQuery(MYSQLDriver, query))
	assert.Equal(
		t,
		"INSERT INTO outbox_messages (id, type) VALUES ($1, $2);",
		PrepQuery(PGDriver, query),
	)

	assert.Equal(t, "SELECT 1;", PrepQuery(PGDriver, "SELECT 1;"))

	assert.Equal(
		t,
		"SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11;",
		PrepQuery(PGDriver, "SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?;"),
	)
}
