package storage

const (
	MYSQLDriver SQLDriver = "mysql"
	PGDriver    SQLDriver = "pg"
)

// SQLDriver selects placeholder syntax and lock primitives of the underlying database.
// The driver param exists because of https://github.com/golang/go/issues/3602.
type SQLDriver string
