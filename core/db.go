package core

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// DB is the subset of *sqlx.DB used by the sqlx repositories.
type DB interface {
	sqlx.ExtContext

	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	PingContext(ctx context.Context) error
}

var _ DB = (*sqlx.DB)(nil)

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}
