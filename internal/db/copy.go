package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyRows bulk-inserts items into table with the COPY protocol. row maps an
// item to its column values, in the order of columns.
func CopyRows[T any](ctx context.Context, pool Pool, table string, columns []string, items []T, row func(i int, item T) []any) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}

	src := pgx.CopyFromSlice(len(items), func(i int) ([]any, error) {
		return row(i, items[i]), nil
	})
	n, err := pool.CopyFrom(ctx, pgx.Identifier{table}, columns, src)
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}
	if n != int64(len(items)) {
		return n, eris.Errorf("db: COPY INTO %s wrote %d of %d rows", table, n, len(items))
	}
	return n, nil
}
