package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom bulk-inserts rows into a schema-qualified table using the COPY protocol.
func CopyFrom(ctx context.Context, pool Pool, schema, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := pool.CopyFrom(ctx, pgx.Identifier{schema, table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s.%s", schema, table)
	}
	return n, nil
}

// CopyStream bulk-inserts rows produced by next until it reports no more rows.
// next returns (row, true, nil) for each row and (nil, false, nil) at the end.
func CopyStream(ctx context.Context, pool Pool, schema, table string, columns []string, next func() ([]any, bool, error)) (int64, error) {
	var srcErr error
	src := pgx.CopyFromFunc(func() ([]any, error) {
		row, ok, err := next()
		if err != nil {
			srcErr = err
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return row, nil
	})

	n, err := pool.CopyFrom(ctx, pgx.Identifier{schema, table}, columns, src)
	if srcErr != nil {
		return n, eris.Wrapf(srcErr, "db: COPY INTO %s.%s: source", schema, table)
	}
	if err != nil {
		return n, eris.Wrapf(err, "db: COPY INTO %s.%s", schema, table)
	}
	return n, nil
}
