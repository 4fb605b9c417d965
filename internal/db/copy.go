package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Table parses "schema.table" or "table" into an identifier.
func Table(name string) pgx.Identifier {
	if schema, table, ok := strings.Cut(name, "."); ok {
		return pgx.Identifier{schema, table}
	}
	return pgx.Identifier{name}
}

// Copier is the COPY half of a pool or transaction.
type Copier interface {
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// CopyFrom bulk-inserts rows into a possibly schema-qualified table using the
// COPY protocol, batchSize rows at a time (0 = one batch).
func CopyFrom(ctx context.Context, pool Copier, table string, columns []string, rows [][]any, batchSize int) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = len(rows)
	}

	var total int64
	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))
		n, err := pool.CopyFrom(ctx, Table(table), columns, pgx.CopyFromRows(rows[start:end]))
		if err != nil {
			return total, eris.Wrapf(err, "db: COPY INTO %s (rows %d-%d)", table, start, end)
		}
		total += n
	}
	return total, nil
}
