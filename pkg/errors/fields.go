package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// LogFields flattens err into structured log fields: its code, the unwrap
// chain and, for Postgres failures, the server-reported diagnostics.
func LogFields(err error) map[string]any {
	if err == nil {
		return map[string]any{}
	}
	fields := map[string]any{"error_code": CodeOf(err)}

	var chain []string
	for e := err; e != nil; e = stdErrors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T: %v", e, e))
	}
	fields["error_chain"] = chain

	if pg := postgresFields(err); pg != nil {
		for k, v := range pg {
			fields[k] = v
		}
	}
	return fields
}

func postgresFields(err error) map[string]any {
	var pgxErr *pgconn.PgError
	if stdErrors.As(err, &pgxErr) {
		return map[string]any{
			"pg_code":       pgxErr.Code,
			"pg_message":    pgxErr.Message,
			"pg_detail":     pgxErr.Detail,
			"pg_table":      pgxErr.TableName,
			"pg_column":     pgxErr.ColumnName,
			"pg_constraint": pgxErr.ConstraintName,
		}
	}
	var pqErr *pq.Error
	if stdErrors.As(err, &pqErr) {
		return map[string]any{
			"pg_code":       string(pqErr.Code),
			"pg_message":    pqErr.Message,
			"pg_detail":     pqErr.Detail,
			"pg_table":      pqErr.Table,
			"pg_column":     pqErr.Column,
			"pg_constraint": pqErr.Constraint,
		}
	}
	return nil
}
