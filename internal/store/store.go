package store

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"lifeline/pkg/types"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// Schema is the DDL for every table this package reads or writes.
//
//go:embed schema.sql
var Schema string

func psql() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

func returning(columns []string) string {
	return "RETURNING " + strings.Join(columns, ", ")
}

// unavailable marks a driver failure as retryable for callers.
func unavailable(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", msg, types.ErrStoreUnavailable, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
