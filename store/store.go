package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/Financial-Times/vsac-valueset-loader/valueset"
)

const DefaultTable = "ValueSetConcepts_VSAC"

// Writer persists concepts into a table keyed by (ValueSetOID, Code).
type Writer interface {
	// ResetSchema drops the concept table if it exists and creates it empty.
	ResetSchema(ctx context.Context) error
	// Upsert overwrites the non-key columns of the row with the concept's key, or inserts it.
	Upsert(ctx context.Context, concept valueset.Concept) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Open connects to the database behind databaseURL. The dialect follows the URL scheme:
// postgres:// and postgresql:// use pgx, sqlserver:// uses go-mssqldb.
func Open(ctx context.Context, databaseURL string, table string) (Writer, error) {
	if table == "" {
		table = DefaultTable
	}
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		writer, err := NewPostgresWriter(ctx, databaseURL, table)
		if err != nil {
			return nil, err
		}
		return writer, nil
	case "sqlserver":
		writer, err := NewSQLServerWriter(ctx, databaseURL, table)
		if err != nil {
			return nil, err
		}
		return writer, nil
	default:
		return nil, fmt.Errorf("unsupported database url scheme %q", parsed.Scheme)
	}
}

// boundedColumns hold identifiers rather than free text and get a length limit.
var boundedColumns = map[string]bool{
	valueset.ColumnCode:        true,
	valueset.ColumnValueSetOID: true,
	valueset.ColumnCodeSystem:  true,
}

func tableParts(table string) []string {
	parts := strings.Split(table, ".")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func upsertArgs(concept valueset.Concept) []any {
	values := concept.Values()
	args := make([]any, 0, len(values))
	for _, value := range values {
		args = append(args, value)
	}
	return args
}
