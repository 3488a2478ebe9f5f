package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Financial-Times/vsac-valueset-loader/valueset"
)

// Health check pings take a pooled connection of their own while the load runs.
const maxPoolConns = 4

type pgConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

type PostgresWriter struct {
	conn      pgConn
	table     string
	dropSQL   string
	createSQL string
	upsertSQL string
}

func NewPostgresWriter(ctx context.Context, databaseURL string, table string) (*PostgresWriter, error) {
	cfg, err := poolConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newPostgresWriter(pool, table), nil
}

func poolConfig(databaseURL string) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	cfg.MaxConns = maxPoolConns
	cfg.MinConns = 1
	return cfg, nil
}

func newPostgresWriter(conn pgConn, table string) *PostgresWriter {
	quotedTable := pgx.Identifier(tableParts(table)).Sanitize()
	return &PostgresWriter{
		conn:      conn,
		table:     table,
		dropSQL:   "DROP TABLE IF EXISTS " + quotedTable,
		createSQL: postgresCreateTable(quotedTable),
		upsertSQL: postgresUpsert(quotedTable),
	}
}

func (w *PostgresWriter) ResetSchema(ctx context.Context) error {
	if _, err := w.conn.Exec(ctx, w.dropSQL); err != nil {
		return fmt.Errorf("drop table %s: %w", w.table, err)
	}
	if _, err := w.conn.Exec(ctx, w.createSQL); err != nil {
		return fmt.Errorf("create table %s: %w", w.table, err)
	}
	return nil
}

func (w *PostgresWriter) Upsert(ctx context.Context, concept valueset.Concept) error {
	if _, err := w.conn.Exec(ctx, w.upsertSQL, upsertArgs(concept)...); err != nil {
		return fmt.Errorf("upsert into %s: %w", w.table, err)
	}
	return nil
}

func (w *PostgresWriter) Ping(ctx context.Context) error {
	return w.conn.Ping(ctx)
}

func (w *PostgresWriter) Close(_ context.Context) error {
	w.conn.Close()
	return nil
}

func pgIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func postgresCreateTable(quotedTable string) string {
	definitions := make([]string, 0, len(valueset.Columns)+1)
	for _, column := range valueset.Columns {
		columnType := "TEXT"
		if boundedColumns[column] {
			columnType = "VARCHAR(255)"
		}
		if valueset.IsKeyColumn(column) {
			columnType += " NOT NULL"
		}
		definitions = append(definitions, pgIdent(column)+" "+columnType)
	}
	definitions = append(definitions, "PRIMARY KEY ("+joinQuoted(valueset.KeyColumns, pgIdent)+")")
	return "CREATE TABLE " + quotedTable + " (\n    " + strings.Join(definitions, ",\n    ") + "\n)"
}

// postgresUpsert builds INSERT ... ON CONFLICT with one $n placeholder per column, in
// valueset.Columns order.
func postgresUpsert(quotedTable string) string {
	placeholders := make([]string, len(valueset.Columns))
	for i := range valueset.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	nonKey := valueset.NonKeyColumns()
	assignments := make([]string, 0, len(nonKey))
	for _, column := range nonKey {
		assignments = append(assignments, pgIdent(column)+" = EXCLUDED."+pgIdent(column))
	}

	return "INSERT INTO " + quotedTable + " (" + joinQuoted(valueset.Columns, pgIdent) + ")\n" +
		"VALUES (" + strings.Join(placeholders, ", ") + ")\n" +
		"ON CONFLICT (" + joinQuoted(valueset.KeyColumns, pgIdent) + ") DO UPDATE SET\n    " +
		strings.Join(assignments, ",\n    ")
}

func joinQuoted(columns []string, quote func(string) string) string {
	quoted := make([]string, 0, len(columns))
	for _, column := range columns {
		quoted = append(quoted, quote(column))
	}
	return strings.Join(quoted, ", ")
}
