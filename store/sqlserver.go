package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/denisenkom/go-mssqldb"

	"github.com/Financial-Times/vsac-valueset-loader/valueset"
)

type sqlConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PingContext(ctx context.Context) error
	Close() error
}

type SQLServerWriter struct {
	db        sqlConn
	table     string
	dropSQL   string
	createSQL string
	mergeSQL  string
}

func NewSQLServerWriter(ctx context.Context, databaseURL string, table string) (*SQLServerWriter, error) {
	db, err := sql.Open("sqlserver", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open sql server connection: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sql server: %w", err)
	}
	return newSQLServerWriter(db, table), nil
}

func newSQLServerWriter(db sqlConn, table string) *SQLServerWriter {
	quotedTable := mssqlTable(table)
	return &SQLServerWriter{
		db:        db,
		table:     table,
		dropSQL:   "IF OBJECT_ID(@p1, N'U') IS NOT NULL DROP TABLE " + quotedTable,
		createSQL: mssqlCreateTable(quotedTable),
		mergeSQL:  mssqlMerge(quotedTable),
	}
}

func (w *SQLServerWriter) ResetSchema(ctx context.Context) error {
	if _, err := w.db.ExecContext(ctx, w.dropSQL, w.table); err != nil {
		return fmt.Errorf("drop table %s: %w", w.table, err)
	}
	if _, err := w.db.ExecContext(ctx, w.createSQL); err != nil {
		return fmt.Errorf("create table %s: %w", w.table, err)
	}
	return nil
}

func (w *SQLServerWriter) Upsert(ctx context.Context, concept valueset.Concept) error {
	if _, err := w.db.ExecContext(ctx, w.mergeSQL, upsertArgs(concept)...); err != nil {
		return fmt.Errorf("merge into %s: %w", w.table, err)
	}
	return nil
}

func (w *SQLServerWriter) Ping(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

func (w *SQLServerWriter) Close(_ context.Context) error {
	return w.db.Close()
}

func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func mssqlTable(table string) string {
	parts := tableParts(table)
	quoted := make([]string, 0, len(parts))
	for _, part := range parts {
		quoted = append(quoted, mssqlIdent(part))
	}
	return strings.Join(quoted, ".")
}

func mssqlCreateTable(quotedTable string) string {
	definitions := make([]string, 0, len(valueset.Columns)+1)
	for _, column := range valueset.Columns {
		columnType := "NVARCHAR(MAX)"
		if boundedColumns[column] {
			columnType = "NVARCHAR(255)"
		}
		if valueset.IsKeyColumn(column) {
			columnType += " NOT NULL"
		}
		definitions = append(definitions, mssqlIdent(column)+" "+columnType)
	}
	definitions = append(definitions, "PRIMARY KEY ("+joinQuoted(valueset.KeyColumns, mssqlIdent)+")")
	return "CREATE TABLE " + quotedTable + " (\n    " + strings.Join(definitions, ",\n    ") + "\n)"
}

// mssqlMerge builds a MERGE whose source row binds @p1..@pN in valueset.Columns order.
func mssqlMerge(quotedTable string) string {
	sourceColumns := make([]string, 0, len(valueset.Columns))
	for i, column := range valueset.Columns {
		sourceColumns = append(sourceColumns, fmt.Sprintf("@p%d AS %s", i+1, mssqlIdent(column)))
	}

	matches := make([]string, 0, len(valueset.KeyColumns))
	for _, column := range valueset.KeyColumns {
		matches = append(matches, "target."+mssqlIdent(column)+" = source."+mssqlIdent(column))
	}

	nonKey := valueset.NonKeyColumns()
	assignments := make([]string, 0, len(nonKey))
	for _, column := range nonKey {
		assignments = append(assignments, mssqlIdent(column)+" = source."+mssqlIdent(column))
	}

	insertValues := make([]string, 0, len(valueset.Columns))
	for _, column := range valueset.Columns {
		insertValues = append(insertValues, "source."+mssqlIdent(column))
	}

	return "MERGE " + quotedTable + " AS target\n" +
		"USING (SELECT " + strings.Join(sourceColumns, ", ") + ") AS source\n" +
		"ON " + strings.Join(matches, " AND ") + "\n" +
		"WHEN MATCHED THEN\n    UPDATE SET " + strings.Join(assignments, ", ") + "\n" +
		"WHEN NOT MATCHED THEN\n    INSERT (" + joinQuoted(valueset.Columns, mssqlIdent) + ")\n" +
		"    VALUES (" + strings.Join(insertValues, ", ") + ");"
}
