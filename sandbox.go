// Copyright 2025 Baraa Fadhloun
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	_ "modernc.org/sqlite"
)

var forbiddenSQLPatterns = regexp.MustCompile(
	`(?i);|--|/\*|\x00|commit|rollback|insert|update|delete|drop|create|alter|grant|revoke|truncate|call`,
)

var sandboxTables = []string{DatasetsTable, ReadingsTable}

// Column layouts of the sandbox tables. Snapshot rows are projected onto
// these columns in order; anything else a stored row carries is dropped.
var sandboxSchemas = map[string][][2]string{
	DatasetsTable: {
		{"id", "INTEGER"},
		{"original_filename", "TEXT"},
		{"uploaded_at", "TEXT"},
		{"total_kwh", "REAL"},
		{"total_cost", "REAL"},
		{"total_co2", "REAL"},
		{"row_count", "INTEGER"},
		{"summary_json", "TEXT"},
		{"fingerprint", "TEXT"},
	},
	ReadingsTable: {
		{"id", "INTEGER"},
		{"dataset_id", "INTEGER"},
		{"reading_date", "TEXT"},
		{"reading_time", "TEXT"},
		{"reading_at", "TEXT"},
		{"kwh", "REAL"},
		{"cost", "REAL"},
	},
}

// SnapshotSource provides per-user table snapshots for the sandbox
type SnapshotSource interface {
	TableSnapshot(ctx context.Context, table, userID string, limit int) ([]map[string]any, error)
}

// Sandbox validates generated SQL and executes it against a throwaway
// in-memory SQLite database seeded with the caller's own rows.
type Sandbox struct {
	source   SnapshotSource
	logger   *Logger
	rowLimit int
	snapshot int
}

// NewSandbox creates a sandbox backed by the given snapshot source
func NewSandbox(source SnapshotSource, config *Config, logger *Logger) *Sandbox {
	return &Sandbox{
		source:   source,
		logger:   logger.WithComponent("sandbox"),
		rowLimit: config.SandboxRowLimit,
		snapshot: config.SandboxSnapshotRows,
	}
}

// ValidateSQL normalizes a generated query and rejects anything that is
// not a plain read against the sandbox tables. A LIMIT clause is appended
// when the query has none.
func (s *Sandbox) ValidateSQL(query string) (string, error) {
	query = strings.Trim(strings.TrimSpace(query), ";")
	if query == "" {
		return "", &SandboxError{Stage: SandboxValidation, Message: "SQL is empty"}
	}

	lowered := strings.ToLower(query)
	if !strings.HasPrefix(lowered, "select") && !strings.HasPrefix(lowered, "with") {
		return "", &SandboxError{Stage: SandboxValidation, Message: "Only SELECT queries are allowed"}
	}
	if forbiddenSQLPatterns.MatchString(query) {
		return "", &SandboxError{Stage: SandboxValidation, Message: "Forbidden SQL pattern detected"}
	}

	mentionsTable := false
	for _, table := range sandboxTables {
		if strings.Contains(lowered, table) {
			mentionsTable = true
			break
		}
	}
	if !mentionsTable {
		return "", &SandboxError{Stage: SandboxValidation, Message: "Query must reference allowed tables"}
	}

	if !strings.Contains(lowered, "limit") {
		query = fmt.Sprintf("%s LIMIT %d", query, s.rowLimit)
	}
	return query, nil
}

// Execute runs a validated query against an in-memory database seeded
// with the user's rows for every table the query mentions.
func (s *Sandbox) Execute(ctx context.Context, query, userID string) ([]map[string]any, error) {
	lowered := strings.ToLower(query)
	var needed []string
	for _, table := range sandboxTables {
		if strings.Contains(lowered, table) {
			needed = append(needed, table)
		}
	}
	if len(needed) == 0 {
		needed = sandboxTables
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, &SandboxError{Stage: SandboxExecution, Message: "Unable to evaluate the request", Err: err}
	}
	defer db.Close()
	// A second pool connection would see a fresh empty database
	db.SetMaxOpenConns(1)

	for _, table := range needed {
		rows, err := s.source.TableSnapshot(ctx, table, userID, s.snapshot)
		if err != nil {
			return nil, &SandboxError{Stage: SandboxExecution, Message: fmt.Sprintf("Unable to load data from %s", table), Err: err}
		}
		if err := loadSandboxTable(ctx, db, table, rows); err != nil {
			return nil, &SandboxError{Stage: SandboxExecution, Message: "Unable to evaluate the request", Err: err}
		}
	}

	results, err := queryToMaps(ctx, db, query)
	if err != nil {
		return nil, &SandboxError{Stage: SandboxExecution, Message: "Unable to evaluate the request", Err: err}
	}

	s.logger.LogSandboxQuery(query, len(results))
	return results, nil
}

func loadSandboxTable(ctx context.Context, db *sql.DB, table string, rows []map[string]any) error {
	schema := sandboxSchemas[table]

	columnDefs := make([]string, 0, len(schema))
	columnNames := make([]string, 0, len(schema))
	placeholders := make([]string, 0, len(schema))
	for _, column := range schema {
		columnDefs = append(columnDefs, column[0]+" "+column[1])
		columnNames = append(columnNames, column[0])
		placeholders = append(placeholders, "?")
	}

	createStmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(columnDefs, ", "))
	if _, err := db.ExecContext(ctx, createStmt); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	insertStmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columnNames, ", "), strings.Join(placeholders, ","))
	stmt, err := db.PrepareContext(ctx, insertStmt)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		values := make([]any, 0, len(columnNames))
		for _, name := range columnNames {
			values = append(values, row[name])
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return err
		}
	}
	return nil
}

func queryToMaps(ctx context.Context, db *sql.DB, query string) ([]map[string]any, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		record := make(map[string]any, len(columns))
		for i, name := range columns {
			value := values[i]
			if raw, ok := value.([]byte); ok {
				value = string(raw)
			}
			record[name] = value
		}
		results = append(results, record)
	}
	return results, rows.Err()
}
