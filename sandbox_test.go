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
	"errors"
	"strings"
	"testing"
)

type fakeSnapshotSource struct {
	tables map[string][]map[string]any
	err    error
}

func (f *fakeSnapshotSource) TableSnapshot(ctx context.Context, table, userID string, limit int) ([]map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tables[table], nil
}

func testSandbox(source SnapshotSource) *Sandbox {
	config := &Config{SandboxRowLimit: 200, SandboxSnapshotRows: 2000}
	return NewSandbox(source, config, NewLogger(false))
}

func TestValidateSQL(t *testing.T) {
	sandbox := testSandbox(&fakeSnapshotSource{})

	tests := []struct {
		name    string
		query   string
		want    string
		wantErr string
	}{
		{
			name:  "appends limit",
			query: "SELECT kwh FROM energy_readings",
			want:  "SELECT kwh FROM energy_readings LIMIT 200",
		},
		{
			name:  "keeps existing limit",
			query: "SELECT kwh FROM energy_readings LIMIT 10",
			want:  "SELECT kwh FROM energy_readings LIMIT 10",
		},
		{
			name:  "strips trailing semicolon",
			query: "SELECT kwh FROM energy_readings;",
			want:  "SELECT kwh FROM energy_readings LIMIT 200",
		},
		{
			name:  "with clause allowed",
			query: "WITH daily AS (SELECT kwh FROM energy_readings) SELECT * FROM daily LIMIT 5",
			want:  "WITH daily AS (SELECT kwh FROM energy_readings) SELECT * FROM daily LIMIT 5",
		},
		{
			name:    "empty",
			query:   "  ; ",
			wantErr: "SQL is empty",
		},
		{
			name:    "not a select",
			query:   "PRAGMA table_info(energy_readings)",
			wantErr: "Only SELECT queries are allowed",
		},
		{
			name:    "embedded statement",
			query:   "SELECT kwh FROM energy_readings; DROP TABLE energy_readings",
			wantErr: "Forbidden SQL pattern detected",
		},
		{
			name:    "comment injection",
			query:   "SELECT kwh FROM energy_readings -- comment",
			wantErr: "Forbidden SQL pattern detected",
		},
		{
			name:    "delete keyword",
			query:   "SELECT kwh FROM energy_readings WHERE delete_flag = 1",
			wantErr: "Forbidden SQL pattern detected",
		},
		{
			name:    "unknown table",
			query:   "SELECT * FROM users",
			wantErr: "Query must reference allowed tables",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sandbox.ValidateSQL(tt.query)
			if tt.wantErr != "" {
				var sandboxErr *SandboxError
				if !errors.As(err, &sandboxErr) {
					t.Fatalf("expected SandboxError, got %v", err)
				}
				if sandboxErr.Stage != SandboxValidation {
					t.Errorf("expected validation stage, got %q", sandboxErr.Stage)
				}
				if sandboxErr.Message != tt.wantErr {
					t.Errorf("expected message %q, got %q", tt.wantErr, sandboxErr.Message)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func testReadingRows() []map[string]any {
	return []map[string]any{
		{
			"id": int64(1), "dataset_id": int64(1),
			"reading_date": "2024-01-06", "reading_time": "10:00:00",
			"reading_at": "2024-01-06T10:00:00", "kwh": 5.0, "cost": 1.6,
		},
		{
			"id": int64(2), "dataset_id": int64(1),
			"reading_date": "2024-01-08", "reading_time": "10:00:00",
			"reading_at": "2024-01-08T10:00:00", "kwh": 3.0, "cost": 0.96,
		},
	}
}

func TestSandboxExecute(t *testing.T) {
	source := &fakeSnapshotSource{tables: map[string][]map[string]any{
		ReadingsTable: testReadingRows(),
	}}
	sandbox := testSandbox(source)

	rows, err := sandbox.Execute(context.Background(),
		"SELECT reading_date, kwh FROM energy_readings ORDER BY kwh DESC LIMIT 200", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0]["reading_date"] != "2024-01-06" {
		t.Errorf("expected highest-kwh row first, got %v", rows[0]["reading_date"])
	}
	if rows[0]["kwh"] != 5.0 {
		t.Errorf("expected kwh 5.0, got %v", rows[0]["kwh"])
	}
}

func TestSandboxExecuteDateHelpers(t *testing.T) {
	source := &fakeSnapshotSource{tables: map[string][]map[string]any{
		ReadingsTable: testReadingRows(),
	}}
	sandbox := testSandbox(source)

	rows, err := sandbox.Execute(context.Background(),
		`SELECT reading_date,
			date_part('dow', reading_date) AS dow,
			to_char(reading_at, 'YYYY-MM') AS month,
			date_trunc('week', reading_at) AS week_start
		 FROM energy_readings ORDER BY reading_date LIMIT 200`, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	// 2024-01-06 is a Saturday
	if rows[0]["dow"] != 6.0 {
		t.Errorf("expected dow 6 for Saturday, got %v", rows[0]["dow"])
	}
	// 2024-01-08 is a Monday
	if rows[1]["dow"] != 1.0 {
		t.Errorf("expected dow 1 for Monday, got %v", rows[1]["dow"])
	}
	if rows[0]["month"] != "2024-01" {
		t.Errorf("expected month 2024-01, got %v", rows[0]["month"])
	}
	if rows[1]["week_start"] != "2024-01-08T00:00:00" {
		t.Errorf("expected week start 2024-01-08T00:00:00, got %v", rows[1]["week_start"])
	}
}

func TestSandboxExecuteTimestamptzRendering(t *testing.T) {
	// Snapshots of TIMESTAMPTZ columns arrive in the Postgres text
	// rendering, which carries a UTC offset suffix.
	source := &fakeSnapshotSource{tables: map[string][]map[string]any{
		ReadingsTable: {
			{
				"id": int64(1), "dataset_id": int64(1),
				"reading_date": "2024-01-06", "reading_time": "10:00:00",
				"reading_at": "2024-01-06 10:00:00+00", "kwh": 5.0, "cost": 1.6,
			},
			{
				"id": int64(2), "dataset_id": int64(1),
				"reading_date": "2024-01-08", "reading_time": "10:00:00",
				"reading_at": "2024-01-08 10:00:00+00", "kwh": 3.0, "cost": 0.96,
			},
		},
	}}
	sandbox := testSandbox(source)

	rows, err := sandbox.Execute(context.Background(),
		`SELECT to_char(reading_at, 'YYYY-MM') AS month,
			date_part('dow', reading_at) AS dow,
			date_trunc('month', reading_at) AS month_start
		 FROM energy_readings ORDER BY reading_at LIMIT 200`, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0]["month"] != "2024-01" {
		t.Errorf("expected month 2024-01, got %v", rows[0]["month"])
	}
	if rows[0]["dow"] != 6.0 {
		t.Errorf("expected dow 6 for Saturday, got %v", rows[0]["dow"])
	}
	if rows[1]["dow"] != 1.0 {
		t.Errorf("expected dow 1 for Monday, got %v", rows[1]["dow"])
	}
	if rows[0]["month_start"] != "2024-01-01T00:00:00" {
		t.Errorf("expected month start 2024-01-01T00:00:00, got %v", rows[0]["month_start"])
	}
}

func TestSandboxExecuteAggregates(t *testing.T) {
	source := &fakeSnapshotSource{tables: map[string][]map[string]any{
		ReadingsTable: testReadingRows(),
	}}
	sandbox := testSandbox(source)

	rows, err := sandbox.Execute(context.Background(),
		`SELECT SUM(kwh) AS total_kwh,
			SUM(CASE WHEN date_part('dow', reading_date) IN (0,6) THEN kwh ELSE 0 END) AS weekend_kwh
		 FROM energy_readings LIMIT 200`, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0]["total_kwh"] != 8.0 {
		t.Errorf("expected total 8.0, got %v", rows[0]["total_kwh"])
	}
	if rows[0]["weekend_kwh"] != 5.0 {
		t.Errorf("expected weekend total 5.0, got %v", rows[0]["weekend_kwh"])
	}
}

func TestSandboxExecuteEmptyTable(t *testing.T) {
	source := &fakeSnapshotSource{tables: map[string][]map[string]any{}}
	sandbox := testSandbox(source)

	rows, err := sandbox.Execute(context.Background(),
		"SELECT kwh FROM energy_readings LIMIT 200", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows, got %d", len(rows))
	}
}

func TestSandboxExecuteSnapshotFailure(t *testing.T) {
	source := &fakeSnapshotSource{err: errors.New("connection refused")}
	sandbox := testSandbox(source)

	_, err := sandbox.Execute(context.Background(),
		"SELECT kwh FROM energy_readings LIMIT 200", "user-1")
	var sandboxErr *SandboxError
	if !errors.As(err, &sandboxErr) {
		t.Fatalf("expected SandboxError, got %v", err)
	}
	if sandboxErr.Stage != SandboxExecution {
		t.Errorf("expected execution stage, got %q", sandboxErr.Stage)
	}
	if !strings.Contains(sandboxErr.Message, "energy_readings") {
		t.Errorf("expected table name in message, got %q", sandboxErr.Message)
	}
}

func TestSandboxExecuteBadQuery(t *testing.T) {
	source := &fakeSnapshotSource{tables: map[string][]map[string]any{
		ReadingsTable: testReadingRows(),
	}}
	sandbox := testSandbox(source)

	_, err := sandbox.Execute(context.Background(),
		"SELECT no_such_column FROM energy_readings LIMIT 200", "user-1")
	var sandboxErr *SandboxError
	if !errors.As(err, &sandboxErr) {
		t.Fatalf("expected SandboxError, got %v", err)
	}
	if sandboxErr.Stage != SandboxExecution {
		t.Errorf("expected execution stage, got %q", sandboxErr.Stage)
	}
}
