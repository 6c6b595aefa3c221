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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is what the HTTP layer needs from persistent storage
type Store interface {
	StoreDataset(ctx context.Context, originalFilename string, readings []Reading, summary Summary, userID string) (int64, error)
	LatestSummary(ctx context.Context, userID string) (*Summary, error)
	DatasetHistory(ctx context.Context, limit int, userID string) ([]DatasetRecord, error)
	DatasetDetail(ctx context.Context, datasetID int64, userID string) (*DatasetDetail, error)
	DeleteDataset(ctx context.Context, datasetID int64, userID string) error
	TableSnapshot(ctx context.Context, table, userID string, limit int) ([]map[string]any, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS energy_datasets (
	id BIGSERIAL PRIMARY KEY,
	original_filename TEXT NOT NULL,
	uploaded_at TIMESTAMPTZ NOT NULL,
	total_kwh DOUBLE PRECISION NOT NULL,
	total_cost DOUBLE PRECISION NOT NULL,
	total_co2 DOUBLE PRECISION NOT NULL,
	row_count INTEGER NOT NULL,
	summary_json JSONB,
	fingerprint TEXT NOT NULL,
	user_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_energy_datasets_user_uploaded
	ON energy_datasets (user_id, uploaded_at DESC);
CREATE INDEX IF NOT EXISTS idx_energy_datasets_user_fingerprint
	ON energy_datasets (user_id, fingerprint);
CREATE TABLE IF NOT EXISTS energy_readings (
	id BIGSERIAL PRIMARY KEY,
	dataset_id BIGINT NOT NULL REFERENCES energy_datasets(id),
	reading_date DATE NOT NULL,
	reading_time TEXT,
	reading_at TIMESTAMPTZ NOT NULL,
	kwh DOUBLE PRECISION NOT NULL,
	cost DOUBLE PRECISION NOT NULL,
	user_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_energy_readings_dataset
	ON energy_readings (dataset_id);
CREATE INDEX IF NOT EXISTS idx_energy_readings_user
	ON energy_readings (user_id);
`

// PostgresStore persists datasets and readings in PostgreSQL
type PostgresStore struct {
	pool   *pgxpool.Pool
	config *Config
	logger *Logger
}

// NewPostgresStore connects to the configured database and ensures the
// schema exists.
func NewPostgresStore(ctx context.Context, config *Config, logger *Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, config.DatabaseURL)
	if err != nil {
		return nil, &StorageError{Kind: StorageInternal, Op: "connect", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &StorageError{Kind: StorageInternal, Op: "ping", Err: err}
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, &StorageError{Kind: StorageInternal, Op: "ensure_schema", Err: err}
	}
	return &PostgresStore{
		pool:   pool,
		config: config,
		logger: logger.WithComponent("storage"),
	}, nil
}

// Close releases the connection pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// ComputeFingerprint hashes the reading tuples so identical uploads can
// be detected regardless of filename.
func ComputeFingerprint(readings []Reading) string {
	payload := make([][]any, 0, len(readings))
	for _, r := range readings {
		payload = append(payload, []any{
			r.ReadingAt.Format("2006-01-02T15:04:05"),
			round6(r.Kwh),
			round6(r.CostValue()),
		})
	}
	serialized, _ := json.Marshal(payload)
	digest := sha256.Sum256(serialized)
	return hex.EncodeToString(digest[:])
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// StoreDataset persists a dataset with its readings in one transaction.
// A dataset with the same fingerprint for the same user is rejected as a
// duplicate.
func (s *PostgresStore) StoreDataset(ctx context.Context, originalFilename string, readings []Reading, summary Summary, userID string) (int64, error) {
	fingerprint := ComputeFingerprint(readings)

	var totalKwh, totalCost float64
	for _, r := range readings {
		totalKwh += r.Kwh
		totalCost += r.CostValue()
	}
	totalCO2 := totalKwh * s.config.CO2FactorKgPerKwh

	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return 0, &StorageError{Kind: StorageInternal, Op: "encode_summary", Err: err}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, &StorageError{Kind: StorageInternal, Op: "begin", Err: err}
	}
	defer tx.Rollback(ctx)

	var existing int64
	err = tx.QueryRow(ctx,
		`SELECT id FROM energy_datasets WHERE fingerprint = $1 AND user_id = $2 LIMIT 1`,
		fingerprint, userID,
	).Scan(&existing)
	if err == nil {
		return 0, &StorageError{Kind: StorageDuplicate, Op: "store_dataset"}
	}
	if err != pgx.ErrNoRows {
		return 0, &StorageError{Kind: StorageInternal, Op: "check_duplicate", Err: err}
	}

	var datasetID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO energy_datasets
			(original_filename, uploaded_at, total_kwh, total_cost, total_co2, row_count, summary_json, fingerprint, user_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		originalFilename, time.Now().UTC(), totalKwh, totalCost, totalCO2,
		len(readings), summaryJSON, fingerprint, userID,
	).Scan(&datasetID)
	if err != nil {
		return 0, &StorageError{Kind: StorageInternal, Op: "insert_dataset", Err: err}
	}

	rows := make([][]any, 0, len(readings))
	for _, r := range readings {
		rows = append(rows, []any{
			datasetID,
			r.ReadingDate(),
			r.ReadingAt.Format("15:04:05"),
			r.ReadingAt,
			r.Kwh,
			r.CostValue(),
			userID,
		})
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"energy_readings"},
		[]string{"dataset_id", "reading_date", "reading_time", "reading_at", "kwh", "cost", "user_id"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, &StorageError{Kind: StorageInternal, Op: "insert_readings", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, &StorageError{Kind: StorageInternal, Op: "commit", Err: err}
	}

	s.logger.LogStorageOperation("store_dataset", datasetID)
	return datasetID, nil
}

// LatestSummary returns the most recently uploaded summary, or nil when
// the user has no datasets.
func (s *PostgresStore) LatestSummary(ctx context.Context, userID string) (*Summary, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT summary_json FROM energy_datasets
		 WHERE user_id = $1
		 ORDER BY uploaded_at DESC
		 LIMIT 1`,
		userID,
	).Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Kind: StorageInternal, Op: "latest_summary", Err: err}
	}
	if len(payload) == 0 {
		return nil, nil
	}

	var summary Summary
	if err := json.Unmarshal(payload, &summary); err != nil {
		return nil, &StorageError{Kind: StorageInternal, Op: "decode_summary", Err: err}
	}
	return &summary, nil
}

// DatasetHistory lists the user's datasets, newest first
func (s *PostgresStore) DatasetHistory(ctx context.Context, limit int, userID string) ([]DatasetRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, original_filename, uploaded_at::text, total_kwh, total_cost, total_co2, row_count
		 FROM energy_datasets
		 WHERE user_id = $1
		 ORDER BY uploaded_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, &StorageError{Kind: StorageInternal, Op: "dataset_history", Err: err}
	}
	defer rows.Close()

	records := []DatasetRecord{}
	for rows.Next() {
		var record DatasetRecord
		if err := rows.Scan(&record.ID, &record.OriginalFilename, &record.UploadedAt,
			&record.TotalKwh, &record.TotalCost, &record.TotalCO2, &record.RowCount); err != nil {
			return nil, &StorageError{Kind: StorageInternal, Op: "dataset_history", Err: err}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Kind: StorageInternal, Op: "dataset_history", Err: err}
	}
	return records, nil
}

// DatasetDetail loads one dataset with its stored summary and readings
func (s *PostgresStore) DatasetDetail(ctx context.Context, datasetID int64, userID string) (*DatasetDetail, error) {
	var record DatasetRecord
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, original_filename, uploaded_at::text, total_kwh, total_cost, total_co2, row_count, summary_json
		 FROM energy_datasets
		 WHERE id = $1 AND user_id = $2`,
		datasetID, userID,
	).Scan(&record.ID, &record.OriginalFilename, &record.UploadedAt,
		&record.TotalKwh, &record.TotalCost, &record.TotalCO2, &record.RowCount, &payload)
	if err == pgx.ErrNoRows {
		return nil, &StorageError{Kind: StorageNotFound, Op: "dataset_detail", Err: fmt.Errorf("dataset not found")}
	}
	if err != nil {
		return nil, &StorageError{Kind: StorageInternal, Op: "dataset_detail", Err: err}
	}

	var summary Summary
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &summary); err != nil {
			return nil, &StorageError{Kind: StorageInternal, Op: "decode_summary", Err: err}
		}
	}
	if summary.Recommendations == nil {
		summary.Recommendations = []Recommendation{}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT reading_date::text, reading_time, reading_at::text, kwh, cost
		 FROM energy_readings
		 WHERE dataset_id = $1 AND user_id = $2
		 ORDER BY reading_date`,
		datasetID, userID,
	)
	if err != nil {
		return nil, &StorageError{Kind: StorageInternal, Op: "dataset_readings", Err: err}
	}
	defer rows.Close()

	readings := []ReadingRecord{}
	for rows.Next() {
		var reading ReadingRecord
		if err := rows.Scan(&reading.ReadingDate, &reading.ReadingTime, &reading.ReadingAt,
			&reading.Kwh, &reading.Cost); err != nil {
			return nil, &StorageError{Kind: StorageInternal, Op: "dataset_readings", Err: err}
		}
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Kind: StorageInternal, Op: "dataset_readings", Err: err}
	}

	return &DatasetDetail{Dataset: record, Summary: summary, Readings: readings}, nil
}

// DeleteDataset removes a dataset and all its readings
func (s *PostgresStore) DeleteDataset(ctx context.Context, datasetID int64, userID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &StorageError{Kind: StorageInternal, Op: "begin", Err: err}
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM energy_readings WHERE dataset_id = $1 AND user_id = $2`,
		datasetID, userID,
	); err != nil {
		return &StorageError{Kind: StorageInternal, Op: "delete_readings", Err: err}
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM energy_datasets WHERE id = $1 AND user_id = $2`,
		datasetID, userID,
	)
	if err != nil {
		return &StorageError{Kind: StorageInternal, Op: "delete_dataset", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &StorageError{Kind: StorageNotFound, Op: "delete_dataset", Err: fmt.Errorf("dataset not found")}
	}

	if err := tx.Commit(ctx); err != nil {
		return &StorageError{Kind: StorageInternal, Op: "commit", Err: err}
	}

	s.logger.LogStorageOperation("delete_dataset", datasetID)
	return nil
}

// TableSnapshot loads a user's rows from one of the sandbox tables,
// projected onto the sandbox column layout. Timestamps are cast to text
// so the sandbox date helpers can parse them.
func (s *PostgresStore) TableSnapshot(ctx context.Context, table, userID string, limit int) ([]map[string]any, error) {
	var query string
	switch table {
	case DatasetsTable:
		query = `SELECT id, original_filename, uploaded_at::text, total_kwh, total_cost, total_co2, row_count, summary_json::text, fingerprint
			 FROM energy_datasets WHERE user_id = $1 LIMIT $2`
	case ReadingsTable:
		query = `SELECT id, dataset_id, reading_date::text, reading_time, reading_at::text, kwh, cost
			 FROM energy_readings WHERE user_id = $1 LIMIT $2`
	default:
		return nil, &StorageError{Kind: StorageInternal, Op: "table_snapshot", Err: fmt.Errorf("unknown table %s", table)}
	}

	rows, err := s.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, &StorageError{Kind: StorageInternal, Op: "table_snapshot", Err: err}
	}
	defer rows.Close()

	columns := make([]string, 0, len(rows.FieldDescriptions()))
	for _, field := range rows.FieldDescriptions() {
		columns = append(columns, field.Name)
	}

	snapshot := []map[string]any{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, &StorageError{Kind: StorageInternal, Op: "table_snapshot", Err: err}
		}
		record := make(map[string]any, len(columns))
		for i, name := range columns {
			record[name] = values[i]
		}
		snapshot = append(snapshot, record)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Kind: StorageInternal, Op: "table_snapshot", Err: err}
	}
	return snapshot, nil
}
