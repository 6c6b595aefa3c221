// Copyright 2025 Baraa Fadhloun
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with domain-specific methods
type Logger struct {
	*slog.Logger
}

// NewLogger creates a text-formatted logger
func NewLogger(debug bool) *Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	handler := slog.NewTextHandler(os.Stderr, opts)
	return &Logger{slog.New(handler)}
}

// NewJSONLogger creates a JSON-formatted logger
func NewJSONLogger(debug bool) *Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	handler := slog.NewJSONHandler(os.Stderr, opts)
	return &Logger{slog.New(handler)}
}

// WithComponent adds a component field to the logger
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{l.With("component", component)}
}

// WithUserID adds a masked user ID field to the logger
func (l *Logger) WithUserID(userID string) *Logger {
	masked := userID
	if len(userID) > 5 {
		masked = userID[:5] + "***"
	}
	return &Logger{l.With("user_id", masked)}
}

// LogIngestion logs a completed dataset ingestion
func (l *Logger) LogIngestion(filename string, rows, dropped int) {
	l.Info("Dataset ingested",
		"filename", filename,
		"rows", rows,
		"dropped", dropped,
	)
}

// LogAnalysisStage logs analysis stage completion
func (l *Logger) LogAnalysisStage(stage string) {
	l.Info("Analysis stage completed",
		"stage", stage,
	)
}

// LogSandboxQuery logs an executed sandbox query
func (l *Logger) LogSandboxQuery(sql string, rows int) {
	l.Debug("Sandbox query executed",
		"sql", sql,
		"rows", rows,
	)
}

// LogStorageOperation logs storage operations
func (l *Logger) LogStorageOperation(operation string, datasetID int64) {
	l.Debug("Storage operation",
		"operation", operation,
		"dataset_id", datasetID,
	)
}

// LogReasoningCall logs a call to the reasoning service
func (l *Logger) LogReasoningCall(purpose, model string) {
	l.Debug("Reasoning request",
		"purpose", purpose,
		"model", model,
	)
}
