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
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChatAgent answers questions about a user's energy data. It asks the
// reasoning service for a read-only query, runs it in the sandbox and
// has the service compose a final answer over the results.
type ChatAgent struct {
	client   ReasoningClient
	sandbox  *Sandbox
	logger   *Logger
	rowLimit int
}

// NewChatAgent creates a chat agent. The client may be nil when the
// reasoning service is not configured.
func NewChatAgent(client ReasoningClient, sandbox *Sandbox, config *Config, logger *Logger) *ChatAgent {
	return &ChatAgent{
		client:   client,
		sandbox:  sandbox,
		logger:   logger.WithComponent("agent"),
		rowLimit: config.SandboxRowLimit,
	}
}

// Run executes one full agent turn for the given user
func (a *ChatAgent) Run(ctx context.Context, question string, history []ChatMessage, userID string) (*ChatResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("user context is required for chat analysis")
	}
	if a.client == nil {
		return nil, fmt.Errorf("reasoning service is not configured")
	}

	decision, err := a.proposeSQL(ctx, question, history)
	if err != nil {
		return nil, err
	}
	if decision.Malformed {
		a.logger.Warn("Reasoning service returned malformed SQL decision")
	}

	analysis := decision.Analysis
	rows := []map[string]any{}
	executedSQL := ""

	if decision.SQL != "" {
		normalized, err := a.sandbox.ValidateSQL(decision.SQL)
		if err != nil {
			var sandboxErr *SandboxError
			if errors.As(err, &sandboxErr) {
				analysis = fmt.Sprintf("Data request rejected: %s.", sandboxErr.Message)
			} else {
				analysis = fmt.Sprintf("Data request rejected: %s.", err)
			}
		} else {
			results, err := a.sandbox.Execute(ctx, normalized, userID)
			if err != nil {
				var sandboxErr *SandboxError
				if errors.As(err, &sandboxErr) {
					analysis = fmt.Sprintf("Data retrieval issue: %s", sandboxDetail(sandboxErr))
				} else {
					analysis = fmt.Sprintf("Data retrieval issue: %s", err)
				}
			} else {
				rows = results
				executedSQL = normalized
			}
		}
	}

	if len(rows) == 0 && analysis == "" {
		analysis = "No matching records were found. Ask about a specific metric or time period."
	}

	answer, err := a.composeAnswer(ctx, question, analysis, executedSQL, rows)
	if err != nil {
		return nil, err
	}

	return &ChatResult{
		ID:       "resp-" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Content:  answer,
		Analysis: analysis,
		SQL:      executedSQL,
		Rows:     rows,
	}, nil
}

func sandboxDetail(err *SandboxError) string {
	if err.Err != nil {
		return fmt.Sprintf("%s: %v", err.Message, err.Err)
	}
	return err.Message
}

// proposeSQL asks the reasoning service for an analysis note and an
// optional read-only query. Malformed JSON degrades to an empty decision
// instead of failing the turn.
func (a *ChatAgent) proposeSQL(ctx context.Context, question string, history []ChatMessage) (SQLDecision, error) {
	today := time.Now().UTC().Format("2006-01-02")
	messages := make([]ChatMessage, 0, len(history)+2)
	messages = append(messages, ChatMessage{
		Role:    "system",
		Content: fmt.Sprintf(sqlAnalystSystemPrompt, today, a.rowLimit),
	})
	for _, item := range history {
		role := item.Role
		if role == "" {
			role = "user"
		}
		messages = append(messages, ChatMessage{Role: role, Content: item.Content})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: question})

	content, err := a.client.Complete(ctx, messages, 0, true)
	if err != nil {
		return SQLDecision{}, fmt.Errorf("reasoning request failed: %w", err)
	}
	if content == "" {
		content = "{}"
	}

	var payload struct {
		Analysis string  `json:"analysis"`
		SQL      *string `json:"sql"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return SQLDecision{Malformed: true}, nil
	}

	decision := SQLDecision{Analysis: payload.Analysis}
	if payload.SQL != nil {
		decision.SQL = strings.TrimSpace(*payload.SQL)
	}
	return decision, nil
}

// composeAnswer has the reasoning service phrase the final answer over
// the analysis note and result rows.
func (a *ChatAgent) composeAnswer(ctx context.Context, question, analysis, executedSQL string, rows []map[string]any) (string, error) {
	truncated := rows
	if len(truncated) > a.rowLimit {
		truncated = truncated[:a.rowLimit]
	}

	payload := map[string]any{
		"question":    question,
		"analysis":    analysis,
		"result_rows": truncated,
	}
	if executedSQL != "" {
		payload["executed_sql"] = executedSQL
	} else {
		payload["executed_sql"] = nil
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode answer context: %w", err)
	}

	today := time.Now().UTC().Format("2006-01-02")
	messages := []ChatMessage{
		{Role: "system", Content: fmt.Sprintf(responseSystemPrompt, today)},
		{Role: "user", Content: string(encoded)},
	}

	content, err := a.client.Complete(ctx, messages, 0.2, false)
	if err != nil {
		return "", fmt.Errorf("reasoning request failed: %w", err)
	}
	if content == "" {
		return "I’m unable to provide an answer right now.", nil
	}
	return content, nil
}
