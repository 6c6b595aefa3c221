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
	"strings"
	"testing"
)

func testAgent(client ReasoningClient, source SnapshotSource) *ChatAgent {
	config := &Config{SandboxRowLimit: 200, SandboxSnapshotRows: 2000}
	logger := NewLogger(false)
	sandbox := NewSandbox(source, config, logger)
	return NewChatAgent(client, sandbox, config, logger)
}

func TestChatAgentHappyPath(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"analysis":"Daily consumption overview","sql":"SELECT reading_date, kwh FROM energy_readings ORDER BY reading_date"}`,
		"You used 8.0 kWh over two days.",
	}}
	source := &fakeSnapshotSource{tables: map[string][]map[string]any{
		ReadingsTable: testReadingRows(),
	}}
	agent := testAgent(client, source)

	result, err := agent.Run(context.Background(), "how much did I use?", nil, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(result.ID, "resp-") {
		t.Errorf("expected resp- prefixed id, got %q", result.ID)
	}
	if strings.Contains(result.ID, "-") && strings.Count(result.ID, "-") != 1 {
		t.Errorf("expected dashless uuid after prefix, got %q", result.ID)
	}
	if result.Content != "You used 8.0 kWh over two days." {
		t.Errorf("unexpected content: %q", result.Content)
	}
	if !strings.HasSuffix(result.SQL, "LIMIT 200") {
		t.Errorf("expected appended limit, got %q", result.SQL)
	}
	if len(result.Rows) != 2 {
		t.Errorf("expected 2 rows, got %d", len(result.Rows))
	}
	if result.Analysis != "Daily consumption overview" {
		t.Errorf("unexpected analysis: %q", result.Analysis)
	}
	if len(client.requests) != 2 {
		t.Fatalf("expected 2 reasoning calls, got %d", len(client.requests))
	}
	if client.requests[0][0].Role != "system" {
		t.Errorf("expected system prompt first, got %q", client.requests[0][0].Role)
	}
}

func TestChatAgentRejectsForbiddenSQL(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"analysis":"","sql":"SELECT kwh FROM energy_readings; DROP TABLE energy_readings;"}`,
		"I cannot run that.",
	}}
	source := &fakeSnapshotSource{tables: map[string][]map[string]any{}}
	agent := testAgent(client, source)

	result, err := agent.Run(context.Background(), "drop the table", nil, "user-1")
	if err != nil {
		t.Fatalf("rejection must not fail the turn: %v", err)
	}
	if result.Analysis != "Data request rejected: Forbidden SQL pattern detected." {
		t.Errorf("unexpected analysis: %q", result.Analysis)
	}
	if result.SQL != "" {
		t.Errorf("rejected query must not be reported as executed, got %q", result.SQL)
	}
	if len(result.Rows) != 0 {
		t.Errorf("expected no rows, got %d", len(result.Rows))
	}
}

func TestChatAgentNullSQL(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"analysis":"","sql":null}`,
		"Please ask about your energy data.",
	}}
	agent := testAgent(client, &fakeSnapshotSource{})

	result, err := agent.Run(context.Background(), "what is the weather?", nil, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Analysis != "No matching records were found. Ask about a specific metric or time period." {
		t.Errorf("unexpected analysis: %q", result.Analysis)
	}
	if result.SQL != "" {
		t.Errorf("expected no executed sql, got %q", result.SQL)
	}
}

func TestChatAgentMalformedDecision(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"certainly, here is your data: kwh=42",
		"I could not work that out.",
	}}
	agent := testAgent(client, &fakeSnapshotSource{})

	result, err := agent.Run(context.Background(), "anything", nil, "user-1")
	if err != nil {
		t.Fatalf("malformed decision must degrade gracefully: %v", err)
	}
	if result.Content != "I could not work that out." {
		t.Errorf("unexpected content: %q", result.Content)
	}
	if result.SQL != "" {
		t.Errorf("expected no executed sql, got %q", result.SQL)
	}
}

func TestChatAgentEmptyAnswer(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"analysis":"","sql":null}`,
		"",
	}}
	agent := testAgent(client, &fakeSnapshotSource{})

	result, err := agent.Run(context.Background(), "anything", nil, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "I’m unable to provide an answer right now." {
		t.Errorf("unexpected content: %q", result.Content)
	}
}

func TestChatAgentExecutionFailure(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"analysis":"","sql":"SELECT kwh FROM energy_readings"}`,
		"Something went wrong fetching your data.",
	}}
	source := &fakeSnapshotSource{err: context.DeadlineExceeded}
	agent := testAgent(client, source)

	result, err := agent.Run(context.Background(), "how much?", nil, "user-1")
	if err != nil {
		t.Fatalf("execution failure must degrade gracefully: %v", err)
	}
	if !strings.HasPrefix(result.Analysis, "Data retrieval issue:") {
		t.Errorf("unexpected analysis: %q", result.Analysis)
	}
	if result.SQL != "" {
		t.Errorf("expected no executed sql, got %q", result.SQL)
	}
}

func TestChatAgentRequiresUser(t *testing.T) {
	agent := testAgent(&scriptedClient{}, &fakeSnapshotSource{})
	if _, err := agent.Run(context.Background(), "hi", nil, ""); err == nil {
		t.Error("expected error without user context")
	}
}

func TestChatAgentRequiresClient(t *testing.T) {
	agent := testAgent(nil, &fakeSnapshotSource{})
	if _, err := agent.Run(context.Background(), "hi", nil, "user-1"); err == nil {
		t.Error("expected error without reasoning client")
	}
}

func TestChatAgentHistoryForwarded(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"analysis":"","sql":null}`,
		"Answer.",
	}}
	agent := testAgent(client, &fakeSnapshotSource{})

	history := []ChatMessage{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}
	if _, err := agent.Run(context.Background(), "follow-up", history, "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := client.requests[0]
	// system + 2 history turns + the question
	if len(first) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(first))
	}
	if first[1].Content != "earlier question" || first[2].Content != "earlier answer" {
		t.Errorf("history not forwarded in order: %+v", first[1:3])
	}
	if first[3].Content != "follow-up" {
		t.Errorf("expected the question last, got %q", first[3].Content)
	}
}
