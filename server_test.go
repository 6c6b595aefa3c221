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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "unit-test-secret"

type fakeStore struct {
	datasets    map[int64]*DatasetDetail
	nextID      int64
	latest      *Summary
	history     []DatasetRecord
	snapshots   map[string][]map[string]any
	storeErr    error
	fingerprint map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		datasets:    make(map[int64]*DatasetDetail),
		nextID:      1,
		snapshots:   make(map[string][]map[string]any),
		fingerprint: make(map[string]bool),
	}
}

func (f *fakeStore) StoreDataset(ctx context.Context, originalFilename string, readings []Reading, summary Summary, userID string) (int64, error) {
	if f.storeErr != nil {
		return 0, f.storeErr
	}
	key := ComputeFingerprint(readings)
	if f.fingerprint[key] {
		return 0, &StorageError{Kind: StorageDuplicate, Op: "store_dataset"}
	}
	f.fingerprint[key] = true

	id := f.nextID
	f.nextID++
	records := make([]ReadingRecord, 0, len(readings))
	for _, r := range readings {
		date := r.ReadingDate().Format("2006-01-02")
		records = append(records, ReadingRecord{ReadingDate: date, Kwh: r.Kwh, Cost: r.CostValue()})
	}
	f.datasets[id] = &DatasetDetail{
		Dataset: DatasetRecord{ID: id, OriginalFilename: originalFilename, RowCount: len(readings)},
		Summary: summary,
		Readings: records,
	}
	f.latest = &summary
	f.history = append([]DatasetRecord{f.datasets[id].Dataset}, f.history...)
	return id, nil
}

func (f *fakeStore) LatestSummary(ctx context.Context, userID string) (*Summary, error) {
	return f.latest, nil
}

func (f *fakeStore) DatasetHistory(ctx context.Context, limit int, userID string) ([]DatasetRecord, error) {
	if limit > len(f.history) {
		limit = len(f.history)
	}
	return f.history[:limit], nil
}

func (f *fakeStore) DatasetDetail(ctx context.Context, datasetID int64, userID string) (*DatasetDetail, error) {
	detail, ok := f.datasets[datasetID]
	if !ok {
		return nil, &StorageError{Kind: StorageNotFound, Op: "dataset_detail"}
	}
	return detail, nil
}

func (f *fakeStore) DeleteDataset(ctx context.Context, datasetID int64, userID string) error {
	if _, ok := f.datasets[datasetID]; !ok {
		return &StorageError{Kind: StorageNotFound, Op: "delete_dataset"}
	}
	delete(f.datasets, datasetID)
	return nil
}

func (f *fakeStore) TableSnapshot(ctx context.Context, table, userID string, limit int) ([]map[string]any, error) {
	return f.snapshots[table], nil
}

func testToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func newTestServer(store *fakeStore, client ReasoningClient) *Server {
	config := &Config{
		ListenAddr:          ":0",
		AllowedOrigins:      []string{"*"},
		JWTSecret:           testSecret,
		DefaultRatePerKwh:   0.32,
		CO2FactorKgPerKwh:   0.45,
		PeakHourPercentile:  0.66,
		SandboxRowLimit:     200,
		SandboxSnapshotRows: 2000,
	}
	logger := NewLogger(false)
	analyzer := NewAnalyzer(config, logger)
	recommender := NewRecommender(client, logger)
	sandbox := NewSandbox(store, config, logger)
	agent := NewChatAgent(client, sandbox, config, logger)
	return NewServer(config, logger, store, analyzer, recommender, agent)
}

func doRequest(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func authHeader(t *testing.T) string {
	return "Bearer " + testToken(t, jwt.MapClaims{"sub": "user-1"})
}

func multipartCSV(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func errorDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode error body %q: %v", rec.Body.String(), err)
	}
	return payload["detail"]
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(newFakeStore(), nil)
	rec := doRequest(server.Router(), httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var health HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if health.Status != "ok" || health.Service != "Energy Insight" {
		t.Errorf("unexpected health payload: %+v", health)
	}
}

func TestAuthRequired(t *testing.T) {
	server := newTestServer(newFakeStore(), nil)
	rec := doRequest(server.Router(), httptest.NewRequest("GET", "/api/analytics/summary", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if detail := errorDetail(t, rec); detail != "Authentication required" {
		t.Errorf("unexpected detail: %q", detail)
	}
}

func TestAuthInvalidToken(t *testing.T) {
	server := newTestServer(newFakeStore(), nil)
	req := httptest.NewRequest("GET", "/api/analytics/summary", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := doRequest(server.Router(), req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if detail := errorDetail(t, rec); detail != "Invalid authentication token" {
		t.Errorf("unexpected detail: %q", detail)
	}
}

func TestAuthWrongSecret(t *testing.T) {
	server := newTestServer(newFakeStore(), nil)
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-1"}).
		SignedString([]byte("some-other-secret"))
	req := httptest.NewRequest("GET", "/api/analytics/summary", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := doRequest(server.Router(), req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestUploadCreatesSummary(t *testing.T) {
	store := newFakeStore()
	server := newTestServer(store, nil)

	body, contentType := multipartCSV(t, "usage.csv", "date,kwh\n2024-01-01,10\n2024-01-02,20\n")
	req := httptest.NewRequest("POST", "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", authHeader(t))
	rec := doRequest(server.Router(), req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var summary Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("failed to decode summary: %v", err)
	}
	if len(summary.Stats) != 4 {
		t.Errorf("expected 4 stat cards, got %d", len(summary.Stats))
	}
	if summary.Recommendations == nil {
		t.Error("recommendations must serialize as an array, not null")
	}
	if len(store.datasets) != 1 {
		t.Errorf("expected 1 stored dataset, got %d", len(store.datasets))
	}
}

func TestUploadRejectsNonCSV(t *testing.T) {
	server := newTestServer(newFakeStore(), nil)

	body, contentType := multipartCSV(t, "usage.txt", "date,kwh\n2024-01-01,10\n")
	req := httptest.NewRequest("POST", "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", authHeader(t))
	rec := doRequest(server.Router(), req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if detail := errorDetail(t, rec); detail != "Only .csv files are supported" {
		t.Errorf("unexpected detail: %q", detail)
	}
}

func TestUploadRejectsBadCSV(t *testing.T) {
	server := newTestServer(newFakeStore(), nil)

	body, contentType := multipartCSV(t, "usage.csv", "foo,bar\n1,2\n")
	req := httptest.NewRequest("POST", "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", authHeader(t))
	rec := doRequest(server.Router(), req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if detail := errorDetail(t, rec); !strings.HasPrefix(detail, "CSV requires columns") {
		t.Errorf("unexpected detail: %q", detail)
	}
}

func TestUploadDuplicateDataset(t *testing.T) {
	store := newFakeStore()
	server := newTestServer(store, nil)
	router := server.Router()

	csv := "date,kwh\n2024-01-01,10\n"
	for i, wantStatus := range []int{http.StatusCreated, http.StatusConflict} {
		body, contentType := multipartCSV(t, "usage.csv", csv)
		req := httptest.NewRequest("POST", "/api/upload", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", authHeader(t))
		rec := doRequest(router, req)

		if rec.Code != wantStatus {
			t.Fatalf("upload %d: expected %d, got %d", i, wantStatus, rec.Code)
		}
		if wantStatus == http.StatusConflict {
			if detail := errorDetail(t, rec); detail != "Identical dataset already stored." {
				t.Errorf("unexpected detail: %q", detail)
			}
		}
	}
}

func TestSummaryNotFound(t *testing.T) {
	server := newTestServer(newFakeStore(), nil)
	req := httptest.NewRequest("GET", "/api/analytics/summary", nil)
	req.Header.Set("Authorization", authHeader(t))
	rec := doRequest(server.Router(), req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if detail := errorDetail(t, rec); detail != "No analytics available. Upload a dataset first." {
		t.Errorf("unexpected detail: %q", detail)
	}
}

func TestSummaryReturnsLatest(t *testing.T) {
	store := newFakeStore()
	summary := testSummary()
	store.latest = &summary
	server := newTestServer(store, nil)

	req := httptest.NewRequest("GET", "/api/analytics/summary", nil)
	req.Header.Set("Authorization", authHeader(t))
	rec := doRequest(server.Router(), req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(got.Stats) != 4 {
		t.Errorf("expected 4 stats, got %d", len(got.Stats))
	}
}

func TestHistoryInvalidLimit(t *testing.T) {
	server := newTestServer(newFakeStore(), nil)
	req := httptest.NewRequest("GET", "/api/analytics/history?limit=zero", nil)
	req.Header.Set("Authorization", authHeader(t))
	rec := doRequest(server.Router(), req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDatasetDetailNotFound(t *testing.T) {
	server := newTestServer(newFakeStore(), nil)
	req := httptest.NewRequest("GET", "/api/analytics/datasets/99", nil)
	req.Header.Set("Authorization", authHeader(t))
	rec := doRequest(server.Router(), req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if detail := errorDetail(t, rec); detail != "Dataset not found." {
		t.Errorf("unexpected detail: %q", detail)
	}
}

func TestDatasetDetailInvalidID(t *testing.T) {
	server := newTestServer(newFakeStore(), nil)
	req := httptest.NewRequest("GET", "/api/analytics/datasets/abc", nil)
	req.Header.Set("Authorization", authHeader(t))
	rec := doRequest(server.Router(), req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDeleteDataset(t *testing.T) {
	store := newFakeStore()
	store.datasets[1] = &DatasetDetail{Dataset: DatasetRecord{ID: 1}}
	server := newTestServer(store, nil)
	router := server.Router()

	req := httptest.NewRequest("DELETE", "/api/analytics/datasets/1", nil)
	req.Header.Set("Authorization", authHeader(t))
	rec := doRequest(router, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	req = httptest.NewRequest("DELETE", "/api/analytics/datasets/1", nil)
	req.Header.Set("Authorization", authHeader(t))
	rec = doRequest(router, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestChatEndpoint(t *testing.T) {
	store := newFakeStore()
	store.snapshots[ReadingsTable] = testReadingRows()
	client := &scriptedClient{responses: []string{
		`{"analysis":"overview","sql":"SELECT kwh FROM energy_readings"}`,
		"You used 8 kWh.",
	}}
	server := newTestServer(store, client)

	payload, _ := json.Marshal(ChatRequest{Prompt: "how much did I use?"})
	req := httptest.NewRequest("POST", "/api/chat", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authHeader(t))
	rec := doRequest(server.Router(), req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var response ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if response.Role != "assistant" {
		t.Errorf("expected assistant role, got %q", response.Role)
	}
	if response.Content != "You used 8 kWh." {
		t.Errorf("unexpected content: %q", response.Content)
	}
	if !strings.HasPrefix(response.ID, "resp-") {
		t.Errorf("unexpected id: %q", response.ID)
	}
}

func TestChatEndpointRequiresPrompt(t *testing.T) {
	server := newTestServer(newFakeStore(), &scriptedClient{})

	req := httptest.NewRequest("POST", "/api/chat", strings.NewReader(`{"prompt":"  "}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authHeader(t))
	rec := doRequest(server.Router(), req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestChatEndpointWithoutReasoningService(t *testing.T) {
	server := newTestServer(newFakeStore(), nil)

	payload, _ := json.Marshal(ChatRequest{Prompt: "hello"})
	req := httptest.NewRequest("POST", "/api/chat", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authHeader(t))
	rec := doRequest(server.Router(), req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestDatasetChartsEndpoint(t *testing.T) {
	store := newFakeStore()
	store.datasets[1] = &DatasetDetail{
		Dataset: DatasetRecord{ID: 1},
		Readings: []ReadingRecord{
			{ReadingDate: "2024-01-01", Kwh: 10, Cost: 3.2},
			{ReadingDate: "2024-01-02", Kwh: 20, Cost: 6.4},
		},
	}
	server := newTestServer(store, nil)

	req := httptest.NewRequest("GET", "/api/analytics/datasets/1/charts", nil)
	req.Header.Set("Authorization", authHeader(t))
	rec := doRequest(server.Router(), req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var charts DatasetCharts
	if err := json.Unmarshal(rec.Body.Bytes(), &charts); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if charts.UsageChart == "" || charts.CostChart == "" {
		t.Error("expected both charts to be rendered")
	}
}

func TestUserIDFromTokenClaims(t *testing.T) {
	auth := NewAuthenticator(testSecret)

	tests := []struct {
		name   string
		claims jwt.MapClaims
		wantID string
		wantOK bool
	}{
		{"sub claim", jwt.MapClaims{"sub": "abc"}, "abc", true},
		{"user_id claim", jwt.MapClaims{"user_id": "def"}, "def", true},
		{"no identity", jwt.MapClaims{"email": "x@example.com"}, "", false},
		{
			"email from metadata",
			jwt.MapClaims{"sub": "abc", "user_metadata": map[string]any{"email": "meta@example.com"}},
			"abc", true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tt.claims).SignedString([]byte(testSecret))
			if err != nil {
				t.Fatalf("failed to sign: %v", err)
			}
			user, err := auth.Authenticate(fmt.Sprintf("Bearer %s", token))
			if tt.wantOK {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if user.ID != tt.wantID {
					t.Errorf("expected id %q, got %q", tt.wantID, user.ID)
				}
				if tt.name == "email from metadata" && user.Email != "meta@example.com" {
					t.Errorf("expected metadata email, got %q", user.Email)
				}
			} else if err == nil {
				t.Error("expected authentication failure")
			}
		})
	}
}
