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
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type contextKey string

const userContextKey contextKey = "user"

// Server wires the HTTP API together
type Server struct {
	config      *Config
	logger      *Logger
	store       Store
	analyzer    *Analyzer
	recommender *Recommender
	agent       *ChatAgent
	charts      *ChartGenerator
	auth        *Authenticator
}

// NewServer creates the HTTP server
func NewServer(config *Config, logger *Logger, store Store, analyzer *Analyzer, recommender *Recommender, agent *ChatAgent) *Server {
	return &Server{
		config:      config,
		logger:      logger.WithComponent("server"),
		store:       store,
		analyzer:    analyzer,
		recommender: recommender,
		agent:       agent,
		charts:      NewChartGenerator(),
		auth:        NewAuthenticator(config.JWTSecret),
	}
}

// Router builds the route tree
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireUser)
		r.Post("/upload", s.handleUpload)
		r.Post("/chat", s.handleChat)
		r.Route("/analytics", func(r chi.Router) {
			r.Get("/summary", s.handleSummary)
			r.Get("/history", s.handleHistory)
			r.Get("/datasets/{datasetID}", s.handleDatasetDetail)
			r.Get("/datasets/{datasetID}/charts", s.handleDatasetCharts)
			r.Delete("/datasets/{datasetID}", s.handleDatasetDelete)
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
		)
	})
}

// requireUser authenticates the request and stores the user in context
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.auth.Authenticate(r.Header.Get("Authorization"))
		if err != nil {
			var authErr *AuthError
			if errors.As(err, &authErr) {
				writeError(w, http.StatusUnauthorized, authErr.Message)
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) *AuthenticatedUser {
	user, _ := ctx.Value(userContextKey).(*AuthenticatedUser)
	return user
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Service: ServiceName})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "A CSV file upload is required")
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".csv") {
		writeError(w, http.StatusBadRequest, "Only .csv files are supported")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read uploaded file")
		return
	}

	readings, dropped, err := ParseEnergyCSV(data)
	if err != nil {
		var parseErr *ParseError
		if errors.As(err, &parseErr) {
			writeError(w, http.StatusBadRequest, parseErr.Detail)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.WithUserID(user.ID).LogIngestion(header.Filename, len(readings), dropped)

	summary := s.analyzer.BuildSummary(readings)
	summary = s.recommender.Apply(r.Context(), summary)

	filename := header.Filename
	if filename == "" {
		filename = "upload.csv"
	}
	if _, err := s.store.StoreDataset(r.Context(), filename, readings, summary, user.ID); err != nil {
		var storageErr *StorageError
		if errors.As(err, &storageErr) && storageErr.Kind == StorageDuplicate {
			writeError(w, http.StatusConflict, "Identical dataset already stored.")
			return
		}
		s.logger.Error("Failed to store dataset", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to store dataset")
		return
	}

	writeJSON(w, http.StatusCreated, summary)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	var request ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(request.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "Prompt is required")
		return
	}

	result, err := s.agent.Run(r.Context(), request.Prompt, request.Context, user.ID)
	if err != nil {
		s.logger.Error("Chat agent failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		ID:       result.ID,
		Role:     "assistant",
		Content:  result.Content,
		Analysis: result.Analysis,
		SQL:      result.SQL,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	summary, err := s.store.LatestSummary(r.Context(), user.ID)
	if err != nil {
		s.logger.Error("Failed to load latest summary", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load analytics summary")
		return
	}
	if summary == nil {
		writeError(w, http.StatusNotFound, "No analytics available. Upload a dataset first.")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	history, err := s.store.DatasetHistory(r.Context(), limit, user.ID)
	if err != nil {
		s.logger.Error("Failed to load dataset history", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load dataset history")
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleDatasetDetail(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	datasetID, ok := datasetIDParam(w, r)
	if !ok {
		return
	}

	detail, err := s.store.DatasetDetail(r.Context(), datasetID, user.ID)
	if err != nil {
		s.writeStorageError(w, err, "Failed to load dataset detail")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleDatasetCharts(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	datasetID, ok := datasetIDParam(w, r)
	if !ok {
		return
	}

	detail, err := s.store.DatasetDetail(r.Context(), datasetID, user.ID)
	if err != nil {
		s.writeStorageError(w, err, "Failed to load dataset detail")
		return
	}

	usageChart, err := s.charts.GenerateUsageChart(detail.Readings)
	if err != nil {
		s.logger.Error("Failed to render usage chart", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to render charts")
		return
	}
	costChart, err := s.charts.GenerateCostChart(detail.Readings)
	if err != nil {
		s.logger.Error("Failed to render cost chart", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to render charts")
		return
	}

	writeJSON(w, http.StatusOK, DatasetCharts{UsageChart: usageChart, CostChart: costChart})
}

func (s *Server) handleDatasetDelete(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	datasetID, ok := datasetIDParam(w, r)
	if !ok {
		return
	}

	if err := s.store.DeleteDataset(r.Context(), datasetID, user.ID); err != nil {
		s.writeStorageError(w, err, "Failed to delete dataset")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeStorageError(w http.ResponseWriter, err error, fallback string) {
	var storageErr *StorageError
	if errors.As(err, &storageErr) && storageErr.Kind == StorageNotFound {
		writeError(w, http.StatusNotFound, "Dataset not found.")
		return
	}
	s.logger.Error(fallback, "error", err)
	writeError(w, http.StatusInternalServerError, fallback)
}

func datasetIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "datasetID")
	datasetID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid dataset id")
		return 0, false
	}
	return datasetID, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// The status line is already written; nothing left to do
		return
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
