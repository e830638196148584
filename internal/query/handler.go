// Package query serves read-only SQL pass-through over HTTP for the
// dashboard.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fsds-cli/internal/config"
	"github.com/sells-group/fsds-cli/internal/db"
)

// Request is the body of POST /api/execute-query.
type Request struct {
	Query  string `json:"query"`
	Schema string `json:"schema"`
}

// Response carries rows as column-name maps.
type Response struct {
	Data      []map[string]any `json:"data"`
	Truncated bool             `json:"truncated,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Schema string `json:"schema,omitempty"`
}

// Handler runs dashboard queries against the warehouse.
type Handler struct {
	pool          db.Pool
	defaultSchema string
	maxRows       int
	origins       []string
}

// NewHandler creates a Handler. Requests without a schema use the
// warehouse schema.
func NewHandler(pool db.Pool, srv config.ServerConfig, wh config.WarehouseConfig) *Handler {
	origins := srv.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Handler{pool: pool, defaultSchema: wh.Schema, maxRows: srv.MaxRows, origins: origins}
}

// Router returns the HTTP routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: !contains(h.origins, "*"),
		MaxAge:           300,
	}))

	r.Get("/health", h.health)
	r.Post("/api/execute-query", h.executeQuery)
	r.Get("/api/debug-info", h.debugInfo)
	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var version string
	if err := h.pool.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":              "unhealthy",
			"warehouse_connected": false,
			"error":               err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "healthy",
		"warehouse_connected": true,
		"warehouse_version":   version,
	})
}

func (h *Handler) executeQuery(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "query is required"})
		return
	}
	if req.Schema == "" {
		req.Schema = h.defaultSchema
	}

	log := zap.L().With(zap.String("component", "query"), zap.String("schema", req.Schema))

	start := time.Now()
	resp, err := h.run(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		log.Warn("query failed", zap.Int("status", status), zap.Error(err))
		writeJSON(w, status, errorResponse{Error: err.Error(), Schema: req.Schema})
		return
	}

	log.Info("query executed",
		zap.Int("rows", len(resp.Data)),
		zap.Bool("truncated", resp.Truncated),
		zap.Duration("elapsed", time.Since(start)),
	)
	writeJSON(w, http.StatusOK, resp)
}

// run executes req in a read-only transaction scoped to the schema.
func (h *Handler) run(ctx context.Context, req Request) (*Response, error) {
	tx, err := h.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, eris.Wrap(err, "query: begin")
	}
	defer tx.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SET LOCAL search_path TO "+db.Ident(req.Schema)); err != nil {
		return nil, eris.Wrap(err, "query: set search_path")
	}

	rows, err := tx.Query(ctx, req.Query)
	if err != nil {
		return nil, eris.Wrap(err, "query: execute")
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	resp := &Response{Data: []map[string]any{}}
	for rows.Next() {
		if h.maxRows > 0 && len(resp.Data) >= h.maxRows {
			resp.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, eris.Wrap(err, "query: read row")
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[f.Name] = values[i]
		}
		resp.Data = append(resp.Data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "query: execute")
	}
	return resp, nil
}

func (h *Handler) debugInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var database, schema, user string
	if err := h.pool.QueryRow(ctx, "SELECT current_database(), current_schema(), current_user").
		Scan(&database, &schema, &user); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	tables, err := h.tables(ctx, h.defaultSchema)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"current_context": map[string]string{
			"database": database,
			"schema":   schema,
			"user":     user,
		},
		"warehouse_schema": h.defaultSchema,
		"tables":           tables,
	})
}

func (h *Handler) tables(ctx context.Context, schema string) ([]string, error) {
	rows, err := h.pool.Query(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = $1 ORDER BY table_name`, schema)
	if err != nil {
		return nil, eris.Wrap(err, "query: list tables")
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "query: scan table")
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// statusFor maps client-caused SQL errors (syntax, undefined objects,
// read-only violations) to 400.
func statusFor(err error) int {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "42"), strings.HasPrefix(pgErr.Code, "22"), pgErr.Code == "25006":
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
