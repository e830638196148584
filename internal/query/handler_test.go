package query

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/fsds-cli/internal/config"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestHandler(t *testing.T, maxRows int) (*Handler, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	h := NewHandler(mock, config.ServerConfig{MaxRows: maxRows}, config.WarehouseConfig{Schema: "raw_staging"})
	return h, mock
}

func post(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/execute-query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func expectReadOnlyTx(mock pgxmock.PgxPoolIface, schema string) {
	mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadOnly})
	mock.ExpectExec(regexp.QuoteMeta(`SET LOCAL search_path TO "` + schema + `"`)).
		WillReturnResult(pgxmock.NewResult("SET", 0))
}

func TestExecuteQuery_ReturnsRows(t *testing.T) {
	h, mock := newTestHandler(t, 0)
	expectReadOnlyTx(mock, "analytics")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT adsh, value FROM raw_num")).
		WillReturnRows(pgxmock.NewRows([]string{"adsh", "value"}).
			AddRow("0001", "12.5").
			AddRow("0002", nil))
	mock.ExpectRollback()

	rec := post(t, h, `{"query":"SELECT adsh, value FROM raw_num","schema":"analytics"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[{"adsh":"0001","value":"12.5"},{"adsh":"0002","value":null}]}`, rec.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteQuery_DefaultSchema(t *testing.T) {
	h, mock := newTestHandler(t, 0)
	expectReadOnlyTx(mock, "raw_staging")
	mock.ExpectQuery("SELECT 1").WillReturnRows(pgxmock.NewRows([]string{"n"}).AddRow(int64(1)))
	mock.ExpectRollback()

	rec := post(t, h, `{"query":"SELECT 1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteQuery_TruncatesAtMaxRows(t *testing.T) {
	h, mock := newTestHandler(t, 2)
	expectReadOnlyTx(mock, "raw_staging")
	mock.ExpectQuery("SELECT tag FROM raw_tag").
		WillReturnRows(pgxmock.NewRows([]string{"tag"}).AddRow("A").AddRow("B").AddRow("C"))
	mock.ExpectRollback()

	rec := post(t, h, `{"query":"SELECT tag FROM raw_tag"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)
	assert.True(t, resp.Truncated)
}

func TestExecuteQuery_BadRequests(t *testing.T) {
	h, _ := newTestHandler(t, 0)

	rec := post(t, h, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid request body")

	rec = post(t, h, `{"query":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "query is required")
}

func TestExecuteQuery_SQLErrorIs400(t *testing.T) {
	h, mock := newTestHandler(t, 0)
	expectReadOnlyTx(mock, "raw_staging")
	mock.ExpectQuery("SELECT \\* FROM nope").
		WillReturnError(&pgconn.PgError{Code: "42P01", Message: `relation "nope" does not exist`})
	mock.ExpectRollback()

	rec := post(t, h, `{"query":"SELECT * FROM nope"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "does not exist")
	assert.Equal(t, "raw_staging", resp.Schema)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteQuery_ReadOnlyViolationIs400(t *testing.T) {
	h, mock := newTestHandler(t, 0)
	expectReadOnlyTx(mock, "raw_staging")
	mock.ExpectQuery("DELETE FROM raw_num").
		WillReturnError(&pgconn.PgError{Code: "25006", Message: "cannot execute DELETE in a read-only transaction"})
	mock.ExpectRollback()

	rec := post(t, h, `{"query":"DELETE FROM raw_num"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecuteQuery_ConnectionErrorIs500(t *testing.T) {
	h, mock := newTestHandler(t, 0)
	mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadOnly}).WillReturnError(errors.New("connection refused"))

	rec := post(t, h, `{"query":"SELECT 1"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealth(t *testing.T) {
	h, mock := newTestHandler(t, 0)
	mock.ExpectQuery("SELECT version").
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow("PostgreSQL 16.2"))

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","warehouse_connected":true,"warehouse_version":"PostgreSQL 16.2"}`, rec.Body.String())
}

func TestHealth_Unhealthy(t *testing.T) {
	h, mock := newTestHandler(t, 0)
	mock.ExpectQuery("SELECT version").WillReturnError(errors.New("no route to host"))

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)
}

func TestDebugInfo(t *testing.T) {
	h, mock := newTestHandler(t, 0)
	mock.ExpectQuery("SELECT current_database").
		WillReturnRows(pgxmock.NewRows([]string{"db", "schema", "user"}).AddRow("sec", "public", "dash"))
	mock.ExpectQuery("FROM information_schema.tables").
		WithArgs("raw_staging").
		WillReturnRows(pgxmock.NewRows([]string{"table_name"}).AddRow("raw_num").AddRow("raw_tag"))

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/debug-info", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"current_context": {"database":"sec","schema":"public","user":"dash"},
		"warehouse_schema": "raw_staging",
		"tables": ["raw_num","raw_tag"]
	}`, rec.Body.String())
}

func TestCORS_AllowsAnyOrigin(t *testing.T) {
	h, _ := newTestHandler(t, 0)
	req := httptest.NewRequest(http.MethodOptions, "/api/execute-query", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()

	h.Router().ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
