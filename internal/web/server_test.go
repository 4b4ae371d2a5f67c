package web

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/sheetload/internal/config"
	"github.com/JonMunkholm/sheetload/internal/core"
	"github.com/JonMunkholm/sheetload/internal/database"
	"github.com/JonMunkholm/sheetload/internal/upload"
)

type testEnv struct {
	server  *Server
	db      *database.SQLite
	store   *upload.Store
	handler http.Handler
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Exec(ctx, `CREATE TABLE clientes (
		full_name TEXT NOT NULL,
		age TEXT,
		email TEXT UNIQUE
	)`))

	store, err := upload.NewStore(filepath.Join(t.TempDir(), "uploads"), 64<<10)
	require.NoError(t, err)

	cfg := &config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
	}
	for _, m := range mutate {
		m(cfg)
	}

	svc := core.NewService(db, store, core.Options{MaxWaitTime: 50 * time.Millisecond})
	srv := NewServer(svc, cfg)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	return &testEnv{server: srv, db: db, store: store, handler: srv.Router()}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func xlsx(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func uploadRequest(t *testing.T, filename, table string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if table != "" {
		require.NoError(t, mw.WriteField("table", table))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func importRequest(upload, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/uploads/"+upload+"/import", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var clientesRows = [][]any{
	{"Full Name", "Age"},
	{"Ana", 30},
	{"Bo", 41},
}

func TestHealthAndStatus(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[StatusResponse](t, rec)
	assert.Equal(t, 1, status.Imports.MaxConcurrent)
	assert.Equal(t, int64(64<<10), status.MaxUploadBytes)
	assert.NotEmpty(t, status.MaxUploadSize)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestListTablesAndColumns(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/tables", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tables":["clientes"]}`, rec.Body.String())

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/tables/clientes/columns", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"full_name"`)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/tables/nope/columns", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "TBL001", decode[ErrorResponse](t, rec).Code)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/tables/bad-name/columns", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "TBL002", decode[ErrorResponse](t, rec).Code)
}

func TestUploadThenImport(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, uploadRequest(t, "clientes.xlsx", "clientes", xlsx(t, clientesRows)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	inspection := decode[core.Inspection](t, rec)
	assert.True(t, upload.ValidName(inspection.Upload))
	assert.Equal(t, "/api/uploads/"+inspection.Upload, rec.Header().Get("Location"))
	require.Len(t, inspection.Headers, 2)
	assert.Equal(t, "Full Name", inspection.Headers[0].Name)
	assert.Equal(t, 2, inspection.DataRows)

	rec = env.do(t, importRequest(inspection.Upload, `{"table":"clientes","mapping":{"1":"full_name","2":"age"}}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var outcome struct {
		Imported int    `json:"imported"`
		Failed   int    `json:"failed"`
		Summary  string `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.Equal(t, 2, outcome.Imported)
	assert.Equal(t, 0, outcome.Failed)
	assert.Equal(t, "Import finished: 2 rows imported successfully, 0 errors.", outcome.Summary)

	_, err := os.Stat(filepath.Join(env.store.Dir(), inspection.Upload))
	assert.True(t, os.IsNotExist(err), "upload should be removed after import")

	// The mapping cannot be applied twice.
	rec = env.do(t, importRequest(inspection.Upload, `{"table":"clientes","mapping":{"1":"full_name"}}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "UPL003", decode[ErrorResponse](t, rec).Code)
}

func TestImport_RowFailuresAreReported(t *testing.T) {
	env := newTestEnv(t)

	rows := [][]any{
		{"Name", "Email"},
		{"Ana", "ana@example.com"},
		{nil, "nobody@example.com"},
		{"Bo", "ana@example.com"},
	}
	rec := env.do(t, uploadRequest(t, "people.xlsx", "clientes", xlsx(t, rows)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	name := decode[core.Inspection](t, rec).Upload

	rec = env.do(t, importRequest(name, `{"table":"clientes","mapping":{"1":"full_name","2":"email"}}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var outcome struct {
		Imported int `json:"imported"`
		Failures []struct {
			Row     int            `json:"row"`
			Data    map[string]any `json:"data"`
			Message string         `json:"message"`
		} `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.Equal(t, 1, outcome.Imported)
	require.Len(t, outcome.Failures, 2)
	assert.Equal(t, 3, outcome.Failures[0].Row)
	assert.Equal(t, 4, outcome.Failures[1].Row)
	assert.Equal(t, "Bo", outcome.Failures[1].Data["full_name"])
	assert.NotEmpty(t, outcome.Failures[1].Message)
}

func TestUpload_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		req      *http.Request
		wantCode int
		wantErr  string
	}{
		{"wrong extension", uploadRequest(t, "data.csv", "clientes", []byte("a,b\n")), http.StatusBadRequest, "FILE002"},
		{"no file", uploadRequest(t, "", "clientes", nil), http.StatusBadRequest, "FILE004"},
		{"bad table name", uploadRequest(t, "x.xlsx", "drop table", xlsx(t, clientesRows)), http.StatusBadRequest, "TBL002"},
		{"unknown table", uploadRequest(t, "x.xlsx", "nope", xlsx(t, clientesRows)), http.StatusNotFound, "TBL001"},
		{"corrupt workbook", uploadRequest(t, "x.xlsx", "clientes", []byte("not a zip")), http.StatusBadRequest, "FILE003"},
		{"too large", uploadRequest(t, "x.xlsx", "clientes", bytes.Repeat([]byte("x"), 70<<10)), http.StatusRequestEntityTooLarge, "FILE001"},
		{"empty sheet", uploadRequest(t, "x.xlsx", "clientes", xlsx(t, nil)), http.StatusBadRequest, "FILE005"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.req)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantErr, decode[ErrorResponse](t, rec).Code)
		})
	}

	entries, err := os.ReadDir(env.store.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "failed uploads must not be left behind")
}

func TestImport_Errors(t *testing.T) {
	env := newTestEnv(t)

	newUpload := func() string {
		rec := env.do(t, uploadRequest(t, "clientes.xlsx", "clientes", xlsx(t, clientesRows)))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		return decode[core.Inspection](t, rec).Upload
	}

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"malformed body", `{"table":`, http.StatusBadRequest, "MAP001"},
		{"unknown field", `{"table":"clientes","extra":1}`, http.StatusBadRequest, "MAP001"},
		{"letter keys", `{"table":"clientes","mapping":{"A":"full_name"}}`, http.StatusBadRequest, "MAP001"},
		{"column not in header", `{"table":"clientes","mapping":{"9":"full_name"}}`, http.StatusBadRequest, "MAP001"},
		{"duplicate target", `{"table":"clientes","mapping":{"1":"age","2":"age"}}`, http.StatusBadRequest, "MAP001"},
		{"missing table", `{"table":"nope","mapping":{"1":"full_name"}}`, http.StatusNotFound, "TBL001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name := newUpload()
			rec := env.do(t, importRequest(name, tt.body))
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantErr, decode[ErrorResponse](t, rec).Code)

			_, err := env.store.Path(name)
			assert.ErrorIs(t, err, upload.ErrNotFound, "upload must be removed after a failed import")
		})
	}

	rec := env.do(t, importRequest("../../etc/passwd", `{"table":"clientes"}`))
	assert.Equal(t, http.StatusNotFound, rec.Code, "path traversal never reaches the handler")

	rec = env.do(t, importRequest("upload_nothex.xlsx", `{"table":"clientes"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "UPL001", decode[ErrorResponse](t, rec).Code)
}

func TestImport_UnknownTargetColumnFailsEachRow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, uploadRequest(t, "clientes.xlsx", "clientes", xlsx(t, clientesRows)))
	require.Equal(t, http.StatusCreated, rec.Code)
	name := decode[core.Inspection](t, rec).Upload

	rec = env.do(t, importRequest(name, `{"table":"clientes","mapping":{"1":"full_name","2":"edad"}}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var outcome struct {
		Imported int `json:"imported"`
		Failed   int `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.Equal(t, 0, outcome.Imported)
	assert.Equal(t, 2, outcome.Failed)
	assert.Contains(t, rec.Body.String(), `column \"edad\" does not exist in table \"clientes\"`)
}

func TestDiscardUpload(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, uploadRequest(t, "clientes.xlsx", "clientes", xlsx(t, clientesRows)))
	require.Equal(t, http.StatusCreated, rec.Code)
	name := decode[core.Inspection](t, rec).Upload

	for i := 0; i < 2; i++ {
		rec = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/uploads/"+name, nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/uploads/not-an-upload", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIKeyRequired(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Security.RequireAPIKey = true
		c.Security.APIKeys = []string{"s3cret"}
	})

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/tables", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/tables", nil)
	req.Header.Set("X-API-Key", "s3cret")
	rec = env.do(t, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "health check stays open")
}

func TestUploadRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, UploadLimit: 1}
	})

	rec := env.do(t, uploadRequest(t, "a.xlsx", "clientes", xlsx(t, clientesRows)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, uploadRequest(t, "b.xlsx", "clientes", xlsx(t, clientesRows)))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/tables", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "reads use the general budget")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{upload.ErrTooLarge, http.StatusRequestEntityTooLarge},
		{upload.ErrNotFound, http.StatusNotFound},
		{core.ErrInvalidMapping, http.StatusBadRequest},
		{core.ErrTooManyImports, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "statusFor(%v)", tt.err)
	}
}
