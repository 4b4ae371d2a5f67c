package core

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/sheetload/internal/schema"
	"github.com/JonMunkholm/sheetload/internal/spreadsheet"
	"github.com/JonMunkholm/sheetload/internal/upload"
)

// workbookBytes builds an .xlsx whose first sheet holds rows, starting at A1.
func workbookBytes(t *testing.T, rows [][]any) []byte {
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

func newTestService(t *testing.T, ddl ...string) (*Service, *upload.Store) {
	t.Helper()

	db := openTestDB(t, ddl...)
	store, err := upload.NewStore(filepath.Join(t.TempDir(), "uploads"), 1<<20)
	require.NoError(t, err)

	svc := NewService(db, store, Options{MaxWaitTime: 100 * time.Millisecond})
	return svc, store
}

func saveWorkbook(t *testing.T, svc *Service, rows [][]any) string {
	t.Helper()
	name, err := svc.SaveUpload(context.Background(), "clientes.xlsx", bytes.NewReader(workbookBytes(t, rows)))
	require.NoError(t, err)
	return name
}

func assertUploadGone(t *testing.T, store *upload.Store, name string) {
	t.Helper()
	_, err := store.Path(name)
	assert.ErrorIs(t, err, upload.ErrNotFound, "upload %s still exists", name)
	_, statErr := os.Stat(filepath.Join(store.Dir(), name))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

const scenarioDDL = `CREATE TABLE clientes (full_name TEXT, age TEXT)`

func TestService_ListTablesAndColumns(t *testing.T) {
	svc, _ := newTestService(t, scenarioDDL, peopleDDL)
	ctx := context.Background()

	tables, err := svc.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"clientes", "people"}, tables)

	cols, err := svc.TableColumns(ctx, "clientes")
	require.NoError(t, err)
	assert.Equal(t, []schema.TableColumn{{Name: "full_name", DataType: "TEXT"}, {Name: "age", DataType: "TEXT"}}, cols)

	_, err = svc.TableColumns(ctx, "missing")
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = svc.TableColumns(ctx, "bad name")
	assert.Equal(t, KindInvalidInput, KindOf(err))
}

func TestService_InspectUpload(t *testing.T) {
	svc, store := newTestService(t, scenarioDDL)
	name := saveWorkbook(t, svc, [][]any{
		{"Nome", "Idade"},
		{"Ana", "30"},
	})

	insp, err := svc.InspectUpload(context.Background(), name, "clientes")
	require.NoError(t, err)

	assert.Equal(t, name, insp.Upload)
	assert.Equal(t, 1, insp.DataRows)
	assert.Equal(t, []spreadsheet.HeaderEntry{
		{Index: 1, Letter: "A", Name: "Nome"},
		{Index: 2, Letter: "B", Name: "Idade"},
	}, insp.Headers)
	assert.Len(t, insp.Columns, 2)
	assert.Len(t, insp.Surface.Choices, 2)

	// Inspection keeps the upload for the import step.
	_, err = store.Path(name)
	assert.NoError(t, err)
}

func TestService_InspectUpload_Errors(t *testing.T) {
	svc, _ := newTestService(t, scenarioDDL)
	ctx := context.Background()

	headerOnly := saveWorkbook(t, svc, [][]any{{"Nome", "Idade"}})
	_, err := svc.InspectUpload(ctx, headerOnly, "clientes")
	assert.ErrorIs(t, err, spreadsheet.ErrEmptyFile)

	good := saveWorkbook(t, svc, [][]any{{"Nome"}, {"Ana"}})
	_, err = svc.InspectUpload(ctx, good, "nope")
	assert.ErrorIs(t, err, schema.ErrTableNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = svc.InspectUpload(ctx, upload.NewName(), "clientes")
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = svc.InspectUpload(ctx, "../secret.xlsx", "clientes")
	assert.ErrorIs(t, err, upload.ErrInvalidName)
}

func TestService_MapAndImport_AnaScenario(t *testing.T) {
	svc, store := newTestService(t, scenarioDDL)
	name := saveWorkbook(t, svc, [][]any{
		{"Nome", "Idade"},
		{"Ana", "30"},
		{"", ""},
	})

	out, err := svc.MapAndImport(context.Background(), ImportRequest{
		Upload:  name,
		Table:   "clientes",
		Mapping: ColumnMapping{1: "full_name", 2: "age"},
	})
	require.NoError(t, err)

	require.Len(t, out.Successes, 1)
	assert.Empty(t, out.Failures)

	rec := out.Successes[0]
	assert.Equal(t, []string{"full_name", "age"}, rec.Columns())
	assert.Equal(t, "Ana", fieldOf(t, rec, "full_name").String())
	assert.Equal(t, "30", fieldOf(t, rec, "age").String())

	assertUploadGone(t, store, name)
}

func TestService_MapAndImport_UnknownTargetColumn(t *testing.T) {
	svc, store := newTestService(t, scenarioDDL)
	name := saveWorkbook(t, svc, [][]any{
		{"Nome", "Idade"},
		{"Ana", "30"},
	})

	out, err := svc.MapAndImport(context.Background(), ImportRequest{
		Upload:  name,
		Table:   "clientes",
		Mapping: ColumnMapping{1: "full_name", 2: "idade"},
	})
	require.NoError(t, err)

	assert.Empty(t, out.Successes)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, 2, out.Failures[0].Row)
	assert.NotEmpty(t, out.Failures[0].Message)
	assert.Equal(t, "MAP002", MapRowMessage(out.Failures[0].Message).Code)

	assertUploadGone(t, store, name)
}

func TestService_MapAndImport_NumbersAndDates(t *testing.T) {
	svc, _ := newTestService(t, `CREATE TABLE events (name TEXT, seats INTEGER, price REAL, held_on TEXT)`)

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"Name", "Seats", "Price", "Date"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"Launch", 120, 19.5, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	f.Close()

	name, err := svc.SaveUpload(context.Background(), "events.xlsx", bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	out, err := svc.MapAndImport(context.Background(), ImportRequest{
		Upload:  name,
		Table:   "events",
		Mapping: ColumnMapping{1: "name", 2: "seats", 3: "price", 4: "held_on"},
	})
	require.NoError(t, err)
	require.Len(t, out.Successes, 1)

	rec := out.Successes[0]
	assert.Equal(t, spreadsheet.Number, fieldOf(t, rec, "seats").Kind())
	held := fieldOf(t, rec, "held_on")
	assert.Equal(t, spreadsheet.Date, held.Kind())
	assert.Equal(t, "2024-03-15", held.String())
}

func TestService_MapAndImport_RemovesUploadOnFailure(t *testing.T) {
	tests := []struct {
		name    string
		rows    [][]any
		table   string
		mapping ColumnMapping
		kind    Kind
	}{
		{
			name:    "missing table",
			rows:    [][]any{{"Nome"}, {"Ana"}},
			table:   "missing",
			mapping: ColumnMapping{1: "full_name"},
			kind:    KindNotFound,
		},
		{
			name:    "invalid table name",
			rows:    [][]any{{"Nome"}, {"Ana"}},
			table:   "clientes; DROP TABLE clientes",
			mapping: ColumnMapping{1: "full_name"},
			kind:    KindInvalidInput,
		},
		{
			name:    "mapping refers to column without header",
			rows:    [][]any{{"Nome"}, {"Ana"}},
			table:   "clientes",
			mapping: ColumnMapping{5: "full_name"},
			kind:    KindInvalidInput,
		},
		{
			name:    "header only",
			rows:    [][]any{{"Nome"}},
			table:   "clientes",
			mapping: ColumnMapping{1: "full_name"},
			kind:    KindInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestService(t, scenarioDDL)
			name := saveWorkbook(t, svc, tt.rows)

			_, err := svc.MapAndImport(context.Background(), ImportRequest{
				Upload: name, Table: tt.table, Mapping: tt.mapping,
			})
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err), "error: %v", err)
			assertUploadGone(t, store, name)
		})
	}
}

func TestService_MapAndImport_CorruptUploadRemoved(t *testing.T) {
	svc, store := newTestService(t, scenarioDDL)

	name, err := svc.SaveUpload(context.Background(), "broken.xlsx", bytes.NewReader([]byte("definitely not a zip")))
	require.NoError(t, err)

	_, err = svc.MapAndImport(context.Background(), ImportRequest{
		Upload: name, Table: "clientes", Mapping: ColumnMapping{1: "full_name"},
	})
	assert.ErrorIs(t, err, spreadsheet.ErrCorrupt)
	assertUploadGone(t, store, name)
}

func TestService_MapAndImport_MappingUsedOnce(t *testing.T) {
	svc, _ := newTestService(t, scenarioDDL)
	name := saveWorkbook(t, svc, [][]any{{"Nome"}, {"Ana"}})
	req := ImportRequest{Upload: name, Table: "clientes", Mapping: ColumnMapping{1: "full_name"}}

	_, err := svc.MapAndImport(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.MapAndImport(context.Background(), req)
	assert.ErrorIs(t, err, upload.ErrNotFound)
}

func TestService_MapAndImport_Busy(t *testing.T) {
	svc, store := newTestService(t, scenarioDDL)
	name := saveWorkbook(t, svc, [][]any{{"Nome"}, {"Ana"}})

	release, err := svc.limiter.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	_, err = svc.MapAndImport(context.Background(), ImportRequest{
		Upload: name, Table: "clientes", Mapping: ColumnMapping{1: "full_name"},
	})
	assert.ErrorIs(t, err, ErrTooManyImports)
	assert.Equal(t, KindBusy, KindOf(err))
	assertUploadGone(t, store, name)
}

func TestService_DiscardUpload(t *testing.T) {
	svc, store := newTestService(t, scenarioDDL)
	name := saveWorkbook(t, svc, [][]any{{"Nome"}, {"Ana"}})

	require.NoError(t, svc.DiscardUpload(name))
	assertUploadGone(t, store, name)
	require.NoError(t, svc.DiscardUpload(name))

	assert.ErrorIs(t, svc.DiscardUpload("nope.xlsx"), upload.ErrInvalidName)
}

func TestService_SweepUploads(t *testing.T) {
	svc, store := newTestService(t, scenarioDDL)
	name := saveWorkbook(t, svc, [][]any{{"Nome"}, {"Ana"}})

	past := time.Now().Add(-3 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(store.Dir(), name), past, past))

	assert.Equal(t, 1, svc.sweepUploads(time.Hour))
	assertUploadGone(t, store, name)
}

func TestService_Ping(t *testing.T) {
	svc, _ := newTestService(t)
	assert.NoError(t, svc.Ping(context.Background()))
}

func TestClientFromContext(t *testing.T) {
	ctx := ContextWithClient(context.Background(), "203.0.113.7", "curl/8.5")
	ip, ua := ClientFromContext(ctx)
	assert.Equal(t, "203.0.113.7", ip)
	assert.Equal(t, "curl/8.5", ua)
	assert.Equal(t, []any{"client_ip", "203.0.113.7", "user_agent", "curl/8.5"}, clientLogArgs(ctx))

	ip, ua = ClientFromContext(context.Background())
	assert.Empty(t, ip)
	assert.Empty(t, ua)
	assert.Empty(t, clientLogArgs(context.Background()))
}
