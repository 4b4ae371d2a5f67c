package core

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/JonMunkholm/sheetload/internal/database"
	"github.com/JonMunkholm/sheetload/internal/logging"
	"github.com/JonMunkholm/sheetload/internal/schema"
	"github.com/JonMunkholm/sheetload/internal/spreadsheet"
	"github.com/JonMunkholm/sheetload/internal/upload"
)

// Options tunes a Service. Zero fields select the defaults.
type Options struct {
	MaxConcurrentImports int
	MaxWaitTime          time.Duration
	ImportTimeout        time.Duration // 0 disables the per-import deadline
}

// Service runs the upload, inspect and import steps against one database.
type Service struct {
	db            database.DB
	inspector     *schema.Inspector
	uploads       *upload.Store
	limiter       *ImportLimiter
	importTimeout time.Duration
}

// NewService creates a Service.
func NewService(db database.DB, uploads *upload.Store, opts Options) *Service {
	return &Service{
		db:            db,
		inspector:     schema.NewInspector(db),
		uploads:       uploads,
		limiter:       NewImportLimiter(opts.MaxConcurrentImports, opts.MaxWaitTime),
		importTimeout: opts.ImportTimeout,
	}
}

// ListTables returns the tables rows can be imported into, by name.
func (s *Service) ListTables(ctx context.Context) ([]string, error) {
	tables, err := s.inspector.Tables(ctx)
	return tables, wrap("list tables", err)
}

// TableColumns returns a table's columns in physical order.
func (s *Service) TableColumns(ctx context.Context, table string) ([]schema.TableColumn, error) {
	if err := ValidateTableName(table); err != nil {
		return nil, err
	}
	cols, err := s.inspector.Columns(ctx, table)
	return cols, wrap("table columns", err)
}

// SaveUpload stores a client's workbook and returns the server-side name
// later steps refer to it by.
func (s *Service) SaveUpload(ctx context.Context, clientName string, r io.Reader) (string, error) {
	name, err := s.uploads.Save(clientName, r)
	if err != nil {
		return "", wrap("save upload", err)
	}
	logging.WithFields(ctx, clientLogArgs(ctx)...).Info("upload stored", "upload", name, "client_name", clientName)
	return name, nil
}

// Inspection is what a client needs to build a mapping for an upload.
type Inspection struct {
	Upload   string                    `json:"upload"`
	Table    string                    `json:"table"`
	Sheet    string                    `json:"sheet"`
	DataRows int                       `json:"data_rows"`
	Headers  []spreadsheet.HeaderEntry `json:"headers"`
	Columns  []schema.TableColumn      `json:"columns"`
	Surface  MappingSurface            `json:"surface"`
}

// InspectUpload reads an upload's headers and the target table's columns.
// The upload is left in place for MapAndImport or DiscardUpload.
func (s *Service) InspectUpload(ctx context.Context, name, table string) (*Inspection, error) {
	const op = "inspect upload"

	if err := ValidateTableName(table); err != nil {
		return nil, err
	}

	wb, err := s.openUpload(name)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer wb.Close()

	if err := wb.CheckHasData(); err != nil {
		return nil, wrap(op, err)
	}
	headers, err := wb.Headers()
	if err != nil {
		return nil, wrap(op, err)
	}

	columns, err := s.inspector.Columns(ctx, table)
	if err != nil {
		return nil, wrap(op, err)
	}

	return &Inspection{
		Upload:   name,
		Table:    table,
		Sheet:    wb.SheetName(),
		DataRows: wb.HighestRow() - 1,
		Headers:  headers,
		Columns:  columns,
		Surface:  NewMappingSurface(table, headers, columns),
	}, nil
}

// MapAndImport inserts an upload's rows into req.Table using req.Mapping.
//
// The upload is deleted before MapAndImport returns, whatever the outcome,
// so a mapping can only ever be applied once. On a fatal error part-way
// through, the rows handled so far are returned alongside the error.
func (s *Service) MapAndImport(ctx context.Context, req ImportRequest) (*ImportOutcome, error) {
	const op = "map and import"

	if !upload.ValidName(req.Upload) {
		return nil, invalid(op, upload.ErrInvalidName, "%q", req.Upload)
	}
	defer s.discard(ctx, req.Upload)

	if err := req.Validate(); err != nil {
		return nil, err
	}

	release, err := s.limiter.Acquire(ctx)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer release()

	if s.importTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.importTimeout)
		defer cancel()
	}

	wb, err := s.openUpload(req.Upload)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer wb.Close()

	if err := wb.CheckHasData(); err != nil {
		return nil, wrap(op, err)
	}
	headers, err := wb.Headers()
	if err != nil {
		return nil, wrap(op, err)
	}
	if err := ValidateMapping(req.Mapping, headers); err != nil {
		return nil, err
	}

	allow, err := s.inspector.AllowList(ctx, req.Table)
	if err != nil {
		return nil, wrap(op, err)
	}

	logging.WithFields(ctx, clientLogArgs(ctx)...).
		Info("import started",
			"upload", req.Upload,
			"table", req.Table,
			"mapped_columns", len(req.Mapping.Targets()),
			"data_rows", wb.HighestRow()-1,
		)

	return NewRowImporter(s.db).Import(ctx, wb, req.Mapping, req.Table, allow)
}

// DiscardUpload deletes an upload that will not be imported.
func (s *Service) DiscardUpload(name string) error {
	return wrap("discard upload", s.uploads.Remove(name))
}

func (s *Service) discard(ctx context.Context, name string) {
	if err := s.uploads.Remove(name); err != nil {
		logging.FromContext(ctx).Error("failed to remove upload", "upload", name, "error", err)
	}
}

func (s *Service) openUpload(name string) (*spreadsheet.Workbook, error) {
	path, err := s.uploads.Path(name)
	if err != nil {
		return nil, err
	}
	wb, err := spreadsheet.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return wb, nil
}

// LimiterStatus reports import slot usage.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// WaitForImports blocks until running imports finish or ctx is done.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// Ping checks the database connection.
func (s *Service) Ping(ctx context.Context) error {
	return wrap("ping database", s.db.Ping(ctx))
}

// MaxUploadSize returns the upload size limit in bytes.
func (s *Service) MaxUploadSize() int64 {
	return s.uploads.MaxSize()
}
