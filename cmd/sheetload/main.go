// Command sheetload imports spreadsheet rows into an existing database table
// from the command line, using the same pipeline as the HTTP server.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sheetload/internal/config"
	"github.com/JonMunkholm/sheetload/internal/core"
	"github.com/JonMunkholm/sheetload/internal/database"
	"github.com/JonMunkholm/sheetload/internal/logging"
	"github.com/JonMunkholm/sheetload/internal/upload"
)

func main() {
	// A .env file fills in variables the shell did not set.
	_ = godotenv.Load()

	a := &app{}
	err := newRootCmd(a).Execute()
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is the state shared by subcommands once the root command has
// connected to the database.
type app struct {
	dbURL    string
	logLevel string

	db      database.DB
	service *core.Service
	tmpDir  string
}

// newRootCmd builds the command tree. The caller closes a once Execute
// returns.
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "sheetload",
		Short: "Import .xlsx rows into an existing database table",
		Long: `Read the first worksheet of an .xlsx workbook, map its header columns to
the columns of an existing table and insert one row per data row.

The database comes from --db or DATABASE_URL (postgres://... or sqlite:<path>).
Rows the database rejects are reported with their spreadsheet row number;
the remaining rows are still imported.`,
		Example: `
  # List tables that can receive rows
  sheetload tables --db sqlite:./app.db

  # Show headers and suggested column matches
  sheetload inspect clientes.xlsx --table clientes

  # Import with an explicit mapping (column number or letter = table column)
  sheetload import clientes.xlsx --table clientes --map 1=full_name --map B=age

  # Import using the suggested matches
  sheetload import clientes.xlsx --table clientes --suggested
`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.dbURL, "db", "", "Database URL (overrides DATABASE_URL)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "Log level: debug|info|warn|error")

	root.AddCommand(
		newTablesCmd(a),
		newColumnsCmd(a),
		newInspectCmd(a),
		newImportCmd(a),
	)
	return root
}

// open loads configuration and builds the service. Uploads go to a private
// temporary directory, so a CLI run never touches the server's uploads.
func (a *app) open(cmd *cobra.Command) error {
	logger := logging.New(cmd.ErrOrStderr(), a.logLevel, "text")
	cmd.SetContext(logging.NewContext(cmd.Context(), logger))

	if a.dbURL != "" {
		if err := os.Setenv("DATABASE_URL", a.dbURL); err != nil {
			return err
		}
	}

	dbCfg, upCfg, err := config.LoadDatabase()
	if err != nil {
		return err
	}

	db, err := database.Open(cmd.Context(), dbCfg)
	if err != nil {
		return err
	}

	tmp, err := os.MkdirTemp("", "sheetload-*")
	if err != nil {
		db.Close()
		return fmt.Errorf("create work directory: %w", err)
	}

	store, err := upload.NewStore(filepath.Join(tmp, "uploads"), upCfg.MaxFileSize)
	if err != nil {
		db.Close()
		os.RemoveAll(tmp)
		return err
	}

	a.db = db
	a.tmpDir = tmp
	a.service = core.NewService(db, store, core.Options{
		MaxConcurrentImports: 1,
		MaxWaitTime:          upCfg.MaxWaitTime,
		ImportTimeout:        upCfg.Timeout,
	})
	return nil
}

func (a *app) close() error {
	if a.db != nil {
		a.db.Close()
		a.db = nil
	}
	if a.tmpDir != "" {
		err := os.RemoveAll(a.tmpDir)
		a.tmpDir = ""
		return err
	}
	return nil
}

// stage copies a workbook from disk into the service's upload store.
func (a *app) stage(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return a.service.SaveUpload(ctx, filepath.Base(path), f)
}

func printf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format, args...)
}
