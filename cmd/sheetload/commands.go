package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sheetload/internal/core"
)

func newTablesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables that can receive rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tables, err := a.service.ListTables(cmd.Context())
			if err != nil {
				return err
			}
			for _, t := range tables {
				printf(cmd.OutOrStdout(), "%s\n", t)
			}
			return nil
		},
	}
}

func newColumnsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "columns <table>",
		Short: "Show a table's columns in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cols, err := a.service.TableColumns(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "COLUMN\tTYPE")
			for _, c := range cols {
				fmt.Fprintf(tw, "%s\t%s\n", c.Name, c.DataType)
			}
			return tw.Flush()
		},
	}
}

func newInspectCmd(a *app) *cobra.Command {
	var table string

	cmd := &cobra.Command{
		Use:   "inspect <file.xlsx>",
		Short: "Show a workbook's headers next to the table's columns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name, err := a.stage(ctx, args[0])
			if err != nil {
				return err
			}
			defer a.service.DiscardUpload(name)

			insp, err := a.service.InspectUpload(ctx, name, table)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printf(out, "Sheet %q: %s data rows\n\n", insp.Sheet, humanize.Comma(int64(insp.DataRows)))

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "COL\tHEADER\tSUGGESTED")
			for _, c := range insp.Surface.Choices {
				suggested := c.Suggested
				if suggested == "" {
					suggested = "-"
				}
				fmt.Fprintf(tw, "%d (%s)\t%s\t%s\n", c.Header.Index, c.Header.Letter, c.Header.Name, suggested)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			printf(out, "\nColumns of %s:", insp.Table)
			for _, c := range insp.Columns {
				printf(out, " %s", c.Name)
			}
			printf(out, "\n")
			return nil
		},
	}

	cmd.Flags().StringVarP(&table, "table", "t", "", "Target table")
	_ = cmd.MarkFlagRequired("table")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var (
		table     string
		pairs     []string
		suggested bool
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "import <file.xlsx>",
		Short: "Insert a workbook's rows into a table",
		Long: `Insert every data row of the workbook's first sheet into the table.

Each --map pairs a spreadsheet column, by 1-based number or letter, with a
table column. Unmapped spreadsheet columns are ignored. With --suggested,
headers are matched to columns by name (lowercased, spaces as underscores).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(pairs) > 0 && suggested {
				return errors.New("use either --map or --suggested, not both")
			}

			ctx := cmd.Context()
			name, err := a.stage(ctx, args[0])
			if err != nil {
				return err
			}

			mapping, err := core.ParseMappingPairs(pairs)
			if err != nil {
				a.service.DiscardUpload(name)
				return userError(err)
			}
			if suggested {
				insp, err := a.service.InspectUpload(ctx, name, table)
				if err != nil {
					a.service.DiscardUpload(name)
					return err
				}
				mapping = insp.Surface.SuggestedMapping()
			}

			outcome, err := a.service.MapAndImport(ctx, core.ImportRequest{
				Upload:  name,
				Table:   table,
				Mapping: mapping,
			})
			if outcome != nil {
				if werr := writeOutcome(cmd.OutOrStdout(), outcome, asJSON); werr != nil {
					return werr
				}
			}
			return userError(err)
		},
	}

	cmd.Flags().StringVarP(&table, "table", "t", "", "Target table")
	cmd.Flags().StringArrayVarP(&pairs, "map", "m", nil, "Column mapping COL=column, e.g. 1=full_name or B=age (repeatable)")
	cmd.Flags().BoolVar(&suggested, "suggested", false, "Map headers to same-named columns")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the outcome as JSON")
	_ = cmd.MarkFlagRequired("table")
	return cmd
}

// writeOutcome prints the per-row failures and the summary line.
func writeOutcome(w io.Writer, o *core.ImportOutcome, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(o)
	}

	for _, f := range o.Failures {
		msg := core.MapRowMessage(f.Message)
		printf(w, "row %d: %s [%s]\n", f.Row, f.Message, msg.Code)
	}
	if o.Skipped > 0 {
		printf(w, "%s blank rows skipped\n", humanize.Comma(int64(o.Skipped)))
	}
	printf(w, "%s\n", o.Summary())
	return nil
}

// userError prefixes err with its coded message when one is known. Errors
// that only map to the generic message are returned as they are.
func userError(err error) error {
	if !core.IsUserFacing(err) {
		return err
	}
	return fmt.Errorf("%s: %w", core.FormatUserError(err), err)
}
