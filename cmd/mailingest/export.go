package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mailingest-engine/internal/export"
)

var (
	exportReport string
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a report table to an XLSX file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.close()

		rep, err := a.report(exportReport)
		if err != nil {
			return err
		}
		out := exportOut
		if out == "" {
			out = rep.Schema.Table + ".xlsx"
		}

		ctx := context.Background()
		db, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		rows, err := db.List(ctx, rep.Schema)
		if err != nil {
			return err
		}

		f, err := os.Create(out)
		if err != nil {
			return err
		}
		if err := export.WriteXLSX(f, rep.Schema, rows); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows to %s\n", len(rows), out)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportReport, "report", "r", "download", "report to export")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default <table>.xlsx)")
	rootCmd.AddCommand(exportCmd)
}
