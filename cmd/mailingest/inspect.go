package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"mailingest-engine/internal/extract"
)

var inspectReport string

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE",
	Short: "Parse a saved report attachment and print the coerced rows",
	Long: `Runs extraction and coercion on a local HTML file without touching the
mailbox or the store. Useful when a report's layout changes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.close()

		rep, err := a.report(inspectReport)
		if err != nil {
			return err
		}
		b, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		doc, err := extract.Parse(bytes.NewReader(b))
		if err != nil {
			return err
		}
		rows, err := doc.Table(rep.TableSelector)
		if err != nil {
			return err
		}
		legend := doc.Legend(rep.LegendSelector)

		type line struct {
			Line   int               `json:"line"`
			Key    []string          `json:"key,omitempty"`
			Fields map[string]string `json:"fields,omitempty"`
			Status string            `json:"status,omitempty"`
			Errors []string          `json:"errors,omitempty"`
		}
		out := cmd.OutOrStdout()
		for {
			raw, err := rows.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}

			l := line{Line: raw.Line, Status: legend.Describe(raw.Color)}
			rec, problems, err := rep.Coerce(raw)
			for _, p := range problems {
				l.Errors = append(l.Errors, p.Error())
			}
			if err != nil {
				l.Errors = append(l.Errors, err.Error())
			} else {
				l.Key = rec.Key
				l.Fields = make(map[string]string, len(rec.Fields))
				for name, v := range rec.Fields {
					l.Fields[name] = v.String()
				}
			}
			if err := writeJSON(out, l); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "header: %q\n", rows.Header())
		return nil
	},
}

func init() {
	inspectCmd.Flags().StringVarP(&inspectReport, "report", "r", "download", "report definition to apply")
	rootCmd.AddCommand(inspectCmd)
}
