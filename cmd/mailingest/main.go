package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgPath     string
	reportsPath string
	debug       bool
)

var rootCmd = &cobra.Command{
	Use:   "mailingest",
	Short: "Ingest emailed status reports into a database",
	Long: `mailingest reads a Microsoft 365 mailbox through the Graph API, extracts the
status tables attached to report emails, and merges them into a SQL store.
Each (message, attachment) pair is processed at most once across runs.`,
	SilenceUsage: true,
}

func init() {
	def := os.Getenv("MAILINGEST_CONFIG")
	if def == "" {
		def = "config.yml"
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", def, "config file")
	rootCmd.PersistentFlags().StringVar(&reportsPath, "reports", "", "extra report definitions (default reports.yml next to the config)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "verbose logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
