package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mailingest-engine/internal/coerce"
	"mailingest-engine/internal/config"
	"mailingest-engine/internal/materialize"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and report definitions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, res, err := loadConfig()
		if err != nil {
			return err
		}

		// Checks that need the compiled forms.
		if _, err := coerce.CompileAll(cfg.Reports); err != nil {
			res.Errors = append(res.Errors, err.Error())
		}
		if _, err := materialize.New(cfg.ArchiveDir(), cfg.Archive.Filename); err != nil {
			res.Errors = append(res.Errors, err.Error())
		}

		out := cmd.OutOrStdout()
		for _, w := range res.Warnings {
			fmt.Fprintf(out, "warning: %s\n", w)
		}
		for _, e := range res.Errors {
			fmt.Fprintf(out, "error: %s\n", e)
		}
		if len(res.Errors) > 0 {
			return fmt.Errorf("%s: %d error(s)", cfgPath, len(res.Errors))
		}
		fmt.Fprintf(out, "%s: ok (%d reports, dedup=%s, store=%s)\n",
			cfgPath, len(cfg.Reports), cfg.Dedup.Source, cfg.Store.Driver)
		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration if none exists",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		created, err := config.EnsureUserConfig(cfgPath)
		if err != nil {
			return fmt.Errorf("config bootstrap failed: %w", err)
		}
		if created {
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s; set mailbox.address, tenant_id and client_id, then store the secret with `mailingest secret set`\n", cfgPath)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", cfgPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd, initCmd)
}
