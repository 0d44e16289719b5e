package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mailingest-engine/internal/dedup"
	"mailingest-engine/internal/ingest"
	"mailingest-engine/internal/ledger"
	"mailingest-engine/internal/materialize"
)

var runJSON bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process new report emails once and exit",
	Long: `Lists the configured mail folder, skips attachments handled by earlier runs,
merges matching report tables into the store and (optionally) archives
attachments to disk. Prints a summary when done.`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the summary as JSON")
	rootCmd.AddCommand(runCmd)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	unlock, err := ingest.Lock(a.cfg.LedgerPath() + ".lock")
	if err != nil {
		return err
	}
	defer func() { _ = unlock() }()

	l, err := ledger.Load(a.cfg.LedgerPath())
	if err != nil {
		return err
	}

	db, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	guard, err := dedup.New(a.cfg.Dedup.Source, l, db)
	if err != nil {
		return err
	}

	var archive *materialize.Materializer
	if a.cfg.Archive.SaveAttachments {
		if archive, err = materialize.New(a.cfg.ArchiveDir(), a.cfg.Archive.Filename); err != nil {
			return err
		}
		a.log.Debug("archiving attachments to %s", archive.Dir())
	}

	client, err := a.graphClient()
	if err != nil {
		return err
	}

	runner, err := ingest.NewRunner(ingest.Deps{
		Client:  client,
		Mailbox: a.cfg.Mailbox.Address,
		Guard:   guard,
		Ledger:  l,
		DB:      db,
		Reports: a.reports,
		Archive: archive,
		Workers: a.cfg.Fetch.Workers,
		Log:     a.log,
	})
	if err != nil {
		return err
	}

	a.log.Info("dedup source=%s ledger=%s store=%s", a.cfg.Dedup.Source, l.Path(), db.Driver())
	sum, err := runner.Run(ctx)
	if err != nil {
		a.log.Error("run %s aborted: %v", sum.RunID, err)
		return err
	}

	if runJSON {
		return writeJSON(cmd.OutOrStdout(), sum)
	}
	fmt.Fprintln(cmd.OutOrStdout(), sum.String())
	return nil
}
