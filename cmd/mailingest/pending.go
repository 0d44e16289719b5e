package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mailingest-engine/internal/dedup"
	"mailingest-engine/internal/graph"
	"mailingest-engine/internal/ledger"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List attachments the next run would process",
	Long: `Walks the mailbox like run does and prints every file attachment that the
configured dedup source has not seen yet. Nothing is written.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := signalContext()
		defer cancel()

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
		client, err := a.graphClient()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		n := 0
		err = client.Pairs(ctx, a.cfg.Mailbox.Address, func(m graph.Message, att graph.Attachment) error {
			if !att.IsFile() {
				return nil
			}
			done, err := guard.AlreadyProcessed(ctx, m.ID, att.Name)
			if err != nil || done {
				return err
			}
			report := "-"
			for _, r := range a.reports {
				if att.IsHTML() && r.Matches(m.Subject, att.Name) {
					report = r.Name
					break
				}
			}
			n++
			fmt.Fprintf(out, "%s\t%s\t%s\t%q\t%q\n",
				m.ReceivedDateTime.Format("2006-01-02 15:04"), report, m.ID, m.Subject, att.Name)
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%d pending\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pendingCmd)
}
