// Package ingest runs one pass over the mailbox: list messages, skip pairs
// seen before, extract and merge report tables, archive attachments, and
// record each committed attachment.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mailingest-engine/internal/coerce"
	"mailingest-engine/internal/dedup"
	"mailingest-engine/internal/domain"
	"mailingest-engine/internal/extract"
	"mailingest-engine/internal/graph"
	"mailingest-engine/internal/ledger"
	"mailingest-engine/internal/logger"
	"mailingest-engine/internal/materialize"
	"mailingest-engine/internal/store"
	"mailingest-engine/internal/upsert"
)

type Deps struct {
	Client  *graph.Client
	Mailbox string
	Guard   dedup.Guard
	Ledger  *ledger.Ledger
	DB      *store.DB
	Reports []*coerce.Report
	Archive *materialize.Materializer // nil leaves attachments unsaved
	Workers int
	Log     *logger.Logger
}

type Runner struct {
	Deps
	engine *upsert.Engine
}

func NewRunner(d Deps) (*Runner, error) {
	switch {
	case d.Client == nil:
		return nil, errors.New("ingest: no graph client")
	case d.Mailbox == "":
		return nil, errors.New("ingest: no mailbox")
	case d.Guard == nil:
		return nil, errors.New("ingest: no dedup guard")
	case d.Ledger == nil:
		return nil, errors.New("ingest: no ledger")
	case d.DB == nil:
		return nil, errors.New("ingest: no store")
	}
	if d.Workers <= 0 {
		d.Workers = 4
	}
	if d.Log == nil {
		d.Log = logger.Discard()
	}
	return &Runner{Deps: d, engine: upsert.New(d.Log)}, nil
}

// Run processes every message in the folder once. It returns an error only
// for failures that end the run (authentication, listing messages, context
// cancellation); everything else is counted in the summary and logged.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	sum := Summary{RunID: uuid.NewString(), Started: time.Now()}
	log := r.Log.With("run " + sum.RunID[:8])

	log.Info("start mailbox=%s reports=%d archive=%v", r.Mailbox, len(r.Reports), r.Archive != nil)

	msgs := r.Client.Messages(r.Mailbox)
	for msgs.HasNext() {
		page, err := msgs.Next(ctx)
		if err != nil {
			sum.Finished = time.Now()
			return sum, fmt.Errorf("list messages: %w", err)
		}
		sum.Pages++

		slots := r.fetchAttachments(ctx, page)

		for i, m := range page {
			sum.Messages++
			if !m.HasAttachments {
				sum.NoAttachments++
				log.Info("skip no-attachments message: %s", m.ID)
				continue
			}
			if err := slots[i].err; err != nil {
				if errors.Is(err, domain.ErrAuth) || ctx.Err() != nil {
					sum.Finished = time.Now()
					return sum, fmt.Errorf("list attachments of %s: %w", m.ID, err)
				}
				sum.Failed++
				log.Error("list attachments of %s: %v", m.ID, err)
				continue
			}
			for _, a := range slots[i].atts {
				if err := r.handle(ctx, log, m, a, &sum); err != nil {
					sum.Finished = time.Now()
					return sum, err
				}
			}
		}
	}

	sum.Finished = time.Now()
	log.Info("done %s", sum)
	return sum, nil
}

type slot struct {
	atts []graph.Attachment
	err  error
}

// fetchAttachments lists the attachments of a page's messages with a bounded
// pool. Results are indexed like page so processing keeps server order.
func (r *Runner) fetchAttachments(ctx context.Context, page []graph.Message) []slot {
	slots := make([]slot, len(page))

	var g errgroup.Group
	g.SetLimit(r.Workers)
	for i, m := range page {
		if !m.HasAttachments {
			continue
		}
		g.Go(func() error {
			atts, err := r.Client.AllAttachments(ctx, r.Mailbox, m.ID)
			slots[i] = slot{atts: atts, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return slots
}

// handle processes one pair. A non-nil error ends the run.
func (r *Runner) handle(ctx context.Context, log *logger.Logger, m graph.Message, a graph.Attachment, sum *Summary) error {
	sum.Attachments++

	done, err := r.Guard.AlreadyProcessed(ctx, m.ID, a.Name)
	if err != nil {
		sum.Failed++
		log.Error("dedup lookup %s/%q: %v", m.ID, a.Name, err)
		return ctx.Err()
	}
	if done {
		sum.Skipped++
		log.Info("skip attachment %s for message: %s", a.Name, m.ID)
		return nil
	}

	if !a.IsFile() {
		sum.NotFile++
		log.Info("skip attachment %q of %s: not a file attachment (%s)", a.Name, m.ID, a.ODataType)
		return nil
	}

	rep := r.match(m, a)
	if rep == nil && r.Archive == nil {
		sum.Unmatched++
		log.Debug("skip attachment %q of %s: no report matches", a.Name, m.ID)
		return nil
	}

	data, err := a.Content()
	if err != nil {
		sum.Malformed++
		log.Warn("message %s: %v", m.ID, err)
		return nil
	}

	prov := domain.Provenance{MessageID: m.ID, AttachmentName: a.Name}
	stats, saved, err := r.commit(ctx, log, m, a, rep, data)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, domain.ErrMalformedAttachment):
		sum.Malformed++
		log.Warn("attachment %q of %s: %v", a.Name, m.ID, err)
		return nil
	default:
		sum.Failed++
		log.Error("attachment %q of %s: %v", a.Name, m.ID, err)
		return nil
	}

	sum.Processed++
	sum.add(stats)
	if saved != "" {
		sum.Saved++
	}

	if _, err := r.Ledger.Append(ledger.Entry{
		MessageID:      prov.MessageID,
		AttachmentName: prov.AttachmentName,
		SavedPath:      saved,
	}); err != nil {
		sum.Failed++
		log.Error("ledger append %s/%q: %v", m.ID, a.Name, err)
	}
	return nil
}

func (r *Runner) match(m graph.Message, a graph.Attachment) *coerce.Report {
	if !a.IsHTML() {
		return nil
	}
	for _, rep := range r.Reports {
		if rep.Matches(m.Subject, a.Name) {
			return rep
		}
	}
	return nil
}

// commit runs one attachment's transaction: merge the report table (if
// any), write the archive copy (if enabled) and record the attachment.
// Nothing is kept unless every step succeeds.
func (r *Runner) commit(ctx context.Context, log *logger.Logger, m graph.Message, a graph.Attachment, rep *coerce.Report, data []byte) (tableStats, string, error) {
	prov := domain.Provenance{MessageID: m.ID, AttachmentName: a.Name}

	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return tableStats{}, "", err
	}
	defer func() { _ = tx.Rollback() }()

	var stats tableStats
	report := ""
	if rep != nil {
		report = rep.Name
		if stats, err = r.mergeTable(ctx, log, tx, rep, data, prov); err != nil {
			return tableStats{}, "", err
		}
	}

	saved := ""
	if r.Archive != nil {
		path, err := r.Archive.Path(m, a)
		if err != nil {
			return tableStats{}, "", err
		}
		if saved, err = r.Archive.Save(data, path); err != nil {
			return tableStats{}, "", err
		}
	}

	if err := tx.MarkProcessed(ctx, store.LedgerRow{
		Provenance: prov,
		Report:     report,
		SavedPath:  saved,
		Records:    stats.inserted + stats.updated,
	}); err != nil {
		removeSaved(log, saved)
		return tableStats{}, "", err
	}
	if err := tx.Commit(); err != nil {
		removeSaved(log, saved)
		return tableStats{}, "", err
	}

	if rep != nil {
		log.Info("%s %q of %s: rows=%d inserted=%d updated=%d", rep.Name, a.Name, m.ID,
			stats.rows, stats.inserted, stats.updated)
	}
	if saved != "" {
		log.Info("saved %q -> %s", a.Name, saved)
	}
	return stats, saved, nil
}

func (r *Runner) mergeTable(ctx context.Context, log *logger.Logger, tx *store.Tx, rep *coerce.Report, data []byte, prov domain.Provenance) (tableStats, error) {
	var stats tableStats

	doc, err := extract.Parse(bytes.NewReader(data))
	if err != nil {
		return stats, err
	}
	rows, err := doc.Table(rep.TableSelector)
	if err != nil {
		return stats, err
	}
	var legend extract.Legend
	if log.Verbose() {
		legend = doc.Legend(rep.LegendSelector)
	}

	for {
		raw, err := rows.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, err
		}
		stats.rows++

		rec, problems, err := rep.Coerce(raw)
		for _, p := range problems {
			stats.fieldErrors++
			log.Debug("%s row %d: %v", rep.Name, raw.Line, p)
		}
		if err != nil {
			if errors.Is(err, domain.ErrInvalidKey) {
				stats.invalidKeys++
				log.Warn("%s row %d skipped: %v", rep.Name, raw.Line, err)
				continue
			}
			return stats, err
		}

		out, err := r.engine.Upsert(ctx, tx, rep.Schema, rec, prov)
		if err != nil {
			return stats, err
		}
		switch out {
		case upsert.Inserted:
			stats.inserted++
		case upsert.Updated:
			stats.updated++
		}
		if d := legend.Describe(raw.Color); d != "" {
			log.Debug("%s %v status %s", rep.Name, rec.Key, d)
		}
	}
	return stats, nil
}

func removeSaved(log *logger.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil {
		log.Warn("remove %s after failed commit: %v", path, err)
	}
}
