package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"mailingest-engine/internal/coerce"
	"mailingest-engine/internal/config"
	"mailingest-engine/internal/dedup"
	"mailingest-engine/internal/domain"
	"mailingest-engine/internal/graph"
	"mailingest-engine/internal/ledger"
	"mailingest-engine/internal/logger"
	"mailingest-engine/internal/materialize"
	"mailingest-engine/internal/store"
)

const mailbox = "ops@example.com"

type staticTokens struct{}

func (staticTokens) Token(context.Context) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "t", Expiry: time.Now().Add(time.Hour)}, nil
}

func downloadHTML(rows ...[3]string) string {
	var b strings.Builder
	b.WriteString(`<html><body><table>
<tr><td>Registration</td><td>WQAR Serial Number</td><td>Successful downloads</td><td>Last activity</td></tr>`)
	for _, r := range rows {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%s</td><td>Mon, Jan 08, 2024 14:03:09</td></tr>\n", r[0], r[1], r[2])
	}
	b.WriteString("</table></body></html>")
	return b.String()
}

func fileAttachment(name, contentType, body string) map[string]any {
	return map[string]any{
		"@odata.type":  graph.FileAttachmentType,
		"id":           "att-" + name,
		"name":         name,
		"contentType":  contentType,
		"size":         len(body),
		"contentBytes": base64.StdEncoding.EncodeToString([]byte(body)),
	}
}

// fakeGraph serves a folder split into pages, and per-message attachments.
type fakeGraph struct {
	mu          sync.Mutex
	pages       [][]map[string]any
	attachments map[string][]map[string]any
	status      map[string]int // message id -> forced status for its attachments
	listStatus  int            // forced status for message listing
	hits        map[string]int
	srv         *httptest.Server
}

func newFakeGraph(t *testing.T) *fakeGraph {
	f := &fakeGraph{
		attachments: map[string][]map[string]any{},
		status:      map[string]int{},
		hits:        map[string]int{},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGraph) addPage(msgs ...map[string]any) { f.pages = append(f.pages, msgs) }

func message(id, subject string, hasAttachments bool) map[string]any {
	return map[string]any{
		"id":               id,
		"subject":          subject,
		"hasAttachments":   hasAttachments,
		"receivedDateTime": "2024-01-08T15:00:00Z",
	}
}

func (f *fakeGraph) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[r.URL.Path]++

	writeJSON := func(v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	pageIdx := -1
	switch {
	case r.URL.Path == "/users/"+mailbox+"/mailFolders('Inbox')/messages":
		pageIdx = 0
	case strings.HasPrefix(r.URL.Path, "/messages-page/"):
		fmt.Sscanf(strings.TrimPrefix(r.URL.Path, "/messages-page/"), "%d", &pageIdx)
	}
	if pageIdx >= 0 && f.listStatus != 0 {
		http.Error(w, "forced", f.listStatus)
		return
	}
	if pageIdx >= 0 {
		body := map[string]any{"value": []map[string]any{}}
		if pageIdx < len(f.pages) {
			body["value"] = f.pages[pageIdx]
		}
		if pageIdx+1 < len(f.pages) {
			body["@odata.nextLink"] = fmt.Sprintf("%s/messages-page/%d", f.srv.URL, pageIdx+1)
		}
		writeJSON(body)
		return
	}

	prefix := "/users/" + mailbox + "/messages/"
	if strings.HasPrefix(r.URL.Path, prefix) && strings.HasSuffix(r.URL.Path, "/attachments") {
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, prefix), "/attachments")
		if code := f.status[id]; code != 0 {
			http.Error(w, "forced", code)
			return
		}
		writeJSON(map[string]any{"value": f.attachments[id]})
		return
	}
	http.NotFound(w, r)
}

type env struct {
	cfgDir string
	db     *store.DB
	graph  *fakeGraph
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open("sqlite", filepath.Join(dir, "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &env{cfgDir: dir, db: db, graph: newFakeGraph(t)}
}

type runOpts struct {
	source  string
	archive bool
	ledger  string
}

func (e *env) runner(t *testing.T, o runOpts) (*Runner, *ledger.Ledger) {
	t.Helper()
	reports, err := coerce.CompileAll([]config.Report{config.DownloadReport()})
	require.NoError(t, err)

	schemas := make([]domain.Schema, len(reports))
	for i, r := range reports {
		schemas[i] = r.Schema
	}
	require.NoError(t, e.db.EnsureSchema(context.Background(), schemas))

	if o.ledger == "" {
		o.ledger = "archive.json"
	}
	l, err := ledger.Load(filepath.Join(e.cfgDir, o.ledger))
	require.NoError(t, err)

	guard, err := dedup.New(o.source, l, e.db)
	require.NoError(t, err)

	var arch *materialize.Materializer
	if o.archive {
		arch, err = materialize.New(filepath.Join(e.cfgDir, "attachments"), config.DefaultFilename)
		require.NoError(t, err)
	}

	client := graph.NewClient(staticTokens{}, graph.Options{
		BaseURL:        e.graph.srv.URL,
		MaxRetries:     1,
		RetryBaseDelay: time.Millisecond,
	})
	r, err := NewRunner(Deps{
		Client:  client,
		Mailbox: mailbox,
		Guard:   guard,
		Ledger:  l,
		DB:      e.db,
		Reports: reports,
		Archive: arch,
		Workers: 2,
		Log:     logger.Discard(),
	})
	require.NoError(t, err)
	return r, l
}

func (e *env) count(t *testing.T) int {
	t.Helper()
	rep, err := coerce.Compile(config.DownloadReport())
	require.NoError(t, err)
	n, err := e.db.Count(context.Background(), rep.Schema)
	require.NoError(t, err)
	return n
}

func seedTwoPages(g *fakeGraph) {
	g.addPage(
		message("m1", "WGL status", true),
		message("m2", "hello", false),
	)
	g.addPage(
		message("m3", "WGL status", true),
	)
	g.attachments["m1"] = []map[string]any{
		fileAttachment("WGL Download Report.html", "text/html", downloadHTML(
			[3]string{"G-AAAA", "1", "5"},
			[3]string{"G-BBBB", "2", "7"},
		)),
		fileAttachment("notes.pdf", "application/pdf", "%PDF-1.4"),
	}
	g.attachments["m3"] = []map[string]any{
		fileAttachment("WGL Download Report.html", "text/html", downloadHTML(
			[3]string{"G-AAAA", "1", "6"},
			[3]string{"G-CCCC", "3", "1"},
		)),
		{"@odata.type": "#microsoft.graph.itemAttachment", "id": "x", "name": "forwarded"},
	}
}

func TestRun_MergesReportsAcrossPages(t *testing.T) {
	e := newEnv(t)
	seedTwoPages(e.graph)

	r, l := e.runner(t, runOpts{})
	sum, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Pages)
	assert.Equal(t, 3, sum.Messages)
	assert.Equal(t, 1, sum.NoAttachments)
	assert.Equal(t, 4, sum.Attachments)
	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, 1, sum.Unmatched)
	assert.Equal(t, 1, sum.NotFile)
	assert.Equal(t, 3, sum.Inserted)
	assert.Equal(t, 1, sum.Updated)
	assert.Equal(t, 0, sum.Failed)
	assert.NotEmpty(t, sum.RunID)

	assert.Equal(t, 3, e.count(t))
	assert.True(t, l.Contains("m1", "WGL Download Report.html"))
	assert.True(t, l.Contains("m3", "WGL Download Report.html"))
	assert.False(t, l.Contains("m1", "notes.pdf"))

	rep, err := coerce.Compile(config.DownloadReport())
	require.NoError(t, err)
	list, err := e.db.List(context.Background(), rep.Schema)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, int64(6), list[0].Fields["successful_downloads"].Int)
	assert.Equal(t, "m3", list[0].Provenance.MessageID)
	assert.Equal(t, "m1", list[1].Provenance.MessageID)
}

func TestRun_SecondRunIsNoOp(t *testing.T) {
	e := newEnv(t)
	seedTwoPages(e.graph)

	r, _ := e.runner(t, runOpts{})
	_, err := r.Run(context.Background())
	require.NoError(t, err)
	before, err := os.ReadFile(filepath.Join(e.cfgDir, "archive.json"))
	require.NoError(t, err)

	r2, l2 := e.runner(t, runOpts{})
	sum, err := r2.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Skipped)
	assert.Equal(t, 0, sum.Processed)
	assert.Equal(t, 0, sum.Inserted+sum.Updated)
	assert.Equal(t, 3, e.count(t))
	assert.Equal(t, 2, l2.Len())

	after, err := os.ReadFile(filepath.Join(e.cfgDir, "archive.json"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRun_StoreDedupIgnoresLedgerFile(t *testing.T) {
	e := newEnv(t)
	seedTwoPages(e.graph)

	r, l := e.runner(t, runOpts{source: config.DedupStore})
	_, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, l.Len(), "ledger still written as an audit trail")

	// A fresh, empty ledger must not cause reprocessing.
	r2, _ := e.runner(t, runOpts{source: config.DedupStore, ledger: "other.json"})
	sum, err := r2.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Skipped)
	assert.Equal(t, 0, sum.Processed)
}

func TestRun_FailuresStayContained(t *testing.T) {
	e := newEnv(t)
	e.graph.addPage(
		message("m1", "WGL status", true),
		message("m2", "WGL status", true),
		message("m3", "WGL status", true),
		message("m4", "WGL status", true),
	)
	e.graph.attachments["m1"] = []map[string]any{
		fileAttachment("download.html", "text/html", downloadHTML([3]string{"G-AAAA", "1", "5"})),
	}
	e.graph.status["m2"] = http.StatusNotFound
	e.graph.attachments["m3"] = []map[string]any{
		fileAttachment("download.html", "text/html", `<table>
<tr><td>Registration</td><td>WQAR Serial Number</td></tr>
<tr><td>G-ZZZZ</td><td>9</td></tr>
<tr><td>short row</td></tr>
</table>`),
	}
	e.graph.attachments["m4"] = []map[string]any{
		fileAttachment("download.html", "text/html", downloadHTML(
			[3]string{"", "4", "1"},
			[3]string{"G-DDDD", "4", "not a number"},
		)),
	}

	r, l := e.runner(t, runOpts{})
	sum, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Malformed)
	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, 1, sum.InvalidKeys)
	assert.Equal(t, 1, sum.FieldErrors)

	assert.True(t, l.Contains("m1", "download.html"))
	assert.False(t, l.Contains("m3", "download.html"), "malformed attachments are retried next run")
	assert.True(t, l.Contains("m4", "download.html"))

	// G-AAAA from m1 and G-DDDD from m4; nothing from the malformed table.
	assert.Equal(t, 2, e.count(t))
	done, err := e.db.Processed(context.Background(), "m3", "download.html")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestRun_AuthFailureEndsRun(t *testing.T) {
	e := newEnv(t)
	e.graph.addPage(message("m1", "x", true), message("m2", "x", true))
	e.graph.status["m1"] = http.StatusUnauthorized

	r, l := e.runner(t, runOpts{})
	_, err := r.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuth)
	assert.Equal(t, 0, l.Len())
}

func TestRun_MessageListingFailureEndsRun(t *testing.T) {
	e := newEnv(t)
	e.graph.listStatus = http.StatusForbidden

	r, _ := e.runner(t, runOpts{})
	_, err := r.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrFetch)
}

func TestRun_ArchivesAttachments(t *testing.T) {
	e := newEnv(t)
	seedTwoPages(e.graph)

	r, l := e.runner(t, runOpts{archive: true})
	sum, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Saved)
	assert.Equal(t, 0, sum.Unmatched)

	dir := filepath.Join(e.cfgDir, "attachments")
	for _, name := range []string{
		"WGL status - WGL Download Report.html",
		"WGL status - WGL Download Report.0.html",
		"WGL status - notes.pdf",
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	var pdf ledger.Entry
	for _, en := range l.Entries() {
		if en.AttachmentName == "notes.pdf" {
			pdf = en
		}
	}
	assert.Equal(t, filepath.Join(dir, "WGL status - notes.pdf"), pdf.SavedPath)
}

func TestLock_SecondHolderFailsFast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	unlock, err := Lock(path)
	require.NoError(t, err)

	_, err = Lock(path)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, unlock())
	unlock2, err := Lock(path)
	require.NoError(t, err)
	require.NoError(t, unlock2())
}
