package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"github.com/zalando/go-keyring"

	"mailingest-engine/internal/config"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return buf.String(), err
}

func setupConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(config.EnvDataDir, filepath.Join(dir, "data"))
	t.Setenv(config.EnvClientSecret, "")

	p := filepath.Join(dir, "config.yml")
	out, err := execute(t, "", "init", "--config", p)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote")
	return p
}

func TestInit_DoesNotOverwrite(t *testing.T) {
	p := setupConfig(t)
	before, err := os.ReadFile(p)
	require.NoError(t, err)

	out, err := execute(t, "", "init", "--config", p)
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	after, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestValidate(t *testing.T) {
	p := setupConfig(t)

	out, err := execute(t, "", "validate", "--config", p)
	require.NoError(t, err)
	assert.Contains(t, out, "ok (2 reports, dedup=ledger, store=sqlite)")

	bad := filepath.Join(filepath.Dir(p), "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("mailbox:\n  address: x@example.com\n"), 0o644))
	out, err = execute(t, "", "validate", "--config", bad)
	assert.Error(t, err)
	assert.Contains(t, out, "mailbox.tenant_id is required")
}

func TestValidate_ReportsOverlay(t *testing.T) {
	p := setupConfig(t)
	overlay := filepath.Join(filepath.Dir(p), "reports.yml")
	require.NoError(t, os.WriteFile(overlay, []byte(`
reports:
  - name: download
    table: wgl_download_report
    fields:
      - {name: registration, label: Registration, kind: string}
      - {name: wqar_serial, label: WQAR Serial Number, kind: string}
      - {name: seen_at, label: Seen, kind: datetime, format: "%Y-%m-%d", timezone: "Mars"}
`), 0o644))

	out, err := execute(t, "", "validate", "--config", p)
	assert.Error(t, err)
	assert.Contains(t, out, "timezone")
}

func TestInspect_PrintsCoercedRows(t *testing.T) {
	p := setupConfig(t)
	html := filepath.Join(filepath.Dir(p), "report.html")
	require.NoError(t, os.WriteFile(html, []byte(`<table>
<tr><td>Registration</td><td>WQAR Serial Number</td><td>Successful downloads</td></tr>
<tr><td>G-AAAA</td><td>1</td><td>12</td></tr>
<tr><td></td><td>2</td><td>3</td></tr>
</table>`), 0o644))

	out, err := execute(t, "", "inspect", html, "--config", p, "--report", "download")
	require.NoError(t, err)

	dec := json.NewDecoder(strings.NewReader(out))
	var first, second struct {
		Line   int               `json:"line"`
		Key    []string          `json:"key"`
		Fields map[string]string `json:"fields"`
		Errors []string          `json:"errors"`
	}
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))

	assert.Equal(t, []string{"G-AAAA", "1"}, first.Key)
	assert.Equal(t, "12", first.Fields["successful_downloads"])
	require.Len(t, second.Errors, 1)
	assert.Contains(t, second.Errors[0], "invalid natural key")
}

func TestExport_EmptyTable(t *testing.T) {
	p := setupConfig(t)
	out := filepath.Join(t.TempDir(), "dl.xlsx")

	msg, err := execute(t, "", "export", "--config", p, "--report", "download", "--out", out)
	require.NoError(t, err)
	assert.Contains(t, msg, "wrote 0 rows")

	f, err := excelize.OpenFile(out)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("download")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "registration", rows[0][0])
}

func TestSecret_SetAndDelete(t *testing.T) {
	keyring.MockInit()
	p := setupConfig(t)

	out, err := execute(t, "s3cr3t\n", "secret", "set", "--config", p)
	require.NoError(t, err)
	assert.Contains(t, out, "stored secret for mailingest:graph:")

	got, err := keyring.Get("mailingest", "mailingest:graph:00000000-0000-0000-0000-000000000000@00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", got)

	_, err = execute(t, "", "secret", "delete", "--config", p)
	require.NoError(t, err)
	_, err = keyring.Get("mailingest", "mailingest:graph:00000000-0000-0000-0000-000000000000@00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, keyring.ErrNotFound)
}
