package config

import (
	"fmt"
	"strings"
	"text/template"
)

type Validation struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (v *Validation) addErr(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}
func (v *Validation) addWarn(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}
func (v Validation) OK() bool { return len(v.Errors) == 0 }

// NormalizeAndValidate returns a trimmed copy of cfg and the problems found in it.
func NormalizeAndValidate(cfg Config) (Config, Validation) {
	var out = cfg
	var res Validation

	out.Mailbox.Address = strings.TrimSpace(out.Mailbox.Address)
	out.Mailbox.TenantID = strings.TrimSpace(out.Mailbox.TenantID)
	out.Mailbox.ClientID = strings.TrimSpace(out.Mailbox.ClientID)
	out.Dedup.Source = strings.ToLower(strings.TrimSpace(out.Dedup.Source))
	out.Store.Driver = strings.ToLower(strings.TrimSpace(out.Store.Driver))

	// ---- mailbox ----

	if out.Mailbox.Address == "" {
		res.addErr("mailbox.address is required")
	}
	if out.Mailbox.TenantID == "" {
		res.addErr("mailbox.tenant_id is required")
	}
	if out.Mailbox.ClientID == "" {
		res.addErr("mailbox.client_id is required")
	}
	if out.Mailbox.ClientSecret != "" {
		res.addWarn("mailbox.client_secret is stored in plain text; prefer the keyring or MAILINGEST_CLIENT_SECRET")
	}

	// ---- fetch ----

	if out.Fetch.Workers <= 0 {
		res.addErr("fetch.workers must be > 0")
	} else if out.Fetch.Workers > 32 {
		res.addWarn("fetch.workers is very high (%d) and may cause throttling.", out.Fetch.Workers)
	}
	if out.Fetch.RequestsPerSecond <= 0 {
		res.addErr("fetch.requests_per_second must be > 0")
	}
	if out.Fetch.MaxRetries < 0 {
		res.addErr("fetch.max_retries must be >= 0")
	}
	if out.Fetch.PageSize < 0 || out.Fetch.PageSize > 1000 {
		res.addErr("fetch.page_size must be 0..1000")
	}

	// ---- archive / dedup / store ----

	if _, err := template.New("filename").Funcs(TemplateFuncs).Parse(out.Archive.Filename); err != nil {
		res.addErr("archive.filename is not a valid template: %v", err)
	}
	if strings.TrimSpace(out.Archive.Ledger) == "" {
		res.addErr("archive.ledger is required")
	}
	switch out.Dedup.Source {
	case DedupLedger, DedupStore:
	default:
		res.addErr("dedup.source must be %q or %q", DedupLedger, DedupStore)
	}
	switch out.Store.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		res.addErr("store.driver must be %q or %q", DriverSQLite, DriverPostgres)
	}
	if out.Store.DSN == "" {
		res.addErr("store.dsn is required")
	}

	// ---- reports ----

	if len(out.Reports) == 0 && !out.Archive.SaveAttachments {
		res.addErr("nothing to do: no reports configured and archive.save_attachments is false")
	}
	if len(out.Reports) == 0 && out.Dedup.Source == DedupStore {
		res.addWarn("dedup.source is store but no reports are configured; only the store ledger will be consulted")
	}
	checkReports(&res, out.Reports)

	return out, res
}
