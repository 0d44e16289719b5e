// internal/config/config.go
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"mailingest-engine/internal/domain"
)

// FieldSpec declares how one output field is read from a table row.
type FieldSpec struct {
	Name      string      `yaml:"name"`
	Label     string      `yaml:"label"`
	Kind      domain.Kind `yaml:"kind"`
	Format    string      `yaml:"format,omitempty"`    // datetime layout (Go or strptime)
	Timezone  string      `yaml:"timezone,omitempty"`  // fixed offset attached to datetimes
	Separator string      `yaml:"separator,omitempty"` // composite split
	Index     int         `yaml:"index,omitempty"`     // composite token
	Derived   bool        `yaml:"derived,omitempty"`   // coerced, never persisted
}

// Match selects which attachments a report applies to. Empty fields match all.
type Match struct {
	AttachmentName  string   `yaml:"attachment_name"` // filepath.Match glob
	SubjectContains []string `yaml:"subject_contains"`
}

type Report struct {
	Name           string      `yaml:"name"`
	Table          string      `yaml:"table"`
	Match          Match       `yaml:"match"`
	TableSelector  string      `yaml:"table_selector"`
	LegendSelector string      `yaml:"legend_selector"`
	Key            []string    `yaml:"key"`
	Fields         []FieldSpec `yaml:"fields"`
}

type Config struct {
	App struct {
		DataDir string `yaml:"data_dir"`
		LogFile string `yaml:"log_file"`
	} `yaml:"app"`

	Mailbox struct {
		Address        string   `yaml:"address"`
		Folder         string   `yaml:"folder"`
		TenantID       string   `yaml:"tenant_id"`
		ClientID       string   `yaml:"client_id"`
		ClientSecret   string   `yaml:"client_secret"`
		KeyringAccount string   `yaml:"keyring_account"`
		AuthorityURL   string   `yaml:"authority_url"`
		GraphURL       string   `yaml:"graph_url"`
		Scopes         []string `yaml:"scopes"`
	} `yaml:"mailbox"`

	Fetch struct {
		Workers           int     `yaml:"workers"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
		MaxRetries        int     `yaml:"max_retries"`
		PageSize          int     `yaml:"page_size"`
		TimeoutSeconds    int     `yaml:"timeout_seconds"`
	} `yaml:"fetch"`

	Archive struct {
		SaveAttachments bool   `yaml:"save_attachments"`
		Dir             string `yaml:"dir"`
		Filename        string `yaml:"filename"`
		Ledger          string `yaml:"ledger"`
	} `yaml:"archive"`

	Dedup struct {
		Source string `yaml:"source"` // ledger | store
	} `yaml:"dedup"`

	Store struct {
		Driver string `yaml:"driver"` // sqlite | postgres
		DSN    string `yaml:"dsn"`
	} `yaml:"store"`

	Reports []Report `yaml:"reports"`
}

const (
	DedupLedger = "ledger"
	DedupStore  = "store"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	DefaultFilename = `{{.Message.Subject | clean}} - {{.Attachment.Name | clean}}`
	WGLTimeFormat   = "%a, %b %d, %Y %H:%M:%S"
)

func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.DataDir == "" {
		cfg.App.DataDir = "."
	}
	if cfg.Mailbox.Folder == "" {
		cfg.Mailbox.Folder = "Inbox"
	}
	if cfg.Mailbox.AuthorityURL == "" {
		cfg.Mailbox.AuthorityURL = "https://login.microsoftonline.com"
	}
	if cfg.Mailbox.GraphURL == "" {
		cfg.Mailbox.GraphURL = "https://graph.microsoft.com/v1.0"
	}
	if len(cfg.Mailbox.Scopes) == 0 {
		cfg.Mailbox.Scopes = []string{"https://graph.microsoft.com/.default"}
	}
	if cfg.Fetch.Workers == 0 {
		cfg.Fetch.Workers = 4
	}
	if cfg.Fetch.RequestsPerSecond == 0 {
		cfg.Fetch.RequestsPerSecond = 4
	}
	if cfg.Fetch.Burst == 0 {
		cfg.Fetch.Burst = 4
	}
	if cfg.Fetch.MaxRetries == 0 {
		cfg.Fetch.MaxRetries = 3
	}
	if cfg.Fetch.TimeoutSeconds == 0 {
		cfg.Fetch.TimeoutSeconds = 30
	}
	if cfg.Archive.Dir == "" {
		cfg.Archive.Dir = "attachments"
	}
	if cfg.Archive.Filename == "" {
		cfg.Archive.Filename = DefaultFilename
	}
	if cfg.Archive.Ledger == "" {
		cfg.Archive.Ledger = "archive.json"
	}
	if cfg.Dedup.Source == "" {
		cfg.Dedup.Source = DedupLedger
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DriverSQLite
	}
	if cfg.Store.DSN == "" && cfg.Store.Driver == DriverSQLite {
		cfg.Store.DSN = "mailingest.db"
	}
	for i := range cfg.Reports {
		r := &cfg.Reports[i]
		if r.Table == "" {
			r.Table = r.Name
		}
		if r.TableSelector == "" {
			r.TableSelector = "table"
		}
		if len(r.Key) == 0 {
			r.Key = []string{"registration", "wqar_serial"}
		}
	}
}

// Resolve makes p absolute against the data directory unless it already is.
func (c Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.App.DataDir, p)
}

// LedgerPath is the resolved ledger file location.
func (c Config) LedgerPath() string { return c.Resolve(c.Archive.Ledger) }

// ArchiveDir is the resolved attachment directory.
func (c Config) ArchiveDir() string { return c.Resolve(c.Archive.Dir) }

// StoreDSN is the resolved store DSN. SQLite DSNs are file paths.
func (c Config) StoreDSN() string {
	if c.Store.Driver == DriverSQLite {
		return c.Resolve(c.Store.DSN)
	}
	return c.Store.DSN
}

// Default is the configuration written for a new installation. It carries the
// two WGL status reports.
func Default() Config {
	var cfg Config
	cfg.Mailbox.Address = "reports@example.com"
	cfg.Archive.SaveAttachments = true
	cfg.Reports = []Report{DownloadReport(), DataLoadingReport()}
	applyDefaults(&cfg)
	return cfg
}

func wglTime(name, label string) FieldSpec {
	return FieldSpec{Name: name, Label: label, Kind: domain.KindDatetime, Format: WGLTimeFormat, Timezone: "UTC"}
}

func DownloadReport() Report {
	return Report{
		Name:  "download",
		Table: "wgl_download_report",
		Match: Match{AttachmentName: "*ownload*.htm*"},
		Key:   []string{"registration", "wqar_serial"},
		Fields: []FieldSpec{
			{Name: "registration", Label: "Registration", Kind: domain.KindString},
			{Name: "wqar_serial", Label: "WQAR Serial Number", Kind: domain.KindString},
			wglTime("last_download_complete_at", "Last complete download at"),
			{Name: "last_download_file", Label: "Last download file", Kind: domain.KindString},
			{Name: "last_download_file_size", Label: "Last downloaded file size", Kind: domain.KindString},
			wglTime("last_activity", "Last activity"),
			{Name: "hours_since_last_complete_download", Label: "Hours since last complete download", Kind: domain.KindString, Derived: true},
			{Name: "successful_downloads", Label: "Successful downloads", Kind: domain.KindInteger},
			{Name: "unsuccessful_downloads", Label: "Unsuccessful downloads", Kind: domain.KindInteger},
		},
	}
}

func DataLoadingReport() Report {
	const uploads = "Successful uploads (PTMAN/LSP)"
	return Report{
		Name:  "data_loading",
		Table: "wgl_data_loading",
		Match: Match{AttachmentName: "*oading*.htm*"},
		Key:   []string{"registration", "wqar_serial"},
		Fields: []FieldSpec{
			{Name: "registration", Label: "Registration", Kind: domain.KindString},
			{Name: "wqar_serial", Label: "WQAR Serial Number", Kind: domain.KindString},
			wglTime("last_complete_eadl_status_file_download_at", "Last completed eADL STATUS file download at"),
			wglTime("last_complete_eadl_event_log_file_download_at", "Last completed eADL EVENT LOG file download at"),
			wglTime("last_complete_ptman_file_upload_at", "Last completed PTMAN file upload at"),
			wglTime("last_complete_lsp_upload_at", "Last completed LSP upload at"),
			{Name: "successful_uploads_lsp", Label: uploads, Kind: domain.KindComposite, Separator: "/", Index: 0},
			{Name: "successful_uploads_ptman", Label: uploads, Kind: domain.KindComposite, Separator: "/", Index: 1},
		},
	}
}
