// config/overlay.go
package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// EnvClientSecret overrides mailbox.client_secret when set.
	EnvClientSecret = "MAILINGEST_CLIENT_SECRET"
	// EnvDataDir overrides app.data_dir when set.
	EnvDataDir = "MAILINGEST_DATA_DIR"
)

type ReportsFile struct {
	Reports []Report `yaml:"reports"`
}

// OverlayReports merges report definitions from a separate file. Reports with a
// known name replace the existing definition, others are appended.
func OverlayReports(cfg *Config, reportsPath string) error {
	b, err := os.ReadFile(reportsPath)
	if err != nil {
		// Missing reports file should not kill startup
		return nil
	}

	var rf ReportsFile
	if err := yaml.Unmarshal(b, &rf); err != nil {
		return err
	}

	for _, r := range rf.Reports {
		replaced := false
		for i := range cfg.Reports {
			if cfg.Reports[i].Name == r.Name {
				cfg.Reports[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			cfg.Reports = append(cfg.Reports, r)
		}
	}
	applyDefaults(cfg)
	return nil
}

// OverlayEnv applies environment overrides.
func OverlayEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvClientSecret)); v != "" {
		cfg.Mailbox.ClientSecret = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDataDir)); v != "" {
		cfg.App.DataDir = v
	}
}
