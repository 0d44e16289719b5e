package config

import (
	"errors"
	"os"
)

// EnsureUserConfig writes Default() to path unless a file already exists there.
// It reports whether a new file was created.
func EnsureUserConfig(path string) (created bool, err error) {
	_, err = os.Stat(path)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}

	cfg := Default()
	// Placeholders so the written file passes validation; operators edit them.
	cfg.Mailbox.TenantID = "00000000-0000-0000-0000-000000000000"
	cfg.Mailbox.ClientID = "00000000-0000-0000-0000-000000000000"
	if err := SaveAtomic(path, cfg); err != nil {
		return false, err
	}
	return true, nil
}
