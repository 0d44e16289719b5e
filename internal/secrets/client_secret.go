package secrets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"

	"mailingest-engine/internal/config"
)

const (
	// KeyringService groups the app's secrets in the OS keychain.
	KeyringService = "mailingest"
)

// ErrNoClientSecret is returned when neither config, env nor keyring hold a secret.
var ErrNoClientSecret = errors.New("client secret not found (set it in the keychain, config or " + config.EnvClientSecret + ")")

// ClientSecret resolves the app registration secret: an explicit value from
// config/env wins, then the OS keyring.
func ClientSecret(cfg config.Config) (string, error) {
	if s := strings.TrimSpace(cfg.Mailbox.ClientSecret); s != "" {
		return s, nil
	}

	if account := KeyringAccount(cfg); account != "" {
		pw, err := keyring.Get(KeyringService, account)
		if err == nil && strings.TrimSpace(pw) != "" {
			return pw, nil
		}
	}

	return "", ErrNoClientSecret
}

func SetClientSecret(keyringAccount string, secret string) error {
	if strings.TrimSpace(keyringAccount) == "" {
		return errors.New("keyring account name is empty")
	}
	if strings.TrimSpace(secret) == "" {
		return errors.New("secret is empty")
	}
	return keyring.Set(KeyringService, keyringAccount, secret)
}

func DeleteClientSecret(keyringAccount string) error {
	if strings.TrimSpace(keyringAccount) == "" {
		return errors.New("keyring account name is empty")
	}
	return keyring.Delete(KeyringService, keyringAccount)
}

// KeyringAccount is the keychain account holding the secret for cfg's app
// registration. An explicit mailbox.keyring_account wins.
func KeyringAccount(cfg config.Config) string {
	if a := strings.TrimSpace(cfg.Mailbox.KeyringAccount); a != "" {
		return a
	}
	if cfg.Mailbox.ClientID == "" {
		return ""
	}
	return fmt.Sprintf(
		"mailingest:graph:%s@%s",
		cfg.Mailbox.ClientID,
		cfg.Mailbox.TenantID,
	)
}
