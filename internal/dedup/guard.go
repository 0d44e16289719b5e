// Package dedup decides whether a (message, attachment) pair was handled by
// an earlier run. Exactly one source is authoritative per run.
package dedup

import (
	"context"
	"fmt"

	"mailingest-engine/internal/config"
	"mailingest-engine/internal/ledger"
)

type Guard interface {
	AlreadyProcessed(ctx context.Context, messageID, attachmentName string) (bool, error)
}

// LedgerGuard answers from the ledger file loaded at startup.
type LedgerGuard struct {
	Ledger *ledger.Ledger
}

func (g LedgerGuard) AlreadyProcessed(_ context.Context, messageID, attachmentName string) (bool, error) {
	return g.Ledger.Contains(messageID, attachmentName), nil
}

// Lookup is the store query backing StoreGuard.
type Lookup interface {
	Processed(ctx context.Context, messageID, attachmentName string) (bool, error)
}

// StoreGuard answers from the persisted store.
type StoreGuard struct {
	Store Lookup
}

func (g StoreGuard) AlreadyProcessed(ctx context.Context, messageID, attachmentName string) (bool, error) {
	return g.Store.Processed(ctx, messageID, attachmentName)
}

// New returns the guard for the configured dedup source.
func New(source string, l *ledger.Ledger, s Lookup) (Guard, error) {
	switch source {
	case "", config.DedupLedger:
		if l == nil {
			return nil, fmt.Errorf("dedup: ledger source without a ledger")
		}
		return LedgerGuard{Ledger: l}, nil
	case config.DedupStore:
		if s == nil {
			return nil, fmt.Errorf("dedup: store source without a store")
		}
		return StoreGuard{Store: s}, nil
	default:
		return nil, fmt.Errorf("dedup: unknown source %q", source)
	}
}
