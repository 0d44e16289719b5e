// Package ledger keeps the file-backed record of processed (message,
// attachment) pairs. The file is a JSON array and is rewritten atomically on
// every append, so an interrupted run loses at most the entry in flight.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"mailingest-engine/internal/domain"
)

type Entry struct {
	MessageID      string `json:"message_id"`
	AttachmentName string `json:"attachment_name"`
	SavedPath      string `json:"saved_path"`
}

// UnmarshalJSON also accepts archives written with the older "saved" key.
func (e *Entry) UnmarshalJSON(b []byte) error {
	var raw struct {
		MessageID      string `json:"message_id"`
		AttachmentName string `json:"attachment_name"`
		SavedPath      string `json:"saved_path"`
		Saved          string `json:"saved"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	e.MessageID = raw.MessageID
	e.AttachmentName = raw.AttachmentName
	e.SavedPath = raw.SavedPath
	if e.SavedPath == "" {
		e.SavedPath = raw.Saved
	}
	return nil
}

type pair struct{ message, attachment string }

type Ledger struct {
	mu      sync.Mutex
	path    string
	entries []Entry
	seen    map[pair]struct{}
}

// Load reads the ledger at path. A missing file is an empty ledger.
func Load(path string) (*Ledger, error) {
	l := &Ledger{path: path, seen: make(map[pair]struct{})}

	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read ledger: %v", domain.ErrFilesystem, err)
	}
	if len(b) == 0 {
		return l, nil
	}

	var entries []Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", path, err)
	}
	for _, e := range entries {
		k := pair{e.MessageID, e.AttachmentName}
		if _, dup := l.seen[k]; dup {
			continue
		}
		l.seen[k] = struct{}{}
		l.entries = append(l.entries, e)
	}
	return l, nil
}

func (l *Ledger) Path() string { return l.path }

// Contains reports whether the pair has been recorded.
func (l *Ledger) Contains(messageID, attachmentName string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[pair{messageID, attachmentName}]
	return ok
}

// Append records e and flushes the ledger to disk. Recording a pair twice is
// a no-op and reports false.
func (l *Ledger) Append(e Entry) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := pair{e.MessageID, e.AttachmentName}
	if _, ok := l.seen[k]; ok {
		return false, nil
	}
	next := append(l.entries, e)
	if err := writeAtomic(l.path, next); err != nil {
		return false, err
	}
	l.entries = next
	l.seen[k] = struct{}{}
	return true, nil
}

// Entries returns a copy of the recorded entries in append order.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func writeAtomic(path string, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create ledger dir: %v", domain.ErrFilesystem, err)
	}

	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFilesystem, err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(b); err != nil {
		f.Close()
		return fmt.Errorf("%w: write ledger: %v", domain.ErrFilesystem, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: sync ledger: %v", domain.ErrFilesystem, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFilesystem, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: replace ledger: %v", domain.ErrFilesystem, err)
	}
	return nil
}
