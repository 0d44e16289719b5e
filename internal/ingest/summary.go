package ingest

import (
	"fmt"
	"time"
)

// Summary counts what one run did.
type Summary struct {
	RunID    string    `json:"run_id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	Pages         int `json:"pages"`
	Messages      int `json:"messages"`
	NoAttachments int `json:"messages_without_attachments"`
	Attachments   int `json:"attachments"`

	Skipped   int `json:"skipped_already_processed"`
	NotFile   int `json:"skipped_not_file"`
	Unmatched int `json:"skipped_unmatched"`
	Processed int `json:"processed"`
	Saved     int `json:"saved"`

	Rows        int `json:"rows"`
	Inserted    int `json:"inserted"`
	Updated     int `json:"updated"`
	InvalidKeys int `json:"invalid_keys"`
	FieldErrors int `json:"field_errors"`

	Malformed int `json:"malformed"`
	Failed    int `json:"failed"`
}

func (s Summary) String() string {
	return fmt.Sprintf(
		"messages=%d attachments=%d skipped=%d processed=%d saved=%d rows=%d inserted=%d updated=%d invalid_keys=%d field_errors=%d malformed=%d failed=%d (%s)",
		s.Messages, s.Attachments, s.Skipped, s.Processed, s.Saved, s.Rows, s.Inserted, s.Updated,
		s.InvalidKeys, s.FieldErrors, s.Malformed, s.Failed, s.Finished.Sub(s.Started).Round(time.Millisecond))
}

// tableStats is what one attachment contributed. It only reaches the
// summary once the attachment's transaction commits.
type tableStats struct {
	rows, inserted, updated, invalidKeys, fieldErrors int
}

func (s *Summary) add(t tableStats) {
	s.Rows += t.rows
	s.Inserted += t.inserted
	s.Updated += t.updated
	s.InvalidKeys += t.invalidKeys
	s.FieldErrors += t.fieldErrors
}
