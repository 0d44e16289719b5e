package graph

import (
	"context"
)

// PairFunc receives one (message, attachment) pair. Returning an error stops
// the walk.
type PairFunc func(Message, Attachment) error

// Pairs calls fn for every attachment of every message in the mailbox, in
// server order. Messages without attachments are logged and skipped. Any fetch
// error ends the walk.
func (c *Client) Pairs(ctx context.Context, mailbox string, fn PairFunc) error {
	msgs := c.Messages(mailbox)
	for msgs.HasNext() {
		page, err := msgs.Next(ctx)
		if err != nil {
			return err
		}
		for _, m := range page {
			if !m.HasAttachments {
				c.log.Info("skip no-attachments message: %s", m.ID)
				continue
			}
			atts, err := c.AllAttachments(ctx, mailbox, m.ID)
			if err != nil {
				return err
			}
			for _, a := range atts {
				if err := fn(m, a); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
