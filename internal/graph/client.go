package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mailingest-engine/internal/domain"
	"mailingest-engine/internal/logger"
)

type Options struct {
	BaseURL        string // e.g. https://graph.microsoft.com/v1.0
	Folder         string // mail folder to enumerate, default Inbox
	PageSize       int    // $top; 0 leaves the server default
	MaxRetries     int
	RetryBaseDelay time.Duration
	Timeout        time.Duration
	HTTPClient     *http.Client
	Limiter        *HostLimiter
	Log            *logger.Logger
}

func (o Options) withDefaults() Options {
	if o.BaseURL == "" {
		o.BaseURL = "https://graph.microsoft.com/v1.0"
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.Folder == "" {
		o.Folder = "Inbox"
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
	if o.Log == nil {
		o.Log = logger.Discard()
	}
	return o
}

// Client reads messages and attachments of a mailbox through the Graph REST API.
type Client struct {
	opts    Options
	tokens  TokenSource
	backoff backoff
	log     *logger.Logger
}

func NewClient(tokens TokenSource, opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		opts:    opts,
		tokens:  tokens,
		backoff: newBackoff(opts.MaxRetries, opts.RetryBaseDelay),
		log:     opts.Log.With("graph"),
	}
}

// MessagesURL is the first page of the configured folder's messages.
func (c *Client) MessagesURL(mailbox string) string {
	u := fmt.Sprintf("%s/users/%s/mailFolders('%s')/messages?$select=%s",
		c.opts.BaseURL,
		url.PathEscape(mailbox),
		url.PathEscape(c.opts.Folder),
		"id,subject,hasAttachments,receivedDateTime,from",
	)
	if c.opts.PageSize > 0 {
		u += fmt.Sprintf("&$top=%d", c.opts.PageSize)
	}
	return u
}

// AttachmentsURL is the first page of a message's attachments.
func (c *Client) AttachmentsURL(mailbox, messageID string) string {
	return fmt.Sprintf("%s/users/%s/messages/%s/attachments",
		c.opts.BaseURL, url.PathEscape(mailbox), url.PathEscape(messageID))
}

// Messages pages through the folder's messages in server order.
func (c *Client) Messages(mailbox string) *Pager[Message] {
	return newPager[Message](c, c.MessagesURL(mailbox))
}

// Attachments pages through one message's attachments.
func (c *Client) Attachments(mailbox, messageID string) *Pager[Attachment] {
	return newPager[Attachment](c, c.AttachmentsURL(mailbox, messageID))
}

// AllAttachments drains Attachments into a slice.
func (c *Client) AllAttachments(ctx context.Context, mailbox, messageID string) ([]Attachment, error) {
	var out []Attachment
	p := c.Attachments(mailbox, messageID)
	for p.HasNext() {
		items, err := p.Next(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

// getJSON performs an authenticated GET and decodes the body into v. Network
// errors, 429 and 5xx answers are retried; everything else fails at once.
func (c *Client) getJSON(ctx context.Context, rawURL string, v any) error {
	for attempt := 0; ; attempt++ {
		wait, err := c.try(ctx, rawURL, v)
		if err == nil {
			return nil
		}
		if wait < 0 || attempt >= c.backoff.retries {
			return err
		}
		d := c.backoff.delay(attempt + 1)
		if wait > d {
			d = wait
		}
		c.log.Warn("GET %s failed (attempt %d), retrying in %s: %v", rawURL, attempt+1, d, err)
		if serr := sleepCtx(ctx, d); serr != nil {
			return fmt.Errorf("%w: %v", domain.ErrFetch, serr)
		}
	}
}

// try makes one request. A negative wait marks the error as permanent.
func (c *Client) try(ctx context.Context, rawURL string, v any) (wait time.Duration, err error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return -1, err
	}
	if err := c.opts.Limiter.WaitURL(ctx, rawURL); err != nil {
		return -1, fmt.Errorf("%w: %v", domain.ErrFetch, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return -1, fmt.Errorf("%w: %v", domain.ErrFetch, err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Accept", "application/json")

	res, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return -1, fmt.Errorf("%w: %v", domain.ErrFetch, err)
		}
		return 0, fmt.Errorf("%w: GET %s: %v", domain.ErrFetch, rawURL, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		switch {
		case res.StatusCode == http.StatusUnauthorized:
			return -1, fmt.Errorf("%w: GET %s: status %s: %s", domain.ErrAuth, rawURL, res.Status, strings.TrimSpace(string(b)))
		case transientStatus(res.StatusCode):
			return retryAfter(res.Header), fmt.Errorf("%w: GET %s: status %s", domain.ErrFetch, rawURL, res.Status)
		default:
			return -1, fmt.Errorf("%w: GET %s: status %s: %s", domain.ErrFetch, rawURL, res.Status, strings.TrimSpace(string(b)))
		}
	}

	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		return -1, fmt.Errorf("%w: decode %s: %v", domain.ErrFetch, rawURL, err)
	}
	return 0, nil
}

func isTransportError(err error) bool {
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
