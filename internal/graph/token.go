package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"mailingest-engine/internal/domain"
	"mailingest-engine/internal/logger"
)

// Credentials are the inputs of the client-credential exchange.
type Credentials struct {
	AuthorityURL string // e.g. https://login.microsoftonline.com
	TenantID     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// TokenURL is the tenant's v2 token endpoint.
func (c Credentials) TokenURL() string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", strings.TrimRight(c.AuthorityURL, "/"), c.TenantID)
}

// TokenSource hands out bearer tokens for the mailbox API.
type TokenSource interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// TokenProvider caches an app-only token and refreshes it lazily. Rejected
// credentials fail with domain.ErrAuth without retry; network errors and 5xx
// or 429 answers from the identity service are retried with backoff.
type TokenProvider struct {
	conf    clientcredentials.Config
	hc      *http.Client
	limiter *HostLimiter
	backoff backoff
	log     *logger.Logger

	mu  sync.Mutex
	tok *oauth2.Token
}

func NewTokenProvider(creds Credentials, opts Options) *TokenProvider {
	opts = opts.withDefaults()
	return &TokenProvider{
		conf: clientcredentials.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			TokenURL:     creds.TokenURL(),
			Scopes:       creds.Scopes,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		hc:      opts.HTTPClient,
		limiter: opts.Limiter,
		backoff: newBackoff(opts.MaxRetries, opts.RetryBaseDelay),
		log:     opts.Log.With("token"),
	}
}

func (p *TokenProvider) Token(ctx context.Context) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tok.Valid() {
		return p.tok, nil
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.hc)
	for attempt := 0; ; attempt++ {
		if err := p.limiter.WaitURL(ctx, p.conf.TokenURL); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrAuth, err)
		}
		tok, err := p.conf.Token(ctx)
		if err == nil {
			if tok.AccessToken == "" {
				return nil, fmt.Errorf("%w: identity service returned no access token", domain.ErrAuth)
			}
			p.tok = tok
			p.log.Debug("acquired token, expires %s", tok.Expiry.Format(time.RFC3339))
			return tok, nil
		}

		if !retryableTokenError(err) || attempt >= p.backoff.retries {
			return nil, fmt.Errorf("%w: %s", domain.ErrAuth, describeTokenError(err))
		}
		d := p.backoff.delay(attempt + 1)
		p.log.Warn("token request failed (attempt %d), retrying in %s: %v", attempt+1, d, err)
		if err := sleepCtx(ctx, d); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrAuth, err)
		}
	}
}

func retryableTokenError(err error) bool {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return re.Response != nil && transientStatus(re.Response.StatusCode)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Transport failures surface as *url.Error; anything else is a protocol
	// problem such as a response without access_token.
	return isTransportError(err)
}

func describeTokenError(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorDescription != "" {
			return re.ErrorDescription
		}
		if re.ErrorCode != "" {
			return re.ErrorCode
		}
	}
	return err.Error()
}
