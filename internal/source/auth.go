package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bottlescout/price-ingest/internal/adapter"
	"github.com/bottlescout/price-ingest/internal/domain"
	"github.com/bottlescout/price-ingest/internal/logger"
)

// AcquireFunc obtains credentials. The direct variant hits a token endpoint;
// the capture variant drives a headless browser through the chain's login or
// bootstrap flow.
type AcquireFunc func(ctx context.Context) (*domain.Credentials, error)

// ProbeFunc validates credentials with one cheap real request before a full
// rate-limited pass is committed to them.
type ProbeFunc func(ctx context.Context, creds *domain.Credentials) error

// CredentialBroker implements the credential lifecycle: obtain (fast direct
// attempt first, browser capture as fallback), validate with a cheap probe,
// refresh at most once per run. Anything beyond that fails the run rather
// than burning a rate-limited pass on dead credentials.
type CredentialBroker struct {
	chain   domain.Chain
	direct  AcquireFunc
	capture AcquireFunc
	probe   ProbeFunc

	refreshed bool
}

// NewCredentialBroker creates a broker for one chain. Either acquire path
// may be nil when the chain only supports the other.
func NewCredentialBroker(chain domain.Chain, direct, capture AcquireFunc, probe ProbeFunc) *CredentialBroker {
	return &CredentialBroker{
		chain:   chain,
		direct:  direct,
		capture: capture,
		probe:   probe,
	}
}

// Acquire obtains and validates credentials for one pass. Returns
// domain.ErrAuthFailed once acquisition or validation fails after the single
// allowed refresh.
func (b *CredentialBroker) Acquire(ctx context.Context) (*domain.Credentials, error) {
	b.refreshed = false

	creds, err := b.obtain(ctx)
	if err != nil {
		return nil, err
	}

	if err := b.validate(ctx, creds); err == nil {
		return creds, nil
	} else if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return b.Refresh(ctx)
}

// Refresh re-acquires and re-validates credentials mid-run, at most once.
// A second refresh attempt in the same run fails immediately.
func (b *CredentialBroker) Refresh(ctx context.Context) (*domain.Credentials, error) {
	if b.refreshed {
		return nil, fmt.Errorf("%w: refresh already attempted for %s", domain.ErrAuthFailed, b.chain)
	}
	b.refreshed = true

	logger.Warn("refreshing credentials", zap.String("chain", string(b.chain)))

	creds, err := b.obtain(ctx)
	if err != nil {
		return nil, err
	}
	if err := b.validate(ctx, creds); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: validation probe rejected refreshed credentials for %s", domain.ErrAuthFailed, b.chain)
	}

	return creds, nil
}

// obtain tries the fast direct endpoint first and falls back to the slower
// browser capture.
func (b *CredentialBroker) obtain(ctx context.Context) (*domain.Credentials, error) {
	if b.direct != nil {
		creds, err := b.direct(ctx)
		if err == nil && !creds.Empty() {
			return creds, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			logger.Warn("direct credential acquisition failed, falling back to browser capture",
				zap.String("chain", string(b.chain)),
				zap.Error(err))
		}
	}

	if b.capture == nil {
		return nil, fmt.Errorf("%w: no acquisition path left for %s", domain.ErrAuthFailed, b.chain)
	}

	creds, err := b.capture(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: browser capture for %s: %v", domain.ErrAuthFailed, b.chain, err)
	}
	if creds.Empty() {
		return nil, fmt.Errorf("%w: browser capture yielded no credentials for %s", domain.ErrAuthFailed, b.chain)
	}

	return creds, nil
}

func (b *CredentialBroker) validate(ctx context.Context, creds *domain.Credentials) error {
	if b.probe == nil {
		return nil
	}
	return b.probe(ctx, creds)
}

// RequestHeaders renders credentials into the headers an authenticated
// request needs: bearer token, captured headers, cookies joined into one
// Cookie header.
func RequestHeaders(creds *domain.Credentials) map[string]string {
	headers := make(map[string]string)
	if creds == nil {
		return headers
	}
	if creds.Token != "" {
		headers["Authorization"] = "Bearer " + creds.Token
	}
	for k, v := range creds.Headers {
		headers[k] = v
	}
	if len(creds.Cookies) > 0 {
		cookie := ""
		for k, v := range creds.Cookies {
			if cookie != "" {
				cookie += "; "
			}
			cookie += k + "=" + v
		}
		headers["Cookie"] = cookie
	}
	return headers
}

// tokenResponse is the shape the token endpoints answer with
type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// TokenEndpointAcquire returns an AcquireFunc that posts the given form to a
// token endpoint and decodes the issued bearer token.
func TokenEndpointAcquire(httpClient adapter.HTTPClient, jsonAdapter adapter.JSON, tokenURL string, form url.Values) AcquireFunc {
	return func(ctx context.Context) (*domain.Credentials, error) {
		body, err := httpClient.PostForm(ctx, tokenURL, "application/x-www-form-urlencoded",
			strings.NewReader(form.Encode()), nil)
		if err != nil {
			return nil, fmt.Errorf("token endpoint: %w", err)
		}

		var resp tokenResponse
		if err := jsonAdapter.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("token endpoint returned malformed response: %w", err)
		}
		if resp.Token == "" {
			return nil, fmt.Errorf("token endpoint returned no token")
		}

		creds := &domain.Credentials{Token: resp.Token}
		if resp.ExpiresAt != "" {
			if t, err := time.Parse(time.RFC3339, resp.ExpiresAt); err == nil {
				creds.ExpiresAt = &t
			}
		}
		return creds, nil
	}
}

// BrowserCaptureAcquire returns an AcquireFunc that drives a headless
// browser through the chain's login or bootstrap page and captures the
// session cookies it sets.
func BrowserCaptureAcquire(browser adapter.Browser, loginURL string, settle time.Duration) AcquireFunc {
	return func(ctx context.Context) (*domain.Credentials, error) {
		cookies, err := browser.CaptureCookies(ctx, loginURL, settle)
		if err != nil {
			return nil, err
		}
		return &domain.Credentials{Cookies: cookies}, nil
	}
}

// ProbeEndpoint returns a ProbeFunc that performs one authenticated GET
// against probeURL. Any non-success response rejects the credentials.
func ProbeEndpoint(httpClient adapter.HTTPClient, probeURL string) ProbeFunc {
	return func(ctx context.Context, creds *domain.Credentials) error {
		if _, err := httpClient.GetBytes(ctx, probeURL, RequestHeaders(creds)); err != nil {
			return fmt.Errorf("credential probe: %w", err)
		}
		return nil
	}
}
