package campus

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Endpoints carries the base URLs of the two campus backends. Tests point
// these at httptest servers.
type Endpoints struct {
	// PortalA is the app portal serving the keyboard, token and fee-item
	// endpoints.
	PortalA string
	// PortalB is the SSO portal serving the redirect chain and the profile
	// and balance endpoints.
	PortalB string
}

// Client executes the login handshake and balance retrieval for both campus
// variants. It never follows redirects on its own; the variant-B chain
// validates every hop explicitly.
type Client struct {
	http       *http.Client
	endpoints  Endpoints
	sessionTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// NewClient constructs a campus client. A nil httpClient gets a default with
// environment proxy support and redirect following disabled. sessionTTL
// bounds variant-B sessions, which carry no expiry of their own.
func NewClient(endpoints Endpoints, httpClient *http.Client, sessionTTL time.Duration, now func() time.Time, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   20 * time.Second,
			Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
		}
	}
	httpClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	if sessionTTL <= 0 {
		sessionTTL = 30 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:       httpClient,
		endpoints:  endpoints,
		sessionTTL: sessionTTL,
		now:        now,
		logger:     logger,
	}
}

// Login exchanges account credentials for a usable session.
func (c *Client) Login(ctx context.Context, creds Credentials) (Session, error) {
	switch creds.Variant {
	case VariantA:
		return c.loginA(ctx, creds)
	case VariantB:
		return c.loginB(ctx, creds)
	}
	return Session{}, fmt.Errorf("campus: unknown campus code %q", string(creds.Variant))
}

// FetchBalances retrieves and parses the three balance figures for one
// account using an established session.
func (c *Client) FetchBalances(ctx context.Context, creds Credentials, session Session) (Snapshot, error) {
	switch creds.Variant {
	case VariantA:
		return c.fetchA(ctx, creds, session)
	case VariantB:
		return c.fetchB(ctx, session)
	}
	return Snapshot{}, fmt.Errorf("campus: unknown campus code %q", string(creds.Variant))
}

// do issues a request, wrapping transport failures and mapping HTTP 401 to
// the non-retriable credential rejection.
func (c *Client) do(req *http.Request, op string) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}
	return resp, nil
}
