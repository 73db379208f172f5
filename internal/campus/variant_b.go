package campus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"

	"github.com/shopspring/decimal"
)

const (
	ssoBootstrapPath = "/sso/login"
	profilePath      = "/app/user/profile"
	balancePath      = "/app/charge/balance"

	// finalTargetPath is the landing page the last hop of the chain must
	// redirect to. Anything else means the upstream flow drifted.
	finalTargetPath = "/web/index"

	// appStatusOKB is portal B's application-level success sentinel.
	appStatusOKB = 0
)

// hallTicketPattern lifts the session-identifier cookie out of a raw
// Set-Cookie header. The portal emits it with attributes a plain cookie
// parse occasionally mangles, so the header is matched directly.
var hallTicketPattern = regexp.MustCompile(`hallticket=([^;,\s]+)`)

type chainState int

const (
	chainInit chainState = iota
	chainBootstrapRedirected
	chainSessionObtained
	chainAuthorized
)

// redirectChain walks portal B's four-hop single-sign-on flow. The upstream
// offers no contract beyond "redirect or fail", so every hop validates its
// own post-condition and aborts with an attributable reason. A failed chain
// is never partially retried; the orchestrator re-runs it whole.
type redirectChain struct {
	client   *Client
	base     *url.URL
	cookies  []*http.Cookie
	location *url.URL
	ticket   string
	state    chainState
}

func newRedirectChain(client *Client, seed Session) (*redirectChain, error) {
	base, err := url.Parse(client.endpoints.PortalB)
	if err != nil {
		return nil, &NetworkError{Op: "parse portal base", Err: err}
	}
	chain := &redirectChain{client: client, base: base, state: chainInit}
	if seed.CookieA != "" {
		chain.cookies = append(chain.cookies, &http.Cookie{Name: cookieSession, Value: seed.CookieA})
	}
	if seed.CookieB != "" {
		chain.cookies = append(chain.cookies, &http.Cookie{Name: cookieRoute, Value: seed.CookieB})
	}
	return chain, nil
}

func (rc *redirectChain) get(ctx context.Context, target *url.URL, op string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	for _, cookie := range rc.cookies {
		req.AddCookie(cookie)
	}
	resp, err := rc.client.do(req, op)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	rc.cookies = append(rc.cookies, resp.Cookies()...)
	return resp, nil
}

func (rc *redirectChain) followLocation(resp *http.Response, hop int) error {
	location := resp.Header.Get("Location")
	if location == "" {
		return &RedirectError{Hop: hop, Reason: ReasonMissingLocation, Status: resp.StatusCode}
	}
	target, err := url.Parse(location)
	if err != nil {
		return &RedirectError{Hop: hop, Reason: ReasonMissingLocation, Status: resp.StatusCode}
	}
	rc.location = rc.base.ResolveReference(target)
	return nil
}

// hopBootstrap starts the flow with the bearer token from the seed login.
// Post-condition: 302 with a Location header.
func (rc *redirectChain) hopBootstrap(ctx context.Context, bearer string) error {
	target := *rc.base
	target.Path = ssoBootstrapPath
	target.RawQuery = url.Values{"token": {bearer}}.Encode()

	resp, err := rc.get(ctx, &target, "sso bootstrap")
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusFound {
		return &RedirectError{Hop: 1, Reason: ReasonBadStatus, Status: resp.StatusCode}
	}
	if err := rc.followLocation(resp, 1); err != nil {
		return err
	}
	rc.state = chainBootstrapRedirected
	return nil
}

// hopSession must both set the session-identifier cookie and redirect. The
// missing cookie is a distinct fatal condition from a wrong status code:
// the status stays attributable to the portal, the cookie to the flow.
func (rc *redirectChain) hopSession(ctx context.Context) error {
	resp, err := rc.get(ctx, rc.location, "sso session")
	if err != nil {
		return err
	}
	ticket := ""
	for _, header := range resp.Header.Values("Set-Cookie") {
		if match := hallTicketPattern.FindStringSubmatch(header); match != nil {
			ticket = match[1]
			break
		}
	}
	if ticket == "" {
		return &RedirectError{Hop: 2, Reason: ReasonMissingCookie, Status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusFound {
		return &RedirectError{Hop: 2, Reason: ReasonBadStatus, Status: resp.StatusCode}
	}
	if err := rc.followLocation(resp, 2); err != nil {
		return err
	}
	rc.ticket = ticket
	rc.cookies = append(rc.cookies, &http.Cookie{Name: "hallticket", Value: ticket})
	rc.state = chainSessionObtained
	return nil
}

// hopAuthorize carries the session forward. Post-condition: 302.
func (rc *redirectChain) hopAuthorize(ctx context.Context) error {
	resp, err := rc.get(ctx, rc.location, "sso authorize")
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusFound {
		return &RedirectError{Hop: 3, Reason: ReasonBadStatus, Status: resp.StatusCode}
	}
	return rc.followLocation(resp, 3)
}

// hopFinal must land on the fixed expected path. Any other target is
// protocol drift, reported distinctly so it never masquerades as a timeout.
func (rc *redirectChain) hopFinal(ctx context.Context) error {
	resp, err := rc.get(ctx, rc.location, "sso final")
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusFound {
		return &RedirectError{Hop: 4, Reason: ReasonBadStatus, Status: resp.StatusCode}
	}
	if err := rc.followLocation(resp, 4); err != nil {
		return err
	}
	if rc.location.Path != finalTargetPath {
		return &RedirectError{Hop: 4, Reason: ReasonWrongTarget, Status: resp.StatusCode}
	}
	rc.state = chainAuthorized
	return nil
}

// loginB seeds a cookie jar from a portal-A-style login, then walks the
// four-hop redirect chain to obtain the session-identifier cookie the data
// endpoints require.
func (c *Client) loginB(ctx context.Context, creds Credentials) (Session, error) {
	seed, err := c.loginA(ctx, creds)
	if err != nil {
		return Session{}, err
	}

	chain, err := newRedirectChain(c, seed)
	if err != nil {
		return Session{}, err
	}
	if err := chain.hopBootstrap(ctx, seed.BearerToken); err != nil {
		return Session{}, err
	}
	if err := chain.hopSession(ctx); err != nil {
		return Session{}, err
	}
	if err := chain.hopAuthorize(ctx); err != nil {
		return Session{}, err
	}
	if err := chain.hopFinal(ctx); err != nil {
		return Session{}, err
	}

	now := c.now()
	return Session{
		BearerToken: seed.BearerToken,
		CookieA:     chain.ticket,
		CookieB:     seed.CookieB,
		IssuedAt:    now,
		ExpiresAt:   now.Add(c.sessionTTL),
	}, nil
}

type profileResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    struct {
		Name string `json:"name"`
		Room string `json:"room"`
	} `json:"data"`
}

type balanceResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    struct {
		Electric decimal.Decimal `json:"elecBalance"`
		Water    decimal.Decimal `json:"waterBalance"`
	} `json:"data"`
}

// fetchB issues the profile and balance requests sequentially using only the
// session-identifier cookie. Portal B does not track air conditioning, so
// that figure is reported as exactly zero.
func (c *Client) fetchB(ctx context.Context, session Session) (Snapshot, error) {
	var profile profileResponse
	if err := c.getPortalB(ctx, profilePath, session, &profile); err != nil {
		return Snapshot{}, err
	}
	if profile.Code != appStatusOKB {
		return Snapshot{}, &APIError{Endpoint: profilePath, Code: profile.Code, Message: profile.Message}
	}

	var balance balanceResponse
	if err := c.getPortalB(ctx, balancePath, session, &balance); err != nil {
		return Snapshot{}, err
	}
	if balance.Code != appStatusOKB {
		return Snapshot{}, &APIError{Endpoint: balancePath, Code: balance.Code, Message: balance.Message}
	}

	return Snapshot{
		Electric:   balance.Data.Electric,
		Water:      balance.Data.Water,
		AC:         decimal.Zero,
		RoomLabel:  profile.Data.Room,
		ObservedAt: c.now(),
	}, nil
}

func (c *Client) getPortalB(ctx context.Context, path string, session Session, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.PortalB+path, nil)
	if err != nil {
		return &NetworkError{Op: "build portal request", Err: err}
	}
	req.AddCookie(&http.Cookie{Name: "hallticket", Value: session.CookieA})

	resp, err := c.do(req, "portal data request")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{Endpoint: path, Code: resp.StatusCode, Message: "unexpected http status"}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Endpoint: path, Code: resp.StatusCode, Message: "malformed body"}
	}
	return nil
}
