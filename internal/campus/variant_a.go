package campus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	keyboardPath = "/auth/keyboard"
	tokenPath    = "/oauth/token"
	feeItemPath  = "/charge/feeitem"

	// Fee-category identifiers the portal assigns to the three utilities.
	feeItemElectric = "4"
	feeItemAC       = "9"
	feeItemWater    = "12"

	// appStatusOK is the application-level success sentinel embedded in
	// portal-A JSON bodies.
	appStatusOK = 200

	cookieSession = "JSESSIONID"
	cookieRoute   = "SERVERID"
)

type keyboardResponse struct {
	Code int    `json:"code"`
	Data string `json:"data"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type feeItemResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Map     struct {
		ShowData string `json:"showData"`
	} `json:"map"`
}

// loginA performs the single-request portal-A handshake: fetch the keyboard
// mapping, transform the password through it, then POST to the token
// endpoint and lift the bearer token plus two session cookies off the
// response.
func (c *Client) loginA(ctx context.Context, creds Credentials) (Session, error) {
	keyboard, err := c.fetchKeyboard(ctx)
	if err != nil {
		return Session{}, err
	}

	form := url.Values{}
	form.Set("username", creds.AccountID)
	form.Set("password", transformPassword(creds.Password, keyboard))
	form.Set("grant_type", "password")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.PortalA+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return Session{}, &NetworkError{Op: "build token request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(req, "token request")
	if err != nil {
		return Session{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Session{}, &NetworkError{Op: "read token response", Err: err}
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return Session{}, &AuthError{Reason: "malformed token response", Err: err}
	}
	if token.AccessToken == "" {
		return Session{}, &AuthError{Reason: "no access token in response"}
	}

	session := Session{BearerToken: token.AccessToken, IssuedAt: c.now()}
	for _, cookie := range resp.Cookies() {
		switch cookie.Name {
		case cookieSession:
			session.CookieA = cookie.Value
		case cookieRoute:
			session.CookieB = cookie.Value
		}
	}

	ttl := c.sessionTTL
	if token.ExpiresIn > 0 {
		ttl = time.Duration(token.ExpiresIn) * time.Second
	}
	session.ExpiresAt = session.IssuedAt.Add(ttl)
	return session, nil
}

func (c *Client) fetchKeyboard(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.PortalA+keyboardPath, nil)
	if err != nil {
		return "", &NetworkError{Op: "build keyboard request", Err: err}
	}
	resp, err := c.do(req, "keyboard request")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var keyboard keyboardResponse
	if err := json.NewDecoder(resp.Body).Decode(&keyboard); err != nil {
		return "", &AuthError{Reason: "malformed keyboard response", Err: err}
	}
	if keyboard.Code != appStatusOK {
		return "", &APIError{Endpoint: keyboardPath, Code: keyboard.Code, Message: "keyboard mapping rejected"}
	}
	if len(keyboard.Data) < 10 {
		return "", &AuthError{Reason: "incomplete keyboard mapping"}
	}
	return keyboard.Data, nil
}

// transformPassword rewrites each digit of the password as its position in
// the shuffled keyboard string the portal issued for this login. Non-digit
// runes pass through unchanged.
func transformPassword(password, keyboard string) string {
	var out strings.Builder
	for _, r := range password {
		if r < '0' || r > '9' {
			out.WriteRune(r)
			continue
		}
		idx := strings.IndexRune(keyboard, r)
		if idx < 0 {
			out.WriteRune(r)
			continue
		}
		fmt.Fprintf(&out, "%d", idx)
	}
	return out.String()
}

// fetchA queries the fee-item endpoint once per category, concurrently. All
// three responses must succeed at both the HTTP and the application level
// before any value surfaces.
func (c *Client) fetchA(ctx context.Context, creds Credentials, session Session) (Snapshot, error) {
	categories := []struct {
		name string
		id   string
	}{
		{"electric", feeItemElectric},
		{"ac", feeItemAC},
		{"water", feeItemWater},
	}

	texts := make([]string, len(categories))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, category := range categories {
		i, category := i, category
		group.Go(func() error {
			text, err := c.fetchFeeItem(groupCtx, creds, session, category.id)
			if err != nil {
				return err
			}
			texts[i] = text
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		Electric:   ExtractAmount(texts[0]),
		AC:         ExtractAmount(texts[1]),
		Water:      ExtractTrailingAmount(texts[2]),
		ObservedAt: c.now(),
	}, nil
}

func (c *Client) fetchFeeItem(ctx context.Context, creds Credentials, session Session, itemID string) (string, error) {
	endpoint := fmt.Sprintf("%s%s?feeitemid=%s&customercode=%s", c.endpoints.PortalA, feeItemPath, itemID, url.QueryEscape(creds.AccountID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", &NetworkError{Op: "build fee item request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+session.BearerToken)
	if session.CookieA != "" {
		req.AddCookie(&http.Cookie{Name: cookieSession, Value: session.CookieA})
	}
	if session.CookieB != "" {
		req.AddCookie(&http.Cookie{Name: cookieRoute, Value: session.CookieB})
	}

	resp, err := c.do(req, "fee item request")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Endpoint: feeItemPath, Code: resp.StatusCode, Message: "unexpected http status"}
	}

	var item feeItemResponse
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return "", &APIError{Endpoint: feeItemPath, Code: resp.StatusCode, Message: "malformed fee item body"}
	}
	if item.Code != appStatusOK {
		return "", &APIError{Endpoint: feeItemPath, Code: item.Code, Message: item.Message}
	}
	return item.Map.ShowData, nil
}
