package campus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type portalAOptions struct {
	tokenBody   string
	failItem    string
	unauthorize bool
}

func newPortalA(t *testing.T, opts portalAOptions) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc(keyboardPath, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":200,"data":"3816902457"}`)
	})
	mux.HandleFunc(tokenPath, func(w http.ResponseWriter, r *http.Request) {
		if opts.unauthorize {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: cookieSession, Value: "sess-1"})
		http.SetCookie(w, &http.Cookie{Name: cookieRoute, Value: "route-1"})
		body := opts.tokenBody
		if body == "" {
			body = `{"access_token":"tok-abc","expires_in":3600}`
		}
		fmt.Fprint(w, body)
	})
	mux.HandleFunc(feeItemPath, func(w http.ResponseWriter, r *http.Request) {
		item := r.URL.Query().Get("feeitemid")
		if item == opts.failItem {
			fmt.Fprint(w, `{"code":500,"msg":"系统繁忙"}`)
			return
		}
		switch item {
		case feeItemElectric:
			fmt.Fprint(w, `{"code":200,"msg":"ok","map":{"showData":"实时金额：-12.50元"}}`)
		case feeItemAC:
			fmt.Fprint(w, `{"code":200,"msg":"ok","map":{"showData":"空调余额 30.00 元"}}`)
		case feeItemWater:
			fmt.Fprint(w, `{"code":200,"msg":"ok","map":{"showData":"3栋,502, 15.20"}}`)
		default:
			fmt.Fprint(w, `{"code":404,"msg":"unknown item"}`)
		}
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testClientA(server *httptest.Server, now func() time.Time) *Client {
	return NewClient(Endpoints{PortalA: server.URL}, server.Client(), 0, now, nil)
}

var testCredsA = Credentials{AccountID: "2021001", Password: "pa55word", Variant: VariantA}

func TestLoginA_Success(t *testing.T) {
	t.Parallel()

	server := newPortalA(t, portalAOptions{})
	issued := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	client := testClientA(server, func() time.Time { return issued })

	session, err := client.Login(context.Background(), testCredsA)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if session.BearerToken != "tok-abc" {
		t.Fatalf("expected bearer token tok-abc, got %q", session.BearerToken)
	}
	if session.CookieA != "sess-1" || session.CookieB != "route-1" {
		t.Fatalf("expected both session cookies, got %q / %q", session.CookieA, session.CookieB)
	}
	if want := issued.Add(time.Hour); !session.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %s, got %s", want, session.ExpiresAt)
	}
}

func TestLoginA_NoAccessToken(t *testing.T) {
	t.Parallel()

	server := newPortalA(t, portalAOptions{tokenBody: `{"error":"invalid_grant"}`})
	client := testClientA(server, nil)

	_, err := client.Login(context.Background(), testCredsA)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}

func TestLoginA_Unauthorized(t *testing.T) {
	t.Parallel()

	server := newPortalA(t, portalAOptions{unauthorize: true})
	client := testClientA(server, nil)

	_, err := client.Login(context.Background(), testCredsA)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if Retriable(err) {
		t.Fatalf("credential rejection must not be retriable")
	}
}

func TestFetchA_Success(t *testing.T) {
	t.Parallel()

	server := newPortalA(t, portalAOptions{})
	client := testClientA(server, nil)

	session, err := client.Login(context.Background(), testCredsA)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	snapshot, err := client.FetchBalances(context.Background(), testCredsA, session)
	if err != nil {
		t.Fatalf("FetchBalances failed: %v", err)
	}

	if want := decimal.RequireFromString("-12.5"); !snapshot.Electric.Equal(want) {
		t.Fatalf("expected electric %s, got %s", want, snapshot.Electric)
	}
	if want := decimal.RequireFromString("30"); !snapshot.AC.Equal(want) {
		t.Fatalf("expected ac %s, got %s", want, snapshot.AC)
	}
	if want := decimal.RequireFromString("15.2"); !snapshot.Water.Equal(want) {
		t.Fatalf("expected water %s, got %s", want, snapshot.Water)
	}
}

func TestFetchA_ApplicationErrorFailsWhole(t *testing.T) {
	t.Parallel()

	server := newPortalA(t, portalAOptions{failItem: feeItemWater})
	client := testClientA(server, nil)

	session, err := client.Login(context.Background(), testCredsA)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	_, err = client.FetchBalances(context.Background(), testCredsA, session)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != 500 {
		t.Fatalf("expected offending code 500, got %d", apiErr.Code)
	}
	if apiErr.Message != "系统繁忙" {
		t.Fatalf("expected offending message carried, got %q", apiErr.Message)
	}
}

func TestTransformPassword(t *testing.T) {
	t.Parallel()

	// keyboard "3816902457": digit 1 sits at index 2, 2 at index 5, etc.
	keyboard := "3816902457"
	cases := []struct {
		password string
		want     string
	}{
		{"123", "260"},
		{"0000", "5555"},
		{"a1b2", "a2b6"},
		{"nodigits", "nodigits"},
	}
	for _, tc := range cases {
		if got := transformPassword(tc.password, keyboard); got != tc.want {
			t.Fatalf("transformPassword(%q) = %q, want %q", tc.password, got, tc.want)
		}
	}
}
