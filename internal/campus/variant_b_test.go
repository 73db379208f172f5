package campus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

type portalBOptions struct {
	hop2NoCookie   bool
	hop3BadStatus  bool
	hop4WrongGoal  bool
	profileCode    int
	balanceFailure bool
}

func newPortalB(t *testing.T, opts portalBOptions) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	// Seed login endpoints, portal-A style.
	mux.HandleFunc(keyboardPath, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":200,"data":"0123456789"}`)
	})
	mux.HandleFunc(tokenPath, func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: cookieSession, Value: "seed-sess"})
		http.SetCookie(w, &http.Cookie{Name: cookieRoute, Value: "seed-route"})
		fmt.Fprint(w, `{"access_token":"tok-sso","expires_in":600}`)
	})

	mux.HandleFunc(ssoBootstrapPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/sso/ticket")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/sso/ticket", func(w http.ResponseWriter, r *http.Request) {
		if !opts.hop2NoCookie {
			w.Header().Add("Set-Cookie", "hallticket=ht-42; Path=/; HttpOnly")
		}
		w.Header().Set("Location", "/sso/authorize")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/sso/authorize", func(w http.ResponseWriter, r *http.Request) {
		if opts.hop3BadStatus {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Location", "/sso/landing")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/sso/landing", func(w http.ResponseWriter, r *http.Request) {
		target := finalTargetPath
		if opts.hop4WrongGoal {
			target = "/web/maintenance"
		}
		w.Header().Set("Location", target)
		w.WriteHeader(http.StatusFound)
	})

	mux.HandleFunc(profilePath, func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie("hallticket"); err != nil || cookie.Value == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprintf(w, `{"code":%d,"msg":"","data":{"name":"张三","room":"3栋502"}}`, opts.profileCode)
	})
	mux.HandleFunc(balancePath, func(w http.ResponseWriter, r *http.Request) {
		if opts.balanceFailure {
			fmt.Fprint(w, `{"code":10021,"msg":"房间未绑定"}`)
			return
		}
		fmt.Fprint(w, `{"code":0,"msg":"","data":{"elecBalance":25.5,"waterBalance":3.75}}`)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testClientB(server *httptest.Server) *Client {
	return NewClient(Endpoints{PortalA: server.URL, PortalB: server.URL}, server.Client(), 0, nil, nil)
}

var testCredsB = Credentials{AccountID: "2021002", Password: "secret", Variant: VariantB}

func TestLoginB_ChainSuccess(t *testing.T) {
	t.Parallel()

	server := newPortalB(t, portalBOptions{})
	client := testClientB(server)

	session, err := client.Login(context.Background(), testCredsB)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if session.CookieA != "ht-42" {
		t.Fatalf("expected session-identifier cookie ht-42, got %q", session.CookieA)
	}
	if session.BearerToken != "tok-sso" {
		t.Fatalf("expected seed bearer token carried, got %q", session.BearerToken)
	}
}

func TestLoginB_HopBadStatus(t *testing.T) {
	t.Parallel()

	server := newPortalB(t, portalBOptions{hop3BadStatus: true})
	client := testClientB(server)

	_, err := client.Login(context.Background(), testCredsB)
	var redirectErr *RedirectError
	if !errors.As(err, &redirectErr) {
		t.Fatalf("expected RedirectError, got %v", err)
	}
	if redirectErr.Hop != 3 || redirectErr.Reason != ReasonBadStatus {
		t.Fatalf("expected hop 3 %s, got hop %d %s", ReasonBadStatus, redirectErr.Hop, redirectErr.Reason)
	}
	if redirectErr.Status != http.StatusOK {
		t.Fatalf("expected recorded status 200, got %d", redirectErr.Status)
	}
}

func TestLoginB_MissingSessionCookieIsDistinct(t *testing.T) {
	t.Parallel()

	server := newPortalB(t, portalBOptions{hop2NoCookie: true})
	client := testClientB(server)

	_, err := client.Login(context.Background(), testCredsB)
	var redirectErr *RedirectError
	if !errors.As(err, &redirectErr) {
		t.Fatalf("expected RedirectError, got %v", err)
	}
	if redirectErr.Hop != 2 || redirectErr.Reason != ReasonMissingCookie {
		t.Fatalf("expected hop 2 %s, got hop %d %s", ReasonMissingCookie, redirectErr.Hop, redirectErr.Reason)
	}
}

func TestLoginB_WrongFinalTarget(t *testing.T) {
	t.Parallel()

	server := newPortalB(t, portalBOptions{hop4WrongGoal: true})
	client := testClientB(server)

	_, err := client.Login(context.Background(), testCredsB)
	var redirectErr *RedirectError
	if !errors.As(err, &redirectErr) {
		t.Fatalf("expected RedirectError, got %v", err)
	}
	if redirectErr.Hop != 4 || redirectErr.Reason != ReasonWrongTarget {
		t.Fatalf("expected hop 4 %s, got hop %d %s", ReasonWrongTarget, redirectErr.Hop, redirectErr.Reason)
	}
}

func TestFetchB_Success(t *testing.T) {
	t.Parallel()

	server := newPortalB(t, portalBOptions{})
	client := testClientB(server)

	session, err := client.Login(context.Background(), testCredsB)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	snapshot, err := client.FetchBalances(context.Background(), testCredsB, session)
	if err != nil {
		t.Fatalf("FetchBalances failed: %v", err)
	}

	if want := decimal.RequireFromString("25.5"); !snapshot.Electric.Equal(want) {
		t.Fatalf("expected electric %s, got %s", want, snapshot.Electric)
	}
	if want := decimal.RequireFromString("3.75"); !snapshot.Water.Equal(want) {
		t.Fatalf("expected water %s, got %s", want, snapshot.Water)
	}
	if !snapshot.AC.IsZero() {
		t.Fatalf("portal B must report ac as exactly zero, got %s", snapshot.AC)
	}
	if snapshot.RoomLabel != "3栋502" {
		t.Fatalf("expected room label from profile, got %q", snapshot.RoomLabel)
	}
}

func TestFetchB_ApplicationError(t *testing.T) {
	t.Parallel()

	server := newPortalB(t, portalBOptions{balanceFailure: true})
	client := testClientB(server)

	session, err := client.Login(context.Background(), testCredsB)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	_, err = client.FetchBalances(context.Background(), testCredsB, session)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != 10021 {
		t.Fatalf("expected application code 10021, got %d", apiErr.Code)
	}
}
