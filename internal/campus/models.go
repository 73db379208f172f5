package campus

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Variant identifies which campus backend a bound account belongs to.
type Variant string

const (
	// VariantA is the app portal: one OAuth-style token request with a
	// keyboard-transformed password, balances served by a fee-item endpoint.
	VariantA Variant = "A"
	// VariantB is the SSO portal: a four-hop redirect chain establishes a
	// session cookie, balances come from dedicated JSON endpoints.
	VariantB Variant = "B"
)

// ParseVariant normalizes a campus code supplied by a user.
func ParseVariant(code string) (Variant, error) {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "A":
		return VariantA, nil
	case "B":
		return VariantB, nil
	}
	return "", fmt.Errorf("campus: unknown campus code %q", code)
}

// Credentials carries one bound account's login material. The password is
// opaque to everything except the variant-specific handshake.
type Credentials struct {
	AccountID string
	Password  string
	Variant   Variant
}

// Session is the bearer credential plus the auxiliary cookies required to
// call balance endpoints. At most one live session exists per user; the
// token cache enforces this by overwrite-on-refresh.
type Session struct {
	BearerToken string
	CookieA     string
	CookieB     string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Snapshot is one timestamped reading of the three tracked balances.
// Immutable once produced.
type Snapshot struct {
	Electric   decimal.Decimal
	Water      decimal.Decimal
	AC         decimal.Decimal
	RoomLabel  string
	ObservedAt time.Time
}
