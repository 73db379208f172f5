package campus

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var amountPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// ExtractAmount pulls the first signed decimal out of a free-text balance
// field such as "实时金额：-12.50元". A field with no numeric substring means
// the portal recorded no debt or credit, so the amount is zero rather than
// an error.
func ExtractAmount(text string) decimal.Decimal {
	match := amountPattern.FindString(text)
	if match == "" {
		return decimal.Zero
	}
	amount, err := decimal.NewFromString(match)
	if err != nil {
		return decimal.Zero
	}
	return amount
}

// ExtractTrailingAmount handles the water figure, which arrives as a
// comma-separated list whose last element carries the amount. Only that
// segment is parsed, stripped of surrounding whitespace.
func ExtractTrailingAmount(text string) decimal.Decimal {
	segments := strings.Split(text, ",")
	return ExtractAmount(strings.TrimSpace(segments[len(segments)-1]))
}
