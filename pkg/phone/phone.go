package phone

import (
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is assumed for numbers that arrive without a country code.
const DefaultRegion = "US"

// NormalizeE164 parses a free-form phone number and returns it in E.164
// format. Leads store phones in E.164, so normalizing inbound webhook
// identifiers the same way makes lookups exact string matches.
func NormalizeE164(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty phone number")
	}

	num, err := phonenumbers.Parse(raw, DefaultRegion)
	if err != nil {
		return "", fmt.Errorf("failed to parse phone number: %w", err)
	}

	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("invalid phone number: %s", raw)
	}

	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// NormalizeOrEmpty is NormalizeE164 for optional inputs: unparseable or
// empty numbers yield "" so callers can fall through to other identifiers.
func NormalizeOrEmpty(raw string) string {
	e164, err := NormalizeE164(raw)
	if err != nil {
		return ""
	}
	return e164
}
