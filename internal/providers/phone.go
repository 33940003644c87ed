package providers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

var errEmptyPhone = errors.New("phone number is empty")

type PhoneNormalizer struct {
	// DefaultRegion is the ISO 3166 code used for numbers without a +prefix.
	DefaultRegion string
}

// E164 validates raw and formats it as +<country><number>. region, when
// set, overrides DefaultRegion.
func (n PhoneNormalizer) E164(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errEmptyPhone
	}
	if region == "" {
		region = n.DefaultRegion
	}
	if region == "" {
		region = "US"
	}
	num, err := phonenumbers.Parse(raw, strings.ToUpper(region))
	if err != nil {
		return "", fmt.Errorf("invalid phone number %q: %w", raw, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("invalid phone number %q", raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
