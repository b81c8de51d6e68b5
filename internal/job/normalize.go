package job

import "strings"

// addressSuffix is the channel address form for direct chats.
const addressSuffix = "@c.us"

// digits strips every non-numeric character from a raw target.
func digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalize applies the default country prefix to bare 10-digit numbers.
// Anything else is assumed to already carry its country code.
func normalize(clean, countryPrefix string) string {
	if len(clean) == 10 {
		return countryPrefix + clean
	}
	return clean
}

// address builds the channel address for a normalized number.
func address(normalized string) string {
	return normalized + addressSuffix
}
