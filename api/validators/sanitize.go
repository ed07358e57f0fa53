package validators

import "strings"

const maxLocaleLen = 16

// NormalizeLocale lowercases a client locale and drops the region, so
// "pl-PL" and "pl_pl" both become "pl". Anything unusable becomes "".
func NormalizeLocale(raw string) string {
	locale := strings.ToLower(strings.TrimSpace(raw))
	if len(locale) > maxLocaleLen {
		return ""
	}
	if i := strings.IndexAny(locale, "-_"); i >= 0 {
		locale = locale[:i]
	}
	for _, r := range locale {
		if r < 'a' || r > 'z' {
			return ""
		}
	}
	return locale
}
