package mapping

import (
	"net/url"
	"strings"
)

// NormalizeOrigin parses value and returns its canonical origin
// ("scheme://host"). Only http and https origins are accepted; anything else
// yields an empty string.
func NormalizeOrigin(value string) string {
	parsed, err := url.Parse(strings.TrimSpace(value))
	if err != nil {
		return ""
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}
	if parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}

// ParseAllowedOrigins splits a comma-separated origin list, normalizes each
// entry and drops anything invalid or duplicated. An empty result means "no
// allow-list configured".
func ParseAllowedOrigins(raw string) []string {
	seen := make(map[string]struct{})
	var origins []string
	for _, part := range strings.Split(raw, ",") {
		origin := NormalizeOrigin(part)
		if origin == "" {
			continue
		}
		if _, ok := seen[origin]; ok {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
