package privacy

import (
	"net/url"
	"regexp"
)

const redactionToken = "[REDACTED]"

// Truncate clips value to maxLen runes; maxLen <= 0 means no limit.
func Truncate(value string, maxLen int) string {
	if maxLen <= 0 {
		return value
	}
	r := []rune(value)
	if len(r) <= maxLen {
		return value
	}
	return string(r[:maxLen])
}

// MaskPatterns replaces every match of any pattern with [REDACTED].
func MaskPatterns(value string, patterns []*regexp.Regexp) string {
	masked := value
	for _, p := range patterns {
		masked = p.ReplaceAllString(masked, redactionToken)
	}
	return masked
}

// SanitizeURL reduces value to its host when keepDomainOnly is set.
func SanitizeURL(value string, keepDomainOnly bool) string {
	if !keepDomainOnly {
		return value
	}
	parsed, err := url.Parse(value)
	if err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return value
}
