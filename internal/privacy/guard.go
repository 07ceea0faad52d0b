// Package privacy implements PrivacyGuard: the envelope transform that
// enforces allow/deny lists, masking, hashing, URL sanitization, recipient
// summarization, and length clipping before an envelope may be stored.
package privacy

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"collector/internal/envelope"
)

// recipientKeys are the payload keys whose values Apply replaces with a
// recipient summary.
var recipientKeys = map[string]bool{
	"recipients": true, "recipient": true, "to": true,
	"cc": true, "bcc": true, "email": true, "emails": true,
}

var emailRe = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

// Guard applies a fixed set of Rules to envelopes.
type Guard struct {
	rules *Rules
}

func NewGuard(rules *Rules) *Guard {
	return &Guard{rules: rules}
}

// HashSalt returns the salt Apply uses for window/resource id hashing, so
// callers downstream of the guard (activity-detail title hashing) hash with
// the same key.
func (g *Guard) HashSalt() string {
	return g.rules.HashSalt
}

// Apply transforms env in place and returns (env, true) on success, or
// (zero, false) when the envelope must be dropped by allow/deny policy.
// Denial is a normal outcome, not an error. Apply is not idempotent: each
// call HMAC-hashes the window id, the resource id and every hash-key payload
// value again, and a recipients value that is already a summary map is
// replaced by {count: 0}. Only the redaction list is deduplicated.
func (g *Guard) Apply(env envelope.Envelope) (envelope.Envelope, bool) {
	appKey := strings.ToLower(env.App)
	if len(g.rules.AllowlistApps) > 0 && !g.rules.AllowlistApps[appKey] {
		return envelope.Envelope{}, false
	}
	if len(g.rules.DenylistApps) > 0 && g.rules.DenylistApps[appKey] {
		if g.rules.DenylistAction == "strip" {
			env.Payload = envelope.EmptyMap()
			env.Privacy.Redaction = dedupe(append(append([]string{}, env.Privacy.Redaction...), "denylist_stripped"))
			return env, true
		}
		return envelope.Envelope{}, false
	}

	redactions := append([]string{}, env.Privacy.Redaction...)

	if env.WindowID != nil && *env.WindowID != "" {
		hashed := HMACSHA256(*env.WindowID, g.rules.HashSalt)
		env.WindowID = &hashed
		redactions = append(redactions, "window_id_hashed")
	}

	if env.Resource.ID != "" && env.Resource.ID != "unknown" {
		env.Resource.ID = HMACSHA256(env.Resource.ID, g.rules.HashSalt)
		redactions = append(redactions, "resource_id_hashed")
	}

	if env.Payload.Kind != envelope.KindMap {
		env.Payload = envelope.EmptyMap()
	}
	sanitized := make(map[string]envelope.Value, len(env.Payload.Map))
	for key, value := range env.Payload.Map {
		keyNorm := strings.ToLower(key)
		if g.rules.DropPayloadKeys[keyNorm] {
			redactions = append(redactions, "drop:"+keyNorm)
			continue
		}
		sanitized[key] = g.sanitizeValue(keyNorm, value, &redactions)
	}
	env.Payload = envelope.FromMap(sanitized)
	env.Privacy = envelope.Privacy{
		PIILevel:  env.Privacy.PIILevel,
		Redaction: dedupe(redactions),
	}
	return env, true
}

func (g *Guard) sanitizeValue(keyNorm string, value envelope.Value, redactions *[]string) envelope.Value {
	if recipientKeys[keyNorm] {
		*redactions = append(*redactions, "recipients_summarized")
		return summarizeRecipients(value)
	}

	if g.rules.HashKeys[keyNorm] {
		*redactions = append(*redactions, "hash:"+keyNorm)
		return envelope.FromString(HMACSHA256(valueToString(value), g.rules.HashSalt))
	}

	if value.Kind != envelope.KindString {
		return value
	}

	str := value.Str

	if keyNorm == "url" {
		mode := g.rules.URLMode
		if mode == "" || mode == URLModeRules {
			allowFull := g.rules.URLPolicy.AllowFullURL
			keepDomainOnly := g.rules.URLPolicy.KeepDomainOnly
			if !allowFull {
				str = SanitizeURL(str, keepDomainOnly)
				*redactions = append(*redactions, "url_sanitized")
			}
		} else if mode == URLModeDomain {
			str = SanitizeURL(str, true)
			*redactions = append(*redactions, "url_sanitized")
		}
		// URLModeFull: leave untouched.
	}

	if g.rules.MaskKeys[keyNorm] {
		str = MaskPatterns(str, g.rules.RedactionPatterns)
		*redactions = append(*redactions, "mask:"+keyNorm)
	}

	if maxLen, ok := g.rules.LengthLimits[keyNorm]; ok && maxLen > 0 {
		str = Truncate(str, maxLen)
	}

	return envelope.FromString(str)
}

func valueToString(v envelope.Value) string {
	if v.Kind == envelope.KindString {
		return v.Str
	}
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(toJSONish(v)), `"`))
}

func toJSONish(v envelope.Value) string {
	switch v.Kind {
	case envelope.KindNull:
		return "null"
	case envelope.KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case envelope.KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	default:
		return v.Str
	}
}

// summarizeRecipients replaces a recipients-shaped payload value with
// {count, domain_stats} — no raw address is ever retained. It accepts
// either a list of address strings or a single address string, extracting
// RFC-5322-ish emails via regex and falling back to a plain item count when
// no address-shaped strings are found.
func summarizeRecipients(value envelope.Value) envelope.Value {
	var addresses []string
	switch value.Kind {
	case envelope.KindList:
		for _, item := range value.List {
			if item.Kind == envelope.KindString {
				addresses = append(addresses, item.Str)
			}
		}
	case envelope.KindString:
		addresses = append(addresses, value.Str)
	default:
		return envelope.FromMap(map[string]envelope.Value{
			"count": envelope.FromNumber(0),
		})
	}

	domainCounts := map[string]int{}
	matched := 0
	for _, addr := range addresses {
		email := emailRe.FindString(addr)
		if email == "" {
			continue
		}
		matched++
		if at := strings.LastIndex(email, "@"); at >= 0 && at+1 < len(email) {
			domainCounts[strings.ToLower(email[at+1:])]++
		}
	}

	result := map[string]envelope.Value{
		"count": envelope.FromNumber(float64(len(addresses))),
	}
	if matched > 0 {
		domains := make(map[string]envelope.Value, len(domainCounts))
		for domain, count := range domainCounts {
			domains[domain] = envelope.FromNumber(float64(count))
		}
		result["domain_stats"] = envelope.FromMap(domains)
	}
	return envelope.FromMap(result)
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// SortedDomains is a helper for deterministic test output.
func SortedDomains(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
