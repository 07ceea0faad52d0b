package privacy

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// URLMode is the global override for URL sanitization, independent of any
// per-rule url_policy. "rules" defers to URLPolicy; "full" always keeps the
// whole URL; "domain" always reduces to the host.
type URLMode string

const (
	URLModeRules  URLMode = "rules"
	URLModeFull   URLMode = "full"
	URLModeDomain URLMode = "domain"
)

// URLPolicy mirrors original_source's per-rule url_policy mapping.
type URLPolicy struct {
	AllowFullURL  bool `yaml:"allow_full_url"`
	KeepDomainOnly bool `yaml:"keep_domain_only"`
}

// Rules is the recognized shape of a privacy-rules YAML document, grounded
// on original_source/privacy.py's PrivacyRules dataclass, extended with the
// recipient-summarization and global url_mode fields this module adds.
type Rules struct {
	MaskKeys         map[string]bool    `yaml:"-"`
	HashKeys         map[string]bool    `yaml:"-"`
	LengthLimits     map[string]int     `yaml:"-"`
	URLPolicy        URLPolicy          `yaml:"-"`
	URLMode          URLMode            `yaml:"-"`
	RedactionPatterns []*regexp.Regexp  `yaml:"-"`
	DropPayloadKeys  map[string]bool    `yaml:"-"`
	AllowlistApps    map[string]bool    `yaml:"-"`
	DenylistApps     map[string]bool    `yaml:"-"`
	DenylistAction   string             `yaml:"-"`
	HashSalt         string             `yaml:"-"`
}

// rulesDoc is the literal YAML shape (before lowering/compiling).
type rulesDoc struct {
	MaskKeys         []string              `yaml:"mask_keys"`
	HashKeys         []string              `yaml:"hash_keys"`
	LengthLimits     map[string]int        `yaml:"length_limits"`
	URLPolicy        URLPolicy             `yaml:"url_policy"`
	URLMode          string                `yaml:"url_mode"`
	RedactionPatterns []redactionPatternDoc `yaml:"redaction_patterns"`
	DropPayloadKeys  []string              `yaml:"drop_payload_keys"`
	AllowlistApps    []string              `yaml:"allowlist_apps"`
	DenylistApps     []string              `yaml:"denylist_apps"`
	DenylistAction   string                `yaml:"denylist_action"`
	HashSalt         string                `yaml:"hash_salt"`
}

type redactionPatternDoc struct {
	Regex string
}

func (p *redactionPatternDoc) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&p.Regex)
	}
	var m map[string]string
	if err := value.Decode(&m); err != nil {
		return err
	}
	p.Regex = m["regex"]
	return nil
}

// LoadRules reads a privacy-rules YAML file from path.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- config path from trusted CLI flag
	if err != nil {
		return nil, fmt.Errorf("reading privacy rules: %w", err)
	}
	var doc rulesDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing privacy rules: %w", err)
	}
	return buildRules(doc)
}

func buildRules(doc rulesDoc) (*Rules, error) {
	r := &Rules{
		MaskKeys:        lowerSet(doc.MaskKeys),
		HashKeys:        lowerSet(doc.HashKeys),
		LengthLimits:    lowerIntMap(doc.LengthLimits),
		URLPolicy:       doc.URLPolicy,
		URLMode:         URLMode(strings.ToLower(doc.URLMode)),
		DropPayloadKeys: lowerSet(doc.DropPayloadKeys),
		AllowlistApps:   lowerSet(doc.AllowlistApps),
		DenylistApps:    lowerSet(doc.DenylistApps),
		DenylistAction:  strings.ToLower(defaultStr(doc.DenylistAction, "drop")),
		HashSalt:        doc.HashSalt,
	}
	if r.URLMode == "" {
		r.URLMode = URLModeRules
	}
	for _, p := range doc.RedactionPatterns {
		if p.Regex == "" {
			continue
		}
		compiled, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("compiling redaction pattern %q: %w", p.Regex, err)
		}
		r.RedactionPatterns = append(r.RedactionPatterns, compiled)
	}
	return r, nil
}

func lowerSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		out[strings.ToLower(item)] = true
	}
	return out
}

func lowerIntMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

func defaultStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
