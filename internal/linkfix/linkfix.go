// Link rewriting and caption override rules, loaded from a YAML rules file.
// Rules match on the link's host; caption overrides render a template
// against the item's metadata sidecar.

package linkfix

import (
	"bytes"
	"encoding/json"
	"log"
	"net/url"
	"os"
	"text/template"

	"gopkg.in/yaml.v2"
)

// Rule rewrites links for one host and optionally overrides the delivery
// caption for items fetched from it.
type Rule struct {
	Host            string `yaml:"host"`
	ReplaceHost     string `yaml:"replace_host"`
	CaptionTemplate string `yaml:"caption_template"`
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// Fixer applies link fixes and caption overrides.
type Fixer struct {
	rules []Rule
}

// Load reads the rules file. An empty path yields a Fixer with no rules,
// which passes links through unchanged.
func Load(path string) (*Fixer, error) {
	if path == "" {
		return &Fixer{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return &Fixer{rules: file.Rules}, nil
}

// NewFixer creates a Fixer from in-memory rules.
func NewFixer(rules []Rule) *Fixer {
	return &Fixer{rules: rules}
}

func (f *Fixer) matching(link string) *Rule {
	parsed, err := url.Parse(link)
	if err != nil {
		return nil
	}
	for i := range f.rules {
		if f.rules[i].Host == parsed.Host {
			return &f.rules[i]
		}
	}
	return nil
}

// FixLink rewrites a link's host according to the first matching rule.
// Links with no matching rule are returned unchanged.
func (f *Fixer) FixLink(link string) string {
	rule := f.matching(link)
	if rule == nil || rule.ReplaceHost == "" {
		return link
	}
	parsed, err := url.Parse(link)
	if err != nil {
		return link
	}
	parsed.Host = rule.ReplaceHost
	return parsed.String()
}

// Caption returns the delivery caption for an item, rendering the matching
// rule's template against the metadata sidecar if one applies. Falls back
// to the default caption on any problem; a bad rule must not block
// delivery.
func (f *Fixer) Caption(link, sidecarPath, fallback string) string {
	rule := f.matching(link)
	if rule == nil || rule.CaptionTemplate == "" {
		return fallback
	}
	data, err := os.ReadFile(sidecarPath)
	if err != nil {
		return fallback
	}
	var metadata map[string]interface{}
	if err := json.Unmarshal(data, &metadata); err != nil {
		log.Printf("Bad metadata sidecar %s: %v", sidecarPath, err)
		return fallback
	}
	tmpl, err := template.New("caption").Parse(rule.CaptionTemplate)
	if err != nil {
		log.Printf("Bad caption template for host %s: %v", rule.Host, err)
		return fallback
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, metadata); err != nil {
		return fallback
	}
	return buf.String()
}
