// CLAUDE:SUMMARY Catalog config parser — tolerant JSON decode, malformed entries dropped, HTML fields sanitized.
// Package confparse decodes remote catalog configuration documents.
//
// The documents come from many hands and many generators: flags arrive as
// bools or 0/1 ints, the extension payload as a string or an embedded
// object, and names sometimes carry HTML markup. The parser normalizes all
// of that and silently drops entries missing a required field, so one bad
// entry never sinks a whole source.
package confparse

import (
	"encoding/json"
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/microcosm-cc/bluemonday"
)

// Candidate is one normalized site entry from a configuration document.
type Candidate struct {
	Key         string
	Name        string
	Runtime     string
	API         string
	Ext         string
	Searchable  bool
	QuickSearch bool
	Filterable  bool
	Desc        string
	Headers     map[string]string
	Cookie      string
}

// Document is a parsed configuration source.
type Document struct {
	Sites      []Candidate
	Categories []string
	// URLs is set when the document is a multi-config wrapper
	// ({"urls":[...]}) pointing at further configuration documents.
	URLs []string
}

type rawDocument struct {
	Sites      []rawSite `json:"sites"`
	Categories []string  `json:"categories"`
	URLs       []rawURL  `json:"urls"`
}

type rawURL struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

type rawSite struct {
	Key         string            `json:"key"`
	Name        string            `json:"name"`
	Runtime     string            `json:"runtime"`
	API         string            `json:"api"`
	Ext         flexString        `json:"ext"`
	Searchable  flexBool          `json:"searchable"`
	QuickSearch flexBool          `json:"quickSearch"`
	Filterable  flexBool          `json:"filterable"`
	Desc        string            `json:"desc"`
	Headers     map[string]string `json:"headers"`
	Cookie      string            `json:"cookie"`
}

// Parser decodes and sanitizes configuration documents.
type Parser struct {
	policy *bluemonday.Policy
}

// New creates a Parser.
func New() *Parser {
	return &Parser{policy: bluemonday.StrictPolicy()}
}

// Parse decodes one configuration document. Entries missing key, name, or
// api are dropped. A document with no decodable top level is an error; a
// document whose every entry is malformed parses to zero sites.
func (p *Parser) Parse(data []byte) (*Document, error) {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("confparse: decode document: %w", err)
	}

	doc := &Document{Categories: raw.Categories}
	for _, u := range raw.URLs {
		if u.URL != "" {
			doc.URLs = append(doc.URLs, u.URL)
		}
	}

	for _, rs := range raw.Sites {
		if rs.Key == "" || rs.Name == "" || rs.API == "" {
			continue
		}
		doc.Sites = append(doc.Sites, Candidate{
			Key:         strings.TrimSpace(rs.Key),
			Name:        p.sanitizeName(rs.Name),
			Runtime:     normalizeRuntime(rs.Runtime),
			API:         strings.TrimSpace(rs.API),
			Ext:         string(rs.Ext),
			Searchable:  bool(rs.Searchable),
			QuickSearch: bool(rs.QuickSearch),
			Filterable:  bool(rs.Filterable),
			Desc:        p.sanitizeDesc(rs.Desc),
			Headers:     rs.Headers,
			Cookie:      rs.Cookie,
		})
	}
	return doc, nil
}

// sanitizeName strips all markup; site names are rendered in plain lists.
func (p *Parser) sanitizeName(s string) string {
	return strings.TrimSpace(p.policy.Sanitize(s))
}

// sanitizeDesc converts HTML descriptions to markdown; on failure or empty
// output it falls back to a stripped plain-text form.
func (p *Parser) sanitizeDesc(s string) string {
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}
	md, err := htmltomarkdown.ConvertString(s)
	if err != nil || strings.TrimSpace(md) == "" {
		return strings.TrimSpace(p.policy.Sanitize(s))
	}
	return strings.TrimSpace(md)
}

func normalizeRuntime(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bytecode", "wasm":
		return "bytecode"
	case "interpreter", "lua":
		return "interpreter"
	case "script", "js", "":
		return "script"
	default:
		return strings.ToLower(strings.TrimSpace(s))
	}
}

// flexBool accepts JSON true/false, 0/1, and "0"/"1".
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "true", "1", `"1"`, `"true"`:
		*b = true
	default:
		*b = false
	}
	return nil
}

// flexString accepts a JSON string or any JSON value, re-encoding non-string
// values verbatim so object-shaped ext payloads survive.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = flexString(str)
		return nil
	}
	*s = flexString(data)
	return nil
}
