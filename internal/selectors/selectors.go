// Package selectors keeps page selectors as data: a YAML registry maps
// site → page type → field → {css, xpath, json}, and resolution tries CSS
// first, then XPath over the full document, then JSON embedded in <script>
// tags. Marketplaces move their markup often; shipping selector changes as
// configuration beats shipping code.
package selectors

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
	"gopkg.in/yaml.v3"
)

// Selector is one field's lookup with ordered fallbacks. Empty layers are
// skipped.
type Selector struct {
	CSS   string `yaml:"css,omitempty"`
	XPath string `yaml:"xpath,omitempty"`
	JSON  string `yaml:"json,omitempty"` // dotted path into embedded JSON
}

// Empty reports whether no layer is configured.
func (s Selector) Empty() bool {
	return s.CSS == "" && s.XPath == "" && s.JSON == ""
}

// FieldSet maps field names (link, title, price, image, …) to selectors.
type FieldSet map[string]Selector

// Field returns the selector for a field, zero-valued when absent.
func (f FieldSet) Field(name string) Selector {
	if f == nil {
		return Selector{}
	}
	return f[name]
}

// SiteSelectors groups the listing and product page selector sets of a site.
type SiteSelectors struct {
	Listing FieldSet `yaml:"listing"`
	Product FieldSet `yaml:"product"`
}

// Registry holds selector sets per site.
type Registry map[string]SiteSelectors

// LoadRegistry reads the YAML selectors file. A missing file yields an empty
// registry; adapters then run entirely on their built-in defaults.
func LoadRegistry(path string) (Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Registry{}, nil
		}
		return nil, fmt.Errorf("selectors: read %s: %w", path, err)
	}
	reg := Registry{}
	if err := yaml.Unmarshal(raw, &reg); err != nil {
		return nil, fmt.Errorf("selectors: parse %s: %w", path, err)
	}
	return reg, nil
}

// Site returns the selector sets for a site, zero-valued when not configured.
func (r Registry) Site(name string) SiteSelectors {
	return r[name]
}

// Match is one resolved element: either a document node or a JSON value,
// depending on which fallback layer produced it.
type Match struct {
	Sel *goquery.Selection
	Val any
}

// Text returns the match's trimmed text content; JSON scalars are stringified.
func (m Match) Text() string {
	if m.Sel != nil {
		return strings.Join(strings.Fields(m.Sel.Text()), " ")
	}
	switch v := m.Val.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// Attr returns a node attribute; JSON matches have none.
func (m Match) Attr(name string) string {
	if m.Sel == nil {
		return ""
	}
	v, _ := m.Sel.Attr(name)
	return v
}

// SelectAll resolves a selector against a scope, returning the first
// non-empty layer's matches: CSS within the scope, then XPath over the full
// document the scope belongs to, then embedded JSON from <script> tags in
// scope.
func SelectAll(scope *goquery.Selection, s Selector) []Match {
	if scope == nil || s.Empty() {
		return nil
	}

	if s.CSS != "" {
		found := scope.Find(s.CSS)
		if found.Length() > 0 {
			out := make([]Match, 0, found.Length())
			found.Each(func(_ int, el *goquery.Selection) {
				out = append(out, Match{Sel: el})
			})
			return out
		}
	}

	if s.XPath != "" {
		if root := documentRoot(scope); root != nil {
			if nodes, err := htmlquery.QueryAll(root, s.XPath); err == nil && len(nodes) > 0 {
				out := make([]Match, 0, len(nodes))
				for _, n := range nodes {
					out = append(out, Match{Sel: goquery.NewDocumentFromNode(n).Selection})
				}
				return out
			}
		}
	}

	if s.JSON != "" {
		var out []Match
		scope.Find("script").Each(func(_ int, script *goquery.Selection) {
			var data any
			if err := json.Unmarshal([]byte(script.Text()), &data); err != nil {
				return
			}
			if v, ok := jsonQuery(data, s.JSON); ok {
				out = append(out, Match{Val: v})
			}
		})
		return out
	}

	return nil
}

// SelectOne returns the first match of SelectAll, ok=false when nothing resolved.
func SelectOne(scope *goquery.Selection, s Selector) (Match, bool) {
	all := SelectAll(scope, s)
	if len(all) == 0 {
		return Match{}, false
	}
	return all[0], true
}

// documentRoot climbs from the scope's first node to the document node so
// XPath always sees the full page.
func documentRoot(scope *goquery.Selection) *html.Node {
	if len(scope.Nodes) == 0 {
		return nil
	}
	n := scope.Nodes[0]
	for n.Parent != nil {
		n = n.Parent
	}
	return n
}

// jsonQuery walks a dotted path through decoded JSON; numeric segments index
// arrays.
func jsonQuery(data any, path string) (any, bool) {
	cur := data
	for _, part := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[part]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			cur = v[idx]
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}
