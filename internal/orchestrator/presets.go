package orchestrator

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dealscout/dealscout/internal/models"
)

// Preset is one category listing to scrape. URL may contain a {page}
// placeholder; Pages expands it into that many page tasks.
type Preset struct {
	Site     string `yaml:"site"`
	Category string `yaml:"category"`
	URL      string `yaml:"url"`
	GeoID    string `yaml:"geoid,omitempty"`
	Pages    int    `yaml:"pages,omitempty"`
}

// Presets is the orchestrator's scrape plan.
type Presets struct {
	GeoIDDefault string   `yaml:"geoid_default"`
	Sites        []Preset `yaml:"sites"`
}

// LoadPresets reads and validates the presets YAML.
func LoadPresets(path string) (Presets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Presets{}, fmt.Errorf("presets: read %s: %w", path, err)
	}
	var p Presets
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Presets{}, fmt.Errorf("presets: parse %s: %w", path, err)
	}
	for i, s := range p.Sites {
		if !models.KnownSource(s.Site) {
			return Presets{}, fmt.Errorf("presets: entry %d: unknown site %q", i, s.Site)
		}
		if s.URL == "" {
			return Presets{}, fmt.Errorf("presets: entry %d: empty url", i)
		}
	}
	return p, nil
}

// PageCount returns how many page tasks the preset expands into.
func (p Preset) PageCount() int {
	if p.Pages > 1 && strings.Contains(p.URL, "{page}") {
		return p.Pages
	}
	return 1
}

// PageURL substitutes the page number into the URL template. Page 1 of a
// templated URL keeps the placeholder substituted too.
func (p Preset) PageURL(page int) string {
	return strings.ReplaceAll(p.URL, "{page}", strconv.Itoa(page))
}
