// Package manifest reads the install-time asset lists from a file
package manifest

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/faiz501/bharat-industry/internal/config"
)

// Manifest is the ordered list of assets pre-populated at install
type Manifest struct {
	Static []string `yaml:"static" toml:"static"`
	Images []string `yaml:"images" toml:"images"`
}

// Load reads a manifest file. The format is picked from the extension:
// .yaml/.yml or .toml.
func Load(path string) (Manifest, error) {
	var m Manifest

	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("reading manifest file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return m, fmt.Errorf("parsing manifest YAML: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &m); err != nil {
			return m, fmt.Errorf("parsing manifest TOML: %w", err)
		}
	default:
		return m, fmt.Errorf("unsupported manifest format: %s", path)
	}

	return m, m.Validate()
}

// FromConfig returns the manifest file named by cfg, or the inline lists
func FromConfig(cfg config.ManifestConfig) (Manifest, error) {
	if cfg.File != "" {
		return Load(cfg.File)
	}
	m := Manifest{
		Static: append([]string(nil), cfg.Static...),
		Images: append([]string(nil), cfg.Images...),
	}
	return m, m.Validate()
}

// Validate checks every entry parses as a URL reference
func (m Manifest) Validate() error {
	for _, list := range [][]string{m.Static, m.Images} {
		for _, entry := range list {
			if strings.TrimSpace(entry) == "" {
				return fmt.Errorf("empty manifest entry")
			}
			if _, err := url.Parse(entry); err != nil {
				return fmt.Errorf("invalid manifest entry %q: %w", entry, err)
			}
		}
	}
	return nil
}
