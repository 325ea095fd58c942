// Package payloads loads the attack strings and probe paths used by the
// vulnerability testers.
package payloads

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalogue []byte

type Credential struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type SQLInjection struct {
	Basic     []string `yaml:"basic"`
	TimeBased []string `yaml:"time_based"`
}

type XSS struct {
	Reflected []string `yaml:"reflected"`
	Polyglot  []string `yaml:"polyglot"`
}

type Authentication struct {
	WeakCredentials []Credential `yaml:"weak_credentials"`
	ProtectedPaths  []string     `yaml:"protected_paths"`
}

type Config struct {
	ExposedFiles []string `yaml:"exposed_files"`
	DefaultPages []string `yaml:"default_pages"`
	ErrorProbes  []string `yaml:"error_probes"`
	VCSPaths     []string `yaml:"vcs_paths"`
	ListingDirs  []string `yaml:"listing_dirs"`
}

// Catalogue is the full set of payload lists. List order is significant:
// testers try entries front to back.
type Catalogue struct {
	SQLInjection   SQLInjection   `yaml:"sql_injection"`
	XSS            XSS            `yaml:"xss"`
	Authentication Authentication `yaml:"authentication"`
	Config         Config         `yaml:"config"`
}

// Default returns the built-in catalogue.
func Default() (*Catalogue, error) {
	var c Catalogue
	if err := yaml.Unmarshal(defaultCatalogue, &c); err != nil {
		return nil, fmt.Errorf("failed to parse built-in payloads: %w", err)
	}
	return &c, nil
}

// Load returns the built-in catalogue overlaid with the lists defined in
// path. An empty path returns the defaults.
func Load(path string) (*Catalogue, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read payloads file: %w", err)
	}
	// Unmarshalling onto the defaults only replaces the keys present in data.
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse payloads file %s: %w", path, err)
	}
	return c, nil
}
