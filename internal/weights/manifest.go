// Package weights downloads and verifies model weight files listed in a
// manifest into the models directory.
package weights

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed manifest.yaml
var builtinManifest []byte

// Entry is one downloadable file.
type Entry struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Filename string `yaml:"filename"`
	SHA256   string `yaml:"sha256"`
	Required bool   `yaml:"required"`
}

// Verifiable reports whether the entry carries a real checksum.
func (e Entry) Verifiable() bool {
	return e.SHA256 != "" && !strings.HasPrefix(e.SHA256, "placeholder")
}

// Manifest is an ordered list of entries.
type Manifest []Entry

// Builtin returns the embedded manifest.
func Builtin() Manifest {
	m, err := ParseManifest(builtinManifest)
	if err != nil {
		panic("weights: embedded manifest: " + err.Error())
	}
	return m
}

// LoadManifest reads a manifest file.
func LoadManifest(path string) (Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := ParseManifest(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseManifest decodes and validates manifest YAML.
func ParseManifest(b []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	for i, e := range m {
		if e.Name == "" || e.URL == "" || e.Filename == "" {
			return nil, fmt.Errorf("entry %d: name, url and filename are required", i)
		}
		if filepath.Base(e.Filename) != e.Filename || e.Filename == "." || e.Filename == ".." {
			return nil, fmt.Errorf("entry %q: filename must be a plain file name", e.Name)
		}
	}
	return m, nil
}

// Lookup returns the entry named name.
func (m Manifest) Lookup(name string) (Entry, bool) {
	for _, e := range m {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}
