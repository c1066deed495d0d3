// Package presets holds the catalog of named style presets that expand a
// prompt with a suffix, a negative prompt and optional solver settings.
package presets

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"prunejuice/internal/common/fsutil"
	"prunejuice/pkg/types"
)

//go:embed presets.yaml
var builtinYAML []byte

// Preset is an immutable style definition.
type Preset struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	PromptSuffix   string   `yaml:"prompt_suffix"`
	NegativePrompt string   `yaml:"negative_prompt"`
	Steps          *int     `yaml:"steps,omitempty"`
	Guidance       *float64 `yaml:"guidance,omitempty"`
}

// Catalog is an ordered, read-only set of presets. Safe for concurrent use.
type Catalog struct {
	order []string
	byID  map[string]Preset
}

// Builtin returns the embedded catalog.
func Builtin() *Catalog {
	c, err := parse(builtinYAML)
	if err != nil {
		panic("presets: embedded catalog: " + err.Error())
	}
	return c
}

// LoadFile returns the builtin catalog overlaid with the presets in path: a
// preset with an existing id replaces it in place, new ids are appended.
func LoadFile(path string) (*Catalog, error) {
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	extra, err := parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c := Builtin()
	for _, id := range extra.order {
		if _, ok := c.byID[id]; !ok {
			c.order = append(c.order, id)
		}
		c.byID[id] = extra.byID[id]
	}
	return c, nil
}

func parse(b []byte) (*Catalog, error) {
	var list []Preset
	if err := yaml.Unmarshal(b, &list); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	c := &Catalog{byID: make(map[string]Preset, len(list))}
	for i, p := range list {
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			return nil, fmt.Errorf("preset %d: missing id", i)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("preset %q: duplicate id", p.ID)
		}
		if p.Name == "" {
			p.Name = p.ID
		}
		if p.Steps != nil && *p.Steps <= 0 {
			return nil, fmt.Errorf("preset %q: steps must be > 0", p.ID)
		}
		c.order = append(c.order, p.ID)
		c.byID[p.ID] = p
	}
	return c, nil
}

// Lookup returns the preset for id.
func (c *Catalog) Lookup(id string) (Preset, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// List returns {id, name} for every preset in catalog order.
func (c *Catalog) List() []types.Style {
	out := make([]types.Style, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, types.Style{ID: id, Name: c.byID[id].Name})
	}
	return out
}

// Apply expands params with the preset id. Unknown or empty ids leave params
// unchanged.
func (c *Catalog) Apply(id string, params types.GenerateParams) types.GenerateParams {
	p, ok := c.Lookup(id)
	if !ok {
		return params
	}
	params.Prompt += p.PromptSuffix
	switch {
	case params.NegativePrompt == "":
		params.NegativePrompt = p.NegativePrompt
	case p.NegativePrompt != "":
		params.NegativePrompt = p.NegativePrompt + " " + params.NegativePrompt
	}
	if p.Steps != nil {
		params.StepCount = *p.Steps
	}
	if p.Guidance != nil {
		params.GuidanceScale = *p.Guidance
	}
	return params
}
