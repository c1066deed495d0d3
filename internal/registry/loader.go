package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"prunejuice/internal/common/fsutil"
	"prunejuice/pkg/types"
)

// WeightsExt is the single-file weights format recognized in the models dir.
const WeightsExt = ".safetensors"

// LoadDir scans dir for local models: every subdirectory (a diffusers layout)
// and every *.safetensors file. ID is the entry name; Path is absolute.
// A missing directory yields an empty registry, not an error, and is never
// created here.
func LoadDir(dir string) ([]types.Model, error) {
	abs, err := absDir(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if !e.IsDir() && !strings.HasSuffix(strings.ToLower(name), WeightsExt) {
			continue
		}
		models = append(models, types.Model{ID: name, Name: name, Path: filepath.Join(abs, name), Local: true})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// Resolve maps a model id to a local path under dir when one exists on disk.
// Ids that would escape dir are never resolved locally.
func Resolve(dir, id string) (types.Model, bool) {
	if id == "" || !filepath.IsLocal(filepath.FromSlash(id)) {
		return types.Model{}, false
	}
	abs, err := absDir(dir)
	if err != nil {
		return types.Model{}, false
	}
	p := filepath.Join(abs, filepath.FromSlash(id))
	if _, err := os.Stat(p); err != nil {
		return types.Model{}, false
	}
	return types.Model{ID: id, Name: id, Path: p, Local: true}, true
}

func absDir(dir string) (string, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("abs path: %w", err)
	}
	return abs, nil
}
