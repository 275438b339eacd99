package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/sophialabs/meetpoint/internal/domain/station"
)

var _ station.Resolver = (*Repository)(nil)

// Repository resolves station names from YAML catalog files. The root may be a
// single file or a directory tree of .yaml files.
type Repository struct {
	root  string
	index atomic.Pointer[index]
}

type index struct {
	byKey map[string]station.Info
	count int
}

// NewRepository creates a repository rooted at root. The catalog is empty until
// Reload is called.
func NewRepository(root string) (*Repository, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve catalog path: %w", err)
	}
	r := &Repository{root: abs}
	r.index.Store(&index{byKey: map[string]station.Info{}})
	return r, nil
}

// Root returns the absolute catalog path.
func (r *Repository) Root() string { return r.root }

// Len returns the number of stations currently loaded.
func (r *Repository) Len() int { return r.index.Load().count }

// Resolve looks a name up by its normalised form, aliases included.
func (r *Repository) Resolve(_ context.Context, name string) (station.Info, error) {
	info, ok := r.index.Load().byKey[station.Normalize(name)]
	if !ok {
		return station.Info{}, fmt.Errorf("%w: %q", station.ErrNotFound, name)
	}
	return info, nil
}

// Reload reads every catalog file and swaps the lookup index in one step. On
// error the previous index stays in place.
func (r *Repository) Reload(_ context.Context) error {
	files, err := r.files()
	if err != nil {
		return err
	}

	next := &index{byKey: make(map[string]station.Info)}
	for _, path := range files {
		stations, err := loadFile(path)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		for i, s := range stations {
			if err := next.add(s); err != nil {
				return fmt.Errorf("%s: station %d: %w", path, i, err)
			}
		}
	}

	r.index.Store(next)
	return nil
}

func (r *Repository) files() ([]string, error) {
	fi, err := os.Stat(r.root)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	if !fi.IsDir() {
		return []string{r.root}, nil
	}

	var files []string
	err = filepath.WalkDir(r.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isYAMLFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk catalog directory: %w", err)
	}
	return files, nil
}

func loadFile(path string) ([]yamlStation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, nil
	}

	content := root.Content[0]
	if content.Kind == yaml.SequenceNode {
		var list []yamlStation
		if err := content.Decode(&list); err != nil {
			return nil, fmt.Errorf("failed to decode stations: %w", err)
		}
		return list, nil
	}

	var c yamlCatalog
	if err := content.Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return c.Stations, nil
}

func (ix *index) add(s yamlStation) error {
	if s.ID <= 0 {
		return errors.New("id must be positive")
	}
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("name is required")
	}

	info := station.Info{
		ID:         s.ID,
		Name:       strings.TrimSpace(s.Name),
		Coordinate: station.Coordinate{X: s.X, Y: s.Y},
	}
	for _, n := range append([]string{s.Name}, s.Aliases...) {
		key := station.Normalize(n)
		if key == "" {
			continue
		}
		if existing, ok := ix.byKey[key]; ok && existing.ID != info.ID {
			return fmt.Errorf("name %q already used by station %d", n, existing.ID)
		}
		ix.byKey[key] = info
	}
	ix.count++
	return nil
}

func isYAMLFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
