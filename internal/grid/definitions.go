package grid

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v2"
)

// ColumnDefinition is a grid column as declared in the definitions file
type ColumnDefinition struct {
	ColumnDescriptor `yaml:",inline"`

	// ListSeparator splits a stored string into a list of values (e.g. "1,2").
	ListSeparator string `yaml:"list_separator,omitempty"`
}

// Definition describes one exportable grid
type Definition struct {
	Name     string `yaml:"name"`
	Query    string `yaml:"query"`
	IDColumn string `yaml:"id_column"`
	// SearchColumns are matched with LIKE against the keyword search.
	SearchColumns []string           `yaml:"search_columns,omitempty"`
	Columns       []ColumnDefinition `yaml:"columns"`
}

// Descriptors returns the declared columns as descriptors, in file order
func (d *Definition) Descriptors() []ColumnDescriptor {
	out := make([]ColumnDescriptor, 0, len(d.Columns))
	for _, c := range d.Columns {
		out = append(out, c.ColumnDescriptor)
	}
	return out
}

// Column returns the definition of the named column
func (d *Definition) Column(name string) (ColumnDefinition, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDefinition{}, false
}

func (d *Definition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("grid definition without name")
	}
	if d.Query == "" {
		return fmt.Errorf("grid %q: query is required", d.Name)
	}
	seen := make(map[string]bool, len(d.Columns))
	for _, c := range d.Columns {
		if c.Name == "" {
			return fmt.Errorf("grid %q: column without name", d.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("grid %q: duplicate column %q", d.Name, c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}

type definitionsFile struct {
	Grids []Definition `yaml:"grids"`
}

// Registry holds the grid definitions known to the service
type Registry struct {
	mu     sync.RWMutex
	path   string
	grids  map[string]*Definition
	logger *slog.Logger
}

// NewRegistry creates a registry from in-memory definitions
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{
		grids:  make(map[string]*Definition),
		logger: slog.Default().With(slog.String("component", "grid_registry")),
	}
	if err := r.set(defs); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadRegistry reads grid definitions from a YAML file
func LoadRegistry(path string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		path:   path,
		grids:  make(map[string]*Definition),
		logger: logger.With(slog.String("component", "grid_registry")),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the definitions file. On error the previous definitions stay active.
func (r *Registry) Reload() error {
	if r.path == "" {
		return nil
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("failed to read grid definitions: %w", err)
	}

	var file definitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse grid definitions: %w", err)
	}

	if err := r.set(file.Grids); err != nil {
		return err
	}

	r.logger.Info("grid definitions loaded",
		slog.String("path", r.path),
		slog.Int("grid_count", len(file.Grids)))
	return nil
}

func (r *Registry) set(defs []Definition) error {
	grids := make(map[string]*Definition, len(defs))
	for i := range defs {
		def := defs[i]
		if err := def.validate(); err != nil {
			return err
		}
		if _, dup := grids[def.Name]; dup {
			return fmt.Errorf("duplicate grid %q", def.Name)
		}
		grids[def.Name] = &def
	}

	r.mu.Lock()
	r.grids = grids
	r.mu.Unlock()
	return nil
}

// Get returns the definition of a grid
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.grids[name]
	return def, ok
}

// Names returns the registered grid names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.grids))
	for name := range r.grids {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Watch reloads the definitions whenever the file changes. It blocks until ctx is done.
// Bursts of events are collapsed into one reload after debounce.
func (r *Registry) Watch(ctx context.Context, debounce time.Duration) error {
	if r.path == "" {
		<-ctx.Done()
		return nil
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files by rename, so watch the directory instead of the file.
	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	r.logger.Info("watching grid definitions", slog.String("path", r.path))

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	target := filepath.Clean(r.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				if err := r.Reload(); err != nil {
					r.logger.Error("grid definitions reload failed",
						slog.String("path", r.path),
						slog.String("error", err.Error()))
				}
			})
			timerMu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			r.logger.Warn("grid definitions watcher error", slog.String("error", err.Error()))
		}
	}
}
