// Package catalog discovers plugin manifests from the filesystem layout
// plugins/<category>/<name>/manifest.<ext> and keeps an in-memory registry
// of the plugin kinds available for activation.
package catalog

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	xerrors "orchestrall/internal/errors"
	"orchestrall/internal/manifest"
	"orchestrall/pkg/logger"
)

// Entry is a discovered plugin kind: its manifest plus on-disk location.
// Owned by the catalog; callers only read it.
type Entry struct {
	// ID is the catalog key, {category}/{name}.
	ID       string `json:"id"`
	Category string `json:"category"`
	Name     string `json:"name"`
	// Dir is the plugin directory the manifest was found in.
	Dir      string             `json:"dir"`
	Manifest *manifest.Manifest `json:"manifest"`
}

var manifestFileNames = []string{"manifest.yaml", "manifest.yml", "manifest.json"}

// ErrPluginNotFound is returned when a plugin ID is absent from the registry.
var ErrPluginNotFound = xerrors.New(xerrors.CodeNotFound, "plugin not found in catalog")

// Catalog scans a plugins root and answers lookups against the last scan.
type Catalog struct {
	root   string
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*Entry
}

// New creates a catalog rooted at dir. No scan is performed yet.
func New(root string) *Catalog {
	return &Catalog{
		root:    root,
		logger:  logger.Named("catalog"),
		entries: make(map[string]*Entry),
	}
}

// Scan walks the plugins root and rebuilds the registry from scratch. A
// missing root is created empty and yields zero entries. A directory without
// a manifest file is skipped with a warning; a manifest that fails to decode
// or validate is skipped with a warning as well. Neither aborts the scan of
// sibling directories. Instances already live from a previous scan keep
// running until explicitly cycled.
func (c *Catalog) Scan(ctx context.Context) error {
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "create plugins root")
	}

	categories, err := os.ReadDir(c.root)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "read plugins root")
	}

	discovered := make(map[string]*Entry)
	for _, category := range categories {
		if !category.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		categoryDir := filepath.Join(c.root, category.Name())
		plugins, err := os.ReadDir(categoryDir)
		if err != nil {
			c.logger.Warn("skipping unreadable category directory",
				slog.String("dir", categoryDir),
				slog.Any("error", err),
			)
			continue
		}
		for _, plugin := range plugins {
			if !plugin.IsDir() {
				continue
			}
			entry := c.loadEntry(category.Name(), plugin.Name())
			if entry == nil {
				continue
			}
			discovered[entry.ID] = entry
		}
	}

	c.mu.Lock()
	c.entries = discovered
	c.mu.Unlock()

	c.logger.Info("catalog scan complete",
		slog.String("root", c.root),
		slog.Int("plugins", len(discovered)),
	)
	return nil
}

func (c *Catalog) loadEntry(category, name string) *Entry {
	dir := filepath.Join(c.root, category, name)

	var raw []byte
	found := false
	for _, fileName := range manifestFileNames {
		data, err := os.ReadFile(filepath.Join(dir, fileName))
		if err == nil {
			raw = data
			found = true
			break
		}
	}
	if !found {
		// A directory without a manifest is not a plugin.
		c.logger.Warn("skipping plugin directory without manifest", slog.String("dir", dir))
		return nil
	}

	m, err := manifest.Decode(raw)
	if err != nil {
		c.logger.Warn("skipping plugin with invalid manifest",
			slog.String("dir", dir),
			slog.Any("error", err),
		)
		return nil
	}

	return &Entry{
		ID:       category + "/" + name,
		Category: category,
		Name:     name,
		Dir:      dir,
		Manifest: m,
	}
}

// Get returns the entry registered under id.
func (c *Catalog) Get(id string) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[id]
	if !ok {
		return nil, ErrPluginNotFound
	}
	return entry, nil
}

// List returns all registered entries sorted by ID.
func (c *Catalog) List() []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := make([]*Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// Len returns the number of registered plugin kinds.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
