package plugins

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// ActivationStore persists which plugins are active.
type ActivationStore interface {
	SetPluginActive(ctx context.Context, slug string, active bool) error
	UpsertInstalledPlugin(ctx context.Context, slug, version string) error
}

// Plugin is a discovered plugin main file.
type Plugin struct {
	// Slug is the main file path relative to the plugins directory, e.g.
	// "wc-tracking-code-injector/wc-tracking-code-injector.php".
	Slug     string    `json:"slug"`
	Metadata *Metadata `json:"metadata"`
}

// Folder returns the directory part of the slug.
func (p *Plugin) Folder() string {
	return path.Dir(p.Slug)
}

// Registry discovers plugins below a directory and caches their headers.
type Registry struct {
	fs    afero.Fs
	dir   string
	store ActivationStore
	log   *logrus.Entry

	mu    sync.RWMutex
	cache map[string]*Metadata
}

// NewRegistry creates a registry rooted at dir.
func NewRegistry(fsys afero.Fs, dir string, store ActivationStore, log *logrus.Entry) *Registry {
	return &Registry{
		fs:    fsys,
		dir:   dir,
		store: store,
		log:   log,
		cache: make(map[string]*Metadata),
	}
}

// Dir returns the plugins directory.
func (r *Registry) Dir() string {
	return r.dir
}

// Basename converts an absolute main file path into a slug.
func (r *Registry) Basename(mainFile string) string {
	if !filepath.IsAbs(mainFile) {
		return filepath.ToSlash(filepath.Clean(mainFile))
	}
	rel, err := filepath.Rel(r.dir, mainFile)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(filepath.Base(mainFile))
	}
	return filepath.ToSlash(rel)
}

// Discover scans the plugins directory. Main files sit directly in the
// directory or one level below it and carry a "Plugin Name" header.
func (r *Registry) Discover() ([]*Plugin, error) {
	entries, err := afero.ReadDir(r.fs, r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read plugins directory: %w", err)
	}

	var found []*Plugin
	for _, entry := range entries {
		if entry.IsDir() {
			sub, err := afero.ReadDir(r.fs, filepath.Join(r.dir, entry.Name()))
			if err != nil {
				r.log.Warnf("Skipping unreadable plugin folder %s: %v", entry.Name(), err)
				continue
			}
			for _, f := range sub {
				if f.IsDir() || !isMainFileCandidate(f.Name()) {
					continue
				}
				if p := r.load(entry.Name() + "/" + f.Name()); p != nil {
					found = append(found, p)
				}
			}
			continue
		}
		if isMainFileCandidate(entry.Name()) {
			if p := r.load(entry.Name()); p != nil {
				found = append(found, p)
			}
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Slug < found[j].Slug })
	return found, nil
}

func (r *Registry) load(slug string) *Plugin {
	meta, err := r.Metadata(slug)
	if err != nil || meta.Name == "" {
		return nil
	}
	return &Plugin{Slug: slug, Metadata: meta}
}

func isMainFileCandidate(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".php")
}

// Metadata returns the header block for a slug, reading it from disk on a
// cache miss.
func (r *Registry) Metadata(slug string) (*Metadata, error) {
	r.mu.RLock()
	meta, ok := r.cache[slug]
	r.mu.RUnlock()
	if ok {
		return meta, nil
	}

	meta, err := ReadMetadata(r.fs, r.MainFilePath(slug))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &PluginError{Slug: slug, Op: "metadata", Message: "main file missing", Cause: ErrNotFound}
		}
		return nil, &PluginError{Slug: slug, Op: "metadata", Message: "unreadable main file", Cause: err}
	}

	r.mu.Lock()
	r.cache[slug] = meta
	r.mu.Unlock()
	return meta, nil
}

// MainFilePath returns the on-disk location of a slug.
func (r *Registry) MainFilePath(slug string) string {
	return filepath.Join(r.dir, filepath.FromSlash(slug))
}

// Exists reports whether the main file of slug is present.
func (r *Registry) Exists(slug string) bool {
	ok, err := afero.Exists(r.fs, r.MainFilePath(slug))
	return err == nil && ok
}

// Invalidate drops cached headers of every slug inside folder. An empty folder
// clears the whole cache.
func (r *Registry) Invalidate(folder string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if folder == "" {
		r.cache = make(map[string]*Metadata)
		return
	}
	for slug := range r.cache {
		if folder == "." && !strings.Contains(slug, "/") {
			delete(r.cache, slug)
			continue
		}
		if slug == folder || strings.HasPrefix(slug, folder+"/") {
			delete(r.cache, slug)
		}
	}
}

// Activate marks a plugin as active. The main file must exist and carry a
// plugin header.
func (r *Registry) Activate(ctx context.Context, slug string) error {
	r.Invalidate(path.Dir(slug))
	meta, err := r.Metadata(slug)
	if err != nil {
		return err
	}
	if meta.Name == "" {
		return &PluginError{Slug: slug, Op: "activate", Message: "main file has no plugin header"}
	}
	if err := r.store.UpsertInstalledPlugin(ctx, slug, meta.Version); err != nil {
		return &PluginError{Slug: slug, Op: "activate", Message: "failed to record version", Cause: err}
	}
	if err := r.store.SetPluginActive(ctx, slug, true); err != nil {
		return &PluginError{Slug: slug, Op: "activate", Message: "failed to persist activation", Cause: err}
	}
	r.log.WithField("slug", slug).Infof("Activated plugin %s %s", meta.Name, meta.Version)
	return nil
}

// Deactivate clears the active flag.
func (r *Registry) Deactivate(ctx context.Context, slug string) error {
	if err := r.store.SetPluginActive(ctx, slug, false); err != nil {
		return &PluginError{Slug: slug, Op: "deactivate", Message: "failed to persist deactivation", Cause: err}
	}
	return nil
}

// RemoveLegacy deactivates and deletes a plugin folder that has been
// superseded. It is a no-op when the folder is absent.
func (r *Registry) RemoveLegacy(ctx context.Context, slug string) (bool, error) {
	if !r.Exists(slug) {
		return false, nil
	}
	if err := r.Deactivate(ctx, slug); err != nil {
		return false, err
	}
	target := filepath.Join(r.dir, filepath.FromSlash(path.Dir(slug)))
	if path.Dir(slug) == "." {
		target = r.MainFilePath(slug)
	}
	if err := r.fs.RemoveAll(target); err != nil {
		return false, &PluginError{Slug: slug, Op: "remove", Message: "failed to delete folder", Cause: err}
	}
	r.Invalidate(path.Dir(slug))
	r.log.WithField("slug", slug).Info("Removed legacy plugin")
	return true, nil
}
