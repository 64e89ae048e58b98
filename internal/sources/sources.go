// Package sources holds the table of institutional senders (courts,
// authorities) used for global-source detection.
package sources

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"casetriage/internal/domain"
)

const reloadDebounce = 200 * time.Millisecond

type sourcesFile struct {
	Sources []domain.GlobalEmailSource `yaml:"global_sources"`
}

// Defaults is used when no sources file is configured.
func Defaults() []domain.GlobalEmailSource {
	return []domain.GlobalEmailSource{
		{ID: "just-ro", Name: "Instante judecatoresti", Category: "court", DomainPatterns: []string{"just.ro", "*.just.ro"}},
		{ID: "anaf", Name: "ANAF", Category: "authority", DomainPatterns: []string{"anaf.ro", "*.anaf.ro"}},
		{ID: "onrc", Name: "Registrul Comertului", Category: "authority", DomainPatterns: []string{"onrc.ro", "*.onrc.ro"}},
		{ID: "mpublic", Name: "Ministerul Public", Category: "prosecutor", DomainPatterns: []string{"mpublic.ro", "*.mpublic.ro"}},
		{ID: "executori", Name: "Executori judecatoresti", Category: "bailiff", DomainPatterns: []string{"executori.ro", "*.executori.ro"}},
	}
}

// Load reads and validates a sources YAML file.
func Load(path string) ([]domain.GlobalEmailSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sources file: %w", err)
	}
	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing sources file: %w", err)
	}
	seen := make(map[string]bool, len(f.Sources))
	out := make([]domain.GlobalEmailSource, 0, len(f.Sources))
	for i, s := range f.Sources {
		s.ID = strings.TrimSpace(s.ID)
		s.Name = strings.TrimSpace(s.Name)
		if s.ID == "" {
			return nil, fmt.Errorf("global source %d: id is required", i)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("global source %q: duplicate id", s.ID)
		}
		seen[s.ID] = true
		if len(s.Emails) == 0 && len(s.DomainPatterns) == 0 {
			return nil, fmt.Errorf("global source %q: needs emails or domain_patterns", s.ID)
		}
		if s.Name == "" {
			s.Name = s.ID
		}
		out = append(out, s)
	}
	return out, nil
}

// Registry serves the current source table and reloads it when the backing
// file changes.
type Registry struct {
	path string

	mu      sync.RWMutex
	sources []domain.GlobalEmailSource
}

// NewRegistry loads path, or the built-in defaults when path is empty.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{path: strings.TrimSpace(path)}
	if r.path == "" {
		r.sources = Defaults()
		return r, nil
	}
	loaded, err := Load(r.path)
	if err != nil {
		return nil, err
	}
	r.sources = loaded
	return r, nil
}

// Sources returns a copy of the current table.
func (r *Registry) Sources() []domain.GlobalEmailSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.GlobalEmailSource, len(r.sources))
	copy(out, r.sources)
	return out
}

func (r *Registry) reload() error {
	loaded, err := Load(r.path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.sources = loaded
	r.mu.Unlock()
	log.Printf("sources reloaded path=%s count=%d", r.path, len(loaded))
	return nil
}

// Watch reloads the table on file changes until ctx is done. A file that
// fails to parse keeps the previous table. It is a no-op for the built-in
// defaults.
func (r *Registry) Watch(ctx context.Context) error {
	if r.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating sources watcher: %w", err)
	}
	// Editors replace files by rename, so watch the directory.
	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(r.path)
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
				} else {
					timer.Reset(reloadDebounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				if err := r.reload(); err != nil {
					log.Printf("sources reload failed path=%s: %v", r.path, err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("sources watcher error: %v", err)
			}
		}
	}()
	return nil
}
