// Package datalist loads the optional allow/deny list and keeps it current.
package datalist

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lucid-vigil/safewatch/pkg/classifier"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Lists holds the parsed allow and deny entries.
type Lists struct {
	Allow []netip.Prefix
	Deny  []netip.Prefix
}

// Len returns the total number of entries.
func (l Lists) Len() int {
	return len(l.Allow) + len(l.Deny)
}

// Predicate layers the lists over base.
func (l Lists) Predicate(base classifier.Predicate) classifier.Predicate {
	if l.Len() == 0 {
		return base
	}
	return classifier.ListPredicate{Base: base, Allow: l.Allow, Deny: l.Deny}
}

// file is the on-disk YAML shape:
//
//	allow:
//	  - 10.1.0.0/16
//	deny:
//	  - 192.168.66.0/24
//	  - 192.168.1.13
type file struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// Load reads and parses the list at path. Any error leaves the caller with
// empty lists.
func Load(path string) (Lists, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Lists{}, fmt.Errorf("read data list %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes the YAML document in raw.
func Parse(raw []byte) (Lists, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Lists{}, fmt.Errorf("decode data list: %w", err)
	}
	allow, err := classifier.ParsePrefixes(f.Allow)
	if err != nil {
		return Lists{}, fmt.Errorf("allow list: %w", err)
	}
	deny, err := classifier.ParsePrefixes(f.Deny)
	if err != nil {
		return Lists{}, fmt.Errorf("deny list: %w", err)
	}
	return Lists{Allow: allow, Deny: deny}, nil
}

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 100 * time.Millisecond

// Watcher reloads the list when the file changes on disk.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(Lists)
	logger   zerolog.Logger
}

// NewWatcher creates a watcher that calls onChange with every successfully
// reloaded list. A list that fails to parse is logged and the previous one
// stays in effect.
func NewWatcher(path string, onChange func(Lists), logger zerolog.Logger) *Watcher {
	return &Watcher{
		path:     path,
		debounce: DefaultDebounce,
		onChange: onChange,
		logger:   logger.With().Str("component", "datalist").Str("path", path).Logger(),
	}
}

// Run watches until ctx is cancelled. The parent directory is watched so
// editors that replace the file by rename are handled.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch data list directory: %w", err)
	}

	target := filepath.Clean(w.path)
	debounceTimer := time.NewTimer(w.debounce)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}
	defer debounceTimer.Stop()

	w.logger.Info().Msg("Watching data list for changes.")
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounceTimer.Reset(w.debounce)
			}

		case <-debounceTimer.C:
			lists, err := Load(w.path)
			if err != nil {
				w.logger.Error().Err(err).Msg("Failed to reload data list, keeping previous entries.")
				continue
			}
			w.logger.Info().Int("allow", len(lists.Allow)).Int("deny", len(lists.Deny)).Msg("Reloaded data list.")
			w.onChange(lists)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Data list watcher error.")

		case <-ctx.Done():
			return nil
		}
	}
}
