package profile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/visus-project/visus/internal/models"
)

// reloadDebounce coalesces the burst of filesystem events editors and
// atomic renames produce into a single reload.
const reloadDebounce = 500 * time.Millisecond

// fileProfile is the yaml shape of one profiles.yaml entry. Both maps
// are partial: entries overlay the base vector key by key.
type fileProfile struct {
	Image Thresholds `yaml:"image"`
	Video Thresholds `yaml:"video"`
}

type profilesFile struct {
	Profiles map[string]fileProfile `yaml:"profiles"`
}

// Store holds the active profile set behind an atomic snapshot. Readers
// never block: Resolve and Get work on whichever snapshot was current
// when they started, and a reload swaps in a fully built replacement.
type Store struct {
	logger *slog.Logger
	path   string

	snap atomic.Pointer[map[string]Profile]

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewStore returns a store seeded with the built-in profiles.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{logger: logger}
	base := builtins()
	s.snap.Store(&base)
	return s
}

// LoadFile reads profiles.yaml at path and swaps the snapshot. File
// entries overlay the built-in of the same name; unknown names start
// from the normal vector so a partial entry still has every key. A
// missing file is not an error, the built-ins stay active.
func (s *Store) LoadFile(path string) error {
	s.mu.Lock()
	s.path = path
	s.mu.Unlock()
	return s.reload()
}

func (s *Store) reload() error {
	s.mu.Lock()
	path := s.path
	s.mu.Unlock()
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Debug("profiles file absent, using built-ins",
			slog.String("path", path))
		base := builtins()
		s.snap.Store(&base)
		return nil
	}
	if err != nil {
		return models.WrapError(models.KindConfig, "read profiles file", err)
	}

	var parsed profilesFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return models.WrapError(models.KindConfig, "parse profiles file", err)
	}

	next := builtins()
	for name, fp := range parsed.Profiles {
		if err := ValidateOverrides(fp.Image); err != nil {
			return models.WrapError(models.KindConfig, fmt.Sprintf("profile %q", name), err)
		}
		if err := ValidateOverrides(fp.Video); err != nil {
			return models.WrapError(models.KindConfig, fmt.Sprintf("profile %q", name), err)
		}
		base, ok := next[name]
		if !ok {
			base = next[Normal].Clone()
			base.Name = name
		} else {
			base = base.Clone()
		}
		base.Image.merge(fp.Image)
		base.Video.merge(fp.Video)
		next[name] = base
	}

	s.snap.Store(&next)
	s.logger.Info("profiles loaded",
		slog.String("path", path),
		slog.Int("profiles", len(next)))
	return nil
}

// Watch starts hot reload for the loaded file. The parent directory is
// watched rather than the file itself so that atomic write-then-rename
// updates keep working after the inode changes. Reloads that fail keep
// the previous snapshot active.
func (s *Store) Watch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" || s.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return models.WrapError(models.KindInternal, "create profiles watcher", err)
	}
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return models.WrapError(models.KindInternal, "watch profiles directory", err)
	}

	s.watcher = watcher
	s.done = make(chan struct{})
	go s.watchLoop(watcher, filepath.Base(s.path), s.done)

	s.logger.Info("watching profiles file", slog.String("path", s.path))
	return nil
}

func (s *Store) watchLoop(watcher *fsnotify.Watcher, name string, done chan struct{}) {
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-done:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if err := s.reload(); err != nil {
					s.logger.Error("profile reload failed, keeping previous set",
						slog.Any("error", err))
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("profiles watcher error", slog.Any("error", err))
		}
	}
}

// Close stops the watcher, if running.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	close(s.done)
	err := s.watcher.Close()
	s.watcher = nil
	s.done = nil
	return err
}

// Get returns a copy of the named profile. An empty name selects the
// default.
func (s *Store) Get(name string) (Profile, error) {
	if name == "" {
		name = DefaultName
	}
	snap := *s.snap.Load()
	p, ok := snap[name]
	if !ok {
		return Profile{}, models.WrapError(models.KindConfig, fmt.Sprintf("profile %q", name), models.ErrInvalidProfile)
	}
	return p.Clone(), nil
}

// Names lists the active profile names, sorted.
func (s *Store) Names() []string {
	snap := *s.snap.Load()
	out := make([]string, 0, len(snap))
	for name := range snap {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Resolve merges the named profile with custom overrides into the flat
// vector one run reads. Overrides are validated before being applied.
func (s *Store) Resolve(name string, level models.DetectionLevel, custom map[string]float64, options map[string]string) (Resolved, error) {
	p, err := s.Get(name)
	if err != nil {
		return Resolved{}, err
	}
	if err := ValidateOverrides(custom); err != nil {
		return Resolved{}, err
	}
	merged := p.Merged().merge(custom)
	return Resolved{
		Profile:    p.Name,
		Level:      level,
		Thresholds: merged,
		Options:    options,
	}, nil
}
