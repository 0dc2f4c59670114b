package workflow

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"github.com/sahilm/fuzzy"

	"scenesmith/internal/core"
)

// Store manages the directory of user-editable workflow JSON files. Loads
// are cached; an fsnotify watcher invalidates the cache when files change
// on disk, so external edits take effect without a restart.
type Store struct {
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	cache   map[string]*core.Workflow
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewStore creates a store rooted at dir, creating the directory if needed.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating workflows dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:    dir,
		logger: logger,
		cache:  make(map[string]*core.Workflow),
	}, nil
}

// Watch starts invalidating the cache on filesystem changes. Safe to skip
// in tests.
func (s *Store) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return fmt.Errorf("watching %s: %w", s.dir, err)
	}
	s.mu.Lock()
	s.watcher = w
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					name := filepath.Base(ev.Name)
					s.mu.Lock()
					delete(s.cache, name)
					s.mu.Unlock()
					s.logger.Debug("workflow cache invalidated", "file", name)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("workflow watcher error", "error", err)
			case <-s.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	if s.watcher != nil {
		err := s.watcher.Close()
		s.watcher = nil
		return err
	}
	return nil
}

// List returns the workflow file names in the library, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading workflows dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Load reads and validates the named workflow file.
func (s *Store) Load(name string) (*core.Workflow, error) {
	name = filepath.Base(name)
	s.mu.Lock()
	if wf, ok := s.cache[name]; ok {
		s.mu.Unlock()
		return wf, nil
	}
	s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound("WORKFLOW_NOT_FOUND", name)
		}
		return nil, fmt.Errorf("reading workflow %s: %w", name, err)
	}
	var wf core.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parsing workflow %s: %w", name, err)
	}
	if errs := core.ValidateSteps(wf.Steps); len(errs) > 0 {
		return nil, core.ErrValidation("WORKFLOW_INVALID", strings.Join(errs, "; "))
	}

	s.mu.Lock()
	s.cache[name] = &wf
	s.mu.Unlock()
	return &wf, nil
}

// Save writes the workflow atomically and refreshes the cache entry.
func (s *Store) Save(name string, wf *core.Workflow) error {
	name = filepath.Base(name)
	if errs := core.ValidateSteps(wf.Steps); len(errs) > 0 {
		return core.ErrValidation("WORKFLOW_INVALID", strings.Join(errs, "; "))
	}
	data, err := json.MarshalIndent(wf, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding workflow %s: %w", name, err)
	}
	if err := renameio.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("writing workflow %s: %w", name, err)
	}
	s.mu.Lock()
	s.cache[name] = wf
	s.mu.Unlock()
	return nil
}

// DefaultWorkflow is the standard end-to-end fill pipeline, seeded into an
// empty library so submission works before any workflow has been authored.
func DefaultWorkflow() *core.Workflow {
	return &core.Workflow{
		Name: "default",
		Steps: []core.WorkflowStep{
			{ID: "open", Type: StepNavigateToTmpl},
			{ID: "settle", Type: StepSleep, Params: map[string]any{"sec": 2}},
			{ID: "fill", Type: StepFillScene},
			{ID: "broll", Type: StepHandleBroll},
			{ID: "trim", Type: StepDeleteEmptyScenes},
			{ID: "save", Type: StepSave},
			{ID: "verify", Type: StepReloadAndValidate},
			{ID: "countdown", Type: StepConfirm},
			{ID: "generate", Type: StepGenerate},
		},
	}
}

// SeedDefault writes the default workflow when the library has no default
// entry yet. Existing files are never overwritten.
func (s *Store) SeedDefault() error {
	if _, err := os.Stat(filepath.Join(s.dir, "default.json")); err == nil {
		return nil
	}
	return s.Save("default.json", DefaultWorkflow())
}

// Find resolves a possibly-partial name to a workflow file using fuzzy
// matching. An exact file name wins; otherwise the best fuzzy match is
// returned.
func (s *Store) Find(query string) (string, error) {
	names, err := s.List()
	if err != nil {
		return "", err
	}
	for _, n := range names {
		if n == query || n == query+".json" {
			return n, nil
		}
	}
	matches := fuzzy.Find(query, names)
	if len(matches) == 0 {
		return "", core.ErrNotFound("WORKFLOW_NOT_FOUND", query)
	}
	return matches[0].Str, nil
}
