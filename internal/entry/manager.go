package entry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/pbaille/todotree/internal/metrics"
)

// Manager owns a forest of root entries stored in one data directory.
// It is not safe for concurrent use; callers build one per operation.
type Manager struct {
	dataPath string
	entries  []*Entry
	logger   *log.Logger

	// unreadable holds the names of files the last Load could not decode.
	// The sweep leaves them on disk.
	unreadable map[string]struct{}
	metrics  *metrics.Metrics
}

// ManagerOption customizes a Manager during construction.
type ManagerOption func(*Manager)

// WithLogger routes per-file warnings to logger.
func WithLogger(logger *log.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics counts loaded, skipped, written and removed records.
func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// NewManager creates a manager for the records under dataPath.
func NewManager(dataPath string, opts ...ManagerOption) *Manager {
	m := &Manager{dataPath: dataPath}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = log.Default()
	}
	return m
}

// DataPath returns the storage directory.
func (m *Manager) DataPath() string { return m.dataPath }

// Entries returns the root entries in order.
func (m *Manager) Entries() []*Entry { return m.entries }

// Replace swaps the whole forest. Roots repeating an id already seen are dropped.
func (m *Manager) Replace(entries []*Entry) {
	m.entries = nil
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.id]; dup {
			m.logger.Warn("dropping duplicate root entry", "id", e.id)
			continue
		}
		seen[e.id] = struct{}{}
		e.parent = nil
		m.entries = append(m.entries, e)
	}
}

// Count returns the number of nodes in the forest.
func (m *Manager) Count() int {
	n := 0
	for _, e := range m.entries {
		n += e.Count()
	}
	return n
}

// IDs returns the id of every node in the forest.
func (m *Manager) IDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, root := range m.entries {
		root.Walk(func(e *Entry) {
			ids[e.id] = struct{}{}
		})
	}
	return ids
}

// Find returns the first node with the given id in pre-order, or nil.
func (m *Manager) Find(id string) *Entry {
	var found *Entry
	for _, root := range m.entries {
		root.Walk(func(e *Entry) {
			if found == nil && e.id == id {
				found = e
			}
		})
		if found != nil {
			return found
		}
	}
	return nil
}

// AddEntry appends a new root entry with an id unused in the forest.
func (m *Manager) AddEntry(title string) *Entry {
	e := New(title, WithID(m.unusedID()))
	m.entries = append(m.entries, e)
	return e
}

// AddChild creates an entry under the first node with parentID.
func (m *Manager) AddChild(parentID, title string) (*Entry, error) {
	parent := m.Find(parentID)
	if parent == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, parentID)
	}
	e := New(title, WithID(m.unusedID()))
	parent.AddChild(e)
	return e, nil
}

func (m *Manager) unusedID() string {
	ids := m.IDs()
	for {
		id := newID()
		if _, taken := ids[id]; !taken {
			return id
		}
	}
}

// DeleteEntry removes every node with the given id, at any depth, along with
// its subtree. It reports whether anything was removed.
func (m *Manager) DeleteEntry(id string) ([]*Entry, bool) {
	var removed bool
	m.entries, removed = removeID(m.entries, id)
	return m.entries, removed
}

func removeID(entries []*Entry, id string) ([]*Entry, bool) {
	var removed bool
	kept := entries[:0]
	for _, e := range entries {
		if e.id == id {
			removed = true
			continue
		}
		var sub bool
		e.Entries, sub = removeID(e.Entries, id)
		removed = removed || sub
		kept = append(kept, e)
	}
	// clear the tail so dropped subtrees are not kept alive by the backing array
	for i := len(kept); i < len(entries); i++ {
		entries[i] = nil
	}
	return kept, removed
}

// Load replaces the forest with the records found in the data directory.
// A missing directory yields an empty forest. Files that are empty or fail to
// decode are skipped with a warning; undecodable ones are also kept out of
// later sweeps. When two files carry the same root id only the first one read
// is kept.
func (m *Manager) Load() error {
	m.entries = nil
	m.unreadable = make(map[string]struct{})

	names, err := m.recordFiles()
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		path := filepath.Join(m.dataPath, name)
		e, err := LoadFromFile(path)
		if err != nil {
			m.logger.Warn("skipping record file", "path", path, "error", err)
			m.metrics.Skipped()
			m.unreadable[name] = struct{}{}
			continue
		}
		if e == nil {
			m.logger.Warn("skipping empty record file", "path", path)
			m.metrics.Skipped()
			continue
		}
		if _, dup := seen[e.id]; dup {
			m.logger.Debug("skipping duplicate record", "path", path, "id", e.id)
			continue
		}
		seen[e.id] = struct{}{}
		m.entries = append(m.entries, e)
		m.metrics.Loaded()
	}
	return nil
}

// Save writes the forest to the data directory. Record files whose id is no
// longer in the forest are deleted first; then every node, nested ones
// included, is written to its own <id>.json file.
func (m *Manager) Save() error {
	if _, err := m.sweep(); err != nil {
		return err
	}

	var errs []error
	for _, root := range m.entries {
		root.Walk(func(e *Entry) {
			if err := e.Persist(m.dataPath); err != nil {
				m.logger.Error("failed to write record", "id", e.id, "error", err)
				m.metrics.WriteFailed()
				errs = append(errs, err)
				return
			}
			m.metrics.Written()
		})
	}
	return errors.Join(errs...)
}

// CleanupOrphans deletes record files whose id is not in the forest and
// returns the removed ids, sorted. Files the last Load failed to decode are
// kept. Nothing is written.
func (m *Manager) CleanupOrphans() ([]string, error) {
	return m.sweep()
}

func (m *Manager) sweep() ([]string, error) {
	if err := os.MkdirAll(m.dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	current := m.IDs()
	names, err := m.recordFiles()
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, name := range names {
		id := strings.TrimSuffix(name, recordExt)
		if _, live := current[id]; live {
			continue
		}
		path := filepath.Join(m.dataPath, name)
		if _, bad := m.unreadable[name]; bad {
			m.logger.Warn("keeping unreadable record file", "path", path)
			continue
		}
		if err := os.Remove(path); err != nil {
			m.logger.Error("failed to remove orphaned record", "path", path, "error", err)
			m.metrics.OrphanFailed()
			continue
		}
		m.logger.Info("removed orphaned record", "id", id)
		m.metrics.OrphanRemoved()
		removed = append(removed, id)
	}
	sort.Strings(removed)
	return removed, nil
}

// recordFiles lists the *.json regular files directly under the data directory.
func (m *Manager) recordFiles() ([]string, error) {
	dirEntries, err := os.ReadDir(m.dataPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("read data dir: %w", err)
	}
	var names []string
	for _, d := range dirEntries {
		if d.IsDir() || !strings.HasSuffix(d.Name(), recordExt) {
			continue
		}
		names = append(names, d.Name())
	}
	return names, nil
}
