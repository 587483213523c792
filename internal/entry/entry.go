// Package entry holds the to-do tree and its one-file-per-record persistence.
package entry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pbaille/todotree/internal/domain"
)

// recordExt is the extension of every record file in a data directory.
const recordExt = ".json"

// Entry is a node of the to-do tree. It owns its children; parent is a
// back-reference used for traversal only.
type Entry struct {
	id      string
	Title   string
	Entries []*Entry
	parent  *Entry
}

// Option customizes an Entry during construction.
type Option func(*Entry)

// WithID reuses an existing identifier instead of generating one.
func WithID(id string) Option {
	return func(e *Entry) {
		e.id = id
	}
}

// WithChildren attaches children in order.
func WithChildren(children ...*Entry) Option {
	return func(e *Entry) {
		for _, c := range children {
			e.AddChild(c)
		}
	}
}

// WithParent sets the back-reference without registering the entry as a child.
func WithParent(parent *Entry) Option {
	return func(e *Entry) {
		e.parent = parent
	}
}

// New creates an entry, generating a random UUID when no id is supplied.
func New(title string, opts ...Option) *Entry {
	e := &Entry{Title: title, Entries: []*Entry{}}
	for _, opt := range opts {
		opt(e)
	}
	if e.id == "" {
		e.id = newID()
	}
	return e
}

// ValidID reports whether id names a file directly inside a data directory.
func ValidID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	if strings.ContainsAny(id, `/\`+"\x00") {
		return false
	}
	return filepath.Base(id) == id
}

func newID() string {
	return uuid.New().String()
}

// ID returns the entry's identifier. It never changes after creation.
func (e *Entry) ID() string { return e.id }

// Parent returns the entry this one is attached to, or nil for a root.
func (e *Entry) Parent() *Entry { return e.parent }

func (e *Entry) String() string { return e.Title }

// AddChild appends child and points its parent at e.
// Cycles are not detected.
func (e *Entry) AddChild(child *Entry) {
	child.parent = e
	e.Entries = append(e.Entries, child)
}

// Walk calls fn on e and then on every descendant, depth first.
func (e *Entry) Walk(fn func(*Entry)) {
	fn(e)
	for _, c := range e.Entries {
		c.Walk(fn)
	}
}

// Count returns the number of nodes in the subtree rooted at e.
func (e *Entry) Count() int {
	n := 0
	e.Walk(func(*Entry) { n++ })
	return n
}

// ToRecord converts the subtree into its record form.
func (e *Entry) ToRecord() domain.Record {
	r := domain.Record{
		ID:      e.id,
		Title:   e.Title,
		Entries: make([]domain.Record, 0, len(e.Entries)),
	}
	for _, c := range e.Entries {
		r.Entries = append(r.Entries, c.ToRecord())
	}
	return r
}

// FromRecord builds a tree from a record, keeping its ids and generating
// ids for records that have none.
func FromRecord(r domain.Record) *Entry {
	e := New(r.Title, WithID(r.ID))
	for _, sub := range r.Entries {
		e.AddChild(FromRecord(sub))
	}
	return e
}

// Format writes the subtree as an indented outline, four spaces per level.
func (e *Entry) Format(w io.Writer, indent int) {
	fmt.Fprintf(w, "%s%s\n", strings.Repeat("    ", indent), e.Title)
	for _, c := range e.Entries {
		c.Format(w, indent+1)
	}
}

// Persist writes the entry's record to <dir>/<id>.json, replacing any
// existing file. Children are embedded in the record; they get no file here.
func (e *Entry) Persist(dir string) error {
	if !ValidID(e.id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, e.id)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	data, err := encodeRecord(e.ToRecord())
	if err != nil {
		return fmt.Errorf("encode entry %s: %w", e.id, err)
	}
	if err := writeFileAtomic(filepath.Join(dir, e.id+recordExt), data); err != nil {
		return fmt.Errorf("write entry %s: %w", e.id, err)
	}
	return nil
}

// LoadFromFile reads one record file. An empty file yields a nil entry and
// no error. A record carrying an id unusable as a file name is rejected.
func LoadFromFile(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var r domain.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", filepath.Base(path), err)
	}
	e := FromRecord(r)
	var bad error
	e.Walk(func(n *Entry) {
		if bad == nil && !ValidID(n.id) {
			bad = fmt.Errorf("decode record %s: %w: %q", filepath.Base(path), ErrInvalidID, n.id)
		}
	})
	if bad != nil {
		return nil, bad
	}
	return e, nil
}

func encodeRecord(r domain.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
