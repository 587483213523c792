package entry

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/pbaille/todotree/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree() *Entry {
	root := New("Groceries", WithID("root"))
	dairy := New("Dairy", WithID("dairy"))
	dairy.AddChild(New("Milk", WithID("milk")))
	dairy.AddChild(New("Cheese", WithID("cheese")))
	root.AddChild(dairy)
	root.AddChild(New("Bread", WithID("bread")))
	return root
}

func TestNewGeneratesUUID(t *testing.T) {
	a := New("a")
	b := New("b")

	_, err := uuid.Parse(a.ID())
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Nil(t, a.Parent())
	assert.Empty(t, a.Entries)
}

func TestNewOptions(t *testing.T) {
	parent := New("parent")
	child := New("child", WithID("fixed"), WithParent(parent))
	assert.Equal(t, "fixed", child.ID())
	assert.Same(t, parent, child.Parent())
	assert.Empty(t, parent.Entries, "WithParent does not register the child")

	withKids := New("p", WithChildren(New("x"), New("y")))
	require.Len(t, withKids.Entries, 2)
	for _, c := range withKids.Entries {
		assert.Same(t, withKids, c.Parent())
	}
}

func TestAddChildSetsParent(t *testing.T) {
	root := sampleTree()
	dairy := root.Entries[0]
	assert.Same(t, root, dairy.Parent())
	assert.Same(t, dairy, dairy.Entries[0].Parent())
	assert.Equal(t, 5, root.Count())
}

func TestWalkOrder(t *testing.T) {
	var ids []string
	sampleTree().Walk(func(e *Entry) { ids = append(ids, e.ID()) })
	assert.Equal(t, []string{"root", "dairy", "milk", "cheese", "bread"}, ids)
}

func TestToRecord(t *testing.T) {
	r := sampleTree().ToRecord()
	assert.Equal(t, "root", r.ID)
	require.Len(t, r.Entries, 2)
	assert.Equal(t, "Milk", r.Entries[0].Entries[0].Title)
	assert.NotNil(t, r.Entries[1].Entries, "leaves carry an empty, non-nil list")
	assert.Empty(t, r.Entries[1].Entries)
}

func TestRecordRoundTrip(t *testing.T) {
	original := sampleTree()
	data, err := json.Marshal(original.ToRecord())
	require.NoError(t, err)

	var r domain.Record
	require.NoError(t, json.Unmarshal(data, &r))
	restored := FromRecord(r)

	var want, got []string
	original.Walk(func(e *Entry) { want = append(want, e.ID()+"|"+e.Title) })
	restored.Walk(func(e *Entry) { got = append(got, e.ID()+"|"+e.Title) })
	assert.Equal(t, want, got)
	assert.Equal(t, original.ToRecord(), restored.ToRecord())
	assert.Same(t, restored, restored.Entries[0].Parent())
}

func TestFromRecordGeneratesMissingIDs(t *testing.T) {
	e := FromRecord(domain.Record{Title: "x", Entries: []domain.Record{{Title: "y"}}})
	assert.NotEmpty(t, e.ID())
	assert.NotEmpty(t, e.Entries[0].ID())
	assert.NotEqual(t, e.ID(), e.Entries[0].ID())
}

func TestPersist(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	root := sampleTree()
	root.Title = "Épicerie <&>"

	require.NoError(t, root.Persist(dir))

	data, err := os.ReadFile(filepath.Join(dir, "root.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n    \"id\": \"root\"", "four-space indent")
	assert.Contains(t, string(data), "Épicerie <&>", "no ASCII or HTML escaping")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the node itself gets a file")

	root.Title = "Groceries"
	require.NoError(t, root.Persist(dir))
	loaded, err := LoadFromFile(filepath.Join(dir, "root.json"))
	require.NoError(t, err)
	assert.Equal(t, "Groceries", loaded.Title)
	assert.Equal(t, 5, loaded.Count())
}

func TestPersistRejectsUnsafeIDs(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "data")

	for _, id := range []string{"../escaped", "a/b", `a\b`, ".", ".."} {
		err := New("x", WithID(id)).Persist(dir)
		assert.ErrorIs(t, err, ErrInvalidID, "id %q", id)
	}
	_, err := os.Stat(filepath.Join(base, "escaped.json"))
	assert.True(t, os.IsNotExist(err))

	assert.True(t, ValidID("2b1f7c9e-0f6e-4d0a-9a56-1c1f0e3c7a11"))
	assert.True(t, ValidID("a.b"))
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		return p
	}

	t.Run("empty", func(t *testing.T) {
		e, err := LoadFromFile(write("empty.json", ""))
		assert.NoError(t, err)
		assert.Nil(t, e)
	})

	t.Run("whitespace", func(t *testing.T) {
		e, err := LoadFromFile(write("blank.json", " \n\t"))
		assert.NoError(t, err)
		assert.Nil(t, e)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := LoadFromFile(write("bad.json", `{"id": "x", "title": "Bu`))
		assert.Error(t, err)
	})

	t.Run("missing title", func(t *testing.T) {
		_, err := LoadFromFile(write("notitle.json", `{"id": "x", "entries": []}`))
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrMalformedRecord))
	})

	t.Run("unsafe nested id", func(t *testing.T) {
		_, err := LoadFromFile(write("unsafe.json", `{"id": "x", "title": "t", "entries": [{"id": "../y", "title": "u"}]}`))
		assert.ErrorIs(t, err, ErrInvalidID)
	})

	t.Run("valid", func(t *testing.T) {
		e, err := LoadFromFile(write("ok.json", `{"id": "x", "title": "Buy milk", "entries": [{"id": "y", "title": "2%"}]}`))
		require.NoError(t, err)
		assert.Equal(t, "x", e.ID())
		assert.Equal(t, "y", e.Entries[0].ID())
		assert.Same(t, e, e.Entries[0].Parent())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFromFile(filepath.Join(dir, "nope.json"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestFormat(t *testing.T) {
	var buf bytes.Buffer
	sampleTree().Format(&buf, 0)
	want := "Groceries\n    Dairy\n        Milk\n        Cheese\n    Bread\n"
	assert.Equal(t, want, buf.String())
}
