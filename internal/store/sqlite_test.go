package store

import (
	"path/filepath"
	"testing"

	"github.com/pbaille/todotree/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func forest() []domain.Record {
	return []domain.Record{
		{ID: "groceries", Title: "Groceries", Entries: []domain.Record{
			{ID: "milk", Title: "Buy milk"},
			{ID: "bread", Title: "Buy bread", Entries: []domain.Record{
				{ID: "rye", Title: "Rye"},
			}},
		}},
		{ID: "chores", Title: "Chores"},
	}
}

func TestSyncAndGet(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Sync(forest()))

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	rye, err := s.GetEntry("rye")
	require.NoError(t, err)
	assert.Equal(t, "Rye", rye.Title)
	assert.Equal(t, 2, rye.Depth)
	require.NotNil(t, rye.ParentID)
	assert.Equal(t, "bread", *rye.ParentID)
	assert.False(t, rye.IndexedAt.IsZero())

	root, err := s.GetEntry("chores")
	require.NoError(t, err)
	assert.Nil(t, root.ParentID)
	assert.Equal(t, 1, root.Position)

	_, err = s.GetEntry("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSyncReplacesContents(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Sync(forest()))
	require.NoError(t, s.Sync([]domain.Record{{ID: "only", Title: "Only"}}))

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetEntry("milk")
	assert.Error(t, err)
}

func TestSyncDuplicateIDsKeepFirst(t *testing.T) {
	s := newTestStore(t)
	records := forest()
	records = append(records, domain.Record{ID: "milk", Title: "Milk copy"})
	require.NoError(t, s.Sync(records))

	milk, err := s.GetEntry("milk")
	require.NoError(t, err)
	assert.Equal(t, "Buy milk", milk.Title)
	assert.Equal(t, 1, milk.Depth)
}

func TestSearchEntries(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Sync(forest()))

	found, err := s.SearchEntries("buy")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "Buy bread", found[0].Title)
	assert.Equal(t, "Buy milk", found[1].Title)

	none, err := s.SearchEntries("zzz")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestChildrenAndList(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Sync(forest()))

	kids, err := s.Children("groceries")
	require.NoError(t, err)
	require.Len(t, kids, 2)
	assert.Equal(t, "milk", kids[0].ID)
	assert.Equal(t, "bread", kids[1].ID)

	page, err := s.ListEntries(2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "groceries", page[0].ID)
	assert.Equal(t, "chores", page[1].ID)

	rest, err := s.ListEntries(10, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 3)
}
