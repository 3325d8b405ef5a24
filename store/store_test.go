package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsheet/gridsheet/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSaveAndLoadSheet(t *testing.T) {
	st := openTestStore(t)

	save := "version:1.5\nsheet:c:1:r:1\ncell:A1:v:n:42\n"
	require.NoError(t, st.SaveSheet("budget", save))

	got, err := st.LoadSheet("budget")
	require.NoError(t, err)
	assert.Equal(t, save, got)
}

func TestSaveSheetReplacesPrior(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.SaveSheet("s", "first\n"))
	require.NoError(t, st.SaveSheet("s", "second\n"))

	got, err := st.LoadSheet("s")
	require.NoError(t, err)
	assert.Equal(t, "second\n", got)

	names, err := st.ListSheets()
	require.NoError(t, err)
	assert.Equal(t, []string{"s"}, names)
}

func TestLoadMissingSheet(t *testing.T) {
	st := openTestStore(t)
	_, err := st.LoadSheet("nope")
	assert.Error(t, err)
}

func TestListSheets(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.SaveSheet("a", "x\n"))
	require.NoError(t, st.SaveSheet("b", "y\n"))

	names, err := st.ListSheets()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}

func TestDeleteSheet(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.SaveSheet("gone", "x\n"))
	require.NoError(t, st.DeleteSheet("gone"))
	_, err := st.LoadSheet("gone")
	assert.Error(t, err)

	assert.NoError(t, st.DeleteSheet("never-existed"))
}
