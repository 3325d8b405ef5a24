package sheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUndoStackBasic(t *testing.T) {
	u := NewUndoStack()
	assert.Nil(t, u.Undo())
	assert.Nil(t, u.Redo())

	u.PushChange("set")
	u.AddDo("set A1 value n 1")
	u.AddUndo("set A1 all")

	r := u.Undo()
	require.NotNil(t, r)
	assert.Equal(t, "set", r.Name)
	assert.Equal(t, []string{"set A1 value n 1"}, r.Command)
	assert.Equal(t, []string{"set A1 all"}, r.Undo)
	assert.Nil(t, u.Undo())

	r = u.Redo()
	require.NotNil(t, r)
	assert.Equal(t, "set", r.Name)
	assert.Nil(t, u.Redo())
}

func TestUndoStackPushTruncatesRedo(t *testing.T) {
	u := NewUndoStack()
	u.PushChange("first")
	u.PushChange("second")
	require.NotNil(t, u.Undo())

	u.PushChange("third")
	assert.Nil(t, u.Redo())
	assert.Equal(t, 2, u.Len())
	assert.Equal(t, "third", u.TOS().Name)
}

func TestUndoStackMaxRedoDropsOldest(t *testing.T) {
	u := NewUndoStack()
	u.MaxRedo = 2
	u.PushChange("a")
	u.PushChange("b")
	u.PushChange("c")
	assert.Equal(t, 2, u.Len())

	require.NotNil(t, u.Undo()) // c
	require.NotNil(t, u.Undo()) // b
	assert.Nil(t, u.Undo())     // a was dropped
}

func TestUndoStackMaxUndoTrimsReverseListsOnly(t *testing.T) {
	u := NewUndoStack()
	u.MaxUndo = 2
	for _, name := range []string{"a", "b", "c"} {
		u.PushChange(name)
		u.AddUndo("restore " + name)
	}
	assert.Equal(t, 3, u.Len(), "trimmed records stay replayable for redo")

	require.NotNil(t, u.Undo()) // c
	require.NotNil(t, u.Undo()) // b
	assert.Nil(t, u.Undo(), "a's reverse list was trimmed")
}

func TestUndoStackRecordWithNoFragmentsIsUndoable(t *testing.T) {
	u := NewUndoStack()
	u.PushChange("recalc")
	u.AddDo("recalc")

	r := u.Undo()
	require.NotNil(t, r, "a record with an empty reverse list is not the same as a trimmed one")
	assert.Empty(t, r.Undo)
}
