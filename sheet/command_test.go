package sheet_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsheet/gridsheet/formula"
	"github.com/gridsheet/gridsheet/sheet"
)

func newTestSheet() *sheet.Sheet {
	s := sheet.NewSheet()
	s.Parser = formula.NewParser()
	s.Evaluator = formula.NewEvaluator()
	return s
}

func exec(t *testing.T, s *sheet.Sheet, cmd string) {
	t.Helper()
	require.NoError(t, s.ExecuteCommand(cmd, true))
}

func TestSetValueAndRecalc(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "set A1 formula B1+B2\nset B1 value n 3\nset B2 value n 4\nrecalc")

	assert.Equal(t, "7", s.DisplayValue("A1"))
	a1 := s.GetCell("A1")
	require.NotNil(t, a1)
	assert.Equal(t, 7.0, a1.DataNum)
	assert.False(t, s.RecalcNeeded())
}

func TestSetTextKeepsSpaces(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "set A1 text t hello spreadsheet world")
	assert.Equal(t, "hello spreadsheet world", s.DisplayValue("A1"))
}

func TestSetEmptyKeepsFormats(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "set A1 value n 9\nset A1 color rgb(255,0,0)")
	exec(t, s, "set A1 empty")

	a1 := s.GetCell("A1")
	require.NotNil(t, a1, "formatted cell survives emptying")
	assert.Equal(t, "", a1.DataType)
	assert.Equal(t, "rgb(255,0,0)", s.Colors.Value(a1.Color))
}

func TestSetEmptyDropsBareCell(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "set A1 value n 9")
	exec(t, s, "set A1 empty")
	assert.Nil(t, s.GetCell("A1"))
}

func TestUndoRedoSetValue(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "set A1 value n 3")
	exec(t, s, "set A1 value n 5")

	require.NoError(t, s.UndoCommand())
	assert.Equal(t, 3.0, s.GetCell("A1").DataNum)

	require.NoError(t, s.UndoCommand())
	assert.Nil(t, s.GetCell("A1"), "undoing the first set leaves the cell blank")

	require.NoError(t, s.RedoCommand())
	assert.Equal(t, 3.0, s.GetCell("A1").DataNum)
	require.NoError(t, s.RedoCommand())
	assert.Equal(t, 5.0, s.GetCell("A1").DataNum)

	assert.Error(t, s.RedoCommand())
}

func TestUndoRestoresFormatAttribute(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "set A1 font bold 12pt Arial")
	exec(t, s, "set A1 font italic 10pt Times")

	require.NoError(t, s.UndoCommand())
	assert.Equal(t, "bold 12pt Arial", s.Fonts.Value(s.GetCell("A1").Font))

	require.NoError(t, s.UndoCommand())
	assert.Nil(t, s.GetCell("A1"))
}

func TestMultiCellSet(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "set A1:B2 bgcolor rgb(0,0,255)")
	for _, coord := range []string{"A1", "A2", "B1", "B2"} {
		cell := s.GetCell(coord)
		require.NotNil(t, cell, coord)
		assert.Equal(t, "rgb(0,0,255)", s.Colors.Value(cell.Bgcolor))
	}
}

func TestColAndRowAttribs(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "set B width 140\nset 3 height 60\nset C:D hide y")

	require.NotNil(t, s.ColAttrib("B"))
	assert.Equal(t, 140, s.ColAttrib("B").Width)
	require.NotNil(t, s.RowAttribFor(3))
	assert.Equal(t, 60, s.RowAttribFor(3).Height)
	assert.True(t, s.ColAttrib("C").Hide)
	assert.True(t, s.ColAttrib("D").Hide)

	require.NoError(t, s.UndoCommand())
	assert.Nil(t, s.ColAttrib("B"), "undo removes the attribute record entirely")
	assert.Nil(t, s.RowAttribFor(3))
	assert.Nil(t, s.ColAttrib("C"))
}

func TestSheetAttribs(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "set sheet defaultcolwidth 90\nset sheet defaultfont bold 10pt Courier")
	assert.Equal(t, 90, s.Attribs.DefaultColWidth)
	assert.Equal(t, "bold 10pt Courier", s.Fonts.Value(s.Attribs.DefaultFont))

	exec(t, s, "set sheet recalc off")
	assert.True(t, s.Attribs.RecalcOff)
	require.NoError(t, s.UndoCommand())
	assert.False(t, s.Attribs.RecalcOff)
}

func TestMergeUnmerge(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "merge B2:D3")
	cell := s.GetCell("B2")
	require.NotNil(t, cell)
	assert.Equal(t, 3, cell.Colspan)
	assert.Equal(t, 2, cell.Rowspan)

	exec(t, s, "unmerge B2")
	assert.Nil(t, s.GetCell("B2"), "unmerging a bare cell drops it")
}

func TestEraseVariants(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "set A1 value n 1\nset A1 color rgb(1,2,3)\nset B1 value n 2")

	exec(t, s, "erase A1 formulas")
	a1 := s.GetCell("A1")
	require.NotNil(t, a1)
	assert.Equal(t, "", a1.DataType)
	assert.NotZero(t, a1.Color)

	exec(t, s, "erase A1:B1 all")
	assert.Nil(t, s.GetCell("A1"))
	assert.Nil(t, s.GetCell("B1"))

	require.NoError(t, s.UndoCommand())
	assert.Equal(t, 2.0, s.GetCell("B1").DataNum)
}

func TestNameDefineDescDelete(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "name define Total A1:A3")
	exec(t, s, "name desc Total running total")

	def, ok := s.LookupName("total")
	require.True(t, ok)
	assert.Equal(t, "A1:A3", def.Definition)
	assert.Equal(t, "running total", def.Desc)

	exec(t, s, "name delete TOTAL")
	_, ok = s.LookupName("Total")
	assert.False(t, ok)

	require.NoError(t, s.UndoCommand())
	def, ok = s.LookupName("Total")
	require.True(t, ok)
	assert.Equal(t, "A1:A3", def.Definition)
	assert.Equal(t, "running total", def.Desc)
}

func TestNameUsedInFormula(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "set A1 value n 10\nset A2 value n 20\nname define NUMS A1:A2\nset B1 formula SUM(NUMS)\nrecalc")
	assert.Equal(t, 30.0, s.GetCell("B1").DataNum)
}

func TestSortBlanksLast(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "set A1 value n 3\nset B1 text t three\nset A3 value n 1\nset B3 text t one\nset A4 value n 2\nset B4 text t two")

	exec(t, s, "sort A1:B4 A up")
	assert.Equal(t, 1.0, s.GetCell("A1").DataNum)
	assert.Equal(t, "one", s.GetCell("B1").DataStr)
	assert.Equal(t, 2.0, s.GetCell("A2").DataNum)
	assert.Equal(t, "two", s.GetCell("B2").DataStr)
	assert.Equal(t, 3.0, s.GetCell("A3").DataNum)
	assert.Equal(t, "three", s.GetCell("B3").DataStr)
	assert.Nil(t, s.GetCell("A4"), "blank row sorts last")

	exec(t, s, "sort A1:B3 A down")
	assert.Equal(t, 3.0, s.GetCell("A1").DataNum)
	assert.Equal(t, 1.0, s.GetCell("A3").DataNum)
}

func TestSortUndoRestoresOriginalOrder(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "set A1 value n 3\nset A3 value n 1")
	exec(t, s, "sort A1:A3 A up")
	assert.Equal(t, 1.0, s.GetCell("A1").DataNum)

	require.NoError(t, s.UndoCommand())
	assert.Equal(t, 3.0, s.GetCell("A1").DataNum)
	assert.Nil(t, s.GetCell("A2"))
	assert.Equal(t, 1.0, s.GetCell("A3").DataNum)
}

func TestSortIsStable(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "set A1 value n 1\nset B1 text t first\nset A2 value n 1\nset B2 text t second")
	exec(t, s, "sort A1:B2 A up")
	assert.Equal(t, "first", s.GetCell("B1").DataStr)
	assert.Equal(t, "second", s.GetCell("B2").DataStr)
}

func TestFillDownOffsetsRelativeReferences(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "set A1 value n 1\nset A2 value n 2\nset A3 value n 3\nset B1 formula A1*10")
	exec(t, s, "filldown B1:B3 all\nrecalc")

	assert.Equal(t, "A2*10", s.GetCell("B2").Formula)
	assert.Equal(t, "A3*10", s.GetCell("B3").Formula)
	assert.Equal(t, 20.0, s.GetCell("B2").DataNum)
	assert.Equal(t, 30.0, s.GetCell("B3").DataNum)
}

func TestFillRightKeepsAnchors(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "set A2 formula $A$1+B1")
	exec(t, s, "fillright A2:C2 all")
	assert.Equal(t, "$A$1+C1", s.GetCell("B2").Formula)
	assert.Equal(t, "$A$1+D1", s.GetCell("C2").Formula)
}

func TestCopyPaste(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "set A1 value n 5\nset B1 formula A1*2\nset A1 color rgb(9,9,9)")
	exec(t, s, "copy A1:B1 all")
	exec(t, s, "paste A3 all\nrecalc")

	assert.Equal(t, 5.0, s.GetCell("A3").DataNum)
	assert.Equal(t, "rgb(9,9,9)", s.Colors.Value(s.GetCell("A3").Color))
	assert.Equal(t, "A3*2", s.GetCell("B3").Formula)
	assert.Equal(t, 10.0, s.GetCell("B3").DataNum)
}

func TestCopyRejectsBadWhat(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "set A1 value n 5")
	err := s.ExecuteCommand("copy A1 bogus", true)
	assert.Error(t, err)
	assert.True(t, s.Clipboard.Empty(), "a rejected copy leaves the clipboard alone")
}

func TestPasteFormatsOnly(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "set A1 value n 5\nset A1 bgcolor rgb(1,1,1)\nset C1 value n 7")
	exec(t, s, "copy A1 all\npaste C1 formats")

	c1 := s.GetCell("C1")
	assert.Equal(t, 7.0, c1.DataNum, "content survives a formats paste")
	assert.Equal(t, "rgb(1,1,1)", s.Colors.Value(c1.Bgcolor))
}

func TestCutPasteClearsSource(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "set A1 value n 5")
	exec(t, s, "cut A1 all")
	assert.Nil(t, s.GetCell("A1"))
	exec(t, s, "paste C3 all")
	assert.Equal(t, 5.0, s.GetCell("C3").DataNum)
}

func TestPasteAllErasesBlankPositions(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "set A1 value n 1\nset D1 value n 9\nset D2 value n 8")
	// A1:A2 has a blank at A2; pasting over D1:D2 must blank D2
	exec(t, s, "copy A1:A2 all\npaste D1 all")
	assert.Equal(t, 1.0, s.GetCell("D1").DataNum)
	assert.Nil(t, s.GetCell("D2"))
}

func TestClipboardUndo(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "set A1 value n 1\nset C1 value n 3")
	exec(t, s, "copy A1 all")
	exec(t, s, "paste C1 all")
	assert.Equal(t, 1.0, s.GetCell("C1").DataNum)

	require.NoError(t, s.UndoCommand())
	assert.Equal(t, 3.0, s.GetCell("C1").DataNum)
}

func TestLoadClearClipboard(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "set A1 value n 4")
	exec(t, s, "copy A1 all")
	payload := s.Clipboard.SaveText
	require.NotEmpty(t, payload)

	exec(t, s, "clearclipboard")
	assert.True(t, s.Clipboard.Empty())

	s2 := newTestSheet()
	require.NoError(t, s2.ExecuteCommand("loadclipboard "+encodeForCommand(payload), true))
	require.NoError(t, s2.ExecuteCommand("paste B2 all", true))
	assert.Equal(t, 4.0, s2.GetCell("B2").DataNum)
}

// encodeForCommand escapes a save payload into the single-line form
// loadclipboard carries.
func encodeForCommand(savetext string) string {
	r := []rune{}
	for _, c := range savetext {
		switch c {
		case '\\':
			r = append(r, '\\', 'b')
		case ':':
			r = append(r, '\\', 'c')
		case '\n':
			r = append(r, '\\', 'n')
		default:
			r = append(r, c)
		}
	}
	return string(r)
}

func TestUnknownVerbAndAttributeErrors(t *testing.T) {
	s := newTestSheet()
	assert.Error(t, s.ExecuteCommand("frobnicate A1", true))
	assert.Error(t, s.ExecuteCommand("set A1 wibble 3", true))
	assert.Error(t, s.ExecuteCommand("erase A1 most", true))
}

func TestBatchContinuesPastBadLine(t *testing.T) {
	s := newTestSheet()
	err := s.ExecuteCommand("set A1 wibble 3\nset B1 value n 2", true)
	assert.Error(t, err)
	assert.Equal(t, 2.0, s.GetCell("B1").DataNum, "later lines still execute")
}

func TestCmdExtensionSuspendResume(t *testing.T) {
	s := newTestSheet()
	var gotArg string
	s.RegisterCmdExtension("simulate", func(sh *sheet.Sheet, name string, cmd *sheet.CmdLine, saveUndo bool) (bool, error) {
		gotArg = cmd.Rest()
		return false, nil
	})

	require.NoError(t, s.ExecuteCommand("set A1 value n 1\nstartcmdextension simulate arg one\nset B1 value n 2", true))
	assert.Equal(t, "arg one", gotArg)
	assert.True(t, s.CmdSuspended())
	assert.Nil(t, s.GetCell("B1"), "lines after the extension wait for resume")

	assert.Error(t, s.ExecuteCommand("set C1 value n 3", true), "no new batch while suspended")

	require.NoError(t, s.ResumeFromCmdExtension())
	assert.False(t, s.CmdSuspended())
	assert.Equal(t, 2.0, s.GetCell("B1").DataNum)
}

func TestCmdExtensionCompletingInline(t *testing.T) {
	s := newTestSheet()
	s.RegisterCmdExtension("noop", func(sh *sheet.Sheet, name string, cmd *sheet.CmdLine, saveUndo bool) (bool, error) {
		return true, nil
	})
	require.NoError(t, s.ExecuteCommand("startcmdextension noop\nset A1 value n 1", true))
	assert.False(t, s.CmdSuspended())
	assert.Equal(t, 1.0, s.GetCell("A1").DataNum)
}

func TestUnknownExtensionErrors(t *testing.T) {
	s := newTestSheet()
	assert.Error(t, s.ExecuteCommand("startcmdextension nosuch", true))
}

func TestBroadcastFiresOncePerBatch(t *testing.T) {
	s := newTestSheet()
	var events []string
	s.Broadcast = func(event, command string) {
		events = append(events, event+"|"+command)
	}
	exec(t, s, "set A1 value n 1\nset B1 value n 2")
	require.Len(t, events, 1)
	assert.Equal(t, "execute|set A1 value n 1\nset B1 value n 2", events[0])

	// undo replays do not rebroadcast
	require.NoError(t, s.UndoCommand())
	assert.Len(t, events, 1)
}
