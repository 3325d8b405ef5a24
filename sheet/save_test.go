package sheet

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSampleSheet() *Sheet {
	s := NewSheet()
	a1 := s.EnsureCell("A1")
	a1.DataType = CellTypeValue
	a1.ValueType = "n"
	a1.DataNum = 42
	b2 := s.EnsureCell("B2")
	b2.DataType = CellTypeText
	b2.ValueType = "t"
	b2.DataStr = "with:colon and \\ backslash\nand newline"
	c3 := s.EnsureCell("C3")
	c3.DataType = CellTypeFormula
	c3.Formula = "A1*2"
	c3.ValueType = "n"
	c3.DataNum = 84
	c3.Font = s.Fonts.Index("bold * 12pt Arial")
	c3.Color = s.Colors.Index("rgb(255,0,0)")
	c3.Bt = s.BorderStyles.Index("1px solid black")

	s.ColAttribs["B"] = &ColAttrib{Width: 120}
	s.RowAttribs[2] = &RowAttrib{Height: 40, Hide: true}
	s.SetName("TOTAL", "A1:C3")
	s.Names["TOTAL"].Desc = "the whole block"
	s.Attribs.DefaultColWidth = 80
	return s
}

func TestSaveRoundTripIsByteIdentical(t *testing.T) {
	s := buildSampleSheet()
	save1 := s.CreateSheetSave()

	loaded, copiedFrom, err := SheetFromSave(save1)
	require.NoError(t, err)
	assert.Empty(t, copiedFrom)

	save2 := loaded.CreateSheetSave()
	assert.Equal(t, save1, save2)
}

func TestSaveFormatShape(t *testing.T) {
	s := buildSampleSheet()
	save := s.CreateSheetSave()
	lines := strings.Split(strings.TrimSuffix(save, "\n"), "\n")

	assert.Equal(t, "version:1.5", lines[0])
	assert.Equal(t, "sheet:c:3:r:3:colw:80", lines[1])
	assert.Equal(t, "cell:A1:v:n:42", lines[2])
	assert.Contains(t, save, `\c`, "colons in text are escaped")
	assert.Contains(t, save, `\n`, "newlines in text are escaped")
	assert.Contains(t, save, "col:B:w:120")
	assert.Contains(t, save, "row:2:h:40:hide:y")
	assert.Contains(t, save, "name:TOTAL:the whole block:A1\\cC3")
}

func TestSaveLoadPreservesStyleIndices(t *testing.T) {
	s := NewSheet()
	// table entry 1 exists but no cell points at it
	first := s.Fonts.Index("normal 10pt")
	second := s.Fonts.Index("bold 14pt")
	require.Equal(t, 1, first)
	require.Equal(t, 2, second)
	cell := s.EnsureCell("A1")
	cell.DataType = CellTypeValue
	cell.ValueType = "n"
	cell.DataNum = 1
	cell.Font = second

	loaded, _, err := SheetFromSave(s.CreateSheetSave())
	require.NoError(t, err)
	assert.Equal(t, "bold 14pt", loaded.Fonts.Value(loaded.Cells["A1"].Font))
	assert.Equal(t, 2, loaded.Cells["A1"].Font, "explicit indices survive the round trip")
}

func TestRangeSaveCarriesCopiedFrom(t *testing.T) {
	s := buildSampleSheet()
	save := s.CreateRangeSave(1, 1, 3, 3)
	assert.Contains(t, save, "copiedfrom:A1:C3")

	loaded, copiedFrom, err := SheetFromSave(save)
	require.NoError(t, err)
	assert.Equal(t, "A1:C3", copiedFrom)
	require.NotNil(t, loaded.Cells["C3"])
	assert.Equal(t, "A1*2", loaded.Cells["C3"].Formula)
	assert.Equal(t, "bold * 12pt Arial", loaded.Fonts.Value(loaded.Cells["C3"].Font))
}

func TestRangeSaveCompactsStyleTables(t *testing.T) {
	s := NewSheet()
	s.Fonts.Index("unused font one")
	s.Fonts.Index("unused font two")
	used := s.Fonts.Index("the used font")
	cell := s.EnsureCell("B2")
	cell.DataType = CellTypeText
	cell.ValueType = "t"
	cell.DataStr = "x"
	cell.Font = used

	save := s.CreateRangeSave(2, 2, 2, 2)
	assert.NotContains(t, save, "unused font one")
	assert.Contains(t, save, "font:1:the used font")
}

func TestCanonicalizeShrinksBoundsAndSortsStyles(t *testing.T) {
	s := NewSheet()
	s.Attribs.LastCol = 50
	s.Attribs.LastRow = 80
	zebra := s.Fonts.Index("zebra font")
	apple := s.Fonts.Index("apple font")
	b2 := s.EnsureCell("B2")
	b2.DataType = CellTypeValue
	b2.ValueType = "n"
	b2.DataNum = 5
	b2.Font = zebra
	d4 := s.EnsureCell("D4")
	d4.DataType = CellTypeText
	d4.ValueType = "t"
	d4.DataStr = "hi"
	d4.Font = apple

	out := s.CanonicalizeSheet()
	assert.Equal(t, 4, out.Attribs.LastCol)
	assert.Equal(t, 4, out.Attribs.LastRow)
	assert.Equal(t, "apple font", out.Fonts.Value(1))
	assert.Equal(t, "zebra font", out.Fonts.Value(2))
	assert.Equal(t, "zebra font", out.Fonts.Value(out.Cells["B2"].Font))

	// the original sheet is untouched
	assert.Equal(t, 50, s.Attribs.LastCol)
	assert.Equal(t, "zebra font", s.Fonts.Value(1))
}

func TestSortStyleTablesDedupesDuplicateValues(t *testing.T) {
	s := NewSheet()
	// a hand-edited save can place the same value at two indices
	s.Fonts.setAt(1, "dup font")
	s.Fonts.setAt(2, "dup font")
	s.Fonts.setAt(3, "zz later font")
	a1 := s.EnsureCell("A1")
	a1.DataType = CellTypeValue
	a1.ValueType = "n"
	a1.DataNum = 1
	a1.Font = 2
	b1 := s.EnsureCell("B1")
	b1.DataType = CellTypeValue
	b1.ValueType = "n"
	b1.DataNum = 2
	b1.Font = 3

	s.sortStyleTables()
	assert.Equal(t, 2, s.Fonts.Len())
	assert.Equal(t, "dup font", s.Fonts.Value(s.Cells["A1"].Font))
	assert.Equal(t, "zz later font", s.Fonts.Value(s.Cells["B1"].Font))
}

func TestDecodeCellAttrsRejectsUnknownCode(t *testing.T) {
	_, err := decodeCellAttrs("bogus:1")
	assert.Error(t, err)
}

func TestSheetFromSaveRejectsUnknownLine(t *testing.T) {
	_, _, err := SheetFromSave("version:1.5\nbogusline:1\n")
	assert.Error(t, err)
}
