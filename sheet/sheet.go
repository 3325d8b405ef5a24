package sheet

import (
	"sort"
	"strconv"
)

// SheetAttribs are sheet-wide attributes. The value-format, layout, font
// and color defaults are style table indices (0 = engine default).
type SheetAttribs struct {
	LastCol int
	LastRow int

	DefaultColWidth  int
	DefaultRowHeight int

	DefaultTextValueFormat    int
	DefaultNontextValueFormat int
	DefaultLayout             int
	DefaultFont               int
	DefaultColor              int
	DefaultBgcolor            int

	RecalcOff   bool
	NeedsRecalc bool

	// CircularReferenceCell records the two cycle-forming coordinates of
	// the most recent recalculation as "A1|B1", or "" when none.
	CircularReferenceCell string
}

// ColAttrib holds per-column layout attributes.
type ColAttrib struct {
	Width int
	Hide  bool
}

// RowAttrib holds per-row layout attributes.
type RowAttrib struct {
	Height int
	Hide   bool
}

// NameDef is one named range or formula.
type NameDef struct {
	Desc       string
	Definition string
}

// Sheet is the cell store plus everything that must stay consistent with
// it: attributes, names, style tables, the undo stack and the scheduler
// state. A sheet is exclusively owned by whichever operation is running;
// there is no internal locking.
type Sheet struct {
	Cells map[string]*Cell

	Attribs    SheetAttribs
	ColAttribs map[string]*ColAttrib // key: column letters "A"
	RowAttribs map[int]*RowAttrib

	Names map[string]*NameDef // key: upper-cased name

	Fonts        *StyleTable
	Colors       *StyleTable
	BorderStyles *StyleTable
	Layouts      *StyleTable
	CellFormats  *StyleTable
	ValueFormats *StyleTable

	// Collaborators. Parser and Evaluator must be set before formulas are
	// adjusted or recalculated; the rest are optional.
	Parser         FormulaParser
	Evaluator      Evaluator
	StatusCallback StatusFunc
	Loader         SheetLoader
	Broadcast      BroadcastFunc

	// Changes is this editing session's undo/redo stack. Clipboard may be
	// shared between sheets of one session by assigning the same pointer.
	Changes   *UndoStack
	Clipboard *Clipboard

	// DeferRecalc makes the recalc verb only start the scheduler; the host
	// then pumps StepRecalc itself. When false, recalc runs to completion
	// synchronously.
	DeferRecalc bool

	foreign map[string]*Sheet

	recalc *recalcState

	extensions  map[string]CmdExtensionFunc
	pendingCmds []string
	pendingSave bool
	pendingErr  error

	// RenderNeeded is set by edits that change geometry or formatting, so
	// hosts can re-layout precisely instead of after every value edit.
	RenderNeeded bool
}

// NewSheet creates an empty sheet with fresh style tables, undo stack and
// clipboard.
func NewSheet() *Sheet {
	return &Sheet{
		Cells:        make(map[string]*Cell),
		ColAttribs:   make(map[string]*ColAttrib),
		RowAttribs:   make(map[int]*RowAttrib),
		Names:        make(map[string]*NameDef),
		Fonts:        newStyleTable(),
		Colors:       newStyleTable(),
		BorderStyles: newStyleTable(),
		Layouts:      newStyleTable(),
		CellFormats:  newStyleTable(),
		ValueFormats: newStyleTable(),
		Changes:      NewUndoStack(),
		Clipboard:    &Clipboard{},
		foreign:      make(map[string]*Sheet),
	}
}

// GetCell returns the cell at coord, or nil when blank. coord may carry
// anchors or lowercase letters.
func (s *Sheet) GetCell(coord string) *Cell {
	return s.Cells[normalizeCoord(coord)]
}

// EnsureCell returns the cell at coord, creating it (and extending the
// sheet bounds) when absent.
func (s *Sheet) EnsureCell(coord string) *Cell {
	key := normalizeCoord(coord)
	cell := s.Cells[key]
	if cell == nil {
		cell = &Cell{}
		s.Cells[key] = cell
		if col, row, ok := ParseCoord(key); ok {
			s.extendBounds(col, row)
		}
	}
	return cell
}

// dropIfBlank removes the cell from the map when it carries nothing.
func (s *Sheet) dropIfBlank(coord string) {
	key := normalizeCoord(coord)
	if cell := s.Cells[key]; cell != nil && cell.IsBlank() {
		delete(s.Cells, key)
	}
}

func (s *Sheet) extendBounds(col, row int) {
	if col > s.Attribs.LastCol {
		s.Attribs.LastCol = col
	}
	if row > s.Attribs.LastRow {
		s.Attribs.LastRow = row
	}
}

// ColAttrib returns the attributes for a column letter, or nil.
func (s *Sheet) ColAttrib(col string) *ColAttrib {
	return s.ColAttribs[normalizeColKey(col)]
}

// RowAttribFor returns the attributes for a row, or nil.
func (s *Sheet) RowAttribFor(row int) *RowAttrib {
	return s.RowAttribs[row]
}

func normalizeColKey(col string) string {
	return ColToLetters(LettersToCol(col))
}

// SetName defines or redefines a name. Names are case-insensitive and
// stored upper-cased.
func (s *Sheet) SetName(name, definition string) {
	key := upperName(name)
	if key == "" {
		return
	}
	def := s.Names[key]
	if def == nil {
		def = &NameDef{}
		s.Names[key] = def
	}
	def.Definition = definition
	if _, _, c2, r2, ok := ParseRange(definition); ok {
		s.extendBounds(c2, r2)
	}
}

// LookupName resolves a name to its definition.
func (s *Sheet) LookupName(name string) (def *NameDef, ok bool) {
	def, ok = s.Names[upperName(name)]
	return def, ok
}

func upperName(name string) string {
	up := ""
	for _, r := range name {
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		up += string(r)
	}
	return up
}

// RegisterSheet makes a foreign sheet visible to cross-sheet references.
func (s *Sheet) RegisterSheet(name string, other *Sheet) {
	s.foreign[upperName(name)] = other
}

// SheetByName returns a registered foreign sheet, or nil.
func (s *Sheet) SheetByName(name string) *Sheet {
	return s.foreign[upperName(name)]
}

func (s *Sheet) statuscb(status string, arg interface{}) {
	if s.StatusCallback != nil {
		s.StatusCallback(s, status, arg)
	}
}

// sortedCellCoords returns the live cell keys in row-major order, the
// deterministic order used by saves and structural walks.
func (s *Sheet) sortedCellCoords() []string {
	coords := make([]string, 0, len(s.Cells))
	for coord := range s.Cells {
		coords = append(coords, coord)
	}
	sort.Slice(coords, func(i, j int) bool {
		ci, ri, _ := ParseCoord(coords[i])
		cj, rj, _ := ParseCoord(coords[j])
		if ri != rj {
			return ri < rj
		}
		return ci < cj
	})
	return coords
}

// styleTableFor maps a save-format style line tag to the table behind it.
func (s *Sheet) styleTableFor(tag string) *StyleTable {
	switch tag {
	case "font":
		return s.Fonts
	case "color":
		return s.Colors
	case "border":
		return s.BorderStyles
	case "layout":
		return s.Layouts
	case "cellformat":
		return s.CellFormats
	case "valueformat":
		return s.ValueFormats
	}
	return nil
}

var styleTableTags = []string{"font", "color", "border", "layout", "cellformat", "valueformat"}

// parseFormula tokenizes through the injected parser, caching on the cell.
func (s *Sheet) parseFormula(cell *Cell) []Token {
	if cell.ParseInfo == nil && s.Parser != nil && cell.Formula != "" {
		cell.ParseInfo = s.Parser.ParseFormulaIntoTokens(cell.Formula)
	}
	return cell.ParseInfo
}

// DisplayValue returns a plain-text rendering of the cell's value, filling
// the DisplayString cache. Number-format rendering proper is a collaborator
// concern; this is the engine's minimal fallback.
func (s *Sheet) DisplayValue(coord string) string {
	cell := s.GetCell(coord)
	if cell == nil {
		return ""
	}
	if cell.DisplayString != "" {
		return cell.DisplayString
	}
	switch {
	case cell.Errors != "":
		cell.DisplayString = cell.Errors
	case len(cell.ValueType) > 0 && cell.ValueType[0] == 'n':
		cell.DisplayString = strconv.FormatFloat(cell.DataNum, 'g', -1, 64)
	default:
		cell.DisplayString = cell.DataStr
	}
	return cell.DisplayString
}
