package sheet

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// The command engine. Commands are line-oriented, space-delimited text:
// the sole mutation surface and the replication wire format. A malformed
// line is reported but never fatal; later lines in the batch still run.

// CmdLine walks one command line token by token. Rest returns everything
// left unconsumed, which is how free-text arguments (formulas, comments,
// style values) keep their spaces.
type CmdLine struct {
	line string
	pos  int
}

func NewCmdLine(line string) *CmdLine {
	return &CmdLine{line: line}
}

// Next returns the next space-delimited token, or "" at end of line.
func (c *CmdLine) Next() string {
	for c.pos < len(c.line) && c.line[c.pos] == ' ' {
		c.pos++
	}
	start := c.pos
	for c.pos < len(c.line) && c.line[c.pos] != ' ' {
		c.pos++
	}
	return c.line[start:c.pos]
}

// Rest returns the remainder of the line with the leading space removed.
func (c *CmdLine) Rest() string {
	r := c.line[c.pos:]
	return strings.TrimPrefix(r, " ")
}

// CmdExtensionFunc handles a startcmdextension verb. Returning done=false
// suspends the engine's current batch until ResumeFromCmdExtension.
type CmdExtensionFunc func(s *Sheet, name string, cmd *CmdLine, saveUndo bool) (done bool, err error)

// RegisterCmdExtension registers an externally implemented verb.
func (s *Sheet) RegisterCmdExtension(name string, fn CmdExtensionFunc) {
	if s.extensions == nil {
		s.extensions = make(map[string]CmdExtensionFunc)
	}
	s.extensions[name] = fn
}

// CmdSuspended reports whether a batch is paused inside an extension.
func (s *Sheet) CmdSuspended() bool { return s.pendingCmds != nil }

// ExecuteCommand runs a multi-line command string against the sheet. With
// saveUndo the whole batch becomes one change record. The first error is
// returned; later lines still execute.
func (s *Sheet) ExecuteCommand(cmdline string, saveUndo bool) error {
	if s.CmdSuspended() {
		return fmt.Errorf("command engine is suspended in an extension")
	}
	if saveUndo && s.Changes != nil {
		s.Changes.PushChange(firstWord(cmdline))
	}
	s.statuscb(StatusCmdStart, cmdline)
	err := s.runLines(strings.Split(cmdline, "\n"), saveUndo)
	if saveUndo && s.Broadcast != nil {
		s.Broadcast("execute", cmdline)
	}
	return err
}

func firstWord(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \n"); i >= 0 {
		return s[:i]
	}
	return s
}

func (s *Sheet) runLines(lines []string, saveUndo bool) error {
	var firstErr error
	for i, line := range lines {
		line = strings.TrimSpace(strings.TrimRight(line, "\r"))
		if line == "" {
			continue
		}
		if saveUndo && s.Changes != nil {
			s.Changes.AddDo(line)
		}
		suspended, err := s.executeLine(line, saveUndo)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if suspended {
			s.pendingCmds = lines[i+1:]
			s.pendingSave = saveUndo
			s.pendingErr = firstErr
			return firstErr
		}
	}
	s.statuscb(StatusCmdEnd, nil)
	return firstErr
}

// ResumeFromCmdExtension continues a batch paused by an extension.
func (s *Sheet) ResumeFromCmdExtension() error {
	if !s.CmdSuspended() {
		return fmt.Errorf("no suspended command to resume")
	}
	lines := s.pendingCmds
	saveUndo := s.pendingSave
	prevErr := s.pendingErr
	s.pendingCmds, s.pendingSave, s.pendingErr = nil, false, nil
	err := s.runLines(lines, saveUndo)
	if prevErr != nil {
		return prevErr
	}
	return err
}

// UndoCommand replays the top change record's reverse list, in reverse
// emission order, with undo recording off.
func (s *Sheet) UndoCommand() error {
	if s.Changes == nil {
		return fmt.Errorf("no undo stack")
	}
	r := s.Changes.Undo()
	if r == nil {
		return fmt.Errorf("nothing to undo")
	}
	for i := len(r.Undo) - 1; i >= 0; i-- {
		if err := s.ExecuteCommand(r.Undo[i], false); err != nil {
			return err
		}
	}
	return nil
}

// RedoCommand replays the next change record's forward list.
func (s *Sheet) RedoCommand() error {
	if s.Changes == nil {
		return fmt.Errorf("no undo stack")
	}
	r := s.Changes.Redo()
	if r == nil {
		return fmt.Errorf("nothing to redo")
	}
	for _, cmd := range r.Command {
		if err := s.ExecuteCommand(cmd, false); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sheet) executeLine(line string, saveUndo bool) (suspended bool, err error) {
	cmd := NewCmdLine(line)
	verb := cmd.Next()
	switch verb {
	case "set":
		return false, s.cmdSet(cmd, saveUndo)
	case "merge", "unmerge":
		return false, s.cmdMerge(verb, cmd, saveUndo)
	case "erase", "cut":
		return false, s.cmdErase(verb, cmd, saveUndo)
	case "copy":
		return false, s.cmdCopy(cmd)
	case "loadclipboard":
		s.Clipboard.Load(decodeSaveText(cmd.Rest()))
		return false, nil
	case "clearclipboard":
		s.Clipboard.Clear()
		return false, nil
	case "paste":
		return false, s.cmdPaste(cmd, saveUndo)
	case "fillright", "filldown":
		return false, s.cmdFill(verb, cmd, saveUndo)
	case "sort":
		return false, s.cmdSort(cmd, saveUndo)
	case "insertcol", "insertrow":
		return false, s.cmdInsert(verb, cmd, saveUndo)
	case "deletecol", "deleterow":
		return false, s.cmdDelete(verb, cmd, saveUndo)
	case "movepaste", "moveinsert":
		return false, s.cmdMove(verb, cmd, saveUndo)
	case "name":
		return false, s.cmdName(cmd, saveUndo)
	case "recalc":
		if s.Attribs.RecalcOff {
			return false, nil
		}
		if s.DeferRecalc {
			s.StartRecalc()
			return false, nil
		}
		return false, s.RecalcSheet()
	case "redisplay":
		for _, cell := range s.Cells {
			cell.DisplayString = ""
		}
		s.RenderNeeded = true
		s.statuscb(StatusDoRedisplay, nil)
		return false, nil
	case "startcmdextension":
		name := cmd.Next()
		fn := s.extensions[name]
		if fn == nil {
			return false, fmt.Errorf("unknown command extension %q", name)
		}
		s.statuscb(StatusCmdExtension, name)
		done, err := fn(s, name, cmd, saveUndo)
		return !done, err
	default:
		return false, fmt.Errorf("unknown command verb %q", verb)
	}
}

// rangeCoords expands range text to row-major coordinates.
func rangeCoords(rangeText string) (coords []string, c1, r1, c2, r2 int, err error) {
	c1, r1, c2, r2, ok := ParseRange(rangeText)
	if !ok {
		return nil, 0, 0, 0, 0, fmt.Errorf("malformed range %q", rangeText)
	}
	for row := r1; row <= r2; row++ {
		for col := c1; col <= c2; col++ {
			coords = append(coords, CrToCoord(col, row))
		}
	}
	return coords, c1, r1, c2, r2, nil
}

// recordCellUndo snapshots a cell's entire prior state as one reverse
// fragment.
func (s *Sheet) recordCellUndo(coord string, saveUndo bool) {
	if !saveUndo || s.Changes == nil {
		return
	}
	frag := "set " + coord + " all"
	if cell := s.Cells[coord]; cell != nil {
		if enc := encodeCellAttrs(cell); enc != "" {
			frag += " " + enc
		}
	}
	s.Changes.AddUndo(frag)
}

func (s *Sheet) addUndo(saveUndo bool, frag string) {
	if saveUndo && s.Changes != nil {
		s.Changes.AddUndo(frag)
	}
}

// --- set ---

func (s *Sheet) cmdSet(cmd *CmdLine, saveUndo bool) error {
	target := cmd.Next()
	attr := cmd.Next()
	switch {
	case target == "sheet":
		return s.cmdSetSheet(attr, cmd, saveUndo)
	case isColumnsTarget(target):
		return s.cmdSetCol(target, attr, cmd, saveUndo)
	case isRowsTarget(target):
		return s.cmdSetRow(target, attr, cmd, saveUndo)
	}
	coords, _, _, _, _, err := rangeCoords(target)
	if err != nil {
		return err
	}
	for _, coord := range coords {
		if err := s.setCellAttr(coord, attr, cmd.clone(), saveUndo); err != nil {
			return err
		}
	}
	return nil
}

// clone lets each cell of a multi-cell set consume the same arguments.
func (c *CmdLine) clone() *CmdLine {
	return &CmdLine{line: c.line, pos: c.pos}
}

func isColumnsTarget(t string) bool {
	for _, part := range strings.Split(t, ":") {
		if LettersToCol(part) == 0 {
			return false
		}
	}
	return t != ""
}

func isRowsTarget(t string) bool {
	for _, part := range strings.Split(t, ":") {
		if n, err := strconv.Atoi(part); err != nil || n < 1 {
			return false
		}
	}
	return t != ""
}

func (s *Sheet) setCellAttr(coord string, attr string, cmd *CmdLine, saveUndo bool) error {
	switch attr {
	case "value":
		s.recordCellUndo(coord, saveUndo)
		vt := cmd.Next()
		cell := s.EnsureCell(coord)
		cell.clearContent()
		cell.DataType = CellTypeValue
		cell.ValueType = vt
		setDataValue(cell, cmd.Rest())
		s.Attribs.NeedsRecalc = true
	case "text":
		s.recordCellUndo(coord, saveUndo)
		vt := cmd.Next()
		cell := s.EnsureCell(coord)
		cell.clearContent()
		cell.DataType = CellTypeText
		cell.ValueType = vt
		cell.DataStr = cmd.Rest()
		s.Attribs.NeedsRecalc = true
	case "formula":
		s.recordCellUndo(coord, saveUndo)
		formula := cmd.Rest()
		if formula == "" {
			return fmt.Errorf("set %s formula: missing formula text", coord)
		}
		cell := s.EnsureCell(coord)
		cell.clearContent()
		cell.DataType = CellTypeFormula
		cell.Formula = formula
		s.Attribs.NeedsRecalc = true
	case "constant":
		s.recordCellUndo(coord, saveUndo)
		vt := cmd.Next()
		value := cmd.Next()
		formula := cmd.Rest()
		if formula == "" {
			return fmt.Errorf("set %s constant: missing constant text", coord)
		}
		cell := s.EnsureCell(coord)
		cell.clearContent()
		cell.DataType = CellTypeConstant
		cell.ValueType = vt
		setDataValue(cell, value)
		cell.Formula = formula
	case "empty":
		s.recordCellUndo(coord, saveUndo)
		if cell := s.Cells[normalizeCoord(coord)]; cell != nil {
			cell.clearContent()
			s.dropIfBlank(coord)
		}
		s.Attribs.NeedsRecalc = true
	case "all":
		s.recordCellUndo(coord, saveUndo)
		enc := cmd.Rest()
		key := normalizeCoord(coord)
		if enc == "" {
			delete(s.Cells, key)
		} else {
			cell, err := decodeCellAttrs(enc)
			if err != nil {
				return fmt.Errorf("set %s all: %v", coord, err)
			}
			s.Cells[key] = cell
			if col, row, ok := ParseCoord(key); ok {
				s.extendBounds(col, row)
			}
		}
		s.Attribs.NeedsRecalc = true
		s.RenderNeeded = true
	case "bt", "br", "bb", "bl":
		cell := s.EnsureCell(coord)
		old := map[string]*int{"bt": &cell.Bt, "br": &cell.Br, "bb": &cell.Bb, "bl": &cell.Bl}[attr]
		s.addUndo(saveUndo, setAttrFragment(coord, attr, s.BorderStyles.Value(*old)))
		*old = s.BorderStyles.Index(cmd.Rest())
		cell.DisplayString = ""
		s.RenderNeeded = true
	case "color":
		cell := s.EnsureCell(coord)
		s.addUndo(saveUndo, setAttrFragment(coord, attr, s.Colors.Value(cell.Color)))
		cell.Color = s.Colors.Index(cmd.Rest())
		cell.DisplayString = ""
		s.RenderNeeded = true
	case "bgcolor":
		cell := s.EnsureCell(coord)
		s.addUndo(saveUndo, setAttrFragment(coord, attr, s.Colors.Value(cell.Bgcolor)))
		cell.Bgcolor = s.Colors.Index(cmd.Rest())
		cell.DisplayString = ""
		s.RenderNeeded = true
	case "layout":
		cell := s.EnsureCell(coord)
		s.addUndo(saveUndo, setAttrFragment(coord, attr, s.Layouts.Value(cell.Layout)))
		cell.Layout = s.Layouts.Index(cmd.Rest())
		s.RenderNeeded = true
	case "font":
		cell := s.EnsureCell(coord)
		s.addUndo(saveUndo, setAttrFragment(coord, attr, s.Fonts.Value(cell.Font)))
		cell.Font = s.Fonts.Index(cmd.Rest())
		s.RenderNeeded = true
	case "cellformat":
		cell := s.EnsureCell(coord)
		s.addUndo(saveUndo, setAttrFragment(coord, attr, s.CellFormats.Value(cell.CellFormat)))
		cell.CellFormat = s.CellFormats.Index(cmd.Rest())
		s.RenderNeeded = true
	case "textvalueformat":
		cell := s.EnsureCell(coord)
		s.addUndo(saveUndo, setAttrFragment(coord, attr, s.ValueFormats.Value(cell.TextValueFormat)))
		cell.TextValueFormat = s.ValueFormats.Index(cmd.Rest())
		cell.DisplayString = ""
		s.RenderNeeded = true
	case "nontextvalueformat":
		cell := s.EnsureCell(coord)
		s.addUndo(saveUndo, setAttrFragment(coord, attr, s.ValueFormats.Value(cell.NontextValueFormat)))
		cell.NontextValueFormat = s.ValueFormats.Index(cmd.Rest())
		cell.DisplayString = ""
		s.RenderNeeded = true
	case "cssc":
		cell := s.EnsureCell(coord)
		s.addUndo(saveUndo, setAttrFragment(coord, attr, cell.Cssc))
		cell.Cssc = cmd.Rest()
		s.RenderNeeded = true
	case "csss":
		cell := s.EnsureCell(coord)
		s.addUndo(saveUndo, setAttrFragment(coord, attr, cell.Csss))
		cell.Csss = cmd.Rest()
		s.RenderNeeded = true
	case "mod":
		cell := s.EnsureCell(coord)
		oldv := "n"
		if cell.Mod {
			oldv = "y"
		}
		s.addUndo(saveUndo, setAttrFragment(coord, attr, oldv))
		cell.Mod = cmd.Next() == "y"
	case "comment":
		cell := s.EnsureCell(coord)
		s.addUndo(saveUndo, setAttrFragment(coord, attr, cell.Comment))
		cell.Comment = cmd.Rest()
	default:
		return fmt.Errorf("unknown cell attribute %q", attr)
	}
	s.dropIfBlank(coord)
	return nil
}

func setAttrFragment(coord, attr, oldValue string) string {
	frag := "set " + coord + " " + attr
	if oldValue != "" {
		frag += " " + oldValue
	}
	return frag
}

func (s *Sheet) cmdSetSheet(attr string, cmd *CmdLine, saveUndo bool) error {
	a := &s.Attribs
	undoNum := func(old int) {
		frag := "set sheet " + attr
		if old != 0 {
			frag += " " + strconv.Itoa(old)
		}
		s.addUndo(saveUndo, frag)
	}
	undoStr := func(old string) {
		frag := "set sheet " + attr
		if old != "" {
			frag += " " + old
		}
		s.addUndo(saveUndo, frag)
	}
	switch attr {
	case "defaultcolwidth":
		undoNum(a.DefaultColWidth)
		a.DefaultColWidth, _ = strconv.Atoi(cmd.Next())
	case "defaultrowheight":
		undoNum(a.DefaultRowHeight)
		a.DefaultRowHeight, _ = strconv.Atoi(cmd.Next())
	case "defaulttextvalueformat":
		undoStr(s.ValueFormats.Value(a.DefaultTextValueFormat))
		a.DefaultTextValueFormat = s.ValueFormats.Index(cmd.Rest())
	case "defaultnontextvalueformat":
		undoStr(s.ValueFormats.Value(a.DefaultNontextValueFormat))
		a.DefaultNontextValueFormat = s.ValueFormats.Index(cmd.Rest())
	case "defaultlayout":
		undoStr(s.Layouts.Value(a.DefaultLayout))
		a.DefaultLayout = s.Layouts.Index(cmd.Rest())
	case "defaultfont":
		undoStr(s.Fonts.Value(a.DefaultFont))
		a.DefaultFont = s.Fonts.Index(cmd.Rest())
	case "defaultcolor":
		undoStr(s.Colors.Value(a.DefaultColor))
		a.DefaultColor = s.Colors.Index(cmd.Rest())
	case "defaultbgcolor":
		undoStr(s.Colors.Value(a.DefaultBgcolor))
		a.DefaultBgcolor = s.Colors.Index(cmd.Rest())
	case "circularreferencecell":
		undoStr(a.CircularReferenceCell)
		a.CircularReferenceCell = cmd.Next()
	case "recalc":
		old := "on"
		if a.RecalcOff {
			old = "off"
		}
		s.addUndo(saveUndo, "set sheet recalc "+old)
		a.RecalcOff = cmd.Next() == "off"
	case "needsrecalc":
		old := "n"
		if a.NeedsRecalc {
			old = "y"
		}
		s.addUndo(saveUndo, "set sheet needsrecalc "+old)
		a.NeedsRecalc = cmd.Next() == "y"
	default:
		return fmt.Errorf("unknown sheet attribute %q", attr)
	}
	s.RenderNeeded = true
	return nil
}

func (s *Sheet) cmdSetCol(target, attr string, cmd *CmdLine, saveUndo bool) error {
	first, last := splitSpan(target)
	fc, lc := LettersToCol(first), LettersToCol(last)
	for col := fc; col <= lc; col++ {
		key := ColToLetters(col)
		a := s.ColAttribs[key]
		switch attr {
		case "width":
			old := 0
			if a != nil {
				old = a.Width
			}
			frag := "set " + key + " width"
			if old != 0 {
				frag += " " + strconv.Itoa(old)
			}
			s.addUndo(saveUndo, frag)
			w, _ := strconv.Atoi(cmd.clone().Next())
			if a == nil {
				a = &ColAttrib{}
				s.ColAttribs[key] = a
			}
			a.Width = w
		case "hide":
			old := "n"
			if a != nil && a.Hide {
				old = "y"
			}
			s.addUndo(saveUndo, "set "+key+" hide "+old)
			if a == nil {
				a = &ColAttrib{}
				s.ColAttribs[key] = a
			}
			a.Hide = cmd.clone().Next() == "y"
		default:
			return fmt.Errorf("unknown column attribute %q", attr)
		}
		if a.Width == 0 && !a.Hide {
			delete(s.ColAttribs, key)
		} else if col > s.Attribs.LastCol {
			s.Attribs.LastCol = col
		}
	}
	s.RenderNeeded = true
	return nil
}

func (s *Sheet) cmdSetRow(target, attr string, cmd *CmdLine, saveUndo bool) error {
	first, last := splitSpan(target)
	fr, _ := strconv.Atoi(first)
	lr, _ := strconv.Atoi(last)
	for row := fr; row <= lr; row++ {
		a := s.RowAttribs[row]
		key := strconv.Itoa(row)
		switch attr {
		case "height":
			old := 0
			if a != nil {
				old = a.Height
			}
			frag := "set " + key + " height"
			if old != 0 {
				frag += " " + strconv.Itoa(old)
			}
			s.addUndo(saveUndo, frag)
			h, _ := strconv.Atoi(cmd.clone().Next())
			if a == nil {
				a = &RowAttrib{}
				s.RowAttribs[row] = a
			}
			a.Height = h
		case "hide":
			old := "n"
			if a != nil && a.Hide {
				old = "y"
			}
			s.addUndo(saveUndo, "set "+key+" hide "+old)
			if a == nil {
				a = &RowAttrib{}
				s.RowAttribs[row] = a
			}
			a.Hide = cmd.clone().Next() == "y"
		default:
			return fmt.Errorf("unknown row attribute %q", attr)
		}
		if a.Height == 0 && !a.Hide {
			delete(s.RowAttribs, row)
		} else if row > s.Attribs.LastRow {
			s.Attribs.LastRow = row
		}
	}
	s.RenderNeeded = true
	return nil
}

func splitSpan(target string) (first, last string) {
	if i := strings.Index(target, ":"); i >= 0 {
		return target[:i], target[i+1:]
	}
	return target, target
}

// --- merge ---

func (s *Sheet) cmdMerge(verb string, cmd *CmdLine, saveUndo bool) error {
	_, c1, r1, c2, r2, err := rangeCoords(cmd.Next())
	if err != nil {
		return err
	}
	coord := CrToCoord(c1, r1)
	s.recordCellUndo(coord, saveUndo)
	cell := s.EnsureCell(coord)
	if verb == "merge" {
		cell.Colspan = c2 - c1 + 1
		cell.Rowspan = r2 - r1 + 1
	} else {
		cell.Colspan = 0
		cell.Rowspan = 0
		s.dropIfBlank(coord)
	}
	s.RenderNeeded = true
	return nil
}

// --- erase / cut / copy / paste ---

func (s *Sheet) cmdErase(verb string, cmd *CmdLine, saveUndo bool) error {
	rangeText := cmd.Next()
	what := cmd.Next()
	coords, c1, r1, c2, r2, err := rangeCoords(rangeText)
	if err != nil {
		return err
	}
	if err := checkWhat(what); err != nil {
		return err
	}
	if verb == "cut" {
		s.Clipboard.Load(s.CreateRangeSave(c1, r1, c2, r2))
	}
	for _, coord := range coords {
		cell := s.Cells[coord]
		if cell == nil {
			continue
		}
		s.recordCellUndo(coord, saveUndo)
		switch what {
		case "all":
			delete(s.Cells, coord)
		case "formulas":
			cell.clearContent()
			s.dropIfBlank(coord)
		case "formats":
			cell.clearFormats()
			s.dropIfBlank(coord)
		}
	}
	s.Attribs.NeedsRecalc = true
	s.RenderNeeded = true
	return nil
}

func checkWhat(what string) error {
	switch what {
	case "all", "formulas", "formats":
		return nil
	}
	return fmt.Errorf("expected all, formulas or formats, got %q", what)
}

func (s *Sheet) cmdCopy(cmd *CmdLine) error {
	rangeText := cmd.Next()
	what := cmd.Next()
	_, c1, r1, c2, r2, err := rangeCoords(rangeText)
	if err != nil {
		return err
	}
	if err := checkWhat(what); err != nil {
		return err
	}
	// the clipboard always holds the full range; paste filters by its
	// own what argument
	s.Clipboard.Load(s.CreateRangeSave(c1, r1, c2, r2))
	return nil
}

func (s *Sheet) cmdPaste(cmd *CmdLine, saveUndo bool) error {
	destText := cmd.Next()
	what := cmd.Next()
	if err := checkWhat(what); err != nil {
		return err
	}
	if s.Clipboard.Empty() {
		return fmt.Errorf("clipboard is empty")
	}
	clip, copiedFrom, err := SheetFromSave(s.Clipboard.SaveText)
	if err != nil {
		return fmt.Errorf("bad clipboard contents: %v", err)
	}
	oc1, or1, oc2, or2 := 1, 1, clip.Attribs.LastCol, clip.Attribs.LastRow
	if copiedFrom != "" {
		if c1, r1, c2, r2, ok := ParseRange(copiedFrom); ok {
			oc1, or1, oc2, or2 = c1, r1, c2, r2
		}
	}
	dc1, dr1, _, _, ok := ParseRange(destText)
	if !ok {
		return fmt.Errorf("malformed range %q", destText)
	}
	dCol, dRow := dc1-oc1, dr1-or1

	for row := or1; row <= or2; row++ {
		for col := oc1; col <= oc2; col++ {
			src := clip.Cells[CrToCoord(col, row)]
			target := CrToCoord(col+dCol, row+dRow)
			s.recordCellUndo(target, saveUndo)
			s.applyCellPaste(target, src, clip, what, dCol, dRow)
		}
	}
	s.Attribs.NeedsRecalc = true
	s.RenderNeeded = true
	return nil
}

// applyCellPaste merges one source cell into a target position, offsetting
// relative formula references by the source-to-destination delta.
func (s *Sheet) applyCellPaste(target string, src *Cell, srcSheet *Sheet, what string, dCol, dRow int) {
	key := normalizeCoord(target)
	if src == nil {
		// empty source: pasting all erases the target
		if what == "all" {
			delete(s.Cells, key)
		} else if cell := s.Cells[key]; cell != nil {
			if what == "formulas" {
				cell.clearContent()
			} else {
				cell.clearFormats()
			}
			s.dropIfBlank(key)
		}
		return
	}
	incoming := srcSheet.remapCellStyles(src, s)
	if incoming.DataType == CellTypeFormula && s.Parser != nil && (dCol != 0 || dRow != 0) {
		incoming.Formula = OffsetFormula(s.Parser, incoming.Formula, dCol, dRow)
		incoming.invalidateCaches()
	}
	switch what {
	case "all":
		s.Cells[key] = incoming
	case "formulas":
		cell := s.EnsureCell(key)
		keepFormats := cell.Clone()
		*cell = *incoming
		cell.Bt, cell.Br, cell.Bb, cell.Bl = keepFormats.Bt, keepFormats.Br, keepFormats.Bb, keepFormats.Bl
		cell.Layout, cell.Font, cell.Color, cell.Bgcolor = keepFormats.Layout, keepFormats.Font, keepFormats.Color, keepFormats.Bgcolor
		cell.CellFormat = keepFormats.CellFormat
		cell.TextValueFormat, cell.NontextValueFormat = keepFormats.TextValueFormat, keepFormats.NontextValueFormat
		cell.Colspan, cell.Rowspan = keepFormats.Colspan, keepFormats.Rowspan
		cell.Cssc, cell.Csss = keepFormats.Cssc, keepFormats.Csss
		cell.Mod, cell.Comment = keepFormats.Mod, keepFormats.Comment
	case "formats":
		cell := s.EnsureCell(key)
		cell.Bt, cell.Br, cell.Bb, cell.Bl = incoming.Bt, incoming.Br, incoming.Bb, incoming.Bl
		cell.Layout, cell.Font, cell.Color, cell.Bgcolor = incoming.Layout, incoming.Font, incoming.Color, incoming.Bgcolor
		cell.CellFormat = incoming.CellFormat
		cell.TextValueFormat, cell.NontextValueFormat = incoming.TextValueFormat, incoming.NontextValueFormat
		cell.Colspan, cell.Rowspan = incoming.Colspan, incoming.Rowspan
		cell.Cssc, cell.Csss = incoming.Cssc, incoming.Csss
		cell.DisplayString = ""
	}
	if col, row, ok := ParseCoord(key); ok {
		s.extendBounds(col, row)
	}
	s.dropIfBlank(key)
}

// --- fill ---

func (s *Sheet) cmdFill(verb string, cmd *CmdLine, saveUndo bool) error {
	rangeText := cmd.Next()
	what := cmd.Next()
	if err := checkWhat(what); err != nil {
		return err
	}
	_, c1, r1, c2, r2, err := rangeCoords(rangeText)
	if err != nil {
		return err
	}
	if verb == "filldown" {
		for col := c1; col <= c2; col++ {
			src := s.Cells[CrToCoord(col, r1)]
			for row := r1 + 1; row <= r2; row++ {
				target := CrToCoord(col, row)
				s.recordCellUndo(target, saveUndo)
				s.applyCellPaste(target, cloneForFill(src), s, what, 0, row-r1)
			}
		}
	} else {
		for row := r1; row <= r2; row++ {
			src := s.Cells[CrToCoord(c1, row)]
			for col := c1 + 1; col <= c2; col++ {
				target := CrToCoord(col, row)
				s.recordCellUndo(target, saveUndo)
				s.applyCellPaste(target, cloneForFill(src), s, what, col-c1, 0)
			}
		}
	}
	s.Attribs.NeedsRecalc = true
	s.RenderNeeded = true
	return nil
}

func cloneForFill(src *Cell) *Cell {
	if src == nil {
		return nil
	}
	return src.Clone()
}

// --- sort ---

type sortKey struct {
	col int
	up  bool
}

func (s *Sheet) cmdSort(cmd *CmdLine, saveUndo bool) error {
	rangeText := cmd.Next()
	coords, c1, r1, c2, r2, err := rangeCoords(rangeText)
	if err != nil {
		return err
	}
	var keys []sortKey
	for len(keys) < 4 {
		colTok := cmd.Next()
		if colTok == "" {
			break
		}
		dirTok := cmd.Next()
		col := LettersToCol(colTok)
		if col == 0 {
			// allow "B10"-style key coords
			if c, _, ok := ParseCoord(colTok); ok {
				col = c
			}
		}
		if col < c1 || col > c2 {
			return fmt.Errorf("sort key %q is outside the range", colTok)
		}
		if dirTok != "up" && dirTok != "down" {
			return fmt.Errorf("sort direction must be up or down, got %q", dirTok)
		}
		keys = append(keys, sortKey{col: col, up: dirTok == "up"})
	}
	if len(keys) == 0 {
		return fmt.Errorf("sort needs at least one key")
	}

	for _, coord := range coords {
		s.recordCellUndo(coord, saveUndo)
	}

	rows := make([]int, r2-r1+1)
	for i := range rows {
		rows[i] = r1 + i
	}
	sort.SliceStable(rows, func(a, b int) bool {
		return s.sortLess(rows[a], rows[b], keys)
	})

	// lift the sorted block out, then place each row at its new position,
	// offsetting relative references by the row delta
	moved := make(map[string]*Cell)
	for _, coord := range coords {
		if cell := s.Cells[coord]; cell != nil {
			moved[coord] = cell
			delete(s.Cells, coord)
		}
	}
	for destIdx, srcRow := range rows {
		destRow := r1 + destIdx
		for col := c1; col <= c2; col++ {
			cell := moved[CrToCoord(col, srcRow)]
			if cell == nil {
				continue
			}
			if cell.DataType == CellTypeFormula && s.Parser != nil && destRow != srcRow {
				cell.Formula = OffsetFormula(s.Parser, cell.Formula, 0, destRow-srcRow)
				cell.invalidateCaches()
			}
			s.Cells[CrToCoord(col, destRow)] = cell
		}
	}
	s.Attribs.NeedsRecalc = true
	s.RenderNeeded = true
	return nil
}

// sortLess compares two rows by the sort keys. Blank cells sort last in
// both directions; numbers order before text when ascending.
func (s *Sheet) sortLess(rowA, rowB int, keys []sortKey) bool {
	for _, k := range keys {
		a := s.Cells[CrToCoord(k.col, rowA)]
		b := s.Cells[CrToCoord(k.col, rowB)]
		ra, rb := sortRank(a), sortRank(b)
		if ra == 2 && rb == 2 {
			continue
		}
		if ra == 2 || rb == 2 {
			return rb == 2
		}
		if ra != rb {
			if k.up {
				return ra < rb
			}
			return ra > rb
		}
		var cmp int
		if ra == 0 {
			switch {
			case a.DataNum < b.DataNum:
				cmp = -1
			case a.DataNum > b.DataNum:
				cmp = 1
			}
		} else {
			cmp = strings.Compare(strings.ToLower(sortText(a)), strings.ToLower(sortText(b)))
		}
		if cmp == 0 {
			continue
		}
		if k.up {
			return cmp < 0
		}
		return cmp > 0
	}
	return false
}

// sortRank: 0 numeric, 1 text, 2 blank.
func sortRank(c *Cell) int {
	if c == nil || c.DataType == CellTypeBlank {
		return 2
	}
	if len(c.ValueType) > 0 && c.ValueType[0] == 'n' {
		return 0
	}
	return 1
}

func sortText(c *Cell) string {
	if c.DataStr != "" {
		return c.DataStr
	}
	return c.Formula
}

// --- insert / delete ---

func (s *Sheet) cmdInsert(verb string, cmd *CmdLine, saveUndo bool) error {
	pivotCol, pivotRow, err := structuralPivot(verb, cmd.Next())
	if err != nil {
		return err
	}
	byCol := verb == "insertcol"

	// shift cells away from the pivot, farthest first
	var moves []cellMove
	for coord := range s.Cells {
		col, row, _ := ParseCoord(coord)
		if byCol && col >= pivotCol {
			moves = append(moves, cellMove{coord, CrToCoord(col+1, row)})
		} else if !byCol && row >= pivotRow {
			moves = append(moves, cellMove{coord, CrToCoord(col, row+1)})
		}
	}
	sort.Slice(moves, func(i, j int) bool { return moveKey(moves[i]) > moveKey(moves[j]) })
	s.applyMoves(moves)

	if byCol {
		s.shiftColAttribs(pivotCol, 1)
		s.Attribs.LastCol++
	} else {
		s.shiftRowAttribs(pivotRow, 1)
		s.Attribs.LastRow++
	}

	dCol, dRow := 0, 0
	if byCol {
		dCol = 1
	} else {
		dRow = 1
	}
	s.adjustAllFormulas(pivotCol, dCol, pivotRow, dRow, false, nil)

	inverse := "deletecol"
	if !byCol {
		inverse = "deleterow"
	}
	s.addUndo(saveUndo, inverse+" "+CrToCoord(pivotCol, pivotRow))
	s.Attribs.NeedsRecalc = true
	s.RenderNeeded = true
	return nil
}

func (s *Sheet) cmdDelete(verb string, cmd *CmdLine, saveUndo bool) error {
	pivotCol, pivotRow, err := structuralPivot(verb, cmd.Next())
	if err != nil {
		return err
	}
	byCol := verb == "deletecol"

	// snapshot the deleted span and its attributes first; structural
	// inverse is emitted last so it replays first
	for _, coord := range s.sortedCellCoords() {
		col, row, _ := ParseCoord(coord)
		if byCol && col == pivotCol || !byCol && row == pivotRow {
			s.recordCellUndo(coord, saveUndo)
		}
	}
	if byCol {
		key := ColToLetters(pivotCol)
		if a := s.ColAttribs[key]; a != nil {
			if a.Width != 0 {
				s.addUndo(saveUndo, "set "+key+" width "+strconv.Itoa(a.Width))
			}
			if a.Hide {
				s.addUndo(saveUndo, "set "+key+" hide y")
			}
		}
	} else {
		key := strconv.Itoa(pivotRow)
		if a := s.RowAttribs[pivotRow]; a != nil {
			if a.Height != 0 {
				s.addUndo(saveUndo, "set "+key+" height "+strconv.Itoa(a.Height))
			}
			if a.Hide {
				s.addUndo(saveUndo, "set "+key+" hide y")
			}
		}
	}

	// remove the span
	for coord := range s.Cells {
		col, row, _ := ParseCoord(coord)
		if byCol && col == pivotCol || !byCol && row == pivotRow {
			delete(s.Cells, coord)
		}
	}

	// close the gap, nearest first
	var moves []cellMove
	for coord := range s.Cells {
		col, row, _ := ParseCoord(coord)
		if byCol && col > pivotCol {
			moves = append(moves, cellMove{coord, CrToCoord(col-1, row)})
		} else if !byCol && row > pivotRow {
			moves = append(moves, cellMove{coord, CrToCoord(col, row-1)})
		}
	}
	sort.Slice(moves, func(i, j int) bool { return moveKey(moves[i]) < moveKey(moves[j]) })
	s.applyMoves(moves)

	if byCol {
		s.shiftColAttribs(pivotCol+1, -1)
		if s.Attribs.LastCol > 0 {
			s.Attribs.LastCol--
		}
	} else {
		s.shiftRowAttribs(pivotRow+1, -1)
		if s.Attribs.LastRow > 0 {
			s.Attribs.LastRow--
		}
	}

	dCol, dRow := 0, 0
	if byCol {
		dCol = -1
	} else {
		dRow = -1
	}
	// the reverse list replays after the inverse insert restores positions,
	// so damaged formulas are recorded at their pre-delete coordinates
	damagedUndo := func(coord, original string) {
		col, row, _ := ParseCoord(coord)
		if byCol && col >= pivotCol {
			col++
		} else if !byCol && row >= pivotRow {
			row++
		}
		s.addUndo(saveUndo, "set "+CrToCoord(col, row)+" formula "+original)
	}
	s.adjustAllFormulas(pivotCol, dCol, pivotRow, dRow, saveUndo, damagedUndo)

	inverse := "insertcol"
	if !byCol {
		inverse = "insertrow"
	}
	s.addUndo(saveUndo, inverse+" "+CrToCoord(pivotCol, pivotRow))
	s.Attribs.NeedsRecalc = true
	s.RenderNeeded = true
	return nil
}

func structuralPivot(verb, token string) (col, row int, err error) {
	if c, r, ok := ParseCoord(token); ok {
		return c, r, nil
	}
	if c := LettersToCol(token); c > 0 {
		return c, 1, nil
	}
	if r, aerr := strconv.Atoi(token); aerr == nil && r > 0 {
		return 1, r, nil
	}
	return 0, 0, fmt.Errorf("%s: malformed coordinate %q", verb, token)
}

type cellMove struct{ from, to string }

// moveKey orders shifts so no move lands on a cell that has not moved yet:
// ascending closes a gap toward the pivot, descending opens one.
func moveKey(m cellMove) int {
	col, row, _ := ParseCoord(m.to)
	return row*1000000 + col
}

func (s *Sheet) applyMoves(moves []cellMove) {
	for _, m := range moves {
		s.Cells[m.to] = s.Cells[m.from]
		delete(s.Cells, m.from)
	}
}

func (s *Sheet) shiftColAttribs(fromCol, offset int) {
	cols := make([]int, 0, len(s.ColAttribs))
	for key := range s.ColAttribs {
		cols = append(cols, LettersToCol(key))
	}
	if offset > 0 {
		sort.Sort(sort.Reverse(sort.IntSlice(cols)))
	} else {
		sort.Ints(cols)
	}
	for _, col := range cols {
		if col < fromCol {
			continue
		}
		key := ColToLetters(col)
		a := s.ColAttribs[key]
		delete(s.ColAttribs, key)
		if col+offset >= 1 {
			s.ColAttribs[ColToLetters(col+offset)] = a
		}
	}
}

func (s *Sheet) shiftRowAttribs(fromRow, offset int) {
	rows := make([]int, 0, len(s.RowAttribs))
	for row := range s.RowAttribs {
		rows = append(rows, row)
	}
	if offset > 0 {
		sort.Sort(sort.Reverse(sort.IntSlice(rows)))
	} else {
		sort.Ints(rows)
	}
	for _, row := range rows {
		if row < fromRow {
			continue
		}
		a := s.RowAttribs[row]
		delete(s.RowAttribs, row)
		if row+offset >= 1 {
			s.RowAttribs[row+offset] = a
		}
	}
}

// adjustAllFormulas rewrites every formula and name definition around a
// structural pivot. onDamaged, when set, receives the coordinate and prior
// formula of every cell whose references were converted to #REF!.
func (s *Sheet) adjustAllFormulas(pivotCol, dCol, pivotRow, dRow int, saveUndo bool, onDamaged func(coord, original string)) {
	if s.Parser == nil {
		return
	}
	for coord, cell := range s.Cells {
		if cell.DataType != CellTypeFormula && cell.DataType != CellTypeConstant {
			continue
		}
		adjusted, damaged := AdjustFormula(s.Parser, cell.Formula, pivotCol, dCol, pivotRow, dRow)
		if adjusted == cell.Formula {
			continue
		}
		if damaged && onDamaged != nil {
			onDamaged(coord, cell.Formula)
		}
		cell.Formula = adjusted
		cell.invalidateCaches()
	}
	for name, def := range s.Names {
		adjusted, changed := adjustDefinition(s.Parser, def.Definition, pivotCol, dCol, pivotRow, dRow)
		if changed {
			s.addUndo(saveUndo, "name define "+name+" "+def.Definition)
			def.Definition = adjusted
		}
	}
}

// --- move ---

func (s *Sheet) cmdMove(verb string, cmd *CmdLine, saveUndo bool) error {
	rangeText := cmd.Next()
	destText := cmd.Next()
	what := cmd.Next()
	if what == "" {
		what = "all"
	}
	if err := checkWhat(what); err != nil {
		return err
	}
	_, c1, r1, c2, r2, err := rangeCoords(rangeText)
	if err != nil {
		return err
	}
	dc, dr, ok := ParseCoord(strings.SplitN(destText, ":", 2)[0])
	if !ok {
		return fmt.Errorf("%s: malformed destination %q", verb, destText)
	}

	moved := make(map[string]string)
	if verb == "moveinsert" {
		s.moveInsertMap(moved, c1, r1, c2, r2, dc, dr)
	}
	if len(moved) == 0 {
		// movepaste, or a moveinsert that is not a pure row/column shift
		dCol, dRow := dc-c1, dr-r1
		for row := r1; row <= r2; row++ {
			for col := c1; col <= c2; col++ {
				moved[CrToCoord(col, row)] = CrToCoord(col+dCol, row+dRow)
			}
		}
	}

	// snapshot everything the move touches
	touched := make(map[string]bool)
	for from, to := range moved {
		touched[from] = true
		touched[to] = true
	}
	var coords []string
	for coord := range touched {
		coords = append(coords, coord)
	}
	sort.Strings(coords)
	for _, coord := range coords {
		s.recordCellUndo(coord, saveUndo)
	}

	// lift, then place
	lifted := make(map[string]*Cell)
	for from := range moved {
		if cell := s.Cells[from]; cell != nil {
			lifted[from] = cell
			delete(s.Cells, from)
		}
	}
	for from, to := range moved {
		cell := lifted[from]
		if what == "all" {
			if cell == nil {
				delete(s.Cells, to)
				continue
			}
			s.Cells[to] = cell
			if col, row, ok := ParseCoord(to); ok {
				s.extendBounds(col, row)
			}
			continue
		}
		s.applyCellPaste(to, cell, s, what, 0, 0)
	}

	// references to moved cells follow them everywhere
	if s.Parser != nil {
		for coord, cell := range s.Cells {
			if cell.DataType != CellTypeFormula && cell.DataType != CellTypeConstant {
				continue
			}
			replaced, changed := ReplaceFormula(s.Parser, cell.Formula, moved)
			if changed {
				s.addUndo(saveUndo, "set "+coord+" formula "+cell.Formula)
				cell.Formula = replaced
				cell.invalidateCaches()
			}
		}
		for name, def := range s.Names {
			replaced, changed := replaceDefinition(s.Parser, def.Definition, moved)
			if changed {
				s.addUndo(saveUndo, "name define "+name+" "+def.Definition)
				def.Definition = replaced
			}
		}
	}
	s.Attribs.NeedsRecalc = true
	s.RenderNeeded = true
	return nil
}

// moveInsertMap builds the coordinate map for an insert-style move, where
// the cells between the block and its destination shift to fill the gap.
// Only pure vertical (same columns) and horizontal (same rows) moves
// qualify; anything else falls back to movepaste semantics.
func (s *Sheet) moveInsertMap(moved map[string]string, c1, r1, c2, r2, dc, dr int) {
	switch {
	case dc == c1 && dr != r1: // vertical
		h := r2 - r1 + 1
		if dr > r2 {
			for col := c1; col <= c2; col++ {
				for row := r1; row <= r2; row++ {
					moved[CrToCoord(col, row)] = CrToCoord(col, row+(dr-h-r1))
				}
				for row := r2 + 1; row < dr; row++ {
					moved[CrToCoord(col, row)] = CrToCoord(col, row-h)
				}
			}
		} else if dr < r1 {
			for col := c1; col <= c2; col++ {
				for row := r1; row <= r2; row++ {
					moved[CrToCoord(col, row)] = CrToCoord(col, row-(r1-dr))
				}
				for row := dr; row < r1; row++ {
					moved[CrToCoord(col, row)] = CrToCoord(col, row+h)
				}
			}
		}
	case dr == r1 && dc != c1: // horizontal
		w := c2 - c1 + 1
		if dc > c2 {
			for row := r1; row <= r2; row++ {
				for col := c1; col <= c2; col++ {
					moved[CrToCoord(col, row)] = CrToCoord(col+(dc-w-c1), row)
				}
				for col := c2 + 1; col < dc; col++ {
					moved[CrToCoord(col, row)] = CrToCoord(col-w, row)
				}
			}
		} else if dc < c1 {
			for row := r1; row <= r2; row++ {
				for col := c1; col <= c2; col++ {
					moved[CrToCoord(col, row)] = CrToCoord(col-(c1-dc), row)
				}
				for col := dc; col < c1; col++ {
					moved[CrToCoord(col, row)] = CrToCoord(col+w, row)
				}
			}
		}
	}
}

// --- name ---

func (s *Sheet) cmdName(cmd *CmdLine, saveUndo bool) error {
	op := cmd.Next()
	name := upperName(cmd.Next())
	if name == "" {
		return fmt.Errorf("name: missing name")
	}
	existing := s.Names[name]
	switch op {
	case "define":
		def := cmd.Rest()
		if def == "" {
			return fmt.Errorf("name define %s: missing definition", name)
		}
		if existing != nil {
			s.addUndo(saveUndo, "name define "+name+" "+existing.Definition)
		} else {
			s.addUndo(saveUndo, "name delete "+name)
		}
		s.SetName(name, def)
	case "desc":
		if existing == nil {
			return fmt.Errorf("name desc %s: no such name", name)
		}
		frag := "name desc " + name
		if existing.Desc != "" {
			frag += " " + existing.Desc
		}
		s.addUndo(saveUndo, frag)
		existing.Desc = cmd.Rest()
	case "delete":
		if existing == nil {
			return fmt.Errorf("name delete %s: no such name", name)
		}
		s.addUndo(saveUndo, "name define "+name+" "+existing.Definition)
		if existing.Desc != "" {
			s.addUndo(saveUndo, "name desc "+name+" "+existing.Desc)
		}
		delete(s.Names, name)
	default:
		return fmt.Errorf("unknown name operation %q", op)
	}
	s.Attribs.NeedsRecalc = true
	return nil
}
