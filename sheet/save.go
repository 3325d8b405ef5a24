package sheet

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Line-oriented, colon-delimited save format. Text fields are escaped so
// the delimiters survive: `\` -> `\b`, `:` -> `\c`, newline -> `\n`.

const SaveVersion = "1.5"

var saveEncoder = strings.NewReplacer(`\`, `\b`, ":", `\c`, "\n", `\n`)
var saveDecoder = strings.NewReplacer(`\b`, `\`, `\c`, ":", `\n`, "\n")

func encodeSaveText(s string) string { return saveEncoder.Replace(s) }
func decodeSaveText(s string) string { return saveDecoder.Replace(s) }

func formatNum(n float64) string {
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// encodeCellAttrs serializes everything on a cell as colon-joined
// code/value parts, without the leading coordinate. Blank cells encode to
// the empty string.
func encodeCellAttrs(c *Cell) string {
	var parts []string
	add := func(p ...string) { parts = append(parts, p...) }

	switch c.DataType {
	case CellTypeValue:
		add("v", encodeSaveText(c.ValueType), encodeSaveText(dataValueText(c)))
	case CellTypeText:
		add("t", encodeSaveText(c.ValueType), encodeSaveText(c.DataStr))
	case CellTypeFormula:
		add("vtf", encodeSaveText(c.ValueType), encodeSaveText(dataValueText(c)), encodeSaveText(c.Formula))
	case CellTypeConstant:
		add("vtc", encodeSaveText(c.ValueType), encodeSaveText(dataValueText(c)), encodeSaveText(c.Formula))
	}
	if c.Errors != "" {
		add("e", encodeSaveText(c.Errors))
	}
	if c.Bt != 0 || c.Br != 0 || c.Bb != 0 || c.Bl != 0 {
		add("b", strconv.Itoa(c.Bt), strconv.Itoa(c.Br), strconv.Itoa(c.Bb), strconv.Itoa(c.Bl))
	}
	if c.Layout != 0 {
		add("l", strconv.Itoa(c.Layout))
	}
	if c.Font != 0 {
		add("f", strconv.Itoa(c.Font))
	}
	if c.Color != 0 {
		add("c", strconv.Itoa(c.Color))
	}
	if c.Bgcolor != 0 {
		add("bg", strconv.Itoa(c.Bgcolor))
	}
	if c.CellFormat != 0 {
		add("cf", strconv.Itoa(c.CellFormat))
	}
	if c.TextValueFormat != 0 {
		add("tvf", strconv.Itoa(c.TextValueFormat))
	}
	if c.NontextValueFormat != 0 {
		add("ntvf", strconv.Itoa(c.NontextValueFormat))
	}
	if c.Colspan > 1 {
		add("colspan", strconv.Itoa(c.Colspan))
	}
	if c.Rowspan > 1 {
		add("rowspan", strconv.Itoa(c.Rowspan))
	}
	if c.Cssc != "" {
		add("cssc", encodeSaveText(c.Cssc))
	}
	if c.Csss != "" {
		add("csss", encodeSaveText(c.Csss))
	}
	if c.Mod {
		add("mod", "y")
	}
	if c.Comment != "" {
		add("comment", encodeSaveText(c.Comment))
	}
	return strings.Join(parts, ":")
}

func dataValueText(c *Cell) string {
	if len(c.ValueType) > 0 && c.ValueType[0] == 'n' {
		return formatNum(c.DataNum)
	}
	return c.DataStr
}

// decodeCellAttrs rebuilds a cell from its encoded attribute parts.
func decodeCellAttrs(enc string) (*Cell, error) {
	c := &Cell{}
	if enc == "" {
		return c, nil
	}
	parts := strings.Split(enc, ":")
	i := 0
	next := func() string {
		if i >= len(parts) {
			return ""
		}
		p := parts[i]
		i++
		return p
	}
	atoi := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}
	for i < len(parts) {
		code := next()
		switch code {
		case "v", "t":
			c.DataType = code
			c.ValueType = decodeSaveText(next())
			setDataValue(c, decodeSaveText(next()))
		case "vtf", "vtc":
			if code == "vtf" {
				c.DataType = CellTypeFormula
			} else {
				c.DataType = CellTypeConstant
			}
			c.ValueType = decodeSaveText(next())
			setDataValue(c, decodeSaveText(next()))
			c.Formula = decodeSaveText(next())
		case "e":
			c.Errors = decodeSaveText(next())
		case "b":
			c.Bt, c.Br, c.Bb, c.Bl = atoi(next()), atoi(next()), atoi(next()), atoi(next())
		case "l":
			c.Layout = atoi(next())
		case "f":
			c.Font = atoi(next())
		case "c":
			c.Color = atoi(next())
		case "bg":
			c.Bgcolor = atoi(next())
		case "cf":
			c.CellFormat = atoi(next())
		case "tvf":
			c.TextValueFormat = atoi(next())
		case "ntvf":
			c.NontextValueFormat = atoi(next())
		case "colspan":
			c.Colspan = atoi(next())
		case "rowspan":
			c.Rowspan = atoi(next())
		case "cssc":
			c.Cssc = decodeSaveText(next())
		case "csss":
			c.Csss = decodeSaveText(next())
		case "mod":
			c.Mod = next() == "y"
		case "comment":
			c.Comment = decodeSaveText(next())
		default:
			return nil, fmt.Errorf("unknown cell attribute code %q", code)
		}
	}
	return c, nil
}

func setDataValue(c *Cell, text string) {
	if len(c.ValueType) > 0 && c.ValueType[0] == 'n' {
		c.DataNum, _ = strconv.ParseFloat(text, 64)
		return
	}
	c.DataStr = text
}

// sheetAttribPairs encodes non-default sheet attributes for the sheet line.
func sheetAttribPairs(a *SheetAttribs) []string {
	var parts []string
	add := func(k, v string) { parts = append(parts, k, v) }
	if a.DefaultColWidth != 0 {
		add("colw", strconv.Itoa(a.DefaultColWidth))
	}
	if a.DefaultRowHeight != 0 {
		add("rowh", strconv.Itoa(a.DefaultRowHeight))
	}
	if a.DefaultTextValueFormat != 0 {
		add("tvf", strconv.Itoa(a.DefaultTextValueFormat))
	}
	if a.DefaultNontextValueFormat != 0 {
		add("ntvf", strconv.Itoa(a.DefaultNontextValueFormat))
	}
	if a.DefaultLayout != 0 {
		add("layout", strconv.Itoa(a.DefaultLayout))
	}
	if a.DefaultFont != 0 {
		add("font", strconv.Itoa(a.DefaultFont))
	}
	if a.DefaultColor != 0 {
		add("color", strconv.Itoa(a.DefaultColor))
	}
	if a.DefaultBgcolor != 0 {
		add("bgcolor", strconv.Itoa(a.DefaultBgcolor))
	}
	if a.RecalcOff {
		add("recalcoff", "y")
	}
	if a.NeedsRecalc {
		add("needsrecalc", "y")
	}
	if a.CircularReferenceCell != "" {
		add("circularreferencecell", encodeSaveText(a.CircularReferenceCell))
	}
	return parts
}

func applySheetAttribPair(a *SheetAttribs, key, value string) {
	n, _ := strconv.Atoi(value)
	switch key {
	case "colw":
		a.DefaultColWidth = n
	case "rowh":
		a.DefaultRowHeight = n
	case "tvf":
		a.DefaultTextValueFormat = n
	case "ntvf":
		a.DefaultNontextValueFormat = n
	case "layout":
		a.DefaultLayout = n
	case "font":
		a.DefaultFont = n
	case "color":
		a.DefaultColor = n
	case "bgcolor":
		a.DefaultBgcolor = n
	case "recalcoff":
		a.RecalcOff = value == "y"
	case "needsrecalc":
		a.NeedsRecalc = value == "y"
	case "circularreferencecell":
		a.CircularReferenceCell = decodeSaveText(value)
	}
}

// CreateSheetSave serializes the whole sheet in the deterministic order
// that makes save -> load -> save byte-identical.
func (s *Sheet) CreateSheetSave() string {
	return s.createSave("")
}

// CreateRangeSave serializes a canonicalized copy of one rectangle with a
// copiedfrom line, the payload format used by the clipboard.
func (s *Sheet) CreateRangeSave(c1, r1, c2, r2 int) string {
	sub := NewSheet()
	for row := r1; row <= r2; row++ {
		for col := c1; col <= c2; col++ {
			coord := CrToCoord(col, row)
			if cell := s.Cells[coord]; cell != nil {
				sub.Cells[coord] = s.remapCellStyles(cell, sub)
				sub.extendBounds(col, row)
			}
		}
	}
	return sub.createSave(RangeText(c1, r1, c2, r2))
}

func (s *Sheet) createSave(copiedFrom string) string {
	var lines []string
	lines = append(lines, "version:"+SaveVersion)
	if copiedFrom != "" {
		from := strings.SplitN(copiedFrom, ":", 2)
		ul, lr := from[0], from[0]
		if len(from) == 2 {
			lr = from[1]
		}
		lines = append(lines, "copiedfrom:"+ul+":"+lr)
	}

	sheetLine := "sheet:c:" + strconv.Itoa(s.Attribs.LastCol) + ":r:" + strconv.Itoa(s.Attribs.LastRow)
	if pairs := sheetAttribPairs(&s.Attribs); len(pairs) > 0 {
		sheetLine += ":" + strings.Join(pairs, ":")
	}
	lines = append(lines, sheetLine)

	for _, coord := range s.sortedCellCoords() {
		enc := encodeCellAttrs(s.Cells[coord])
		if enc == "" {
			continue
		}
		lines = append(lines, "cell:"+coord+":"+enc)
	}

	cols := make([]string, 0, len(s.ColAttribs))
	for col := range s.ColAttribs {
		cols = append(cols, col)
	}
	sort.Slice(cols, func(i, j int) bool { return LettersToCol(cols[i]) < LettersToCol(cols[j]) })
	for _, col := range cols {
		a := s.ColAttribs[col]
		line := "col:" + col
		if a.Width != 0 {
			line += ":w:" + strconv.Itoa(a.Width)
		}
		if a.Hide {
			line += ":hide:y"
		}
		if line != "col:"+col {
			lines = append(lines, line)
		}
	}

	rows := make([]int, 0, len(s.RowAttribs))
	for row := range s.RowAttribs {
		rows = append(rows, row)
	}
	sort.Ints(rows)
	for _, row := range rows {
		a := s.RowAttribs[row]
		line := "row:" + strconv.Itoa(row)
		if a.Height != 0 {
			line += ":h:" + strconv.Itoa(a.Height)
		}
		if a.Hide {
			line += ":hide:y"
		}
		if line != "row:"+strconv.Itoa(row) {
			lines = append(lines, line)
		}
	}

	names := make([]string, 0, len(s.Names))
	for name := range s.Names {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		def := s.Names[name]
		lines = append(lines, "name:"+encodeSaveText(name)+":"+encodeSaveText(def.Desc)+":"+encodeSaveText(def.Definition))
	}

	for _, tag := range styleTableTags {
		table := s.styleTableFor(tag)
		for i := 1; i <= table.Len(); i++ {
			if v := table.Value(i); v != "" {
				lines = append(lines, tag+":"+strconv.Itoa(i)+":"+encodeSaveText(v))
			}
		}
	}

	return strings.Join(lines, "\n") + "\n"
}

// SheetFromSave rebuilds a sheet from save text. The returned sheet has no
// collaborators wired; callers attach Parser/Evaluator/etc. CopiedFrom, if
// present, is returned as the normalized range text.
func SheetFromSave(savetext string) (*Sheet, string, error) {
	s := NewSheet()
	copiedFrom := ""
	for lineno, line := range strings.Split(savetext, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		parts := strings.Split(line, ":")
		switch parts[0] {
		case "version":
			// all 1.x saves parse identically
		case "copiedfrom":
			if len(parts) >= 3 {
				if c1, r1, c2, r2, ok := ParseRange(parts[1] + ":" + parts[2]); ok {
					copiedFrom = RangeText(c1, r1, c2, r2)
				}
			}
		case "sheet":
			for i := 1; i+1 < len(parts); i += 2 {
				switch parts[i] {
				case "c":
					s.Attribs.LastCol, _ = strconv.Atoi(parts[i+1])
				case "r":
					s.Attribs.LastRow, _ = strconv.Atoi(parts[i+1])
				default:
					applySheetAttribPair(&s.Attribs, parts[i], parts[i+1])
				}
			}
		case "cell":
			if len(parts) < 3 {
				return nil, "", fmt.Errorf("line %d: malformed cell line", lineno+1)
			}
			cell, err := decodeCellAttrs(strings.Join(parts[2:], ":"))
			if err != nil {
				return nil, "", fmt.Errorf("line %d: %v", lineno+1, err)
			}
			coord := normalizeCoord(parts[1])
			s.Cells[coord] = cell
			if col, row, ok := ParseCoord(coord); ok {
				s.extendBounds(col, row)
			}
		case "col":
			if len(parts) < 2 {
				continue
			}
			a := &ColAttrib{}
			for i := 2; i+1 < len(parts); i += 2 {
				switch parts[i] {
				case "w":
					a.Width, _ = strconv.Atoi(parts[i+1])
				case "hide":
					a.Hide = parts[i+1] == "y"
				}
			}
			s.ColAttribs[normalizeColKey(parts[1])] = a
		case "row":
			if len(parts) < 2 {
				continue
			}
			row, _ := strconv.Atoi(parts[1])
			a := &RowAttrib{}
			for i := 2; i+1 < len(parts); i += 2 {
				switch parts[i] {
				case "h":
					a.Height, _ = strconv.Atoi(parts[i+1])
				case "hide":
					a.Hide = parts[i+1] == "y"
				}
			}
			s.RowAttribs[row] = a
		case "name":
			if len(parts) < 4 {
				return nil, "", fmt.Errorf("line %d: malformed name line", lineno+1)
			}
			name := decodeSaveText(parts[1])
			s.Names[upperName(name)] = &NameDef{
				Desc:       decodeSaveText(parts[2]),
				Definition: decodeSaveText(strings.Join(parts[3:], ":")),
			}
		case "font", "color", "border", "layout", "cellformat", "valueformat":
			if len(parts) < 3 {
				return nil, "", fmt.Errorf("line %d: malformed style line", lineno+1)
			}
			index, err := strconv.Atoi(parts[1])
			if err != nil {
				return nil, "", fmt.Errorf("line %d: bad style index", lineno+1)
			}
			s.styleTableFor(parts[0]).setAt(index, decodeSaveText(strings.Join(parts[2:], ":")))
		default:
			return nil, "", fmt.Errorf("line %d: unknown save line %q", lineno+1, parts[0])
		}
	}
	return s, copiedFrom, nil
}

// CanonicalizeSheet builds a compacted copy for deterministic exports:
// style tables renumbered to only used entries sorted by value, bounds
// shrunk to the tightest rectangle holding any non-default content. The
// live sheet is never mutated.
func (s *Sheet) CanonicalizeSheet() *Sheet {
	out := NewSheet()

	maxCol, maxRow := 0, 0
	for coord, cell := range s.Cells {
		if cell.IsBlank() {
			continue
		}
		if col, row, ok := ParseCoord(coord); ok {
			if col > maxCol {
				maxCol = col
			}
			if row > maxRow {
				maxRow = row
			}
		}
	}
	for col, a := range s.ColAttribs {
		if (a.Width != 0 || a.Hide) && LettersToCol(col) > maxCol {
			maxCol = LettersToCol(col)
		}
	}
	for row, a := range s.RowAttribs {
		if (a.Height != 0 || a.Hide) && row > maxRow {
			maxRow = row
		}
	}

	for coord, cell := range s.Cells {
		col, row, ok := ParseCoord(coord)
		if !ok || cell.IsBlank() || col > maxCol || row > maxRow {
			continue
		}
		out.Cells[coord] = s.remapCellStyles(cell, out)
	}
	out.Attribs = s.Attribs
	out.Attribs.LastCol = maxCol
	out.Attribs.LastRow = maxRow
	out.Attribs.DefaultTextValueFormat = out.ValueFormats.Index(s.ValueFormats.Value(s.Attribs.DefaultTextValueFormat))
	out.Attribs.DefaultNontextValueFormat = out.ValueFormats.Index(s.ValueFormats.Value(s.Attribs.DefaultNontextValueFormat))
	out.Attribs.DefaultLayout = out.Layouts.Index(s.Layouts.Value(s.Attribs.DefaultLayout))
	out.Attribs.DefaultFont = out.Fonts.Index(s.Fonts.Value(s.Attribs.DefaultFont))
	out.Attribs.DefaultColor = out.Colors.Index(s.Colors.Value(s.Attribs.DefaultColor))
	out.Attribs.DefaultBgcolor = out.Colors.Index(s.Colors.Value(s.Attribs.DefaultBgcolor))

	for col, a := range s.ColAttribs {
		if a.Width != 0 || a.Hide {
			cp := *a
			out.ColAttribs[col] = &cp
		}
	}
	for row, a := range s.RowAttribs {
		if a.Height != 0 || a.Hide {
			cp := *a
			out.RowAttribs[row] = &cp
		}
	}
	for name, def := range s.Names {
		cp := *def
		out.Names[name] = &cp
	}

	out.sortStyleTables()
	return out
}

// remapCellStyles clones a cell, translating style indices from s's tables
// into dst's tables by value.
func (s *Sheet) remapCellStyles(cell *Cell, dst *Sheet) *Cell {
	c := cell.Clone()
	c.Bt = dst.BorderStyles.Index(s.BorderStyles.Value(cell.Bt))
	c.Br = dst.BorderStyles.Index(s.BorderStyles.Value(cell.Br))
	c.Bb = dst.BorderStyles.Index(s.BorderStyles.Value(cell.Bb))
	c.Bl = dst.BorderStyles.Index(s.BorderStyles.Value(cell.Bl))
	c.Layout = dst.Layouts.Index(s.Layouts.Value(cell.Layout))
	c.Font = dst.Fonts.Index(s.Fonts.Value(cell.Font))
	c.Color = dst.Colors.Index(s.Colors.Value(cell.Color))
	c.Bgcolor = dst.Colors.Index(s.Colors.Value(cell.Bgcolor))
	c.CellFormat = dst.CellFormats.Index(s.CellFormats.Value(cell.CellFormat))
	c.TextValueFormat = dst.ValueFormats.Index(s.ValueFormats.Value(cell.TextValueFormat))
	c.NontextValueFormat = dst.ValueFormats.Index(s.ValueFormats.Value(cell.NontextValueFormat))
	return c
}

// sortStyleTables rebuilds every style table with entries sorted by value
// and rewrites the indices that point into them.
func (s *Sheet) sortStyleTables() {
	remap := func(t *StyleTable) map[int]int {
		values := make([]string, 0, t.Len())
		for i := 1; i <= t.Len(); i++ {
			if v := t.Value(i); v != "" {
				values = append(values, v)
			}
		}
		sort.Strings(values)
		// a hand-edited save can carry the same value at two indices;
		// the rebuilt table holds each value once
		uniq := values[:0]
		for _, v := range values {
			if len(uniq) == 0 || uniq[len(uniq)-1] != v {
				uniq = append(uniq, v)
			}
		}
		values = uniq
		m := make(map[int]int)
		fresh := newStyleTable()
		for i := 1; i <= t.Len(); i++ {
			if v := t.Value(i); v != "" {
				m[i] = sort.SearchStrings(values, v) + 1
			}
		}
		for _, v := range values {
			fresh.Index(v)
		}
		*t = *fresh
		return m
	}
	borders := remap(s.BorderStyles)
	layouts := remap(s.Layouts)
	fonts := remap(s.Fonts)
	colors := remap(s.Colors)
	cellfmts := remap(s.CellFormats)
	valuefmts := remap(s.ValueFormats)

	ix := func(m map[int]int, i int) int { return m[i] }
	for _, cell := range s.Cells {
		cell.Bt = ix(borders, cell.Bt)
		cell.Br = ix(borders, cell.Br)
		cell.Bb = ix(borders, cell.Bb)
		cell.Bl = ix(borders, cell.Bl)
		cell.Layout = ix(layouts, cell.Layout)
		cell.Font = ix(fonts, cell.Font)
		cell.Color = ix(colors, cell.Color)
		cell.Bgcolor = ix(colors, cell.Bgcolor)
		cell.CellFormat = ix(cellfmts, cell.CellFormat)
		cell.TextValueFormat = ix(valuefmts, cell.TextValueFormat)
		cell.NontextValueFormat = ix(valuefmts, cell.NontextValueFormat)
	}
	s.Attribs.DefaultTextValueFormat = ix(valuefmts, s.Attribs.DefaultTextValueFormat)
	s.Attribs.DefaultNontextValueFormat = ix(valuefmts, s.Attribs.DefaultNontextValueFormat)
	s.Attribs.DefaultLayout = ix(layouts, s.Attribs.DefaultLayout)
	s.Attribs.DefaultFont = ix(fonts, s.Attribs.DefaultFont)
	s.Attribs.DefaultColor = ix(colors, s.Attribs.DefaultColor)
	s.Attribs.DefaultBgcolor = ix(colors, s.Attribs.DefaultBgcolor)
}
