package sheet

import (
	"strconv"
	"strings"
)

// The Formula Adjuster: pure, non-mutating transforms on tokenized
// formulas. Offset is used by fill/sort/relative copy, Adjust by
// insert/delete, Replace by move. All three leave string literals and
// sheet-qualified references untouched.

const RefErrorToken = "#REF!"

// coordParts decomposes a reference as written, keeping its anchors.
type coordParts struct {
	col, row       int
	absCol, absRow bool
}

func splitCoordParts(text string) (coordParts, bool) {
	var p coordParts
	letters := ""
	digits := ""
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '$':
			if letters == "" {
				p.absCol = true
			} else {
				p.absRow = true
			}
		case c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z':
			if digits != "" {
				return p, false
			}
			letters += string(c)
		case c >= '0' && c <= '9':
			if letters == "" {
				return p, false
			}
			digits += string(c)
		default:
			return p, false
		}
	}
	if letters == "" || digits == "" {
		return p, false
	}
	p.col = LettersToCol(letters)
	row, err := strconv.Atoi(digits)
	if p.col == 0 || err != nil || row < 1 {
		return p, false
	}
	p.row = row
	return p, true
}

func (p coordParts) text() string {
	out := ""
	if p.absCol {
		out = "$"
	}
	out += ColToLetters(p.col)
	if p.absRow {
		out += "$"
	}
	return out + strconv.Itoa(p.row)
}

// FormulaText rebuilds formula text from tokens. Spacing from the original
// is not preserved; callers that need the exact original text keep it
// themselves (undo records do).
func FormulaText(tokens []Token) string {
	var b strings.Builder
	for _, tok := range tokens {
		switch tok.Type {
		case TokenText:
			b.WriteString(`"`)
			b.WriteString(strings.ReplaceAll(tok.Text, `"`, `""`))
			b.WriteString(`"`)
		case TokenCoord:
			if tok.Sheet != "" {
				b.WriteString(tok.Sheet)
				b.WriteString("!")
			}
			b.WriteString(tok.Text)
		default:
			b.WriteString(tok.Text)
		}
	}
	return b.String()
}

// OffsetFormula shifts every relative reference by (dCol, dRow). Anchored
// axes and sheet-qualified references stay put. Shifting off the grid
// produces a reference-error token.
func OffsetFormula(p FormulaParser, formula string, dCol, dRow int) string {
	tokens := p.ParseFormulaIntoTokens(formula)
	out := make([]Token, len(tokens))
	for i, tok := range tokens {
		if tok.Type != TokenCoord || tok.Sheet != "" {
			out[i] = tok
			continue
		}
		parts, ok := splitCoordParts(tok.Text)
		if !ok {
			out[i] = tok
			continue
		}
		if !parts.absCol {
			parts.col += dCol
		}
		if !parts.absRow {
			parts.row += dRow
		}
		if parts.col < 1 || parts.row < 1 {
			out[i] = Token{Type: TokenError, Text: RefErrorToken}
			continue
		}
		out[i] = Token{Type: TokenCoord, Text: parts.text()}
	}
	return FormulaText(out)
}

// AdjustFormula shifts references at or past a pivot by an offset, the
// rewrite applied after inserting or deleting rows/columns. References
// inside a removed span become reference-error tokens; damaged reports
// whether that happened. Anchors do not exempt a reference from
// structural adjustment. When nothing changes the original text is
// returned verbatim.
func AdjustFormula(p FormulaParser, formula string, colPivot, dCol, rowPivot, dRow int) (adjusted string, damaged bool) {
	tokens := p.ParseFormulaIntoTokens(formula)
	out := make([]Token, len(tokens))
	changed := false
	for i, tok := range tokens {
		if tok.Type != TokenCoord || tok.Sheet != "" {
			out[i] = tok
			continue
		}
		parts, ok := splitCoordParts(tok.Text)
		if !ok {
			out[i] = tok
			continue
		}
		if inRemovedSpan(parts.col, colPivot, dCol) || inRemovedSpan(parts.row, rowPivot, dRow) {
			out[i] = Token{Type: TokenError, Text: RefErrorToken}
			changed = true
			damaged = true
			continue
		}
		moved := false
		if dCol != 0 && parts.col >= colPivot {
			parts.col += dCol
			moved = true
		}
		if dRow != 0 && parts.row >= rowPivot {
			parts.row += dRow
			moved = true
		}
		if moved {
			changed = true
		}
		out[i] = Token{Type: TokenCoord, Text: parts.text()}
	}
	if !changed {
		return formula, false
	}
	return FormulaText(out), damaged
}

// inRemovedSpan reports whether index sits inside the span removed by a
// negative offset at pivot: delete of n columns at pivot removes
// [pivot, pivot+n-1].
func inRemovedSpan(index, pivot, offset int) bool {
	return offset < 0 && index >= pivot && index < pivot-offset
}

// ReplaceFormula rewrites references matching entries in a moved-from to
// moved-to coordinate map (plain "A1" keys and values). Anchors are
// preserved; sheet-qualified references are untouched. When nothing
// matches the original text is returned verbatim.
func ReplaceFormula(p FormulaParser, formula string, moved map[string]string) (replaced string, changed bool) {
	if len(moved) == 0 {
		return formula, false
	}
	tokens := p.ParseFormulaIntoTokens(formula)
	out := make([]Token, len(tokens))
	for i, tok := range tokens {
		if tok.Type != TokenCoord || tok.Sheet != "" {
			out[i] = tok
			continue
		}
		parts, ok := splitCoordParts(tok.Text)
		if !ok {
			out[i] = tok
			continue
		}
		dest, hit := moved[CrToCoord(parts.col, parts.row)]
		if !hit {
			out[i] = tok
			continue
		}
		dc, dr, ok := ParseCoord(dest)
		if !ok {
			out[i] = Token{Type: TokenError, Text: RefErrorToken}
			changed = true
			continue
		}
		parts.col, parts.row = dc, dr
		out[i] = Token{Type: TokenCoord, Text: parts.text()}
		changed = true
	}
	if !changed {
		return formula, false
	}
	return FormulaText(out), true
}

// adjustDefinition applies a structural adjustment to a name definition,
// which is either a range/coordinate or "=formula" text.
func adjustDefinition(p FormulaParser, def string, colPivot, dCol, rowPivot, dRow int) (string, bool) {
	if strings.HasPrefix(def, "=") {
		adj, _ := AdjustFormula(p, def[1:], colPivot, dCol, rowPivot, dRow)
		if adj == def[1:] {
			return def, false
		}
		return "=" + adj, true
	}
	adj, _ := AdjustFormula(p, def, colPivot, dCol, rowPivot, dRow)
	if adj == def {
		return def, false
	}
	return adj, true
}

// replaceDefinition applies a move map to a name definition.
func replaceDefinition(p FormulaParser, def string, moved map[string]string) (string, bool) {
	if strings.HasPrefix(def, "=") {
		adj, changed := ReplaceFormula(p, def[1:], moved)
		if !changed {
			return def, false
		}
		return "=" + adj, true
	}
	return ReplaceFormula(p, def, moved)
}
