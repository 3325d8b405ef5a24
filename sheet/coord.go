package sheet

import (
	"strconv"
	"strings"
)

// Coordinate conversions between (col, row) number pairs and "A1"-style
// text. Columns are 1-based: A=1, Z=26, AA=27. Row 0 / col 0 are invalid.

// ColToLetters converts a 1-based column number to its letter form.
func ColToLetters(col int) string {
	if col < 1 {
		return ""
	}
	letters := ""
	for col > 0 {
		col--
		letters = string(rune('A'+col%26)) + letters
		col /= 26
	}
	return letters
}

// LettersToCol converts a column letter string to its 1-based number.
// Returns 0 for anything that is not pure letters.
func LettersToCol(s string) int {
	if s == "" {
		return 0
	}
	col := 0
	for _, r := range strings.ToUpper(s) {
		if r < 'A' || r > 'Z' {
			return 0
		}
		col = col*26 + int(r-'A') + 1
	}
	return col
}

// CrToCoord builds the canonical "A1" text for a column/row pair.
func CrToCoord(col, row int) string {
	return ColToLetters(col) + strconv.Itoa(row)
}

// ParseCoord splits "A1" (or "$A$1", any case) into column and row numbers.
// ok is false when the text is not a single cell coordinate.
func ParseCoord(coord string) (col, row int, ok bool) {
	letters := ""
	digits := ""
	for i := 0; i < len(coord); i++ {
		c := coord[i]
		switch {
		case c == '$':
			// anchors are irrelevant to the position
		case c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z':
			if digits != "" {
				return 0, 0, false
			}
			letters += string(c)
		case c >= '0' && c <= '9':
			if letters == "" {
				return 0, 0, false
			}
			digits += string(c)
		default:
			return 0, 0, false
		}
	}
	if letters == "" || digits == "" {
		return 0, 0, false
	}
	col = LettersToCol(letters)
	row, err := strconv.Atoi(digits)
	if col == 0 || err != nil || row < 1 {
		return 0, 0, false
	}
	return col, row, true
}

// ParseRange splits "A1" or "A1:B2" into a normalized rectangle where
// (c1,r1) is the upper left and (c2,r2) the lower right corner.
func ParseRange(s string) (c1, r1, c2, r2 int, ok bool) {
	first := s
	second := s
	if i := strings.Index(s, ":"); i >= 0 {
		first = s[:i]
		second = s[i+1:]
	}
	c1, r1, ok = ParseCoord(first)
	if !ok {
		return 0, 0, 0, 0, false
	}
	c2, r2, ok = ParseCoord(second)
	if !ok {
		return 0, 0, 0, 0, false
	}
	if c2 < c1 {
		c1, c2 = c2, c1
	}
	if r2 < r1 {
		r1, r2 = r2, r1
	}
	return c1, r1, c2, r2, true
}

// RangeText builds "A1:B2" text, collapsing single cells to "A1".
func RangeText(c1, r1, c2, r2 int) string {
	if c1 == c2 && r1 == r2 {
		return CrToCoord(c1, r1)
	}
	return CrToCoord(c1, r1) + ":" + CrToCoord(c2, r2)
}

// normalizeCoord uppercases a coordinate and strips anchors, producing the
// cell map key form ("$b$2" -> "B2").
func normalizeCoord(coord string) string {
	col, row, ok := ParseCoord(coord)
	if !ok {
		return strings.ToUpper(coord)
	}
	return CrToCoord(col, row)
}
