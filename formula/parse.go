// Package formula tokenizes and evaluates spreadsheet formulas. It plugs
// into the engine through the parser and evaluator interfaces; the engine
// never depends on this package directly.
package formula

import (
	"regexp"
	"strings"

	"github.com/gridsheet/gridsheet/sheet"
)

// Parser turns formula text into a token stream. It is stateless and safe
// for concurrent use.
type Parser struct{}

func NewParser() *Parser { return &Parser{} }

var coordRe = regexp.MustCompile(`^\$?[A-Za-z]+\$?\d+$`)

func isIdentStart(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c == '_' || c == '$'
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9' || c == '.'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// ParseFormulaIntoTokens lexes formula text. Sheet-qualified references
// produce coordinate tokens carrying the sheet name, and a qualified range
// qualifies both of its endpoints, so later reference rewriting treats the
// pair as one foreign unit.
func (p *Parser) ParseFormulaIntoTokens(formula string) []sheet.Token {
	var tokens []sheet.Token
	i := 0
	n := len(formula)
	for i < n {
		c := formula[i]
		switch {
		case c == ' ' || c == '\t':
			i++

		case c == '"':
			text, next := lexString(formula, i)
			tokens = append(tokens, sheet.Token{Type: sheet.TokenText, Text: text})
			i = next

		case isDigit(c) || c == '.' && i+1 < n && isDigit(formula[i+1]):
			start := i
			for i < n && (isDigit(formula[i]) || formula[i] == '.') {
				i++
			}
			if i < n && (formula[i] == 'e' || formula[i] == 'E') {
				j := i + 1
				if j < n && (formula[j] == '+' || formula[j] == '-') {
					j++
				}
				if j < n && isDigit(formula[j]) {
					for j < n && isDigit(formula[j]) {
						j++
					}
					i = j
				}
			}
			tokens = append(tokens, sheet.Token{Type: sheet.TokenNum, Text: formula[start:i]})

		case isIdentStart(c):
			start := i
			for i < n && isIdentChar(formula[i]) {
				i++
			}
			word := formula[start:i]
			if i < n && formula[i] == '!' {
				i++
				cstart := i
				for i < n && (isIdentChar(formula[i]) || isDigit(formula[i])) {
					i++
				}
				coord := formula[cstart:i]
				if coordRe.MatchString(coord) {
					tokens = append(tokens, sheet.Token{Type: sheet.TokenCoord, Text: strings.ToUpper(coord), Sheet: word})
				} else {
					tokens = append(tokens, sheet.Token{Type: sheet.TokenError, Text: word + "!" + coord})
				}
				continue
			}
			switch {
			case coordRe.MatchString(word):
				tok := sheet.Token{Type: sheet.TokenCoord, Text: strings.ToUpper(word)}
				// the far end of a qualified range inherits the sheet
				if len(tokens) >= 2 {
					prevOp := tokens[len(tokens)-1]
					prevCoord := tokens[len(tokens)-2]
					if prevOp.Type == sheet.TokenOp && prevOp.Text == ":" &&
						prevCoord.Type == sheet.TokenCoord && prevCoord.Sheet != "" {
						tok.Sheet = prevCoord.Sheet
					}
				}
				tokens = append(tokens, tok)
			case nextNonSpace(formula, i) == '(':
				tokens = append(tokens, sheet.Token{Type: sheet.TokenFunction, Text: strings.ToUpper(word)})
			default:
				tokens = append(tokens, sheet.Token{Type: sheet.TokenName, Text: strings.ToUpper(word)})
			}

		case c == '<' || c == '>':
			if i+1 < n && (formula[i+1] == '=' || c == '<' && formula[i+1] == '>') {
				tokens = append(tokens, sheet.Token{Type: sheet.TokenOp, Text: formula[i : i+2]})
				i += 2
			} else {
				tokens = append(tokens, sheet.Token{Type: sheet.TokenOp, Text: string(c)})
				i++
			}

		case c == '#':
			start := i
			i++
			for i < n && (formula[i] >= 'A' && formula[i] <= 'Z' || isDigit(formula[i]) || formula[i] == '/' || formula[i] == '!' || formula[i] == '?') {
				i++
			}
			tokens = append(tokens, sheet.Token{Type: sheet.TokenError, Text: formula[start:i]})

		case strings.ContainsRune("+-*/^&%=(),:;", rune(c)):
			tokens = append(tokens, sheet.Token{Type: sheet.TokenOp, Text: string(c)})
			i++

		default:
			tokens = append(tokens, sheet.Token{Type: sheet.TokenError, Text: string(c)})
			i++
		}
	}
	return tokens
}

// lexString reads a quoted string starting at the opening quote. Doubled
// quotes embed a literal quote.
func lexString(formula string, i int) (text string, next int) {
	var b strings.Builder
	i++
	for i < len(formula) {
		if formula[i] == '"' {
			if i+1 < len(formula) && formula[i+1] == '"' {
				b.WriteByte('"')
				i += 2
				continue
			}
			i++
			break
		}
		b.WriteByte(formula[i])
		i++
	}
	return b.String(), i
}

func nextNonSpace(s string, i int) byte {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	if i < len(s) {
		return s[i]
	}
	return 0
}
