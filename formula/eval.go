package formula

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gridsheet/gridsheet/sheet"
)

// Evaluator computes tokenized formulas against a sheet. It is stateless;
// all per-evaluation state lives in an evalState.
type Evaluator struct{}

func NewEvaluator() *Evaluator { return &Evaluator{} }

// operand is a value or a rectangle of values. Ranges only survive as far
// as a function argument list; using one as a scalar is an error.
type operand struct {
	value sheet.Value
	cells []sheet.Value
	isRng bool
}

func scalar(v sheet.Value) operand { return operand{value: v} }

type evalState struct {
	tokens      []sheet.Token
	pos         int
	sheet       *sheet.Sheet
	sideEffects bool
}

// EvaluateParsedFormula evaluates a token stream. Formula-level problems
// (bad references, type errors, division by zero) come back as error
// values; a Go error is reserved for structural failures and unavailable
// foreign sheets.
func (e *Evaluator) EvaluateParsedFormula(tokens []sheet.Token, s *sheet.Sheet, allowSideEffects bool) (sheet.Value, error) {
	ev := &evalState{tokens: tokens, sheet: s, sideEffects: allowSideEffects}
	op, err := ev.expr(0)
	if err != nil {
		return sheet.Value{}, err
	}
	if ev.pos < len(ev.tokens) {
		return sheet.ErrValue("#VALUE!"), nil
	}
	if op.isRng {
		// a bare range collapses to its first cell
		if len(op.cells) == 0 {
			return sheet.Value{Type: "b"}, nil
		}
		return op.cells[0], nil
	}
	return op.value, nil
}

func (ev *evalState) peek() *sheet.Token {
	if ev.pos < len(ev.tokens) {
		return &ev.tokens[ev.pos]
	}
	return nil
}

func (ev *evalState) next() *sheet.Token {
	tok := ev.peek()
	if tok != nil {
		ev.pos++
	}
	return tok
}

// binding powers, low to high
const (
	precCompare = 1
	precConcat  = 2
	precAdd     = 3
	precMul     = 4
	precPow     = 5
)

func opPrec(text string) int {
	switch text {
	case "=", "<>", "<", ">", "<=", ">=":
		return precCompare
	case "&":
		return precConcat
	case "+", "-":
		return precAdd
	case "*", "/":
		return precMul
	case "^":
		return precPow
	}
	return 0
}

// expr is a precedence climber over binary operators.
func (ev *evalState) expr(minPrec int) (operand, error) {
	left, err := ev.unary()
	if err != nil {
		return operand{}, err
	}
	for {
		tok := ev.peek()
		if tok == nil || tok.Type != sheet.TokenOp {
			return left, nil
		}
		prec := opPrec(tok.Text)
		if prec == 0 || prec < minPrec {
			return left, nil
		}
		op := ev.next().Text
		nextMin := prec + 1
		if op == "^" { // right associative
			nextMin = prec
		}
		right, err := ev.expr(nextMin)
		if err != nil {
			return operand{}, err
		}
		left = scalar(applyBinary(op, left, right))
	}
}

func (ev *evalState) unary() (operand, error) {
	tok := ev.peek()
	if tok != nil && tok.Type == sheet.TokenOp && (tok.Text == "-" || tok.Text == "+") {
		op := ev.next().Text
		inner, err := ev.unary()
		if err != nil {
			return operand{}, err
		}
		n, errv := toNum(inner)
		if errv != nil {
			return scalar(*errv), nil
		}
		if op == "-" {
			n = -n
		}
		return ev.postfix(scalar(sheet.NumValue(n)))
	}
	prim, err := ev.primary()
	if err != nil {
		return operand{}, err
	}
	return ev.postfix(prim)
}

// postfix handles the percent operator.
func (ev *evalState) postfix(op operand) (operand, error) {
	for {
		tok := ev.peek()
		if tok == nil || tok.Type != sheet.TokenOp || tok.Text != "%" {
			return op, nil
		}
		ev.next()
		n, errv := toNum(op)
		if errv != nil {
			return scalar(*errv), nil
		}
		op = scalar(sheet.NumValue(n / 100))
	}
}

func (ev *evalState) primary() (operand, error) {
	tok := ev.next()
	if tok == nil {
		return scalar(sheet.ErrValue("#VALUE!")), nil
	}
	switch tok.Type {
	case sheet.TokenNum:
		n, err := strconv.ParseFloat(tok.Text, 64)
		if err != nil {
			return scalar(sheet.ErrValue("#VALUE!")), nil
		}
		return scalar(sheet.NumValue(n)), nil

	case sheet.TokenText:
		return scalar(sheet.StrValue(tok.Text)), nil

	case sheet.TokenError:
		return scalar(sheet.ErrValue(tok.Text)), nil

	case sheet.TokenCoord:
		return ev.reference(tok)

	case sheet.TokenName:
		return ev.name(tok.Text)

	case sheet.TokenFunction:
		return ev.call(tok.Text)

	case sheet.TokenOp:
		if tok.Text == "(" {
			inner, err := ev.expr(0)
			if err != nil {
				return operand{}, err
			}
			if t := ev.peek(); t != nil && t.Type == sheet.TokenOp && t.Text == ")" {
				ev.next()
			}
			return inner, nil
		}
	}
	return scalar(sheet.ErrValue("#VALUE!")), nil
}

// reference resolves a coordinate, or a coordinate range when a ':' and a
// second coordinate follow.
func (ev *evalState) reference(tok *sheet.Token) (operand, error) {
	target := ev.sheet
	if tok.Sheet != "" {
		target = ev.sheet.SheetByName(tok.Sheet)
		if target == nil {
			return operand{}, &sheet.SheetUnavailableError{Name: tok.Sheet}
		}
	}
	if t := ev.peek(); t != nil && t.Type == sheet.TokenOp && t.Text == ":" {
		if ev.pos+1 < len(ev.tokens) && ev.tokens[ev.pos+1].Type == sheet.TokenCoord {
			ev.next()
			far := ev.next()
			return ev.rangeOperand(target, tok.Text, far.Text)
		}
	}
	return scalar(cellValue(target, tok.Text)), nil
}

func (ev *evalState) rangeOperand(target *sheet.Sheet, from, to string) (operand, error) {
	c1, r1, c2, r2, ok := sheet.ParseRange(plainCoord(from) + ":" + plainCoord(to))
	if !ok {
		return scalar(sheet.ErrValue("#REF!")), nil
	}
	var cells []sheet.Value
	for row := r1; row <= r2; row++ {
		for col := c1; col <= c2; col++ {
			cells = append(cells, cellValue(target, sheet.CrToCoord(col, row)))
		}
	}
	return operand{cells: cells, isRng: true}, nil
}

func plainCoord(text string) string {
	return strings.ReplaceAll(text, "$", "")
}

func cellValue(target *sheet.Sheet, coord string) sheet.Value {
	cell := target.GetCell(plainCoord(coord))
	if cell == nil {
		return sheet.Value{Type: "b"}
	}
	return cell.Value()
}

// name resolves a defined name to a value, a range, or a nested formula.
func (ev *evalState) name(name string) (operand, error) {
	def, ok := ev.sheet.LookupName(name)
	if !ok {
		return scalar(sheet.ErrValue("#NAME?")), nil
	}
	if strings.HasPrefix(def.Definition, "=") {
		tokens := NewParser().ParseFormulaIntoTokens(def.Definition[1:])
		sub := &evalState{tokens: tokens, sheet: ev.sheet, sideEffects: ev.sideEffects}
		return sub.expr(0)
	}
	if c1, r1, c2, r2, ok := sheet.ParseRange(def.Definition); ok {
		if c1 == c2 && r1 == r2 {
			return scalar(cellValue(ev.sheet, sheet.CrToCoord(c1, r1))), nil
		}
		return ev.rangeOperand(ev.sheet, sheet.CrToCoord(c1, r1), sheet.CrToCoord(c2, r2))
	}
	return scalar(sheet.ErrValue("#NAME?")), nil
}

// call evaluates a function invocation. The opening parenthesis is the
// next token.
func (ev *evalState) call(name string) (operand, error) {
	if t := ev.peek(); t != nil && t.Type == sheet.TokenOp && t.Text == "(" {
		ev.next()
	}
	var args []operand
	for {
		t := ev.peek()
		if t == nil {
			break
		}
		if t.Type == sheet.TokenOp && t.Text == ")" {
			ev.next()
			break
		}
		arg, err := ev.expr(0)
		if err != nil {
			return operand{}, err
		}
		args = append(args, arg)
		if t := ev.peek(); t != nil && t.Type == sheet.TokenOp && (t.Text == "," || t.Text == ";") {
			ev.next()
		}
	}
	fn := builtins[name]
	if fn == nil {
		return scalar(sheet.ErrValue("#NAME?")), nil
	}
	v, err := fn(ev, args)
	if err != nil {
		return operand{}, err
	}
	return scalar(v), nil
}

// --- coercion ---

// toNum coerces an operand to a number. Errors pass through; text must
// parse; blank is zero.
func toNum(op operand) (float64, *sheet.Value) {
	if op.isRng {
		e := sheet.ErrValue("#VALUE!")
		return 0, &e
	}
	v := op.value
	switch {
	case v.IsError():
		return 0, &v
	case v.Type == "" || v.Type[0] == 'b':
		return 0, nil
	case v.Type[0] == 'n':
		return v.Num, nil
	default:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			e := sheet.ErrValue("#VALUE!")
			return 0, &e
		}
		return n, nil
	}
}

func toStr(op operand) (string, *sheet.Value) {
	if op.isRng {
		e := sheet.ErrValue("#VALUE!")
		return "", &e
	}
	v := op.value
	switch {
	case v.IsError():
		return "", &v
	case v.Type == "" || v.Type[0] == 'b':
		return "", nil
	case v.Type[0] == 'n':
		return strconv.FormatFloat(v.Num, 'g', -1, 64), nil
	default:
		return v.Str, nil
	}
}

func boolNum(b bool) sheet.Value {
	if b {
		return sheet.NumValue(1)
	}
	return sheet.NumValue(0)
}

func applyBinary(op string, left, right operand) sheet.Value {
	if op == "&" {
		ls, errv := toStr(left)
		if errv != nil {
			return *errv
		}
		rs, errv := toStr(right)
		if errv != nil {
			return *errv
		}
		return sheet.StrValue(ls + rs)
	}
	if opPrec(op) == precCompare {
		return compareValues(op, left, right)
	}
	ln, errv := toNum(left)
	if errv != nil {
		return *errv
	}
	rn, errv := toNum(right)
	if errv != nil {
		return *errv
	}
	switch op {
	case "+":
		return sheet.NumValue(ln + rn)
	case "-":
		return sheet.NumValue(ln - rn)
	case "*":
		return sheet.NumValue(ln * rn)
	case "/":
		if rn == 0 {
			return sheet.ErrValue("#DIV/0!")
		}
		return sheet.NumValue(ln / rn)
	case "^":
		return sheet.NumValue(math.Pow(ln, rn))
	}
	return sheet.ErrValue("#VALUE!")
}

// compareValues compares numerically when both sides are numeric (blank
// counts as zero), case-insensitively as text otherwise.
func compareValues(op string, left, right operand) sheet.Value {
	lv, rv := left.value, right.value
	if left.isRng || right.isRng {
		return sheet.ErrValue("#VALUE!")
	}
	if lv.IsError() {
		return lv
	}
	if rv.IsError() {
		return rv
	}
	numeric := func(v sheet.Value) bool {
		return v.Type == "" || v.Type[0] == 'n' || v.Type[0] == 'b'
	}
	var cmp int
	if numeric(lv) && numeric(rv) {
		switch {
		case lv.Num < rv.Num:
			cmp = -1
		case lv.Num > rv.Num:
			cmp = 1
		}
	} else {
		ls, _ := toStr(left)
		rs, _ := toStr(right)
		cmp = strings.Compare(strings.ToLower(ls), strings.ToLower(rs))
	}
	switch op {
	case "=":
		return boolNum(cmp == 0)
	case "<>":
		return boolNum(cmp != 0)
	case "<":
		return boolNum(cmp < 0)
	case ">":
		return boolNum(cmp > 0)
	case "<=":
		return boolNum(cmp <= 0)
	case ">=":
		return boolNum(cmp >= 0)
	}
	return sheet.ErrValue("#VALUE!")
}

// flatten expands arguments to the scalar values inside them, skipping
// blanks inside ranges the way aggregate functions expect.
func flatten(args []operand, skipBlank bool) ([]sheet.Value, *sheet.Value) {
	var out []sheet.Value
	for _, a := range args {
		if a.isRng {
			for _, v := range a.cells {
				if v.IsError() {
					e := v
					return nil, &e
				}
				if skipBlank && (v.Type == "" || v.Type[0] == 'b') {
					continue
				}
				out = append(out, v)
			}
			continue
		}
		if a.value.IsError() {
			e := a.value
			return nil, &e
		}
		out = append(out, a.value)
	}
	return out, nil
}

func argCountErr(name string, want int, got int) error {
	return fmt.Errorf("%s expects %d arguments, got %d", name, want, got)
}
