package sheet

import "fmt"

// Formula token model shared between the engine and the formula
// collaborator. The engine never evaluates tokens itself; it only walks
// them for dependency ordering and rewrites them for structural edits.

type TokenType int

const (
	TokenNum TokenType = iota
	TokenText
	TokenCoord
	TokenName
	TokenFunction
	TokenOp
	TokenError
)

// Token is one element of a tokenized formula. For TokenCoord, Text is the
// reference as written (anchors included, "B$2") and Sheet carries the
// sheet qualifier of "Sheet1!B2"-style references. A sheet-qualified
// reference is one atomic token; the qualifier is never derived from
// neighboring tokens.
type Token struct {
	Type  TokenType
	Text  string
	Sheet string
}

// Value is a computed or stored cell value. Type is the valuetype string:
// the first letter is the main type ("n" numeric, "t" text, "b" blank,
// "e" error), the remainder a free subtype ("n%", "nd", "e#REF!").
type Value struct {
	Num  float64
	Str  string
	Type string
}

func NumValue(n float64) Value       { return Value{Num: n, Type: "n"} }
func StrValue(s string) Value        { return Value{Str: s, Type: "t"} }
func ErrValue(errtoken string) Value { return Value{Str: errtoken, Type: "e" + errtoken} }

// IsError reports whether the value's main type is error.
func (v Value) IsError() bool { return len(v.Type) > 0 && v.Type[0] == 'e' }

// FormulaParser tokenizes formula text. Implementations live outside the
// engine; the default one is package formula.
type FormulaParser interface {
	ParseFormulaIntoTokens(text string) []Token
}

// Evaluator computes the value of a tokenized formula against a sheet.
// Evaluation failures that should land on the cell come back as error
// values, not Go errors; a Go error aborts the cell (the engine stores it
// in Cell.Errors). A SheetUnavailableError makes the scheduler wait for
// the named sheet.
type Evaluator interface {
	EvaluateParsedFormula(tokens []Token, s *Sheet, allowSideEffects bool) (Value, error)
}

// SheetUnavailableError signals that evaluation needs a cross-sheet
// reference that is not loaded yet.
type SheetUnavailableError struct {
	Name string
}

func (e *SheetUnavailableError) Error() string {
	return fmt.Sprintf("sheet %q is not available", e.Name)
}

// SheetLoader is asked for foreign sheets during recalculation. Returning
// nil means the load was started asynchronously; the host delivers the
// sheet later through Sheet.DeliverSheet.
type SheetLoader func(name string) *Sheet

// Status tags passed to the per-sheet status callback.
const (
	StatusCmdStart      = "cmdstart"
	StatusCmdEnd        = "cmdend"
	StatusCmdExtension  = "cmdextension"
	StatusCalcStart     = "calcstart"
	StatusCalcOrder     = "calcorder"
	StatusCalcStep      = "calcstep"
	StatusCalcCheckDone = "calccheckdone"
	StatusCalcFinished  = "calcfinished"
	StatusDoRedisplay   = "doredisplay"
)

// StatusFunc receives engine progress notifications.
type StatusFunc func(s *Sheet, status string, arg interface{})

// BroadcastFunc receives executed command records for replication. No
// ordering or merge semantics are implied beyond in-order local delivery.
type BroadcastFunc func(event string, command string)
