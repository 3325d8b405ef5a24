package formula

import (
	"math"
	"strings"

	matrix "github.com/skelterjohn/go.matrix"

	"github.com/gridsheet/gridsheet/sheet"
)

type builtinFunc func(ev *evalState, args []operand) (sheet.Value, error)

var builtins map[string]builtinFunc

func init() {
	builtins = map[string]builtinFunc{
		"SUM":      fnSum,
		"AVERAGE":  fnAverage,
		"COUNT":    fnCount,
		"MIN":      fnMin,
		"MAX":      fnMax,
		"IF":       fnIf,
		"ABS":      fnAbs,
		"ROUND":    fnRound,
		"SQRT":     fnSqrt,
		"AND":      fnAnd,
		"OR":       fnOr,
		"NOT":      fnNot,
		"LEN":      fnLen,
		"UPPER":    fnUpper,
		"LOWER":    fnLower,
		"LINSOLVE": fnLinsolve,
	}
}

func numArgs(args []operand) ([]float64, *sheet.Value) {
	values, errv := flatten(args, true)
	if errv != nil {
		return nil, errv
	}
	var nums []float64
	for _, v := range values {
		if len(v.Type) > 0 && v.Type[0] == 'n' {
			nums = append(nums, v.Num)
		}
	}
	return nums, nil
}

func fnSum(ev *evalState, args []operand) (sheet.Value, error) {
	nums, errv := numArgs(args)
	if errv != nil {
		return *errv, nil
	}
	total := 0.0
	for _, n := range nums {
		total += n
	}
	return sheet.NumValue(total), nil
}

func fnAverage(ev *evalState, args []operand) (sheet.Value, error) {
	nums, errv := numArgs(args)
	if errv != nil {
		return *errv, nil
	}
	if len(nums) == 0 {
		return sheet.ErrValue("#DIV/0!"), nil
	}
	total := 0.0
	for _, n := range nums {
		total += n
	}
	return sheet.NumValue(total / float64(len(nums))), nil
}

func fnCount(ev *evalState, args []operand) (sheet.Value, error) {
	nums, errv := numArgs(args)
	if errv != nil {
		return *errv, nil
	}
	return sheet.NumValue(float64(len(nums))), nil
}

func fnMin(ev *evalState, args []operand) (sheet.Value, error) {
	nums, errv := numArgs(args)
	if errv != nil {
		return *errv, nil
	}
	if len(nums) == 0 {
		return sheet.NumValue(0), nil
	}
	min := nums[0]
	for _, n := range nums[1:] {
		if n < min {
			min = n
		}
	}
	return sheet.NumValue(min), nil
}

func fnMax(ev *evalState, args []operand) (sheet.Value, error) {
	nums, errv := numArgs(args)
	if errv != nil {
		return *errv, nil
	}
	if len(nums) == 0 {
		return sheet.NumValue(0), nil
	}
	max := nums[0]
	for _, n := range nums[1:] {
		if n > max {
			max = n
		}
	}
	return sheet.NumValue(max), nil
}

func fnIf(ev *evalState, args []operand) (sheet.Value, error) {
	if len(args) < 2 || len(args) > 3 {
		return sheet.Value{}, argCountErr("IF", 3, len(args))
	}
	cond, errv := toNum(args[0])
	if errv != nil {
		return *errv, nil
	}
	if cond != 0 {
		return args[1].value, nil
	}
	if len(args) == 3 {
		return args[2].value, nil
	}
	return sheet.NumValue(0), nil
}

func fnAbs(ev *evalState, args []operand) (sheet.Value, error) {
	if len(args) != 1 {
		return sheet.Value{}, argCountErr("ABS", 1, len(args))
	}
	n, errv := toNum(args[0])
	if errv != nil {
		return *errv, nil
	}
	return sheet.NumValue(math.Abs(n)), nil
}

func fnRound(ev *evalState, args []operand) (sheet.Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return sheet.Value{}, argCountErr("ROUND", 2, len(args))
	}
	n, errv := toNum(args[0])
	if errv != nil {
		return *errv, nil
	}
	digits := 0.0
	if len(args) == 2 {
		digits, errv = toNum(args[1])
		if errv != nil {
			return *errv, nil
		}
	}
	scale := math.Pow(10, digits)
	return sheet.NumValue(math.Round(n*scale) / scale), nil
}

func fnSqrt(ev *evalState, args []operand) (sheet.Value, error) {
	if len(args) != 1 {
		return sheet.Value{}, argCountErr("SQRT", 1, len(args))
	}
	n, errv := toNum(args[0])
	if errv != nil {
		return *errv, nil
	}
	if n < 0 {
		return sheet.ErrValue("#NUM!"), nil
	}
	return sheet.NumValue(math.Sqrt(n)), nil
}

func fnAnd(ev *evalState, args []operand) (sheet.Value, error) {
	values, errv := flatten(args, true)
	if errv != nil {
		return *errv, nil
	}
	for _, v := range values {
		if v.Num == 0 {
			return boolNum(false), nil
		}
	}
	return boolNum(len(values) > 0), nil
}

func fnOr(ev *evalState, args []operand) (sheet.Value, error) {
	values, errv := flatten(args, true)
	if errv != nil {
		return *errv, nil
	}
	for _, v := range values {
		if v.Num != 0 {
			return boolNum(true), nil
		}
	}
	return boolNum(false), nil
}

func fnNot(ev *evalState, args []operand) (sheet.Value, error) {
	if len(args) != 1 {
		return sheet.Value{}, argCountErr("NOT", 1, len(args))
	}
	n, errv := toNum(args[0])
	if errv != nil {
		return *errv, nil
	}
	return boolNum(n == 0), nil
}

func fnLen(ev *evalState, args []operand) (sheet.Value, error) {
	if len(args) != 1 {
		return sheet.Value{}, argCountErr("LEN", 1, len(args))
	}
	s, errv := toStr(args[0])
	if errv != nil {
		return *errv, nil
	}
	return sheet.NumValue(float64(len([]rune(s)))), nil
}

func fnUpper(ev *evalState, args []operand) (sheet.Value, error) {
	if len(args) != 1 {
		return sheet.Value{}, argCountErr("UPPER", 1, len(args))
	}
	s, errv := toStr(args[0])
	if errv != nil {
		return *errv, nil
	}
	return sheet.StrValue(strings.ToUpper(s)), nil
}

func fnLower(ev *evalState, args []operand) (sheet.Value, error) {
	if len(args) != 1 {
		return sheet.Value{}, argCountErr("LOWER", 1, len(args))
	}
	s, errv := toStr(args[0])
	if errv != nil {
		return *errv, nil
	}
	return sheet.StrValue(strings.ToLower(s)), nil
}

// fnLinsolve fits ordinary least squares: LINSOLVE(yRange, x1Range, ...)
// returns the intercept of the fitted model. The normal-equation solve
// follows (X'X)^-1 X'y.
func fnLinsolve(ev *evalState, args []operand) (sheet.Value, error) {
	if len(args) < 2 {
		return sheet.Value{}, argCountErr("LINSOLVE", 2, len(args))
	}
	yDataSet, errv := rangeNums(args[0])
	if errv != nil {
		return *errv, nil
	}
	dataSize := len(yDataSet)
	if dataSize == 0 {
		return sheet.ErrValue("#VALUE!"), nil
	}

	ones := make([]float64, dataSize)
	for i := range ones {
		ones[i] = 1
	}
	xDataSets := [][]float64{ones}
	for _, arg := range args[1:] {
		xs, errv := rangeNums(arg)
		if errv != nil {
			return *errv, nil
		}
		if len(xs) != dataSize {
			return sheet.ErrValue("#VALUE!"), nil
		}
		xDataSets = append(xDataSets, xs)
	}

	Y := matrix.MakeDenseMatrixStacked([][]float64{yDataSet}).Transpose()
	X := matrix.MakeDenseMatrixStacked(xDataSets).Transpose()

	Xt := X.Transpose()
	XtX, err := Xt.Times(X)
	if err != nil {
		return sheet.ErrValue("#NUM!"), nil
	}
	XtY, err := Xt.Times(Y)
	if err != nil {
		return sheet.ErrValue("#NUM!"), nil
	}
	XtXi, err := XtX.DenseMatrix().Inverse()
	if err != nil {
		return sheet.ErrValue("#NUM!"), nil
	}
	B, err := XtXi.Times(XtY)
	if err != nil {
		return sheet.ErrValue("#NUM!"), nil
	}
	return sheet.NumValue(B.Get(0, 0)), nil
}

// rangeNums extracts the numeric values of a range argument, in order.
func rangeNums(arg operand) ([]float64, *sheet.Value) {
	if !arg.isRng {
		n, errv := toNum(arg)
		if errv != nil {
			return nil, errv
		}
		return []float64{n}, nil
	}
	var nums []float64
	for _, v := range arg.cells {
		if v.IsError() {
			e := v
			return nil, &e
		}
		if len(v.Type) > 0 && v.Type[0] == 'n' {
			nums = append(nums, v.Num)
		}
	}
	return nums, nil
}
