package sheet

import (
	"fmt"
	"strings"
	"time"
)

// The recalculation scheduler. Ordering and evaluation are cooperatively
// time-sliced: StepRecalc does a bounded amount of work and returns, so a
// host can keep an event loop responsive without threads. State lives in
// an explicit object and resumes from explicit pointers.

// RecalcResult reports what a scheduler step left behind.
type RecalcResult int

const (
	// RecalcContinue: the slice budget ran out; call StepRecalc again.
	RecalcContinue RecalcResult = iota
	// RecalcDone: recalculation finished (or none was running).
	RecalcDone
	// RecalcWaiting: blocked on an externally loaded sheet; call
	// DeliverSheet, then StepRecalc.
	RecalcWaiting
)

const (
	calcStateIdle = iota
	calcStateStartCalc
	calcStateOrder
	calcStateCalc
	calcStateStartWait
	calcStateDoneWait
)

// chainItem is one link of the calc chain, the singly linked evaluation
// order. Memory is proportional to formula count, not sheet size.
type chainItem struct {
	coord string
	next  *chainItem
}

const (
	orderUnvisited uint8 = iota
	orderInProgress
	orderDone
)

type recalcState struct {
	state int

	roots   []string
	rootPos int

	// tri-state arena; index assigns each visited coordinate an arena slot
	arena []uint8
	index map[string]int

	chainFirst *chainItem
	chainLast  *chainItem
	chainLen   int
	evalPtr    *chainItem

	circCells  map[string]bool
	waitingFor string
}

// defaultSliceBudget is how long one StepRecalc may run before yielding.
const defaultSliceBudget = 100 * time.Millisecond

// RecalcNeeded reports whether a recalculation has been requested and not
// yet run.
func (s *Sheet) RecalcNeeded() bool { return s.Attribs.NeedsRecalc }

// StartRecalc begins a new recalculation, superseding any in flight.
func (s *Sheet) StartRecalc() {
	s.recalc = &recalcState{
		state:     calcStateStartCalc,
		index:     make(map[string]int),
		circCells: make(map[string]bool),
	}
}

// DeliverSheet hands the scheduler an externally loaded sheet it is
// waiting for, and registers it for future cross-sheet references.
func (s *Sheet) DeliverSheet(name string, other *Sheet) {
	s.RegisterSheet(name, other)
	rs := s.recalc
	if rs != nil && rs.state == calcStateStartWait && upperName(name) == rs.waitingFor {
		rs.state = calcStateDoneWait
	}
}

// StepRecalc runs one time slice of the scheduler.
func (s *Sheet) StepRecalc() RecalcResult {
	return s.stepRecalc(defaultSliceBudget)
}

// StepRecalcBudget runs one slice with an explicit budget.
func (s *Sheet) StepRecalcBudget(budget time.Duration) RecalcResult {
	if budget <= 0 {
		budget = defaultSliceBudget
	}
	return s.stepRecalc(budget)
}

func (s *Sheet) stepRecalc(budget time.Duration) RecalcResult {
	rs := s.recalc
	if rs == nil || rs.state == calcStateIdle {
		return RecalcDone
	}
	deadline := time.Now().Add(budget)

	for {
		switch rs.state {
		case calcStateStartCalc:
			s.statuscb(StatusCalcStart, nil)
			s.Attribs.CircularReferenceCell = ""
			rs.roots = s.formulaCoords()
			rs.state = calcStateOrder

		case calcStateOrder:
			for rs.rootPos < len(rs.roots) {
				root := rs.roots[rs.rootPos]
				rs.rootPos++
				s.orderVisit(rs, root)
				s.statuscb(StatusCalcOrder, root)
				if time.Now().After(deadline) {
					return RecalcContinue
				}
			}
			rs.evalPtr = rs.chainFirst
			rs.state = calcStateCalc

		case calcStateCalc:
			for rs.evalPtr != nil {
				wait := s.evalChainCell(rs, rs.evalPtr.coord)
				if wait != "" {
					// try a synchronous load first
					if s.Loader != nil {
						if other := s.Loader(wait); other != nil {
							s.RegisterSheet(wait, other)
							continue
						}
					}
					rs.waitingFor = upperName(wait)
					rs.state = calcStateStartWait
					return RecalcWaiting
				}
				s.statuscb(StatusCalcStep, rs.evalPtr.coord)
				rs.evalPtr = rs.evalPtr.next
				if time.Now().After(deadline) {
					return RecalcContinue
				}
			}
			s.statuscb(StatusCalcCheckDone, nil)
			s.Attribs.NeedsRecalc = false
			rs.state = calcStateIdle
			s.statuscb(StatusCalcFinished, rs.chainLen)
			return RecalcDone

		case calcStateStartWait:
			return RecalcWaiting

		case calcStateDoneWait:
			rs.waitingFor = ""
			rs.state = calcStateCalc
		}
	}
}

// RecalcSheet drives the scheduler to completion synchronously. It fails
// if the scheduler ends up waiting on a sheet no loader can provide.
func (s *Sheet) RecalcSheet() error {
	s.StartRecalc()
	for {
		switch s.StepRecalc() {
		case RecalcDone:
			return nil
		case RecalcWaiting:
			return fmt.Errorf("recalc is waiting for sheet %q", s.recalc.waitingFor)
		}
	}
}

// formulaCoords lists all formula cells in row-major order, the ordering
// scan's roots.
func (s *Sheet) formulaCoords() []string {
	var roots []string
	for _, coord := range s.sortedCellCoords() {
		if s.Cells[coord].DataType == CellTypeFormula {
			roots = append(roots, coord)
		}
	}
	return roots
}

func (rs *recalcState) slot(coord string) int {
	if i, ok := rs.index[coord]; ok {
		return i
	}
	i := len(rs.arena)
	rs.index[coord] = i
	rs.arena = append(rs.arena, orderUnvisited)
	return i
}

func (rs *recalcState) appendChain(coord string) {
	item := &chainItem{coord: coord}
	if rs.chainLast == nil {
		rs.chainFirst = item
	} else {
		rs.chainLast.next = item
	}
	rs.chainLast = item
	rs.chainLen++
}

// orderFrame is one pending coordinate on the ordering walk's work stack.
type orderFrame struct {
	coord   string
	slot    int
	formula bool
	deps    []string
	pos     int
}

func (s *Sheet) newOrderFrame(rs *recalcState, coord string, slot int) *orderFrame {
	rs.arena[slot] = orderInProgress
	f := &orderFrame{coord: coord, slot: slot}
	if cell := s.Cells[coord]; cell != nil && cell.DataType == CellTypeFormula {
		f.formula = true
		f.deps = s.dependencies(s.parseFormula(cell), 0)
	}
	return f
}

// orderVisit is the depth-first ordering walk, run over an explicit work
// stack so chain depth is bounded by cell count, not the Go stack. A
// coordinate is appended to the calc chain once every dependency is
// complete. Revisiting an in-progress coordinate means a cycle: the
// revisited cell and the cell that closed the cycle are both flagged, the
// pair is recorded on the sheet, and the walk continues so one bad cycle
// degrades one chain, not the whole recalculation.
func (s *Sheet) orderVisit(rs *recalcState, coord string) {
	i := rs.slot(coord)
	if rs.arena[i] != orderUnvisited {
		return
	}
	stack := []*orderFrame{s.newOrderFrame(rs, coord, i)}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		if f.pos < len(f.deps) {
			dep := f.deps[f.pos]
			f.pos++
			j := rs.slot(dep)
			switch rs.arena[j] {
			case orderInProgress:
				s.flagCircular(rs, f.coord, dep)
			case orderUnvisited:
				stack = append(stack, s.newOrderFrame(rs, dep, j))
			}
			continue
		}
		rs.arena[f.slot] = orderDone
		if f.formula {
			rs.appendChain(f.coord)
		}
		stack = stack[:len(stack)-1]
	}
}

func (s *Sheet) flagCircular(rs *recalcState, from, to string) {
	if s.Attribs.CircularReferenceCell == "" {
		s.Attribs.CircularReferenceCell = from + "|" + to
	}
	rs.circCells[from] = true
	rs.circCells[to] = true
}

// dependencies extracts the local coordinates a token stream references,
// expanding ranges (clamped to the sheet bounds) and names. Cross-sheet
// references are not dependencies of this sheet's ordering; their values
// are read at evaluation time.
func (s *Sheet) dependencies(tokens []Token, nameDepth int) []string {
	var deps []string
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch tok.Type {
		case TokenCoord:
			if tok.Sheet != "" {
				continue
			}
			// a coord ':' coord run is a range
			if i+2 < len(tokens) && tokens[i+1].Type == TokenOp && tokens[i+1].Text == ":" &&
				tokens[i+2].Type == TokenCoord && tokens[i+2].Sheet == "" {
				deps = append(deps, s.rangeCells(tok.Text, tokens[i+2].Text)...)
				i += 2
				continue
			}
			deps = append(deps, normalizeCoord(tok.Text))
		case TokenName:
			if nameDepth > 16 {
				continue
			}
			def, ok := s.LookupName(tok.Text)
			if !ok {
				continue
			}
			if strings.HasPrefix(def.Definition, "=") {
				if s.Parser != nil {
					sub := s.Parser.ParseFormulaIntoTokens(def.Definition[1:])
					deps = append(deps, s.dependencies(sub, nameDepth+1)...)
				}
				continue
			}
			if c1, r1, c2, r2, ok := ParseRange(def.Definition); ok {
				deps = append(deps, s.rangeCells(CrToCoord(c1, r1), CrToCoord(c2, r2))...)
			}
		}
	}
	return deps
}

// rangeCells expands a rectangle to the coordinates that can hold content,
// bounded by the sheet's live area.
func (s *Sheet) rangeCells(from, to string) []string {
	c1, r1, c2, r2, ok := ParseRange(from + ":" + to)
	if !ok {
		return nil
	}
	if c2 > s.Attribs.LastCol {
		c2 = s.Attribs.LastCol
	}
	if r2 > s.Attribs.LastRow {
		r2 = s.Attribs.LastRow
	}
	var cells []string
	for row := r1; row <= r2; row++ {
		for col := c1; col <= c2; col++ {
			cells = append(cells, CrToCoord(col, row))
		}
	}
	return cells
}

// evalChainCell evaluates one chain cell, storing the value only when it
// actually changed. A non-empty return names a sheet evaluation is
// blocked on.
func (s *Sheet) evalChainCell(rs *recalcState, coord string) (waitFor string) {
	cell := s.Cells[coord]
	if cell == nil || cell.DataType != CellTypeFormula {
		return ""
	}
	if rs.circCells[coord] {
		cell.Errors = "circular reference"
		v := ErrValue("#CIRC!")
		if cell.Value() != v {
			cell.SetValue(v)
		}
		return ""
	}
	if s.Evaluator == nil {
		cell.Errors = "no evaluator configured"
		return ""
	}
	tokens := s.parseFormula(cell)
	v, err := s.Evaluator.EvaluateParsedFormula(tokens, s, true)
	if err != nil {
		var sue *SheetUnavailableError
		if ok := asSheetUnavailable(err, &sue); ok {
			return sue.Name
		}
		cell.Errors = err.Error()
		v = ErrValue("#VALUE!")
	} else if v.IsError() {
		cell.Errors = v.Str
	} else {
		cell.Errors = ""
	}
	if cell.Value() != v {
		cell.SetValue(v)
	}
	return ""
}

func asSheetUnavailable(err error, target **SheetUnavailableError) bool {
	if sue, ok := err.(*SheetUnavailableError); ok {
		*target = sue
		return true
	}
	return false
}
