package sheet_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsheet/gridsheet/sheet"
)

func TestRecalcEvaluatesDependenciesFirstAndOnce(t *testing.T) {
	s := newTestSheet()
	var steps []string
	s.StatusCallback = func(sh *sheet.Sheet, status string, arg interface{}) {
		if status == sheet.StatusCalcStep {
			steps = append(steps, arg.(string))
		}
	}
	// C1 depends on B1 which depends on A1; row-major root order would
	// visit B1 first either way, so also check the count
	exec(t, s, "set A1 value n 5\nset B1 formula A1+1\nset C1 formula B1+1\nrecalc")

	assert.Equal(t, []string{"B1", "C1"}, steps, "dependencies first, each formula exactly once")
	assert.Equal(t, 6.0, s.GetCell("B1").DataNum)
	assert.Equal(t, 7.0, s.GetCell("C1").DataNum)
}

func TestRecalcRangeDependency(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "set A1 value n 1\nset A2 value n 2\nset A3 formula A1+A2\nset B1 formula SUM(A1:A3)\nrecalc")
	assert.Equal(t, 3.0, s.GetCell("A3").DataNum)
	assert.Equal(t, 6.0, s.GetCell("B1").DataNum, "the range pulls the inner formula in first")
}

func TestCircularReferenceIsContained(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "set A1 formula B1\nset B1 formula C1\nset C1 formula A1\nset D1 formula 1+1\nrecalc")

	assert.Equal(t, "circular reference", s.GetCell("A1").Errors)
	assert.Equal(t, "circular reference", s.GetCell("C1").Errors)
	assert.NotEmpty(t, s.Attribs.CircularReferenceCell)
	assert.Contains(t, s.Attribs.CircularReferenceCell, "|")

	assert.Equal(t, 2.0, s.GetCell("D1").DataNum, "one bad cycle does not poison unrelated chains")
	assert.Empty(t, s.GetCell("D1").Errors)
}

func TestRecalcClearsStaleCircularFlag(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "set A1 formula B1\nset B1 formula A1\nrecalc")
	require.NotEmpty(t, s.Attribs.CircularReferenceCell)

	exec(t, s, "set B1 value n 3\nrecalc")
	assert.Empty(t, s.Attribs.CircularReferenceCell)
	assert.Equal(t, 3.0, s.GetCell("A1").DataNum)
	assert.Empty(t, s.GetCell("A1").Errors)
}

func TestRecalcDeepDependencyChain(t *testing.T) {
	s := newTestSheet()
	const depth = 300
	var b strings.Builder
	for i := 1; i <= depth; i++ {
		fmt.Fprintf(&b, "set A%d formula A%d+1\n", i, i+1)
	}
	fmt.Fprintf(&b, "set A%d value n 1\nrecalc", depth+1)
	exec(t, s, b.String())

	assert.Equal(t, float64(depth+1), s.GetCell("A1").DataNum,
		"every link of a long chain is ordered before its dependent")
	assert.Equal(t, 2.0, s.GetCell(fmt.Sprintf("A%d", depth)).DataNum)
	assert.False(t, s.RecalcNeeded())
	assert.Empty(t, s.GetCell("A1").Errors)
}

func TestStepRecalcHonorsSliceBudget(t *testing.T) {
	s := newTestSheet()
	s.DeferRecalc = true
	var b strings.Builder
	for i := 1; i <= 40; i++ {
		fmt.Fprintf(&b, "set A%d value n %d\nset B%d formula A%d*2\n", i, i, i, i)
	}
	b.WriteString("recalc")
	exec(t, s, b.String())

	yields := 0
	for s.StepRecalcBudget(time.Nanosecond) == sheet.RecalcContinue {
		yields++
	}
	assert.Greater(t, yields, 0, "a nanosecond budget yields before finishing")
	for i := 1; i <= 40; i++ {
		assert.Equal(t, float64(2*i), s.GetCell(fmt.Sprintf("B%d", i)).DataNum)
	}
	assert.False(t, s.RecalcNeeded())
}

func TestCrossSheetWaitAndDeliver(t *testing.T) {
	s := newTestSheet()
	s.DeferRecalc = true
	exec(t, s, "set A1 formula Data!B1+1\nrecalc")

	res := s.StepRecalc()
	assert.Equal(t, sheet.RecalcWaiting, res)

	other := newTestSheet()
	require.NoError(t, other.ExecuteCommand("set B1 value n 41", true))
	s.DeliverSheet("Data", other)

	for s.StepRecalc() == sheet.RecalcContinue {
	}
	assert.Equal(t, sheet.RecalcDone, s.StepRecalc())
	assert.Equal(t, 42.0, s.GetCell("A1").DataNum)
}

func TestCrossSheetSynchronousLoader(t *testing.T) {
	other := newTestSheet()
	require.NoError(t, other.ExecuteCommand("set B1 value n 10", true))

	s := newTestSheet()
	s.Loader = func(name string) *sheet.Sheet {
		if name == "Data" {
			return other
		}
		return nil
	}
	exec(t, s, "set A1 formula Data!B1*2\nrecalc")
	assert.Equal(t, 20.0, s.GetCell("A1").DataNum)
}

func TestRecalcOffSkipsRecalc(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "set sheet recalc off\nset A1 formula 1+1\nrecalc")
	assert.Equal(t, 0.0, s.GetCell("A1").DataNum)
	assert.True(t, s.RecalcNeeded())

	exec(t, s, "set sheet recalc on\nrecalc")
	assert.Equal(t, 2.0, s.GetCell("A1").DataNum)
}

func TestDeferredRecalcOnlyStartsScheduler(t *testing.T) {
	s := newTestSheet()
	s.DeferRecalc = true
	exec(t, s, "set A1 formula 1+2\nrecalc")
	assert.Equal(t, 0.0, s.GetCell("A1").DataNum, "deferred recalc does no work inside the command")

	for s.StepRecalc() == sheet.RecalcContinue {
	}
	assert.Equal(t, 3.0, s.GetCell("A1").DataNum)
	assert.False(t, s.RecalcNeeded())
}

func TestValueChangeMarksNeedsRecalc(t *testing.T) {
	s := newTestSheet()
	exec(t, s, "set A1 formula B1+1\nrecalc")
	assert.False(t, s.RecalcNeeded())

	exec(t, s, "set B1 value n 5")
	assert.True(t, s.RecalcNeeded(), "dependents of the changed cell are stale")
}

func TestStepRecalcIdleIsDone(t *testing.T) {
	s := newTestSheet()
	assert.Equal(t, sheet.RecalcDone, s.StepRecalc())
}
