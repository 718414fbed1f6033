package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.gridsync.dev/core/flow"
	"go.gridsync.dev/core/grid"
	"go.gridsync.dev/core/grid/gridtest"
	"go.gridsync.dev/core/retry"
	"go.gridsync.dev/core/state"
)

func testUnit(t *testing.T, strategy flow.Strategy, cells [][]string) (Unit, *gridtest.Worksheet) {
	var spec = &flow.Spec{
		Name:        "test-flow",
		Tab:         "TAB",
		HeaderDepth: 3,
		Required:    []int{2, 3},
		Mapping:     map[int]int{1: 1, 3: 2},
		Strategy:    strategy,
		FlagColumn:  5,
	}
	require.NoError(t, spec.Validate())

	var ss = gridtest.NewProvider().Add("src-1")
	var ws = ss.AddTab("TAB", cells)
	return Unit{SourceID: "src-1", Flow: spec, Sheet: ws}, ws
}

func testConfig() Config {
	return Config{
		TailWindowRows: 100,
		KeyTailSize:    16,
		Retry:          retry.Policy{Base: time.Microsecond, Max: time.Millisecond, Attempts: 3},
	}
}

func fixtureCells() [][]string {
	return [][]string{
		{"h1"}, {"h2"}, {"h3"},
		{"x", "a", "b"},
		{"y", "", "c"},
		{"z", "d", "e"},
	}
}

func rowAt(cells [][]string, position int) grid.Row {
	return grid.Row{Position: position, Cells: cells[position-1]}
}

func TestCursorResumeAdvancesWithCommits(t *testing.T) {
	var ctx = context.Background()
	var unit, _ = testUnit(t, flow.CursorStrategy, fixtureCells())
	var store = state.NewMemoryStore()

	s, err := New(unit, store, testConfig())
	require.NoError(t, err)
	require.Equal(t, "cursor", s.Name())

	// First run starts at the flow's data start.
	from, to, err := s.Resume(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, from)
	require.Equal(t, 6, to)

	// FilterUnseen is the identity for cursors.
	var rows = []grid.Row{rowAt(fixtureCells(), 4)}
	filtered, err := s.FilterUnseen(ctx, rows)
	require.NoError(t, err)
	require.Equal(t, rows, filtered)

	require.NoError(t, s.Commit(ctx, 6, rows))

	// Next resume continues past the committed position.
	from, to, err = s.Resume(ctx)
	require.NoError(t, err)
	require.Equal(t, 7, from)
	require.Equal(t, 6, to) // to < from: nothing to scan.
}

func TestCursorNeverRegresses(t *testing.T) {
	var ctx = context.Background()
	var unit, _ = testUnit(t, flow.CursorStrategy, fixtureCells())
	var store = state.NewMemoryStore()

	s, err := New(unit, store, testConfig())
	require.NoError(t, err)

	require.NoError(t, s.Commit(ctx, 6, nil))
	require.NoError(t, s.Commit(ctx, 4, nil))

	from, _, err := s.Resume(ctx)
	require.NoError(t, err)
	require.Equal(t, 7, from)
}

func TestRowFlagFilterAndCommit(t *testing.T) {
	var ctx = context.Background()
	var unit, ws = testUnit(t, flow.RowFlagStrategy, fixtureCells())

	s, err := New(unit, state.NewMemoryStore(), testConfig())
	require.NoError(t, err)
	require.Equal(t, "rowflag", s.Name())

	from, to, err := s.Resume(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, from)
	require.Equal(t, 6, to)

	// Resume stamped the flag header into the row above data start.
	require.Equal(t, "__SYNCED_test-flow", ws.Rows()[2][4])

	var rows = []grid.Row{rowAt(fixtureCells(), 4), rowAt(fixtureCells(), 6)}
	filtered, err := s.FilterUnseen(ctx, rows)
	require.NoError(t, err)
	require.Len(t, filtered, 2)

	require.NoError(t, s.Commit(ctx, 6, filtered))

	// Flag cells were written onto the source rows.
	require.Equal(t, "1", ws.Rows()[3][4])
	require.Equal(t, "1", ws.Rows()[5][4])

	// Re-reading the rows now filters them out.
	var reread = []grid.Row{
		{Position: 4, Cells: ws.Rows()[3]},
		{Position: 6, Cells: ws.Rows()[5]},
	}
	filtered, err = s.FilterUnseen(ctx, reread)
	require.NoError(t, err)
	require.Empty(t, filtered)
}

func TestRowFlagTailWindowBound(t *testing.T) {
	var cells = [][]string{{"h1"}, {"h2"}, {"h3"}}
	for i := 0; i != 50; i++ {
		cells = append(cells, []string{"x", "a", "b"})
	}
	var unit, _ = testUnit(t, flow.RowFlagStrategy, cells)

	var cfg = testConfig()
	cfg.TailWindowRows = 10

	s, err := New(unit, state.NewMemoryStore(), cfg)
	require.NoError(t, err)

	from, to, err := s.Resume(context.Background())
	require.NoError(t, err)
	require.Equal(t, 53, to)
	require.Equal(t, 44, from) // last 10 rows only.
}

func TestRowFlagCommitFailureIsNotFatal(t *testing.T) {
	var ctx = context.Background()
	var unit, ws = testUnit(t, flow.RowFlagStrategy, fixtureCells())

	s, err := New(unit, state.NewMemoryStore(), testConfig())
	require.NoError(t, err)

	_, _, err = s.Resume(ctx)
	require.NoError(t, err)

	// Destination appends already succeeded; a failing flag write only
	// leaves re-candidates for the next run.
	ws.FailAfterAppend = true
	require.NoError(t, s.Commit(ctx, 6, []grid.Row{rowAt(fixtureCells(), 4)}))
	require.Equal(t, "", ws.Rows()[3][4])
}

func TestKeyIndexFilterCommitAndReload(t *testing.T) {
	var ctx = context.Background()
	var unit, _ = testUnit(t, flow.KeyIndexStrategy, fixtureCells())
	var store = state.NewMemoryStore()

	s, err := New(unit, store, testConfig())
	require.NoError(t, err)
	require.Equal(t, "keyindex", s.Name())

	from, to, err := s.Resume(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, from)
	require.Equal(t, 6, to)

	var rows = []grid.Row{rowAt(fixtureCells(), 4), rowAt(fixtureCells(), 6)}
	filtered, err := s.FilterUnseen(ctx, rows)
	require.NoError(t, err)
	require.Len(t, filtered, 2)

	require.NoError(t, s.Commit(ctx, 6, filtered))

	// The same identities are now dropped, including when a non-identity
	// column was edited.
	var edited = []grid.Row{
		{Position: 4, Cells: []string{"EDITED", "a", "b"}},
		{Position: 6, Cells: []string{"z", "d", "e"}},
	}
	filtered, err = s.FilterUnseen(ctx, edited)
	require.NoError(t, err)
	require.Empty(t, filtered)

	// A fresh strategy over the same store reloads the tail and still
	// filters them: state survives process restarts.
	s2, err := New(unit, store, testConfig())
	require.NoError(t, err)
	_, _, err = s2.Resume(ctx)
	require.NoError(t, err)
	filtered, err = s2.FilterUnseen(ctx, edited)
	require.NoError(t, err)
	require.Empty(t, filtered)
}

func TestKeyIndexFallsBackToDurableIndexBeyondTail(t *testing.T) {
	var ctx = context.Background()
	var unit, _ = testUnit(t, flow.KeyIndexStrategy, fixtureCells())
	var store = state.NewMemoryStore()

	// Tail cache of size 1: only the most recent hash stays in memory.
	var cfg = testConfig()
	cfg.KeyTailSize = 1

	s, err := New(unit, store, cfg)
	require.NoError(t, err)
	_, _, err = s.Resume(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Commit(ctx, 6,
		[]grid.Row{rowAt(fixtureCells(), 4), rowAt(fixtureCells(), 6)}))

	// Row 4 rotated out of the tail, but the durable index still holds it.
	filtered, err := s.FilterUnseen(ctx, []grid.Row{rowAt(fixtureCells(), 4)})
	require.NoError(t, err)
	require.Empty(t, filtered)
}

func TestKeyIndexDuplicatesWithinBatchAllPass(t *testing.T) {
	var ctx = context.Background()
	var unit, _ = testUnit(t, flow.KeyIndexStrategy, fixtureCells())
	var store = state.NewMemoryStore()

	s, err := New(unit, store, testConfig())
	require.NoError(t, err)
	_, _, err = s.Resume(ctx)
	require.NoError(t, err)

	// Two rows of one batch share identity values: both pass, as seen-ness
	// is recorded only at Commit.
	var twins = []grid.Row{
		{Position: 4, Cells: []string{"x", "a", "b"}},
		{Position: 5, Cells: []string{"other", "a", "b"}},
	}
	filtered, err := s.FilterUnseen(ctx, twins)
	require.NoError(t, err)
	require.Len(t, filtered, 2)

	// After Commit the shared identity is deduplicated.
	require.NoError(t, s.Commit(ctx, 5, filtered))
	filtered, err = s.FilterUnseen(ctx, twins)
	require.NoError(t, err)
	require.Empty(t, filtered)
}

func TestNewRejectsUnknownStrategy(t *testing.T) {
	var unit, _ = testUnit(t, flow.CursorStrategy, fixtureCells())
	unit.Flow.Strategy = "bogus"

	var _, err = New(unit, state.NewMemoryStore(), testConfig())
	require.Error(t, err)
}
