package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"go.gridsync.dev/core/flow"
	"go.gridsync.dev/core/grid/gridtest"
	"go.gridsync.dev/core/state"
)

// sourceFixture is one source spreadsheet with its flow tab's cells.
// A fixture with noTab set registers the spreadsheet without the flow's tab.
type sourceFixture struct {
	id    string
	cells [][]string
	noTab bool
}

type fixture struct {
	provider *gridtest.Provider
	store    *state.MemoryStore
	dest     *gridtest.Worksheet
	tabs     map[string]*gridtest.Worksheet
	cfg      *Config
	flows    []flow.Spec
}

func testFlow(strategy flow.Strategy) flow.Spec {
	return flow.Spec{
		Name:        "test-flow",
		Tab:         "TAB",
		HeaderDepth: 3,
		Required:    []int{2, 3},
		Mapping:     map[int]int{1: 1, 3: 2},
		Identity:    []int{2, 3},
		Strategy:    strategy,
		FlagColumn:  30,
	}
}

// scenarioCells is the concrete scenario of the engine's contract: data
// starts at row 4; row 5 is invalid (missing its third column).
func scenarioCells() [][]string {
	return [][]string{
		{"h1"}, {"h2"}, {"h3"},
		{"x", "a", "b"},
		{"y", "", "c"},
		{"z", "d", "e"},
	}
}

func newFixture(t *testing.T, strategy flow.Strategy, sources []sourceFixture) *fixture {
	var f = &fixture{
		provider: gridtest.NewProvider(),
		store:    state.NewMemoryStore(),
		tabs:     make(map[string]*gridtest.Worksheet),
		flows:    []flow.Spec{testFlow(strategy)},
	}

	var master = f.provider.Add("master")
	f.dest = master.AddTab("Tickets", nil)

	var registry = [][]string{{"Name", "Locator"}}
	for _, src := range sources {
		registry = append(registry, []string{"", src.id})
		var ss = f.provider.Add(src.id)
		if !src.noTab {
			f.tabs[src.id] = ss.AddTab("TAB", src.cells)
		}
	}
	master.AddTab("Source", registry)

	f.cfg = &Config{
		Master:         "master",
		TicketsTab:     "Tickets",
		SourceTab:      "Source",
		Strategy:       string(strategy),
		FlagColumn:     30,
		TailWindowRows: 100,
		PageRows:       3000,
		BatchRows:      500,
		KeyTailSize:    100,
		MasterWidthMin: 16,
		BackoffBase:    time.Microsecond,
		BackoffMax:     time.Millisecond,
		RetryAttempts:  3,
		TotalShards:    1,
	}
	require.NoError(t, f.cfg.Validate())
	return f
}

func (f *fixture) run(t *testing.T) map[string]Counts {
	var runner = &Runner{Provider: f.provider, Store: f.store, Flows: f.flows, Config: f.cfg}
	results, err := runner.Run(context.Background())
	require.NoError(t, err)
	return results
}

// appended returns destination rows which hold data, skipping capacity
// padding rows.
func (f *fixture) appended() [][]string {
	var out [][]string
	for _, row := range f.dest.Rows() {
		for _, c := range row {
			if c != "" {
				out = append(out, row)
				break
			}
		}
	}
	return out
}

var allStrategies = []flow.Strategy{
	flow.CursorStrategy, flow.RowFlagStrategy, flow.KeyIndexStrategy,
}

func TestScenarioFirstRun(t *testing.T) {
	for _, strategy := range allStrategies {
		t.Run(string(strategy), func(t *testing.T) {
			var f = newFixture(t, strategy, []sourceFixture{{id: "src-1", cells: scenarioCells()}})
			var results = f.run(t)

			require.Equal(t, Counts{Scanned: 3, Appended: 2}, results["test-flow"])

			var rows = f.appended()
			require.Len(t, rows, 2)
			// Row 4 mirrored as A->A, C->B; row 5 skipped; row 6 mirrored.
			require.Equal(t, "x", rows[0][0])
			require.Equal(t, "b", rows[0][1])
			require.Equal(t, "z", rows[1][0])
			require.Equal(t, "e", rows[1][1])
		})
	}
}

func TestWidthPadding(t *testing.T) {
	var f = newFixture(t, flow.KeyIndexStrategy, []sourceFixture{{id: "src-1", cells: scenarioCells()}})
	f.run(t)

	for _, row := range f.appended() {
		require.Len(t, row, 16)
		for _, c := range row[2:] {
			require.Equal(t, "", c)
		}
	}
}

func TestIdempotence(t *testing.T) {
	for _, strategy := range allStrategies {
		t.Run(string(strategy), func(t *testing.T) {
			var f = newFixture(t, strategy, []sourceFixture{{id: "src-1", cells: scenarioCells()}})

			var first = f.run(t)
			require.Equal(t, 2, first["test-flow"].Appended)

			// With no new source data, a second run appends nothing.
			var second = f.run(t)
			require.Equal(t, 0, second["test-flow"].Appended)
			require.Len(t, f.appended(), 2)
		})
	}
}

func TestEditToleranceOfNonIdentityFields(t *testing.T) {
	for _, strategy := range allStrategies {
		t.Run(string(strategy), func(t *testing.T) {
			var f = newFixture(t, strategy, []sourceFixture{{id: "src-1", cells: scenarioCells()}})
			f.run(t)

			// Mutate a non-identity column of an already-mirrored row.
			f.tabs["src-1"].SetCell(4, 1, "EDITED")

			var second = f.run(t)
			require.Equal(t, 0, second["test-flow"].Appended)
			require.Len(t, f.appended(), 2)
		})
	}
}

func TestInvalidRowCompletedLater(t *testing.T) {
	// Policy: invalid rows are never marked seen. Once an edit fills the
	// missing required field, tail-window strategies pick the row up.
	for _, strategy := range []flow.Strategy{flow.RowFlagStrategy, flow.KeyIndexStrategy} {
		t.Run(string(strategy), func(t *testing.T) {
			var f = newFixture(t, strategy, []sourceFixture{{id: "src-1", cells: scenarioCells()}})
			f.run(t)
			require.Len(t, f.appended(), 2)

			f.tabs["src-1"].SetCell(5, 2, "filled")

			var second = f.run(t)
			require.Equal(t, 1, second["test-flow"].Appended)
			require.Len(t, f.appended(), 3)
		})
	}

	// Cursor seen-ness is purely positional: the completed row sits below
	// the cursor and is never re-read.
	t.Run("cursor", func(t *testing.T) {
		var f = newFixture(t, flow.CursorStrategy, []sourceFixture{{id: "src-1", cells: scenarioCells()}})
		f.run(t)

		f.tabs["src-1"].SetCell(5, 2, "filled")

		var second = f.run(t)
		require.Equal(t, 0, second["test-flow"].Appended)
	})
}

func TestCursorResumesAcrossRuns(t *testing.T) {
	var f = newFixture(t, flow.CursorStrategy, []sourceFixture{{id: "src-1", cells: scenarioCells()}})
	f.run(t)

	// New rows appear; only they are scanned and mirrored.
	f.tabs["src-1"].SetCell(7, 1, "n")
	f.tabs["src-1"].SetCell(7, 2, "ew")
	f.tabs["src-1"].SetCell(7, 3, "row")

	var second = f.run(t)
	require.Equal(t, 1, second["test-flow"].Appended)

	var rows = f.appended()
	require.Len(t, rows, 3)
	require.Equal(t, "n", rows[2][0])
	require.Equal(t, "row", rows[2][1])
}

func TestBatchingPreservesSourceOrder(t *testing.T) {
	var cells = [][]string{{"h1"}, {"h2"}, {"h3"}}
	for i := 0; i != 10; i++ {
		cells = append(cells, []string{string(rune('a' + i)), "k", "v"})
	}
	var f = newFixture(t, flow.KeyIndexStrategy, []sourceFixture{{id: "src-1", cells: cells}})
	f.cfg.PageRows = 3
	f.cfg.BatchRows = 4

	var results = f.run(t)
	require.Equal(t, Counts{Scanned: 10, Appended: 10}, results["test-flow"])

	var rows = f.appended()
	require.Len(t, rows, 10)
	for i, row := range rows {
		require.Equal(t, string(rune('a'+i)), row[0])
	}
	// Multiple batches were appended.
	require.True(t, len(f.dest.Appends) > 1)
}

func TestInterruptedRunDoesNotDuplicate(t *testing.T) {
	// A run which committed its batch but was then interrupted (unit budget
	// of one unit) re-scans those rows next run and filters all of them.
	for _, strategy := range []flow.Strategy{flow.RowFlagStrategy, flow.KeyIndexStrategy} {
		t.Run(string(strategy), func(t *testing.T) {
			var f = newFixture(t, strategy, []sourceFixture{
				{id: "src-1", cells: scenarioCells()},
				{id: "src-2", cells: scenarioCells()},
			})
			f.cfg.MaxUnits = 1

			var first = f.run(t)
			require.Equal(t, 2, first["test-flow"].Appended)

			f.cfg.MaxUnits = 0
			f.run(t)
			// src-1's rows were re-scanned but dropped; src-2 contributed its own.
			require.Len(t, f.appended(), 4)
		})
	}
}

func TestBaselineAdoptsWithoutImporting(t *testing.T) {
	for _, strategy := range allStrategies {
		t.Run(string(strategy), func(t *testing.T) {
			var f = newFixture(t, strategy, []sourceFixture{{id: "src-1", cells: scenarioCells()}})
			f.cfg.Baseline = true

			var first = f.run(t)
			require.Equal(t, 3, first["test-flow"].Scanned)
			require.Equal(t, 0, first["test-flow"].Appended)
			require.Empty(t, f.appended())

			// A later normal run mirrors only rows added after the baseline.
			f.cfg.Baseline = false
			f.tabs["src-1"].SetCell(7, 1, "n")
			f.tabs["src-1"].SetCell(7, 2, "ew")
			f.tabs["src-1"].SetCell(7, 3, "row")

			var second = f.run(t)
			require.Equal(t, 1, second["test-flow"].Appended)
		})
	}
}

func TestUnitFailureDoesNotAbortSiblings(t *testing.T) {
	var f = newFixture(t, flow.KeyIndexStrategy, []sourceFixture{
		{id: "src-bad", cells: scenarioCells()},
		{id: "src-good", cells: scenarioCells()},
	})
	// Non-retryable read failures exhaust src-bad's unit.
	f.tabs["src-bad"].ReadErrs = []error{
		errors.New("no such range"),
		errors.New("no such range"),
		errors.New("no such range"),
	}

	var results = f.run(t)
	require.Equal(t, 2, results["test-flow"].Appended)
	require.Len(t, f.appended(), 2)
}

func TestMissingSourceTabIsTerminal(t *testing.T) {
	var f = newFixture(t, flow.KeyIndexStrategy, []sourceFixture{
		{id: "src-no-tab", noTab: true},
	})

	var results = f.run(t)
	require.Equal(t, Counts{}, results["test-flow"])

	// The unit was marked terminal: the next run skips it entirely.
	_, absent, err := f.store.GetCursor(context.Background(), "src-no-tab/test-flow#absent")
	require.NoError(t, err)
	require.True(t, absent)

	results = f.run(t)
	require.Equal(t, Counts{}, results["test-flow"])
}

func TestZeroSourcesIsSuccessfulNoOp(t *testing.T) {
	var f = newFixture(t, flow.RowFlagStrategy, nil)
	var results = f.run(t)
	require.Empty(t, results)
	require.Empty(t, f.appended())
}

func TestTimeBudgetStopsCleanly(t *testing.T) {
	var f = newFixture(t, flow.KeyIndexStrategy, []sourceFixture{{id: "src-1", cells: scenarioCells()}})
	f.cfg.TimeBudget = time.Nanosecond

	var results = f.run(t)
	require.Equal(t, 0, results["test-flow"].Appended)
	require.Empty(t, f.appended())

	// State is consistent: a follow-up unbudgeted run mirrors everything.
	f.cfg.TimeBudget = 0
	results = f.run(t)
	require.Equal(t, 2, results["test-flow"].Appended)
}

func TestShardPartition(t *testing.T) {
	var sources = []string{"s0", "s1", "s2", "s3", "s4"}

	var seen = make(map[string]int)
	for index := 0; index != 3; index++ {
		for _, s := range shard(sources, 3, index) {
			seen[s]++
		}
	}
	// The union over all shards is the full set, exactly once each.
	require.Len(t, seen, len(sources))
	for _, n := range seen {
		require.Equal(t, 1, n)
	}

	require.Equal(t, sources, shard(sources, 1, 0))
}

func TestShardedRunsProcessDisjointSources(t *testing.T) {
	var sources = []sourceFixture{
		{id: "s0", cells: scenarioCells()},
		{id: "s1", cells: scenarioCells()},
		{id: "s2", cells: scenarioCells()},
	}

	var f = newFixture(t, flow.KeyIndexStrategy, sources)
	f.cfg.TotalShards = 2

	f.cfg.ShardIndex = 0
	var first = f.run(t)
	require.Equal(t, 4, first["test-flow"].Appended) // s0 and s2.

	f.cfg.ShardIndex = 1
	var second = f.run(t)
	require.Equal(t, 2, second["test-flow"].Appended) // s1.

	require.Len(t, f.appended(), 6)
}
