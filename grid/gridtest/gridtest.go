// Package gridtest provides an in-memory grid.Provider for use in tests.
package gridtest

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.gridsync.dev/core/grid"
)

// Provider is an in-memory grid.Provider. Spreadsheets are registered with
// Add and retrieved by ID. The zero value is ready to use.
type Provider struct {
	mu     sync.Mutex
	sheets map[string]*Spreadsheet
}

// NewProvider returns an empty Provider.
func NewProvider() *Provider {
	return &Provider{sheets: make(map[string]*Spreadsheet)}
}

// Add registers and returns a Spreadsheet under |id|.
func (p *Provider) Add(id string) *Spreadsheet {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ss = &Spreadsheet{id: id, tabs: make(map[string]*Worksheet)}
	p.sheets[id] = ss
	return ss
}

// Open implements grid.Provider.
func (p *Provider) Open(_ context.Context, id string) (grid.Spreadsheet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ss, ok := p.sheets[id]; ok {
		return ss, nil
	}
	return nil, errors.Errorf("no such spreadsheet %q", id)
}

// Spreadsheet is an in-memory grid.Spreadsheet.
type Spreadsheet struct {
	mu   sync.Mutex
	id   string
	tabs map[string]*Worksheet
}

// AddTab registers and returns a Worksheet titled |title| with the given
// initial cells.
func (s *Spreadsheet) AddTab(title string, cells [][]string) *Worksheet {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ws = &Worksheet{title: title}
	for _, r := range cells {
		ws.cells = append(ws.cells, append([]string(nil), r...))
	}
	s.tabs[title] = ws
	return ws
}

// ID implements grid.Spreadsheet.
func (s *Spreadsheet) ID() string { return s.id }

// Worksheet implements grid.Spreadsheet. It returns (nil, nil) for a title
// which hasn't been registered, matching the "absent tab" contract.
func (s *Spreadsheet) Worksheet(_ context.Context, title string) (grid.Worksheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ws, ok := s.tabs[title]; ok {
		return ws, nil
	}
	return nil, nil
}

// Worksheet is an in-memory grid.Worksheet. Failure injection hooks allow
// tests to exercise retry and interruption behaviors:
//
//   - ReadErrs / AppendErrs / UpdateErrs are popped one at a time and
//     returned ahead of performing the operation.
//   - FailAfterAppend, when set, causes every Update to fail. It simulates a
//     crash after a destination append but before a dedup-state commit.
type Worksheet struct {
	mu    sync.Mutex
	title string
	cells [][]string
	cols  int

	ReadErrs        []error
	AppendErrs      []error
	UpdateErrs      []error
	FailAfterAppend bool

	// Appends records the row count of each successful Append call.
	Appends []int
}

// Title implements grid.Worksheet.
func (w *Worksheet) Title() string { return w.title }

// Dims implements grid.Worksheet.
func (w *Worksheet) Dims(context.Context) (int, int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.cells), w.colsLocked(), nil
}

func (w *Worksheet) colsLocked() int {
	var cols = w.cols
	for _, r := range w.cells {
		if len(r) > cols {
			cols = len(r)
		}
	}
	return cols
}

// Read implements grid.Worksheet.
func (w *Worksheet) Read(_ context.Context, fromRow, toRow, toCol int) ([][]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := pop(&w.ReadErrs); err != nil {
		return nil, err
	}
	var out [][]string
	for r := fromRow; r <= toRow && r <= len(w.cells); r++ {
		var row = w.cells[r-1]
		if len(row) > toCol {
			row = row[:toCol]
		}
		out = append(out, append([]string(nil), row...))
	}
	return out, nil
}

// Append implements grid.Worksheet.
func (w *Worksheet) Append(_ context.Context, rows [][]string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := pop(&w.AppendErrs); err != nil {
		return err
	}
	for _, r := range rows {
		w.cells = append(w.cells, append([]string(nil), r...))
	}
	w.Appends = append(w.Appends, len(rows))
	return nil
}

// Update implements grid.Worksheet.
func (w *Worksheet) Update(_ context.Context, updates []grid.CellUpdate) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.FailAfterAppend {
		return errors.New("injected update failure")
	}
	if err := pop(&w.UpdateErrs); err != nil {
		return err
	}
	for _, u := range updates {
		w.growLocked(u.Row, u.Col)
		w.cells[u.Row-1][u.Col-1] = u.Value
	}
	return nil
}

// EnsureCapacity implements grid.Worksheet.
func (w *Worksheet) EnsureCapacity(_ context.Context, rows, cols int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.growLocked(rows, cols)
	return nil
}

// Rows returns a deep copy of the worksheet's current cells.
func (w *Worksheet) Rows() [][]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out [][]string
	for _, r := range w.cells {
		out = append(out, append([]string(nil), r...))
	}
	return out
}

// SetCell overwrites a single cell, growing the worksheet as needed.
func (w *Worksheet) SetCell(row, col int, value string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.growLocked(row, col)
	w.cells[row-1][col-1] = value
}

func (w *Worksheet) growLocked(rows, cols int) {
	for len(w.cells) < rows {
		w.cells = append(w.cells, nil)
	}
	if cols > w.cols {
		w.cols = cols
	}
	for i := range w.cells {
		for len(w.cells[i]) < w.cols {
			w.cells[i] = append(w.cells[i], "")
		}
	}
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	var err = (*errs)[0]
	*errs = (*errs)[1:]
	return err
}
