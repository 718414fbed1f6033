// Package sheets implements the grid abstraction over the Google Sheets API.
package sheets

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"

	"go.gridsync.dev/core/grid"
)

// Provider is a grid.Provider backed by the Sheets API.
type Provider struct {
	svc *sheets.Service
}

// NewProvider builds a Provider from service-account credentials JSON.
func NewProvider(ctx context.Context, credentialsJSON []byte) (*Provider, error) {
	creds, err := google.CredentialsFromJSON(ctx, credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, errors.WithMessage(err, "parsing service account credentials")
	}
	svc, err := sheets.NewService(ctx, option.WithTokenSource(creds.TokenSource))
	if err != nil {
		return nil, errors.WithMessage(err, "building sheets service")
	}
	return &Provider{svc: svc}, nil
}

// Open implements grid.Provider. It fetches worksheet metadata of the
// spreadsheet in a single call; individual worksheets are then resolved
// locally.
func (p *Provider) Open(ctx context.Context, id string) (grid.Spreadsheet, error) {
	resp, err := p.svc.Spreadsheets.Get(id).
		Fields("sheets.properties").
		Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	var ss = &spreadsheet{svc: p.svc, id: id, tabs: make(map[string]*worksheet)}
	for _, sh := range resp.Sheets {
		if sh.Properties == nil {
			continue
		}
		var ws = &worksheet{
			svc:     p.svc,
			ssID:    id,
			sheetID: sh.Properties.SheetId,
			title:   sh.Properties.Title,
		}
		if gp := sh.Properties.GridProperties; gp != nil {
			ws.rows, ws.cols = int(gp.RowCount), int(gp.ColumnCount)
		}
		ss.tabs[sh.Properties.Title] = ws
	}
	return ss, nil
}

type spreadsheet struct {
	svc  *sheets.Service
	id   string
	tabs map[string]*worksheet
}

func (s *spreadsheet) ID() string { return s.id }

func (s *spreadsheet) Worksheet(_ context.Context, title string) (grid.Worksheet, error) {
	if ws, ok := s.tabs[title]; ok {
		return ws, nil
	}
	return nil, nil
}

type worksheet struct {
	svc        *sheets.Service
	ssID       string
	sheetID    int64
	title      string
	rows, cols int
}

func (w *worksheet) Title() string { return w.title }

func (w *worksheet) Dims(context.Context) (int, int, error) {
	return w.rows, w.cols, nil
}

func (w *worksheet) Read(ctx context.Context, fromRow, toRow, toCol int) ([][]string, error) {
	var rng = w.rangeRef(fromRow, 1, toRow, toCol)
	resp, err := w.svc.Spreadsheets.Values.Get(w.ssID, rng).
		ValueRenderOption("UNFORMATTED_VALUE").
		Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	var out = make([][]string, 0, len(resp.Values))
	for _, row := range resp.Values {
		var cells = make([]string, 0, len(row))
		for _, v := range row {
			cells = append(cells, cellString(v))
		}
		out = append(out, cells)
	}
	return out, nil
}

func (w *worksheet) Append(ctx context.Context, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	var values = make([][]interface{}, 0, len(rows))
	for _, r := range rows {
		var row = make([]interface{}, 0, len(r))
		for _, c := range r {
			row = append(row, c)
		}
		values = append(values, row)
	}
	var _, err = w.svc.Spreadsheets.Values.
		Append(w.ssID, w.quotedTitle(), &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	return err
}

func (w *worksheet) Update(ctx context.Context, updates []grid.CellUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	var data = make([]*sheets.ValueRange, 0, len(updates))
	for _, u := range updates {
		data = append(data, &sheets.ValueRange{
			Range:  fmt.Sprintf("%s!%s", w.quotedTitle(), grid.CellRef(u.Row, u.Col)),
			Values: [][]interface{}{{u.Value}},
		})
	}
	var _, err = w.svc.Spreadsheets.Values.
		BatchUpdate(w.ssID, &sheets.BatchUpdateValuesRequest{
			ValueInputOption: "RAW",
			Data:             data,
		}).
		Context(ctx).Do()
	return err
}

func (w *worksheet) EnsureCapacity(ctx context.Context, rows, cols int) error {
	if rows <= w.rows && cols <= w.cols {
		return nil
	}
	if rows < w.rows {
		rows = w.rows
	}
	if cols < w.cols {
		cols = w.cols
	}
	var _, err = w.svc.Spreadsheets.
		BatchUpdate(w.ssID, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{{
				UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
					Properties: &sheets.SheetProperties{
						SheetId: w.sheetID,
						GridProperties: &sheets.GridProperties{
							RowCount:    int64(rows),
							ColumnCount: int64(cols),
						},
					},
					Fields: "gridProperties(rowCount,columnCount)",
				},
			}},
		}).
		Context(ctx).Do()
	if err == nil {
		w.rows, w.cols = rows, cols
	}
	return err
}

// rangeRef formats an A1 range qualified by the worksheet title.
func (w *worksheet) rangeRef(fromRow, fromCol, toRow, toCol int) string {
	return fmt.Sprintf("%s!%s", w.quotedTitle(), grid.RangeRef(fromRow, fromCol, toRow, toCol))
}

// quotedTitle single-quotes the title for A1 notation, as titles routinely
// contain spaces and parentheses.
func (w *worksheet) quotedTitle() string {
	return "'" + strings.ReplaceAll(w.title, "'", "''") + "'"
}

func cellString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
