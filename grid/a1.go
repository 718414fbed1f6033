package grid

import "fmt"

// ColumnLetter converts a 1-based column index to its A1-notation letters
// (1 => "A", 26 => "Z", 27 => "AA").
func ColumnLetter(col int) string {
	var s string
	for col > 0 {
		col--
		s = string(rune('A'+col%26)) + s
		col /= 26
	}
	return s
}

// RangeRef formats an A1-notation range over the inclusive rectangle
// [fromRow, toRow] x [fromCol, toCol].
func RangeRef(fromRow, fromCol, toRow, toCol int) string {
	return fmt.Sprintf("%s%d:%s%d",
		ColumnLetter(fromCol), fromRow, ColumnLetter(toCol), toRow)
}

// CellRef formats the A1-notation reference of a single cell.
func CellRef(row, col int) string {
	return fmt.Sprintf("%s%d", ColumnLetter(col), row)
}
