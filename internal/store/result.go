package store

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"time"
)

// KindMessage marks a result that only carries an informational message
const KindMessage = "message"

// Result is a tabular query result shared by every execution path
type Result struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
	Kind    string   `json:"kind,omitempty"`
}

// Message builds a single-cell result holding text
func Message(text string) *Result {
	return &Result{
		Columns: []string{"message"},
		Rows:    [][]any{{text}},
		Kind:    KindMessage,
	}
}

func (r *Result) IsMessage() bool {
	return r != nil && r.Kind == KindMessage
}

func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Text returns the message of a message result
func (r *Result) Text() string {
	if !r.IsMessage() || len(r.Rows) == 0 || len(r.Rows[0]) == 0 {
		return ""
	}
	return Cell(r.Rows[0][0])
}

// Head returns a copy limited to the first n rows
func (r *Result) Head(n int) *Result {
	if n < 0 || n > len(r.Rows) {
		n = len(r.Rows)
	}
	rows := make([][]any, n)
	copy(rows, r.Rows[:n])
	return &Result{Columns: r.Columns, Rows: rows, Kind: r.Kind}
}

// ColumnIndex returns the position of name, or -1
func (r *Result) ColumnIndex(name string) int {
	for i, c := range r.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// NumericColumns returns columns whose non-null values are all numbers.
// Columns with no values at all are not numeric.
func (r *Result) NumericColumns() []string {
	var out []string
	for i, name := range r.Columns {
		seen := false
		numeric := true
		for _, row := range r.Rows {
			if i >= len(row) || row[i] == nil {
				continue
			}
			seen = true
			if _, ok := ToFloat(row[i]); !ok {
				numeric = false
				break
			}
		}
		if seen && numeric {
			out = append(out, name)
		}
	}
	return out
}

// Float returns the values of a column as float64, skipping non-numeric cells
func (r *Result) Float(column string) []float64 {
	idx := r.ColumnIndex(column)
	if idx < 0 {
		return nil
	}
	out := make([]float64, 0, len(r.Rows))
	for _, row := range r.Rows {
		if idx >= len(row) {
			continue
		}
		if f, ok := ToFloat(row[idx]); ok {
			out = append(out, f)
		}
	}
	return out
}

// Strings returns the values of a column formatted as text
func (r *Result) Strings(column string) []string {
	idx := r.ColumnIndex(column)
	if idx < 0 {
		return nil
	}
	out := make([]string, 0, len(r.Rows))
	for _, row := range r.Rows {
		if idx < len(row) {
			out = append(out, Cell(row[idx]))
		} else {
			out = append(out, "")
		}
	}
	return out
}

// WriteCSV writes the header and every row as CSV
func (r *Result) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(r.Columns); err != nil {
		return err
	}
	record := make([]string, len(r.Columns))
	for _, row := range r.Rows {
		for i := range record {
			if i < len(row) {
				record[i] = Cell(row[i])
			} else {
				record[i] = ""
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ToFloat converts the numeric types returned by the SQL drivers to float64
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case *big.Int:
		if n == nil {
			return 0, false
		}
		f, _ := new(big.Float).SetInt(n).Float64()
		return f, true
	case interface{ Float64() float64 }:
		return n.Float64(), true
	}
	return 0, false
}

// Cell formats a value for display and CSV output
func Cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case time.Time:
		return x.Format(time.RFC3339)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}

// ScanRows reads every row into a Result. []byte values become strings.
func ScanRows(rows *sql.Rows) (*Result, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}

	result := &Result{Columns: columns, Rows: [][]any{}}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range columns {
		valuePtrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row %d: %w", len(result.Rows), err)
		}
		row := make([]any, len(columns))
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				row[i] = string(b)
			} else {
				row[i] = v
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return result, nil
}
