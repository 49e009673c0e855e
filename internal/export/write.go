package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
)

const timeLayout = "2006-01-02T15:04:05Z07:00"

// WriteCSV writes a header line followed by one line per row. Keys missing
// from a row are written empty; keys not in headers are ignored.
func WriteCSV(w io.Writer, headers []string, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(headers))
	for _, row := range rows {
		for i, h := range headers {
			record[i] = FormatValue(row[h])
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// FormatValue renders a cell. Times are ISO-8601, dates YYYY-MM-DD.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.Itoa(boolInt(x))
	case time.Time:
		return x.Format(timeLayout)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// WriteXLSX renders the same table as a single-sheet workbook.
func WriteXLSX(headers []string, rows []Row) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, fmt.Errorf("header cell %d: %w", i+1, err)
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, fmt.Errorf("set %s: %w", cell, err)
		}
	}
	for r, row := range rows {
		for c, h := range headers {
			v, ok := row[h]
			if !ok || v == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return nil, fmt.Errorf("cell %d,%d: %w", c+1, r+2, err)
			}
			if err := f.SetCellValue(sheet, cell, xlsxValue(v)); err != nil {
				return nil, fmt.Errorf("set %s: %w", cell, err)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

func xlsxValue(v any) any {
	switch v.(type) {
	case string, int, int64, float64:
		return v
	default:
		return FormatValue(v)
	}
}
