package excel

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lmerkit/domain/epochs"
	"lmerkit/ports"

	"github.com/xuri/excelize/v2"
)

// DataReader handles reading Excel and CSV files into frames
type DataReader struct {
	// Sheet to read from workbooks; empty means the first sheet
	Sheet string
}

var _ ports.FrameReader = (*DataReader)(nil)

// NewDataReader creates a new data reader that handles both Excel and CSV files
func NewDataReader() *DataReader {
	return &DataReader{}
}

// ReadFrame reads a header row plus data rows from an .xlsx or .csv file
func (r *DataReader) ReadFrame(ctx context.Context, path string) (*epochs.Frame, error) {
	fileType := fileTypeOf(path)
	log.Printf("[DataReader] Starting to read %s file: %s", fileType, path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s file not found: %s", strings.ToUpper(fileType), path)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		rows [][]string
		err  error
	)
	switch fileType {
	case "csv":
		rows, err = r.readCSVRows(path)
	case "xlsx":
		rows, err = r.readExcelRows(path)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", fileType)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%s file must have at least a header row and one data row", strings.ToUpper(fileType))
	}
	return processRows(rows)
}

func fileTypeOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return "csv"
	case ".xlsx", ".xlsm":
		return "xlsx"
	default:
		return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
}

func (r *DataReader) readExcelRows(path string) ([][]string, error) {
	startTime := time.Now()
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheet := r.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook %s has no sheets", path)
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", sheet, err)
	}
	log.Printf("[DataReader] %s read in %.2fms (%d rows)", sheet, float64(time.Since(startTime).Nanoseconds())/1e6, len(rows))
	return rows, nil
}

func (r *DataReader) readCSVRows(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	readStart := time.Now()
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	log.Printf("[DataReader] CSV file read in %.2fms (%d rows)", float64(time.Since(readStart).Nanoseconds())/1e6, len(rows))
	return rows, nil
}

// processRows trims cells and pads rows that excelize returned short
// (trailing empty cells are omitted by GetRows)
func processRows(rows [][]string) (*epochs.Frame, error) {
	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
	}

	data := make([][]string, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		if len(rows[i]) > len(headers) {
			return nil, fmt.Errorf("row %d has %d cells but the header has %d", i+1, len(rows[i]), len(headers))
		}
		row := make([]string, len(headers))
		for j, cell := range rows[i] {
			row[j] = strings.TrimSpace(cell)
		}
		data = append(data, row)
	}

	log.Printf("[DataReader] file processed (%d columns, %d rows)", len(headers), len(data))
	return epochs.NewFrame(headers, data)
}
