package excel

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"lmerkit/domain/lmer"
	"lmerkit/ports"

	"github.com/xuri/excelize/v2"
)

// coefHeader precedes the channel columns of a saved coefficient table
var coefHeader = []string{"time", "model", "param", "key"}

const scratchSheet = "_lmerkit_scratch"

// WorkbookStore saves coefficient tables as sheets of an .xlsx workbook.
// Saving to an existing sheet replaces it; other sheets are kept.
type WorkbookStore struct{}

var (
	_ ports.TableSink   = (*WorkbookStore)(nil)
	_ ports.TableSource = (*WorkbookStore)(nil)
)

// NewWorkbookStore creates a workbook sink/source
func NewWorkbookStore() *WorkbookStore {
	return &WorkbookStore{}
}

// Save writes the table to target.Group inside target.Path
func (s *WorkbookStore) Save(ctx context.Context, target lmer.Target, table *lmer.CoefTable) error {
	header := stringCells(coefHeader...)
	header = append(header, stringCells(table.Channels...)...)

	rows := make([][]interface{}, len(table.Rows))
	for i, r := range table.Rows {
		cells := make([]interface{}, 0, len(header))
		cells = append(cells, r.Time, r.Model, r.Param, string(r.Key))
		for _, v := range r.Values {
			cells = append(cells, cellValue(v))
		}
		rows[i] = cells
	}
	return writeSheet(ctx, target, header, rows)
}

// SaveAICs writes an AIC comparison as one row per (time, model, channel)
func (s *WorkbookStore) SaveAICs(ctx context.Context, target lmer.Target, aics *lmer.AICTable) error {
	header := stringCells("time", "model", "channel", "AIC", "min_delta", "has_warning")
	rows := make([][]interface{}, len(aics.Rows))
	for i, r := range aics.Rows {
		rows[i] = []interface{}{r.Time, r.Model, r.Channel, cellValue(r.AIC), cellValue(r.MinDelta), r.HasWarning}
	}
	return writeSheet(ctx, target, header, rows)
}

// SaveDFBetas writes DFBETAS as one row per (time, param, level) with a column per channel
func (s *WorkbookStore) SaveDFBetas(ctx context.Context, target lmer.Target, d *lmer.DFBetasTable) error {
	header := stringCells("time", "param", d.Factor)
	header = append(header, stringCells(d.Channels...)...)
	rows := make([][]interface{}, len(d.Rows))
	for i, r := range d.Rows {
		cells := []interface{}{r.Time, r.Param, r.Level}
		for _, v := range r.Values {
			cells = append(cells, cellValue(v))
		}
		rows[i] = cells
	}
	return writeSheet(ctx, target, header, rows)
}

func writeSheet(ctx context.Context, target lmer.Target, header []interface{}, rows [][]interface{}) error {
	if err := target.Validate(); err != nil {
		return err
	}
	f, err := openOrCreate(target.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := resetSheet(f, target.Group); err != nil {
		return err
	}
	if err := f.SetSheetRow(target.Group, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, cells := range rows {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(target.Group, cell, &cells); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SaveAs(target.Path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", target.Path, err)
	}
	return nil
}

func stringCells(values ...string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// Load reads a table previously written by Save
func (s *WorkbookStore) Load(ctx context.Context, target lmer.Target) (*lmer.CoefTable, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	f, err := excelize.OpenFile(target.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(target.Group, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", target.Group, err)
	}
	return parseCoefRows(rows)
}

func parseCoefRows(rows [][]string) (*lmer.CoefTable, error) {
	if len(rows) == 0 || len(rows[0]) <= len(coefHeader) {
		return nil, fmt.Errorf("sheet has no coefficient header")
	}
	for i, h := range coefHeader {
		if rows[0][i] != h {
			return nil, fmt.Errorf("column %d is %q, want %q", i+1, rows[0][i], h)
		}
	}
	channels := rows[0][len(coefHeader):]
	table := lmer.NewCoefTable(channels)

	for i, row := range rows[1:] {
		if len(row) < len(coefHeader) {
			return nil, fmt.Errorf("row %d is truncated", i+2)
		}
		tm, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad time %q", i+2, row[0])
		}
		values := make([]float64, len(channels))
		for j := range values {
			values[j] = math.NaN()
			if k := len(coefHeader) + j; k < len(row) && strings.TrimSpace(row[k]) != "" {
				if values[j], err = strconv.ParseFloat(strings.TrimSpace(row[k]), 64); err != nil {
					return nil, fmt.Errorf("row %d: bad value %q", i+2, row[k])
				}
			}
		}
		if err := table.Append(lmer.Row{
			Time: tm, Model: row[1], Param: row[2], Key: lmer.StatKey(row[3]), Values: values,
		}); err != nil {
			return nil, err
		}
	}
	return table, nil
}

// cellValue leaves NaN cells empty and spells infinities so they read back
func cellValue(v float64) interface{} {
	switch {
	case math.IsNaN(v):
		return ""
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return v
}

func openOrCreate(path string) (*excelize.File, error) {
	if _, err := os.Stat(path); err == nil {
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open Excel file: %w", err)
		}
		return f, nil
	}
	return excelize.NewFile(), nil
}

// resetSheet makes sheet empty and active, dropping the default sheet of a new workbook
func resetSheet(f *excelize.File, sheet string) error {
	idx, err := f.GetSheetIndex(sheet)
	if err != nil {
		return fmt.Errorf("invalid sheet name %q: %w", sheet, err)
	}
	if idx >= 0 {
		// a workbook keeps at least one sheet, so park on a scratch sheet while replacing
		if _, err := f.NewSheet(scratchSheet); err != nil {
			return err
		}
		if err := f.DeleteSheet(sheet); err != nil {
			return err
		}
	}
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create sheet %q: %w", sheet, err)
	}
	if idx >= 0 {
		if err := f.DeleteSheet(scratchSheet); err != nil {
			return err
		}
	}
	if sheet != "Sheet1" && f.Path == "" {
		if i, _ := f.GetSheetIndex("Sheet1"); i >= 0 {
			if err := f.DeleteSheet("Sheet1"); err != nil {
				return err
			}
		}
	}
	if idx, err = f.GetSheetIndex(sheet); err != nil {
		return err
	}
	f.SetActiveSheet(idx)
	return nil
}
