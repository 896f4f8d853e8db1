// Package excel imports catalog items from Excel or CSV files.
package excel

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/example/adaptivestudy/internal/catalog"
	"github.com/example/adaptivestudy/pkg/models"
)

// ImportConfig defines the import configuration
type ImportConfig struct {
	FilePath         string // Path to the Excel or CSV file
	IDColumn         string // Column with the item id
	LoColumn         string // Column with ";"-separated LO ids
	DifficultyColumn string // Column with the Rasch difficulty
	ThresholdsColumn string // Column with ";"-separated partial-credit steps, may be empty
	MedianColumn     string // Column with the median solve time in seconds
	SheetName        string // Name of the sheet to import
	StartRow         int    // The row to start importing from (1-based index)
}

// DefaultImportConfig returns the default import configuration
func DefaultImportConfig() ImportConfig {
	return ImportConfig{
		IDColumn:         "A",
		LoColumn:         "B",
		DifficultyColumn: "C",
		ThresholdsColumn: "D",
		MedianColumn:     "E",
		SheetName:        "Sheet1",
		StartRow:         2, // By default, start from the second row (skip header)
	}
}

// ItemStore receives imported items
type ItemStore interface {
	Upsert(ctx context.Context, item models.CandidateItem) (created bool, err error)
}

// ImportResult holds the result of an import operation
type ImportResult struct {
	TotalProcessed int
	Created        int
	Updated        int
	Skipped        int
	Errors         []string
}

// ImportItems imports items from an Excel or CSV file into store
func ImportItems(ctx context.Context, config ImportConfig, store ItemStore) (*ImportResult, error) {
	if strings.ToLower(filepath.Ext(config.FilePath)) == ".csv" {
		return importFromCSV(ctx, config, store)
	}
	return importFromExcel(ctx, config, store)
}

func importFromExcel(ctx context.Context, config ImportConfig, store ItemStore) (*ImportResult, error) {
	f, err := excelize.OpenFile(config.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(config.SheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}

	result := &ImportResult{Errors: make([]string, 0)}
	for i, row := range rows {
		if i < config.StartRow-1 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		processRow(ctx, row, config, store, result, i+1)
	}
	return result, nil
}

func importFromCSV(ctx context.Context, config ImportConfig, store ItemStore) (*ImportResult, error) {
	file, err := os.Open(config.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // Allow variable number of fields
	reader.TrimLeadingSpace = true

	result := &ImportResult{Errors: make([]string, 0)}
	rowNum := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return result, fmt.Errorf("error reading CSV: %w", err)
		}
		rowNum++
		if rowNum < config.StartRow {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		processRow(ctx, row, config, store, result, rowNum)
	}
	return result, nil
}

// processRow handles one row from any source. Blank rows are ignored.
func processRow(ctx context.Context, row []string, config ImportConfig, store ItemStore, result *ImportResult, rowNum int) {
	if isBlank(row) {
		return
	}
	result.TotalProcessed++

	item, err := parseItem(row, config)
	if err == nil {
		err = catalog.ValidateItem(item)
	}
	if err != nil {
		result.Skipped++
		result.Errors = append(result.Errors, fmt.Sprintf("Row %d: %v", rowNum, err))
		return
	}

	created, err := store.Upsert(ctx, item)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Row %d: %v", rowNum, err))
		return
	}
	if created {
		result.Created++
	} else {
		result.Updated++
	}
}

func parseItem(row []string, config ImportConfig) (models.CandidateItem, error) {
	item := models.CandidateItem{
		ID:    strings.TrimSpace(cell(row, config.IDColumn)),
		LoIDs: splitList(cell(row, config.LoColumn)),
	}

	difficulty, err := parseFinite(cell(row, config.DifficultyColumn))
	if err != nil {
		return item, fmt.Errorf("invalid difficulty %q", cell(row, config.DifficultyColumn))
	}
	item.Difficulty = difficulty

	median, err := parseFinite(cell(row, config.MedianColumn))
	if err != nil {
		return item, fmt.Errorf("invalid median time %q", cell(row, config.MedianColumn))
	}
	item.MedianTimeSeconds = median

	if config.ThresholdsColumn != "" {
		for _, s := range splitList(cell(row, config.ThresholdsColumn)) {
			v, err := parseFinite(s)
			if err != nil {
				return item, fmt.Errorf("invalid threshold %q", s)
			}
			item.Thresholds = append(item.Thresholds, v)
		}
	}
	return item, nil
}

// parseFinite parses a number and rejects NaN and infinities
func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return v, nil
}

func cell(row []string, column string) string {
	if column == "" {
		return ""
	}
	if idx := columnToIndex(column); idx >= 0 && idx < len(row) {
		return row[idx]
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Helper function to convert Excel column letter to index
func columnToIndex(column string) int {
	column = strings.ToUpper(column)
	index := 0
	for i := 0; i < len(column); i++ {
		index = index*26 + int(column[i]-'A'+1)
	}
	return index - 1
}
