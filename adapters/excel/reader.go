package excel

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"alphabias/domain/sample"
)

// Column names of a sample file. The weight column is optional.
const (
	MassColumn   = "mass"
	WeightColumn = "weight"
)

// DataReader handles reading Excel and CSV files
type DataReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
	sheet    string
}

// NewDataReader creates a new data reader that handles both Excel and CSV files
func NewDataReader(filePath string) *DataReader {
	ext := strings.ToLower(filepath.Ext(filePath))
	fileType := "xlsx"
	if ext == ".csv" {
		fileType = "csv"
	}
	return &DataReader{filePath: filePath, fileType: fileType, sheet: DefaultSheet}
}

// WithSheet selects the worksheet read from xlsx files.
func (r *DataReader) WithSheet(sheet string) *DataReader {
	if sheet != "" {
		r.sheet = sheet
	}
	return r
}

// ReadData reads data from Excel or CSV files into structured format
func (r *DataReader) ReadData() (*ExcelData, error) {
	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s file not found: %s", strings.ToUpper(r.fileType), r.filePath)
	}

	switch r.fileType {
	case "csv":
		return r.readCSVData()
	case "xlsx":
		return r.readExcelData()
	default:
		return nil, fmt.Errorf("unsupported file type: %s", r.fileType)
	}
}

// readExcelData reads the configured sheet into structured format
func (r *DataReader) readExcelData() (*ExcelData, error) {
	startTime := time.Now()
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(r.sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", r.sheet, err)
	}
	log.Printf("[DataReader] %s read in %.2fms (%d rows)", r.filePath, float64(time.Since(startTime).Nanoseconds())/1e6, len(rows))

	if len(rows) < 1 {
		return nil, fmt.Errorf("Excel file must have a header row")
	}
	return r.processRows(rows)
}

// readCSVData reads CSV data into structured format
func (r *DataReader) readCSVData() (*ExcelData, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	readStart := time.Now()
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	log.Printf("[DataReader] %s read in %.2fms (%d rows)", r.filePath, float64(time.Since(readStart).Nanoseconds())/1e6, len(rows))

	if len(rows) < 1 {
		return nil, fmt.Errorf("CSV file must have a header row")
	}
	return r.processRows(rows)
}

// processRows converts raw string rows into ExcelData format
func (r *DataReader) processRows(rows [][]string) (*ExcelData, error) {
	headerRow := rows[0]
	headers := make([]string, len(headerRow))
	for i, header := range headerRow {
		headers[i] = strings.ToLower(strings.TrimSpace(header))
	}

	dataRows := make([]RawRowData, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if blank(row) {
			continue
		}
		rowData := make(RawRowData, len(headers))
		for j, cell := range row {
			if j < len(headers) {
				rowData[headers[j]] = strings.TrimSpace(cell)
			}
		}
		dataRows = append(dataRows, rowData)
	}

	return &ExcelData{Headers: headers, Rows: dataRows}, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// ReadDataset reads a mass column and an optional weight column into a dataset.
// Files without a weight column give unit-weight data.
func (r *DataReader) ReadDataset(name string) (*sample.Dataset, error) {
	data, err := r.ReadData()
	if err != nil {
		return nil, err
	}
	if !data.HasColumn(MassColumn) {
		return nil, fmt.Errorf("%s: no %q column in %v", r.filePath, MassColumn, data.Headers)
	}
	values, err := data.Floats(MassColumn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.filePath, err)
	}
	if !data.HasColumn(WeightColumn) {
		return sample.New(name, values), nil
	}
	weights, err := data.Floats(WeightColumn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.filePath, err)
	}
	return sample.NewWeighted(name, values, weights), nil
}

// HasColumn reports whether the header row names column.
func (d *ExcelData) HasColumn(column string) bool {
	for _, h := range d.Headers {
		if h == column {
			return true
		}
	}
	return false
}

// Floats parses column as float64 values, one per row.
func (d *ExcelData) Floats(column string) ([]float64, error) {
	out := make([]float64, len(d.Rows))
	for i, row := range d.Rows {
		v, err := strconv.ParseFloat(row[column], 64)
		if err != nil {
			// header is row 1
			return nil, fmt.Errorf("row %d, column %s: %w", i+2, column, err)
		}
		out[i] = v
	}
	return out, nil
}
