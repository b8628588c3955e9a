package excel

// DefaultSheet is the worksheet read from and written to by default.
const DefaultSheet = "Sheet1"

// RawRowData represents a row of raw spreadsheet data keyed by lower-case header
type RawRowData map[string]string

// ExcelData represents the complete spreadsheet dataset
type ExcelData struct {
	Headers []string     // Column headers
	Rows    []RawRowData // Data rows
}
