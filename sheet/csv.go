package sheet

import (
	"encoding/csv"
	"fmt"
	"regexp"
	"strings"

	"github.com/csimplestring/go-csv/detector"
)

var csvNumberRe = regexp.MustCompile(`^-?[0-9]\d*(\.\d+)?$`)

// ImportCSV loads delimited text into the sheet starting at a coordinate.
// The delimiter is sniffed from the data. The import runs through the
// command engine as a single batch, so it lands in the undo stack like any
// other edit.
func (s *Sheet) ImportCSV(data string, startCoord string) error {
	startCol, startRow, ok := ParseCoord(startCoord)
	if !ok {
		return fmt.Errorf("malformed coordinate %q", startCoord)
	}

	data = strings.ReplaceAll(data, "\r\n", "\n")
	data = strings.ReplaceAll(data, "\r", "\n")

	delimiter := ","
	candidates := detector.New().DetectDelimiter(strings.NewReader(data), '"')
	if len(candidates) > 0 {
		delimiter = candidates[0]
	}

	reader := csv.NewReader(strings.NewReader(data))
	reader.Comma = rune(delimiter[0])
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	records, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("parsing delimited data: %v", err)
	}

	var lines []string
	for r, record := range records {
		for c, field := range record {
			coord := CrToCoord(startCol+c, startRow+r)
			field = strings.TrimSpace(field)
			switch {
			case field == "":
				continue
			case csvNumberRe.MatchString(field):
				lines = append(lines, "set "+coord+" value n "+field)
			default:
				lines = append(lines, "set "+coord+" text t "+flattenCSVField(field))
			}
		}
	}
	if len(lines) == 0 {
		return nil
	}
	return s.ExecuteCommand(strings.Join(lines, "\n"), true)
}

// flattenCSVField makes a field safe to carry inside one command line.
func flattenCSVField(field string) string {
	return strings.ReplaceAll(field, "\n", " ")
}

// ExportCSV renders a range as RFC 4180 CSV using display values.
func (s *Sheet) ExportCSV(c1, r1, c2, r2 int) (string, error) {
	if c1 > c2 || r1 > r2 || c1 < 1 || r1 < 1 {
		return "", fmt.Errorf("malformed export range")
	}
	var b strings.Builder
	w := csv.NewWriter(&b)
	record := make([]string, c2-c1+1)
	for row := r1; row <= r2; row++ {
		for col := c1; col <= c2; col++ {
			record[col-c1] = s.DisplayValue(CrToCoord(col, row))
		}
		if err := w.Write(record); err != nil {
			return "", err
		}
	}
	w.Flush()
	return b.String(), w.Error()
}
