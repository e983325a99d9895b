package validation

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	ingestmetrics "github.com/armadaproject/eventloader/internal/common/ingest/metrics"
	"github.com/armadaproject/eventloader/internal/eventloader/metrics"
	"github.com/armadaproject/eventloader/internal/eventloader/model"
)

// ReadFile reads every data row of a delimited event file. Rows that cannot be read structurally are returned with
// ParseErr set so that they are quarantined rather than aborting the file.
func ReadFile(path string, name string) ([]model.RawRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	return ReadRows(name, f)
}

// ReadRows reads rows from r, one physical line per row. The first line is the header; values are keyed by header
// column name. Each line is parsed on its own, so an unbalanced quote only quarantines the line it appears on.
// Quoted fields cannot span lines. Blank lines are skipped and an empty input yields no rows.
func ReadRows(name string, r io.Reader) ([]model.RawRow, error) {
	lines := bufio.NewReader(r)

	headerLine, err := readLine(lines)
	if err == io.EOF && headerLine == "" {
		return nil, nil
	}
	if err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "reading header of %s", name)
	}
	// A header that cannot be parsed has no usable columns, which quarantines every row below it.
	header, _ := parseLine(strings.TrimPrefix(headerLine, byteOrderMark))
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}
	missing := missingColumns(header)

	var rows []model.RawRow
	lineNum := 1
	for err != io.EOF {
		var line string
		line, err = readLine(lines)
		if err != nil && err != io.EOF {
			return nil, errors.Wrapf(err, "reading %s", name)
		}
		lineNum++
		if line == "" {
			continue
		}

		row := model.RawRow{
			File: name,
			Line: lineNum,
			Raw:  line,
		}
		record, parseErr := parseLine(line)
		switch {
		case parseErr != nil:
			metrics.Get().RecordSourceError(ingestmetrics.SourceErrorParse)
			row.ParseErr = parseErr
		case len(missing) > 0:
			row.ParseErr = errors.Errorf("header is missing columns %v", missing)
		case len(record) != len(header):
			row.ParseErr = errors.Errorf("expected %d fields, got %d", len(header), len(record))
		default:
			row.Values = make(map[string]string, len(header))
			for i, column := range header {
				row.Values[column] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

const byteOrderMark = "\ufeff"

// readLine returns the next line without its terminator. The final line need not end with a newline.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	return strings.TrimRight(line, "\r\n"), err
}

// parseLine splits a single line into fields.
func parseLine(line string) ([]string, error) {
	reader := csv.NewReader(strings.NewReader(line))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	record, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return record, nil
}

func missingColumns(header []string) []string {
	present := make(map[string]bool, len(header))
	for _, column := range header {
		present[column] = true
	}
	var missing []string
	for _, column := range model.Columns {
		if !present[column] {
			missing = append(missing, column)
		}
	}
	return missing
}
