package console

import (
	"io"
	"strings"
)

// ExportFileName is the suggested file name for exported logs.
const ExportFileName = "usage-details.csv"

const byteOrderMark = "\uFEFF"

// WriteCSV writes the header of column titles followed by one line per row.
// Fields are joined with commas and lines with CRLF. Values are written
// unquoted, so commas or line breaks inside a value split the cell.
func WriteCSV(w io.Writer, cols []Column, rows []Row) error {
	lines := make([]string, 0, len(rows)+1)

	fields := make([]string, len(cols))
	for i, c := range cols {
		fields[i] = c.Title
	}
	lines = append(lines, strings.Join(fields, ","))

	for _, r := range rows {
		for i, c := range cols {
			fields[i] = r.Text(c.Field)
		}
		lines = append(lines, strings.Join(fields, ","))
	}

	_, err := io.WriteString(w, byteOrderMark+strings.Join(lines, "\r\n"))
	return err
}
