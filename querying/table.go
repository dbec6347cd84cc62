package querying

import (
	"encoding/csv"
	"io"
	"os"
)

// Table is the result of a query.
type Table struct {
	Columns []string
	Rows    [][]string
}

func NewTable(columns ...string) *Table {
	return &Table{Columns: columns}
}

func (t *Table) Append(row ...string) {
	t.Rows = append(t.Rows, row)
}

// Data returns the header followed by the rows.
func (t *Table) Data() [][]string {
	data := make([][]string, 0, len(t.Rows)+1)
	data = append(data, t.Columns)
	return append(data, t.Rows...)
}

func (t *Table) WriteCSV(out io.Writer) error {
	w := csv.NewWriter(out)
	if err := w.WriteAll(t.Data()); err != nil {
		return err
	}
	return w.Error()
}

func (t *Table) ToCsv(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := t.WriteCSV(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
