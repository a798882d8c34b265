package features

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"triage/internal/services"
)

// Table is one parsed export file keyed by canonical column names.
type Table struct {
	Kind    FileKind
	Path    string
	Columns []string
	Rows    []map[string]string
}

// ReadTable parses a CSV export. The ID column is renamed to IDColumn and
// duplicate headers keep their first occurrence.
func ReadTable(path string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return parseTable(path, file)
}

func parseTable(path string, r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, services.Wrap(services.ErrValidation, "ingest", "read header", path+" is empty", nil)
		}
		return nil, fmt.Errorf("read header %s: %w", path, err)
	}

	columns := make([]string, len(header))
	keep := make([]bool, len(header))
	seen := make(map[string]struct{}, len(header))
	idFound := false
	for i, raw := range header {
		name := CanonicalColumn(raw)
		if NormalizeHeader(name) == idKey {
			if idFound {
				continue
			}
			name = IDColumn
			idFound = true
		}
		if _, dup := seen[name]; dup || name == "" {
			continue
		}
		seen[name] = struct{}{}
		columns[i] = name
		keep[i] = true
	}

	table := &Table{
		Kind: DetectKind(path, header),
		Path: path,
	}
	for i, name := range columns {
		if keep[i] {
			table.Columns = append(table.Columns, name)
		}
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		row := make(map[string]string, len(table.Columns))
		for i, value := range record {
			if i >= len(keep) || !keep[i] {
				continue
			}
			row[columns[i]] = strings.TrimSpace(value)
		}
		if id, ok := row[IDColumn]; ok {
			row[IDColumn] = normalizeID(id)
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// HasColumn reports whether the table carries name.
func (t *Table) HasColumn(name string) bool {
	for _, col := range t.Columns {
		if col == name {
			return true
		}
	}
	return false
}

// FindColumn returns the first candidate present in the table.
func (t *Table) FindColumn(candidates ...string) (string, bool) {
	for _, candidate := range candidates {
		if t.HasColumn(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// normalizeID turns spreadsheet floats such as "12345.0" into "12345".
func normalizeID(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return value
}
