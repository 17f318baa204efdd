// Package csvload implements the CSV boundary format (spec.md §6) used by
// the shell's add_from_csv/insert_from_csv commands:
//
//	line 1: comma-separated "<type> <size>" tokens
//	line 2: comma-separated field names
//	lines 3+: records, one comma-separated row per line
//
// This is a thin boundary package, out of the engine's scored core
// (spec.md §1), grounded on the original's createOrReplaceRelationFromCSV_fix
// for the silent-truncation-on-overflow behavior during load.
package csvload

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sgbd-go/sgbd/internal/catalog"
	"github.com/sgbd-go/sgbd/pkg/sgerrors"
)

// File is a parsed CSV boundary file: schema plus raw string rows.
type File struct {
	Fields []catalog.Field
	Names  []string
	Rows   [][]string
}

// Parse reads path and splits it into a schema line, a names line, and
// data rows. Parsing is a naive comma split matching the original's
// getline+split tokenizer; no CSV quoting is supported.
func Parse(path string, isFixed bool) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", sgerrors.ErrIO, path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)

	if !scanner.Scan() {
		return nil, fmt.Errorf("%w: %s: missing schema line", sgerrors.ErrInvalidArgument, path)
	}
	typeTokens := splitCSV(scanner.Text())

	if !scanner.Scan() {
		return nil, fmt.Errorf("%w: %s: missing field-name line", sgerrors.ErrInvalidArgument, path)
	}
	names := splitCSV(scanner.Text())

	if len(names) != len(typeTokens) {
		return nil, fmt.Errorf("%w: %s: %d names but %d type tokens", sgerrors.ErrSchemaMismatch, path, len(names), len(typeTokens))
	}

	fields := make([]catalog.Field, len(names))
	for i, tok := range typeTokens {
		parts := strings.Fields(tok)
		if len(parts) == 0 {
			return nil, fmt.Errorf("%w: %s: empty type token", sgerrors.ErrInvalidArgument, path)
		}

		f := catalog.Field{Name: names[i], Type: catalog.FieldType(parts[0]), Size: -1}
		if isFixed {
			if len(parts) < 2 {
				return nil, fmt.Errorf("%w: %s: fixed field %q missing size", sgerrors.ErrInvalidArgument, path, f.Name)
			}
			size, err := strconv.Atoi(parts[1])
			if err != nil {
				return nil, fmt.Errorf("%w: %s: invalid size %q", sgerrors.ErrInvalidArgument, path, parts[1])
			}
			f.Size = size
		}
		fields[i] = f
	}

	var rows [][]string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		row := splitCSV(line)
		if len(row) != len(fields) {
			return nil, fmt.Errorf("%w: %s: row has %d fields, want %d", sgerrors.ErrSchemaMismatch, path, len(row), len(fields))
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", sgerrors.ErrIO, path, err)
	}

	return &File{Fields: fields, Names: names, Rows: rows}, nil
}

func splitCSV(line string) []string {
	parts := strings.Split(line, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}
