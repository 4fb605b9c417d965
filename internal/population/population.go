// Package population loads the census population table keyed by block-group
// GEOID.
package population

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/shelter-access/internal/fetcher"
)

// ErrNotFound is returned when a GEOID has no population row.
var ErrNotFound = eris.New("population: geoid not found")

// Options names the table columns.
type Options struct {
	GEOIDColumn string // column holding the prefixed GEOID, e.g. "GEOID"
	Prefix      string // prefix of the summary level, e.g. "15000US"
	TotalColumn string // total population column, e.g. "B01003e1"
}

// Table maps prefixed GEOIDs to total population.
type Table struct {
	prefix string
	pops   map[string]int64
}

// New builds a table from already-keyed values. Keys carry the prefix.
func New(prefix string, pops map[string]int64) *Table {
	return &Table{prefix: prefix, pops: pops}
}

// Load reads a CSV file, or an XLSX workbook when path ends in .xlsx.
func Load(ctx context.Context, path string, opts Options) (*Table, error) {
	var rows [][]string
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		all, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{})
		if err != nil {
			return nil, eris.Wrapf(err, "population: read %s", path)
		}
		rows = all
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "population: open %s", path)
		}
		defer f.Close() //nolint:errcheck

		rowCh, errCh := fetcher.StreamCSV(ctx, f, fetcher.CSVOptions{TrimSpace: true})
		for row := range rowCh {
			rows = append(rows, row)
		}
		if err := <-errCh; err != nil {
			return nil, eris.Wrapf(err, "population: read %s", path)
		}
	}

	t, err := fromRows(rows, opts)
	if err != nil {
		return nil, eris.Wrapf(err, "population: parse %s", path)
	}
	zap.L().Info("population table loaded",
		zap.String("component", "population"),
		zap.String("path", path),
		zap.Int("rows", len(t.pops)),
	)
	return t, nil
}

func fromRows(rows [][]string, opts Options) (*Table, error) {
	if len(rows) == 0 {
		return nil, eris.New("population: empty table")
	}
	header := rows[0]
	geoidIdx, totalIdx := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case opts.GEOIDColumn:
			geoidIdx = i
		case opts.TotalColumn:
			totalIdx = i
		}
	}
	if geoidIdx < 0 {
		return nil, eris.Errorf("population: column %q not found", opts.GEOIDColumn)
	}
	if totalIdx < 0 {
		return nil, eris.Errorf("population: column %q not found", opts.TotalColumn)
	}

	pops := make(map[string]int64, len(rows)-1)
	for line, row := range rows[1:] {
		if geoidIdx >= len(row) || totalIdx >= len(row) {
			continue
		}
		key := strings.TrimSpace(row[geoidIdx])
		raw := strings.TrimSpace(row[totalIdx])
		if key == "" || raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "population: row %d: bad %s value %q", line+2, opts.TotalColumn, raw)
		}
		pops[key] = int64(math.Round(v))
	}
	return &Table{prefix: opts.Prefix, pops: pops}, nil
}

// Lookup returns the total population of a block group by its bare GEOID.
func (t *Table) Lookup(geoid string) (int64, error) {
	pop, ok := t.pops[t.prefix+geoid]
	if !ok {
		return 0, eris.Wrapf(ErrNotFound, "population: %s%s", t.prefix, geoid)
	}
	return pop, nil
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.pops) }
