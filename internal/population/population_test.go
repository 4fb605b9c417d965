package population

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

var acsOpts = Options{GEOIDColumn: "GEOID", Prefix: "15000US", TotalColumn: "B01003e1"}

func TestLoadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acs5.csv")
	csv := "GEOID,NAME,B01003e1\n" +
		"15000US250250001001,Block Group 1,1200\n" +
		"15000US250250001002,Block Group 2,815.0\n" +
		"15000US250250001003,Block Group 3,\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	table, err := Load(context.Background(), path, acsOpts)
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())

	pop, err := table.Lookup("250250001001")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), pop)

	pop, err = table.Lookup("250250001002")
	require.NoError(t, err)
	assert.Equal(t, int64(815), pop)
}

func TestLookup_NotFound(t *testing.T) {
	table := New("15000US", map[string]int64{"15000US250250001001": 10})

	_, err := table.Lookup("250250009999")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "15000US250250009999")
}

func TestLoadCSV_MissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acs5.csv")
	require.NoError(t, os.WriteFile(path, []byte("GEOID,NAME\n15000US1,x\n"), 0o644))

	_, err := Load(context.Background(), path, acsOpts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `column "B01003e1" not found`)
}

func TestLoadCSV_BadNumber(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acs5.csv")
	require.NoError(t, os.WriteFile(path, []byte("GEOID,B01003e1\n15000US1,lots\n"), 0o644))

	_, err := Load(context.Background(), path, acsOpts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2")
}

func TestLoadCSV_MissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), acsOpts)
	assert.Error(t, err)
}

func TestLoadXLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("acs5")
	require.NoError(t, err)
	for _, r := range [][]string{{"GEOID", "B01003e1"}, {"15000US250250001001", "640"}} {
		row := sheet.AddRow()
		for _, c := range r {
			row.AddCell().SetString(c)
		}
	}
	path := filepath.Join(t.TempDir(), "acs5.xlsx")
	require.NoError(t, f.Save(path))

	table, err := Load(context.Background(), path, acsOpts)
	require.NoError(t, err)
	pop, err := table.Lookup("250250001001")
	require.NoError(t, err)
	assert.Equal(t, int64(640), pop)
}
