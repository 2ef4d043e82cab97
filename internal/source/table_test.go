package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/roomfulmoshe/Vertiport-Planner/internal/config"
)

func writeTestFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				row.AddCell().SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "test.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestRead_CSV(t *testing.T) {
	path := writeTestFile(t, "trips.csv", []byte("\ufeffPULocationID,DOLocationID,trips\n1,2,10\n\n3,4,5\n"))

	table, err := Read(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"PULocationID", "DOLocationID", "trips"}, table.Header)
	assert.Equal(t, [][]string{{"1", "2", "10"}, {"3", "4", "5"}}, table.Rows)
	assert.Equal(t, 0, table.Column("pulocationid"))
	assert.Equal(t, 2, table.Column(" trips "))
	assert.Equal(t, -1, table.Column("fare"))
}

func TestRead_GzipCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ny_od_main_JT00_2019.csv.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte("w_geocode,h_geocode,S000\n360610001001000,360470002002000,3\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	table, err := Read(context.Background(), path, Options{})
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "360470002002000", table.Rows[0][1])
}

func TestRead_Latin1(t *testing.T) {
	// "Café" with é as the single byte 0xE9.
	path := writeTestFile(t, "zones.csv", []byte("name,count\nCaf\xe9,1\n"))

	table, err := Read(context.Background(), path, Options{Encoding: "latin1"})
	require.NoError(t, err)
	assert.Equal(t, "Café", table.Rows[0][0])

	_, err = Read(context.Background(), path, Options{Encoding: "klingon"})
	assert.Error(t, err)
}

func TestRead_XLSX(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Notes": {{"ignore me"}},
		"Flows": {{"origin", "destination", "count"}, {"1000100", "1000200", "7"}},
	})

	table, err := Read(context.Background(), path, Options{Sheet: "Flows"})
	require.NoError(t, err)
	assert.Equal(t, []string{"origin", "destination", "count"}, table.Header)
	assert.Equal(t, [][]string{{"1000100", "1000200", "7"}}, table.Rows)

	_, err = Read(context.Background(), path, Options{Sheet: "Missing"})
	assert.Error(t, err)
}

func TestRead_DelimiterCommentTrim(t *testing.T) {
	path := writeTestFile(t, "flows.txt", []byte("# exported 2019\norigin; destination; count\n1; 2; 7\n# subtotal\n3;4;1\n"))

	table, err := Read(context.Background(), path, Options{Format: FormatCSV, Delimiter: ';', Comment: '#', TrimSpace: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"origin", "destination", "count"}, table.Header)
	assert.Equal(t, [][]string{{"1", "2", "7"}, {"3", "4", "1"}}, table.Rows)
}

func TestRead_XLSXSheetIndex(t *testing.T) {
	f := xlsx.NewFile()
	for _, name := range []string{"Notes", "Flows"} {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		row := sheet.AddRow()
		row.AddCell().SetString(name)
	}
	path := filepath.Join(t.TempDir(), "flows.xlsx")
	require.NoError(t, f.Save(path))

	table, err := Read(context.Background(), path, Options{SheetIndex: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"Flows"}, table.Header)

	_, err = Read(context.Background(), path, Options{SheetIndex: 2})
	assert.Error(t, err)
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.SourceConfig{
		Format: "csv", Encoding: "latin1", Delimiter: "tab", Comment: "#", TrimSpace: true, SheetIndex: 3,
	})
	assert.Equal(t, Options{
		Format: "csv", Encoding: "latin1", SheetIndex: 3, Delimiter: '\t', Comment: '#', TrimSpace: true,
	}, opts)
}

func TestRead_Errors(t *testing.T) {
	_, err := Read(context.Background(), filepath.Join(t.TempDir(), "absent.csv"), Options{})
	assert.Error(t, err)

	path := writeTestFile(t, "trips.parquet", []byte("x"))
	_, err = Read(context.Background(), path, Options{Format: "parquet"})
	assert.Error(t, err)

	empty := writeTestFile(t, "empty.csv", nil)
	_, err = Read(context.Background(), empty, Options{})
	assert.Error(t, err)
}

func TestRead_Cancelled(t *testing.T) {
	path := writeTestFile(t, "trips.csv", []byte("a,b\n1,2\n"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Read(ctx, path, Options{})
	assert.Error(t, err)
}

func TestInferFormat(t *testing.T) {
	assert.Equal(t, FormatCSV, inferFormat("trips.csv"))
	assert.Equal(t, FormatCSV, inferFormat("od.csv.gz"))
	assert.Equal(t, FormatXLSX, inferFormat("Flows.XLSX"))
}
