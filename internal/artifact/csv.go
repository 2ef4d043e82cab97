package artifact

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/roomfulmoshe/Vertiport-Planner/internal/source"
)

// writeCSV creates path (and its parent directory) and writes header and
// rows produced by fill.
func writeCSV(path string, header []string, fill func(w *csv.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "artifact: create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "artifact: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return eris.Wrapf(err, "artifact: write header of %s", path)
	}
	if err := fill(w); err != nil {
		return eris.Wrapf(err, "artifact: write %s", path)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrapf(err, "artifact: flush %s", path)
	}
	return eris.Wrapf(f.Close(), "artifact: close %s", path)
}

// table reads a published CSV and resolves the named columns.
type table struct {
	*source.Table
	cols map[string]int
}

func readTable(ctx context.Context, path string, required ...string) (*table, error) {
	t, err := source.Read(ctx, path, source.Options{Format: source.FormatCSV})
	if err != nil {
		return nil, err
	}
	tb := &table{Table: t, cols: make(map[string]int, len(required))}
	for _, name := range required {
		i := t.Column(name)
		if i < 0 {
			return nil, eris.Errorf("artifact: %s has no %q column", path, name)
		}
		tb.cols[name] = i
	}
	return tb, nil
}

func (t *table) get(row []string, name string) string {
	i, ok := t.cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

func (t *table) float(row []string, rowNum int, name string) (float64, error) {
	s := t.get(row, name)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "artifact: %s row %d: %s", t.Path, rowNum, name)
	}
	return v, nil
}
