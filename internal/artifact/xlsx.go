package artifact

import (
	"cmp"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/roomfulmoshe/Vertiport-Planner/internal/geometry"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/merge"
)

// TopPairs returns the n entries with the largest count. Ties keep the
// matrix order.
func TopPairs(entries []merge.Entry, n int) []merge.Entry {
	top := slices.Clone(entries)
	slices.SortStableFunc(top, func(a, b merge.Entry) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		if c := geometry.CompareIDs(a.Origin, b.Origin); c != 0 {
			return c
		}
		return geometry.CompareIDs(a.Destination, b.Destination)
	})
	if n < len(top) {
		top = top[:n]
	}
	return top
}

// WriteTopXLSX writes the n largest pairs to one sheet and the manifest
// totals to a second one.
func WriteTopXLSX(dir string, res *merge.Result, n int, f Format) error {
	file := xlsx.NewFile()

	pairs, err := file.AddSheet("top_pairs")
	if err != nil {
		return eris.Wrap(err, "artifact: add sheet top_pairs")
	}
	header := pairs.AddRow()
	for _, h := range []string{"rank", "origin_tract", "destination_tract", "count", "sources", f.DistanceHeader()} {
		header.AddCell().SetString(h)
	}
	for i, e := range TopPairs(res.Entries, n) {
		row := pairs.AddRow()
		row.AddCell().SetInt(i + 1)
		row.AddCell().SetString(e.Origin)
		row.AddCell().SetString(e.Destination)
		row.AddCell().SetFloat(e.Count)
		row.AddCell().SetString(strings.Join(e.Sources, ";"))
		row.AddCell().SetFloat(f.DistanceValue(e.Distance))
	}

	summary, err := file.AddSheet("summary")
	if err != nil {
		return eris.Wrap(err, "artifact: add sheet summary")
	}
	m := res.Meta
	kv := func(k string, set func(c *xlsx.Cell)) {
		row := summary.AddRow()
		row.AddCell().SetString(k)
		set(row.AddCell())
	}
	kv("policy", func(c *xlsx.Cell) { c.SetString(m.Policy) })
	kv("sources", func(c *xlsx.Cell) { c.SetString(strings.Join(m.Sources, ";")) })
	kv("entries", func(c *xlsx.Cell) { c.SetInt(m.Entries) })
	kv("input_mass", func(c *xlsx.Cell) { c.SetFloat(m.InputMass) })
	kv("output_mass", func(c *xlsx.Cell) { c.SetFloat(m.OutputMass) })
	kv("dropped_adjacent", func(c *xlsx.Cell) { c.SetInt(m.DroppedAdjacent) })
	kv("dropped_self", func(c *xlsx.Cell) { c.SetInt(m.DroppedSelf) })
	kv("shared_pairs", func(c *xlsx.Cell) { c.SetInt(m.Overlap.SharedPairs) })

	path := filepath.Join(dir, TopXLSXFile)
	return eris.Wrapf(file.Save(path), "artifact: save %s", path)
}
