package artifact

import (
	"context"
	"encoding/csv"
	"path/filepath"

	"github.com/roomfulmoshe/Vertiport-Planner/internal/crosswalk"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/demand"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/geometry"
)

var (
	tractsHeader     = []string{"tract_id", "region", "x", "y"}
	crosswalkHeader  = []string{"zone_id", "tract_id", "weight"}
	unmatchedHeader  = []string{"zone_id"}
	normalizedHeader = []string{"origin_tract", "destination_tract", "count", "source", "category", "period"}
)

// WriteTracts writes one row per tract with its representative point in
// planar meters.
func WriteTracts(dir string, tracts *geometry.Collection) error {
	return writeCSV(filepath.Join(dir, TractsFile), tractsHeader, func(w *csv.Writer) error {
		for _, f := range tracts.Features() {
			if err := w.Write([]string{f.ID, f.Region, exact(f.Point.X()), exact(f.Point.Y())}); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteCrosswalk writes the crosswalk entries and, separately, the zones
// that overlap no tract. Weights are written exactly so a resumed run
// reads back the same crosswalk.
func WriteCrosswalk(dir string, cw *crosswalk.Crosswalk) error {
	err := writeCSV(filepath.Join(dir, CrosswalkFile), crosswalkHeader, func(w *csv.Writer) error {
		for _, e := range cw.Entries() {
			if err := w.Write([]string{e.ZoneID, e.TractID, exact(e.Weight)}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return writeCSV(filepath.Join(dir, UnmatchedFile), unmatchedHeader, func(w *csv.Writer) error {
		for _, z := range cw.Unmatched() {
			if err := w.Write([]string{z}); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadCrosswalk loads a crosswalk written by WriteCrosswalk.
func ReadCrosswalk(ctx context.Context, dir string) (*crosswalk.Crosswalk, error) {
	t, err := readTable(ctx, filepath.Join(dir, CrosswalkFile), crosswalkHeader...)
	if err != nil {
		return nil, err
	}
	entries := make([]crosswalk.Entry, 0, len(t.Rows))
	for i, row := range t.Rows {
		w, err := t.float(row, i+1, "weight")
		if err != nil {
			return nil, err
		}
		entries = append(entries, crosswalk.Entry{
			ZoneID:  t.get(row, "zone_id"),
			TractID: t.get(row, "tract_id"),
			Weight:  w,
		})
	}

	u, err := readTable(ctx, filepath.Join(dir, UnmatchedFile), unmatchedHeader...)
	if err != nil {
		return nil, err
	}
	unmatched := make([]string, 0, len(u.Rows))
	for _, row := range u.Rows {
		unmatched = append(unmatched, u.get(row, "zone_id"))
	}
	return crosswalk.New(entries, unmatched), nil
}

// NormalizedPath is where the records of one source are published.
func NormalizedPath(dir, sourceName string) string {
	return filepath.Join(dir, NormalizedDir, sourceName+".csv")
}

// WriteRecords publishes the normalized records of one source. Counts are
// written exactly; rounding is reserved for the universal matrix.
func WriteRecords(dir, sourceName string, records []demand.Record) error {
	return writeCSV(NormalizedPath(dir, sourceName), normalizedHeader, func(w *csv.Writer) error {
		for _, r := range records {
			row := []string{r.Origin, r.Destination, exact(r.Count), r.Source, r.Category, r.Period}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadRecords loads the normalized records of one source.
func ReadRecords(ctx context.Context, dir, sourceName string) ([]demand.Record, error) {
	t, err := readTable(ctx, NormalizedPath(dir, sourceName), normalizedHeader...)
	if err != nil {
		return nil, err
	}
	records := make([]demand.Record, 0, len(t.Rows))
	for i, row := range t.Rows {
		c, err := t.float(row, i+1, "count")
		if err != nil {
			return nil, err
		}
		records = append(records, demand.Record{
			Origin:      t.get(row, "origin_tract"),
			Destination: t.get(row, "destination_tract"),
			Count:       c,
			Source:      t.get(row, "source"),
			Category:    t.get(row, "category"),
			Period:      t.get(row, "period"),
		})
	}
	return records, nil
}
