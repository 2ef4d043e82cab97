package artifact

import (
	"encoding/csv"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/roomfulmoshe/Vertiport-Planner/internal/merge"
)

// UniversalHeader returns the columns of universal_demand.csv for a
// merge. The separate policy adds one count column per source and an
// adjacent column is present whenever adjacent pairs were kept.
func UniversalHeader(meta merge.Meta, f Format) []string {
	h := []string{"origin_tract", "destination_tract", "count", "sources", f.DistanceHeader()}
	if !meta.ExcludeAdjacent {
		h = append(h, "adjacent")
	}
	if meta.Policy == merge.PolicySeparate {
		for _, s := range meta.Sources {
			h = append(h, "count_"+s)
		}
	}
	return h
}

// WriteUniversal publishes the universal demand matrix in entry order.
func WriteUniversal(dir string, res *merge.Result, f Format) error {
	meta := res.Meta
	return writeCSV(filepath.Join(dir, UniversalFile), UniversalHeader(meta, f), func(w *csv.Writer) error {
		for _, e := range res.Entries {
			row := []string{
				e.Origin,
				e.Destination,
				f.Count(e.Count),
				strings.Join(e.Sources, ";"),
				f.Distance(e.Distance),
			}
			if !meta.ExcludeAdjacent {
				row = append(row, strconv.FormatBool(e.Adjacent))
			}
			if meta.Policy == merge.PolicySeparate {
				for _, s := range meta.Sources {
					c, ok := e.Counts[s]
					if !ok {
						row = append(row, "")
						continue
					}
					row = append(row, f.Count(c))
				}
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}
