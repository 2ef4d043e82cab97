package demand

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/roomfulmoshe/Vertiport-Planner/internal/config"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/crosswalk"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/fault"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/source"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/spatial"
)

// Key spaces.
const (
	KeySpaceZone  = "zone"
	KeySpaceTract = "tract"
)

// maxSampleErrors bounds the mismatches kept for the summary log.
const maxSampleErrors = 5

// ZoneLookup resolves a zone to its tract shares.
type ZoneLookup interface {
	Lookup(zoneID string) ([]crosswalk.Entry, bool)
}

// TractSet reports whether a tract identifier exists.
type TractSet interface {
	Has(id string) bool
}

// Normalizer re-keys raw tables into tract space. It holds no per-call
// state and is safe for concurrent use.
type Normalizer struct {
	zones     ZoneLookup
	tracts    TractSet
	tolerance float64
	workers   int
}

// NewNormalizer creates a Normalizer. tracts may be nil, in which case
// tract-keyed rows are accepted without a universe check. tolerance is the
// largest skipped-row ratio a source may have.
func NewNormalizer(zones ZoneLookup, tracts TractSet, tolerance float64, workers int) *Normalizer {
	if workers < 1 {
		workers = 1
	}
	return &Normalizer{zones: zones, tracts: tracts, tolerance: tolerance, workers: workers}
}

// Result is the output of normalizing one source.
type Result struct {
	Records []Record
	Summary Summary
	// Mismatches holds the first few schema mismatches, in row order.
	Mismatches []*fault.SchemaMismatchError
}

// share is one tract with the fraction of a key's demand it receives.
type share struct {
	tract  string
	weight float64
}

// layout is the resolved column layout of a table.
type layout struct {
	origin, destination, count int
	filters                    []filter
}

// Normalize maps every row of t into tract-keyed records. Rows missing a
// key or carrying an invalid count are skipped and counted; when the
// skipped ratio exceeds the tolerance it returns a *fault.ToleranceError.
// A table lacking a mapped column fails with a *fault.SchemaMismatchError.
// Output is sorted with CompareRecords, so row order does not matter.
func (n *Normalizer) Normalize(ctx context.Context, t *source.Table, sc config.SourceConfig) (*Result, error) {
	log := zap.L().With(zap.String("component", "demand"), zap.String("source", sc.Name))
	start := time.Now()

	if sc.KeySpace == KeySpaceZone && n.zones == nil {
		return nil, fault.NewConfigurationError("sources."+sc.Name+".key_space", "zone keys need a crosswalk")
	}
	lay, err := resolveLayout(t, sc)
	if err != nil {
		return nil, err
	}

	type indexed struct {
		row  int
		data []string
	}
	rows := make([]indexed, len(t.Rows))
	for i, r := range t.Rows {
		rows[i] = indexed{row: i + 1, data: r}
	}

	type part struct {
		records    []Record
		summary    Summary
		mismatches []*fault.SchemaMismatchError
	}
	keys := keyRewriter{cfg: sc.TractKey}
	parts, err := spatial.Shard(ctx, rows, n.workers, func(ctx context.Context, chunk []indexed) ([]part, error) {
		var p part
		for _, r := range chunk {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			recs, mm := n.normalizeRow(r.data, r.row, sc, lay, keys, &p.summary)
			if mm != nil {
				p.summary.Skipped++
				if len(p.mismatches) < maxSampleErrors {
					p.mismatches = append(p.mismatches, mm)
				}
				continue
			}
			p.records = append(p.records, recs...)
		}
		return []part{p}, nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "demand: normalize %s", sc.Name)
	}

	res := &Result{Summary: Summary{Source: sc.Name}}
	for _, p := range parts {
		res.Records = append(res.Records, p.records...)
		res.Summary.add(p.summary)
		for _, mm := range p.mismatches {
			if len(res.Mismatches) < maxSampleErrors {
				res.Mismatches = append(res.Mismatches, mm)
			}
		}
	}
	res.Summary.Rows = len(t.Rows)
	res.Summary.Records = len(res.Records)
	// Output mass is summed in canonical order so it does not depend on
	// shard boundaries.
	SortRecords(res.Records)
	for _, r := range res.Records {
		res.Summary.OutputMass += r.Count
	}

	s := res.Summary
	if s.Skipped > 0 {
		fields := []zap.Field{
			zap.Int("skipped", s.Skipped),
			zap.Int("rows", s.Rows),
		}
		if len(res.Mismatches) > 0 {
			fields = append(fields, zap.String("first", res.Mismatches[0].Error()))
		}
		log.Warn("rows skipped on schema mismatch", fields...)
	}
	if s.Rows > 0 && float64(s.Skipped)/float64(s.Rows) > n.tolerance {
		te := &fault.ToleranceError{Source: sc.Name, Skipped: s.Skipped, Total: s.Rows, Tolerance: n.tolerance}
		if len(res.Mismatches) > 0 {
			te.First = res.Mismatches[0]
		}
		return nil, te
	}
	if s.Unmapped > 0 {
		log.Warn("rows without tract mapping",
			zap.Int("rows", s.Unmapped),
			zap.Float64("mass", s.UnmappedMass),
		)
	}

	log.Info("source normalized",
		zap.String("key_space", sc.KeySpace),
		zap.Int("rows", s.Rows),
		zap.Int("records", s.Records),
		zap.Int("filtered", s.Filtered),
		zap.Int("same_key", s.SameKey),
		zap.Float64("input_mass", s.InputMass),
		zap.Float64("output_mass", s.OutputMass),
		zap.Float64("coverage_loss", s.CoverageLoss()),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return res, nil
}

func resolveLayout(t *source.Table, sc config.SourceConfig) (layout, error) {
	missing := func(field string) error {
		return &fault.SchemaMismatchError{Source: sc.Name, Field: field, Reason: "column not found in " + t.Path}
	}
	lay := layout{count: -1}
	if lay.origin = t.Column(sc.OriginField); lay.origin < 0 {
		return lay, missing(sc.OriginField)
	}
	if lay.destination = t.Column(sc.DestinationField); lay.destination < 0 {
		return lay, missing(sc.DestinationField)
	}
	if sc.CountField != "" {
		if lay.count = t.Column(sc.CountField); lay.count < 0 {
			return lay, missing(sc.CountField)
		}
	}
	filters, bad := compileFilters(t, sc.Filters)
	if bad != "" {
		return lay, missing(bad)
	}
	lay.filters = filters
	return lay, nil
}

// normalizeRow validates, filters and splits one row. A non-nil mismatch
// means the row was skipped.
func (n *Normalizer) normalizeRow(row []string, rowNum int, sc config.SourceConfig, lay layout, keys keyRewriter,
	sum *Summary) ([]Record, *fault.SchemaMismatchError) {
	mismatch := func(field, reason string) *fault.SchemaMismatchError {
		return &fault.SchemaMismatchError{Source: sc.Name, Row: rowNum, Field: field, Reason: reason}
	}

	origin := cell(row, lay.origin)
	if origin == "" {
		return nil, mismatch(sc.OriginField, "missing origin key")
	}
	destination := cell(row, lay.destination)
	if destination == "" {
		return nil, mismatch(sc.DestinationField, "missing destination key")
	}
	count := 1.0
	if lay.count >= 0 {
		raw := cell(row, lay.count)
		if raw == "" {
			return nil, mismatch(sc.CountField, "missing count")
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, mismatch(sc.CountField, "invalid count "+strconv.Quote(raw))
		}
		if v < 0 {
			return nil, mismatch(sc.CountField, "negative count "+raw)
		}
		count = v
	}

	for _, f := range lay.filters {
		if !f.keep(row) {
			sum.Filtered++
			return nil, nil
		}
	}

	from, okFrom := n.resolve(origin, sc.KeySpace, keys)
	to, okTo := n.resolve(destination, sc.KeySpace, keys)
	if sc.ExcludeSameKey && sameKey(origin, destination, sc.KeySpace, keys) {
		sum.SameKey++
		return nil, nil
	}
	sum.InputMass += count
	if !okFrom || !okTo {
		sum.Unmapped++
		sum.UnmappedMass += count
		return nil, nil
	}
	if count == 0 {
		return nil, nil
	}

	out := make([]Record, 0, len(from)*len(to))
	for _, o := range from {
		for _, d := range to {
			out = append(out, Record{
				Origin:      o.tract,
				Destination: d.tract,
				Count:       count * o.weight * d.weight,
				Source:      sc.Name,
				Category:    sc.Category,
				Period:      sc.Period,
			})
		}
	}
	return out, nil
}

// resolve maps a raw key to its tract shares.
func (n *Normalizer) resolve(raw, keySpace string, keys keyRewriter) ([]share, bool) {
	if keySpace == KeySpaceZone {
		entries, ok := n.zones.Lookup(zoneKey(raw))
		if !ok || len(entries) == 0 {
			return nil, false
		}
		shares := make([]share, len(entries))
		for i, e := range entries {
			shares[i] = share{tract: e.TractID, weight: e.Weight}
		}
		return shares, true
	}

	tract, ok := keys.rewrite(raw)
	if !ok {
		return nil, false
	}
	if n.tracts != nil && !n.tracts.Has(tract) {
		return nil, false
	}
	return []share{{tract: tract, weight: 1}}, true
}

func sameKey(origin, destination, keySpace string, keys keyRewriter) bool {
	if keySpace == KeySpaceZone {
		return zoneKey(origin) == zoneKey(destination)
	}
	o, _ := keys.rewrite(origin)
	d, _ := keys.rewrite(destination)
	return o != "" && o == d
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
