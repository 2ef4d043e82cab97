// Package merge combines normalized demand from several sources into the
// universal demand matrix.
package merge

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/roomfulmoshe/Vertiport-Planner/internal/config"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/demand"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/fault"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/geometry"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/spatial"
)

// StageName identifies the merge stage in errors.
const StageName = "merge"

// Cross-source policies.
const (
	PolicySum      = "sum"
	PolicyPrefer   = "prefer"
	PolicySeparate = "separate"
	PolicyWeighted = "weighted"
)

// Options is the immutable merge configuration.
type Options struct {
	Policy          string
	ExcludeAdjacent bool
	ExcludeSelf     bool
	Directional     bool
	// Precedence ranks sources for PolicyPrefer, highest first.
	Precedence []string
	// Weights holds PolicyWeighted blend weights by source name.
	Weights map[string]float64
}

// OptionsFromConfig builds Options. Without an explicit precedence, trip
// level sources outrank aggregated ones, then declaration order applies.
// Without explicit weights every source gets the same weight.
func OptionsFromConfig(cfg config.MergeConfig, sources []config.SourceConfig) Options {
	opts := Options{
		Policy:          cfg.Policy,
		ExcludeAdjacent: cfg.ExcludeAdjacentPairs,
		ExcludeSelf:     cfg.ExcludeSelfPairs,
		Directional:     cfg.Directional,
		Precedence:      slices.Clone(cfg.Precedence),
		Weights:         make(map[string]float64, len(sources)),
	}
	if len(opts.Precedence) == 0 {
		for _, s := range sources {
			if s.Granularity == "trip" {
				opts.Precedence = append(opts.Precedence, s.Name)
			}
		}
		for _, s := range sources {
			if s.Granularity != "trip" {
				opts.Precedence = append(opts.Precedence, s.Name)
			}
		}
	}
	for _, s := range sources {
		w, ok := cfg.Weights[strings.ToLower(s.Name)]
		if !ok {
			w, ok = cfg.Weights[s.Name]
		}
		if !ok {
			w = 1
			if len(cfg.Weights) > 0 {
				w = 0
			}
		}
		opts.Weights[s.Name] = w
	}
	return opts
}

// Entry is one row of the universal demand matrix.
type Entry struct {
	Origin      string
	Destination string
	// Count is the combined count under the selected policy.
	Count float64
	// Sources lists the sources Count was computed from, sorted.
	Sources []string
	// Counts holds the summed count of every source present for the pair.
	Counts map[string]float64
	// Distance is in meters between representative points.
	Distance float64
	// Adjacent is set when the pair is in the neighbor graph.
	Adjacent bool
}

// Points resolves a tract to its representative point.
type Points interface {
	RepresentativePoint(id string) (geom.Coord, error)
}

// Neighbors reports adjacency of two tracts.
type Neighbors interface {
	Adjacent(a, b string) bool
}

// Merger builds the universal demand matrix.
type Merger struct {
	engine    spatial.Engine
	points    Points
	neighbors Neighbors
	opts      Options
}

// NewMerger creates a Merger. neighbors may be nil when no pair is to be
// excluded or flagged.
func NewMerger(engine spatial.Engine, points Points, neighbors Neighbors, opts Options) *Merger {
	if opts.Policy == "" {
		opts.Policy = PolicySum
	}
	return &Merger{engine: engine, points: points, neighbors: neighbors, opts: opts}
}

// Result is the merged matrix with its metadata.
type Result struct {
	Entries []Entry
	Meta    Meta
}

type pairKey struct {
	origin, destination string
}

// Merge groups every record by pair, sums same-source duplicates and
// combines sources under the configured policy. Records naming a tract
// unknown to the geometry fail the stage with a *fault.NotFoundError.
// Output is sorted by origin then destination and does not depend on the
// order of sets or of records within them.
func (m *Merger) Merge(ctx context.Context, sets ...[]demand.Record) (*Result, error) {
	log := zap.L().With(zap.String("component", "merge"))
	start := time.Now()

	var all []demand.Record
	for _, s := range sets {
		all = append(all, s...)
	}
	demand.SortRecords(all)

	meta := Meta{
		Policy:          m.opts.Policy,
		Directional:     m.opts.Directional,
		ExcludeAdjacent: m.opts.ExcludeAdjacent,
		ExcludeSelf:     m.opts.ExcludeSelf,
		DistanceMethod:  "euclidean between representative points",
	}
	switch m.opts.Policy {
	case PolicyPrefer:
		meta.Precedence = m.opts.Precedence
	case PolicyWeighted:
		meta.Weights = m.opts.Weights
	}

	groups := make(map[pairKey]map[string]float64)
	selfGroups := make(map[pairKey]map[string]float64)
	var order []pairKey
	sourceSet := make(map[string]bool)
	for _, r := range all {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		k := pairKey{r.Origin, r.Destination}
		if !m.opts.Directional && geometry.CompareIDs(k.origin, k.destination) > 0 {
			k.origin, k.destination = k.destination, k.origin
		}
		meta.InputRecords++
		meta.InputMass += r.Count
		if m.opts.ExcludeSelf && k.origin == k.destination {
			meta.DroppedSelf++
			meta.DroppedSelfMass += r.Count
			if selfGroups[k] == nil {
				selfGroups[k] = make(map[string]float64, 1)
			}
			selfGroups[k][r.Source] += r.Count
			continue
		}
		g, ok := groups[k]
		if !ok {
			g = make(map[string]float64, 1)
			groups[k] = g
			order = append(order, k)
		}
		g[r.Source] += r.Count
		sourceSet[r.Source] = true
	}
	for s := range sourceSet {
		meta.Sources = append(meta.Sources, s)
	}
	slices.Sort(meta.Sources)

	// Weighted peaks cover every pair a source reports, before self and
	// adjacent pairs are removed.
	peaks := sourcePeaks(groups, selfGroups)
	if m.opts.Policy == PolicyWeighted {
		meta.Peaks = peaks
	}

	slices.SortFunc(order, func(a, b pairKey) int {
		if n := geometry.CompareIDs(a.origin, b.origin); n != 0 {
			return n
		}
		return geometry.CompareIDs(a.destination, b.destination)
	})

	points := make(map[string]geom.Coord)
	point := func(id string) (geom.Coord, error) {
		if p, ok := points[id]; ok {
			return p, nil
		}
		p, err := m.points.RepresentativePoint(id)
		if err != nil {
			if fault.IsNotFound(err) {
				return nil, fault.NewNotFoundError(StageName, "tract", id)
			}
			return nil, err
		}
		points[id] = p
		return p, nil
	}
	distances := make(map[pairKey]float64)

	entries := make([]Entry, 0, len(order))
	for _, k := range order {
		a, b := k.origin, k.destination
		if geometry.CompareIDs(a, b) > 0 {
			a, b = b, a
		}
		pa, err := point(a)
		if err != nil {
			return nil, err
		}
		pb, err := point(b)
		if err != nil {
			return nil, err
		}

		adjacent := m.neighbors != nil && m.neighbors.Adjacent(a, b)
		if adjacent && m.opts.ExcludeAdjacent {
			meta.DroppedAdjacent++
			for _, s := range sortedKeys(groups[k]) {
				meta.DroppedAdjacentMass += groups[k][s]
			}
			continue
		}

		canon := pairKey{a, b}
		d, ok := distances[canon]
		if !ok {
			d = m.engine.Distance(pa, pb)
			distances[canon] = d
		}
		entries = append(entries, Entry{
			Origin:      k.origin,
			Destination: k.destination,
			Counts:      groups[k],
			Distance:    d,
			Adjacent:    adjacent,
		})
	}

	m.combine(entries, meta.Sources, peaks)

	meta.Entries = len(entries)
	meta.Overlap = overlapStats(entries, meta.Sources)
	for _, e := range entries {
		meta.OutputMass += e.Count
		if e.Adjacent {
			meta.FlaggedAdjacent++
		}
	}

	log.Info("universal demand merged",
		zap.String("policy", m.opts.Policy),
		zap.Strings("sources", meta.Sources),
		zap.Int("records", meta.InputRecords),
		zap.Int("entries", meta.Entries),
		zap.Int("dropped_adjacent", meta.DroppedAdjacent),
		zap.Int("dropped_self", meta.DroppedSelf),
		zap.Int("shared_pairs", meta.Overlap.SharedPairs),
		zap.Int("distance_pairs", len(distances)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return &Result{Entries: entries, Meta: meta}, nil
}

func sourcePeaks(sets ...map[pairKey]map[string]float64) map[string]float64 {
	peaks := make(map[string]float64)
	for _, set := range sets {
		for _, g := range set {
			for s, c := range g {
				peaks[s] = max(peaks[s], c)
			}
		}
	}
	return peaks
}

// combine fills Count and Sources of every entry from its per-source sums.
// PolicyWeighted scales each source by its peak pair count.
func (m *Merger) combine(entries []Entry, sources []string, peak map[string]float64) {
	switch m.opts.Policy {
	case PolicyPrefer:
		rank := m.ranks(sources)
		for i := range entries {
			e := &entries[i]
			best := ""
			for s := range e.Counts {
				if best == "" || rank[s] < rank[best] || (rank[s] == rank[best] && s < best) {
					best = s
				}
			}
			e.Sources = []string{best}
			e.Count = e.Counts[best]
		}
	case PolicyWeighted:
		total := 0.0
		for _, s := range sources {
			total += m.weight(s)
		}
		for i := range entries {
			e := &entries[i]
			e.Sources = sortedKeys(e.Counts)
			e.Count = 0
			if total == 0 {
				continue
			}
			for _, s := range e.Sources {
				if peak[s] > 0 {
					e.Count += m.weight(s) * e.Counts[s] / peak[s]
				}
			}
			e.Count /= total
		}
	default: // PolicySum, PolicySeparate
		for i := range entries {
			e := &entries[i]
			e.Sources = sortedKeys(e.Counts)
			e.Count = 0
			for _, s := range e.Sources {
				e.Count += e.Counts[s]
			}
		}
	}
}

func (m *Merger) weight(source string) float64 {
	if m.opts.Weights == nil {
		return 1
	}
	w, ok := m.opts.Weights[source]
	if !ok {
		return 0
	}
	return w
}

// ranks orders sources by precedence; unlisted sources follow by name.
func (m *Merger) ranks(sources []string) map[string]int {
	rank := make(map[string]int, len(sources))
	for i, s := range m.opts.Precedence {
		for _, known := range sources {
			if strings.EqualFold(known, s) {
				if _, seen := rank[known]; !seen {
					rank[known] = i
				}
			}
		}
	}
	next := len(m.opts.Precedence)
	for _, s := range sources {
		if _, ok := rank[s]; !ok {
			rank[s] = next
			next++
		}
	}
	return rank
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
