// Package crosswalk apportions service zones onto census tracts by areal
// overlap.
package crosswalk

import (
	"context"
	"math"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/roomfulmoshe/Vertiport-Planner/internal/config"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/geometry"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/spatial"
)

// simpleZoneMaxTracts is the tract count at or below which a zone counts as
// simple in the build statistics.
const simpleZoneMaxTracts = 10

// Entry maps a zone to one tract with the fraction of the zone's area that
// falls inside the tract. Weight is in (0, 1].
type Entry struct {
	ZoneID  string
	TractID string
	Weight  float64
}

// Options tunes a build.
type Options struct {
	// Epsilon drops overlaps smaller than Epsilon * zone area.
	Epsilon float64
	// MinWeight drops entries whose weight is below it (0 keeps all).
	MinWeight float64
	// Renormalize rescales each zone's kept weights to sum to 1.
	Renormalize bool
	Workers     int
}

// OptionsFromConfig builds Options from the crosswalk config section.
func OptionsFromConfig(cfg config.CrosswalkConfig, workers int) Options {
	return Options{
		Epsilon:     cfg.Epsilon,
		MinWeight:   cfg.MinWeight,
		Renormalize: cfg.Renormalize,
		Workers:     workers,
	}
}

// Crosswalk is the immutable zone to tract mapping.
type Crosswalk struct {
	entries   []Entry
	byZone    map[string][]Entry
	zones     []string
	unmatched []string
}

// New assembles a Crosswalk from entries, ordering them by zone and then
// tract. unmatched lists zones known to have no tract.
func New(entries []Entry, unmatched []string) *Crosswalk {
	c := &Crosswalk{
		entries:   slices.Clone(entries),
		byZone:    make(map[string][]Entry),
		unmatched: slices.Clone(unmatched),
	}
	slices.SortStableFunc(c.entries, func(a, b Entry) int {
		if n := geometry.CompareIDs(a.ZoneID, b.ZoneID); n != 0 {
			return n
		}
		return geometry.CompareIDs(a.TractID, b.TractID)
	})
	slices.SortFunc(c.unmatched, geometry.CompareIDs)
	// Per-zone views share the sorted backing array.
	start := 0
	for i := 1; i <= len(c.entries); i++ {
		if i == len(c.entries) || c.entries[i].ZoneID != c.entries[start].ZoneID {
			z := c.entries[start].ZoneID
			c.zones = append(c.zones, z)
			c.byZone[z] = c.entries[start:i:i]
			start = i
		}
	}
	return c
}

// Entries returns every entry ordered by zone then tract.
func (c *Crosswalk) Entries() []Entry { return c.entries }

// Lookup returns the entries of a zone ordered by tract.
func (c *Crosswalk) Lookup(zoneID string) ([]Entry, bool) {
	e, ok := c.byZone[zoneID]
	return e, ok
}

// Zones returns the zones with at least one entry, in order.
func (c *Crosswalk) Zones() []string { return c.zones }

// Unmatched returns the zones that overlap no tract.
func (c *Crosswalk) Unmatched() []string { return c.unmatched }

// Stats summarizes a crosswalk.
type Stats struct {
	Zones          int     `json:"zones" yaml:"zones"`
	Entries        int     `json:"entries" yaml:"entries"`
	Unmatched      int     `json:"unmatched" yaml:"unmatched"`
	SimpleZones    int     `json:"simple_zones" yaml:"simple_zones"`
	MaxTracts      int     `json:"max_tracts" yaml:"max_tracts"`
	MeanTracts     float64 `json:"mean_tracts" yaml:"mean_tracts"`
	MinCoverage    float64 `json:"min_coverage" yaml:"min_coverage"`
	PartialCovered int     `json:"partial_covered" yaml:"partial_covered"`
}

// Stats computes per-zone tract count and coverage statistics.
func (c *Crosswalk) Stats() Stats {
	s := Stats{Zones: len(c.zones), Entries: len(c.entries), Unmatched: len(c.unmatched), MinCoverage: 1}
	if len(c.zones) == 0 {
		s.MinCoverage = 0
		return s
	}
	for _, z := range c.zones {
		entries := c.byZone[z]
		n := len(entries)
		if n <= simpleZoneMaxTracts {
			s.SimpleZones++
		}
		s.MaxTracts = max(s.MaxTracts, n)
		sum := 0.0
		for _, e := range entries {
			sum += e.Weight
		}
		s.MinCoverage = math.Min(s.MinCoverage, sum)
		if sum < 1-1e-6 {
			s.PartialCovered++
		}
	}
	s.MeanTracts = float64(len(c.entries)) / float64(len(c.zones))
	return s
}

// Builder computes crosswalks with a pluggable geometry engine.
type Builder struct {
	engine spatial.Engine
	opts   Options
}

// NewBuilder creates a Builder.
func NewBuilder(engine spatial.Engine, opts Options) *Builder {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Builder{engine: engine, opts: opts}
}

type zoneResult struct {
	zoneID  string
	entries []Entry
}

// Build apportions every zone over the tracts whose bounds it intersects.
// Zones overlapping no tract are reported through Unmatched, not as errors.
func (b *Builder) Build(ctx context.Context, zones, tracts *geometry.Collection) (*Crosswalk, error) {
	log := zap.L().With(zap.String("component", "crosswalk"))
	start := time.Now()

	var index spatial.Index[*geometry.Feature]
	for _, t := range tracts.Features() {
		index.InsertShape(t.Shape, t)
	}

	results, err := spatial.Shard(ctx, zones.Features(), b.opts.Workers,
		func(ctx context.Context, chunk []*geometry.Feature) ([]zoneResult, error) {
			out := make([]zoneResult, 0, len(chunk))
			for _, z := range chunk {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				out = append(out, zoneResult{zoneID: z.ID, entries: b.apportion(z, &index)})
			}
			return out, nil
		})
	if err != nil {
		return nil, eris.Wrap(err, "crosswalk: build")
	}

	var entries []Entry
	var unmatched []string
	for _, r := range results {
		if len(r.entries) == 0 {
			unmatched = append(unmatched, r.zoneID)
			continue
		}
		entries = append(entries, r.entries...)
	}
	cw := New(entries, unmatched)

	stats := cw.Stats()
	if len(unmatched) > 0 {
		log.Warn("zones without tract overlap",
			zap.Int("count", len(unmatched)),
			zap.Strings("zone_ids", unmatched),
		)
	}
	log.Info("crosswalk built",
		zap.Int("zones", stats.Zones),
		zap.Int("entries", stats.Entries),
		zap.Int("simple_zones", stats.SimpleZones),
		zap.Int("max_tracts", stats.MaxTracts),
		zap.Int("partial_covered", stats.PartialCovered),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return cw, nil
}

// apportion computes the entries of one zone, ordered by tract.
func (b *Builder) apportion(zone *geometry.Feature, index *spatial.Index[*geometry.Feature]) []Entry {
	zoneArea := zone.Shape.Area()
	if !(zoneArea > 0) {
		return nil
	}
	minX, minY, maxX, maxY := zone.Shape.Bounds()

	var candidates []*geometry.Feature
	index.Search(minX, minY, maxX, maxY, func(t *geometry.Feature) bool {
		candidates = append(candidates, t)
		return true
	})
	// Index traversal order is not stable; the output must be.
	slices.SortFunc(candidates, func(x, y *geometry.Feature) int { return geometry.CompareIDs(x.ID, y.ID) })

	var entries []Entry
	for _, t := range candidates {
		area := b.engine.OverlapArea(zone.Shape, t.Shape)
		if area <= 0 || area < b.opts.Epsilon*zoneArea {
			continue
		}
		w := math.Min(area/zoneArea, 1)
		if b.opts.MinWeight > 0 && w < b.opts.MinWeight {
			continue
		}
		entries = append(entries, Entry{ZoneID: zone.ID, TractID: t.ID, Weight: w})
	}

	if b.opts.Renormalize && len(entries) > 0 {
		sum := 0.0
		for _, e := range entries {
			sum += e.Weight
		}
		for i := range entries {
			entries[i].Weight = math.Min(entries[i].Weight/sum, 1)
		}
	}
	return entries
}
