package adjacency

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/roomfulmoshe/Vertiport-Planner/internal/config"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/fault"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/geometry"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/spatial"
)

// Distance policies.
const (
	// PolicyCentroid measures between representative points.
	PolicyCentroid = "centroid"
	// PolicyBoundary measures the minimum boundary-to-boundary distance.
	PolicyBoundary = "boundary"
)

// Options tunes a build.
type Options struct {
	Threshold float64
	Policy    string
	Workers   int
}

// OptionsFromConfig builds Options from the adjacency config section.
func OptionsFromConfig(cfg config.AdjacencyConfig, workers int) Options {
	return Options{Threshold: cfg.ThresholdDistance, Policy: cfg.Policy, Workers: workers}
}

// Builder computes neighbor graphs with a pluggable geometry engine.
type Builder struct {
	engine spatial.Engine
	opts   Options
}

// NewBuilder creates a Builder. An empty policy means PolicyCentroid.
func NewBuilder(engine spatial.Engine, opts Options) *Builder {
	if opts.Policy == "" {
		opts.Policy = PolicyCentroid
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Builder{engine: engine, opts: opts}
}

// Build links every pair of distinct tracts whose distance under the
// configured policy is at most the threshold. Candidates come from an
// R-tree query expanded by the threshold; each pair is evaluated once, from
// its lower identifier.
func (b *Builder) Build(ctx context.Context, tracts *geometry.Collection) (*Graph, error) {
	log := zap.L().With(zap.String("component", "adjacency"))
	start := time.Now()

	if !(b.opts.Threshold > 0) {
		return nil, fault.NewConfigurationError("adjacency.threshold_distance", "must be positive, got %v", b.opts.Threshold)
	}
	if b.opts.Policy != PolicyCentroid && b.opts.Policy != PolicyBoundary {
		return nil, fault.NewConfigurationError("adjacency.policy", "unknown policy %q", b.opts.Policy)
	}

	var index spatial.Index[*geometry.Feature]
	for _, t := range tracts.Features() {
		if b.opts.Policy == PolicyCentroid {
			index.Insert(t.Point.X(), t.Point.Y(), t.Point.X(), t.Point.Y(), t)
		} else {
			index.InsertShape(t.Shape, t)
		}
	}

	edges, err := spatial.Shard(ctx, tracts.Features(), b.opts.Workers,
		func(ctx context.Context, chunk []*geometry.Feature) ([]Edge, error) {
			var out []Edge
			for _, t := range chunk {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				out = append(out, b.neighborsOf(t, &index)...)
			}
			return out, nil
		})
	if err != nil {
		return nil, eris.Wrap(err, "adjacency: build")
	}

	g := NewGraph(tracts.IDs(), edges, b.opts.Threshold, b.opts.Policy)
	stats := g.Stats()
	log.Info("adjacency graph built",
		zap.String("policy", b.opts.Policy),
		zap.Float64("threshold_m", b.opts.Threshold),
		zap.Int("tracts", stats.Tracts),
		zap.Int("edges", stats.Edges),
		zap.Int("isolated", stats.Isolated),
		zap.Int("max_degree", stats.MaxDegree),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return g, nil
}

// neighborsOf returns the edges from t to every higher-identifier tract
// within the threshold.
func (b *Builder) neighborsOf(t *geometry.Feature, index *spatial.Index[*geometry.Feature]) []Edge {
	r := b.opts.Threshold
	var minX, minY, maxX, maxY float64
	if b.opts.Policy == PolicyCentroid {
		minX, minY, maxX, maxY = t.Point.X(), t.Point.Y(), t.Point.X(), t.Point.Y()
	} else {
		minX, minY, maxX, maxY = t.Shape.Bounds()
	}

	var out []Edge
	index.Search(minX-r, minY-r, maxX+r, maxY+r, func(c *geometry.Feature) bool {
		if geometry.CompareIDs(t.ID, c.ID) >= 0 {
			return true
		}
		var d float64
		if b.opts.Policy == PolicyCentroid {
			d = b.engine.Distance(t.Point, c.Point)
		} else {
			d = b.engine.BoundaryDistance(t.Shape, c.Shape)
		}
		if d <= r {
			out = append(out, Edge{A: t.ID, B: c.ID, Distance: d})
		}
		return true
	})
	return out
}
