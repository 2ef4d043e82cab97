// Package pipeline runs the build stages in dependency order: geometry,
// then crosswalk and adjacency in parallel, then normalization, then the
// merge. Every executed stage writes to its own staging directory and is
// published only when it succeeds.
package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roomfulmoshe/Vertiport-Planner/internal/adjacency"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/artifact"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/config"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/crosswalk"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/demand"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/fault"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/geometry"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/merge"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/publish"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/runlog"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/source"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/spatial"
)

// statusLoaded marks a stage whose published output was read without
// being selected.
const statusLoaded runlog.Status = "loaded"

// Stage names.
const (
	StageGeometry  = "geometry"
	StageCrosswalk = "crosswalk"
	StageAdjacency = "adjacency"
	StageNormalize = "normalize"
	StageMerge     = "merge"
)

// AllStages lists every stage in execution order.
var AllStages = []string{StageGeometry, StageCrosswalk, StageAdjacency, StageNormalize, StageMerge}

// ParseStages validates a stage selection. An empty selection means every
// stage.
func ParseStages(names []string) ([]string, error) {
	if len(names) == 0 {
		return slices.Clone(AllStages), nil
	}
	picked := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if !slices.Contains(AllStages, n) {
			return nil, fault.NewConfigurationError("stages", "unknown stage %q, want one of %s", n, strings.Join(AllStages, "|"))
		}
		picked[n] = true
	}
	var out []string
	for _, s := range AllStages {
		if picked[s] {
			out = append(out, s)
		}
	}
	return out, nil
}

// Options selects what a run does.
type Options struct {
	Stages []string
	// Resume reuses published stage outputs whose input fingerprint matches
	// the last successful execution recorded in the ledger.
	Resume bool
}

// StageReport describes what happened to one stage.
type StageReport struct {
	Name        string        `json:"name"`
	Status      runlog.Status `json:"status"`
	Fingerprint string        `json:"fingerprint"`
	Files       []string      `json:"files,omitempty"`
	DurationMs  int64         `json:"duration_ms"`
}

// Report summarizes a run.
type Report struct {
	RunID    string             `json:"run_id,omitempty"`
	Stages   []StageReport      `json:"stages"`
	Manifest *artifact.Manifest `json:"-"`
}

// Pipeline orchestrates the build stages.
type Pipeline struct {
	cfg    *config.Config
	pub    *publish.Publisher
	ledger *runlog.Ledger
	engine spatial.Engine
	format artifact.Format
}

// New creates a Pipeline. ledger may be nil, which disables resume.
func New(cfg *config.Config, pub *publish.Publisher, ledger *runlog.Ledger) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		pub:    pub,
		ledger: ledger,
		engine: spatial.Planar{},
		format: artifact.FormatFromConfig(cfg.Output),
	}
}

// action is what a run does with one stage.
type action int

const (
	actNone action = iota
	actLoad        // read the published output of an earlier run
	actReuse       // fingerprint matches; read the published output
	actRun
)

// state carries stage outputs between stages.
type state struct {
	store     *geometry.Store
	crosswalk *crosswalk.Crosswalk
	graph     *adjacency.Graph
	records   map[string][]demand.Record
	summaries []demand.Summary
}

// Run executes the selected stages. Stages that are not selected but feed
// a selected one are read back from the output directory.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Report, error) {
	log := zap.L().With(zap.String("component", "pipeline"))
	start := time.Now()

	stages, err := ParseStages(opts.Stages)
	if err != nil {
		return nil, err
	}
	fps, err := p.fingerprints()
	if err != nil {
		return nil, err
	}
	plan, err := p.plan(ctx, stages, fps, opts.Resume)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	var run *runlog.Run
	if p.ledger != nil {
		run, err = p.ledger.StartRun(ctx, strings.Join(stages, ","))
		if err != nil {
			return nil, err
		}
		report.RunID = run.ID
	}
	log.Info("pipeline: starting build",
		zap.String("run_id", report.RunID),
		zap.Strings("stages", stages),
		zap.Bool("resume", opts.Resume),
	)

	var mu sync.Mutex
	// trackStage records a stage in the ledger and the report. Executed
	// stages are staged and committed; failures discard the staging
	// directory and leave earlier published outputs untouched.
	trackStage := func(ctx context.Context, name string, load func() error, build func(dir string) (any, error)) error {
		act := plan[name]
		if act == actNone {
			return nil
		}
		stageStart := time.Now()
		sr := StageReport{Name: name, Fingerprint: fps[name]}

		var result any
		if act == actReuse {
			// Carry the recorded result forward so the reused stage stays
			// self-describing.
			if last, lerr := p.ledger.LastPublished(ctx, name); lerr == nil && last != nil && len(last.Result) > 0 {
				result = last.Result
			}
		}
		var ledgerStage *runlog.Stage
		if run != nil && act != actLoad {
			var lerr error
			if ledgerStage, lerr = p.ledger.StartStage(ctx, run.ID, name, fps[name]); lerr != nil {
				return lerr
			}
		}

		var stageErr error
		switch act {
		case actLoad, actReuse:
			sr.Status = runlog.StatusReused
			stageErr = load()
		case actRun:
			sr.Status = runlog.StatusComplete
			sr.Files, result, stageErr = p.execute(ctx, name, build)
		}
		sr.DurationMs = time.Since(stageStart).Milliseconds()

		if ledgerStage != nil {
			if lerr := p.ledger.FinishStage(ctx, ledgerStage.ID, sr.Status, result, stageErr); lerr != nil {
				log.Warn("pipeline: failed to record stage", zap.String("stage", name), zap.Error(lerr))
			}
		}
		if act == actLoad {
			sr.Status = statusLoaded
		}
		if stageErr != nil {
			sr.Status = runlog.StatusFailed
		}
		mu.Lock()
		report.Stages = append(report.Stages, sr)
		mu.Unlock()

		if stageErr != nil {
			log.Error("pipeline: stage failed",
				zap.String("stage", name),
				zap.Int64("duration_ms", sr.DurationMs),
				zap.Error(stageErr),
			)
			return &fault.StageError{Stage: name, Err: stageErr}
		}
		log.Info("pipeline: stage complete",
			zap.String("stage", name),
			zap.String("status", string(sr.Status)),
			zap.Int64("duration_ms", sr.DurationMs),
		)
		return nil
	}

	st := &state{records: make(map[string][]demand.Record)}
	runErr := p.runStages(ctx, st, report, run, trackStage)

	if run != nil {
		if lerr := p.ledger.FinishRun(ctx, run.ID, runErr); lerr != nil {
			log.Warn("pipeline: failed to record run", zap.Error(lerr))
		}
	}
	slices.SortFunc(report.Stages, func(a, b StageReport) int {
		return slices.Index(AllStages, a.Name) - slices.Index(AllStages, b.Name)
	})
	if runErr != nil {
		return report, runErr
	}
	log.Info("pipeline: build complete",
		zap.String("run_id", report.RunID),
		zap.Int("stages", len(report.Stages)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return report, nil
}

type tracker func(ctx context.Context, name string, load func() error, build func(dir string) (any, error)) error

func (p *Pipeline) runStages(ctx context.Context, st *state, report *Report, run *runlog.Run, track tracker) error {
	loadGeometry := func() error {
		s, err := geometry.Load(ctx, p.cfg.Geometry)
		st.store = s
		return err
	}
	err := track(ctx, StageGeometry, loadGeometry, func(dir string) (any, error) {
		if err := loadGeometry(); err != nil {
			return nil, err
		}
		if err := artifact.WriteTracts(dir, st.store.Tracts); err != nil {
			return nil, err
		}
		return map[string]int{"zones": st.store.Zones.Len(), "tracts": st.store.Tracts.Len()}, nil
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return track(gctx, StageCrosswalk, func() error {
			cw, err := artifact.ReadCrosswalk(gctx, p.pub.Root())
			st.crosswalk = cw
			return err
		}, func(dir string) (any, error) {
			b := crosswalk.NewBuilder(p.engine, crosswalk.OptionsFromConfig(p.cfg.Crosswalk, p.cfg.Pipeline.Workers))
			cw, err := b.Build(gctx, st.store.Zones, st.store.Tracts)
			if err != nil {
				return nil, err
			}
			st.crosswalk = cw
			return cw.Stats(), artifact.WriteCrosswalk(dir, cw)
		})
	})
	g.Go(func() error {
		return track(gctx, StageAdjacency, func() error {
			graph, err := artifact.ReadNeighbors(gctx, p.pub.Root(), st.store.Tracts.IDs(),
				p.cfg.Adjacency.ThresholdDistance, p.cfg.Adjacency.Policy, p.format)
			st.graph = graph
			return err
		}, func(dir string) (any, error) {
			b := adjacency.NewBuilder(p.engine, adjacency.OptionsFromConfig(p.cfg.Adjacency, p.cfg.Pipeline.Workers))
			graph, err := b.Build(gctx, st.store.Tracts)
			if err != nil {
				return nil, err
			}
			st.graph = graph
			return graph.Stats(), artifact.WriteNeighbors(dir, graph, p.cfg.Output.NeighborConvention, p.format)
		})
	})
	if err := g.Wait(); err != nil {
		return err
	}

	err = track(ctx, StageNormalize, func() error {
		for _, sc := range p.cfg.Sources {
			recs, err := artifact.ReadRecords(ctx, p.pub.Root(), sc.Name)
			if err != nil {
				return err
			}
			st.records[sc.Name] = recs
		}
		st.summaries = p.publishedSummaries(ctx)
		return nil
	}, func(dir string) (any, error) {
		return p.normalize(ctx, st, dir)
	})
	if err != nil {
		return err
	}

	return track(ctx, StageMerge, func() error {
		m, err := artifact.ReadManifest(p.pub.Root())
		report.Manifest = m
		return err
	}, func(dir string) (any, error) {
		return p.merge(ctx, st, report, run, dir)
	})
}

// execute runs build in a fresh staging directory and publishes it.
func (p *Pipeline) execute(ctx context.Context, name string, build func(dir string) (any, error)) ([]string, any, error) {
	staging, err := p.pub.Stage(name)
	if err != nil {
		return nil, nil, err
	}
	result, err := build(staging.Dir)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		if derr := staging.Discard(); derr != nil {
			zap.L().Warn("pipeline: failed to discard staging", zap.String("stage", name), zap.Error(derr))
		}
		return nil, nil, err
	}
	files, err := staging.Commit(ctx)
	if err != nil {
		return nil, nil, err
	}
	return files, result, nil
}

func (p *Pipeline) normalize(ctx context.Context, st *state, dir string) ([]demand.Summary, error) {
	var zones demand.ZoneLookup
	if st.crosswalk != nil {
		zones = st.crosswalk
	}
	n := demand.NewNormalizer(zones, st.store.Tracts, p.cfg.Pipeline.SkipTolerance, p.cfg.Pipeline.Workers)

	summaries := make([]demand.Summary, 0, len(p.cfg.Sources))
	for _, sc := range p.cfg.Sources {
		t, err := readSource(ctx, sc)
		if err != nil {
			return nil, err
		}
		res, err := n.Normalize(ctx, t, sc)
		if err != nil {
			return nil, err
		}
		if err := artifact.WriteRecords(dir, sc.Name, res.Records); err != nil {
			return nil, err
		}
		st.records[sc.Name] = res.Records
		summaries = append(summaries, res.Summary)
	}
	st.summaries = summaries
	return summaries, nil
}

// publishedSummaries recovers the per-source summaries of the published
// normalized tables from the ledger, when it has them.
func (p *Pipeline) publishedSummaries(ctx context.Context) []demand.Summary {
	if p.ledger == nil {
		return nil
	}
	last, err := p.ledger.LastPublished(ctx, StageNormalize)
	if err != nil || last == nil || len(last.Result) == 0 {
		return nil
	}
	var out []demand.Summary
	if err := json.Unmarshal(last.Result, &out); err != nil {
		return nil
	}
	return out
}

func (p *Pipeline) merge(ctx context.Context, st *state, report *Report, run *runlog.Run, dir string) (any, error) {
	sets := make([][]demand.Record, 0, len(p.cfg.Sources))
	for _, sc := range p.cfg.Sources {
		sets = append(sets, st.records[sc.Name])
	}
	m := merge.NewMerger(p.engine, st.store.Tracts, st.graph, merge.OptionsFromConfig(p.cfg.Merge, p.cfg.Sources))
	res, err := m.Merge(ctx, sets...)
	if err != nil {
		return nil, err
	}
	if err := artifact.WriteUniversal(dir, res, p.format); err != nil {
		return nil, err
	}

	manifest := &artifact.Manifest{
		GeneratedAt:  time.Now().UTC(),
		DistanceUnit: p.cfg.Output.DistanceUnit,
		Precision:    p.cfg.Output.Precision,
		Merge:        res.Meta,
		Sources:      st.summaries,
		Adjacency: &artifact.AdjacencyManifest{
			ThresholdMeters: st.graph.Threshold(),
			Policy:          st.graph.Policy(),
			Convention:      p.cfg.Output.NeighborConvention,
			Stats:           st.graph.Stats(),
		},
	}
	if run != nil {
		manifest.RunID = run.ID
	}
	if st.crosswalk != nil {
		stats := st.crosswalk.Stats()
		manifest.Crosswalk = &stats
	}
	if err := artifact.WriteManifest(dir, manifest); err != nil {
		return nil, err
	}
	if n := p.cfg.Output.XLSXTopN; n > 0 {
		if err := artifact.WriteTopXLSX(dir, res, n, p.format); err != nil {
			return nil, err
		}
	}
	report.Manifest = manifest
	return res.Meta, nil
}

// plan decides, per stage, whether to run it, reuse or load its published
// output, or leave it alone.
func (p *Pipeline) plan(ctx context.Context, stages []string, fps map[string]string, resume bool) (map[string]action, error) {
	selected := make(map[string]bool, len(stages))
	for _, s := range stages {
		selected[s] = true
	}
	plan := make(map[string]action, len(AllStages))

	decide := func(name string) (action, error) {
		if !selected[name] {
			return actNone, nil
		}
		if resume && p.ledger != nil {
			ok, err := p.reusable(ctx, name, fps[name])
			if err != nil {
				return actNone, err
			}
			if ok {
				return actReuse, nil
			}
		}
		return actRun, nil
	}
	// needed upgrades an unselected stage to a load when a later stage runs.
	needed := func(name string, needed bool) {
		if plan[name] == actNone && needed {
			plan[name] = actLoad
		}
	}

	var err error
	for _, s := range AllStages {
		if plan[s], err = decide(s); err != nil {
			return nil, err
		}
	}
	needed(StageNormalize, plan[StageMerge] == actRun)
	needed(StageAdjacency, plan[StageMerge] == actRun)
	needed(StageCrosswalk, plan[StageNormalize] == actRun && p.hasZoneSources())

	anyOther := false
	for _, s := range AllStages[1:] {
		anyOther = anyOther || plan[s] != actNone
	}
	needed(StageGeometry, anyOther)
	// Geometry has no cached form: reusing it still means loading it.
	return plan, nil
}

// reusable reports whether the last published execution of name had the
// same fingerprint and its outputs are still in place.
func (p *Pipeline) reusable(ctx context.Context, name, fp string) (bool, error) {
	last, err := p.ledger.LastPublished(ctx, name)
	if err != nil {
		return false, err
	}
	if last == nil || last.Fingerprint != fp {
		return false, nil
	}
	for _, f := range p.outputs(name) {
		if _, err := os.Stat(filepath.Join(p.pub.Root(), f)); err != nil {
			return false, nil
		}
	}
	return true, nil
}

// outputs lists the files a stage publishes, relative to the output
// directory.
func (p *Pipeline) outputs(name string) []string {
	switch name {
	case StageGeometry:
		return []string{artifact.TractsFile}
	case StageCrosswalk:
		return []string{artifact.CrosswalkFile, artifact.UnmatchedFile}
	case StageAdjacency:
		return []string{artifact.NeighborsFile, artifact.NeighborsJSONFile}
	case StageNormalize:
		out := make([]string, 0, len(p.cfg.Sources))
		for _, sc := range p.cfg.Sources {
			rel, _ := filepath.Rel(p.pub.Root(), artifact.NormalizedPath(p.pub.Root(), sc.Name))
			out = append(out, rel)
		}
		return out
	case StageMerge:
		out := []string{artifact.UniversalFile, artifact.ManifestFile}
		if p.cfg.Output.XLSXTopN > 0 {
			out = append(out, artifact.TopXLSXFile)
		}
		return out
	}
	return nil
}

func (p *Pipeline) hasZoneSources() bool {
	for _, sc := range p.cfg.Sources {
		if sc.KeySpace == demand.KeySpaceZone {
			return true
		}
	}
	return false
}

func readSource(ctx context.Context, sc config.SourceConfig) (*source.Table, error) {
	t, err := source.Read(ctx, sc.Path, source.OptionsFromConfig(sc))
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read source %s", sc.Name)
	}
	return t, nil
}
