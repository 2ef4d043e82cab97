package merge

import (
	"context"
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/roomfulmoshe/Vertiport-Planner/internal/adjacency"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/config"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/demand"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/fault"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/source"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/spatial"
)

type pointMap map[string]geom.Coord

func (p pointMap) RepresentativePoint(id string) (geom.Coord, error) {
	c, ok := p[id]
	if !ok {
		return nil, fault.NewNotFoundError("", "tract", id)
	}
	return c, nil
}

var tracts = pointMap{
	"1": {0, 0},
	"2": {3000, 4000},
	"3": {1000, 0},
	"4": {0, 9000},
}

// 1 and 3 are 1000 m apart and the only adjacent pair.
var graph = adjacency.NewGraph([]string{"1", "2", "3", "4"},
	[]adjacency.Edge{{A: "1", B: "3", Distance: 1000}}, 1609.34, adjacency.PolicyCentroid)

func rec(o, d string, c float64, src string) demand.Record {
	return demand.Record{Origin: o, Destination: d, Count: c, Source: src}
}

func merger(opts Options) *Merger {
	return NewMerger(spatial.Planar{}, tracts, graph, opts)
}

func find(t *testing.T, entries []Entry, o, d string) Entry {
	t.Helper()
	for _, e := range entries {
		if e.Origin == o && e.Destination == d {
			return e
		}
	}
	require.Failf(t, "entry not found", "%s->%s", o, d)
	return Entry{}
}

func TestMerge_SumPolicy(t *testing.T) {
	taxi := []demand.Record{rec("1", "2", 3, "taxi"), rec("1", "2", 2, "taxi"), rec("2", "1", 1, "taxi")}
	lodes := []demand.Record{rec("1", "2", 10, "lodes"), rec("1", "4", 4, "lodes")}

	res, err := merger(Options{Policy: PolicySum, Directional: true}).Merge(context.Background(), taxi, lodes)
	require.NoError(t, err)
	require.Len(t, res.Entries, 3)

	e := res.Entries[0]
	assert.Equal(t, "1", e.Origin)
	assert.Equal(t, "2", e.Destination)
	assert.InDelta(t, 15, e.Count, 1e-12)
	assert.Equal(t, []string{"lodes", "taxi"}, e.Sources)
	assert.InDelta(t, 5, e.Counts["taxi"], 1e-12)
	assert.InDelta(t, 5000, e.Distance, 1e-9)

	assert.Equal(t, "1", res.Entries[1].Origin)
	assert.Equal(t, "4", res.Entries[1].Destination)
	assert.Equal(t, "2", res.Entries[2].Origin)

	back := find(t, res.Entries, "2", "1")
	assert.Equal(t, e.Distance, back.Distance)

	assert.Equal(t, PolicySum, res.Meta.Policy)
	assert.Equal(t, []string{"lodes", "taxi"}, res.Meta.Sources)
	assert.Equal(t, 1, res.Meta.Overlap.SharedPairs)
	assert.Equal(t, 1, res.Meta.Overlap.UniquePairs["lodes"])
	assert.Equal(t, 1, res.Meta.Overlap.UniquePairs["taxi"])
	assert.InDelta(t, 20, res.Meta.OutputMass, 1e-12)
}

func TestMerge_PreferPolicy(t *testing.T) {
	taxi := []demand.Record{rec("1", "2", 3, "taxi")}
	lodes := []demand.Record{rec("1", "2", 10, "lodes"), rec("1", "4", 4, "lodes")}

	res, err := merger(Options{Policy: PolicyPrefer, Directional: true, Precedence: []string{"taxi", "lodes"}}).
		Merge(context.Background(), lodes, taxi)
	require.NoError(t, err)

	e := find(t, res.Entries, "1", "2")
	assert.InDelta(t, 3, e.Count, 1e-12)
	assert.Equal(t, []string{"taxi"}, e.Sources)
	assert.InDelta(t, 10, e.Counts["lodes"], 1e-12)

	only := find(t, res.Entries, "1", "4")
	assert.InDelta(t, 4, only.Count, 1e-12)
	assert.Equal(t, []string{"lodes"}, only.Sources)
	assert.Equal(t, []string{"taxi", "lodes"}, res.Meta.Precedence)
}

func TestMerge_SeparatePolicy(t *testing.T) {
	res, err := merger(Options{Policy: PolicySeparate, Directional: true}).Merge(context.Background(),
		[]demand.Record{rec("1", "2", 3, "taxi")},
		[]demand.Record{rec("1", "2", 10, "lodes")})
	require.NoError(t, err)

	e := find(t, res.Entries, "1", "2")
	assert.Equal(t, map[string]float64{"taxi": 3, "lodes": 10}, e.Counts)
	assert.InDelta(t, 13, e.Count, 1e-12)
	assert.Equal(t, PolicySeparate, res.Meta.Policy)
}

func TestMerge_WeightedPolicy(t *testing.T) {
	taxi := []demand.Record{rec("1", "2", 50, "taxi"), rec("1", "4", 100, "taxi")}
	lodes := []demand.Record{rec("1", "2", 8, "lodes"), rec("2", "4", 2, "lodes")}

	res, err := merger(Options{
		Policy:      PolicyWeighted,
		Directional: true,
		Weights:     map[string]float64{"taxi": 0.5, "lodes": 0.5},
	}).Merge(context.Background(), taxi, lodes)
	require.NoError(t, err)

	assert.InDelta(t, 0.5*0.5+0.5*1, find(t, res.Entries, "1", "2").Count, 1e-12)
	assert.InDelta(t, 0.5, find(t, res.Entries, "1", "4").Count, 1e-12)
	assert.InDelta(t, 0.5*0.25, find(t, res.Entries, "2", "4").Count, 1e-12)
	assert.Equal(t, map[string]float64{"taxi": 0.5, "lodes": 0.5}, res.Meta.Weights)
}

func TestMerge_WeightedPeakIncludesExcludedPairs(t *testing.T) {
	// The taxi peak is the 2->2 self pair and the lodes peak is the
	// adjacent 1->3 pair; both are dropped from the output but still scale it.
	taxi := []demand.Record{rec("2", "2", 40, "taxi"), rec("1", "2", 10, "taxi")}
	lodes := []demand.Record{rec("1", "3", 20, "lodes"), rec("1", "2", 5, "lodes")}

	res, err := merger(Options{
		Policy:          PolicyWeighted,
		Directional:     true,
		ExcludeSelf:     true,
		ExcludeAdjacent: true,
		Weights:         map[string]float64{"taxi": 1, "lodes": 1},
	}).Merge(context.Background(), taxi, lodes)
	require.NoError(t, err)

	require.Len(t, res.Entries, 1)
	assert.InDelta(t, (10.0/40+5.0/20)/2, find(t, res.Entries, "1", "2").Count, 1e-12)
	assert.Equal(t, map[string]float64{"taxi": 40, "lodes": 20}, res.Meta.Peaks)
}

func TestMerge_AdjacentPairs(t *testing.T) {
	records := []demand.Record{rec("1", "3", 7, "taxi"), rec("3", "1", 2, "taxi"), rec("1", "2", 1, "taxi")}

	flagged, err := merger(Options{Policy: PolicySum, Directional: true}).Merge(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, flagged.Entries, 3)
	assert.True(t, find(t, flagged.Entries, "1", "3").Adjacent)
	assert.True(t, find(t, flagged.Entries, "3", "1").Adjacent)
	assert.False(t, find(t, flagged.Entries, "1", "2").Adjacent)
	assert.Equal(t, 2, flagged.Meta.FlaggedAdjacent)

	excluded, err := merger(Options{Policy: PolicySum, Directional: true, ExcludeAdjacent: true}).
		Merge(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, excluded.Entries, 1)
	assert.Equal(t, 2, excluded.Meta.DroppedAdjacent)
	assert.InDelta(t, 9, excluded.Meta.DroppedAdjacentMass, 1e-12)
}

func TestMerge_SelfPairs(t *testing.T) {
	records := []demand.Record{rec("2", "2", 5, "taxi"), rec("1", "2", 1, "taxi")}

	kept, err := merger(Options{Policy: PolicySum, Directional: true}).Merge(context.Background(), records)
	require.NoError(t, err)
	self := find(t, kept.Entries, "2", "2")
	assert.Zero(t, self.Distance)
	assert.False(t, self.Adjacent)

	dropped, err := merger(Options{Policy: PolicySum, Directional: true, ExcludeSelf: true}).
		Merge(context.Background(), records)
	require.NoError(t, err)
	assert.Len(t, dropped.Entries, 1)
	assert.Equal(t, 1, dropped.Meta.DroppedSelf)
}

func TestMerge_Undirected(t *testing.T) {
	records := []demand.Record{rec("2", "1", 4, "taxi"), rec("1", "2", 6, "taxi"), rec("4", "2", 1, "lodes")}

	res, err := merger(Options{Policy: PolicySum}).Merge(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "1", res.Entries[0].Origin)
	assert.Equal(t, "2", res.Entries[0].Destination)
	assert.InDelta(t, 10, res.Entries[0].Count, 1e-12)
	assert.Equal(t, "2", res.Entries[1].Origin)
	assert.Equal(t, "4", res.Entries[1].Destination)
	assert.False(t, res.Meta.Directional)
}

func TestMerge_UnknownTract(t *testing.T) {
	_, err := merger(Options{Policy: PolicySum, Directional: true}).Merge(context.Background(),
		[]demand.Record{rec("1", "9999999", 1, "taxi")})
	require.Error(t, err)
	var nf *fault.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, StageName, nf.Stage)
	assert.Equal(t, "9999999", nf.ID)
}

func TestMerge_IndependentOfInputOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	ids := []string{"1", "2", "3", "4"}
	var taxi, lodes []demand.Record
	for i := 0; i < 300; i++ {
		r := rec(ids[rng.Intn(4)], ids[rng.Intn(4)], rng.Float64()*10, "taxi")
		if i%3 == 0 {
			r.Source = "lodes"
			lodes = append(lodes, r)
			continue
		}
		taxi = append(taxi, r)
	}
	opts := Options{Policy: PolicySum, Directional: true}

	first, err := merger(opts).Merge(context.Background(), taxi, lodes)
	require.NoError(t, err)

	rng.Shuffle(len(taxi), func(i, j int) { taxi[i], taxi[j] = taxi[j], taxi[i] })
	second, err := merger(opts).Merge(context.Background(), lodes, taxi)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMerge_ConservesSingleTractSource(t *testing.T) {
	tbl := &source.Table{Path: "od.csv", Header: []string{"o", "d", "n"}}
	want := 0.0
	for i := 0; i < 40; i++ {
		o, d := []string{"1", "2", "3", "4"}[i%4], []string{"2", "4", "1"}[i%3]
		n := float64(i%9) + 0.5
		want += n
		tbl.Rows = append(tbl.Rows, []string{o, d, strconv.FormatFloat(n, 'f', -1, 64)})
	}
	sc := config.SourceConfig{
		Name: "lodes", OriginField: "o", DestinationField: "d", CountField: "n",
		KeySpace: demand.KeySpaceTract, Granularity: "aggregate",
	}
	norm, err := demand.NewNormalizer(nil, nil, 0, 2).Normalize(context.Background(), tbl, sc)
	require.NoError(t, err)

	res, err := merger(Options{Policy: PolicySum, Directional: true}).Merge(context.Background(), norm.Records)
	require.NoError(t, err)
	got := 0.0
	for _, e := range res.Entries {
		got += e.Count
	}
	assert.InDelta(t, want, got, 1e-9)
}

func TestOptionsFromConfig(t *testing.T) {
	sources := []config.SourceConfig{
		{Name: "LODES", Granularity: "aggregate"},
		{Name: "yellow", Granularity: "trip"},
		{Name: "fhv", Granularity: "aggregate"},
	}

	opts := OptionsFromConfig(config.MergeConfig{Policy: PolicyPrefer, Directional: true}, sources)
	assert.Equal(t, []string{"yellow", "LODES", "fhv"}, opts.Precedence)
	assert.Equal(t, map[string]float64{"LODES": 1, "yellow": 1, "fhv": 1}, opts.Weights)

	// viper delivers map keys lowercased.
	opts = OptionsFromConfig(config.MergeConfig{
		Policy:     PolicyWeighted,
		Precedence: []string{"fhv"},
		Weights:    map[string]float64{"lodes": 0.5, "yellow": 0.5},
	}, sources)
	assert.Equal(t, []string{"fhv"}, opts.Precedence)
	assert.Equal(t, map[string]float64{"LODES": 0.5, "yellow": 0.5, "fhv": 0}, opts.Weights)
}
