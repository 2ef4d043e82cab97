package artifact

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/roomfulmoshe/Vertiport-Planner/internal/adjacency"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/geometry"
)

func neighborsHeader(f Format) []string {
	return []string{"tract_id", "neighbor_id", f.DistanceHeader()}
}

// WriteNeighbors publishes the neighbor graph. Under NeighborsOnce each
// unordered pair is one row with tract_id < neighbor_id; under
// NeighborsBoth both directions are written, grouped by tract. The
// adjacency list of every tract, isolated ones included, is written to
// neighbors.json.
func WriteNeighbors(dir string, g *adjacency.Graph, convention string, f Format) error {
	err := writeCSV(filepath.Join(dir, NeighborsFile), neighborsHeader(f), func(w *csv.Writer) error {
		if convention != NeighborsBoth {
			for _, e := range g.Edges() {
				if err := w.Write([]string{e.A, e.B, f.Distance(e.Distance)}); err != nil {
					return err
				}
			}
			return nil
		}

		type pair struct{ a, b string }
		dist := make(map[pair]float64, g.Len())
		for _, e := range g.Edges() {
			dist[pair{e.A, e.B}] = e.Distance
		}
		for _, id := range g.Tracts() {
			for _, n := range g.Neighbors(id) {
				k := pair{id, n}
				if geometry.CompareIDs(id, n) > 0 {
					k = pair{n, id}
				}
				if err := w.Write([]string{id, n, f.Distance(dist[k])}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return writeAdjacencyList(filepath.Join(dir, NeighborsJSONFile), g)
}

// writeAdjacencyList writes a JSON object keyed by tract in identifier
// order. encoding/json would sort the keys as plain strings.
func writeAdjacencyList(path string, g *adjacency.Graph) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "artifact: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := bufio.NewWriter(f)
	w.WriteString("{") //nolint:errcheck
	for i, id := range g.Tracts() {
		if i > 0 {
			w.WriteString(",") //nolint:errcheck
		}
		key, _ := json.Marshal(id)
		ns := g.Neighbors(id)
		if ns == nil {
			ns = []string{}
		}
		val, err := json.Marshal(ns)
		if err != nil {
			return eris.Wrap(err, "artifact: marshal neighbors")
		}
		w.WriteString("\n  ") //nolint:errcheck
		w.Write(key)          //nolint:errcheck
		w.WriteString(": ")   //nolint:errcheck
		w.Write(val)          //nolint:errcheck
	}
	w.WriteString("\n}\n") //nolint:errcheck
	if err := w.Flush(); err != nil {
		return eris.Wrapf(err, "artifact: write %s", path)
	}
	return eris.Wrapf(f.Close(), "artifact: close %s", path)
}

// ReadNeighbors rebuilds a graph from a published neighbor table. Either
// convention is accepted. tracts is the tract universe of the graph.
func ReadNeighbors(ctx context.Context, dir string, tracts []string, threshold float64, policy string, f Format) (*adjacency.Graph, error) {
	header := neighborsHeader(f)
	t, err := readTable(ctx, filepath.Join(dir, NeighborsFile), header...)
	if err != nil {
		return nil, err
	}
	edges := make([]adjacency.Edge, 0, len(t.Rows))
	for _, row := range t.Rows {
		d, err := f.ParseDistance(t.get(row, header[2]))
		if err != nil {
			return nil, err
		}
		edges = append(edges, adjacency.Edge{A: t.get(row, "tract_id"), B: t.get(row, "neighbor_id"), Distance: d})
	}
	return adjacency.NewGraph(tracts, edges, threshold, policy), nil
}

// ReadAdjacencyList loads neighbors.json.
func ReadAdjacencyList(dir string) (map[string][]string, error) {
	path := filepath.Join(dir, NeighborsJSONFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: read %s", path)
	}
	var out map[string][]string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrapf(err, "artifact: decode %s", path)
	}
	return out, nil
}
