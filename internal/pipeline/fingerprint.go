package pipeline

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/roomfulmoshe/Vertiport-Planner/internal/runlog"
)

// shapefileSidecars are read together with a ".shp" file.
var shapefileSidecars = []string{".shx", ".dbf", ".prj", ".cpg"}

// fingerprints derives the input fingerprint of every stage. Each stage
// folds in the fingerprints of the stages it reads from, so a change to
// the geometry invalidates everything downstream.
func (p *Pipeline) fingerprints() (map[string]string, error) {
	cfg := p.cfg
	fps := make(map[string]string, len(AllStages))

	geo := runlog.NewFingerprint(StageGeometry)
	if err := geo.JSON(cfg.Geometry); err != nil {
		return nil, err
	}
	for _, path := range []string{cfg.Geometry.Zones.Path, cfg.Geometry.Tracts.Path} {
		if err := addGeometryFile(geo, path); err != nil {
			return nil, err
		}
	}
	fps[StageGeometry] = geo.Sum()

	cw := runlog.NewFingerprint(StageCrosswalk).Add(fps[StageGeometry])
	if err := cw.JSON(cfg.Crosswalk); err != nil {
		return nil, err
	}
	fps[StageCrosswalk] = cw.Sum()

	adj := runlog.NewFingerprint(StageAdjacency).Add(fps[StageGeometry])
	if err := adj.JSON(cfg.Adjacency); err != nil {
		return nil, err
	}
	if err := adj.JSON(p.format); err != nil {
		return nil, err
	}
	adj.Add(cfg.Output.NeighborConvention)
	fps[StageAdjacency] = adj.Sum()

	norm := runlog.NewFingerprint(StageNormalize).Add(fps[StageGeometry]).Add(fps[StageCrosswalk])
	if err := norm.JSON(cfg.Sources); err != nil {
		return nil, err
	}
	if err := norm.JSON(cfg.Pipeline.SkipTolerance); err != nil {
		return nil, err
	}
	for _, sc := range cfg.Sources {
		if err := addFile(norm, sc.Path); err != nil {
			return nil, err
		}
	}
	fps[StageNormalize] = norm.Sum()

	mg := runlog.NewFingerprint(StageMerge).
		Add(fps[StageGeometry]).
		Add(fps[StageAdjacency]).
		Add(fps[StageNormalize])
	if err := mg.JSON(cfg.Merge); err != nil {
		return nil, err
	}
	if err := mg.JSON(cfg.Output); err != nil {
		return nil, err
	}
	fps[StageMerge] = mg.Sum()
	return fps, nil
}

// addGeometryFile adds a geometry file and, for shapefiles, the sidecar
// files that exist next to it.
func addGeometryFile(f *runlog.Fingerprint, path string) error {
	if err := addFile(f, path); err != nil {
		return err
	}
	if !strings.EqualFold(filepath.Ext(path), ".shp") {
		return nil
	}
	base := strings.TrimSuffix(path, filepath.Ext(path))
	for _, ext := range shapefileSidecars {
		for _, candidate := range []string{base + ext, base + strings.ToUpper(ext)} {
			if _, err := os.Stat(candidate); err == nil {
				if err := f.File(candidate); err != nil {
					return err
				}
				break
			}
		}
	}
	return nil
}

// addFile adds a file when it exists. A missing input is left for the
// stage that reads it to report.
func addFile(f *runlog.Fingerprint, path string) error {
	if _, err := os.Stat(path); err != nil {
		f.Add("missing:" + path)
		return nil
	}
	return f.File(path)
}
