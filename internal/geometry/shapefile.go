package geometry

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// record is one feature as read from disk, before projection and dissolve.
type record struct {
	ID       string
	Region   string
	Geometry *geom.MultiPolygon
}

// readShapefile reads every polygon record of a shapefile. The reference
// system comes from the sibling ".prj" file when present.
func readShapefile(shpPath, idField, regionField string) ([]record, string, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, "", eris.Wrapf(err, "geometry: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	idIdx := fieldIndex(reader, idField)
	if idIdx < 0 {
		return nil, "", eris.Errorf("geometry: field %q not found in %s", idField, filepath.Base(shpPath))
	}
	regionIdx := -1
	if regionField != "" {
		if regionIdx = fieldIndex(reader, regionField); regionIdx < 0 {
			return nil, "", eris.Errorf("geometry: field %q not found in %s", regionField, filepath.Base(shpPath))
		}
	}

	var records []record
	for reader.Next() {
		n, shape := reader.Shape()
		rec := record{ID: attribute(reader, idIdx)}
		if regionIdx >= 0 {
			rec.Region = attribute(reader, regionIdx)
		}
		switch s := shape.(type) {
		case *shp.Polygon:
			rec.Geometry = polygonToMultiPolygon(s)
		case *shp.Null, nil:
			rec.Geometry = nil
		default:
			return nil, "", eris.Errorf("geometry: record %d of %s is %T, want polygon", n, filepath.Base(shpPath), shape)
		}
		records = append(records, rec)
	}
	if err := reader.Err(); err != nil {
		return nil, "", eris.Wrapf(err, "geometry: read %s", filepath.Base(shpPath))
	}

	prj, err := readPRJ(shpPath)
	if err != nil {
		return nil, "", err
	}
	return records, prj, nil
}

func readPRJ(shpPath string) (string, error) {
	dir := filepath.Dir(shpPath)
	base := strings.TrimSuffix(filepath.Base(shpPath), filepath.Ext(shpPath))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrap(err, "geometry: read shapefile directory")
	}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(e.Name(), base+".prj") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return "", eris.Wrap(err, "geometry: read .prj")
		}
		return strings.TrimSpace(string(data)), nil
	}
	return "", nil
}

// fieldIndex returns the index of a named field in the shapefile, or -1 if not found.
func fieldIndex(reader *shp.Reader, name string) int {
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), name) {
			return i
		}
	}
	return -1
}

func attribute(reader *shp.Reader, idx int) string {
	return strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
}

// polygonToMultiPolygon converts a shapefile Polygon to a geom.MultiPolygon.
// Shapefile outer rings are clockwise and holes counter-clockwise; each hole
// is attached to the outer ring that contains it.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	var polys [][][]geom.Coord
	var holes [][]geom.Coord
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if start < 0 || end > int32(len(p.Points)) || end-start < 4 {
			zap.L().Debug("geometry: skipping degenerate ring", zap.Int32("part", i))
			continue
		}

		ring := make([]geom.Coord, 0, end-start)
		for j := start; j < end; j++ {
			ring = append(ring, geom.Coord{p.Points[j].X, p.Points[j].Y})
		}
		if ringArea(ring) <= 0 {
			polys = append(polys, [][]geom.Coord{ring})
		} else {
			holes = append(holes, ring)
		}
	}

	for _, h := range holes {
		owner := -1
		for i := range polys {
			if ringContains(polys[i][0], h[0]) {
				owner = i
				break
			}
		}
		if owner < 0 {
			// A counter-clockwise ring outside every shell is a shell
			// written with the wrong winding.
			polys = append(polys, [][]geom.Coord{h})
			continue
		}
		polys[owner] = append(polys[owner], h)
	}
	if len(polys) == 0 {
		return nil
	}

	mp, err := geom.NewMultiPolygon(geom.XY).SetCoords(polys)
	if err != nil {
		zap.L().Debug("geometry: skipping malformed polygon", zap.Error(err))
		return nil
	}
	return mp
}

// ringArea is the signed shoelace area; positive for counter-clockwise.
func ringArea(ring []geom.Coord) float64 {
	var a float64
	n := len(ring)
	for i := 0; i < n; i++ {
		p, q := ring[i], ring[(i+1)%n]
		a += p[0]*q[1] - q[0]*p[1]
	}
	return a / 2
}

func ringContains(ring []geom.Coord, c geom.Coord) bool {
	inside := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		pi, pj := ring[i], ring[j]
		if (pi[1] > c[1]) != (pj[1] > c[1]) &&
			c[0] < (pj[0]-pi[0])*(c[1]-pi[1])/(pj[1]-pi[1])+pi[0] {
			inside = !inside
		}
	}
	return inside
}
