// Package geometry loads the zone and tract polygon collections, reprojects
// them once into a shared planar frame in meters and serves lookups by
// identifier.
package geometry

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roomfulmoshe/Vertiport-Planner/internal/config"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/fault"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/spatial"
)

// Collection names used in errors and logs.
const (
	ZoneCollection  = "zones"
	TractCollection = "tracts"
)

// Representative point modes.
const (
	PointCentroid = "centroid"
	PointInterior = "interior"
)

// Feature is one loaded zone or tract. All coordinates are planar meters.
// Features are immutable after load.
type Feature struct {
	ID       string
	Region   string
	Geometry *geom.MultiPolygon
	Shape    *spatial.Shape
	Point    geom.Coord
}

// NewFeature prepares a projected multipolygon for queries and computes its
// representative point with the given mode.
func NewFeature(id, region string, mp *geom.MultiPolygon, pointMode string) *Feature {
	f := &Feature{ID: id, Region: region, Geometry: mp, Shape: spatial.NewShape(mp)}
	if pointMode == PointInterior {
		f.Point = f.Shape.InteriorPoint()
	} else {
		f.Point = f.Shape.Centroid()
	}
	return f
}

// Collection is an ordered, identifier-indexed set of features.
type Collection struct {
	name     string
	features []*Feature
	index    map[string]*Feature
}

// NewCollection orders features by identifier. Duplicate identifiers and
// empty geometries are GeometryLoadErrors.
func NewCollection(name string, features []*Feature) (*Collection, error) {
	if len(features) == 0 {
		return nil, fault.NewGeometryLoadError(name, "", "collection is empty", nil)
	}
	c := &Collection{
		name:     name,
		features: slices.Clone(features),
		index:    make(map[string]*Feature, len(features)),
	}
	for _, f := range c.features {
		if f.ID == "" {
			return nil, fault.NewGeometryLoadError(name, "", "feature has no identifier", nil)
		}
		if _, dup := c.index[f.ID]; dup {
			e := fault.NewGeometryLoadError(name, "", "duplicate identifier", nil)
			e.ID = f.ID
			return nil, e
		}
		if f.Shape == nil || f.Shape.Empty() || !(f.Shape.Area() > 0) {
			e := fault.NewGeometryLoadError(name, "", "empty geometry", nil)
			e.ID = f.ID
			return nil, e
		}
		c.index[f.ID] = f
	}
	slices.SortFunc(c.features, func(a, b *Feature) int { return CompareIDs(a.ID, b.ID) })
	return c, nil
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Len returns the number of features.
func (c *Collection) Len() int { return len(c.features) }

// Features returns the features ordered by identifier. The slice must not be
// modified.
func (c *Collection) Features() []*Feature { return c.features }

// IDs returns the ordered identifiers.
func (c *Collection) IDs() []string {
	ids := make([]string, len(c.features))
	for i, f := range c.features {
		ids[i] = f.ID
	}
	return ids
}

// Has reports whether id is loaded.
func (c *Collection) Has(id string) bool {
	_, ok := c.index[id]
	return ok
}

// Get returns the feature for id or a NotFoundError.
func (c *Collection) Get(id string) (*Feature, error) {
	f, ok := c.index[id]
	if !ok {
		return nil, fault.NewNotFoundError("", strings.TrimSuffix(c.name, "s"), id)
	}
	return f, nil
}

// RepresentativePoint returns the planar representative point of id.
func (c *Collection) RepresentativePoint(id string) (geom.Coord, error) {
	f, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	return f.Point, nil
}

// Polygon returns the projected geometry of id.
func (c *Collection) Polygon(id string) (*geom.MultiPolygon, error) {
	f, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	return f.Geometry, nil
}

// Store holds both collections in the shared frame.
type Store struct {
	Zones  *Collection
	Tracts *Collection
	CRS    CRS
}

type rawCollection struct {
	name    string
	path    string
	cfg     config.CollectionConfig
	records []record
	crs     CRS
}

// Load reads, validates and reprojects both collections. Any malformed
// input is a *fault.GeometryLoadError.
func Load(ctx context.Context, cfg config.GeometryConfig) (*Store, error) {
	log := zap.L().With(zap.String("component", "geometry"))
	start := time.Now()

	raws := []*rawCollection{
		{name: ZoneCollection, path: cfg.Zones.Path, cfg: cfg.Zones},
		{name: TractCollection, path: cfg.Tracts.Path, cfg: cfg.Tracts},
	}
	g, _ := errgroup.WithContext(ctx)
	for _, rc := range raws {
		g.Go(func() error { return rc.read() })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	zones, tracts := raws[0], raws[1]

	if !sameReference(zones.crs, tracts.crs) {
		target := commonReference(zones.crs, tracts.crs)
		for _, rc := range raws {
			if err := rc.reproject(target); err != nil {
				return nil, err
			}
		}
		log.Info("geometry: reprojected collections to a common reference", zap.String("crs", target.Name))
	}

	var refLon, refLat float64
	if zones.crs.Geographic {
		minX, minY, maxX, maxY := math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)
		for _, rc := range raws {
			for _, r := range rc.records {
				if r.Geometry == nil || r.Geometry.Empty() {
					continue
				}
				b := r.Geometry.Bounds()
				minX, minY = math.Min(minX, b.Min(0)), math.Min(minY, b.Min(1))
				maxX, maxY = math.Max(maxX, b.Max(0)), math.Max(maxY, b.Max(1))
			}
		}
		if math.IsInf(minX, 0) {
			return nil, fault.NewGeometryLoadError(ZoneCollection, zones.path, "no geometry in either collection", nil)
		}
		if minY < -90 || maxY > 90 || minX < -180 || maxX > 180 {
			return nil, fault.NewGeometryLoadError(ZoneCollection, zones.path,
				"coordinates out of range for a geographic reference", nil)
		}
		refLon, refLat = (minX+maxX)/2, (minY+maxY)/2
	}
	proj := newProjector(zones.crs, refLon, refLat)

	zoneCol, err := zones.build(proj, cfg.RepresentativePoint)
	if err != nil {
		return nil, err
	}
	tractCol, err := tracts.build(proj, cfg.RepresentativePoint)
	if err != nil {
		return nil, err
	}

	log.Info("geometry loaded",
		zap.Int("zones", zoneCol.Len()),
		zap.Int("tracts", tractCol.Len()),
		zap.String("crs", zones.crs.Name),
		zap.Bool("geographic", zones.crs.Geographic),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return &Store{Zones: zoneCol, Tracts: tractCol, CRS: zones.crs}, nil
}

func (rc *rawCollection) read() error {
	path := rc.path
	var (
		records []record
		crsText string
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		records, crsText, err = readShapefile(path, rc.cfg.IDField, rc.cfg.RegionField)
	case ".zip":
		dir, derr := os.MkdirTemp("", "vertiport-shp-*")
		if derr != nil {
			return fault.NewGeometryLoadError(rc.name, path, "create temp dir", derr)
		}
		defer os.RemoveAll(dir) //nolint:errcheck
		shpPath, xerr := extractShapefile(path, dir)
		if xerr != nil {
			return fault.NewGeometryLoadError(rc.name, path, "extract archive", xerr)
		}
		records, crsText, err = readShapefile(shpPath, rc.cfg.IDField, rc.cfg.RegionField)
	case ".geojson", ".json":
		records, crsText, err = readGeoJSON(path, rc.cfg.IDField, rc.cfg.RegionField)
	default:
		return fault.NewGeometryLoadError(rc.name, path, "unsupported file type "+filepath.Ext(path), nil)
	}
	if err != nil {
		return fault.NewGeometryLoadError(rc.name, path, "read", err)
	}

	if rc.cfg.CRS != "" {
		crsText = rc.cfg.CRS
	}
	if crsText == "" {
		return fault.NewGeometryLoadError(rc.name, path, "no coordinate reference (missing .prj and no crs option)", nil)
	}
	crs, err := ParseCRS(crsText)
	if err != nil {
		return fault.NewGeometryLoadError(rc.name, path, "unreadable coordinate reference", err)
	}
	rc.records, rc.crs = records, crs
	return nil
}

// commonReference picks the frame mixed inputs are brought into: the first
// projected reference whose parameters are known, else geographic.
func commonReference(refs ...CRS) CRS {
	for _, c := range refs {
		if !c.Geographic && c.Projection != nil {
			return c
		}
	}
	return CRS{Name: "WGS_1984", Geographic: true}
}

// reproject converts the raw records into target in place.
func (rc *rawCollection) reproject(target CRS) error {
	if sameReference(rc.crs, target) {
		return nil
	}
	r, err := newReprojector(rc.crs, target)
	if err != nil {
		return fault.NewGeometryLoadError(rc.name, rc.path,
			"coordinate reference "+rc.crs.Name+" cannot be converted to "+target.Name, err)
	}
	for i := range rc.records {
		g := rc.records[i].Geometry
		if g == nil || g.Empty() {
			continue
		}
		out, err := r.multiPolygon(g)
		if err != nil {
			e := fault.NewGeometryLoadError(rc.name, rc.path, "malformed geometry", err)
			e.ID = rc.records[i].ID
			return e
		}
		rc.records[i].Geometry = out
	}
	rc.crs = target
	return nil
}

// build projects, normalizes identifiers and dissolves duplicates when
// configured.
func (rc *rawCollection) build(proj projector, pointMode string) (*Collection, error) {
	type merged struct {
		region string
		geom   *geom.MultiPolygon
	}
	byID := make(map[string]*merged, len(rc.records))
	var order []string
	dissolved := 0

	for i, r := range rc.records {
		id := NormalizeID(r.ID, rc.cfg.IDWidth, rc.cfg.IDSuffix)
		if id == "" {
			e := fault.NewGeometryLoadError(rc.name, rc.path, "record has no identifier", nil)
			e.ID = "#" + strconv.Itoa(i)
			return nil, e
		}
		if r.Geometry == nil || r.Geometry.Empty() {
			e := fault.NewGeometryLoadError(rc.name, rc.path, "empty geometry", nil)
			e.ID = id
			return nil, e
		}
		projected, err := proj.multiPolygon(r.Geometry)
		if err != nil {
			e := fault.NewGeometryLoadError(rc.name, rc.path, "malformed geometry", err)
			e.ID = id
			return nil, e
		}

		m, seen := byID[id]
		if !seen {
			byID[id] = &merged{region: r.Region, geom: projected}
			order = append(order, id)
			continue
		}
		if !rc.cfg.Dissolve {
			e := fault.NewGeometryLoadError(rc.name, rc.path, "duplicate identifier", nil)
			e.ID = id
			return nil, e
		}
		for j := 0; j < projected.NumPolygons(); j++ {
			if err := m.geom.Push(projected.Polygon(j)); err != nil {
				e := fault.NewGeometryLoadError(rc.name, rc.path, "dissolve", err)
				e.ID = id
				return nil, e
			}
		}
		dissolved++
	}

	features := make([]*Feature, 0, len(order))
	for _, id := range order {
		m := byID[id]
		features = append(features, NewFeature(id, m.region, m.geom, pointMode))
	}
	col, err := NewCollection(rc.name, features)
	if err != nil {
		var gle *fault.GeometryLoadError
		if errors.As(err, &gle) {
			gle.Path = rc.path
		}
		return nil, err
	}
	if dissolved > 0 {
		zap.L().Info("geometry: dissolved duplicate records",
			zap.String("collection", rc.name),
			zap.Int("records", dissolved),
		)
	}
	return col, nil
}
