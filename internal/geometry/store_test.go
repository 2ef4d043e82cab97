package geometry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/roomfulmoshe/Vertiport-Planner/internal/config"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/fault"
)

const footSquareMeters = usSurveyFoot * usSurveyFoot

func geometryConfig(zones, tracts string) config.GeometryConfig {
	return config.GeometryConfig{
		Zones:               config.CollectionConfig{Path: zones, IDField: "ID", RegionField: "REGION"},
		Tracts:              config.CollectionConfig{Path: tracts, IDField: "ID", RegionField: "REGION"},
		RepresentativePoint: PointCentroid,
	}
}

func writeFixtures(t *testing.T, dir, prj string) (string, string) {
	t.Helper()
	zones := writeShapefile(t, dir, "zones", []shpFeature{
		{id: "2", region: "Queens", rings: [][]shp.Point{squareCW(1000, 0, 2000, 1000)}},
		{id: "1", region: "Queens", rings: [][]shp.Point{squareCW(0, 0, 1000, 1000)}},
	}, prj)
	tracts := writeShapefile(t, dir, "tracts", []shpFeature{
		{id: "4000200", region: "Queens", rings: [][]shp.Point{squareCW(700, 0, 2000, 1000)}},
		{id: "4000100", region: "Queens", rings: [][]shp.Point{squareCW(0, 0, 700, 1000)}},
	}, prj)
	return zones, tracts
}

func TestLoad_ProjectedShapefiles(t *testing.T) {
	dir := t.TempDir()
	zones, tracts := writeFixtures(t, dir, nyLongIslandFeetPRJ)

	store, err := Load(context.Background(), geometryConfig(zones, tracts))
	require.NoError(t, err)

	assert.False(t, store.CRS.Geographic)
	assert.InDelta(t, usSurveyFoot, store.CRS.UnitToMeters, 1e-15)
	assert.Equal(t, []string{"1", "2"}, store.Zones.IDs())
	assert.Equal(t, []string{"4000100", "4000200"}, store.Tracts.IDs())

	z, err := store.Zones.Get("1")
	require.NoError(t, err)
	assert.Equal(t, "Queens", z.Region)
	assert.InDelta(t, 1e6*footSquareMeters, z.Shape.Area(), 1e-3)

	p, err := store.Tracts.RepresentativePoint("4000100")
	require.NoError(t, err)
	assert.InDelta(t, 350*usSurveyFoot, p.X(), 1e-6)
	assert.InDelta(t, 500*usSurveyFoot, p.Y(), 1e-6)

	mp, err := store.Tracts.Polygon("4000200")
	require.NoError(t, err)
	assert.Equal(t, 1, mp.NumPolygons())
}

func TestLoad_ZippedShapefile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(src, 0o755))
	zones, tracts := writeFixtures(t, src, nyLongIslandFeetPRJ)

	zoneDir := filepath.Join(dir, "zonesrc")
	require.NoError(t, os.MkdirAll(zoneDir, 0o755))
	for _, ext := range []string{".shp", ".shx", ".dbf", ".prj"} {
		base := zones[:len(zones)-len(".shp")]
		require.NoError(t, os.Rename(base+ext, filepath.Join(zoneDir, "taxi_zones"+ext)))
	}
	archive := filepath.Join(dir, "taxi_zones.zip")
	zipFiles(t, zoneDir, archive)

	store, err := Load(context.Background(), geometryConfig(archive, tracts))
	require.NoError(t, err)
	assert.Equal(t, 2, store.Zones.Len())
}

func TestLoad_MissingProjection(t *testing.T) {
	dir := t.TempDir()
	zones, tracts := writeFixtures(t, dir, "")

	_, err := Load(context.Background(), geometryConfig(zones, tracts))
	require.Error(t, err)
	assert.True(t, fault.IsGeometryLoad(err))

	// An explicit reference resolves it.
	cfg := geometryConfig(zones, tracts)
	cfg.Zones.CRS = "EPSG:2263"
	cfg.Tracts.CRS = "EPSG:2263"
	store, err := Load(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Tracts.Len())
}

func TestLoad_DuplicateIdentifier(t *testing.T) {
	dir := t.TempDir()
	zones := writeShapefile(t, dir, "zones", []shpFeature{
		{id: "103", rings: [][]shp.Point{squareCW(0, 0, 10, 10)}},
		{id: "103", rings: [][]shp.Point{squareCW(20, 0, 30, 10)}},
	}, nyLongIslandFeetPRJ)
	tracts := writeShapefile(t, dir, "tracts", []shpFeature{
		{id: "1000100", rings: [][]shp.Point{squareCW(0, 0, 30, 10)}},
	}, nyLongIslandFeetPRJ)

	_, err := Load(context.Background(), geometryConfig(zones, tracts))
	require.Error(t, err)
	var gle *fault.GeometryLoadError
	require.ErrorAs(t, err, &gle)
	assert.Equal(t, ZoneCollection, gle.Collection)
	assert.Equal(t, "103", gle.ID)

	cfg := geometryConfig(zones, tracts)
	cfg.Zones.Dissolve = true
	store, err := Load(context.Background(), cfg)
	require.NoError(t, err)
	z, err := store.Zones.Get("103")
	require.NoError(t, err)
	assert.Equal(t, 2, z.Geometry.NumPolygons())
	assert.InDelta(t, 200*footSquareMeters, z.Shape.Area(), 1e-6)
}

func TestLoad_IdentifierWidth(t *testing.T) {
	dir := t.TempDir()
	zones, tracts := writeFixtures(t, dir, nyLongIslandFeetPRJ)
	cfg := geometryConfig(zones, tracts)
	cfg.Zones.IDWidth = 3
	store, err := Load(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"001", "002"}, store.Zones.IDs())
}

const geographicZones = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"LocationID": 7, "borough": "Queens"},
     "geometry": {"type": "Polygon", "coordinates": [[[-73.93,40.76],[-73.92,40.76],[-73.92,40.77],[-73.93,40.77],[-73.93,40.76]]]}}
  ]
}`

const geographicTracts = `{
  "type": "FeatureCollection",
  "crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:EPSG::4326"}},
  "features": [
    {"type": "Feature", "id": "4006500", "properties": {"BoroName": "Queens"},
     "geometry": {"type": "MultiPolygon", "coordinates": [[[[-73.93,40.76],[-73.92,40.76],[-73.92,40.77],[-73.93,40.77],[-73.93,40.76]]]]}}
  ]
}`

func TestLoad_GeoJSONGeographic(t *testing.T) {
	dir := t.TempDir()
	zones := filepath.Join(dir, "zones.geojson")
	tracts := filepath.Join(dir, "tracts.geojson")
	require.NoError(t, os.WriteFile(zones, []byte(geographicZones), 0o644))
	require.NoError(t, os.WriteFile(tracts, []byte(geographicTracts), 0o644))

	cfg := config.GeometryConfig{
		Zones:  config.CollectionConfig{Path: zones, IDField: "LocationID", RegionField: "borough"},
		Tracts: config.CollectionConfig{Path: tracts, IDField: "GEOID", RegionField: "BoroName"},
	}
	store, err := Load(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, store.CRS.Geographic)

	z, err := store.Zones.Get("7")
	require.NoError(t, err)
	assert.Equal(t, "Queens", z.Region)

	// 0.01° x 0.01° at 40.765°N is roughly 843 m x 1111 m.
	tr, err := store.Tracts.Get("4006500")
	require.NoError(t, err)
	assert.InDelta(t, 843.7*1111.2, tr.Shape.Area(), 0.005*843.7*1111.2)

	// Both collections share one frame, so identical rings coincide.
	assert.InDelta(t, z.Shape.Area(), tr.Shape.Area(), 1e-6)
}

func TestLoad_MixedReferences(t *testing.T) {
	dir := t.TempDir()
	zones, _ := writeFixtures(t, dir, nyLongIslandFeetPRJ)
	tracts := filepath.Join(dir, "tracts.geojson")
	require.NoError(t, os.WriteFile(tracts, []byte(geographicTracts), 0o644))

	cfg := geometryConfig(zones, tracts)
	cfg.Tracts.IDField = "GEOID"
	store, err := Load(context.Background(), cfg)
	require.NoError(t, err)

	// Geographic tracts are brought into the zones' state plane frame.
	assert.False(t, store.CRS.Geographic)
	z, err := store.Zones.Get("1")
	require.NoError(t, err)
	assert.InDelta(t, 1e6*footSquareMeters, z.Shape.Area(), 1e-3)

	tr, err := store.Tracts.Get("4006500")
	require.NoError(t, err)
	assert.InDelta(t, 843.7*1111.2, tr.Shape.Area(), 0.005*843.7*1111.2)
	// 0.075° east of the -74° central meridian and about 66.4 km north of
	// the 40°10' origin, plus the 300 km false easting.
	assert.InDelta(t, 300000+6332, tr.Point.X(), 50)
	assert.InDelta(t, 66437, tr.Point.Y(), 100)
}

func TestLoad_MixedReferencesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src, err := ParseCRS("EPSG:2263")
	require.NoError(t, err)
	toGeographic, err := newReprojector(src, CRS{Geographic: true})
	require.NoError(t, err)

	// A 1 km square in feet, and the same outline in degrees.
	const side = 1000 / usSurveyFoot
	ring := [][2]float64{{1e6, 2e5}, {1e6 + side, 2e5}, {1e6 + side, 2e5 + side}, {1e6, 2e5 + side}, {1e6, 2e5}}
	var coords []string
	for _, c := range ring {
		ll := toGeographic.point(geom.Coord{c[0], c[1]})
		coords = append(coords, fmt.Sprintf("[%.12f,%.12f]", ll[0], ll[1]))
	}
	tracts := filepath.Join(dir, "tracts.geojson")
	require.NoError(t, os.WriteFile(tracts, []byte(`{"type": "FeatureCollection",
  "crs": {"type": "name", "properties": {"name": "EPSG:4326"}},
  "features": [{"type": "Feature", "properties": {"GEOID": "4000100"},
    "geometry": {"type": "Polygon", "coordinates": [[`+strings.Join(coords, ",")+`]]}}]}`), 0o644))

	zones := writeShapefile(t, dir, "zones", []shpFeature{
		{id: "1", region: "Queens", rings: [][]shp.Point{squareCW(1e6, 2e5, 1e6+side, 2e5+side)}},
	}, nyLongIslandFeetPRJ)

	cfg := geometryConfig(zones, tracts)
	cfg.Tracts.IDField = "GEOID"
	store, err := Load(context.Background(), cfg)
	require.NoError(t, err)

	z, err := store.Zones.Get("1")
	require.NoError(t, err)
	tr, err := store.Tracts.Get("4000100")
	require.NoError(t, err)
	assert.InDelta(t, 1e6, z.Shape.Area(), 1e-3)
	assert.InDelta(t, z.Shape.Area(), tr.Shape.Area(), 1e-3)
	assert.InDelta(t, z.Point.X(), tr.Point.X(), 1e-4)
	assert.InDelta(t, z.Point.Y(), tr.Point.Y(), 1e-4)
}

func TestLoad_MixedReferencesUnknownProjection(t *testing.T) {
	dir := t.TempDir()
	zones, _ := writeFixtures(t, dir, `PROJCS["Custom",GEOGCS["GCS_North_American_1983"],PROJECTION["Albers"],UNIT["Meter",1.0]]`)
	tracts := filepath.Join(dir, "tracts.geojson")
	require.NoError(t, os.WriteFile(tracts, []byte(geographicTracts), 0o644))

	cfg := geometryConfig(zones, tracts)
	cfg.Tracts.IDField = "GEOID"
	_, err := Load(context.Background(), cfg)
	var gle *fault.GeometryLoadError
	require.ErrorAs(t, err, &gle)
	assert.Equal(t, ZoneCollection, gle.Collection)
}

func TestLoad_EmptyGeometry(t *testing.T) {
	dir := t.TempDir()
	zones := filepath.Join(dir, "zones.geojson")
	require.NoError(t, os.WriteFile(zones, []byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"LocationID":1},"geometry":null}]}`), 0o644))
	tracts := filepath.Join(dir, "tracts.geojson")
	require.NoError(t, os.WriteFile(tracts, []byte(geographicTracts), 0o644))

	cfg := config.GeometryConfig{
		Zones:  config.CollectionConfig{Path: zones, IDField: "LocationID"},
		Tracts: config.CollectionConfig{Path: tracts, IDField: "GEOID"},
	}
	_, err := Load(context.Background(), cfg)
	var gle *fault.GeometryLoadError
	require.ErrorAs(t, err, &gle)
	assert.Equal(t, "1", gle.ID)
}

func TestLoad_UnreadableFile(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "zones.geojson")
	require.NoError(t, os.WriteFile(bad, []byte("not json"), 0o644))
	_, err := Load(context.Background(), geometryConfig(bad, bad))
	assert.True(t, fault.IsGeometryLoad(err))

	_, err = Load(context.Background(), geometryConfig(filepath.Join(dir, "zones.kml"), bad))
	assert.True(t, fault.IsGeometryLoad(err))
}

func TestCollection_NotFound(t *testing.T) {
	mp := geom.NewMultiPolygon(geom.XY).MustSetCoords([][][]geom.Coord{{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}})
	col, err := NewCollection(TractCollection, []*Feature{NewFeature("1000100", "Manhattan", mp, PointCentroid)})
	require.NoError(t, err)

	_, err = col.RepresentativePoint("9999999")
	var nf *fault.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "tract", nf.Kind)
	assert.Equal(t, "9999999", nf.ID)

	_, err = col.Polygon("9999999")
	assert.True(t, fault.IsNotFound(err))
	assert.True(t, col.Has("1000100"))
}

func TestNewCollection_Empty(t *testing.T) {
	_, err := NewCollection(ZoneCollection, nil)
	assert.True(t, fault.IsGeometryLoad(err))
}

func TestPolygonToMultiPolygon_Holes(t *testing.T) {
	p := shp.Polygon(*shp.NewPolyLine([][]shp.Point{
		squareCW(0, 0, 10, 10),
		squareCCW(2, 2, 4, 4),
		squareCW(20, 20, 30, 30),
	}))
	mp := polygonToMultiPolygon(&p)
	require.NotNil(t, mp)
	require.Equal(t, 2, mp.NumPolygons())
	assert.Equal(t, 2, mp.Polygon(0).NumLinearRings())
	assert.Equal(t, 1, mp.Polygon(1).NumLinearRings())
}
