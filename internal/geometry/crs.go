package geometry

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// US survey foot in meters.
const usSurveyFoot = 0.3048006096012192

// CRS is the subset of a coordinate reference system the loader needs:
// whether coordinates are angular, and how to scale projected units to meters.
type CRS struct {
	Name         string
	Geographic   bool
	UnitToMeters float64
	// Projection is nil when the projected method or its parameters are not
	// recognized. Such references load only alongside the same reference.
	Projection *Projection
}

// New York Long Island state plane, in US survey feet.
var longIsland = &Projection{
	Method:       MethodLambertConic,
	Lat0:         40 + 10.0/60,
	Lon0:         -74,
	Lat1:         41 + 2.0/60,
	Lat2:         40 + 40.0/60,
	K0:           1,
	FalseEasting: 984250,
}

var utm18N = &Projection{Method: MethodTransverseMercator, Lon0: -75, K0: 0.9996, FalseEasting: 500000}

// knownEPSG lists the references accepted by code. Projected systems other
// than these must be supplied as WKT (a ".prj" file).
var knownEPSG = map[int]CRS{
	4326:  {Name: "WGS_1984", Geographic: true},
	4269:  {Name: "NAD_1983", Geographic: true},
	4267:  {Name: "NAD_1927", Geographic: true},
	4258:  {Name: "ETRS_1989", Geographic: true},
	2263:  {Name: "NAD_1983_StatePlane_New_York_Long_Island_FIPS_3104_Feet", UnitToMeters: usSurveyFoot, Projection: longIsland},
	6539:  {Name: "NAD_1983_2011_StatePlane_New_York_Long_Isl_FIPS_3104_US_Feet", UnitToMeters: usSurveyFoot, Projection: longIsland},
	2908:  {Name: "NAD_1983_HARN_StatePlane_New_York_Long_Island_FIPS_3104_Feet", UnitToMeters: usSurveyFoot, Projection: longIsland},
	32618: {Name: "WGS_1984_UTM_Zone_18N", UnitToMeters: 1, Projection: utm18N},
	26918: {Name: "NAD_1983_UTM_Zone_18N", UnitToMeters: 1, Projection: utm18N},
}

var (
	epsgPattern = regexp.MustCompile(`(?i)^(?:EPSG:{1,2}|urn:ogc:def:crs:EPSG:[0-9.]*:)(\d+)$`)
	unitPattern = regexp.MustCompile(`(?i)UNIT\[\s*"([^"]*)"\s*,\s*([0-9.eE+-]+)`)
	namePattern = regexp.MustCompile(`^[A-Z]+\[\s*"([^"]*)"`)
	projPattern = regexp.MustCompile(`(?i)PROJECTION\[\s*"([^"]*)"`)
	parmPattern = regexp.MustCompile(`(?i)PARAMETER\[\s*"([^"]*)"\s*,\s*([0-9.eE+-]+)`)
)

// ParseCRS accepts an EPSG code ("EPSG:2263"), an OGC URN
// ("urn:ogc:def:crs:EPSG::4326", "urn:ogc:def:crs:OGC:1.3:CRS84") or WKT.
func ParseCRS(s string) (CRS, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CRS{}, eris.New("geometry: empty coordinate reference")
	}
	upper := strings.ToUpper(s)
	if strings.HasSuffix(upper, "CRS84") {
		return knownEPSG[4326], nil
	}
	if m := epsgPattern.FindStringSubmatch(s); m != nil {
		code, _ := strconv.Atoi(m[1])
		if code == 3857 || code == 900913 {
			return CRS{}, eris.Errorf("geometry: EPSG:%d does not preserve area or distance", code)
		}
		crs, ok := knownEPSG[code]
		if !ok {
			return CRS{}, eris.Errorf("geometry: unsupported EPSG code %d", code)
		}
		return crs, nil
	}
	return parseWKT(s)
}

func parseWKT(wkt string) (CRS, error) {
	upper := strings.ToUpper(strings.TrimSpace(wkt))
	name := ""
	if m := namePattern.FindStringSubmatch(strings.TrimSpace(wkt)); m != nil {
		name = m[1]
	}

	switch {
	case strings.HasPrefix(upper, "GEOGCS[") || strings.HasPrefix(upper, "GEOGCRS["):
		return CRS{Name: name, Geographic: true}, nil
	case strings.HasPrefix(upper, "PROJCS[") || strings.HasPrefix(upper, "PROJCRS["):
		if strings.Contains(upper, "AUXILIARY_SPHERE") || strings.Contains(upper, "PSEUDO-MERCATOR") ||
			strings.Contains(upper, "PSEUDO_MERCATOR") {
			return CRS{}, eris.Errorf("geometry: web mercator reference %q does not preserve area or distance", name)
		}
		units := unitPattern.FindAllStringSubmatch(wkt, -1)
		if len(units) == 0 {
			return CRS{}, eris.Errorf("geometry: projected reference %q has no linear unit", name)
		}
		// The projected unit is the last UNIT in the outer PROJCS.
		factor, err := strconv.ParseFloat(units[len(units)-1][2], 64)
		if err != nil || !(factor > 0) {
			return CRS{}, eris.Errorf("geometry: projected reference %q has invalid unit %q", name, units[len(units)-1][2])
		}
		return CRS{Name: name, UnitToMeters: factor, Projection: parseProjection(wkt)}, nil
	default:
		return CRS{}, eris.New("geometry: unrecognized coordinate reference text")
	}
}

// parseProjection reads WKT1 projection parameters. Unknown methods and
// WKT2 parameter names yield nil.
func parseProjection(wkt string) *Projection {
	m := projPattern.FindStringSubmatch(wkt)
	if m == nil {
		return nil
	}
	method := strings.ToLower(m[1])
	p := &Projection{K0: 1}
	switch {
	case strings.HasPrefix(method, "lambert_conformal_conic"):
		p.Method = MethodLambertConic
	case method == "transverse_mercator":
		p.Method = MethodTransverseMercator
	default:
		return nil
	}

	seen := map[string]bool{}
	for _, pm := range parmPattern.FindAllStringSubmatch(wkt, -1) {
		v, err := strconv.ParseFloat(pm[2], 64)
		if err != nil {
			return nil
		}
		key := strings.ToLower(pm[1])
		seen[key] = true
		switch key {
		case "false_easting":
			p.FalseEasting = v
		case "false_northing":
			p.FalseNorthing = v
		case "central_meridian", "longitude_of_origin":
			p.Lon0 = v
		case "latitude_of_origin":
			p.Lat0 = v
		case "standard_parallel_1":
			p.Lat1 = v
		case "standard_parallel_2":
			p.Lat2 = v
		case "scale_factor":
			p.K0 = v
		}
	}
	if p.Method == MethodLambertConic {
		if !seen["standard_parallel_1"] {
			p.Lat1 = p.Lat0
		}
		if !seen["standard_parallel_2"] {
			p.Lat2 = p.Lat1
		}
	}
	return p
}

// sameReference reports whether two CRS values describe the same plane.
func sameReference(a, b CRS) bool {
	if a.Geographic != b.Geographic {
		return false
	}
	if a.Geographic {
		return true
	}
	return canonicalName(a.Name) == canonicalName(b.Name) && math.Abs(a.UnitToMeters-b.UnitToMeters) < 1e-12
}

func canonicalName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// WGS84 ellipsoid.
const (
	wgs84A  = 6378137.0
	wgs84F  = 1 / 298.257223563
	wgs84E2 = wgs84F * (2 - wgs84F)
)

// projector maps source coordinates into the shared planar frame in meters.
// Angular input uses a local equirectangular projection scaled by the
// ellipsoid's radii of curvature at the reference latitude, which keeps
// city-extent distortion well under a tenth of a percent.
type projector struct {
	geographic bool
	scale      float64
	lon0, lat0 float64
	kx, ky     float64
}

func newProjector(crs CRS, refLon, refLat float64) projector {
	if !crs.Geographic {
		return projector{scale: crs.UnitToMeters}
	}
	phi := refLat * math.Pi / 180
	sin := math.Sin(phi)
	w := 1 - wgs84E2*sin*sin
	n := wgs84A / math.Sqrt(w)
	m := wgs84A * (1 - wgs84E2) / (w * math.Sqrt(w))
	return projector{
		geographic: true,
		lon0:       refLon,
		lat0:       refLat,
		kx:         n * math.Cos(phi) * math.Pi / 180,
		ky:         m * math.Pi / 180,
	}
}

func (p projector) point(c geom.Coord) geom.Coord {
	if p.geographic {
		return geom.Coord{(c[0] - p.lon0) * p.kx, (c[1] - p.lat0) * p.ky}
	}
	return geom.Coord{c[0] * p.scale, c[1] * p.scale}
}

// multiPolygon returns a projected copy of mp in the XY layout.
func (p projector) multiPolygon(mp *geom.MultiPolygon) (*geom.MultiPolygon, error) {
	return mapMultiPolygon(mp, p.point)
}

func mapMultiPolygon(mp *geom.MultiPolygon, fn func(geom.Coord) geom.Coord) (*geom.MultiPolygon, error) {
	src := mp.Coords()
	dst := make([][][]geom.Coord, len(src))
	for i, poly := range src {
		dst[i] = make([][]geom.Coord, len(poly))
		for j, ring := range poly {
			out := make([]geom.Coord, len(ring))
			for k, c := range ring {
				out[k] = fn(c)
			}
			dst[i][j] = out
		}
	}
	projected, err := geom.NewMultiPolygon(geom.XY).SetCoords(dst)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: project")
	}
	return projected, nil
}
