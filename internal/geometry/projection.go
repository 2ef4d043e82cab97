package geometry

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Projection methods that can be inverted to geographic coordinates.
const (
	MethodLambertConic       = "lambert_conformal_conic"
	MethodTransverseMercator = "transverse_mercator"
)

const (
	maxLatitudeIterations     = 15
	latitudeConvergenceRadian = 1e-12
)

// Projection holds the parameters of a conformal map projection. Angles are
// degrees; false easting and northing are in the reference's linear unit.
type Projection struct {
	Method        string
	Lat0, Lon0    float64
	Lat1, Lat2    float64
	K0            float64
	FalseEasting  float64
	FalseNorthing float64
}

// planar maps geographic radians to projected meters (before false origin)
// and back.
type planar interface {
	forward(lon, lat float64) (x, y float64)
	inverse(x, y float64) (lon, lat float64)
}

var wgs84E = math.Sqrt(wgs84E2)

func rad(deg float64) float64 { return deg * math.Pi / 180 }
func deg(r float64) float64   { return r * 180 / math.Pi }

func (p *Projection) mapping() (planar, error) {
	k0 := p.K0
	if k0 == 0 {
		k0 = 1
	}
	switch p.Method {
	case MethodLambertConic:
		return newLambertConic(rad(p.Lat0), rad(p.Lon0), rad(p.Lat1), rad(p.Lat2), k0)
	case MethodTransverseMercator:
		return newTransverseMercator(rad(p.Lat0), rad(p.Lon0), k0), nil
	default:
		return nil, eris.Errorf("geometry: unsupported projection method %q", p.Method)
	}
}

// lambertConic is the ellipsoidal Lambert conformal conic with one or two
// standard parallels.
type lambertConic struct {
	lon0  float64
	n, aF float64
	rho0  float64
}

func conicM(phi float64) float64 {
	s := math.Sin(phi)
	return math.Cos(phi) / math.Sqrt(1-wgs84E2*s*s)
}

func conicT(phi float64) float64 {
	s := math.Sin(phi)
	return math.Tan(math.Pi/4-phi/2) / math.Pow((1-wgs84E*s)/(1+wgs84E*s), wgs84E/2)
}

func newLambertConic(lat0, lon0, lat1, lat2, k0 float64) (*lambertConic, error) {
	m1, t1 := conicM(lat1), conicT(lat1)
	var n float64
	if math.Abs(lat1-lat2) < 1e-12 {
		n = math.Sin(lat1)
	} else {
		n = (math.Log(m1) - math.Log(conicM(lat2))) / (math.Log(t1) - math.Log(conicT(lat2)))
	}
	if n == 0 || math.IsNaN(n) {
		return nil, eris.New("geometry: degenerate conic standard parallels")
	}
	aF := wgs84A * k0 * m1 / (n * math.Pow(t1, n))
	return &lambertConic{
		lon0: lon0,
		n:    n,
		aF:   aF,
		rho0: aF * math.Pow(conicT(lat0), n),
	}, nil
}

func (l *lambertConic) forward(lon, lat float64) (float64, float64) {
	rho := l.aF * math.Pow(conicT(lat), l.n)
	theta := l.n * (lon - l.lon0)
	return rho * math.Sin(theta), l.rho0 - rho*math.Cos(theta)
}

func (l *lambertConic) inverse(x, y float64) (float64, float64) {
	dy := l.rho0 - y
	rho := math.Copysign(math.Hypot(x, dy), l.n)
	theta := math.Atan2(x, dy)
	if l.n < 0 {
		theta = math.Atan2(-x, -dy)
	}
	lon := theta/l.n + l.lon0
	if rho == 0 {
		return lon, math.Copysign(math.Pi/2, l.n)
	}
	t := math.Pow(rho/l.aF, 1/l.n)
	return lon, latitudeFromT(t)
}

func latitudeFromT(t float64) float64 {
	phi := math.Pi/2 - 2*math.Atan(t)
	for range maxLatitudeIterations {
		s := math.Sin(phi)
		next := math.Pi/2 - 2*math.Atan(t*math.Pow((1-wgs84E*s)/(1+wgs84E*s), wgs84E/2))
		if math.Abs(next-phi) < latitudeConvergenceRadian {
			return next
		}
		phi = next
	}
	return phi
}

// transverseMercator uses the series expansions accurate to well under a
// millimeter within a UTM-width zone.
type transverseMercator struct {
	lon0 float64
	k0   float64
	m0   float64
	ep2  float64
}

func newTransverseMercator(lat0, lon0, k0 float64) *transverseMercator {
	return &transverseMercator{lon0: lon0, k0: k0, m0: meridianArc(lat0), ep2: wgs84E2 / (1 - wgs84E2)}
}

// meridianArc is the distance along the meridian from the equator to phi.
func meridianArc(phi float64) float64 {
	e2, e4, e6 := wgs84E2, wgs84E2*wgs84E2, wgs84E2*wgs84E2*wgs84E2
	return wgs84A * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))
}

func (m *transverseMercator) forward(lon, lat float64) (float64, float64) {
	s, c := math.Sincos(lat)
	n := wgs84A / math.Sqrt(1-wgs84E2*s*s)
	t := math.Tan(lat) * math.Tan(lat)
	cc := m.ep2 * c * c
	a := (lon - m.lon0) * c
	a2 := a * a
	x := m.k0 * n * (a + (1-t+cc)*a2*a/6 + (5-18*t+t*t+72*cc-58*m.ep2)*a2*a2*a/120)
	y := m.k0 * (meridianArc(lat) - m.m0 + n*math.Tan(lat)*(a2/2+
		(5-t+9*cc+4*cc*cc)*a2*a2/24+
		(61-58*t+t*t+600*cc-330*m.ep2)*a2*a2*a2/720))
	return x, y
}

func (m *transverseMercator) inverse(x, y float64) (float64, float64) {
	e2, e4, e6 := wgs84E2, wgs84E2*wgs84E2, wgs84E2*wgs84E2*wgs84E2
	mu := (m.m0 + y/m.k0) / (wgs84A * (1 - e2/4 - 3*e4/64 - 5*e6/256))
	r := math.Sqrt(1 - e2)
	e1 := (1 - r) / (1 + r)
	phi1 := mu + (3*e1/2-27*e1*e1*e1/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*e1*e1*e1*e1/32)*math.Sin(4*mu) +
		(151*e1*e1*e1/96)*math.Sin(6*mu) +
		(1097*e1*e1*e1*e1/512)*math.Sin(8*mu)

	s, c := math.Sincos(phi1)
	tan := s / c
	c1 := m.ep2 * c * c
	t1 := tan * tan
	w := 1 - e2*s*s
	n1 := wgs84A / math.Sqrt(w)
	r1 := wgs84A * (1 - e2) / (w * math.Sqrt(w))
	d := x / (n1 * m.k0)
	d2 := d * d

	lat := phi1 - (n1*tan/r1)*(d2/2-
		(5+3*t1+10*c1-4*c1*c1-9*m.ep2)*d2*d2/24+
		(61+90*t1+298*c1+45*t1*t1-252*m.ep2-3*c1*c1)*d2*d2*d2/720)
	lon := m.lon0 + (d-(1+2*t1+c1)*d2*d/6+
		(5-2*c1+28*t1-3*c1*c1+8*m.ep2+24*t1*t1)*d2*d2*d/120)/c
	return lon, lat
}

// reprojector converts native coordinates of one reference into the native
// coordinates of another through geographic degrees. Datum shifts between
// NAD83 and WGS84 are ignored.
type reprojector struct {
	from, to CRS
	inv, fwd planar
}

func newReprojector(from, to CRS) (reprojector, error) {
	r := reprojector{from: from, to: to}
	if !from.Geographic {
		if from.Projection == nil {
			return r, eris.Errorf("geometry: projection parameters of %q are unknown", from.Name)
		}
		p, err := from.Projection.mapping()
		if err != nil {
			return r, err
		}
		r.inv = p
	}
	if !to.Geographic {
		if to.Projection == nil {
			return r, eris.Errorf("geometry: projection parameters of %q are unknown", to.Name)
		}
		p, err := to.Projection.mapping()
		if err != nil {
			return r, err
		}
		r.fwd = p
	}
	return r, nil
}

func (r reprojector) point(c geom.Coord) geom.Coord {
	lon, lat := rad(c[0]), rad(c[1])
	if r.inv != nil {
		p := r.from.Projection
		lon, lat = r.inv.inverse(
			(c[0]-p.FalseEasting)*r.from.UnitToMeters,
			(c[1]-p.FalseNorthing)*r.from.UnitToMeters,
		)
	}
	if r.fwd == nil {
		return geom.Coord{deg(lon), deg(lat)}
	}
	x, y := r.fwd.forward(lon, lat)
	p := r.to.Projection
	return geom.Coord{x/r.to.UnitToMeters + p.FalseEasting, y/r.to.UnitToMeters + p.FalseNorthing}
}

func (r reprojector) multiPolygon(mp *geom.MultiPolygon) (*geom.MultiPolygon, error) {
	return mapMultiPolygon(mp, r.point)
}
