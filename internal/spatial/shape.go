// Package spatial implements the planar predicates the builders depend on:
// overlap area between polygons, point and boundary distance, and an R-tree
// index for candidate lookup. Coordinates are assumed to already be in a
// planar reference measured in meters.
package spatial

import (
	"math"
	"sort"

	"github.com/tidwall/rtree"
	"github.com/twpayne/go-geom"
)

// relTolerance scales a shape's extent into the distance below which two
// points or a point and a segment are treated as coincident.
const relTolerance = 1e-9

type point struct {
	x, y float64
}

type segment struct {
	a, b point
}

func (s segment) bounds() ([2]float64, [2]float64) {
	return [2]float64{math.Min(s.a.x, s.b.x), math.Min(s.a.y, s.b.y)},
		[2]float64{math.Max(s.a.x, s.b.x), math.Max(s.a.y, s.b.y)}
}

// Shape is a polygon set prepared for repeated overlap and distance queries.
// Outer rings are counter-clockwise and holes clockwise; closing vertices are
// removed. A Shape is immutable after NewShape and safe for concurrent use.
type Shape struct {
	rings                  [][]point
	edges                  []segment
	tree                   rtree.RTreeG[int]
	minX, minY, maxX, maxY float64
	area                   float64
	eps                    float64
}

// NewShape prepares a multipolygon. Rings with fewer than three distinct
// vertices are ignored.
func NewShape(mp *geom.MultiPolygon) *Shape {
	s := &Shape{
		minX: math.Inf(1), minY: math.Inf(1),
		maxX: math.Inf(-1), maxY: math.Inf(-1),
	}
	if mp == nil {
		return s
	}
	for _, poly := range mp.Coords() {
		for ri, ring := range poly {
			pts := ringPoints(ring)
			if len(pts) < 3 {
				continue
			}
			a := signedArea(pts)
			// Outer rings CCW (positive), holes CW (negative).
			if (ri == 0 && a < 0) || (ri > 0 && a > 0) {
				reverse(pts)
				a = -a
			}
			s.area += a
			for _, p := range pts {
				s.minX = math.Min(s.minX, p.x)
				s.minY = math.Min(s.minY, p.y)
				s.maxX = math.Max(s.maxX, p.x)
				s.maxY = math.Max(s.maxY, p.y)
			}
			s.rings = append(s.rings, pts)
		}
	}
	if s.area < 0 {
		s.area = 0
	}
	if len(s.rings) == 0 {
		return s
	}
	s.eps = math.Max(relTolerance*math.Max(s.maxX-s.minX, s.maxY-s.minY), 1e-12)

	var raw []segment
	for _, ring := range s.rings {
		n := len(ring)
		for i := 0; i < n; i++ {
			raw = append(raw, segment{ring[i], ring[(i+1)%n]})
		}
	}
	if len(s.rings) > 1 {
		// Parts of a dissolved shape may meet at T-junctions; split edges at
		// every foreign vertex lying on them so inside/outside is constant
		// along each stored edge.
		raw = nodeSegments(raw, s.eps)
	}
	s.edges = raw
	for i, e := range s.edges {
		lo, hi := e.bounds()
		s.tree.Insert(lo, hi, i)
	}
	return s
}

// Empty reports whether the shape has no usable ring.
func (s *Shape) Empty() bool {
	return len(s.rings) == 0
}

// Area returns the enclosed area, holes subtracted.
func (s *Shape) Area() float64 {
	return s.area
}

// Bounds returns the bounding box as minX, minY, maxX, maxY.
func (s *Shape) Bounds() (float64, float64, float64, float64) {
	return s.minX, s.minY, s.maxX, s.maxY
}

// NumVertices returns the number of distinct ring vertices.
func (s *Shape) NumVertices() int {
	n := 0
	for _, r := range s.rings {
		n += len(r)
	}
	return n
}

// Contains reports whether (x, y) lies inside the shape by the nonzero
// winding rule. Points exactly on the boundary may go either way.
func (s *Shape) Contains(x, y float64) bool {
	if s.Empty() || x < s.minX || x > s.maxX || y < s.minY || y > s.maxY {
		return false
	}
	p := point{x, y}
	wn := 0
	s.tree.Search([2]float64{x, y}, [2]float64{s.maxX, y}, func(_, _ [2]float64, i int) bool {
		e := s.edges[i]
		if e.a.y <= y {
			if e.b.y > y && orient(e.a, e.b, p) > 0 {
				wn++
			}
		} else if e.b.y <= y && orient(e.a, e.b, p) < 0 {
			wn--
		}
		return true
	})
	return wn != 0
}

// Centroid returns the area-weighted centroid. Degenerate shapes fall back
// to the mean of their vertices.
func (s *Shape) Centroid() geom.Coord {
	var cx, cy, a2 float64
	ox, oy := s.origin()
	for _, ring := range s.rings {
		n := len(ring)
		for i := 0; i < n; i++ {
			px, py := ring[i].x-ox, ring[i].y-oy
			qx, qy := ring[(i+1)%n].x-ox, ring[(i+1)%n].y-oy
			c := px*qy - qx*py
			a2 += c
			cx += (px + qx) * c
			cy += (py + qy) * c
		}
	}
	if math.Abs(a2) < 1e-12 {
		var sx, sy float64
		n := 0
		for _, ring := range s.rings {
			for _, p := range ring {
				sx += p.x
				sy += p.y
				n++
			}
		}
		if n == 0 {
			return geom.Coord{0, 0}
		}
		return geom.Coord{sx / float64(n), sy / float64(n)}
	}
	return geom.Coord{ox + cx/(3*a2), oy + cy/(3*a2)}
}

// InteriorPoint returns the centroid when it falls inside the shape;
// otherwise the midpoint of the widest interior span on a horizontal line
// through the centroid (or through the vertical middle of the bounds).
func (s *Shape) InteriorPoint() geom.Coord {
	c := s.Centroid()
	if s.Contains(c.X(), c.Y()) {
		return c
	}
	for _, y := range []float64{c.Y(), (s.minY + s.maxY) / 2} {
		if p, ok := s.widestSpan(y); ok {
			return p
		}
	}
	if len(s.rings) > 0 {
		return geom.Coord{s.rings[0][0].x, s.rings[0][0].y}
	}
	return c
}

func (s *Shape) origin() (float64, float64) {
	if s.Empty() {
		return 0, 0
	}
	return (s.minX + s.maxX) / 2, (s.minY + s.maxY) / 2
}

func (s *Shape) widestSpan(y float64) (geom.Coord, bool) {
	var xs []float64
	for _, ring := range s.rings {
		n := len(ring)
		for i, j := 0, n-1; i < n; j, i = i, i+1 {
			pi, pj := ring[i], ring[j]
			if (pi.y > y) != (pj.y > y) {
				xs = append(xs, (pj.x-pi.x)*(y-pi.y)/(pj.y-pi.y)+pi.x)
			}
		}
	}
	if len(xs) < 2 {
		return nil, false
	}
	sort.Float64s(xs)
	best, bestW := -1, 0.0
	for i := 0; i+1 < len(xs); i++ {
		mid := (xs[i] + xs[i+1]) / 2
		if w := xs[i+1] - xs[i]; w > bestW && s.Contains(mid, y) {
			best, bestW = i, w
		}
	}
	if best < 0 {
		return nil, false
	}
	return geom.Coord{(xs[best] + xs[best+1]) / 2, y}, true
}

// nodeSegments splits every segment at the endpoints of other segments that
// lie strictly inside it.
func nodeSegments(segs []segment, eps float64) []segment {
	var tree rtree.RTreeG[int]
	for i, e := range segs {
		lo, hi := e.bounds()
		tree.Insert(lo, hi, i)
	}
	out := make([]segment, 0, len(segs))
	for i, e := range segs {
		lo, hi := e.bounds()
		var ts []float64
		tree.Search([2]float64{lo[0] - eps, lo[1] - eps}, [2]float64{hi[0] + eps, hi[1] + eps},
			func(_, _ [2]float64, j int) bool {
				if j == i {
					return true
				}
				for _, p := range []point{segs[j].a, segs[j].b} {
					if t, ok := paramOn(e, p, eps); ok {
						ts = append(ts, t)
					}
				}
				return true
			})
		out = appendSplit(out, e, ts, eps)
	}
	return out
}

// appendSplit appends the pieces of e cut at the interior parameters ts.
func appendSplit(dst []segment, e segment, ts []float64, eps float64) []segment {
	if len(ts) == 0 {
		return append(dst, e)
	}
	ts = append(ts, 0, 1)
	sort.Float64s(ts)
	length := math.Hypot(e.b.x-e.a.x, e.b.y-e.a.y)
	prev := e.a
	prevT := 0.0
	for _, t := range ts[1:] {
		if (t-prevT)*length <= eps {
			continue
		}
		next := lerp(e, t)
		if t == 1 {
			next = e.b
		}
		dst = append(dst, segment{prev, next})
		prev, prevT = next, t
	}
	return dst
}

func ringPoints(ring []geom.Coord) []point {
	pts := make([]point, 0, len(ring))
	for _, c := range ring {
		if len(c) < 2 {
			continue
		}
		p := point{c[0], c[1]}
		if len(pts) > 0 && pts[len(pts)-1] == p {
			continue
		}
		pts = append(pts, p)
	}
	if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	return pts
}

func signedArea(ring []point) float64 {
	var a float64
	n := len(ring)
	if n == 0 {
		return 0
	}
	ox, oy := ring[0].x, ring[0].y
	for i := 0; i < n; i++ {
		p, q := ring[i], ring[(i+1)%n]
		a += (p.x-ox)*(q.y-oy) - (q.x-ox)*(p.y-oy)
	}
	return a / 2
}

func reverse(pts []point) {
	for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
		pts[i], pts[j] = pts[j], pts[i]
	}
}
