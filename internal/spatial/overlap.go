package spatial

import (
	"math"

	"github.com/twpayne/go-geom"
)

// Engine is the geometry capability the crosswalk, adjacency and merge
// builders are written against. Implementations must be safe for concurrent
// use.
type Engine interface {
	// OverlapArea returns the area of the intersection of a and b.
	OverlapArea(a, b *Shape) float64
	// Distance returns the distance between two points.
	Distance(p, q geom.Coord) float64
	// BoundaryDistance returns the minimum distance between the two shapes,
	// zero when they touch or overlap.
	BoundaryDistance(a, b *Shape) float64
}

// Planar is the Euclidean Engine over projected coordinates.
type Planar struct{}

var _ Engine = Planar{}

// Distance returns the Euclidean distance between p and q.
func (Planar) Distance(p, q geom.Coord) float64 {
	return math.Hypot(q.X()-p.X(), q.Y()-p.Y())
}

// OverlapArea integrates x·dy over the oriented boundary of a∩b (Green's
// theorem). Every edge of either shape is cut at its crossings with the
// other shape's edges; each piece contributes with coefficient
// [left side in a∩b] - [right side in a∩b], divided by the number of
// coincident edges so shared boundaries and dissolve seams count once.
func (Planar) OverlapArea(a, b *Shape) float64 {
	if a == nil || b == nil || a.Empty() || b.Empty() {
		return 0
	}
	if a.maxX < b.minX || b.maxX < a.minX || a.maxY < b.minY || b.maxY < a.minY {
		return 0
	}
	o := point{
		(math.Min(a.minX, b.minX) + math.Max(a.maxX, b.maxX)) / 2,
		(math.Min(a.minY, b.minY) + math.Max(a.maxY, b.maxY)) / 2,
	}
	eps := math.Max(a.eps, b.eps)

	sum := boundaryIntegral(a, b, a, b, o, eps) + boundaryIntegral(b, a, a, b, o, eps)
	area := sum / 2
	if area < 0 {
		return 0
	}
	return math.Min(area, math.Min(a.area, b.area))
}

// boundaryIntegral sums the contributions of own's edges that fall inside
// other's bounding box. a and b are passed unchanged to classify pieces
// against the intersection.
func boundaryIntegral(own, other, a, b *Shape, o point, eps float64) float64 {
	var sum float64
	lo := [2]float64{other.minX - eps, other.minY - eps}
	hi := [2]float64{other.maxX + eps, other.maxY + eps}
	own.tree.Search(lo, hi, func(_, _ [2]float64, i int) bool {
		e := own.edges[i]
		ts := crossings(e, other, eps)
		for _, piece := range appendSplit(nil, e, ts, eps) {
			sum += pieceContribution(piece, a, b, o, eps)
		}
		return true
	})
	return sum
}

func pieceContribution(s segment, a, b *Shape, o point, eps float64) float64 {
	dx, dy := s.b.x-s.a.x, s.b.y-s.a.y
	length := math.Hypot(dx, dy)
	if length <= eps {
		return 0
	}
	m := point{(s.a.x + s.b.x) / 2, (s.a.y + s.b.y) / 2}
	d := math.Min(eps, length*1e-7)
	nx, ny := -dy/length*d, dx/length*d

	left := a.Contains(m.x+nx, m.y+ny) && b.Contains(m.x+nx, m.y+ny)
	right := a.Contains(m.x-nx, m.y-ny) && b.Contains(m.x-nx, m.y-ny)
	coef := 0.0
	if left {
		coef++
	}
	if right {
		coef--
	}
	if coef == 0 {
		return 0
	}
	k := coincident(a, m, dx/length, dy/length, eps) + coincident(b, m, dx/length, dy/length, eps)
	if k == 0 {
		k = 1
	}
	c := (s.a.x-o.x)*(s.b.y-o.y) - (s.b.x-o.x)*(s.a.y-o.y)
	return coef * c / float64(k)
}

// coincident counts the edges of sh passing through m parallel to (ux, uy).
func coincident(sh *Shape, m point, ux, uy, eps float64) int {
	n := 0
	sh.tree.Search([2]float64{m.x - eps, m.y - eps}, [2]float64{m.x + eps, m.y + eps},
		func(_, _ [2]float64, i int) bool {
			e := sh.edges[i]
			ex, ey := e.b.x-e.a.x, e.b.y-e.a.y
			el := math.Hypot(ex, ey)
			if el == 0 {
				return true
			}
			if math.Abs(ux*ey/el-uy*ex/el) > 1e-6 {
				return true
			}
			if pointSegmentDistance(m, e) <= eps {
				n++
			}
			return true
		})
	return n
}

// crossings returns the interior parameters along e where it meets any edge
// of other, including the ends of collinear overlaps.
func crossings(e segment, other *Shape, eps float64) []float64 {
	var ts []float64
	lo, hi := e.bounds()
	other.tree.Search([2]float64{lo[0] - eps, lo[1] - eps}, [2]float64{hi[0] + eps, hi[1] + eps},
		func(_, _ [2]float64, i int) bool {
			f := other.edges[i]
			if t, ok := properCrossing(e, f); ok {
				ts = append(ts, t)
			}
			for _, p := range []point{f.a, f.b} {
				if t, ok := paramOn(e, p, eps); ok {
					ts = append(ts, t)
				}
			}
			return true
		})
	return ts
}

// properCrossing returns the parameter along e of its intersection with f
// when the two are not parallel and cross strictly inside e.
func properCrossing(e, f segment) (float64, bool) {
	rx, ry := e.b.x-e.a.x, e.b.y-e.a.y
	sx, sy := f.b.x-f.a.x, f.b.y-f.a.y
	den := rx*sy - ry*sx
	scale := math.Hypot(rx, ry) * math.Hypot(sx, sy)
	if scale == 0 || math.Abs(den) <= 1e-12*scale {
		return 0, false
	}
	qx, qy := f.a.x-e.a.x, f.a.y-e.a.y
	t := (qx*sy - qy*sx) / den
	u := (qx*ry - qy*rx) / den
	if t <= 0 || t >= 1 || u < 0 || u > 1 {
		return 0, false
	}
	return t, true
}

// paramOn returns the parameter of p projected onto e when p lies within eps
// of the segment's interior.
func paramOn(e segment, p point, eps float64) (float64, bool) {
	dx, dy := e.b.x-e.a.x, e.b.y-e.a.y
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return 0, false
	}
	t := ((p.x-e.a.x)*dx + (p.y-e.a.y)*dy) / l2
	if t <= 0 || t >= 1 {
		return 0, false
	}
	q := lerp(e, t)
	if math.Hypot(p.x-q.x, p.y-q.y) > eps {
		return 0, false
	}
	return t, true
}

// BoundaryDistance returns zero when the shapes overlap or touch, otherwise
// the minimum distance between any pair of their edges.
func (Planar) BoundaryDistance(a, b *Shape) float64 {
	if a == nil || b == nil || a.Empty() || b.Empty() {
		return math.Inf(1)
	}
	for _, ring := range b.rings {
		if a.Contains(ring[0].x, ring[0].y) {
			return 0
		}
	}
	for _, ring := range a.rings {
		if b.Contains(ring[0].x, ring[0].y) {
			return 0
		}
	}

	best := math.Hypot(a.rings[0][0].x-b.rings[0][0].x, a.rings[0][0].y-b.rings[0][0].y)
	small, large := a, b
	if len(b.edges) < len(a.edges) {
		small, large = b, a
	}
	for _, e := range small.edges {
		lo, hi := e.bounds()
		large.tree.Search([2]float64{lo[0] - best, lo[1] - best}, [2]float64{hi[0] + best, hi[1] + best},
			func(_, _ [2]float64, i int) bool {
				if d := segmentDistance(e, large.edges[i]); d < best {
					best = d
				}
				return best > 0
			})
		if best == 0 {
			return 0
		}
	}
	return best
}

func segmentDistance(e, f segment) float64 {
	if _, ok := properCrossing(e, f); ok {
		return 0
	}
	return math.Min(
		math.Min(pointSegmentDistance(e.a, f), pointSegmentDistance(e.b, f)),
		math.Min(pointSegmentDistance(f.a, e), pointSegmentDistance(f.b, e)),
	)
}

func pointSegmentDistance(p point, e segment) float64 {
	dx, dy := e.b.x-e.a.x, e.b.y-e.a.y
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return math.Hypot(p.x-e.a.x, p.y-e.a.y)
	}
	t := ((p.x-e.a.x)*dx + (p.y-e.a.y)*dy) / l2
	t = math.Max(0, math.Min(1, t))
	q := lerp(e, t)
	return math.Hypot(p.x-q.x, p.y-q.y)
}

func lerp(e segment, t float64) point {
	return point{e.a.x + t*(e.b.x-e.a.x), e.a.y + t*(e.b.y-e.a.y)}
}

// orient is positive when p lies to the left of a→b.
func orient(a, b, p point) float64 {
	return (b.x-a.x)*(p.y-a.y) - (p.x-a.x)*(b.y-a.y)
}
