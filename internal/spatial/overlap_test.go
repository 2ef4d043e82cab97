package spatial

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/twpayne/go-geom"
)

func TestOverlapArea(t *testing.T) {
	eng := Planar{}
	square := multi(rect(0, 0, 10, 10))

	tests := []struct {
		name string
		a, b *Shape
		want float64
	}{
		{"identical", square, multi(rect(0, 0, 10, 10)), 100},
		{"half offset", square, multi(rect(5, 0, 15, 10)), 50},
		{"quarter corner", square, multi(rect(5, 5, 15, 15)), 25},
		{"contained", multi(rect(2, 2, 4, 4)), square, 4},
		{"containing", square, multi(rect(2, 2, 4, 4)), 4},
		{"disjoint", square, multi(rect(20, 20, 30, 30)), 0},
		{"touching edge", square, multi(rect(10, 0, 20, 10)), 0},
		{"seventy percent", square, multi(rect(0, 0, 7, 10)), 70},
		{"thirty percent", square, multi(rect(7, 0, 10, 10)), 30},
		{"cross", multi(rect(0, 4, 10, 6)), multi(rect(4, 0, 6, 10)), 4},
		{"triangle", square, multi([][]geom.Coord{{{0, 0}, {10, 0}, {0, 10}, {0, 0}}}), 50},
		{"hole", multi([][]geom.Coord{rect(0, 0, 10, 10)[0], rect(4, 4, 6, 6)[0]}), multi(rect(0, 0, 5, 10)), 48},
		{"empty", square, NewShape(nil), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, eng.OverlapArea(tt.a, tt.b), 1e-6)
			assert.InDelta(t, tt.want, eng.OverlapArea(tt.b, tt.a), 1e-6)
		})
	}
}

func TestOverlapArea_DissolvedSeam(t *testing.T) {
	eng := Planar{}
	// Two halves sharing the x=5 seam, the way a dissolved zone arrives.
	halves := multi(rect(0, 0, 5, 10), rect(5, 0, 10, 10))
	assert.InDelta(t, 100.0, halves.Area(), 1e-9)

	assert.InDelta(t, 50.0, eng.OverlapArea(halves, multi(rect(5, 0, 15, 10))), 1e-6)
	assert.InDelta(t, 50.0, eng.OverlapArea(halves, multi(rect(-5, 0, 5, 10))), 1e-6)
	assert.InDelta(t, 20.0, eng.OverlapArea(halves, multi(rect(3, 0, 7, 5))), 1e-6)
}

func TestOverlapArea_TJunction(t *testing.T) {
	eng := Planar{}
	// The right part meets the seam halfway up, leaving a T-junction at (5,5).
	parts := multi(rect(0, 0, 5, 10), rect(5, 0, 10, 5))
	assert.InDelta(t, 75.0, parts.Area(), 1e-9)
	assert.InDelta(t, 75.0, eng.OverlapArea(parts, multi(rect(0, 0, 10, 10))), 1e-6)
	assert.InDelta(t, 30.0, eng.OverlapArea(parts, multi(rect(4, 0, 9, 10))), 1e-6)
}

func TestOverlapArea_ProjectedMagnitudes(t *testing.T) {
	eng := Planar{}
	// Coordinates of the size produced by state-plane projections.
	a := multi(rect(980000, 190000, 981000, 191000))
	b := multi(rect(980700, 190000, 982000, 191000))
	assert.InDelta(t, 300000.0, eng.OverlapArea(a, b), 1e-3)
}

func TestDistance(t *testing.T) {
	eng := Planar{}
	assert.InDelta(t, 5.0, eng.Distance(geom.Coord{0, 0}, geom.Coord{3, 4}), 1e-12)
	assert.Zero(t, eng.Distance(geom.Coord{7, 7}, geom.Coord{7, 7}))
}

func TestBoundaryDistance(t *testing.T) {
	eng := Planar{}
	square := multi(rect(0, 0, 10, 10))
	tests := []struct {
		name string
		b    *Shape
		want float64
	}{
		{"overlapping", multi(rect(5, 5, 15, 15)), 0},
		{"touching", multi(rect(10, 0, 20, 10)), 0},
		{"inside", multi(rect(2, 2, 3, 3)), 0},
		{"gap", multi(rect(13, 0, 20, 10)), 3},
		{"diagonal", multi(rect(13, 14, 20, 20)), 5},
		{"crossing without vertex containment", multi(rect(-5, 4, 15, 6)), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, eng.BoundaryDistance(square, tt.b), 1e-9)
			assert.InDelta(t, tt.want, eng.BoundaryDistance(tt.b, square), 1e-9)
		})
	}
	assert.True(t, math.IsInf(eng.BoundaryDistance(square, NewShape(nil)), 1))
}
