package spatial

import "github.com/tidwall/rtree"

// Index is a bounding-box R-tree over arbitrary items.
type Index[T any] struct {
	tree rtree.RTreeG[T]
}

// Insert adds item with the given bounds.
func (ix *Index[T]) Insert(minX, minY, maxX, maxY float64, item T) {
	ix.tree.Insert([2]float64{minX, minY}, [2]float64{maxX, maxY}, item)
}

// InsertShape adds item under the bounds of s. Empty shapes are skipped.
func (ix *Index[T]) InsertShape(s *Shape, item T) {
	if s == nil || s.Empty() {
		return
	}
	ix.Insert(s.minX, s.minY, s.maxX, s.maxY, item)
}

// Search calls fn for every item whose bounds intersect the query box. It
// stops early when fn returns false. Visit order is unspecified; callers
// needing a stable order must sort.
func (ix *Index[T]) Search(minX, minY, maxX, maxY float64, fn func(item T) bool) {
	ix.tree.Search([2]float64{minX, minY}, [2]float64{maxX, maxY}, func(_, _ [2]float64, item T) bool {
		return fn(item)
	})
}

// Len returns the number of indexed items.
func (ix *Index[T]) Len() int {
	return ix.tree.Len()
}
