// Package spatial selects the buildings that may occlude an exposure region.
package spatial

import (
	"billboardvis/pkg/geo"
	"billboardvis/pkg/model"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// Within reports whether any exterior or interior ring vertex of b lies
// within radius meters of center. It stops at the first hit.
func Within(b *model.Building, center orb.Point, radius float64) bool {
	for _, poly := range b.Footprint {
		for _, ring := range poly {
			for _, p := range ring {
				if geo.Distance(center, p) <= radius {
					return true
				}
			}
		}
	}
	return false
}

// Filter returns the buildings with at least one vertex inside the circle.
// The test is vertex-only: a building whose edges cross the circle without a
// vertex inside is not returned.
func Filter(center orb.Point, radius float64, buildings []model.Building) []model.Building {
	var out []model.Building
	for i := range buildings {
		if Within(&buildings[i], center, radius) {
			out = append(out, buildings[i])
		}
	}
	return out
}

// entry wraps a building for R-tree storage.
type entry struct {
	idx  int
	bbox rtreego.Rect
}

// Bounds implements rtreego.Spatial.
func (e *entry) Bounds() rtreego.Rect {
	return e.bbox
}

// Index is an R-tree over building bounds. The tree only narrows the
// candidates; every candidate still passes the exact vertex test, so results
// match Filter.
type Index struct {
	tree      *rtreego.Rtree
	buildings []model.Building
}

// NewIndex builds an index over buildings. Buildings with no vertices are
// left out.
func NewIndex(buildings []model.Building) *Index {
	idx := &Index{
		tree:      rtreego.NewTree(2, 25, 50),
		buildings: buildings,
	}
	for i := range buildings {
		if len(buildings[i].Footprint) == 0 {
			continue
		}
		rect, err := toRect(buildings[i].Footprint.Bound())
		if err != nil {
			continue
		}
		idx.tree.Insert(&entry{idx: i, bbox: rect})
	}
	return idx
}

// Len returns the number of indexed buildings.
func (idx *Index) Len() int {
	return idx.tree.Size()
}

// Within returns the indexed buildings with at least one vertex inside the
// circle, in input order.
func (idx *Index) Within(center orb.Point, radius float64) []model.Building {
	// orb's bound helper uses a larger Earth radius than the haversine test;
	// pad so the box never clips the circle.
	query, err := toRect(orbgeo.NewBoundAroundPoint(center, radius*1.01))
	if err != nil {
		return nil
	}

	hits := idx.tree.SearchIntersect(query)
	seen := make([]bool, len(idx.buildings))
	for _, h := range hits {
		seen[h.(*entry).idx] = true
	}

	var out []model.Building
	for i, ok := range seen {
		if ok && Within(&idx.buildings[i], center, radius) {
			out = append(out, idx.buildings[i])
		}
	}
	return out
}

// minSide keeps degenerate (point or line) bounds insertable.
const minSide = 1e-12

func toRect(b orb.Bound) (rtreego.Rect, error) {
	w := b.Max[0] - b.Min[0]
	h := b.Max[1] - b.Min[1]
	return rtreego.NewRect(
		rtreego.Point{b.Min[0] - minSide, b.Min[1] - minSide},
		[]float64{w + 2*minSide, h + 2*minSide},
	)
}
