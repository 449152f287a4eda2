package main

import "math"

const (
	SpatialCellSize   = 0.25 // meters; larger than any body's bounding radius
	SpatialHalfExtent = 4.0  // grid covers [-4, 4] on X and Z
	SpatialCols       = 33   // ceil(8/0.25) + 1
	SpatialRows       = 33
)

// SpatialGrid is a fixed-size grid over the XZ plane used as the physics
// broadphase. Entries are indices into the world's body list; anything
// outside the covered area is clamped into the border cells.
type SpatialGrid struct {
	cells [SpatialCols * SpatialRows][]int
}

// Clear resets all cells (keeps allocated capacity)
func (g *SpatialGrid) Clear() {
	for i := range g.cells {
		g.cells[i] = g.cells[i][:0]
	}
}

func cellCoord(v float64, n int) int {
	c := int(math.Floor((v + SpatialHalfExtent) / SpatialCellSize))
	if c < 0 {
		return 0
	}
	if c >= n {
		return n - 1
	}
	return c
}

func cellRange(x, z, radius float64) (minCX, maxCX, minCZ, maxCZ int) {
	return cellCoord(x-radius, SpatialCols), cellCoord(x+radius, SpatialCols),
		cellCoord(z-radius, SpatialRows), cellCoord(z+radius, SpatialRows)
}

// Insert adds a body index at the given position
func (g *SpatialGrid) Insert(x, z float64, ref int) {
	idx := cellCoord(z, SpatialRows)*SpatialCols + cellCoord(x, SpatialCols)
	g.cells[idx] = append(g.cells[idx], ref)
}

// InsertCircle adds a body index to all cells overlapping its bounding box
func (g *SpatialGrid) InsertCircle(x, z, radius float64, ref int) {
	minCX, maxCX, minCZ, maxCZ := cellRange(x, z, radius)
	for cz := minCZ; cz <= maxCZ; cz++ {
		for cx := minCX; cx <= maxCX; cx++ {
			idx := cz*SpatialCols + cx
			g.cells[idx] = append(g.cells[idx], ref)
		}
	}
}

// Query returns all body indices in cells that overlap the given bounding box
func (g *SpatialGrid) Query(x, z, radius float64) []int {
	return g.QueryBuf(x, z, radius, nil)
}

// QueryBuf appends results to buf and returns the extended slice, avoiding per-call allocation.
// An index may appear more than once when it spans several cells.
func (g *SpatialGrid) QueryBuf(x, z, radius float64, buf []int) []int {
	minCX, maxCX, minCZ, maxCZ := cellRange(x, z, radius)
	for cz := minCZ; cz <= maxCZ; cz++ {
		for cx := minCX; cx <= maxCX; cx++ {
			buf = append(buf, g.cells[cz*SpatialCols+cx]...)
		}
	}
	return buf
}
