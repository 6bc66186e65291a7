// Package grid walks a square world as a row-major sequence of query cells.
package grid

import (
	"math"

	"splogs.io/internal/sim/model"
)

// Cursor is the resumable traversal position of one pass. Cells sit on
// multiples of Step in [0, WorldSize] on both axes; x is the outer axis.
//
// Positions are derived from integer indices so long sweeps do not
// accumulate float error.
type Cursor struct {
	worldSize float64
	step      float64

	ix, iz int
	done   int
}

func NewCursor(worldSize, step float64) *Cursor {
	if step <= 0 {
		step = 1
	}
	if worldSize < 0 {
		worldSize = 0
	}
	return &Cursor{worldSize: worldSize, step: step}
}

func (c *Cursor) Reset() {
	c.ix, c.iz, c.done = 0, 0, 0
}

func (c *Cursor) WorldSize() float64 { return c.worldSize }
func (c *Cursor) Step() float64      { return c.step }

// Position returns the raw cursor. After the last cell of a column z sits
// past the bound until the next call to Next wraps it.
func (c *Cursor) Position() (x, z float64) {
	return float64(c.ix) * c.step, float64(c.iz) * c.step
}

// Next yields the centre of the next cell and advances. ok=false once the
// sweep has moved past the world bound; further calls stay no-ops.
func (c *Cursor) Next() (center model.Vec3, ok bool) {
	x, z := c.Position()
	if z > c.worldSize {
		c.ix++
		c.iz = 0
		x, z = c.Position()
	}
	if x > c.worldSize {
		return model.Vec3{}, false
	}
	c.iz++
	c.done++
	return model.Vec3{X: x, Y: 0, Z: z}, true
}

// Done reports whether every cell has been yielded.
func (c *Cursor) Done() bool {
	if c.done >= c.TotalCells() {
		return true
	}
	x, _ := c.Position()
	return x > c.worldSize
}

func (c *Cursor) DoneCells() int { return c.done }

func (c *Cursor) CellsPerAxis() int {
	return int(math.Floor(c.worldSize/c.step)) + 1
}

func (c *Cursor) TotalCells() int {
	n := c.CellsPerAxis()
	return n * n
}
