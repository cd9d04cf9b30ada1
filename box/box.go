package box

import (
	"fmt"
)

// Box is an axis aligned integer index range, inclusive on both ends, with a
// per-axis orientation. Boxes are values: every operation returns a new Box.
type Box struct {
	lo, hi IntVect
	typ    IndexType
}

func New(lo, hi IntVect, typ IndexType) Box {
	return Box{lo: lo, hi: hi, typ: typ}
}

// NewCell builds a cell centered box.
func NewCell(lo, hi IntVect) Box {
	return Box{lo: lo, hi: hi}
}

func (b Box) Lo() IntVect        { return b.lo }
func (b Box) Hi() IntVect        { return b.hi }
func (b Box) Type() IndexType    { return b.typ }
func (b Box) SmallEnd(d int) int { return b.lo[d] }
func (b Box) BigEnd(d int) int   { return b.hi[d] }

// Ok is true for a non-empty box.
func (b Box) Ok() bool {
	for d := 0; d < SpaceDim; d++ {
		if b.hi[d] < b.lo[d] {
			return false
		}
	}
	return true
}

func (b Box) IsEmpty() bool { return !b.Ok() }

func (b Box) Length(d int) int {
	return b.hi[d] - b.lo[d] + 1
}

func (b Box) Size() (sz IntVect) {
	for d := 0; d < SpaceDim; d++ {
		sz[d] = b.Length(d)
	}
	return
}

func (b Box) NumPts() int {
	if !b.Ok() {
		return 0
	}
	return b.Size().Product()
}

// Offset is the linear position of iv in b with axis 0 varying fastest.
func (b Box) Offset(iv IntVect) (off int) {
	for d := SpaceDim - 1; d >= 0; d-- {
		off = off*b.Length(d) + (iv[d] - b.lo[d])
	}
	return
}

func (b Box) sameType(o Box) {
	if b.typ != o.typ {
		panic(fmt.Sprintf("box index types differ: %v vs %v", b.typ, o.typ))
	}
}

func (b Box) Intersect(o Box) Box {
	b.sameType(o)
	return Box{lo: b.lo.Max(o.lo), hi: b.hi.Min(o.hi), typ: b.typ}
}

func (b Box) Intersects(o Box) bool {
	return b.Intersect(o).Ok()
}

func (b Box) Contains(o Box) bool {
	b.sameType(o)
	return o.Ok() && b.lo.AllLE(o.lo) && o.hi.AllLE(b.hi)
}

// StrictlyContains requires o to lie in the interior of b on every axis.
func (b Box) StrictlyContains(o Box) bool {
	b.sameType(o)
	for d := 0; d < SpaceDim; d++ {
		if o.lo[d] <= b.lo[d] || o.hi[d] >= b.hi[d] {
			return false
		}
	}
	return true
}

func (b Box) ContainsIV(iv IntVect) bool {
	return b.lo.AllLE(iv) && iv.AllLE(b.hi)
}

func (b Box) Grow(n int) Box {
	return b.GrowVect(Unit(n))
}

func (b Box) GrowVect(n IntVect) Box {
	return Box{lo: b.lo.Sub(n), hi: b.hi.Add(n), typ: b.typ}
}

func (b Box) GrowDir(dir, n int) Box {
	b.lo[dir] -= n
	b.hi[dir] += n
	return b
}

func (b Box) GrowLo(dir, n int) Box {
	b.lo[dir] -= n
	return b
}

func (b Box) GrowHi(dir, n int) Box {
	b.hi[dir] += n
	return b
}

func (b Box) Shift(iv IntVect) Box {
	return Box{lo: b.lo.Add(iv), hi: b.hi.Add(iv), typ: b.typ}
}

func (b Box) ShiftDir(dir, n int) Box {
	b.lo[dir] += n
	b.hi[dir] += n
	return b
}

// Coarsen maps the box onto the index space coarser by ratio. Node centered
// axes round the high end up so every fine node stays covered.
func (b Box) Coarsen(ratio IntVect) Box {
	c := Box{lo: b.lo.Coarsen(ratio), typ: b.typ}
	for d := 0; d < SpaceDim; d++ {
		c.hi[d] = floorDiv(b.hi[d], ratio[d])
		if b.typ.IsNode(d) && b.hi[d]%ratio[d] != 0 {
			c.hi[d]++
		}
	}
	return c
}

func (b Box) Refine(ratio IntVect) Box {
	shft := Unit(1).Sub(b.typ.Vect())
	return Box{
		lo:  b.lo.Mul(ratio),
		hi:  b.hi.Add(shft).Mul(ratio).Sub(shft),
		typ: b.typ,
	}
}

// Convert changes the orientation, adjusting the high end per axis.
func (b Box) Convert(typ IndexType) Box {
	for d := 0; d < SpaceDim; d++ {
		switch {
		case b.typ.IsCell(d) && typ.IsNode(d):
			b.hi[d]++
		case b.typ.IsNode(d) && typ.IsCell(d):
			b.hi[d]--
		}
	}
	b.typ = typ
	return b
}

func (b Box) SurroundingNodes(dir int) Box {
	return b.Convert(b.typ.Set(dir))
}

func (b Box) EnclosedCells() Box {
	return b.Convert(CellType)
}

// BdryLo is the one plane thick face box at the low end of b along dir.
func (b Box) BdryLo(dir int) Box {
	f := Box{lo: b.lo, hi: b.hi, typ: b.typ.Set(dir)}
	f.hi[dir] = f.lo[dir]
	return f
}

func (b Box) BdryHi(dir int) Box {
	f := Box{lo: b.lo, hi: b.hi, typ: b.typ.Set(dir)}
	if b.typ.IsCell(dir) {
		f.lo[dir] = b.hi[dir] + 1
	} else {
		f.lo[dir] = b.hi[dir]
	}
	f.hi[dir] = f.lo[dir]
	return f
}

// AdjCellLo is the cell box of width n just below b along dir.
func (b Box) AdjCellLo(dir, n int) Box {
	c := b.Convert(CellType)
	c.hi[dir] = c.lo[dir] - 1
	c.lo[dir] = c.lo[dir] - n
	return c
}

func (b Box) AdjCellHi(dir, n int) Box {
	c := b.Convert(CellType)
	c.lo[dir] = c.hi[dir] + 1
	c.hi[dir] = c.hi[dir] + n
	return c
}

// Less is the canonical total order: low corner, then high corner, then type.
func (b Box) Less(o Box) bool {
	if b.lo != o.lo {
		return b.lo.Less(o.lo)
	}
	if b.hi != o.hi {
		return b.hi.Less(o.hi)
	}
	return b.typ < o.typ
}

func (b Box) String() string {
	return fmt.Sprintf("(%v %v %v)", b.lo, b.hi, b.typ)
}

// Diff returns a minus b as a list of disjoint boxes.
func Diff(a, b Box) (out []Box) {
	a.sameType(b)
	if !a.Ok() {
		return
	}
	if !a.Intersects(b) {
		return []Box{a}
	}
	rem := a
	for d := 0; d < SpaceDim; d++ {
		if rem.lo[d] < b.lo[d] {
			piece := rem
			piece.hi[d] = b.lo[d] - 1
			out = append(out, piece)
			rem.lo[d] = b.lo[d]
		}
		if rem.hi[d] > b.hi[d] {
			piece := rem
			piece.lo[d] = b.hi[d] + 1
			out = append(out, piece)
			rem.hi[d] = b.hi[d]
		}
	}
	return
}

// DiffAll subtracts every box of bs from a.
func DiffAll(a Box, bs []Box) (out []Box) {
	out = []Box{a}
	for _, b := range bs {
		var next []Box
		for _, piece := range out {
			next = append(next, Diff(piece, b)...)
		}
		out = next
		if len(out) == 0 {
			return
		}
	}
	return
}

func MinimalBox(bs []Box) (mb Box) {
	if len(bs) == 0 {
		return Box{lo: Unit(0), hi: Unit(-1)}
	}
	mb = bs[0]
	for _, b := range bs[1:] {
		mb.sameType(b)
		mb.lo = mb.lo.Min(b.lo)
		mb.hi = mb.hi.Max(b.hi)
	}
	return
}

// ForEach visits every IntVect of b with axis 0 varying fastest.
func (b Box) ForEach(f func(iv IntVect)) {
	if !b.Ok() {
		return
	}
	iv := b.lo
	for {
		f(iv)
		d := 0
		for ; d < SpaceDim; d++ {
			iv[d]++
			if iv[d] <= b.hi[d] {
				break
			}
			iv[d] = b.lo[d]
		}
		if d == SpaceDim {
			return
		}
	}
}
