package boxarray

import (
	"fmt"
	"sort"

	"github.com/notargets/amrcomm/box"
)

// hashIndex buckets member indices by the coarsened low corner of their cell
// box. The coarsening ratio is the largest extent per axis, so a query only
// has to scan the buckets covering its window grown by that extent.
type hashIndex struct {
	buckets map[box.IntVect][]int
	crsn    box.IntVect
	maxExt  box.IntVect
	bbox    box.Box
}

func buildHash(boxes []box.Box) (h *hashIndex) {
	h = &hashIndex{
		buckets: make(map[box.IntVect][]int),
		crsn:    box.Unit(1),
	}
	// bbox spans the low corners only: face collections store one plane
	// thick node boxes whose cell form is empty along the face normal.
	lo, hi := boxes[0].Lo(), boxes[0].Lo()
	for _, b := range boxes {
		h.maxExt = h.maxExt.Max(b.Size())
		lo, hi = lo.Min(b.Lo()), hi.Max(b.Lo())
	}
	h.bbox = box.NewCell(lo, hi)
	h.crsn = h.crsn.Max(h.maxExt)
	for i, b := range boxes {
		key := b.Lo().Coarsen(h.crsn)
		h.buckets[key] = append(h.buckets[key], i)
	}
	return
}

func (r *ref) index() *hashIndex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hash == nil {
		r.hash = buildHash(r.boxes)
	}
	return r.hash
}

// Intersections returns every member whose box grown by ng overlaps bx,
// sorted by member index. With firstOnly at most one result is returned.
// The query must have the collection orientation.
func (ba *BoxArray) Intersections(bx box.Box, firstOnly bool, ng int) (isects []Intersection) {
	if bx.Type() != ba.typ {
		panic(fmt.Sprintf("intersection query orientation %v does not match collection %v",
			bx.Type(), ba.typ))
	}
	r := ba.ref()
	if len(r.boxes) == 0 || !bx.Ok() {
		return
	}
	h := r.index()
	// Low corners of candidates lie in [lo - maxExt - ng, hi + ng]
	window := box.NewCell(bx.Lo().Sub(h.maxExt).Sub(box.Unit(ng)), bx.Hi().Add(box.Unit(ng)))
	window = window.Intersect(h.bbox)
	if !window.Ok() {
		return
	}
	box.NewCell(window.Lo().Coarsen(h.crsn), window.Hi().Coarsen(h.crsn)).ForEach(func(key box.IntVect) {
		if firstOnly && len(isects) > 0 {
			return
		}
		for _, i := range h.buckets[key] {
			is := bx.Intersect(ba.Get(i).Grow(ng))
			if is.Ok() {
				isects = append(isects, Intersection{Index: i, Box: is})
				if firstOnly {
					return
				}
			}
		}
	})
	sort.Slice(isects, func(a, b int) bool { return isects[a].Index < isects[b].Index })
	return
}

func (ba *BoxArray) Intersects(bx box.Box, ng int) bool {
	return len(ba.Intersections(bx, true, ng)) > 0
}

// Contains reports whether the union of the collection covers bx.
func (ba *BoxArray) Contains(bx box.Box) bool {
	if !bx.Ok() {
		return false
	}
	var covered []box.Box
	for _, is := range ba.Intersections(bx, false, 0) {
		covered = append(covered, is.Box)
	}
	return len(box.DiffAll(bx, covered)) == 0
}

func (ba *BoxArray) ContainsIV(iv box.IntVect) bool {
	return ba.Intersects(box.New(iv, iv, ba.typ), 0)
}

// ContainsAll reports whether every box of o is covered by the collection.
func (ba *BoxArray) ContainsAll(o *BoxArray) bool {
	for i := 0; i < o.Len(); i++ {
		if !ba.Contains(o.Get(i)) {
			return false
		}
	}
	return true
}

func (ba *BoxArray) IsDisjoint() bool {
	for i := 0; i < ba.Len(); i++ {
		if len(ba.Intersections(ba.Get(i), false, 0)) > 1 {
			return false
		}
	}
	return true
}

// ComplementIn returns the part of bx not covered by the collection, as
// disjoint boxes.
func (ba *BoxArray) ComplementIn(bx box.Box) *BoxArray {
	var covered []box.Box
	for _, is := range ba.Intersections(bx, false, 0) {
		covered = append(covered, is.Box)
	}
	return FromBoxes(box.DiffAll(bx, covered))
}

// Complement is the complement within the minimal enclosing box.
func (ba *BoxArray) Complement() *BoxArray {
	if ba.Len() == 0 {
		return FromBoxes(nil)
	}
	return ba.ComplementIn(ba.MinimalBox())
}

// Intersect returns the overlaps of bx with every member grown by ng.
func (ba *BoxArray) Intersect(bx box.Box, ng int) *BoxArray {
	var bxs []box.Box
	for _, is := range ba.Intersections(bx, false, ng) {
		bxs = append(bxs, is.Box)
	}
	if len(bxs) == 0 {
		return &BoxArray{typ: bx.Type(), r: newRef(nil)}
	}
	return FromBoxes(bxs)
}

// BoundaryCells returns the cells within ng of the collection that it does
// not cover, as a disjoint collection.
func (ba *BoxArray) BoundaryCells(ng int) *BoxArray {
	cells := ba.EnclosedCells()
	defer cells.Release()
	var out []box.Box
	for i := 0; i < cells.Len(); i++ {
		g := cells.Get(i).Grow(ng)
		var covered []box.Box
		for _, is := range cells.Intersections(g, false, 0) {
			covered = append(covered, is.Box)
		}
		out = append(out, box.DiffAll(g, covered)...)
	}
	return FromBoxes(out).RemoveOverlap()
}
