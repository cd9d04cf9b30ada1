// Package fab stores field data over boxes: FArrayBox is one box with any
// number of components, MultiFab is the per-rank set of FArrayBoxes over a
// distributed box collection.
package fab

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/amrcomm/box"
)

// Op combines a source value into a destination value.
type Op int

const (
	OpCopy Op = iota // dst = scale*src
	OpAdd            // dst += scale*src
)

func (op Op) String() string {
	switch op {
	case OpCopy:
		return "copy"
	case OpAdd:
		return "add"
	default:
		return fmt.Sprintf("Op(%d)", int(op))
	}
}

func (op Op) apply(dst []float64, scale float64, src []float64) {
	switch op {
	case OpCopy:
		if scale == 1 {
			copy(dst, src)
		} else {
			floats.ScaleTo(dst, scale, src)
		}
	case OpAdd:
		floats.AddScaled(dst, scale, src)
	default:
		panic(fmt.Sprintf("unknown op %d", int(op)))
	}
}

// FArrayBox holds ncomp values per point of bx, component major with axis 0
// varying fastest inside a component.
type FArrayBox struct {
	bx    box.Box
	ncomp int
	data  []float64
}

func NewFArrayBox(bx box.Box, ncomp int) *FArrayBox {
	if ncomp < 1 {
		panic(fmt.Sprintf("component count must be positive, have %d", ncomp))
	}
	return &FArrayBox{bx: bx, ncomp: ncomp, data: make([]float64, bx.NumPts()*ncomp)}
}

func (f *FArrayBox) Box() box.Box { return f.bx }
func (f *FArrayBox) NComp() int   { return f.ncomp }

// Comp returns the storage of component n.
func (f *FArrayBox) Comp(n int) []float64 {
	np := f.bx.NumPts()
	return f.data[n*np : (n+1)*np]
}

func (f *FArrayBox) index(iv box.IntVect, comp int) int {
	if !f.bx.ContainsIV(iv) {
		panic(fmt.Sprintf("%v outside fab box %v", iv, f.bx))
	}
	return comp*f.bx.NumPts() + f.bx.Offset(iv)
}

func (f *FArrayBox) Get(iv box.IntVect, comp int) float64 {
	return f.data[f.index(iv, comp)]
}

func (f *FArrayBox) Set(iv box.IntVect, comp int, v float64) {
	f.data[f.index(iv, comp)] = v
}

func (f *FArrayBox) checkComps(comp, ncomp int) {
	if comp < 0 || ncomp < 0 || comp+ncomp > f.ncomp {
		panic(fmt.Sprintf("components [%d,%d) outside fab with %d components",
			comp, comp+ncomp, f.ncomp))
	}
}

// rows calls fn for every axis 0 run of region inside the fab, components
// [comp, comp+ncomp), with the run's first point and storage offset.
func (f *FArrayBox) rows(region box.Box, comp, ncomp int, fn func(c int, iv box.IntVect, off, n int)) {
	f.checkComps(comp, ncomp)
	if !region.Ok() {
		return
	}
	if !f.bx.Contains(region) {
		panic(fmt.Sprintf("region %v outside fab box %v", region, f.bx))
	}
	var (
		np     = f.bx.NumPts()
		n      = region.Length(0)
		starts = box.NewCell(region.Lo(), region.Hi())
	)
	starts = starts.GrowHi(0, region.SmallEnd(0)-region.BigEnd(0))
	for c := comp; c < comp+ncomp; c++ {
		starts.ForEach(func(iv box.IntVect) {
			fn(c, iv, c*np+f.bx.Offset(iv), n)
		})
	}
}

// SetVal sets components [comp, comp+ncomp) over region to v.
func (f *FArrayBox) SetVal(v float64, region box.Box, comp, ncomp int) {
	f.rows(region.Intersect(f.bx), comp, ncomp, func(_ int, _ box.IntVect, off, n int) {
		row := f.data[off : off+n]
		for i := range row {
			row[i] = v
		}
	})
}

// CopyFrom combines src over srcRegion into f over dstRegion. The regions
// must have the same size; they differ only by a shift.
func (f *FArrayBox) CopyFrom(src *FArrayBox, srcRegion box.Box, scomp int, dstRegion box.Box,
	dcomp, ncomp int, op Op, scale float64) {
	if srcRegion.Size() != dstRegion.Size() {
		panic(fmt.Sprintf("copy regions differ in size: %v vs %v", srcRegion, dstRegion))
	}
	if !dstRegion.Ok() {
		return
	}
	var (
		shift = srcRegion.Lo().Sub(dstRegion.Lo())
		snp   = src.bx.NumPts()
	)
	src.checkComps(scomp, ncomp)
	if !src.bx.Contains(srcRegion) {
		panic(fmt.Sprintf("region %v outside source fab box %v", srcRegion, src.bx))
	}
	f.rows(dstRegion, dcomp, ncomp, func(c int, iv box.IntVect, off, n int) {
		soff := (c-dcomp+scomp)*snp + src.bx.Offset(iv.Add(shift))
		op.apply(f.data[off:off+n], scale, src.data[soff:soff+n])
	})
}

// CopyToMem packs region, component by component, into buf and returns the
// number of values written.
func (f *FArrayBox) CopyToMem(region box.Box, scomp, ncomp int, buf []float64) (n int) {
	f.rows(region, scomp, ncomp, func(_ int, _ box.IntVect, off, ln int) {
		copy(buf[n:n+ln], f.data[off:off+ln])
		n += ln
	})
	return
}

// CopyFromMem unpacks values written by CopyToMem into region and returns the
// number of values consumed.
func (f *FArrayBox) CopyFromMem(region box.Box, dcomp, ncomp int, buf []float64, op Op,
	scale float64) (n int) {
	f.rows(region, dcomp, ncomp, func(_ int, _ box.IntVect, off, ln int) {
		op.apply(f.data[off:off+ln], scale, buf[n:n+ln])
		n += ln
	})
	return
}

// Sum adds component comp over region.
func (f *FArrayBox) Sum(region box.Box, comp int) (s float64) {
	if region == f.bx {
		return floats.Sum(f.Comp(comp))
	}
	f.rows(region, comp, 1, func(_ int, _ box.IntVect, off, n int) {
		s += floats.Sum(f.data[off : off+n])
	})
	return
}

// Mult scales components [comp, comp+ncomp) over the whole fab.
func (f *FArrayBox) Mult(a float64, comp, ncomp int) {
	f.checkComps(comp, ncomp)
	for c := comp; c < comp+ncomp; c++ {
		floats.Scale(a, f.Comp(c))
	}
}

// NormInf is the largest magnitude of component comp.
func (f *FArrayBox) NormInf(comp int) float64 {
	return floats.Norm(f.Comp(comp), math.Inf(1))
}
