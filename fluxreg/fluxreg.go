// Package fluxreg accumulates the mismatch between coarse and fine fluxes on
// the faces bounding a fine level and applies it to the coarse field.
package fluxreg

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/notargets/amrcomm/box"
	"github.com/notargets/amrcomm/boxarray"
	"github.com/notargets/amrcomm/distribution"
	"github.com/notargets/amrcomm/fab"
	"github.com/notargets/amrcomm/geometry"
	"github.com/notargets/amrcomm/parallel"
	"github.com/notargets/amrcomm/utils"
)

type State uint8

const (
	Zeroed State = iota
	Accumulating
	Applied
)

func (s State) String() string {
	switch s {
	case Zeroed:
		return "zeroed"
	case Accumulating:
		return "accumulating"
	case Applied:
		return "applied"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Side selects the low or high face of a box along an axis.
type Side int

const (
	Low Side = iota
	High
)

func (s Side) String() string {
	if s == Low {
		return "lo"
	}
	return "hi"
}

// planCacheCapacity covers the copies of one register: two coarse
// registrations and one reflux per orientation.
const planCacheCapacity = 4 * box.SpaceDim * 2

// FluxRegister holds, for every orientation, a register over the faces of the
// coarsened fine boxes, owned like the fine boxes.
type FluxRegister struct {
	ratio     box.IntVect
	fineLevel int
	ncomp     int
	rank      int
	crseBA    *boxarray.BoxArray
	dm        *distribution.DistributionMapping
	regs      [box.SpaceDim][2]*fab.MultiFab
	adj       [box.SpaceDim][2]*boxarray.BoxArray
	cache     *geometry.PatternCache
	state     State
	log       zerolog.Logger
}

// New builds the registers of the fine level fineLevel, whose boxes fineBA are
// owned according to fineDM, as seen from rank.
func New(fineBA *boxarray.BoxArray, fineDM *distribution.DistributionMapping, ratio box.IntVect,
	fineLevel, ncomp, rank int) (fr *FluxRegister) {
	if !fineBA.IxType().CellCentered() {
		panic(fmt.Sprintf("flux register needs cell centered fine boxes, have %v", fineBA.IxType()))
	}
	if fineLevel < 1 {
		panic(fmt.Sprintf("fine level must be at least 1, have %d", fineLevel))
	}
	for d := 0; d < box.SpaceDim; d++ {
		if ratio[d] < 1 {
			panic(fmt.Sprintf("refinement ratio %v must be positive", ratio))
		}
	}
	crse := fineBA.Boxes()
	for i, b := range crse {
		c := b.Coarsen(ratio)
		if c.Refine(ratio) != b {
			panic(fmt.Sprintf("fine box %d %v is not aligned with ratio %v", i, b, ratio))
		}
		crse[i] = c
	}
	fr = &FluxRegister{
		ratio:     ratio,
		fineLevel: fineLevel,
		ncomp:     ncomp,
		rank:      rank,
		crseBA:    boxarray.FromBoxes(crse),
		dm:        fineDM,
		cache:     geometry.NewPatternCache(planCacheCapacity),
		log:       utils.Logger("fluxreg"),
	}
	faces := make([]box.Box, len(crse))
	cells := make([]box.Box, len(crse))
	for d := 0; d < box.SpaceDim; d++ {
		for _, side := range []Side{Low, High} {
			for i, c := range crse {
				if side == Low {
					faces[i], cells[i] = c.BdryLo(d), c.AdjCellLo(d, 1)
				} else {
					faces[i], cells[i] = c.BdryHi(d), c.AdjCellHi(d, 1)
				}
			}
			fr.regs[d][side] = fab.NewMultiFab(boxarray.FromBoxes(faces), fineDM, ncomp, 0, rank)
			fr.adj[d][side] = boxarray.FromBoxes(cells)
		}
	}
	return
}

func (fr *FluxRegister) RefRatio() box.IntVect                              { return fr.ratio }
func (fr *FluxRegister) FineLevel() int                                     { return fr.fineLevel }
func (fr *FluxRegister) CrseLevel() int                                     { return fr.fineLevel - 1 }
func (fr *FluxRegister) NComp() int                                         { return fr.ncomp }
func (fr *FluxRegister) CoarsenedBoxes() *boxarray.BoxArray                 { return fr.crseBA }
func (fr *FluxRegister) DistributionMap() *distribution.DistributionMapping { return fr.dm }
func (fr *FluxRegister) State() State                                       { return fr.state }

// Register is the register of the dir faces on side.
func (fr *FluxRegister) Register(dir int, side Side) *fab.MultiFab { return fr.regs[dir][side] }

// Cache holds the plans of the register's parallel copies.
func (fr *FluxRegister) Cache() *geometry.PatternCache { return fr.cache }

func (fr *FluxRegister) accumulate(what string) {
	if fr.state == Applied {
		panic(fmt.Sprintf("%s on an applied flux register; Reset it first", what))
	}
	fr.state = Accumulating
}

// RegisterCoarse copies, or adds with fab.OpAdd, scale times the coarse face
// flux of axis dir into both registers of that axis. The flux must be
// node centered along dir.
func (fr *FluxRegister) RegisterCoarse(comm parallel.Comm, flux *fab.MultiFab, dir, scomp, dcomp,
	ncomp int, scale float64, op fab.Op) (err error) {
	if want := box.CellType.Set(dir); flux.IxType() != want {
		panic(fmt.Sprintf("coarse flux along %d has orientation %v, want %v", dir, flux.IxType(), want))
	}
	fr.accumulate("RegisterCoarse")
	opts := geometry.CopyOptions{SrcComp: scomp, DstComp: dcomp, NComp: ncomp, Op: fab.OpCopy, Scale: scale}
	for _, side := range []Side{Low, High} {
		reg := fr.regs[dir][side]
		if op == fab.OpCopy {
			if err = geometry.ParallelCopy(comm, fr.cache, reg, flux, opts); err != nil {
				return
			}
			continue
		}
		// Faces shared by two coarse boxes must be added once
		tmp := fab.NewMultiFab(reg.BoxArray(), reg.DistributionMap(), fr.ncomp, 0, fr.rank)
		tmp.SetVal(0, dcomp, ncomp, 0)
		if err = geometry.ParallelCopy(comm, fr.cache, tmp, flux, opts); err != nil {
			return
		}
		for _, i := range reg.LocalIndices() {
			vb := reg.ValidBox(i)
			reg.Fab(i).CopyFrom(tmp.Fab(i), vb, dcomp, vb, dcomp, ncomp, fab.OpAdd, 1)
		}
		tmp.Release()
	}
	fr.log.Debug().Int("dir", dir).Str("op", op.String()).Float64("scale", scale).Msg("coarse flux registered")
	return
}

// RegisterCoarseArea is RegisterCoarse for flux densities: every face flux is
// first multiplied by its area, component 0 of area, which shares the layout
// of flux.
func (fr *FluxRegister) RegisterCoarseArea(comm parallel.Comm, flux, area *fab.MultiFab, dir, scomp,
	dcomp, ncomp int, scale float64, op fab.Op) error {
	weighted := weigh(flux, area, scomp, ncomp)
	defer weighted.Release()
	return fr.RegisterCoarse(comm, weighted, dir, 0, dcomp, ncomp, scale, op)
}

func weigh(flux, area *fab.MultiFab, scomp, ncomp int) (w *fab.MultiFab) {
	if !area.BoxArray().Equal(flux.BoxArray()) || !area.DistributionMap().Equal(flux.DistributionMap()) {
		panic("face area layout differs from the flux layout")
	}
	w = fab.NewMultiFab(flux.BoxArray(), flux.DistributionMap(), ncomp, 0, flux.Rank())
	for _, i := range flux.LocalIndices() {
		ff, af, wf := flux.Fab(i), area.Fab(i), w.Fab(i)
		flux.ValidBox(i).ForEach(func(iv box.IntVect) {
			a := af.Get(iv, 0)
			for c := 0; c < ncomp; c++ {
				wf.Set(iv, c, a*ff.Get(iv, scomp+c))
			}
		})
	}
	return
}

// RegisterFine adds scale times the fine face flux of axis dir, averaged over
// the fine faces covering each coarse face, into both registers of that axis.
// The flux lives on the fine boxes made node centered along dir.
func (fr *FluxRegister) RegisterFine(flux *fab.MultiFab, dir, scomp, dcomp, ncomp int, scale float64) {
	area := 1
	for d := 0; d < box.SpaceDim; d++ {
		if d != dir {
			area *= fr.ratio[d]
		}
	}
	fr.registerFine(flux, dir, scomp, dcomp, ncomp, scale/float64(area), nil)
}

// RegisterFineArea adds scale times the sum of flux times area over the fine
// faces covering each coarse face. area holds the fine face areas in
// component 0 and shares the layout of flux.
func (fr *FluxRegister) RegisterFineArea(flux, area *fab.MultiFab, dir, scomp, dcomp, ncomp int,
	scale float64) {
	if !area.BoxArray().Equal(flux.BoxArray()) || !area.DistributionMap().Equal(flux.DistributionMap()) {
		panic("face area layout differs from the flux layout")
	}
	fr.registerFine(flux, dir, scomp, dcomp, ncomp, scale, area)
}

func (fr *FluxRegister) registerFine(flux *fab.MultiFab, dir, scomp, dcomp, ncomp int, scale float64,
	area *fab.MultiFab) {
	if flux.BoxArray().Len() != fr.crseBA.Len() || !flux.DistributionMap().Equal(fr.dm) {
		panic("fine flux layout differs from the flux register layout")
	}
	if want := box.CellType.Set(dir); flux.IxType() != want {
		panic(fmt.Sprintf("fine flux along %d has orientation %v, want %v", dir, flux.IxType(), want))
	}
	fr.accumulate("RegisterFine")
	// Fine faces covering one coarse face, relative to the first
	sub := fr.ratio.Sub(box.Unit(1))
	sub[dir] = 0
	for _, i := range flux.LocalIndices() {
		ff := flux.Fab(i)
		sum := func(faces box.Box, comp int) float64 { return ff.Sum(faces, comp) }
		if area != nil {
			af := area.Fab(i)
			sum = func(faces box.Box, comp int) (s float64) {
				faces.ForEach(func(iv box.IntVect) { s += af.Get(iv, 0) * ff.Get(iv, comp) })
				return
			}
		}
		for _, side := range []Side{Low, High} {
			rf := fr.regs[dir][side].Fab(i)
			for c := 0; c < ncomp; c++ {
				rf.Box().ForEach(func(iv box.IntVect) {
					lo := iv.Mul(fr.ratio)
					faces := box.New(lo, lo.Add(sub), flux.IxType())
					rf.Set(iv, dcomp+c, rf.Get(iv, dcomp+c)+scale*sum(faces, scomp+c))
				})
			}
		}
	}
}

// SetVal sets every register to v. Zero returns the register to Zeroed.
func (fr *FluxRegister) SetVal(v float64) {
	for d := 0; d < box.SpaceDim; d++ {
		for _, reg := range fr.regs[d] {
			reg.SetVal(v, 0, fr.ncomp, 0)
		}
	}
	if v == 0 {
		fr.state = Zeroed
	} else {
		fr.state = Accumulating
	}
}

// Reset clears the registers for the next coarse step.
func (fr *FluxRegister) Reset() { fr.SetVal(0) }

// SumReg is the global sum over all axes of the high registers minus the low
// registers of component comp.
func (fr *FluxRegister) SumReg(comm parallel.Comm, comp int) float64 {
	var s float64
	for d := 0; d < box.SpaceDim; d++ {
		s += fr.regs[d][High].LocalSum(comp) - fr.regs[d][Low].LocalSum(comp)
	}
	sum := []float64{s}
	comm.ReduceFloat64(sum, parallel.OpSum)
	return sum[0]
}
