package fab

import (
	"fmt"

	"github.com/notargets/amrcomm/box"
	"github.com/notargets/amrcomm/boxarray"
	"github.com/notargets/amrcomm/distribution"
	"github.com/notargets/amrcomm/parallel"
)

// MultiFab is one rank's part of a distributed field: an FArrayBox, grown by
// nGrow ghost cells, for every box of the collection owned by rank.
type MultiFab struct {
	ba    *boxarray.BoxArray
	dm    *distribution.DistributionMapping
	ncomp int
	nGrow int
	rank  int
	local []int
	fabs  map[int]*FArrayBox
}

func NewMultiFab(ba *boxarray.BoxArray, dm *distribution.DistributionMapping, ncomp, nGrow,
	rank int) (mf *MultiFab) {
	if ba.Len() != dm.Len() {
		panic(fmt.Sprintf("box array has %d boxes, distribution map %d", ba.Len(), dm.Len()))
	}
	if nGrow < 0 {
		panic(fmt.Sprintf("negative ghost width %d", nGrow))
	}
	mf = &MultiFab{
		ba:    ba.Share(),
		dm:    dm,
		ncomp: ncomp,
		nGrow: nGrow,
		rank:  rank,
		local: dm.IndicesOf(rank),
		fabs:  make(map[int]*FArrayBox),
	}
	for _, i := range mf.local {
		mf.fabs[i] = NewFArrayBox(ba.Get(i).Grow(nGrow), ncomp)
	}
	return
}

func (mf *MultiFab) BoxArray() *boxarray.BoxArray                      { return mf.ba }
func (mf *MultiFab) DistributionMap() *distribution.DistributionMapping { return mf.dm }
func (mf *MultiFab) NComp() int                                         { return mf.ncomp }
func (mf *MultiFab) NGrow() int                                         { return mf.nGrow }
func (mf *MultiFab) Rank() int                                          { return mf.rank }
func (mf *MultiFab) IxType() box.IndexType                              { return mf.ba.IxType() }

// LocalIndices lists the boxes stored on this rank in increasing order.
func (mf *MultiFab) LocalIndices() []int { return mf.local }

func (mf *MultiFab) IsLocal(i int) bool {
	_, ok := mf.fabs[i]
	return ok
}

// Fab returns the storage of box i, which must be owned by this rank.
func (mf *MultiFab) Fab(i int) *FArrayBox {
	f, ok := mf.fabs[i]
	if !ok {
		panic(fmt.Sprintf("box %d is owned by rank %d, not rank %d", i, mf.dm.Owner(i), mf.rank))
	}
	return f
}

func (mf *MultiFab) ValidBox(i int) box.Box { return mf.ba.Get(i) }

// SetVal sets components [comp, comp+ncomp) to v on every local box grown by
// ng.
func (mf *MultiFab) SetVal(v float64, comp, ncomp, ng int) {
	for _, i := range mf.local {
		mf.fabs[i].SetVal(v, mf.ValidBox(i).Grow(ng), comp, ncomp)
	}
}

// Copy copies src into mf over valid regions grown by ng. Both must share
// the same layout.
func (mf *MultiFab) Copy(src *MultiFab, scomp, dcomp, ncomp, ng int) {
	if !mf.ba.Equal(src.ba) || !mf.dm.Equal(src.dm) {
		panic("MultiFab.Copy requires identical layouts")
	}
	for _, i := range mf.local {
		region := mf.ValidBox(i).Grow(ng)
		mf.fabs[i].CopyFrom(src.fabs[i], region, scomp, region, dcomp, ncomp, OpCopy, 1)
	}
}

// Sum is the global sum of component comp over valid regions.
func (mf *MultiFab) Sum(comm parallel.Comm, comp int) float64 {
	s := []float64{mf.LocalSum(comp)}
	comm.ReduceFloat64(s, parallel.OpSum)
	return s[0]
}

// LocalSum is the sum of component comp over the valid regions held by this
// rank.
func (mf *MultiFab) LocalSum(comp int) (s float64) {
	for _, i := range mf.local {
		s += mf.fabs[i].Sum(mf.ValidBox(i), comp)
	}
	return
}

// Release drops the box array handle. The MultiFab is unusable afterwards.
func (mf *MultiFab) Release() {
	mf.ba.Release()
	mf.fabs = nil
	mf.local = nil
}
