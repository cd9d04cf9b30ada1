package geometry

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"unsafe"

	"github.com/james-bowman/sparse"

	"github.com/notargets/amrcomm/box"
	"github.com/notargets/amrcomm/boxarray"
	"github.com/notargets/amrcomm/distribution"
)

// Tag moves the data of SrcBox in source box SrcIndex to DstBox in
// destination box DstIndex. The two regions differ by a periodic shift, or
// not at all.
type Tag struct {
	SrcBox, DstBox     box.Box
	SrcIndex, DstIndex int
}

func (t Tag) less(o Tag) bool {
	switch {
	case t.SrcIndex != o.SrcIndex:
		return t.SrcIndex < o.SrcIndex
	case t.DstIndex != o.DstIndex:
		return t.DstIndex < o.DstIndex
	case t.DstBox != o.DstBox:
		return t.DstBox.Less(o.DstBox)
	default:
		return t.SrcBox.Less(o.SrcBox)
	}
}

func sortTags(tags []Tag) {
	sort.Slice(tags, func(i, j int) bool { return tags[i].less(tags[j]) })
}

type PlanKind int

const (
	KindFill PlanKind = iota
	KindPeriodicCopy
	KindCopy
)

func (k PlanKind) String() string {
	switch k {
	case KindFill:
		return "fill"
	case KindPeriodicCopy:
		return "periodic-copy"
	case KindCopy:
		return "copy"
	default:
		return fmt.Sprintf("PlanKind(%d)", int(k))
	}
}

// PlanKey holds everything a plan depends on. Layout identities change on
// every mutation, so equal keys always describe the same exchange.
type PlanKey struct {
	Kind               PlanKind
	SrcBA, SrcDM       uint64
	DstBA, DstDM       uint64
	SrcType, DstType   box.IndexType
	Domain             box.Box
	Periodic           [box.SpaceDim]bool
	SrcGhost, DstGhost int
	Direct             bool
	Corners            bool
	Rank               int
}

// Plan is the rank-local schedule of one exchange. It is immutable once
// built and shared by every execution that uses it.
type Plan struct {
	Key             PlanKey
	Local           []Tag
	Send            map[int][]Tag // by destination rank
	Recv            map[int][]Tag // by source rank
	SendVol         map[int]int   // cells, by destination rank
	RecvVol         map[int]int   // cells, by source rank
	ThreadSafeLocal bool
	ThreadSafeRecv  bool
}

// SendRanks and RecvRanks list peers in increasing order.
func (p *Plan) SendRanks() []int { return slices.Sorted(maps.Keys(p.Send)) }
func (p *Plan) RecvRanks() []int { return slices.Sorted(maps.Keys(p.Recv)) }

func (p *Plan) NumTags() (n int) {
	n = len(p.Local)
	for _, t := range p.Send {
		n += len(t)
	}
	for _, t := range p.Recv {
		n += len(t)
	}
	return
}

// Bytes estimates the memory held by the plan.
func (p *Plan) Bytes() int {
	const mapEntry = 48
	return int(unsafe.Sizeof(*p)) + p.NumTags()*int(unsafe.Sizeof(Tag{})) +
		(len(p.Send)+len(p.Recv))*2*mapEntry
}

// CommMatrix is the nprocs x nprocs matrix of cell volumes this rank moves:
// row Rank holds its sends, column Rank its receives.
func (p *Plan) CommMatrix(nprocs int) *sparse.CSR {
	dok := sparse.NewDOK(nprocs, nprocs)
	for r, v := range p.SendVol {
		dok.Set(p.Key.Rank, r, float64(v))
	}
	for r, v := range p.RecvVol {
		dok.Set(r, p.Key.Rank, float64(v))
	}
	return dok.ToCSR()
}

type planRequest struct {
	key          PlanKey
	src, dst     *boxarray.BoxArray
	srcDM, dstDM *distribution.DistributionMapping
	periodic     bool
	ghostOnly    bool
}

// buildPlan computes every overlap between the source boxes and the
// destination boxes grown by the destination ghost width, directly and
// through periodic images, and keeps the ones involving key.Rank.
func (g *Geometry) buildPlan(req planRequest) (p *Plan) {
	var (
		key  = req.key
		self = req.key.Kind == KindFill
	)
	p = &Plan{
		Key:     key,
		Send:    make(map[int][]Tag),
		Recv:    make(map[int][]Tag),
		SendVol: make(map[int]int),
		RecvVol: make(map[int]int),
	}
	add := func(t Tag) {
		if !t.DstBox.Ok() {
			return
		}
		var (
			so = req.srcDM.Owner(t.SrcIndex)
			do = req.dstDM.Owner(t.DstIndex)
		)
		switch {
		case so == key.Rank && do == key.Rank:
			p.Local = append(p.Local, t)
		case so == key.Rank:
			p.Send[do] = append(p.Send[do], t)
			p.SendVol[do] += t.DstBox.NumPts()
		case do == key.Rank:
			p.Recv[so] = append(p.Recv[so], t)
			p.RecvVol[so] += t.DstBox.NumPts()
		}
	}
	addPieces := func(piece box.Box, shift box.IntVect, i, j int) {
		pieces := []box.Box{piece}
		if req.ghostOnly {
			pieces = box.Diff(piece, req.dst.Get(j))
		}
		for _, d := range pieces {
			add(Tag{SrcBox: d.Shift(shift.Neg()), DstBox: d, SrcIndex: i, DstIndex: j})
		}
	}

	var (
		shifts  []box.IntVect
		pdomain = g.cfg.Domain.Convert(key.DstType)
		domainT = pdomain
	)
	if req.periodic {
		shifts = g.allShifts()
		for d := 0; d < box.SpaceDim; d++ {
			if g.cfg.Periodic[d] {
				pdomain = pdomain.GrowDir(d, key.DstGhost)
			}
		}
	}
	srcReach := key.SrcGhost
	if key.Corners {
		srcReach += key.DstGhost
	}
	// Without local sources only destinations owned here can produce tags
	srcLocal := len(req.srcDM.IndicesOf(key.Rank)) > 0
	for j := 0; j < req.dst.Len(); j++ {
		if !srcLocal && req.dstDM.Owner(j) != key.Rank {
			continue
		}
		target := req.dst.Get(j).Grow(key.DstGhost)
		if key.Direct {
			for _, is := range req.src.Intersections(target, false, key.SrcGhost) {
				if self && is.Index == j {
					continue
				}
				addPieces(is.Box, box.IntVect{}, is.Index, j)
			}
		}
		if len(shifts) == 0 {
			continue
		}
		if self && !key.Corners {
			target = target.Intersect(pdomain)
		}
		// Fill sources lie in the domain, so their images only reach outside it
		if !target.Ok() || (self && domainT.Contains(target)) {
			continue
		}
		candidates := make(map[int]bool)
		for _, s := range shifts {
			for _, is := range req.src.Intersections(target.Shift(s.Neg()), false, srcReach) {
				candidates[is.Index] = true
			}
		}
		for _, i := range slices.Sorted(maps.Keys(candidates)) {
			srcRegion := g.sourceRegion(req, i)
			for _, s := range g.PeriodicShift(target, srcRegion) {
				addPieces(srcRegion.Shift(s).Intersect(target), s, i, j)
			}
		}
	}

	sortTags(p.Local)
	p.ThreadSafeLocal = threadSafe(p.Local)
	for r := range p.Send {
		sortTags(p.Send[r])
	}
	for r := range p.Recv {
		sortTags(p.Recv[r])
	}
	// Unpacking runs one goroutine per source rank
	var allRecv []Tag
	for _, r := range p.RecvRanks() {
		allRecv = append(allRecv, p.Recv[r]...)
	}
	p.ThreadSafeRecv = threadSafe(allRecv)
	return
}

// sourceRegion is the part of source box i that may be read: its valid box
// grown by the source ghost width. For corner fills it also reaches the
// destination ghost width beyond the domain along non-periodic axes.
func (g *Geometry) sourceRegion(req planRequest, i int) box.Box {
	var (
		vb  = req.src.Get(i)
		dom = g.cfg.Domain.Convert(vb.Type())
		r   = vb.Grow(req.key.SrcGhost)
	)
	if !req.key.Corners {
		return r
	}
	for d := 0; d < box.SpaceDim; d++ {
		if g.cfg.Periodic[d] {
			continue
		}
		if vb.SmallEnd(d) == dom.SmallEnd(d) {
			r = r.GrowLo(d, req.key.DstGhost)
		}
		if vb.BigEnd(d) == dom.BigEnd(d) {
			r = r.GrowHi(d, req.key.DstGhost)
		}
	}
	return r
}

// threadSafe is false when two tags writing the same destination box have
// overlapping regions.
func threadSafe(tags []Tag) bool {
	byDst := make(map[int][]box.Box)
	for _, t := range tags {
		for _, b := range byDst[t.DstIndex] {
			if b.Intersects(t.DstBox) {
				return false
			}
		}
		byDst[t.DstIndex] = append(byDst[t.DstIndex], t.DstBox)
	}
	return true
}
