package geometry

import (
	"fmt"

	"github.com/notargets/amrcomm/fab"
	"github.com/notargets/amrcomm/parallel"
)

// PendingFill is a ghost fill whose messages are in flight.
type PendingFill struct {
	x        *exchange
	err      error
	finished bool
}

// Finish completes the fill. Calling it twice panics.
func (pf *PendingFill) Finish() error {
	if pf.finished {
		panic("ghost fill finished twice")
	}
	pf.finished = true
	if pf.err != nil || pf.x == nil {
		return pf.err
	}
	return pf.x.finish()
}

// FillGhosts fills ghost cells [scomp, scomp+ncomp) of mf within ng of each
// box from neighboring boxes and, on periodic axes, from periodic images.
// With corners, ghosts beyond the domain along non-periodic axes at
// periodic edges are filled too, from the neighbors' ghost data.
func (g *Geometry) FillGhosts(comm parallel.Comm, mf *fab.MultiFab, scomp, ncomp, ng int,
	corners bool) error {
	return g.FillGhostsStart(comm, mf, scomp, ncomp, ng, corners).Finish()
}

// FillGhostsStart posts the fill and performs the local part of it.
func (g *Geometry) FillGhostsStart(comm parallel.Comm, mf *fab.MultiFab, scomp, ncomp, ng int,
	corners bool) (pf *PendingFill) {
	if ng > mf.NGrow() {
		panic(fmt.Sprintf("fill width %d exceeds the MultiFab ghost width %d", ng, mf.NGrow()))
	}
	pf = &PendingFill{}
	if ng == 0 {
		return
	}
	if g.cfg.VerifyPlans {
		if pf.err = VerifyPlanInputs(comm, mf.BoxArray(), mf.DistributionMap()); pf.err != nil {
			return
		}
	}
	plan := g.FillPlan(comm, mf, ng, corners)
	pf.x = start(comm, plan, mf, mf, scomp, scomp, ncomp, fab.OpCopy, 1, g.cfg.Workers)
	return
}

// PeriodicCopy combines into dst, grown by dstGhost, the periodic images of
// src grown by srcGhost. Unshifted overlaps are not copied.
func (g *Geometry) PeriodicCopy(comm parallel.Comm, dst, src *fab.MultiFab, dcomp, scomp, ncomp,
	dstGhost, srcGhost int, op fab.Op) error {
	if !g.IsAnyPeriodic() {
		return nil
	}
	opts := CopyOptions{
		SrcComp: scomp, DstComp: dcomp, NComp: ncomp,
		SrcGhost: srcGhost, DstGhost: dstGhost,
		Op: op, Scale: 1,
		Periodic: true,
	}
	return g.copy(comm, g.cache, dst, src, opts, KindPeriodicCopy)
}

// SumPeriodicBoundary adds the ghost data of mf, out to width ng, onto the
// valid cells it is a periodic image of. Ghost cells are left as they are.
func (g *Geometry) SumPeriodicBoundary(comm parallel.Comm, mf *fab.MultiFab, scomp, ncomp, ng int) error {
	return g.PeriodicCopy(comm, mf, mf, scomp, scomp, ncomp, 0, ng, fab.OpAdd)
}

// FillPlan returns the plan, cached or newly built, of this rank's part of a
// ghost fill of width ng of mf.
func (g *Geometry) FillPlan(comm parallel.Comm, mf *fab.MultiFab, ng int, corners bool) *Plan {
	var (
		ba       = mf.BoxArray()
		dm       = mf.DistributionMap()
		periodic = g.IsAnyPeriodic()
	)
	if periodic {
		g.checkGhost(ng)
	}
	key := PlanKey{
		Kind:  KindFill,
		SrcBA: ba.ID(), SrcDM: dm.ID(), DstBA: ba.ID(), DstDM: dm.ID(),
		SrcType: ba.IxType(), DstType: ba.IxType(),
		Domain: g.cfg.Domain, Periodic: g.cfg.Periodic,
		DstGhost: ng,
		Direct:   true,
		Corners:  corners && periodic,
		Rank:     comm.Rank(),
	}
	plan, hit := g.cache.Get(key, func() *Plan {
		return g.buildPlan(planRequest{
			key: key, src: ba, dst: ba, srcDM: dm, dstDM: dm,
			periodic: periodic, ghostOnly: true,
		})
	})
	g.log.Debug().Int("rank", key.Rank).Int("ghost", ng).Bool("cached", hit).Msg("fill ghosts")
	return plan
}
