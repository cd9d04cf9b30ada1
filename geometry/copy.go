package geometry

import (
	"fmt"

	"github.com/notargets/amrcomm/fab"
	"github.com/notargets/amrcomm/parallel"
)

type CopyOptions struct {
	SrcComp, DstComp, NComp int
	SrcGhost, DstGhost      int
	Op                      fab.Op
	Scale                   float64
	// Periodic adds the periodic images of the sources.
	Periodic bool
	// Cache holds the plans; nil uses the geometry's own cache.
	Cache *PatternCache
}

// NewCopyOptions copies ncomp components starting at zero with unit scale.
func NewCopyOptions(ncomp int) CopyOptions {
	return CopyOptions{NComp: ncomp, Op: fab.OpCopy, Scale: 1}
}

// ParallelCopy combines src into dst wherever their boxes overlap, whatever
// their layouts.
func (g *Geometry) ParallelCopy(comm parallel.Comm, dst, src *fab.MultiFab, opts CopyOptions) error {
	cache := opts.Cache
	if cache == nil {
		cache = g.cache
	}
	return g.copy(comm, cache, dst, src, opts, KindCopy)
}

// ParallelCopy without a geometry never looks at periodic images.
func ParallelCopy(comm parallel.Comm, cache *PatternCache, dst, src *fab.MultiFab,
	opts CopyOptions) error {
	if opts.Periodic {
		panic("periodic copies need a geometry")
	}
	if cache == nil {
		panic("ParallelCopy needs a pattern cache")
	}
	g := &Geometry{cfg: Config{Workers: 1}, cache: cache, log: cache.log}
	return g.copy(comm, cache, dst, src, opts, KindCopy)
}

func (g *Geometry) copy(comm parallel.Comm, cache *PatternCache, dst, src *fab.MultiFab,
	opts CopyOptions, kind PlanKind) error {
	if dst.IxType() != src.IxType() {
		panic(fmt.Sprintf("copy between orientations %v and %v", src.IxType(), dst.IxType()))
	}
	if opts.SrcGhost > src.NGrow() || opts.DstGhost > dst.NGrow() {
		panic(fmt.Sprintf("copy ghost widths %d/%d exceed the MultiFab widths %d/%d",
			opts.SrcGhost, opts.DstGhost, src.NGrow(), dst.NGrow()))
	}
	periodic := opts.Periodic && g.IsAnyPeriodic()
	if periodic {
		g.checkGhost(opts.SrcGhost)
		g.checkGhost(opts.DstGhost)
	}
	var (
		sba, dba = src.BoxArray(), dst.BoxArray()
		sdm, ddm = src.DistributionMap(), dst.DistributionMap()
	)
	key := PlanKey{
		Kind:  kind,
		SrcBA: sba.ID(), SrcDM: sdm.ID(), DstBA: dba.ID(), DstDM: ddm.ID(),
		SrcType: sba.IxType(), DstType: dba.IxType(),
		SrcGhost: opts.SrcGhost, DstGhost: opts.DstGhost,
		Direct: kind != KindPeriodicCopy,
		Rank:   comm.Rank(),
	}
	if periodic {
		key.Domain, key.Periodic = g.cfg.Domain, g.cfg.Periodic
	}
	plan, hit := cache.Get(key, func() *Plan {
		return g.buildPlan(planRequest{
			key: key, src: sba, dst: dba, srcDM: sdm, dstDM: ddm,
			periodic: periodic,
		})
	})
	g.log.Debug().Str("kind", kind.String()).Int("rank", key.Rank).Bool("cached", hit).Msg("copy")
	x := start(comm, plan, dst, src, opts.SrcComp, opts.DstComp, opts.NComp, opts.Op, opts.Scale,
		g.cfg.Workers)
	return x.finish()
}
