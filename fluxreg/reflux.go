package fluxreg

import (
	"fmt"

	"github.com/notargets/amrcomm/box"
	"github.com/notargets/amrcomm/fab"
	"github.com/notargets/amrcomm/geometry"
	"github.com/notargets/amrcomm/parallel"
)

// Reflux adds scale*reg/vol into the coarse cells next to every registered
// face: the register is subtracted below low faces and added above high
// faces. volume holds the coarse cell volumes in component 0 and shares the
// layout of field. Periodic neighbors are resolved with crseGeom.
func (fr *FluxRegister) Reflux(comm parallel.Comm, field, volume *fab.MultiFab, scale float64,
	scomp, dcomp, ncomp int, crseGeom *geometry.Geometry) error {
	if !volume.BoxArray().Equal(field.BoxArray()) || !volume.DistributionMap().Equal(field.DistributionMap()) {
		panic("reflux volume layout differs from the field layout")
	}
	return fr.reflux(comm, field, scale, scomp, dcomp, ncomp, crseGeom, func(i int, iv box.IntVect) float64 {
		return volume.Fab(i).Get(iv, 0)
	})
}

// RefluxConstVolume is Reflux with every coarse cell of volume vol.
func (fr *FluxRegister) RefluxConstVolume(comm parallel.Comm, field *fab.MultiFab, vol, scale float64,
	scomp, dcomp, ncomp int, crseGeom *geometry.Geometry) error {
	return fr.reflux(comm, field, scale, scomp, dcomp, ncomp, crseGeom, func(int, box.IntVect) float64 {
		return vol
	})
}

func (fr *FluxRegister) reflux(comm parallel.Comm, field *fab.MultiFab, scale float64,
	scomp, dcomp, ncomp int, crseGeom *geometry.Geometry, vol func(i int, iv box.IntVect) float64) error {
	if fr.state != Accumulating {
		panic(fmt.Sprintf("reflux of a %v flux register", fr.state))
	}
	if !field.IxType().CellCentered() {
		panic(fmt.Sprintf("reflux into a field of orientation %v", field.IxType()))
	}
	delta := fab.NewMultiFab(field.BoxArray(), field.DistributionMap(), ncomp, 0, field.Rank())
	defer delta.Release()
	delta.SetVal(0, 0, ncomp, 0)
	opts := geometry.CopyOptions{
		SrcComp: 0, DstComp: 0, NComp: ncomp,
		Op: fab.OpAdd, Scale: scale,
		Periodic: true,
		Cache:    fr.cache,
	}
	for d := 0; d < box.SpaceDim; d++ {
		for _, side := range []Side{Low, High} {
			var (
				reg  = fr.regs[d][side]
				adj  = fr.adj[d][side]
				sign = 1.0
			)
			if side == Low {
				sign = -1
			}
			// The register, signed, moved onto the cells it corrects
			tmp := fab.NewMultiFab(adj, fr.dm, ncomp, 0, fr.rank)
			for _, i := range tmp.LocalIndices() {
				tmp.Fab(i).CopyFrom(reg.Fab(i), reg.ValidBox(i), scomp, tmp.ValidBox(i), 0, ncomp,
					fab.OpCopy, sign)
			}
			err := crseGeom.ParallelCopy(comm, delta, tmp, opts)
			tmp.Release()
			if err != nil {
				return fmt.Errorf("reflux %v faces along %d: %w", side, d, err)
			}
		}
	}
	for _, i := range field.LocalIndices() {
		var (
			f  = field.Fab(i)
			df = delta.Fab(i)
		)
		field.ValidBox(i).ForEach(func(iv box.IntVect) {
			v := vol(i, iv)
			for c := 0; c < ncomp; c++ {
				f.Set(iv, dcomp+c, f.Get(iv, dcomp+c)+df.Get(iv, c)/v)
			}
		})
	}
	fr.state = Applied
	fr.log.Debug().Int("rank", fr.rank).Float64("scale", scale).Msg("reflux applied")
	return nil
}
