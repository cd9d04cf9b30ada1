package fluxreg

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/amrcomm/box"
	"github.com/notargets/amrcomm/boxarray"
	"github.com/notargets/amrcomm/codec"
	"github.com/notargets/amrcomm/distribution"
	"github.com/notargets/amrcomm/fab"
	"github.com/notargets/amrcomm/geometry"
	"github.com/notargets/amrcomm/parallel"
)

func cell(lx, ly, lz, hx, hy, hz int) box.Box {
	return box.NewCell(box.NewIntVect(lx, ly, lz), box.NewIntVect(hx, hy, hz))
}

// fieldAt reads component 0 of the local box holding iv, reporting whether
// this rank holds it.
func fieldAt(mf *fab.MultiFab, iv box.IntVect) (v float64, ok bool) {
	for _, i := range mf.LocalIndices() {
		if mf.ValidBox(i).ContainsIV(iv) {
			return mf.Fab(i).Get(iv, 0), true
		}
	}
	return
}

func TestNew(t *testing.T) {
	var (
		fine = boxarray.FromBoxes([]box.Box{cell(4, 4, 0, 7, 11, 0), cell(8, 4, 0, 11, 11, 0)})
		dm   = distribution.RoundRobin(2, 1)
		fr   = New(fine, dm, box.NewIntVect(2, 2, 1), 2, 3, 0)
	)
	assert.Equal(t, 2, fr.FineLevel())
	assert.Equal(t, 1, fr.CrseLevel())
	assert.Equal(t, 3, fr.NComp())
	assert.Equal(t, box.NewIntVect(2, 2, 1), fr.RefRatio())
	assert.Equal(t, []box.Box{cell(2, 2, 0, 3, 5, 0), cell(4, 2, 0, 5, 5, 0)}, fr.CoarsenedBoxes().Boxes())
	assert.Equal(t, Zeroed, fr.State())
	{ // Registers sit on the faces of the coarsened boxes
		lo, hi := fr.Register(0, Low), fr.Register(0, High)
		assert.Equal(t, box.CellType.Set(0), lo.IxType())
		assert.Equal(t, box.New(box.NewIntVect(2, 2, 0), box.NewIntVect(2, 5, 0), box.CellType.Set(0)),
			lo.ValidBox(0))
		assert.Equal(t, box.New(box.NewIntVect(6, 2, 0), box.NewIntVect(6, 5, 0), box.CellType.Set(0)),
			hi.ValidBox(1))
		assert.Equal(t, cell(1, 2, 0, 1, 5, 0), fr.adj[0][Low].Get(0))
		assert.Equal(t, cell(4, 6, 0, 5, 6, 0), fr.adj[1][High].Get(1))
	}
	assert.Panics(t, func() {
		New(boxarray.FromBoxes([]box.Box{cell(1, 0, 0, 4, 0, 0)}), distribution.RoundRobin(1, 1),
			box.NewIntVect(2, 1, 1), 1, 1, 0)
	})
	assert.Panics(t, func() { New(fine, dm, box.NewIntVect(2, 2, 1), 0, 1, 0) })
}

// A coarse flux F registered with scale -1 and two fine sub-faces of F each,
// averaged, cancel: reflux leaves the coarse field alone.
func TestCoarseAndFineFluxCancel(t *testing.T) {
	const F = 2.5
	var (
		domain = cell(0, 0, 0, 7, 7, 0)
		crseBA = boxarray.New(domain).MaxSize(box.NewIntVect(4, 4, 1))
		crseDM = distribution.RoundRobin(crseBA.Len(), 2)
		fineBA = boxarray.FromBoxes([]box.Box{cell(4, 4, 0, 7, 11, 0), cell(8, 4, 0, 11, 11, 0)})
		fineDM = distribution.RoundRobin(2, 2)
		g      = geometry.New(geometry.Config{Domain: domain})
	)
	require.NoError(t, parallel.NewWorld(2).Run(func(c parallel.Comm) error {
		fr := New(fineBA, fineDM, box.NewIntVect(2, 2, 1), 1, 1, c.Rank())
		cflux := fab.NewMultiFab(crseBA.SurroundingNodes(0), crseDM, 1, 0, c.Rank())
		cflux.SetVal(F, 0, 1, 0)
		if err := fr.RegisterCoarse(c, cflux, 0, 0, 0, 1, -1, fab.OpCopy); err != nil {
			return err
		}
		fflux := fab.NewMultiFab(fineBA.SurroundingNodes(0), fineDM, 1, 0, c.Rank())
		fflux.SetVal(F, 0, 1, 0)
		fr.RegisterFine(fflux, 0, 0, 0, 1, 1)

		for _, side := range []Side{Low, High} {
			reg := fr.Register(0, side)
			for _, i := range reg.LocalIndices() {
				assert.Equal(t, 0.0, reg.Fab(i).NormInf(0), "%v face of box %d", side, i)
			}
		}
		assert.Equal(t, 0.0, fr.SumReg(c, 0))

		field := fab.NewMultiFab(crseBA, crseDM, 1, 0, c.Rank())
		field.SetVal(3, 0, 1, 0)
		if err := fr.RefluxConstVolume(c, field, 1, 1, 0, 0, 1, g); err != nil {
			return err
		}
		for _, i := range field.LocalIndices() {
			f := field.Fab(i)
			f.Box().ForEach(func(iv box.IntVect) {
				assert.Equal(t, 3.0, f.Get(iv, 0), "%v", iv)
			})
		}
		assert.Equal(t, Applied, fr.State())
		return nil
	}))
}

func TestReflux(t *testing.T) {
	var (
		domain = cell(0, 0, 0, 7, 0, 0)
		crseBA = boxarray.New(domain).MaxSize(box.NewIntVect(4, 1, 1))
		crseDM = distribution.RoundRobin(2, 2)
		fineBA = boxarray.New(cell(4, 0, 0, 7, 0, 0))
		fineDM = distribution.New([]int{1})
		ratio  = box.NewIntVect(2, 1, 1)
		g      = geometry.New(geometry.Config{Domain: domain})
	)
	register := func(c parallel.Comm, fr *FluxRegister) error {
		cflux := fab.NewMultiFab(crseBA.SurroundingNodes(0), crseDM, 1, 0, c.Rank())
		cflux.SetVal(1, 0, 1, 0)
		if err := fr.RegisterCoarse(c, cflux, 0, 0, 0, 1, -1, fab.OpCopy); err != nil {
			return err
		}
		// Fine flux equal to the fine face index
		fflux := fab.NewMultiFab(fineBA.SurroundingNodes(0), fineDM, 1, 0, c.Rank())
		for _, i := range fflux.LocalIndices() {
			f := fflux.Fab(i)
			f.Box().ForEach(func(iv box.IntVect) { f.Set(iv, 0, float64(iv[0])) })
		}
		fr.RegisterFine(fflux, 0, 0, 0, 1, 1)
		return nil
	}
	check := func(field *fab.MultiFab, want map[int]float64) {
		for x := 0; x < 8; x++ {
			if v, ok := fieldAt(field, box.NewIntVect(x, 0, 0)); ok {
				assert.Equal(t, want[x], v, "cell %d", x)
			}
		}
	}
	require.NoError(t, parallel.NewWorld(2).Run(func(c parallel.Comm) error {
		fr := New(fineBA, fineDM, ratio, 1, 1, c.Rank())
		if err := register(c, fr); err != nil {
			return err
		}
		if fr.Register(0, Low).IsLocal(0) {
			assert.Equal(t, 3.0, fr.Register(0, Low).Fab(0).Get(box.NewIntVect(2, 0, 0), 0))
			assert.Equal(t, 7.0, fr.Register(0, High).Fab(0).Get(box.NewIntVect(4, 0, 0), 0))
		}
		assert.Equal(t, 4.0, fr.SumReg(c, 0))

		field := fab.NewMultiFab(crseBA, crseDM, 1, 1, c.Rank())
		if err := fr.RefluxConstVolume(c, field, 1, 0.5, 0, 0, 1, g); err != nil {
			return err
		}
		check(field, map[int]float64{1: -1.5, 4: 3.5})
		assert.Panics(t, func() { _ = fr.RefluxConstVolume(c, field, 1, 0.5, 0, 0, 1, g) })

		fr.Reset()
		if err := register(c, fr); err != nil {
			return err
		}
		field.SetVal(0, 0, 1, 0)
		volume := fab.NewMultiFab(crseBA, crseDM, 1, 0, c.Rank())
		volume.SetVal(2, 0, 1, 0)
		if err := fr.Reflux(c, field, volume, 0.5, 0, 0, 1, g); err != nil {
			return err
		}
		check(field, map[int]float64{1: -0.75, 4: 1.75})
		// The plans of the second step come from the register's cache
		assert.Greater(t, fr.Cache().Stats().Hits, 0)
		return nil
	}))
}

func TestRegisterCoarseAddCountsSharedFacesOnce(t *testing.T) {
	var (
		crseBA = boxarray.New(cell(0, 0, 0, 7, 0, 0)).MaxSize(box.NewIntVect(4, 1, 1))
		crseDM = distribution.RoundRobin(2, 2)
		fineBA = boxarray.New(cell(8, 0, 0, 11, 0, 0))
		fineDM = distribution.New([]int{0})
	)
	require.NoError(t, parallel.NewWorld(2).Run(func(c parallel.Comm) error {
		fr := New(fineBA, fineDM, box.NewIntVect(2, 1, 1), 1, 1, c.Rank())
		cflux := fab.NewMultiFab(crseBA.SurroundingNodes(0), crseDM, 1, 0, c.Rank())
		cflux.SetVal(1, 0, 1, 0)
		for n := 0; n < 2; n++ {
			if err := fr.RegisterCoarse(c, cflux, 0, 0, 0, 1, -1, fab.OpAdd); err != nil {
				return err
			}
		}
		if c.Rank() == 0 {
			// Node 4 belongs to both coarse flux boxes
			assert.Equal(t, -2.0, fr.Register(0, Low).Fab(0).Get(box.NewIntVect(4, 0, 0), 0))
			assert.Equal(t, -2.0, fr.Register(0, High).Fab(0).Get(box.NewIntVect(6, 0, 0), 0))
		}
		return nil
	}))
}

// Face areas weight each flux before the fine faces of a coarse face are
// summed; no averaging takes place.
func TestAreaWeightedRegistration(t *testing.T) {
	var (
		crseBA = boxarray.New(cell(0, 0, 0, 7, 7, 0)).MaxSize(box.NewIntVect(4, 4, 1))
		crseDM = distribution.RoundRobin(crseBA.Len(), 1)
		fineBA = boxarray.New(cell(4, 4, 0, 7, 7, 0))
		fineDM = distribution.RoundRobin(1, 1)
		c      = parallel.NewWorld(1).Comm(0)
		fr     = New(fineBA, fineDM, box.NewIntVect(2, 2, 1), 1, 1, 0)
		at     = func(y int) float64 { return fr.Register(0, Low).Fab(0).Get(box.NewIntVect(2, y, 0), 0) }
	)
	{ // Coarse flux 2 through faces of area y
		cflux := fab.NewMultiFab(crseBA.SurroundingNodes(0), crseDM, 1, 0, 0)
		cflux.SetVal(2, 0, 1, 0)
		carea := fab.NewMultiFab(crseBA.SurroundingNodes(0), crseDM, 1, 0, 0)
		for _, i := range carea.LocalIndices() {
			f := carea.Fab(i)
			f.Box().ForEach(func(iv box.IntVect) { f.Set(iv, 0, float64(iv[1])) })
		}
		require.NoError(t, fr.RegisterCoarseArea(c, cflux, carea, 0, 0, 0, 1, -1, fab.OpCopy))
		assert.Equal(t, -4.0, at(2))
		assert.Equal(t, -6.0, at(3))
	}
	{ // Unit fine flux through fine faces of areas 1, 2, 3, 4 along y
		fflux := fab.NewMultiFab(fineBA.SurroundingNodes(0), fineDM, 1, 0, 0)
		fflux.SetVal(1, 0, 1, 0)
		farea := fab.NewMultiFab(fineBA.SurroundingNodes(0), fineDM, 1, 0, 0)
		f := farea.Fab(0)
		f.Box().ForEach(func(iv box.IntVect) { f.Set(iv, 0, float64(iv[1]-3)) })
		fr.RegisterFineArea(fflux, farea, 0, 0, 0, 1, 1)
		assert.Equal(t, -1.0, at(2))
		assert.Equal(t, 1.0, at(3))

		wrong := fab.NewMultiFab(crseBA.SurroundingNodes(0), crseDM, 1, 0, 0)
		assert.Panics(t, func() { fr.RegisterFineArea(fflux, wrong, 0, 0, 0, 1, 1) })
	}
	{ // The unit area convention averages the same fine fluxes instead
		fr.Reset()
		fflux := fab.NewMultiFab(fineBA.SurroundingNodes(0), fineDM, 1, 0, 0)
		f := fflux.Fab(0)
		f.Box().ForEach(func(iv box.IntVect) { f.Set(iv, 0, float64(iv[1]-3)) })
		fr.RegisterFine(fflux, 0, 0, 0, 1, 1)
		assert.Equal(t, 1.5, at(2))
		assert.Equal(t, 3.5, at(3))
	}
}

func TestPeriodicReflux(t *testing.T) {
	var (
		domain = cell(0, 0, 0, 7, 0, 0)
		crseBA = boxarray.New(domain).MaxSize(box.NewIntVect(4, 1, 1))
		crseDM = distribution.RoundRobin(2, 2)
		fineBA = boxarray.New(cell(0, 0, 0, 3, 0, 0))
		fineDM = distribution.New([]int{1})
	)
	for _, periodic := range []bool{true, false} {
		g := geometry.New(geometry.Config{Domain: domain, Periodic: [3]bool{periodic, false, false}})
		require.NoError(t, parallel.NewWorld(2).Run(func(c parallel.Comm) error {
			fr := New(fineBA, fineDM, box.NewIntVect(2, 1, 1), 1, 1, c.Rank())
			fflux := fab.NewMultiFab(fineBA.SurroundingNodes(0), fineDM, 1, 0, c.Rank())
			fflux.SetVal(1, 0, 1, 0)
			fr.RegisterFine(fflux, 0, 0, 0, 1, 1)
			field := fab.NewMultiFab(crseBA, crseDM, 1, 0, c.Rank())
			if err := fr.RefluxConstVolume(c, field, 1, 1, 0, 0, 1, g); err != nil {
				return err
			}
			want := map[int]float64{2: 1}
			if periodic {
				want[7] = -1
			}
			for x := 0; x < 8; x++ {
				if v, ok := fieldAt(field, box.NewIntVect(x, 0, 0)); ok {
					assert.Equal(t, want[x], v, "periodic %v cell %d", periodic, x)
				}
			}
			return nil
		}))
	}
}

func TestStateMachine(t *testing.T) {
	var (
		domain = cell(0, 0, 0, 7, 0, 0)
		crseBA = boxarray.New(domain)
		crseDM = distribution.RoundRobin(1, 1)
		fineBA = boxarray.New(cell(4, 0, 0, 7, 0, 0))
		fineDM = distribution.RoundRobin(1, 1)
		g      = geometry.New(geometry.Config{Domain: domain})
		c      = parallel.NewWorld(1).Comm(0)
		fr     = New(fineBA, fineDM, box.NewIntVect(2, 1, 1), 1, 1, 0)
		field  = fab.NewMultiFab(crseBA, crseDM, 1, 0, 0)
		cflux  = fab.NewMultiFab(crseBA.SurroundingNodes(0), crseDM, 1, 0, 0)
		fflux  = fab.NewMultiFab(fineBA.SurroundingNodes(0), fineDM, 1, 0, 0)
		reflux = func() error { return fr.RefluxConstVolume(c, field, 1, 1, 0, 0, 1, g) }
	)
	assert.Panics(t, func() { _ = reflux() })
	fr.RegisterFine(fflux, 0, 0, 0, 1, 1)
	assert.Equal(t, Accumulating, fr.State())
	require.NoError(t, fr.RegisterCoarse(c, cflux, 0, 0, 0, 1, -1, fab.OpCopy))
	require.NoError(t, reflux())
	assert.Equal(t, Applied, fr.State())
	assert.Panics(t, func() { fr.RegisterFine(fflux, 0, 0, 0, 1, 1) })
	assert.Panics(t, func() { _ = fr.RegisterCoarse(c, cflux, 0, 0, 0, 1, -1, fab.OpCopy) })
	assert.Panics(t, func() { _ = reflux() })
	fr.Reset()
	assert.Equal(t, Zeroed, fr.State())
	fr.SetVal(1)
	assert.Equal(t, Accumulating, fr.State())
	// Fluxes must be face centered along the registered axis
	assert.Panics(t, func() { fr.RegisterFine(fflux, 1, 0, 0, 1, 1) })
	assert.Panics(t, func() { _ = fr.RegisterCoarse(c, field, 0, 0, 0, 1, -1, fab.OpCopy) })
}

func TestCheckpoint(t *testing.T) {
	var (
		fineBA = boxarray.New(cell(0, 0, 0, 15, 7, 0)).MaxSize(box.NewIntVect(8, 4, 1))
		fineDM = distribution.RoundRobin(fineBA.Len(), 2)
		ratio  = box.NewIntVect(2, 2, 1)
		mu     sync.Mutex
		ckpt   = make(map[int]*bytes.Buffer)
	)
	require.NoError(t, parallel.NewWorld(2).Run(func(c parallel.Comm) error {
		fr := New(fineBA, fineDM, ratio, 1, 2, c.Rank())
		for d := 0; d < 2; d++ {
			fflux := fab.NewMultiFab(fineBA.SurroundingNodes(d), fineDM, 2, 0, c.Rank())
			for _, i := range fflux.LocalIndices() {
				f := fflux.Fab(i)
				f.Box().ForEach(func(iv box.IntVect) {
					f.Set(iv, 0, float64(iv[0]+10*iv[1]))
					f.Set(iv, 1, float64(d+1))
				})
			}
			fr.RegisterFine(fflux, d, 0, 0, 2, 1)
		}
		buf := new(bytes.Buffer)
		if _, err := fr.Write(buf, codec.CompressionZstd); err != nil {
			return err
		}
		mu.Lock()
		ckpt[c.Rank()] = bytes.NewBuffer(buf.Bytes())
		mu.Unlock()

		restored := New(fineBA, fineDM, ratio, 1, 2, c.Rank())
		if err := restored.Read(buf); err != nil {
			return err
		}
		assert.Equal(t, Accumulating, restored.State())
		for comp := 0; comp < 2; comp++ {
			assert.Equal(t, fr.SumReg(c, comp), restored.SumReg(c, comp))
		}
		for d := 0; d < 2; d++ {
			for _, side := range []Side{Low, High} {
				for _, i := range fr.Register(d, side).LocalIndices() {
					assert.Equal(t, fr.Register(d, side).Fab(i).Comp(0), restored.Register(d, side).Fab(i).Comp(0))
				}
			}
		}
		return nil
	}))
	{ // A register of another shape refuses the checkpoint
		other := New(fineBA, fineDM, ratio, 1, 1, 0)
		assert.ErrorContains(t, other.Read(ckpt[0]), "components")
		other = New(fineBA, fineDM, ratio, 2, 2, 0)
		assert.ErrorContains(t, other.Read(bytes.NewReader(ckpt[1].Bytes())), "fine level")
	}
}
