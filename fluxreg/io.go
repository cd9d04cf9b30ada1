package fluxreg

import (
	"fmt"
	"io"

	"github.com/notargets/amrcomm/box"
	"github.com/notargets/amrcomm/codec"
)

// faceRecord is the content of one local register box.
type faceRecord struct {
	Dir   int
	Side  Side
	Index int
	Data  []float64
}

type record struct {
	Ratio     box.IntVect
	FineLevel int
	NComp     int
	State     State
	Layout    [32]byte
	Faces     []faceRecord
}

// Write checkpoints the registers held by this rank.
func (fr *FluxRegister) Write(w io.Writer, tag codec.CompressionTag) (n int64, err error) {
	rec := record{
		Ratio:     fr.ratio,
		FineLevel: fr.fineLevel,
		NComp:     fr.ncomp,
		State:     fr.state,
		Layout:    fr.crseBA.Fingerprint(),
	}
	for d := 0; d < box.SpaceDim; d++ {
		for _, side := range []Side{Low, High} {
			reg := fr.regs[d][side]
			for _, i := range reg.LocalIndices() {
				f := reg.Fab(i)
				data := make([]float64, 0, f.Box().NumPts()*fr.ncomp)
				for c := 0; c < fr.ncomp; c++ {
					data = append(data, f.Comp(c)...)
				}
				rec.Faces = append(rec.Faces, faceRecord{Dir: d, Side: side, Index: i, Data: data})
			}
		}
	}
	return codec.Write(w, rec, tag)
}

// Read restores a checkpoint written by Write from the same rank into a
// register built over the same fine boxes.
func (fr *FluxRegister) Read(r io.Reader) (err error) {
	var rec record
	if err = codec.Read(r, &rec); err != nil {
		return fmt.Errorf("reading flux register: %w", err)
	}
	switch {
	case rec.Ratio != fr.ratio:
		return fmt.Errorf("checkpoint refinement ratio %v, register has %v", rec.Ratio, fr.ratio)
	case rec.NComp != fr.ncomp:
		return fmt.Errorf("checkpoint has %d components, register has %d", rec.NComp, fr.ncomp)
	case rec.FineLevel != fr.fineLevel:
		return fmt.Errorf("checkpoint is for fine level %d, register is %d", rec.FineLevel, fr.fineLevel)
	case rec.Layout != fr.crseBA.Fingerprint():
		return fmt.Errorf("checkpoint box layout differs from the register layout")
	}
	for _, fc := range rec.Faces {
		if fc.Dir < 0 || fc.Dir >= box.SpaceDim || (fc.Side != Low && fc.Side != High) {
			return fmt.Errorf("checkpoint face %d/%d is not an orientation", fc.Dir, fc.Side)
		}
		reg := fr.regs[fc.Dir][fc.Side]
		if !reg.IsLocal(fc.Index) {
			return fmt.Errorf("checkpoint box %d is not owned by rank %d", fc.Index, fr.rank)
		}
		f := reg.Fab(fc.Index)
		np := f.Box().NumPts()
		if len(fc.Data) != np*fr.ncomp {
			return fmt.Errorf("checkpoint box %d holds %d values, want %d", fc.Index, len(fc.Data), np*fr.ncomp)
		}
		for c := 0; c < fr.ncomp; c++ {
			copy(f.Comp(c), fc.Data[c*np:(c+1)*np])
		}
	}
	fr.state = rec.State
	return nil
}
