package boxarray

import (
	"fmt"
	"io"

	"github.com/notargets/amrcomm/box"
	"github.com/notargets/amrcomm/codec"
)

// record is the flat persisted form: orientation, then each cell centered
// box as lo followed by hi.
type record struct {
	Count int
	Type  uint8
	Boxes [][2 * box.SpaceDim]int
}

// Write persists the collection as a single framed record.
func (ba *BoxArray) Write(w io.Writer, tag codec.CompressionTag) (n int64, err error) {
	rec := record{
		Count: ba.Len(),
		Type:  uint8(ba.typ),
		Boxes: make([][2 * box.SpaceDim]int, ba.Len()),
	}
	for i, b := range ba.ref().boxes {
		lo, hi := b.Lo(), b.Hi()
		copy(rec.Boxes[i][:box.SpaceDim], lo[:])
		copy(rec.Boxes[i][box.SpaceDim:], hi[:])
	}
	return codec.Write(w, rec, tag)
}

// Read restores a collection written by Write. The result has a new identity.
func Read(r io.Reader) (ba *BoxArray, err error) {
	var rec record
	if err = codec.Read(r, &rec); err != nil {
		return nil, fmt.Errorf("reading box array: %w", err)
	}
	if rec.Count != len(rec.Boxes) {
		return nil, fmt.Errorf("box array record holds %d boxes, header says %d",
			len(rec.Boxes), rec.Count)
	}
	cells := make([]box.Box, rec.Count)
	for i, v := range rec.Boxes {
		var lo, hi box.IntVect
		copy(lo[:], v[:box.SpaceDim])
		copy(hi[:], v[box.SpaceDim:])
		cells[i] = box.NewCell(lo, hi)
	}
	return &BoxArray{typ: box.IndexType(rec.Type), r: newRef(cells)}, nil
}
