// Package boxarray holds collections of boxes sharing one index orientation.
// Handles on the same storage are cheap to share; the storage carries an
// identity token that changes on every mutation so communication plans built
// against an older version can never be matched again.
package boxarray

import (
	"encoding/binary"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/zeebo/blake3"

	"github.com/notargets/amrcomm/box"
)

var lastID atomic.Uint64

func nextID() uint64 { return lastID.Add(1) }

type ref struct {
	boxes []box.Box // cell centered
	id    atomic.Uint64
	refs  atomic.Int32

	mu   sync.Mutex
	hash *hashIndex
}

func newRef(boxes []box.Box) (r *ref) {
	r = &ref{boxes: boxes}
	r.id.Store(nextID())
	r.refs.Store(1)
	return
}

// BoxArray is a handle on shared box storage plus the orientation applied
// when boxes are read.
type BoxArray struct {
	typ box.IndexType
	r   *ref
}

type Intersection struct {
	Index int
	Box   box.Box
}

// New returns a collection holding the single box bx.
func New(bx box.Box) *BoxArray {
	return FromBoxes([]box.Box{bx})
}

// FromBoxes builds a collection from bxs. All boxes must share one
// orientation.
func FromBoxes(bxs []box.Box) (ba *BoxArray) {
	var (
		typ   box.IndexType
		cells = make([]box.Box, len(bxs))
	)
	if len(bxs) > 0 {
		typ = bxs[0].Type()
	}
	for i, b := range bxs {
		if b.Type() != typ {
			panic(fmt.Sprintf("box %d has orientation %v, collection has %v", i, b.Type(), typ))
		}
		cells[i] = b.Convert(box.CellType)
	}
	return &BoxArray{typ: typ, r: newRef(cells)}
}

func (ba *BoxArray) ref() *ref {
	if ba == nil || ba.r == nil {
		panic("BoxArray is uninitialized or released")
	}
	return ba.r
}

// ID is the identity token of the current storage version.
func (ba *BoxArray) ID() uint64 { return ba.ref().id.Load() }

// SameRefs reports whether a and b are handles on the same storage.
func SameRefs(a, b *BoxArray) bool {
	return a.ref() == b.ref()
}

// Share returns a new handle on the same storage.
func (ba *BoxArray) Share() *BoxArray {
	r := ba.ref()
	r.refs.Add(1)
	return &BoxArray{typ: ba.typ, r: r}
}

// Release drops this handle. Using it afterwards panics.
func (ba *BoxArray) Release() {
	ba.ref().refs.Add(-1)
	ba.r = nil
}

// mutable returns storage that this handle owns exclusively, copying when it
// is shared, and stamps a fresh identity on it.
func (ba *BoxArray) mutable() *ref {
	r := ba.ref()
	if r.refs.Load() > 1 {
		nr := newRef(slices.Clone(r.boxes))
		r.refs.Add(-1)
		ba.r = nr
		return nr
	}
	r.mu.Lock()
	r.id.Store(nextID())
	r.hash = nil
	r.mu.Unlock()
	return r
}

func (ba *BoxArray) Len() int { return len(ba.ref().boxes) }

func (ba *BoxArray) IxType() box.IndexType { return ba.typ }

// Get returns box i in the collection orientation.
func (ba *BoxArray) Get(i int) box.Box {
	return ba.ref().boxes[i].Convert(ba.typ)
}

func (ba *BoxArray) CellCentered(i int) box.Box {
	return ba.ref().boxes[i]
}

func (ba *BoxArray) Boxes() (bxs []box.Box) {
	bxs = make([]box.Box, ba.Len())
	for i := range bxs {
		bxs[i] = ba.Get(i)
	}
	return
}

func (ba *BoxArray) NumPts() (n int) {
	for i := 0; i < ba.Len(); i++ {
		n += ba.Get(i).NumPts()
	}
	return
}

func (ba *BoxArray) MinimalBox() box.Box {
	return box.MinimalBox(ba.Boxes())
}

// Equal compares orientation and every box.
func (ba *BoxArray) Equal(o *BoxArray) bool {
	if SameRefs(ba, o) {
		return ba.typ == o.typ
	}
	return ba.typ == o.typ && slices.Equal(ba.ref().boxes, o.ref().boxes)
}

// CellEqual compares the cell centered boxes, ignoring orientation.
func (ba *BoxArray) CellEqual(o *BoxArray) bool {
	return SameRefs(ba, o) || slices.Equal(ba.ref().boxes, o.ref().boxes)
}

// Set replaces box i.
func (ba *BoxArray) Set(i int, b box.Box) {
	if b.Type() != ba.typ {
		panic(fmt.Sprintf("box orientation %v does not match collection %v", b.Type(), ba.typ))
	}
	ba.mutable().boxes[i] = b.Convert(box.CellType)
}

func (ba *BoxArray) apply(f func(b box.Box) box.Box) *BoxArray {
	r := ba.mutable()
	for i, b := range r.boxes {
		r.boxes[i] = f(b)
	}
	return ba
}

func (ba *BoxArray) Refine(ratio box.IntVect) *BoxArray {
	return ba.apply(func(b box.Box) box.Box { return b.Refine(ratio) })
}

func (ba *BoxArray) Coarsen(ratio box.IntVect) *BoxArray {
	return ba.apply(func(b box.Box) box.Box { return b.Coarsen(ratio) })
}

func (ba *BoxArray) Grow(n int) *BoxArray {
	return ba.apply(func(b box.Box) box.Box { return b.Grow(n) })
}

func (ba *BoxArray) GrowVect(n box.IntVect) *BoxArray {
	return ba.apply(func(b box.Box) box.Box { return b.GrowVect(n) })
}

func (ba *BoxArray) Shift(iv box.IntVect) *BoxArray {
	return ba.apply(func(b box.Box) box.Box { return b.Shift(iv) })
}

// Convert returns a handle on the same storage read with orientation typ.
func (ba *BoxArray) Convert(typ box.IndexType) *BoxArray {
	nb := ba.Share()
	nb.typ = typ
	return nb
}

func (ba *BoxArray) SurroundingNodes(dir int) *BoxArray {
	return ba.Convert(ba.typ.Set(dir))
}

func (ba *BoxArray) EnclosedCells() *BoxArray {
	return ba.Convert(box.CellType)
}

// MaxSize chops every box so no side is longer than maxLen along that axis.
// Each box is split into nearly equal pieces.
func (ba *BoxArray) MaxSize(maxLen box.IntVect) *BoxArray {
	var out []box.Box
	for _, b := range ba.ref().boxes {
		pieces := []box.Box{b}
		for d := 0; d < box.SpaceDim; d++ {
			var next []box.Box
			for _, p := range pieces {
				next = append(next, chop(p, d, maxLen[d])...)
			}
			pieces = next
		}
		out = append(out, pieces...)
	}
	r := ba.mutable()
	r.boxes = out
	return ba
}

func chop(b box.Box, dir, maxLen int) (out []box.Box) {
	if maxLen <= 0 {
		panic(fmt.Sprintf("non-positive max size %d", maxLen))
	}
	var (
		length = b.Length(dir)
		nblk   = (length + maxLen - 1) / maxLen
	)
	if nblk <= 1 {
		return []box.Box{b}
	}
	var (
		size  = length / nblk
		extra = length % nblk
		lo    = b.SmallEnd(dir)
	)
	for k := 0; k < nblk; k++ {
		n := size
		if k < extra {
			n++
		}
		p := b.GrowLo(dir, -(lo - b.SmallEnd(dir)))
		p = p.GrowHi(dir, -(b.BigEnd(dir) - (lo + n - 1)))
		out = append(out, p)
		lo += n
	}
	return
}

// RemoveOverlap makes the collection disjoint: each box loses whatever is
// covered by boxes that precede it. The covered region does not change.
func (ba *BoxArray) RemoveOverlap() *BoxArray {
	var (
		cells = ba.EnclosedCells()
		out   []box.Box
	)
	defer cells.Release()
	for i := 0; i < cells.Len(); i++ {
		var (
			b       = cells.Get(i)
			earlier []box.Box
		)
		for _, is := range cells.Intersections(b, false, 0) {
			if is.Index < i {
				earlier = append(earlier, cells.Get(is.Index))
			}
		}
		out = append(out, box.DiffAll(b, earlier)...)
	}
	ba.mutable().boxes = out
	return ba
}

// Fingerprint is a BLAKE3 digest of the orientation and the box list.
func (ba *BoxArray) Fingerprint() (sum [32]byte) {
	var (
		h   = blake3.New()
		buf [8]byte
	)
	h.Write([]byte{byte(ba.typ)})
	for _, b := range ba.ref().boxes {
		for _, iv := range [2]box.IntVect{b.Lo(), b.Hi()} {
			for _, v := range iv {
				binary.LittleEndian.PutUint64(buf[:], uint64(int64(v)))
				h.Write(buf[:])
			}
		}
	}
	copy(sum[:], h.Sum(nil))
	return
}

func (ba *BoxArray) String() string {
	return fmt.Sprintf("BoxArray{id=%d n=%d typ=%v}", ba.ID(), ba.Len(), ba.typ)
}
