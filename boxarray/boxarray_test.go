package boxarray

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/amrcomm/box"
	"github.com/notargets/amrcomm/codec"
)

func cell(lx, ly, lz, hx, hy, hz int) box.Box {
	return box.NewCell(box.NewIntVect(lx, ly, lz), box.NewIntVect(hx, hy, hz))
}

func randomBoxes(rng *rand.Rand, n int) (bxs []box.Box) {
	for i := 0; i < n; i++ {
		lo := box.NewIntVect(rng.Intn(40)-10, rng.Intn(40)-10, rng.Intn(4))
		sz := box.NewIntVect(1+rng.Intn(8), 1+rng.Intn(8), 1+rng.Intn(2))
		bxs = append(bxs, box.NewCell(lo, lo.Add(sz).Sub(box.Unit(1))))
	}
	return
}

func TestIntersectionsMatchBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	ba := FromBoxes(randomBoxes(rng, 60))
	for q := 0; q < 200; q++ {
		query := randomBoxes(rng, 1)[0]
		ng := rng.Intn(3)
		var want []Intersection
		for i := 0; i < ba.Len(); i++ {
			is := query.Intersect(ba.Get(i).Grow(ng))
			if is.Ok() {
				want = append(want, Intersection{Index: i, Box: is})
			}
		}
		got := ba.Intersections(query, false, ng)
		assert.Equal(t, want, got)
		first := ba.Intersections(query, true, ng)
		if len(want) == 0 {
			assert.Empty(t, first)
		} else {
			require.Len(t, first, 1)
			assert.Contains(t, want, first[0])
		}
	}
}

func TestNodeCenteredIntersections(t *testing.T) {
	ba := FromBoxes([]box.Box{cell(0, 0, 0, 4, 0, 0), cell(5, 0, 0, 9, 0, 0)})
	nodes := ba.SurroundingNodes(0)
	defer nodes.Release()
	// Node 5 is shared by both boxes
	q := box.New(box.NewIntVect(5, 0, 0), box.NewIntVect(5, 0, 0), box.FaceType(0))
	got := nodes.Intersections(q, false, 0)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, 1, got[1].Index)

	assert.Panics(t, func() { ba.Intersections(q, false, 0) })
}

func TestIdentityAndCopyOnWrite(t *testing.T) {
	ba := FromBoxes([]box.Box{cell(0, 0, 0, 3, 3, 0), cell(4, 0, 0, 7, 3, 0)})
	other := FromBoxes(ba.Boxes())
	assert.NotEqual(t, ba.ID(), other.ID())
	assert.True(t, ba.Equal(other))
	assert.False(t, SameRefs(ba, other))

	shared := ba.Share()
	assert.True(t, SameRefs(ba, shared))
	assert.Equal(t, ba.ID(), shared.ID())

	id := ba.ID()
	shared.Refine(box.Unit(2))
	assert.False(t, SameRefs(ba, shared))
	assert.Equal(t, id, ba.ID())
	assert.NotEqual(t, id, shared.ID())
	assert.Equal(t, cell(0, 0, 0, 3, 3, 0), ba.Get(0))
	assert.Equal(t, cell(0, 0, 0, 7, 7, 1), shared.Get(0))

	// Sole owner mutates in place but still gets a new identity
	ba.Shift(box.NewIntVect(1, 0, 0))
	assert.NotEqual(t, id, ba.ID())
	assert.Equal(t, cell(1, 0, 0, 4, 3, 0), ba.Get(0))
	assert.Len(t, ba.Intersections(cell(0, 0, 0, 0, 0, 0), false, 0), 0)

	shared.Release()
	assert.Panics(t, func() { shared.Len() })
}

func TestMixedOrientationPanics(t *testing.T) {
	a := cell(0, 0, 0, 1, 1, 1)
	assert.Panics(t, func() { FromBoxes([]box.Box{a, a.SurroundingNodes(1)}) })
}

func TestRemoveOverlapPreservesUnion(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	bxs := randomBoxes(rng, 25)
	covered := make(map[box.IntVect]bool)
	for _, b := range bxs {
		b.ForEach(func(iv box.IntVect) { covered[iv] = true })
	}
	ba := FromBoxes(bxs).RemoveOverlap()
	assert.True(t, ba.IsDisjoint())
	assert.Equal(t, len(covered), ba.NumPts())
	for i := 0; i < ba.Len(); i++ {
		ba.Get(i).ForEach(func(iv box.IntVect) { assert.True(t, covered[iv]) })
	}
}

func TestMaxSize(t *testing.T) {
	ba := New(cell(0, 0, 0, 9, 4, 0)).MaxSize(box.NewIntVect(4, 4, 4))
	assert.Equal(t, 6, ba.Len())
	assert.Equal(t, 50, ba.NumPts())
	assert.True(t, ba.IsDisjoint())
	for _, b := range ba.Boxes() {
		assert.LessOrEqual(t, b.Length(0), 4)
		assert.GreaterOrEqual(t, b.Length(0), 3)
		assert.LessOrEqual(t, b.Length(1), 4)
	}
}

func TestCoverageQueries(t *testing.T) {
	ba := FromBoxes([]box.Box{cell(0, 0, 0, 3, 3, 0), cell(4, 0, 0, 7, 3, 0), cell(0, 4, 0, 3, 7, 0)})
	assert.True(t, ba.Contains(cell(2, 1, 0, 5, 3, 0)))
	assert.False(t, ba.Contains(cell(2, 1, 0, 5, 5, 0)))
	assert.True(t, ba.ContainsIV(box.NewIntVect(7, 3, 0)))
	assert.False(t, ba.ContainsIV(box.NewIntVect(7, 4, 0)))
	assert.True(t, ba.ContainsAll(FromBoxes([]box.Box{cell(1, 1, 0, 6, 2, 0)})))

	comp := ba.Complement()
	assert.Equal(t, 16, comp.NumPts())
	assert.True(t, comp.Contains(cell(4, 4, 0, 7, 7, 0)))

	isect := ba.Intersect(cell(3, 3, 0, 4, 4, 0), 0)
	assert.Equal(t, 3, isect.Len())
	assert.Equal(t, 3, isect.NumPts())

	bnd := ba.BoundaryCells(1)
	assert.True(t, bnd.IsDisjoint())
	for _, b := range bnd.Boxes() {
		assert.False(t, ba.Intersects(b, 0))
	}
	// Grown boxes cover 84 cells per z plane over three planes
	assert.Equal(t, 3*84-48, bnd.NumPts())
}

func TestFingerprintAndPersistence(t *testing.T) {
	ba := FromBoxes([]box.Box{cell(0, 0, 0, 3, 3, 0), cell(4, 0, 0, 7, 3, 0)})
	same := FromBoxes(ba.Boxes())
	assert.Equal(t, ba.Fingerprint(), same.Fingerprint())
	nodes := ba.SurroundingNodes(0)
	assert.NotEqual(t, ba.Fingerprint(), nodes.Fingerprint())

	var buf bytes.Buffer
	_, err := nodes.Write(&buf, codec.CompressionZstd)
	require.NoError(t, err)
	back, err := Read(&buf)
	require.NoError(t, err)
	assert.True(t, back.Equal(nodes))
	assert.NotEqual(t, nodes.ID(), back.ID())
}
