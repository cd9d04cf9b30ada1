package distribution

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructors(t *testing.T) {
	{
		dm := RoundRobin(7, 3)
		assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0}, dm.Owners())
		assert.Equal(t, []int{1, 4}, dm.IndicesOf(1))
	}
	{
		dm := Contiguous(7, 3)
		assert.Equal(t, []int{0, 0, 0, 1, 1, 2, 2}, dm.Owners())
		assert.Empty(t, Contiguous(2, 4).IndicesOf(3))
	}
	assert.Panics(t, func() { New([]int{0, -1}) })
	for n := 0; n < 40; n++ {
		for nprocs := 1; nprocs < 10; nprocs++ {
			counts := make([]int, nprocs)
			owners := Contiguous(n, nprocs).Owners()
			for i, o := range owners {
				if i > 0 {
					assert.LessOrEqual(t, owners[i-1], o)
				}
				counts[o]++
			}
			assert.LessOrEqual(t, slices.Max(counts)-slices.Min(counts), 1, "%d boxes on %d ranks", n, nprocs)
		}
	}
}

func TestIdentity(t *testing.T) {
	owners := []int{0, 1, 1}
	a := New(owners)
	b := New(owners)
	owners[0] = 5
	assert.Equal(t, 0, a.Owner(0))
	assert.True(t, a.Equal(b))
	assert.False(t, SameRefs(a, b))
	assert.True(t, SameRefs(a, a))
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), RoundRobin(3, 2).Fingerprint())
}
