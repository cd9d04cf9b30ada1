// Package distribution maps box indices to the ranks that own them.
package distribution

import (
	"encoding/binary"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/zeebo/blake3"

	"github.com/notargets/amrcomm/utils"
)

var lastID atomic.Uint64

// DistributionMapping is an immutable owner list with an identity token.
// Two mappings built separately never share an ID even when equal.
type DistributionMapping struct {
	owners []int
	id     uint64
}

func New(owners []int) *DistributionMapping {
	for i, o := range owners {
		if o < 0 {
			panic(fmt.Sprintf("box %d has negative owner %d", i, o))
		}
	}
	return &DistributionMapping{owners: slices.Clone(owners), id: lastID.Add(1)}
}

// RoundRobin deals n boxes to nprocs ranks in turn.
func RoundRobin(n, nprocs int) *DistributionMapping {
	owners := make([]int, n)
	for i := range owners {
		owners[i] = i % nprocs
	}
	return New(owners)
}

// Contiguous gives each rank one consecutive run of boxes, run lengths
// differing by at most one.
func Contiguous(n, nprocs int) *DistributionMapping {
	var (
		pm     = utils.NewPartitionMap(nprocs, n)
		owners = make([]int, n)
	)
	for i := range owners {
		owners[i], _, _ = pm.GetBucket(i)
	}
	return New(owners)
}

func (dm *DistributionMapping) ID() uint64 { return dm.id }

func (dm *DistributionMapping) Len() int { return len(dm.owners) }

func (dm *DistributionMapping) Owner(i int) int { return dm.owners[i] }

func (dm *DistributionMapping) Owners() []int { return slices.Clone(dm.owners) }

func (dm *DistributionMapping) Equal(o *DistributionMapping) bool {
	return dm == o || slices.Equal(dm.owners, o.owners)
}

func SameRefs(a, b *DistributionMapping) bool { return a.id == b.id }

// IndicesOf lists the boxes owned by rank in increasing order.
func (dm *DistributionMapping) IndicesOf(rank int) (idx []int) {
	for i, o := range dm.owners {
		if o == rank {
			idx = append(idx, i)
		}
	}
	return
}

// Fingerprint is a BLAKE3 digest of the owner list.
func (dm *DistributionMapping) Fingerprint() (sum [32]byte) {
	var (
		h   = blake3.New()
		buf [8]byte
	)
	for _, o := range dm.owners {
		binary.LittleEndian.PutUint64(buf[:], uint64(o))
		h.Write(buf[:])
	}
	copy(sum[:], h.Sum(nil))
	return
}
