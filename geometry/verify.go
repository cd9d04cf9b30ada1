package geometry

import (
	"encoding/binary"
	"fmt"

	"github.com/notargets/amrcomm/boxarray"
	"github.com/notargets/amrcomm/distribution"
	"github.com/notargets/amrcomm/parallel"
)

// VerifyPlanInputs checks that every rank holds the same boxes and owners.
// It is collective: all ranks must call it.
func VerifyPlanInputs(comm parallel.Comm, ba *boxarray.BoxArray, dm *distribution.DistributionMapping) error {
	var (
		bsum = ba.Fingerprint()
		dsum = dm.Fingerprint()
		lo   = []int64{
			int64(binary.LittleEndian.Uint64(bsum[:8])),
			int64(binary.LittleEndian.Uint64(dsum[:8])),
			int64(ba.Len()),
		}
		hi = append([]int64(nil), lo...)
	)
	comm.ReduceInt64(lo, parallel.OpMin)
	comm.ReduceInt64(hi, parallel.OpMax)
	switch {
	case lo[2] != hi[2]:
		return fmt.Errorf("ranks disagree on the number of boxes: %d to %d", lo[2], hi[2])
	case lo[0] != hi[0]:
		return fmt.Errorf("ranks disagree on the box layout")
	case lo[1] != hi[1]:
		return fmt.Errorf("ranks disagree on box ownership")
	}
	return nil
}
