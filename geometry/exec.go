package geometry

import (
	"errors"
	"fmt"

	"github.com/notargets/amrcomm/fab"
	"github.com/notargets/amrcomm/parallel"
	"github.com/notargets/amrcomm/utils"
)

// exchange is one execution of a plan, started but not yet finished.
type exchange struct {
	comm                parallel.Comm
	plan                *Plan
	dst, src            *fab.MultiFab
	scomp, dcomp, ncomp int
	op                  fab.Op
	scale               float64
	workers             int

	recvBuf   []float64
	recvRanks []int
	recvReqs  []*parallel.Request
	sendBufs  [][]float64
	sendReqs  []*parallel.Request
	finished  bool
}

// start posts every receive into one contiguous block, packs and posts the
// sends, then performs the local copies. Every rank draws a sequence number
// even when it has nothing to move, which keeps tags aligned across ranks.
func start(comm parallel.Comm, plan *Plan, dst, src *fab.MultiFab, scomp, dcomp, ncomp int,
	op fab.Op, scale float64, workers int) (x *exchange) {
	tag := comm.SeqNum()
	x = &exchange{
		comm: comm, plan: plan, dst: dst, src: src,
		scomp: scomp, dcomp: dcomp, ncomp: ncomp,
		op: op, scale: scale, workers: workers,
		recvRanks: plan.RecvRanks(),
	}
	var total int
	for _, r := range x.recvRanks {
		total += plan.RecvVol[r] * ncomp
	}
	if total > 0 {
		x.recvBuf = make([]float64, total)
	}
	var off int
	for _, r := range x.recvRanks {
		n := plan.RecvVol[r] * ncomp
		x.recvReqs = append(x.recvReqs, comm.Irecv(x.recvBuf[off:off+n], r, tag))
		off += n
	}
	for _, r := range plan.SendRanks() {
		buf := make([]float64, plan.SendVol[r]*ncomp)
		var n int
		for _, t := range plan.Send[r] {
			n += src.Fab(t.SrcIndex).CopyToMem(t.SrcBox, scomp, ncomp, buf[n:])
		}
		x.sendBufs = append(x.sendBufs, buf)
		x.sendReqs = append(x.sendReqs, comm.Isend(buf, r, tag))
	}
	x.runLocal()
	return
}

func (x *exchange) copyTag(t Tag) {
	x.dst.Fab(t.DstIndex).CopyFrom(x.src.Fab(t.SrcIndex), t.SrcBox, x.scomp, t.DstBox,
		x.dcomp, x.ncomp, x.op, x.scale)
}

func (x *exchange) runLocal() {
	// In place, only plain ghost fills never read what another tag writes
	var (
		local      = x.plan.Local
		inPlaceOK  = x.plan.Key.Kind == KindFill && !x.plan.Key.Corners
		parallelOK = x.plan.ThreadSafeLocal && (x.src != x.dst || inPlaceOK)
	)
	if !parallelOK {
		for _, t := range local {
			x.copyTag(t)
		}
		return
	}
	utils.ParallelFor(len(local), x.workers, func(lo, hi int) {
		for _, t := range local[lo:hi] {
			x.copyTag(t)
		}
	})
}

func (x *exchange) unpack(k int) {
	var (
		r   = x.recvRanks[k]
		off int
		n   int
	)
	for _, rr := range x.recvRanks[:k] {
		off += x.plan.RecvVol[rr] * x.ncomp
	}
	buf := x.recvBuf[off : off+x.plan.RecvVol[r]*x.ncomp]
	for _, t := range x.plan.Recv[r] {
		n += x.dst.Fab(t.DstIndex).CopyFromMem(t.DstBox, x.dcomp, x.ncomp, buf[n:], x.op, x.scale)
	}
}

// finish waits for the receives, unpacks them in the order they were
// packed, waits for the sends and releases all buffers.
func (x *exchange) finish() (err error) {
	if x.finished {
		panic("exchange finished twice")
	}
	x.finished = true
	rerr := parallel.WaitAll(x.recvReqs)
	if rerr == nil {
		if x.plan.ThreadSafeRecv && x.workers > 1 {
			utils.ParallelFor(len(x.recvRanks), x.workers, func(lo, hi int) {
				for k := lo; k < hi; k++ {
					x.unpack(k)
				}
			})
		} else {
			for k := range x.recvRanks {
				x.unpack(k)
			}
		}
	}
	serr := parallel.WaitAll(x.sendReqs)
	x.recvBuf, x.sendBufs = nil, nil
	x.recvReqs, x.sendReqs = nil, nil
	if err = errors.Join(rerr, serr); err != nil {
		return fmt.Errorf("%s exchange on rank %d: %w", x.plan.Key.Kind, x.comm.Rank(), err)
	}
	return
}
