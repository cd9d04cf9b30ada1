// Package parallel is the messaging substrate between ranks. A World runs
// each rank as a goroutine; ranks share nothing and talk only through their
// Comm: non-blocking point-to-point transfers matched on (source, tag),
// barriers, all-reductions and team sub-groups.
package parallel

import (
	"errors"
	"fmt"
)

// Mode selects how point-to-point payloads move between ranks.
type Mode int

const (
	// ModeBuffered copies the payload into a staging buffer when the send
	// is posted; the send completes immediately.
	ModeBuffered Mode = iota
	// ModeWindowed exposes the receive buffer; the sender's data is put
	// directly into it when the two sides match and the send completes then.
	ModeWindowed
)

func (m Mode) String() string {
	switch m {
	case ModeBuffered:
		return "buffered"
	case ModeWindowed:
		return "windowed"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func ParseMode(name string) (Mode, error) {
	switch name {
	case "", "buffered":
		return ModeBuffered, nil
	case "windowed":
		return ModeWindowed, nil
	default:
		return 0, fmt.Errorf("unknown messaging mode %q", name)
	}
}

type ReduceOp int

const (
	OpSum ReduceOp = iota
	OpMin
	OpMax
	OpAnd
	OpOr
)

// Comm is one rank's view of the world.
type Comm interface {
	Rank() int
	Size() int
	Mode() Mode
	// SeqNum returns the next value of a per-rank counter. Ranks that make
	// the same sequence of calls draw the same numbers, which makes them
	// usable as message tags for collective operations.
	SeqNum() int
	Isend(data []float64, dest, tag int) *Request
	Irecv(buf []float64, src, tag int) *Request
	Send(data []float64, dest, tag int) error
	Recv(buf []float64, src, tag int) error
	Barrier()
	// ReduceFloat64 and ReduceInt64 combine vals element-wise across all
	// ranks and leave the result in vals on every rank.
	ReduceFloat64(vals []float64, op ReduceOp)
	ReduceInt64(vals []int64, op ReduceOp)
	ReduceBool(v bool, op ReduceOp) bool
	Team() *Team
}

// ErrAborted is returned by blocking operations once another rank of the
// world has failed.
var ErrAborted = errors.New("world aborted by a failing rank")

// MessageSizeError reports a matched message whose length differs from the
// posted receive buffer.
type MessageSizeError struct {
	Src, Dest, Tag int
	Sent, Expected int
}

func (e *MessageSizeError) Error() string {
	return fmt.Sprintf("message from rank %d to rank %d with tag %d: sent %d values, receiver expected %d",
		e.Src, e.Dest, e.Tag, e.Sent, e.Expected)
}

// Request tracks one posted send or receive.
type Request struct {
	done  chan struct{}
	abort <-chan struct{}
	err   error
}

func newRequest(abort <-chan struct{}) *Request {
	return &Request{done: make(chan struct{}), abort: abort}
}

func (r *Request) complete(err error) {
	r.err = err
	close(r.done)
}

// Wait blocks until the request completes.
func (r *Request) Wait() error {
	select {
	case <-r.done:
		return r.err
	case <-r.abort:
		select {
		case <-r.done:
			return r.err
		default:
			return ErrAborted
		}
	}
}

// Test reports whether the request has completed without blocking.
func (r *Request) Test() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// WaitAll waits for every request and joins their errors.
func WaitAll(reqs []*Request) error {
	var errs []error
	for _, r := range reqs {
		if err := r.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
