package parallel

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"

	"github.com/notargets/amrcomm/utils"
)

type Option func(w *World)

func WithMode(m Mode) Option {
	return func(w *World) { w.mode = m }
}

// WithTeamSize groups consecutive ranks into teams of n.
func WithTeamSize(n int) Option {
	return func(w *World) { w.teamSize = n }
}

// World is a set of in-process ranks.
type World struct {
	size     int
	mode     Mode
	teamSize int

	endpoints []*Endpoint
	boxes     []*mailbox
	all       *collective
	teams     []*collective

	abortOnce sync.Once
	abort     chan struct{}
	log       zerolog.Logger
}

func NewWorld(size int, opts ...Option) (w *World) {
	if size < 1 {
		panic(fmt.Sprintf("world size must be positive, have %d", size))
	}
	w = &World{
		size:     size,
		teamSize: 1,
		abort:    make(chan struct{}),
		log:      utils.Logger("parallel"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.teamSize < 1 || size%w.teamSize != 0 {
		panic(fmt.Sprintf("team size %d does not divide world size %d", w.teamSize, size))
	}
	w.all = newCollective(w, size)
	w.teams = make([]*collective, size/w.teamSize)
	for i := range w.teams {
		w.teams[i] = newCollective(w, w.teamSize)
	}
	w.boxes = make([]*mailbox, size)
	w.endpoints = make([]*Endpoint, size)
	for rank := 0; rank < size; rank++ {
		w.boxes[rank] = newMailbox()
		w.endpoints[rank] = &Endpoint{w: w, rank: rank}
		w.endpoints[rank].team = newTeam(w, rank)
	}
	return
}

func (w *World) Size() int  { return w.size }
func (w *World) Mode() Mode { return w.mode }

// Comm returns the endpoint of rank. Endpoints keep their sequence counters
// across calls to Run.
func (w *World) Comm(rank int) *Endpoint {
	return w.endpoints[rank]
}

func (w *World) aborted() bool {
	select {
	case <-w.abort:
		return true
	default:
		return false
	}
}

func (w *World) fail() {
	w.abortOnce.Do(func() {
		close(w.abort)
		w.all.wake()
		for _, t := range w.teams {
			t.wake()
		}
	})
}

// Run executes f once per rank, each in its own goroutine, and waits for all
// of them. A rank that returns an error or panics aborts the world so that
// peers blocked on it are released; all rank errors are joined.
func (w *World) Run(f func(c Comm) error) error {
	if w.aborted() {
		return ErrAborted
	}
	var (
		wg   sync.WaitGroup
		errs = make([]error, w.size)
	)
	w.log.Debug().Int("ranks", w.size).Str("mode", w.mode.String()).Msg("run start")
	for rank := 0; rank < w.size; rank++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					if err, ok := p.(error); ok && errors.Is(err, ErrAborted) {
						errs[rank] = fmt.Errorf("rank %d: %w", rank, err)
					} else {
						errs[rank] = fmt.Errorf("rank %d panicked: %v\n%s", rank, p, debug.Stack())
					}
					w.fail()
				}
			}()
			if err := f(w.endpoints[rank]); err != nil {
				errs[rank] = fmt.Errorf("rank %d: %w", rank, err)
				w.fail()
			}
		}()
	}
	wg.Wait()
	err := errors.Join(errs...)
	if err != nil {
		w.log.Error().Err(err).Msg("run failed")
	}
	return err
}

var _ Comm = (*Endpoint)(nil)

// Endpoint is the Comm of one rank.
type Endpoint struct {
	w    *World
	rank int
	seq  int
	team *Team
}

func (e *Endpoint) Rank() int   { return e.rank }
func (e *Endpoint) Size() int   { return e.w.size }
func (e *Endpoint) Mode() Mode  { return e.w.mode }
func (e *Endpoint) Team() *Team { return e.team }

func (e *Endpoint) SeqNum() int {
	e.seq++
	return e.seq
}

func (e *Endpoint) checkRank(r int) {
	if r < 0 || r >= e.w.size {
		panic(fmt.Sprintf("rank %d out of range [0,%d)", r, e.w.size))
	}
}

func (e *Endpoint) Isend(data []float64, dest, tag int) *Request {
	e.checkRank(dest)
	req := newRequest(e.w.abort)
	env := &envelope{src: e.rank, tag: tag}
	if e.w.mode == ModeBuffered {
		env.data = append([]float64(nil), data...)
		req.complete(nil)
	} else {
		env.data = data
		env.sreq = req
	}
	e.w.boxes[dest].deliver(dest, env)
	return req
}

func (e *Endpoint) Irecv(buf []float64, src, tag int) *Request {
	e.checkRank(src)
	req := newRequest(e.w.abort)
	e.w.boxes[e.rank].post(e.rank, &pending{src: src, tag: tag, buf: buf, req: req})
	return req
}

func (e *Endpoint) Send(data []float64, dest, tag int) error {
	return e.Isend(data, dest, tag).Wait()
}

func (e *Endpoint) Recv(buf []float64, src, tag int) error {
	return e.Irecv(buf, src, tag).Wait()
}

func (e *Endpoint) Barrier() {
	e.w.all.allReduce(e.rank, nil, func([]any) any { return nil })
}
