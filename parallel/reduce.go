package parallel

import (
	"fmt"
	"slices"
	"sync"
)

// collective gathers one contribution per member and hands every member the
// combined result. Contributions are combined in member order so floating
// point results are identical on every rank.
type collective struct {
	w       *World
	size    int
	mu      sync.Mutex
	cond    *sync.Cond
	gen     uint64
	arrived int
	parts   []any
	result  any
}

func newCollective(w *World, size int) (c *collective) {
	c = &collective{w: w, size: size, parts: make([]any, size)}
	c.cond = sync.NewCond(&c.mu)
	return
}

func (c *collective) wake() {
	c.mu.Lock()
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *collective) allReduce(member int, v any, combine func(parts []any) any) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.w.aborted() {
		panic(ErrAborted)
	}
	gen := c.gen
	c.parts[member] = v
	c.arrived++
	if c.arrived == c.size {
		c.result = combine(c.parts)
		c.parts = make([]any, c.size)
		c.arrived = 0
		c.gen++
		c.cond.Broadcast()
		return c.result
	}
	for gen == c.gen {
		if c.w.aborted() {
			panic(ErrAborted)
		}
		c.cond.Wait()
	}
	return c.result
}

type number interface {
	~int64 | ~float64
}

func combineSlices[T number](parts []any, op ReduceOp) any {
	res := slices.Clone(parts[0].([]T))
	for _, p := range parts[1:] {
		vals := p.([]T)
		if len(vals) != len(res) {
			panic(fmt.Sprintf("reduction lengths differ: %d vs %d", len(vals), len(res)))
		}
		for i, v := range vals {
			switch op {
			case OpSum:
				res[i] += v
			case OpMin:
				res[i] = min(res[i], v)
			case OpMax:
				res[i] = max(res[i], v)
			default:
				panic(fmt.Sprintf("reduction op %d is not defined for numbers", op))
			}
		}
	}
	return res
}

func (e *Endpoint) ReduceFloat64(vals []float64, op ReduceOp) {
	res := e.w.all.allReduce(e.rank, slices.Clone(vals), func(parts []any) any {
		return combineSlices[float64](parts, op)
	})
	copy(vals, res.([]float64))
}

func (e *Endpoint) ReduceInt64(vals []int64, op ReduceOp) {
	res := e.w.all.allReduce(e.rank, slices.Clone(vals), func(parts []any) any {
		return combineSlices[int64](parts, op)
	})
	copy(vals, res.([]int64))
}

func (e *Endpoint) ReduceBool(v bool, op ReduceOp) bool {
	res := e.w.all.allReduce(e.rank, v, func(parts []any) any {
		acc := parts[0].(bool)
		for _, p := range parts[1:] {
			switch op {
			case OpAnd:
				acc = acc && p.(bool)
			case OpOr:
				acc = acc || p.(bool)
			default:
				panic(fmt.Sprintf("reduction op %d is not defined for booleans", op))
			}
		}
		return acc
	})
	return res.(bool)
}
