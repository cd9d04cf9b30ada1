// Package geometry plans and executes data exchange between boxes of
// distributed fields: ghost fills, periodic images across the domain edges
// and copies between different box layouts. Plans are cached by the full
// identity of their inputs.
package geometry

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/notargets/amrcomm/box"
	"github.com/notargets/amrcomm/utils"
)

const DefaultCacheCapacity = 100

type Config struct {
	Domain   box.Box
	Periodic [box.SpaceDim]bool
	// CacheCapacity bounds the plan cache; zero selects DefaultCacheCapacity.
	CacheCapacity int
	// Workers is the number of goroutines used for local copies.
	Workers int
	// VerifyPlans makes every fill check that all ranks agree on the layout.
	VerifyPlans bool
}

// Geometry is the problem domain with its periodicity and plan cache.
type Geometry struct {
	cfg   Config
	cache *PatternCache
	log   zerolog.Logger
}

func New(cfg Config) (g *Geometry) {
	if !cfg.Domain.Ok() || !cfg.Domain.Type().CellCentered() {
		panic(fmt.Sprintf("domain %v must be a non-empty cell centered box", cfg.Domain))
	}
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = DefaultCacheCapacity
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	g = &Geometry{
		cfg:   cfg,
		cache: NewPatternCache(cfg.CacheCapacity),
		log:   utils.Logger("geometry"),
	}
	return
}

func (g *Geometry) Domain() box.Box         { return g.cfg.Domain }
func (g *Geometry) Config() Config          { return g.cfg }
func (g *Geometry) Cache() *PatternCache    { return g.cache }
func (g *Geometry) IsPeriodic(dir int) bool { return g.cfg.Periodic[dir] }

func (g *Geometry) IsAnyPeriodic() bool {
	for _, p := range g.cfg.Periodic {
		if p {
			return true
		}
	}
	return false
}

// Period is the domain length along a periodic axis.
func (g *Geometry) Period(dir int) int {
	if !g.cfg.Periodic[dir] {
		panic(fmt.Sprintf("axis %d is not periodic", dir))
	}
	return g.cfg.Domain.Length(dir)
}

// PeriodicShift returns every non-zero combination of whole-period shifts
// along periodic axes that moves src onto target.
func (g *Geometry) PeriodicShift(target, src box.Box) (shifts []box.IntVect) {
	for _, s := range g.allShifts() {
		if src.Shift(s).Intersects(target) {
			shifts = append(shifts, s)
		}
	}
	return
}

// allShifts lists the non-zero shifts made of {-L, 0, L} per periodic axis.
func (g *Geometry) allShifts() (shifts []box.IntVect) {
	var choices [box.SpaceDim][]int
	for d := 0; d < box.SpaceDim; d++ {
		choices[d] = []int{0}
		if g.cfg.Periodic[d] {
			L := g.cfg.Domain.Length(d)
			choices[d] = []int{-L, 0, L}
		}
	}
	for _, i := range choices[0] {
		for _, j := range choices[1] {
			for _, k := range choices[2] {
				s := box.NewIntVect(i, j, k)
				if !s.IsZero() {
					shifts = append(shifts, s)
				}
			}
		}
	}
	return
}

func (g *Geometry) checkGhost(ng int) {
	for d := 0; d < box.SpaceDim; d++ {
		if g.cfg.Periodic[d] && ng > g.cfg.Domain.Length(d) {
			panic(fmt.Sprintf("ghost width %d exceeds the period %d along axis %d",
				ng, g.cfg.Domain.Length(d), d))
		}
	}
}
