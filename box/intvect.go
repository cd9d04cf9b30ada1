package box

import (
	"fmt"
	"strings"
)

// SpaceDim is the number of index space dimensions. Problems with fewer
// dimensions use an extent of one cell along the unused axes.
const SpaceDim = 3

type IntVect [SpaceDim]int

func NewIntVect(v ...int) (iv IntVect) {
	if len(v) > SpaceDim {
		panic(fmt.Sprintf("IntVect has at most %d components, got %d", SpaceDim, len(v)))
	}
	copy(iv[:], v)
	return
}

// Unit returns an IntVect with every component set to n.
func Unit(n int) (iv IntVect) {
	for d := range iv {
		iv[d] = n
	}
	return
}

// BaseVect returns the unit vector along axis dir.
func BaseVect(dir int) (iv IntVect) {
	iv[dir] = 1
	return
}

func (iv IntVect) Add(o IntVect) (r IntVect) {
	for d := range iv {
		r[d] = iv[d] + o[d]
	}
	return
}

func (iv IntVect) Sub(o IntVect) (r IntVect) {
	for d := range iv {
		r[d] = iv[d] - o[d]
	}
	return
}

func (iv IntVect) Mul(o IntVect) (r IntVect) {
	for d := range iv {
		r[d] = iv[d] * o[d]
	}
	return
}

func (iv IntVect) Scale(s int) (r IntVect) {
	for d := range iv {
		r[d] = iv[d] * s
	}
	return
}

func (iv IntVect) Neg() (r IntVect) {
	for d := range iv {
		r[d] = -iv[d]
	}
	return
}

func (iv IntVect) Min(o IntVect) (r IntVect) {
	for d := range iv {
		r[d] = min(iv[d], o[d])
	}
	return
}

func (iv IntVect) Max(o IntVect) (r IntVect) {
	for d := range iv {
		r[d] = max(iv[d], o[d])
	}
	return
}

// Coarsen divides each component by ratio, rounding toward negative infinity.
func (iv IntVect) Coarsen(ratio IntVect) (r IntVect) {
	for d := range iv {
		r[d] = floorDiv(iv[d], ratio[d])
	}
	return
}

func (iv IntVect) IsZero() bool {
	return iv == IntVect{}
}

// AllLE reports whether every component of iv is <= the matching one of o.
func (iv IntVect) AllLE(o IntVect) bool {
	for d := range iv {
		if iv[d] > o[d] {
			return false
		}
	}
	return true
}

func (iv IntVect) AllGE(o IntVect) bool {
	for d := range iv {
		if iv[d] < o[d] {
			return false
		}
	}
	return true
}

// Less is the lexicographic order, axis 0 most significant.
func (iv IntVect) Less(o IntVect) bool {
	for d := range iv {
		if iv[d] != o[d] {
			return iv[d] < o[d]
		}
	}
	return false
}

func (iv IntVect) Product() (p int) {
	p = 1
	for _, v := range iv {
		p *= v
	}
	return
}

func (iv IntVect) MaxComponent() (m int) {
	m = iv[0]
	for _, v := range iv[1:] {
		m = max(m, v)
	}
	return
}

func (iv IntVect) String() string {
	parts := make([]string, SpaceDim)
	for d, v := range iv {
		parts[d] = fmt.Sprintf("%d", v)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

func floorDiv(a, b int) int {
	if b <= 0 {
		panic(fmt.Sprintf("non-positive ratio %d", b))
	}
	if a >= 0 {
		return a / b
	}
	return -((-a + b - 1) / b)
}
