package box

import "strings"

// IndexType is the per-axis orientation of a box: bit d set means the box is
// node (face) centered along axis d, otherwise cell centered.
type IndexType uint8

const CellType IndexType = 0

func NodeType() (t IndexType) {
	for d := 0; d < SpaceDim; d++ {
		t = t.Set(d)
	}
	return
}

// FaceType is node centered along dir and cell centered elsewhere.
func FaceType(dir int) IndexType {
	return CellType.Set(dir)
}

func (t IndexType) IsNode(dir int) bool {
	return t&(1<<uint(dir)) != 0
}

func (t IndexType) IsCell(dir int) bool {
	return !t.IsNode(dir)
}

func (t IndexType) Set(dir int) IndexType {
	return t | (1 << uint(dir))
}

func (t IndexType) Unset(dir int) IndexType {
	return t &^ (1 << uint(dir))
}

func (t IndexType) CellCentered() bool { return t == CellType }

func (t IndexType) NodeCentered() bool { return t == NodeType() }

// Vect returns 1 for node centered axes and 0 for cell centered ones.
func (t IndexType) Vect() (iv IntVect) {
	for d := 0; d < SpaceDim; d++ {
		if t.IsNode(d) {
			iv[d] = 1
		}
	}
	return
}

func (t IndexType) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for d := 0; d < SpaceDim; d++ {
		if d > 0 {
			sb.WriteByte(',')
		}
		if t.IsNode(d) {
			sb.WriteByte('N')
		} else {
			sb.WriteByte('C')
		}
	}
	sb.WriteByte(')')
	return sb.String()
}
