// Package freelist implements a fixed-capacity index pool encoded as a
// single array carrying two singly linked lists: the used list and the
// empty list. Every index 0..n-1 is on exactly one of the two lists at all
// times, so acquiring and releasing slots never allocates. The structure
// backs the seeder and grain arenas, which are hot on the audio path.
package freelist

// end terminates both lists inside the cell array.
const end = -1

// List is a fixed-capacity used/empty index pool.
//
// Internally it holds n+2 cells: cells[i] for i < n is the successor of
// index i on whichever list i currently belongs to, cells[n] heads the
// used list and cells[n+1] heads the empty list. Acquiring prepends to the
// used list, so iteration yields indices in most-recently-acquired-first
// order.
type List struct {
	n     int
	cells []int
}

// New returns a list of capacity n with every index on the empty list.
func New(n int) *List {
	l := &List{n: n, cells: make([]int, n+2)}
	for i := 0; i < n-1; i++ {
		l.cells[i] = i + 1
	}
	l.cells[n-1] = end
	l.cells[n] = end // used list: ()
	l.cells[n+1] = 0 // empty list: 0, 1, ... n-1
	return l
}

// Cap returns the fixed capacity.
func (l *List) Cap() int { return l.n }

// AcquireFront moves the head of the empty list onto the head of the used
// list and returns the index. ok is false when the pool is exhausted.
func (l *List) AcquireFront() (index int, ok bool) {
	if l.cells[l.n+1] == end {
		return 0, false
	}
	index = l.cells[l.n+1]
	l.cells[l.n+1] = l.cells[index]
	l.cells[index] = l.cells[l.n]
	l.cells[l.n] = index
	return index, true
}

// AcquireIndex moves a specific index from the empty list onto the head of
// the used list. It reports false when the index is not on the empty list,
// which includes the case where it is already in use. O(n).
func (l *List) AcquireIndex(index int) bool {
	cell := l.n + 1
	for l.cells[cell] != end && l.cells[cell] != index {
		cell = l.cells[cell]
	}
	if l.cells[cell] == end {
		return false
	}
	l.cells[cell] = l.cells[index]
	l.cells[index] = l.cells[l.n]
	l.cells[l.n] = index
	return true
}

// ReleaseIndex moves a specific index from the used list back onto the
// empty list. It reports false when the index is not in use. O(n).
func (l *List) ReleaseIndex(index int) bool {
	cell := l.n
	for l.cells[cell] != end && l.cells[cell] != index {
		cell = l.cells[cell]
	}
	if l.cells[cell] == end {
		return false
	}
	l.cells[cell] = l.cells[index]
	l.cells[index] = l.cells[l.n+1]
	l.cells[l.n+1] = index
	return true
}

// UsedLen returns the number of indices currently in use. O(n).
func (l *List) UsedLen() int {
	cnt := 0
	for cell := l.n; l.cells[cell] != end; cell = l.cells[cell] {
		cnt++
	}
	return cnt
}

// FreeLen returns the number of indices currently available. O(n).
func (l *List) FreeLen() int {
	cnt := 0
	for cell := l.n + 1; l.cells[cell] != end; cell = l.cells[cell] {
		cnt++
	}
	return cnt
}

// Cursor addresses one node of the used list during iteration. The zero
// value is not valid; obtain cursors from Front.
type Cursor struct {
	l    *List
	cell int // cells[cell] is the index the cursor addresses
}

// Front returns a cursor addressing the head of the used list.
func (l *List) Front() Cursor { return Cursor{l: l, cell: l.n} }

// Valid reports whether the cursor addresses a node.
func (c *Cursor) Valid() bool { return c.l.cells[c.cell] != end }

// Index returns the index the cursor addresses.
func (c *Cursor) Index() int { return c.l.cells[c.cell] }

// Next advances the cursor to the following node.
func (c *Cursor) Next() { c.cell = c.l.cells[c.cell] }

// Remove unlinks the node the cursor addresses and splices it onto the
// empty list, returning its index. The cursor is left addressing the node
// that followed, so removal during forward iteration is safe without a
// subsequent Next.
func (l *List) Remove(c *Cursor) int {
	index := l.cells[c.cell]
	l.cells[c.cell] = l.cells[index]
	l.cells[index] = l.cells[l.n+1]
	l.cells[l.n+1] = index
	return index
}
