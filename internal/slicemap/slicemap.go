// Package slicemap implements components E and F: the forward/reverse
// slice maps (LSA<->VSA) over the full logical/virtual slice address
// space, and the per-logical-block write cursors driving block-level
// sequential allocation.
package slicemap

import "github.com/m0joonKim/ESS-FW-SRC/internal/geom"

// SliceMap holds the LSA->VSA forward map and the VSA->LSA reverse map.
type SliceMap struct {
	forward []uint32 // forward[lsa] = vsa, or geom.NoAddress
	reverse []uint32 // reverse[vsa] = lsa, or geom.NoAddress
}

// New allocates a SliceMap sized for slicesPerSSD logical and virtual
// slices, both maps initialized to geom.NoAddress.
func New(slicesPerSSD uint32) *SliceMap {
	m := &SliceMap{
		forward: make([]uint32, slicesPerSSD),
		reverse: make([]uint32, slicesPerSSD),
	}
	m.Reset()
	return m
}

// Reset clears both maps to geom.NoAddress.
func (m *SliceMap) Reset() {
	for i := range m.forward {
		m.forward[i] = geom.NoAddress
	}
	for i := range m.reverse {
		m.reverse[i] = geom.NoAddress
	}
}

// Forward returns the VSA currently mapped from lsa, or geom.NoAddress.
func (m *SliceMap) Forward(lsa uint32) uint32 { return m.forward[lsa] }

// SetForward maps lsa to vsa in the forward map.
func (m *SliceMap) SetForward(lsa, vsa uint32) { m.forward[lsa] = vsa }

// Reverse returns the LSA currently mapped from vsa, or geom.NoAddress.
func (m *SliceMap) Reverse(vsa uint32) uint32 { return m.reverse[vsa] }

// SetReverse maps vsa to lsa in the reverse map.
func (m *SliceMap) SetReverse(vsa, lsa uint32) { m.reverse[vsa] = lsa }

// Cursor holds the base VSA of the virtual block currently reserved for a
// logical block, and the next unwritten in-block slice offset.
type Cursor struct {
	BaseVsa    uint32
	NextOffset uint32
}

// CursorTable holds one Cursor per logical block.
type CursorTable struct {
	cursors []Cursor
}

// NewCursorTable allocates a CursorTable for logicalBlocksPerSSD logical
// blocks, every cursor starting with BaseVsa = geom.NoAddress.
func NewCursorTable(logicalBlocksPerSSD uint32) *CursorTable {
	t := &CursorTable{cursors: make([]Cursor, logicalBlocksPerSSD)}
	t.Reset()
	return t
}

// Reset clears every cursor (BaseVsa = geom.NoAddress, NextOffset = 0).
func (t *CursorTable) Reset() {
	for i := range t.cursors {
		t.cursors[i] = Cursor{BaseVsa: geom.NoAddress}
	}
}

// Get returns the cursor for logical block lblk.
func (t *CursorTable) Get(lblk uint32) Cursor { return t.cursors[lblk] }

// Set replaces the cursor for logical block lblk.
func (t *CursorTable) Set(lblk uint32, c Cursor) { t.cursors[lblk] = c }

// Clear resets the cursor for logical block lblk to its initial state.
func (t *CursorTable) Clear(lblk uint32) { t.cursors[lblk] = Cursor{BaseVsa: geom.NoAddress} }
