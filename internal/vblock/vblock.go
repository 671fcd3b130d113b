// Package vblock implements components C and D: the per-die virtual-block
// table and the free-block doubly-linked list discipline built on top of
// it. The bit-packed lock+programmed-page field is grounded on the
// offset/shift packing idiom of _examples/iansmith-mazarin/src/bitfield
// (generalized there via reflection over struct tags; hand-written here as
// a single hot-path field does not warrant a reflective packer).
package vblock

import "fmt"

const pageCounterLockBit = uint16(1) << 15
const pageCounterCountMask = pageCounterLockBit - 1

// PageCounter is the packed `[lock:1 | programmedPages:15]` field tracking
// a block's current write cursor. The zero value is unlocked with zero
// programmed pages.
type PageCounter uint16

// Count returns the programmed-page count, masking off the lock bit.
func (p PageCounter) Count() uint32 { return uint32(p) & uint32(pageCounterCountMask) }

// Locked reports whether the reservation bit is set.
func (p PageCounter) Locked() bool { return uint16(p)&pageCounterLockBit != 0 }

// SetCount replaces the count while preserving the lock bit.
func (p *PageCounter) SetCount(n uint32) {
	*p = PageCounter((uint16(*p) & pageCounterLockBit) | uint16(n)&pageCounterCountMask)
}

// Lock sets the reservation bit without disturbing the count.
func (p *PageCounter) Lock() { *p |= PageCounter(pageCounterLockBit) }

// Unlock clears the reservation bit without disturbing the count.
func (p *PageCounter) Unlock() { *p &^= PageCounter(pageCounterLockBit) }

// Reset clears both the lock bit and the count.
func (p *PageCounter) Reset() { *p = 0 }

// BlockNone is the free-list sentinel for prev/next links.
const BlockNone = ^uint32(0)

// Block is the per-virtual-block state tracked within a die.
type Block struct {
	Bad             bool
	Free            bool
	InvalidSliceCnt uint32
	EraseCnt        uint32
	CurrentPage     PageCounter
	PrevBlock       uint32
	NextBlock       uint32
}

// Die is the per-die virtual-block table: the free-block FIFO plus the
// die's current write-target block.
type Die struct {
	Blocks        []Block
	HeadFreeBlock uint32
	TailFreeBlock uint32
	FreeBlockCnt  uint32
	CurrentBlock  uint32
}

// NewDie allocates a Die with n virtual blocks, all initially detached
// (neither free nor bad; InitBlockMap attaches them).
func NewDie(n uint32) *Die {
	blocks := make([]Block, n)
	for i := range blocks {
		blocks[i].PrevBlock = BlockNone
		blocks[i].NextBlock = BlockNone
	}
	return &Die{Blocks: blocks, HeadFreeBlock: BlockNone, TailFreeBlock: BlockNone}
}

// GetFreeBlockMode selects the reserve-protection policy of GetFromFbList.
type GetFreeBlockMode int

const (
	// GetFreeBlockNormal refuses to drain the list below
	// RESERVED_FREE_BLOCK_COUNT, protecting GC from self-starvation.
	GetFreeBlockNormal GetFreeBlockMode = iota
	// GetFreeBlockGC may drain the list to empty.
	GetFreeBlockGC
)

// PutToFbList appends blk to the tail of the free list.
func (d *Die) PutToFbList(blk uint32) error {
	if blk >= uint32(len(d.Blocks)) {
		return fmt.Errorf("vblock: PutToFbList: block %d out of range", blk)
	}
	b := &d.Blocks[blk]
	b.Free = true
	b.NextBlock = BlockNone
	b.PrevBlock = d.TailFreeBlock

	if d.TailFreeBlock == BlockNone {
		d.HeadFreeBlock = blk
	} else {
		d.Blocks[d.TailFreeBlock].NextBlock = blk
	}
	d.TailFreeBlock = blk
	d.FreeBlockCnt++
	return nil
}

// GetFromFbList pops the head of the free list under mode's reserve policy,
// returning BlockNone (not an error) when the policy refuses the pop: NORMAL
// refuses while FreeBlockCnt is at or below the reserve, GC does not.
func (d *Die) GetFromFbList(mode GetFreeBlockMode, reservedFreeBlockCount uint32) uint32 {
	if mode == GetFreeBlockNormal && d.FreeBlockCnt <= reservedFreeBlockCount {
		return BlockNone
	}
	if d.FreeBlockCnt == 0 {
		return BlockNone
	}

	blk := d.HeadFreeBlock
	b := &d.Blocks[blk]
	d.HeadFreeBlock = b.NextBlock
	if d.HeadFreeBlock == BlockNone {
		d.TailFreeBlock = BlockNone
	} else {
		d.Blocks[d.HeadFreeBlock].PrevBlock = BlockNone
	}

	b.Free = false
	b.PrevBlock = BlockNone
	b.NextBlock = BlockNone
	d.FreeBlockCnt--
	return blk
}

// FreeListLength walks the free list head-to-tail, for property tests.
func (d *Die) FreeListLength() uint32 {
	var n uint32
	for cur := d.HeadFreeBlock; cur != BlockNone; cur = d.Blocks[cur].NextBlock {
		n++
	}
	return n
}
