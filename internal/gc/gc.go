// Package gc implements the garbage-collection collaborator: a victim list
// sorted by invalid-slice count plus the reclaim pass that copies out live
// slices, erases the victim block, and refills a die's current block. It is
// grounded on the same intrusive doubly-linked-list idiom as
// internal/vblock's free list, reusing vblock.Block's link fields since a
// block is on at most one of {free list, victim list} at a time.
//
// gc depends on two narrow interfaces, SliceAllocator and Eraser, rather
// than importing internal/alloc or the root ftl package directly: alloc
// calls GarbageCollection on free-list exhaustion, and GarbageCollection
// calls back into the allocator for copy-out addresses and into the
// translator to erase the reclaimed block, which would otherwise form an
// import cycle. The concrete wiring happens once, in ftl, which is the only
// package that imports both internal/alloc and internal/gc.
package gc

import (
	"fmt"

	"github.com/m0joonKim/ESS-FW-SRC/internal/geom"
	"github.com/m0joonKim/ESS-FW-SRC/internal/slicemap"
	"github.com/m0joonKim/ESS-FW-SRC/internal/timeslice"
	"github.com/m0joonKim/ESS-FW-SRC/internal/trace"
	"github.com/m0joonKim/ESS-FW-SRC/internal/vblock"
)

// SliceAllocator is the narrow allocator surface GarbageCollection needs to
// relocate live slices out of a victim block.
type SliceAllocator interface {
	FindFreeVirtualSliceForGc(copyDie, victimBlk uint32) (uint32, error)
}

// Eraser is the narrow translator surface GarbageCollection needs to erase
// a reclaimed victim block.
type Eraser interface {
	EraseBlock(die, blk uint32) error
}

type victimList struct {
	onList []bool
	head   uint32
	tail   uint32
}

// Collector owns the per-die victim lists and drives reclamation.
type Collector struct {
	geo      geom.Config
	dies     []*vblock.Die
	sliceMap *slicemap.SliceMap
	alloc    SliceAllocator
	eraser   Eraser

	victims []victimList
}

// NewCollector builds a Collector over dies and sliceMap. alloc must be set
// before GarbageCollection can relocate slices; eraser must be set before
// GarbageCollection can reclaim a block. Both are injected after
// construction via SetAllocator/SetEraser to let ftl break the alloc<->gc
// initialization cycle.
func NewCollector(geo geom.Config, dies []*vblock.Die, sliceMap *slicemap.SliceMap) *Collector {
	c := &Collector{geo: geo, dies: dies, sliceMap: sliceMap, victims: make([]victimList, len(dies))}
	for i := range c.victims {
		c.victims[i] = victimList{onList: make([]bool, len(dies[i].Blocks)), head: vblock.BlockNone, tail: vblock.BlockNone}
	}
	return c
}

// SetAllocator wires the allocator used for copy-out addresses.
func (c *Collector) SetAllocator(a SliceAllocator) { c.alloc = a }

// SetEraser wires the translator used to erase reclaimed blocks.
func (c *Collector) SetEraser(e Eraser) { c.eraser = e }

// SelectiveGetFromGcVictimList idempotently unlinks (die, blk) from the
// victim list, a no-op if it is not currently on the list.
func (c *Collector) SelectiveGetFromGcVictimList(die, blk uint32) {
	v := &c.victims[die]
	if !v.onList[blk] {
		return
	}
	d := c.dies[die]
	b := &d.Blocks[blk]

	if b.PrevBlock != vblock.BlockNone {
		d.Blocks[b.PrevBlock].NextBlock = b.NextBlock
	} else {
		v.head = b.NextBlock
	}
	if b.NextBlock != vblock.BlockNone {
		d.Blocks[b.NextBlock].PrevBlock = b.PrevBlock
	} else {
		v.tail = b.PrevBlock
	}
	b.PrevBlock = vblock.BlockNone
	b.NextBlock = vblock.BlockNone
	v.onList[blk] = false
}

// PutToGcVictimList (re-)inserts (die, blk) keyed by invalidSliceCnt,
// highest first, so the head of the list is always the best reclaim
// candidate. Idempotent: a block already on the list is unlinked and
// reinserted at its new position. invalidSliceCnt is stored in the block's
// InvalidSliceCnt, which is the key the list is ordered by.
func (c *Collector) PutToGcVictimList(die, blk uint32, invalidSliceCnt uint32) {
	c.SelectiveGetFromGcVictimList(die, blk)

	d := c.dies[die]
	v := &c.victims[die]
	b := &d.Blocks[blk]
	b.InvalidSliceCnt = invalidSliceCnt

	var prev uint32 = vblock.BlockNone
	cur := v.head
	for cur != vblock.BlockNone && d.Blocks[cur].InvalidSliceCnt >= invalidSliceCnt {
		prev = cur
		cur = d.Blocks[cur].NextBlock
	}

	b.PrevBlock = prev
	b.NextBlock = cur
	if prev == vblock.BlockNone {
		v.head = blk
	} else {
		d.Blocks[prev].NextBlock = blk
	}
	if cur == vblock.BlockNone {
		v.tail = blk
	} else {
		d.Blocks[cur].PrevBlock = blk
	}
	v.onList[blk] = true
}

// GarbageCollection reclaims at least one free block on die: pops the best
// victim, relocates every still-live slice, erases the victim, and refills
// currentBlock[die] from the resulting free list.
var tsGarbageCollection = timeslice.RegisterKind("gc::garbage_collection")

func (c *Collector) GarbageCollection(die uint32) error {
	defer timeslice.NewRecorder().Record(tsGarbageCollection)

	if c.alloc == nil || c.eraser == nil {
		return fmt.Errorf("gc: collector not fully wired (allocator=%v eraser=%v)", c.alloc != nil, c.eraser != nil)
	}

	d := c.dies[die]
	v := &c.victims[die]
	victim := v.head
	if victim == vblock.BlockNone {
		return fmt.Errorf("gc: die %d has no victim to reclaim", die)
	}
	c.SelectiveGetFromGcVictimList(die, victim)

	for offset := uint32(0); offset < c.geo.SlicesPerBlock; offset++ {
		vsa := c.geo.Vorg2Vsa(die, victim, offset)
		lsa := c.sliceMap.Reverse(vsa)
		if lsa == geom.NoAddress {
			continue
		}
		if c.sliceMap.Forward(lsa) != vsa {
			continue // stale reverse entry, not live
		}
		newVsa, err := c.alloc.FindFreeVirtualSliceForGc(die, victim)
		if err != nil {
			return fmt.Errorf("gc: relocate lsa %d from die %d block %d: %w", lsa, die, victim, err)
		}
		c.sliceMap.SetForward(lsa, newVsa)
		c.sliceMap.SetReverse(newVsa, lsa)
	}

	if err := c.eraser.EraseBlock(die, victim); err != nil {
		return fmt.Errorf("gc: erase reclaimed block die=%d blk=%d: %w", die, victim, err)
	}

	refill := d.GetFromFbList(vblock.GetFreeBlockGC, 0)
	if refill == vblock.BlockNone {
		return fmt.Errorf("gc: die %d has no free block to refill currentBlock after reclaim", die)
	}
	d.CurrentBlock = refill
	d.Blocks[refill].CurrentPage.Reset()
	trace.Writef("gc", "die=%d reclaimed block=%d new currentBlock=%d", die, victim, refill)
	return nil
}
