// Package alloc implements component G: the block/slice allocator. It
// chooses a target die by channel-major round robin, drives a die's
// current-block replacement out of the free list, and falls back to
// garbage collection on exhaustion.
//
// alloc depends on a narrow Collector interface rather than importing
// internal/gc directly, since gc.Collector in turn needs an allocator to
// relocate live slices during reclaim (see internal/gc's package doc for
// the full cycle-avoidance rationale). ftl wires the concrete
// *gc.Collector in after both sides are constructed.
package alloc

import (
	"fmt"

	"github.com/m0joonKim/ESS-FW-SRC/internal/geom"
	"github.com/m0joonKim/ESS-FW-SRC/internal/trace"
	"github.com/m0joonKim/ESS-FW-SRC/internal/vblock"
)

// Collector is the narrow GC surface the allocator calls into on free-list
// exhaustion. If GC cannot recover a block, the caller treats it as fatal.
type Collector interface {
	GarbageCollection(die uint32) error
}

// Allocator owns the round-robin cursor and drives FindFreeVirtualBlock /
// FindFreeVirtualSlice / FindFreeVirtualSliceForGc over a set of per-die
// virtual-block tables.
type Allocator struct {
	geo                    geom.Config
	dies                   []*vblock.Die
	reservedFreeBlockCount uint32
	collector              Collector

	targetChannel uint32
	targetWay     uint32
}

// New builds an Allocator over dies, starting the round-robin cursor at
// (channel 0, way 0).
func New(geo geom.Config, dies []*vblock.Die, reservedFreeBlockCount uint32) *Allocator {
	return &Allocator{geo: geo, dies: dies, reservedFreeBlockCount: reservedFreeBlockCount}
}

// SetCollector wires the GC collaborator, injected after construction to
// break the alloc<->gc initialization cycle.
func (a *Allocator) SetCollector(c Collector) { a.collector = c }

func (a *Allocator) currentTargetDie() uint32 { return a.geo.Pcw2Vdie(a.targetChannel, a.targetWay) }

func (a *Allocator) advanceRoundRobin() {
	a.targetChannel++
	if a.targetChannel >= a.geo.UserChannels {
		a.targetChannel = 0
		a.targetWay = (a.targetWay + 1) % a.geo.UserWays
	}
}

// FindDieForFreeSliceAllocation returns the next target die in
// channel-major round-robin order and advances the cursor. UserDies
// successive calls yield each die exactly once.
func (a *Allocator) FindDieForFreeSliceAllocation() uint32 {
	die := a.currentTargetDie()
	a.advanceRoundRobin()
	return die
}

// refillCurrentBlock replaces dies[die].CurrentBlock with a free block
// (NORMAL mode). On exhaustion it invokes GC, which refills the die's
// current block itself, and returns that block. Returns an error if GC
// cannot recover one.
func (a *Allocator) refillCurrentBlock(die uint32) (uint32, error) {
	d := a.dies[die]
	if blk := d.GetFromFbList(vblock.GetFreeBlockNormal, a.reservedFreeBlockCount); blk != vblock.BlockNone {
		d.CurrentBlock = blk
		d.Blocks[blk].CurrentPage.Reset()
		return blk, nil
	}
	if a.collector == nil {
		return 0, fmt.Errorf("alloc: die %d free-block exhausted and no collector wired", die)
	}
	if err := a.collector.GarbageCollection(die); err != nil {
		return 0, fmt.Errorf("alloc: die %d free-block exhaustion, GC failed: %w", die, err)
	}
	return d.CurrentBlock, nil
}

// FindFreeVirtualBlock reserves a whole virtual block on the current
// round-robin target die for block-level sequential writes.
func (a *Allocator) FindFreeVirtualBlock() (uint32, error) {
	die := a.currentTargetDie()
	d := a.dies[die]
	cb := d.CurrentBlock

	for d.Blocks[cb].CurrentPage.Count() != 0 || d.Blocks[cb].CurrentPage.Locked() {
		blk, err := a.refillCurrentBlock(die)
		if err != nil {
			return geom.NoAddress, err
		}
		cb = blk
	}

	baseVsa := a.geo.Vorg2Vsa(die, cb, 0)
	d.Blocks[cb].CurrentPage.Reset()
	d.Blocks[cb].CurrentPage.Lock()
	a.advanceRoundRobin()
	trace.Writef("alloc", "reserved block die=%d block=%d baseVsa=%d", die, cb, baseVsa)
	return baseVsa, nil
}

// FindFreeVirtualSlice issues one per-slice address on the current
// round-robin target die, for writers that are not driven by a
// block-level cursor.
func (a *Allocator) FindFreeVirtualSlice() (uint32, error) {
	die := a.currentTargetDie()
	d := a.dies[die]
	cb := d.CurrentBlock

	for d.Blocks[cb].CurrentPage.Count() == a.geo.UserPagesPerBlock || d.Blocks[cb].CurrentPage.Locked() {
		blk, err := a.refillCurrentBlock(die)
		if err != nil {
			return geom.NoAddress, err
		}
		cb = blk
	}

	count := d.Blocks[cb].CurrentPage.Count()
	if count > a.geo.UserPagesPerBlock {
		return geom.NoAddress, fmt.Errorf("alloc: die %d block %d programmed pages %d exceeds capacity %d", die, cb, count, a.geo.UserPagesPerBlock)
	}
	vsa := a.geo.Vorg2Vsa(die, cb, count*a.geo.SlicesPerPage)
	d.Blocks[cb].CurrentPage.SetCount(count + 1)
	a.advanceRoundRobin()
	return vsa, nil
}

// FindFreeVirtualSliceForGc issues one per-slice address on copyDie,
// constrained to that specific die to preserve channel placement during
// compaction, without touching the round-robin cursor. If victimBlk is the
// die's current block, it is replaced first via GC free-block semantics so
// GC never copies a block into itself.
func (a *Allocator) FindFreeVirtualSliceForGc(copyDie, victimBlk uint32) (uint32, error) {
	d := a.dies[copyDie]
	cb := d.CurrentBlock

	if cb == victimBlk {
		blk := d.GetFromFbList(vblock.GetFreeBlockGC, 0)
		if blk == vblock.BlockNone {
			return geom.NoAddress, fmt.Errorf("alloc: die %d has no free block to replace GC victim as current", copyDie)
		}
		d.CurrentBlock = blk
		d.Blocks[blk].CurrentPage.Reset()
		cb = blk
	}

	for d.Blocks[cb].CurrentPage.Count() == a.geo.UserPagesPerBlock || d.Blocks[cb].CurrentPage.Locked() {
		blk := d.GetFromFbList(vblock.GetFreeBlockGC, 0)
		if blk == vblock.BlockNone {
			return geom.NoAddress, fmt.Errorf("alloc: die %d exhausted during GC copy-out", copyDie)
		}
		d.CurrentBlock = blk
		d.Blocks[blk].CurrentPage.Reset()
		cb = blk
	}

	count := d.Blocks[cb].CurrentPage.Count()
	vsa := a.geo.Vorg2Vsa(copyDie, cb, count*a.geo.SlicesPerPage)
	d.Blocks[cb].CurrentPage.SetCount(count + 1)
	return vsa, nil
}
