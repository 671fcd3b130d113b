package alloc

import (
	"testing"

	"github.com/m0joonKim/ESS-FW-SRC/internal/geom"
	"github.com/m0joonKim/ESS-FW-SRC/internal/vblock"
)

func testGeom() geom.Config {
	return geom.New(geom.Config{
		UserChannels:      2,
		UserWays:          2,
		LunsPerDie:        1,
		UserBlocksPerLun:  4,
		TotalBlocksPerLun: 6,
		UserPagesPerBlock: 4,
		SlicesPerPage:     1,
	})
}

// newSeededDies builds one die per geo.UserDies, each with block 0 as the
// current block (0 programmed pages) and every other block on the free list.
func newSeededDies(geo geom.Config) []*vblock.Die {
	dies := make([]*vblock.Die, geo.UserDies)
	for i := range dies {
		d := vblock.NewDie(geo.UserBlocksPerDie)
		d.CurrentBlock = 0
		for blk := uint32(1); blk < geo.UserBlocksPerDie; blk++ {
			d.PutToFbList(blk)
		}
		dies[i] = d
	}
	return dies
}

func TestFindDieForFreeSliceAllocationIsAPermutationOverUserDies(t *testing.T) {
	geo := testGeom()
	a := New(geo, newSeededDies(geo), 1)

	seen := make(map[uint32]bool)
	for i := uint32(0); i < geo.UserDies; i++ {
		seen[a.FindDieForFreeSliceAllocation()] = true
	}
	if len(seen) != int(geo.UserDies) {
		t.Fatalf("got %d distinct dies over %d calls, want %d", len(seen), geo.UserDies, geo.UserDies)
	}
}

func TestFindFreeVirtualBlockLocksAndAdvancesRoundRobin(t *testing.T) {
	geo := testGeom()
	dies := newSeededDies(geo)
	a := New(geo, dies, 1)

	baseVsa, err := a.FindFreeVirtualBlock()
	if err != nil {
		t.Fatalf("FindFreeVirtualBlock: %v", err)
	}
	die := geo.Vsa2Vdie(baseVsa)
	blk := geo.Vsa2Vblock(baseVsa)
	if !dies[die].Blocks[blk].CurrentPage.Locked() {
		t.Fatal("expected block to be locked after FindFreeVirtualBlock")
	}
	if geo.Vsa2SliceOffset(baseVsa) != 0 {
		t.Fatalf("expected baseVsa to address slice offset 0, got %d", geo.Vsa2SliceOffset(baseVsa))
	}

	// round robin must have advanced: the second die allocated for differs.
	second, err := a.FindFreeVirtualBlock()
	if err != nil {
		t.Fatalf("second FindFreeVirtualBlock: %v", err)
	}
	if geo.Vsa2Vdie(second) == die {
		t.Error("expected round robin to move to a different die on the second call")
	}
}

func TestFindFreeVirtualSliceIncrementsProgrammedPages(t *testing.T) {
	geo := testGeom()
	dies := newSeededDies(geo)
	a := New(geo, dies, 1)

	die := a.currentTargetDie()
	cb := dies[die].CurrentBlock

	vsa1, err := a.FindFreeVirtualSlice()
	if err != nil {
		t.Fatalf("FindFreeVirtualSlice: %v", err)
	}
	if dies[die].Blocks[cb].CurrentPage.Count() != 1 {
		t.Fatalf("programmed pages = %d, want 1", dies[die].Blocks[cb].CurrentPage.Count())
	}
	if geo.Vsa2SliceOffset(vsa1) != 0 {
		t.Fatalf("first slice offset = %d, want 0", geo.Vsa2SliceOffset(vsa1))
	}
}

func TestFindFreeVirtualBlockRefillsFromFreeListOnLockedCurrent(t *testing.T) {
	geo := testGeom()
	dies := newSeededDies(geo)
	a := New(geo, dies, 1)

	die := a.currentTargetDie()
	dies[die].Blocks[dies[die].CurrentBlock].CurrentPage.Lock()

	baseVsa, err := a.FindFreeVirtualBlock()
	if err != nil {
		t.Fatalf("FindFreeVirtualBlock: %v", err)
	}
	if geo.Vsa2Vblock(baseVsa) == 0 {
		t.Fatal("expected allocator to skip the locked current block and pull from free list")
	}
}

func TestFindFreeVirtualSliceForGcDoesNotAdvanceRoundRobin(t *testing.T) {
	geo := testGeom()
	dies := newSeededDies(geo)
	a := New(geo, dies, 1)

	before := a.currentTargetDie()
	if _, err := a.FindFreeVirtualSliceForGc(before, dies[before].CurrentBlock+1); err != nil {
		t.Fatalf("FindFreeVirtualSliceForGc: %v", err)
	}
	if a.currentTargetDie() != before {
		t.Fatal("FindFreeVirtualSliceForGc must not advance the round-robin cursor")
	}
}

func TestFindFreeVirtualSliceForGcReplacesCurrentWhenItIsTheVictim(t *testing.T) {
	geo := testGeom()
	dies := newSeededDies(geo)
	a := New(geo, dies, 1)

	die := a.currentTargetDie()
	victim := dies[die].CurrentBlock

	vsa, err := a.FindFreeVirtualSliceForGc(die, victim)
	if err != nil {
		t.Fatalf("FindFreeVirtualSliceForGc: %v", err)
	}
	if geo.Vsa2Vblock(vsa) == victim {
		t.Fatal("expected GC copy-out to avoid writing into the victim block itself")
	}
	if dies[die].CurrentBlock == victim {
		t.Fatal("expected currentBlock to be replaced when it was the victim")
	}
}

func TestFindFreeVirtualBlockFatalWithoutCollectorOnExhaustion(t *testing.T) {
	geo := testGeom()
	dies := make([]*vblock.Die, geo.UserDies)
	for i := range dies {
		dies[i] = vblock.NewDie(geo.UserBlocksPerDie)
		dies[i].CurrentBlock = 0
		dies[i].Blocks[0].CurrentPage.Lock() // locked, no free list, no collector
	}
	a := New(geo, dies, 1)

	if _, err := a.FindFreeVirtualBlock(); err == nil {
		t.Fatal("expected fatal error when exhausted with no collector wired")
	}
}
