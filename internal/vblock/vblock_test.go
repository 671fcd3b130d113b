package vblock

import "testing"

func TestPageCounterPreservesLockAcrossSetCount(t *testing.T) {
	var p PageCounter
	p.Lock()
	p.SetCount(5)
	if !p.Locked() {
		t.Fatal("expected lock bit preserved after SetCount")
	}
	if p.Count() != 5 {
		t.Fatalf("Count() = %d, want 5", p.Count())
	}

	p.Unlock()
	if p.Locked() {
		t.Fatal("expected lock bit cleared")
	}
	if p.Count() != 5 {
		t.Fatalf("Count() = %d after Unlock, want unchanged 5", p.Count())
	}

	p.Reset()
	if p.Locked() || p.Count() != 0 {
		t.Fatalf("Reset() left lock=%v count=%d, want both zero", p.Locked(), p.Count())
	}
}

func TestPutAndGetFbListFIFO(t *testing.T) {
	d := NewDie(4)
	for _, blk := range []uint32{0, 1, 2} {
		if err := d.PutToFbList(blk); err != nil {
			t.Fatalf("PutToFbList(%d): %v", blk, err)
		}
	}
	if d.FreeBlockCnt != 3 {
		t.Fatalf("FreeBlockCnt = %d, want 3", d.FreeBlockCnt)
	}

	got := d.GetFromFbList(GetFreeBlockGC, 0)
	if got != 0 {
		t.Fatalf("first pop = %d, want 0 (FIFO order)", got)
	}
	if d.Blocks[0].Free {
		t.Error("popped block should no longer be marked free")
	}
	if d.Blocks[0].PrevBlock != BlockNone || d.Blocks[0].NextBlock != BlockNone {
		t.Error("popped block's links should be cleared")
	}
}

func TestGetFromFbListNormalRespectsReserve(t *testing.T) {
	d := NewDie(4)
	d.PutToFbList(0)
	d.PutToFbList(1)

	// freeBlockCnt=2, reserve=1: NORMAL may pop down to (but not through) the
	// reserve boundary.
	if blk := d.GetFromFbList(GetFreeBlockNormal, 1); blk != 0 {
		t.Fatalf("expected pop to succeed while above reserve, got %d", blk)
	}
	if blk := d.GetFromFbList(GetFreeBlockNormal, 1); blk != BlockNone {
		t.Fatalf("expected NORMAL to refuse at reserve boundary, got %d", blk)
	}
	if d.FreeBlockCnt != 1 {
		t.Fatalf("FreeBlockCnt = %d, want 1 (refused pop must not mutate state)", d.FreeBlockCnt)
	}
}

func TestGetFromFbListGCDrainsToEmpty(t *testing.T) {
	d := NewDie(4)
	d.PutToFbList(0)

	if blk := d.GetFromFbList(GetFreeBlockGC, 5); blk != 0 {
		t.Fatalf("GC mode should ignore reserve, got %d", blk)
	}
	if blk := d.GetFromFbList(GetFreeBlockGC, 0); blk != BlockNone {
		t.Fatalf("expected BlockNone from empty list, got %d", blk)
	}
}

func TestFreeListLengthMatchesCounterAndSentinelsHold(t *testing.T) {
	d := NewDie(5)
	for _, blk := range []uint32{3, 1, 4} {
		d.PutToFbList(blk)
	}
	if d.FreeListLength() != d.FreeBlockCnt {
		t.Fatalf("FreeListLength() = %d, FreeBlockCnt = %d", d.FreeListLength(), d.FreeBlockCnt)
	}
	if d.Blocks[d.HeadFreeBlock].PrevBlock != BlockNone {
		t.Error("head's PrevBlock must be BlockNone")
	}
	if d.Blocks[d.TailFreeBlock].NextBlock != BlockNone {
		t.Error("tail's NextBlock must be BlockNone")
	}
}
