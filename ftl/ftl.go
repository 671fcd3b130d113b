// Package ftl is the root address-translation core: a single Translator
// value owning every map, cursor table and die's block state, exposing the
// host-facing API (AddrTransRead, AddrTransWrite, InvalidateOldVsa*,
// EraseBlock, boot entry points). The forward/reverse maps and cursor
// tables become fields of one value constructed at boot, with the API as
// methods on it instead of module-level mutation.
package ftl

import (
	"fmt"
	"log/slog"

	"github.com/m0joonKim/ESS-FW-SRC/internal/alloc"
	"github.com/m0joonKim/ESS-FW-SRC/internal/badblock"
	"github.com/m0joonKim/ESS-FW-SRC/internal/config"
	"github.com/m0joonKim/ESS-FW-SRC/internal/gc"
	"github.com/m0joonKim/ESS-FW-SRC/internal/geom"
	"github.com/m0joonKim/ESS-FW-SRC/internal/nandreq"
	"github.com/m0joonKim/ESS-FW-SRC/internal/slicemap"
	"github.com/m0joonKim/ESS-FW-SRC/internal/timeslice"
	"github.com/m0joonKim/ESS-FW-SRC/internal/trace"
	"github.com/m0joonKim/ESS-FW-SRC/internal/vblock"
)

var tsAddrTransWrite = timeslice.RegisterKind("ftl::addr_trans_write")

// FatalError marks a condition the translator must not continue past.
// Callers embedding this core in a larger process are expected to treat it
// as unrecoverable: log and halt.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("ftl: fatal in %s: %v", e.Op, e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

func fatalf(op, format string, args ...any) error {
	return &FatalError{Op: op, Err: fmt.Errorf(format, args...)}
}

// BootPrompter is the operator surface at boot: a single console prompt
// deciding whether to erase every non-bad user block after the block map is
// rebuilt. The bad-block table is recovered the same way either way; the
// answer does not force a BBT rebuild.
// cmd/ftlsim implements this over a raw terminal; tests can supply a
// canned answer.
type BootPrompter interface {
	// PromptEraseAll returns true if the operator requested the user block
	// space erase (pressed 'X'), false otherwise.
	PromptEraseAll() bool
}

// Translator is the single value that owns every map, cursor table, and
// per-die block state for one simulated SSD.
type Translator struct {
	geo geom.Config
	cfg config.Allocator
	log *slog.Logger

	bbt       *badblock.Table
	dies      []*vblock.Die
	sliceMap  *slicemap.SliceMap
	cursors   *slicemap.CursorTable
	allocator *alloc.Allocator
	collector *gc.Collector
	queue     nandreq.Queue

	mbPerBlock uint64
}

// New constructs a Translator wired end to end: allocator and collector
// cross-reference each other through the narrow interfaces each package
// defines, breaking the alloc<->gc import cycle (see internal/gc's
// package doc).
func New(cfg config.Config, queue nandreq.Queue, log *slog.Logger, mbPerBlock uint64) *Translator {
	if log == nil {
		log = slog.Default()
	}
	geo := cfg.Geom()

	dies := make([]*vblock.Die, geo.UserDies)
	for i := range dies {
		dies[i] = vblock.NewDie(geo.UserBlocksPerDie)
	}

	sm := slicemap.New(geo.SlicesPerSSD)
	cursors := slicemap.NewCursorTable(geo.LogicalBlocksPerSSD)
	bbt := badblock.New(geo, queue, log, mbPerBlock)

	allocator := alloc.New(geo, dies, cfg.Allocator.ReservedFreeBlockCount)
	collector := gc.NewCollector(geo, dies, sm)

	t := &Translator{
		geo: geo, cfg: cfg.Allocator, log: log,
		bbt: bbt, dies: dies, sliceMap: sm, cursors: cursors,
		allocator: allocator, collector: collector, queue: queue,
		mbPerBlock: mbPerBlock,
	}

	allocator.SetCollector(collector)
	collector.SetAllocator(allocator)
	collector.SetEraser(t)

	return t
}

// Geom exposes the derived geometry, e.g. for test harnesses and cmd/ftlsim
// progress-bar sizing.
func (t *Translator) Geom() geom.Config { return t.geo }

// DieStats reports a die's free-block count and current block, for
// operator tooling and tests.
type DieStats struct {
	FreeBlockCnt uint32
	CurrentBlock uint32
}

// DieStats returns the free-block count and current block of die.
func (t *Translator) DieStats(die uint32) DieStats {
	d := t.dies[die]
	return DieStats{FreeBlockCnt: d.FreeBlockCnt, CurrentBlock: d.CurrentBlock}
}

// MaxEraseCount reports the highest per-block erase count observed on
// die, useful for wear reporting even though wear-leveling itself is out
// of scope here.
func (t *Translator) MaxEraseCount(die uint32) uint32 {
	var max uint32
	for _, b := range t.dies[die].Blocks {
		if b.EraseCnt > max {
			max = b.EraseCnt
		}
	}
	return max
}

// MBPerBadBlockSpace reports the capacity deficit accumulated by
// RemapBadBlock.
func (t *Translator) MBPerBadBlockSpace() uint64 { return t.bbt.MBPerBadBlockSpace() }

// AddrTransRead bounds-checks lsa, then does a pure lookup.
func (t *Translator) AddrTransRead(lsa uint32) (uint32, error) {
	if lsa >= t.geo.SlicesPerSSD {
		return 0, fatalf("AddrTransRead", "lsa %d out of range [0,%d)", lsa, t.geo.SlicesPerSSD)
	}
	vsa := t.sliceMap.Forward(lsa)
	if vsa == geom.NoAddress {
		return geom.VSAFail, nil
	}
	return vsa, nil
}

// AddrTransWrite allocates the next slice of lsa's logical block
// sequentially, reserving a fresh virtual block when the current one is
// full or unset.
func (t *Translator) AddrTransWrite(lsa uint32) (uint32, error) {
	defer timeslice.NewRecorder().Record(tsAddrTransWrite)

	if lsa >= t.geo.SlicesPerSSD {
		return 0, fatalf("AddrTransWrite", "lsa %d out of range [0,%d)", lsa, t.geo.SlicesPerSSD)
	}

	lblk := t.geo.AddrToBlock(lsa)

	if old := t.sliceMap.Forward(lsa); old != geom.NoAddress {
		if t.sliceMap.Reverse(old) != lsa {
			return 0, fatalf("AddrTransWrite", "reverse coherence violated: vsa %d points to lsa %d, expected %d", old, t.sliceMap.Reverse(old), lsa)
		}
		if err := t.InvalidateOldVsa(lsa); err != nil {
			return 0, err
		}
	}

	cursor := t.cursors.Get(lblk)
	if cursor.BaseVsa == geom.NoAddress {
		baseVsa, err := t.allocator.FindFreeVirtualBlock()
		if err != nil {
			return 0, fatalf("AddrTransWrite", "FindFreeVirtualBlock: %w", err)
		}
		cursor = slicemap.Cursor{BaseVsa: baseVsa, NextOffset: 0}
	}

	if cursor.NextOffset >= t.geo.SlicesPerBlock {
		return 0, fatalf("AddrTransWrite", "logical block %d cursor offset %d out of range [0,%d)", lblk, cursor.NextOffset, t.geo.SlicesPerBlock)
	}

	die := t.geo.Vsa2Vdie(cursor.BaseVsa)
	block := t.geo.Vsa2Vblock(cursor.BaseVsa)
	vsa := t.geo.Vorg2Vsa(die, block, cursor.NextOffset)
	cursor.NextOffset++

	t.sliceMap.SetForward(lsa, vsa)
	t.sliceMap.SetReverse(vsa, lsa)

	programmedPages := (cursor.NextOffset + t.geo.SlicesPerPage - 1) / t.geo.SlicesPerPage
	b := &t.dies[die].Blocks[block]
	if b.CurrentPage.Count() < programmedPages {
		b.CurrentPage.SetCount(programmedPages)
	}

	if cursor.NextOffset == t.geo.SlicesPerBlock {
		b.CurrentPage.Unlock()
		cursor = slicemap.Cursor{BaseVsa: geom.NoAddress, NextOffset: 0}
	}
	t.cursors.Set(lblk, cursor)

	return vsa, nil
}

// InvalidateOldVsa invalidates the virtual slice currently mapped from
// lsa, tolerating a stale or already-cleared forward entry.
func (t *Translator) InvalidateOldVsa(lsa uint32) error {
	v := t.sliceMap.Forward(lsa)
	if v == geom.NoAddress {
		return nil
	}
	if t.sliceMap.Reverse(v) != lsa {
		// Someone else already reclaimed or overwrote the reverse pointer.
		return nil
	}

	die := t.geo.Vsa2Vdie(v)
	block := t.geo.Vsa2Vblock(v)
	t.collector.SelectiveGetFromGcVictimList(die, block)

	b := &t.dies[die].Blocks[block]
	b.InvalidSliceCnt++
	t.sliceMap.SetForward(lsa, geom.NoAddress)
	t.collector.PutToGcVictimList(die, block, b.InvalidSliceCnt)
	return nil
}

// InvalidateOldVsaForBlockLevel is a specialization for call sites that
// already have the logical-block/offset decomposition; it performs the
// same invalidation as InvalidateOldVsa.
func (t *Translator) InvalidateOldVsaForBlockLevel(lsa uint32) error {
	return t.InvalidateOldVsa(lsa)
}

// InvalidateOldVsaBlock invalidates every slice of lblk and resets its
// cursor.
func (t *Translator) InvalidateOldVsaBlock(lblk uint32) error {
	base := lblk * t.geo.SlicesPerBlock
	for off := uint32(0); off < t.geo.SlicesPerBlock; off++ {
		if err := t.InvalidateOldVsa(base + off); err != nil {
			return err
		}
	}
	t.cursors.Clear(lblk)
	return nil
}

// EraseBlock queues a NAND erase, then resets the virtual block's
// metadata, clears the reverse map for every slice in it, unlinks it from
// the GC victim list if it is there, and enqueues it on the free list. Clears the full SlicesPerBlock range, not just
// UserPagesPerBlock, so the reverse map for every VSA in the block ends up
// LSA_NONE.
func (t *Translator) EraseBlock(die, blk uint32) error {
	b := &t.dies[die].Blocks[blk]
	baseVsa := t.geo.Vorg2Vsa(die, blk, 0)

	req := &nandreq.Request{
		Type: nandreq.ReqTypeNAND,
		Code: nandreq.ReqCodeErase,
		Opt: nandreq.Options{
			NandAddr:          nandreq.NandAddrVSA,
			BlockSpace:        nandreq.BlockSpaceMain,
			RowAddrDependency: nandreq.RowDependencyCheckOn,
		},
		VsaOrg: nandreq.VsaOrg{VSA: baseVsa, ProgrammedPageCnt: b.CurrentPage.Count()},
	}
	if err := t.issue(req); err != nil {
		return fmt.Errorf("ftl: EraseBlock die=%d blk=%d: %w", die, blk, err)
	}

	b.Free = true
	b.EraseCnt++
	b.InvalidSliceCnt = 0
	b.CurrentPage.Reset()

	for off := uint32(0); off < t.geo.SlicesPerBlock; off++ {
		t.sliceMap.SetReverse(baseVsa+off, geom.NoAddress)
	}

	trace.Writef("ftl", "erased die=%d block=%d eraseCnt=%d", die, blk, b.EraseCnt)
	t.collector.SelectiveGetFromGcVictimList(die, blk)
	return t.dies[die].PutToFbList(blk)
}

func (t *Translator) issue(req *nandreq.Request) error {
	slot, err := t.queue.GetFromFreeReqQ()
	if err != nil {
		return err
	}
	*slot = *req
	if err := t.queue.SelectLowLevelReqQ(slot); err != nil {
		return err
	}
	return t.queue.SyncAllLowLevelReqDone()
}

// EraseTotalBlockSpace issues erase requests for every physical block in
// TOTAL_BLOCKS_PER_DIE, addressed by physical organization. Used only from
// boot/factory reset; does not update in-memory virtual-block metadata.
func (t *Translator) EraseTotalBlockSpace() error {
	for die := uint32(0); die < t.geo.UserDies; die++ {
		for pb := uint32(0); pb < t.geo.TotalBlocksPerDie; pb++ {
			req := &nandreq.Request{
				Type: nandreq.ReqTypeNAND,
				Code: nandreq.ReqCodeErase,
				Opt: nandreq.Options{
					BlockSpace:        nandreq.BlockSpaceTotal,
					RowAddrDependency: nandreq.RowDependencyCheckOn,
				},
				PhyOrg: nandreq.PhyOrg{
					Channel: t.geo.Vdie2Pch(die),
					Way:     t.geo.Vdie2Pway(die),
					Block:   pb,
				},
			}
			if err := t.issue(req); err != nil {
				return fmt.Errorf("ftl: EraseTotalBlockSpace die=%d pb=%d: %w", die, pb, err)
			}
		}
	}
	return nil
}

// EraseUserBlockSpace issues erase requests for every non-bad virtual user
// block, addressed by VSA.
func (t *Translator) EraseUserBlockSpace() error {
	for die := uint32(0); die < t.geo.UserDies; die++ {
		for vb := uint32(0); vb < t.geo.UserBlocksPerDie; vb++ {
			if t.dies[die].Blocks[vb].Bad {
				continue
			}
			baseVsa := t.geo.Vorg2Vsa(die, vb, 0)
			req := &nandreq.Request{
				Type: nandreq.ReqTypeNAND,
				Code: nandreq.ReqCodeErase,
				Opt: nandreq.Options{
					NandAddr:          nandreq.NandAddrVSA,
					BlockSpace:        nandreq.BlockSpaceMain,
					RowAddrDependency: nandreq.RowDependencyCheckOn,
				},
				VsaOrg: nandreq.VsaOrg{VSA: baseVsa},
			}
			if err := t.issue(req); err != nil {
				return fmt.Errorf("ftl: EraseUserBlockSpace die=%d vb=%d: %w", die, vb, err)
			}
		}
	}
	return nil
}

// InitSliceMap resets the forward/reverse slice maps and cursor table, as
// part of InitAddressMap.
func (t *Translator) InitSliceMap() {
	t.sliceMap.Reset()
	t.cursors.Reset()
}

// InitDieMap resets every die's free list and current-block pointer to
// their zero state, ahead of RecoverBadBlockTable/InitBlockMap rebuilding
// them.
func (t *Translator) InitDieMap() {
	for _, d := range t.dies {
		*d = *vblock.NewDie(uint32(len(d.Blocks)))
	}
}

// InitBlockMap resolves, for each (die, vb), the remapped physical block,
// copies its bad flag, resets the rest of the virtual block's state, and
// either enqueues it (good) or leaves it detached (bad).
func (t *Translator) InitBlockMap() error {
	for die := uint32(0); die < t.geo.UserDies; die++ {
		for vb := uint32(0); vb < t.geo.UserBlocksPerDie; vb++ {
			pb := t.geo.Vblock2PblockOfTbs(vb)
			finalPb := t.bbt.Physical(die, pb).RemappedPhyBlock
			bad := t.bbt.Physical(die, finalPb).Bad

			b := &t.dies[die].Blocks[vb]
			b.Bad = bad
			b.Free = false
			b.InvalidSliceCnt = 0
			b.CurrentPage.Reset()
			b.EraseCnt = 0
			b.PrevBlock = vblock.BlockNone
			b.NextBlock = vblock.BlockNone

			if bad {
				continue
			}
			if err := t.dies[die].PutToFbList(vb); err != nil {
				return fmt.Errorf("ftl: InitBlockMap die=%d vb=%d: %w", die, vb, err)
			}
		}
	}
	return nil
}

// InitCurrentBlockOfDieMap dequeues one block per die as its current
// block; failure is fatal.
func (t *Translator) InitCurrentBlockOfDieMap() error {
	for die := uint32(0); die < t.geo.UserDies; die++ {
		d := t.dies[die]
		blk := d.GetFromFbList(vblock.GetFreeBlockNormal, t.cfg.ReservedFreeBlockCount)
		if blk == vblock.BlockNone {
			return fatalf("InitCurrentBlockOfDieMap", "die %d has no free block to seed currentBlock", die)
		}
		d.CurrentBlock = blk
	}
	return nil
}

// InitAddressMap is the top-level boot entry point.
func (t *Translator) InitAddressMap(prompter BootPrompter) error {
	t.InitSliceMap()
	return t.InitBlockDieMap(prompter)
}

// InitBlockDieMap runs the boot orchestration: operator prompt, die-map
// reset, BBT recovery, forced-bad on the BBT's own block, remap,
// block-map rebuild, optional full user-space erase, and current block
// seeding.
func (t *Translator) InitBlockDieMap(prompter BootPrompter) error {
	eraseFlag := prompter != nil && prompter.PromptEraseAll()

	t.InitDieMap()

	if err := t.bbt.RecoverBadBlockTable(); err != nil {
		return fmt.Errorf("ftl: InitBlockDieMap: recover bad block table: %w", err)
	}
	t.bbt.ForceBbtBlockBad()
	if err := t.bbt.RemapBadBlock(); err != nil {
		return fmt.Errorf("ftl: InitBlockDieMap: remap bad block: %w", err)
	}
	if err := t.InitBlockMap(); err != nil {
		return err
	}

	if eraseFlag {
		t.log.Info("operator requested full erase, rebuilding user block space")
		if err := t.EraseUserBlockSpace(); err != nil {
			return fmt.Errorf("ftl: InitBlockDieMap: erase user block space: %w", err)
		}
	}

	return t.InitCurrentBlockOfDieMap()
}
