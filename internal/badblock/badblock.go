// Package badblock implements the per-die physical block map, bad-block-table
// persistence, and the remap pass that gives every die a contiguous non-bad
// virtual-block address space. NAND access follows an "issue a request, wait
// for it" shape driving internal/nandreq.Queue.
package badblock

import (
	"fmt"
	"log/slog"

	"github.com/m0joonKim/ESS-FW-SRC/internal/geom"
	"github.com/m0joonKim/ESS-FW-SRC/internal/nandreq"
	"github.com/m0joonKim/ESS-FW-SRC/internal/timeslice"
	"github.com/m0joonKim/ESS-FW-SRC/internal/trace"
)

// Block health byte values, as stored in the persisted table.
const (
	Normal byte = 0x00
	Bad    byte = 0x01
)

const cleanDataInByte = 0xFF

// Bad-block-mark scan locations used only during initial FindBadBlock
// discovery.
const (
	badBlockMarkPage0 = 0
	badBlockMarkPage1 = 1
	badBlockMarkByte0 = 0
	badBlockMarkByte1 = 1
)

const startPageNoOfBadBlockTableBlock = 0

// bytesPerDataRegionOfPage is the usable payload size of one NAND page's
// data region; kept small here because the simulated geometries used in
// tests use tiny blocks. Production firmware would size this to the
// controller's ECC-protected page payload.
const bytesPerDataRegionOfPage = 16

var (
	tsRecoverBadBlockTable = timeslice.RegisterKind("badblock::recover_bad_block_table")
	tsRemapBadBlock        = timeslice.RegisterKind("badblock::remap_bad_block")
)

// GrownBadState tracks whether a die has a pending BBT update booked by
// UpdatePhyBlockMapForGrownBadBlock.
type GrownBadState int

const (
	GrownBadNone GrownBadState = iota
	GrownBadBooked
)

// saveState distinguishes why SaveBadBlockTable is being called: a fresh
// table with no prior persisted state, or an update to an existing one.
type saveState int

const (
	saveNotExist saveState = iota
	saveUpdate
)

// PhysicalBlock is one entry of a die's physical block table.
type PhysicalBlock struct {
	Bad              bool
	RemappedPhyBlock uint32
}

// Info holds the bad-block-table bookkeeping for one die.
type Info struct {
	PhyBlock       uint32
	GrownBadUpdate GrownBadState
}

// Table owns the physical-block map and BBT persistence for every die.
type Table struct {
	geo   geom.Config
	queue nandreq.Queue
	log   *slog.Logger

	phy  [][]PhysicalBlock // phy[die][phyBlockIdx]
	info []Info

	badBlockCount      []uint32
	mbPerBadBlockSpace uint64
	mbPerBlock         uint64
}

// New allocates a Table sized for geo, with every physical block initially
// NORMAL and remapped to itself.
func New(geo geom.Config, q nandreq.Queue, log *slog.Logger, mbPerBlock uint64) *Table {
	if log == nil {
		log = slog.Default()
	}
	t := &Table{
		geo:        geo,
		queue:      q,
		log:        log,
		phy:        make([][]PhysicalBlock, geo.UserDies),
		info:       make([]Info, geo.UserDies),
		badBlockCount: make([]uint32, geo.UserDies),
		mbPerBlock: mbPerBlock,
	}
	for die := range t.phy {
		blocks := make([]PhysicalBlock, geo.TotalBlocksPerDie)
		for pb := range blocks {
			blocks[pb] = PhysicalBlock{RemappedPhyBlock: uint32(pb)}
		}
		t.phy[die] = blocks
	}
	return t
}

// Physical returns the physical-block record for (die, phyBlockIdx).
func (t *Table) Physical(die, phyBlockIdx uint32) PhysicalBlock {
	return t.phy[die][phyBlockIdx]
}

// Info returns the BBT bookkeeping record for die.
func (t *Table) Info(die uint32) Info { return t.info[die] }

// MBPerBadBlockSpace reports the accumulated capacity deficit from
// RemapBadBlock spare exhaustion.
func (t *Table) MBPerBadBlockSpace() uint64 { return t.mbPerBadBlockSpace }

func (t *Table) usedPagesPerDie() int {
	size := int(t.geo.TotalBlocksPerDie)
	return (size + bytesPerDataRegionOfPage - 1) / bytesPerDataRegionOfPage
}

// issue submits req through the queue and blocks for completion via the
// GetFromFreeReqQ/SelectLowLevelReqQ/SyncAllLowLevelReqDone sequence.
func (t *Table) issue(req *nandreq.Request) error {
	slot, err := t.queue.GetFromFreeReqQ()
	if err != nil {
		return fmt.Errorf("badblock: get free request: %w", err)
	}
	*slot = *req
	if err := t.queue.SelectLowLevelReqQ(slot); err != nil {
		return fmt.Errorf("badblock: select request: %w", err)
	}
	return t.queue.SyncAllLowLevelReqDone()
}

func (t *Table) readPage(die, block, page uint32, eccOn bool, buf []byte) error {
	req := &nandreq.Request{
		Type: nandreq.ReqTypeNAND,
		Code: nandreq.ReqCodeRead,
		Opt: nandreq.Options{
			DataBufFormat: nandreq.DataBufAddr,
			NandAddr:      nandreq.NandAddrPhyOrg,
			NandECC:       eccMode(eccOn),
			BlockSpace:    nandreq.BlockSpaceTotal,
		},
		DataBuf: buf,
		PhyOrg: nandreq.PhyOrg{
			Channel: t.geo.Vdie2Pch(die),
			Way:     t.geo.Vdie2Pway(die),
			Block:   block,
			Page:    page,
		},
	}
	return t.issue(req)
}

func (t *Table) writePage(die, block, page uint32, eccOn bool, buf []byte) error {
	req := &nandreq.Request{
		Type: nandreq.ReqTypeNAND,
		Code: nandreq.ReqCodeWrite,
		Opt: nandreq.Options{
			DataBufFormat: nandreq.DataBufAddr,
			NandAddr:      nandreq.NandAddrPhyOrg,
			NandECC:       eccMode(eccOn),
			BlockSpace:    nandreq.BlockSpaceTotal,
		},
		DataBuf: buf,
		PhyOrg: nandreq.PhyOrg{
			Channel: t.geo.Vdie2Pch(die),
			Way:     t.geo.Vdie2Pway(die),
			Block:   block,
			Page:    page,
		},
	}
	return t.issue(req)
}

func (t *Table) eraseBlock(die, block uint32) error {
	req := &nandreq.Request{
		Type: nandreq.ReqTypeNAND,
		Code: nandreq.ReqCodeErase,
		Opt: nandreq.Options{
			DataBufFormat:      nandreq.DataBufNone,
			NandAddr:           nandreq.NandAddrPhyOrg,
			BlockSpace:         nandreq.BlockSpaceTotal,
			RowAddrDependency:  nandreq.RowDependencyCheckOn,
		},
		PhyOrg: nandreq.PhyOrg{
			Channel: t.geo.Vdie2Pch(die),
			Way:     t.geo.Vdie2Pway(die),
			Block:   block,
		},
	}
	return t.issue(req)
}

func eccMode(on bool) nandreq.ECCMode {
	if on {
		return nandreq.ECCOn
	}
	return nandreq.ECCOff
}

// RecoverBadBlockTable runs the boot sequence: read each die's persisted
// table, fall back to FindBadBlock for any die whose table is missing or
// unreadable, then clear grown-bad bookkeeping.
func (t *Table) RecoverBadBlockTable() error {
	defer timeslice.NewRecorder().Record(tsRecoverBadBlockTable)

	pages := t.usedPagesPerDie()
	var missing []uint32

	for die := uint32(0); die < t.geo.UserDies; die++ {
		buf := make([]byte, pages*bytesPerDataRegionOfPage)
		phyBlock := t.info[die].PhyBlock
		ok := true
		for p := 0; p < pages; p++ {
			vpage := t.geo.PlsbPage2Vpage(uint32(startPageNoOfBadBlockTableBlock + p))
			chunk := buf[p*bytesPerDataRegionOfPage : (p+1)*bytesPerDataRegionOfPage]
			if err := t.readPage(die, phyBlock, vpage, true, chunk); err != nil {
				ok = false
				break
			}
		}
		if !ok || (buf[0] != Normal && buf[0] != Bad) {
			trace.Writef("badblock", "die=%d bad block table missing or unreadable, scheduling rebuild", die)
			missing = append(missing, die)
			continue
		}
		for pb := uint32(0); pb < t.geo.TotalBlocksPerDie; pb++ {
			t.phy[die][pb].Bad = buf[pb] == Bad
		}
	}

	if len(missing) > 0 {
		if err := t.FindBadBlock(missing); err != nil {
			return fmt.Errorf("badblock: recover: %w", err)
		}
		if err := t.SaveBadBlockTable(missing, saveNotExist); err != nil {
			return fmt.Errorf("badblock: recover: %w", err)
		}
	}

	for die := range t.info {
		t.info[die].GrownBadUpdate = GrownBadNone
	}
	return nil
}

// FindBadBlock scans every physical block of each die in dies, marking it
// bad if either bad-block-mark page shows a non-clean marker byte.
func (t *Table) FindBadBlock(dies []uint32) error {
	mark := make([]byte, 2)
	for pb := uint32(0); pb < t.geo.TotalBlocksPerDie; pb++ {
		for _, die := range dies {
			bad, err := t.checkBlockMark(die, pb, mark)
			if err != nil {
				return fmt.Errorf("badblock: find bad block: die=%d pb=%d: %w", die, pb, err)
			}
			t.phy[die][pb].Bad = bad
			if bad {
				t.log.Info("bad block discovered", "die", die, "physicalBlock", pb)
			}
		}
	}
	return nil
}

func (t *Table) checkBlockMark(die, pb uint32, scratch []byte) (bool, error) {
	if err := t.readPage(die, pb, badBlockMarkPage0, false, scratch); err != nil {
		return false, err
	}
	if scratch[badBlockMarkByte0] != cleanDataInByte || scratch[badBlockMarkByte1] != cleanDataInByte {
		return true, nil
	}
	if err := t.readPage(die, pb, badBlockMarkPage1, false, scratch); err != nil {
		return false, err
	}
	return scratch[badBlockMarkByte0] != cleanDataInByte || scratch[badBlockMarkByte1] != cleanDataInByte, nil
}

// SaveBadBlockTable programs the in-memory bad-block flags of every die in
// dies to its persisted BBT block, erasing that block first. The page
// count is computed as ceil(TotalBlocksPerDie / bytesPerDataRegionOfPage).
func (t *Table) SaveBadBlockTable(dies []uint32, _ saveState) error {
	pages := t.usedPagesPerDie()
	for _, die := range dies {
		phyBlock := t.info[die].PhyBlock
		if err := t.eraseBlock(die, phyBlock); err != nil {
			return fmt.Errorf("badblock: save: erase die=%d: %w", die, err)
		}

		buf := make([]byte, pages*bytesPerDataRegionOfPage)
		for pb := uint32(0); pb < t.geo.TotalBlocksPerDie; pb++ {
			if t.phy[die][pb].Bad {
				buf[pb] = Bad
			} else {
				buf[pb] = Normal
			}
		}

		for p := 0; p < pages; p++ {
			vpage := t.geo.PlsbPage2Vpage(uint32(startPageNoOfBadBlockTableBlock + p))
			chunk := buf[p*bytesPerDataRegionOfPage : (p+1)*bytesPerDataRegionOfPage]
			if err := t.writePage(die, phyBlock, vpage, true, chunk); err != nil {
				return fmt.Errorf("badblock: save: write die=%d page=%d: %w", die, p, err)
			}
		}
	}
	return nil
}

// UpdatePhyBlockMapForGrownBadBlock books a grown-bad update for die; the
// actual BBT flush happens on the next UpdateBadBlockTableForGrownBadBlock.
func (t *Table) UpdatePhyBlockMapForGrownBadBlock(die, pb uint32) {
	t.phy[die][pb].Bad = true
	t.info[die].GrownBadUpdate = GrownBadBooked
	trace.Writef("badblock", "grown bad booked die=%d physicalBlock=%d", die, pb)
}

// UpdateBadBlockTableForGrownBadBlock flushes every die with a booked
// grown-bad update, forcing the BBT block's own entry to NORMAL first.
func (t *Table) UpdateBadBlockTableForGrownBadBlock() error {
	var booked []uint32
	for die := uint32(0); die < t.geo.UserDies; die++ {
		if t.info[die].GrownBadUpdate == GrownBadBooked {
			t.phy[die][t.info[die].PhyBlock].Bad = false
			booked = append(booked, die)
		}
	}
	if len(booked) == 0 {
		return nil
	}
	if err := t.SaveBadBlockTable(booked, saveUpdate); err != nil {
		return err
	}
	for _, die := range booked {
		t.info[die].GrownBadUpdate = GrownBadNone
	}
	return nil
}

// ForceBbtBlockBad marks every die's BBT-holding physical block bad, so the
// user virtual-block space never targets it. Called just before
// RemapBadBlock.
func (t *Table) ForceBbtBlockBad() {
	for die := uint32(0); die < t.geo.UserDies; die++ {
		t.phy[die][t.info[die].PhyBlock].Bad = true
	}
}

// RemapBadBlock gives every die a contiguous non-bad virtual-block space by
// walking each LUN's user range and assigning bad blocks a spare from that
// LUN's reserve.
func (t *Table) RemapBadBlock() error {
	defer timeslice.NewRecorder().Record(tsRemapBadBlock)

	for die := uint32(0); die < t.geo.UserDies; die++ {
		t.remapLun(die, 0, t.geo.UserBlocksPerLun, t.geo.UserBlocksPerLun, t.geo.TotalBlocksPerLun, "LUN0")
		if t.geo.LunsPerDie > 1 {
			base := t.geo.TotalBlocksPerLun
			t.remapLun(die, base, base+t.geo.UserBlocksPerLun, base+t.geo.UserBlocksPerLun, 2*t.geo.TotalBlocksPerLun, "LUN1")
		}
	}
	return nil
}

func (t *Table) remapLun(die, userStart, userEnd, spareStart, spareEnd uint32, lunLabel string) {
	spare := spareStart
	for vb := userStart; vb < userEnd; vb++ {
		if !t.phy[die][vb].Bad {
			t.phy[die][vb].RemappedPhyBlock = vb
			continue
		}
		for spare < spareEnd && t.phy[die][spare].Bad {
			spare++
		}
		if spare >= spareEnd {
			t.badBlockCount[die]++
			t.log.Warn("bad block spare exhausted", "die", die, "lun", lunLabel, "userBlock", vb)
			continue
		}
		t.phy[die][vb].RemappedPhyBlock = spare
		// vb is already a total-block-space index (LUN1's user range starts
		// at TotalBlocksPerLun), so this is the true virtual block id, not
		// blockNo+UserBlocksPerLun.
		trace.Writef("badblock", "die=%d %s virtualBlock=%d remapped to physicalBlock=%d", die, lunLabel, vb, spare)
		spare++
	}
	t.recomputeDeficit()
}

func (t *Table) recomputeDeficit() {
	var maxCount uint32
	for _, c := range t.badBlockCount {
		if c > maxCount {
			maxCount = c
		}
	}
	t.mbPerBadBlockSpace = uint64(maxCount) * uint64(t.geo.UserDies) * t.mbPerBlock
}
