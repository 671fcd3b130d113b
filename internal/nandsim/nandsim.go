// Package nandsim is an in-process simulation of the NAND back-end
// contract used by tests and by cmd/ftlsim. It backs the flash
// array with an anonymous mmap'd byte slice rather than a plain Go slice,
// modeled on internal/hv/kvm/kvm.go's guest-RAM allocation
// (unix.Mmap(..., PROT_READ|PROT_WRITE, MAP_ANONYMOUS|MAP_PRIVATE) paired
// with unix.Munmap on Close) — the same fixed-mapped-region lifecycle a
// real firmware's flash-array view would have, at simulation scale.
package nandsim

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/m0joonKim/ESS-FW-SRC/internal/geom"
	"github.com/m0joonKim/ESS-FW-SRC/internal/nandreq"
)

// cleanByte is the value of every byte of an erased (unprogrammed) page.
const cleanByte = 0xFF

// Sim is a single die's worth of flash, or the whole array when indexed by
// (channel,way). It stores TOTAL_BLOCKS_PER_DIE*UserPagesPerBlock*pageSize
// bytes per die in one mmap'd region.
type Sim struct {
	geo      geom.Config
	pageSize int

	mu      sync.Mutex
	dies    [][]byte // one mmap'd region per die
	pending []*nandreq.Request

	// InjectBad, if set, makes every read of the given (die, block) return
	// a non-clean byte at offset 0 (the bad-block mark), whichever page is
	// read and regardless of programmed content — used by tests to simulate
	// factory bad blocks.
	InjectBad map[[2]uint32]bool
}

// New allocates a simulated flash array for the given geometry. pageSize is
// the number of data bytes per NAND page (spare area is not modeled).
func New(geo geom.Config, pageSize int) (*Sim, error) {
	s := &Sim{geo: geo, pageSize: pageSize, InjectBad: map[[2]uint32]bool{}}

	dieBytes := int(geo.TotalBlocksPerDie) * int(geo.UserPagesPerBlock) * pageSize
	for die := uint32(0); die < geo.UserDies; die++ {
		mem, err := unix.Mmap(-1, 0, dieBytes, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANONYMOUS|unix.MAP_PRIVATE)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("nandsim: mmap die %d: %w", die, err)
		}
		for i := range mem {
			mem[i] = cleanByte
		}
		s.dies = append(s.dies, mem)
	}
	return s, nil
}

// Close unmaps every die's backing region.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, mem := range s.dies {
		if mem == nil {
			continue
		}
		if err := unix.Munmap(mem); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.dies = nil
	return firstErr
}

func (s *Sim) pageOffset(block, page uint32) int {
	return (int(block)*int(s.geo.UserPagesPerBlock) + int(page)) * s.pageSize
}

// GetFromFreeReqQ implements nandreq.Queue.
func (s *Sim) GetFromFreeReqQ() (*nandreq.Request, error) {
	return &nandreq.Request{}, nil
}

// SelectLowLevelReqQ implements nandreq.Queue: it executes the request
// immediately against the mmap'd backing store and queues it for the next
// SyncAllLowLevelReqDone, mirroring the real firmware's asynchronous
// submit-then-sync shape without actually deferring the I/O.
func (s *Sim) SelectLowLevelReqQ(req *nandreq.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, req)
	return s.execute(req)
}

// SyncAllLowLevelReqDone implements nandreq.Queue.
func (s *Sim) SyncAllLowLevelReqDone() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = s.pending[:0]
	return nil
}

func (s *Sim) execute(req *nandreq.Request) error {
	var die, block, page uint32
	if req.Opt.NandAddr == nandreq.NandAddrVSA {
		die = s.geo.Vsa2Vdie(req.VsaOrg.VSA)
		block = s.geo.Vsa2Vblock(req.VsaOrg.VSA)
		page = s.geo.Vsa2Vpage(req.VsaOrg.VSA)
	} else {
		die = s.geo.Pcw2Vdie(req.PhyOrg.Channel, req.PhyOrg.Way)
		block = req.PhyOrg.Block
		page = req.PhyOrg.Page
	}
	if int(die) >= len(s.dies) {
		return fmt.Errorf("nandsim: die %d out of range", die)
	}
	mem := s.dies[die]
	off := s.pageOffset(block, page)

	switch req.Code {
	case nandreq.ReqCodeRead:
		if s.InjectBad[[2]uint32{die, block}] {
			// simulate a non-clean marker byte at offset 0.
			buf := make([]byte, s.pageSize)
			copy(buf, mem[off:off+s.pageSize])
			buf[0] = 0x00
			copy(req.DataBuf, buf)
			return nil
		}
		if off+len(req.DataBuf) > len(mem) {
			return fmt.Errorf("nandsim: read out of range at die %d block %d page %d", die, block, page)
		}
		copy(req.DataBuf, mem[off:off+len(req.DataBuf)])
		return nil
	case nandreq.ReqCodeWrite:
		if off+len(req.DataBuf) > len(mem) {
			return fmt.Errorf("nandsim: write out of range at die %d block %d page %d", die, block, page)
		}
		copy(mem[off:off+len(req.DataBuf)], req.DataBuf)
		return nil
	case nandreq.ReqCodeErase:
		start := int(block) * int(s.geo.UserPagesPerBlock) * s.pageSize
		end := start + int(s.geo.UserPagesPerBlock)*s.pageSize
		for i := start; i < end && i < len(mem); i++ {
			mem[i] = cleanByte
		}
		return nil
	default:
		return fmt.Errorf("nandsim: unknown request code %v", req.Code)
	}
}
