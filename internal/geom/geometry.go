// Package geom implements the pure address-arithmetic layer (component A):
// translation between (channel,way)<->die, (die,block,slice)<->VSA, and
// LSA<->(logical block, in-block offset). Every function here is total and
// constant-time; callers guarantee the domain, overflow is undefined.
package geom

import "math"

// Sentinel values. They share a representation (math.MaxUint32 family) but
// are kept as distinct named constants so call sites read by intent.
const (
	NoAddress uint32 = math.MaxUint32 // VSA_NONE / LSA_NONE
	BlockNone uint32 = math.MaxUint32
	BlockFail uint32 = math.MaxUint32 - 1
	VSAFail   uint32 = math.MaxUint32 - 2
)

// Config holds the build-time geometry constants. All derived fields are
// filled in by New; callers should not set them directly.
type Config struct {
	UserChannels     uint32
	UserWays         uint32
	LunsPerDie       uint32
	UserBlocksPerLun uint32
	// TotalBlocksPerLun includes the reserved/spare region used by RemapBadBlock.
	TotalBlocksPerLun uint32
	UserPagesPerBlock uint32 // must be <= 2^15-1
	SlicesPerPage     uint32

	// LsbPageStride is the ratio of physical pages to LSB-addressable pages
	// in the multi-level-cell pairing used to store the bad-block table
	// durably (one LSB page per `LsbPageStride` physical pages). Defaults to
	// 1 (every physical page is LSB, i.e. SLC-style or LSB-only geometry)
	// when zero. This linear stride is a convention of this package.
	LsbPageStride uint32

	// Derived, computed by New.
	UserDies           uint32
	TotalBlocksPerDie  uint32
	UserBlocksPerDie   uint32
	SlicesPerBlock     uint32
	LogicalBlocksPerSSD uint32
	SlicesPerSSD       uint32
}

// New fills in the derived fields of a Config and returns it by value.
func New(c Config) Config {
	if c.LsbPageStride == 0 {
		c.LsbPageStride = 1
	}
	c.UserDies = c.UserChannels * c.UserWays
	c.UserBlocksPerDie = c.UserBlocksPerLun * c.LunsPerDie
	c.TotalBlocksPerDie = c.TotalBlocksPerLun * c.LunsPerDie
	c.SlicesPerBlock = c.UserPagesPerBlock * c.SlicesPerPage
	c.LogicalBlocksPerSSD = c.UserBlocksPerDie * c.UserDies
	c.SlicesPerSSD = c.LogicalBlocksPerSSD * c.SlicesPerBlock
	return c
}

// Vdie2Pch returns the physical channel backing a virtual die.
func (c Config) Vdie2Pch(die uint32) uint32 { return die % c.UserChannels }

// Vdie2Pway returns the physical way backing a virtual die.
func (c Config) Vdie2Pway(die uint32) uint32 { return die / c.UserChannels }

// Pcw2Vdie is the inverse of Vdie2Pch/Vdie2Pway: (channel, way) -> die.
func (c Config) Pcw2Vdie(ch, way uint32) uint32 { return way*c.UserChannels + ch }

// Vorg2Vsa packs (die, virtual block, slice-within-block) into a VSA. The
// third argument is a slice offset in [0, SlicesPerBlock); callers that only
// have a page number pass page*SlicesPerPage to address that page's first
// slice (FindFreeVirtualSlice does this — see internal/alloc).
func (c Config) Vorg2Vsa(die, vBlock, sliceOrPage uint32) uint32 {
	return (die*c.UserBlocksPerDie+vBlock)*c.SlicesPerBlock + sliceOrPage
}

// Vsa2Vdie is the inverse projection of Vorg2Vsa onto its die argument.
func (c Config) Vsa2Vdie(vsa uint32) uint32 {
	return vsa / (c.UserBlocksPerDie * c.SlicesPerBlock)
}

// Vsa2Vblock is the inverse projection of Vorg2Vsa onto its block argument.
func (c Config) Vsa2Vblock(vsa uint32) uint32 {
	return (vsa / c.SlicesPerBlock) % c.UserBlocksPerDie
}

// Vsa2SliceOffset recovers the slice-within-block offset passed to Vorg2Vsa.
func (c Config) Vsa2SliceOffset(vsa uint32) uint32 {
	return vsa % c.SlicesPerBlock
}

// Vsa2Vpage recovers the virtual page number of a VSA. When Vorg2Vsa was
// called with a page-aligned slice offset (page*SlicesPerPage) this
// reproduces that page exactly.
func (c Config) Vsa2Vpage(vsa uint32) uint32 {
	return c.Vsa2SliceOffset(vsa) / c.SlicesPerPage
}

// Vblock2PblockOfTbs maps a user-visible virtual-block index into the
// total-block-space index of the corresponding physical block in the same
// LUN, skipping the reserved/spare region of each LUN.
func (c Config) Vblock2PblockOfTbs(vBlock uint32) uint32 {
	lun := vBlock / c.UserBlocksPerLun
	within := vBlock % c.UserBlocksPerLun
	return lun*c.TotalBlocksPerLun + within
}

// PlsbPage2Vpage converts an LSB-page index into the virtual contiguous
// page numbering.
func (c Config) PlsbPage2Vpage(lsbPage uint32) uint32 { return lsbPage * c.LsbPageStride }

// Vpage2PlsbPage is the inverse of PlsbPage2Vpage.
func (c Config) Vpage2PlsbPage(vpage uint32) uint32 { return vpage / c.LsbPageStride }

// AddrToBlock returns the logical block containing an LSA.
func (c Config) AddrToBlock(lsa uint32) uint32 { return lsa / c.SlicesPerBlock }

// AddrToOffset returns the in-block slice offset of an LSA.
func (c Config) AddrToOffset(lsa uint32) uint32 { return lsa % c.SlicesPerBlock }
