package geom

import "testing"

func testConfig() Config {
	return New(Config{
		UserChannels:      2,
		UserWays:          2,
		LunsPerDie:        1,
		UserBlocksPerLun:  4,
		TotalBlocksPerLun: 6,
		UserPagesPerBlock: 4,
		SlicesPerPage:     1,
	})
}

func TestDerivedGeometry(t *testing.T) {
	c := testConfig()

	if c.UserDies != 4 {
		t.Fatalf("UserDies = %d, want 4", c.UserDies)
	}
	if c.UserBlocksPerDie != 4 {
		t.Fatalf("UserBlocksPerDie = %d, want 4", c.UserBlocksPerDie)
	}
	if c.SlicesPerBlock != 4 {
		t.Fatalf("SlicesPerBlock = %d, want 4", c.SlicesPerBlock)
	}
	if c.SlicesPerSSD != 64 {
		t.Fatalf("SlicesPerSSD = %d, want 64", c.SlicesPerSSD)
	}
}

func TestChannelWayRoundTrip(t *testing.T) {
	c := testConfig()

	for die := uint32(0); die < c.UserDies; die++ {
		ch := c.Vdie2Pch(die)
		way := c.Vdie2Pway(die)
		if got := c.Pcw2Vdie(ch, way); got != die {
			t.Errorf("Pcw2Vdie(%d,%d) = %d, want %d", ch, way, got, die)
		}
	}
}

func TestVsaRoundTrip(t *testing.T) {
	c := testConfig()

	for die := uint32(0); die < c.UserDies; die++ {
		for block := uint32(0); block < c.UserBlocksPerDie; block++ {
			for off := uint32(0); off < c.SlicesPerBlock; off++ {
				vsa := c.Vorg2Vsa(die, block, off)
				if got := c.Vsa2Vdie(vsa); got != die {
					t.Fatalf("Vsa2Vdie(%d) = %d, want %d", vsa, got, die)
				}
				if got := c.Vsa2Vblock(vsa); got != block {
					t.Fatalf("Vsa2Vblock(%d) = %d, want %d", vsa, got, block)
				}
				if got := c.Vsa2SliceOffset(vsa); got != off {
					t.Fatalf("Vsa2SliceOffset(%d) = %d, want %d", vsa, got, off)
				}
			}
		}
	}
}

func TestVsa2VpageWithSlicesPerPageGreaterThanOne(t *testing.T) {
	c := New(Config{
		UserChannels:      1,
		UserWays:          1,
		LunsPerDie:        1,
		UserBlocksPerLun:  2,
		TotalBlocksPerLun: 4,
		UserPagesPerBlock: 4,
		SlicesPerPage:     2,
	})

	for page := uint32(0); page < c.UserPagesPerBlock; page++ {
		vsa := c.Vorg2Vsa(0, 0, page*c.SlicesPerPage)
		if got := c.Vsa2Vpage(vsa); got != page {
			t.Fatalf("Vsa2Vpage(%d) = %d, want %d", vsa, got, page)
		}
	}
}

func TestVblock2PblockOfTbsSkipsSpares(t *testing.T) {
	c := New(Config{
		UserChannels:      1,
		UserWays:          1,
		LunsPerDie:        2,
		UserBlocksPerLun:  4,
		TotalBlocksPerLun: 6,
		UserPagesPerBlock: 4,
		SlicesPerPage:     1,
	})

	cases := []struct {
		vBlock uint32
		want   uint32
	}{
		{0, 0},
		{3, 3},
		{4, 6},
		{7, 9},
	}
	for _, tc := range cases {
		if got := c.Vblock2PblockOfTbs(tc.vBlock); got != tc.want {
			t.Errorf("Vblock2PblockOfTbs(%d) = %d, want %d", tc.vBlock, got, tc.want)
		}
	}
}

func TestAddrToBlockAndOffset(t *testing.T) {
	c := testConfig()

	if got := c.AddrToBlock(5); got != 1 {
		t.Errorf("AddrToBlock(5) = %d, want 1", got)
	}
	if got := c.AddrToOffset(5); got != 1 {
		t.Errorf("AddrToOffset(5) = %d, want 1", got)
	}
}

func TestLsbPageStride(t *testing.T) {
	c := New(Config{LsbPageStride: 2})

	for lsb := uint32(0); lsb < 10; lsb++ {
		vpage := c.PlsbPage2Vpage(lsb)
		if got := c.Vpage2PlsbPage(vpage); got != lsb {
			t.Errorf("round trip failed for lsb=%d: vpage=%d got=%d", lsb, vpage, got)
		}
	}
}
