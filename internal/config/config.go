// Package config loads geometry and allocator tuning from a YAML document,
// mirroring cmd/ccapp/site_config.go and internal/bundle's struct-tagged
// yaml.v3 configuration pattern. This lets cmd/ftlsim and tests instantiate
// small toy geometries without recompiling.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/m0joonKim/ESS-FW-SRC/internal/geom"
)

// Geometry mirrors geom.Config with yaml tags.
type Geometry struct {
	UserChannels      uint32 `yaml:"user_channels"`
	UserWays          uint32 `yaml:"user_ways"`
	LunsPerDie        uint32 `yaml:"luns_per_die"`
	UserBlocksPerLun  uint32 `yaml:"user_blocks_per_lun"`
	TotalBlocksPerLun uint32 `yaml:"total_blocks_per_lun"`
	UserPagesPerBlock uint32 `yaml:"user_pages_per_block"`
	SlicesPerPage     uint32 `yaml:"slices_per_page"`
	LsbPageStride     uint32 `yaml:"lsb_page_stride"`
}

// Allocator holds the allocator's tuning knobs.
type Allocator struct {
	ReservedFreeBlockCount uint32 `yaml:"reserved_free_block_count"`
}

// Config is the top-level ftlsim.yml document.
type Config struct {
	Geometry  Geometry  `yaml:"geometry"`
	Allocator Allocator `yaml:"allocator"`
}

// Default returns a small toy geometry: 2 channels x 2 ways, 4 user blocks
// per die, 4 pages per block, 1 slice per page.
func Default() Config {
	return Config{
		Geometry: Geometry{
			UserChannels:      2,
			UserWays:          2,
			LunsPerDie:        1,
			UserBlocksPerLun:  4,
			TotalBlocksPerLun: 6,
			UserPagesPerBlock: 4,
			SlicesPerPage:     1,
			LsbPageStride:     1,
		},
		Allocator: Allocator{ReservedFreeBlockCount: 1},
	}
}

// Load reads and parses a YAML config file, filling any unset field from
// Default().
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that UserPagesPerBlock fits the packed 15-bit page
// counter and that the geometry and allocator fields are sane.
func (c Config) Validate() error {
	if c.Geometry.UserPagesPerBlock > (1<<15)-1 {
		return fmt.Errorf("config: user_pages_per_block %d exceeds 2^15-1", c.Geometry.UserPagesPerBlock)
	}
	if c.Geometry.UserChannels == 0 || c.Geometry.UserWays == 0 {
		return fmt.Errorf("config: user_channels and user_ways must be non-zero")
	}
	if c.Allocator.ReservedFreeBlockCount == 0 {
		return fmt.Errorf("config: reserved_free_block_count must be non-zero, or GC's own pop path could starve the free list")
	}
	return nil
}

// Geom converts the YAML geometry into a geom.Config with derived fields
// filled in.
func (c Config) Geom() geom.Config {
	return geom.New(geom.Config{
		UserChannels:      c.Geometry.UserChannels,
		UserWays:          c.Geometry.UserWays,
		LunsPerDie:        c.Geometry.LunsPerDie,
		UserBlocksPerLun:  c.Geometry.UserBlocksPerLun,
		TotalBlocksPerLun: c.Geometry.TotalBlocksPerLun,
		UserPagesPerBlock: c.Geometry.UserPagesPerBlock,
		SlicesPerPage:     c.Geometry.SlicesPerPage,
		LsbPageStride:     c.Geometry.LsbPageStride,
	})
}
