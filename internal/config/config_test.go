package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() failed validation: %v", err)
	}
}

func TestLoadOverridesGeometry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ftlsim.yml")
	doc := `
geometry:
  user_channels: 4
  user_ways: 2
  luns_per_die: 1
  user_blocks_per_lun: 8
  total_blocks_per_lun: 10
  user_pages_per_block: 256
  slices_per_page: 4
allocator:
  reserved_free_block_count: 2
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Geometry.UserChannels != 4 || cfg.Geometry.UserWays != 2 {
		t.Fatalf("unexpected geometry: %+v", cfg.Geometry)
	}
	if cfg.Allocator.ReservedFreeBlockCount != 2 {
		t.Fatalf("unexpected allocator config: %+v", cfg.Allocator)
	}

	g := cfg.Geom()
	if g.UserDies != 4*2 {
		t.Errorf("UserDies = %d, want %d", g.UserDies, 4*2)
	}
}

func TestValidateRejectsOversizedPagesPerBlock(t *testing.T) {
	cfg := Default()
	cfg.Geometry.UserPagesPerBlock = 1 << 15
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidateRejectsZeroReservedFreeBlocks(t *testing.T) {
	cfg := Default()
	cfg.Allocator.ReservedFreeBlockCount = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
