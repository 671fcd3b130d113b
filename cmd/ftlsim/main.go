// ftlsim boots a Translator over a simulated NAND array and drives it
// through a synthetic write/read workload, grounded on
// internal/cmd/benchmark/main.go's flag-driven-harness-plus-progress-bar
// shape and cmd/cc/main.go's raw-terminal operator prompt.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/m0joonKim/ESS-FW-SRC/internal/config"
	"github.com/m0joonKim/ESS-FW-SRC/internal/nandsim"
	"github.com/m0joonKim/ESS-FW-SRC/internal/timeslice"
	"github.com/m0joonKim/ESS-FW-SRC/internal/trace"
	"github.com/m0joonKim/ESS-FW-SRC/ftl"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML geometry config (defaults to the built-in small geometry)")
	pageSize := flag.Int("pagesize", 512, "simulated NAND page size in bytes")
	mbPerBlock := flag.Uint64("mb-per-block", 4, "capacity charged per block when reporting bad-block deficit")
	n := flag.Int("n", 256, "number of write/read operations to run against the translator")
	seed := flag.Uint64("seed", 1, "PRNG seed for the LSA workload")
	eraseAll := flag.Bool("erase-all", false, "erase the entire user block space on boot without prompting")
	noEraseAll := flag.Bool("no-erase-all", false, "skip the boot erase-all prompt and leave any recovered block map in place")
	debug := flag.Bool("debug", false, "enable debug-level logging")
	traceFile := flag.String("trace", "", "write a trace line for block reservations, GC reclaims, erases and bad-block events to this file")
	timesliceFile := flag.String("timeslice", "", "write per-operation timing samples (AddrTransWrite, RecoverBadBlockTable, RemapBadBlock, GarbageCollection) to this file")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "ftlsim - drive a simulated FTL core through a write/read workload\n\n")
		fmt.Fprintf(os.Stderr, "USAGE:\n  ftlsim [flags]\n\nFLAGS:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *traceFile != "" {
		f, err := os.Create(*traceFile)
		if err != nil {
			return fmt.Errorf("create trace file: %w", err)
		}
		defer f.Close()
		trace.Open(&fileSink{w: f})
		defer trace.Open(nil)
	}

	if *timesliceFile != "" {
		f, err := os.Create(*timesliceFile)
		if err != nil {
			return fmt.Errorf("create timeslice file: %w", err)
		}
		defer f.Close()
		closer, err := timeslice.Open(f)
		if err != nil {
			return fmt.Errorf("open timeslice sink: %w", err)
		}
		defer closer.Close()
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	geo := cfg.Geom()

	sim, err := nandsim.New(geo, *pageSize)
	if err != nil {
		return fmt.Errorf("create simulated NAND array: %w", err)
	}
	defer sim.Close()

	tr := ftl.New(cfg, sim, logger, *mbPerBlock)

	prompter := bootPrompter{force: *eraseAll, skip: *noEraseAll}
	logger.Info("booting translator", "dies", geo.UserDies, "userBlocksPerDie", geo.UserBlocksPerDie, "slicesPerSSD", geo.SlicesPerSSD)
	if err := tr.InitAddressMap(prompter); err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	logger.Info("boot complete", "mbPerBadBlockSpace", tr.MBPerBadBlockSpace())

	if err := runWorkload(tr, *n, *seed); err != nil {
		return err
	}

	for die := uint32(0); die < geo.UserDies; die++ {
		stats := tr.DieStats(die)
		logger.Info("die stats", "die", die, "freeBlockCnt", stats.FreeBlockCnt, "currentBlock", stats.CurrentBlock, "maxEraseCount", tr.MaxEraseCount(die))
	}
	return nil
}

// runWorkload writes n pseudo-random LSAs, reading each one back
// immediately to confirm the translator's forward map matches what
// AddrTransWrite returned. Mirrors internal/cmd/benchmark/main.go's
// progress-bar-over-N-iterations shape.
func runWorkload(tr *ftl.Translator, n int, seed uint64) error {
	slicesPerSSD := tr.Geom().SlicesPerSSD
	if slicesPerSSD == 0 {
		return fmt.Errorf("ftlsim: geometry has zero addressable slices")
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	pb := progressbar.Default(int64(n))
	defer pb.Close()

	var mismatches int
	for i := 0; i < n; i++ {
		lsa := uint32(rng.Uint64N(uint64(slicesPerSSD)))
		vsa, err := tr.AddrTransWrite(lsa)
		if err != nil {
			return fmt.Errorf("AddrTransWrite(%d): %w", lsa, err)
		}
		readBack, err := tr.AddrTransRead(lsa)
		if err != nil {
			return fmt.Errorf("AddrTransRead(%d): %w", lsa, err)
		}
		if readBack != vsa {
			mismatches++
			slog.Error("read-after-write mismatch", "lsa", lsa, "wrote", vsa, "read", readBack)
		}
		pb.Add(1)
	}
	if mismatches > 0 {
		return fmt.Errorf("ftlsim: %d/%d operations failed read-after-write verification", mismatches, n)
	}
	return nil
}

// bootPrompter implements ftl.BootPrompter. force/skip let -erase-all and
// -no-erase-all bypass the interactive terminal prompt for scripted runs;
// with neither set, it falls back to an interactive single-keystroke read
// in raw mode so a 'X' answers the operator's erase-all question the way
// cmd/cc's raw stdin handling answers its own prompts.
type bootPrompter struct {
	force bool
	skip  bool
}

func (p bootPrompter) PromptEraseAll() bool {
	if p.force {
		return true
	}
	if p.skip {
		return false
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false
	}

	fmt.Fprint(os.Stderr, "Erase entire user block space on boot? [X = yes, any other key = no]: ")
	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nenable raw mode: %v (defaulting to no)\n", err)
		return false
	}
	defer term.Restore(int(os.Stdin.Fd()), oldState)

	buf := make([]byte, 1)
	if _, err := os.Stdin.Read(buf); err != nil {
		return false
	}
	fmt.Fprint(os.Stderr, "\r\n")
	return buf[0] == 'X' || buf[0] == 'x'
}

// fileSink adapts an *os.File to trace.Sink.
type fileSink struct {
	w *os.File
}

func (s *fileSink) Trace(source, message string) {
	fmt.Fprintf(s.w, "%s: %s\n", source, message)
}
