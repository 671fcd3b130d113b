// Package timeslice records named timing slices around hot operations
// (AddrTransWrite, RecoverBadBlockTable, RemapBadBlock, GarbageCollection)
// so a host integrator can extract latency data. Writes go straight to the
// installed sink synchronously — this core's call volume does not need a
// background flush thread.
package timeslice

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	Magic   uint32 = 0x54534c46 // "TSLF"
	Version uint32 = 1
)

type header struct {
	Magic             uint32
	Version           uint32
	RecordKindsLength uint32
}

// TimesliceID identifies a registered kind of timed operation.
type TimesliceID uint64

var (
	mu         sync.Mutex
	timeslices = make(map[TimesliceID]string)
	nextID     TimesliceID = 1
)

// RegisterKind registers a named timeslice kind and returns its ID. It is
// guarded by a mutex; kinds are normally registered at package-init time
// via package-level vars.
func RegisterKind(name string) TimesliceID {
	mu.Lock()
	defer mu.Unlock()
	id := nextID
	nextID++
	timeslices[id] = name
	return id
}

type record struct {
	ID       TimesliceID
	Duration int64
}

var recordSize = binary.Size(record{})

type writer struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *writer) record(r record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.ID))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(r.Duration))
	_, err := w.w.Write(buf[:])
	return err
}

var current writer

var currentActive bool
var activeMu sync.Mutex

// Open writes the timeslice header (magic, version, JSON-encoded kind
// names) to w and installs it as the active sink for Record.
func Open(w io.Writer) (io.Closer, error) {
	activeMu.Lock()
	defer activeMu.Unlock()
	if currentActive {
		return nil, fmt.Errorf("timeslice: already open")
	}

	mu.Lock()
	names := make(map[TimesliceID]string, len(timeslices))
	for k, v := range timeslices {
		names[k] = v
	}
	mu.Unlock()

	encoded, err := json.Marshal(names)
	if err != nil {
		return nil, fmt.Errorf("timeslice: marshal kinds: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, header{
		Magic:             Magic,
		Version:           Version,
		RecordKindsLength: uint32(len(encoded)),
	}); err != nil {
		return nil, fmt.Errorf("timeslice: write header: %w", err)
	}
	if _, err := w.Write(encoded); err != nil {
		return nil, fmt.Errorf("timeslice: write kinds: %w", err)
	}

	current = writer{w: w}
	currentActive = true
	return &closer{}, nil
}

type closer struct{}

func (c *closer) Close() error {
	activeMu.Lock()
	defer activeMu.Unlock()
	currentActive = false
	current = writer{}
	return nil
}

// Record emits one timing sample for id, if a sink is open.
func Record(id TimesliceID, d time.Duration) {
	activeMu.Lock()
	active := currentActive
	activeMu.Unlock()
	if !active {
		return
	}
	_ = current.record(record{ID: id, Duration: d.Nanoseconds()})
}

// Recorder tracks elapsed time since its last checkpoint and records it
// under the given kind on each call. Not safe for concurrent use.
type Recorder struct {
	last time.Time
}

// NewRecorder returns a Recorder checkpointed at the current time.
func NewRecorder() *Recorder {
	return &Recorder{last: time.Now()}
}

// Record records the elapsed time since the last checkpoint (or since
// creation) under id, then resets the checkpoint.
func (r *Recorder) Record(id TimesliceID) {
	now := time.Now()
	Record(id, now.Sub(r.last))
	r.last = now
}
