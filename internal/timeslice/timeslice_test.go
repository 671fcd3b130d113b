package timeslice

import (
	"bytes"
	"testing"
	"time"
)

func TestOpenWritesHeader(t *testing.T) {
	RegisterKind("test::op")

	var buf bytes.Buffer
	closer, err := Open(&buf)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closer.Close()

	if buf.Len() < 12 {
		t.Fatalf("header too short: %d bytes", buf.Len())
	}
}

func TestOpenTwiceFails(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	closer, err := Open(&buf1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closer.Close()

	if _, err := Open(&buf2); err == nil {
		t.Fatal("expected error opening twice")
	}
}

func TestRecorderRecordsWithoutOpenSink(t *testing.T) {
	r := NewRecorder()
	time.Sleep(time.Millisecond)
	// Must not panic or block when no sink is open.
	r.Record(RegisterKind("test::noop"))
}

func TestRecordAfterOpenAppendsBytes(t *testing.T) {
	var buf bytes.Buffer
	closer, err := Open(&buf)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closer.Close()

	before := buf.Len()
	id := RegisterKind("test::write")
	Record(id, 5*time.Microsecond)
	if buf.Len() != before+recordSize {
		t.Fatalf("buf grew by %d bytes, want %d", buf.Len()-before, recordSize)
	}
}
