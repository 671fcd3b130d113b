package slicemap

import (
	"testing"

	"github.com/m0joonKim/ESS-FW-SRC/internal/geom"
)

func TestNewSliceMapStartsAllNone(t *testing.T) {
	m := New(8)
	for lsa := uint32(0); lsa < 8; lsa++ {
		if m.Forward(lsa) != geom.NoAddress {
			t.Errorf("forward[%d] = %d, want NoAddress", lsa, m.Forward(lsa))
		}
		if m.Reverse(lsa) != geom.NoAddress {
			t.Errorf("reverse[%d] = %d, want NoAddress", lsa, m.Reverse(lsa))
		}
	}
}

func TestSetForwardAndReverseIndependent(t *testing.T) {
	m := New(16)
	m.SetForward(1, 10)
	m.SetReverse(10, 1)

	if m.Forward(1) != 10 {
		t.Errorf("Forward(1) = %d, want 10", m.Forward(1))
	}
	if m.Reverse(10) != 1 {
		t.Errorf("Reverse(10) = %d, want 1", m.Reverse(10))
	}
	if m.Forward(2) != geom.NoAddress {
		t.Error("unrelated lsa must remain unmapped")
	}
}

func TestResetClearsBothMaps(t *testing.T) {
	m := New(4)
	m.SetForward(0, 3)
	m.SetReverse(3, 0)
	m.Reset()

	if m.Forward(0) != geom.NoAddress || m.Reverse(3) != geom.NoAddress {
		t.Fatal("Reset must restore NoAddress everywhere")
	}
}

func TestCursorTableDefaultsAndClear(t *testing.T) {
	ct := NewCursorTable(4)
	c := ct.Get(2)
	if c.BaseVsa != geom.NoAddress || c.NextOffset != 0 {
		t.Fatalf("default cursor = %+v, want {NoAddress 0}", c)
	}

	ct.Set(2, Cursor{BaseVsa: 40, NextOffset: 2})
	if got := ct.Get(2); got.BaseVsa != 40 || got.NextOffset != 2 {
		t.Fatalf("Set/Get mismatch: %+v", got)
	}

	ct.Clear(2)
	if got := ct.Get(2); got.BaseVsa != geom.NoAddress || got.NextOffset != 0 {
		t.Fatalf("Clear did not reset cursor: %+v", got)
	}
}
