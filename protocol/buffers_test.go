package protocol

import (
	"bytes"
	"testing"
)

func TestScratchOutput(t *testing.T) {
	s := NewScratchOutput()
	s.Output([]byte{1, 2, 3})
	s.Output([]byte{4, 5})
	if s.CurPosition() != 5 {
		t.Fatalf("position = %d, want 5", s.CurPosition())
	}
	s.Update(0, 99)
	s.Update(7, 42) // past the end, ignored
	if !bytes.Equal(s.Result(), []byte{99, 2, 3, 4, 5}) {
		t.Errorf("Result = %v", s.Result())
	}
	if !bytes.Equal(s.DataSince(2), []byte{3, 4, 5}) {
		t.Errorf("DataSince(2) = %v", s.DataSince(2))
	}
	if s.DataSince(6) != nil {
		t.Error("DataSince past end should be nil")
	}
	s.Reset()
	if s.CurPosition() != 0 || len(s.Result()) != 0 {
		t.Error("Reset did not clear output")
	}
}

func TestFifoBuffer(t *testing.T) {
	f := NewFifoBuffer(5)
	if !f.IsEmpty() || f.Free() != 5 {
		t.Fatalf("new fifo: empty=%v free=%d", f.IsEmpty(), f.Free())
	}
	if n := f.Write([]byte{1, 2, 3, 4, 5, 6}); n != 5 {
		t.Errorf("Write stored %d bytes, want 5", n)
	}

	out := make([]byte, 3)
	if n := f.Read(out); n != 3 || !bytes.Equal(out, []byte{1, 2, 3}) {
		t.Errorf("Read = %d %v", n, out)
	}

	// Wraps: 4 5 | 7 8
	f.Write([]byte{7, 8})
	if !bytes.Equal(f.Data(), []byte{4, 5, 7, 8}) {
		t.Errorf("wrapped Data = %v", f.Data())
	}
	f.Pop(3)
	if !bytes.Equal(f.Data(), []byte{8}) {
		t.Errorf("after Pop Data = %v", f.Data())
	}
	f.Pop(10)
	if !f.IsEmpty() || f.Available() != 0 {
		t.Error("Pop past end should empty the fifo")
	}
}

func TestSliceInputBuffer(t *testing.T) {
	b := NewSliceInputBuffer([]byte{1, 2, 3})
	b.Pop(2)
	if b.Available() != 1 || b.Data()[0] != 3 {
		t.Errorf("after Pop: %v", b.Data())
	}
	b.Pop(5)
	if b.Available() != 0 {
		t.Error("Pop past end should empty the buffer")
	}
}
