package protocol

import (
	"bytes"
	"errors"
	"testing"
)

type dispatched struct {
	id   uint16
	args []uint32
}

// recorder decodes a fixed number of VLQ args per command id.
func recorder(argc map[uint16]int, got *[]dispatched) CommandHandler {
	return func(id uint16, data *[]byte) error {
		d := dispatched{id: id}
		for i := 0; i < argc[id]; i++ {
			v, err := DecodeVLQUint(data)
			if err != nil {
				return err
			}
			d.args = append(d.args, v)
		}
		*got = append(*got, d)
		return nil
	}
}

func commandFrame(t *testing.T, seq uint8, cmds ...[]uint32) []byte {
	t.Helper()
	out := NewScratchOutput()
	for _, c := range cmds {
		for _, v := range c {
			EncodeVLQUint(out, v)
		}
	}
	frame, err := AppendFrame(nil, seq, out.Result())
	if err != nil {
		t.Fatal(err)
	}
	return frame
}

func TestTransportDispatchesAndAcks(t *testing.T) {
	var got []dispatched
	out := NewScratchOutput()
	tr := NewTransport(out, recorder(map[uint16]int{4: 2, 5: 0}, &got))

	// Two commands in one frame, then a frame split across two reads.
	stream := commandFrame(t, MessageDest, []uint32{4, 0, 90}, []uint32{5})
	second := commandFrame(t, MessageDest|1, []uint32{4, 1, 180})
	in := NewFifoBuffer(256)
	in.Write(stream)
	in.Write(second[:3])
	tr.Receive(in)

	if in.Available() != 3 {
		t.Fatalf("partial frame not retained: %d bytes left", in.Available())
	}
	in.Write(second[3:])
	tr.Receive(in)

	want := []dispatched{{4, []uint32{0, 90}}, {5, nil}, {4, []uint32{1, 180}}}
	if len(got) != len(want) {
		t.Fatalf("dispatched %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i].id != want[i].id || len(got[i].args) != len(want[i].args) {
			t.Fatalf("dispatched %+v, want %+v", got, want)
		}
	}

	acks := AppendAck(AppendAck(nil, MessageDest|1), MessageDest|2)
	if !bytes.Equal(out.Result(), acks) {
		t.Errorf("acks = % X, want % X", out.Result(), acks)
	}
}

func TestTransportNaksOutOfOrderFrame(t *testing.T) {
	var got []dispatched
	out := NewScratchOutput()
	tr := NewTransport(out, recorder(nil, &got))

	tr.Receive(NewSliceInputBuffer(commandFrame(t, MessageDest|5, []uint32{9})))
	if len(got) != 0 {
		t.Errorf("out of order frame dispatched: %+v", got)
	}
	if !bytes.Equal(out.Result(), AppendAck(nil, MessageDest)) {
		t.Errorf("nak = % X", out.Result())
	}
}

func TestTransportResyncsAfterGarbage(t *testing.T) {
	var got []dispatched
	out := NewScratchOutput()
	tr := NewTransport(out, recorder(nil, &got))

	stream := append([]byte{0x30, 0x01, 0x02, MessageValueSync}, commandFrame(t, MessageDest, []uint32{7})...)
	in := NewSliceInputBuffer(stream)
	tr.Receive(in)

	if len(got) != 1 || got[0].id != 7 {
		t.Fatalf("dispatched %+v after resync", got)
	}
	if in.Available() != 0 {
		t.Errorf("%d bytes left unconsumed", in.Available())
	}
}

func TestTransportReportsHandlerErrors(t *testing.T) {
	boom := errors.New("unknown oid")
	out := NewScratchOutput()
	tr := NewTransport(out, func(uint16, *[]byte) error { return boom })

	var reported error
	tr.SetErrorCallback(func(_ uint16, err error) { reported = err })
	tr.Receive(NewSliceInputBuffer(commandFrame(t, MessageDest, []uint32{3})))

	if !errors.Is(reported, boom) {
		t.Errorf("error callback got %v", reported)
	}
}

func TestTransportHostReset(t *testing.T) {
	out := NewScratchOutput()
	tr := NewTransport(out, func(uint16, *[]byte) error { return nil })
	resets := 0
	tr.SetResetCallback(func() { resets++ })

	tr.Receive(NewSliceInputBuffer(commandFrame(t, MessageDest, []uint32{1})))
	tr.Receive(NewSliceInputBuffer(commandFrame(t, MessageDest, []uint32{1})))
	if resets != 1 {
		t.Errorf("resets = %d, want 1", resets)
	}
}

func TestSendCommandFrame(t *testing.T) {
	out := NewScratchOutput()
	tr := NewTransport(out, nil)
	tr.SendCommand(12, func(o OutputBuffer) { EncodeVLQUint(o, 1500) })

	f, n, res := ScanFrame(out.Result())
	if res != ScanOK || n != len(out.Result()) {
		t.Fatalf("SendCommand produced an invalid frame: % X", out.Result())
	}
	p := f.Payload
	id, _ := DecodeVLQUint(&p)
	v, _ := DecodeVLQUint(&p)
	if id != 12 || v != 1500 || f.Seq != MessageDest {
		t.Errorf("frame = %+v (id %d value %d)", f, id, v)
	}
}
