package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestVLQEncoding(t *testing.T) {
	cases := []struct {
		v    int32
		want []byte
	}{
		{0, []byte{0x00}},
		{95, []byte{0x5F}},
		{96, []byte{0x80, 0x60}},
		{-1, []byte{0x7F}},
		{-32, []byte{0x60}},
		{-33, []byte{0xFF, 0x5F}},
		{1500, []byte{0x8B, 0x5C}},
		{20000, []byte{0x81, 0x9C, 0x20}},
		{4000000, []byte{0x81, 0xF4, 0x92, 0x00}},
	}
	for _, c := range cases {
		out := NewScratchOutput()
		EncodeVLQInt(out, c.v)
		if !bytes.Equal(out.Result(), c.want) {
			t.Errorf("EncodeVLQInt(%d) = % X, want % X", c.v, out.Result(), c.want)
		}
		data := append([]byte(nil), c.want...)
		got, err := DecodeVLQInt(&data)
		if err != nil || got != c.v {
			t.Errorf("DecodeVLQInt(% X) = %d, %v; want %d", c.want, got, err, c.v)
		}
		if len(data) != 0 {
			t.Errorf("DecodeVLQInt(% X) left %d bytes", c.want, len(data))
		}
	}
}

func TestVLQUintExtremes(t *testing.T) {
	for _, v := range []uint32{0, 1, 180, 20000, 1 << 31, 0xFFFFFFFF} {
		out := NewScratchOutput()
		EncodeVLQUint(out, v)
		data := out.Result()
		if len(data) > 5 {
			t.Errorf("EncodeVLQUint(%d) used %d bytes", v, len(data))
		}
		got, err := DecodeVLQUint(&data)
		if err != nil || got != v {
			t.Errorf("uint %d decoded as %d, %v", v, got, err)
		}
	}
}

func TestVLQSequence(t *testing.T) {
	out := NewScratchOutput()
	EncodeVLQUint(out, 7)
	EncodeVLQString(out, "servo")
	EncodeVLQUint(out, 1500)

	data := out.Result()
	a, _ := DecodeVLQUint(&data)
	s, _ := DecodeVLQString(&data)
	b, err := DecodeVLQUint(&data)
	if err != nil || a != 7 || s != "servo" || b != 1500 {
		t.Fatalf("decoded %d %q %d (%v)", a, s, b, err)
	}
}

func TestVLQErrors(t *testing.T) {
	data := []byte{0x80}
	if _, err := DecodeVLQInt(&data); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("truncated VLQ: %v", err)
	}
	data = []byte{0x81, 0x81, 0x81, 0x81, 0x81, 0x01}
	if _, err := DecodeVLQInt(&data); !errors.Is(err, ErrInvalidVLQ) {
		t.Errorf("six byte VLQ: %v", err)
	}
	data = []byte{0x05, 'a', 'b'}
	if _, err := DecodeVLQBytes(&data); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("short byte string: %v", err)
	}
}
