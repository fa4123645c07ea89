package protocol

import "testing"

func TestCRC16(t *testing.T) {
	cases := []struct {
		data []byte
		want uint16
	}{
		{nil, 0xFFFF},
		{[]byte("123456789"), 0x6F91},
		{[]byte{5, MessageDest}, 0x9E81},
		{[]byte{5, MessageDest | 1}, 0x8F08},
		{[]byte{1, 2, 3, 4, 5}, 0xDD13},
	}
	for _, c := range cases {
		if got := CRC16(c.data); got != c.want {
			t.Errorf("CRC16(%v) = 0x%04X, want 0x%04X", c.data, got, c.want)
		}
	}
}
