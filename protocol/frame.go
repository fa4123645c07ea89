package protocol

// ScanResult classifies the bytes at the head of a receive buffer.
type ScanResult uint8

const (
	// ScanOK means a complete, valid frame was found.
	ScanOK ScanResult = iota
	// ScanShort means more bytes are needed before a decision can be made.
	ScanShort
	// ScanBad means the head of the buffer is not a valid frame and the
	// reader must resynchronise on the next sync byte.
	ScanBad
)

// Frame is one decoded message block. Payload aliases the scanned buffer.
type Frame struct {
	Seq     uint8
	Payload []byte
}

// IsAck reports whether f carries no commands.
func (f Frame) IsAck() bool {
	return len(f.Payload) == 0
}

// ScanFrame checks whether data begins with a complete frame. On ScanOK it
// returns the frame and the number of bytes it occupies.
func ScanFrame(data []byte) (Frame, int, ScanResult) {
	if len(data) < MessageLengthMin {
		return Frame{}, 0, ScanShort
	}
	n := int(data[MessagePositionLen])
	if n < MessageLengthMin || n > MessageLengthMax {
		return Frame{}, 0, ScanBad
	}
	seq := data[MessagePositionSeq]
	if seq&^MessageSeqMask != MessageDest {
		return Frame{}, 0, ScanBad
	}
	if len(data) < n {
		return Frame{}, 0, ScanShort
	}
	if data[n-MessageTrailerSync] != MessageValueSync {
		return Frame{}, 0, ScanBad
	}
	want := uint16(data[n-MessageTrailerCRC])<<8 | uint16(data[n-MessageTrailerCRC+1])
	if CRC16(data[:n-MessageTrailerSize]) != want {
		return Frame{}, 0, ScanBad
	}
	return Frame{Seq: seq, Payload: data[MessageHeaderSize : n-MessageTrailerSize]}, n, ScanOK
}

// SkipToSync drops everything up to and including the first sync byte.
// ok is false when data holds no sync byte; the caller should then discard
// all of it.
func SkipToSync(data []byte) (rest []byte, ok bool) {
	for i, b := range data {
		if b == MessageValueSync {
			return data[i+1:], true
		}
	}
	return nil, false
}

// AppendFrame appends a complete frame around payload to dst.
func AppendFrame(dst []byte, seq uint8, payload []byte) ([]byte, error) {
	n := MessageLengthMin + len(payload)
	if n > MessageLengthMax {
		return dst, ErrFrameTooLong
	}
	start := len(dst)
	dst = append(dst, byte(n), seq)
	dst = append(dst, payload...)
	crc := CRC16(dst[start:])
	return append(dst, byte(crc>>8), byte(crc), MessageValueSync), nil
}

// AppendAck appends an empty frame announcing seq as the next expected
// sequence.
func AppendAck(dst []byte, seq uint8) []byte {
	dst, _ = AppendFrame(dst, seq, nil)
	return dst
}
