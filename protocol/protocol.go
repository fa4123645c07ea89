// Package protocol implements the framed, VLQ-encoded command protocol used
// between the servo host and the firmware.
//
// A frame is
//
//	len seq payload... crc_hi crc_lo 0x7E
//
// where len counts the whole frame, seq carries MessageDest in its high
// nibble and a 4-bit sequence number in its low nibble, and the CRC covers
// len through the last payload byte. An empty payload is an ACK/NAK
// carrying the next sequence number the receiver expects.
package protocol

import "errors"

// Version is the firmware protocol version reported in the dictionary.
const Version = "servopio-0.1.0"

const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePayloadMax  = MessageLengthMax - MessageLengthMin

	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1

	MessageValueSync = 0x7E
	MessageDest      = 0x10
	MessageSeqMask   = 0x0F

	// MessageMax sizes scratch output; it holds several queued frames.
	MessageMax = 512
)

var ErrFrameTooLong = errors.New("frame exceeds maximum length")

// NextSequence returns the sequence byte following seq.
func NextSequence(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}
