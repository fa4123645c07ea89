package protocol

import "sync/atomic"

// CommandHandler receives one decoded command id and consumes its
// arguments from the front of data.
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the firmware side of the link: it validates frames from the
// host, dispatches their commands in order, and acknowledges each frame.
type Transport struct {
	synced  atomic.Bool
	nextSeq atomic.Uint32

	output        OutputBuffer
	handler       CommandHandler
	errorCallback func(cmdID uint16, err error)
	resetCallback func()
	flushCallback func()
}

func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	t := &Transport{output: output, handler: handler}
	t.synced.Store(true)
	t.nextSeq.Store(MessageDest)
	return t
}

// Receive consumes every complete frame in input. A partial trailing frame
// stays in input for the next call.
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()
	total := len(data)

	for len(data) > 0 {
		if !t.synced.Load() {
			var ok bool
			if data, ok = SkipToSync(data); ok {
				t.synced.Store(true)
				t.encodeAckNak()
			}
			continue
		}
		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}

		frame, n, res := ScanFrame(data)
		if res == ScanShort {
			break
		}
		if res == ScanBad {
			t.synced.Store(false)
			continue
		}
		data = data[n:]

		expected := uint8(t.nextSeq.Load())
		if frame.Seq == MessageDest && expected != MessageDest {
			// Host restarted its sequence.
			expected = MessageDest
			t.nextSeq.Store(MessageDest)
			if t.resetCallback != nil {
				t.resetCallback()
			}
		}
		if frame.Seq == expected {
			t.nextSeq.Store(uint32(NextSequence(frame.Seq)))
			t.dispatch(frame.Payload)
		}
		// A mismatched sequence gets the same reply, which the host reads
		// as a NAK naming the frame it must resend.
		t.encodeAckNak()
	}

	input.Pop(total - len(data))
}

func (t *Transport) dispatch(payload []byte) {
	defer func() {
		if recover() != nil {
			t.synced.Store(false)
		}
	}()
	for len(payload) > 0 {
		cmdID, err := DecodeVLQUint(&payload)
		if err != nil {
			t.synced.Store(false)
			return
		}
		if t.handler == nil {
			continue
		}
		if err := t.handler(uint16(cmdID), &payload); err != nil {
			// Remaining arguments cannot be located once a handler fails.
			if t.errorCallback != nil {
				t.errorCallback(uint16(cmdID), err)
			}
			return
		}
	}
}

func (t *Transport) encodeAckNak() {
	var ack [MessageLengthMin]byte
	t.output.Output(AppendAck(ack[:0], uint8(t.nextSeq.Load())))
	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// EncodeFrame writes one frame whose payload is produced by frameData.
// Responses carry the current acknowledgement sequence.
func (t *Transport) EncodeFrame(frameData func(output OutputBuffer)) {
	start := t.output.CurPosition()
	t.output.Output([]byte{0, uint8(t.nextSeq.Load())})
	frameData(t.output)

	n := len(t.output.DataSince(start)) + MessageTrailerSize
	t.output.Update(start, uint8(n))
	crc := CRC16(t.output.DataSince(start))
	t.output.Output([]byte{byte(crc >> 8), byte(crc), MessageValueSync})
}

// SendCommand frames cmdID followed by whatever args writes.
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	t.EncodeFrame(func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}

// Reset returns the transport to its power-on state.
func (t *Transport) Reset() {
	t.synced.Store(true)
	t.nextSeq.Store(MessageDest)
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// SetResetCallback is called when the host restarts its sequence.
func (t *Transport) SetResetCallback(cb func()) { t.resetCallback = cb }

// SetFlushCallback is called after each ACK so it reaches the host ahead of
// queued responses.
func (t *Transport) SetFlushCallback(cb func()) { t.flushCallback = cb }

// SetErrorCallback is called when a command handler fails.
func (t *Transport) SetErrorCallback(cb func(cmdID uint16, err error)) { t.errorCallback = cb }
