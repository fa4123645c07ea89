package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrTransportClosed = errors.New("transport closed")
	ErrSequence        = errors.New("unexpected acknowledgement sequence")
)

// DefaultAckTimeout bounds SendCommand.
const DefaultAckTimeout = 2 * time.Second

// Message is a non-empty frame received from the firmware.
type Message struct {
	Sequence uint8
	Payload  []byte
}

// ResponseHandler observes responses as they arrive, before they are
// queued for Receive.
type ResponseHandler func(cmdID uint16, data *[]byte) error

// HostTransport is the host side of the link. It sends one frame at a time,
// waits for its acknowledgement, and queues responses.
type HostTransport struct {
	port io.ReadWriteCloser
	seq  atomic.Uint32

	sendMu sync.Mutex
	input  *FifoBuffer
	synced bool

	acks      chan uint8
	responses chan *Message

	handlerMu sync.RWMutex
	handler   ResponseHandler

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewHostTransport starts a reader goroutine on port. Close stops it.
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:      port,
		input:     NewFifoBuffer(1024),
		synced:    true,
		acks:      make(chan uint8, 4),
		responses: make(chan *Message, 32),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	t.seq.Store(MessageDest)
	go t.readLoop()
	return t
}

// SendCommand frames and sends one command, waiting up to
// DefaultAckTimeout for the firmware to acknowledge it.
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultAckTimeout)
	defer cancel()
	return t.SendCommandContext(ctx, cmdID, args)
}

// SendCommandContext is SendCommand bounded by ctx instead of the default
// timeout.
func (t *HostTransport) SendCommandContext(ctx context.Context, cmdID uint16, args func(output OutputBuffer)) error {
	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, uint32(cmdID))
	if args != nil {
		args(scratch)
	}
	return t.SendPayload(ctx, scratch.Result())
}

// SendPayload sends an already encoded command block.
func (t *HostTransport) SendPayload(ctx context.Context, payload []byte) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	// Acks left over from a resync must not be matched to this frame.
	for len(t.acks) > 0 {
		<-t.acks
	}

	seq := uint8(t.seq.Load())
	msg, err := AppendFrame(make([]byte, 0, MessageLengthMax), seq, payload)
	if err != nil {
		return fmt.Errorf("build frame (%d byte payload): %w", len(payload), err)
	}
	if _, err := t.port.Write(msg); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	want := NextSequence(seq)
	for {
		select {
		case got := <-t.acks:
			if got != want {
				return fmt.Errorf("%w: want 0x%02x, got 0x%02x", ErrSequence, want, got)
			}
			t.seq.Store(uint32(want))
			return nil
		case <-ctx.Done():
			return fmt.Errorf("wait for ack 0x%02x: %w", want, ctx.Err())
		case <-t.stop:
			return ErrTransportClosed
		}
	}
}

// Receive returns the next queued response.
func (t *HostTransport) Receive(ctx context.Context) (*Message, error) {
	select {
	case m := <-t.responses:
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.stop:
		return nil, ErrTransportClosed
	}
}

// ReceiveResponse is Receive with a timeout.
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (*Message, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	m, err := t.Receive(ctx)
	if err != nil {
		return nil, fmt.Errorf("response: %w", err)
	}
	return m, nil
}

func (t *HostTransport) SetResponseHandler(h ResponseHandler) {
	t.handlerMu.Lock()
	t.handler = h
	t.handlerMu.Unlock()
}

func (t *HostTransport) readLoop() {
	defer close(t.done)
	buf := make([]byte, 256)
	for {
		n, err := t.port.Read(buf)
		select {
		case <-t.stop:
			return
		default:
		}
		if n > 0 {
			t.input.Write(buf[:n])
			t.processInput()
		}
		if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
			return
		}
		if err != nil {
			// Serial ports with a read timeout report an idle line as EOF.
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func (t *HostTransport) processInput() {
	data := t.input.Data()
	total := len(data)

	for len(data) > 0 {
		if !t.synced {
			var ok bool
			data, ok = SkipToSync(data)
			t.synced = ok
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
			t.synced = false
			continue
		}
		data = data[n:]
		t.dispatch(frame)
	}

	t.input.Pop(total - len(data))
}

func (t *HostTransport) dispatch(f Frame) {
	if f.IsAck() {
		select {
		case t.acks <- f.Seq:
		default:
		}
		return
	}

	msg := &Message{Sequence: f.Seq, Payload: append([]byte(nil), f.Payload...)}

	t.handlerMu.RLock()
	h := t.handler
	t.handlerMu.RUnlock()
	if h != nil {
		p := msg.Payload
		if id, err := DecodeVLQUint(&p); err == nil {
			_ = h(uint16(id), &p)
		}
	}

	select {
	case t.responses <- msg:
	default:
		// Drop the oldest so a stalled consumer sees recent state.
		select {
		case <-t.responses:
		default:
		}
		t.responses <- msg
	}
}

// Drain discards queued responses and acknowledgements.
func (t *HostTransport) Drain() {
	for {
		select {
		case <-t.responses:
		case <-t.acks:
		default:
			return
		}
	}
}

// Sequence is the sequence byte the next frame will carry.
func (t *HostTransport) Sequence() uint8 {
	return uint8(t.seq.Load())
}

// Close stops the reader and closes the port.
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		err = t.port.Close()
		<-t.done
	})
	return err
}
