package protocol

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

// fakeFirmware runs a Transport on the far end of a pipe. Command 2 echoes
// its argument back as response 3.
func fakeFirmware(t *testing.T, conn net.Conn) {
	t.Helper()
	out := NewScratchOutput()
	var tr *Transport
	tr = NewTransport(out, func(id uint16, data *[]byte) error {
		if id != 2 {
			return nil
		}
		v, err := DecodeVLQUint(data)
		if err != nil {
			return err
		}
		tr.SendCommand(3, func(o OutputBuffer) { EncodeVLQUint(o, v) })
		return nil
	})

	go func() {
		in := NewFifoBuffer(256)
		buf := make([]byte, 64)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			in.Write(buf[:n])
			tr.Receive(in)
			if len(out.Result()) > 0 {
				if _, err := conn.Write(out.Result()); err != nil {
					return
				}
				out.Reset()
			}
		}
	}()
}

func TestHostTransportRoundTrip(t *testing.T) {
	hostEnd, mcuEnd := net.Pipe()
	fakeFirmware(t, mcuEnd)
	defer mcuEnd.Close()

	host := NewHostTransport(hostEnd)
	defer host.Close()

	var seen []uint16
	host.SetResponseHandler(func(id uint16, _ *[]byte) error {
		seen = append(seen, id)
		return nil
	})

	for i, v := range []uint32{90, 180, 0} {
		if err := host.SendCommand(2, func(o OutputBuffer) { EncodeVLQUint(o, v) }); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		msg, err := host.ReceiveResponse(time.Second)
		if err != nil {
			t.Fatalf("receive %d: %v", i, err)
		}
		p := msg.Payload
		id, _ := DecodeVLQUint(&p)
		got, _ := DecodeVLQUint(&p)
		if id != 3 || got != v {
			t.Errorf("response %d = id %d value %d, want id 3 value %d", i, id, got, v)
		}
	}
	if host.Sequence() != MessageDest|3 {
		t.Errorf("sequence = 0x%02x, want 0x13", host.Sequence())
	}
	if len(seen) != 3 {
		t.Errorf("response handler saw %d responses, want 3", len(seen))
	}
}

// silentPort accepts writes and never answers.
type silentPort struct {
	closed chan struct{}
}

func (p *silentPort) Read([]byte) (int, error) {
	<-p.closed
	return 0, net.ErrClosed
}
func (p *silentPort) Write(b []byte) (int, error) { return len(b), nil }
func (p *silentPort) Close() error {
	close(p.closed)
	return nil
}

func TestHostTransportAckTimeout(t *testing.T) {
	host := NewHostTransport(&silentPort{closed: make(chan struct{})})
	defer host.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := host.SendCommandContext(ctx, 1, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("SendCommandContext error = %v, want deadline exceeded", err)
	}
	if host.Sequence() != MessageDest {
		t.Error("sequence advanced without an ack")
	}
}

func TestHostTransportClosed(t *testing.T) {
	host := NewHostTransport(&silentPort{closed: make(chan struct{})})
	if err := host.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := host.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := host.Receive(context.Background()); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Receive after Close = %v", err)
	}
}
