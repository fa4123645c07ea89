package mcu

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"servopio/host/serial"
	"servopio/protocol"
)

var (
	ErrNotConnected   = errors.New("not connected to MCU")
	ErrNoDictionary   = errors.New("dictionary not loaded")
	ErrUnknownCommand = errors.New("unknown command")
	ErrUnknownConfig  = errors.New("unknown config constant")
)

// Identify ids are fixed so the dictionary can be fetched before it is
// known.
const (
	identifyResponseID = 0
	identifyID         = 1
	identifyChunk      = 40
)

// DefaultTimeout bounds each request/response exchange.
const DefaultTimeout = 2 * time.Second

// MCU is a connection to servo firmware speaking the Klipper protocol.
type MCU struct {
	transport *protocol.HostTransport
	port      io.ReadWriteCloser

	mu             sync.RWMutex
	dictionary     *Dictionary
	dictionaryData []byte
	commands       map[string]*MessageFormat
	responses      map[uint16]*MessageFormat

	// OnMessage observes every decoded response, including unsolicited
	// ones such as shutdown. It runs on the reader goroutine; set it before
	// Attach.
	OnMessage func(*Response)
	// Logf receives progress messages. nil discards them.
	Logf func(format string, args ...any)

	connected bool
}

// Dictionary represents the parsed MCU dictionary
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`
}

// NewMCU creates a new MCU instance (not yet connected)
func NewMCU() *MCU {
	return &MCU{}
}

// Connect connects to an MCU via serial port
func (m *MCU) Connect(device string) error {
	return m.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig connects to an MCU with a custom serial config
func (m *MCU) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return err
	}
	m.Attach(port)
	// Give a freshly enumerated USB device time to start its main loop.
	time.Sleep(100 * time.Millisecond)
	return nil
}

// Attach uses an already open byte stream as the link.
func (m *MCU) Attach(port io.ReadWriteCloser) {
	m.port = port
	m.transport = protocol.NewHostTransport(port)
	m.transport.SetResponseHandler(m.handleResponse)
	m.connected = true
}

// Close closes the connection to the MCU
func (m *MCU) Close() error {
	if m.transport != nil {
		if err := m.transport.Close(); err != nil {
			return err
		}
	}
	m.connected = false
	return nil
}

// IsConnected returns whether the MCU is connected
func (m *MCU) IsConnected() bool {
	return m.connected
}

func (m *MCU) logf(format string, args ...any) {
	if m.Logf != nil {
		m.Logf(format, args...)
	}
}

// RetrieveDictionary fetches the data dictionary with identify, inflating
// it when the firmware sent it zlib-compressed.
func (m *MCU) RetrieveDictionary(ctx context.Context) error {
	if !m.connected {
		return ErrNotConnected
	}

	m.logf("retrieving dictionary")
	var buf bytes.Buffer
	for offset := uint32(0); ; {
		chunk, err := m.sendIdentify(ctx, offset, identifyChunk)
		if err != nil {
			return fmt.Errorf("dictionary chunk at offset %d: %w", offset, err)
		}
		buf.Write(chunk)
		offset += uint32(len(chunk))
		if len(chunk) < identifyChunk {
			break
		}
	}

	data := buf.Bytes()
	if inflated, err := decompress(data); err == nil {
		m.logf("dictionary decompressed: %d -> %d bytes", len(data), len(inflated))
		data = inflated
	}
	m.logf("dictionary: %d bytes", len(data))
	return m.LoadDictionary(data)
}

func (m *MCU) sendIdentify(ctx context.Context, offset uint32, count uint8) ([]byte, error) {
	err := m.transport.SendCommandContext(ctx, identifyID, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, offset)
		protocol.EncodeVLQUint(out, uint32(count))
	})
	if err != nil {
		return nil, err
	}

	for {
		msg, err := m.receive(ctx)
		if err != nil {
			return nil, err
		}
		payload := msg.Payload
		id, err := protocol.DecodeVLQUint(&payload)
		if err != nil || id != identifyResponseID {
			continue
		}
		got, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			return nil, err
		}
		if got != offset {
			continue
		}
		return protocol.DecodeVLQBytes(&payload)
	}
}

func (m *MCU) receive(ctx context.Context) (*protocol.Message, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}
	return m.transport.Receive(ctx)
}

func decompress(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x78 {
		return nil, errors.New("not zlib compressed")
	}
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// LoadDictionary parses dictionary JSON and indexes its messages.
func (m *MCU) LoadDictionary(data []byte) error {
	dict := &Dictionary{}
	if err := json.Unmarshal(data, dict); err != nil {
		return fmt.Errorf("parse dictionary: %w", err)
	}

	commands := make(map[string]*MessageFormat, len(dict.Commands))
	for sig, id := range dict.Commands {
		f, err := ParseFormat(sig, uint16(id))
		if err != nil {
			return err
		}
		commands[f.Name] = f
	}
	responses := make(map[uint16]*MessageFormat, len(dict.Responses))
	for sig, id := range dict.Responses {
		f, err := ParseFormat(sig, uint16(id))
		if err != nil {
			return err
		}
		responses[f.ID] = f
	}

	m.mu.Lock()
	m.dictionary = dict
	m.dictionaryData = data
	m.commands = commands
	m.responses = responses
	m.mu.Unlock()
	return nil
}

// GetDictionary returns the parsed dictionary
func (m *MCU) GetDictionary() *Dictionary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dictionary
}

// GetDictionaryRaw returns the raw dictionary data
func (m *MCU) GetDictionaryRaw() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dictionaryData
}

// Command returns the format of a named command.
func (m *MCU) Command(name string) (*MessageFormat, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.commands[name]
	return f, ok
}

// ConfigUint reads a numeric dictionary constant such as CLOCK_FREQ.
func (m *MCU) ConfigUint(name string) (uint32, error) {
	dict := m.GetDictionary()
	if dict == nil {
		return 0, ErrNoDictionary
	}
	raw, ok := dict.Config[name]
	if !ok {
		return 0, fmt.Errorf("%w %s", ErrUnknownConfig, name)
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("config %s=%q: %w", name, raw, err)
	}
	return uint32(v), nil
}

// handleResponse decodes responses for OnMessage as they arrive.
func (m *MCU) handleResponse(cmdID uint16, data *[]byte) error {
	if m.OnMessage == nil {
		return nil
	}
	m.mu.RLock()
	f, ok := m.responses[cmdID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	p := *data
	r, err := f.Decode(&p)
	if err != nil {
		return err
	}
	m.OnMessage(r)
	return nil
}

// DecodeMessage decodes a queued frame's payload.
func (m *MCU) DecodeMessage(msg *protocol.Message) (*Response, *MessageFormat, error) {
	payload := msg.Payload
	id, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return nil, nil, err
	}
	m.mu.RLock()
	f, ok := m.responses[uint16(id)]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w id %d", ErrUnknownCommand, id)
	}
	r, err := f.Decode(&payload)
	return r, f, err
}

// Send encodes a command by name and waits for its acknowledgement.
func (m *MCU) Send(ctx context.Context, name string, args map[string]string) error {
	if !m.connected {
		return ErrNotConnected
	}
	m.mu.RLock()
	dict := m.dictionary
	f, ok := m.commands[name]
	m.mu.RUnlock()
	if dict == nil {
		return ErrNoDictionary
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	out := protocol.NewScratchOutput()
	if err := f.Encode(out, args, dict.Enumerations); err != nil {
		return err
	}
	return m.transport.SendPayload(ctx, out.Result())
}

// Query sends a command and returns the first response named respName for
// which match reports true. A nil match accepts any.
func (m *MCU) Query(ctx context.Context, name string, args map[string]string, respName string, match func(*Response) bool) (*Response, error) {
	if err := m.Send(ctx, name, args); err != nil {
		return nil, err
	}
	for {
		msg, err := m.receive(ctx)
		if err != nil {
			return nil, fmt.Errorf("waiting for %s: %w", respName, err)
		}
		r, _, err := m.DecodeMessage(msg)
		if err != nil || r.Name != respName {
			continue
		}
		if match == nil || match(r) {
			return r, nil
		}
	}
}

// GetClock reads the firmware clock.
func (m *MCU) GetClock(ctx context.Context) (uint32, error) {
	r, err := m.Query(ctx, "get_clock", nil, "clock", nil)
	if err != nil {
		return 0, err
	}
	return r.Uint("clock"), nil
}

// PrintDictionary writes a summary of the dictionary to w.
func (m *MCU) PrintDictionary(w io.Writer) {
	dict := m.GetDictionary()
	if dict == nil {
		fmt.Fprintln(w, "No dictionary loaded")
		return
	}

	fmt.Fprintf(w, "Version: %s\n", dict.Version)
	fmt.Fprintf(w, "Build: %s\n", dict.BuildVersions)

	fmt.Fprintln(w, "\nConfig:")
	for _, k := range sortedKeys(dict.Config) {
		fmt.Fprintf(w, "  %s = %s\n", k, dict.Config[k])
	}

	fmt.Fprintf(w, "\nCommands (%d):\n", len(dict.Commands))
	for _, sig := range sortedKeys(dict.Commands) {
		fmt.Fprintf(w, "  [%d] %s\n", dict.Commands[sig], sig)
	}

	fmt.Fprintf(w, "\nResponses (%d):\n", len(dict.Responses))
	for _, sig := range sortedKeys(dict.Responses) {
		fmt.Fprintf(w, "  [%d] %s\n", dict.Responses[sig], sig)
	}

	if len(dict.Enumerations) > 0 {
		fmt.Fprintf(w, "\nEnumerations (%d):\n", len(dict.Enumerations))
		for _, name := range sortedKeys(dict.Enumerations) {
			fmt.Fprintf(w, "  %s: %d values\n", name, len(dict.Enumerations[name]))
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
