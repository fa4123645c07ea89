package mcu

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"servopio/protocol"
)

var (
	ErrBadFormat    = errors.New("malformed message format")
	ErrMissingArg   = errors.New("missing argument")
	ErrUnknownArg   = errors.New("unknown argument")
	ErrBadArgValue  = errors.New("invalid argument value")
	ErrTruncatedMsg = errors.New("truncated message")
)

// ParamType is the wire type of one message parameter.
type ParamType uint8

const (
	ParamUint   ParamType = iota // %u %c %hu
	ParamInt                     // %i %hi
	ParamBuffer                  // %s %*s %.*s
)

// Param is one name=%x field of a message format.
type Param struct {
	Name string
	Type ParamType
}

// MessageFormat is a parsed dictionary entry such as
// "servo_rotate oid=%c angle=%hu".
type MessageFormat struct {
	ID     uint16
	Name   string
	Params []Param
}

// ParseFormat splits a dictionary signature into its name and typed
// parameters.
func ParseFormat(signature string, id uint16) (*MessageFormat, error) {
	fields := strings.Fields(signature)
	if len(fields) == 0 {
		return nil, ErrBadFormat
	}
	f := &MessageFormat{ID: id, Name: fields[0]}
	for _, field := range fields[1:] {
		name, spec, ok := strings.Cut(field, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: %q", ErrBadFormat, signature)
		}
		var typ ParamType
		switch spec {
		case "%u", "%c", "%hu":
			typ = ParamUint
		case "%i", "%hi":
			typ = ParamInt
		case "%s", "%*s", "%.*s":
			typ = ParamBuffer
		default:
			return nil, fmt.Errorf("%w: %s in %q", ErrBadFormat, spec, signature)
		}
		f.Params = append(f.Params, Param{Name: name, Type: typ})
	}
	return f, nil
}

// Encode writes the message id and each parameter from args, in format
// order. Values are decimal, 0x-prefixed hex, or a name from the
// enumeration keyed by the parameter name.
func (f *MessageFormat) Encode(out protocol.OutputBuffer, args map[string]string, enums map[string]map[string]int) error {
	for name := range args {
		if !f.hasParam(name) {
			return fmt.Errorf("%s: %w %q", f.Name, ErrUnknownArg, name)
		}
	}

	protocol.EncodeVLQUint(out, uint32(f.ID))
	for _, p := range f.Params {
		raw, ok := args[p.Name]
		if !ok {
			return fmt.Errorf("%s: %w %q", f.Name, ErrMissingArg, p.Name)
		}
		if p.Type == ParamBuffer {
			protocol.EncodeVLQBytes(out, []byte(raw))
			continue
		}
		v, err := parseValue(raw, enums[p.Name])
		if err != nil {
			return fmt.Errorf("%s %s=%s: %w", f.Name, p.Name, raw, err)
		}
		if p.Type == ParamInt {
			protocol.EncodeVLQInt(out, int32(v))
		} else {
			protocol.EncodeVLQUint(out, uint32(v))
		}
	}
	return nil
}

func (f *MessageFormat) hasParam(name string) bool {
	for _, p := range f.Params {
		if p.Name == name {
			return true
		}
	}
	return false
}

func parseValue(raw string, enum map[string]int) (int64, error) {
	if idx, ok := enum[raw]; ok {
		return int64(idx), nil
	}
	v, err := strconv.ParseInt(raw, 0, 64)
	if err != nil {
		return 0, ErrBadArgValue
	}
	if v < -(1<<31) || v > 1<<32-1 {
		return 0, ErrBadArgValue
	}
	return v, nil
}

// Response is a decoded message from the firmware.
type Response struct {
	Name   string
	Values map[string]uint32
	Ints   map[string]int32
	Bytes  map[string][]byte
}

// Uint returns a %u/%c/%hu field, 0 when absent.
func (r *Response) Uint(name string) uint32 {
	return r.Values[name]
}

// String returns a buffer field as text.
func (r *Response) String(name string) string {
	return string(r.Bytes[name])
}

// Decode reads the parameters following the message id.
func (f *MessageFormat) Decode(data *[]byte) (*Response, error) {
	r := &Response{
		Name:   f.Name,
		Values: make(map[string]uint32),
		Ints:   make(map[string]int32),
		Bytes:  make(map[string][]byte),
	}
	for _, p := range f.Params {
		var err error
		switch p.Type {
		case ParamUint:
			r.Values[p.Name], err = protocol.DecodeVLQUint(data)
		case ParamInt:
			r.Ints[p.Name], err = protocol.DecodeVLQInt(data)
		case ParamBuffer:
			r.Bytes[p.Name], err = protocol.DecodeVLQBytes(data)
		}
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", f.Name, p.Name, ErrTruncatedMsg)
		}
	}
	return r, nil
}

// Format renders r in "name key=value" form for display.
func (r *Response) Format(f *MessageFormat) string {
	var b strings.Builder
	b.WriteString(r.Name)
	for _, p := range f.Params {
		b.WriteByte(' ')
		b.WriteString(p.Name)
		b.WriteByte('=')
		switch p.Type {
		case ParamUint:
			b.WriteString(strconv.FormatUint(uint64(r.Values[p.Name]), 10))
		case ParamInt:
			b.WriteString(strconv.FormatInt(int64(r.Ints[p.Name]), 10))
		case ParamBuffer:
			b.WriteString(strconv.Quote(string(r.Bytes[p.Name])))
		}
	}
	return b.String()
}
