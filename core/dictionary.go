package core

import (
	"bytes"
	"slices"
	"sync"

	"servopio/protocol"
	"servopio/tinycompress"
)

// Enumeration maps value names to their wire indices. Empty names are
// gaps and are left out of the dictionary.
type Enumeration struct {
	Name   string
	Values []string
}

// Dictionary is the JSON document the host fetches with identify. It
// describes every command and response id together with firmware
// constants and enumerations.
type Dictionary struct {
	mu            sync.RWMutex
	constants     map[string]string
	enumerations  map[string]*Enumeration
	commandReg    *CommandRegistry
	version       string
	buildVersions string
	cached        []byte
	compressed    []byte
}

var globalDictionary = NewDictionary(globalRegistry)

func NewDictionary(reg *CommandRegistry) *Dictionary {
	return &Dictionary{
		constants:     make(map[string]string),
		enumerations:  make(map[string]*Enumeration),
		commandReg:    reg,
		version:       protocol.Version,
		buildVersions: "go-tinygo",
	}
}

func GetGlobalDictionary() *Dictionary {
	return globalDictionary
}

func RegisterConstant(name string, value interface{}) {
	globalDictionary.AddConstant(name, value)
}

func RegisterEnumeration(name string, values []string) {
	globalDictionary.AddEnumeration(name, values)
}

func (d *Dictionary) AddConstant(name string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constants[name] = valueToString(value)
	d.invalidate()
}

func (d *Dictionary) AddEnumeration(name string, values []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enumerations[name] = &Enumeration{Name: name, Values: slices.Clone(values)}
	d.invalidate()
}

func (d *Dictionary) SetVersion(version string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version = version
	d.invalidate()
}

func (d *Dictionary) SetBuildVersions(versions string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buildVersions = versions
	d.invalidate()
}

// invalidate drops the cached renderings; d.mu must be held.
func (d *Dictionary) invalidate() {
	d.cached = nil
	d.compressed = nil
}

// BuildDictionary renders and caches the document. Call it once all
// commands, constants and enumerations are registered; later registrations
// invalidate the cache.
func (d *Dictionary) BuildDictionary() {
	// Snapshot before taking d.mu so the two locks are never nested.
	cmds := d.commandReg.Snapshot()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.cached = d.render(cmds)

	var buf bytes.Buffer
	w := tinycompress.NewWriter(&buf, len(d.cached))
	w.Write(d.cached)
	w.Close()
	d.compressed = buf.Bytes()
	DebugPrintln("[dict] built " + itoa(len(d.cached)) + " bytes, " + itoa(len(d.compressed)) + " as zlib, " + itoa(len(cmds)) + " messages")
}

// Compressed returns the zlib stream served to identify.
func (d *Dictionary) Compressed() []byte {
	d.mu.RLock()
	compressed := d.compressed
	d.mu.RUnlock()
	if compressed != nil {
		return compressed
	}
	d.BuildDictionary()
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.compressed
}

// Generate returns the cached JSON document, rendering it if needed.
func (d *Dictionary) Generate() []byte {
	d.mu.RLock()
	cached := d.cached
	d.mu.RUnlock()
	if cached != nil {
		return cached
	}
	d.BuildDictionary()
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// GetChunk returns a copy of up to count bytes of the compressed document
// starting at offset. An
// offset at or past the end yields an empty chunk, which tells the host the
// transfer is complete.
func (d *Dictionary) GetChunk(offset uint32, count uint8) []byte {
	data := d.Compressed()
	if offset >= uint32(len(data)) {
		return []byte{}
	}
	end := min(offset+uint32(count), uint32(len(data)))
	return slices.Clone(data[offset:end])
}

func (d *Dictionary) render(cmds []Command) []byte {
	out := make([]byte, 0, 2048)
	out = append(out, `{"version":`...)
	out = appendJSONString(out, d.version)
	out = append(out, `,"build_versions":`...)
	out = appendJSONString(out, d.buildVersions)

	out = append(out, `,"config":{`...)
	for i, name := range sortedKeys(d.constants) {
		if i > 0 {
			out = append(out, ',')
		}
		out = appendJSONString(out, name)
		out = append(out, ':')
		out = appendJSONString(out, d.constants[name])
	}

	out = append(out, `},"commands":`...)
	out = appendMessages(out, cmds, false)
	out = append(out, `,"responses":`...)
	out = appendMessages(out, cmds, true)

	if len(d.enumerations) > 0 {
		out = append(out, `,"enumerations":{`...)
		for i, name := range sortedKeys(d.enumerations) {
			if i > 0 {
				out = append(out, ',')
			}
			out = appendJSONString(out, name)
			out = append(out, ":{"...)
			first := true
			for idx, v := range d.enumerations[name].Values {
				if v == "" {
					continue
				}
				if !first {
					out = append(out, ',')
				}
				first = false
				out = appendJSONString(out, v)
				out = append(out, ':')
				out = append(out, itoa(idx)...)
			}
			out = append(out, '}')
		}
		out = append(out, '}')
	}
	return append(out, '}')
}

func appendMessages(out []byte, cmds []Command, responses bool) []byte {
	out = append(out, '{')
	first := true
	for i := range cmds {
		c := &cmds[i]
		if c.IsResponse() != responses {
			continue
		}
		if !first {
			out = append(out, ',')
		}
		first = false
		out = appendJSONString(out, c.Signature())
		out = append(out, ':')
		out = append(out, itoa(int(c.ID))...)
	}
	return append(out, '}')
}

// appendJSONString quotes s. Dictionary strings are ASCII identifiers and
// format strings, so only quotes, backslashes and control bytes need care.
func appendJSONString(out []byte, s string) []byte {
	const hex = "0123456789abcdef"
	out = append(out, '"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '"' || c == '\\':
			out = append(out, '\\', c)
		case c < 0x20:
			out = append(out, '\\', 'u', '0', '0', hex[c>>4], hex[c&0xF])
		default:
			out = append(out, c)
		}
	}
	return append(out, '"')
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
