package gcode

import "errors"

var (
	ErrChecksum = errors.New("checksum mismatch")
	ErrSyntax   = errors.New("malformed line")
)

// Command is one parsed G-code line
type Command struct {
	Type       byte             // 'G' or 'M'
	Number     int              // 280 for M280
	Line       int              // N word, -1 when absent
	Parameters map[byte]float64 // P, S, D ...
	Comment    string
}

// HasParameter checks if a parameter exists in the command
func (cmd *Command) HasParameter(param byte) bool {
	_, ok := cmd.Parameters[param]
	return ok
}

// GetParameter gets a parameter value, or returns the default if not present
func (cmd *Command) GetParameter(param byte, defaultValue float64) float64 {
	if val, ok := cmd.Parameters[param]; ok {
		return val
	}
	return defaultValue
}

// Uint returns a parameter truncated to a non-negative integer.
func (cmd *Command) Uint(param byte, defaultValue uint32) uint32 {
	v, ok := cmd.Parameters[param]
	if !ok {
		return defaultValue
	}
	if v <= 0 {
		return 0
	}
	if v >= 4294967295 {
		return 4294967295
	}
	return uint32(v)
}

// Parser handles G-code parsing
type Parser struct{}

// NewParser creates a new G-code parser
func NewParser() *Parser {
	return &Parser{}
}

// ParseLine parses a single line. Blank lines yield nil. A trailing
// "*nn" checksum is verified against the XOR of the bytes before it.
func (p *Parser) ParseLine(line string) (*Command, error) {
	line, err := stripChecksum(line)
	if err != nil {
		return nil, err
	}

	i := skipSpace(line, 0)
	if i >= len(line) {
		return nil, nil
	}

	cmd := &Command{
		Line:       -1,
		Parameters: make(map[byte]float64),
	}

	if line[i] == ';' || line[i] == '(' {
		cmd.Comment = line[i:]
		return cmd, nil
	}

	if toUpper(line[i]) == 'N' {
		n, next := parseInt(line, i+1)
		if next <= i+1 {
			return nil, ErrSyntax
		}
		cmd.Line = n
		i = skipSpace(line, next)
	}

	if i < len(line) && (toUpper(line[i]) == 'G' || toUpper(line[i]) == 'M') {
		cmd.Type = toUpper(line[i])
		num, next := parseInt(line, i+1)
		if next <= i+1 {
			return nil, ErrSyntax
		}
		cmd.Number = num
		i = next
	}

	for {
		i = skipSpace(line, i)
		if i >= len(line) {
			break
		}
		if line[i] == ';' || line[i] == '(' {
			cmd.Comment = line[i:]
			break
		}
		if !isLetter(line[i]) {
			return nil, ErrSyntax
		}
		letter := toUpper(line[i])
		i++
		value, next := parseFloat(line, i)
		if next > i {
			i = next
		}
		cmd.Parameters[letter] = value
	}

	return cmd, nil
}

func stripChecksum(line string) (string, error) {
	star := -1
	for i := 0; i < len(line); i++ {
		if line[i] == ';' {
			break
		}
		if line[i] == '*' {
			star = i
			break
		}
	}
	if star < 0 {
		return line, nil
	}
	want, next := parseInt(line, star+1)
	if next <= star+1 || skipSpace(line, next) != len(line) {
		return "", ErrSyntax
	}
	var sum byte
	for i := 0; i < star; i++ {
		sum ^= line[i]
	}
	if int(sum) != want {
		return "", ErrChecksum
	}
	return line[:star], nil
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return i
}

// parseInt parses an integer from the string starting at pos. The returned
// position equals pos when no digits were found.
func parseInt(s string, pos int) (int, int) {
	start := pos
	negative := false
	if pos < len(s) && (s[pos] == '-' || s[pos] == '+') {
		negative = s[pos] == '-'
		pos++
	}

	digits := pos
	value := 0
	for pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
		value = value*10 + int(s[pos]-'0')
		pos++
	}
	if pos == digits {
		return 0, start
	}

	if negative {
		value = -value
	}
	return value, pos
}

// parseFloat parses a decimal number from the string starting at pos
func parseFloat(s string, pos int) (float64, int) {
	start := pos
	negative := false
	if pos < len(s) && (s[pos] == '-' || s[pos] == '+') {
		negative = s[pos] == '-'
		pos++
	}

	digits := 0
	value := 0.0
	for pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
		value = value*10 + float64(s[pos]-'0')
		pos++
		digits++
	}

	if pos < len(s) && s[pos] == '.' {
		pos++
		scale := 0.1
		for pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
			value += float64(s[pos]-'0') * scale
			scale /= 10
			pos++
			digits++
		}
	}

	if digits == 0 {
		return 0, start
	}
	if negative {
		value = -value
	}
	return value, pos
}

func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
