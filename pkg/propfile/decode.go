package propfile

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"
)

// Setter receives decoded properties. *properties.Store and
// *properties.Sorted satisfy it.
type Setter interface {
	Set(key, value string)
}

// SyntaxError reports a malformed logical line.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// Decode reads properties from r and stores every key/value pair in s.
// Later duplicates of a key overwrite earlier ones.
func Decode(r io.Reader, s Setter) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read properties: %w", err)
	}
	return Unmarshal(data, s)
}

// Unmarshal parses data and stores every key/value pair in s.
func Unmarshal(data []byte, s Setter) error {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	data = bytes.ReplaceAll(data, []byte("\r"), []byte("\n"))
	lines := strings.Split(string(data), "\n")

	for i := 0; i < len(lines); i++ {
		start := i + 1
		line := trimLeadingSpace(lines[i])
		if line == "" || line[0] == '#' || line[0] == '!' {
			continue
		}
		// Join continuation lines.
		for continues(line) && i+1 < len(lines) {
			i++
			line = line[:len(line)-1] + trimLeadingSpace(lines[i])
		}
		if continues(line) {
			line = line[:len(line)-1]
		}

		rawKey, rawValue := splitKeyValue(line)
		key, err := unescape(rawKey)
		if err != nil {
			return &SyntaxError{Line: start, Msg: err.Error()}
		}
		value, err := unescape(rawValue)
		if err != nil {
			return &SyntaxError{Line: start, Msg: err.Error()}
		}
		s.Set(key, value)
	}
	return nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\f'
}

func trimLeadingSpace(s string) string {
	i := 0
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	return s[i:]
}

// continues reports whether line ends in an odd number of backslashes.
func continues(line string) bool {
	n := 0
	for i := len(line) - 1; i >= 0 && line[i] == '\\'; i-- {
		n++
	}
	return n%2 == 1
}

// splitKeyValue splits a logical line at the first unescaped '=', ':' or
// whitespace. Whitespace around the separator is dropped.
func splitKeyValue(line string) (string, string) {
	keyLen := 0
	valueStart := len(line)
	hasSep := false
	escaped := false
	for keyLen < len(line) {
		c := line[keyLen]
		if !escaped && (c == '=' || c == ':') {
			valueStart = keyLen + 1
			hasSep = true
			break
		}
		if !escaped && isSpace(c) {
			valueStart = keyLen + 1
			break
		}
		if c == '\\' {
			escaped = !escaped
		} else {
			escaped = false
		}
		keyLen++
	}
	for valueStart < len(line) {
		c := line[valueStart]
		if !isSpace(c) {
			if hasSep || (c != '=' && c != ':') {
				break
			}
			hasSep = true
		}
		valueStart++
	}
	return line[:keyLen], line[valueStart:]
}

// unescape resolves backslash escapes. Unknown escapes stand for the
// escaped character itself.
func unescape(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i == len(s) {
			break
		}
		switch c = s[i]; c {
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 'f':
			b.WriteByte('\f')
		case 'u':
			r, next, err := unescapeUnicode(s, i+1)
			if err != nil {
				return "", err
			}
			b.WriteRune(r)
			i = next - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

// unescapeUnicode decodes the four hex digits at s[i:], joining a UTF-16
// surrogate pair when a second \u escape follows. It returns the rune and
// the index just past the consumed input.
func unescapeUnicode(s string, i int) (rune, int, error) {
	unit, err := hex4(s, i)
	if err != nil {
		return 0, 0, err
	}
	r := rune(unit)
	next := i + 4
	if utf16.IsSurrogate(r) && strings.HasPrefix(s[next:], `\u`) {
		if low, err := hex4(s, next+2); err == nil {
			if pair := utf16.DecodeRune(r, rune(low)); pair != unicode.ReplacementChar {
				return pair, next + 6, nil
			}
		}
	}
	return r, next, nil
}

func hex4(s string, i int) (uint16, error) {
	if i+4 > len(s) {
		return 0, fmt.Errorf(`malformed \uxxxx encoding`)
	}
	v, err := strconv.ParseUint(s[i:i+4], 16, 16)
	if err != nil {
		return 0, fmt.Errorf(`malformed \uxxxx encoding %q`, s[i:i+4])
	}
	return uint16(v), nil
}
