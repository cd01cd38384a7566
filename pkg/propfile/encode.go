// Package propfile reads and writes the line-oriented .properties format.
//
// Marshal writes entries in the order its source reports them, so a
// *properties.Sorted source always encodes the same properties to the
// same bytes.
package propfile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/abtreece/propsort/pkg/properties"
)

// TimestampLayout is the layout of the optional timestamp comment line.
const TimestampLayout = "Mon Jan 02 15:04:05 MST 2006"

// ErrInvalidUTF8 is returned when unicode escaping is enabled and a key
// or value is not valid UTF-8. Without escaping, such bytes are written
// unchanged and decode back to the same bytes.
var ErrInvalidUTF8 = errors.New("invalid UTF-8 cannot be written as unicode escapes")

// EntrySource is anything that reports properties in the order they
// should be written, such as *properties.Sorted.
type EntrySource interface {
	Entries() []properties.Entry[string, string]
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithComment writes comment as a header. Each line of a multi-line
// comment becomes its own comment line.
func WithComment(comment string) Option {
	return func(e *Encoder) {
		e.comment = comment
	}
}

// WithTimestamp writes a comment line holding now() after the header
// comment. Output is no longer byte-stable across runs when enabled.
func WithTimestamp(now func() time.Time) Option {
	return func(e *Encoder) {
		e.now = now
	}
}

// WithEscapeUnicode escapes every rune outside printable ASCII as \uXXXX.
func WithEscapeUnicode(escape bool) Option {
	return func(e *Encoder) {
		e.escapeUnicode = escape
	}
}

// Encoder writes properties to an output stream.
type Encoder struct {
	w             *bufio.Writer
	comment       string
	now           func() time.Time
	escapeUnicode bool
}

// NewEncoder returns an Encoder that writes to w.
func NewEncoder(w io.Writer, opts ...Option) *Encoder {
	e := &Encoder{w: bufio.NewWriter(w)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Encode writes the header and then one key=value line per entry, in the
// order given.
func (e *Encoder) Encode(entries []properties.Entry[string, string]) error {
	if e.comment != "" {
		e.writeComment(e.comment)
	}
	if e.now != nil {
		e.writeComment(e.now().Format(TimestampLayout))
	}
	for _, entry := range entries {
		key, err := escape(entry.Key, true, e.escapeUnicode)
		if err != nil {
			return fmt.Errorf("key %q: %w", entry.Key, err)
		}
		value, err := escape(entry.Value, false, e.escapeUnicode)
		if err != nil {
			return fmt.Errorf("value of %q: %w", entry.Key, err)
		}
		e.w.WriteString(key)
		e.w.WriteByte('=')
		e.w.WriteString(value)
		e.w.WriteByte('\n')
	}
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("failed to write properties: %w", err)
	}
	return nil
}

func (e *Encoder) writeComment(comment string) {
	comment = strings.ReplaceAll(comment, "\r\n", "\n")
	comment = strings.ReplaceAll(comment, "\r", "\n")
	for _, line := range strings.Split(comment, "\n") {
		if !strings.HasPrefix(line, "#") && !strings.HasPrefix(line, "!") {
			e.w.WriteByte('#')
		}
		if e.escapeUnicode {
			line = escapeRunes(line)
		}
		e.w.WriteString(line)
		e.w.WriteByte('\n')
	}
}

// Marshal encodes the entries of src to a byte slice.
func Marshal(src EntrySource, opts ...Option) ([]byte, error) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf, opts...).Encode(src.Entries()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// escape converts s to its on-disk form. Keys escape every space, values
// only a leading one. Bytes that are not valid UTF-8 are copied as is.
func escape(s string, isKey, escapeUnicode bool) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			if escapeUnicode {
				return "", ErrInvalidUTF8
			}
			b.WriteByte(s[i])
			i++
			continue
		}
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case ' ':
			if i == 0 || isKey {
				b.WriteByte('\\')
			}
			b.WriteByte(' ')
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\f':
			b.WriteString(`\f`)
		case '=', ':', '#', '!':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			if escapeUnicode && (r < 0x20 || r > 0x7e) {
				writeUnicodeEscape(&b, r)
			} else {
				b.WriteString(s[i : i+size])
			}
		}
		i += size
	}
	return b.String(), nil
}

// escapeRunes escapes only runes outside printable ASCII. Used for
// comments, which keep their other characters verbatim.
func escapeRunes(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 0x20 || r > 0x7e {
			writeUnicodeEscape(&b, r)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func writeUnicodeEscape(b *strings.Builder, r rune) {
	if r1, r2 := utf16.EncodeRune(r); r1 != unicode.ReplacementChar {
		fmt.Fprintf(b, `\u%04X\u%04X`, r1, r2)
		return
	}
	fmt.Fprintf(b, `\u%04X`, r)
}
