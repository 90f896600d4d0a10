// Package mbox streams messages out of mboxo/mboxrd files. Each message is
// introduced by a "From " separator line; body lines quoted as ">From " are
// unquoted by one level on read.
package mbox

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// DefaultMaxMessageBytes bounds a single message.
const DefaultMaxMessageBytes = 64 << 20

// ErrMessageTooLarge is returned by Next for a message over the size limit.
// The reader stays usable and continues with the following message.
var ErrMessageTooLarge = errors.New("mbox message exceeds max size")

// Message is one message of an mbox stream.
type Message struct {
	// Index is the zero-based position of the message in the stream.
	Index int
	// Separator is the "From " line, without line ending.
	Separator string
	// Raw holds the RFC 5322 bytes of the message.
	Raw []byte
}

// Received returns the date on the separator line, if it has one.
func (m *Message) Received() (time.Time, bool) {
	return SeparatorDate(m.Separator)
}

// Reader reads messages one at a time.
type Reader struct {
	sc       *bufio.Scanner
	pending  string
	havePend bool
	done     bool
	index    int
	maxBytes int
}

// NewReader returns a Reader over r with DefaultMaxMessageBytes.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), DefaultMaxMessageBytes)
	sc.Split(scanLinesKeepEOL)
	return &Reader{sc: sc, maxBytes: DefaultMaxMessageBytes}
}

// WithMaxMessageBytes sets the per-message size limit.
func (r *Reader) WithMaxMessageBytes(n int) *Reader {
	if n > 0 {
		r.maxBytes = n
	}
	return r
}

// Next returns the next message, or io.EOF.
func (r *Reader) Next() (*Message, error) {
	if !r.havePend {
		if err := r.seekSeparator(); err != nil {
			return nil, err
		}
	}
	msg := &Message{Index: r.index, Separator: r.pending}
	r.index++
	r.havePend = false

	var buf bytes.Buffer
	tooLarge := false
	for r.sc.Scan() {
		line := r.sc.Bytes()
		if isSeparator(line) {
			r.pending = trimEOL(line)
			r.havePend = true
			break
		}
		if tooLarge {
			continue
		}
		line = unquoteFrom(line)
		if buf.Len()+len(line) > r.maxBytes {
			tooLarge = true
			buf.Reset()
			continue
		}
		buf.Write(line)
	}
	if err := r.sc.Err(); err != nil {
		return nil, fmt.Errorf("read mbox: %w", err)
	}
	if !r.havePend {
		r.done = true
	}
	if tooLarge {
		return nil, fmt.Errorf("message %d: %w (limit %d bytes)", msg.Index, ErrMessageTooLarge, r.maxBytes)
	}
	msg.Raw = buf.Bytes()
	return msg, nil
}

func (r *Reader) seekSeparator() error {
	if r.done {
		return io.EOF
	}
	for r.sc.Scan() {
		if line := r.sc.Bytes(); isSeparator(line) {
			r.pending = trimEOL(line)
			r.havePend = true
			return nil
		}
	}
	if err := r.sc.Err(); err != nil {
		return fmt.Errorf("read mbox: %w", err)
	}
	r.done = true
	return io.EOF
}

// Validate reports an error unless the first maxBytes of r contain a
// "From " separator line.
func Validate(r io.Reader, maxBytes int64) error {
	sc := bufio.NewScanner(io.LimitReader(r, maxBytes))
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		if isSeparator(sc.Bytes()) {
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return errors.New(`no "From " separators found (not an mbox file?)`)
}

func scanLinesKeepEOL(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i+1], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func trimEOL(line []byte) string {
	return string(bytes.TrimRight(line, "\r\n"))
}

func isSeparator(line []byte) bool {
	if !bytes.HasPrefix(line, []byte("From ")) {
		return false
	}
	_, ok := SeparatorDate(trimEOL(line))
	return ok
}

// unquoteFrom removes one '>' from lines matching ^>+From .
func unquoteFrom(line []byte) []byte {
	i := 0
	for i < len(line) && line[i] == '>' {
		i++
	}
	if i > 0 && bytes.HasPrefix(line[i:], []byte("From ")) {
		return line[1:]
	}
	return line
}

var separatorLayouts = []string{
	"Mon Jan 2 15:04:05 2006",
	"Mon Jan 2 15:04:05 -0700 2006",
	"Mon Jan 2 15:04:05 MST 2006",
	"Mon Jan 2 15:04:05 2006 -0700",
	"Mon Jan 2 15:04 2006",
	"Jan 2 15:04:05 2006",
}

// SeparatorDate parses the ctime-style date of a "From <sender> <date>"
// line. Trailing tokens after the date are ignored.
func SeparatorDate(line string) (time.Time, bool) {
	fields := strings.Fields(line)
	if len(fields) < 6 || fields[0] != "From" {
		return time.Time{}, false
	}
	for _, layout := range separatorLayouts {
		n := len(strings.Fields(layout))
		if len(fields) < 2+n {
			continue
		}
		if t, err := time.Parse(layout, strings.Join(fields[2:2+n], " ")); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
