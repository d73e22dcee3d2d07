package httpconn

import "errors"

// ErrBufferOverflow is returned when more bytes are committed than the buffer can hold.
var ErrBufferOverflow = errors.New("httpconn: read buffer overflow")

// LineStatus is the outcome of scanning for one line.
type LineStatus int

const (
	// LineOK means a full line was found and consumed.
	LineOK LineStatus = iota
	// LineBad means the terminator is malformed.
	LineBad
	// LineOpen means no terminator has arrived yet.
	LineOpen
)

// Buffer is a fixed-capacity read buffer.
//
// Bytes [0, start) belong to requests already parsed, [start, checked) is the
// part of the current line that has been scanned and [checked, n) is unscanned.
// Both cursors only move forward until Discard compacts the buffer between requests.
type Buffer struct {
	buf     []byte
	n       int
	checked int
	start   int
}

// NewBuffer allocates a buffer holding at most capacity bytes.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{buf: make([]byte, capacity)}
}

// Free returns the writable tail, a reader fills it and then calls Commit.
func (b *Buffer) Free() []byte {
	return b.buf[b.n:]
}

// Commit marks k bytes of Free as valid.
func (b *Buffer) Commit(k int) error {
	if k < 0 || b.n+k > len(b.buf) {
		return ErrBufferOverflow
	}
	b.n += k
	return nil
}

// Write copies as much of p as fits and returns the count copied.
func (b *Buffer) Write(p []byte) int {
	k := copy(b.buf[b.n:], p)
	b.n += k
	return k
}

// Full reports whether no byte can be appended.
func (b *Buffer) Full() bool { return b.n == len(b.buf) }

// Len is the number of valid bytes.
func (b *Buffer) Len() int { return b.n }

// Cap is the fixed capacity.
func (b *Buffer) Cap() int { return len(b.buf) }

// Checked is the scan cursor.
func (b *Buffer) Checked() int { return b.checked }

// Start is the offset of the line or body being parsed.
func (b *Buffer) Start() int { return b.start }

// Pending returns the unconsumed bytes.
func (b *Buffer) Pending() []byte { return b.buf[b.start:b.n] }

// Consume marks k pending bytes as parsed.
func (b *Buffer) Consume(k int) {
	if k > b.n-b.start {
		k = b.n - b.start
	}
	b.start += k
	if b.checked < b.start {
		b.checked = b.start
	}
}

// ScanLine looks for the end of the current line starting at the scan cursor.
// On LineOK the line is returned without its terminator and both cursors move past it.
// A CR at the very end of the valid bytes is left unscanned so that the next read can complete it.
func (b *Buffer) ScanLine(bareLF bool) (LineStatus, []byte) {
	for ; b.checked < b.n; b.checked++ {
		switch b.buf[b.checked] {
		case '\r':
			if b.checked+1 == b.n {
				return LineOpen, nil
			}
			if b.buf[b.checked+1] != '\n' {
				return LineBad, nil
			}
			line := b.buf[b.start:b.checked]
			b.checked += 2
			b.start = b.checked
			return LineOK, line
		case '\n':
			if !bareLF {
				return LineBad, nil
			}
			line := b.buf[b.start:b.checked]
			b.checked++
			b.start = b.checked
			return LineOK, line
		}
	}
	return LineOpen, nil
}

// Discard drops consumed bytes and moves the pending ones to the front.
func (b *Buffer) Discard() {
	if b.start == 0 {
		return
	}
	b.n = copy(b.buf, b.buf[b.start:b.n])
	b.checked -= b.start
	b.start = 0
}

// Reset empties the buffer.
func (b *Buffer) Reset() {
	b.n, b.checked, b.start = 0, 0, 0
}
