package core

// streaming.go provides reader wrappers applied to every tabular payload
// (registry extract, pcode dataset) before CSV parsing:
//
//   - NewBOMSkippingReader: drops a leading UTF-8 BOM (0xEF 0xBB 0xBF)
//   - NewUTF8SanitizingReader: replaces invalid UTF-8 bytes with '?'
//   - CountingReader: tracks bytes read for download logging
//
// Use WrapForParsing to apply BOM skipping and sanitization in the right order.

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// NewBOMSkippingReader returns a reader that omits a leading UTF-8 BOM.
func NewBOMSkippingReader(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}

// utf8SanitizingReader replaces invalid UTF-8 sequences with '?'.
// Incomplete multi-byte sequences at a read boundary are carried into the next read.
type utf8SanitizingReader struct {
	r       io.Reader
	pending []byte
	out     []byte
	err     error
}

// NewUTF8SanitizingReader wraps r so that the stream it yields is valid UTF-8.
func NewUTF8SanitizingReader(r io.Reader) io.Reader {
	return &utf8SanitizingReader{r: r}
}

func (s *utf8SanitizingReader) Read(p []byte) (int, error) {
	for len(s.out) == 0 {
		if s.err != nil {
			if len(s.pending) > 0 {
				s.out = sanitize(nil, s.pending)
				s.pending = nil
				continue
			}
			return 0, s.err
		}

		buf := make([]byte, 32*1024)
		n, err := s.r.Read(buf)
		s.err = err
		data := append(s.pending, buf[:n]...)
		s.pending = nil

		keep := incompleteTail(data)
		if s.err == nil && keep > 0 {
			s.pending = append([]byte(nil), data[len(data)-keep:]...)
			data = data[:len(data)-keep]
		}
		s.out = sanitize(s.out[:0], data)
	}

	n := copy(p, s.out)
	s.out = s.out[n:]
	return n, nil
}

// sanitize appends data to dst with every invalid byte replaced by '?'.
func sanitize(dst, data []byte) []byte {
	if utf8.Valid(data) {
		return append(dst, data...)
	}
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			dst = append(dst, '?')
		} else {
			dst = append(dst, data[:size]...)
		}
		data = data[size:]
	}
	return dst
}

// incompleteTail returns how many trailing bytes start a multi-byte rune that
// has not been fully read yet.
func incompleteTail(data []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(data); i++ {
		b := data[len(data)-i]
		if b&0xC0 == 0x80 {
			continue // continuation byte
		}
		if b >= 0xC0 && !utf8.FullRune(data[len(data)-i:]) {
			return i
		}
		return 0
	}
	return 0
}

// CountingReader tracks the number of bytes read through it.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
}

// NewCountingReader wraps r.
func NewCountingReader(r io.Reader) *CountingReader {
	return &CountingReader{reader: r}
}

// Read implements io.Reader.
func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.reader.Read(p)
	c.BytesRead += int64(n)
	return n, err
}

// WrapForParsing strips a BOM and sanitizes UTF-8, in that order.
func WrapForParsing(r io.Reader) io.Reader {
	return NewUTF8SanitizingReader(NewBOMSkippingReader(r))
}

// newCSVReader returns a lenient CSV reader over a sanitized stream.
func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(WrapForParsing(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false
	return cr
}
