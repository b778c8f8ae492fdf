// Package cat recognizes frequency reports in a Kenwood-style CAT byte stream.
// Everything else in the stream is opaque and passes through untouched.
package cat

import (
	"bytes"

	"github.com/dougsko/steppird/pkg/protocol"
)

const (
	// FrequencyTag starts a VFO A frequency report
	FrequencyTag = "FA"
	// FrequencyDigits is the fixed width of the report payload
	FrequencyDigits = 11
	// Terminator ends every CAT frame
	Terminator = ';'

	reportLen = len(FrequencyTag) + FrequencyDigits
)

// QueryFrequency asks the radio to report its VFO A frequency
var QueryFrequency = []byte("FA;")

// ParseFrequencyReport parses frame as a frequency report. It reports false for
// anything that does not start with FA followed by at least 11 ASCII digits.
func ParseFrequencyReport(frame []byte) (protocol.Frequency, bool) {
	if len(frame) < reportLen || !bytes.HasPrefix(frame, []byte(FrequencyTag)) {
		return 0, false
	}

	var hz uint64
	for _, b := range frame[len(FrequencyTag):reportLen] {
		if b < '0' || b > '9' {
			return 0, false
		}
		hz = hz*10 + uint64(b-'0')
	}
	return protocol.Frequency(hz), true
}

// Scanner finds frequency reports across successive chunks of a stream.
// A report split between two reads is carried over and completed by the next chunk.
// Not safe for concurrent use.
type Scanner struct {
	carry []byte
}

// Scan returns the frequency reports in chunk, in stream order
func (s *Scanner) Scan(chunk []byte) []protocol.Frequency {
	data := chunk
	if len(s.carry) > 0 {
		data = append(s.carry, chunk...)
		s.carry = nil
	}

	var reports []protocol.Frequency
	for len(data) > 0 {
		end := bytes.IndexByte(data, Terminator)
		if end < 0 {
			// Unterminated tail
			if freq, ok := ParseFrequencyReport(data); ok {
				reports = append(reports, freq)
			} else if partialReport(data) {
				s.carry = append([]byte(nil), data...)
			}
			break
		}

		if freq, ok := ParseFrequencyReport(data[:end]); ok {
			reports = append(reports, freq)
		}
		data = data[end+1:]
	}
	return reports
}

// Reset drops any partially received report
func (s *Scanner) Reset() {
	s.carry = nil
}

// partialReport reports whether tail could still grow into a frequency report
func partialReport(tail []byte) bool {
	if len(tail) >= reportLen {
		return false
	}
	for i, b := range tail {
		switch {
		case i < len(FrequencyTag):
			if b != FrequencyTag[i] {
				return false
			}
		case b < '0' || b > '9':
			return false
		}
	}
	return true
}
