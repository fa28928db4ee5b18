package relay

import (
	"strings"
)

const dataPrefix = "data:"

// lineDecoder splits an event stream into trimmed, non-blank lines. A line
// may end in \n, \r\n or \r, and may arrive split across any number of
// writes; the unterminated tail is held until the next write or Flush.
type lineDecoder struct {
	buf []byte
	// scanned counts the bytes of buf already known to hold no terminator.
	scanned int
}

// Write appends p and returns every line it completed.
func (d *lineDecoder) Write(p []byte) []string {
	d.buf = append(d.buf, p...)

	var lines []string
	start := 0
	for i := d.scanned; i < len(d.buf); i++ {
		if b := d.buf[i]; b != '\n' && b != '\r' {
			continue
		}
		if line := strings.TrimSpace(string(d.buf[start:i])); line != "" {
			lines = append(lines, line)
		}
		start = i + 1
	}

	if start > 0 {
		d.buf = append(d.buf[:0], d.buf[start:]...)
	}
	d.scanned = len(d.buf)
	return lines
}

// Flush returns the unterminated remainder, if any, and resets the decoder.
func (d *lineDecoder) Flush() []string {
	line := strings.TrimSpace(string(d.buf))
	d.buf = d.buf[:0]
	d.scanned = 0
	if line == "" {
		return nil
	}
	return []string{line}
}

// dataPayload returns the payload of a `data:` line.
func dataPayload(line string) (string, bool) {
	if !strings.HasPrefix(line, dataPrefix) {
		return "", false
	}
	return strings.TrimSpace(line[len(dataPrefix):]), true
}
