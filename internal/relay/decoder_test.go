package relay

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineDecoder(t *testing.T) {
	tests := []struct {
		name   string
		writes []string
		want   []string
		tail   []string
	}{
		{"lf", []string{"a\nb\n"}, []string{"a", "b"}, nil},
		{"crlf", []string{"a\r\nb\r\n"}, []string{"a", "b"}, nil},
		{"cr", []string{"a\rb\r"}, []string{"a", "b"}, nil},
		{"split crlf", []string{"a\r", "\nb\n"}, []string{"a", "b"}, nil},
		{"split line", []string{"da", "ta: x", "\n"}, []string{"data: x"}, nil},
		{"blank lines dropped", []string{"\n\n  \n a \n"}, []string{"a"}, nil},
		{"unterminated tail", []string{"a\nb"}, []string{"a"}, []string{"b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d lineDecoder
			var got []string
			for _, w := range tt.writes {
				got = append(got, d.Write([]byte(w))...)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.tail, d.Flush())
		})
	}
}

func TestLineDecoder_ByteAtATime(t *testing.T) {
	line := "data: " + strings.Repeat("y", 64*1024)

	var d lineDecoder
	for i := 0; i < len(line); i++ {
		assert.Empty(t, d.Write([]byte{line[i]}))
		// Only the byte just written is examined on the next call.
		assert.Equal(t, len(d.buf), d.scanned)
	}

	assert.Equal(t, []string{line}, d.Write([]byte("\r\nnext")))
	assert.Equal(t, 4, d.scanned)
	assert.Equal(t, []string{"next"}, d.Flush())
	assert.Zero(t, d.scanned)
}

func TestDataPayload(t *testing.T) {
	p, ok := dataPayload("data: [DONE]")
	assert.True(t, ok)
	assert.Equal(t, "[DONE]", p)

	p, ok = dataPayload("data:{}")
	assert.True(t, ok)
	assert.Equal(t, "{}", p)

	_, ok = dataPayload(": keep-alive")
	assert.False(t, ok)
	_, ok = dataPayload("event: message")
	assert.False(t, ok)
}
