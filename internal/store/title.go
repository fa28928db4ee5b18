package store

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

const (
	// MaxTitleWidth is the display width limit of generated titles.
	MaxTitleWidth = 60

	// TitleEllipsis marks a truncated title. It counts toward MaxTitleWidth.
	TitleEllipsis = "…"
)

// A fixed condition keeps widths independent of the process locale.
var titleWidth = &runewidth.Condition{EastAsianWidth: false}

// MakeTitle derives a conversation title from the first user message:
// whitespace runs collapse to single spaces, the result is trimmed and, when
// wider than MaxTitleWidth, cut to fit with TitleEllipsis appended.
func MakeTitle(text string) string {
	flat := strings.Join(strings.Fields(text), " ")
	return titleWidth.Truncate(flat, MaxTitleWidth, TitleEllipsis)
}

// TitleWidth reports the display width used for title limits.
func TitleWidth(title string) int {
	return titleWidth.StringWidth(title)
}
