package runner

import (
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
)

func TestWrapText(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		want  []string
	}{
		{"fits", "hello", 10, []string{"hello"}},
		{"splits", "abcdefgh", 3, []string{"abc", "def", "gh"}},
		{"wide runes", "日本語", 4, []string{"日本", "語"}},
		{"empty", "", 5, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, wrapText(tt.text, tt.width))
		})
	}
}

func TestBanner_Width(t *testing.T) {
	out := banner([]string{"leadscope", "a message long enough to wrap onto a second line"}, 30)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	assert.Greater(t, len(lines), 3)
	for _, l := range lines {
		assert.Equal(t, 30, runewidth.StringWidth(l), l)
	}
}
