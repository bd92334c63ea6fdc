// Package runner wires the configured components into the manager and
// worker processes.
package runner

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/sadewadee/leadscope/internal/config"
	"github.com/sadewadee/leadscope/tlmt"
	"github.com/sadewadee/leadscope/tlmt/gonoop"
	"github.com/sadewadee/leadscope/tlmt/goposthog"
)

type Runner interface {
	Run(context.Context) error
	Close(context.Context) error
}

var (
	telemetryOnce sync.Once
	telemetry     tlmt.Telemetry
)

// Telemetry returns the process-wide telemetry client. The first call's
// config wins. A disabled or keyless config yields a noop client.
func Telemetry(cfg config.TelemetryConfig) tlmt.Telemetry {
	telemetryOnce.Do(func() {
		if cfg.Disabled || cfg.Key == "" {
			telemetry = gonoop.New()

			return
		}

		val, err := goposthog.New(cfg.Key, cfg.Endpoint)
		if err != nil || val == nil {
			zap.L().Debug("telemetry disabled", zap.Error(err))
			telemetry = gonoop.New()

			return
		}

		telemetry = val
	})

	return telemetry
}

func wrapText(text string, width int) []string {
	var lines []string

	currentLine := ""
	currentWidth := 0

	for _, r := range text {
		runeWidth := runewidth.RuneWidth(r)
		if currentWidth+runeWidth > width {
			lines = append(lines, currentLine)
			currentLine = string(r)
			currentWidth = runeWidth
		} else {
			currentLine += string(r)
			currentWidth += runeWidth
		}
	}

	if currentLine != "" {
		lines = append(lines, currentLine)
	}

	return lines
}

func banner(messages []string, width int) string {
	if width <= 0 {
		var err error

		width, _, err = term.GetSize(int(os.Stderr.Fd()))
		if err != nil {
			width = 80
		}
	}

	if width < 20 {
		width = 20
	}

	contentWidth := width - 4

	var wrappedLines []string
	for _, message := range messages {
		wrappedLines = append(wrappedLines, wrapText(message, contentWidth)...)
	}

	var builder strings.Builder

	builder.WriteString("╔" + strings.Repeat("═", width-2) + "╗\n")

	for _, line := range wrappedLines {
		paddingRight := max(contentWidth-runewidth.StringWidth(line), 0)
		builder.WriteString(fmt.Sprintf("║ %s%s ║\n", line, strings.Repeat(" ", paddingRight)))
	}

	builder.WriteString("╚" + strings.Repeat("═", width-2) + "╝\n")

	return builder.String()
}

// Banner prints the startup banner to stderr when it is a terminal
func Banner(mode string) {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return
	}

	fmt.Fprintln(os.Stderr, banner([]string{
		"🗺️  leadscope - geo-zone lead coverage",
		fmt.Sprintf("mode: %s", mode),
		VersionString(),
	}, 0))
}
