// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/buke/reqscript"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	passStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))            // Green
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))             // Red
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))            // Yellow
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))             // Gray
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")) // Blue
)

// printer writes command output, styled only when w is a color terminal.
type printer struct {
	w     io.Writer
	color bool
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, color: colorEnabled(w)}
}

// colorEnabled follows NO_COLOR and TERM=dumb, and only colors terminals.
func colorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *printer) style(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *printer) title(text string) {
	fmt.Fprintln(p.w, p.style(titleStyle, text))
}

// console prints one console line prefixed with its level.
func (p *printer) console(line reqscript.ConsoleLine) {
	prefix := p.style(dimStyle, "["+line.Level+"]")
	switch line.Level {
	case "warn":
		prefix = p.style(warnStyle, "[warn]")
	case "error":
		prefix = p.style(failStyle, "[error]")
	}
	fmt.Fprintf(p.w, "%s %s\n", prefix, line.Text)
}

// result prints the tests and a summary line.
func (p *printer) result(kind reqscript.ScriptKind, r *reqscript.ExecutionResult) {
	for _, t := range r.Tests {
		if t.Passed {
			fmt.Fprintf(p.w, "  %s %s\n", p.style(passStyle, "✓"), t.Name)
			continue
		}
		fmt.Fprintf(p.w, "  %s %s\n", p.style(failStyle, "✗"), t.Name)
		if t.Message != "" {
			fmt.Fprintf(p.w, "      %s\n", p.style(dimStyle, t.Message))
		}
	}

	summary := fmt.Sprintf("%s script: %d passed, %d failed (%s)",
		kind, r.Passed(), r.Failed(), r.Duration.Round(time.Millisecond))
	if r.Success {
		fmt.Fprintln(p.w, p.style(passStyle, summary))
		return
	}
	fmt.Fprintln(p.w, p.style(failStyle, summary))
	if r.Fault != nil {
		fmt.Fprintf(p.w, "%s %s\n", p.style(failStyle, "error:"), indent(r.Error))
	}
}

func indent(s string) string {
	return strings.ReplaceAll(s, "\n", "\n  ")
}
