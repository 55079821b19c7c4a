// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders mulehunter CLI results for people and for scripts.
//
// Three formats are supported: styled text (lipgloss colors and boxes),
// plain "key: value" lines, and indented JSON. FormatAuto picks styled text
// when the destination is a terminal and plain text otherwise.
package ux

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Format selects how a Printer renders.
type Format string

const (
	FormatAuto  Format = "auto"
	FormatText  Format = "text"
	FormatPlain Format = "plain"
	FormatJSON  Format = "json"
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatAuto, FormatText, FormatPlain, FormatJSON:
		return f, nil
	case "":
		return FormatAuto, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want auto, text, plain or json)", s)
	}
}

// Palette
var (
	ColorAccent  = lipgloss.Color("#2CD7C7")
	ColorBorder  = lipgloss.Color("#16858E")
	ColorMuted   = lipgloss.Color("#5C7A84")
	ColorSafe    = lipgloss.Color("#2ECC71")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorDanger  = lipgloss.Color("#E74C3C")
)

// Icons
const (
	IconSuccess = "✓"
	IconWarning = "⚠"
	IconError   = "✗"
)

type styles struct {
	title   lipgloss.Style
	key     lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	danger  lipgloss.Style
	box     lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		title:   r.NewStyle().Bold(true).Foreground(ColorAccent),
		key:     r.NewStyle().Foreground(ColorMuted),
		muted:   r.NewStyle().Foreground(ColorMuted),
		success: r.NewStyle().Foreground(ColorSafe),
		warning: r.NewStyle().Foreground(ColorWarning),
		danger:  r.NewStyle().Foreground(ColorDanger).Bold(true),
		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1),
	}
}

// Field is one labelled value in a result block.
type Field struct {
	Key   string
	Value any
}

// Printer writes CLI output in one Format.
//
// # Thread Safety
//
// Not safe for concurrent use.
type Printer struct {
	w      io.Writer
	format Format
	st     styles
}

// NewPrinter resolves FormatAuto against w and returns a Printer.
func NewPrinter(w io.Writer, format Format) *Printer {
	if format == FormatAuto || format == "" {
		format = FormatPlain
		if isTerminal(w) {
			format = FormatText
		}
	}
	return &Printer{w: w, format: format, st: newStyles(lipgloss.NewRenderer(w))}
}

// Format returns the resolved format.
func (p *Printer) Format() Format {
	return p.format
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// JSON writes v as indented JSON regardless of format.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Result prints v as JSON in FormatJSON and as a titled field block
// otherwise.
func (p *Printer) Result(title string, v any, fields []Field) error {
	if p.format == FormatJSON {
		return p.JSON(v)
	}
	p.Fields(title, fields)
	return nil
}

// Fields prints a titled block of key/value pairs.
func (p *Printer) Fields(title string, fields []Field) {
	width := 0
	for _, f := range fields {
		width = max(width, len(f.Key))
	}

	switch p.format {
	case FormatText:
		var b strings.Builder
		b.WriteString(p.st.title.Render(title))
		for _, f := range fields {
			b.WriteString("\n")
			b.WriteString(p.st.key.Render(fmt.Sprintf("%-*s", width, f.Key)))
			b.WriteString("  ")
			b.WriteString(p.value(f.Value))
		}
		fmt.Fprintln(p.w, p.st.box.Render(b.String()))
	default:
		for _, f := range fields {
			fmt.Fprintf(p.w, "%s: %s\n", f.Key, formatValue(f.Value))
		}
	}
}

// value styles verdicts by severity and leaves everything else plain.
func (p *Printer) value(v any) string {
	s := formatValue(v)
	switch s {
	case datatypes.VerdictCritical:
		return p.st.danger.Render(s)
	case datatypes.VerdictSuspicious:
		return p.st.warning.Render(s)
	case datatypes.VerdictSafe:
		return p.st.success.Render(s)
	}
	return s
}

// Success prints a one-line confirmation.
func (p *Printer) Success(text string) {
	switch p.format {
	case FormatJSON:
		return
	case FormatText:
		fmt.Fprintf(p.w, "%s %s\n", p.st.success.Render(IconSuccess), text)
	default:
		fmt.Fprintf(p.w, "OK: %s\n", text)
	}
}

// Warning prints a one-line warning.
func (p *Printer) Warning(text string) {
	switch p.format {
	case FormatJSON:
		return
	case FormatText:
		fmt.Fprintf(p.w, "%s %s\n", p.st.warning.Render(IconWarning), p.st.warning.Render(text))
	default:
		fmt.Fprintf(p.w, "WARN: %s\n", text)
	}
}

func formatValue(v any) string {
	switch x := v.(type) {
	case float64:
		return fmt.Sprintf("%.4g", x)
	case []string:
		if len(x) == 0 {
			return "-"
		}
		return strings.Join(x, ", ")
	case nil:
		return "-"
	default:
		return fmt.Sprint(x)
	}
}
