// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders scan results for terminals.
//
// Color is used only when the destination is a terminal and NO_COLOR is
// unset, unless the mode forces it. Plain output of Printer.Summary is
// exactly report.FormatSummary, so piping the CLI gives stable text.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"

	"github.com/AleutianAI/runtimescan/services/scanner/findings"
	"github.com/AleutianAI/runtimescan/services/scanner/report"
)

// Palette.
var (
	ColorTeal    = lipgloss.Color("#20B9B4")
	ColorBright  = lipgloss.Color("#2CD7C7")
	ColorSlate   = lipgloss.Color("#2C4A54")
	ColorAmber   = lipgloss.Color("#F4D03F")
	ColorOrange  = lipgloss.Color("#E67E22")
	ColorRed     = lipgloss.Color("#E74C3C")
	ColorCrimson = lipgloss.Color("#B03A2E")
)

// Mode selects whether output is styled.
type Mode string

const (
	ModeAuto  Mode = "auto"
	ModeColor Mode = "always"
	ModePlain Mode = "never"
)

// ParseMode accepts auto, always and never. Anything else is auto.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "always", "color", "on":
		return ModeColor
	case "never", "plain", "off":
		return ModePlain
	default:
		return ModeAuto
	}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Printer writes styled or plain output to one destination.
type Printer struct {
	out   io.Writer
	color bool

	title   lipgloss.Style
	muted   lipgloss.Style
	ok      lipgloss.Style
	warn    lipgloss.Style
	fail    lipgloss.Style
	box     lipgloss.Style
	sevTags map[findings.Severity]lipgloss.Style
}

// NewPrinter returns a Printer for out.
func NewPrinter(out io.Writer, mode Mode) *Printer {
	var color bool
	switch mode {
	case ModeColor:
		color = true
	case ModePlain:
		color = false
	default:
		color = IsTerminal(out) && os.Getenv("NO_COLOR") == ""
	}

	r := lipgloss.NewRenderer(out)
	if mode == ModeColor {
		r.SetColorProfile(termenv.TrueColor)
	}
	p := &Printer{
		out:   out,
		color: color,
		title: r.NewStyle().Bold(true).Foreground(ColorBright),
		muted: r.NewStyle().Foreground(ColorSlate),
		ok:    r.NewStyle().Foreground(ColorBright),
		warn:  r.NewStyle().Foreground(ColorAmber),
		fail:  r.NewStyle().Foreground(ColorRed).Bold(true),
		box:   r.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
		sevTags: map[findings.Severity]lipgloss.Style{
			findings.SeverityCritical: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(ColorCrimson),
			findings.SeverityHigh:     r.NewStyle().Bold(true).Foreground(ColorRed),
			findings.SeverityMedium:   r.NewStyle().Foreground(ColorOrange),
			findings.SeverityLow:      r.NewStyle().Foreground(ColorAmber),
		},
	}
	return p
}

// Color reports whether the printer styles its output.
func (p *Printer) Color() bool {
	return p.color
}

func (p *Printer) style(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

// Verdict renders the banner text of v.
func (p *Printer) Verdict(v report.Verdict) string {
	switch v {
	case report.VerdictCritical:
		return p.style(p.sevTags[findings.SeverityCritical], " "+v.String()+" ")
	case report.VerdictIssues:
		return p.style(p.warn.Bold(true), v.String())
	default:
		return p.style(p.ok.Bold(true), v.String())
	}
}

// Severity renders a severity tag.
func (p *Printer) Severity(s findings.Severity) string {
	tag := fmt.Sprintf("%-8s", s.String())
	return p.style(p.sevTags[s], tag)
}

// Summary writes the summary of r. Without color it is
// report.FormatSummary verbatim.
func (p *Printer) Summary(r *findings.Result) error {
	if !p.color {
		s, err := report.FormatSummary(r)
		if err != nil {
			return err
		}
		_, err = io.WriteString(p.out, s)
		return err
	}
	if r == nil {
		return fmt.Errorf("print summary: %w: nil result", findings.ErrInvalidInput)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", p.Verdict(report.VerdictOf(r)))
	fmt.Fprintf(&b, "%s %d   %s %d   %s %s\n",
		p.style(p.muted, "files"), len(r.Metadata.AnalyzedFiles),
		p.style(p.muted, "findings"), r.TotalIssueCount(),
		p.style(p.muted, "took"), r.Metadata.Duration.Round(time.Millisecond))

	issues := r.IssuesBySeverity()
	edges := r.EdgeCasesBySeverity()
	b.WriteString("\n")
	for _, sev := range findings.Severities {
		fmt.Fprintf(&b, "%s issues %-3d edge cases %d\n", p.Severity(sev), issues[sev], edges[sev])
	}
	risks := r.RisksByLikelihood()
	fmt.Fprintf(&b, "%s high %d  medium %d  low %d\n",
		p.style(p.title, "risks   "),
		risks[findings.LikelihoodHigh], risks[findings.LikelihoodMedium], risks[findings.LikelihoodLow])

	if n := len(r.Metadata.SkippedFiles); n > 0 {
		fmt.Fprintf(&b, "\n%s %d file(s) skipped\n", p.style(p.warn, "!"), n)
	}
	if n := len(r.Metadata.PartialFailures); n > 0 {
		fmt.Fprintf(&b, "%s %d detector run(s) incomplete\n", p.style(p.warn, "!"), n)
	}

	_, err := fmt.Fprintln(p.out, p.box.Render(strings.TrimRight(b.String(), "\n")))
	return err
}

// Findings writes one line per issue, risk and edge case, most severe
// first within each kind.
func (p *Printer) Findings(r *findings.Result) error {
	var b strings.Builder
	for _, sev := range findings.Severities {
		for _, i := range r.Issues {
			if i.Severity == sev {
				p.line(&b, sev, i.Location(), i.Rule, i.Description)
			}
		}
	}
	for _, l := range findings.Likelihoods {
		for _, rk := range r.Risks {
			if rk.Likelihood == l {
				p.line(&b, severityOf(l), rk.Location(), rk.Rule, rk.Description)
			}
		}
	}
	for _, sev := range findings.Severities {
		for _, e := range r.EdgeCases {
			if e.Severity == sev {
				p.line(&b, sev, e.Location(), e.Rule, e.Scenario+": "+e.ExpectedFailure)
			}
		}
	}
	_, err := io.WriteString(p.out, b.String())
	return err
}

func (p *Printer) line(b *strings.Builder, sev findings.Severity, loc, rule, text string) {
	fmt.Fprintf(b, "%s %s %s %s\n", p.Severity(sev), loc, p.style(p.muted, "["+rule+"]"), text)
}

func severityOf(l findings.Likelihood) findings.Severity {
	switch l {
	case findings.LikelihoodHigh:
		return findings.SeverityHigh
	case findings.LikelihoodMedium:
		return findings.SeverityMedium
	default:
		return findings.SeverityLow
	}
}

// Success writes a success line.
func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintf(p.out, "%s %s\n", p.style(p.ok, "✓"), fmt.Sprintf(format, args...))
}

// Warn writes a warning line.
func (p *Printer) Warn(format string, args ...any) {
	fmt.Fprintf(p.out, "%s %s\n", p.style(p.warn, "⚠"), fmt.Sprintf(format, args...))
}

// Fail writes an error line.
func (p *Printer) Fail(format string, args ...any) {
	fmt.Fprintf(p.out, "%s %s\n", p.style(p.fail, "✗"), fmt.Sprintf(format, args...))
}

// Title writes a heading.
func (p *Printer) Title(text string) {
	fmt.Fprintln(p.out, p.style(p.title, text))
}
