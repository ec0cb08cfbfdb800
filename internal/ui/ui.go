// Package ui provides terminal rendering helpers for the grind CLI.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	barFillStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	barEmptyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Plain disables all styling. Set when stdout is not a terminal or the
// environment asks for no color.
var Plain = termenv.EnvColorProfile() == termenv.Ascii

func render(style lipgloss.Style, s string) string {
	if Plain {
		return s
	}
	return style.Render(s)
}

// Pass renders completed/success text.
func RenderPass(s string) string { return render(passStyle, s) }

// Warn renders attention text, used for review flags.
func RenderWarn(s string) string { return render(warnStyle, s) }

// Fail renders error and tricky-flag text.
func RenderFail(s string) string { return render(failStyle, s) }

// Accent renders headings and focus lines.
func RenderAccent(s string) string { return render(accentStyle, s) }

// Muted renders secondary detail like ids and timestamps.
func RenderMuted(s string) string { return render(mutedStyle, s) }

// Checkbox renders a completion marker.
func Checkbox(done bool) string {
	if done {
		return RenderPass("[x]")
	}
	return "[ ]"
}

// FlagMarks renders the review/tricky markers of a record.
func FlagMarks(needsReview, isTricky bool) string {
	var marks []string
	if needsReview {
		marks = append(marks, RenderWarn("R"))
	}
	if isTricky {
		marks = append(marks, RenderFail("!"))
	}
	if len(marks) == 0 {
		return ""
	}
	return " " + strings.Join(marks, "")
}

// ProgressBar renders a fixed-width percentage bar.
func ProgressBar(percent float64, width int) string {
	if width <= 0 {
		width = 20
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent/100*float64(width) + 0.5)
	bar := render(barFillStyle, strings.Repeat("█", filled)) +
		render(barEmptyStyle, strings.Repeat("░", width-filled))
	return fmt.Sprintf("%s %3.0f%%", bar, percent)
}
