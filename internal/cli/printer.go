// Package cli runs one parsed command against the wired components and
// prints its outcome.
package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Printer writes command output. Styling and Unicode symbols are only
// used when styled is set, which callers do for terminals.
type Printer struct {
	out    io.Writer
	errOut io.Writer
	styled bool
}

// NewPrinter creates a Printer writing results to out and diagnostics to errOut.
func NewPrinter(out, errOut io.Writer, styled bool) *Printer {
	return &Printer{out: out, errOut: errOut, styled: styled}
}

// ErrorSymbol returns a cross mark with ASCII fallback
func (p *Printer) ErrorSymbol() string {
	if !p.styled {
		return "[x]"
	}

	return "✗"
}

// SuccessSymbol returns a check mark with ASCII fallback
func (p *Printer) SuccessSymbol() string {
	if !p.styled {
		return "[ok]"
	}

	return "✓"
}

// WarningSymbol returns a warning sign with ASCII fallback
func (p *Printer) WarningSymbol() string {
	if !p.styled {
		return "[!]"
	}

	return "⚠"
}

func (p *Printer) render(style lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}

	return style.Render(text)
}

func (p *Printer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}

func (p *Printer) errorf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.errOut, format, args...)
}

// FormatBytes formats bytes into human-readable format (e.g., "1.5 MB")
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatDuration formats duration into human-readable format (e.g., "2m 30s")
func FormatDuration(duration time.Duration) string {
	if duration < time.Second {
		return duration.Round(time.Millisecond).String()
	}

	duration = duration.Round(time.Second)
	hours := duration / time.Hour
	duration %= time.Hour
	minutes := duration / time.Minute
	duration %= time.Minute
	seconds := duration / time.Second

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}

	return fmt.Sprintf("%ds", seconds)
}
