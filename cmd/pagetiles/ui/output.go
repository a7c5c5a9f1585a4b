// Package ui provides terminal output for the pagetiles CLI.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

var (
	noColor bool
	verbose bool
	out     io.Writer = os.Stdout
)

// InitUI applies the global output flags.
func InitUI(disableColor, isVerbose bool) {
	noColor = disableColor
	verbose = isVerbose
	color.NoColor = color.NoColor || disableColor
}

// SetOutput redirects standard output, mostly for tests.
func SetOutput(w io.Writer) {
	out = w
	color.Output = w
}

// Verbose reports whether --verbose was given.
func Verbose() bool { return verbose }

func printf(attr color.Attribute, symbol, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if noColor {
		fmt.Fprintf(out, "%s %s\n", symbol, msg)
		return
	}
	color.New(attr).Fprintf(out, "%s %s\n", symbol, msg)
}

// Success prints a success message.
func Success(format string, args ...interface{}) {
	printf(color.FgGreen, "✓", format, args...)
}

// Warning prints a warning message.
func Warning(format string, args ...interface{}) {
	printf(color.FgYellow, "⚠", format, args...)
}

// Info prints an informational message.
func Info(format string, args ...interface{}) {
	printf(color.FgCyan, "ℹ", format, args...)
}

// Step prints a step message, only with --verbose.
func Step(format string, args ...interface{}) {
	if !verbose {
		return
	}
	printf(color.FgBlue, "→", format, args...)
}

// Error prints an error message to stderr.
func Error(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if noColor {
		fmt.Fprintf(os.Stderr, "✗ %s\n", msg)
		return
	}
	color.New(color.FgRed).Fprintf(os.Stderr, "✗ %s\n", msg)
}

// Section prints a section header.
func Section(title string) {
	fmt.Fprintln(out)
	if noColor {
		fmt.Fprintf(out, "━━━ %s ━━━\n\n", strings.ToUpper(title))
		return
	}
	color.New(color.FgMagenta, color.Bold).Fprintf(out, "━━━ %s ━━━\n\n", strings.ToUpper(title))
}

// KeyValue prints a key-value pair.
func KeyValue(key string, value interface{}) {
	if noColor {
		fmt.Fprintf(out, "  %s: %v\n", key, value)
		return
	}
	color.New(color.FgYellow).Fprintf(out, "  %s: ", key)
	fmt.Fprintf(out, "%v\n", value)
}

// Table prints rows in aligned columns under a header.
func Table(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	header := strings.Join(headers, "\t")
	if !noColor {
		header = color.New(color.FgCyan, color.Bold).Sprint(header)
	}
	fmt.Fprintln(w, header)

	separator := make([]string, len(headers))
	for i := range separator {
		separator[i] = strings.Repeat("-", len(headers[i]))
	}
	fmt.Fprintln(w, strings.Join(separator, "\t"))

	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

// Newline prints a newline.
func Newline() {
	fmt.Fprintln(out)
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// IsTerminal checks if stdout is a terminal.
func IsTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
