package main

import (
	"fmt"
	"os"
)

// ANSI styling for terminal feedback, disabled wholesale by --no-color.
const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiBold   = "\033[1m"
)

func paint(code, text string) string {
	if noColor {
		return text
	}
	return code + text + ansiReset
}

// Feedback goes to stderr so stdout stays machine-readable; analyze and
// task print JSON there.

func printSuccess(format string, args ...any) {
	fmt.Fprintln(os.Stderr, paint(ansiGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, paint(ansiRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, paint(ansiYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

// statusLine renders one aligned "Label: value" row for `paperlens status`.
// The label is padded before painting so ANSI codes do not skew the column.
func statusLine(label, format string, args ...any) {
	padded := fmt.Sprintf("%-12s", label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", paint(ansiBold, padded), fmt.Sprintf(format, args...))
}
