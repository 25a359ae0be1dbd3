// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui holds the terminal output helpers shared by the CLI
// commands: section headers, labels, counters, and status lines.
package ui

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Shared color styles. Respect color.NoColor, set by InitColors.
var (
	Green  = color.New(color.FgGreen)
	Yellow = color.New(color.FgYellow)
	Red    = color.New(color.FgRed)
	Cyan   = color.New(color.FgCyan)
	Bold   = color.New(color.Bold)
	Dim    = color.New(color.Faint)
)

// InitColors disables ANSI output when --no-color was passed, NO_COLOR is
// set, or stdout is not a terminal.
func InitColors(noColor bool) {
	if noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
		return
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

// Header prints a bold top-level section title with an underline.
func Header(title string) {
	fmt.Println()
	_, _ = Bold.Println(title)
	_, _ = Bold.Println(strings.Repeat("=", len(title)))
}

// SubHeader prints a bold sub-section title.
func SubHeader(title string) {
	fmt.Println()
	_, _ = Bold.Println(title)
}

// Label renders a field label in bold.
func Label(s string) string { return Bold.Sprint(s) }

// DimText renders secondary text faintly.
func DimText(s string) string { return Dim.Sprint(s) }

// CountText renders an integer with thousands separators in cyan.
func CountText(n int) string { return Cyan.Sprint(groupDigits(n)) }

func groupDigits(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, d := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// Info prints a plain informational line.
func Info(msg string) { fmt.Println(msg) }

// Infof prints a formatted informational line.
func Infof(format string, args ...any) { fmt.Printf(format+"\n", args...) }

// Success prints a line with a green check mark.
func Success(msg string) {
	_, _ = Green.Print("✓ ")
	fmt.Println(msg)
}

// Successf prints a formatted line with a green check mark.
func Successf(format string, args ...any) { Success(fmt.Sprintf(format, args...)) }

// Warning prints a line with a yellow warning sign.
func Warning(msg string) {
	_, _ = Yellow.Print("⚠ ")
	fmt.Println(msg)
}

// Warningf prints a formatted line with a yellow warning sign.
func Warningf(format string, args ...any) { Warning(fmt.Sprintf(format, args...)) }
