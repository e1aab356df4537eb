// Package theme holds the terminal styles of the p2prelay CLI
package theme

import "github.com/charmbracelet/lipgloss"

// Palette is a set of colors the CLI renders with
type Palette struct {
	Primary   lipgloss.Color
	Text      lipgloss.Color
	TextMuted lipgloss.Color
	Good      lipgloss.Color
	Bad       lipgloss.Color
}

// Default is the palette used unless SetPalette is called
var Default = Palette{
	Primary:   lipgloss.Color("#5fafff"),
	Text:      lipgloss.Color("#ffffff"),
	TextMuted: lipgloss.Color("#808080"),
	Good:      lipgloss.Color("#00d75f"),
	Bad:       lipgloss.Color("#ff5f5f"),
}

var current = Default

// SetPalette replaces the current palette
func SetPalette(p Palette) {
	current = p
}

// Current returns the palette in use
func Current() Palette {
	return current
}

// Header styles table headers and section titles
func Header() lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(current.Primary)
}

// Cell styles regular table cells
func Cell() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(current.Text).Padding(0, 1)
}

// Muted styles secondary text
func Muted() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(current.TextMuted)
}

// Status styles a state word green when ok, red otherwise
func Status(ok bool) lipgloss.Style {
	if ok {
		return lipgloss.NewStyle().Foreground(current.Good)
	}
	return lipgloss.NewStyle().Foreground(current.Bad)
}
