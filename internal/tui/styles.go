// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

// Package tui provides the terminal view of the instance records.
// This file defines the shared lipgloss styles.
package tui // import "github.com/stagehand-ops/stagehand/internal/tui"

import "github.com/charmbracelet/lipgloss"

// colorPalette defines the core colors used in the TUI.
const (
	colorSubtle    = lipgloss.Color("240") // Muted gray
	colorHighlight = lipgloss.Color("81")  // Teal
	colorSpecial   = lipgloss.Color("208") // Orange
	colorError     = lipgloss.Color("196")
	colorSuccess   = lipgloss.Color("40")
	colorWhite     = lipgloss.Color("231")
)

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	helpStyle = lipgloss.NewStyle().Foreground(colorSubtle)

	errorStyle   = lipgloss.NewStyle().Foreground(colorError)
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess)
	specialStyle = lipgloss.NewStyle().Foreground(colorSpecial)

	mainTitleStyle = lipgloss.NewStyle().
			Foreground(colorHighlight).
			Bold(true).
			Padding(0, 1)

	tableHeaderStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.NormalBorder()).
				BorderForeground(colorSubtle).
				BorderBottom(true).
				Bold(true)

	tableSelectedStyle = lipgloss.NewStyle().
				Foreground(colorWhite).
				Background(colorHighlight)
)

// statusStyle picks the color for an instance or job status.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case "running", "succeeded":
		return successStyle
	case "failed":
		return errorStyle
	case "provisioning":
		return specialStyle
	default:
		return helpStyle
	}
}
