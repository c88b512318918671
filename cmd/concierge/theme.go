package main

import "github.com/charmbracelet/lipgloss"

type uiTheme struct {
	root        lipgloss.Style
	header      lipgloss.Style
	tabActive   lipgloss.Style
	tabInactive lipgloss.Style
	panel       lipgloss.Style
	panelTitle  lipgloss.Style
	footer      lipgloss.Style
	status      lipgloss.Style
	errorStatus lipgloss.Style
	banner      lipgloss.Style
	inputPanel  lipgloss.Style
	speaker     map[string]lipgloss.Style
	helpText    lipgloss.Style
	groupLabel  lipgloss.Style
	threadPick  lipgloss.Style
	threadItem  lipgloss.Style
	badgeOK     lipgloss.Style
	badgeDenied lipgloss.Style
	badgeError  lipgloss.Style
	modalFrame  lipgloss.Style
	modalPick   lipgloss.Style
	background  lipgloss.Color
}

func newTheme() uiTheme {
	pink := lipgloss.Color("#ff71ce")
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	amber := lipgloss.Color("#ffd166")
	bg := lipgloss.Color("#120924")
	panelBg := lipgloss.Color("#1b0f35")
	text := lipgloss.Color("#f3f3ff")
	muted := lipgloss.Color("#9ca3d8")

	return uiTheme{
		root: lipgloss.NewStyle().
			Background(bg).
			Foreground(text).
			Padding(0, 1),
		header: lipgloss.NewStyle().
			Background(panelBg).
			Foreground(text).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		tabActive: lipgloss.NewStyle().
			Background(pink).
			Foreground(lipgloss.Color("#22062f")).
			Bold(true).
			Padding(0, 1),
		tabInactive: lipgloss.NewStyle().
			Background(lipgloss.Color("#2a184a")).
			Foreground(muted).
			Padding(0, 1),
		panel: lipgloss.NewStyle().
			Background(panelBg).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		panelTitle: lipgloss.NewStyle().
			Foreground(mint).
			Bold(true),
		footer: lipgloss.NewStyle().
			Background(panelBg).
			Foreground(muted).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(pink).
			Padding(0, 1),
		status:      lipgloss.NewStyle().Foreground(blue).Bold(true),
		errorStatus: lipgloss.NewStyle().Foreground(pink).Bold(true),
		banner: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#22062f")).
			Background(pink).
			Bold(true).
			Padding(0, 1),
		inputPanel: lipgloss.NewStyle().
			Background(panelBg).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(mint).
			Padding(0, 1),
		helpText:    lipgloss.NewStyle().Foreground(muted),
		groupLabel:  lipgloss.NewStyle().Foreground(amber).Bold(true),
		threadPick:  lipgloss.NewStyle().Foreground(pink).Bold(true),
		threadItem:  lipgloss.NewStyle().Foreground(text),
		badgeOK:     lipgloss.NewStyle().Foreground(mint).Bold(true),
		badgeDenied: lipgloss.NewStyle().Foreground(amber).Bold(true),
		badgeError:  lipgloss.NewStyle().Foreground(pink).Bold(true),
		modalFrame: lipgloss.NewStyle().
			Background(panelBg).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(blue).
			Padding(1, 2),
		modalPick: lipgloss.NewStyle().Foreground(pink).Bold(true),
		speaker: map[string]lipgloss.Style{
			"you":       lipgloss.NewStyle().Foreground(mint).Bold(true),
			"concierge": lipgloss.NewStyle().Foreground(blue).Bold(true),
			"system":    lipgloss.NewStyle().Foreground(muted).Bold(true),
		},
		background: bg,
	}
}
