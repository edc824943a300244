package ui

import "github.com/charmbracelet/lipgloss"

const (
	colorAccent    = lipgloss.Color("#25A065")
	colorUser      = lipgloss.Color("#04B575")
	colorAssistant = lipgloss.Color("#FFB347")
	colorMuted     = lipgloss.Color("#666666")
	colorBorder    = lipgloss.Color("#444444")
	colorError     = lipgloss.Color("#FF6B6B")
)

// Styles for the chat interface
var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(colorAccent).
			Padding(0, 1)

	UserStyle = lipgloss.NewStyle().
			Foreground(colorUser).
			Bold(true)

	AssistantStyle = lipgloss.NewStyle().
			Foreground(colorAssistant).
			Bold(true)

	MessageStyle = lipgloss.NewStyle().
			PaddingLeft(2).
			MarginBottom(1)

	LoadingStyle = lipgloss.NewStyle().
			Foreground(colorAssistant).
			Italic(true)

	SidebarStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, true, false, false).
			BorderForeground(colorBorder)

	SidebarFocusedStyle = SidebarStyle.
				BorderForeground(colorAccent)

	ChatStyle = lipgloss.NewStyle().
			PaddingLeft(1)

	HelpStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Italic(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(colorError)

	StatusStyle = lipgloss.NewStyle().
			Foreground(colorMuted)
)
