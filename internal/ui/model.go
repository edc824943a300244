package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"relaychat/internal/chat"
	"relaychat/internal/models"
)

type FocusState int

const (
	FocusSidebar FocusState = iota
	FocusChat
)

const (
	defaultSidebarWidth = 30
	previewLimit        = 24
)

// Notifier turns Session notifications into a channel the program can wait
// on. Bursts collapse into one pending update.
type Notifier struct {
	ch chan struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

func (n *Notifier) Notify() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

func (n *Notifier) Updates() <-chan struct{} {
	return n.ch
}

// writeClipboard is swapped out in tests.
var writeClipboard = clipboard.WriteAll

type sessionUpdateMsg struct{}

type sendDoneMsg struct {
	err error
}

func waitForUpdate(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return sessionUpdateMsg{}
	}
}

// conversationItem shows a conversation in the sidebar.
type conversationItem struct {
	conv models.Conversation
}

func (i conversationItem) Title() string       { return i.conv.Title }
func (i conversationItem) FilterValue() string { return i.conv.Title }

func (i conversationItem) Description() string {
	if preview := i.conv.Preview(previewLimit); preview != "" {
		return i.conv.Timestamp() + " · " + preview
	}
	return i.conv.Timestamp()
}

// Model represents the main application state
type Model struct {
	ctx     context.Context
	session *chat.Session
	updates <-chan struct{}

	viewport viewport.Model
	textarea textarea.Model
	convList list.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	snap         chat.Snapshot
	err          error
	notice       string
	ready        bool
	focus        FocusState
	showSidebar  bool
	width        int
	height       int
	sidebarWidth int
}

// NewModel creates the UI for session. updates delivers the Session's change
// notifications; sends run under ctx.
func NewModel(ctx context.Context, session *chat.Session, updates <-chan struct{}) Model {
	ta := textarea.New()
	ta.Placeholder = "Type your message..."
	ta.Prompt = "┃ "
	ta.CharLimit = 2000
	ta.SetWidth(50)
	ta.SetHeight(3)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false
	ta.Focus()

	vp := viewport.New(50, 20)

	convList := list.New(nil, list.NewDefaultDelegate(), defaultSidebarWidth, 20)
	convList.Title = "Conversations"
	convList.SetShowStatusBar(false)
	convList.SetFilteringEnabled(false)
	convList.SetShowHelp(false)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = LoadingStyle

	m := Model{
		ctx:          ctx,
		session:      session,
		updates:      updates,
		viewport:     vp,
		textarea:     ta,
		convList:     convList,
		spinner:      sp,
		focus:        FocusChat,
		showSidebar:  true,
		sidebarWidth: defaultSidebarWidth,
	}
	m.refresh()
	return m
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, waitForUpdate(m.updates))
}

// Update handles UI events and state changes
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.ready = true
		m.updateViewport()

	case sessionUpdateMsg:
		m.refresh()
		cmds = append(cmds, waitForUpdate(m.updates))

	case sendDoneMsg:
		if msg.err != nil {
			m.err = msg.err
		}
		m.refresh()

	case spinner.TickMsg:
		if !m.snap.Sending {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.updateViewport()
		return m, cmd

	case tea.KeyMsg:
		m.notice = ""
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit

		case "tab":
			if m.focus == FocusSidebar || !m.showSidebar {
				m.focusChat()
			} else {
				m.focus = FocusSidebar
				m.textarea.Blur()
			}
			return m, nil

		case "ctrl+b":
			m.showSidebar = !m.showSidebar
			if !m.showSidebar {
				m.focusChat()
			}
			m.layout()
			m.updateViewport()
			return m, nil

		case "ctrl+n":
			m.session.NewChat()
			m.focusChat()
			m.refresh()
			return m, nil

		case "ctrl+y":
			m.copyLastReply()
			return m, nil

		case "ctrl+d":
			id := m.snap.ActiveID
			if m.focus == FocusSidebar {
				item, ok := m.convList.SelectedItem().(conversationItem)
				if !ok {
					return m, nil
				}
				id = item.conv.ID
			}
			if id != 0 {
				if err := m.session.Delete(id); err != nil {
					m.err = err
				}
			}
			m.refresh()
			return m, nil

		case "enter":
			if m.focus == FocusSidebar {
				if item, ok := m.convList.SelectedItem().(conversationItem); ok {
					m.session.Switch(item.conv.ID)
					m.focusChat()
					m.refresh()
				}
				return m, nil
			}
			input := m.textarea.Value()
			if m.snap.Sending || strings.TrimSpace(input) == "" {
				return m, nil
			}
			m.textarea.Reset()
			return m, tea.Batch(m.sendMessage(input), m.spinner.Tick)
		}
	}

	// Update child components
	if m.focus == FocusChat && !m.snap.Sending {
		var cmd tea.Cmd
		m.textarea, cmd = m.textarea.Update(msg)
		cmds = append(cmds, cmd)
	}
	if m.focus == FocusSidebar {
		var cmd tea.Cmd
		m.convList, cmd = m.convList.Update(msg)
		cmds = append(cmds, cmd)
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) sendMessage(input string) tea.Cmd {
	ctx, session := m.ctx, m.session
	return func() tea.Msg {
		return sendDoneMsg{err: session.Send(ctx, input)}
	}
}

// copyLastReply puts the latest assistant reply of the active conversation on
// the clipboard.
func (m *Model) copyLastReply() {
	for i := len(m.snap.Messages) - 1; i >= 0; i-- {
		msg := m.snap.Messages[i]
		if msg.Role != models.RoleAssistant || msg.Content == "" {
			continue
		}
		if err := writeClipboard(msg.Content); err != nil {
			m.err = err
			m.updateViewport()
			return
		}
		m.notice = "Copied reply to clipboard"
		return
	}
	m.notice = "No reply to copy"
}

func (m *Model) focusChat() {
	m.focus = FocusChat
	m.textarea.Focus()
}

func (m *Model) chatWidth() int {
	if !m.showSidebar {
		return m.width - 2
	}
	return m.width - m.sidebarWidth - 2
}

func (m *Model) layout() {
	chatWidth := m.chatWidth()
	chatHeight := m.height - 7

	m.viewport.Width = chatWidth
	m.viewport.Height = chatHeight
	m.textarea.SetWidth(chatWidth - 2)
	m.convList.SetSize(m.sidebarWidth-2, chatHeight+4)

	wrap := chatWidth - 6
	if wrap < 20 {
		wrap = 20
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		renderer = nil
	}
	m.renderer = renderer
}

// refresh pulls a fresh snapshot from the session.
func (m *Model) refresh() {
	m.snap = m.session.Snapshot()

	items := make([]list.Item, len(m.snap.Conversations))
	selected := -1
	for i, conv := range m.snap.Conversations {
		items[i] = conversationItem{conv: conv}
		if conv.ID == m.snap.ActiveID {
			selected = i
		}
	}
	m.convList.SetItems(items)
	if selected >= 0 {
		m.convList.Select(selected)
	}

	m.updateViewport()
}

func (m *Model) renderMarkdown(content string) string {
	if m.renderer == nil {
		return content
	}
	rendered, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.Trim(rendered, "\n")
}

func (m *Model) updateViewport() {
	var content strings.Builder

	switch {
	case m.snap.ActiveID == 0:
		content.WriteString("No conversation selected.\n\n")
		content.WriteString(HelpStyle.Render("Press Ctrl+N to start a new one.") + "\n\n")
	case len(m.snap.Messages) == 0:
		content.WriteString("Start typing to begin a conversation.\n\n")
		content.WriteString(HelpStyle.Render("Controls:\n"))
		content.WriteString(HelpStyle.Render("• Tab - Switch between sidebar and chat\n"))
		content.WriteString(HelpStyle.Render("• Ctrl+N - New conversation\n"))
		content.WriteString(HelpStyle.Render("• Ctrl+D - Delete conversation\n"))
		content.WriteString(HelpStyle.Render("• Ctrl+B - Toggle sidebar\n"))
		content.WriteString(HelpStyle.Render("• Ctrl+Y - Copy last reply\n"))
		content.WriteString(HelpStyle.Render("• Enter - Send message / Select conversation\n"))
		content.WriteString(HelpStyle.Render("• Ctrl+C / Esc - Quit\n\n"))
	default:
		for i, msg := range m.snap.Messages {
			last := i == len(m.snap.Messages)-1
			if msg.Role == models.RoleUser {
				content.WriteString(MessageStyle.Render(UserStyle.Render("You") + "\n" + msg.Content))
				content.WriteString("\n")
				continue
			}
			body := m.renderMarkdown(msg.Content)
			if last && m.snap.Sending && msg.Content == "" {
				body = m.spinner.View() + LoadingStyle.Render(" Assistant is typing...")
			}
			content.WriteString(MessageStyle.Render(AssistantStyle.Render("Assistant") + "\n" + body))
			content.WriteString("\n")
		}
	}

	if m.snap.Sending && m.snap.State == chat.StateSending {
		content.WriteString(MessageStyle.Render(m.spinner.View() + LoadingStyle.Render(" Waiting for the relay...")))
		content.WriteString("\n")
	}

	if m.err != nil {
		content.WriteString(MessageStyle.Render(ErrorStyle.Render("Error: " + m.err.Error())))
		content.WriteString("\n")
		m.err = nil
	}

	m.viewport.SetContent(content.String())
	m.viewport.GotoBottom()
}

func (m Model) statusLine() string {
	status := fmt.Sprintf("%d conversations", len(m.snap.Conversations))
	if m.snap.Sending {
		status += " · " + m.snap.State.String()
	}
	if m.notice != "" {
		status += " · " + m.notice
	}
	return StatusStyle.Render(status)
}

// View renders the UI
func (m Model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	chatWidth := m.chatWidth()
	chatHeader := TitleStyle.Width(chatWidth).Render("relaychat")
	chatArea := ChatStyle.Width(chatWidth).Render(
		fmt.Sprintf("%s\n%s\n%s\n%s", chatHeader, m.viewport.View(), m.textarea.View(), m.statusLine()),
	)

	if !m.showSidebar {
		return chatArea
	}

	style := SidebarStyle
	if m.focus == FocusSidebar {
		style = SidebarFocusedStyle
	}
	sidebar := style.Width(m.sidebarWidth).Height(m.height - 1).Render(m.convList.View())

	return lipgloss.JoinHorizontal(lipgloss.Top, sidebar, chatArea)
}
