package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	roleUser      = "user"
	roleAssistant = "assistant"
	roleSystem    = "system"
)

const helpText = "Commands: /help, /clear (clears the screen, not the server history), /quit.\nPgUp/PgDn scroll."

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	systemStyle    = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("244"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// AskFunc sends one question and returns the assistant's answer.
type AskFunc func(ctx context.Context, question string) (string, error)

type replyMsg struct {
	text string
	err  error
}

type ctxDoneMsg struct{}

type chatModel struct {
	ctx   context.Context
	ask   AskFunc
	title string

	entries  []Entry
	thinking bool
	width    int
	ready    bool

	input textinput.Model
	view  viewport.Model
	spin  spinner.Model
}

func newChatModel(ctx context.Context, title string, ask AskFunc, history []Entry) chatModel {
	in := textinput.New()
	in.Placeholder = "Ask Genie to plan something..."
	in.Prompt = "> "
	in.CharLimit = 4000
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := chatModel{
		ctx:     ctx,
		ask:     ask,
		title:   title,
		entries: append([]Entry(nil), history...),
		input:   in,
		view:    viewport.New(80, 20),
		spin:    sp,
		width:   80,
	}
	m.entries = append(m.entries, Entry{Role: roleSystem, Content: "Connected. Type /help for commands."})
	m.refresh()
	return m
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitCtxDone(m.ctx))
}

func waitCtxDone(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		<-ctx.Done()
		return ctxDoneMsg{}
	}
}

func (m chatModel) askCmd(question string) tea.Cmd {
	return func() tea.Msg {
		text, err := m.ask(m.ctx, question)
		return replyMsg{text: text, err: err}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ctxDoneMsg:
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.view.Width = msg.Width
		// title, status line and input each take one row
		m.view.Height = max(msg.Height-3, 1)
		m.input.Width = max(msg.Width-4, 10)
		m.ready = true
		m.refresh()
		return m, nil

	case replyMsg:
		m.thinking = false
		if msg.err != nil {
			m.entries = append(m.entries, Entry{Role: roleSystem, Content: "Error: " + humanError(msg.err)})
		} else {
			m.entries = append(m.entries, Entry{Role: roleAssistant, Content: msg.text})
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.thinking {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.view, cmd = m.view.Update(msg)
			return m, cmd
		case tea.KeyEnter:
			return m.submit()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m chatModel) submit() (tea.Model, tea.Cmd) {
	if m.thinking {
		return m, nil
	}
	line := strings.TrimSpace(m.input.Value())
	m.input.SetValue("")
	if line == "" {
		return m, nil
	}
	switch line {
	case "/quit", "/exit":
		return m, tea.Quit
	case "/clear":
		m.entries = nil
		m.refresh()
		return m, nil
	case "/help":
		m.entries = append(m.entries, Entry{Role: roleSystem, Content: helpText})
		m.refresh()
		return m, nil
	}
	if strings.HasPrefix(line, "/") {
		m.entries = append(m.entries, Entry{Role: roleSystem, Content: "Unknown command " + line + ". " + helpText})
		m.refresh()
		return m, nil
	}

	m.entries = append(m.entries, Entry{Role: roleUser, Content: line})
	m.thinking = true
	m.refresh()
	return m, tea.Batch(m.askCmd(line), m.spin.Tick)
}

func (m *chatModel) refresh() {
	m.view.SetContent(renderTranscript(m.entries, m.width))
	m.view.GotoBottom()
}

func renderTranscript(entries []Entry, width int) string {
	body := lipgloss.NewStyle().Width(max(width-2, 10))
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n")
		}
		switch e.Role {
		case roleUser:
			b.WriteString(userStyle.Render("You") + "\n" + body.Render(e.Content))
		case roleAssistant:
			b.WriteString(assistantStyle.Render("Genie") + "\n" + body.Render(e.Content))
		default:
			b.WriteString(systemStyle.Width(max(width-2, 10)).Render(e.Content))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m chatModel) View() string {
	status := statusStyle.Render("enter to send, esc to quit")
	if m.thinking {
		status = m.spin.View() + statusStyle.Render(" Genie is thinking...")
	}
	return titleStyle.Render(m.title) + "\n" + m.view.View() + "\n" + status + "\n" + m.input.View()
}
