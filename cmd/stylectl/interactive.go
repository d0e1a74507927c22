package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/mapstyle-bridge/style"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#98FB98"))

	kindStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const eventLines = 8

type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Attach  key.Binding
	Detach  key.Binding
	Destroy key.Binding
	Release key.Binding
	Collect key.Binding
	Quit    key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Attach, k.Detach, k.Destroy, k.Release, k.Collect, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var keys = keyMap{
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Attach:  key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "attach")),
	Detach:  key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "detach")),
	Destroy: key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "destroy in style")),
	Release: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "drop proxy ref")),
	Collect: key.NewBinding(key.WithKeys("g"), key.WithHelp("g", "run GC")),
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type interactiveModel struct {
	err      error
	session  *session
	doc      *style.Document
	help     help.Model
	filename string
	status   string
	rows     []row
	selected int
}

type loadedMsg struct {
	err     error
	session *session
	doc     *style.Document
}

func newInteractiveModel(filename string) *interactiveModel {
	return &interactiveModel{
		filename: filename,
		help:     help.New(),
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.load
}

func (m *interactiveModel) load() tea.Msg {
	doc, err := loadDocument(m.filename)
	if err != nil {
		return loadedMsg{err: err}
	}
	s, err := openSession(doc)
	if err != nil {
		return loadedMsg{err: err}
	}
	return loadedMsg{session: s, doc: doc}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			if m.session != nil {
				m.session.close()
			}
			return m, tea.Quit
		}
		if m.session == nil {
			return m, nil
		}

		switch {
		case key.Matches(msg, keys.Up):
			if m.selected > 0 {
				m.selected--
			}
		case key.Matches(msg, keys.Down):
			if m.selected < len(m.rows)-1 {
				m.selected++
			}
		case key.Matches(msg, keys.Attach):
			m.apply("attached", m.session.attach)
		case key.Matches(msg, keys.Detach):
			m.apply("detached", m.session.detach)
		case key.Matches(msg, keys.Destroy):
			m.apply("destroyed", m.session.destroy)
		case key.Matches(msg, keys.Release):
			m.apply("dropped proxy reference to", m.session.release)
		case key.Matches(msg, keys.Collect):
			m.session.collect()
			m.status, m.err = "garbage collection requested", nil
		}
		m.refresh()

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.session = msg.session
		m.doc = msg.doc
		m.refresh()
	}
	return m, nil
}

func (m *interactiveModel) apply(verb string, op func(id string) error) {
	if len(m.rows) == 0 {
		return
	}
	id := m.rows[m.selected].id
	if err := op(id); err != nil {
		m.err, m.status = err, ""
		return
	}
	m.err, m.status = nil, verb+" "+id
}

func (m *interactiveModel) refresh() {
	if m.session == nil {
		return
	}
	m.rows = m.session.rows()
	if m.selected >= len(m.rows) {
		m.selected = max(len(m.rows)-1, 0)
	}
}

func (m *interactiveModel) View() string {
	if m.session == nil {
		if m.err != nil {
			return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
		}
		return "Loading style..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Style Sources"))
	b.WriteString(" ")
	b.WriteString(m.doc.Name)
	b.WriteString(dimStyle.Render(" " + m.filename))
	b.WriteString("\n\n")

	stats := m.session.rt.Stats()
	b.WriteString(dimStyle.Render(fmt.Sprintf(
		"style holds %d • handles %d • env attaches %d • collected %d • invalidated %d",
		m.session.st.Len(), stats.Handles, stats.Attaches, stats.Collected, stats.Invalidated)))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("live: " + strings.Join(m.session.handles(), " ")))
	b.WriteString("\n\n")

	for i, r := range m.rows {
		line := m.formatRow(r)
		if i == m.selected {
			b.WriteString(selectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	switch {
	case m.err != nil:
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	case m.status != "":
		b.WriteString(statusStyle.Render(m.status))
	}
	b.WriteString("\n\n")

	b.WriteString(titleStyle.Render("Events"))
	b.WriteString("\n")
	for _, line := range m.session.events.recent(eventLines) {
		b.WriteString(dimStyle.Render("  " + line))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.help.View(keys))

	return b.String()
}

func (m *interactiveModel) formatRow(r row) string {
	proxy := fmt.Sprintf("handle=%d", r.handle)
	if !r.held {
		proxy = "proxy dropped"
	}
	line := fmt.Sprintf("%s %s %-9s %s",
		idStyle.Render(fmt.Sprintf("%-12s", r.id)),
		kindStyle.Render(fmt.Sprintf("%-10s", r.kind)),
		r.state,
		proxy)
	if extra := describe(r); extra != "" {
		line += " " + dimStyle.Render(extra)
	}
	return line
}

func runInteractive(filename string) error {
	p := tea.NewProgram(newInteractiveModel(filename), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
