package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"concierge/internal/orchestrator"
	"concierge/internal/persona"
	"concierge/internal/recency"
	"concierge/internal/threads"
	"concierge/internal/trace"
)

const (
	messageMaxLines = 40
	messageMaxChars = 4000
	logLimit        = 50
)

type tabID int

const (
	tabChat tabID = iota
	tabTrace
	tabHelp
	tabCount
)

type model struct {
	repo        *threads.Repository
	orch        *orchestrator.Orchestrator
	directory   *persona.Directory
	suggestions []string
	markdown    bool
	ctx         context.Context
	now         func() time.Time

	identity    orchestrator.Identity
	threadList  []threads.Thread
	threadID    string
	messages    []threads.Message
	filter      string
	traceCursor int

	inflight    bool
	statusLine  string
	logs        []string
	activeTab   tabID
	quitConfirm bool

	width  int
	height int

	input    textinput.Model
	timeline viewport.Model
	sidebar  viewport.Model
	detail   viewport.Model
	spinner  spinner.Model

	theme uiTheme
}

type resolveDoneMsg struct {
	result orchestrator.Result
}

func newModel(a *app) model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 4000
	input.Placeholder = "Ask about employees, salaries or policies. /help lists commands."
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	timeline := viewport.New(0, 0)
	timeline.MouseWheelEnabled = true
	timeline.MouseWheelDelta = 4
	sidebar := viewport.New(0, 0)
	detail := viewport.New(0, 0)
	detail.MouseWheelEnabled = true
	detail.MouseWheelDelta = 4

	m := model{
		repo:        a.repo,
		orch:        a.orch,
		directory:   a.directory,
		suggestions: a.cfg.Suggestions,
		markdown:    a.cfg.UI.Markdown,
		ctx:         context.Background(),
		now:         time.Now,
		identity:    a.identity(),
		traceCursor: -1,
		statusLine:  "ready",
		logs:        []string{},
		activeTab:   tabChat,
		input:       input,
		timeline:    timeline,
		sidebar:     sidebar,
		detail:      detail,
		spinner:     sp,
		theme:       newTheme(),
	}
	m.reloadThreads()
	if visible := m.visibleThreads(); len(visible) > 0 {
		m.selectThread(visible[0].ID)
	}
	return m
}

func (m model) Init() tea.Cmd {
	return m.spinner.Tick
}

func resolveCmd(p *orchestrator.Pending) tea.Cmd {
	return func() tea.Msg {
		return resolveDoneMsg{result: p.Resolve()}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case resolveDoneMsg:
		m.inflight = m.orch.Snapshot().Loading()
		result := msg.result
		switch {
		case result.Discarded:
			m.appendLog("stale response discarded for thread " + result.ThreadID)
		case result.Err != nil:
			m.logError(result.Err)
		case result.Trace != nil:
			m.statusLine = "answer received · " + result.Trace.Badge()
			m.appendLog(m.statusLine)
		default:
			m.statusLine = "answer received"
		}
		if !result.Discarded && result.ThreadID == m.threadID {
			m.messages = m.repo.LoadMessages(m.threadID)
			m.traceCursor = -1
		}
		m.reloadThreads()
		m.renderPanes()
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.renderPanes()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case tea.MouseMsg:
		if m.quitConfirm {
			break
		}
		var cmd tea.Cmd
		switch m.activeTab {
		case tabChat:
			m.timeline, cmd = m.timeline.Update(msg)
		case tabTrace:
			m.detail, cmd = m.detail.Update(msg)
		}
		cmds = append(cmds, cmd)
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.orch.Close()
			return m, tea.Quit
		}
		if m.quitConfirm {
			switch msg.String() {
			case "y", "Y", "enter":
				m.orch.Close()
				return m, tea.Quit
			case "n", "N", "esc":
				m.quitConfirm = false
				m.statusLine = "quit canceled"
				m.renderPanes()
			}
			return m, tea.Batch(cmds...)
		}

		switch msg.String() {
		case "esc":
			if m.activeTab == tabChat {
				m.beginQuitConfirm()
				return m, tea.Batch(cmds...)
			}
			m.switchTab(tabChat)
			return m, tea.Batch(cmds...)
		case "tab":
			m.switchTab((m.activeTab + 1) % tabCount)
			return m, tea.Batch(cmds...)
		case "shift+tab":
			m.switchTab((m.activeTab + tabCount - 1) % tabCount)
			return m, tea.Batch(cmds...)
		case "ctrl+x":
			m.orch.DismissError()
			m.statusLine = "error dismissed"
			return m, tea.Batch(cmds...)
		case "ctrl+n":
			if err := m.newThread(""); err != nil {
				m.logError(err)
			}
			m.renderPanes()
			return m, tea.Batch(cmds...)
		case "ctrl+k":
			m.stepThread(-1)
			return m, tea.Batch(cmds...)
		case "ctrl+j":
			m.stepThread(1)
			return m, tea.Batch(cmds...)
		case "ctrl+p":
			m.setPersona(m.directory.Next(m.identity.Email, 1))
			return m, tea.Batch(cmds...)
		case "ctrl+o":
			m.setPersona(m.directory.Next(m.identity.Email, -1))
			return m, tea.Batch(cmds...)
		}

		switch m.activeTab {
		case tabChat:
			empty := strings.TrimSpace(m.input.Value()) == ""
			switch msg.String() {
			case "enter":
				raw := strings.TrimSpace(m.input.Value())
				if raw == "" {
					return m, tea.Batch(cmds...)
				}
				if strings.HasPrefix(raw, "/") {
					m.input.SetValue("")
					if cmd := m.handleSlash(raw); cmd != nil {
						cmds = append(cmds, cmd)
					}
					m.renderPanes()
					return m, tea.Batch(cmds...)
				}
				if m.inflight {
					m.statusLine = "still waiting for the previous answer"
					return m, tea.Batch(cmds...)
				}
				m.input.SetValue("")
				if cmd := m.submit(raw); cmd != nil {
					cmds = append(cmds, cmd)
				}
				return m, tea.Batch(cmds...)
			case "1", "2", "3", "4", "5", "6", "7", "8", "9":
				if empty && len(m.messages) == 0 && !m.inflight {
					idx, _ := strconv.Atoi(msg.String())
					if idx <= len(m.suggestions) {
						if cmd := m.submit(m.suggestions[idx-1]); cmd != nil {
							cmds = append(cmds, cmd)
						}
						return m, tea.Batch(cmds...)
					}
				}
			case "pgup", "ctrl+b":
				m.timeline.LineUp(8)
				return m, tea.Batch(cmds...)
			case "pgdown", "ctrl+f":
				m.timeline.LineDown(8)
				return m, tea.Batch(cmds...)
			case "up":
				if empty {
					m.timeline.LineUp(4)
					return m, tea.Batch(cmds...)
				}
			case "down":
				if empty {
					m.timeline.LineDown(4)
					return m, tea.Batch(cmds...)
				}
			case "home":
				m.timeline.GotoTop()
				return m, tea.Batch(cmds...)
			case "end":
				m.timeline.GotoBottom()
				return m, tea.Batch(cmds...)
			}
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
		case tabTrace:
			switch msg.String() {
			case "left", "h", "[":
				m.stepTrace(-1)
			case "right", "l", "]":
				m.stepTrace(1)
			case "pgup", "k", "up":
				m.detail.LineUp(4)
			case "pgdown", "j", "down":
				m.detail.LineDown(4)
			}
		}
	}
	return m, tea.Batch(cmds...)
}

func (m *model) switchTab(tab tabID) {
	m.activeTab = tab
	if tab == tabChat {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
	m.renderPanes()
}

func (m *model) submit(raw string) tea.Cmd {
	if m.threadID == "" {
		if err := m.newThread(""); err != nil {
			m.logError(err)
			return nil
		}
	}
	pending, err := m.orch.Begin(m.ctx, m.threadID, raw, m.identity)
	if err != nil {
		if errors.Is(err, orchestrator.ErrEmptyQuery) {
			return nil
		}
		m.logError(err)
		return nil
	}
	m.inflight = true
	m.messages = append(m.messages, pending.UserMessage())
	m.reloadThreads()
	m.statusLine = fmt.Sprintf("asking as %s (%s)...", m.identity.Email, m.identity.Role)
	m.renderPanes()
	return resolveCmd(pending)
}

func (m *model) handleSlash(raw string) tea.Cmd {
	parts := strings.Fields(strings.TrimSpace(raw))
	if len(parts) == 0 {
		return nil
	}
	cmd := strings.ToLower(parts[0])
	tail := parts[1:]
	rest := strings.TrimSpace(strings.Join(tail, " "))
	switch cmd {
	case "/help":
		m.switchTab(tabHelp)
	case "/quit", "/exit":
		m.beginQuitConfirm()
	case "/new":
		if err := m.newThread(rest); err != nil {
			m.logError(err)
		}
	case "/open":
		if rest == "" {
			m.statusLine = "usage: /open <number|thread_id>"
			return nil
		}
		visible := m.visibleThreads()
		if n, err := strconv.Atoi(rest); err == nil && n >= 1 && n <= len(visible) {
			m.selectThread(visible[n-1].ID)
			return nil
		}
		if _, ok := m.repo.Get(rest); !ok {
			m.statusLine = "unknown thread: " + rest
			return nil
		}
		m.selectThread(rest)
	case "/rename":
		if m.threadID == "" {
			m.statusLine = "no active thread"
			return nil
		}
		thread, err := m.repo.RenameThread(m.threadID, rest)
		if err != nil {
			m.logError(err)
			return nil
		}
		m.reloadThreads()
		m.statusLine = "renamed: " + thread.Title
	case "/delete":
		target := ternary(rest == "", m.threadID, rest)
		if target == "" {
			m.statusLine = "no active thread"
			return nil
		}
		m.deleteThread(target)
	case "/search", "/filter":
		m.filter = rest
		m.statusLine = ternary(rest == "", "filter cleared", fmt.Sprintf("filter: %q (%d threads)", rest, len(m.visibleThreads())))
	case "/persona", "/as":
		switch strings.ToLower(rest) {
		case "", "next":
			m.setPersona(m.directory.Next(m.identity.Email, 1))
		case "prev":
			m.setPersona(m.directory.Next(m.identity.Email, -1))
		default:
			if p, ok := m.directory.Lookup(rest); ok {
				m.setPersona(p)
				return nil
			}
			m.setPersona(persona.Persona{Email: rest, Role: m.identity.Role})
		}
	case "/role":
		if rest == "" {
			m.statusLine = "role: " + m.identity.Role
			return nil
		}
		m.identity.Role = rest
		m.statusLine = fmt.Sprintf("asking as %s (%s)", m.identity.Email, m.identity.Role)
	case "/trace":
		traces := m.traces()
		if n, err := strconv.Atoi(rest); err == nil && n >= 1 && n <= len(traces) {
			m.traceCursor = n - 1
		} else {
			m.traceCursor = -1
		}
		m.switchTab(tabTrace)
	case "/dismiss":
		m.orch.DismissError()
		m.statusLine = "error dismissed"
	default:
		m.statusLine = "unknown command: " + cmd
	}
	return nil
}

func (m *model) beginQuitConfirm() {
	m.quitConfirm = true
	m.statusLine = "quit concierge?"
}

func (m *model) reloadThreads() {
	m.threadList = m.repo.ListThreads()
}

// visibleThreads is the filtered thread list in sidebar display order.
func (m *model) visibleThreads() []threads.Thread {
	var out []threads.Thread
	for _, group := range recency.GroupThreads(threads.Filter(m.threadList, m.filter), m.now()) {
		out = append(out, group.Threads...)
	}
	return out
}

func (m *model) activeThread() (threads.Thread, bool) {
	for _, thread := range m.threadList {
		if thread.ID == m.threadID {
			return thread, true
		}
	}
	return threads.Thread{}, false
}

func (m *model) selectThread(id string) {
	m.orch.Bind(id)
	m.threadID = id
	m.messages = m.repo.LoadMessages(id)
	m.inflight = m.orch.Snapshot().Loading()
	m.traceCursor = -1
	m.reloadThreads()
	if thread, ok := m.activeThread(); ok {
		m.statusLine = "thread: " + compactSingleLine(thread.Title, 60)
	}
	m.renderPanes()
}

func (m *model) newThread(title string) error {
	thread, err := m.repo.CreateThread(threads.Defaults{
		Title:     title,
		UserEmail: m.identity.Email,
		UserRole:  m.identity.Role,
	})
	if err != nil {
		return err
	}
	m.filter = ""
	m.selectThread(thread.ID)
	m.statusLine = "new thread"
	return nil
}

func (m *model) deleteThread(id string) {
	active := id == m.threadID
	if active {
		m.orch.Unbind()
	}
	result, err := m.repo.DeleteThread(id, m.threadID)
	if err != nil {
		if active {
			m.orch.Bind(id)
		}
		m.logError(err)
		return
	}
	if result.ClearActive {
		m.threadID = ""
		m.messages = nil
		m.inflight = false
		m.traceCursor = -1
	}
	m.reloadThreads()
	m.statusLine = ternary(result.Removed, "thread deleted", "no such thread: "+id)
	m.renderPanes()
}

func (m *model) stepThread(delta int) {
	visible := m.visibleThreads()
	if len(visible) == 0 {
		return
	}
	idx := -1
	for i, thread := range visible {
		if thread.ID == m.threadID {
			idx = i
			break
		}
	}
	if idx < 0 {
		idx = ternary(delta > 0, -1, len(visible))
	}
	next := clampInt(idx+delta, 0, len(visible)-1)
	if visible[next].ID != m.threadID {
		m.selectThread(visible[next].ID)
	}
}

func (m *model) setPersona(p persona.Persona) {
	m.identity = orchestrator.Identity{Email: p.Email, Role: nullCoalesce(p.Role, m.identity.Role)}
	m.statusLine = fmt.Sprintf("asking as %s (%s)", m.identity.Email, m.identity.Role)
	m.renderPanes()
}

// traces lists the traces attached to the current thread, oldest first.
func (m *model) traces() []trace.Trace {
	var out []trace.Trace
	for _, msg := range m.messages {
		if msg.Trace != nil {
			out = append(out, *msg.Trace)
		}
	}
	return out
}

func (m *model) currentTrace() (trace.Trace, int, bool) {
	traces := m.traces()
	if len(traces) == 0 {
		return trace.Trace{}, 0, false
	}
	idx := m.traceCursor
	if idx < 0 || idx >= len(traces) {
		idx = len(traces) - 1
	}
	return traces[idx], idx, true
}

func (m *model) stepTrace(delta int) {
	_, idx, ok := m.currentTrace()
	if !ok {
		return
	}
	m.traceCursor = clampInt(idx+delta, 0, len(m.traces())-1)
	m.renderPanes()
}

func (m *model) appendLog(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	m.logs = append(m.logs, fmt.Sprintf("%s %s", m.now().Format("15:04:05"), compactSingleLine(trimmed, 220)))
	if len(m.logs) > logLimit {
		m.logs = m.logs[len(m.logs)-logLimit:]
	}
}

func (m *model) logError(err error) {
	if err == nil {
		return
	}
	m.appendLog("error: " + err.Error())
	m.statusLine = "error: " + compactSingleLine(err.Error(), 160)
}
