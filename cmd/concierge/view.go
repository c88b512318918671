package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"concierge/internal/recency"
	"concierge/internal/threads"
	"concierge/internal/trace"
)

func (m model) View() string {
	header := m.renderHeader()
	content := m.renderContent()
	sections := []string{header, content}
	if banner := m.renderBanner(); banner != "" {
		sections = append(sections, banner)
	}
	sections = append(sections, m.renderInput(), m.renderFooter())
	out := lipgloss.JoinVertical(lipgloss.Left, sections...)
	if m.quitConfirm {
		out = m.renderQuitModal()
	}
	return m.theme.root.Render(out)
}

func (m *model) contentSize() (width, height int) {
	height = max(8, m.height-12)
	if m.orch.Snapshot().Banner != "" {
		height = max(8, height-1)
	}
	return max(40, m.width-4), height
}

func (m *model) chatWidths(contentWidth int) (left, right int) {
	left = int(float64(contentWidth) * 0.3)
	left = clampInt(left, 26, 44)
	right = contentWidth - left - 1
	return left, right
}

func (m *model) renderHeader() string {
	tabs := []struct {
		id    tabID
		label string
	}{
		{tabChat, "Chat"},
		{tabTrace, "Trace"},
		{tabHelp, "Help"},
	}
	segments := make([]string, 0, len(tabs)+2)
	for _, tab := range tabs {
		style := m.theme.tabInactive
		if tab.id == m.activeTab {
			style = m.theme.tabActive
		}
		segments = append(segments, style.Render(tab.label))
	}
	title := "n/a"
	if thread, ok := m.activeThread(); ok {
		title = compactSingleLine(thread.Title, 40)
	}
	segments = append(segments,
		m.theme.helpText.Render(" Thread: "+title),
		m.theme.helpText.Render(fmt.Sprintf(" · As: %s (%s)", m.identity.Email, m.identity.Role)),
	)
	joined := lipgloss.JoinHorizontal(lipgloss.Left, segments...)
	return m.theme.header.Width(max(20, m.width-4)).Render(joined)
}

func (m *model) renderContent() string {
	contentWidth, contentHeight := m.contentSize()
	switch m.activeTab {
	case tabChat:
		leftWidth, rightWidth := m.chatWidths(contentWidth)
		left := m.theme.panel.Width(leftWidth).Height(contentHeight).Render(
			m.theme.panelTitle.Render("Threads") + "\n" + m.sidebar.View(),
		)
		right := m.theme.panel.Width(rightWidth).Height(contentHeight).Render(
			m.theme.panelTitle.Render("Conversation") + "\n" + m.timeline.View(),
		)
		return lipgloss.JoinHorizontal(lipgloss.Top, left, right)
	case tabTrace:
		panel := m.theme.panel.Width(contentWidth).Height(contentHeight)
		return panel.Render(m.theme.panelTitle.Render("Execution Trace") + "\n" + m.detail.View())
	case tabHelp:
		panel := m.theme.panel.Width(contentWidth).Height(contentHeight)
		return panel.Render(m.theme.panelTitle.Render("Concierge Help") + "\n" + m.renderHelp())
	default:
		return ""
	}
}

func (m *model) renderBanner() string {
	banner := m.orch.Snapshot().Banner
	if banner == "" {
		return ""
	}
	line := "⚠ " + compactSingleLine(banner, max(20, m.width-30)) + "  (Ctrl+X dismiss)"
	return m.theme.banner.Width(max(40, m.width-4)).Render(line)
}

func (m *model) renderInput() string {
	contentWidth := max(40, m.width-4)
	if m.activeTab != tabChat {
		return m.theme.inputPanel.Width(contentWidth).Render(m.theme.helpText.Render("Input disabled outside Chat tab. Press Tab to return."))
	}
	inputView := m.input.View()
	if m.inflight {
		inputView = m.spinner.View() + " processing... " + inputView
	}
	return m.theme.inputPanel.Width(contentWidth).Render(inputView)
}

func (m *model) renderFooter() string {
	contentWidth := max(40, m.width-4)
	statusStyle := m.theme.status
	lower := strings.ToLower(m.statusLine)
	if strings.Contains(lower, "failed") || strings.Contains(lower, "error") {
		statusStyle = m.theme.errorStatus
	}
	line := statusStyle.Render(compactSingleLine(m.statusLine, 180))
	hints := m.theme.helpText.Render("Keys: Tab switch view · Enter send · Ctrl+N new thread · Ctrl+K/J switch thread · Ctrl+P persona · Esc quit prompt · Ctrl+C quit")
	return m.theme.footer.Width(contentWidth).Render(line + "\n" + hints)
}

func (m *model) renderQuitModal() string {
	canvasWidth := max(40, m.width-4)
	canvasHeight := max(12, m.height-4)
	modalWidth := clampInt(int(float64(canvasWidth)*0.56), 42, 78)
	if modalWidth > canvasWidth-2 {
		modalWidth = canvasWidth - 2
	}
	modalWidth = max(32, modalWidth)

	body := strings.Join([]string{
		m.theme.errorStatus.Render("QUIT CONCIERGE?"),
		"",
		m.theme.helpText.Render("Your threads are saved and will be here next time."),
		"",
		m.theme.modalPick.Render("[Y / Enter] Quit") + "    " + m.theme.helpText.Render("[N / Esc] Return"),
	}, "\n")
	panel := m.theme.modalFrame.Width(modalWidth).Render(body)
	return lipgloss.Place(
		canvasWidth,
		canvasHeight,
		lipgloss.Center,
		lipgloss.Center,
		panel,
		lipgloss.WithWhitespaceBackground(m.theme.background),
	)
}

func (m *model) resize() {
	contentWidth := max(40, m.width-4)
	m.input.Width = max(20, contentWidth-6)
}

func (m *model) renderPanes() {
	prevTimelineYOffset := m.timeline.YOffset
	prevTimelineAtBottom := m.timeline.AtBottom()

	contentWidth, contentHeight := m.contentSize()
	leftWidth, rightWidth := m.chatWidths(contentWidth)

	m.sidebar.Width = max(20, leftWidth-4)
	m.sidebar.Height = max(5, contentHeight-3)
	m.timeline.Width = max(20, rightWidth-4)
	m.timeline.Height = max(5, contentHeight-3)
	m.detail.Width = max(20, contentWidth-4)
	m.detail.Height = max(5, contentHeight-3)

	m.sidebar.SetContent(m.renderSidebar())
	m.timeline.SetContent(m.renderTimeline())
	if prevTimelineAtBottom {
		m.timeline.GotoBottom()
	} else {
		m.timeline.SetYOffset(prevTimelineYOffset)
	}
	m.detail.SetContent(m.renderTraceDetail())
}

func (m *model) renderSidebar() string {
	var b strings.Builder
	if m.filter != "" {
		b.WriteString(m.theme.helpText.Render("filter: "+compactSingleLine(m.filter, 24)) + "\n")
	}
	visible := threads.Filter(m.threadList, m.filter)
	if len(visible) == 0 {
		b.WriteString(m.theme.helpText.Render(ternary(m.filter == "", "No threads yet. Ctrl+N starts one.", "No matching threads.")))
		return b.String()
	}
	n := 0
	width := max(12, m.sidebar.Width-6)
	for _, group := range recency.GroupThreads(visible, m.now()) {
		b.WriteString(m.theme.groupLabel.Render(group.Label) + "\n")
		for _, thread := range group.Threads {
			n++
			label := fmt.Sprintf("%2d %s", n, compactSingleLine(thread.Title, width))
			if thread.ID == m.threadID {
				b.WriteString(m.theme.threadPick.Render("▸" + label))
			} else {
				b.WriteString(m.theme.threadItem.Render(" " + label))
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *model) badgeStyle(tr trace.Trace) lipgloss.Style {
	switch {
	case tr.Failure != nil:
		return m.theme.badgeError
	case tr.PermissionDenied:
		return m.theme.badgeDenied
	default:
		return m.theme.badgeOK
	}
}

func (m *model) renderTimeline() string {
	if m.threadID == "" || len(m.messages) == 0 {
		return m.renderWelcome()
	}
	width := max(24, m.timeline.Width-2)
	var b strings.Builder
	for _, msg := range m.messages {
		label := speakerLabel(msg.Type)
		style, ok := m.theme.speaker[label]
		if !ok {
			style = m.theme.speaker["system"]
		}
		b.WriteString(style.Render(fmt.Sprintf("%s [%s]", msg.Timestamp.Local().Format("15:04"), label)))
		b.WriteString("\n")
		preview := compactMessage(msg.Content, messageMaxLines, messageMaxChars)
		if msg.Type == threads.MessageAssistant {
			b.WriteString(renderMarkdown(m.markdown, preview, width))
		} else {
			b.WriteString(wrapText(preview, width))
		}
		b.WriteString("\n")
		if msg.Trace != nil {
			b.WriteString(m.badgeStyle(*msg.Trace).Render(traceBadgeLine(*msg.Trace)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if m.inflight {
		b.WriteString(m.theme.helpText.Render("concierge is checking access and gathering data..."))
	}
	return strings.TrimSpace(b.String())
}

func (m *model) renderWelcome() string {
	lines := []string{
		"Ask a question about employees, compensation or company policy.",
		fmt.Sprintf("You are asking as %s (%s). Access is checked against your role.", m.identity.Email, m.identity.Role),
	}
	if len(m.suggestions) > 0 {
		lines = append(lines, "", "Try one (press its number):")
		for i, suggestion := range m.suggestions {
			if i >= 9 {
				break
			}
			lines = append(lines, fmt.Sprintf("  %d. %s", i+1, suggestion))
		}
	}
	return m.theme.helpText.Render(wrapText(strings.Join(lines, "\n"), max(24, m.timeline.Width-2)))
}

func (m *model) renderTraceDetail() string {
	tr, idx, ok := m.currentTrace()
	if !ok {
		lines := []string{"No trace yet. Ask a question in the Chat tab."}
		return m.theme.helpText.Render(strings.Join(append(lines, m.activityLines()...), "\n"))
	}
	var b strings.Builder
	b.WriteString(m.theme.helpText.Render(fmt.Sprintf("trace %d/%d  (←/→ select)", idx+1, len(m.traces()))))
	b.WriteString("\n")
	b.WriteString(m.badgeStyle(tr).Render(traceBadgeLine(tr)))
	b.WriteString("\n\n")
	b.WriteString(strings.Join(traceDetailLines(tr, m.now()), "\n"))
	if activity := m.activityLines(); len(activity) > 0 {
		b.WriteString("\n")
		b.WriteString(m.theme.helpText.Render(strings.Join(activity, "\n")))
	}
	return b.String()
}

func (m *model) activityLines() []string {
	if len(m.logs) == 0 {
		return nil
	}
	lines := []string{"", "activity:"}
	start := max(0, len(m.logs)-10)
	for _, line := range m.logs[start:] {
		lines = append(lines, "  "+line)
	}
	return lines
}

func (m *model) renderHelp() string {
	lines := []string{
		"Core Keys",
		"- Tab / Shift+Tab: switch views",
		"- Enter: send question (Chat tab)",
		"- 1-9 on an empty thread: send a suggested question",
		"- Ctrl+N: new thread",
		"- Ctrl+K / Ctrl+J: previous / next thread",
		"- Ctrl+P / Ctrl+O: next / previous persona",
		"- Ctrl+X: dismiss the error banner",
		"- Timeline scroll: PgUp/PgDn, Up/Down (input empty), Home/End",
		"- Trace tab: Left/Right select trace, Up/Down scroll",
		"- Esc in chat: quit confirmation",
		"- Ctrl+C: quit",
		"",
		"Slash Commands",
		"- /new [title]",
		"- /open <number|thread_id>",
		"- /rename <title>",
		"- /delete [thread_id]",
		"- /search [text]  (empty clears the filter)",
		"- /persona [email|next|prev]",
		"- /role <role>",
		"- /trace [n]",
		"- /dismiss",
		"- /help",
		"- /quit",
		"",
		"Access",
		"- Every question carries your email and role",
		"- Denied answers are badged and the policy reason is in the trace",
	}
	return m.theme.helpText.Render(strings.Join(lines, "\n"))
}
