package console

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"carebot/pkg/classifier"
	"carebot/pkg/language"
	"carebot/pkg/pipeline"
	"carebot/pkg/session"
)

const mouseScrollLines = 3

type entry struct {
	role    string
	content string
	outcome *pipeline.Outcome
}

type outcomeMsg struct {
	outcome pipeline.Outcome
	err     error
}

type model struct {
	ctx  context.Context
	ask  AskFunc
	info Info

	theme     theme
	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	entries   []entry
	width     int
	height    int
	isReady   bool
	isLoading bool
	lastErr   string
	followLog bool

	preferredLanguage string
	degradedCount     int
	tokensTotal       int64
}

func newModel(ctx context.Context, ask AskFunc, info Info) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Pulse
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Describe your symptoms or ask a health question..."
	in.Focus()
	in.CharLimit = 0

	return &model{
		ctx:               ctx,
		ask:               ask,
		info:              info,
		theme:             defaultTheme(),
		spinner:           spin,
		input:             in,
		viewport:          viewport.New(80, 12),
		width:             100,
		height:            28,
		followLog:         true,
		preferredLanguage: language.Canonical(info.Language),
	}
}

func (m *model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case tea.MouseMsg:
		m.handleViewportMouse(typed)
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}

		if m.handleViewportKey(typed) {
			return m, nil
		}

		if typed.String() == "enter" {
			return m, m.submit()
		}
	case spinner.TickMsg:
		if !m.isLoading {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case outcomeMsg:
		m.applyOutcome(typed)
		return m, nil
	}

	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit handles the input line: exit and /lang commands are local, anything
// else becomes a pipeline run.
func (m *model) submit() tea.Cmd {
	if m.isLoading {
		return nil
	}

	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	m.input.SetValue("")

	if isExitCommand(text) {
		return tea.Quit
	}
	if code, ok := parseLanguageCommand(text); ok {
		m.preferredLanguage = code
		m.entries = append(m.entries, entry{role: "system", content: languageNotice(code)})
		m.refreshViewport(true)
		return nil
	}

	m.lastErr = ""
	m.entries = append(m.entries, entry{role: "user", content: text})
	m.isLoading = true
	m.followLog = true
	m.refreshViewport(true)
	return tea.Batch(m.spinner.Tick, askCmd(m.ctx, m.ask, text, m.preferredLanguage))
}

func (m *model) applyOutcome(msg outcomeMsg) {
	m.isLoading = false
	if msg.err != nil {
		m.lastErr = msg.err.Error()
		m.entries = append(m.entries, entry{role: "error", content: msg.err.Error()})
		m.refreshViewport(false)
		return
	}

	m.lastErr = ""
	outcome := msg.outcome
	if outcome.Degraded {
		m.degradedCount++
	}
	if usage := session.TotalUsage(outcome.Calls); usage != nil {
		m.tokensTotal += usage.TotalTokens
	}
	m.entries = append(m.entries, entry{role: "assistant", content: outcome.FinalText, outcome: &outcome})
	m.refreshViewport(false)
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}

	header := m.theme.header.Width(m.width - 2).Render("🩺 Health Assistant Console")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"reasoning:%s · search:%s · reply language:%s · questions:%d · degraded:%d · tokens:%d",
		displayOrNA(m.info.ReasoningModel),
		displayOrNA(m.info.SearchModel),
		displayOrAuto(m.preferredLanguage),
		questionCount(m.entries),
		m.degradedCount,
		m.tokensTotal,
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("─", max(8, m.width-2)))

	status := m.theme.status.Render("Enter send · /lang <code> reply language · PgUp/PgDn scroll · Ctrl+C/Esc quit")
	if m.isLoading {
		status = m.theme.statusBusy.Render(fmt.Sprintf("%s consulting upstreams...", m.spinner.View()))
	}
	if m.lastErr != "" {
		status = m.theme.statusErr.Render("last request failed, try again")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		line,
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
		m.theme.inputLabel.Render("You")+" "+m.theme.hint.Render("(type /exit, quit, or :q)"),
		m.theme.input.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) resizeComponents() {
	w := max(50, m.width-6)
	h := max(8, m.height-10)

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset
	sections := make([]string, 0, len(m.entries))
	for _, item := range m.entries {
		sections = append(sections, m.renderEntry(item))
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := max(0, m.viewport.TotalLineCount()-m.viewport.Height)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func (m *model) renderEntry(item entry) string {
	width := m.viewport.Width
	body := strings.TrimSpace(item.content)

	switch item.role {
	case "user":
		return lipgloss.JoinVertical(lipgloss.Left,
			m.theme.userTitle.Render("You"),
			m.theme.userBox.Width(width).Render(body),
		)
	case "assistant":
		titleStyle, boxStyle := m.theme.assistantTitle, m.theme.assistantBox
		title := "Assistant"
		if item.outcome != nil && item.outcome.StrategyUsed == classifier.Emergency {
			titleStyle, boxStyle = m.theme.emergencyTitle, m.theme.emergencyBox
			title = "EMERGENCY"
		}
		if item.outcome != nil {
			body = strings.TrimSpace(body + "\n\n" + m.renderOutcomeLine(*item.outcome))
		}
		return lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render(title),
			boxStyle.Width(width).Render(body),
		)
	case "error":
		return lipgloss.JoinVertical(lipgloss.Left,
			m.theme.errorTitle.Render("ERROR"),
			m.theme.errorBox.Width(width).Render(body),
		)
	default:
		return m.theme.hint.Render(body)
	}
}

func (m *model) renderOutcomeLine(outcome pipeline.Outcome) string {
	line := m.theme.hint.Render(formatOutcomeLine(outcome))
	if outcome.Degraded {
		line += " " + m.theme.degraded.Render("degraded")
	}
	return line
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.ScrollUp(mouseScrollLines)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.ScrollDown(mouseScrollLines)
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	default:
		return false
	}
}

func askCmd(ctx context.Context, ask AskFunc, text string, preferredLanguage string) tea.Cmd {
	return func() tea.Msg {
		outcome, err := ask(ctx, text, preferredLanguage)
		return outcomeMsg{outcome: outcome, err: err}
	}
}

func formatOutcomeLine(outcome pipeline.Outcome) string {
	parts := []string{
		"strategy:" + string(outcome.StrategyUsed),
		"language:" + displayOrNA(outcome.LanguageUsed),
		"latency:" + outcome.Elapsed.Round(time.Millisecond).String(),
	}
	if usage := session.TotalUsage(outcome.Calls); usage != nil {
		parts = append(parts, fmt.Sprintf("tokens in/out/total:%d/%d/%d", usage.InputTokens, usage.OutputTokens, usage.TotalTokens))
	}
	return strings.Join(parts, " · ")
}

// parseLanguageCommand recognizes "/lang <code>". A bare "/lang" or
// "/lang auto" clears the preference.
func parseLanguageCommand(input string) (string, bool) {
	fields := strings.Fields(input)
	if len(fields) == 0 || !strings.EqualFold(fields[0], "/lang") {
		return "", false
	}
	if len(fields) == 1 {
		return "", true
	}
	return language.Canonical(fields[1]), true
}

func languageNotice(code string) string {
	if code == "" {
		return "Reply language: detect automatically."
	}
	return "Reply language set to " + code + "."
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}
	return trimmed
}

func displayOrAuto(code string) string {
	if code == "" {
		return "auto"
	}
	return code
}

func questionCount(entries []entry) int {
	count := 0
	for _, item := range entries {
		if item.role == "user" {
			count++
		}
	}
	return count
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
