package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/bridgera/internal/bridge"
	"github.com/kingrea/bridgera/internal/engine"
	"github.com/kingrea/bridgera/internal/logging"
	"github.com/kingrea/bridgera/internal/operation"
	"github.com/kingrea/bridgera/internal/session"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")).MarginBottom(1)
	boxStyle       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
	focusBoxStyle  = boxStyle.BorderForeground(lipgloss.Color("#5B8DEF"))
	panelTitle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	logBodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	spinnerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF"))
	outcomeSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	outcomeFailure = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	bootstrapStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801"))
)

// operationItem implements list.Item for one offered operation.
type operationItem struct {
	view engine.OperationView
	run  *engine.Run
}

func (i operationItem) Title() string {
	if i.run == nil {
		return i.view.Label
	}
	if i.run.Outcome == operation.OutcomeSuccess {
		return i.view.Label + " " + outcomeSuccess.Render("✓")
	}
	return i.view.Label + " " + outcomeFailure.Render("✗")
}

func (i operationItem) Description() string {
	parts := []string{i.view.Name}
	if i.view.Tier == operation.TierBootstrap.String() {
		parts = append(parts, bootstrapStyle.Render("bootstrap"))
	}
	if i.run != nil {
		parts = append(parts, fmt.Sprintf("last %s %s", i.run.Outcome, humanizeDuration(i.run.FinishedAt.Sub(i.run.StartedAt))))
	}
	return strings.Join(parts, " · ")
}

func (i operationItem) FilterValue() string { return i.view.Name }

func newOperationDelegate() list.DefaultDelegate {
	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(lipgloss.Color("#5B8DEF")).
		BorderForeground(lipgloss.Color("#5B8DEF"))
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(lipgloss.Color("#A0AEC0")).
		BorderForeground(lipgloss.Color("#5B8DEF"))
	return delegate
}

func (a *App) renderBoard(leftWidth, rightWidth int) string {
	header := headerStyle.Render(a.title)

	listBox := boxStyle
	detailBox := boxStyle
	if a.focus == focusList {
		listBox = focusBoxStyle
	} else {
		detailBox = focusBoxStyle
	}
	left := listBox.Width(max(20, leftWidth)).Render(a.operations.View())

	body := left
	if rightWidth > 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			panelTitle.Render(a.detailTitle()),
			a.detail.View(),
		)
		right := detailBox.Width(max(20, rightWidth)).Render(content)
		body = lipgloss.JoinHorizontal(lipgloss.Top, left, right)
	}

	sections := []string{header, body}
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	status := a.statusMsg
	if a.running != "" {
		status = a.spinner.View() + " " + status
	}
	sections = append(sections, mutedStyle.MarginTop(1).Render(status))
	return strings.Join(sections, "\n")
}

func (a *App) detailTitle() string {
	if a.mode == detailSession {
		return "SESSION"
	}
	if a.highlight == "" {
		return "RESPONSE"
	}
	return "RESPONSE · " + operation.ResponseKey(a.highlight)
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	lines, total := a.logbook.Tail(logTailLines)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "journal"
	}
	head := panelTitle.Render(fmt.Sprintf("LOG · %s (%d)", fileName, total))
	body := logBodyStyle.Render(strings.Join(lines, "\n"))
	return boxStyle.Render(fmt.Sprintf("%s\n%s", head, body))
}

// renderResponse shows the stored response field of name, pretty printed.
func renderResponse(name string, state session.State) string {
	if name == "" {
		return mutedStyle.Render("No operation selected.")
	}
	raw, ok := state.Get(operation.ResponseKey(name))
	if !ok {
		return mutedStyle.Render("Not run in this session yet.")
	}
	text := prettyJSON(raw)
	if bridge.IsErrorEnvelope(raw) {
		return outcomeFailure.Render("error") + "\n" + text
	}
	return text
}

// renderSession lists every session key with sensitive strings masked.
func renderSession(state session.State) string {
	keys := state.Keys()
	if len(keys) == 0 {
		return mutedStyle.Render("Session is empty. Bind an instance to begin.")
	}
	var b strings.Builder
	for _, key := range keys {
		value := logging.RedactJSON(key, state[key])
		fmt.Fprintf(&b, "%s\n%s\n\n", panelTitle.Render(key), prettyJSON(value))
	}
	return strings.TrimRight(b.String(), "\n")
}

func prettyJSON(raw []byte) string {
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return string(raw)
	}
	return out.String()
}

func humanizeDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0ms"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return d.Round(time.Second).String()
	}
}
