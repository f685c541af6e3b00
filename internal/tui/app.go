// internal/tui/app.go
//
// This is the terminal console for bridgera. It uses bubbletea, which
// follows The Elm Architecture:
//
// 1. Model: the offered operations, the highlighted one and the last run
// 2. Update: keys and finished runs turn into a new model
// 3. View: list on the left, the highlighted response on the right
//
// Operations run through the engine in a tea.Cmd so the UI keeps drawing
// (and spinning) while a remote call is in flight.

package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/bridgera/internal/engine"
	"github.com/kingrea/bridgera/internal/logbook"
	"github.com/kingrea/bridgera/internal/session"
)

const (
	refreshInterval = 2 * time.Second
	logTailLines    = 6
	defaultWidth    = 100
	defaultHeight   = 30
)

// Console is the engine surface the terminal drives.
type Console interface {
	Execute(ctx context.Context, name string) (engine.Result, error)
	Operations() []engine.OperationView
	State() session.State
	Status() engine.Status
	LastRun(name string) (engine.Run, bool)
	Select(name string) error
	Selected() string
}

type focusArea int

const (
	focusList focusArea = iota
	focusDetail
)

type detailMode int

const (
	detailResponse detailMode = iota // response field of the highlighted operation
	detailSession                    // the whole session
)

type operationFinishedMsg struct {
	result engine.Result
	err    error
}

type refreshTickMsg struct{}

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithLogbook shows the tail of lb under the console.
func WithLogbook(lb *logbook.Logbook) AppOption {
	return func(a *App) {
		a.logbook = lb
	}
}

// WithContext sets the parent context for executed operations.
func WithContext(ctx context.Context) AppOption {
	return func(a *App) {
		if ctx != nil {
			a.ctx = ctx
		}
	}
}

// WithTitle overrides the header shown above the console.
func WithTitle(title string) AppOption {
	return func(a *App) {
		if strings.TrimSpace(title) != "" {
			a.title = title
		}
	}
}

// App is the main application model. In bubbletea, this holds ALL your state.
type App struct {
	ctx     context.Context
	console Console
	logbook *logbook.Logbook
	title   string

	// UI components
	operations list.Model
	spinner    spinner.Model
	detail     viewport.Model

	focus     focusArea
	mode      detailMode
	running   string
	highlight string
	statusMsg string
	lastErr   error

	width  int
	height int
}

// NewApp creates a console bound to an engine.
func NewApp(console Console, opts ...AppOption) (*App, error) {
	if console == nil {
		return nil, errors.New("tui: console is required")
	}
	menu := list.New(nil, newOperationDelegate(), 0, 0)
	menu.Title = "Operations"
	menu.SetShowStatusBar(false)
	menu.SetFilteringEnabled(false)
	menu.SetShowHelp(false)

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = spinnerStyle

	app := &App{
		ctx:        context.Background(),
		console:    console,
		title:      "⬡ BRIDGERA",
		operations: menu,
		spinner:    spin,
		detail:     viewport.New(0, 0),
		statusMsg:  "enter run · tab focus · s session/response · q quit",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	app.resize(defaultWidth, defaultHeight)
	app.reload()
	return app, nil
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return a.scheduleRefresh()
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.resize(msg.Width, msg.Height)
		return a, nil

	case refreshTickMsg:
		if a.running == "" {
			a.reload()
		}
		return a, a.scheduleRefresh()

	case spinner.TickMsg:
		if a.running == "" {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case operationFinishedMsg:
		a.handleFinished(msg)
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit
		case "tab":
			if a.focus == focusList {
				a.focus = focusDetail
			} else {
				a.focus = focusList
			}
			return a, nil
		case "s":
			if a.mode == detailResponse {
				a.mode = detailSession
			} else {
				a.mode = detailResponse
			}
			a.refreshDetail()
			return a, nil
		case "r":
			a.reload()
			a.statusMsg = "Refreshed"
			return a, nil
		case "enter":
			return a, a.executeHighlighted()
		}
	}

	var cmd tea.Cmd
	switch a.focus {
	case focusList:
		a.operations, cmd = a.operations.Update(msg)
		a.syncHighlight()
	case focusDetail:
		a.detail, cmd = a.detail.Update(msg)
	}
	return a, cmd
}

func (a *App) executeHighlighted() tea.Cmd {
	name := a.highlightedName()
	if name == "" {
		return nil
	}
	if a.running != "" {
		a.statusMsg = fmt.Sprintf("%s is still running", a.running)
		return nil
	}
	a.running = name
	a.statusMsg = fmt.Sprintf("Running %s…", name)
	a.logInfo("console: running %s", name)
	return tea.Batch(a.spinner.Tick, a.runOperation(name))
}

func (a *App) runOperation(name string) tea.Cmd {
	ctx := a.ctx
	console := a.console
	return func() tea.Msg {
		result, err := console.Execute(ctx, name)
		return operationFinishedMsg{result: result, err: err}
	}
}

func (a *App) handleFinished(msg operationFinishedMsg) {
	name := a.running
	a.running = ""
	a.lastErr = msg.err
	switch {
	case errors.Is(msg.err, engine.ErrBusy):
		a.statusMsg = "Another operation is running; try again shortly"
	case msg.err != nil:
		a.statusMsg = fmt.Sprintf("%s: %v", name, msg.err)
	case msg.result.Status == engine.StatusUnavailable:
		a.statusMsg = fmt.Sprintf("%s is not available for this session", msg.result.Operation)
	case msg.result.Reset:
		a.statusMsg = "Session cleared"
	case msg.result.Status == engine.StatusFailed:
		a.statusMsg = fmt.Sprintf("✗ %s failed: %s", msg.result.Operation, msg.result.Error)
	default:
		a.statusMsg = fmt.Sprintf("✓ %s (%s)", msg.result.Operation, humanizeDuration(msg.result.Duration))
	}
	a.reload()
}

// reload pulls the offered operations from the engine and keeps the cursor
// on the remembered selection.
func (a *App) reload() {
	views := a.console.Operations()
	items := make([]list.Item, 0, len(views))
	for _, view := range views {
		item := operationItem{view: view}
		if run, ok := a.console.LastRun(view.Name); ok {
			item.run = &run
		}
		items = append(items, item)
	}
	a.operations.SetItems(items)

	target := a.highlight
	if target == "" {
		target = a.console.Selected()
	}
	index := 0
	for i, view := range views {
		if view.Name == target {
			index = i
			break
		}
	}
	if len(items) > 0 {
		a.operations.Select(index)
	}
	a.highlight = a.highlightedName()
	a.refreshDetail()
}

// syncHighlight persists cursor moves as the remembered selection.
func (a *App) syncHighlight() {
	name := a.highlightedName()
	if name == "" || name == a.highlight {
		return
	}
	a.highlight = name
	if err := a.console.Select(name); err != nil {
		a.statusMsg = err.Error()
	}
	a.refreshDetail()
}

func (a *App) highlightedName() string {
	item, ok := a.operations.SelectedItem().(operationItem)
	if !ok {
		return ""
	}
	return item.view.Name
}

func (a *App) refreshDetail() {
	state := a.console.State()
	switch a.mode {
	case detailSession:
		a.detail.SetContent(renderSession(state))
	default:
		a.detail.SetContent(renderResponse(a.highlight, state))
	}
}

func (a *App) scheduleRefresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}

func (a *App) resize(width, height int) {
	if width <= 0 {
		width = defaultWidth
	}
	if height <= 0 {
		height = defaultHeight
	}
	a.width = width
	a.height = height
	leftWidth, rightWidth := a.columns()
	bodyHeight := max(5, height-logTailLines-8)
	a.operations.SetSize(max(20, leftWidth-4), bodyHeight)
	a.detail.Width = max(20, rightWidth-4)
	a.detail.Height = max(3, bodyHeight-2)
}

func (a *App) columns() (int, int) {
	left := max(32, a.width*2/5)
	right := a.width - left - 4
	if right < 30 {
		return a.width - 4, 0
	}
	return left, right
}

func (a *App) logInfo(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Info(format, args...)
}

// View renders the current state to a string.
func (a *App) View() string {
	leftWidth, rightWidth := a.columns()
	return a.renderBoard(leftWidth, rightWidth)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
