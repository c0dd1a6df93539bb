package compile

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	compilerdto "twirlhost/internal/modules/compiler/dto"
	"twirlhost/internal/ui/components"
	"twirlhost/internal/ui/theme"
)

// ─── port ────────────────────────────────────────────────────────────────────

// Runner produces compile results on results until it returns. It must not
// close results.
type Runner func(ctx context.Context, results chan<- compilerdto.CompileOutput) error

// ─── messages ────────────────────────────────────────────────────────────────

// ResultMsg carries one finished compilation.
type ResultMsg struct {
	Out compilerdto.CompileOutput
}

// DoneMsg is sent when the runner returns.
type DoneMsg struct {
	Err error
}

// ─── palette commands ────────────────────────────────────────────────────────

const (
	showAll       = "show:all"
	showFailed    = "show:failed"
	showCompiled  = "show:compiled"
	showUnchanged = "show:unchanged"
	cmdQuit       = "quit"
)

var paletteHints = []string{showAll, showFailed, showCompiled, showUnchanged, cmdQuit}

func visible(show string, out compilerdto.CompileOutput) bool {
	switch show {
	case showFailed:
		return out.Error != ""
	case showCompiled:
		return out.Error == "" && out.Changed
	case showUnchanged:
		return out.Error == "" && !out.Changed
	default:
		return true
	}
}

// ─── list item ───────────────────────────────────────────────────────────────

type resultItem struct {
	out  compilerdto.CompileOutput
	root string
}

func (i resultItem) Title() string {
	name := i.out.SourceFile
	if rel, err := filepath.Rel(i.root, name); err == nil && i.root != "" {
		name = rel
	}
	switch {
	case i.out.Error != "":
		return "✗ " + name
	case i.out.Changed:
		return "✓ " + name
	default:
		return "· " + name
	}
}

func (i resultItem) Description() string {
	if i.out.Error != "" {
		return "failed after " + i.out.Duration.String()
	}
	if !i.out.Changed {
		return "up to date"
	}
	return i.out.Output
}

func (i resultItem) FilterValue() string { return i.out.SourceFile }

// ─── model ───────────────────────────────────────────────────────────────────

// Model shows compile results as they arrive.
type Model struct {
	title   string
	root    string
	run     Runner
	ctx     context.Context
	cancel  context.CancelFunc
	results chan compilerdto.CompileOutput

	list    list.Model
	detail  viewport.Model
	spinner spinner.Model
	palette components.Palette

	outputs []compilerdto.CompileOutput
	show    string
	notice  string

	running bool
	changed int
	current int
	failed  int
	err     error
	width   int
	height  int
}

func New(title, sourceRoot string, run Runner) Model {
	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(theme.Lavender).BorderForeground(theme.Lavender)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(theme.Sapphire).BorderForeground(theme.Lavender)

	l := list.New(nil, delegate, 0, 0)
	l.Title = "Templates"
	l.Styles.Title = theme.Title
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.SetShowHelp(false)

	vp := viewport.New(0, 0)
	vp.Style = lipgloss.NewStyle().
		Background(theme.Mantle).
		Foreground(theme.Text).
		Padding(1)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.Lavender)

	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		title:   title,
		root:    sourceRoot,
		run:     run,
		ctx:     ctx,
		cancel:  cancel,
		results: make(chan compilerdto.CompileOutput),
		list:    l,
		detail:  vp,
		spinner: sp,
		palette: components.NewPalette("Command", paletteHints),
		show:    showAll,
		running: true,
	}
}

// Err is the runner's error once it has returned.
func (m Model) Err() error { return m.err }

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.start(), m.wait())
}

func (m Model) start() tea.Cmd {
	run, ctx, results := m.run, m.ctx, m.results
	return func() tea.Msg {
		return DoneMsg{Err: run(ctx, results)}
	}
}

func (m Model) wait() tea.Cmd {
	ctx, results := m.ctx, m.results
	return func() tea.Msg {
		select {
		case out := <-results:
			return ResultMsg{Out: out}
		case <-ctx.Done():
			return nil
		}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.palette.SetWidth(m.width)

	case ResultMsg:
		switch {
		case msg.Out.Error != "":
			m.failed++
		case msg.Out.Changed:
			m.changed++
		default:
			m.current++
		}
		m.outputs = append(m.outputs, msg.Out)
		cmds = append(cmds, m.list.SetItems(m.items()), m.wait())
		m.syncDetail()

	case components.PaletteSubmitMsg:
		switch msg.Input {
		case showAll, showFailed, showCompiled, showUnchanged:
			m.show = msg.Input
			m.notice = ""
			cmds = append(cmds, m.list.SetItems(m.items()))
			m.syncDetail()
		case cmdQuit:
			m.cancel()
			return m, tea.Quit
		case "":
		default:
			m.notice = "unknown command " + msg.Input
		}

	case components.PaletteCancelMsg:
		m.notice = ""

	case DoneMsg:
		m.running = false
		m.err = msg.Err

	case spinner.TickMsg:
		if m.running {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case tea.KeyMsg:
		if m.palette.Visible() {
			var cmd tea.Cmd
			m.palette, cmd = m.palette.Update(msg)
			return m, cmd
		}
		if m.list.FilterState() != list.Filtering {
			switch msg.String() {
			case "q", "ctrl+c", "esc":
				m.cancel()
				return m, tea.Quit
			case ":":
				return m, m.palette.Open()
			}
		}
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		cmds = append(cmds, cmd)
		m.syncDetail()
	}
	return m, tea.Batch(cmds...)
}

func (m Model) items() []list.Item {
	var items []list.Item
	for _, out := range m.outputs {
		if visible(m.show, out) {
			items = append(items, resultItem{out: out, root: m.root})
		}
	}
	return items
}

// Shown is the number of results the current view lists.
func (m Model) Shown() int { return len(m.list.Items()) }

func (m *Model) resize() {
	inner := m.height - 6
	if inner < 3 {
		inner = 3
	}
	left := m.width / 2
	m.list.SetSize(left-4, inner)
	m.detail.Width = m.width - left - 6
	m.detail.Height = inner
}

func (m *Model) syncDetail() {
	item, ok := m.list.SelectedItem().(resultItem)
	if !ok {
		m.detail.SetContent(theme.Muted.Render("waiting for results"))
		return
	}
	var b strings.Builder
	b.WriteString(theme.Title.Render(item.out.SourceFile) + "\n\n")
	fmt.Fprintf(&b, "version    %s\n", item.out.Version)
	fmt.Fprintf(&b, "coordinate %s\n", item.out.Coordinate)
	fmt.Fprintf(&b, "invocation %s\n", item.out.InvocationID)
	fmt.Fprintf(&b, "duration   %s\n", item.out.Duration)
	if item.out.Output != "" {
		fmt.Fprintf(&b, "output     %s\n", item.out.Output)
	}
	if item.out.Error != "" {
		b.WriteString("\n" + theme.Failure.Render(item.out.Error) + "\n")
	}
	m.detail.SetContent(b.String())
	m.detail.GotoTop()
}

func (m Model) View() string {
	status := fmt.Sprintf("%d compiled · %d up to date · %d failed", m.changed, m.current, m.failed)
	switch {
	case m.running:
		status = m.spinner.View() + " " + status
	case m.err != nil:
		status = theme.Hot.Render("done with errors") + " · " + status
	default:
		status = theme.Success.Render("done") + " · " + status
	}
	if m.show != showAll {
		status += " · " + m.show
	}
	header := theme.Title.Render(m.title) + "  " + theme.Muted.Render(status)
	body := lipgloss.JoinHorizontal(lipgloss.Top,
		theme.PaneActive.Render(m.list.View()),
		theme.Pane.Render(m.detail.View()),
	)
	footer := theme.Muted.Render("↑/↓ select · / filter · : command · q quit")
	if m.notice != "" {
		footer = theme.Failure.Render(m.notice)
	}
	parts := []string{header, body, footer}
	if m.palette.Visible() {
		parts = append(parts, m.palette.View())
	}
	return theme.App.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
