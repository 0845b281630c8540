package picker

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/bubbles/filepicker"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"livenote/internal/logging"
)

var titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")).MarginBottom(1)

// TUI picks files with a terminal file browser. Only one pick runs at a time.
type TUI struct {
	In     io.Reader
	Out    io.Writer
	Height int

	mu sync.Mutex
}

// NewTUI creates a picker on the process terminal.
func NewTUI() *TUI {
	return &TUI{In: os.Stdin, Out: os.Stderr, Height: 15}
}

// Pick implements Picker.
func (t *TUI) Pick(ctx context.Context, opts Options) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	fp := filepicker.New()
	fp.CurrentDirectory = dir
	fp.AllowedTypes = opts.Extensions
	fp.Height = t.Height
	fp.AutoHeight = false

	session := NewSession(0)
	m := pickModel{picker: fp, session: session, title: opts.Title}

	prog := tea.NewProgram(m, tea.WithContext(ctx), tea.WithInput(t.In), tea.WithOutput(t.Out))
	if _, err := prog.Run(); err != nil && ctx.Err() == nil {
		logging.Get(logging.CategoryScope).Warn("File picker failed: %v", err)
		session.Close()
		if _, werr := session.Wait(ctx); werr != nil {
			return "", werr
		}
		return "", fmt.Errorf("file picker: %w", err)
	}
	session.Close()
	return session.Wait(ctx)
}

type pickModel struct {
	picker  filepicker.Model
	session *Session
	title   string
	warning string
}

func (m pickModel) Init() tea.Cmd {
	return m.picker.Init()
}

func (m pickModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+c", "esc", "q":
			m.session.Close()
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.picker, cmd = m.picker.Update(msg)
	if ok, path := m.picker.DidSelectFile(msg); ok {
		m.session.Choose(path)
		return m, tea.Quit
	}
	if ok, path := m.picker.DidSelectDisabledFile(msg); ok {
		m.warning = fmt.Sprintf("%s is not an allowed file type", path)
	}
	return m, cmd
}

func (m pickModel) View() string {
	title := m.title
	if title == "" {
		title = "Select a file"
	}
	view := titleStyle.Render(title) + "\n" + m.picker.View()
	if m.warning != "" {
		view += "\n" + lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87")).Render(m.warning)
	}
	return view + "\n"
}
