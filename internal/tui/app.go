// Package tui provides the interactive queue browser for gapq.
package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/gapq/internal/models"
)

var (
	primaryColor = lipgloss.Color("#7C3AED")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	countStyle = lipgloss.NewStyle().
			Foreground(mutedColor)
)

// Source is the read side of a queue.
type Source interface {
	List(ctx context.Context) ([]models.GapItem, error)
}

type mode int

const (
	modeList mode = iota
	modeDetail
)

// App is the main TUI application model.
type App struct {
	namespace string
	list      *GapListModel
	detail    *GapDetailModel
	mode      mode
	width     int
	height    int
	message   string
}

// New creates a browser over source. namespace is only shown in the header.
func New(source Source, namespace string) *App {
	return &App{
		namespace: namespace,
		list:      NewGapListModel(source),
		detail:    NewGapDetailModel(),
		mode:      modeList,
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return a.list.Init()
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if a.mode == modeList && a.list.Filtering() {
			break
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit

		case "esc":
			if a.mode == modeDetail {
				a.mode = modeList
				return a, nil
			}

		case "enter":
			if a.mode == modeList {
				if g := a.list.Selected(); g != nil {
					a.detail.SetGap(g)
					a.mode = modeDetail
				}
				return a, nil
			}

		case "tab":
			if a.mode == modeList {
				a.list.CycleFilter()
				return a, nil
			}

		case "r":
			a.message = ""
			return a, a.list.Refresh()
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		content := msg.Height - 4
		if content < 5 {
			content = 5
		}
		a.list.SetSize(msg.Width, content)
		a.detail.SetSize(msg.Width, content)
		return a, nil

	case gapsLoadedMsg:
		a.message = ""
		var cmd tea.Cmd
		a.list, cmd = a.list.Update(msg)
		return a, cmd

	case errMsg:
		a.message = "Error: " + msg.err.Error()
		var cmd tea.Cmd
		a.list, cmd = a.list.Update(msg)
		return a, cmd
	}

	var cmd tea.Cmd
	if a.mode == modeDetail {
		a.detail, cmd = a.detail.Update(msg)
	} else {
		a.list, cmd = a.list.Update(msg)
	}
	return a, cmd
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("gapq · "+a.namespace) + "  " + countStyle.Render(a.counts()))
	b.WriteString("\n")

	switch a.mode {
	case modeDetail:
		b.WriteString(a.detail.View())
	default:
		b.WriteString(a.list.View())
	}

	b.WriteString("\n")
	if a.message != "" {
		b.WriteString(lipgloss.NewStyle().Foreground(errorColor).Render(a.message))
	}
	b.WriteString("\n")

	status := " ↑↓:nav | Enter:details | Tab:status filter | /:search | r:refresh | q:quit"
	if a.mode == modeDetail {
		status = " ↑↓:scroll | Esc:back | r:refresh | q:quit"
	}
	b.WriteString(statusBarStyle.Width(a.width).Render(status))
	return b.String()
}

func (a *App) counts() string {
	byStatus := map[models.ItemStatus]int{}
	gaps := a.list.Gaps()
	for _, g := range gaps {
		byStatus[g.Status]++
	}
	return fmt.Sprintf("%d total · %d pending · %d leased · %d done",
		len(gaps), byStatus[models.StatusPending], byStatus[models.StatusLeased], byStatus[models.StatusDone])
}
