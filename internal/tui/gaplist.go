package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/fentz26/gapq/internal/models"
)

var (
	listTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	statusPending = lipgloss.NewStyle().Foreground(lipgloss.Color("3")) // Yellow
	statusLeased  = lipgloss.NewStyle().Foreground(lipgloss.Color("4")) // Blue
	statusDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // Green
)

// GapListItem implements list.Item for one queue entry.
type GapListItem struct {
	Gap models.GapItem
	Now time.Time
}

func (i GapListItem) FilterValue() string { return i.Gap.ID }
func (i GapListItem) Title() string       { return i.Gap.ID }
func (i GapListItem) Description() string {
	status := formatStatus(i.Gap.Status)
	switch i.Gap.Status {
	case models.StatusLeased:
		return fmt.Sprintf("%s • %s • expires %s", status, i.Gap.LeaseID, leaseExpiry(i.Gap, i.Now))
	case models.StatusDone:
		return fmt.Sprintf("%s • %s", status, humanize.RelTime(time.Unix(i.Gap.CompletedAt, 0), i.Now, "ago", "from now"))
	}
	return fmt.Sprintf("%s • %s", status, i.Gap.Kind)
}

func formatStatus(status models.ItemStatus) string {
	switch status {
	case models.StatusPending:
		return statusPending.Render("● pending")
	case models.StatusLeased:
		return statusLeased.Render("● leased")
	case models.StatusDone:
		return statusDone.Render("● done")
	default:
		return string(status)
	}
}

func leaseExpiry(g models.GapItem, now time.Time) string {
	return humanize.RelTime(time.Unix(g.LeaseExpiresAt, 0), now, "ago", "from now")
}

// GapListModel manages the queue list screen.
type GapListModel struct {
	source      Source
	list        list.Model
	gaps        []models.GapItem
	filterIndex int
	now         func() time.Time
	width       int
	height      int
	loading     bool
}

var filters = []models.ItemStatus{"", models.StatusPending, models.StatusLeased, models.StatusDone}
var filterLabels = []string{"all", "pending", "leased", "done"}

// NewGapListModel creates a new queue list model.
func NewGapListModel(source Source) *GapListModel {
	delegate := list.NewDefaultDelegate()
	l := list.New([]list.Item{}, delegate, 80, 20)
	l.Title = "Gaps [all]"
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = listTitleStyle

	return &GapListModel{
		source: source,
		list:   l,
		now:    time.Now,
	}
}

// Init loads the queue.
func (m *GapListModel) Init() tea.Cmd {
	return m.Refresh()
}

// SetSize sets the list dimensions.
func (m *GapListModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.list.SetSize(w, h)
}

// Selected returns the highlighted entry.
func (m *GapListModel) Selected() *models.GapItem {
	if item, ok := m.list.SelectedItem().(GapListItem); ok {
		return &item.Gap
	}
	return nil
}

// Filtering reports whether the list's own text filter has focus.
func (m *GapListModel) Filtering() bool {
	return m.list.FilterState() == list.Filtering
}

// CycleFilter moves to the next status filter.
func (m *GapListModel) CycleFilter() {
	m.filterIndex = (m.filterIndex + 1) % len(filters)
	m.list.Title = fmt.Sprintf("Gaps [%s]", filterLabels[m.filterIndex])
	m.applyFilter()
}

// Gaps returns every loaded entry, unfiltered.
func (m *GapListModel) Gaps() []models.GapItem {
	return m.gaps
}

// Refresh reads the queue through the source.
func (m *GapListModel) Refresh() tea.Cmd {
	m.loading = true
	return func() tea.Msg {
		gaps, err := m.source.List(context.Background())
		if err != nil {
			return errMsg{err}
		}
		return gapsLoadedMsg{gaps}
	}
}

func (m *GapListModel) applyFilter() {
	want := filters[m.filterIndex]
	now := m.now()
	var items []list.Item
	for _, g := range m.gaps {
		if want != "" && g.Status != want {
			continue
		}
		items = append(items, GapListItem{Gap: g, Now: now})
	}
	m.list.SetItems(items)
}

// Update handles messages.
func (m *GapListModel) Update(msg tea.Msg) (*GapListModel, tea.Cmd) {
	switch msg := msg.(type) {
	case gapsLoadedMsg:
		m.loading = false
		m.gaps = msg.gaps
		m.applyFilter()
		return m, nil
	case errMsg:
		m.loading = false
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the list.
func (m *GapListModel) View() string {
	if m.loading {
		return "Loading queue..."
	}
	return m.list.View()
}

type gapsLoadedMsg struct {
	gaps []models.GapItem
}

type errMsg struct {
	err error
}
