package tui

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/fentz26/gapq/internal/models"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("240"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			MarginTop(1)
)

// GapDetailModel shows one entry in a scrollable viewport.
type GapDetailModel struct {
	viewport viewport.Model
	gap      *models.GapItem
	now      func() time.Time
}

// NewGapDetailModel creates a new detail model.
func NewGapDetailModel() *GapDetailModel {
	return &GapDetailModel{
		viewport: viewport.New(80, 20),
		now:      time.Now,
	}
}

// SetGap sets the entry to display and scrolls to the top.
func (m *GapDetailModel) SetGap(g *models.GapItem) {
	m.gap = g
	m.viewport.SetContent(m.render())
	m.viewport.GotoTop()
}

// SetSize sets the dimensions.
func (m *GapDetailModel) SetSize(w, h int) {
	m.viewport.Width = w
	m.viewport.Height = h
}

// Update scrolls the viewport.
func (m *GapDetailModel) Update(msg tea.Msg) (*GapDetailModel, tea.Cmd) {
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the detail pane.
func (m *GapDetailModel) View() string {
	if m.gap == nil {
		return "No gap selected."
	}
	return m.viewport.View()
}

func (m *GapDetailModel) render() string {
	if m.gap == nil {
		return ""
	}
	g := m.gap
	now := m.now()

	var b strings.Builder
	b.WriteString(headerStyle.Render(g.ID))
	b.WriteString("\n\n")

	b.WriteString(renderField("Gap type", string(g.GapType)))
	b.WriteString(renderField("Kind", string(g.Kind)))
	b.WriteString(renderField("Item", g.ItemID))
	b.WriteString(renderField("Reason", g.Reason))
	b.WriteString(renderField("Status", formatStatus(g.Status)))
	if g.Status == models.StatusLeased {
		b.WriteString(renderField("Leased by", g.LeaseID))
		b.WriteString(renderField("Expires", leaseExpiry(*g, now)))
	}
	if g.Status == models.StatusDone {
		completed := time.Unix(g.CompletedAt, 0)
		b.WriteString(renderField("Completed", fmt.Sprintf("%s (%s)",
			completed.UTC().Format(time.RFC3339), humanize.RelTime(completed, now, "ago", "from now"))))
	}

	b.WriteString(sectionStyle.Render("Context"))
	b.WriteString("\n")
	raw, err := json.MarshalIndent(g.Context, "", "  ")
	if err != nil {
		raw = []byte(err.Error())
	}
	b.WriteString(string(raw))
	b.WriteString("\n")
	return b.String()
}

func renderField(label, value string) string {
	return fmt.Sprintf("%s %s\n", labelStyle.Render(label+":"), valueStyle.Render(value))
}
