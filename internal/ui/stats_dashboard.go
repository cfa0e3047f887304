package ui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// StatsSnapshot is the data a live stats dashboard renders. It mirrors the
// memory_stats/memory_health/memory_causal_stats MCP tool payloads.
type StatsSnapshot struct {
	TotalMemories     int64
	ByTier            map[string]int
	PendingEmbeds     int
	FailedEmbeds      int
	LinkCoveragePct   float64
	TotalEdges        int
	EmbeddingProvider string
	EmbeddingModel    string
	EmbeddingReady    bool
	OrphanedVectors   int
	OrphanedEdges     int
}

// TierOrder is the fixed display order for StatsSnapshot.ByTier.
var TierOrder = []string{"constitutional", "critical", "important", "normal", "temporary", "deprecated"}

// StatsDashboard is a bubbletea program that polls a fetch function on an
// interval and redraws a terminal dashboard of working-memory tiers,
// embedding health, and causal coverage.
type StatsDashboard struct {
	fetch    func() (*StatsSnapshot, error)
	interval time.Duration
}

// NewStatsDashboard builds a dashboard that calls fetch every interval.
func NewStatsDashboard(fetch func() (*StatsSnapshot, error), interval time.Duration) *StatsDashboard {
	return &StatsDashboard{fetch: fetch, interval: interval}
}

// Run starts the dashboard and blocks until the user quits (q/ctrl+c) or ctx
// is cancelled.
func (d *StatsDashboard) Run(ctx context.Context) error {
	model := &statsModel{fetch: d.fetch, interval: d.interval, styles: DefaultStyles()}
	program := tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

type statsTickMsg time.Time

type statsFetchedMsg struct {
	snap *StatsSnapshot
	err  error
}

type statsModel struct {
	fetch    func() (*StatsSnapshot, error)
	interval time.Duration
	styles   Styles

	snap *StatsSnapshot
	err  error
}

func (m *statsModel) Init() tea.Cmd {
	return tea.Batch(m.fetchCmd(), m.tickCmd())
}

func (m *statsModel) fetchCmd() tea.Cmd {
	return func() tea.Msg {
		snap, err := m.fetch()
		return statsFetchedMsg{snap: snap, err: err}
	}
}

func (m *statsModel) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return statsTickMsg(t)
	})
}

func (m *statsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case statsTickMsg:
		return m, tea.Batch(m.fetchCmd(), m.tickCmd())
	case statsFetchedMsg:
		m.snap = msg.snap
		m.err = msg.err
	}
	return m, nil
}

func (m *statsModel) View() string {
	if m.err != nil {
		return m.styles.Error.Render(fmt.Sprintf("stats error: %v", m.err)) + "\n\n(q to quit)\n"
	}
	if m.snap == nil {
		return m.styles.Dim.Render("collecting stats...") + "\n"
	}

	out := m.styles.Header.Render("cogmemd — memory store") + "\n\n"
	out += fmt.Sprintf("total memories   %d\n", m.snap.TotalMemories)
	out += fmt.Sprintf("pending embeds   %d\n", m.snap.PendingEmbeds)
	out += fmt.Sprintf("failed embeds    %d\n", m.snap.FailedEmbeds)
	out += fmt.Sprintf("causal edges     %d\n", m.snap.TotalEdges)
	out += fmt.Sprintf("link coverage    %.1f%%\n\n", m.snap.LinkCoveragePct)

	out += m.styles.Label.Render("by tier") + "\n"
	for _, tier := range TierOrder {
		out += fmt.Sprintf("  %-14s %d\n", tier, m.snap.ByTier[tier])
	}
	out += "\n"

	readyStyle := m.styles.Success
	readyText := "ready"
	if !m.snap.EmbeddingReady {
		readyStyle = m.styles.Warning
		readyText = "not ready"
	}
	out += fmt.Sprintf("embedder         %s/%s (%s)\n", m.snap.EmbeddingProvider, m.snap.EmbeddingModel, readyStyle.Render(readyText))
	out += fmt.Sprintf("orphaned vectors %d\n", m.snap.OrphanedVectors)
	out += fmt.Sprintf("orphaned edges   %d\n", m.snap.OrphanedEdges)
	out += "\n" + m.styles.Dim.Render("q to quit") + "\n"

	return out
}
