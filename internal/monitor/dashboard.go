package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fyrsmithlabs/syspulse/internal/stats"
	"github.com/fyrsmithlabs/syspulse/internal/telemetry"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
)

// Model represents the BubbleTea dashboard model
type Model struct {
	client   *Client
	samples  <-chan stats.Sample
	interval time.Duration

	lastUpdate time.Time
	snapshot   Snapshot
	err        error
	quitting   bool

	cpuProgress    progress.Model
	memoryProgress progress.Model
}

// Snapshot holds the displayed state
type Snapshot struct {
	Sample    stats.Sample
	Telemetry *telemetry.HealthStatus
	SessionID string

	// Historical data for sparklines (last N points)
	CPUHistory    []float64
	MemoryHistory []float64

	HighMemoryPercent float64
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	// Header style - bright cyan background, bold black text
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	// Section title style - bold bright cyan
	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	// Dim style - for units and secondary info
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	// Container style - rounded border with dim gray
	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

func newModel(interval time.Duration, highMemory float64) Model {
	return Model{
		interval: interval,
		cpuProgress: progress.New(
			progress.WithGradient("#00ffff", "#ff00ff"),
			progress.WithWidth(40),
		),
		memoryProgress: progress.New(
			progress.WithGradient("#00ff00", "#ff0000"),
			progress.WithWidth(40),
		),
		snapshot: Snapshot{
			CPUHistory:        make([]float64, 0, historySize),
			MemoryHistory:     make([]float64, 0, historySize),
			HighMemoryPercent: highMemory,
		},
	}
}

// NewLocalModel creates a dashboard fed by a sampler subscription. The
// dashboard quits when samples is closed.
func NewLocalModel(samples <-chan stats.Sample, highMemory float64) Model {
	m := newModel(0, highMemory)
	m.samples = samples
	return m
}

// NewRemoteModel creates a dashboard polling a syspulse server.
func NewRemoteModel(client *Client, interval time.Duration, highMemory float64) Model {
	m := newModel(interval, highMemory)
	m.client = client
	return m
}

// getUsageBadge returns a colored status badge for a utilization percent
func getUsageBadge(percent, high float64) string {
	switch {
	case percent >= high:
		return errorStyle.Render("[✗]")
	case percent >= high*0.8:
		return warningStyle.Render("[⚠]")
	}
	return healthyStyle.Render("[✓]")
}

// getStatusBadge returns overall system status badge
func getStatusBadge(memPercent, high float64) string {
	switch {
	case memPercent >= high:
		return errorStyle.Render("✗ HIGH MEMORY")
	case memPercent >= high*0.8:
		return warningStyle.Render("⚠ WARN")
	}
	return healthyStyle.Render("✓ HEALTHY")
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight, sparkline.WithMaxValue(100))
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()

	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time
type sampleMsg stats.Sample
type remoteMsg struct {
	sample stats.Sample
	health *telemetry.HealthStatus
	sessID string
}
type closedMsg struct{}
type errMsg error

// Init initializes the model
func (m Model) Init() tea.Cmd {
	if m.samples != nil {
		return waitForSample(m.samples)
	}
	return tea.Batch(
		tick(m.interval),
		fetchRemote(m.client),
	)
}

// tick creates a tick command for auto-refresh
func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForSample blocks until the next sample from a local subscription
func waitForSample(samples <-chan stats.Sample) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-samples
		if !ok {
			return closedMsg{}
		}
		return sampleMsg(s)
	}
}

// fetchRemote fetches stats and telemetry health from a syspulse server
func fetchRemote(client *Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		sample, err := client.Stats(ctx)
		if err != nil {
			return errMsg(err)
		}

		msg := remoteMsg{sample: sample}
		// Health is optional decoration
		if h, err := client.Health(ctx); err == nil {
			msg.health = &h.Telemetry
			msg.sessID = h.SessionID
		}
		return msg
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			if m.client != nil {
				return m, fetchRemote(m.client)
			}
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchRemote(m.client),
		)

	case sampleMsg:
		m = m.record(stats.Sample(msg))
		return m, waitForSample(m.samples)

	case remoteMsg:
		m = m.record(msg.sample)
		m.snapshot.Telemetry = msg.health
		m.snapshot.SessionID = msg.sessID
		return m, nil

	case closedMsg:
		m.quitting = true
		return m, tea.Quit

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// record adds a sample to the snapshot and its history
func (m Model) record(s stats.Sample) Model {
	m.snapshot.Sample = s
	m.snapshot.CPUHistory = appendToHistory(m.snapshot.CPUHistory, s.CPUPercent)
	m.snapshot.MemoryHistory = appendToHistory(m.snapshot.MemoryHistory, s.MemoryPercent)
	m.lastUpdate = time.Now()
	m.err = nil
	return m
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

// renderError renders the error view
func (m Model) renderError() string {
	header := headerStyle.Render("System Pulse")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot reach syspulse server") + "\n"
	content += "\n"
	if m.client != nil {
		content += dimStyle.Render("URL: ") + valueStyle.Render(m.client.BaseURL()) + "\n"
	}
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += dimStyle.Render("Start it with: syspulse run") + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	return containerStyle.Render(header + "\n" + content)
}

// renderDashboard renders the main dashboard view with sparklines and progress bars
func (m Model) renderDashboard() string {
	var content string
	s := m.snapshot.Sample
	high := m.snapshot.HighMemoryPercent

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}

	header := headerStyle.Render(" System Pulse ")
	headerLine := fmt.Sprintf("%s   %s   %s   %s",
		getStatusBadge(s.MemoryPercent, high),
		dimStyle.Render("Uptime:"),
		valueStyle.Render(FormatUptime(int64(s.UptimeSeconds))),
		dimStyle.Render(lastUpdateStr))

	content += header + "\n"
	content += headerLine + "\n"
	if s.Hostname != "" {
		content += dimStyle.Render(fmt.Sprintf("  %s (%s)", s.Hostname, s.Platform)) + "\n"
	}

	// CPU section
	content += "\n" + sectionStyle.Render("┃ CPU") + "\n"
	content += labelStyle.Render("  Usage: ") +
		valueStyle.Render(FormatPercent(s.CPUPercent)) +
		" " + getUsageBadge(s.CPUPercent, high) +
		"   " + createSparkline(m.snapshot.CPUHistory) + "\n"
	content += labelStyle.Render("  Load: ") +
		m.cpuProgress.ViewAs(clampRatio(s.CPUPercent/100)) + "\n"

	// Memory section
	content += "\n" + sectionStyle.Render("┃ Memory") + "\n"
	content += labelStyle.Render("  Used: ") +
		valueStyle.Render(FormatPercent(s.MemoryPercent)) +
		" " + getUsageBadge(s.MemoryPercent, high) +
		"   " + createSparkline(m.snapshot.MemoryHistory) + "\n"
	content += labelStyle.Render("  Progress: ") +
		m.memoryProgress.ViewAs(clampRatio(s.MemoryPercent/100)) + "\n"
	content += labelStyle.Render("  Total: ") + valueStyle.Render(FormatMemory(s.TotalMemoryBytes)) +
		"  " + labelStyle.Render("Free: ") + valueStyle.Render(FormatMemory(s.FreeMemoryBytes)) + "\n"

	// Telemetry section
	if t := m.snapshot.Telemetry; t != nil {
		content += "\n" + sectionStyle.Render("┃ Telemetry") + "\n"
		state := healthyStyle.Render(t.State)
		if t.Degraded {
			state = warningStyle.Render(t.State + " (degraded)")
		}
		content += labelStyle.Render("  State: ") + state +
			"  " + labelStyle.Render("Enabled: ") + valueStyle.Render(fmt.Sprintf("%t", t.Enabled)) +
			"  " + labelStyle.Render("Sample rate: ") + valueStyle.Render(FormatPercentage(t.SampleRate)) + "\n"
		if m.snapshot.SessionID != "" {
			content += labelStyle.Render("  Session: ") + dimStyle.Render(m.snapshot.SessionID) + "\n"
		}
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ")
	if m.client != nil {
		footer += footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
			footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
	} else {
		footer += footerStyle.Render("Live")
	}
	content += "\n" + footer

	return containerStyle.Render(content)
}

func clampRatio(r float64) float64 {
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}
