// Package control implements the operator-facing terminal dashboard that
// polls the control listener's /internal/status endpoint and renders a live
// view of bound-service, connection and security state.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const pollInterval = 2 * time.Second

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

// statusResponse mirrors internal/app's statusHandler JSON shape. Decoded
// loosely (map[string]interface{} destinations) since the dashboard only
// needs a handful of fields out of each endpoint's stats.
type statusResponse struct {
	Proxy       map[string]interface{}            `json:"proxy"`
	Destination map[string]map[string]interface{} `json:"destinations"`
	Security    map[string]interface{}            `json:"security"`
	Connections map[string]int64                  `json:"connections"`
}

type pollResult struct {
	status statusResponse
	err    error
}

type pollMsg pollResult

// model is the bubbletea Model driving the dashboard: a polling client plus
// a bubbles table re-rendered each tick from the latest status snapshot.
type model struct {
	client      *http.Client
	statusURL   string
	table       table.Model
	lastErr     error
	lastFetched time.Time
}

// NewDashboard builds the dashboard's bubbletea program, pointed at a
// control listener's base address (e.g. "localhost:9190").
func NewDashboard(controlAddr string) *tea.Program {
	columns := []table.Column{
		{Title: "Destination", Width: 32},
		{Title: "Conns", Width: 8},
		{Title: "Requests", Width: 10},
		{Title: "Success %", Width: 10},
		{Title: "Avg ms", Width: 8},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(false),
		table.WithHeight(15),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(lipgloss.Color("14"))
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("0")).Background(lipgloss.Color("14"))
	t.SetStyles(styles)

	m := model{
		client:    &http.Client{Timeout: pollInterval},
		statusURL: fmt.Sprintf("http://%s/internal/status", controlAddr),
		table:     t,
	}
	return tea.NewProgram(m)
}

func (m model) Init() tea.Cmd {
	return m.poll()
}

func (m model) poll() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), pollInterval)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.statusURL, nil)
		if err != nil {
			return pollMsg{err: err}
		}
		resp, err := m.client.Do(req)
		if err != nil {
			return pollMsg{err: err}
		}
		defer resp.Body.Close()

		var status statusResponse
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return pollMsg{err: err}
		}
		return pollMsg{status: status}
	}
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type tickMsg time.Time

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case pollMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.lastFetched = time.Now()
			m.table.SetRows(rowsFromStatus(msg.status))
		}
		return m, tick()
	case tickMsg:
		return m, m.poll()
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func rowsFromStatus(status statusResponse) []table.Row {
	rows := make([]table.Row, 0, len(status.Destination))
	for key, ep := range status.Destination {
		rows = append(rows, table.Row{
			key,
			fmt.Sprintf("%v", ep["active_connections"]),
			fmt.Sprintf("%v", ep["total_requests"]),
			fmt.Sprintf("%.1f", toFloat(ep["success_rate_percent"])),
			fmt.Sprintf("%v", ep["avg_latency_ms"]),
		})
	}
	return rows
}

func toFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}

func (m model) View() string {
	header := titleStyle.Render("sidecarproxy — data plane status")
	if m.lastErr != nil {
		return fmt.Sprintf("%s\n\n%s\n\n%s", header, errorStyle.Render("poll failed: "+m.lastErr.Error()), mutedStyle.Render("q to quit"))
	}

	status := mutedStyle.Render(fmt.Sprintf("last updated %s", m.lastFetched.Format(time.TimeOnly)))
	return fmt.Sprintf("%s\n%s\n\n%s\n\n%s", header, status, m.table.View(), mutedStyle.Render("q to quit"))
}
