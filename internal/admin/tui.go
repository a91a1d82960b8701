// Package admin renders a local terminal dashboard over the brief database.
package admin

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/xiy/brief-engine/internal/store"
)

type tickMsg time.Time
type dashboardMsg struct {
	stats    store.Stats
	reqLogs  []store.MCPRequestLog
	items    []store.RecentItem
	runs     []store.ConsolidationRun
	err      error
	duration time.Duration
}

// DashboardStore is the read side the dashboard polls.
type DashboardStore interface {
	Stats(ctx context.Context) (store.Stats, error)
	RecentMCPRequestLogs(ctx context.Context, limit int) ([]store.MCPRequestLog, error)
	RecentItemsAll(ctx context.Context, limit int) ([]store.RecentItem, error)
	RecentConsolidationRuns(ctx context.Context, limit int) ([]store.ConsolidationRun, error)
}

type model struct {
	ctx      context.Context
	st       DashboardStore
	refresh  time.Duration
	stats    store.Stats
	reqLogs  []store.MCPRequestLog
	items    []store.RecentItem
	runs     []store.ConsolidationRun
	lastErr  error
	lastTick time.Time
	logLines []string
	maxLogs  int
	limit    int
	width    int
	height   int
}

// Run starts the dashboard and blocks until the user quits.
func Run(ctx context.Context, st DashboardStore, refresh time.Duration) error {
	if refresh <= 0 {
		refresh = 2 * time.Second
	}
	m := model{ctx: ctx, st: st, refresh: refresh, maxLogs: 10, limit: 8}
	m = m.appendLog("admin UI started")
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func (m model) Init() tea.Cmd {
	return tea.Batch(fetchDashboardCmd(m.ctx, m.st, m.limit), tickCmd(m.refresh))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m = m.appendLog("received quit signal")
			return m, tea.Quit
		case "r":
			return m, fetchDashboardCmd(m.ctx, m.st, m.limit)
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		m.lastTick = time.Time(msg)
		return m, tea.Batch(fetchDashboardCmd(m.ctx, m.st, m.limit), tickCmd(m.refresh))
	case dashboardMsg:
		m.lastErr = msg.err
		if msg.err != nil {
			m = m.appendLog(fmt.Sprintf("refresh error: %v", msg.err))
			break
		}
		m.stats = msg.stats
		m.reqLogs = msg.reqLogs
		m.items = msg.items
		m.runs = msg.runs
		m = m.appendLog(fmt.Sprintf(
			"refresh ok users=%d items=%d feedback=%d runs=%d (%s)",
			msg.stats.Users,
			msg.stats.Items,
			msg.stats.FeedbackEvents,
			msg.stats.Runs,
			formatDuration(msg.duration),
		))
	}
	return m, nil
}

func (m model) View() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Render("brief-engine admin")
	meta := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).
		Render(fmt.Sprintf("q to quit • r to refresh • every %s", m.refresh))

	logBody := "(no log events yet)"
	if len(m.logLines) > 0 {
		logBody = strings.Join(m.logLines, "\n")
	}

	paneWidth := 54
	if m.width > 0 {
		paneWidth = max(38, (m.width-3)/2)
	}
	paneHeight := 8
	if m.height > 0 {
		paneHeight = max(6, (m.height-10)/3)
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		title,
		meta,
		"",
		joinColumns(
			renderPane("Stats", m.renderStats(), paneWidth, paneHeight),
			renderPane("General Logs", logBody, paneWidth, paneHeight),
		),
		joinColumns(
			renderPane("MCP Requests", formatRequestPane(m.reqLogs), paneWidth, paneHeight),
			renderPane("Recent Items", formatRecentItemsPane(m.items), paneWidth, paneHeight),
		),
		renderPane("Consolidation Runs", formatRunsPane(m.runs), 2*paneWidth+1, paneHeight),
	)
}

func (m model) renderStats() string {
	body := fmt.Sprintf(
		"Users:           %d\nItems:           %d\nSightings:       %d\nFeedback events: %d\nConsolidations:  %d\nLast refresh:    %s",
		m.stats.Users,
		m.stats.Items,
		m.stats.Sightings,
		m.stats.FeedbackEvents,
		m.stats.Runs,
		formatTime(m.lastTick),
	)
	if m.lastErr != nil {
		body += "\n\nLast error: " + truncateText(compactWhitespace(m.lastErr.Error()), 120)
	}
	return body
}

func fetchDashboardCmd(ctx context.Context, st DashboardStore, limit int) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()
		s, err := st.Stats(ctx)
		if err != nil {
			return dashboardMsg{err: err, duration: time.Since(start)}
		}
		out := dashboardMsg{stats: s}
		if out.reqLogs, err = st.RecentMCPRequestLogs(ctx, limit); err != nil {
			out.err = err
		} else if out.items, err = st.RecentItemsAll(ctx, limit); err != nil {
			out.err = err
		} else if out.runs, err = st.RecentConsolidationRuns(ctx, limit); err != nil {
			out.err = err
		}
		out.duration = time.Since(start)
		return out
	}
}

func tickCmd(every time.Duration) tea.Cmd {
	return tea.Tick(every, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func (m model) appendLog(line string) model {
	if strings.TrimSpace(line) == "" {
		return m
	}
	entry := fmt.Sprintf("[%s] %s", time.Now().UTC().Format("15:04:05"), line)
	m.logLines = append(m.logLines, entry)
	if m.maxLogs <= 0 {
		m.maxLogs = 10
	}
	if len(m.logLines) > m.maxLogs {
		m.logLines = m.logLines[len(m.logLines)-m.maxLogs:]
	}
	return m
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return d.String()
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(10 * time.Millisecond).String()
}

func renderPane(title, body string, width, height int) string {
	style := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	if width > 0 {
		style = style.Width(width)
	}
	if height > 0 {
		style = style.Height(height)
	}
	return style.Render(title + "\n\n" + body)
}

func joinColumns(left, right string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right)
}

func formatRequestPane(rows []store.MCPRequestLog) string {
	if len(rows) == 0 {
		return "(no MCP requests yet)"
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		method := strings.TrimSpace(row.Method)
		if row.ToolName != "" {
			method += ":" + strings.TrimSpace(row.ToolName)
		}
		status := "ok"
		if !row.Success {
			status = "err"
		}
		line := fmt.Sprintf(
			"[%s] %-3s %-26s %4dms",
			formatClock(row.CreatedAt),
			status,
			truncateText(method, 26),
			max(0, row.DurationMS),
		)
		if !row.Success && strings.TrimSpace(row.ErrorText) != "" {
			line += " " + truncateText(compactWhitespace(row.ErrorText), 52)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatRecentItemsPane(rows []store.RecentItem) string {
	if len(rows) == 0 {
		return "(no items yet)"
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		title := row.Title
		if strings.TrimSpace(title) == "" {
			title = "(untitled)"
		}
		lines = append(lines, fmt.Sprintf(
			"[%s] %-10s %-8s x%-3d %s :: %s",
			formatClock(row.LastSeenAt),
			truncateText(row.Source, 10),
			truncateText(row.ItemType, 8),
			row.SeenCount,
			truncateText(row.UserID, 12),
			truncateText(compactWhitespace(title), 56),
		))
	}
	return strings.Join(lines, "\n")
}

func formatRunsPane(rows []store.ConsolidationRun) string {
	if len(rows) == 0 {
		return "(no consolidation runs yet)"
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		r := row.Result
		lines = append(lines, fmt.Sprintf(
			"[%s] %-12s events=%-4d skipped=%-3d +topics=%d +projects=%d +vips=%d ~updated=%d -removed=%d sources=%d",
			formatClock(row.StartedAt),
			truncateText(row.UserID, 12),
			row.EventsProcessed,
			r.EventsSkipped,
			r.TopicsAdded,
			r.ProjectsAdded,
			r.VIPsAdded,
			r.TopicsUpdated,
			r.TopicsRemoved,
			r.SourcesUpdated,
		))
	}
	return strings.Join(lines, "\n")
}

func formatClock(t time.Time) string {
	if t.IsZero() {
		return "--:--:--"
	}
	return t.UTC().Format("15:04:05")
}

func truncateText(s string, limit int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit <= 3 {
		return string(r[:limit])
	}
	return string(r[:limit-3]) + "..."
}

func compactWhitespace(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}
