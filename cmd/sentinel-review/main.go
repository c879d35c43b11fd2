// Command sentinel-review is a terminal UI for reviewing pending
// remediation actions: browse the approval queue, inspect an action's
// parameters and approve or reject it with a comment.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/stratoml/sentinel/internal/approval"
)

func main() {
	apiURL := flag.String("api", "http://localhost:8431", "Sentinel API URL")
	token := flag.String("token", "", "reviewer bearer token")
	reviewer := flag.String("reviewer", "", "reviewer identity (unused when the token carries one)")
	flag.Parse()

	client := &reviewClient{
		baseURL:  strings.TrimRight(*apiURL, "/"),
		token:    *token,
		reviewer: *reviewer,
		http:     &http.Client{Timeout: 15 * time.Second},
	}

	p := tea.NewProgram(newReviewModel(client), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI failed: %v\n", err)
		os.Exit(1)
	}
}

// ─────────────────────────────────────────────────────
// API client
// ─────────────────────────────────────────────────────

type reviewClient struct {
	baseURL  string
	token    string
	reviewer string
	http     *http.Client
}

func (c *reviewClient) pending() ([]approval.Request, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/api/approvals", nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	// the listing endpoint wraps the queue in {"count": N, "requests": [...]}
	var payload struct {
		Requests []approval.Request `json:"requests"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	requests := payload.Requests
	sort.Slice(requests, func(i, j int) bool {
		return requests[i].CreatedAt.Before(requests[j].CreatedAt)
	})
	return requests, nil
}

func (c *reviewClient) review(id, verb, comment string) error {
	body, err := json.Marshal(map[string]string{
		"reviewer": c.reviewer,
		"comment":  comment,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/approvals/%s/%s", c.baseURL, id, verb)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

// ─────────────────────────────────────────────────────
// Bubble Tea messages
// ─────────────────────────────────────────────────────

type queueLoadedMsg struct {
	requests []approval.Request
	err      error
}

type reviewDoneMsg struct {
	id   string
	verb string
	err  error
}

type refreshTickMsg struct{}

// ─────────────────────────────────────────────────────
// Styles
// ─────────────────────────────────────────────────────

var (
	accentColor  = lipgloss.Color("#06B6D4") // cyan
	successColor = lipgloss.Color("#10B981") // green
	errorColor   = lipgloss.Color("#EF4444") // red
	warnColor    = lipgloss.Color("#F59E0B") // amber
	mutedColor   = lipgloss.Color("#6B7280") // gray

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(accentColor).
			Padding(0, 1)

	detailStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(accentColor).
			Padding(0, 1)

	detailLabel = lipgloss.NewStyle().
			Foreground(mutedColor)

	statusOK   = lipgloss.NewStyle().Foreground(successColor)
	statusErr  = lipgloss.NewStyle().Foreground(errorColor)
	statusWarn = lipgloss.NewStyle().Foreground(warnColor)

	footerStyle = lipgloss.NewStyle().Foreground(mutedColor)

	riskStyles = map[string]lipgloss.Style{
		"low":    lipgloss.NewStyle().Foreground(successColor),
		"medium": lipgloss.NewStyle().Foreground(warnColor),
		"high":   lipgloss.NewStyle().Foreground(errorColor),
	}
)

// ─────────────────────────────────────────────────────
// Model
// ─────────────────────────────────────────────────────

type reviewMode int

const (
	modeBrowse reviewMode = iota
	modeComment
)

type reviewModel struct {
	client   *reviewClient
	table    table.Model
	comment  textinput.Model
	requests []approval.Request
	mode     reviewMode
	verb     string // pending review verb while in comment mode
	status   string
	statusOK bool
	width    int
	height   int
}

func newReviewModel(client *reviewClient) reviewModel {
	columns := []table.Column{
		{Title: "ID", Width: 14},
		{Title: "Action", Width: 18},
		{Title: "Risk", Width: 8},
		{Title: "Reason", Width: 44},
		{Title: "Expires", Width: 12},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(accentColor)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("#FFFFFF")).Background(accentColor)
	t.SetStyles(styles)

	ci := textinput.New()
	ci.Placeholder = "review comment (optional)"
	ci.CharLimit = 256

	return reviewModel{
		client:  client,
		table:   t,
		comment: ci,
		status:  "loading approval queue...",
	}
}

func (m reviewModel) Init() tea.Cmd {
	return tea.Batch(m.loadQueue(), refreshTick())
}

func (m reviewModel) loadQueue() tea.Cmd {
	return func() tea.Msg {
		requests, err := m.client.pending()
		return queueLoadedMsg{requests: requests, err: err}
	}
}

func (m reviewModel) submitReview(id, verb, comment string) tea.Cmd {
	return func() tea.Msg {
		return reviewDoneMsg{id: id, verb: verb, err: m.client.review(id, verb, comment)}
	}
}

func refreshTick() tea.Cmd {
	return tea.Tick(15*time.Second, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}

func (m reviewModel) selected() *approval.Request {
	idx := m.table.Cursor()
	if idx < 0 || idx >= len(m.requests) {
		return nil
	}
	return &m.requests[idx]
}

func (m reviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		if m.mode == modeComment {
			switch msg.String() {
			case "esc":
				m.mode = modeBrowse
				m.verb = ""
				m.comment.Reset()
				m.comment.Blur()
				return m, nil
			case "enter":
				req := m.selected()
				if req == nil {
					m.mode = modeBrowse
					return m, nil
				}
				comment := strings.TrimSpace(m.comment.Value())
				m.mode = modeBrowse
				m.comment.Reset()
				m.comment.Blur()
				m.status = fmt.Sprintf("submitting %s for %s...", m.verb, req.ID)
				m.statusOK = true
				return m, m.submitReview(req.ID, m.verb, comment)
			}
			var cmd tea.Cmd
			m.comment, cmd = m.comment.Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.status = "refreshing..."
			m.statusOK = true
			return m, m.loadQueue()
		case "a":
			if m.selected() != nil {
				m.mode = modeComment
				m.verb = "approve"
				m.comment.Focus()
				return m, textinput.Blink
			}
		case "x":
			if m.selected() != nil {
				m.mode = modeComment
				m.verb = "reject"
				m.comment.Focus()
				return m, textinput.Blink
			}
		}

	case queueLoadedMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("queue load failed: %v", msg.err)
			m.statusOK = false
			return m, nil
		}
		m.requests = msg.requests
		m.table.SetRows(buildRows(msg.requests))
		if m.table.Cursor() >= len(msg.requests) && len(msg.requests) > 0 {
			m.table.SetCursor(len(msg.requests) - 1)
		}
		m.status = fmt.Sprintf("%d pending request(s)", len(msg.requests))
		m.statusOK = true
		return m, nil

	case reviewDoneMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("%s %s failed: %v", msg.verb, msg.id, msg.err)
			m.statusOK = false
			return m, m.loadQueue()
		}
		m.status = fmt.Sprintf("%s %sd", msg.id, msg.verb)
		m.statusOK = true
		return m, m.loadQueue()

	case refreshTickMsg:
		if m.mode == modeBrowse {
			return m, tea.Batch(m.loadQueue(), refreshTick())
		}
		return m, refreshTick()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(max(6, m.height-14))
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func buildRows(requests []approval.Request) []table.Row {
	rows := make([]table.Row, 0, len(requests))
	for _, req := range requests {
		risk := string(req.Action.RiskLevel)
		if style, ok := riskStyles[risk]; ok {
			risk = style.Render(risk)
		}
		expires := time.Until(req.ExpiresAt).Truncate(time.Minute)
		rows = append(rows, table.Row{
			req.ID,
			string(req.Action.Type),
			risk,
			req.Action.Reason,
			expires.String(),
		})
	}
	return rows
}

func (m reviewModel) View() string {
	header := headerStyle.Render(" Sentinel · Approval Review ")

	body := m.table.View()

	detail := m.renderDetail()

	var footer string
	switch m.mode {
	case modeComment:
		footer = fmt.Sprintf("%s comment: %s\n%s",
			m.verb, m.comment.View(),
			footerStyle.Render("Enter: submit │ Esc: cancel"))
	default:
		footer = footerStyle.Render("a: approve │ x: reject │ r: refresh │ ↑↓: move │ q: quit")
	}

	statusLine := statusOK.Render(m.status)
	if !m.statusOK {
		statusLine = statusErr.Render(m.status)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header, "", body, "", detail, "", statusLine, footer)
}

func (m reviewModel) renderDetail() string {
	req := m.selected()
	if req == nil {
		return detailStyle.Render(footerStyle.Render("Queue is empty."))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n", detailLabel.Render("description:"), req.Action.Description)
	fmt.Fprintf(&sb, "%s %s\n", detailLabel.Render("impact:"), req.Action.EstimatedImpact)
	fmt.Fprintf(&sb, "%s %s\n", detailLabel.Render("created:"), req.CreatedAt.Local().Format(time.RFC3339))
	if len(req.Action.Parameters) > 0 {
		params, _ := json.Marshal(req.Action.Parameters)
		fmt.Fprintf(&sb, "%s %s\n", detailLabel.Render("parameters:"), params)
	}
	if time.Until(req.ExpiresAt) < time.Hour {
		sb.WriteString(statusWarn.Render("expires within the hour"))
		sb.WriteString("\n")
	}
	return detailStyle.Width(max(40, m.width-4)).Render(strings.TrimRight(sb.String(), "\n"))
}
