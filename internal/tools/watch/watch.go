package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/KetaVip/license-bot/internal/domain"
)

// NewCommand builds the live license viewer. It is read-only: it polls the
// admin list endpoint and renders whatever the service reports.
func NewCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live view of active licenses",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient(opts.baseURL, opts.token)
			p := tea.NewProgram(newModel(client, opts.interval))
			_, err := p.Run()
			return err
		},
	}
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "license service base URL")
	cmd.Flags().StringVar(&opts.token, "token", "", "operator bearer token")
	cmd.Flags().DurationVar(&opts.interval, "interval", 5*time.Second, "poll interval")
	return cmd
}

type options struct {
	baseURL  string
	token    string
	interval time.Duration
}

type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func newClient(baseURL, token string) *client {
	return &client{baseURL: baseURL, token: token, http: &http.Client{Timeout: 10 * time.Second}}
}

type listEnvelope struct {
	Success bool                   `json:"success"`
	Data    []domain.LicenseRecord `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *client) listLicenses(ctx context.Context) ([]domain.LicenseRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/licenses", nil)
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
	defer func() { _ = resp.Body.Close() }()

	var envelope listEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !envelope.Success {
		if envelope.Error != nil {
			return nil, fmt.Errorf("%s: %s", envelope.Error.Code, envelope.Error.Message)
		}
		return nil, fmt.Errorf("request failed with status %s", resp.Status)
	}
	records := envelope.Data
	sort.Slice(records, func(i, j int) bool { return records[i].ExpiresAt.Before(records[j].ExpiresAt) })
	return records, nil
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")).Padding(0, 1)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	rowStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	soonStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	faintStyle  = lipgloss.NewStyle().Faint(true)
)

type model struct {
	client   *client
	interval time.Duration
	records  []domain.LicenseRecord
	fetchErr error
	fetched  time.Time
}

func newModel(c *client, interval time.Duration) model {
	return model{client: c, interval: interval}
}

type tickMsg time.Time

type fetchedMsg struct {
	records []domain.LicenseRecord
	err     error
}

func (m model) Init() tea.Cmd {
	return m.fetch
}

func (m model) fetch() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	records, err := m.client.listLicenses(ctx)
	return fetchedMsg{records: records, err: err}
}

func (m model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.fetch
		}
	case fetchedMsg:
		m.fetchErr = msg.err
		if msg.err == nil {
			m.records = msg.records
			m.fetched = time.Now()
		}
		return m, m.tick()
	case tickMsg:
		return m, m.fetch
	}
	return m, nil
}

func (m model) View() string {
	s := titleStyle.Render("active licenses") + "\n\n"
	if m.fetchErr != nil {
		s += errStyle.Render("fetch failed: "+m.fetchErr.Error()) + "\n\n"
	}
	s += renderTable(m.records, time.Now().UTC())
	s += "\n" + faintStyle.Render(fmt.Sprintf("refreshed %s · r refresh · q quit", m.fetched.Format("15:04:05")))
	return s
}

func renderTable(records []domain.LicenseRecord, now time.Time) string {
	if len(records) == 0 {
		return faintStyle.Render("no active licenses") + "\n"
	}
	s := headerStyle.Render(fmt.Sprintf("%-20s %-10s %-12s %-15s", "SUBJECT", "KEY", "EXPIRES", "BOUND IP")) + "\n"
	for _, rec := range records {
		ip := "unbound"
		if rec.BoundIP != nil {
			ip = *rec.BoundIP
		}
		line := fmt.Sprintf("%-20d %-10s %-12s %-15s",
			rec.SubjectID, keyPrefix(rec.HWID), rec.ExpiresAt.Format("2006-01-02"), ip)
		style := rowStyle
		if rec.ExpiresAt.Sub(now) < 72*time.Hour {
			style = soonStyle
		}
		s += style.Render(line) + "\n"
	}
	return s
}

func keyPrefix(hwid string) string {
	if len(hwid) <= 8 {
		return hwid
	}
	return hwid[:8] + "…"
}
