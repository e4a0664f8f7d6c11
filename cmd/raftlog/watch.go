package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/i-melnichenko/raftlog/internal/raftlog"
	"github.com/i-melnichenko/raftlog/internal/workload"
)

const watchRefreshInterval = 500 * time.Millisecond

type statusDoc struct {
	Log      raftlog.Status  `json:"log"`
	Workload *workload.Stats `json:"workload,omitempty"`
}

type watchRow struct {
	addr   string
	status statusDoc
	err    string
}

type tickMsg time.Time

type rowsMsg struct {
	rows []watchRow
	ts   time.Time
}

type watchModel struct {
	addrs   []string
	client  *http.Client
	timeout time.Duration
	rows    []watchRow
	ts      time.Time
	width   int
}

var watchColumns = []struct {
	label string
	width int
}{
	{"ADDR", 24},
	{"LOG", 10},
	{"STATUS", 18},
	{"APPEND", 10},
	{"TERM", 6},
	{"PREV", 10},
	{"SEGS", 5},
	{"SIZE", 10},
	{"COMMIT", 10},
	{"ERROR", 0},
}

func cmdWatch(addrs []string, timeout time.Duration) error {
	if len(addrs) == 0 {
		return fmt.Errorf("no addresses provided")
	}
	p := tea.NewProgram(newWatchModel(addrs, timeout), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func newWatchModel(addrs []string, timeout time.Duration) watchModel {
	return watchModel{
		addrs:   addrs,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		width:   120,
	}
}

func (m watchModel) Init() tea.Cmd {
	// The next tick is scheduled when a poll returns, so at most one poll is in flight.
	return m.pollCmd()
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tickMsg:
		return m, m.pollCmd()
	case rowsMsg:
		m.rows = msg.rows
		m.ts = msg.ts
		return m, tea.Tick(watchRefreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString("  ")
	b.WriteString(styles.title.Render("raftlog watch"))
	b.WriteString("  ")
	if !m.ts.IsZero() {
		b.WriteString(styles.dim.Render(m.ts.Format(time.RFC3339)))
	}
	b.WriteString("\n\n")
	b.WriteString(renderWatchTable(m.rows))
	b.WriteString("\n")
	b.WriteString("  ")
	b.WriteString(styles.dim.Render("q to exit"))
	return b.String()
}

func (m watchModel) pollCmd() tea.Cmd {
	addrs, client, timeout := m.addrs, m.client, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return rowsMsg{rows: pollStatus(ctx, client, addrs), ts: time.Now()}
	}
}

func pollStatus(ctx context.Context, client *http.Client, addrs []string) []watchRow {
	rows := make([]watchRow, len(addrs))
	var wg sync.WaitGroup
	for i, addr := range addrs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rows[i] = fetchStatus(ctx, client, addr)
		}()
	}
	wg.Wait()
	return rows
}

// fetchStatus reads /status; a 503 still carries a body worth showing.
func fetchStatus(ctx context.Context, client *http.Client, addr string) watchRow {
	row := watchRow{addr: addr}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/status", nil)
	if err != nil {
		row.err = err.Error()
		return row
	}
	resp, err := client.Do(req)
	if err != nil {
		row.err = err.Error()
		return row
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		row.err = resp.Status
		return row
	}
	if err := json.NewDecoder(resp.Body).Decode(&row.status); err != nil {
		row.err = fmt.Sprintf("decode status: %v", err)
	}
	return row
}

func renderWatchTable(rows []watchRow) string {
	var b strings.Builder
	labels := make([]string, len(watchColumns))
	for i, c := range watchColumns {
		labels[i] = pad(c.label, c.width)
	}
	b.WriteString(styles.header.Render(strings.Join(labels, " ")))
	b.WriteString("\n")
	for _, r := range rows {
		b.WriteString(watchRowLine(r))
		b.WriteString("\n")
	}
	return b.String()
}

func watchRowLine(r watchRow) string {
	if r.err != "" {
		cells := []string{pad(r.addr, watchColumns[0].width)}
		for _, c := range watchColumns[1 : len(watchColumns)-1] {
			cells = append(cells, pad("-", c.width))
		}
		cells = append(cells, styles.bad.Render(shorten(r.err, 60)))
		return strings.Join(cells, " ")
	}

	st := r.status.Log
	commit := "-"
	if r.status.Workload != nil {
		commit = strconv.FormatInt(r.status.Workload.CommitIndex, 10)
	}
	cells := []string{
		pad(r.addr, watchColumns[0].width),
		pad(st.Name, watchColumns[1].width),
		renderLogStatus(st.Status, watchColumns[2].width),
		pad(strconv.FormatInt(st.AppendIndex, 10), watchColumns[3].width),
		styles.term.Render(pad(strconv.FormatInt(st.CurrentTerm, 10), watchColumns[4].width)),
		pad(strconv.FormatInt(st.PrevIndex, 10), watchColumns[5].width),
		pad(strconv.Itoa(len(st.Segments)), watchColumns[6].width),
		pad(formatBytes(st.SizeBytes), watchColumns[7].width),
		pad(commit, watchColumns[8].width),
		"",
	}
	return strings.TrimRight(strings.Join(cells, " "), " ")
}

func renderLogStatus(s raftlog.LogStatus, width int) string {
	text := pad(string(s), width)
	switch s {
	case raftlog.LogStatusHealthy:
		return styles.ok.Render(text)
	case raftlog.LogStatusRequiresRecovery:
		return styles.bad.Render(text)
	default:
		return styles.warn.Render(text)
	}
}

func shorten(s string, n int) string {
	if n <= 3 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
