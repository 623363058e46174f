package main

import (
	"context"
	"fmt"
	"time"

	tea "charm.land/bubbletea/v2"
	"charm.land/bubbles/v2/table"
	"charm.land/lipgloss/v2"
	"github.com/muesli/reflow/wordwrap"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"github.com/ixsystems/zlinkd/internal/link"
)

const statusRefreshInterval = 5 * time.Second

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "live view of every link's role and last sync outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := newStatusModel(clientFromFlags())
			_, err := tea.NewProgram(m).Run()
			return err
		},
	}
}

type linkRow struct {
	link.Link
	status  link.LinkStatus
	at      time.Time
	present bool
}

type statusTickMsg time.Time

type statusLoadedMsg struct {
	rows []linkRow
	err  error
}

// statusModel is the bubbletea model behind `zlinkctl status`: a
// refreshing table of every link's topology plus its last published
// LinkStatus, with a '/' fuzzy filter over link names.
type statusModel struct {
	c          *client
	table      table.Model
	rows       []linkRow
	filter     string
	filterMode bool
	err        error
	width      int
	height     int
}

func newStatusModel(c *client) statusModel {
	columns := []table.Column{
		{Title: "LINK", Width: 20},
		{Title: "MASTER", Width: 15},
		{Title: "DATASETS", Width: 28},
		{Title: "STATUS", Width: 10},
		{Title: "AGE", Width: 10},
		{Title: "MESSAGE", Width: 30},
	}
	t := table.New(table.WithColumns(columns), table.WithFocused(true), table.WithHeight(20))
	return statusModel{c: c, table: t}
}

func (m statusModel) Init() tea.Cmd {
	return tea.Batch(m.load(), tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(statusRefreshInterval, func(t time.Time) tea.Msg { return statusTickMsg(t) })
}

func (m statusModel) load() tea.Cmd {
	c := m.c
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeoutFlag)
		defer cancel()

		links, err := c.ListLinks(ctx)
		if err != nil {
			return statusLoadedMsg{err: err}
		}
		rows := make([]linkRow, 0, len(links))
		for _, l := range links {
			st, err := c.LinkStatus(ctx, l.Name)
			row := linkRow{Link: l}
			if err == nil && st.Present {
				row.status, row.present = st.LinkStatus, true
				row.at, _ = time.Parse("2006-01-02T15:04:05Z", st.At)
			}
			rows = append(rows, row)
		}
		return statusLoadedMsg{rows: rows}
	}
}

func (m statusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.table.SetHeight(msg.Height - 6)
		return m, nil

	case statusTickMsg:
		return m, tea.Batch(m.load(), tickCmd())

	case statusLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.rows = msg.rows
		m.table.SetRows(filteredRows(m.rows, m.filter))
		return m, nil

	case tea.KeyMsg:
		if m.filterMode {
			switch msg.String() {
			case "enter", "esc":
				m.filterMode = false
			case "backspace":
				if len(m.filter) > 0 {
					m.filter = m.filter[:len(m.filter)-1]
				}
			default:
				if len(msg.String()) == 1 {
					m.filter += msg.String()
				}
			}
			m.table.SetRows(filteredRows(m.rows, m.filter))
			return m, nil
		}

		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "/":
			m.filterMode = true
			return m, nil
		case "r":
			return m, m.load()
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// filteredRows narrows rows to those whose name fuzzy-matches query (all
// rows if query is empty), rendered into table.Row form.
func filteredRows(rows []linkRow, query string) []table.Row {
	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = r.Name
	}

	indices := make([]int, len(rows))
	for i := range indices {
		indices[i] = i
	}
	if query != "" {
		matches := fuzzy.Find(query, names)
		indices = indices[:0]
		for _, match := range matches {
			indices = append(indices, match.Index)
		}
	}

	out := make([]table.Row, 0, len(indices))
	for _, i := range indices {
		r := rows[i]
		status, age, msg := "unknown", "-", ""
		if r.present {
			status = string(r.status.Status)
			age = time.Since(r.at).Truncate(time.Second).String()
			msg = wordwrap.String(r.status.Message, 30)
		}
		out = append(out, table.Row{r.Name, r.Master, joinDatasets(r.Datasets), status, age, msg})
	}
	return out
}

func joinDatasets(ds []string) string {
	out := ""
	for i, d := range ds {
		if i > 0 {
			out += ","
		}
		out += d
	}
	return out
}

var (
	statusHeaderStyle = lipgloss.NewStyle().Bold(true)
	statusErrStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func (m statusModel) View() tea.View {
	header := statusHeaderStyle.Render("zlinkd replication links")
	hint := "q quit  r refresh  / filter"
	if m.filterMode {
		hint = fmt.Sprintf("filter: %s_", m.filter)
	}
	body := m.table.View()
	if m.err != nil {
		body = statusErrStyle.Render(fmt.Sprintf("error: %v", m.err))
	}
	return tea.NewView(fmt.Sprintf("%s\n\n%s\n\n%s\n", header, body, hint))
}
