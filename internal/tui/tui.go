package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"epoch-crank/internal/models"
)

func padToWidth(s string, width int) string {
	current := runewidth.StringWidth(s)
	if current >= width {
		return s
	}
	return s + strings.Repeat(" ", width-current)
}

// truncateToWidth cuts s by display width, marking the cut with "...".
func truncateToWidth(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "...")
}

func separatorLine(width int) string {
	if width < 2 {
		return strings.Repeat("─", width)
	}
	return "├" + strings.Repeat("─", width-2) + "┤"
}

func formatInfoLine(text string, width int) string {
	if width < 2 {
		return padToWidth(text, width)
	}
	return "│" + padToWidth(truncateToWidth(text, width-2), width-2) + "│"
}

// HeaderInfo describes the crank itself.
type HeaderInfo struct {
	Endpoint  string
	Signer    string
	Authority string
	Interval  time.Duration
	Polled    time.Time
	PollError string
}

// RoundInfo is one row of the rounds grid.
type RoundInfo struct {
	ID        uint64
	Status    models.RoundStatus
	Processed bool
	End       time.Time
	Proposals int
	Active    int
}

// RoundEvent reports crank progress on a single round.
type RoundEvent struct {
	RoundID   uint64
	Resolving bool
	Success   bool
	Message   string
	At        time.Time
}

// RunInfo summarizes the latest crank run.
type RunInfo struct {
	Success   bool
	Message   string
	Processed int
	Errors    int
	At        time.Time
}

type HeaderMsg struct {
	Header HeaderInfo
}

type RoundsMsg struct {
	Rounds []RoundInfo
}

type RoundEventMsg struct {
	Event RoundEvent
}

type RunMsg struct {
	Run RunInfo
}

// Model holds the TUI state
type Model struct {
	header    HeaderInfo
	rounds    []RoundInfo
	resolving map[uint64]bool
	lastEvent RoundEvent
	lastRun   RunInfo
	now       func() time.Time
	width     int
	height    int
}

func NewModel() Model {
	return Model{
		rounds:    []RoundInfo{},
		resolving: make(map[uint64]bool),
		now:       time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case HeaderMsg:
		m.header = msg.Header
		return m, nil

	case RoundsMsg:
		m.rounds = msg.Rounds
		return m, nil

	case RoundEventMsg:
		resolving := make(map[uint64]bool, len(m.resolving)+1)
		for id, v := range m.resolving {
			resolving[id] = v
		}
		if msg.Event.Resolving {
			resolving[msg.Event.RoundID] = true
		} else {
			delete(resolving, msg.Event.RoundID)
		}
		m.resolving = resolving
		m.lastEvent = msg.Event
		return m, nil

	case RunMsg:
		m.lastRun = msg.Run
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), m.renderRounds())
}

// renderHeader renders the two-column top section.
func (m Model) renderHeader() string {
	colWidth := (m.width - 3) / 2
	rightColWidth := m.width - colWidth - 3

	polled := "never"
	if !m.header.Polled.IsZero() {
		polled = m.header.Polled.Format(time.TimeOnly)
	}
	leftLines := []string{
		fmt.Sprintf("node: %s", orNA(m.header.Endpoint)),
		fmt.Sprintf("signer: %s", orNA(m.header.Signer)),
		fmt.Sprintf("authority: %s", orNA(m.header.Authority)),
		fmt.Sprintf("polled: %s every %s", polled, m.header.Interval),
	}
	if m.header.PollError != "" {
		leftLines[3] = "poll error: " + m.header.PollError
	}

	active, pending := 0, 0
	for _, r := range m.rounds {
		switch {
		case r.Status == models.RoundActive:
			active++
		case r.Resolvable():
			pending++
		}
	}
	lastRun := "last run: none"
	if !m.lastRun.At.IsZero() {
		lastRun = fmt.Sprintf("last run: %s %s", m.lastRun.At.Format(time.TimeOnly), okSymbol(m.lastRun.Success))
	}
	lastEvent := "last round: none"
	if m.lastEvent.RoundID != 0 {
		lastEvent = fmt.Sprintf("last round: #%d %s", m.lastEvent.RoundID, orNA(m.lastEvent.Message))
	}
	rightLines := []string{
		fmt.Sprintf("rounds: %d active, %d awaiting crank", active, pending),
		lastRun,
		fmt.Sprintf("processed=%d errors=%d", m.lastRun.Processed, m.lastRun.Errors),
		lastEvent,
	}

	rows := make([]string, 0, len(leftLines))
	for i := range leftLines {
		left := padToWidth(truncateToWidth(leftLines[i], colWidth-2), colWidth-2)
		right := padToWidth(truncateToWidth(rightLines[i], rightColWidth-2), rightColWidth-2)
		rows = append(rows, fmt.Sprintf("│ %s │ %s │", left, right))
	}

	topBorder := fmt.Sprintf("┌%s┬%s┐",
		strings.Repeat("─", colWidth),
		strings.Repeat("─", rightColWidth))
	separator := fmt.Sprintf("├%s┴%s┤",
		strings.Repeat("─", colWidth),
		strings.Repeat("─", rightColWidth))

	return topBorder + "\n" + strings.Join(rows, "\n") + "\n" + separator
}

// renderRounds renders the rounds grid, newest first.
func (m Model) renderRounds() string {
	bottomBorder := "└" + strings.Repeat("─", max(m.width-2, 0)) + "┘"
	if len(m.rounds) == 0 {
		return formatInfoLine("no rounds on the ledger", m.width) + "\n" + bottomBorder
	}

	// Subtract the header and legend rows.
	maxRows := m.height - 9
	if maxRows <= 0 {
		return bottomBorder
	}

	cols := 3
	separatorWidth := runewidth.StringWidth("│")
	colWidth := (m.width - separatorWidth*(cols+1)) / cols
	if colWidth < 24 {
		colWidth = 24
	}

	ordered := make([]RoundInfo, len(m.rounds))
	for i := range m.rounds {
		ordered[i] = m.rounds[len(m.rounds)-1-i]
	}

	rows := (len(ordered) + cols - 1) / cols
	if rows > maxRows {
		rows = maxRows
	}

	var lines []string
	for row := 0; row < rows; row++ {
		cells := make([]string, 0, cols)
		for col := 0; col < cols; col++ {
			idx := row*cols + col
			cell := ""
			if idx < len(ordered) {
				cell = m.formatRound(ordered[idx])
			}
			cells = append(cells, padToWidth(truncateToWidth(cell, colWidth), colWidth))
		}
		line := "│" + strings.Join(cells, "│") + "│"
		if w := runewidth.StringWidth(line); w < m.width {
			line = line[:len(line)-len("│")] + strings.Repeat(" ", m.width-w) + "│"
		}
		lines = append(lines, line)
	}

	return strings.Join(lines, "\n") + "\n" + separatorLine(m.width) + "\n" +
		formatInfoLine("Round, Status, Proposals (active/total), Ends", m.width) + "\n" + bottomBorder
}

func (m Model) formatRound(r RoundInfo) string {
	ends := r.End.Format("01-02 15:04")
	if r.Status == models.RoundActive {
		if left := r.End.Sub(m.now()); left > 0 {
			ends = "in " + left.Truncate(time.Minute).String()
		} else {
			ends = "overdue"
		}
	}
	return fmt.Sprintf(" #%-10d %s %3d/%-3d %s", r.ID, m.statusSymbol(r), r.Active, r.Proposals, ends)
}

func (m Model) statusSymbol(r RoundInfo) string {
	switch {
	case m.resolving[r.ID]:
		return "⏳"
	case r.Processed:
		return "✅"
	case r.Status == models.RoundClosed:
		return "🔒"
	case r.Status == models.RoundActive:
		return "🟢"
	default:
		return "❔"
	}
}

// Resolvable mirrors models.Round.Resolvable for a grid row.
func (r RoundInfo) Resolvable() bool {
	return r.Status == models.RoundClosed && !r.Processed
}

func okSymbol(ok bool) string {
	if ok {
		return "✅"
	}
	return "❌"
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// Run starts the TUI program and feeds it from updateCh until the channel
// closes.
func Run(updateCh <-chan any) error {
	m := NewModel()
	p := tea.NewProgram(m, tea.WithAltScreen())

	go func() {
		for data := range updateCh {
			if msg := toMsg(data); msg != nil {
				p.Send(msg)
			}
		}
		// Channel closed, quit TUI
		p.Quit()
	}()

	_, err := p.Run()
	return err
}

func toMsg(data any) tea.Msg {
	switch v := data.(type) {
	case HeaderInfo:
		return HeaderMsg{Header: v}
	case []RoundInfo:
		return RoundsMsg{Rounds: v}
	case RoundEvent:
		return RoundEventMsg{Event: v}
	case RunInfo:
		return RunMsg{Run: v}
	default:
		return nil
	}
}
