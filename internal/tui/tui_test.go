package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epoch-crank/internal/crank"
	"epoch-crank/internal/ledger/ledgertest"
	"epoch-crank/internal/models"
)

func sized(t *testing.T, m Model, w, h int) Model {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: w, Height: h})
	return next.(Model)
}

func TestViewBeforeResize(t *testing.T) {
	assert.Equal(t, "Loading...", NewModel().View())
}

func TestViewRendersRounds(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := sized(t, NewModel(), 120, 30)
	m.now = func() time.Time { return now }

	next, _ := m.Update(RoundsMsg{Rounds: []RoundInfo{
		{ID: 1, Status: models.RoundClosed, Processed: true, End: now.Add(-time.Hour)},
		{ID: 2, Status: models.RoundClosed, End: now.Add(-time.Minute), Proposals: 4, Active: 3},
		{ID: 3, Status: models.RoundActive, End: now.Add(90 * time.Minute)},
	}})
	m = next.(Model)
	next, _ = m.Update(HeaderMsg{Header: HeaderInfo{Endpoint: "http://node:26657", Interval: time.Minute}})
	m = next.(Model)

	view := m.View()
	assert.Contains(t, view, "#3")
	assert.Contains(t, view, "in 1h30m0s")
	assert.Contains(t, view, "3/4")
	assert.Contains(t, view, "1 active, 1 awaiting crank")
	assert.Contains(t, view, "http://node:26657")

	for _, line := range strings.Split(view, "\n") {
		assert.LessOrEqual(t, runewidth.StringWidth(line), 120, line)
	}
}

func TestRoundEventsTrackResolving(t *testing.T) {
	m := sized(t, NewModel(), 100, 20)

	next, _ := m.Update(RoundEventMsg{Event: RoundEvent{RoundID: 7, Resolving: true}})
	m = next.(Model)
	assert.True(t, m.resolving[7])
	assert.Equal(t, "⏳", m.statusSymbol(RoundInfo{ID: 7, Status: models.RoundClosed}))

	next, _ = m.Update(RoundEventMsg{Event: RoundEvent{RoundID: 7, Success: true, Message: "done"}})
	m = next.(Model)
	assert.False(t, m.resolving[7])
	assert.Equal(t, "🔒", m.statusSymbol(RoundInfo{ID: 7, Status: models.RoundClosed}))
}

func TestQuitKeys(t *testing.T) {
	_, cmd := NewModel().Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestToMsg(t *testing.T) {
	assert.IsType(t, HeaderMsg{}, toMsg(HeaderInfo{}))
	assert.IsType(t, RoundsMsg{}, toMsg([]RoundInfo{}))
	assert.IsType(t, RoundEventMsg{}, toMsg(RoundEvent{}))
	assert.IsType(t, RunMsg{}, toMsg(RunInfo{}))
	assert.Nil(t, toMsg("noise"))
}

func TestSnapshotCountsUnprocessedProposals(t *testing.T) {
	l := ledgertest.New()
	l.AddRound(models.Round{ID: 1, Status: models.RoundClosed, Processed: true})
	l.AddRound(models.Round{ID: 2, Status: models.RoundClosed})
	l.AddProposals(2,
		models.Proposal{ID: "A", Status: models.ProposalActive},
		models.Proposal{ID: "B", Status: models.ProposalRejected})

	rounds, err := Snapshot(context.Background(), l)
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	assert.Zero(t, rounds[0].Proposals)
	assert.Equal(t, 2, rounds[1].Proposals)
	assert.Equal(t, 1, rounds[1].Active)
	assert.Len(t, l.CallsOf("proposals"), 1)
}

func TestFeedDropsWhenFull(t *testing.T) {
	f := NewFeed(1)
	f.RoundStarted(crank.Candidate{Round: models.Round{ID: 1}})
	f.RoundFinished(crank.Result{RoundID: 1, Success: true})

	ev := (<-f.Updates()).(RoundEvent)
	assert.True(t, ev.Resolving)
	select {
	case v := <-f.Updates():
		t.Fatalf("unexpected update %v", v)
	default:
	}
}

func TestPollReportsErrors(t *testing.T) {
	l := ledgertest.New()
	l.FailRead("rounds", errors.New("node down"))
	f := NewFeed(8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.Poll(ctx, l, HeaderInfo{Endpoint: "x"}, time.Hour, zerolog.Nop()))

	h := (<-f.Updates()).(HeaderInfo)
	assert.Equal(t, "node down", h.PollError)
	assert.Equal(t, time.Hour, h.Interval)
}

func TestPollRejectsNonPositiveInterval(t *testing.T) {
	f := NewFeed(1)
	for _, d := range []time.Duration{0, -time.Second} {
		err := f.Poll(context.Background(), ledgertest.New(), HeaderInfo{}, d, zerolog.Nop())
		assert.Error(t, err, d)
	}
	select {
	case v := <-f.Updates():
		t.Fatalf("unexpected update %v", v)
	default:
	}
}
