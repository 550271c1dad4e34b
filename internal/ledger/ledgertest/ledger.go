// Package ledgertest provides an in-memory ledger.Ledger that enforces the
// program's transition rules and lets tests inject failures.
package ledgertest

import (
	"context"
	"fmt"
	"sync"

	"epoch-crank/internal/ledger"
	"epoch-crank/internal/models"
)

// Call is one entry of the call log.
type Call struct {
	Op         string
	RoundID    uint64
	ProposalID string
	Status     models.ProposalStatus
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu        sync.Mutex
	rounds    []models.Round
	proposals map[uint64][]models.Proposal
	authority string
	calls     []Call
	txSeq     int

	rateLimitNext int
	writeFaults   map[int]error
	proposalFault map[string]error
	readFaults    map[string]error
	writes        int
}

func New() *Ledger {
	return &Ledger{
		proposals:     make(map[uint64][]models.Proposal),
		writeFaults:   make(map[int]error),
		proposalFault: make(map[string]error),
		readFaults:    make(map[string]error),
	}
}

// AddRound appends r in ledger order.
func (l *Ledger) AddRound(r models.Round) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rounds = append(l.rounds, r)
}

// AddProposals appends proposals to round roundID, fixing their RoundID.
func (l *Ledger) AddProposals(roundID uint64, ps ...models.Proposal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range ps {
		p.RoundID = roundID
		l.proposals[roundID] = append(l.proposals[roundID], p)
	}
}

func (l *Ledger) SetAuthority(identity string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.authority = identity
}

// RateLimitNext makes the next n calls of any kind fail as throttled.
func (l *Ledger) RateLimitNext(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rateLimitNext = n
}

// FailWrite makes the nth write (1-based, counted over all write
// operations) fail with err.
func (l *Ledger) FailWrite(n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeFaults[n] = err
}

// FailProposal makes every status update of proposalID fail with err.
func (l *Ledger) FailProposal(proposalID string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.proposalFault[proposalID] = err
}

// FailRead makes every read named op ("rounds", "proposals", "config") fail
// with err until cleared with a nil err.
func (l *Ledger) FailRead(op string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.readFaults, op)
		return
	}
	l.readFaults[op] = err
}

// Calls returns a copy of the call log.
func (l *Ledger) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Call(nil), l.calls...)
}

// CallsOf returns the logged calls named op.
func (l *Ledger) CallsOf(op string) []Call {
	var out []Call
	for _, c := range l.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Round returns the current state of round id.
func (l *Ledger) Round(id uint64) (models.Round, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.roundIndex(id); i >= 0 {
		return l.rounds[i], true
	}
	return models.Round{}, false
}

// Proposal returns the current state of a proposal.
func (l *Ledger) Proposal(roundID uint64, proposalID string) (models.Proposal, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.proposals[roundID] {
		if p.ID == proposalID {
			return p, true
		}
	}
	return models.Proposal{}, false
}

func (l *Ledger) Rounds(context.Context) ([]models.Round, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, Call{Op: "rounds"})
	if err := l.readFault("rounds"); err != nil {
		return nil, err
	}
	return append([]models.Round(nil), l.rounds...), nil
}

func (l *Ledger) Proposals(_ context.Context, roundID uint64) ([]models.Proposal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, Call{Op: "proposals", RoundID: roundID})
	if err := l.readFault("proposals"); err != nil {
		return nil, err
	}
	return append([]models.Proposal(nil), l.proposals[roundID]...), nil
}

func (l *Ledger) Authority(context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, Call{Op: "config"})
	if err := l.readFault("config"); err != nil {
		return "", err
	}
	return l.authority, nil
}

func (l *Ledger) CloseRound(_ context.Context, roundID uint64) (ledger.TxID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	const op = ledger.InstrEndEpoch
	l.calls = append(l.calls, Call{Op: op, RoundID: roundID})
	if err := l.writeFault(op); err != nil {
		return "", err
	}
	i := l.roundIndex(roundID)
	if i < 0 {
		return "", reject(op, ledger.ProgramEpochNotFound)
	}
	if l.rounds[i].Status != models.RoundActive {
		return "", reject(op, ledger.ProgramEpochAlreadyInactive)
	}
	l.rounds[i].Status = models.RoundClosed
	return l.tx(), nil
}

func (l *Ledger) SetProposalStatus(_ context.Context, roundID uint64, proposalID string, status models.ProposalStatus) (ledger.TxID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	const op = ledger.InstrUpdateProposalStatus
	l.calls = append(l.calls, Call{Op: op, RoundID: roundID, ProposalID: proposalID, Status: status})
	if err := l.writeFault(op); err != nil {
		return "", err
	}
	if err, ok := l.proposalFault[proposalID]; ok {
		return "", err
	}
	i := l.roundIndex(roundID)
	if i < 0 {
		return "", reject(op, ledger.ProgramEpochNotFound)
	}
	if l.rounds[i].Status != models.RoundClosed {
		return "", reject(op, ledger.ProgramEpochNotClosed)
	}
	if !status.Terminal() {
		return "", reject(op, ledger.ProgramInvalidStatusUpdate)
	}
	ps := l.proposals[roundID]
	for j := range ps {
		if ps[j].ID != proposalID {
			continue
		}
		if ps[j].Status != models.ProposalActive {
			return "", reject(op, ledger.ProgramProposalAlreadyFinalized)
		}
		ps[j].Status = status
		return l.tx(), nil
	}
	return "", reject(op, ledger.ProgramProposalNotInEpoch)
}

func (l *Ledger) MarkRoundProcessed(_ context.Context, roundID uint64) (ledger.TxID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	const op = ledger.InstrMarkEpochProcessed
	l.calls = append(l.calls, Call{Op: op, RoundID: roundID})
	if err := l.writeFault(op); err != nil {
		return "", err
	}
	i := l.roundIndex(roundID)
	if i < 0 {
		return "", reject(op, ledger.ProgramEpochNotFound)
	}
	if l.rounds[i].Status != models.RoundClosed {
		return "", reject(op, ledger.ProgramEpochNotClosed)
	}
	if l.rounds[i].Processed {
		return "", reject(op, ledger.ProgramEpochAlreadyProcessed)
	}
	l.rounds[i].Processed = true
	return l.tx(), nil
}

func (l *Ledger) OpenRound(_ context.Context, roundID uint64, start, end int64) (ledger.TxID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	const op = ledger.InstrStartEpoch
	l.calls = append(l.calls, Call{Op: op, RoundID: roundID})
	if err := l.writeFault(op); err != nil {
		return "", err
	}
	if start >= end {
		return "", reject(op, ledger.ProgramInvalidEpochTimeRange)
	}
	if l.roundIndex(roundID) >= 0 {
		return "", reject(op, ledger.ProgramInvalidEpochID)
	}
	l.rounds = append(l.rounds, models.Round{ID: roundID, StartTime: start, EndTime: end, Status: models.RoundActive})
	return l.tx(), nil
}

func (l *Ledger) roundIndex(id uint64) int {
	for i := range l.rounds {
		if l.rounds[i].ID == id {
			return i
		}
	}
	return -1
}

// throttled consumes one pending rate-limit fault. Callers hold mu.
func (l *Ledger) throttled(op string) error {
	if l.rateLimitNext > 0 {
		l.rateLimitNext--
		return &ledger.Error{Op: op, Code: ledger.CodeRateLimited, ProgramCode: ledger.ProgramTooManyRequests, Log: "429 Too Many Requests"}
	}
	return nil
}

func (l *Ledger) readFault(op string) error {
	if err := l.throttled(op); err != nil {
		return err
	}
	return l.readFaults[op]
}

func (l *Ledger) writeFault(op string) error {
	if err := l.throttled(op); err != nil {
		return err
	}
	l.writes++
	if err, ok := l.writeFaults[l.writes]; ok {
		return err
	}
	return nil
}

func (l *Ledger) tx() ledger.TxID {
	l.txSeq++
	return ledger.TxID(fmt.Sprintf("TX%06d", l.txSeq))
}

func reject(op string, code uint32) error {
	return &ledger.Error{Op: op, Code: ledger.CodeRejected, ProgramCode: code}
}

var _ ledger.Ledger = (*Ledger)(nil)
