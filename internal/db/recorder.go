package db

import (
	"context"
	"fmt"
	"unicode/utf8"

	"gorm.io/gorm"

	"epoch-crank/internal/crank"
	"epoch-crank/internal/models"
)

// Recorder stores crank and closer runs. A Recorder over a nil *gorm.DB
// drops everything, so callers need not check whether persistence is on.
type Recorder struct {
	db *gorm.DB
}

func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

func (r *Recorder) Enabled() bool { return r != nil && r.db != nil }

func (r *Recorder) RecordRun(ctx context.Context, s crank.Summary) error {
	if !r.Enabled() {
		return nil
	}
	run := runRecord(crank.RequestID(ctx), s)
	if err := r.db.WithContext(ctx).Create(&run).Error; err != nil {
		return fmt.Errorf("insert crank run: %w", err)
	}
	return nil
}

func (r *Recorder) RecordClosures(ctx context.Context, rep crank.CloseReport) error {
	if !r.Enabled() {
		return nil
	}
	rows := closureRecords(crank.RequestID(ctx), rep)
	if len(rows) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(rows, 100).Error; err != nil {
		return fmt.Errorf("insert round closures: %w", err)
	}
	return nil
}

// Recent returns the latest runs, newest first, with their round outcomes.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]models.CrankRun, error) {
	if !r.Enabled() {
		return nil, nil
	}
	var runs []models.CrankRun
	err := r.db.WithContext(ctx).
		Preload("Rounds").
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("query crank runs: %w", err)
	}
	return runs, nil
}

func runRecord(requestID string, s crank.Summary) models.CrankRun {
	run := models.CrankRun{
		RequestID:  requestID,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Success:    s.Success,
		Message:    truncate(s.Message, 512),
	}
	if s.Details != nil {
		run.ProcessedCount = s.Details.ProcessedCount
		run.ErrorCount = len(s.Details.Errors)
	}
	for _, res := range s.Rounds {
		outcome := models.RoundOutcome{
			RoundID:     res.RoundID,
			Success:     res.Success,
			Message:     truncate(res.Message, 1024),
			Validated:   res.Validated,
			Rejected:    res.Rejected,
			Errors:      res.ErrorCount,
			ProcessedTx: string(res.ProcessedTx),
		}
		for _, u := range res.Updates {
			pu := models.ProposalUpdate{
				ProposalID: u.ProposalID,
				Target:     u.Target.String(),
				Rank:       u.Rank,
				TxID:       string(u.TxID),
			}
			if u.Err != nil {
				pu.Error = truncate(u.Err.Error(), 1024)
			}
			outcome.Updates = append(outcome.Updates, pu)
		}
		run.Rounds = append(run.Rounds, outcome)
	}
	return run
}

func closureRecords(requestID string, rep crank.CloseReport) []models.RoundClosure {
	rows := make([]models.RoundClosure, 0, len(rep.Closed)+len(rep.Failed))
	for _, c := range rep.Closed {
		rows = append(rows, models.RoundClosure{RequestID: requestID, RoundID: c.RoundID, Policy: string(rep.Policy), TxID: c.Signature})
	}
	for _, f := range rep.Failed {
		rows = append(rows, models.RoundClosure{RequestID: requestID, RoundID: f.RoundID, Policy: string(rep.Policy), Error: truncate(f.Error, 1024)})
	}
	return rows
}

// truncate cuts s to at most n bytes on a rune boundary so the result stays
// valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

var _ crank.Recorder = (*Recorder)(nil)
