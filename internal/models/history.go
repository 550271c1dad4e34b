package models

import "time"

// CrankRun stores the summary of one orchestrator run.
type CrankRun struct {
	ID             uint      `gorm:"primaryKey"`
	RequestID      string    `gorm:"size:64;index"`
	StartedAt      time.Time `gorm:"index"`
	FinishedAt     time.Time
	Success        bool   `gorm:"index"`
	Message        string `gorm:"size:512"`
	ProcessedCount int
	ErrorCount     int
	Rounds         []RoundOutcome `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RoundOutcome is the resolver result for one round within a run.
type RoundOutcome struct {
	ID          uint   `gorm:"primaryKey"`
	RunID       uint   `gorm:"index"`
	RoundID     uint64 `gorm:"index"`
	Success     bool   `gorm:"index"`
	Message     string `gorm:"size:1024"`
	Validated   int
	Rejected    int
	Errors      int
	ProcessedTx string           `gorm:"size:128"`
	Updates     []ProposalUpdate `gorm:"foreignKey:OutcomeID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProposalUpdate records one status write attempted by the resolver.
// TxID is empty when the write failed.
type ProposalUpdate struct {
	ID         uint   `gorm:"primaryKey"`
	OutcomeID  uint   `gorm:"index"`
	ProposalID string `gorm:"size:128;index"`
	Target     string `gorm:"size:16;index"` // "validated" or "rejected"
	Rank       int
	TxID       string `gorm:"size:128"`
	Error      string `gorm:"size:1024"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RoundClosure records one close attempt made by a closer run.
type RoundClosure struct {
	ID        uint   `gorm:"primaryKey"`
	RequestID string `gorm:"size:64;index"`
	RoundID   uint64 `gorm:"index"`
	Policy    string `gorm:"size:16;index"` // "all" or "expired"
	TxID      string `gorm:"size:128"`
	Error     string `gorm:"size:1024"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
