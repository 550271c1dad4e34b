package models

import "fmt"

// ProposalStatus is the outcome state of a proposal. Active is the only
// state the resolver acts on.
type ProposalStatus int

// Zero is reserved for "missing", as with RoundStatus.
const (
	ProposalActive ProposalStatus = iota + 1
	ProposalValidated
	ProposalRejected
)

var proposalStatusNames = map[ProposalStatus]string{
	ProposalActive:    "active",
	ProposalValidated: "validated",
	ProposalRejected:  "rejected",
}

func (s ProposalStatus) String() string {
	if name, ok := proposalStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ProposalStatus(%d)", int(s))
}

// Valid reports whether s is one of the ledger's proposal states.
func (s ProposalStatus) Valid() bool {
	_, ok := proposalStatusNames[s]
	return ok
}

// Terminal reports whether the status can no longer change.
func (s ProposalStatus) Terminal() bool {
	return s == ProposalValidated || s == ProposalRejected
}

func (s ProposalStatus) MarshalJSON() ([]byte, error) {
	name, ok := proposalStatusNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown proposal status %d", int(s))
	}
	return marshalVariant(name)
}

func (s *ProposalStatus) UnmarshalJSON(data []byte) error {
	name, err := unmarshalVariant(data)
	if err != nil {
		return fmt.Errorf("proposal status: %w", err)
	}
	for status, n := range proposalStatusNames {
		if n == name {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("proposal status: unknown variant %q", name)
}

// Proposal is a submission competing within one round, ranked by
// ContributionTotal.
type Proposal struct {
	ID                string         `json:"address"`
	RoundID           uint64         `json:"epoch_id"`
	Creator           string         `json:"creator"`
	Name              string         `json:"token_name"`
	Symbol            string         `json:"token_symbol"`
	ContributionTotal uint64         `json:"sol_raised"`
	Supporters        uint64         `json:"total_contributions"`
	Status            ProposalStatus `json:"status"`
}
