package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"epoch-crank/internal/models"
)

// Instruction names understood by the ledger program.
const (
	InstrEndEpoch             = "end_epoch"
	InstrUpdateProposalStatus = "update_proposal_status"
	InstrMarkEpochProcessed   = "mark_epoch_processed"
	InstrStartEpoch           = "start_epoch"
)

// Query paths.
const (
	QueryEpochs    = "/epochs"
	QueryProposals = "/proposals"
	QueryConfig    = "/config"
)

// TxBody is the signed part of a transaction.
type TxBody struct {
	Instruction string `cbor:"1,keyasint"`
	RoundID     uint64 `cbor:"2,keyasint"`
	ProposalID  string `cbor:"3,keyasint,omitempty"`
	Status      string `cbor:"4,keyasint,omitempty"`
	StartTime   int64  `cbor:"5,keyasint,omitempty"`
	EndTime     int64  `cbor:"6,keyasint,omitempty"`
	Signer      []byte `cbor:"7,keyasint"`
	Nonce       uint64 `cbor:"8,keyasint"`
}

// TxEnvelope is what gets broadcast: the canonical encoding of the body and
// the signature over exactly those bytes.
type TxEnvelope struct {
	Body      []byte `cbor:"1,keyasint"`
	Signature []byte `cbor:"2,keyasint"`
}

var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor enc mode: %v", err))
	}
	return em
}

// EncodeTx signs body and returns the broadcastable bytes.
func EncodeTx(body TxBody, s *Signer) ([]byte, error) {
	body.Signer = s.PubKey().Bytes()
	raw, err := encMode.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode tx body: %w", err)
	}
	sig, err := s.Sign(raw)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	return encMode.Marshal(TxEnvelope{Body: raw, Signature: sig})
}

// DecodeTx parses a broadcast transaction. It does not verify the signature.
func DecodeTx(tx []byte) (TxBody, TxEnvelope, error) {
	var env TxEnvelope
	if err := cbor.Unmarshal(tx, &env); err != nil {
		return TxBody{}, env, fmt.Errorf("decode tx envelope: %w", err)
	}
	var body TxBody
	if err := cbor.Unmarshal(env.Body, &body); err != nil {
		return TxBody{}, env, fmt.Errorf("decode tx body: %w", err)
	}
	return body, env, nil
}

// RoundKey is the query argument selecting one round's proposals: the
// round id as 8 little-endian bytes, the same layout the program filters on.
func RoundKey(roundID uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, roundID)
	return b
}

func decodeRounds(value []byte) ([]models.Round, error) {
	var rounds []models.Round
	if err := json.Unmarshal(value, &rounds); err != nil {
		return nil, err
	}
	for i := range rounds {
		if !rounds[i].Status.Valid() {
			return nil, fmt.Errorf("round %d has no status", rounds[i].ID)
		}
	}
	return rounds, nil
}

func decodeProposals(value []byte, roundID uint64) ([]models.Proposal, error) {
	var proposals []models.Proposal
	if err := json.Unmarshal(value, &proposals); err != nil {
		return nil, err
	}
	for i := range proposals {
		if !proposals[i].Status.Valid() {
			return nil, fmt.Errorf("proposal %s has no status", proposals[i].ID)
		}
		if proposals[i].RoundID != roundID {
			return nil, fmt.Errorf("proposal %s belongs to round %d, queried %d", proposals[i].ID, proposals[i].RoundID, roundID)
		}
	}
	return proposals, nil
}

type programConfig struct {
	AdminAuthority string `json:"admin_authority"`
}

func decodeAuthority(value []byte) (string, error) {
	var cfg programConfig
	if err := json.Unmarshal(value, &cfg); err != nil {
		return "", err
	}
	if cfg.AdminAuthority == "" {
		return "", fmt.Errorf("config has no admin_authority")
	}
	return cfg.AdminAuthority, nil
}
