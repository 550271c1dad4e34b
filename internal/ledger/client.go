package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	cmtbytes "github.com/cometbft/cometbft/libs/bytes"
	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	ctypes "github.com/cometbft/cometbft/rpc/core/types"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/rs/zerolog"

	"epoch-crank/internal/models"
)

// rpcClient is the part of the CometBFT RPC client the crank uses.
type rpcClient interface {
	ABCIQuery(ctx context.Context, path string, data cmtbytes.HexBytes) (*ctypes.ResultABCIQuery, error)
	BroadcastTxSync(ctx context.Context, tx cmttypes.Tx) (*ctypes.ResultBroadcastTx, error)
}

// Client talks to the ledger program through a CometBFT node.
type Client struct {
	rpc    rpcClient
	signer *Signer
	log    zerolog.Logger

	nonceMu   sync.Mutex
	lastNonce uint64
}

// Dial builds a client for the node at rpcURL. signer may be nil for a
// read-only client.
func Dial(rpcURL, wsPath string, signer *Signer, log zerolog.Logger) (*Client, error) {
	// rpchttp.NewWithClient takes RPC base URL and WS path separately
	c, err := rpchttp.NewWithClient(rpcURL, wsPath, NewHTTPClient(30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("create rpc client: %w", err)
	}
	return newClient(c, signer, log), nil
}

func newClient(rpc rpcClient, signer *Signer, log zerolog.Logger) *Client {
	return &Client{rpc: rpc, signer: signer, log: log.With().Str("component", "ledger").Logger()}
}

// Signer returns the authority credential, or nil for a read-only client.
func (c *Client) Signer() *Signer { return c.signer }

func (c *Client) Rounds(ctx context.Context) ([]models.Round, error) {
	const op = "rounds"
	value, err := c.query(ctx, op, QueryEpochs, nil)
	if err != nil {
		return nil, err
	}
	rounds, err := decodeRounds(value)
	if err != nil {
		return nil, &Error{Op: op, Code: CodeDecode, Err: err}
	}
	return rounds, nil
}

func (c *Client) Proposals(ctx context.Context, roundID uint64) ([]models.Proposal, error) {
	const op = "proposals"
	value, err := c.query(ctx, op, QueryProposals, RoundKey(roundID))
	if err != nil {
		return nil, err
	}
	proposals, err := decodeProposals(value, roundID)
	if err != nil {
		return nil, &Error{Op: op, Code: CodeDecode, Err: err}
	}
	return proposals, nil
}

func (c *Client) Authority(ctx context.Context) (string, error) {
	const op = "config"
	value, err := c.query(ctx, op, QueryConfig, nil)
	if err != nil {
		return "", err
	}
	authority, err := decodeAuthority(value)
	if err != nil {
		return "", &Error{Op: op, Code: CodeDecode, Err: err}
	}
	return authority, nil
}

func (c *Client) CloseRound(ctx context.Context, roundID uint64) (TxID, error) {
	return c.submit(ctx, TxBody{Instruction: InstrEndEpoch, RoundID: roundID})
}

func (c *Client) SetProposalStatus(ctx context.Context, roundID uint64, proposalID string, status models.ProposalStatus) (TxID, error) {
	if !status.Terminal() {
		return "", &Error{Op: InstrUpdateProposalStatus, Code: CodeRejected, ProgramCode: ProgramInvalidStatusUpdate,
			Log: fmt.Sprintf("target status %s is not terminal", status)}
	}
	return c.submit(ctx, TxBody{
		Instruction: InstrUpdateProposalStatus,
		RoundID:     roundID,
		ProposalID:  proposalID,
		Status:      status.String(),
	})
}

func (c *Client) MarkRoundProcessed(ctx context.Context, roundID uint64) (TxID, error) {
	return c.submit(ctx, TxBody{Instruction: InstrMarkEpochProcessed, RoundID: roundID})
}

func (c *Client) OpenRound(ctx context.Context, roundID uint64, start, end int64) (TxID, error) {
	if start >= end {
		return "", &Error{Op: InstrStartEpoch, Code: CodeRejected, ProgramCode: ProgramInvalidEpochTimeRange}
	}
	return c.submit(ctx, TxBody{Instruction: InstrStartEpoch, RoundID: roundID, StartTime: start, EndTime: end})
}

func (c *Client) query(ctx context.Context, op, path string, data []byte) ([]byte, error) {
	res, err := c.rpc.ABCIQuery(ctx, path, data)
	if err != nil {
		return nil, transportError(op, err)
	}
	if res.Response.Code != 0 {
		return nil, resultError(op, res.Response.Code, res.Response.Log)
	}
	return res.Response.Value, nil
}

func (c *Client) submit(ctx context.Context, body TxBody) (TxID, error) {
	op := body.Instruction
	if c.signer == nil {
		return "", &Error{Op: op, Code: CodeUnknown, Err: ErrNoSigner}
	}
	body.Nonce = c.nextNonce()
	tx, err := EncodeTx(body, c.signer)
	if err != nil {
		return "", &Error{Op: op, Code: CodeUnknown, Err: err}
	}
	res, err := c.rpc.BroadcastTxSync(ctx, tx)
	if err != nil {
		return "", transportError(op, err)
	}
	if res.Code != 0 {
		return "", resultError(op, res.Code, res.Log)
	}
	id := TxID(strings.ToUpper(res.Hash.String()))
	c.log.Debug().Str("op", op).Uint64("round", body.RoundID).Str("tx", string(id)).Msg("transaction accepted")
	return id, nil
}

// nextNonce returns a strictly increasing value so two transactions with an
// identical body never share a hash.
func (c *Client) nextNonce() uint64 {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()
	n := uint64(time.Now().UnixNano())
	if n <= c.lastNonce {
		n = c.lastNonce + 1
	}
	c.lastNonce = n
	return n
}

func transportError(op string, err error) *Error {
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests {
		return &Error{Op: op, Code: CodeRateLimited, Err: err}
	}
	return &Error{Op: op, Code: CodeUnavailable, Err: err}
}
