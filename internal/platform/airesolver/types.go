package airesolver

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/marketmirror/internal/domain"
)

// RequestState is the lifecycle of a resolution request.
type RequestState string

const (
	StatePending    RequestState = "pending"
	StateProcessing RequestState = "processing"
	StateCompleted  RequestState = "completed"
	StateFailed     RequestState = "failed"
)

// Done reports whether the request will not change state again.
func (s RequestState) Done() bool {
	return s == StateCompleted || s == StateFailed
}

// Metadata is the market description sent with a request.
type Metadata struct {
	Question    string `json:"question"`
	Description string `json:"description,omitempty"`
}

// ResolutionRequest asks the resolver to research a market.
type ResolutionRequest struct {
	MarketID uint64   `json:"marketId"`
	Metadata Metadata `json:"metadata"`
}

// Status is the progress of one request.
type Status struct {
	RequestID string       `json:"requestId"`
	MarketID  uint64       `json:"marketId"`
	Status    RequestState `json:"status"`
	Progress  *int         `json:"progress,omitempty"`
}

// Result is the resolver's answer. Proposal is present when the resolver
// also signed an EIP-712 proposal for the outcome.
type Result struct {
	RequestID   string        `json:"requestId"`
	MarketID    uint64        `json:"marketId"`
	OutcomeID   uint8         `json:"outcomeId"`
	Confidence  int           `json:"confidence"`
	Reasoning   string        `json:"reasoning"`
	Sources     []string      `json:"sources"`
	EvidenceURL string        `json:"evidenceUrl"`
	Timestamp   int64         `json:"timestamp,omitempty"`
	Proposal    *WireProposal `json:"proposal,omitempty"`
}

// Time returns the result timestamp, or the zero time if absent.
func (r Result) Time() time.Time {
	if r.Timestamp == 0 {
		return time.Time{}
	}
	return time.Unix(r.Timestamp, 0).UTC()
}

// WireProposal is the JSON form of a signed proposal. Byte fields are
// 0x-prefixed hex.
type WireProposal struct {
	MarketID     uint64 `json:"marketId"`
	OutcomeID    uint64 `json:"outcomeId"`
	CloseTime    uint64 `json:"closeTime"`
	EvidenceHash string `json:"evidenceHash"`
	NotBefore    uint64 `json:"notBefore"`
	Deadline     uint64 `json:"deadline"`
	Signature    string `json:"signature"`
}

// ToDomain decodes the hex fields.
func (w WireProposal) ToDomain() (domain.SignedProposal, error) {
	evidence, err := hexutil.Decode(ensure0x(w.EvidenceHash))
	if err != nil {
		return domain.SignedProposal{}, fmt.Errorf("%w: evidence hash: %v", domain.ErrInvalidProposal, err)
	}
	sig, err := hexutil.Decode(ensure0x(w.Signature))
	if err != nil {
		return domain.SignedProposal{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	return domain.SignedProposal{
		Proposal: domain.ProposedOutcome{
			MarketID:     w.MarketID,
			OutcomeID:    w.OutcomeID,
			CloseTime:    w.CloseTime,
			EvidenceHash: evidence,
			NotBefore:    w.NotBefore,
			Deadline:     w.Deadline,
		},
		Signature: sig,
	}, nil
}

func ensure0x(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s
	}
	return "0x" + s
}

// errorBody is the error envelope; servers use either field.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
