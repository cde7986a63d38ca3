package service

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketmirror/internal/crypto"
	"github.com/alanyoungcy/marketmirror/internal/domain"
	"github.com/alanyoungcy/marketmirror/internal/evidence"
	"github.com/alanyoungcy/marketmirror/internal/ledger/ledgertest"
	"github.com/alanyoungcy/marketmirror/internal/platform/airesolver"
	"github.com/alanyoungcy/marketmirror/internal/resolution"
)

var (
	t0         = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	window     = time.Hour
	arbitrator = common.HexToAddress("0xa0")
	operator   = common.HexToAddress("0xbeef")
	oracleDom  = crypto.OracleDomain(big.NewInt(137), common.HexToAddress("0x0c"))
)

type harness struct {
	ledger *ledgertest.Fake
	store  *memResolutions
	audit  *memAudit
	bus    *memBus
	alerts *memAlerts
	svc    *ResolutionService
}

func newHarness(t *testing.T, now time.Time, cfg ResolutionConfig, resolver Resolver, md MetadataSource) *harness {
	t.Helper()
	l := ledgertest.New()
	l.Signer = operator
	l.Arbitrator = arbitrator
	l.MinBond = big.NewInt(100)
	l.Window = window
	l.Markets[1] = domain.Market{ID: 1, OutcomeCount: 2, CloseTime: t0.Add(-time.Hour), MetadataRef: "ipfs://m1"}

	h := &harness{ledger: l, store: &memResolutions{}, audit: &memAudit{}, bus: &memBus{}, alerts: &memAlerts{}}
	cfg.Domain = oracleDom
	h.svc = NewResolutionService(ResolutionDeps{
		Ledger:   l,
		Store:    h.store,
		Audit:    h.audit,
		Bus:      h.bus,
		Alerts:   h.alerts,
		Resolver: resolver,
		Metadata: md,
	}, cfg, discard())
	h.svc.now = func() time.Time { return now }
	return h
}

func (h *harness) proposed(at time.Time) {
	h.ledger.Resolutions[1] = &domain.Resolution{
		MarketID:        1,
		State:           domain.ResolutionProposed,
		ProposedOutcome: 0,
		ProposalTime:    at,
		Proposer:        common.HexToAddress("0x01"),
		ProposerBond:    big.NewInt(100),
	}
}

func TestResolutionService_Propose(t *testing.T) {
	h := newHarness(t, t0, ResolutionConfig{}, nil, nil)

	receipt, err := h.svc.Propose(context.Background(), domain.ProposeIntent{
		MarketID: 1, OutcomeID: 1, Bond: big.NewInt(100), EvidenceURI: "ipfs://e",
	})
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, receipt.TxHash)
	require.Len(t, h.ledger.Proposals, 1)

	stored, err := h.store.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.ResolutionProposed, stored.State)
	assert.Equal(t, []string{"resolution_propose"}, h.audit.events)
	assert.Equal(t, []string{domain.EventResolution}, h.alerts.events)

	require.Len(t, h.bus.messages[domain.ChannelResolutions], 1)
	require.Len(t, h.bus.streams[domain.ChannelResolutions], 1, "event recorded for replay")
	var ev ResolutionEvent
	require.NoError(t, json.Unmarshal(h.bus.messages[domain.ChannelResolutions][0], &ev))
	assert.Equal(t, "proposed", ev.State)
	assert.Equal(t, "propose", ev.Action)
	assert.Equal(t, uint8(1), ev.ProposedOutcome)
}

func TestResolutionService_ProposeGuardsRunBeforeSubmission(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		in   domain.ProposeIntent
		want error
	}{
		{"before close", t0.Add(-2 * time.Hour), domain.ProposeIntent{MarketID: 1, Bond: big.NewInt(100)}, domain.ErrNotYetEligible},
		{"bond too low", t0, domain.ProposeIntent{MarketID: 1, Bond: big.NewInt(99)}, domain.ErrBondTooLow},
		{"bad outcome", t0, domain.ProposeIntent{MarketID: 1, OutcomeID: 2, Bond: big.NewInt(100)}, domain.ErrInvalidOutcome},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.now, ResolutionConfig{}, nil, nil)
			_, err := h.svc.Propose(context.Background(), tt.in)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 0, h.ledger.CallCount("SubmitPropose"))
		})
	}
}

func TestResolutionService_ProposeTwiceIsWrongState(t *testing.T) {
	h := newHarness(t, t0, ResolutionConfig{}, nil, nil)
	h.proposed(t0)
	_, err := h.svc.Propose(context.Background(), domain.ProposeIntent{MarketID: 1, Bond: big.NewInt(100)})
	assert.ErrorIs(t, err, domain.ErrWrongState)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestResolutionService_FinalizeAroundWindow(t *testing.T) {
	early := newHarness(t, t0.Add(window-time.Second), ResolutionConfig{}, nil, nil)
	early.proposed(t0)
	_, err := early.svc.Finalize(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrNotYetEligible)
	assert.Empty(t, early.ledger.Finalized)

	late := newHarness(t, t0.Add(window+time.Second), ResolutionConfig{}, nil, nil)
	late.proposed(t0)
	_, err = late.svc.Finalize(context.Background(), 1)
	require.NoError(t, err)

	rec, err := late.svc.Get(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.ResolutionFinalized, rec.State)
}

func TestResolutionService_DisputedPath(t *testing.T) {
	h := newHarness(t, t0.Add(10*time.Minute), ResolutionConfig{}, nil, nil)
	h.proposed(t0)
	ctx := context.Background()

	_, err := h.svc.Dispute(ctx, domain.DisputeIntent{MarketID: 1, Bond: big.NewInt(100), Reason: "wrong source"})
	require.NoError(t, err)

	_, err = h.svc.Finalize(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrWrongState)

	_, err = h.svc.FinalizeDisputed(ctx, 1, 1)
	assert.ErrorIs(t, err, domain.ErrNotArbitrator, "operator is not the arbitrator")

	h.ledger.Signer = arbitrator
	_, err = h.svc.FinalizeDisputed(ctx, 1, 1)
	require.NoError(t, err)

	rec, err := h.svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.ResolutionFinalized, rec.State)
	assert.Equal(t, uint8(1), rec.FinalOutcome)
	assert.Equal(t, uint8(0), rec.ProposedOutcome)
}

func TestResolutionService_DisputeAfterWindow(t *testing.T) {
	h := newHarness(t, t0.Add(window), ResolutionConfig{}, nil, nil)
	h.proposed(t0)
	_, err := h.svc.Dispute(context.Background(), domain.DisputeIntent{MarketID: 1, Bond: big.NewInt(100)})
	assert.ErrorIs(t, err, domain.ErrWindowExpired)
	assert.Empty(t, h.ledger.Disputes)
}

func TestResolutionService_SubmissionTimeoutIsNotRefreshed(t *testing.T) {
	h := newHarness(t, t0.Add(2*window), ResolutionConfig{}, nil, nil)
	h.proposed(t0)
	h.ledger.ErrSubmit = fmt.Errorf("evm: finalize tx 0x01: %w: %w", domain.ErrSubmissionTimeout, context.DeadlineExceeded)

	_, err := h.svc.Finalize(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrSubmissionTimeout)
	assert.Equal(t, 0, h.store.upserts)
	assert.Empty(t, h.bus.messages)
}

func TestResolutionService_GetAbsent(t *testing.T) {
	h := newHarness(t, t0, ResolutionConfig{}, nil, nil)
	rec, err := h.svc.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, 0, h.store.upserts)
}

func TestResolutionService_Actions(t *testing.T) {
	h := newHarness(t, t0.Add(window+time.Minute), ResolutionConfig{}, nil, nil)
	h.proposed(t0)

	view, err := h.svc.Actions(context.Background(), 1, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, t0.Add(window), view.WindowEnd)
	assert.Equal(t, []resolution.Action{resolution.ActionFinalize}, resolution.Next(view.Statuses))
	assert.Nil(t, view.Settlement)
}

// oracleResult builds a resolver result whose proposal is signed by key.
func oracleResult(t *testing.T, key *ecdsa.PrivateKey, sources []string, p domain.ProposedOutcome) airesolver.Result {
	t.Helper()
	h, err := evidence.Hash(sources)
	require.NoError(t, err)
	if p.EvidenceHash == nil {
		p.EvidenceHash = h.Bytes()
	}
	sig, err := crypto.Sign(p, crypto.DomainSeparator(oracleDom), key)
	require.NoError(t, err)

	return airesolver.Result{
		RequestID:   "req-9",
		MarketID:    1,
		OutcomeID:   uint8(p.OutcomeID),
		Confidence:  90,
		Sources:     sources,
		EvidenceURL: "ipfs://evidence",
		Proposal: &airesolver.WireProposal{
			MarketID:     p.MarketID,
			OutcomeID:    p.OutcomeID,
			CloseTime:    p.CloseTime,
			EvidenceHash: hexutil.Encode(p.EvidenceHash),
			NotBefore:    p.NotBefore,
			Deadline:     p.Deadline,
			Signature:    hexutil.Encode(sig),
		},
	}
}

func validProposal() domain.ProposedOutcome {
	return domain.ProposedOutcome{
		MarketID:  1,
		OutcomeID: 1,
		CloseTime: uint64(t0.Add(-time.Hour).Unix()),
		NotBefore: uint64(t0.Add(-time.Minute).Unix()),
		Deadline:  uint64(t0.Add(time.Hour).Unix()),
	}
}

func TestResolutionService_ProposeFromOracle(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	signer := ethcrypto.PubkeyToAddress(key.PublicKey)
	sources := []string{"https://b.example/result", "https://a.example/result"}

	resolver := &fakeResolver{result: oracleResult(t, key, sources, validProposal())}
	h := newHarness(t, t0, ResolutionConfig{OracleSigner: signer, MinConfidence: 80}, resolver, nil)

	_, err = h.svc.ProposeFromOracle(context.Background(), 1, "req-9", big.NewInt(100))
	require.NoError(t, err)
	require.Len(t, h.ledger.Proposals, 1)
	sent := h.ledger.Proposals[0]
	require.NotNil(t, sent.Signed)
	assert.Equal(t, uint8(1), sent.OutcomeID)
	assert.Equal(t, "ipfs://evidence", sent.EvidenceURI)
	assert.Len(t, sent.Signed.Signature, crypto.SignatureLength)
}

func TestResolutionService_VerifyResultRejects(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	other, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	signer := ethcrypto.PubkeyToAddress(key.PublicKey)
	sources := []string{"https://a.example", "https://b.example"}

	tests := []struct {
		name   string
		result func() airesolver.Result
		want   error
	}{
		{"wrong signer", func() airesolver.Result {
			return oracleResult(t, other, sources, validProposal())
		}, domain.ErrInvalidSignature},
		{"reordered sources", func() airesolver.Result {
			r := oracleResult(t, key, sources, validProposal())
			r.Sources = []string{sources[1], sources[0]}
			return r
		}, domain.ErrInvalidEvidence},
		{"empty source", func() airesolver.Result {
			r := oracleResult(t, key, sources, validProposal())
			r.Sources = []string{""}
			return r
		}, domain.ErrInvalidEvidence},
		{"expired", func() airesolver.Result {
			p := validProposal()
			p.Deadline = uint64(t0.Unix())
			return oracleResult(t, key, sources, p)
		}, domain.ErrNotYetEligible},
		{"not yet valid", func() airesolver.Result {
			p := validProposal()
			p.NotBefore = uint64(t0.Add(time.Minute).Unix())
			return oracleResult(t, key, sources, p)
		}, domain.ErrNotYetEligible},
		{"outcome mismatch", func() airesolver.Result {
			r := oracleResult(t, key, sources, validProposal())
			r.OutcomeID = 0
			return r
		}, domain.ErrInvalidProposal},
		{"other market", func() airesolver.Result {
			r := oracleResult(t, key, sources, validProposal())
			r.MarketID = 2
			return r
		}, domain.ErrInvalidProposal},
		{"low confidence", func() airesolver.Result {
			r := oracleResult(t, key, sources, validProposal())
			r.Confidence = 10
			return r
		}, domain.ErrInvalidProposal},
		{"unsigned", func() airesolver.Result {
			r := oracleResult(t, key, sources, validProposal())
			r.Proposal = nil
			return r
		}, domain.ErrInvalidProposal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, t0, ResolutionConfig{OracleSigner: signer, MinConfidence: 50}, nil, nil)
			_, err := h.svc.VerifyResult(1, tt.result())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestResolutionService_OracleNotConfigured(t *testing.T) {
	h := newHarness(t, t0, ResolutionConfig{}, nil, nil)
	_, err := h.svc.ProposeFromOracle(context.Background(), 1, "r", big.NewInt(100))
	assert.ErrorIs(t, err, ErrOracleNotConfigured)
	_, err = h.svc.RequestAI(context.Background(), 1)
	assert.ErrorIs(t, err, ErrOracleNotConfigured)
}

func TestResolutionService_RequestAI(t *testing.T) {
	resolver := &fakeResolver{}
	md := fakeMetadata{"ipfs://m1": {Question: "Will it rain?", Description: "In Paris"}}
	h := newHarness(t, t0, ResolutionConfig{}, resolver, md)

	st, err := h.svc.RequestAI(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "req-1", st.RequestID)
	require.Len(t, resolver.requests, 1)
	assert.Equal(t, "Will it rain?", resolver.requests[0].Metadata.Question)
	assert.Equal(t, "In Paris", resolver.requests[0].Metadata.Description)

	h.ledger.Markets[1] = domain.Market{ID: 1, OutcomeCount: 2, MetadataRef: "ipfs://missing"}
	_, err = h.svc.RequestAI(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrMetadataUnavailable)
}

func TestResolutionService_History(t *testing.T) {
	resolver := &fakeResolver{result: airesolver.Result{RequestID: "r-9", MarketID: 1, OutcomeID: 1}}
	h := newHarness(t, t0, ResolutionConfig{}, resolver, nil)
	h.proposed(t0.Add(-time.Minute))

	_, err := h.svc.Get(context.Background(), 1)
	require.NoError(t, err)

	snaps, err := h.svc.History(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, domain.ResolutionProposed, snaps[0].State)

	results, err := h.svc.AIHistory(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r-9", results[0].RequestID)

	bare := NewResolutionService(ResolutionDeps{Ledger: h.ledger}, ResolutionConfig{}, discard())
	_, err = bare.History(context.Background(), 1)
	assert.ErrorIs(t, err, ErrHistoryNotConfigured)
	_, err = bare.AIHistory(context.Background(), 1)
	assert.ErrorIs(t, err, ErrOracleNotConfigured)
}
