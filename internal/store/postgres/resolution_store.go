package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketmirror/internal/domain"
)

// ResolutionStore implements domain.ResolutionStore. The resolutions table
// holds the latest mirrored record per market; resolution_history gains a
// row whenever the mirrored state changes.
type ResolutionStore struct {
	pool *pgxpool.Pool
}

// NewResolutionStore creates a store backed by pool.
func NewResolutionStore(pool *pgxpool.Pool) *ResolutionStore {
	return &ResolutionStore{pool: pool}
}

const resolutionCols = `market_id, state, proposed_outcome, final_outcome, proposal_time,
	proposer, proposer_bond, disputer, disputer_bond, evidence_uri, dispute_reason, finalized_at`

func resolutionArgs(r domain.Resolution) []any {
	return []any{
		int64(r.MarketID), int16(r.State), int16(r.ProposedOutcome), int16(r.FinalOutcome),
		nullableTime(r.ProposalTime),
		r.Proposer.Hex(), numeric(r.ProposerBond), r.Disputer.Hex(), numeric(r.DisputerBond),
		r.EvidenceURI, r.DisputeReason, nullableTime(r.FinalizedAt),
	}
}

// Upsert stores rec as the latest snapshot and appends a history row when
// the state differs from the stored one.
func (s *ResolutionStore) Upsert(ctx context.Context, rec domain.Resolution) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var prev int16
		err := tx.QueryRow(ctx,
			`SELECT state FROM resolutions WHERE market_id = $1 FOR UPDATE`,
			int64(rec.MarketID)).Scan(&prev)
		changed := errors.Is(err, pgx.ErrNoRows) || (err == nil && prev != int16(rec.State))
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("lock: %w", err)
		}

		const upsert = `
			INSERT INTO resolutions (` + resolutionCols + `, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
			ON CONFLICT (market_id) DO UPDATE SET
				state = EXCLUDED.state,
				proposed_outcome = EXCLUDED.proposed_outcome,
				final_outcome = EXCLUDED.final_outcome,
				proposal_time = EXCLUDED.proposal_time,
				proposer = EXCLUDED.proposer,
				proposer_bond = EXCLUDED.proposer_bond,
				disputer = EXCLUDED.disputer,
				disputer_bond = EXCLUDED.disputer_bond,
				evidence_uri = EXCLUDED.evidence_uri,
				dispute_reason = EXCLUDED.dispute_reason,
				finalized_at = EXCLUDED.finalized_at,
				updated_at = NOW()`
		if _, err := tx.Exec(ctx, upsert, resolutionArgs(rec)...); err != nil {
			return fmt.Errorf("upsert: %w", err)
		}
		if !changed {
			return nil
		}

		const history = `
			INSERT INTO resolution_history (` + resolutionCols + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
		if _, err := tx.Exec(ctx, history, resolutionArgs(rec)...); err != nil {
			return fmt.Errorf("history: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres: upsert resolution %d: %w", rec.MarketID, err)
	}
	return nil
}

// Get returns domain.ErrNotFound when no snapshot has been stored.
func (s *ResolutionStore) Get(ctx context.Context, marketID uint64) (domain.Resolution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+resolutionCols+` FROM resolutions WHERE market_id = $1`, int64(marketID))
	snap, err := scanResolution(row, nil)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Resolution{}, fmt.Errorf("postgres: resolution %d: %w", marketID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("postgres: get resolution %d: %w", marketID, err)
	}
	return snap.Resolution, nil
}

// History returns observed states for a market, oldest first.
func (s *ResolutionStore) History(ctx context.Context, marketID uint64) ([]domain.ResolutionSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+resolutionCols+`, observed_at FROM resolution_history
		 WHERE market_id = $1 ORDER BY observed_at, id`, int64(marketID))
	if err != nil {
		return nil, fmt.Errorf("postgres: resolution history %d: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.ResolutionSnapshot
	for rows.Next() {
		var observed pgtype.Timestamptz
		snap, err := scanResolution(rows, &observed)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan resolution history: %w", err)
		}
		snap.ObservedAt = timeFrom(observed)
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: resolution history rows: %w", err)
	}
	return out, nil
}

// scanResolution reads resolutionCols, plus observed_at when extra is set.
func scanResolution(row pgx.Row, extra *pgtype.Timestamptz) (domain.ResolutionSnapshot, error) {
	var (
		marketID                   int64
		state, proposed, final     int16
		proposalTime, finalizedAt  pgtype.Timestamptz
		proposer, disputer         string
		proposerBond, disputerBond pgtype.Numeric
		snap                       domain.ResolutionSnapshot
	)
	dest := []any{
		&marketID, &state, &proposed, &final, &proposalTime,
		&proposer, &proposerBond, &disputer, &disputerBond,
		&snap.EvidenceURI, &snap.DisputeReason, &finalizedAt,
	}
	if extra != nil {
		dest = append(dest, extra)
	}
	if err := row.Scan(dest...); err != nil {
		return domain.ResolutionSnapshot{}, err
	}

	var err error
	snap.MarketID = uint64(marketID)
	snap.State = domain.ResolutionState(state)
	snap.ProposedOutcome = uint8(proposed)
	snap.FinalOutcome = uint8(final)
	snap.ProposalTime = timeFrom(proposalTime)
	snap.FinalizedAt = timeFrom(finalizedAt)
	snap.Proposer = common.HexToAddress(proposer)
	snap.Disputer = common.HexToAddress(disputer)
	if snap.ProposerBond, err = bigFromNumeric(proposerBond); err != nil {
		return domain.ResolutionSnapshot{}, err
	}
	if snap.DisputerBond, err = bigFromNumeric(disputerBond); err != nil {
		return domain.ResolutionSnapshot{}, err
	}
	return snap, nil
}

var _ domain.ResolutionStore = (*ResolutionStore)(nil)
