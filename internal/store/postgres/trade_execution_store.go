package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketmirror/internal/domain"
)

// TradeExecutionStore implements domain.TradeExecutionStore.
type TradeExecutionStore struct {
	pool *pgxpool.Pool
}

// NewTradeExecutionStore creates a store backed by pool.
func NewTradeExecutionStore(pool *pgxpool.Pool) *TradeExecutionStore {
	return &TradeExecutionStore{pool: pool}
}

const executionSelectCols = `id, market_id, outcome_id, direction, trader, strategy,
	amount_in, quoted_out, fee, fee_bps, price_impact, min_amount_out, amount_out,
	tx_hash, block_number, gas_used, deviation_percent, deviation_flagged, executed_at`

// Insert stores a reconciled execution. Re-inserting the same id is a no-op.
func (s *TradeExecutionStore) Insert(ctx context.Context, e domain.TradeExecution) error {
	const query = `
		INSERT INTO trade_executions (` + executionSelectCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO NOTHING`

	q := e.Quote
	_, err := s.pool.Exec(ctx, query,
		e.ID, int64(q.MarketID), int16(q.OutcomeID), string(q.Direction),
		e.Trader.Hex(), q.Strategy,
		numeric(q.AmountIn), numeric(q.AmountOut), numeric(q.Fee), q.FeeBps,
		q.PriceImpactPercent, numeric(e.MinAmountOut), numeric(e.Receipt.AmountOut),
		e.Receipt.TxHash.Hex(), int64(e.Receipt.BlockNumber), int64(e.Receipt.GasUsed),
		e.DeviationPercent, e.DeviationFlagged, e.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade execution %s: %w", e.ID, err)
	}
	return nil
}

// GetByID returns domain.ErrNotFound for an unknown id.
func (s *TradeExecutionStore) GetByID(ctx context.Context, id string) (domain.TradeExecution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionSelectCols+` FROM trade_executions WHERE id = $1`, id)
	if err != nil {
		return domain.TradeExecution{}, fmt.Errorf("postgres: get trade execution %s: %w", id, err)
	}
	execs, err := scanExecutions(rows)
	if err != nil {
		return domain.TradeExecution{}, fmt.Errorf("postgres: get trade execution %s: %w", id, err)
	}
	if len(execs) == 0 {
		return domain.TradeExecution{}, fmt.Errorf("postgres: trade execution %s: %w", id, domain.ErrNotFound)
	}
	return execs[0], nil
}

// ListByMarket returns executions for a market, newest first.
func (s *TradeExecutionStore) ListByMarket(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.TradeExecution, error) {
	q := newListQuery(`SELECT `+executionSelectCols+` FROM trade_executions WHERE market_id = $1`, int64(marketID)).
		window("executed_at", opts).
		page("executed_at DESC", opts)

	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trade executions for market %d: %w", marketID, err)
	}
	execs, err := scanExecutions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trade executions for market %d: %w", marketID, err)
	}
	return execs, nil
}

func scanExecutions(rows pgx.Rows) ([]domain.TradeExecution, error) {
	defer rows.Close()

	var out []domain.TradeExecution
	for rows.Next() {
		var (
			e                                           domain.TradeExecution
			marketID, block, gas                        int64
			outcome                                     int16
			direction, trader, txHash                   string
			amountIn, quotedOut, fee, minOut, amountOut pgtype.Numeric
		)
		if err := rows.Scan(
			&e.ID, &marketID, &outcome, &direction, &trader, &e.Quote.Strategy,
			&amountIn, &quotedOut, &fee, &e.Quote.FeeBps, &e.Quote.PriceImpactPercent,
			&minOut, &amountOut,
			&txHash, &block, &gas, &e.DeviationPercent, &e.DeviationFlagged, &e.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}

		var err error
		e.Quote.MarketID = uint64(marketID)
		e.Quote.OutcomeID = uint8(outcome)
		e.Quote.Direction = domain.Direction(direction)
		e.Trader = common.HexToAddress(trader)
		if e.Quote.AmountIn, err = bigFromNumeric(amountIn); err != nil {
			return nil, err
		}
		if e.Quote.AmountOut, err = bigFromNumeric(quotedOut); err != nil {
			return nil, err
		}
		if e.Quote.Fee, err = bigFromNumeric(fee); err != nil {
			return nil, err
		}
		if e.MinAmountOut, err = bigFromNumeric(minOut); err != nil {
			return nil, err
		}
		if e.Receipt.AmountOut, err = bigFromNumeric(amountOut); err != nil {
			return nil, err
		}
		e.Receipt.TxHash = common.HexToHash(txHash)
		e.Receipt.BlockNumber = uint64(block)
		e.Receipt.GasUsed = uint64(gas)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

var _ domain.TradeExecutionStore = (*TradeExecutionStore)(nil)
