package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/marketmirror/internal/domain"
)

// SubmitTrade implements domain.LedgerWriter. The confirmed output is read
// from the TradeExecuted log in the receipt.
func (l *Ledger) SubmitTrade(ctx context.Context, order domain.TradeOrder) (domain.TradeReceipt, error) {
	method := "buy"
	if order.Direction == domain.DirectionSell {
		method = "sell"
	}
	pool := l.opts.Contracts.Pool
	receipt, err := l.transact(ctx, pool, poolABI, method,
		u256(order.MarketID), order.OutcomeID, order.AmountIn, order.MinAmountOut)
	if err != nil {
		return domain.TradeReceipt{}, err
	}

	for _, lg := range receipt.Logs {
		if lg.Address != pool || len(lg.Topics) == 0 || lg.Topics[0] != tradeExecutedID {
			continue
		}
		evt, err := decodeTradeLog(*lg)
		if err != nil {
			return domain.TradeReceipt{}, ledgerErr(pool, method, err)
		}
		if evt.MarketID != order.MarketID {
			continue
		}
		return domain.TradeReceipt{TxReceipt: txReceipt(receipt), AmountOut: evt.AmountOut}, nil
	}
	return domain.TradeReceipt{}, ledgerErr(pool, method,
		fmt.Errorf("receipt %s carries no TradeExecuted log", receipt.TxHash.Hex()))
}

// SubmitPropose implements domain.LedgerWriter. Oracle-signed proposals go
// through proposeSigned so the contract can verify and consume the
// signature.
func (l *Ledger) SubmitPropose(ctx context.Context, in domain.ProposeIntent) (domain.TxReceipt, error) {
	oracle := l.opts.Contracts.Oracle
	var (
		receipt *types.Receipt
		err     error
	)
	if in.Signed != nil {
		p := in.Signed.Proposal
		var evidence [32]byte
		copy(evidence[:], p.EvidenceHash)
		receipt, err = l.transact(ctx, oracle, oracleABI, "proposeSigned",
			proposalTuple{
				MarketId:     u256(p.MarketID),
				OutcomeId:    u256(p.OutcomeID),
				CloseTime:    u256(p.CloseTime),
				EvidenceHash: evidence,
				NotBefore:    u256(p.NotBefore),
				Deadline:     u256(p.Deadline),
			},
			in.Signed.Signature, in.Bond, in.EvidenceURI)
	} else {
		receipt, err = l.transact(ctx, oracle, oracleABI, "propose",
			u256(in.MarketID), in.OutcomeID, in.Bond, in.EvidenceURI)
	}
	if err != nil {
		return domain.TxReceipt{}, err
	}
	return txReceipt(receipt), nil
}

// SubmitDispute implements domain.LedgerWriter.
func (l *Ledger) SubmitDispute(ctx context.Context, in domain.DisputeIntent) (domain.TxReceipt, error) {
	receipt, err := l.transact(ctx, l.opts.Contracts.Oracle, oracleABI, "dispute", u256(in.MarketID), in.Bond, in.Reason)
	if err != nil {
		return domain.TxReceipt{}, err
	}
	return txReceipt(receipt), nil
}

// SubmitFinalize implements domain.LedgerWriter.
func (l *Ledger) SubmitFinalize(ctx context.Context, marketID uint64) (domain.TxReceipt, error) {
	receipt, err := l.transact(ctx, l.opts.Contracts.Oracle, oracleABI, "finalize", u256(marketID))
	if err != nil {
		return domain.TxReceipt{}, err
	}
	return txReceipt(receipt), nil
}

// SubmitFinalizeDisputed implements domain.LedgerWriter.
func (l *Ledger) SubmitFinalizeDisputed(ctx context.Context, marketID uint64, outcomeID uint8) (domain.TxReceipt, error) {
	receipt, err := l.transact(ctx, l.opts.Contracts.Oracle, oracleABI, "finalizeDisputed", u256(marketID), outcomeID)
	if err != nil {
		return domain.TxReceipt{}, err
	}
	return txReceipt(receipt), nil
}

// transact builds, signs and sends a dynamic-fee transaction and waits for
// its receipt. Failures before the transaction is sent are ordinary ledger
// errors; once sent, running out of context yields ErrSubmissionTimeout.
func (l *Ledger) transact(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...any) (*types.Receipt, error) {
	if l.opts.Key == nil {
		return nil, ledgerErr(to, method, errors.New("no signing key configured"))
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("evm: pack %s: %w", method, err)
	}

	nonce, err := l.backend.PendingNonceAt(ctx, l.account)
	if err != nil {
		return nil, ledgerErr(to, "eth_getTransactionCount", err)
	}
	tip, err := l.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, ledgerErr(to, "eth_maxPriorityFeePerGas", err)
	}
	head, err := l.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, ledgerErr(to, "eth_getBlockByNumber", err)
	}
	feeCap := new(big.Int).Mul(tip, big.NewInt(2))
	if head != nil && head.BaseFee != nil {
		feeCap = new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	gas, err := l.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: l.account, To: &to, GasTipCap: tip, GasFeeCap: feeCap, Data: data,
	})
	if err != nil {
		// Reverts surface here, before anything is broadcast.
		return nil, ledgerErr(to, method, err)
	}
	gas += gas * l.opts.GasBufferPercent / 100

	tx, err := types.SignNewTx(l.opts.Key, types.LatestSignerForChainID(l.opts.ChainID), &types.DynamicFeeTx{
		ChainID:   l.opts.ChainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     new(big.Int),
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("evm: sign %s: %w", method, err)
	}
	if err := l.backend.SendTransaction(ctx, tx); err != nil {
		return nil, ledgerErr(to, method, err)
	}

	l.logger.InfoContext(ctx, "transaction sent",
		slog.String("method", method),
		slog.String("tx", tx.Hash().Hex()),
		slog.Uint64("nonce", nonce),
	)
	waitCtx := ctx
	if l.opts.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.opts.SubmitTimeout)
		defer cancel()
	}
	return l.waitMined(waitCtx, to, method, tx.Hash())
}

// waitMined polls for the receipt of hash. It never infers success or
// failure from a timeout.
func (l *Ledger) waitMined(ctx context.Context, to common.Address, method string, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status == types.ReceiptStatusFailed {
				return nil, ledgerErr(to, method, fmt.Errorf("execution reverted in tx %s", hash.Hex()))
			}
			return receipt, nil
		case errors.Is(err, ethereum.NotFound):
		case ctx.Err() != nil:
		default:
			l.logger.WarnContext(ctx, "receipt poll failed",
				slog.String("tx", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("evm: %s tx %s: %w: %w", method, hash.Hex(), domain.ErrSubmissionTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// TradeEvents implements domain.TradeEventSource.
func (l *Ledger) TradeEvents(ctx context.Context, marketID uint64, fromBlock uint64) ([]domain.TradeEvent, error) {
	pool := l.opts.Contracts.Pool
	logs, err := l.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: u256(fromBlock),
		Addresses: []common.Address{pool},
		Topics:    [][]common.Hash{{tradeExecutedID}, {common.BigToHash(u256(marketID))}},
	})
	if err != nil {
		return nil, ledgerErr(pool, "eth_getLogs", err)
	}
	events := make([]domain.TradeEvent, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		evt, err := decodeTradeLog(lg)
		if err != nil {
			return nil, ledgerErr(pool, "eth_getLogs", err)
		}
		events = append(events, evt)
	}
	return events, nil
}

func decodeTradeLog(lg types.Log) (domain.TradeEvent, error) {
	if len(lg.Topics) != 3 {
		return domain.TradeEvent{}, fmt.Errorf("TradeExecuted log with %d topics", len(lg.Topics))
	}
	var fields struct {
		OutcomeId uint8
		IsBuy     bool
		AmountIn  *big.Int
		AmountOut *big.Int
		Fee       *big.Int
	}
	if err := poolABI.UnpackIntoInterface(&fields, "TradeExecuted", lg.Data); err != nil {
		return domain.TradeEvent{}, fmt.Errorf("decode TradeExecuted: %w", err)
	}
	market := new(big.Int).SetBytes(lg.Topics[1].Bytes())
	if !market.IsUint64() {
		return domain.TradeEvent{}, fmt.Errorf("market id %s overflows", market)
	}
	dir := domain.DirectionSell
	if fields.IsBuy {
		dir = domain.DirectionBuy
	}
	return domain.TradeEvent{
		MarketID:    market.Uint64(),
		Trader:      common.BytesToAddress(lg.Topics[2].Bytes()),
		OutcomeID:   fields.OutcomeId,
		Direction:   dir,
		AmountIn:    fields.AmountIn,
		AmountOut:   fields.AmountOut,
		Fee:         fields.Fee,
		BlockNumber: lg.BlockNumber,
		LogIndex:    lg.Index,
		TxHash:      lg.TxHash,
	}, nil
}

func txReceipt(r *types.Receipt) domain.TxReceipt {
	out := domain.TxReceipt{TxHash: r.TxHash, GasUsed: r.GasUsed}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out
}
