package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"belief-pool-indexer/internal/decoder"
	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/observability"
	"belief-pool-indexer/internal/storage"
	"belief-pool-indexer/internal/units"
)

func (e *Engine) handleDeposit(ctx context.Context, ev decoder.DepositEvent) (Outcome, error) {
	flow, prev, out, err := e.reconcileFlow(ctx, &domain.FundingFlow{
		Direction:   domain.FlowDeposit,
		TxSignature: ev.Key(),
		Wallet:      ev.Depositor,
		Amount:      ev.Amount,
		FlowType:    domain.FlowTypeDirect,
		Slot:        ev.Slot,
		BlockTime:   ev.BlockTime,
	})
	if err != nil {
		return "", err
	}
	if err := e.settleFlow(ctx, flow, prev, out); err != nil {
		return "", err
	}
	return out, nil
}

func (e *Engine) handleWithdraw(ctx context.Context, ev decoder.WithdrawEvent) (Outcome, error) {
	flow, prev, out, err := e.reconcileFlow(ctx, &domain.FundingFlow{
		Direction:    domain.FlowWithdrawal,
		TxSignature:  ev.Key(),
		Wallet:       ev.Agent,
		Counterparty: ev.Recipient,
		Amount:       ev.Amount,
		FlowType:     domain.FlowTypeDirect,
		Slot:         ev.Slot,
		BlockTime:    ev.BlockTime,
	})
	if err != nil {
		return "", err
	}
	if err := e.settleFlow(ctx, flow, prev, out); err != nil {
		return "", err
	}
	return out, nil
}

// reconcileFlow has the same insert-or-validate-or-correct shape as
// reconcileTrade, on the custodian table picked by want.Direction.
// want.AgentID may be preset; otherwise the agent is resolved by wallet.
func (e *Engine) reconcileFlow(ctx context.Context, want *domain.FundingFlow) (*domain.FundingFlow, *units.AtomicAmount, Outcome, error) {
	existing, err := e.funding.GetBySignature(ctx, want.Direction, want.TxSignature)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		ins := *want
		if ins.AgentID == "" {
			agent, err := e.agentByWallet(ctx, want.Wallet)
			if err != nil {
				return nil, nil, "", err
			}
			ins.AgentID = agent.ID
		}
		ins.ID = e.newID()
		ins.RecordedBy = domain.RecordedByIndexer
		ins.Confirmed = true
		ins.CreatedAt = e.now().UnixMilli()

		err := e.funding.Insert(ctx, &ins)
		if err == nil {
			return &ins, nil, OutcomeInserted, nil
		}
		if !errors.Is(err, storage.ErrDuplicateKey) {
			return nil, nil, "", fmt.Errorf("insert %s %s: %w", want.Direction, want.TxSignature, err)
		}
		existing, err = e.funding.GetBySignature(ctx, want.Direction, want.TxSignature)
		if err != nil {
			return nil, nil, "", fmt.Errorf("reload %s %s: %w", want.Direction, want.TxSignature, err)
		}
	case err != nil:
		return nil, nil, "", fmt.Errorf("get %s %s: %w", want.Direction, want.TxSignature, err)
	}

	if existing.Confirmed && existing.Slot == want.Slot && existing.Amount.Equal(want.Amount) {
		return existing, nil, OutcomeDuplicate, nil
	}

	row := *existing
	if row.AgentID == "" {
		row.AgentID = want.AgentID
	}
	if row.AgentID == "" {
		agent, err := e.agentByWallet(ctx, want.Wallet)
		if err != nil {
			return nil, nil, "", err
		}
		row.AgentID = agent.ID
	}
	if row.Wallet == "" {
		row.Wallet = want.Wallet
	}
	if row.Counterparty == "" {
		row.Counterparty = want.Counterparty
	}

	out := OutcomeConfirmed
	var prev *units.AtomicAmount
	if !existing.Amount.WithinEpsilon(want.Amount, e.epsilon) {
		old := existing.Amount
		if row.ServerAmount == nil {
			row.ServerAmount = &old
		}
		prev = &old
		row.IndexerCorrected = true
		out = OutcomeCorrected
		observability.RecordCorrection(tableOf(want.Direction))
		e.logger.Info("funding flow corrected from ledger",
			zap.String("signature", want.TxSignature),
			zap.String("direction", string(want.Direction)),
			zap.Stringer("server_amount", old),
			zap.Stringer("ledger_amount", want.Amount))
	}
	row.Amount = want.Amount
	row.FlowType = want.FlowType
	row.Slot = want.Slot
	row.BlockTime = want.BlockTime
	row.Confirmed = true

	if err := e.funding.Update(ctx, &row); err != nil {
		return nil, nil, "", fmt.Errorf("update %s %s: %w", want.Direction, want.TxSignature, err)
	}
	return &row, prev, out, nil
}

// settleFlow applies the flow to the agent's custodian balance exactly once.
// agent_credited guards the row; the adjustment's source key guards the
// window between applying and flagging. When an already credited row was
// corrected, only the difference is applied.
func (e *Engine) settleFlow(ctx context.Context, f *domain.FundingFlow, prev *units.AtomicAmount, out Outcome) error {
	sourceKey := string(f.Direction) + ":" + f.TxSignature

	if !f.AgentCredited {
		if err := e.adjust(ctx, f.Direction, f.AgentID, f.Amount, sourceKey); err != nil {
			return err
		}
		if err := e.funding.MarkCredited(ctx, f.Direction, f.TxSignature); err != nil {
			return fmt.Errorf("mark %s %s credited: %w", f.Direction, f.TxSignature, err)
		}
		f.AgentCredited = true
		return nil
	}

	if out != OutcomeCorrected || prev == nil {
		return nil
	}
	delta := f.Amount.Sub(*prev)
	if delta.IsZero() {
		return nil
	}
	return e.adjust(ctx, f.Direction, f.AgentID, delta, sourceKey+":correction")
}

func (e *Engine) adjust(ctx context.Context, dir domain.FlowDirection, agentID string, amount units.AtomicAmount, sourceKey string) error {
	var (
		applied bool
		err     error
	)
	if dir == domain.FlowWithdrawal {
		applied, err = e.stake.Debit(ctx, agentID, amount, sourceKey)
	} else {
		applied, err = e.stake.Credit(ctx, agentID, amount, sourceKey)
	}
	if err != nil {
		return fmt.Errorf("adjust stake for %s: %w", agentID, err)
	}
	if applied {
		observability.RecordStakeAdjustment(string(dir))
	}
	return nil
}

func tableOf(dir domain.FlowDirection) string {
	if dir == domain.FlowWithdrawal {
		return "custodian_withdrawals"
	}
	return "custodian_deposits"
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
