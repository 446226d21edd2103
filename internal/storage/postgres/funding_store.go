package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"belief-pool-indexer/internal/domain"
	"belief-pool-indexer/internal/storage"
)

// FundingStore implements storage.FundingStore over custodian_deposits and
// custodian_withdrawals, which share one layout.
type FundingStore struct {
	pool *Pool
}

// NewFundingStore creates a new FundingStore.
func NewFundingStore(pool *Pool) *FundingStore {
	return &FundingStore{pool: pool}
}

// Compile-time interface check.
var _ storage.FundingStore = (*FundingStore)(nil)

const flowColumns = `
	id, tx_signature, agent_id, wallet, counterparty, amount::text, flow_type,
	recorded_by, confirmed, indexer_corrected, server_amount::text, agent_credited,
	slot, block_time, created_at`

func flowTable(dir domain.FlowDirection) (string, error) {
	switch dir {
	case domain.FlowDeposit:
		return "custodian_deposits", nil
	case domain.FlowWithdrawal:
		return "custodian_withdrawals", nil
	default:
		return "", storage.ErrInvalidInput
	}
}

// Insert adds a flow to the table chosen by f.Direction.
func (s *FundingStore) Insert(ctx context.Context, f *domain.FundingFlow) error {
	table, err := flowTable(f.Direction)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO ` + table + ` (
			id, tx_signature, agent_id, wallet, counterparty, amount, flow_type,
			recorded_by, confirmed, indexer_corrected, server_amount, agent_credited,
			slot, block_time, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = s.pool.Exec(ctx, query,
		f.ID, f.TxSignature, f.AgentID, f.Wallet, f.Counterparty, f.Amount.String(), string(f.FlowType),
		string(f.RecordedBy), f.Confirmed, f.IndexerCorrected, nullableAtomic(f.ServerAmount), f.AgentCredited,
		int64(f.Slot), f.BlockTime, f.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

// GetBySignature returns ErrNotFound if no flow has the signature.
func (s *FundingStore) GetBySignature(ctx context.Context, dir domain.FlowDirection, sig string) (*domain.FundingFlow, error) {
	table, err := flowTable(dir)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + flowColumns + ` FROM ` + table + ` WHERE tx_signature = $1`

	f, err := scanFlow(s.pool.QueryRow(ctx, query, sig), dir)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", table, err)
	}
	return f, nil
}

// Update overwrites the row with the same direction and tx_signature.
// agent_credited is never cleared.
func (s *FundingStore) Update(ctx context.Context, f *domain.FundingFlow) error {
	table, err := flowTable(f.Direction)
	if err != nil {
		return err
	}
	query := `
		UPDATE ` + table + ` SET
			agent_id = $2, wallet = $3, counterparty = $4, amount = $5, flow_type = $6,
			recorded_by = $7, confirmed = $8, indexer_corrected = $9, server_amount = $10,
			slot = $11, block_time = $12, agent_credited = agent_credited OR $13
		WHERE tx_signature = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		f.TxSignature, f.AgentID, f.Wallet, f.Counterparty, f.Amount.String(), string(f.FlowType),
		string(f.RecordedBy), f.Confirmed, f.IndexerCorrected, nullableAtomic(f.ServerAmount),
		int64(f.Slot), f.BlockTime, f.AgentCredited,
	)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// MarkCredited sets agent_credited.
func (s *FundingStore) MarkCredited(ctx context.Context, dir domain.FlowDirection, sig string) error {
	table, err := flowTable(dir)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE `+table+` SET agent_credited = TRUE WHERE tx_signature = $1`, sig)
	if err != nil {
		return fmt.Errorf("mark %s credited: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListByAgent returns an agent's flows in one direction ordered by slot.
func (s *FundingStore) ListByAgent(ctx context.Context, dir domain.FlowDirection, agentID string) ([]*domain.FundingFlow, error) {
	table, err := flowTable(dir)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + flowColumns + ` FROM ` + table + `
		WHERE agent_id = $1 ORDER BY slot ASC, created_at ASC, tx_signature ASC`

	rows, err := s.pool.Query(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var result []*domain.FundingFlow
	for rows.Next() {
		f, err := scanFlow(rows, dir)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return result, nil
}

func scanFlow(row pgx.Row, dir domain.FlowDirection) (*domain.FundingFlow, error) {
	var (
		f                        domain.FundingFlow
		amount, flowType, source string
		serverAmount             *string
		slot                     int64
	)
	err := row.Scan(
		&f.ID, &f.TxSignature, &f.AgentID, &f.Wallet, &f.Counterparty, &amount, &flowType,
		&source, &f.Confirmed, &f.IndexerCorrected, &serverAmount, &f.AgentCredited,
		&slot, &f.BlockTime, &f.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	var n numerics
	f.Direction = dir
	f.Amount = n.atomic(amount)
	f.FlowType = domain.FlowType(flowType)
	f.RecordedBy = domain.RecordedBy(source)
	f.ServerAmount = n.nullableAtomic(serverAmount)
	f.Slot = uint64(slot)
	if n.err != nil {
		return nil, n.err
	}
	return &f, nil
}
