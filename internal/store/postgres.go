package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/payoutops/internal/domain"
)

// Store is the Postgres persistence layer for payouts, their plan-bound
// postings and the payout event read model.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{db: pool}, nil
}

func (s *Store) Close() {
	s.db.Close()
}

const payoutColumns = `payout_id, party_id, shop_id, contract_id, payout_tool_id, created_at,
	amount, fee, currency_code, status, cash_flow, sequence_id, COALESCE(cancel_details, '')`

// CreatePayout persists the payout row, its postings and the created event in
// one transaction. The serialized cash-flow snapshot on the payout row is an
// audit copy; the posting rows are what drives the ledger afterwards.
func (s *Store) CreatePayout(ctx context.Context, payout *domain.Payout, postings []domain.CashFlowPosting) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO payouts (payout_id, party_id, shop_id, contract_id, payout_tool_id, created_at,
			amount, fee, currency_code, status, cash_flow, sequence_id, cancel_details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULLIF($13, ''))`,
		payout.PayoutID, payout.PartyID, payout.ShopID, payout.ContractID, payout.PayoutToolID,
		payout.CreatedAt, payout.Amount, payout.Fee, payout.CurrencyCode, payout.Status,
		payout.CashFlow, payout.SequenceID, payout.CancelDetails)
	if err != nil {
		return fmt.Errorf("payout insert failed: %w", err)
	}

	rows := make([][]any, 0, len(postings))
	for i, p := range postings {
		rows = append(rows, []any{
			p.PayoutID, p.PlanID, p.BatchID, i + 1,
			p.FromAccountID, p.FromAccountType, p.ToAccountID, p.ToAccountType,
			p.Amount, p.CurrencyCode, p.Description,
		})
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"cash_flow_postings"},
		[]string{"payout_id", "plan_id", "batch_id", "ordinal",
			"from_account_id", "from_account_type", "to_account_id", "to_account_type",
			"amount", "currency_code", "description"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("posting insert failed: %w", err)
	}

	if err := insertEvent(ctx, tx, payout); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

// GetPayout retrieves a single payout by id.
func (s *Store) GetPayout(ctx context.Context, payoutID string) (*domain.Payout, error) {
	return scanPayout(s.db.QueryRow(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE payout_id = $1`, payoutID))
}

// WithPayoutLock runs fn with the payout row locked FOR UPDATE. Status
// changes made through changeStatus and any remote calls fn performs happen
// under the lock; if fn fails, the status change is rolled back.
func (s *Store) WithPayoutLock(ctx context.Context, payoutID string,
	fn func(ctx context.Context, payout *domain.Payout, changeStatus func(domain.PayoutStatus, string) error) error) error {

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	payout, err := scanPayout(tx.QueryRow(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE payout_id = $1 FOR UPDATE`, payoutID))
	if err != nil {
		return err
	}

	changeStatus := func(status domain.PayoutStatus, cancelDetails string) error {
		updated, err := scanPayout(tx.QueryRow(ctx,
			`UPDATE payouts
			 SET status = $2, sequence_id = sequence_id + 1,
				 cancel_details = COALESCE(NULLIF($3, ''), cancel_details)
			 WHERE payout_id = $1
			 RETURNING `+payoutColumns, payoutID, status, cancelDetails))
		if err != nil {
			return fmt.Errorf("status update failed: %w", err)
		}
		*payout = *updated
		return insertEvent(ctx, tx, payout)
	}

	if err := fn(ctx, payout, changeStatus); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

// GetPostings reloads the payout's posting rows in deterministic order.
func (s *Store) GetPostings(ctx context.Context, payoutID string) ([]domain.CashFlowPosting, error) {
	rows, err := s.db.Query(ctx,
		`SELECT payout_id, plan_id, batch_id, from_account_id, from_account_type,
			to_account_id, to_account_type, amount, currency_code, description
		 FROM cash_flow_postings WHERE payout_id = $1 ORDER BY batch_id, ordinal`, payoutID)
	if err != nil {
		return nil, fmt.Errorf("posting query failed: %w", err)
	}
	defer rows.Close()

	var postings []domain.CashFlowPosting
	for rows.Next() {
		var p domain.CashFlowPosting
		if err := rows.Scan(&p.PayoutID, &p.PlanID, &p.BatchID,
			&p.FromAccountID, &p.FromAccountType, &p.ToAccountID, &p.ToAccountType,
			&p.Amount, &p.CurrencyCode, &p.Description); err != nil {
			return nil, fmt.Errorf("posting scan failed: %w", err)
		}
		postings = append(postings, p)
	}
	return postings, rows.Err()
}

// GetEvents returns the payout's event rows in sequence order. The messaging
// collaborator reads these to build outbound notifications.
func (s *Store) GetEvents(ctx context.Context, payoutID string) ([]domain.PayoutEvent, error) {
	rows, err := s.db.Query(ctx,
		`SELECT event_id, payout_id, sequence_id, status, snapshot, created_at
		 FROM payout_events WHERE payout_id = $1 ORDER BY sequence_id`, payoutID)
	if err != nil {
		return nil, fmt.Errorf("event query failed: %w", err)
	}
	defer rows.Close()

	var events []domain.PayoutEvent
	for rows.Next() {
		var e domain.PayoutEvent
		if err := rows.Scan(&e.EventID, &e.PayoutID, &e.SequenceID, &e.Status,
			&e.Snapshot, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("event scan failed: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func insertEvent(ctx context.Context, tx pgx.Tx, payout *domain.Payout) error {
	snapshot, err := json.Marshal(payout)
	if err != nil {
		return fmt.Errorf("snapshot encode failed: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO payout_events (payout_id, sequence_id, status, snapshot, created_at)
		 VALUES ($1, $2, $3, $4, now())`,
		payout.PayoutID, payout.SequenceID, payout.Status, snapshot)
	if err != nil {
		return fmt.Errorf("event insert failed: %w", err)
	}
	return nil
}

func scanPayout(row pgx.Row) (*domain.Payout, error) {
	var p domain.Payout
	err := row.Scan(&p.PayoutID, &p.PartyID, &p.ShopID, &p.ContractID, &p.PayoutToolID,
		&p.CreatedAt, &p.Amount, &p.Fee, &p.CurrencyCode, &p.Status, &p.CashFlow,
		&p.SequenceID, &p.CancelDetails)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("payout scan failed: %w", err)
	}
	return &p, nil
}
