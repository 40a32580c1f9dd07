package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/punchamoorthee/payoutops/internal/cashflow"
	"github.com/punchamoorthee/payoutops/internal/domain"
	"github.com/punchamoorthee/payoutops/internal/ledger"
	"github.com/punchamoorthee/payoutops/internal/party"
)

// Store is the persistence the orchestrator needs. WithPayoutLock must hold
// an exclusive row lock for the whole callback and roll the status change
// back when the callback fails.
type Store interface {
	CreatePayout(ctx context.Context, payout *domain.Payout, postings []domain.CashFlowPosting) error
	GetPayout(ctx context.Context, payoutID string) (*domain.Payout, error)
	WithPayoutLock(ctx context.Context, payoutID string,
		fn func(ctx context.Context, payout *domain.Payout, changeStatus func(domain.PayoutStatus, string) error) error) error
}

// Ledger drives the two-phase protocol against the external ledger.
type Ledger interface {
	Hold(ctx context.Context, payoutID string, postings []domain.CashFlowPosting) (domain.Clock, error)
	Commit(ctx context.Context, payoutID string) error
	Rollback(ctx context.Context, payoutID string) error
	Revert(ctx context.Context, payoutID string) error
	GetBalance(ctx context.Context, accountID int64, clock domain.Clock) (*domain.Balance, error)
}

// PartyDirectory resolves party snapshots and cash-flow computations.
type PartyDirectory interface {
	GetParty(ctx context.Context, partyID string, rev party.RevisionSelector) (*domain.Party, error)
	ComputePayoutCashFlow(ctx context.Context, partyID string, params party.PayoutParams) ([]domain.FinalCashFlowPosting, error)
	GetPartyRevision(ctx context.Context, partyID string) (int64, error)
}

// PayoutService is the payout lifecycle state machine.
type PayoutService struct {
	store  Store
	ledger Ledger
	party  PartyDirectory
	log    *zap.Logger
}

func NewPayoutService(store Store, ledger Ledger, party PartyDirectory, log *zap.Logger) *PayoutService {
	return &PayoutService{store: store, ledger: ledger, party: party, log: log}
}

// Create computes the payout cash flow, persists the payout with its plan
// postings and reserves the funds on the ledger. The store and the ledger
// share no transaction: any failure after a successful hold is compensated
// with an explicit ledger rollback.
func (s *PayoutService) Create(ctx context.Context, partyID, shopID string, cash domain.Cash) (*domain.Payout, error) {
	s.log.Info("creating payout", zap.String("party_id", partyID), zap.String("shop_id", shopID))
	if cash.Amount <= 0 {
		return nil, fmt.Errorf("available amount must be greater than 0: %w", domain.ErrInsufficientFunds)
	}

	// Pin the snapshot to one revision so shop and contract data come from
	// the same point in time.
	revision, err := s.party.GetPartyRevision(ctx, partyID)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.party.GetParty(ctx, partyID, party.AtRevision(revision))
	if err != nil {
		return nil, err
	}
	shop, ok := snapshot.Shops[shopID]
	if !ok {
		return nil, fmt.Errorf("shop %q of party %q: %w", shopID, partyID, domain.ErrNotFound)
	}
	contract, err := contractForPayoutTool(snapshot, shop.PayoutToolID)
	if err != nil {
		return nil, fmt.Errorf("contract for payout tool %q of party %q: %w",
			shop.PayoutToolID, partyID, err)
	}

	now := time.Now().UTC()
	postings, err := s.party.ComputePayoutCashFlow(ctx, partyID, party.PayoutParams{
		ShopID:       shopID,
		Cash:         cash,
		PayoutToolID: shop.PayoutToolID,
		Timestamp:    now,
	})
	if err != nil {
		return nil, err
	}

	totals := cashflow.Classify(postings)
	amount := totals[cashflow.PayoutAmount] - totals[cashflow.PayoutFixedFee]
	fee := totals[cashflow.Fee] + totals[cashflow.PayoutFixedFee]
	if amount <= 0 {
		return nil, fmt.Errorf("non-positive amount in payout cash flow, amount=%d, fee=%d: %w",
			amount, fee, domain.ErrInsufficientFunds)
	}

	payoutID := uuid.NewString()
	rows, err := ledger.BindPostings(payoutID, postings)
	if err != nil {
		return nil, err
	}
	audit, err := json.Marshal(postings)
	if err != nil {
		return nil, fmt.Errorf("encode cash flow snapshot: %w", err)
	}
	payout := &domain.Payout{
		PayoutID:     payoutID,
		PartyID:      partyID,
		ShopID:       shopID,
		ContractID:   contract.ID,
		PayoutToolID: shop.PayoutToolID,
		CreatedAt:    now,
		Amount:       amount,
		Fee:          fee,
		CurrencyCode: cash.CurrencyCode,
		Status:       domain.StatusUnpaid,
		CashFlow:     string(audit),
		SequenceID:   1,
	}
	if err := s.store.CreatePayout(ctx, payout, rows); err != nil {
		return nil, err
	}

	clock, err := s.ledger.Hold(ctx, payoutID, rows)
	if err != nil {
		return nil, err
	}
	if err := s.validateBalance(ctx, payoutID, shop.SettlementAccountID, clock); err != nil {
		return nil, err
	}

	s.log.Info("payout created", zap.String("payout_id", payoutID))
	return payout, nil
}

// Get returns the stored payout.
func (s *PayoutService) Get(ctx context.Context, payoutID string) (*domain.Payout, error) {
	return s.store.GetPayout(ctx, payoutID)
}

// Confirm finalizes an UNPAID payout; confirming a CONFIRMED payout is a
// no-op. The ledger commit runs under the row lock, so a ledger failure
// rolls the status change back.
func (s *PayoutService) Confirm(ctx context.Context, payoutID string) error {
	return s.store.WithPayoutLock(ctx, payoutID,
		func(ctx context.Context, payout *domain.Payout, changeStatus func(domain.PayoutStatus, string) error) error {
			switch payout.Status {
			case domain.StatusConfirmed:
				s.log.Info("payout already confirmed", zap.String("payout_id", payoutID))
				return nil
			case domain.StatusUnpaid:
				if err := changeStatus(domain.StatusConfirmed, ""); err != nil {
					return err
				}
				if err := s.ledger.Commit(ctx, payoutID); err != nil {
					return err
				}
				s.log.Info("payout confirmed", zap.String("payout_id", payoutID))
				return nil
			default:
				return fmt.Errorf("cannot confirm payout %q in status %s: %w",
					payoutID, payout.Status, domain.ErrInvalidState)
			}
		})
}

// Cancel terminates the payout. A hold that was never committed is rolled
// back; a confirmed payout is compensated with a revert plan. Cancelling a
// CANCELLED payout is a no-op. Transition legality is checked before the
// status write so an illegal prior state never persists an uncompensated
// transition.
func (s *PayoutService) Cancel(ctx context.Context, payoutID, details string) error {
	return s.store.WithPayoutLock(ctx, payoutID,
		func(ctx context.Context, payout *domain.Payout, changeStatus func(domain.PayoutStatus, string) error) error {
			var compensate func(context.Context, string) error
			switch payout.Status {
			case domain.StatusCancelled:
				s.log.Info("payout already cancelled", zap.String("payout_id", payoutID))
				return nil
			case domain.StatusUnpaid, domain.StatusPaid:
				compensate = s.ledger.Rollback
			case domain.StatusConfirmed:
				compensate = s.ledger.Revert
			default:
				return fmt.Errorf("cannot cancel payout %q in status %s: %w",
					payoutID, payout.Status, domain.ErrInvalidState)
			}
			if err := changeStatus(domain.StatusCancelled, details); err != nil {
				return err
			}
			if err := compensate(ctx, payoutID); err != nil {
				return err
			}
			s.log.Info("payout cancelled", zap.String("payout_id", payoutID))
			return nil
		})
}

// validateBalance verifies the settlement account can cover the hold at the
// hold's clock. An absent balance or a negative minimum available amount
// releases the hold and fails with insufficient funds.
func (s *PayoutService) validateBalance(ctx context.Context, payoutID string, accountID int64, clock domain.Clock) error {
	balance, err := s.ledger.GetBalance(ctx, accountID, clock)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if err == nil && balance.MinAvailableAmount >= 0 {
		return nil
	}
	if rbErr := s.ledger.Rollback(ctx, payoutID); rbErr != nil {
		return fmt.Errorf("compensating rollback of payout %q failed: %w", payoutID, rbErr)
	}
	return fmt.Errorf("invalid available amount on settlement account %d: %w",
		accountID, domain.ErrInsufficientFunds)
}

func contractForPayoutTool(snapshot *domain.Party, payoutToolID string) (*domain.Contract, error) {
	for _, contract := range snapshot.Contracts {
		for _, toolID := range contract.PayoutToolIDs {
			if toolID == payoutToolID {
				return &contract, nil
			}
		}
	}
	return nil, domain.ErrNotFound
}
