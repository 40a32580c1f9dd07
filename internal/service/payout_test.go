package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/punchamoorthee/payoutops/internal/domain"
	"github.com/punchamoorthee/payoutops/internal/party"
)

type fakeStore struct {
	payouts   map[string]*domain.Payout
	postings  map[string][]domain.CashFlowPosting
	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		payouts:  make(map[string]*domain.Payout),
		postings: make(map[string][]domain.CashFlowPosting),
	}
}

func (f *fakeStore) CreatePayout(_ context.Context, payout *domain.Payout, postings []domain.CashFlowPosting) error {
	if f.createErr != nil {
		return f.createErr
	}
	stored := *payout
	f.payouts[payout.PayoutID] = &stored
	f.postings[payout.PayoutID] = postings
	return nil
}

func (f *fakeStore) GetPayout(_ context.Context, payoutID string) (*domain.Payout, error) {
	payout, ok := f.payouts[payoutID]
	if !ok {
		return nil, fmt.Errorf("payout %q: %w", payoutID, domain.ErrNotFound)
	}
	stored := *payout
	return &stored, nil
}

// WithPayoutLock mirrors the store's transaction semantics: status changes
// are discarded when the callback fails.
func (f *fakeStore) WithPayoutLock(ctx context.Context, payoutID string,
	fn func(ctx context.Context, payout *domain.Payout, changeStatus func(domain.PayoutStatus, string) error) error) error {

	stored, ok := f.payouts[payoutID]
	if !ok {
		return fmt.Errorf("payout %q: %w", payoutID, domain.ErrNotFound)
	}
	working := *stored
	changeStatus := func(status domain.PayoutStatus, cancelDetails string) error {
		working.Status = status
		working.SequenceID++
		if cancelDetails != "" {
			working.CancelDetails = cancelDetails
		}
		return nil
	}
	if err := fn(ctx, &working, changeStatus); err != nil {
		return err
	}
	f.payouts[payoutID] = &working
	return nil
}

type fakeLedger struct {
	holds     int
	commits   int
	rollbacks int
	reverts   int

	holdErr     error
	commitErr   error
	rollbackErr error
	revertErr   error

	clock      domain.Clock
	balance    *domain.Balance
	balanceErr error

	heldPostings   []domain.CashFlowPosting
	balanceAccount int64
	balanceClock   domain.Clock
}

func (f *fakeLedger) Hold(_ context.Context, payoutID string, postings []domain.CashFlowPosting) (domain.Clock, error) {
	f.holds++
	f.heldPostings = postings
	if f.holdErr != nil {
		return domain.Clock{}, f.holdErr
	}
	return f.clock, nil
}

func (f *fakeLedger) Commit(_ context.Context, payoutID string) error {
	f.commits++
	return f.commitErr
}

func (f *fakeLedger) Rollback(_ context.Context, payoutID string) error {
	f.rollbacks++
	return f.rollbackErr
}

func (f *fakeLedger) Revert(_ context.Context, payoutID string) error {
	f.reverts++
	return f.revertErr
}

func (f *fakeLedger) GetBalance(_ context.Context, accountID int64, clock domain.Clock) (*domain.Balance, error) {
	f.balanceAccount = accountID
	f.balanceClock = clock
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return f.balance, nil
}

type fakePartyDir struct {
	revision    int64
	revisionErr error

	snapshot *domain.Party
	partyErr error

	postings   []domain.FinalCashFlowPosting
	computeErr error

	pinned []party.RevisionSelector
}

func (f *fakePartyDir) GetParty(_ context.Context, partyID string, rev party.RevisionSelector) (*domain.Party, error) {
	f.pinned = append(f.pinned, rev)
	if f.partyErr != nil {
		return nil, f.partyErr
	}
	return f.snapshot, nil
}

func (f *fakePartyDir) ComputePayoutCashFlow(_ context.Context, partyID string, params party.PayoutParams) ([]domain.FinalCashFlowPosting, error) {
	if f.computeErr != nil {
		return nil, f.computeErr
	}
	return f.postings, nil
}

func (f *fakePartyDir) GetPartyRevision(_ context.Context, partyID string) (int64, error) {
	if f.revisionErr != nil {
		return 0, f.revisionErr
	}
	return f.revision, nil
}

func flowPosting(srcClass domain.AccountClass, srcPurpose string, dstClass domain.AccountClass, dstPurpose string, amount int64) domain.FinalCashFlowPosting {
	return domain.FinalCashFlowPosting{
		Source:      domain.CashFlowAccount{AccountID: 1, Class: srcClass, Purpose: srcPurpose},
		Destination: domain.CashFlowAccount{AccountID: 2, Class: dstClass, Purpose: dstPurpose},
		Volume:      domain.Cash{Amount: amount, CurrencyCode: "USD"},
	}
}

// settlement→payout 5, payout→settlement 1 (fixed fee), settlement→system 1
// (fee): amount = 5-1 = 4, fee = 1+1 = 2.
func testFlow() []domain.FinalCashFlowPosting {
	return []domain.FinalCashFlowPosting{
		flowPosting(domain.ClassMerchant, domain.PurposeSettlement, domain.ClassMerchant, domain.PurposePayout, 5),
		flowPosting(domain.ClassMerchant, domain.PurposePayout, domain.ClassMerchant, domain.PurposeSettlement, 1),
		flowPosting(domain.ClassMerchant, domain.PurposeSettlement, domain.ClassSystem, domain.PurposeSettlement, 1),
	}
}

func testSnapshot() *domain.Party {
	return &domain.Party{
		ID:       "party-1",
		Revision: 7,
		Shops: map[string]domain.Shop{
			"shop-1": {ID: "shop-1", PayoutToolID: "tool-1", SettlementAccountID: 42},
		},
		Contracts: map[string]domain.Contract{
			"contract-1": {ID: "contract-1", PayoutToolIDs: []string{"tool-1"}},
		},
	}
}

type fixture struct {
	store   *fakeStore
	ledger  *fakeLedger
	parties *fakePartyDir
	service *PayoutService
}

func newFixture() *fixture {
	store := newFakeStore()
	ledger := &fakeLedger{
		clock:   domain.Clock{Token: "clk-1"},
		balance: &domain.Balance{AccountID: 42, MinAvailableAmount: 10},
	}
	parties := &fakePartyDir{
		revision: 7,
		snapshot: testSnapshot(),
		postings: testFlow(),
	}
	return &fixture{
		store:   store,
		ledger:  ledger,
		parties: parties,
		service: NewPayoutService(store, ledger, parties, zap.NewNop()),
	}
}

func cash(amount int64) domain.Cash {
	return domain.Cash{Amount: amount, CurrencyCode: "USD"}
}

func TestCreatePayout(t *testing.T) {
	f := newFixture()

	payout, err := f.service.Create(context.Background(), "party-1", "shop-1", cash(100))
	require.NoError(t, err)

	assert.Equal(t, int64(4), payout.Amount)
	assert.Equal(t, int64(2), payout.Fee)
	assert.Equal(t, domain.StatusUnpaid, payout.Status)
	assert.Equal(t, "USD", payout.CurrencyCode)
	assert.Equal(t, "party-1", payout.PartyID)
	assert.Equal(t, "contract-1", payout.ContractID)
	assert.Equal(t, "tool-1", payout.PayoutToolID)
	assert.Equal(t, int64(1), payout.SequenceID)
	assert.NotEmpty(t, payout.CashFlow)

	stored, err := f.store.GetPayout(context.Background(), payout.PayoutID)
	require.NoError(t, err)
	assert.Equal(t, payout.Amount, stored.Amount)
	assert.Len(t, f.store.postings[payout.PayoutID], 3)

	// Snapshot was pinned to the freshly fetched revision.
	require.Len(t, f.parties.pinned, 1)
	assert.Equal(t, party.AtRevision(7), f.parties.pinned[0])

	assert.Equal(t, 1, f.ledger.holds)
	assert.Len(t, f.ledger.heldPostings, 3)
	assert.Equal(t, int64(42), f.ledger.balanceAccount)
	assert.Equal(t, "clk-1", f.ledger.balanceClock.Token)
	assert.Equal(t, 0, f.ledger.rollbacks)
}

func TestCreateNonPositiveRequestedAmount(t *testing.T) {
	for _, amount := range []int64{0, -5} {
		f := newFixture()

		_, err := f.service.Create(context.Background(), "party-1", "shop-1", cash(amount))
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
		assert.Empty(t, f.store.payouts, "nothing may be persisted")
		assert.Equal(t, 0, f.ledger.holds, "no ledger call may be made")
	}
}

func TestCreateNonPositiveComputedAmount(t *testing.T) {
	f := newFixture()
	// payout volume 1 fully consumed by the fixed fee
	f.parties.postings = []domain.FinalCashFlowPosting{
		flowPosting(domain.ClassMerchant, domain.PurposeSettlement, domain.ClassMerchant, domain.PurposePayout, 1),
		flowPosting(domain.ClassMerchant, domain.PurposePayout, domain.ClassMerchant, domain.PurposeSettlement, 1),
	}

	_, err := f.service.Create(context.Background(), "party-1", "shop-1", cash(100))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Empty(t, f.store.payouts)
	assert.Equal(t, 0, f.ledger.holds)
}

func TestCreateNegativeBalanceCompensates(t *testing.T) {
	f := newFixture()
	f.ledger.balance = &domain.Balance{AccountID: 42, MinAvailableAmount: -1}

	_, err := f.service.Create(context.Background(), "party-1", "shop-1", cash(100))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, 1, f.ledger.holds)
	assert.Equal(t, 1, f.ledger.rollbacks, "held plan must be rolled back before returning")
}

func TestCreateAbsentBalanceCompensates(t *testing.T) {
	f := newFixture()
	f.ledger.balanceErr = domain.ErrNotFound

	_, err := f.service.Create(context.Background(), "party-1", "shop-1", cash(100))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, 1, f.ledger.rollbacks)
}

func TestCreateCompensatingRollbackFailure(t *testing.T) {
	f := newFixture()
	f.ledger.balance = &domain.Balance{AccountID: 42, MinAvailableAmount: -1}
	f.ledger.rollbackErr = errors.New("accounter unavailable")

	_, err := f.service.Create(context.Background(), "party-1", "shop-1", cash(100))
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Contains(t, err.Error(), "compensating rollback")
}

func TestCreateUnknownShop(t *testing.T) {
	f := newFixture()

	_, err := f.service.Create(context.Background(), "party-1", "shop-9", cash(100))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateNoContractForPayoutTool(t *testing.T) {
	f := newFixture()
	f.parties.snapshot.Contracts = map[string]domain.Contract{
		"contract-1": {ID: "contract-1", PayoutToolIDs: []string{"tool-9"}},
	}

	_, err := f.service.Create(context.Background(), "party-1", "shop-1", cash(100))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, f.store.payouts)
}

func TestCreatePartyNotFound(t *testing.T) {
	f := newFixture()
	f.parties.revisionErr = domain.ErrNotFound

	_, err := f.service.Create(context.Background(), "party-x", "shop-1", cash(100))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetUnknownPayout(t *testing.T) {
	f := newFixture()

	_, err := f.service.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func createTestPayout(t *testing.T, f *fixture) *domain.Payout {
	t.Helper()
	payout, err := f.service.Create(context.Background(), "party-1", "shop-1", cash(100))
	require.NoError(t, err)
	return payout
}

func TestConfirmIsIdempotent(t *testing.T) {
	f := newFixture()
	payout := createTestPayout(t, f)

	require.NoError(t, f.service.Confirm(context.Background(), payout.PayoutID))
	require.NoError(t, f.service.Confirm(context.Background(), payout.PayoutID))

	assert.Equal(t, 1, f.ledger.commits, "exactly one ledger commit")
	stored, err := f.service.Get(context.Background(), payout.PayoutID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, stored.Status)
	assert.Equal(t, int64(2), stored.SequenceID)
}

func TestConfirmCancelledPayout(t *testing.T) {
	f := newFixture()
	payout := createTestPayout(t, f)
	require.NoError(t, f.service.Cancel(context.Background(), payout.PayoutID, ""))

	err := f.service.Confirm(context.Background(), payout.PayoutID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestConfirmUnknownPayout(t *testing.T) {
	f := newFixture()

	err := f.service.Confirm(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConfirmLedgerFailureKeepsStatus(t *testing.T) {
	f := newFixture()
	payout := createTestPayout(t, f)
	f.ledger.commitErr = errors.New("accounter unavailable")

	err := f.service.Confirm(context.Background(), payout.PayoutID)
	require.Error(t, err)

	stored, err := f.service.Get(context.Background(), payout.PayoutID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnpaid, stored.Status, "status change must roll back with the failed commit")
}

func TestCancelUnpaidRollsBack(t *testing.T) {
	f := newFixture()
	payout := createTestPayout(t, f)

	require.NoError(t, f.service.Cancel(context.Background(), payout.PayoutID, "operator request"))
	require.NoError(t, f.service.Cancel(context.Background(), payout.PayoutID, "operator request"))

	assert.Equal(t, 1, f.ledger.rollbacks, "exactly one compensating call")
	assert.Equal(t, 0, f.ledger.reverts)

	stored, err := f.service.Get(context.Background(), payout.PayoutID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, stored.Status)
	assert.Equal(t, "operator request", stored.CancelDetails)
}

func TestCancelPaidRollsBack(t *testing.T) {
	f := newFixture()
	payout := createTestPayout(t, f)
	f.store.payouts[payout.PayoutID].Status = domain.StatusPaid

	require.NoError(t, f.service.Cancel(context.Background(), payout.PayoutID, ""))

	assert.Equal(t, 1, f.ledger.rollbacks)
	assert.Equal(t, 0, f.ledger.reverts)
}

func TestCancelConfirmedReverts(t *testing.T) {
	f := newFixture()
	payout := createTestPayout(t, f)
	require.NoError(t, f.service.Confirm(context.Background(), payout.PayoutID))

	require.NoError(t, f.service.Cancel(context.Background(), payout.PayoutID, ""))
	require.NoError(t, f.service.Cancel(context.Background(), payout.PayoutID, ""))

	assert.Equal(t, 1, f.ledger.reverts, "confirmed payout is compensated with a revert")
	assert.Equal(t, 0, f.ledger.rollbacks)

	stored, err := f.service.Get(context.Background(), payout.PayoutID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, stored.Status)
}

func TestCancelLedgerFailureKeepsStatus(t *testing.T) {
	f := newFixture()
	payout := createTestPayout(t, f)
	f.ledger.rollbackErr = errors.New("accounter unavailable")

	err := f.service.Cancel(context.Background(), payout.PayoutID, "")
	require.Error(t, err)

	stored, err := f.service.Get(context.Background(), payout.PayoutID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnpaid, stored.Status)
}

func TestCancelUnknownPayout(t *testing.T) {
	f := newFixture()

	err := f.service.Cancel(context.Background(), "missing", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
