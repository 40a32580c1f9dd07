package party

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/punchamoorthee/payoutops/internal/domain"
)

// RevisionSelector pins a party checkout either to a concrete revision or to
// the latest committed one. Concrete revisions are immutable.
type RevisionSelector struct {
	Latest   bool
	Revision int64
}

func AtRevision(revision int64) RevisionSelector {
	return RevisionSelector{Revision: revision}
}

func Latest() RevisionSelector {
	return RevisionSelector{Latest: true}
}

func (r RevisionSelector) String() string {
	if r.Latest {
		return "latest"
	}
	return fmt.Sprintf("revision(%d)", r.Revision)
}

// PayoutParams are the inputs to a remote payout cash-flow computation.
type PayoutParams struct {
	ShopID       string
	Cash         domain.Cash
	PayoutToolID string
	Timestamp    time.Time
}

// Client is the remote party-management capability. Implementations map
// remote not-found variants onto domain.ErrNotFound.
type Client interface {
	Checkout(ctx context.Context, partyID string, rev RevisionSelector) (*domain.Party, error)
	ComputePayoutCashFlow(ctx context.Context, partyID string, params PayoutParams) ([]domain.FinalCashFlowPosting, error)
	GetRevision(ctx context.Context, partyID string) (int64, error)
}

type cacheKey struct {
	partyID  string
	latest   bool
	revision int64
}

// Directory fetches and caches immutable party snapshots. The cache is
// bounded; entries for concrete revisions stay valid until evicted by
// capacity pressure.
type Directory struct {
	client Client
	cache  *lru.Cache[cacheKey, *domain.Party]
	log    *zap.Logger
}

func NewDirectory(client Client, cacheSize int, log *zap.Logger) (*Directory, error) {
	cache, err := lru.New[cacheKey, *domain.Party](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("party cache init: %w", err)
	}
	return &Directory{client: client, cache: cache, log: log}, nil
}

// GetParty returns the party snapshot pinned at rev, fetching it remotely on
// a cache miss.
func (d *Directory) GetParty(ctx context.Context, partyID string, rev RevisionSelector) (*domain.Party, error) {
	key := cacheKey{partyID: partyID, latest: rev.Latest, revision: rev.Revision}
	if party, ok := d.cache.Get(key); ok {
		return party, nil
	}
	party, err := d.client.Checkout(ctx, partyID, rev)
	if err != nil {
		return nil, fmt.Errorf("checkout party %q at %s: %w", partyID, rev, err)
	}
	d.cache.Add(key, party)
	d.log.Info("party snapshot cached",
		zap.String("party_id", partyID), zap.Stringer("revision", rev))
	return party, nil
}

// GetContract returns the identified contract from the snapshot at rev.
func (d *Directory) GetContract(ctx context.Context, partyID, contractID string, rev RevisionSelector) (*domain.Contract, error) {
	party, err := d.GetParty(ctx, partyID, rev)
	if err != nil {
		return nil, err
	}
	contract, ok := party.Contracts[contractID]
	if !ok {
		return nil, fmt.Errorf("contract %q of party %q at %s: %w",
			contractID, partyID, rev, domain.ErrNotFound)
	}
	return &contract, nil
}

// ComputePayoutCashFlow delegates to the remote computation engine.
func (d *Directory) ComputePayoutCashFlow(ctx context.Context, partyID string, params PayoutParams) ([]domain.FinalCashFlowPosting, error) {
	postings, err := d.client.ComputePayoutCashFlow(ctx, partyID, params)
	if err != nil {
		return nil, fmt.Errorf("compute payout cash flow for party %q shop %q: %w",
			partyID, params.ShopID, err)
	}
	d.log.Info("payout cash flow computed",
		zap.String("party_id", partyID),
		zap.String("shop_id", params.ShopID),
		zap.Int("postings", len(postings)))
	return postings, nil
}

// GetPartyRevision returns the latest committed revision of the party.
func (d *Directory) GetPartyRevision(ctx context.Context, partyID string) (int64, error) {
	revision, err := d.client.GetRevision(ctx, partyID)
	if err != nil {
		return 0, fmt.Errorf("get revision of party %q: %w", partyID, err)
	}
	return revision, nil
}
