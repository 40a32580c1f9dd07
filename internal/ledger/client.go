package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/punchamoorthee/payoutops/internal/domain"
)

var ledgerOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "payout_ledger_operations_total",
	Help: "Ledger protocol operations, labeled by outcome after retries",
}, []string{"op", "result"})

// Accounter is the remote ledger capability. All operations are safe to
// retry given the stable plan and batch identifiers this client supplies.
type Accounter interface {
	Hold(ctx context.Context, change PostingPlanChange) (domain.Clock, error)
	CommitPlan(ctx context.Context, plan PostingPlan) error
	RollbackPlan(ctx context.Context, plan PostingPlan) error
	GetBalanceByID(ctx context.Context, accountID int64, clock domain.Clock) (*domain.Balance, error)
}

// PostingSource reloads the persisted posting rows of a payout, ordered by
// batch id. Plans are always rebuilt from these rows, never re-derived from
// party data.
type PostingSource interface {
	GetPostings(ctx context.Context, payoutID string) ([]domain.CashFlowPosting, error)
}

// Client drives the hold/commit/rollback/revert protocol against the remote
// accounter with bounded retries and a circuit breaker.
type Client struct {
	accounter     Accounter
	postings      PostingSource
	breaker       *gobreaker.CircuitBreaker
	retryAttempts uint64
	retryInterval time.Duration
	log           *zap.Logger
}

func NewClient(accounter Accounter, postings PostingSource, retryAttempts uint64, retryInterval time.Duration, log *zap.Logger) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "accounter",
	})
	return &Client{
		accounter:     accounter,
		postings:      postings,
		breaker:       breaker,
		retryAttempts: retryAttempts,
		retryInterval: retryInterval,
		log:           log,
	}
}

// Hold submits the payout's already persisted postings as a single-batch
// hold and returns the ledger clock of the reservation.
func (c *Client) Hold(ctx context.Context, payoutID string, rows []domain.CashFlowPosting) (domain.Clock, error) {
	batches := toBatches(rows)
	if len(batches) != 1 {
		return domain.Clock{}, fmt.Errorf("hold payout %q: expected a single batch, got %d", payoutID, len(batches))
	}
	change := PostingPlanChange{ID: PlanID(payoutID), Batch: batches[0]}
	clock, err := c.hold(ctx, change)
	if err != nil {
		return domain.Clock{}, fmt.Errorf("hold payout %q: %w", payoutID, err)
	}
	c.log.Info("payout held",
		zap.String("payout_id", payoutID),
		zap.String("plan_id", change.ID),
		zap.String("clock", clock.Token))
	return clock, nil
}

// Commit finalizes the payout's held plan.
func (c *Client) Commit(ctx context.Context, payoutID string) error {
	rows, err := c.load(ctx, payoutID)
	if err != nil {
		return err
	}
	plan := PostingPlan{ID: PlanID(payoutID), Batches: toBatches(rows)}
	if err := c.commitPlan(ctx, plan); err != nil {
		return fmt.Errorf("commit payout %q: %w", payoutID, err)
	}
	c.log.Info("payout committed",
		zap.String("payout_id", payoutID), zap.String("plan_id", plan.ID))
	return nil
}

// Rollback releases the payout's hold without moving funds.
func (c *Client) Rollback(ctx context.Context, payoutID string) error {
	rows, err := c.load(ctx, payoutID)
	if err != nil {
		return err
	}
	plan := PostingPlan{ID: PlanID(payoutID), Batches: toBatches(rows)}
	if err := c.rollbackPlan(ctx, plan); err != nil {
		return fmt.Errorf("rollback payout %q: %w", payoutID, err)
	}
	c.log.Info("payout rolled back",
		zap.String("payout_id", payoutID), zap.String("plan_id", plan.ID))
	return nil
}

// Revert reverses an already committed plan by holding and committing a new
// plan with swapped source and destination on every posting. The hold/commit
// pair is not atomic against the ledger: if it fails, the reversed batch is
// rolled back, and a rollback failure on top is escalated with the original
// failure attached for manual reconciliation.
func (c *Client) Revert(ctx context.Context, payoutID string) error {
	rows, err := c.load(ctx, payoutID)
	if err != nil {
		return err
	}
	planID := RevertPlanID(payoutID)
	batch := revertBatch(payoutID, toBatches(rows))
	if err := c.revert(ctx, planID, batch); err != nil {
		return fmt.Errorf("revert payout %q: %w", payoutID, err)
	}
	c.log.Info("payout reverted",
		zap.String("payout_id", payoutID), zap.String("plan_id", planID))
	return nil
}

func (c *Client) revert(ctx context.Context, planID string, batch PostingBatch) error {
	plan := PostingPlan{ID: planID, Batches: []PostingBatch{batch}}
	_, err := c.hold(ctx, PostingPlanChange{ID: planID, Batch: batch})
	if err == nil {
		err = c.commitPlan(ctx, plan)
	}
	if err == nil {
		return nil
	}
	if rbErr := c.rollbackPlan(ctx, plan); rbErr != nil {
		if !errors.Is(rbErr, domain.ErrInvalidRequest) {
			c.log.Error("inconsistent postings state after failed revert",
				zap.String("plan_id", planID),
				zap.Error(rbErr))
		}
		return fmt.Errorf("rollback of revert plan %q failed: %w", planID, errors.Join(rbErr, err))
	}
	return err
}

// GetBalance reads the account balance pinned to the given clock.
func (c *Client) GetBalance(ctx context.Context, accountID int64, clock domain.Clock) (*domain.Balance, error) {
	var balance *domain.Balance
	err := c.call(ctx, "get_balance", func() error {
		var err error
		balance, err = c.accounter.GetBalanceByID(ctx, accountID, clock)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get balance of account %d: %w", accountID, err)
	}
	return balance, nil
}

func (c *Client) hold(ctx context.Context, change PostingPlanChange) (domain.Clock, error) {
	var clock domain.Clock
	err := c.call(ctx, "hold", func() error {
		var err error
		clock, err = c.accounter.Hold(ctx, change)
		return err
	})
	return clock, err
}

func (c *Client) commitPlan(ctx context.Context, plan PostingPlan) error {
	return c.call(ctx, "commit", func() error {
		return c.accounter.CommitPlan(ctx, plan)
	})
}

func (c *Client) rollbackPlan(ctx context.Context, plan PostingPlan) error {
	return c.call(ctx, "rollback", func() error {
		return c.accounter.RollbackPlan(ctx, plan)
	})
}

// call runs one remote operation behind the circuit breaker with bounded
// exponential backoff. Business rejections are never retried.
func (c *Client) call(ctx context.Context, op string, fn func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(newExponentialBackOff(c.retryInterval), c.retryAttempts), ctx)
	err := backoff.Retry(func() error {
		_, err := c.breaker.Execute(func() (any, error) {
			return nil, fn()
		})
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
	if err != nil {
		ledgerOpsTotal.WithLabelValues(op, "error").Inc()
		return err
	}
	ledgerOpsTotal.WithLabelValues(op, "ok").Inc()
	return nil
}

func retryable(err error) bool {
	return !errors.Is(err, domain.ErrInvalidRequest) && !errors.Is(err, domain.ErrNotFound)
}

func newExponentialBackOff(initial time.Duration) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	return bo
}

// load reloads the payout's persisted postings; an empty set is a NotFound.
func (c *Client) load(ctx context.Context, payoutID string) ([]domain.CashFlowPosting, error) {
	rows, err := c.postings.GetPostings(ctx, payoutID)
	if err != nil {
		return nil, fmt.Errorf("load postings of payout %q: %w", payoutID, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("postings of payout %q: %w", payoutID, domain.ErrNotFound)
	}
	return rows, nil
}
