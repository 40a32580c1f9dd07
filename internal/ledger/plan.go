package ledger

import (
	"fmt"
	"sort"

	"github.com/punchamoorthee/payoutops/internal/domain"
)

// holdBatchID is the single batch a payout hold is submitted under.
const holdBatchID = 1

// PlanID derives the deterministic posting plan id for a payout, so a
// retried remote call always addresses the same plan.
func PlanID(payoutID string) string {
	return "payout_" + payoutID
}

// RevertPlanID derives the plan id of the compensating revert plan.
func RevertPlanID(payoutID string) string {
	return "revert_" + PlanID(payoutID)
}

// Posting is one account-to-account movement on the accounter wire.
type Posting struct {
	FromID          int64  `json:"from_id"`
	ToID            int64  `json:"to_id"`
	Amount          int64  `json:"amount"`
	CurrencySymCode string `json:"currency_sym_code"`
	Description     string `json:"description"`
}

// PostingBatch is an ordered group of postings submitted as one unit.
type PostingBatch struct {
	ID       int64     `json:"id"`
	Postings []Posting `json:"postings"`
}

// PostingPlanChange is the argument of a hold: one new batch under a plan.
type PostingPlanChange struct {
	ID    string       `json:"id"`
	Batch PostingBatch `json:"batch"`
}

// PostingPlan is the full plan state used by commit and rollback.
type PostingPlan struct {
	ID      string         `json:"id"`
	Batches []PostingBatch `json:"batches"`
}

// BindPostings converts computed cash-flow postings into plan-bound posting
// rows for the payout's hold plan. The result is what gets persisted and is
// afterwards the sole source for rebuilding plans.
func BindPostings(payoutID string, finals []domain.FinalCashFlowPosting) ([]domain.CashFlowPosting, error) {
	planID := PlanID(payoutID)
	rows := make([]domain.CashFlowPosting, 0, len(finals))
	for _, f := range finals {
		fromType, err := mapAccountType(f.Source)
		if err != nil {
			return nil, err
		}
		toType, err := mapAccountType(f.Destination)
		if err != nil {
			return nil, err
		}
		rows = append(rows, domain.CashFlowPosting{
			PayoutID:        payoutID,
			PlanID:          planID,
			BatchID:         holdBatchID,
			FromAccountID:   f.Source.AccountID,
			FromAccountType: fromType,
			ToAccountID:     f.Destination.AccountID,
			ToAccountType:   toType,
			Amount:          f.Volume.Amount,
			CurrencyCode:    f.Volume.CurrencyCode,
			Description:     postingDescription(payoutID, f.Details),
		})
	}
	return rows, nil
}

// mapAccountType flattens the closed {class, purpose} union onto the
// accounter's account categories. The schema is validated upstream, so an
// unmapped combination is a programming error, not user input.
func mapAccountType(acc domain.CashFlowAccount) (domain.AccountType, error) {
	switch acc.Class {
	case domain.ClassSystem:
		if acc.Purpose == domain.PurposeSettlement {
			return domain.AccountSystemSettlement, nil
		}
	case domain.ClassExternal:
		switch acc.Purpose {
		case domain.PurposeIncome:
			return domain.AccountExternalIncome, nil
		case domain.PurposeOutcome:
			return domain.AccountExternalOutcome, nil
		}
	case domain.ClassMerchant:
		switch acc.Purpose {
		case domain.PurposeSettlement:
			return domain.AccountMerchantSettlement, nil
		case domain.PurposeGuarantee:
			return domain.AccountMerchantGuarantee, nil
		case domain.PurposePayout:
			return domain.AccountMerchantPayout, nil
		}
	case domain.ClassProvider:
		if acc.Purpose == domain.PurposeSettlement {
			return domain.AccountProviderSettlement, nil
		}
	}
	return "", fmt.Errorf("unmapped cash flow account %s/%s", acc.Class, acc.Purpose)
}

func postingDescription(payoutID, details string) string {
	description := "PAYOUT-" + payoutID
	if details != "" {
		description += ": " + details
	}
	return description
}

// toBatches regroups persisted rows into posting batches ordered by batch id.
func toBatches(rows []domain.CashFlowPosting) []PostingBatch {
	grouped := make(map[int64][]Posting)
	for _, row := range rows {
		grouped[row.BatchID] = append(grouped[row.BatchID], toPosting(row))
	}
	ids := make([]int64, 0, len(grouped))
	for id := range grouped {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	batches := make([]PostingBatch, 0, len(ids))
	for _, id := range ids {
		batches = append(batches, PostingBatch{ID: id, Postings: grouped[id]})
	}
	return batches
}

func toPosting(row domain.CashFlowPosting) Posting {
	return Posting{
		FromID:          row.FromAccountID,
		ToID:            row.ToAccountID,
		Amount:          row.Amount,
		CurrencySymCode: row.CurrencyCode,
		Description:     row.Description,
	}
}

// revertBatch flattens batches (already ordered by batch id) into a single
// compensating batch with every posting's source and destination swapped.
func revertBatch(payoutID string, batches []PostingBatch) PostingBatch {
	var reversed []Posting
	for _, batch := range batches {
		for _, p := range batch.Postings {
			reversed = append(reversed, Posting{
				FromID:          p.ToID,
				ToID:            p.FromID,
				Amount:          p.Amount,
				CurrencySymCode: p.CurrencySymCode,
				Description:     "Revert payout: " + payoutID,
			})
		}
	}
	return PostingBatch{ID: holdBatchID, Postings: reversed}
}
