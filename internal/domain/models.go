package domain

import (
	"time"
)

// PayoutStatus is the lifecycle state of a payout. UNPAID is the initial
// state; PAID is produced by an external payment-completion signal and is
// only ever consumed here as a prior state for cancellation.
type PayoutStatus string

const (
	StatusUnpaid    PayoutStatus = "UNPAID"
	StatusPaid      PayoutStatus = "PAID"
	StatusConfirmed PayoutStatus = "CONFIRMED"
	StatusCancelled PayoutStatus = "CANCELLED"
)

// Payout is a single movement of settled merchant funds to a payout
// destination. Amount and Fee are fixed at creation and never recomputed.
type Payout struct {
	PayoutID      string       `json:"payout_id"`
	PartyID       string       `json:"party_id"`
	ShopID        string       `json:"shop_id"`
	ContractID    string       `json:"contract_id"`
	PayoutToolID  string       `json:"payout_tool_id"`
	CreatedAt     time.Time    `json:"created_at"`
	Amount        int64        `json:"amount"`
	Fee           int64        `json:"fee"`
	CurrencyCode  string       `json:"currency_code"`
	Status        PayoutStatus `json:"status"`
	CashFlow      string       `json:"cash_flow"`
	SequenceID    int64        `json:"sequence_id"`
	CancelDetails string       `json:"cancel_details,omitempty"`
}

// Cash is an amount in minor currency units.
type Cash struct {
	Amount       int64  `json:"amount"`
	CurrencyCode string `json:"currency_code"`
}

// AccountType is the flattened ledger account category a posting leg maps to.
type AccountType string

const (
	AccountSystemSettlement   AccountType = "SYSTEM_SETTLEMENT"
	AccountExternalIncome     AccountType = "EXTERNAL_INCOME"
	AccountExternalOutcome    AccountType = "EXTERNAL_OUTCOME"
	AccountMerchantSettlement AccountType = "MERCHANT_SETTLEMENT"
	AccountMerchantGuarantee  AccountType = "MERCHANT_GUARANTEE"
	AccountMerchantPayout     AccountType = "MERCHANT_PAYOUT"
	AccountProviderSettlement AccountType = "PROVIDER_SETTLEMENT"
)

// AccountClass is the owner class of a cash-flow account. Together with
// Purpose it forms a closed tagged union validated upstream by the party
// schema; unmapped combinations indicate a programming error.
type AccountClass string

const (
	ClassSystem   AccountClass = "system"
	ClassExternal AccountClass = "external"
	ClassMerchant AccountClass = "merchant"
	ClassProvider AccountClass = "provider"
)

const (
	PurposeSettlement = "settlement"
	PurposeIncome     = "income"
	PurposeOutcome    = "outcome"
	PurposeGuarantee  = "guarantee"
	PurposePayout     = "payout"
)

// CashFlowAccount identifies one leg of a computed posting.
type CashFlowAccount struct {
	AccountID int64        `json:"account_id"`
	Class     AccountClass `json:"class"`
	Purpose   string       `json:"purpose"`
}

// FinalCashFlowPosting is one money movement as computed by the party
// management engine, before it is bound to a plan.
type FinalCashFlowPosting struct {
	Source      CashFlowAccount `json:"source"`
	Destination CashFlowAccount `json:"destination"`
	Volume      Cash            `json:"volume"`
	Details     string          `json:"details,omitempty"`
}

// CashFlowPosting is a posting bound to a payout and a (plan, batch). Once
// held, a payout's posting set is immutable and is the sole source used to
// rebuild ledger plans for commit, rollback and revert.
type CashFlowPosting struct {
	PayoutID        string      `json:"payout_id"`
	PlanID          string      `json:"plan_id"`
	BatchID         int64       `json:"batch_id"`
	FromAccountID   int64       `json:"from_account_id"`
	FromAccountType AccountType `json:"from_account_type"`
	ToAccountID     int64       `json:"to_account_id"`
	ToAccountType   AccountType `json:"to_account_type"`
	Amount          int64       `json:"amount"`
	CurrencyCode    string      `json:"currency_code"`
	Description     string      `json:"description"`
}

// Clock is the opaque ledger-side version token returned by a hold. An empty
// token means "latest".
type Clock struct {
	Token string `json:"token,omitempty"`
}

// Balance is a point-in-time account balance as reported by the ledger.
type Balance struct {
	AccountID          int64 `json:"account_id"`
	OwnAmount          int64 `json:"own_amount"`
	MinAvailableAmount int64 `json:"min_available_amount"`
	MaxAvailableAmount int64 `json:"max_available_amount"`
}

// Shop is the payout-relevant slice of a party's shop.
type Shop struct {
	ID                  string `json:"id"`
	PayoutToolID        string `json:"payout_tool_id"`
	SettlementAccountID int64  `json:"settlement_account_id"`
}

// Contract binds payout tools to a party contract.
type Contract struct {
	ID            string   `json:"id"`
	PayoutToolIDs []string `json:"payout_tool_ids"`
}

// Party is an immutable snapshot of a party checked out at a pinned revision.
type Party struct {
	ID        string              `json:"id"`
	Revision  int64               `json:"revision"`
	Shops     map[string]Shop     `json:"shops"`
	Contracts map[string]Contract `json:"contracts"`
}

// PayoutEvent is one row of the event read model written on every status
// change. The messaging collaborator turns these into outbound notifications;
// delivery semantics are not owned here.
type PayoutEvent struct {
	EventID    int64        `json:"event_id"`
	PayoutID   string       `json:"payout_id"`
	SequenceID int64        `json:"sequence_id"`
	Status     PayoutStatus `json:"status"`
	Snapshot   string       `json:"snapshot"`
	CreatedAt  time.Time    `json:"created_at"`
}
