package cashflow

import (
	"github.com/punchamoorthee/payoutops/internal/domain"
)

// Type is the semantic category of a posting, derived from its
// (source, destination) account-type pair.
type Type string

const (
	Fee            Type = "FEE"
	ProviderFee    Type = "PROVIDER_FEE"
	ExternalFee    Type = "EXTERNAL_FEE"
	PayoutAmount   Type = "PAYOUT_AMOUNT"
	PayoutFixedFee Type = "PAYOUT_FIXED_FEE"
	Unknown        Type = "UNKNOWN"
)

// TypeOf maps one posting to its category. The mapping is a fixed business
// rule over the merchant/system/provider/external account axes.
func TypeOf(p domain.FinalCashFlowPosting) Type {
	src := p.Source
	dst := p.Destination
	switch {
	case is(src, domain.ClassMerchant, domain.PurposeSettlement) &&
		is(dst, domain.ClassMerchant, domain.PurposePayout):
		return PayoutAmount
	case is(src, domain.ClassMerchant, domain.PurposePayout) &&
		is(dst, domain.ClassMerchant, domain.PurposeSettlement):
		return PayoutFixedFee
	case is(src, domain.ClassMerchant, domain.PurposeSettlement) &&
		is(dst, domain.ClassSystem, domain.PurposeSettlement):
		return Fee
	case is(src, domain.ClassSystem, domain.PurposeSettlement) &&
		is(dst, domain.ClassProvider, domain.PurposeSettlement):
		return ProviderFee
	case is(src, domain.ClassSystem, domain.PurposeSettlement) &&
		dst.Class == domain.ClassExternal:
		return ExternalFee
	default:
		return Unknown
	}
}

// Classify groups postings by category, summing volume amounts. Categories
// with no postings are absent from the result; callers default them to 0.
func Classify(postings []domain.FinalCashFlowPosting) map[Type]int64 {
	totals := make(map[Type]int64)
	for _, p := range postings {
		totals[TypeOf(p)] += p.Volume.Amount
	}
	return totals
}

func is(acc domain.CashFlowAccount, class domain.AccountClass, purpose string) bool {
	return acc.Class == class && acc.Purpose == purpose
}
