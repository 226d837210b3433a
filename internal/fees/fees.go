// Package fees computes and executes the split of a gross trade value
// among protocol, royalty, origin, and payout recipients. Computation
// is a pure function so value conservation can be tested without any
// transfer mechanism attached.
package fees

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/relicmarket/settlement/internal/asset"
	"github.com/relicmarket/settlement/pkg/errors"
)

// BasisPointDenominator is the fee unit: one basis point is 1/10000 of
// the gross value.
const BasisPointDenominator = 10000

// LegType labels a payout leg for event observability.
type LegType string

const (
	LegProtocol LegType = "PROTOCOL"
	LegRoyalty  LegType = "ROYALTY"
	LegOrigin   LegType = "ORIGIN"
	LegPayout   LegType = "PAYOUT"
)

// Rules is the fee configuration for a single settlement.
type Rules struct {
	// ProtocolFeeBp is charged first, to ProtocolFeeTo.
	ProtocolFeeBp int64
	ProtocolFeeTo common.Address

	// Royalties are paid in the order the registry supplied them.
	Royalties []asset.Part

	// Origins are referral fees from either side of the trade.
	Origins []asset.Part

	// PayoutTo receives the residual after all fees.
	PayoutTo common.Address
}

// totalBp sums every basis-point fee in the rule set.
func (r Rules) totalBp() int64 {
	total := r.ProtocolFeeBp
	for _, p := range r.Royalties {
		total += p.BasisPoints
	}
	for _, p := range r.Origins {
		total += p.BasisPoints
	}
	return total
}

// Payout is one (recipient, amount) leg of a settlement.
type Payout struct {
	Recipient common.Address  `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	Type      LegType         `json:"type"`
}

// Compute splits gross into an ordered payout list: protocol fee first,
// then royalties in supplied order, then origins, then the residual to
// the payout recipient. Every fee leg is floored so the residual
// absorbs all rounding and the amounts sum to gross exactly. Zero
// legs are dropped.
//
// Compute rejects the whole rule set when the basis points sum to
// 10000 or more; the residual share must stay positive.
func Compute(gross decimal.Decimal, rules Rules) ([]Payout, error) {
	if !gross.IsPositive() {
		return nil, errors.ErrZeroAmount.WithDetail("gross value %s", gross)
	}
	if total := rules.totalBp(); total >= BasisPointDenominator {
		return nil, errors.ErrBasisPointsOverflow.WithDetail(
			"fees total %d bp, must be below %d", total, BasisPointDenominator)
	}

	denominator := decimal.NewFromInt(BasisPointDenominator)
	cut := func(bp int64) decimal.Decimal {
		return gross.Mul(decimal.NewFromInt(bp)).Div(denominator).Floor()
	}

	payouts := make([]Payout, 0, 2+len(rules.Royalties)+len(rules.Origins))
	rest := gross

	appendLeg := func(recipient common.Address, amount decimal.Decimal, t LegType) {
		if amount.IsZero() {
			return
		}
		payouts = append(payouts, Payout{Recipient: recipient, Amount: amount, Type: t})
		rest = rest.Sub(amount)
	}

	appendLeg(rules.ProtocolFeeTo, cut(rules.ProtocolFeeBp), LegProtocol)
	for _, p := range rules.Royalties {
		appendLeg(p.Account, cut(p.BasisPoints), LegRoyalty)
	}
	for _, p := range rules.Origins {
		appendLeg(p.Account, cut(p.BasisPoints), LegOrigin)
	}

	// Residual to the payout recipient. With Σbp < 10000 and floored fee
	// legs this is always positive.
	payouts = append(payouts, Payout{Recipient: rules.PayoutTo, Amount: rest, Type: LegPayout})

	var sum decimal.Decimal
	for _, p := range payouts {
		sum = sum.Add(p.Amount)
	}
	if !sum.Equal(gross) {
		return nil, errors.ErrValueNotConserved.WithDetail("payouts sum %s, gross %s", sum, gross)
	}
	return payouts, nil
}
