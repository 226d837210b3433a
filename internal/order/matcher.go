package order

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/relicmarket/settlement/internal/asset"
	"github.com/relicmarket/settlement/internal/events"
	"github.com/relicmarket/settlement/internal/fees"
	"github.com/relicmarket/settlement/internal/transfer"
	"github.com/relicmarket/settlement/pkg/errors"
	"github.com/relicmarket/settlement/pkg/metrics"
)

// MatcherParams carries the protocol fee captured for direct trades.
type MatcherParams struct {
	ProtocolFeeBp int64
	ProtocolFeeTo common.Address
}

// Matcher settles a validated pair of complementary orders: the
// non-escrowed direct-trade path straight to the fee distributor.
type Matcher struct {
	params      MatcherParams
	router      *transfer.Router
	distributor *fees.Distributor
	royalties   asset.RoyaltyRegistry
	emitter     events.Emitter
	logger      *zap.Logger
	now         func() time.Time
}

// NewMatcher wires a matcher.
func NewMatcher(params MatcherParams, router *transfer.Router, distributor *fees.Distributor, royalties asset.RoyaltyRegistry, emitter events.Emitter, logger *zap.Logger) *Matcher {
	return &Matcher{
		params:      params,
		router:      router,
		distributor: distributor,
		royalties:   royalties,
		emitter:     emitter,
		logger:      logger.Named("order"),
		now:         time.Now,
	}
}

// MatchResult reports what a completed match settled.
type MatchResult struct {
	Gross   decimal.Decimal `json:"gross"`
	Refund  decimal.Decimal `json:"refund"`
	Payouts []fees.Payout   `json:"payouts"`
}

// CheckDoTransfers validates the order pair and executes the exchange:
// the currency side pays gross minus nothing (fees come out of gross),
// the asset side releases the traded token, and any attached value
// beyond gross stays with the payer. The counter-order's authenticity
// is proven by sig; the caller's own order needs no signature.
func (m *Matcher) CheckDoTransfers(ctx context.Context, caller common.Address, left, right Order, leftSig, rightSig []byte, attached decimal.Decimal) (*MatchResult, error) {
	if err := ValidatePair(left, right, m.now()); err != nil {
		return nil, err
	}
	if caller != left.Maker {
		if err := VerifySignature(left, leftSig); err != nil {
			return nil, err
		}
	}
	if caller != right.Maker {
		if err := VerifySignature(right, rightSig); err != nil {
			return nil, err
		}
	}

	currencyOrder, assetOrder, err := Sides(left, right)
	if err != nil {
		return nil, err
	}
	currency := currencyOrder.MakeAsset
	traded := assetOrder.MakeAsset
	payer := currencyOrder.Maker
	gross := currency.Value

	refund := decimal.Zero
	if currency.Class == asset.ClassNative && attached.IsPositive() {
		if attached.LessThan(gross) {
			return nil, errors.ErrAmountMismatch.WithDetail(
				"attached %s below gross %s", attached, gross)
		}
		// The excess never leaves the payer's account.
		refund = attached.Sub(gross)
	}

	payoutTo, err := PayoutRecipient(assetOrder)
	if err != nil {
		return nil, err
	}
	royalties, err := m.royalties.GetRoyalties(traded.Data.Contract, traded.Data.TokenID)
	if err != nil {
		return nil, err
	}
	rules := fees.Rules{
		ProtocolFeeBp: m.params.ProtocolFeeBp,
		ProtocolFeeTo: m.params.ProtocolFeeTo,
		Royalties:     royalties,
		Origins:       OriginFees(left, right),
		PayoutTo:      payoutTo,
	}

	// Both rejections must land before either side moves.
	if _, err := fees.Compute(gross, rules); err != nil {
		return nil, err
	}
	if err := m.router.CanCover(asset.Asset{Class: currency.Class, Data: currency.Data, Value: gross}, payer); err != nil {
		return nil, err
	}

	if err := m.router.Transfer(traded, assetOrder.Maker, currencyOrder.Maker); err != nil {
		return nil, err
	}
	payouts, err := m.distributor.Distribute(currency, payer, gross, rules)
	if err != nil {
		// The funds were prechecked; reaching this is a conservation fault.
		return nil, err
	}

	metrics.Settlements.WithLabelValues("match").Inc()
	for _, p := range payouts {
		m.emitter.Emit(ctx, events.New(events.TypePayout, caller, 0, map[string]string{
			"leg":       string(p.Type),
			"recipient": p.Recipient.Hex(),
			"amount":    p.Amount.String(),
			"direction": "TO_MAKER",
		}))
	}
	m.emitter.Emit(ctx, events.New(events.TypePayout, caller, 0, map[string]string{
		"leg":       "ASSET",
		"recipient": currencyOrder.Maker.Hex(),
		"amount":    traded.Value.String(),
		"direction": "TO_TAKER",
	}))
	m.emitter.Emit(ctx, events.New(events.TypeOrdersMatched, caller, 0, map[string]string{
		"left_maker":  left.Maker.Hex(),
		"right_maker": right.Maker.Hex(),
		"gross":       gross.String(),
		"currency":    string(currency.Class),
		"asset":       string(traded.Class),
		"contract":    traded.Data.Contract.Hex(),
	}))
	m.logger.Info("orders matched",
		zap.String("left_maker", left.Maker.Hex()),
		zap.String("right_maker", right.Maker.Hex()),
		zap.String("gross", gross.String()),
		zap.Int("payout_legs", len(payouts)),
	)
	return &MatchResult{Gross: gross, Refund: refund, Payouts: payouts}, nil
}

// Sides identifies which order pays and which delivers the traded
// asset. Exactly one make leg must be a currency and the other a token.
func Sides(left, right Order) (currencyOrder, assetOrder Order, err error) {
	leftPays := left.MakeAsset.Class.IsCurrency()
	rightPays := right.MakeAsset.Class.IsCurrency()
	if leftPays == rightPays {
		return Order{}, Order{}, errors.ErrAssetMismatch.WithDetail(
			"exactly one side must pay in currency")
	}
	if leftPays {
		currencyOrder, assetOrder = left, right
	} else {
		currencyOrder, assetOrder = right, left
	}
	switch assetOrder.MakeAsset.Class {
	case asset.ClassUnique, asset.ClassMultiUnit:
	default:
		return Order{}, Order{}, errors.ErrAssetMismatch.WithDetail(
			"traded side must be a unique or multi-unit asset")
	}
	return currencyOrder, assetOrder, nil
}
