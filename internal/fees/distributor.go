package fees

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/relicmarket/settlement/internal/asset"
	"github.com/relicmarket/settlement/internal/transfer"
	"github.com/relicmarket/settlement/pkg/errors"
	"github.com/relicmarket/settlement/pkg/metrics"
)

// Distributor executes a computed payout list through the transfer
// router, one leg per non-zero amount.
type Distributor struct {
	router *transfer.Router
	logger *zap.Logger
}

// NewDistributor wires a distributor to the router.
func NewDistributor(router *transfer.Router, logger *zap.Logger) *Distributor {
	return &Distributor{router: router, logger: logger.Named("fees")}
}

// Distribute splits gross per the rules and pays every leg out of the
// payer's holdings in the given currency. The rule set is validated and
// the payer's funds are checked before the first transfer, so a
// rejection leaves no leg executed; a leg failing after the checks is
// an invariant fault.
func (d *Distributor) Distribute(currency asset.Asset, payer common.Address, gross decimal.Decimal, rules Rules) ([]Payout, error) {
	payouts, err := Compute(gross, rules)
	if err != nil {
		return nil, err
	}
	if err := d.precheck(currency, payer, gross); err != nil {
		return nil, err
	}

	for _, p := range payouts {
		leg := asset.Asset{Class: currency.Class, Data: currency.Data, Value: p.Amount}
		if err := d.router.Transfer(leg, payer, p.Recipient); err != nil {
			// Prechecked funds cannot run out mid-distribution.
			return nil, errors.ErrValueNotConserved.WithDetail(
				"leg %s to %s failed after funds check: %v", p.Type, p.Recipient.Hex(), err)
		}
		d.logger.Debug("payout leg settled",
			zap.String("type", string(p.Type)),
			zap.String("recipient", p.Recipient.Hex()),
			zap.String("amount", p.Amount.String()),
		)
	}
	metrics.PayoutLegs.Observe(float64(len(payouts)))
	return payouts, nil
}

// precheck verifies the payer can cover the gross value before any leg
// moves, keeping the distribution all-or-nothing.
func (d *Distributor) precheck(currency asset.Asset, payer common.Address, gross decimal.Decimal) error {
	whole := asset.Asset{Class: currency.Class, Data: currency.Data, Value: gross}
	return d.router.CanCover(whole, payer)
}
