// Package auction owns the auction records and their lifecycle: it
// escrows the traded asset on creation, enforces bidding rules per
// auction kind, and settles or unwinds the escrow on completion,
// cancellation, or administrative deletion.
package auction

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/relicmarket/settlement/internal/asset"
)

// Kind is the closed set of auction variants.
type Kind string

const (
	KindClassic Kind = "CLASSIC"
	KindReserve Kind = "RESERVE"
	KindDutch   Kind = "DUTCH"
)

// Terms carries the price parameters of one auction kind. Modelling the
// kind as a tagged variant keeps illegal field combinations (a classic
// auction with a starting price) unrepresentable.
type Terms interface {
	Kind() Kind
}

// ClassicTerms: open ascending auction, no price floor.
type ClassicTerms struct{}

func (ClassicTerms) Kind() Kind { return KindClassic }

// ReserveTerms: ascending auction whose first bid must meet the reserve.
type ReserveTerms struct {
	ReservePrice decimal.Decimal `json:"reserve_price"`
}

func (ReserveTerms) Kind() Kind { return KindReserve }

// DutchTerms: descending-price auction settled by its single bid.
type DutchTerms struct {
	StartingPrice decimal.Decimal `json:"starting_price"`
	EndingPrice   decimal.Decimal `json:"ending_price"`
}

func (DutchTerms) Kind() Kind { return KindDutch }

// PriceAt returns the linearly interpolated asking price after elapsed
// time of the full duration, floored at the ending price.
func (t DutchTerms) PriceAt(elapsed, duration time.Duration) decimal.Decimal {
	if elapsed <= 0 {
		return t.StartingPrice
	}
	if elapsed >= duration {
		return t.EndingPrice
	}
	spread := t.StartingPrice.Sub(t.EndingPrice)
	drop := spread.
		Mul(decimal.NewFromInt(int64(elapsed))).
		Div(decimal.NewFromInt(int64(duration)))
	price := t.StartingPrice.Sub(drop)
	if price.LessThan(t.EndingPrice) {
		return t.EndingPrice
	}
	return price
}

// Record is one auction's persistent state. While Bidder is non-zero
// the engine holds the escrowed asset and BidAmount of currency on the
// auction's behalf.
type Record struct {
	ID    uint64
	Kind  Kind
	Terms Terms

	// Asset is the escrowed trade subject; Value is the quantity and is
	// above one only for multi-unit assets.
	Asset asset.Asset
	// Currency is the payment asset: native, or a fungible contract.
	Currency asset.Asset

	Seller         common.Address
	FundsRecipient common.Address
	ProtocolFeeTo  common.Address

	Duration        time.Duration
	StartDate       time.Time
	ExtensionPeriod time.Duration
	// EndDate is the effective end: StartDate+Duration, pushed forward
	// by anti-snipe extensions.
	EndDate time.Time

	Bidder    common.Address
	BidAmount decimal.Decimal
	// SettlementPrice is fixed at the moment a dutch bid is accepted
	// and is no longer time-dependent afterwards.
	SettlementPrice decimal.Decimal

	CreatedAt time.Time
}

// HasBid reports whether a leading bid exists.
func (r *Record) HasBid() bool {
	return r.Bidder != asset.ZeroAddress
}

// Started reports whether bidding has opened.
func (r *Record) Started(now time.Time) bool {
	return !now.Before(r.StartDate)
}

// Ended reports whether the effective end has passed.
func (r *Record) Ended(now time.Time) bool {
	return !now.Before(r.EndDate)
}

// CurrentPrice quotes the price a bid must meet at the given time. For
// ascending kinds this is the leading bid (or the reserve floor before
// any bid); for dutch it is the interpolated asking price, or the
// settlement price once a bid locked it.
func (r *Record) CurrentPrice(now time.Time) decimal.Decimal {
	switch t := r.Terms.(type) {
	case DutchTerms:
		if r.HasBid() {
			return r.SettlementPrice
		}
		return t.PriceAt(now.Sub(r.StartDate), r.Duration)
	case ReserveTerms:
		if !r.HasBid() {
			return t.ReservePrice
		}
	}
	return r.BidAmount
}

// payoutRecipient is where the residual settles: the funds recipient
// captured at creation, defaulting to the seller.
func (r *Record) payoutRecipient() common.Address {
	if r.FundsRecipient != asset.ZeroAddress {
		return r.FundsRecipient
	}
	return r.Seller
}
