package auction

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/relicmarket/settlement/internal/asset"
	"github.com/relicmarket/settlement/internal/events"
	"github.com/relicmarket/settlement/internal/fees"
	"github.com/relicmarket/settlement/internal/order"
	"github.com/relicmarket/settlement/internal/transfer"
	"github.com/relicmarket/settlement/pkg/errors"
	"github.com/relicmarket/settlement/pkg/metrics"
)

// Params is the engine-wide auction policy captured at construction.
type Params struct {
	// Admin may force-end any auction for recovery.
	Admin common.Address

	ProtocolFeeBp int64
	ProtocolFeeTo common.Address

	MinDuration time.Duration
	MaxDuration time.Duration

	// MinBidIncrementPct is the percentage a raise must exceed the
	// leading bid by on ascending auctions.
	MinBidIncrementPct int64

	// MaxExtensionPeriod caps the anti-snipe extension. Defaults to one
	// hour.
	MaxExtensionPeriod time.Duration
}

// Engine is the auction state machine. Every state-mutating call runs
// under one mutex: the engine executes in a serialized-transaction
// model, so bid/cancel/end on the same record are mutually exclusive by
// construction.
type Engine struct {
	mu          sync.Mutex
	params      Params
	store       Store
	router      *transfer.Router
	distributor *fees.Distributor
	royalties   asset.RoyaltyRegistry
	emitter     events.Emitter
	logger      *zap.Logger

	// now is the external clock; time-based transitions never use an
	// internal timer.
	now func() time.Time
}

// NewEngine validates the policy and wires the state machine.
func NewEngine(params Params, store Store, router *transfer.Router, distributor *fees.Distributor, royalties asset.RoyaltyRegistry, emitter events.Emitter, logger *zap.Logger) (*Engine, error) {
	if params.ProtocolFeeBp < 0 || params.ProtocolFeeBp >= fees.BasisPointDenominator {
		return nil, errors.ErrFeeTooHigh.WithDetail("protocol fee %d bp", params.ProtocolFeeBp)
	}
	if params.MaxExtensionPeriod == 0 {
		params.MaxExtensionPeriod = time.Hour
	}
	if params.MinBidIncrementPct <= 0 {
		params.MinBidIncrementPct = 5
	}
	return &Engine{
		params:      params,
		store:       store,
		router:      router,
		distributor: distributor,
		royalties:   royalties,
		emitter:     emitter,
		logger:      logger.Named("auction"),
		now:         time.Now,
	}, nil
}

// CreateParams describes a new auction.
type CreateParams struct {
	Seller   common.Address
	Asset    asset.Asset
	Currency asset.Asset
	Terms    Terms

	Duration        time.Duration
	StartDate       time.Time // zero means start immediately
	ExtensionPeriod time.Duration

	// FundsRecipient receives the payout residual; defaults to Seller.
	FundsRecipient common.Address
}

// CreateAuction escrows the asset, assigns the next id, and stores the
// record.
func (e *Engine) CreateAuction(ctx context.Context, p CreateParams) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if p.StartDate.IsZero() {
		p.StartDate = now
	}
	if err := e.validateCreate(p); err != nil {
		return 0, err
	}

	// Escrow first: the record must never exist without the asset held.
	escrow := e.router.EscrowAccount()
	if err := e.router.Transfer(p.Asset, p.Seller, escrow); err != nil {
		return 0, err
	}

	id, err := e.store.NextID()
	if err != nil {
		return 0, e.unwindEscrow(p, err)
	}
	rec := &Record{
		ID:              id,
		Kind:            p.Terms.Kind(),
		Terms:           p.Terms,
		Asset:           p.Asset,
		Currency:        p.Currency,
		Seller:          p.Seller,
		FundsRecipient:  p.FundsRecipient,
		ProtocolFeeTo:   e.params.ProtocolFeeTo,
		Duration:        p.Duration,
		StartDate:       p.StartDate,
		ExtensionPeriod: p.ExtensionPeriod,
		EndDate:         p.StartDate.Add(p.Duration),
		CreatedAt:       now,
	}
	if err := e.store.Put(rec); err != nil {
		return 0, e.unwindEscrow(p, err)
	}

	metrics.AuctionsCreated.WithLabelValues(string(rec.Kind)).Inc()
	e.emitter.Emit(ctx, events.New(events.TypeAuctionCreated, p.Seller, id, map[string]string{
		"kind":     string(rec.Kind),
		"contract": p.Asset.Data.Contract.Hex(),
		"quantity": p.Asset.Value.String(),
		"duration": p.Duration.String(),
	}))
	e.logger.Info("auction created",
		zap.Uint64("auction_id", id),
		zap.String("kind", string(rec.Kind)),
		zap.String("seller", p.Seller.Hex()),
	)
	return id, nil
}

// unwindEscrow returns the escrowed asset after a failed creation so
// the operation stays atomic.
func (e *Engine) unwindEscrow(p CreateParams, cause error) error {
	if err := e.router.Transfer(p.Asset, e.router.EscrowAccount(), p.Seller); err != nil {
		e.logger.Error("escrow unwind failed",
			zap.String("seller", p.Seller.Hex()),
			zap.Error(err),
		)
	}
	return cause
}

func (e *Engine) validateCreate(p CreateParams) error {
	if p.Duration < e.params.MinDuration || p.Duration > e.params.MaxDuration {
		return errors.ErrInvalidDuration.WithDetail(
			"duration %s outside [%s, %s]", p.Duration, e.params.MinDuration, e.params.MaxDuration)
	}
	if p.ExtensionPeriod < 0 || p.ExtensionPeriod >= e.params.MaxExtensionPeriod {
		return errors.ErrExtensionPeriodTooLong.WithDetail(
			"extension period %s must be below %s", p.ExtensionPeriod, e.params.MaxExtensionPeriod)
	}
	if !p.Asset.Value.IsPositive() {
		return errors.ErrZeroAmount.WithDetail("asset quantity %s", p.Asset.Value)
	}
	switch p.Asset.Class {
	case asset.ClassUnique:
		if !p.Asset.Value.Equal(decimal.NewFromInt(1)) {
			return errors.ErrZeroAmount.WithDetail("unique asset quantity must be 1")
		}
	case asset.ClassMultiUnit:
	default:
		return errors.ErrUnsupportedAssetIface.WithDetail("cannot auction class %s", p.Asset.Class)
	}
	if !e.router.Supported(p.Asset) {
		return errors.ErrUnsupportedAssetIface.WithDetail(
			"contract %s not registered", p.Asset.Data.Contract.Hex())
	}
	if !p.Currency.Class.IsCurrency() {
		return errors.ErrAssetMismatch.WithDetail("class %s cannot be the payment currency", p.Currency.Class)
	}
	switch t := p.Terms.(type) {
	case ClassicTerms:
	case ReserveTerms:
		if t.ReservePrice.IsNegative() {
			return errors.ErrInvalidPriceOrdering.WithDetail("negative reserve price")
		}
	case DutchTerms:
		if !t.EndingPrice.IsPositive() || !t.StartingPrice.GreaterThan(t.EndingPrice) {
			return errors.ErrInvalidPriceOrdering.WithDetail(
				"need startingPrice > endingPrice > 0, got %s > %s", t.StartingPrice, t.EndingPrice)
		}
	default:
		return errors.ErrUnsupportedAssetIface.WithDetail("unknown auction terms %T", p.Terms)
	}
	return nil
}

// CreateBid places a bid. When paying in native currency the attached
// value must equal the bid amount; when paying in the auction's token
// currency the bid is drawn against the bidder's allowance. The
// previous bidder, if any, is refunded in full before the new escrow is
// accepted, so no more than one bidder ever has funds held.
func (e *Engine) CreateBid(ctx context.Context, bidder common.Address, auctionID uint64, amount decimal.Decimal, useToken bool, attached decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.createBid(ctx, bidder, auctionID, amount, useToken, attached)
	if err != nil {
		if code := errors.CodeOf(err); code != "" {
			metrics.BidsRejected.WithLabelValues(code).Inc()
		}
	}
	return err
}

func (e *Engine) createBid(ctx context.Context, bidder common.Address, auctionID uint64, amount decimal.Decimal, useToken bool, attached decimal.Decimal) error {
	rec, ok, err := e.store.Get(auctionID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.ErrAuctionNotFound.WithDetail("auction %d", auctionID)
	}

	now := e.now()
	if !rec.Started(now) {
		return errors.ErrNotStarted.WithDetail("auction %d starts at %s", auctionID, rec.StartDate)
	}
	if rec.Ended(now) {
		return errors.ErrExpired.WithDetail("auction %d ended at %s", auctionID, rec.EndDate)
	}
	if !amount.IsPositive() {
		return errors.ErrZeroAmount.WithDetail("bid amount %s", amount)
	}
	if useToken != (rec.Currency.Class == asset.ClassFungible) {
		return errors.ErrAssetMismatch.WithDetail("payment mode does not match auction currency")
	}
	if !useToken && !attached.Equal(amount) {
		return errors.ErrAmountMismatch.WithDetail(
			"attached %s does not match bid amount %s", attached, amount)
	}

	settlementPrice := rec.SettlementPrice
	switch t := rec.Terms.(type) {
	case DutchTerms:
		if rec.HasBid() {
			return errors.ErrSecondBidRejected.WithDetail("auction %d already has its bid", auctionID)
		}
		floor := t.PriceAt(now.Sub(rec.StartDate), rec.Duration)
		if amount.LessThan(floor) {
			return errors.ErrBidTooLow.WithDetail("bid %s below current price %s", amount, floor)
		}
		// The accepted amount becomes the settlement price, fixed from
		// here on.
		settlementPrice = amount
	case ReserveTerms:
		if !rec.HasBid() {
			if amount.LessThan(t.ReservePrice) {
				return errors.ErrBidBelowReserve.WithDetail(
					"bid %s below reserve %s", amount, t.ReservePrice)
			}
		} else if err := e.checkRaise(rec.BidAmount, amount); err != nil {
			return err
		}
	case ClassicTerms:
		if rec.HasBid() {
			if err := e.checkRaise(rec.BidAmount, amount); err != nil {
				return err
			}
		}
	}

	currencyLeg := func(v decimal.Decimal) asset.Asset {
		return asset.Asset{Class: rec.Currency.Class, Data: rec.Currency.Data, Value: v}
	}

	// The new bidder's funds are verified before the previous bidder is
	// refunded: a refund must never happen unless the replacing escrow
	// is certain to follow.
	if err := e.router.CanCover(currencyLeg(amount), bidder); err != nil {
		return err
	}

	escrow := e.router.EscrowAccount()
	prevBidder, prevAmount := rec.Bidder, rec.BidAmount
	if rec.HasBid() {
		if err := e.router.Transfer(currencyLeg(prevAmount), escrow, prevBidder); err != nil {
			return errors.ErrInsufficientFunds.WithDetail(
				"escrow cannot refund bidder %s: %v", prevBidder.Hex(), err)
		}
	}
	if err := e.router.Transfer(currencyLeg(amount), bidder, escrow); err != nil {
		// Funds were covered a moment ago under the engine lock.
		return errors.ErrValueNotConserved.WithDetail(
			"escrow intake failed after funds check: %v", err)
	}

	rec.Bidder = bidder
	rec.BidAmount = amount
	rec.SettlementPrice = settlementPrice
	if rec.Kind != KindDutch && rec.ExtensionPeriod > 0 && rec.EndDate.Sub(now) <= rec.ExtensionPeriod {
		rec.EndDate = rec.EndDate.Add(rec.ExtensionPeriod)
	}
	if err := e.store.Put(rec); err != nil {
		// Unwind both transfers to keep the record and escrow aligned.
		if txErr := e.router.Transfer(currencyLeg(amount), escrow, bidder); txErr != nil {
			e.logger.Error("bid unwind failed", zap.Uint64("auction_id", auctionID), zap.Error(txErr))
		}
		if prevBidder != asset.ZeroAddress {
			if txErr := e.router.Transfer(currencyLeg(prevAmount), prevBidder, escrow); txErr != nil {
				e.logger.Error("refund unwind failed", zap.Uint64("auction_id", auctionID), zap.Error(txErr))
			}
		}
		return err
	}

	metrics.BidsAccepted.WithLabelValues(string(rec.Kind)).Inc()
	if prevBidder != asset.ZeroAddress {
		e.emitter.Emit(ctx, events.New(events.TypeBidRefunded, prevBidder, auctionID, map[string]string{
			"amount": prevAmount.String(),
		}))
	}
	e.emitter.Emit(ctx, events.New(events.TypeBidPlaced, bidder, auctionID, map[string]string{
		"amount": amount.String(),
		"kind":   string(rec.Kind),
	}))
	e.logger.Info("bid accepted",
		zap.Uint64("auction_id", auctionID),
		zap.String("bidder", bidder.Hex()),
		zap.String("amount", amount.String()),
	)
	return nil
}

// checkRaise enforces the minimum increment over the leading bid.
func (e *Engine) checkRaise(prev, next decimal.Decimal) error {
	minNext := prev.
		Mul(decimal.NewFromInt(100 + e.params.MinBidIncrementPct)).
		Div(decimal.NewFromInt(100))
	if next.LessThan(minNext) {
		return errors.ErrBidTooLow.WithDetail(
			"bid %s must be at least %s (%d%% over %s)", next, minNext, e.params.MinBidIncrementPct, prev)
	}
	return nil
}

// CancelAuction returns the escrowed asset to the creator and clears
// the record. Only the creator may cancel, and only before any bid.
func (e *Engine) CancelAuction(ctx context.Context, caller common.Address, auctionID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok, err := e.store.Get(auctionID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.ErrAuctionNotFound.WithDetail("auction %d", auctionID)
	}
	if caller != rec.Seller {
		return errors.ErrNotAuthorized.WithDetail("only the auction creator can cancel")
	}
	if rec.HasBid() {
		return errors.ErrAlreadyStarted.WithDetail("auction %d has a bid", auctionID)
	}

	if err := e.router.Transfer(rec.Asset, e.router.EscrowAccount(), rec.Seller); err != nil {
		return err
	}
	if err := e.store.Delete(auctionID); err != nil {
		return err
	}

	e.emitter.Emit(ctx, events.New(events.TypeAuctionCancelled, caller, auctionID, nil))
	e.logger.Info("auction cancelled", zap.Uint64("auction_id", auctionID))
	return nil
}

// DeleteAuctionOnlyAdmin force-ends an auction regardless of bid state:
// the current bidder (if any) is refunded and the asset goes back to
// the seller. Recovery path; only the admin may call.
func (e *Engine) DeleteAuctionOnlyAdmin(ctx context.Context, caller common.Address, auctionID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.params.Admin {
		return errors.ErrNotAuthorized.WithDetail("caller does not have admin privileges")
	}
	rec, ok, err := e.store.Get(auctionID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.ErrAuctionNotFound.WithDetail("auction %d", auctionID)
	}

	escrow := e.router.EscrowAccount()
	if rec.HasBid() {
		refund := asset.Asset{Class: rec.Currency.Class, Data: rec.Currency.Data, Value: rec.BidAmount}
		if err := e.router.Transfer(refund, escrow, rec.Bidder); err != nil {
			return err
		}
		e.emitter.Emit(ctx, events.New(events.TypeBidRefunded, rec.Bidder, auctionID, map[string]string{
			"amount": rec.BidAmount.String(),
		}))
	}
	if err := e.router.Transfer(rec.Asset, escrow, rec.Seller); err != nil {
		return err
	}
	if err := e.store.Delete(auctionID); err != nil {
		return err
	}

	e.emitter.Emit(ctx, events.New(events.TypeAuctionDeleted, caller, auctionID, map[string]string{
		"seller": rec.Seller.Hex(),
	}))
	e.logger.Info("auction deleted by admin", zap.Uint64("auction_id", auctionID))
	return nil
}

// SettlementResult reports what a completed auction paid out.
type SettlementResult struct {
	Price   decimal.Decimal `json:"price"`
	Winner  common.Address  `json:"winner"`
	Payouts []fees.Payout   `json:"payouts"`
}

// EndAuctionDoTransfer completes an auction after its effective end:
// fees are distributed over the settlement price and the escrowed asset
// is released to the winning bidder. Only the winner or the seller may
// complete. The order pair describes the exchange legs and contributes
// origin-fee entries.
func (e *Engine) EndAuctionDoTransfer(ctx context.Context, caller common.Address, left, right order.Order, auctionID uint64) (*SettlementResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok, err := e.store.Get(auctionID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	// One class of failure covers "doesn't exist", "hasn't started",
	// and "hasn't completed": callers cannot distinguish a missing
	// record from a pending one.
	if !ok || !rec.Started(now) || !rec.Ended(now) || !rec.HasBid() {
		return nil, errors.ErrNotCompletable.WithDetail("auction %d", auctionID)
	}
	if caller != rec.Bidder && caller != rec.Seller {
		return nil, errors.ErrClaimNotAllowed.WithDetail(
			"only the winning bidder or the seller can complete")
	}
	if err := e.checkSettlementOrders(rec, left, right); err != nil {
		return nil, err
	}

	price := rec.BidAmount
	if rec.Kind == KindDutch {
		price = rec.SettlementPrice
	}

	royalties, err := e.royalties.GetRoyalties(rec.Asset.Data.Contract, rec.Asset.Data.TokenID)
	if err != nil {
		return nil, err
	}
	rules := fees.Rules{
		ProtocolFeeBp: e.params.ProtocolFeeBp,
		ProtocolFeeTo: rec.ProtocolFeeTo,
		Royalties:     royalties,
		Origins:       order.OriginFees(left, right),
		PayoutTo:      rec.payoutRecipient(),
	}

	escrow := e.router.EscrowAccount()
	payouts, err := e.distributor.Distribute(rec.Currency, escrow, price, rules)
	if err != nil {
		return nil, err
	}
	if err := e.router.Transfer(rec.Asset, escrow, rec.Bidder); err != nil {
		// Payouts already settled; an unreleasable asset is a fault.
		return nil, errors.ErrValueNotConserved.WithDetail(
			"asset release failed after payout: %v", err)
	}
	if err := e.store.Delete(auctionID); err != nil {
		return nil, err
	}

	metrics.Settlements.WithLabelValues("auction").Inc()
	for _, p := range payouts {
		e.emitter.Emit(ctx, events.New(events.TypePayout, caller, auctionID, map[string]string{
			"leg":       string(p.Type),
			"recipient": p.Recipient.Hex(),
			"amount":    p.Amount.String(),
			"direction": "TO_MAKER",
		}))
	}
	e.emitter.Emit(ctx, events.New(events.TypePayout, caller, auctionID, map[string]string{
		"leg":       "ASSET",
		"recipient": rec.Bidder.Hex(),
		"amount":    rec.Asset.Value.String(),
		"direction": "TO_TAKER",
	}))
	e.emitter.Emit(ctx, events.New(events.TypeAuctionSettled, caller, auctionID, map[string]string{
		"winner": rec.Bidder.Hex(),
		"seller": rec.Seller.Hex(),
		"price":  price.String(),
	}))
	e.logger.Info("auction settled",
		zap.Uint64("auction_id", auctionID),
		zap.String("winner", rec.Bidder.Hex()),
		zap.String("price", price.String()),
	)
	return &SettlementResult{Price: price, Winner: rec.Bidder, Payouts: payouts}, nil
}

// checkSettlementOrders verifies the order pair describes this
// auction's exchange: the traded leg is the escrowed asset and the two
// makers are the auction parties.
func (e *Engine) checkSettlementOrders(rec *Record, left, right order.Order) error {
	currencyOrder, assetOrder, err := order.Sides(left, right)
	if err != nil {
		return err
	}
	traded := assetOrder.MakeAsset
	if traded.Class != rec.Asset.Class ||
		traded.Data.Contract != rec.Asset.Data.Contract ||
		!traded.Value.Equal(rec.Asset.Value) {
		return errors.ErrAssetMismatch.WithDetail("order asset leg does not match the auction")
	}
	if (traded.Data.TokenID == nil) != (rec.Asset.Data.TokenID == nil) {
		return errors.ErrAssetMismatch.WithDetail("order token id does not match the auction")
	}
	if traded.Data.TokenID != nil && traded.Data.TokenID.Cmp(rec.Asset.Data.TokenID) != 0 {
		return errors.ErrAssetMismatch.WithDetail("order token id does not match the auction")
	}
	if assetOrder.Maker != rec.Seller || currencyOrder.Maker != rec.Bidder {
		return errors.ErrAssetMismatch.WithDetail("order makers do not match the auction parties")
	}
	return nil
}

// Auction returns a copy of the record.
func (e *Engine) Auction(auctionID uint64) (*Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok, err := e.store.Get(auctionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.ErrAuctionNotFound.WithDetail("auction %d", auctionID)
	}
	return rec, nil
}

// CurrentAuctionID returns the most recently assigned id.
func (e *Engine) CurrentAuctionID() (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.CurrentID()
}
