package auction

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/relicmarket/settlement/internal/asset"
	"github.com/relicmarket/settlement/internal/events"
	"github.com/relicmarket/settlement/internal/fees"
	"github.com/relicmarket/settlement/internal/order"
	"github.com/relicmarket/settlement/internal/transfer"
	"github.com/relicmarket/settlement/pkg/errors"
)

var (
	engineAddr   = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	adminAddr    = common.HexToAddress("0x00000000000000000000000000000000000000e2")
	protocolAddr = common.HexToAddress("0x00000000000000000000000000000000000000e3")
	seller       = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	bidder1      = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	bidder2      = common.HexToAddress("0x00000000000000000000000000000000000000b3")
	royaltyAddr  = common.HexToAddress("0x00000000000000000000000000000000000000b4")
	originAddr   = common.HexToAddress("0x00000000000000000000000000000000000000b5")

	nftContract   = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	erc20Contract = common.HexToAddress("0x00000000000000000000000000000000000000c2")

	nftTokenID = big.NewInt(7)
)

type fakeUnique struct {
	owners map[string]common.Address
}

func (f *fakeUnique) OwnerOf(tokenID *big.Int) (common.Address, error) {
	return f.owners[tokenID.String()], nil
}

func (f *fakeUnique) TransferFrom(from, to common.Address, tokenID *big.Int) error {
	f.owners[tokenID.String()] = to
	return nil
}

type fakeFungible struct {
	balances   map[common.Address]decimal.Decimal
	allowances map[common.Address]decimal.Decimal
}

func (f *fakeFungible) BalanceOf(owner common.Address) decimal.Decimal {
	return f.balances[owner]
}

func (f *fakeFungible) Allowance(owner, _ common.Address) decimal.Decimal {
	return f.allowances[owner]
}

func (f *fakeFungible) TransferFrom(from, to common.Address, amount decimal.Decimal) error {
	f.balances[from] = f.balances[from].Sub(amount)
	f.balances[to] = f.balances[to].Add(amount)
	return nil
}

type fixture struct {
	t         *testing.T
	engine    *Engine
	store     *MemoryStore
	ledger    *transfer.MemoryLedger
	nft       *fakeUnique
	erc20     *fakeFungible
	royalties *asset.StaticRoyaltyRegistry
	clock     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		store:  NewMemoryStore(),
		ledger: transfer.NewMemoryLedger(),
		nft:    &fakeUnique{owners: map[string]common.Address{nftTokenID.String(): seller}},
		erc20: &fakeFungible{
			balances:   make(map[common.Address]decimal.Decimal),
			allowances: make(map[common.Address]decimal.Decimal),
		},
		royalties: asset.NewStaticRoyaltyRegistry(),
		clock:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	logger := zaptest.NewLogger(t)
	tokenProxy := transfer.NewProxy(common.HexToAddress("0x0000000000000000000000000000000000000701"), adminAddr)
	erc20Proxy := transfer.NewProxy(common.HexToAddress("0x0000000000000000000000000000000000000702"), adminAddr)
	require.NoError(t, tokenProxy.AddOperator(adminAddr, engineAddr))
	require.NoError(t, erc20Proxy.AddOperator(adminAddr, engineAddr))

	registry := transfer.NewRegistry()
	registry.RegisterUnique(nftContract, f.nft)
	registry.RegisterFungible(erc20Contract, f.erc20)

	router := transfer.NewRouter(engineAddr, f.ledger, tokenProxy, erc20Proxy, registry, logger)
	distributor := fees.NewDistributor(router, logger)

	engine, err := NewEngine(Params{
		Admin:              adminAddr,
		ProtocolFeeBp:      300,
		ProtocolFeeTo:      protocolAddr,
		MinDuration:        10 * time.Minute,
		MaxDuration:        30 * 24 * time.Hour,
		MinBidIncrementPct: 5,
	}, f.store, router, distributor, f.royalties, events.Nop{}, logger)
	require.NoError(t, err)
	engine.now = func() time.Time { return f.clock }
	f.engine = engine
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func nftAsset() asset.Asset {
	return asset.Asset{
		Class: asset.ClassUnique,
		Data:  asset.Data{Contract: nftContract, TokenID: nftTokenID},
		Value: decimal.NewFromInt(1),
	}
}

func nativeCurrency() asset.Asset {
	return asset.Asset{Class: asset.ClassNative}
}

func (f *fixture) create(terms Terms, duration, extension time.Duration) uint64 {
	f.t.Helper()
	id, err := f.engine.CreateAuction(context.Background(), CreateParams{
		Seller:          seller,
		Asset:           nftAsset(),
		Currency:        nativeCurrency(),
		Terms:           terms,
		Duration:        duration,
		ExtensionPeriod: extension,
	})
	require.NoError(f.t, err)
	return id
}

// bid places a native-currency bid, funding the bidder first.
func (f *fixture) bid(bidder common.Address, id uint64, amount int64) error {
	value := decimal.NewFromInt(amount)
	f.ledger.Deposit(bidder, value)
	err := f.engine.CreateBid(context.Background(), bidder, id, value, false, value)
	if err != nil {
		// Take the funding back out so balances stay predictable.
		require.NoError(f.t, f.ledger.Transfer(bidder, common.Address{}, value))
	}
	return err
}

func TestCreateAuctionValidation(t *testing.T) {
	f := newFixture(t)
	base := CreateParams{
		Seller:   seller,
		Asset:    nftAsset(),
		Currency: nativeCurrency(),
		Terms:    ClassicTerms{},
		Duration: time.Hour,
	}

	cases := []struct {
		name   string
		mutate func(*CreateParams)
		want   error
	}{
		{"duration too short", func(p *CreateParams) { p.Duration = time.Minute }, errors.ErrInvalidDuration},
		{"duration too long", func(p *CreateParams) { p.Duration = 31 * 24 * time.Hour }, errors.ErrInvalidDuration},
		{"extension too long", func(p *CreateParams) { p.ExtensionPeriod = time.Hour }, errors.ErrExtensionPeriodTooLong},
		{"unique quantity above one", func(p *CreateParams) { p.Asset.Value = decimal.NewFromInt(2) }, errors.ErrZeroAmount},
		{"currency as auction asset", func(p *CreateParams) { p.Asset = nativeCurrency(); p.Asset.Value = decimal.NewFromInt(1) }, errors.ErrUnsupportedAssetIface},
		{"unregistered contract", func(p *CreateParams) {
			p.Asset.Data.Contract = common.HexToAddress("0x00000000000000000000000000000000000000ff")
		}, errors.ErrUnsupportedAssetIface},
		{"token as payment currency", func(p *CreateParams) { p.Currency = nftAsset() }, errors.ErrAssetMismatch},
		{"dutch prices out of order", func(p *CreateParams) {
			p.Terms = DutchTerms{StartingPrice: decimal.NewFromInt(100), EndingPrice: decimal.NewFromInt(200)}
		}, errors.ErrInvalidPriceOrdering},
		{"dutch ending price zero", func(p *CreateParams) {
			p.Terms = DutchTerms{StartingPrice: decimal.NewFromInt(100), EndingPrice: decimal.Zero}
		}, errors.ErrInvalidPriceOrdering},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := base
			tc.mutate(&p)
			_, err := f.engine.CreateAuction(context.Background(), p)
			require.ErrorIs(t, err, tc.want)
		})
	}

	// Nothing was escrowed by any rejected attempt.
	owner, err := f.nft.OwnerOf(nftTokenID)
	require.NoError(t, err)
	assert.Equal(t, seller, owner)
}

func TestCreateAuctionEscrowsAssetAndAssignsIDs(t *testing.T) {
	f := newFixture(t)
	id := f.create(ClassicTerms{}, time.Hour, 0)
	assert.Equal(t, uint64(1), id)

	owner, err := f.nft.OwnerOf(nftTokenID)
	require.NoError(t, err)
	assert.Equal(t, engineAddr, owner, "the engine holds the asset while the auction runs")

	current, err := f.engine.CurrentAuctionID()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), current)

	rec, err := f.engine.Auction(id)
	require.NoError(t, err)
	assert.Equal(t, KindClassic, rec.Kind)
	assert.Equal(t, f.clock.Add(time.Hour), rec.EndDate)
}

func TestClassicBiddingRefundsPriorBidder(t *testing.T) {
	f := newFixture(t)
	id := f.create(ClassicTerms{}, time.Hour, 0)

	require.NoError(t, f.bid(bidder1, id, 100))
	assert.True(t, f.ledger.BalanceOf(engineAddr).Equal(decimal.NewFromInt(100)))

	// 4% over the leading bid is below the 5% minimum raise.
	err := f.bid(bidder2, id, 104)
	require.ErrorIs(t, err, errors.ErrBidTooLow)

	require.NoError(t, f.bid(bidder2, id, 105))
	assert.True(t, f.ledger.BalanceOf(bidder1).Equal(decimal.NewFromInt(100)), "outbid bidder is refunded in full")
	assert.True(t, f.ledger.BalanceOf(engineAddr).Equal(decimal.NewFromInt(105)), "escrow holds only the leading bid")

	rec, err := f.engine.Auction(id)
	require.NoError(t, err)
	assert.Equal(t, bidder2, rec.Bidder)
	assert.True(t, rec.BidAmount.Equal(decimal.NewFromInt(105)))
}

func TestReserveAuctionFloorsFirstBid(t *testing.T) {
	f := newFixture(t)
	id := f.create(ReserveTerms{ReservePrice: decimal.NewFromInt(100)}, time.Hour, 0)

	err := f.bid(bidder1, id, 99)
	require.ErrorIs(t, err, errors.ErrBidBelowReserve)

	require.NoError(t, f.bid(bidder1, id, 100))

	// Raises follow the increment rule, not the reserve.
	err = f.bid(bidder2, id, 104)
	require.ErrorIs(t, err, errors.ErrBidTooLow)
	require.NoError(t, f.bid(bidder2, id, 105))
}

func TestDutchAuctionSingleBidAtInterpolatedPrice(t *testing.T) {
	f := newFixture(t)
	terms := DutchTerms{StartingPrice: decimal.NewFromInt(200), EndingPrice: decimal.NewFromInt(100)}
	id := f.create(terms, 10*time.Hour, 0)

	f.advance(9 * time.Hour)
	// 90% of the way down: 200 - 100*0.9 = 110.
	err := f.bid(bidder1, id, 105)
	require.ErrorIs(t, err, errors.ErrBidTooLow)

	require.NoError(t, f.bid(bidder1, id, 110))

	rec, err := f.engine.Auction(id)
	require.NoError(t, err)
	assert.True(t, rec.SettlementPrice.Equal(decimal.NewFromInt(110)), "settlement price locks at the accepted bid")

	err = f.bid(bidder2, id, 200)
	require.ErrorIs(t, err, errors.ErrSecondBidRejected)
}

func TestDutchPriceFlooredAtEnd(t *testing.T) {
	terms := DutchTerms{StartingPrice: decimal.NewFromInt(200), EndingPrice: decimal.NewFromInt(100)}
	d := 10 * time.Hour
	assert.True(t, terms.PriceAt(0, d).Equal(decimal.NewFromInt(200)))
	assert.True(t, terms.PriceAt(5*time.Hour, d).Equal(decimal.NewFromInt(150)))
	assert.True(t, terms.PriceAt(d, d).Equal(decimal.NewFromInt(100)))
	assert.True(t, terms.PriceAt(d+time.Hour, d).Equal(decimal.NewFromInt(100)))
}

func TestBidWindow(t *testing.T) {
	f := newFixture(t)
	start := f.clock.Add(time.Hour)
	id, err := f.engine.CreateAuction(context.Background(), CreateParams{
		Seller:    seller,
		Asset:     nftAsset(),
		Currency:  nativeCurrency(),
		Terms:     ClassicTerms{},
		Duration:  time.Hour,
		StartDate: start,
	})
	require.NoError(t, err)

	err = f.bid(bidder1, id, 100)
	require.ErrorIs(t, err, errors.ErrNotStarted)

	f.advance(3 * time.Hour)
	err = f.bid(bidder1, id, 100)
	require.ErrorIs(t, err, errors.ErrExpired)
}

func TestBidAttachedValueMustMatch(t *testing.T) {
	f := newFixture(t)
	id := f.create(ClassicTerms{}, time.Hour, 0)

	f.ledger.Deposit(bidder1, decimal.NewFromInt(100))
	err := f.engine.CreateBid(context.Background(), bidder1, id, decimal.NewFromInt(100), false, decimal.NewFromInt(90))
	require.ErrorIs(t, err, errors.ErrAmountMismatch)

	// Token mode on a native auction is a mismatch too.
	err = f.engine.CreateBid(context.Background(), bidder1, id, decimal.NewFromInt(100), true, decimal.Zero)
	require.ErrorIs(t, err, errors.ErrAssetMismatch)
}

func TestBidRejectedWhenFundsShort(t *testing.T) {
	f := newFixture(t)
	id := f.create(ClassicTerms{}, time.Hour, 0)
	require.NoError(t, f.bid(bidder1, id, 100))

	// bidder2 has no funds: the bid fails before bidder1 is refunded.
	err := f.engine.CreateBid(context.Background(), bidder2, id, decimal.NewFromInt(200), false, decimal.NewFromInt(200))
	require.ErrorIs(t, err, errors.ErrInsufficientFunds)

	rec, err := f.engine.Auction(id)
	require.NoError(t, err)
	assert.Equal(t, bidder1, rec.Bidder, "leading bid survives a failed raise")
	assert.True(t, f.ledger.BalanceOf(engineAddr).Equal(decimal.NewFromInt(100)))
}

func TestAntiSnipeExtension(t *testing.T) {
	f := newFixture(t)
	id := f.create(ClassicTerms{}, time.Hour, 10*time.Minute)

	rec, err := f.engine.Auction(id)
	require.NoError(t, err)
	originalEnd := rec.EndDate

	// A bid well before the end does not extend.
	require.NoError(t, f.bid(bidder1, id, 100))
	rec, err = f.engine.Auction(id)
	require.NoError(t, err)
	assert.Equal(t, originalEnd, rec.EndDate)

	// A bid inside the extension window pushes the end out.
	f.advance(55 * time.Minute)
	require.NoError(t, f.bid(bidder2, id, 200))
	rec, err = f.engine.Auction(id)
	require.NoError(t, err)
	assert.Equal(t, originalEnd.Add(10*time.Minute), rec.EndDate)
}

func TestCancelAuction(t *testing.T) {
	f := newFixture(t)
	id := f.create(ClassicTerms{}, time.Hour, 0)

	err := f.engine.CancelAuction(context.Background(), bidder1, id)
	require.ErrorIs(t, err, errors.ErrNotAuthorized)

	require.NoError(t, f.engine.CancelAuction(context.Background(), seller, id))
	owner, err := f.nft.OwnerOf(nftTokenID)
	require.NoError(t, err)
	assert.Equal(t, seller, owner)

	_, err = f.engine.Auction(id)
	require.ErrorIs(t, err, errors.ErrAuctionNotFound)
}

func TestCancelRejectedOnceBidExists(t *testing.T) {
	f := newFixture(t)
	id := f.create(ClassicTerms{}, time.Hour, 0)
	require.NoError(t, f.bid(bidder1, id, 100))

	err := f.engine.CancelAuction(context.Background(), seller, id)
	require.ErrorIs(t, err, errors.ErrAlreadyStarted)
}

func TestAdminDeleteRefundsAndReturns(t *testing.T) {
	f := newFixture(t)
	id := f.create(ClassicTerms{}, time.Hour, 0)
	require.NoError(t, f.bid(bidder1, id, 100))

	err := f.engine.DeleteAuctionOnlyAdmin(context.Background(), seller, id)
	require.ErrorIs(t, err, errors.ErrNotAuthorized)

	require.NoError(t, f.engine.DeleteAuctionOnlyAdmin(context.Background(), adminAddr, id))
	assert.True(t, f.ledger.BalanceOf(bidder1).Equal(decimal.NewFromInt(100)), "bidder refunded")
	owner, err := f.nft.OwnerOf(nftTokenID)
	require.NoError(t, err)
	assert.Equal(t, seller, owner, "asset back with the seller")

	_, err = f.engine.Auction(id)
	require.ErrorIs(t, err, errors.ErrAuctionNotFound)
}

// settlementOrders builds the mirrored order pair completing an auction.
func settlementOrders(rec *Record, price decimal.Decimal, origins []asset.Part) (order.Order, order.Order) {
	currencyLeg := asset.Asset{Class: rec.Currency.Class, Data: rec.Currency.Data, Value: price}
	buy := order.Order{
		Maker:     rec.Bidder,
		MakeAsset: currencyLeg,
		TakeAsset: rec.Asset,
	}
	sell := order.Order{
		Maker:     rec.Seller,
		MakeAsset: rec.Asset,
		TakeAsset: currencyLeg,
	}
	if len(origins) > 0 {
		buy.DataType = order.DataTypeV1
		buy.Data.OriginFees = origins
	}
	return buy, sell
}

func TestEndAuctionDistributesAndReleases(t *testing.T) {
	f := newFixture(t)
	f.royalties.SetContractRoyalties(nftContract, []asset.Part{{Account: royaltyAddr, BasisPoints: 1000}})

	id := f.create(ClassicTerms{}, time.Hour, 0)
	require.NoError(t, f.bid(bidder1, id, 1000))

	rec, err := f.engine.Auction(id)
	require.NoError(t, err)

	f.advance(2 * time.Hour)
	origins := []asset.Part{{Account: originAddr, BasisPoints: 250}}
	buy, sell := settlementOrders(rec, decimal.NewFromInt(1000), origins)

	result, err := f.engine.EndAuctionDoTransfer(context.Background(), bidder1, buy, sell, id)
	require.NoError(t, err)
	assert.True(t, result.Price.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, bidder1, result.Winner)
	require.Len(t, result.Payouts, 4)

	assert.True(t, f.ledger.BalanceOf(protocolAddr).Equal(decimal.NewFromInt(30)))
	assert.True(t, f.ledger.BalanceOf(royaltyAddr).Equal(decimal.NewFromInt(100)))
	assert.True(t, f.ledger.BalanceOf(originAddr).Equal(decimal.NewFromInt(25)))
	assert.True(t, f.ledger.BalanceOf(seller).Equal(decimal.NewFromInt(845)))
	assert.True(t, f.ledger.BalanceOf(engineAddr).IsZero(), "escrow fully drained")

	owner, err := f.nft.OwnerOf(nftTokenID)
	require.NoError(t, err)
	assert.Equal(t, bidder1, owner)

	_, err = f.engine.Auction(id)
	require.ErrorIs(t, err, errors.ErrAuctionNotFound)
}

func TestEndAuctionDutchUsesLockedPrice(t *testing.T) {
	f := newFixture(t)
	terms := DutchTerms{StartingPrice: decimal.NewFromInt(200), EndingPrice: decimal.NewFromInt(100)}
	id := f.create(terms, 10*time.Hour, 0)

	f.advance(9 * time.Hour)
	require.NoError(t, f.bid(bidder1, id, 110))

	rec, err := f.engine.Auction(id)
	require.NoError(t, err)

	f.advance(2 * time.Hour)
	buy, sell := settlementOrders(rec, decimal.NewFromInt(110), nil)
	result, err := f.engine.EndAuctionDoTransfer(context.Background(), seller, buy, sell, id)
	require.NoError(t, err)
	assert.True(t, result.Price.Equal(decimal.NewFromInt(110)))
}

func TestEndAuctionGuards(t *testing.T) {
	f := newFixture(t)
	id := f.create(ClassicTerms{}, time.Hour, 0)

	rec, err := f.engine.Auction(id)
	require.NoError(t, err)
	buy, sell := settlementOrders(rec, decimal.NewFromInt(100), nil)

	// No bid yet.
	f.advance(2 * time.Hour)
	_, err = f.engine.EndAuctionDoTransfer(context.Background(), seller, buy, sell, id)
	require.ErrorIs(t, err, errors.ErrNotCompletable)

	// Unknown id is indistinguishable from a pending auction.
	_, err = f.engine.EndAuctionDoTransfer(context.Background(), seller, buy, sell, 99)
	require.ErrorIs(t, err, errors.ErrNotCompletable)
}

func TestEndAuctionBeforeEndRejected(t *testing.T) {
	f := newFixture(t)
	id := f.create(ClassicTerms{}, time.Hour, 0)
	require.NoError(t, f.bid(bidder1, id, 100))

	rec, err := f.engine.Auction(id)
	require.NoError(t, err)
	buy, sell := settlementOrders(rec, decimal.NewFromInt(100), nil)

	_, err = f.engine.EndAuctionDoTransfer(context.Background(), bidder1, buy, sell, id)
	require.ErrorIs(t, err, errors.ErrNotCompletable)
}

func TestEndAuctionCallerMustBeParty(t *testing.T) {
	f := newFixture(t)
	id := f.create(ClassicTerms{}, time.Hour, 0)
	require.NoError(t, f.bid(bidder1, id, 100))

	rec, err := f.engine.Auction(id)
	require.NoError(t, err)
	f.advance(2 * time.Hour)
	buy, sell := settlementOrders(rec, decimal.NewFromInt(100), nil)

	_, err = f.engine.EndAuctionDoTransfer(context.Background(), bidder2, buy, sell, id)
	require.ErrorIs(t, err, errors.ErrClaimNotAllowed)
}

func TestEndAuctionOrderPairMustMatch(t *testing.T) {
	f := newFixture(t)
	id := f.create(ClassicTerms{}, time.Hour, 0)
	require.NoError(t, f.bid(bidder1, id, 100))

	rec, err := f.engine.Auction(id)
	require.NoError(t, err)
	f.advance(2 * time.Hour)

	// Wrong price leg maker: the pair's makers must be the auction
	// parties.
	buy, sell := settlementOrders(rec, decimal.NewFromInt(100), nil)
	buy.Maker = bidder2
	_, err = f.engine.EndAuctionDoTransfer(context.Background(), bidder1, buy, sell, id)
	require.ErrorIs(t, err, errors.ErrAssetMismatch)

	// Wrong traded token.
	buy, sell = settlementOrders(rec, decimal.NewFromInt(100), nil)
	sell.MakeAsset.Data.TokenID = big.NewInt(8)
	_, err = f.engine.EndAuctionDoTransfer(context.Background(), bidder1, buy, sell, id)
	require.ErrorIs(t, err, errors.ErrAssetMismatch)
}

func TestTokenCurrencyAuction(t *testing.T) {
	f := newFixture(t)
	id, err := f.engine.CreateAuction(context.Background(), CreateParams{
		Seller:   seller,
		Asset:    nftAsset(),
		Currency: asset.Asset{Class: asset.ClassFungible, Data: asset.Data{Contract: erc20Contract}},
		Terms:    ClassicTerms{},
		Duration: time.Hour,
	})
	require.NoError(t, err)

	f.erc20.balances[bidder1] = decimal.NewFromInt(500)

	// No allowance yet.
	err = f.engine.CreateBid(context.Background(), bidder1, id, decimal.NewFromInt(100), true, decimal.Zero)
	require.ErrorIs(t, err, errors.ErrAllowanceExceeded)

	f.erc20.allowances[bidder1] = decimal.NewFromInt(500)
	require.NoError(t, f.engine.CreateBid(context.Background(), bidder1, id, decimal.NewFromInt(100), true, decimal.Zero))
	assert.True(t, f.erc20.BalanceOf(engineAddr).Equal(decimal.NewFromInt(100)))

	// Native mode on a token auction is a mismatch.
	err = f.engine.CreateBid(context.Background(), bidder2, id, decimal.NewFromInt(200), false, decimal.NewFromInt(200))
	require.ErrorIs(t, err, errors.ErrAssetMismatch)
}
