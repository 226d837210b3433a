package auction

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/relicmarket/settlement/internal/asset"
)

// auctionRow is the database shape of a Record. Amounts are stored as
// strings so no precision is lost.
type auctionRow struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement:false"`
	Kind            string `gorm:"index"`
	ReservePrice    string
	StartingPrice   string
	EndingPrice     string
	AssetClass      string
	AssetContract   string `gorm:"index"`
	AssetTokenID    string
	AssetQuantity   string
	CurrencyClass   string
	CurrencyToken   string
	Seller          string `gorm:"index"`
	FundsRecipient  string
	ProtocolFeeTo   string
	DurationNs      int64
	StartDate       time.Time
	ExtensionNs     int64
	EndDate         time.Time
	Bidder          string
	BidAmount       string
	SettlementPrice string
	CreatedAt       time.Time
}

func (auctionRow) TableName() string { return "auctions" }

func toRow(rec *Record) (*auctionRow, error) {
	row := &auctionRow{
		ID:              rec.ID,
		Kind:            string(rec.Kind),
		AssetClass:      string(rec.Asset.Class),
		AssetContract:   rec.Asset.Data.Contract.Hex(),
		AssetQuantity:   rec.Asset.Value.String(),
		CurrencyClass:   string(rec.Currency.Class),
		CurrencyToken:   rec.Currency.Data.Contract.Hex(),
		Seller:          rec.Seller.Hex(),
		FundsRecipient:  rec.FundsRecipient.Hex(),
		ProtocolFeeTo:   rec.ProtocolFeeTo.Hex(),
		DurationNs:      int64(rec.Duration),
		StartDate:       rec.StartDate,
		ExtensionNs:     int64(rec.ExtensionPeriod),
		EndDate:         rec.EndDate,
		Bidder:          rec.Bidder.Hex(),
		BidAmount:       rec.BidAmount.String(),
		SettlementPrice: rec.SettlementPrice.String(),
		CreatedAt:       rec.CreatedAt,
	}
	if rec.Asset.Data.TokenID != nil {
		row.AssetTokenID = rec.Asset.Data.TokenID.String()
	}
	switch t := rec.Terms.(type) {
	case ClassicTerms:
	case ReserveTerms:
		row.ReservePrice = t.ReservePrice.String()
	case DutchTerms:
		row.StartingPrice = t.StartingPrice.String()
		row.EndingPrice = t.EndingPrice.String()
	default:
		return nil, fmt.Errorf("unknown auction terms %T", rec.Terms)
	}
	return row, nil
}

func fromRow(row *auctionRow) (*Record, error) {
	parse := func(s string) (decimal.Decimal, error) {
		if s == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(s)
	}
	quantity, err := parse(row.AssetQuantity)
	if err != nil {
		return nil, fmt.Errorf("asset quantity: %w", err)
	}
	bidAmount, err := parse(row.BidAmount)
	if err != nil {
		return nil, fmt.Errorf("bid amount: %w", err)
	}
	settlement, err := parse(row.SettlementPrice)
	if err != nil {
		return nil, fmt.Errorf("settlement price: %w", err)
	}

	rec := &Record{
		ID:   row.ID,
		Kind: Kind(row.Kind),
		Asset: asset.Asset{
			Class: asset.Class(row.AssetClass),
			Data:  asset.Data{Contract: common.HexToAddress(row.AssetContract)},
			Value: quantity,
		},
		Currency: asset.Asset{
			Class: asset.Class(row.CurrencyClass),
			Data:  asset.Data{Contract: common.HexToAddress(row.CurrencyToken)},
		},
		Seller:          common.HexToAddress(row.Seller),
		FundsRecipient:  common.HexToAddress(row.FundsRecipient),
		ProtocolFeeTo:   common.HexToAddress(row.ProtocolFeeTo),
		Duration:        time.Duration(row.DurationNs),
		StartDate:       row.StartDate,
		ExtensionPeriod: time.Duration(row.ExtensionNs),
		EndDate:         row.EndDate,
		Bidder:          common.HexToAddress(row.Bidder),
		BidAmount:       bidAmount,
		SettlementPrice: settlement,
		CreatedAt:       row.CreatedAt,
	}
	if row.AssetTokenID != "" {
		tokenID, ok := new(big.Int).SetString(row.AssetTokenID, 10)
		if !ok {
			return nil, fmt.Errorf("asset token id %q", row.AssetTokenID)
		}
		rec.Asset.Data.TokenID = tokenID
	}
	switch Kind(row.Kind) {
	case KindClassic:
		rec.Terms = ClassicTerms{}
	case KindReserve:
		reserve, err := parse(row.ReservePrice)
		if err != nil {
			return nil, fmt.Errorf("reserve price: %w", err)
		}
		rec.Terms = ReserveTerms{ReservePrice: reserve}
	case KindDutch:
		starting, err := parse(row.StartingPrice)
		if err != nil {
			return nil, fmt.Errorf("starting price: %w", err)
		}
		ending, err := parse(row.EndingPrice)
		if err != nil {
			return nil, fmt.Errorf("ending price: %w", err)
		}
		rec.Terms = DutchTerms{StartingPrice: starting, EndingPrice: ending}
	default:
		return nil, fmt.Errorf("unknown auction kind %q", row.Kind)
	}
	return rec, nil
}

// GormStore persists auction records through GORM with an optional
// Redis read cache in front. The cache degrades to a pass-through when
// the server is unreachable.
type GormStore struct {
	db     *gorm.DB
	cache  *redis.Client
	logger *zap.Logger
	lastID uint64
}

// NewGormStore migrates the auctions table and seeds the id counter
// from the highest stored id. redisAddr may be empty to disable the
// cache.
func NewGormStore(db *gorm.DB, redisAddr string, logger *zap.Logger) (*GormStore, error) {
	if err := db.AutoMigrate(&auctionRow{}); err != nil {
		return nil, fmt.Errorf("migrate auctions: %w", err)
	}

	var cache *redis.Client
	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not available, proceeding without cache", zap.Error(err))
		} else {
			cache = rdb
		}
	}

	var maxID uint64
	row := &auctionRow{}
	err := db.Order("id desc").First(row).Error
	switch {
	case err == nil:
		maxID = row.ID
	case err == gorm.ErrRecordNotFound:
	default:
		return nil, fmt.Errorf("seed auction id: %w", err)
	}

	return &GormStore{db: db, cache: cache, logger: logger.Named("auction.store"), lastID: maxID}, nil
}

func (s *GormStore) NextID() (uint64, error) {
	s.lastID++
	return s.lastID, nil
}

func (s *GormStore) CurrentID() (uint64, error) {
	return s.lastID, nil
}

func cacheKey(id uint64) string {
	return fmt.Sprintf("auction:%d", id)
}

func (s *GormStore) Get(id uint64) (*Record, bool, error) {
	if s.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if raw, err := s.cache.Get(ctx, cacheKey(id)).Bytes(); err == nil {
			row := &auctionRow{}
			if err := json.Unmarshal(raw, row); err == nil {
				rec, err := fromRow(row)
				if err == nil {
					return rec, true, nil
				}
			}
			// Corrupt cache entries fall through to the database.
			s.cache.Del(ctx, cacheKey(id))
		}
	}

	row := &auctionRow{}
	err := s.db.First(row, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load auction %d: %w", id, err)
	}
	rec, err := fromRow(row)
	if err != nil {
		return nil, false, err
	}
	s.fillCache(row)
	return rec, true, nil
}

func (s *GormStore) Put(rec *Record) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	if err := s.db.Save(row).Error; err != nil {
		return fmt.Errorf("save auction %d: %w", rec.ID, err)
	}
	s.fillCache(row)
	return nil
}

func (s *GormStore) Delete(id uint64) error {
	if err := s.db.Delete(&auctionRow{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete auction %d: %w", id, err)
	}
	if s.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.cache.Del(ctx, cacheKey(id))
	}
	return nil
}

func (s *GormStore) fillCache(row *auctionRow) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(row)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Set(ctx, cacheKey(row.ID), raw, 10*time.Minute).Err(); err != nil {
		s.logger.Debug("cache fill failed", zap.Uint64("auction_id", row.ID), zap.Error(err))
	}
}
