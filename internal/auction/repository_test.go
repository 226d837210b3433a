package auction

import (
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/relicmarket/settlement/internal/asset"
)

func openTestStore(t *testing.T) (*GormStore, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "auctions.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store, err := NewGormStore(db, "", zaptest.NewLogger(t))
	require.NoError(t, err)
	return store, db
}

func sampleRecord(id uint64, terms Terms) *Record {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &Record{
		ID:    id,
		Kind:  terms.Kind(),
		Terms: terms,
		Asset: asset.Asset{
			Class: asset.ClassUnique,
			Data:  asset.Data{Contract: nftContract, TokenID: big.NewInt(7)},
			Value: decimal.NewFromInt(1),
		},
		Currency:        asset.Asset{Class: asset.ClassNative},
		Seller:          seller,
		ProtocolFeeTo:   protocolAddr,
		Duration:        time.Hour,
		StartDate:       start,
		ExtensionPeriod: 10 * time.Minute,
		EndDate:         start.Add(time.Hour),
		CreatedAt:       start,
	}
}

func TestGormStoreRoundTrip(t *testing.T) {
	store, _ := openTestStore(t)

	for i, terms := range []Terms{
		ClassicTerms{},
		ReserveTerms{ReservePrice: decimal.NewFromInt(100)},
		DutchTerms{StartingPrice: decimal.NewFromInt(200), EndingPrice: decimal.NewFromInt(100)},
	} {
		id, err := store.NextID()
		require.NoError(t, err)
		require.Equal(t, uint64(i+1), id)

		rec := sampleRecord(id, terms)
		rec.Bidder = bidder1
		rec.BidAmount = decimal.NewFromInt(150)
		require.NoError(t, store.Put(rec))

		got, ok, err := store.Get(id)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, rec.Kind, got.Kind)
		assert.Equal(t, rec.Terms, got.Terms)
		assert.Equal(t, rec.Seller, got.Seller)
		assert.Equal(t, rec.Bidder, got.Bidder)
		assert.True(t, got.BidAmount.Equal(rec.BidAmount))
		assert.True(t, got.Asset.Value.Equal(rec.Asset.Value))
		require.NotNil(t, got.Asset.Data.TokenID)
		assert.Zero(t, got.Asset.Data.TokenID.Cmp(rec.Asset.Data.TokenID))
		assert.True(t, got.StartDate.Equal(rec.StartDate))
		assert.True(t, got.EndDate.Equal(rec.EndDate))
	}
}

func TestGormStoreDelete(t *testing.T) {
	store, _ := openTestStore(t)
	id, err := store.NextID()
	require.NoError(t, err)
	require.NoError(t, store.Put(sampleRecord(id, ClassicTerms{})))

	require.NoError(t, store.Delete(id))
	_, ok, err := store.Get(id)
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an absent id is a no-op.
	require.NoError(t, store.Delete(99))
}

func TestGormStoreSeedsIDFromExistingRows(t *testing.T) {
	store, db := openTestStore(t)
	for i := 0; i < 3; i++ {
		id, err := store.NextID()
		require.NoError(t, err)
		require.NoError(t, store.Put(sampleRecord(id, ClassicTerms{})))
	}

	// A fresh store over the same database continues the sequence.
	reopened, err := NewGormStore(db, "", zaptest.NewLogger(t))
	require.NoError(t, err)
	current, err := reopened.CurrentID()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), current)
	next, err := reopened.NextID()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), next)
}
