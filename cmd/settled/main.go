// Command settled runs the settlement service: the auction engine and
// the direct order matcher behind one HTTP surface.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/relicmarket/settlement/api"
	"github.com/relicmarket/settlement/internal/asset"
	"github.com/relicmarket/settlement/internal/auction"
	"github.com/relicmarket/settlement/internal/config"
	"github.com/relicmarket/settlement/internal/events"
	"github.com/relicmarket/settlement/internal/fees"
	"github.com/relicmarket/settlement/internal/order"
	"github.com/relicmarket/settlement/internal/transfer"
	"github.com/relicmarket/settlement/pkg/logger"
)

func main() {
	cfg := config.Load()

	zapLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	engineAddr := common.HexToAddress(cfg.EngineAddress)
	adminAddr := common.HexToAddress(cfg.AdminAddress)

	// Transfer plumbing: the engine address is escrow and must be
	// allow-listed on both proxies before any token moves.
	ledger := transfer.NewMemoryLedger()
	tokenProxy := transfer.NewProxy(common.HexToAddress("0x0000000000000000000000000000000000000701"), adminAddr)
	erc20Proxy := transfer.NewProxy(common.HexToAddress("0x0000000000000000000000000000000000000702"), adminAddr)
	if err := tokenProxy.AddOperator(adminAddr, engineAddr); err != nil {
		zapLogger.Fatal("failed to allow-list engine on token proxy", zap.Error(err))
	}
	if err := erc20Proxy.AddOperator(adminAddr, engineAddr); err != nil {
		zapLogger.Fatal("failed to allow-list engine on erc20 proxy", zap.Error(err))
	}
	registry := transfer.NewRegistry()
	router := transfer.NewRouter(engineAddr, ledger, tokenProxy, erc20Proxy, registry, zapLogger)
	distributor := fees.NewDistributor(router, zapLogger)
	royalties := asset.NewStaticRoyaltyRegistry()

	store, err := newStore(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to open auction store", zap.Error(err))
	}

	emitter, closeEmitter := newEmitter(cfg, zapLogger)

	params := auction.Params{
		Admin:              adminAddr,
		ProtocolFeeBp:      cfg.ProtocolFeeBp,
		ProtocolFeeTo:      common.HexToAddress(cfg.ProtocolFeeTo),
		MinDuration:        cfg.MinDuration,
		MaxDuration:        cfg.MaxDuration,
		MinBidIncrementPct: cfg.MinBidIncrementPct,
	}
	engine, err := auction.NewEngine(params, store, router, distributor, royalties, emitter, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to create auction engine", zap.Error(err))
	}
	matcher := order.NewMatcher(order.MatcherParams{
		ProtocolFeeBp: cfg.ProtocolFeeBp,
		ProtocolFeeTo: common.HexToAddress(cfg.ProtocolFeeTo),
	}, router, distributor, royalties, emitter, zapLogger)

	server := api.NewServer(engine, matcher, zapLogger)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		zapLogger.Info("settlement service listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		zapLogger.Error("graceful shutdown failed", zap.Error(err))
	}
	closeEmitter()
}

// newStore selects the auction store from the DSN: empty keeps records
// in memory, "sqlite:" and "postgres:" prefixes persist them through
// gorm with an optional redis read cache.
func newStore(cfg *config.Config, zapLogger *zap.Logger) (auction.Store, error) {
	if cfg.DatabaseDSN == "" {
		zapLogger.Info("using in-memory auction store")
		return auction.NewMemoryStore(), nil
	}
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	var db *gorm.DB
	var err error
	switch {
	case strings.HasPrefix(cfg.DatabaseDSN, "sqlite:"):
		db, err = gorm.Open(sqlite.Open(strings.TrimPrefix(cfg.DatabaseDSN, "sqlite:")), gormCfg)
	case strings.HasPrefix(cfg.DatabaseDSN, "postgres:"):
		db, err = gorm.Open(postgres.Open(strings.TrimPrefix(cfg.DatabaseDSN, "postgres:")), gormCfg)
	default:
		db, err = gorm.Open(postgres.Open(cfg.DatabaseDSN), gormCfg)
	}
	if err != nil {
		return nil, err
	}
	return auction.NewGormStore(db, cfg.RedisAddr, zapLogger)
}

// newEmitter always logs events and additionally publishes to kafka
// when brokers are configured. The returned func flushes the kafka
// writer on shutdown.
func newEmitter(cfg *config.Config, zapLogger *zap.Logger) (events.Emitter, func()) {
	logEmitter := events.NewLogEmitter(zapLogger)
	if len(cfg.KafkaBrokers) == 0 {
		return logEmitter, func() {}
	}
	kafkaEmitter := events.NewKafkaEmitter(cfg.KafkaBrokers, cfg.KafkaTopic, zapLogger)
	closer := func() {
		if err := kafkaEmitter.Close(); err != nil {
			zapLogger.Error("kafka emitter close failed", zap.Error(err))
		}
	}
	return events.Multi{logEmitter, kafkaEmitter}, closer
}
