// Package config loads the engine configuration from environment and
// optional config file.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config carries everything the settlement service needs at startup.
type Config struct {
	ListenAddr string
	LogLevel   string

	// Engine address: holds escrow and must be allow-listed on both
	// transfer proxies.
	EngineAddress string
	AdminAddress  string

	ProtocolFeeBp      int64
	ProtocolFeeTo      string
	MinBidIncrementPct int64
	MinDuration        time.Duration
	MaxDuration        time.Duration

	// DatabaseDSN selects the auction store: empty keeps records in
	// memory, "sqlite:<path>" or "postgres:<dsn>" persist them.
	DatabaseDSN string
	RedisAddr   string

	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads configuration, falling back to development defaults.
func Load() *Config {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()
	_ = v.ReadInConfig() // optional file

	v.SetDefault("LISTEN_ADDR", ":8084")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PROTOCOL_FEE_BP", 300)
	v.SetDefault("MIN_BID_INCREMENT_PCT", 5)
	v.SetDefault("MIN_DURATION", "10m")
	v.SetDefault("MAX_DURATION", "720h")
	v.SetDefault("KAFKA_TOPIC", "settlement.events")

	return &Config{
		ListenAddr:         v.GetString("LISTEN_ADDR"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		EngineAddress:      v.GetString("ENGINE_ADDRESS"),
		AdminAddress:       v.GetString("ADMIN_ADDRESS"),
		ProtocolFeeBp:      v.GetInt64("PROTOCOL_FEE_BP"),
		ProtocolFeeTo:      v.GetString("PROTOCOL_FEE_TO"),
		MinBidIncrementPct: v.GetInt64("MIN_BID_INCREMENT_PCT"),
		MinDuration:        v.GetDuration("MIN_DURATION"),
		MaxDuration:        v.GetDuration("MAX_DURATION"),
		DatabaseDSN:        v.GetString("DATABASE_DSN"),
		RedisAddr:          v.GetString("REDIS_ADDR"),
		KafkaBrokers:       v.GetStringSlice("KAFKA_BROKERS"),
		KafkaTopic:         v.GetString("KAFKA_TOPIC"),
	}
}
