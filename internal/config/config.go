package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds every value the copier core consumes. Loaded once at startup
// and passed by pointer; nothing reads the environment after Load returns.
type Config struct {
	// Trading
	Strategy       string          // "dual_tp", "single" or "progressive"
	MinConfidence  float64         // events below this are dropped before dispatch
	DefaultLotSize decimal.Decimal // lot size when the signal does not carry one
	AllowedSymbols []string        // empty = allow everything
	SymbolMap      map[string]string

	// Timers (0 disables the pending-completion timeout)
	PendingTimeout  time.Duration
	TPVerifyTimeout time.Duration
	EditWindow      time.Duration

	// Reconnection
	ReconnectMaxAttempts  int // 0 = unlimited
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	KeepAliveInterval     time.Duration
	PingInterval          time.Duration

	// State
	StateFile  string
	MaxRecords int

	// Runtime
	DryRun        bool
	LogLevel      string
	MaxLogSizeMB  int64
	MaxLogBackups int
}

// Load reads .env (if present) plus the process environment and returns the
// populated config. Missing broker credentials are fatal unless DRY_RUN is
// enabled.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: No .env file found, using system environment variables")
	}

	cfg := &Config{
		Strategy:       getEnv("COPIER_STRATEGY", "dual_tp"),
		MinConfidence:  getEnvAsFloat64("MIN_CONFIDENCE", 0.7),
		DefaultLotSize: getEnvAsDecimal("DEFAULT_LOT_SIZE", "0.01"),
		AllowedSymbols: splitList(os.Getenv("ALLOWED_SYMBOLS")),
		SymbolMap:      parseSymbolMap(os.Getenv("SYMBOL_MAP")),

		PendingTimeout:  getEnvAsSeconds("PENDING_SIGNAL_TIMEOUT_SECONDS", 0),
		TPVerifyTimeout: getEnvAsSeconds("TP_VERIFY_TIMEOUT_SECONDS", 300),
		EditWindow:      getEnvAsSeconds("EDIT_WINDOW_SECONDS", 1800),

		ReconnectMaxAttempts:  getEnvAsInt("RECONNECT_MAX_ATTEMPTS", 5),
		ReconnectInitialDelay: getEnvAsSeconds("RECONNECT_INITIAL_DELAY_SECONDS", 2),
		ReconnectMaxDelay:     getEnvAsSeconds("RECONNECT_MAX_DELAY_SECONDS", 300),
		KeepAliveInterval:     getEnvAsSeconds("KEEPALIVE_INTERVAL_SECONDS", 60),
		PingInterval:          getEnvAsSeconds("PING_INTERVAL_SECONDS", 30),

		StateFile:  getEnv("STATE_FILE", "copier_state.json"),
		MaxRecords: getEnvAsInt("MAX_RECORDS", 20),

		DryRun:        getEnvAsBool("DRY_RUN", false),
		LogLevel:      getEnv("COPIER_LOG_LEVEL", "INFO"),
		MaxLogSizeMB:  int64(getEnvAsInt("MAX_LOG_SIZE_MB", 10)),
		MaxLogBackups: getEnvAsInt("MAX_LOG_BACKUPS", 3),
	}

	if !cfg.DryRun {
		required := []string{"APCA_API_KEY_ID", "APCA_API_SECRET_KEY", "APCA_API_BASE_URL"}
		var missing []string
		for _, key := range required {
			if os.Getenv(key) == "" {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			log.Fatalf("CRITICAL: Missing required environment variables: %v", missing)
		}
	}

	return cfg
}

// IsSymbolAllowed reports whether signals for the symbol should be traded.
func (c *Config) IsSymbolAllowed(symbol string) bool {
	if len(c.AllowedSymbols) == 0 {
		return true
	}
	for _, s := range c.AllowedSymbols {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}

// BrokerSymbol maps a signal symbol to its broker-specific name.
func (c *Config) BrokerSymbol(symbol string) string {
	if mapped, ok := c.SymbolMap[symbol]; ok {
		return mapped
	}
	return symbol
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parseSymbolMap parses "XAUUSD=XAUUSDb,EURUSD=EURUSD.r" style mappings.
func parseSymbolMap(s string) map[string]string {
	m := make(map[string]string)
	for _, pair := range splitList(s) {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 && kv[0] != "" && kv[1] != "" {
			m[kv[0]] = kv[1]
		}
	}
	return m
}
