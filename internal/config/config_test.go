package config

import (
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

func TestLoadConfig_Defaults(t *testing.T) {
	// DRY_RUN bypasses the broker credential check
	os.Setenv("DRY_RUN", "true")
	defer os.Unsetenv("DRY_RUN")

	optionals := []string{
		"COPIER_STRATEGY",
		"MIN_CONFIDENCE",
		"PENDING_SIGNAL_TIMEOUT_SECONDS",
		"TP_VERIFY_TIMEOUT_SECONDS",
		"EDIT_WINDOW_SECONDS",
		"RECONNECT_MAX_ATTEMPTS",
		"MAX_RECORDS",
	}
	for _, k := range optionals {
		os.Unsetenv(k)
	}

	cfg := Load()

	if cfg.Strategy != "dual_tp" {
		t.Errorf("Expected Strategy 'dual_tp', got '%s'", cfg.Strategy)
	}
	if cfg.MinConfidence != 0.7 {
		t.Errorf("Expected MinConfidence 0.7, got %f", cfg.MinConfidence)
	}
	if cfg.PendingTimeout != 0 {
		t.Errorf("Expected PendingTimeout disabled (0), got %v", cfg.PendingTimeout)
	}
	if cfg.TPVerifyTimeout != 5*time.Minute {
		t.Errorf("Expected TPVerifyTimeout 5m, got %v", cfg.TPVerifyTimeout)
	}
	if cfg.EditWindow != 30*time.Minute {
		t.Errorf("Expected EditWindow 30m, got %v", cfg.EditWindow)
	}
	if cfg.ReconnectMaxAttempts != 5 {
		t.Errorf("Expected ReconnectMaxAttempts 5, got %d", cfg.ReconnectMaxAttempts)
	}
	if cfg.MaxRecords != 20 {
		t.Errorf("Expected MaxRecords 20, got %d", cfg.MaxRecords)
	}
	if !cfg.DefaultLotSize.Equal(mustDecimal(t, "0.01")) {
		t.Errorf("Expected DefaultLotSize 0.01, got %s", cfg.DefaultLotSize)
	}
}

func TestSymbolMapping(t *testing.T) {
	os.Setenv("DRY_RUN", "true")
	os.Setenv("ALLOWED_SYMBOLS", "XAUUSD, EURUSD")
	os.Setenv("SYMBOL_MAP", "XAUUSD=XAUUSDb")
	defer func() {
		os.Unsetenv("DRY_RUN")
		os.Unsetenv("ALLOWED_SYMBOLS")
		os.Unsetenv("SYMBOL_MAP")
	}()

	cfg := Load()

	if !cfg.IsSymbolAllowed("XAUUSD") {
		t.Error("XAUUSD should be allowed")
	}
	if !cfg.IsSymbolAllowed("EURUSD") {
		t.Error("EURUSD should be allowed (trimmed)")
	}
	if cfg.IsSymbolAllowed("GBPUSD") {
		t.Error("GBPUSD should not be allowed")
	}
	if got := cfg.BrokerSymbol("XAUUSD"); got != "XAUUSDb" {
		t.Errorf("Expected broker symbol XAUUSDb, got %s", got)
	}
	if got := cfg.BrokerSymbol("EURUSD"); got != "EURUSD" {
		t.Errorf("Unmapped symbol should pass through, got %s", got)
	}
}
