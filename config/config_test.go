package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.InitialCapital != 100000 {
		t.Errorf("InitialCapital = %v, want 100000", cfg.InitialCapital)
	}
	if cfg.CommissionRate != 0.001 {
		t.Errorf("CommissionRate = %v, want 0.001", cfg.CommissionRate)
	}
	if cfg.MaxDrawdownPct != 0.25 {
		t.Errorf("MaxDrawdownPct = %v, want 0.25", cfg.MaxDrawdownPct)
	}
	if !cfg.LongOnly {
		t.Error("LongOnly default should be true")
	}
	if cfg.ReturnLookback != 20 || cfg.SolverMaxRetries != 3 {
		t.Errorf("lookback/retries = %d/%d, want 20/3", cfg.ReturnLookback, cfg.SolverMaxRetries)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("INITIAL_CAPITAL", "50000")
	t.Setenv("LONG_ONLY", "false")
	t.Setenv("STOP_LOSS_PCT", "0.1")
	cfg := Load()
	if cfg.InitialCapital != 50000 {
		t.Errorf("InitialCapital = %v, want 50000", cfg.InitialCapital)
	}
	if cfg.LongOnly {
		t.Error("LONG_ONLY=false not applied")
	}
	if cfg.StopLossPct != 0.1 {
		t.Errorf("StopLossPct = %v, want 0.1", cfg.StopLossPct)
	}
}

func TestLoadIgnoresGarbage(t *testing.T) {
	t.Setenv("INITIAL_CAPITAL", "lots")
	cfg := Load()
	if cfg.InitialCapital != 100000 {
		t.Errorf("garbage value did not fall back: %v", cfg.InitialCapital)
	}
}
