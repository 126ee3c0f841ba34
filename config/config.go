package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the immutable run configuration. It is loaded once, passed
// into the engine constructor and threaded through every component; there
// is no process-wide mutable state.
type Config struct {
	InitialCapital float64

	// Transaction cost model
	CommissionRate float64
	FixedFee       float64
	SlippageRate   float64
	LotStep        float64
	MinQty         float64

	// Risk limits
	MaxPositionSize float64
	StopLossPct     float64
	TakeProfitPct   float64
	MaxDrawdownPct  float64
	MaxVolatility   float64
	TargetReturn    float64
	RiskFreeRate    float64
	LongOnly        bool
	LeverageCap     float64
	VolDamping      bool // shrink target weights by 1/(1+vol)

	// Engine knobs
	ReturnLookback    int
	SolverMaxRetries  int
	LimitOrderTTLBars int

	// Inputs and outputs
	DataFile      string
	TradeLogPath  string
	EquityLogPath string
}

// Load reads .env (when present) then environment variables, falling back
// to the defaults of a plain daily-bar backtest.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	return &Config{
		InitialCapital: envFloat("INITIAL_CAPITAL", 100000),

		CommissionRate: envFloat("COMMISSION_RATE", 0.001),
		FixedFee:       envFloat("FIXED_FEE", 0),
		SlippageRate:   envFloat("SLIPPAGE_RATE", 0.001),
		LotStep:        envFloat("LOT_STEP", 1),
		MinQty:         envFloat("MIN_QTY", 1),

		MaxPositionSize: envFloat("MAX_POSITION_SIZE", 0.1),
		StopLossPct:     envFloat("STOP_LOSS_PCT", 0.02),
		TakeProfitPct:   envFloat("TAKE_PROFIT_PCT", 0.05),
		MaxDrawdownPct:  envFloat("MAX_DRAWDOWN_PCT", 0.25),
		MaxVolatility:   envFloat("MAX_VOLATILITY", 0),
		TargetReturn:    envFloat("TARGET_RETURN", 0),
		RiskFreeRate:    envFloat("RISK_FREE_RATE", 0.02),
		LongOnly:        envBool("LONG_ONLY", true),
		LeverageCap:     envFloat("LEVERAGE_CAP", 1.0),
		VolDamping:      envBool("VOL_DAMPING", false),

		ReturnLookback:    envInt("RETURN_LOOKBACK", 20),
		SolverMaxRetries:  envInt("SOLVER_MAX_RETRIES", 3),
		LimitOrderTTLBars: envInt("LIMIT_ORDER_TTL_BARS", 5),

		DataFile:      envString("DATA_FILE", "data/bars.csv"),
		TradeLogPath:  envString("TRADE_LOG_PATH", "output/trades.csv"),
		EquityLogPath: envString("EQUITY_LOG_PATH", "output/equity.csv"),
	}
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Printf("Warning: invalid %s=%q, using default %v", key, v, def)
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("Warning: invalid %s=%q, using default %v", key, v, def)
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		log.Printf("Warning: invalid %s=%q, using default %v", key, v, def)
	}
	return def
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
