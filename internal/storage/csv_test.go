package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"quant_trading/internal/models"
)

func TestLoadBarsParsesAndSorts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.csv")
	data := "symbol,timestamp,open,high,low,close,volume\n" +
		"MSFT,2024-01-03T00:00:00Z,300,305,298,302,5000\n" +
		"AAPL,2024-01-02T00:00:00Z,100,102,99,101,10000\n" +
		"AAPL,2024-01-03T00:00:00Z,101,103,100,102,12000\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	bars, err := LoadBars(path)
	if err != nil {
		t.Fatalf("LoadBars: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("bars = %d, want 3", len(bars))
	}
	if bars[0].Symbol != "AAPL" || !bars[0].Timestamp.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("first bar = %+v, want earliest AAPL", bars[0])
	}
	// Same timestamp sorts by symbol.
	if bars[1].Symbol != "AAPL" || bars[2].Symbol != "MSFT" {
		t.Errorf("tie order: %s then %s, want AAPL then MSFT", bars[1].Symbol, bars[2].Symbol)
	}
	if bars[0].Close != 101 || bars[0].Volume != 10000 {
		t.Errorf("bar fields: %+v", bars[0])
	}
}

func TestLoadBarsRejectsMalformedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	data := "symbol,timestamp,open,high,low,close,volume\n" +
		"AAPL,not-a-time,1,1,1,1,1\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadBars(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestTradeWriterAppendsWithSingleHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	trade := models.Trade{
		OrderID: "ORD-00000001", Symbol: "AAPL", Side: models.SideBuy,
		Quantity: 10, FillPrice: 100.5, Commission: 1.005,
		Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Reason:    "REBALANCE",
	}

	for i := 0; i < 2; i++ {
		tw, err := NewTradeWriter(path)
		if err != nil {
			t.Fatalf("NewTradeWriter: %v", err)
		}
		if err := tw.Write(trade); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := tw.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want header plus two rows:\n%s", len(lines), raw)
	}
	if !strings.HasPrefix(lines[0], "order_id,") {
		t.Errorf("missing header: %q", lines[0])
	}
	if strings.HasPrefix(lines[1], "order_id,") || strings.HasPrefix(lines[2], "order_id,") {
		t.Error("header repeated on append")
	}
	if !strings.Contains(lines[1], "ORD-00000001") || !strings.Contains(lines[1], "REBALANCE") {
		t.Errorf("row content: %q", lines[1])
	}
}

func TestEquityWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "equity.csv")
	ew, err := NewEquityWriter(path)
	if err != nil {
		t.Fatalf("NewEquityWriter: %v", err)
	}
	snap := models.PortfolioSnapshot{
		Timestamp:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Equity:     100500.25,
		Cash:       75000,
		PeakEquity: 101000,
		Drawdown:   0.0049,
	}
	if err := ew.Write(snap); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := ew.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "100500.25") {
		t.Errorf("equity value not written:\n%s", raw)
	}
}
