package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"quant_trading/internal/models"
)

// LoadBars reads a bar file with the columns
// symbol,timestamp,open,high,low,close,volume (header row required,
// timestamps in RFC3339). Rows come back sorted by timestamp then symbol.
func LoadBars(path string) ([]models.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("bar file %s has no data rows", path)
	}

	bars := make([]models.Bar, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) != 7 {
			return nil, fmt.Errorf("bar file %s row %d: expected 7 columns, got %d", path, i+2, len(rec))
		}
		ts, err := time.Parse(time.RFC3339, rec[1])
		if err != nil {
			return nil, fmt.Errorf("bar file %s row %d: %w", path, i+2, err)
		}
		vals := make([]float64, 5)
		for j, s := range rec[2:] {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("bar file %s row %d: %w", path, i+2, err)
			}
			vals[j] = v
		}
		bars = append(bars, models.Bar{
			Symbol:    rec[0],
			Timestamp: ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	sort.SliceStable(bars, func(i, j int) bool {
		if !bars[i].Timestamp.Equal(bars[j].Timestamp) {
			return bars[i].Timestamp.Before(bars[j].Timestamp)
		}
		return bars[i].Symbol < bars[j].Symbol
	})
	return bars, nil
}

// TradeWriter appends completed trades to a CSV file, writing the header
// only when it creates the file.
type TradeWriter struct {
	f *os.File
	w *csv.Writer
}

var tradeHeader = []string{"order_id", "timestamp", "symbol", "side", "quantity", "fill_price", "commission", "slippage_cost", "realized_pl", "reason"}

func NewTradeWriter(path string) (*TradeWriter, error) {
	f, fresh, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	tw := &TradeWriter{f: f, w: csv.NewWriter(f)}
	if fresh {
		if err := tw.w.Write(tradeHeader); err != nil {
			f.Close()
			return nil, err
		}
	}
	return tw, nil
}

func (tw *TradeWriter) Write(t models.Trade) error {
	return tw.w.Write([]string{
		t.OrderID,
		t.Timestamp.Format(time.RFC3339),
		t.Symbol,
		string(t.Side),
		formatFloat(t.Quantity),
		formatFloat(t.FillPrice),
		formatFloat(t.Commission),
		formatFloat(t.SlippageCost),
		formatFloat(t.RealizedPL),
		t.Reason,
	})
}

func (tw *TradeWriter) Close() error {
	tw.w.Flush()
	if err := tw.w.Error(); err != nil {
		tw.f.Close()
		return err
	}
	return tw.f.Close()
}

// EquityWriter appends per-step portfolio snapshots to a CSV file.
type EquityWriter struct {
	f *os.File
	w *csv.Writer
}

var equityHeader = []string{"timestamp", "equity", "cash", "peak_equity", "drawdown"}

func NewEquityWriter(path string) (*EquityWriter, error) {
	f, fresh, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	ew := &EquityWriter{f: f, w: csv.NewWriter(f)}
	if fresh {
		if err := ew.w.Write(equityHeader); err != nil {
			f.Close()
			return nil, err
		}
	}
	return ew, nil
}

func (ew *EquityWriter) Write(s models.PortfolioSnapshot) error {
	return ew.w.Write([]string{
		s.Timestamp.Format(time.RFC3339),
		formatFloat(s.Equity),
		formatFloat(s.Cash),
		formatFloat(s.PeakEquity),
		formatFloat(s.Drawdown),
	})
}

func (ew *EquityWriter) Close() error {
	ew.w.Flush()
	if err := ew.w.Error(); err != nil {
		ew.f.Close()
		return err
	}
	return ew.f.Close()
}

func openAppend(path string) (f *os.File, fresh bool, err error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, false, err
		}
	}
	info, statErr := os.Stat(path)
	fresh = statErr != nil || info.Size() == 0
	f, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, false, err
	}
	return f, fresh, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
