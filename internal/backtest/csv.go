package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"forexbot/internal/market"
)

// LoadCSV reads a candle history for one instrument. Expected columns:
// time,open,high,low,close[,volume] with an optional header row. Time
// is RFC3339 or unix seconds. Rows must be oldest first.
func LoadCSV(path, instrument string, interval time.Duration) ([]market.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	candles, err := parseCSV(f, instrument, interval)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return candles, nil
}

func parseCSV(r io.Reader, instrument string, interval time.Duration) ([]market.Candle, error) {
	instrument = market.NormalizeID(instrument)
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	var out []market.Candle
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if line == 1 && isHeader(record) {
			continue
		}
		if len(record) < 5 {
			return nil, fmt.Errorf("line %d: want at least 5 columns, got %d", line, len(record))
		}
		closeTime, err := parseTime(record[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		vals := make([]float64, 4)
		for i := 0; i < 4; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: %w", line, i+2, err)
			}
			vals[i] = v
		}
		c := market.Candle{
			Instrument: instrument,
			OpenTime:   closeTime.Add(-interval).UnixMilli(),
			CloseTime:  closeTime.UnixMilli(),
			Open:       vals[0],
			High:       vals[1],
			Low:        vals[2],
			Close:      vals[3],
		}
		if len(record) > 5 {
			if v, err := strconv.ParseFloat(strings.TrimSpace(record[5]), 64); err == nil {
				c.Volume = v
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func isHeader(record []string) bool {
	if len(record) == 0 {
		return false
	}
	head := strings.ToLower(strings.TrimSpace(record[0]))
	return head == "time" || head == "timestamp" || head == "date"
}

func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if ts > 1e12 {
			return time.UnixMilli(ts).UTC(), nil
		}
		return time.Unix(ts, 0).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", raw)
}
