// Package marketdata provides price history and live trade collaborators:
// CSV files on disk, the Alpaca REST latest-trade endpoint and the Alpaca
// trade websocket.
package marketdata

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"quantbot/types"

	pkgerrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrMissingCredentials = errors.New("marketdata: missing API credentials")
	ErrMissingColumn      = errors.New("marketdata: csv missing required column")
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// CSVStore reads <dir>/<SYMBOL>.csv files with a date/timestamp column and
// open, high, low, close and optional volume columns.
type CSVStore struct {
	dir string
}

func NewCSVStore(dir string) *CSVStore {
	return &CSVStore{dir: dir}
}

// History returns the candles with start <= timestamp < end, sorted
// ascending. A zero start or end leaves that side open.
func (s *CSVStore) History(ctx context.Context, symbol string, interval types.Interval, start, end time.Time) ([]types.Candle, error) {
	path := filepath.Join(s.dir, strings.ToUpper(symbol)+".csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "open history %s", symbol)
	}
	defer f.Close()

	candles, err := ParseCSV(f, symbol, interval)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "parse %s", path)
	}

	out := candles[:0]
	for _, c := range candles {
		if !start.IsZero() && c.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && !c.Timestamp.Before(end) {
			continue
		}
		out = append(out, c)
	}
	types.SortCandles(out)
	return out, ctx.Err()
}

// ParseCSV decodes OHLCV rows. Blank or NaN volume is unknown.
func ParseCSV(r io.Reader, symbol string, interval types.Interval) ([]types.Candle, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	tsCol, ok := firstColumn(cols, "timestamp", "date", "datetime", "time")
	if !ok {
		return nil, pkgerrors.Wrap(ErrMissingColumn, "timestamp")
	}
	idx := make(map[string]int, 4)
	for _, name := range []string{"open", "high", "low", "close"} {
		i, ok := cols[name]
		if !ok {
			return nil, pkgerrors.Wrap(ErrMissingColumn, name)
		}
		idx[name] = i
	}
	volCol, hasVol := cols["volume"]

	var candles []types.Candle
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		ts, err := parseTime(rec[tsCol])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		c := types.Candle{Ticker: symbol, Interval: interval, Timestamp: ts}
		fields := []*decimal.Decimal{&c.Open, &c.High, &c.Low, &c.Close}
		for i, name := range []string{"open", "high", "low", "close"} {
			v, err := decimal.NewFromString(strings.TrimSpace(rec[idx[name]]))
			if err != nil {
				return nil, fmt.Errorf("line %d %s: %w", line, name, err)
			}
			*fields[i] = v
		}
		if hasVol {
			raw := strings.TrimSpace(rec[volCol])
			if raw != "" && !strings.EqualFold(raw, "nan") {
				v, err := decimal.NewFromString(raw)
				if err != nil {
					return nil, fmt.Errorf("line %d volume: %w", line, err)
				}
				c.Volume = decimal.NewNullDecimal(v)
			}
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func firstColumn(cols map[string]int, names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := cols[n]; ok {
			return i, true
		}
	}
	return 0, false
}

func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}
