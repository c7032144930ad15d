package engine

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"quantbot/types"

	"github.com/pkg/errors"
)

// writeCSVFile creates path and hands it to write.
func writeCSVFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create report dir")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create report file")
	}

	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close report file")
	}
	return nil
}

// writeTradesCSV writes one row per fill.
func writeTradesCSV(w io.Writer, fills []types.Fill) error {
	cw := csv.NewWriter(w)

	header := []string{
		"order_id",
		"symbol",
		"side",
		"type",
		"qty",
		"fill_price",
		"commission",
		"cash_delta",
		"tag",
		"time", // RFC3339
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, f := range fills {
		record := []string{
			f.Order.ID,
			f.Order.Symbol,
			string(f.Order.Side),
			string(f.Order.Type()),
			strconv.FormatInt(f.Order.Quantity, 10),
			f.Price.String(),
			f.Commission.String(),
			f.CashDelta().String(),
			f.Order.Tag,
			f.Time.Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// writeEquityCSV writes the equity curve with its drawdown series.
func writeEquityCSV(w io.Writer, equity []types.EquityPoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "equity", "drawdown"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	dd := Drawdowns(equityValues(equity))
	for i, e := range equity {
		record := []string{
			e.Time.Format(time.RFC3339),
			e.Equity.String(),
			strconv.FormatFloat(dd[i], 'f', 6, 64),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
