package ledger

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ExportJSON 导出全部内存记录为JSON
func (l *Ledger) ExportJSON(w io.Writer) error {
	records := l.All()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("export json: %w", err)
	}
	return nil
}

// ExportCSV 导出全部内存记录为CSV
func (l *Ledger) ExportCSV(w io.Writer) error {
	records := l.All()
	cw := csv.NewWriter(w)
	header := []string{"order_id", "time", "symbol", "side", "price", "amount", "cost", "fee", "profit", "source"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("export csv: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.OrderID,
			time.UnixMilli(r.Timestamp).UTC().Format(time.RFC3339),
			r.Symbol,
			r.Side,
			strconv.FormatFloat(r.Price, 'f', -1, 64),
			strconv.FormatFloat(r.Amount, 'f', -1, 64),
			strconv.FormatFloat(r.Cost, 'f', -1, 64),
			strconv.FormatFloat(r.Fee, 'f', -1, 64),
			strconv.FormatFloat(r.Profit, 'f', -1, 64),
			r.Source,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("export csv: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
