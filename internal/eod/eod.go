package eod

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"marketvalues/internal/types"
)

type eodSummarizer struct {
	dir string
	now func() time.Time
}

// SummarizeDay writes the CSV summary for the journal day of t. It returns
// an empty path and no error when nothing was journaled that day.
func (s *eodSummarizer) SummarizeDay(t time.Time) (string, error) {
	inPath := s.journalFile(t)
	if _, err := os.Stat(inPath); err != nil {
		return "", nil
	}
	f, err := os.Open(inPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	aggs := map[string]*aggRow{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e types.JournalEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		row := aggs[e.Symbol]
		if row == nil {
			row = &aggRow{Symbol: e.Symbol}
			aggs[e.Symbol] = row
		}
		if e.Status != types.StatusSuccess {
			row.Rejected++
			continue
		}
		row.Placed++
		if e.Closing {
			row.Closing++
		}
		switch types.TransactionType(e.Side) {
		case types.Buy:
			row.BuyQty += e.Qty
			row.BuyValue += float64(e.Qty) * e.Price
		case types.Sell:
			row.SellQty += e.Qty
			row.SellValue += float64(e.Qty) * e.Price
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	if len(aggs) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(aggs))
	for k := range aggs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	outPath := s.csvPath(t)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	w := csv.NewWriter(out)
	headers := []string{"symbol", "placed", "rejected", "closing", "buy_qty", "sell_qty", "gross_buy_value", "gross_sell_value"}
	if err := w.Write(headers); err != nil {
		return "", err
	}
	var total aggRow
	for _, k := range keys {
		r := aggs[k]
		rec := []string{r.Symbol,
			strconv.Itoa(r.Placed), strconv.Itoa(r.Rejected), strconv.Itoa(r.Closing),
			strconv.Itoa(r.BuyQty), strconv.Itoa(r.SellQty),
			fmt.Sprintf("%.2f", r.BuyValue), fmt.Sprintf("%.2f", r.SellValue)}
		if err := w.Write(rec); err != nil {
			return "", err
		}
		total.Placed += r.Placed
		total.Rejected += r.Rejected
		total.Closing += r.Closing
		total.BuyValue += r.BuyValue
		total.SellValue += r.SellValue
	}
	_ = w.Write([]string{"TOTAL", strconv.Itoa(total.Placed), strconv.Itoa(total.Rejected), strconv.Itoa(total.Closing),
		"", "", fmt.Sprintf("%.2f", total.BuyValue), fmt.Sprintf("%.2f", total.SellValue)})
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return outPath, nil
}

func (s *eodSummarizer) SummarizeToday() (string, error) {
	return s.SummarizeDay(s.now())
}

// ShouldRunNow is true after market close when today's CSV is not written yet.
func (s *eodSummarizer) ShouldRunNow() (bool, string) {
	now := s.now()
	outPath := s.csvPath(now)
	if now.After(marketCloseTime(now)) {
		if _, err := os.Stat(outPath); errors.Is(err, os.ErrNotExist) {
			return true, outPath
		}
	}
	return false, outPath
}
