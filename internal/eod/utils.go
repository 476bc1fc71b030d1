package eod

import (
	"path/filepath"
	"time"

	"marketvalues/internal/tradelog"
)

func istNow() time.Time {
	return time.Now().In(tradelog.IST)
}

func (s *eodSummarizer) journalFile(t time.Time) string {
	return filepath.Join(s.dir, t.In(tradelog.IST).Format("2006-01-02")+".txt")
}

func (s *eodSummarizer) csvPath(t time.Time) string {
	return filepath.Join(s.dir, "eod", t.In(tradelog.IST).Format("2006-01-02")+".csv")
}

// marketCloseTime is 15:40 IST, after the closing session settles.
func marketCloseTime(t time.Time) time.Time {
	t = t.In(tradelog.IST)
	return time.Date(t.Year(), t.Month(), t.Day(), 15, 40, 0, 0, tradelog.IST)
}
