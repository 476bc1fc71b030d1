package interfaces

import (
	"time"

	"marketvalues/internal/types"
)

type OrderJournal interface {
	Append(e types.JournalEntry) error
}

type EodSummarizer interface {
	SummarizeDay(t time.Time) (csvPath string, err error)
	SummarizeToday() (csvPath string, err error)
	ShouldRunNow() (shouldRun bool, csvPath string)
}
