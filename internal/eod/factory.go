package eod

import (
	"time"

	"marketvalues/internal/interfaces"
)

// NewSummarizer summarises the order journal kept in dir.
func NewSummarizer(dir string) interfaces.EodSummarizer {
	if dir == "" {
		dir = "logs"
	}
	return &eodSummarizer{dir: dir, now: istNow}
}

func newSummarizerAt(dir string, now func() time.Time) *eodSummarizer {
	return &eodSummarizer{dir: dir, now: now}
}
