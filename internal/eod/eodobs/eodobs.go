package eodobs

import (
	"context"
	"time"

	"marketvalues/internal/interfaces"
	"marketvalues/internal/logger"
	"marketvalues/internal/trace"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type observableEodSummarizer struct {
	summarizer interfaces.EodSummarizer
}

var _ interfaces.EodSummarizer = (*observableEodSummarizer)(nil)

func Wrap(summarizer interfaces.EodSummarizer) interfaces.EodSummarizer {
	return &observableEodSummarizer{summarizer: summarizer}
}

func (o *observableEodSummarizer) SummarizeDay(t time.Time) (string, error) {
	ctx, span := trace.StartSpan(context.Background(), "eod.SummarizeDay")
	defer span.End()
	return o.report(ctx, span, t.Format("2006-01-02"), func() (string, error) { return o.summarizer.SummarizeDay(t) })
}

func (o *observableEodSummarizer) SummarizeToday() (string, error) {
	ctx, span := trace.StartSpan(context.Background(), "eod.SummarizeToday")
	defer span.End()
	return o.report(ctx, span, time.Now().Format("2006-01-02"), o.summarizer.SummarizeToday)
}

// report runs one journal summary and records where the CSV landed.
func (o *observableEodSummarizer) report(ctx context.Context, span oteltrace.Span, day string, run func() (string, error)) (string, error) {
	span.SetAttributes(attribute.String("journal.date", day))
	csvPath, err := run()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "summary failed")
		logger.ErrorWithErrSkip(ctx, 2, "Order journal summary failed", err, "date", day)
		return "", err
	}
	if csvPath == "" {
		logger.InfoSkip(ctx, 2, "No journaled orders to summarise", "date", day)
		return "", nil
	}
	span.SetAttributes(attribute.String("journal.csv_path", csvPath))
	logger.InfoSkip(ctx, 2, "Order journal summary written", "date", day, "csv_path", csvPath)
	return csvPath, nil
}

func (o *observableEodSummarizer) ShouldRunNow() (bool, string) {
	ctx, span := trace.StartSpan(context.Background(), "eod.ShouldRunNow")
	defer span.End()

	shouldRun, csvPath := o.summarizer.ShouldRunNow()
	if shouldRun {
		logger.InfoSkip(ctx, 1, "Journal summary due", "csv_path", csvPath)
	} else {
		logger.DebugSkip(ctx, 1, "Journal summary not due", "csv_path", csvPath)
	}
	return shouldRun, csvPath
}
