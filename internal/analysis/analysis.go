// Package analysis computes descriptive statistics for /payload requests.
// Everything here is stateless and safe for concurrent use.
package analysis

import (
	"context"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/wudi/analyzer/internal/analysis"

// Input is a validated /payload body.
type Input struct {
	Numbers []float64 `json:"numbers"`
	Text    string    `json:"text"`
}

// Result is the /payload response body.
type Result struct {
	NumericAnalysis  NumericAnalysis `json:"numeric_analysis"`
	TextAnalysis     TextAnalysis    `json:"text_analysis"`
	ProcessingTimeMS float64         `json:"processing_time_ms"`
}

// Analyze runs the numeric and text analysis concurrently and joins them.
// A failure in either branch fails the whole analysis.
func Analyze(ctx context.Context, in Input) (Result, error) {
	start := time.Now()
	tracer := trace.SpanFromContext(ctx).TracerProvider().Tracer(tracerName)

	var (
		numeric NumericAnalysis
		text    TextAnalysis
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, span := tracer.Start(gctx, "analysis.numeric",
			trace.WithAttributes(attribute.Int("analysis.numbers.count", len(in.Numbers))))
		defer span.End()

		var err error
		numeric, err = Numeric(in.Numbers)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	})
	g.Go(func() error {
		_, span := tracer.Start(gctx, "analysis.text",
			trace.WithAttributes(attribute.Int("analysis.text.length", len(in.Text))))
		defer span.End()

		text = Text(in.Text)
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	return Result{
		NumericAnalysis:  numeric,
		TextAnalysis:     text,
		ProcessingTimeMS: roundMillis(time.Since(start)),
	}, nil
}

// roundMillis converts d to milliseconds rounded to two decimals.
func roundMillis(d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	return math.Round(ms*100) / 100
}
