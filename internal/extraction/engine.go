package extraction

import (
	"context"
	"time"

	"github.com/veridoc-ai/veridoc/internal/observability"
	"github.com/veridoc-ai/veridoc/internal/storage"
)

// Engine runs the extraction cascade: an ordered list of strategies, invoked
// in sequence until one produces text above its acceptance threshold.
type Engine struct {
	logger      *observability.Logger
	rasterizer  Rasterizer
	strategies  []Strategy
	callTimeout time.Duration
}

// EngineConfig holds cascade settings.
type EngineConfig struct {
	CallTimeout time.Duration
}

// NewEngine creates a cascade over the given strategies, tried in order.
func NewEngine(logger *observability.Logger, rasterizer Rasterizer, cfg EngineConfig, strategies ...Strategy) *Engine {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Engine{
		logger:      logger,
		rasterizer:  rasterizer,
		strategies:  strategies,
		callTimeout: timeout,
	}
}

// Extract runs the cascade over one document. A timeout or error in one
// strategy causes fallthrough to the next, never an abort of the whole
// cascade. Exhausting every applicable strategy returns a *FailureError.
func (e *Engine) Extract(ctx context.Context, in *Input) (*Result, error) {
	if in.Capture == storage.CaptureCamera && in.Format == storage.FormatImage {
		decoded, err := DecodeCameraCapture(in.Data)
		if err == nil {
			in.Data = decoded
		}
		// Undecodable captures fall through with the raw bytes; the OCR
		// strategies will produce their own diagnostics.
	}

	failure := &FailureError{}
	rasterized := false

	for _, strat := range e.strategies {
		// OCR strategies need pages; rasterize lazily, once.
		if !rasterized && needsPages(strat) {
			if err := e.rasterize(ctx, in); err != nil {
				e.logger.Warn().Err(err).Msg("Rasterization failed")
				failure.Attempts = append(failure.Attempts, AttemptDiagnostic{
					Strategy: "rasterize",
					Err:      err.Error(),
				})
			}
			rasterized = true
		}

		if !strat.Applicable(in) {
			continue
		}

		text, err := e.attempt(ctx, strat, in)
		if err != nil {
			e.logger.Warn().
				Str("strategy", strat.Name()).
				Err(err).
				Msg("Extraction strategy failed")
			failure.Attempts = append(failure.Attempts, AttemptDiagnostic{
				Strategy: strat.Name(),
				Err:      err.Error(),
			})
			continue
		}

		if len(text) >= strat.MinChars() {
			e.logger.Info().
				Str("strategy", strat.Name()).
				Int("chars", len(text)).
				Msg("Extraction accepted")
			return &Result{
				Text:      text,
				Strategy:  strat.Name(),
				CharCount: len(text),
			}, nil
		}

		e.logger.Debug().
			Str("strategy", strat.Name()).
			Int("chars", len(text)).
			Int("min", strat.MinChars()).
			Msg("Extraction below threshold")
		failure.Attempts = append(failure.Attempts, AttemptDiagnostic{
			Strategy: strat.Name(),
			Chars:    len(text),
		})
	}

	return nil, failure
}

// attempt bounds one strategy invocation with the call timeout.
func (e *Engine) attempt(ctx context.Context, strat Strategy, in *Input) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	return strat.Attempt(attemptCtx, in)
}

func (e *Engine) rasterize(ctx context.Context, in *Input) error {
	rasterCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	pages, err := e.rasterizer.Rasterize(rasterCtx, in)
	if err != nil {
		return err
	}
	in.Pages = pages
	return nil
}

func needsPages(s Strategy) bool {
	switch s.(type) {
	case *NativeText:
		return false
	default:
		return true
	}
}
