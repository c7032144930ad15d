package engine

import (
	"context"
	"io"

	"quantbot/internal/telemetry"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// Run drives the simulator from src until the source is exhausted or ctx
// is cancelled. In backtest mode the first error aborts the run. In live
// mode errors are logged, reported to observers and the loop moves on to
// the next observation.
func (s *Simulator) Run(ctx context.Context, src Source, observers ...Observer) error {
	var bar *progressbar.ProgressBar
	if s.cfg.ShowProgress {
		if sized, ok := src.(interface{ Len() int }); ok {
			bar = initProgressBar(sized.Len())
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		obs, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			if bar != nil {
				_ = bar.Finish()
			}
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if s.cfg.Mode == ModeBacktest {
				return errors.Wrap(err, "read observation")
			}
			s.loopError(err, StepResult{Observation: obs}, observers)
			continue
		}

		res, err := s.Step(ctx, obs)
		if err != nil {
			if s.cfg.Mode == ModeBacktest {
				return err
			}
			s.loopError(err, res, observers)
			continue
		}

		for _, o := range observers {
			o(res)
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
}

func (s *Simulator) loopError(err error, res StepResult, observers []Observer) {
	s.logger.Error("live iteration abandoned",
		zap.Error(err),
		zap.Time("ts", res.Observation.Time),
	)
	telemetry.LoopErrorsTotal.WithLabelValues(s.cfg.Symbol).Inc()
	res.Err = err
	for _, o := range observers {
		o(res)
	}
}

func initProgressBar(maxTicks int) *progressbar.ProgressBar {
	return progressbar.NewOptions(maxTicks,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetDescription("Backtesting in progress..."),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))
}
