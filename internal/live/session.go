// Package live runs a Simulator against a live feed on a background
// goroutine and exposes its state to a control surface.
package live

import (
	"context"
	"sync"
	"time"

	"quantbot/internal/engine"
	"quantbot/internal/notify"
	"quantbot/internal/ring"
	"quantbot/types"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultRecentFills = 50

var ErrAlreadyRunning = errors.New("live session already running")

type Config struct {
	Symbol      string
	RecentFills int
}

// Status is a point-in-time snapshot of a session.
type Status struct {
	Running     bool
	Symbol      string
	LastPrice   decimal.Decimal
	LastTime    time.Time
	Position    types.Position
	Cash        decimal.Decimal
	Equity      decimal.Decimal
	Iterations  int
	Errors      int
	RecentFills []types.Fill
	LastError   string
}

// Portfolio returns the account as a view for equity marking.
func (s Status) Portfolio() types.PortfolioView {
	positions := map[string]types.Position{}
	if !s.Position.IsFlat() {
		positions[s.Position.Symbol] = s.Position
	}
	return types.PortfolioView{Cash: s.Cash, Positions: positions, Time: s.LastTime}
}

type runner interface {
	Run(ctx context.Context, src engine.Source, observers ...engine.Observer) error
}

// Session owns one simulator and its source. Start and Stop may be called
// from any goroutine.
type Session struct {
	cfg      Config
	sim      runner
	src      engine.Source
	notifier notify.Notifier
	logger   *zap.Logger

	mu     sync.Mutex
	status Status
	fills  *ring.Buffer[types.Fill]
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSession(cfg Config, sim *engine.Simulator, src engine.Source, notifier notify.Notifier, logger *zap.Logger) *Session {
	return newSession(cfg, sim, src, notifier, logger)
}

func newSession(cfg Config, sim runner, src engine.Source, notifier notify.Notifier, logger *zap.Logger) *Session {
	if cfg.RecentFills <= 0 {
		cfg.RecentFills = defaultRecentFills
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.NewLog(logger)
	}
	return &Session{
		cfg:      cfg,
		sim:      sim,
		src:      src,
		notifier: notifier,
		logger:   logger.With(zap.String("symbol", cfg.Symbol)),
		status:   Status{Symbol: cfg.Symbol},
		fills:    ring.New[types.Fill](cfg.RecentFills),
	}
}

// Start launches the trading loop. The loop stops when ctx is done, Stop
// is called or the source is exhausted.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status.Running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.status.Running = true
	s.status.LastError = ""
	go s.run(runCtx, s.done)
	s.mu.Unlock()

	s.logger.Info("live session started")
	s.notifier.Sendf("quantbot live session started for %s", s.cfg.Symbol)
	return nil
}

func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	err := s.sim.Run(ctx, s.src, s.observe)

	s.mu.Lock()
	s.status.Running = false
	if err != nil && !errors.Is(err, context.Canceled) {
		s.status.LastError = err.Error()
	}
	s.cancel()
	s.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("live session ended", zap.Error(err))
		s.notifier.Sendf("quantbot live session for %s ended: %v", s.cfg.Symbol, err)
		return
	}
	s.logger.Info("live session stopped")
	s.notifier.Sendf("quantbot live session for %s stopped", s.cfg.Symbol)
}

// Stop asks the loop to finish. A submission already in flight completes.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Wait blocks until the current loop, if any, has exited.
func (s *Session) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.RecentFills = s.fills.Values()
	return st
}

func (s *Session) observe(res engine.StepResult) {
	s.mu.Lock()
	s.status.Iterations++
	if res.Err != nil {
		s.status.Errors++
		s.status.LastError = res.Err.Error()
		s.mu.Unlock()
		return
	}
	s.status.LastPrice = res.Observation.Price
	s.status.LastTime = res.Observation.Time
	s.status.Position = res.Position
	s.status.Cash = res.Cash
	s.status.Equity = res.Equity
	if res.Fill != nil {
		s.fills.Push(*res.Fill)
	}
	s.mu.Unlock()

	if res.Fill != nil {
		f := res.Fill
		s.notifier.Sendf("%s %s %d %s @ %s (%s)",
			f.Order.Tag, f.Order.Side, f.Order.Quantity, f.Order.Symbol, f.Price.StringFixed(2), res.Action)
	}
}
