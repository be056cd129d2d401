// Package supervisor runs one goroutine per active bot and reconciles them
// against the bot statuses persisted in the ledger.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mselser95/botledger/internal/exchange"
	"github.com/mselser95/botledger/internal/execution"
	"github.com/mselser95/botledger/internal/ledger"
	"github.com/mselser95/botledger/internal/strategy"
	"go.uber.org/zap"
)

// ErrStrategyTick wraps recoverable errors and panics raised by a strategy tick.
var ErrStrategyTick = errors.New("StrategyTickError") //nolint:gochecknoglobals // sentinel error

// finalizeTimeout bounds the status and session writes after a runner exits.
const finalizeTimeout = 10 * time.Second

// Store is the ledger surface used by runners and the supervisor.
type Store interface {
	execution.Ledger
	ListBots(ctx context.Context, filter ledger.ListBotsFilter) ([]ledger.Bot, error)
	SetBotStatus(ctx context.Context, id string, status ledger.BotStatus, message string) error
	TransitionBotStatus(ctx context.Context, id string, to ledger.BotStatus, from ...ledger.BotStatus) (*ledger.Bot, error)
	StartSession(ctx context.Context, botID string) (*ledger.Session, error)
	EndSession(ctx context.Context, botID string, status ledger.SessionStatus) (*ledger.Session, error)
}

// Task is a running bot as seen by the supervisor.
type Task interface {
	Run(ctx context.Context)
	// RequestStop starts a graceful stop. It never blocks.
	RequestStop()
	// Detach ends the task without liquidating or changing the bot status.
	Detach()
	Stopping() bool
	Done() <-chan struct{}
}

// RunnerConfig holds the timing of a runner.
type RunnerConfig struct {
	TickInterval      time.Duration
	StopCheckInterval time.Duration
	ErrorBackoff      time.Duration
	StopGrace         time.Duration
}

// Runner drives one bot through BOOTING, RUNNING, STOPPING and STOPPED.
type Runner struct {
	bot      ledger.Bot
	store    Store
	exchange exchange.Adapter
	cfg      RunnerConfig
	logger   *zap.Logger
	now      func() time.Time

	stopCh     chan struct{}
	stopOnce   sync.Once
	detachCh   chan struct{}
	detachOnce sync.Once
	done       chan struct{}
	stopping   atomic.Bool
}

// NewRunner creates a runner for bot.
func NewRunner(bot ledger.Bot, store Store, ex exchange.Adapter, cfg RunnerConfig, logger *zap.Logger) *Runner {
	return &Runner{
		bot:      bot,
		store:    store,
		exchange: ex,
		cfg:      cfg,
		logger: logger.With(
			zap.String("bot-id", bot.ID),
			zap.String("bot-name", bot.Name),
			zap.String("symbol", bot.Config.GlobalSettings.Symbol)),
		now:      time.Now,
		stopCh:   make(chan struct{}),
		detachCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// RequestStop asks the runner to stop after its in-flight tick.
func (r *Runner) RequestStop() {
	r.stopOnce.Do(func() {
		r.stopping.Store(true)
		close(r.stopCh)
	})
}

// Detach makes the runner exit without running the stop hook. The bot
// keeps its status so the next process resumes it.
func (r *Runner) Detach() {
	r.detachOnce.Do(func() {
		close(r.detachCh)
	})
}

// Stopping reports whether a stop was requested.
func (r *Runner) Stopping() bool {
	return r.stopping.Load()
}

// Done is closed when Run has returned.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

type exitReason int

const (
	exitNone exitReason = iota
	exitStop
	exitDetach
	exitCanceled
)

// Run boots the bot and ticks its strategy until stopped or detached.
func (r *Runner) Run(ctx context.Context) {
	defer close(r.done)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go r.enforceStopGrace(cancel)

	strat, tc, adapter, err := r.boot(runCtx)
	if errors.Is(err, ledger.ErrInvalidTransition) {
		r.logger.Info("bot-stop-requested-before-boot", zap.Error(err))
		r.finalize(ctx, ledger.BotStopped, "")
		return
	}
	if err != nil {
		r.logger.Error("bot-boot-failed", zap.Error(err))
		r.finalize(ctx, ledger.BotStopped, bootFailureMessage(err))
		return
	}

	if n := len(adapter.Unreconciled()); n > 0 {
		msg := fmt.Sprintf("%s: %d fills unreconciled during boot", execution.KindLedgerCommitFailed, n)
		r.logger.Error("bot-boot-unreconciled", zap.Bool("critical", true), zap.Int("count", n))
		r.finalize(ctx, ledger.BotStopped, msg)
		return
	}

	reason := r.checkExit(runCtx)
	if reason == exitNone {
		// a stop written while booting must win over RUNNING
		err = r.transitionStatus(runCtx, ledger.BotRunning, ledger.BotBooting)
		if errors.Is(err, ledger.ErrInvalidTransition) {
			r.logger.Info("bot-stop-requested-during-boot", zap.Error(err))
			r.RequestStop()
			reason = exitStop
		} else {
			if err != nil {
				r.logger.Warn("set-running-failed", zap.Error(err))
			}
			r.logger.Info("bot-running", zap.String("strategy", string(strat.Kind())))
			reason = r.loop(runCtx, strat, tc)
		}
	}

	switch reason {
	case exitStop:
		r.stop(ctx, runCtx, strat, tc)
	default:
		r.detach(ctx)
	}
}

func (r *Runner) boot(ctx context.Context) (strategy.Strategy, *strategy.TickContext, *execution.LedgerAdapter, error) {
	err := r.transitionStatus(ctx, ledger.BotBooting, ledger.BotStopped, ledger.BotBooting, ledger.BotRunning)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("set booting: %w", err)
	}

	session, err := r.store.StartSession(ctx, r.bot.ID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("start session: %w", err)
	}

	strat, err := strategy.New(&r.bot)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build strategy: %w", err)
	}

	adapter := execution.NewLedgerAdapter(&execution.Config{
		Exchange:   r.exchange,
		Ledger:     r.store,
		BotID:      r.bot.ID,
		SessionID:  session.ID,
		AccountRef: r.bot.Config.AccountRef(),
		Logger:     r.logger,
	})

	tc := &strategy.TickContext{
		Trader: adapter,
		Bot:    &r.bot,
		Logger: r.logger.With(zap.String("strategy", string(strat.Kind()))),
		Now:    r.now,
	}

	r.logger.Info("bot-booting",
		zap.String("session-id", session.ID),
		zap.String("strategy", string(strat.Kind())))

	err = r.tick(ctx, strat, tc)
	if err != nil {
		return nil, nil, nil, err
	}

	return strat, tc, adapter, nil
}

// bootFailureMessage formats err as "<Kind>: <detail>" for the bot status.
func bootFailureMessage(err error) string {
	var execErr *execution.Error
	if errors.As(err, &execErr) {
		return execErr.Error()
	}
	if errors.Is(err, ErrStrategyTick) {
		return err.Error()
	}
	return "BootFailed: " + err.Error()
}

// loop ticks on TickInterval, polling for stop every StopCheckInterval.
func (r *Runner) loop(ctx context.Context, strat strategy.Strategy, tc *strategy.TickContext) exitReason {
	for {
		reason := r.wait(ctx, r.cfg.TickInterval)
		if reason != exitNone {
			return reason
		}

		err := r.tick(ctx, strat, tc)
		if err == nil {
			continue
		}

		TickErrorsTotal.Inc()
		r.logger.Warn("strategy-tick-failed", zap.Error(err))

		// commit protocol failures already carry their own status message
		var execErr *execution.Error
		if !errors.As(err, &execErr) {
			msgErr := r.store.SetBotStatusMessage(ctx, r.bot.ID, err.Error())
			if msgErr != nil {
				r.logger.Warn("status-message-update-failed", zap.Error(msgErr))
			}
		}

		reason = r.wait(ctx, r.cfg.ErrorBackoff)
		if reason != exitNone {
			return reason
		}
	}
}

func (r *Runner) tick(ctx context.Context, strat strategy.Strategy, tc *strategy.TickContext) (err error) {
	start := time.Now()
	defer func() {
		TickDurationSeconds.Observe(time.Since(start).Seconds())
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", ErrStrategyTick, p)
		}
	}()

	err = strat.Execute(ctx, tc)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStrategyTick, err)
	}
	return nil
}

// wait sleeps d in StopCheckInterval steps, returning early on stop,
// detach or cancellation.
func (r *Runner) wait(ctx context.Context, d time.Duration) exitReason {
	step := r.cfg.StopCheckInterval
	if step <= 0 || step > d {
		step = d
	}

	deadline := time.Now().Add(d)
	for {
		reason := r.checkExit(ctx)
		if reason != exitNone {
			return reason
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return exitNone
		}

		timer := time.NewTimer(min(step, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-r.stopCh:
			timer.Stop()
		case <-r.detachCh:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (r *Runner) checkExit(ctx context.Context) exitReason {
	select {
	case <-r.stopCh:
		return exitStop
	default:
	}
	select {
	case <-r.detachCh:
		return exitDetach
	default:
	}
	if ctx.Err() != nil {
		return exitCanceled
	}
	return exitNone
}

// enforceStopGrace cancels the run context when a stop takes longer than StopGrace.
func (r *Runner) enforceStopGrace(cancel context.CancelFunc) {
	select {
	case <-r.done:
		return
	case <-r.stopCh:
	}

	timer := time.NewTimer(r.cfg.StopGrace)
	defer timer.Stop()

	select {
	case <-r.done:
	case <-timer.C:
		r.logger.Error("stop-grace-exceeded",
			zap.Duration("grace", r.cfg.StopGrace))
		cancel()
	}
}

// stop runs the stop hook and always ends in STOPPED.
func (r *Runner) stop(parent, runCtx context.Context, strat strategy.Strategy, tc *strategy.TickContext) {
	err := r.setStatus(runCtx, ledger.BotStopping, "")
	if err != nil {
		r.logger.Warn("set-stopping-failed", zap.Error(err))
	}

	r.logger.Info("bot-stopping")

	message := ""
	err = r.onStop(runCtx, strat, tc)
	if err != nil {
		message = err.Error()
		fields := []zap.Field{zap.Error(err)}
		if errors.Is(err, strategy.ErrLiquidationExhausted) {
			fields = append(fields, zap.Bool("critical", true))
		}
		r.logger.Error("stop-hook-failed", fields...)
	}

	r.finalize(parent, ledger.BotStopped, message)
}

func (r *Runner) onStop(ctx context.Context, strat strategy.Strategy, tc *strategy.TickContext) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("stop hook panic: %v", p)
		}
	}()
	return strat.OnStop(ctx, tc)
}

// detach closes the session and leaves the bot status for the next process.
func (r *Runner) detach(parent context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), finalizeTimeout)
	defer cancel()

	_, err := r.store.EndSession(ctx, r.bot.ID, ledger.SessionEnded)
	if err != nil {
		r.logger.Warn("end-session-failed", zap.Error(err))
	}
	r.logger.Info("bot-detached")
}

// finalize writes the terminal status and ends the session on a context
// that survives cancellation of the run.
func (r *Runner) finalize(parent context.Context, status ledger.BotStatus, message string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), finalizeTimeout)
	defer cancel()

	err := r.setStatus(ctx, status, message)
	if err != nil {
		r.logger.Error("set-final-status-failed", zap.String("status", string(status)), zap.Error(err))
	}

	session, err := r.store.EndSession(ctx, r.bot.ID, ledger.SessionEnded)
	if err != nil {
		r.logger.Error("end-session-failed", zap.Error(err))
	}

	fields := []zap.Field{zap.String("status", string(status)), zap.String("message", message)}
	if session != nil {
		fields = append(fields,
			zap.String("session-id", session.ID),
			zap.String("total-pnl", session.Summary.TotalPnL.String()))
	}
	r.logger.Info("bot-stopped", fields...)
}

func (r *Runner) setStatus(ctx context.Context, status ledger.BotStatus, message string) error {
	err := r.store.SetBotStatus(ctx, r.bot.ID, status, message)
	if err != nil {
		return err
	}
	StateTransitionsTotal.WithLabelValues(string(status)).Inc()
	return nil
}

// transitionStatus moves the bot to to only from one of from, so a
// concurrent STOPPING written by the API is never overwritten.
func (r *Runner) transitionStatus(ctx context.Context, to ledger.BotStatus, from ...ledger.BotStatus) error {
	_, err := r.store.TransitionBotStatus(ctx, r.bot.ID, to, from...)
	if err != nil {
		return err
	}
	StateTransitionsTotal.WithLabelValues(string(to)).Inc()
	return nil
}
