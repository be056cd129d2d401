package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/mselser95/botledger/internal/ledger"
	"go.uber.org/zap"
)

// orphanStoppingMessage is written when a bot is found STOPPING with no task.
const orphanStoppingMessage = "Recovered: bot was STOPPING with no running task"

// Registry is the bot-status surface the supervisor reconciles against.
type Registry interface {
	ListBots(ctx context.Context, filter ledger.ListBotsFilter) ([]ledger.Bot, error)
	SetBotStatus(ctx context.Context, id string, status ledger.BotStatus, message string) error
}

// RunnerFactory builds the task for one bot.
type RunnerFactory func(bot ledger.Bot) Task

// Config holds supervisor configuration.
type Config struct {
	Registry        Registry
	Factory         RunnerFactory
	Interval        time.Duration
	ShutdownTimeout time.Duration
	Logger          *zap.Logger

	// OnFirstReconcile is called once after the first successful pass.
	OnFirstReconcile func()
}

// Supervisor owns the bot task registry. Only the goroutine calling Run
// (or Reconcile directly) touches the registry.
type Supervisor struct {
	registry        Registry
	factory         RunnerFactory
	interval        time.Duration
	shutdownTimeout time.Duration
	logger          *zap.Logger
	onFirst         func()
	reconciled      bool

	tasks   map[string]Task
	taskCtx context.Context
}

// New creates a new supervisor.
func New(cfg *Config) *Supervisor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	shutdown := cfg.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 30 * time.Second
	}

	return &Supervisor{
		registry:        cfg.Registry,
		factory:         cfg.Factory,
		interval:        interval,
		shutdownTimeout: shutdown,
		logger:          cfg.Logger,
		onFirst:         cfg.OnFirstReconcile,
		tasks:           make(map[string]Task),
		taskCtx:         context.Background(),
	}
}

// Run reconciles every Interval until ctx is cancelled, then detaches all
// tasks and waits up to ShutdownTimeout for them to exit.
func (s *Supervisor) Run(ctx context.Context) {
	taskCtx, cancelTasks := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelTasks()
	s.taskCtx = taskCtx

	s.logger.Info("supervisor-started", zap.Duration("interval", s.interval))

	s.reconcileAndLog(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown(cancelTasks)
			return
		case <-ticker.C:
			s.reconcileAndLog(ctx)
		}
	}
}

func (s *Supervisor) reconcileAndLog(ctx context.Context) {
	err := s.Reconcile(ctx)
	if err != nil {
		ReconcileErrorsTotal.Inc()
		s.logger.Error("reconcile-failed", zap.Error(err))
	}
}

// Reconcile applies one pass of the reconciliation rules.
func (s *Supervisor) Reconcile(ctx context.Context) error {
	start := time.Now()
	defer func() {
		ReconcileDurationSeconds.Observe(time.Since(start).Seconds())
		RunningBots.Set(float64(len(s.tasks)))
	}()

	s.reap()

	bots, err := s.registry.ListBots(ctx, ledger.ListBotsFilter{Statuses: ledger.ActiveStatuses})
	if err != nil {
		return fmt.Errorf("list active bots: %w", err)
	}

	listed := make(map[string]struct{}, len(bots))
	for i := range bots {
		bot := bots[i]
		listed[bot.ID] = struct{}{}
		task, ok := s.tasks[bot.ID]

		switch bot.Status {
		case ledger.BotRunning, ledger.BotBooting:
			if !ok {
				s.start(bot)
			}
		case ledger.BotStopping:
			if ok {
				if !task.Stopping() {
					s.logger.Info("bot-stop-requested", zap.String("bot-id", bot.ID))
					task.RequestStop()
				}
				continue
			}
			s.recoverOrphan(ctx, bot)
		}
	}

	for id, task := range s.tasks {
		if _, ok := listed[id]; ok {
			continue
		}
		if !task.Stopping() {
			s.logger.Warn("orphan-task-stopping", zap.String("bot-id", id))
			task.RequestStop()
		}
	}

	if !s.reconciled {
		s.reconciled = true
		if s.onFirst != nil {
			s.onFirst()
		}
	}

	return nil
}

// Running returns the ids of bots with a live task.
func (s *Supervisor) Running() []string {
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	return ids
}

func (s *Supervisor) start(bot ledger.Bot) {
	task := s.factory(bot)
	s.tasks[bot.ID] = task

	s.logger.Info("bot-task-started",
		zap.String("bot-id", bot.ID),
		zap.String("status", string(bot.Status)))

	go task.Run(s.taskCtx)
}

func (s *Supervisor) recoverOrphan(ctx context.Context, bot ledger.Bot) {
	err := s.registry.SetBotStatus(ctx, bot.ID, ledger.BotStopped, orphanStoppingMessage)
	if err != nil {
		s.logger.Error("orphan-recovery-failed", zap.String("bot-id", bot.ID), zap.Error(err))
		return
	}
	StateTransitionsTotal.WithLabelValues(string(ledger.BotStopped)).Inc()
	s.logger.Warn("orphan-bot-recovered", zap.String("bot-id", bot.ID))
}

// reap drops tasks that have exited.
func (s *Supervisor) reap() {
	for id, task := range s.tasks {
		select {
		case <-task.Done():
			delete(s.tasks, id)
			s.logger.Debug("bot-task-reaped", zap.String("bot-id", id))
		default:
		}
	}
}

func (s *Supervisor) shutdown(cancelTasks context.CancelFunc) {
	s.logger.Info("supervisor-shutting-down", zap.Int("tasks", len(s.tasks)))

	for _, task := range s.tasks {
		task.Detach()
	}

	timer := time.NewTimer(s.shutdownTimeout)
	defer timer.Stop()

	for id, task := range s.tasks {
		select {
		case <-task.Done():
		case <-timer.C:
			s.logger.Warn("supervisor-shutdown-timeout", zap.String("bot-id", id))
			cancelTasks()
			<-task.Done()
		}
		delete(s.tasks, id)
	}

	RunningBots.Set(0)
	s.logger.Info("supervisor-stopped")
}
