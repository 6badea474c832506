package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"rescue_scrooper/config"
	"rescue_scrooper/logging"
	"rescue_scrooper/models"
)

// Runner is what the scheduler drives; *scraper.Orchestrator implements it.
type Runner interface {
	RunAll(ctx context.Context) error
	HandleCommand(ctx context.Context, cmd models.CommandType, params *models.CommandParams) error
}

// CommandQueue is the operator command table; *storage.SQLiteStore
// implements it.
type CommandQueue interface {
	GetPendingCommands() ([]models.Command, error)
	MarkCommandProcessed(id int64) error
	ParseCommandParams(cmd *models.Command) (*models.CommandParams, error)
}

const defaultPollInterval = 2 * time.Second

type Scheduler struct {
	cfg          *config.Config
	runner       Runner
	queue        CommandQueue
	cron         *cron.Cron
	ticker       *time.Ticker
	stopCh       chan struct{}
	stopOnce     sync.Once
	pollInterval time.Duration
	logger       *log.Logger

	// one scrape at a time across cron, interval and commands
	runMu sync.Mutex
}

func New(cfg *config.Config, runner Runner, queue CommandQueue) *Scheduler {
	logger := logging.Get("scheduler")
	return &Scheduler{
		cfg:    cfg,
		runner: runner,
		queue:  queue,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.PrintfLogger(logger)),
		)),
		stopCh:       make(chan struct{}),
		pollInterval: defaultPollInterval,
		logger:       logger,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.queue != nil {
		go s.pollCommands(ctx)
	}

	if s.cfg.Scheduler.Cron != "" {
		s.logger.Printf("Starting scheduler with cron: %s", s.cfg.Scheduler.Cron)
		_, err := s.cron.AddFunc(s.cfg.Scheduler.Cron, func() {
			s.runScheduled(ctx)
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Scheduler.Interval > 0 {
		s.logger.Printf("Starting scheduler with interval: %s", s.cfg.Scheduler.Interval)
		s.ticker = time.NewTicker(s.cfg.Scheduler.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.runScheduled(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		s.logger.Println("No schedule configured, daemon will only respond to commands")
	}

	return nil
}

// Stop halts scheduling and waits for a running cron job to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cron != nil {
			<-s.cron.Stop().Done()
		}
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
	})
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if err := s.runner.RunAll(ctx); err != nil {
		s.logger.Printf("Scheduled run error: %v", err)
	}
}

func (s *Scheduler) TriggerNow(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.runner.RunAll(ctx)
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// processPending handles every queued command once. A failed command is
// still marked processed so it is not retried forever.
func (s *Scheduler) processPending(ctx context.Context) {
	cmds, err := s.queue.GetPendingCommands()
	if err != nil {
		s.logger.Printf("Error getting commands: %v", err)
		return
	}

	for _, cmd := range cmds {
		s.logger.Printf("Processing command: %s", cmd.Command)
		if err := s.handleCommand(ctx, &cmd); err != nil {
			s.logger.Printf("Command error: %v", err)
		}
		if err := s.queue.MarkCommandProcessed(cmd.ID); err != nil {
			s.logger.Printf("Error marking command processed: %v", err)
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	params, err := s.queue.ParseCommandParams(cmd)
	if err != nil {
		return fmt.Errorf("command %d: %w", cmd.ID, err)
	}

	switch cmd.Command {
	case models.CmdPause, models.CmdResume:
		return s.runner.HandleCommand(ctx, cmd.Command, params)
	default:
		s.runMu.Lock()
		defer s.runMu.Unlock()
		return s.runner.HandleCommand(ctx, cmd.Command, params)
	}
}
