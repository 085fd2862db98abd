package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/edgard/chatdedup/internal/bot/tasks"
	"github.com/edgard/chatdedup/internal/config"
)

// Scheduler manages scheduled tasks using the gocron library.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	cfg       *config.SchedulerConfig
	taskMap   map[string]tasks.ScheduledTaskFunc
	mu        sync.Mutex
	running   bool
}

// NewScheduler creates a new scheduler instance using gocron.
func NewScheduler(logger *slog.Logger, cfg *config.SchedulerConfig, taskMap map[string]tasks.ScheduledTaskFunc) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{
		scheduler: s,
		logger:    logger.With("component", "scheduler"),
		cfg:       cfg,
		taskMap:   taskMap,
	}, nil
}

// Start schedules every enabled task and starts the scheduler. Tasks that are
// unknown or fail to schedule are logged and skipped.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	scheduled := 0
	if s.cfg != nil {
		for taskName, taskConfig := range s.cfg.Tasks {
			if s.schedule(taskName, taskConfig) {
				scheduled++
			}
		}
	}
	if scheduled == 0 {
		s.logger.Warn("No scheduler tasks enabled.")
	}

	s.scheduler.Start()
	s.running = true
	s.logger.Info("Scheduler initialized and started", "tasks_scheduled", scheduled)
	return nil
}

func (s *Scheduler) schedule(taskName string, taskConfig config.TaskConfig) bool {
	if !taskConfig.Enabled {
		s.logger.Info("Skipping disabled task", "task_name", taskName)
		return false
	}

	taskFunc, exists := s.taskMap[taskName]
	if !exists {
		s.logger.Warn("Scheduled task configured but not found in registry, skipping", "task_name", taskName)
		return false
	}

	_, err := s.scheduler.NewJob(
		gocron.CronJob(taskConfig.Schedule, false),
		gocron.NewTask(
			func(ctx context.Context, name string) {
				s.logger.Info("Running scheduled task", "task_name", name)
				startTime := time.Now()
				if taskErr := taskFunc(ctx); taskErr != nil {
					s.logger.Error("Scheduled task failed", "task_name", name, "error", taskErr)
				}
				s.logger.Info("Finished scheduled task", "task_name", name, "duration", time.Since(startTime))
			},
			context.Background(),
			taskName,
		),
		gocron.WithName(taskName),
		// An inbox run can outlast its interval; never run a task twice at once.
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		s.logger.Error("Failed to schedule task", "task_name", taskName, "schedule", taskConfig.Schedule, "error", err)
		return false
	}

	s.logger.Info("Scheduled task", "task_name", taskName, "schedule", taskConfig.Schedule)
	return true
}

// Jobs returns the names of the scheduled jobs.
func (s *Scheduler) Jobs() []string {
	jobs := s.scheduler.Jobs()
	names := make([]string, 0, len(jobs))
	for _, job := range jobs {
		names = append(names, job.Name())
	}
	return names
}

// Stop gracefully stops the scheduler, waiting for running jobs to complete.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.logger.Info("Scheduler is not running, nothing to stop.")
		return nil
	}

	err := s.scheduler.Shutdown()
	if err != nil {
		s.logger.Error("Error during scheduler shutdown", "error", err)
	} else {
		s.logger.Info("Scheduler stopped gracefully.")
	}

	s.running = false
	return err
}
