package buildserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/srcgenhost/internal/logfields"
)

// Sweeper drops stale cached state.
type Sweeper interface {
	Sweep(ctx context.Context) (projects, envs int)
}

// Janitor periodically sweeps the host's project cache and isolation pool.
type Janitor struct {
	scheduler gocron.Scheduler
	sweeper   Sweeper
	logger    *slog.Logger
}

// NewJanitor schedules a sweep every interval. Start must be called to run it.
func NewJanitor(ctx context.Context, interval time.Duration, sweeper Sweeper, logger *slog.Logger) (*Janitor, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("janitor interval must be positive, got %s", interval)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	j := &Janitor{scheduler: s, sweeper: sweeper, logger: logger}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { j.sweep(ctx) }),
		gocron.WithName("pool-janitor"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("failed to create janitor job: %w", err)
	}
	return j, nil
}

// Start begins the schedule.
func (j *Janitor) Start() {
	j.logger.Debug("Starting pool janitor")
	j.scheduler.Start()
}

// Stop shuts the scheduler down, waiting for a running sweep.
func (j *Janitor) Stop() error {
	return j.scheduler.Shutdown()
}

func (j *Janitor) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	projects, envs := j.sweeper.Sweep(ctx)
	if projects > 0 || envs > 0 {
		j.logger.Info("Janitor swept stale state",
			slog.Int("projects", projects), slog.Int("environments", envs))
		return
	}
	j.logger.Debug("Janitor found nothing to sweep", logfields.Count(0))
}
