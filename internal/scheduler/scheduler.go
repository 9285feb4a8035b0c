package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/weatherapi-nodeserver/internal/polyglot"
)

// Poller receives the poll ticks.
type Poller interface {
	Poll(kind polyglot.PollKind)
}

// Scheduler generates short and long polls locally when Polyglot does not send them.
type Scheduler struct {
	scheduler *gocron.Scheduler
	poller    Poller
	shortPoll time.Duration
	longPoll  time.Duration
	logger    *slog.Logger
}

// New creates a new Scheduler.
func New(poller Poller, shortPoll, longPoll time.Duration, logger *slog.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		poller:    poller,
		shortPoll: shortPoll,
		longPoll:  longPoll,
		logger:    logger.With("component", "scheduler"),
	}
}

// Start schedules both poll jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	jobs := []struct {
		kind     polyglot.PollKind
		interval time.Duration
	}{
		{polyglot.ShortPoll, s.shortPoll},
		{polyglot.LongPoll, s.longPoll},
	}
	for _, j := range jobs {
		if j.interval <= 0 {
			return fmt.Errorf("%s poll interval must be positive, got %s", j.kind, j.interval)
		}
		kind := j.kind
		_, err := s.scheduler.Every(j.interval).
			SingletonMode().
			WaitForSchedule().
			Tag(kind.String() + "Poll").
			Do(func() {
				s.logger.Debug("poll tick", "poll", kind.String())
				s.poller.Poll(kind)
			})
		if err != nil {
			return fmt.Errorf("schedule %s poll: %w", kind, err)
		}
	}

	s.logger.Info("local poll scheduler started", "short_poll", s.shortPoll, "long_poll", s.longPoll)
	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
