// Package cron runs the gateway's periodic jobs.
package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Task is a unit of periodic work. Run is called, then the scheduler waits
// Interval, then calls it again; two runs of the same task never overlap.
type Task struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration // per run; zero means no limit
	Run      func(ctx context.Context) error
}

type taskRunner struct {
	task    Task
	forceCh chan struct{}
}

// Scheduler owns one goroutine per task.
type Scheduler struct {
	logger zerolog.Logger

	mu      sync.Mutex
	tasks   map[string]*taskRunner
	order   []string
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewScheduler(logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		logger: logger.With().Str("component", "scheduler").Logger(),
		tasks:  make(map[string]*taskRunner),
	}
}

// Add registers a task. Tasks must be added before Start.
func (s *Scheduler) Add(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("cron: cannot add tasks to a running scheduler")
	}
	if task.Name == "" || task.Run == nil {
		return errors.New("cron: task needs a name and a run function")
	}
	if task.Interval <= 0 {
		return fmt.Errorf("cron: task %s has no interval", task.Name)
	}
	if _, ok := s.tasks[task.Name]; ok {
		return fmt.Errorf("cron: task %s already registered", task.Name)
	}
	s.tasks[task.Name] = &taskRunner{
		task:    task,
		forceCh: make(chan struct{}, 1), // buffered so Trigger won't block
	}
	s.order = append(s.order, task.Name)
	return nil
}

// Start launches every task and returns immediately.
// Safe to call multiple times; subsequent calls are no-ops.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.stopCh = make(chan struct{})
	s.running = true
	for _, name := range s.order {
		s.wg.Add(1)
		go s.loop(ctx, s.tasks[name])
	}
	s.logger.Info().Strs("tasks", s.order).Msg("scheduler started")
}

// Stop signals every loop to exit and waits for in-flight runs to finish.
// Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.running = false
	s.mu.Unlock()
	s.wg.Wait()
}

// Trigger asks for an immediate run of the named task. Requests made while a
// run is pending coalesce into one.
func (s *Scheduler) Trigger(name string) bool {
	s.mu.Lock()
	r, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case r.forceCh <- struct{}{}:
	default:
	}
	return true
}

func (s *Scheduler) loop(parent context.Context, r *taskRunner) {
	defer s.wg.Done()
	logger := s.logger.With().Str("task", r.task.Name).Logger()

	s.runOnce(parent, r.task, logger)

	// The timer is reset only after a run completes.
	t := time.NewTimer(r.task.Interval)
	defer t.Stop()
	for {
		select {
		case <-parent.Done():
			logger.Debug().Msg("context canceled; stopping")
			return
		case <-s.stopCh:
			logger.Debug().Msg("stop requested; stopping")
			return
		case <-t.C:
		case <-r.forceCh:
			if !t.Stop() {
				select {
				case <-t.C:
				default:
				}
			}
		}
		s.runOnce(parent, r.task, logger)
		t.Reset(r.task.Interval)
	}
}

func (s *Scheduler) runOnce(parent context.Context, task Task, logger zerolog.Logger) {
	ctx := parent
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, task.Timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Interface("panic", rec).Msg("task panicked")
		}
	}()
	if err := task.Run(ctx); err != nil {
		if parent.Err() != nil {
			return
		}
		logger.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("task run failed")
		return
	}
	logger.Debug().Dur("elapsed", time.Since(start)).Msg("task run completed")
}
