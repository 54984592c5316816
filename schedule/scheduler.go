// Package schedule wraps robfig/cron for the recurring maintenance work a
// conversion deployment needs, the stale-job reaper foremost.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	conversion "github.com/goliatone/go-conversion"

	rcron "github.com/robfig/cron/v3"
)

// Scheduler runs registered functions on cron expressions.
type Scheduler struct {
	mu           sync.Mutex
	cron         *rcron.Cron
	location     *time.Location
	logger       conversion.Logger
	errorHandler func(error)
	entries      map[int]rcron.EntryID
	nextID       int
}

// Option defines the functional option type for Scheduler.
type Option func(*Scheduler)

// WithLocation sets the timezone location for the scheduler.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		s.location = loc
	}
}

// WithLogger sets a custom logger for the scheduler.
func WithLogger(logger conversion.Logger) Option {
	return func(s *Scheduler) {
		s.logger = conversion.NormalizeLogger(logger)
	}
}

// WithErrorHandler sets a custom error handler for sweep failures and
// recovered panics.
func WithErrorHandler(handler func(error)) Option {
	return func(s *Scheduler) {
		if handler != nil {
			s.errorHandler = handler
		}
	}
}

// NewScheduler creates a scheduler with the provided options.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		location: time.Local,
		logger:   conversion.NormalizeLogger(nil),
		entries:  make(map[int]rcron.EntryID),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.errorHandler == nil {
		s.errorHandler = func(err error) {
			s.logger.Error("scheduled run failed: %v", err)
		}
	}

	s.cron = rcron.New(
		rcron.WithLocation(s.location),
		rcron.WithLogger(&loggerAdapter{logger: s.logger}),
		rcron.WithChain(rcron.Recover(&errorHandlerAdapter{handler: s.errorHandler})),
	)
	return s
}

// Every registers fn on a cron expression and returns its handle id.
func (s *Scheduler) Every(expr string, fn func() error) (int, error) {
	if expr == "" {
		return 0, fmt.Errorf("cron expression cannot be empty")
	}
	if fn == nil {
		return 0, fmt.Errorf("handler cannot be nil")
	}

	job := rcron.FuncJob(func() {
		if err := fn(); err != nil {
			s.errorHandler(err)
		}
	})
	entryID, err := s.cron.AddJob(expr, job)
	if err != nil {
		return 0, fmt.Errorf("failed to add job: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.entries[s.nextID] = entryID
	return s.nextID, nil
}

// Remove deregisters a handle returned by Every.
func (s *Scheduler) Remove(id int) {
	s.mu.Lock()
	entryID, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()
	if ok {
		s.cron.Remove(entryID)
	}
}

// Start begins executing scheduled jobs.
func (s *Scheduler) Start(_ context.Context) error {
	s.cron.Start()
	return nil
}

// Stop stops executing scheduled jobs; running jobs complete.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loggerAdapter adapts our Logger interface to robfig/cron's logger.
type loggerAdapter struct {
	logger conversion.Logger
}

func (l *loggerAdapter) Info(msg string, args ...interface{}) {
	l.logger.Debug(msg, args...)
}

func (l *loggerAdapter) Error(err error, msg string, args ...interface{}) {
	if err != nil {
		l.logger.Error(fmt.Sprintf("%s: %v", msg, err), args...)
	} else {
		l.logger.Error(msg, args...)
	}
}

// errorHandlerAdapter adapts an error handler function to cron.Logger so it
// can sit behind rcron.Recover.
type errorHandlerAdapter struct {
	handler func(error)
}

func (e *errorHandlerAdapter) Info(msg string, args ...interface{}) {}

func (e *errorHandlerAdapter) Error(err error, msg string, args ...interface{}) {
	if e.handler == nil {
		return
	}
	if err != nil {
		e.handler(err)
	} else {
		e.handler(fmt.Errorf(msg, args...))
	}
}
