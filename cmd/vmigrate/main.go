// vmigrate runs a VM migration end to end against simulated providers. It
// exists to exercise the whole stack from the command line: engine, queue,
// workers, scheduler and the migration handlers.
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	conversion "github.com/goliatone/go-conversion"
	"github.com/goliatone/go-conversion/engine"
	"github.com/goliatone/go-conversion/migration"
	"github.com/goliatone/go-conversion/queue"
	"github.com/goliatone/go-conversion/schedule"
	"github.com/goliatone/go-logger/glog"
)

type cli struct {
	Run runCmd `cmd:"" help:"Run a simulated VM migration to completion."`
}

type runCmd struct {
	Config       string        `help:"Path to YAML configuration." type:"existingfile" optional:""`
	VM           string        `help:"Source VM identifier." default:"vm-demo"`
	PollInterval time.Duration `help:"Delay between polling signals." default:"50ms"`
	Workers      int           `help:"Concurrent signal workers." default:"2"`
	Cancel       time.Duration `help:"Request cancellation after this delay; zero runs to completion." default:"0"`
	Verbose      bool          `short:"v" help:"Enable debug logging."`
}

func main() {
	var app cli
	ctx := kong.Parse(&app,
		kong.Name("vmigrate"),
		kong.Description("Queue driven VM migration runner."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run())
}

func (c *runCmd) Run() error {
	level := "info"
	if c.Verbose {
		level = "debug"
	}
	logger := glogAdapter{logger: glog.NewLogger(
		glog.WithLevel(level),
	)}

	cfg := conversion.DefaultConfig()
	if c.Config != "" {
		loaded, err := conversion.LoadConfig(c.Config)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if c.PollInterval > 0 {
		cfg.PollInterval = conversion.Duration(c.PollInterval)
	}
	if c.Workers > 0 {
		cfg.Workers = c.Workers
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sim := migration.NewSimulator()
	sim.TransformSteps = 4

	store := conversion.NewInMemoryJobStore()
	task := conversion.NewMemoryTask()
	q := queue.NewMemory()

	handlers := &migration.Handlers{
		Source:       sim,
		Converter:    sim,
		Playbooks:    sim,
		Inventory:    sim,
		Dest:         sim,
		PollInterval: cfg.PollInterval.Std(),
	}

	eng, err := engine.New(
		migration.Transitions(),
		migration.Descriptors(cfg.PollInterval.Std(), cfg.BudgetFor),
		handlers.Map(),
		store,
		conversion.TaskLocatorFunc(func(string) (conversion.Task, error) { return task, nil }),
		engine.WithLogger(logger),
		engine.WithEnqueuer(q),
		engine.WithStartSignal(migration.SignalStart),
		engine.WithCancelFollowUp(migration.SignalAbortVirtV2V),
		engine.WithRouting(cfg.Zone, cfg.Role),
	)
	if err != nil {
		return err
	}

	scheduler := schedule.NewScheduler(schedule.WithLogger(logger))
	reaper := schedule.NewReaper(store, q, cfg.JobDeadline.Std(),
		schedule.WithReaperLogger(logger),
		schedule.WithExemptStates(migration.StateFinished, migration.StateAborting, migration.StateCanceling),
	)
	if _, err := reaper.Register(scheduler, "@every 1m"); err != nil {
		return err
	}
	if err := scheduler.Start(context.Background()); err != nil {
		return err
	}
	defer scheduler.Stop(context.Background())

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	job := migration.NewJob("", c.VM)
	if err := eng.Submit(runCtx, job); err != nil {
		return err
	}
	logger.Info("submitted migration job %s for vm %s", job.ID, c.VM)

	if c.Cancel > 0 {
		go func() {
			select {
			case <-time.After(c.Cancel):
				logger.Info("requesting cancellation")
				task.Cancel()
			case <-runCtx.Done():
			}
		}()
	}

	worker := queue.NewWorker(q, eng,
		queue.WithLogger(logger),
		queue.WithWorkers(cfg.Workers),
	)
	workerCtx, cancelWorker := context.WithCancel(runCtx)
	defer cancelWorker()
	done := make(chan struct{})
	go func() {
		worker.Run(workerCtx)
		close(done)
	}()

	// the queue drains when the job reaches its terminal state
	for {
		current, err := store.Load(runCtx, job.ID)
		if err != nil {
			return err
		}
		if current != nil && current.State == eng.Terminal() {
			break
		}
		select {
		case <-runCtx.Done():
			cancelWorker()
			<-done
			return runCtx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
	cancelWorker()
	<-done

	final, err := store.Load(context.Background(), job.ID)
	if err != nil {
		return err
	}
	agg := task.Progress()
	status := worker.Status()
	fmt.Printf("job %s finished state=%s status=%s progress=%.1f%%\n", final.ID, final.State, final.Status, agg.Percent)
	fmt.Printf("signals processed=%d dropped=%d failed=%d\n", status.Processed, status.Dropped, status.Failed)
	if task.IsCanceled() {
		fmt.Println("migration was canceled; source vm restarted")
	}
	return nil
}

// glogAdapter bridges the go-logger structured logger onto the runtime
// logging contract.
type glogAdapter struct {
	logger glog.Logger
}

func (l glogAdapter) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l glogAdapter) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l glogAdapter) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l glogAdapter) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

func (l glogAdapter) WithContext(ctx context.Context) conversion.Logger {
	return glogAdapter{logger: l.logger.WithContext(ctx)}
}

func (l glogAdapter) WithFields(fields map[string]any) conversion.Logger {
	if fl, ok := l.logger.(glog.FieldsLogger); ok {
		return glogAdapter{logger: fl.WithFields(fields)}
	}
	return l
}
