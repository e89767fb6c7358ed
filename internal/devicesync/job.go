// Package devicesync periodically republishes every feeder's schedule set so
// devices that missed an update converge. The same pass can prune expired
// login sessions.
package devicesync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSpec runs the sync every fifteen minutes.
const DefaultSpec = "@every 15m"

// Syncer republishes schedule sets for all feeders.
type Syncer interface {
	SyncAll(ctx context.Context) (int, error)
}

// Sweeper removes login sessions that are past their expiry.
type Sweeper interface {
	SweepExpiredSessions(ctx context.Context) error
}

// Option configures a Job.
type Option func(*Job)

// WithSweeper runs sweeper after every sync pass.
func WithSweeper(sweeper Sweeper) Option {
	return func(j *Job) { j.sweeper = sweeper }
}

// Job runs a Syncer on a cron schedule, one run at a time.
type Job struct {
	syncer  Syncer
	sweeper Sweeper
	spec    string
	timeout time.Duration
	log     *slog.Logger

	mu     sync.Mutex
	c      *cron.Cron
	cancel context.CancelFunc
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New validates spec and builds a Job. An empty spec uses DefaultSpec; a
// non-positive timeout lets a run last until the next one is due.
func New(syncer Syncer, spec string, timeout time.Duration, log *slog.Logger, opts ...Option) (*Job, error) {
	if syncer == nil {
		return nil, fmt.Errorf("devicesync: syncer is nil")
	}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = DefaultSpec
	}
	if err := ValidateSpec(spec); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	job := &Job{syncer: syncer, spec: spec, timeout: timeout, log: log.With("component", "devicesync")}
	for _, opt := range opts {
		if opt != nil {
			opt(job)
		}
	}
	return job, nil
}

// ValidateSpec reports whether spec is a cron expression or descriptor the
// job accepts. Seconds are optional.
func ValidateSpec(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("devicesync: invalid spec %q: %w", spec, err)
	}
	return nil
}

// Spec reports the cron spec the job runs on.
func (j *Job) Spec() string { return j.spec }

// Start schedules the job. Runs stop when ctx is cancelled or Stop is called.
// Calling Start on a running job is a no-op.
func (j *Job) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.c != nil {
		return nil
	}

	logger := cronLogger{log: j.log}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	runCtx, cancel := context.WithCancel(ctx)
	if _, err := c.AddFunc(j.spec, func() { j.RunOnce(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("devicesync: schedule: %w", err)
	}

	j.c, j.cancel = c, cancel
	c.Start()
	j.log.Info("device sync started", slog.String("spec", j.spec))

	go func() {
		<-runCtx.Done()
		_ = j.stop(context.Background(), c)
	}()
	return nil
}

// Stop halts scheduling and waits for a running sync to finish or ctx to end.
func (j *Job) Stop(ctx context.Context) error {
	return j.stop(ctx, nil)
}

// stop halts the current cron. A non-nil only restricts it to that instance,
// so a watcher left from an earlier Start cannot stop a later one.
func (j *Job) stop(ctx context.Context, only *cron.Cron) error {
	j.mu.Lock()
	c, cancel := j.c, j.cancel
	if c == nil || (only != nil && c != only) {
		j.mu.Unlock()
		return nil
	}
	j.c, j.cancel = nil, nil
	j.mu.Unlock()

	done := c.Stop()
	cancel()

	select {
	case <-done.Done():
		j.log.Info("device sync stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// running reports whether a cron is scheduled.
func (j *Job) running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.c != nil
}

// RunOnce performs a single sync pass followed by the session sweep.
func (j *Job) RunOnce(ctx context.Context) {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	started := time.Now()
	synced, err := j.syncer.SyncAll(ctx)
	attrs := []any{slog.Int("synced", synced), slog.Duration("took", time.Since(started))}
	if err != nil {
		j.log.Warn("device sync finished with errors", append(attrs, slog.Any("error", err))...)
	} else {
		j.log.Info("device sync finished", attrs...)
	}

	if j.sweeper == nil {
		return
	}
	if err := j.sweeper.SweepExpiredSessions(ctx); err != nil {
		j.log.Warn("session sweep failed", slog.Any("error", err))
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append([]any{slog.Any("error", err)}, keysAndValues...)...)
}
