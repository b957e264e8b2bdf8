// Package cron runs the chat history retention job on a cron schedule.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/genie/internal/persistence"
)

// cronParser accepts standard 5-field expressions plus descriptors such as
// @daily and @every 1h.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Pruner deletes chat turns older than chatDays. *persistence.Store satisfies it.
type Pruner interface {
	RunRetention(ctx context.Context, chatDays int) (persistence.RetentionResult, error)
}

type Config struct {
	Store    Pruner
	Logger   *slog.Logger
	Schedule string
	ChatDays int
}

// Retention prunes old chat history each time its schedule comes due.
type Retention struct {
	store    Pruner
	logger   *slog.Logger
	schedule cronlib.Schedule
	spec     string
	chatDays int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRetention validates the schedule. An empty schedule or a non-positive
// ChatDays yields a job that Start treats as disabled.
func NewRetention(cfg Config) (*Retention, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Retention{
		store:    cfg.Store,
		logger:   logger.With("component", "retention"),
		spec:     cfg.Schedule,
		chatDays: cfg.ChatDays,
	}
	if cfg.Schedule == "" {
		return r, nil
	}
	sched, err := cronParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse retention schedule %q: %w", cfg.Schedule, err)
	}
	r.schedule = sched
	return r, nil
}

func (r *Retention) Enabled() bool {
	return r.schedule != nil && r.chatDays > 0 && r.store != nil
}

// Start launches the job loop in the background. It is a no-op when the job
// is disabled.
func (r *Retention) Start(ctx context.Context) {
	if !r.Enabled() {
		r.logger.Info("retention disabled", "schedule", r.spec, "chat_days", r.chatDays)
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.loop(ctx)
	r.logger.Info("retention started", "schedule", r.spec, "chat_days", r.chatDays)
}

// Stop cancels the loop and waits for an in-flight run to finish.
func (r *Retention) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Retention) loop(ctx context.Context) {
	defer r.wg.Done()
	for {
		next := r.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("retention run failed", "error", err)
			}
		}
	}
}

// RunOnce prunes immediately, independent of the schedule.
func (r *Retention) RunOnce(ctx context.Context) (persistence.RetentionResult, error) {
	res, err := r.store.RunRetention(ctx, r.chatDays)
	if err != nil {
		return res, fmt.Errorf("run retention: %w", err)
	}
	r.logger.Info("retention run complete", "purged_chat_turns", res.PurgedChatTurns, "chat_days", r.chatDays)
	return res, nil
}

// NextRunTime returns the first activation of expr after the given time.
func NextRunTime(expr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
