// Package cron provides a schedule service other plugins register jobs with.
// The runtime's timer event drives it; cron expressions are evaluated with
// gronx.
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/pothead-chat/pothead/pkg/events"
	"github.com/pothead-chat/pothead/pkg/logger"
	"github.com/pothead-chat/pothead/pkg/plugin"
)

// ServiceName is the registry key the scheduler is published under.
const ServiceName = "cron"

type job struct {
	name string
	expr string
	fn   func(ctx context.Context)
	next time.Time
}

// Scheduler runs registered jobs when their cron expression comes due. Due
// checks happen on timer ticks, so the effective resolution is the runtime's
// timer interval.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*job
}

func NewScheduler() *Scheduler {
	return &Scheduler{jobs: make(map[string]*job)}
}

// Add registers a job under name, replacing any existing job with that name.
// The expression is validated up front.
func (s *Scheduler) Add(name, expr string, fn func(ctx context.Context)) error {
	if !gronx.IsValid(expr) {
		return fmt.Errorf("invalid cron expression: %s", expr)
	}
	next, err := gronx.NextTickAfter(expr, time.Now(), false)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[name] = &job{name: name, expr: expr, fn: fn, next: next}
	return nil
}

// Remove drops the job registered under name, if any.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, name)
}

// Jobs returns the names of the registered jobs.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}

// tick runs every job whose next fire time is at or before now, then
// reschedules it. Jobs run outside the lock; a panicking job is logged and
// stays scheduled.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*job
	for _, j := range s.jobs {
		if !j.next.After(now) {
			due = append(due, j)
			next, err := gronx.NextTickAfter(j.expr, now, false)
			if err != nil {
				logger.WarnCF("cron", "Failed to reschedule job", map[string]interface{}{
					"job": j.name, "error": err.Error(),
				})
				delete(s.jobs, j.name)
				continue
			}
			j.next = next
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		s.run(ctx, j)
	}
}

func (s *Scheduler) run(ctx context.Context, j *job) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("cron", "Job panicked", map[string]interface{}{
				"job": j.name, "panic": fmt.Sprint(r),
			})
		}
	}()
	logger.DebugCF("cron", "Running job", map[string]interface{}{"job": j.name})
	j.fn(ctx)
}

// Plugin publishes the scheduler as a service and drives it from the timer
// event.
type Plugin struct {
	sched *Scheduler
}

func New(env plugin.Env) *Plugin {
	return &Plugin{sched: NewScheduler()}
}

func (p *Plugin) ID() string { return "cron" }

func (p *Plugin) Services() map[string]interface{} {
	return map[string]interface{}{ServiceName: p.sched}
}

func (p *Plugin) EventHandlers() map[events.Event]events.Handler {
	return map[events.Event]events.Handler{
		events.Timer: p.onTimer,
	}
}

func (p *Plugin) onTimer(ctx context.Context, args ...interface{}) error {
	now := time.Now()
	if len(args) > 0 {
		if t, ok := args[0].(time.Time); ok {
			now = t
		}
	}
	p.sched.tick(ctx, now)
	return nil
}

var (
	_ plugin.Plugin                = (*Plugin)(nil)
	_ plugin.ProvidesServices      = (*Plugin)(nil)
	_ plugin.ProvidesEventHandlers = (*Plugin)(nil)
)
