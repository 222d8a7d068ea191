package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Default ceilings for a deployment that configures none.
const (
	DefaultMaxRequestsPerMinute = 10
	DefaultMaxActiveTasks       = 5
)

// Config holds the admission ceilings.
type Config struct {
	MaxRequestsPerMinute int
	MaxActiveTasks       int
	// Window defaults to one minute.
	Window time.Duration
}

// WorkFunc is the deferred work of an admitted task.
type WorkFunc func(ctx context.Context, task TaskHandle) error

// Coordinator composes the rate and capacity gates and owns task completion.
type Coordinator struct {
	limiter  *RateLimiter
	slots    *SlotPool
	registry *Registry

	clock    Clock
	logger   Logger
	observer Observer

	wg sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver adds an observer. Repeated calls fan out to all of them.
func WithObserver(obs Observer) Option {
	return func(c *Coordinator) {
		if obs == nil {
			return
		}
		if existing, ok := c.observer.(Observers); ok {
			c.observer = append(existing, obs)
			return
		}
		c.observer = Observers{obs}
	}
}

// SubmitOption describes the task being submitted.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	kind   Kind
	prompt string
}

// WithKind sets the task kind. Defaults to KindGeneration.
func WithKind(kind Kind) SubmitOption {
	return func(o *submitOptions) { o.kind = kind }
}

// WithPrompt records the prompt on the task.
func WithPrompt(prompt string) SubmitOption {
	return func(o *submitOptions) { o.prompt = prompt }
}

// Snapshot reports admission state for a requestor.
type Snapshot struct {
	Rate        RateStats `json:"rate"`
	ActiveTasks int       `json:"active_tasks"`
	ActiveSlots int       `json:"active_slots"`
	Capacity    int       `json:"capacity"`
}

// New builds a Coordinator.
func New(cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry: NewRegistry(),
		clock:    systemClock,
		logger:   nopLogger{},
		observer: Observers{},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.limiter = NewRateLimiter(cfg.MaxRequestsPerMinute, cfg.Window)
	c.slots = NewSlotPool(cfg.MaxActiveTasks,
		WithSlotLogger(c.logger),
		WithViolationHook(func() {
			c.observer.Observe(Event{Decision: DecisionSlotViolation, At: c.clock()})
		}))
	return c
}

// Submit applies the rate gate then the capacity gate. A request rejected for
// capacity keeps the rate entry it consumed, so retry loops cannot bypass the
// rate budget.
func (c *Coordinator) Submit(ctx context.Context, id RequestorID, opts ...SubmitOption) (TaskHandle, error) {
	if err := ctx.Err(); err != nil {
		return TaskHandle{}, err
	}

	o := submitOptions{kind: KindGeneration}
	for _, opt := range opts {
		opt(&o)
	}

	now := c.clock()
	if !c.limiter.TryAdmit(id, now) {
		err := &AdmissionError{
			Reason:     ReasonRateLimited,
			Requestor:  id,
			RetryAfter: c.limiter.Stats(id, now).RetryAfter,
		}
		c.logger.Debug("Request rate limited", zap.String("requestor", string(id)))
		c.observer.Observe(Event{Requestor: id, Decision: DecisionRateLimited, Kind: o.kind, At: now, ActiveSlots: c.slots.Active()})
		return TaskHandle{}, err
	}

	if !c.slots.TryAcquire() {
		c.logger.Debug("Request rejected at capacity",
			zap.String("requestor", string(id)),
			zap.Int("capacity", c.slots.Capacity()))
		c.observer.Observe(Event{Requestor: id, Decision: DecisionCapacity, Kind: o.kind, At: now, ActiveSlots: c.slots.Active()})
		return TaskHandle{}, &AdmissionError{Reason: ReasonCapacity, Requestor: id}
	}

	task := c.registry.create(id, o.kind, o.prompt, now)
	task, err := c.registry.markRunning(task.ID)
	if err != nil {
		// Unreachable: the task was created above and nothing else finalizes it.
		_ = c.slots.Release()
		return TaskHandle{}, fmt.Errorf("start task: %w", err)
	}

	c.logger.Debug("Task admitted",
		zap.String("task_id", string(task.ID)),
		zap.String("requestor", string(id)),
		zap.String("kind", string(o.kind)))
	c.observer.Observe(Event{
		Requestor:   id,
		Decision:    DecisionAdmitted,
		TaskID:      task.ID,
		Kind:        task.Kind,
		Status:      task.Status,
		At:          now,
		ActiveSlots: c.slots.Active(),
	})
	return task, nil
}

// Complete finalizes a task and releases its slot. Only the first call for a
// task has any effect; later calls return ErrTaskFinalized.
func (c *Coordinator) Complete(id TaskID, outcome Outcome) (TaskHandle, error) {
	now := c.clock()
	task, err := c.registry.finalize(id, outcome, now)
	if err != nil {
		if errors.Is(err, ErrTaskFinalized) {
			c.logger.Error("Task completed more than once",
				zap.String("task_id", string(id)),
				zap.String("status", string(task.Status)),
				zap.Stack("stack"))
		}
		return task, err
	}

	releaseErr := c.slots.Release()

	fields := []zap.Field{
		zap.String("task_id", string(task.ID)),
		zap.String("requestor", string(task.Requestor)),
		zap.String("status", string(task.Status)),
		zap.Duration("duration", now.Sub(task.CreatedAt)),
	}
	if task.Error != "" {
		fields = append(fields, zap.String("error", task.Error))
	}
	c.logger.Debug("Task completed", fields...)

	c.observer.Observe(Event{
		Requestor:   task.Requestor,
		Decision:    DecisionCompleted,
		TaskID:      task.ID,
		Kind:        task.Kind,
		Status:      task.Status,
		At:          now,
		Duration:    now.Sub(task.CreatedAt),
		ActiveSlots: c.slots.Active(),
	})
	return task, releaseErr
}

// Run submits a task, runs work, and completes the task on every exit path.
// A panic in work fails the task and is re-raised.
func (c *Coordinator) Run(ctx context.Context, id RequestorID, work WorkFunc, opts ...SubmitOption) (TaskHandle, error) {
	task, err := c.Submit(ctx, id, opts...)
	if err != nil {
		return task, err
	}
	return c.execute(ctx, task, work)
}

// Go admits synchronously and runs work in its own goroutine. The admission
// error, if any, is returned immediately. A panic in work fails the task and
// is logged.
func (c *Coordinator) Go(ctx context.Context, id RequestorID, work WorkFunc, opts ...SubmitOption) (TaskHandle, error) {
	task, err := c.Submit(ctx, id, opts...)
	if err != nil {
		return task, err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("Task panicked",
					zap.String("task_id", string(task.ID)),
					zap.Any("panic", r),
					zap.Stack("stack"))
			}
		}()
		if _, err := c.execute(ctx, task, work); err != nil {
			c.logger.Debug("Task failed", zap.String("task_id", string(task.ID)), zap.Error(err))
		}
	}()
	return task, nil
}

// Wait blocks until every task started with Go has returned or ctx ends.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) execute(ctx context.Context, task TaskHandle, work WorkFunc) (TaskHandle, error) {
	returned := false
	defer func() {
		if returned {
			return
		}
		r := recover()
		cause := fmt.Errorf("task panicked: %v", r)
		if r == nil {
			cause = errors.New("task exited without returning")
		}
		if _, err := c.Complete(task.ID, Failed(cause)); err != nil && !errors.Is(err, ErrTaskFinalized) {
			c.logger.Error("Complete after panic failed", zap.String("task_id", string(task.ID)), zap.Error(err))
		}
		if r != nil {
			panic(r)
		}
	}()

	workErr := work(ctx, task)
	returned = true

	final, err := c.Complete(task.ID, outcomeFor(ctx, workErr))
	switch {
	case workErr != nil:
		return final, workErr
	case err != nil && !errors.Is(err, ErrTaskFinalized):
		return final, err
	}
	return final, nil
}

func outcomeFor(ctx context.Context, err error) Outcome {
	if err == nil {
		return Succeeded()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return Cancelled(err)
	}
	return Failed(err)
}

// Get returns a task snapshot.
func (c *Coordinator) Get(id TaskID) (TaskHandle, bool) {
	return c.registry.Get(id)
}

// ListActive returns running tasks for id, or for everyone when id is empty.
func (c *Coordinator) ListActive(id RequestorID) []TaskHandle {
	return c.registry.ListActive(id)
}

// Stats reports admission state for id.
func (c *Coordinator) Stats(id RequestorID) Snapshot {
	return Snapshot{
		Rate:        c.limiter.Stats(id, c.clock()),
		ActiveTasks: len(c.registry.ListActive(id)),
		ActiveSlots: c.slots.Active(),
		Capacity:    c.slots.Capacity(),
	}
}

// Counts returns registry totals.
func (c *Coordinator) Counts() RegistryCounts {
	return c.registry.Counts()
}

// WindowLen returns the live rate window length for id.
func (c *Coordinator) WindowLen(id RequestorID) int {
	return c.limiter.WindowLen(id, c.clock())
}

// Sweep drops expired rate windows and completed tasks older than retention.
func (c *Coordinator) Sweep(retention time.Duration) (requestors int, tasks int) {
	now := c.clock()
	requestors = c.limiter.Sweep(now)
	tasks = c.registry.PurgeCompleted(now.Add(-retention))
	return requestors, tasks
}

// StartJanitor runs Sweep every interval until ctx ends. The returned channel
// closes when the janitor has stopped.
func (c *Coordinator) StartJanitor(ctx context.Context, every, retention time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if every <= 0 {
		every = time.Minute
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				requestors, tasks := c.Sweep(retention)
				if requestors > 0 || tasks > 0 {
					c.logger.Debug("Admission sweep",
						zap.Int("requestors_removed", requestors),
						zap.Int("tasks_purged", tasks))
				}
			}
		}
	}()
	return done
}
