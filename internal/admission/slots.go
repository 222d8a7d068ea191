package admission

import (
	"sync"

	"go.uber.org/zap"
)

// SlotPool bounds the number of tasks in flight across the process.
type SlotPool struct {
	mu       sync.Mutex
	active   int
	capacity int

	logger      Logger
	onViolation func()
}

// SlotOption configures a SlotPool.
type SlotOption func(*SlotPool)

// WithSlotLogger sets the logger used to report release violations.
func WithSlotLogger(logger Logger) SlotOption {
	return func(p *SlotPool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithViolationHook registers a callback run on every invalid release.
func WithViolationHook(fn func()) SlotOption {
	return func(p *SlotPool) { p.onViolation = fn }
}

// NewSlotPool returns a pool with the given capacity. A capacity of zero or
// less admits nothing.
func NewSlotPool(capacity int, opts ...SlotOption) *SlotPool {
	if capacity < 0 {
		capacity = 0
	}
	p := &SlotPool{capacity: capacity, logger: nopLogger{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// TryAcquire takes a slot if one is free.
func (p *SlotPool) TryAcquire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active >= p.capacity {
		return false
	}
	p.active++
	return true
}

// Release returns a slot. Releasing with no active slot never goes negative;
// it is reported and ErrSlotReleaseInvariant is returned.
func (p *SlotPool) Release() error {
	p.mu.Lock()
	if p.active == 0 {
		p.mu.Unlock()
		p.logger.Error("Slot released with no active tasks",
			zap.Int("capacity", p.capacity),
			zap.Stack("stack"))
		if p.onViolation != nil {
			p.onViolation()
		}
		return ErrSlotReleaseInvariant
	}
	p.active--
	p.mu.Unlock()
	return nil
}

// Active returns the number of held slots.
func (p *SlotPool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Capacity returns the configured ceiling.
func (p *SlotPool) Capacity() int {
	return p.capacity
}

// Available returns the number of free slots.
func (p *SlotPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity - p.active
}
