// Package workerpool builds the three shared ants pools of spec §5's
// scheduling model: I/O-bound feed/venue tasks, CPU-bound book and
// position updates, and timer/driver tasks for algorithm slicers and
// the reconciler.
package workerpool

import (
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Class names the three task classes.
type Class string

const (
	ClassIO    Class = "io"
	ClassCPU   Class = "cpu"
	ClassTimer Class = "timer"
)

// Pool wraps one ants.Pool with its class for logging.
type Pool struct {
	class  Class
	pool   *ants.Pool
	logger *zap.Logger
}

// Submit hands task to the pool; a full pool returns ants.ErrPoolOverload
// and the caller decides whether to run inline or drop.
func (p *Pool) Submit(task func()) error {
	return p.pool.Submit(task)
}

// Running reports the number of currently executing workers.
func (p *Pool) Running() int { return p.pool.Running() }

// Cap reports the pool's capacity.
func (p *Pool) Cap() int { return p.pool.Cap() }

// Pools holds the per-class pools, constructed once at startup and
// shared by every component.
type Pools struct {
	IO    *Pool
	CPU   *Pool
	Timer *Pool

	logger *zap.Logger
}

// Sizes configures each class's worker count.
type Sizes struct {
	IO    int
	CPU   int
	Timer int
}

func DefaultSizes() Sizes {
	return Sizes{IO: 256, CPU: 64, Timer: 16}
}

// New builds the three pools. Pools are non-blocking: a saturated pool
// rejects rather than queueing unboundedly, so backpressure surfaces
// at the submission site instead of hiding in an internal queue.
func New(sizes Sizes, logger *zap.Logger) (*Pools, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	build := func(class Class, size int) (*Pool, error) {
		p, err := ants.NewPool(size,
			ants.WithNonblocking(true),
			ants.WithPanicHandler(func(v interface{}) {
				logger.Error("worker panic recovered", zap.String("class", string(class)), zap.Any("panic", v))
			}),
		)
		if err != nil {
			return nil, err
		}
		return &Pool{class: class, pool: p, logger: logger}, nil
	}

	io, err := build(ClassIO, sizes.IO)
	if err != nil {
		return nil, err
	}
	cpu, err := build(ClassCPU, sizes.CPU)
	if err != nil {
		io.pool.Release()
		return nil, err
	}
	timer, err := build(ClassTimer, sizes.Timer)
	if err != nil {
		io.pool.Release()
		cpu.pool.Release()
		return nil, err
	}
	return &Pools{IO: io, CPU: cpu, Timer: timer, logger: logger}, nil
}

// Release tears down all three pools, logging final utilization.
func (p *Pools) Release() {
	for _, pool := range []*Pool{p.IO, p.CPU, p.Timer} {
		p.logger.Info("releasing worker pool",
			zap.String("class", string(pool.class)),
			zap.Int("running", pool.Running()),
			zap.Int("capacity", pool.Cap()))
		pool.pool.Release()
	}
}
