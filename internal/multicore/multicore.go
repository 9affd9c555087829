// Package multicore starts and coordinates the second core of the chip over
// the inter-core FIFO: the boot handshake, the PAUSE/RESUME protocol and the
// doorbell that pends an executor running on core 1.
package multicore

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ember/internal/arch"
	"ember/internal/chip"
	"ember/internal/executor"
	"ember/internal/logging"
	"ember/internal/trace"
)

// Reserved FIFO words. None of them can appear in a boot sequence after the
// leading 0, 0, 1.
const (
	PauseToken    uint32 = 0xDEADBEEF
	ResumeToken   uint32 = ^PauseToken
	DoorbellToken uint32 = 0xD00B_E11A
)

// Defaults for the boot handshake.
const (
	DefaultBootRetries = 16
	DefaultEchoTimeout = 50 * time.Millisecond
)

var (
	// ErrPeerBusy is returned when core 1 does not take a notification
	// within the retry budget.
	ErrPeerBusy = errors.New("peer core busy")
	// ErrNotStarted is returned by operations that need core 1 running.
	ErrNotStarted = errors.New("core 1 not started")
	// ErrEchoTimeout is returned when core 1 does not echo a boot word in
	// time. The handshake restarts on it.
	ErrEchoTimeout = errors.New("echo timeout")
	// ErrFIFOStalled is returned when a boot word cannot be written because
	// core 1 never drains its FIFO. The handshake restarts on it.
	ErrFIFOStalled = errors.New("fifo stalled")
	// ErrNotPaused is returned by ResumeCore1 without a matching PauseCore1.
	ErrNotPaused = errors.New("core 1 not paused")
)

// Options tune the controller.
type Options struct {
	BootRetries int
	EchoTimeout time.Duration
	NotifyTries int
	Logger      *slog.Logger
	Tracer      trace.Tracer
}

// Option changes one field of Options.
type Option func(*Options)

// WithBootRetries sets how many times the boot handshake may restart.
func WithBootRetries(n int) Option {
	return func(o *Options) { o.BootRetries = n }
}

// WithEchoTimeout sets how long the host waits for each echoed word.
func WithEchoTimeout(d time.Duration) Option {
	return func(o *Options) { o.EchoTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithTracer sets the tracer for boot, pause and resume spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Options) { o.Tracer = t }
}

// Controller drives core 1 from core 0.
type Controller struct {
	chip *chip.Chip
	opts Options
	log  *slog.Logger

	started atomic.Bool // SpawnCore1 claimed core 1
	running atomic.Bool // core 1 serves the FIFO protocol

	// mu serializes host-side protocol exchanges.
	mu     sync.Mutex
	paused int

	bell *Doorbell
}

// New returns a controller for ch. Core 1 is not touched until SpawnCore1.
func New(ch *chip.Chip, opts ...Option) *Controller {
	o := Options{
		BootRetries: DefaultBootRetries,
		EchoTimeout: DefaultEchoTimeout,
		NotifyTries: 8,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.BootRetries < 0 {
		o.BootRetries = 0
	}
	if o.EchoTimeout <= 0 {
		o.EchoTimeout = DefaultEchoTimeout
	}
	if o.Tracer == nil {
		o.Tracer = trace.Nop
	}
	log := o.Logger
	if log == nil {
		log = logging.Discard()
	}
	c := &Controller{
		chip: ch,
		opts: o,
		log:  log.With("component", "multicore"),
	}
	c.bell = &Doorbell{fifo: ch.Core0.TX, events: ch.Core1.Events, tracer: o.Tracer}
	return c
}

// Started reports whether core 1 runs the entry passed to SpawnCore1.
func (c *Controller) Started() bool {
	return c.running.Load()
}

// Doorbell returns the pender that wakes executors on core 1 from any core.
func (c *Controller) Doorbell() *Doorbell {
	return c.bell
}

// Core1Executor creates a thread-mode executor for core 1. Wakes reach it
// through the doorbell, so tasks on core 0 can wake tasks on core 1. Wakes
// raised while it polls only SEV core 1.
func (c *Controller) Core1Executor(id uint32, opts ...executor.Option) *arch.ThreadExecutor {
	te := arch.NewThreadExecutorWithPender(c.chip.Core1, id, c.bell, opts...)
	c.bell.watch(te.Executor().Polling)
	return te
}
