// Package chip simulates the parts of a dual-core microcontroller that an
// executor depends on: per-core event registers (SEV/WFE), per-core interrupt
// controllers, and the inter-core FIFO mailbox with the core-1 boot ROM.
//
// Cores and interrupt lines are goroutines. Code that runs "on" a core brackets
// its work with Core.Enter and Core.Leave so that another core can halt it at
// a well-defined point.
package chip

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Interrupt numbers of the inter-core FIFO on each core.
const (
	IrqSIOProc0 Interrupt = 15
	IrqSIOProc1 Interrupt = 16
)

// Core is one processor core.
type Core struct {
	ID      int
	Events  *EventRegister
	NVIC    *NVIC
	FIFOIrq Interrupt

	// TX carries words to the other core; RX carries words from it.
	TX *FIFO
	RX *FIFO

	gate sync.RWMutex
}

// Enter marks the start of a stretch of execution on the core. It blocks while
// the core is halted.
func (c *Core) Enter() {
	c.gate.RLock()
}

// Leave marks the end of a stretch started by Enter.
func (c *Core) Leave() {
	c.gate.RUnlock()
}

// Halt stops the core at the next boundary between Enter/Leave stretches and
// returns once nothing runs on it.
func (c *Core) Halt() {
	c.gate.Lock()
}

// Release lets a halted core continue.
func (c *Core) Release() {
	c.gate.Unlock()
}

// Config sizes the simulated chip.
type Config struct {
	FIFODepth int // words per direction
	IRQLines  int // interrupt lines per core
}

// DefaultConfig returns the sizes used when nothing is configured.
func DefaultConfig() Config {
	return Config{FIFODepth: 2, IRQLines: 32}
}

// Chip is a dual-core chip with a duplex FIFO mailbox between the cores.
type Chip struct {
	Core0   *Core
	Core1   *Core
	BootROM *BootROM
	Entries *EntryTable
}

// New builds a chip. Core 1 sits in its boot ROM until started.
func New(cfg Config) (*Chip, error) {
	if cfg.FIFODepth <= 0 {
		return nil, fmt.Errorf("chip: fifo depth must be positive, got %d", cfg.FIFODepth)
	}
	if cfg.IRQLines <= int(IrqSIOProc1) {
		return nil, fmt.Errorf("chip: need more than %d interrupt lines, got %d", IrqSIOProc1, cfg.IRQLines)
	}

	c0 := &Core{ID: 0, Events: NewEventRegister(), FIFOIrq: IrqSIOProc0}
	c1 := &Core{ID: 1, Events: NewEventRegister(), FIFOIrq: IrqSIOProc1}
	c0.NVIC = newNVIC(c0, cfg.IRQLines)
	c1.NVIC = newNVIC(c1, cfg.IRQLines)

	toCore1 := newFIFO(cfg.FIFODepth, c1)
	toCore0 := newFIFO(cfg.FIFODepth, c0)
	c0.TX, c0.RX = toCore1, toCore0
	c1.TX, c1.RX = toCore0, toCore1

	entries := NewEntryTable()
	return &Chip{
		Core0:   c0,
		Core1:   c1,
		Entries: entries,
		BootROM: newBootROM(c1, entries),
	}, nil
}

// Core returns the core with the given id.
func (ch *Chip) Core(id int) *Core {
	if id == 1 {
		return ch.Core1
	}
	return ch.Core0
}

// Run powers the chip: both interrupt controllers and the core-1 boot ROM run
// until ctx is cancelled. Core 0's thread mode is the caller's goroutine.
func (ch *Chip) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ch.Core0.NVIC.Run(gctx) })
	g.Go(func() error { return ch.Core1.NVIC.Run(gctx) })
	g.Go(func() error { return ch.BootROM.Run(gctx) })
	return g.Wait()
}
