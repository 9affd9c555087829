package multicore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"fortio.org/safecast"

	"ember/internal/chip"
	"ember/internal/trace"
)

// Stack is the memory core 1 runs on.
type Stack struct {
	base  uint32
	words int
}

// NewStack reserves a stack of the given number of 32-bit words at the start
// of SRAM.
func NewStack(words int) *Stack {
	return &Stack{base: chip.SRAMBase, words: words}
}

// Top returns the initial stack pointer: the address just past the stack.
func (s *Stack) Top() (uint32, error) {
	if s == nil || s.words <= 0 {
		return 0, errors.New("stack must hold at least one word")
	}
	size, err := safecast.Conv[uint32](s.words * 4)
	if err != nil {
		return 0, fmt.Errorf("stack of %d words: %w", s.words, err)
	}
	if size > ^uint32(0)-s.base {
		return 0, fmt.Errorf("stack of %d words does not fit in the address space", s.words)
	}
	return s.base + size, nil
}

// SpawnCore1 starts entry on core 1. It sends the boot sequence
// 0, 0, 1, vector table, stack pointer, entry address and waits for each
// word to be echoed. A wrong or missing echo, or a word core 1 never takes
// off its FIFO, restarts the sequence from the first word. It returns the number of words exchanged.
//
// Running out of restarts means core 1 is unrecoverable; SpawnCore1 panics.
func (c *Controller) SpawnCore1(ctx context.Context, stack *Stack, entry chip.Entry) (int, error) {
	if !c.started.CompareAndSwap(false, true) {
		return 0, errors.New("core 1 already started")
	}
	sp, err := stack.Top()
	if err != nil {
		c.started.Store(false)
		return 0, fmt.Errorf("spawn core 1: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	addr := c.chip.Entries.Register(c.core1Main(entry))
	seq := [6]uint32{0, 0, 1, chip.VectorTableAddr, sp, addr}

	span := trace.Begin(c.opts.Tracer, trace.ScopeCore, "core1_boot", 0)
	trips, restarts, err := c.handshake(ctx, seq)
	span.WithExtra("round_trips", strconv.Itoa(trips)).
		WithExtra("restarts", strconv.Itoa(restarts)).
		End(c.chip.BootROM.String())
	if err != nil {
		c.started.Store(false)
		return trips, fmt.Errorf("spawn core 1: %w", err)
	}
	c.log.Info("core 1 started", "entry", fmt.Sprintf("%#x", addr), "sp", fmt.Sprintf("%#x", sp),
		"round_trips", trips, "restarts", restarts)
	return trips, nil
}

func (c *Controller) handshake(ctx context.Context, seq [6]uint32) (trips, restarts int, err error) {
	core := c.chip.Core0
	for i := 0; i < len(seq); {
		word := seq[i]
		if word == 0 {
			core.RX.Drain()
			core.Events.Sev()
		}

		var echo uint32
		err := c.writeWord(ctx, word)
		if err == nil {
			trips++
			echo, err = c.readEcho(ctx)
			if err == nil && echo == word {
				i++
				continue
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return trips, restarts, ctxErr
		}

		restarts++
		c.log.Debug("boot handshake restart", "word", i, "sent", word, "echo", echo, "err", err)
		trace.Point(c.opts.Tracer, trace.ScopeCore, 0, "core1_boot_restart",
			fmt.Sprintf("word=%d sent=%#x echo=%#x err=%v", i, word, echo, err))
		if restarts > c.opts.BootRetries {
			panic(fmt.Sprintf("multicore: core 1 did not answer the boot handshake after %d restarts", restarts-1))
		}
		i = 0
	}
	return trips, restarts, nil
}

// writeWord pushes one boot word, giving up after the echo timeout when core
// 1 does not drain its FIFO.
func (c *Controller) writeWord(ctx context.Context, word uint32) error {
	wctx, cancel := context.WithTimeout(ctx, c.opts.EchoTimeout)
	defer cancel()
	err := c.chip.Core0.TX.Write(wctx, word)
	if err != nil && ctx.Err() == nil {
		return ErrFIFOStalled
	}
	return err
}

func (c *Controller) readEcho(ctx context.Context) (uint32, error) {
	rctx, cancel := context.WithTimeout(ctx, c.opts.EchoTimeout)
	defer cancel()
	word, err := c.chip.Core0.RX.Read(rctx)
	if err != nil && ctx.Err() == nil {
		return 0, ErrEchoTimeout
	}
	return word, err
}
