package multicore

import (
	"context"
	"fmt"

	"ember/internal/trace"
)

// PauseCore1 halts core 1 at its next boundary between executor polls and
// returns once it is parked. Pauses nest; only the outermost pair reaches
// core 1. It does nothing if core 1 has not been started.
func (c *Controller) PauseCore1(ctx context.Context) error {
	if !c.running.Load() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused > 0 {
		c.paused++
		return nil
	}

	span := trace.Begin(c.opts.Tracer, trace.ScopeCore, "core1_pause", 0)
	if err := c.exchange(ctx, PauseToken); err != nil {
		span.End(err.Error())
		return fmt.Errorf("pause core 1: %w", err)
	}
	span.End("")
	c.paused = 1
	c.log.Debug("core 1 paused")
	return nil
}

// ResumeCore1 undoes one PauseCore1. It does nothing if core 1 has not been
// started.
func (c *Controller) ResumeCore1(ctx context.Context) error {
	if !c.running.Load() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.paused == 0:
		return fmt.Errorf("resume core 1: %w", ErrNotPaused)
	case c.paused > 1:
		c.paused--
		return nil
	}

	span := trace.Begin(c.opts.Tracer, trace.ScopeCore, "core1_resume", 0)
	if err := c.exchange(ctx, ResumeToken); err != nil {
		span.End(err.Error())
		return fmt.Errorf("resume core 1: %w", err)
	}
	span.End("")
	c.paused = 0
	c.log.Debug("core 1 resumed")
	return nil
}

// Paused reports whether core 1 is parked by PauseCore1.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused > 0
}

// exchange sends token and waits for core 1 to echo it.
func (c *Controller) exchange(ctx context.Context, token uint32) error {
	core := c.chip.Core0
	if err := core.TX.Write(ctx, token); err != nil {
		return err
	}
	for {
		word, err := core.RX.Read(ctx)
		if err != nil {
			return err
		}
		if word == token {
			return nil
		}
		c.log.Debug("dropping stray fifo word", "word", fmt.Sprintf("%#x", word))
	}
}
