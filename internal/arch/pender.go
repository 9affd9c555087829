// Package arch binds executors to the simulated chip: thread-mode executors
// that sleep in WFE between polls, and interrupt-mode executors polled from a
// software-pended interrupt line.
package arch

import (
	"fmt"

	"fortio.org/safecast"

	"ember/internal/chip"
)

// ThreadPender is the pender context of thread-mode executors. Any other
// context value is the number of the interrupt line to pend.
const ThreadPender uintptr = ^uintptr(0)

// Platform is the pender of every executor running on one core.
type Platform struct {
	core *chip.Core
}

// NewPlatform returns the pender for executors on core.
func NewPlatform(core *chip.Core) *Platform {
	return &Platform{core: core}
}

// Pend signals the executor identified by context: SEV for thread mode,
// an interrupt pend otherwise.
func (p *Platform) Pend(context uintptr) {
	if context == ThreadPender {
		p.core.Events.Sev()
		return
	}
	irq, err := safecast.Conv[uint16](context)
	if err != nil {
		panic(fmt.Sprintf("arch: pender context %#x is not an interrupt number", context))
	}
	p.core.NVIC.Pend(chip.Interrupt(irq))
}
