package chip

import "context"

// EventRegister models the one-bit event latch behind SEV and WFE.
//
// Sev sets the latch. Wfe returns immediately if the latch is set, clearing
// it, and otherwise sleeps until the next Sev. A Sev that lands between a
// core's last check for work and its Wfe is therefore never lost.
type EventRegister struct {
	latch chan struct{}
}

// NewEventRegister returns a cleared event register.
func NewEventRegister() *EventRegister {
	return &EventRegister{latch: make(chan struct{}, 1)}
}

// Sev sets the event latch.
func (e *EventRegister) Sev() {
	select {
	case e.latch <- struct{}{}:
	default:
	}
}

// Wfe waits for the event latch and clears it.
func (e *EventRegister) Wfe(ctx context.Context) error {
	select {
	case <-e.latch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports whether the latch is set, without clearing it.
func (e *EventRegister) Pending() bool {
	return len(e.latch) > 0
}
