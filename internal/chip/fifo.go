package chip

import "context"

// FIFO is one direction of the inter-core mailbox. Writes wake the receiving
// core: they set its event register and pend its FIFO interrupt.
type FIFO struct {
	words    chan uint32
	receiver *Core
}

func newFIFO(depth int, receiver *Core) *FIFO {
	return &FIFO{words: make(chan uint32, depth), receiver: receiver}
}

// Depth returns the capacity of the FIFO in words.
func (f *FIFO) Depth() int {
	return cap(f.words)
}

// TryWrite pushes a word if there is room.
func (f *FIFO) TryWrite(v uint32) bool {
	select {
	case f.words <- v:
		f.notify()
		return true
	default:
		return false
	}
}

// Write pushes a word, waiting while the FIFO is full.
func (f *FIFO) Write(ctx context.Context, v uint32) error {
	select {
	case f.words <- v:
		f.notify()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryRead pops a word if one is available.
func (f *FIFO) TryRead() (uint32, bool) {
	select {
	case v := <-f.words:
		return v, true
	default:
		return 0, false
	}
}

// Read pops a word, waiting until one arrives.
func (f *FIFO) Read(ctx context.Context) (uint32, error) {
	select {
	case v := <-f.words:
		return v, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Drain discards every queued word.
func (f *FIFO) Drain() {
	for {
		if _, ok := f.TryRead(); !ok {
			return
		}
	}
}

// HasData reports whether a word is waiting.
func (f *FIFO) HasData() bool {
	return len(f.words) > 0
}

func (f *FIFO) notify() {
	if f.receiver == nil {
		return
	}
	f.receiver.Events.Sev()
	f.receiver.NVIC.Pend(f.receiver.FIFOIrq)
}
