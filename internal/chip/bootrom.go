package chip

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"fortio.org/safecast"
)

// Simulated memory map.
const (
	FlashBase       uint32 = 0x1000_0000
	VectorTableAddr uint32 = FlashBase + 0x100
	EntryBase       uint32 = FlashBase + 0x1000
	SRAMBase        uint32 = 0x2000_0000
)

// Entry is code a core can jump to.
type Entry func(ctx context.Context)

// EntryTable maps simulated code addresses to entries.
type EntryTable struct {
	mu      sync.RWMutex
	entries map[uint32]Entry
	next    uint32
}

// NewEntryTable returns an empty table.
func NewEntryTable() *EntryTable {
	return &EntryTable{entries: make(map[uint32]Entry), next: EntryBase}
}

// Register assigns an address to e.
func (t *EntryTable) Register(e Entry) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	addr := t.next
	t.next += 4
	t.entries[addr] = e
	return addr
}

// Lookup returns the entry at addr.
func (t *EntryTable) Lookup(addr uint32) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[addr]
	return e, ok
}

// BootROM is the code core 1 runs out of reset. It echoes every word it
// receives on its FIFO and launches once the last six words read
// 0, 0, 1, vector table, stack pointer, entry.
type BootROM struct {
	core    *Core
	entries *EntryTable

	dropEcho atomic.Int32
	launched atomic.Bool
	window   [6]uint32
	seen     int

	// StackPointer and VectorTable hold the values core 1 launched with.
	StackPointer atomic.Uint32
	VectorTable  atomic.Uint32
}

func newBootROM(core *Core, entries *EntryTable) *BootROM {
	return &BootROM{core: core, entries: entries}
}

// DropEchoes makes the boot ROM swallow the echo of the next n words. It
// stands in for a flaky link in tests and in `ember boot --drop`.
func (b *BootROM) DropEchoes(n int) {
	v, err := safecast.Conv[int32](n)
	if err != nil {
		v = math.MaxInt32
	}
	b.dropEcho.Store(v)
}

// Launched reports whether core 1 has left the boot ROM.
func (b *BootROM) Launched() bool {
	return b.launched.Load()
}

// Run serves the launch protocol until an entry is launched, then runs the
// entry on the same goroutine.
func (b *BootROM) Run(ctx context.Context) error {
	for {
		word, err := b.core.RX.Read(ctx)
		if err != nil {
			return nil
		}
		if b.dropEcho.Load() > 0 {
			b.dropEcho.Add(-1)
		} else if err := b.core.TX.Write(ctx, word); err != nil {
			return nil
		}

		entry, ok := b.accept(word)
		if !ok {
			continue
		}
		b.launched.Store(true)
		entry(ctx)
		return nil
	}
}

func (b *BootROM) accept(word uint32) (Entry, bool) {
	copy(b.window[:], b.window[1:])
	b.window[5] = word
	if b.seen < len(b.window) {
		b.seen++
	}
	if b.seen < len(b.window) {
		return nil, false
	}
	w := b.window
	if w[0] != 0 || w[1] != 0 || w[2] != 1 || w[3] == 0 || w[4] == 0 {
		return nil, false
	}
	entry, ok := b.entries.Lookup(w[5])
	if !ok {
		return nil, false
	}
	b.VectorTable.Store(w[3])
	b.StackPointer.Store(w[4])
	return entry, true
}

// String describes the launch state.
func (b *BootROM) String() string {
	if b.Launched() {
		return fmt.Sprintf("core1 running (vtor=%#x sp=%#x)", b.VectorTable.Load(), b.StackPointer.Load())
	}
	return "core1 in boot rom"
}
