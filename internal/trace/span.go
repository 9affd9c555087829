package trace

import (
	"sync/atomic"
	"time"
)

var (
	globalSeq   uint64
	globalSpans uint64
)

// NextSeq returns a monotonically increasing sequence number.
func NextSeq() uint64 {
	return atomic.AddUint64(&globalSeq, 1)
}

// NextSpanID returns a unique span ID.
func NextSpanID() uint64 {
	return atomic.AddUint64(&globalSpans, 1)
}

// NoCore tags events that do not belong to a core, such as heartbeats.
const NoCore = -1

func coreTag(core int) int8 {
	if core < 0 || core > 127 {
		return NoCore
	}
	return int8(core)
}

// Point emits an instant event on the given core.
func Point(t Tracer, scope Scope, core int, name, detail string) {
	if t == nil || !t.Enabled() || !t.Level().ShouldEmit(scope) {
		return
	}
	t.Emit(&Event{
		Time:   time.Now(),
		Kind:   KindPoint,
		Scope:  scope,
		Core:   coreTag(core),
		Name:   name,
		Detail: detail,
	})
}

// Span tracks a logical operation such as a core boot.
type Span struct {
	tracer  Tracer
	id      uint64
	core    int8
	scope   Scope
	name    string
	started time.Time
	extra   map[string]string
}

// Begin starts a span driven from core and emits its SpanBegin event.
func Begin(t Tracer, scope Scope, name string, core int) *Span {
	if t == nil || !t.Enabled() || !t.Level().ShouldEmit(scope) {
		return &Span{tracer: Nop}
	}

	s := &Span{
		tracer:  t,
		id:      NextSpanID(),
		core:    coreTag(core),
		scope:   scope,
		name:    name,
		started: time.Now(),
	}
	t.Emit(&Event{
		Time:   s.started,
		Kind:   KindSpanBegin,
		Scope:  scope,
		SpanID: s.id,
		Core:   s.core,
		Name:   name,
	})
	return s
}

// End emits SpanEnd event and returns the duration.
func (s *Span) End(detail string) time.Duration {
	if s == nil || s.tracer == nil || !s.tracer.Enabled() {
		return 0
	}

	dur := time.Since(s.started)
	s.tracer.Emit(&Event{
		Time:   time.Now(),
		Kind:   KindSpanEnd,
		Scope:  s.scope,
		SpanID: s.id,
		Core:   s.core,
		Name:   s.name,
		Detail: detail,
		Extra:  s.extra,
	})
	return dur
}

// WithExtra adds a key-value pair to the end event.
func (s *Span) WithExtra(key, value string) *Span {
	if s == nil || s.tracer == nil || !s.tracer.Enabled() {
		return s
	}
	if s.extra == nil {
		s.extra = make(map[string]string)
	}
	s.extra[key] = value
	return s
}

// ID returns the span ID.
func (s *Span) ID() uint64 {
	if s == nil {
		return 0
	}
	return s.id
}
