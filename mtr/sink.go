package mtr

import (
	"sync"

	"trxundo/pages"
)

// Sink receives committed redo records. The redo log's own durability
// protocol is outside this module; a sink only has to hand out monotonic
// LSNs so that replay can stay idempotent.
type Sink interface {
	Append(rec *Rec) pages.LSN
}

// NoopSink assigns LSNs without retaining anything.
type NoopSink struct {
	mu  sync.Mutex
	lsn pages.LSN
}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (s *NoopSink) Append(rec *Rec) pages.LSN {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lsn++
	rec.Lsn = s.lsn
	return s.lsn
}

// MemSink retains every appended record, in order. Used by recovery tests to
// replay deltas.
type MemSink struct {
	mu   sync.Mutex
	lsn  pages.LSN
	Recs []*Rec
}

func NewMemSink() *MemSink {
	return &MemSink{}
}

func (s *MemSink) Append(rec *Rec) pages.LSN {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lsn++
	rec.Lsn = s.lsn
	s.Recs = append(s.Recs, rec)
	return s.lsn
}
