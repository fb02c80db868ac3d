package mtr

import (
	"fmt"

	"trxundo/buffer"
	"trxundo/pages"
)

// LatchMode is the latch requested when a mini-transaction resolves a page.
type LatchMode int

const (
	Shared LatchMode = iota
	Exclusive
)

type memoEntry struct {
	page *pages.Page
	mode LatchMode
}

// MiniTx is the atomic mutation envelope: it collects the page byte-writes
// of one logical operation, appends compact redo records describing them,
// and releases every latch and pin it took when it commits.
//
// Byte writes are applied to the latched frame at call time; all-or-nothing
// over a crash is the redo log's durability protocol, which is out of scope
// here. A mini-transaction is not safe for concurrent use.
type MiniTx struct {
	pool        buffer.Pool
	sink        Sink
	redoEnabled bool
	memo        []memoEntry
	committed   bool
}

// Begin opens a mini-transaction. When redoEnabled is false no records reach
// the sink; this is the mode used by non-redo-logged rollback segments.
func Begin(pool buffer.Pool, sink Sink, redoEnabled bool) *MiniTx {
	return &MiniTx{pool: pool, sink: sink, redoEnabled: redoEnabled}
}

// GetPage resolves a page through the pool, latches it in the requested mode
// and registers it in the memo. Resolving a page the mini-transaction already
// holds exclusively returns the same frame without relatching; downgrades are
// free, an upgrade request is a contract violation.
func (m *MiniTx) GetPage(id pages.PageID, mode LatchMode) (*pages.Page, error) {
	m.checkOpen()

	for _, e := range m.memo {
		if e.page.GetID() != id {
			continue
		}
		if mode == Exclusive && e.mode != Exclusive {
			panic(fmt.Sprintf("latch upgrade requested on page %v", id))
		}
		return e.page, nil
	}

	p, err := m.pool.GetPage(id)
	if err != nil {
		return nil, err
	}

	m.latchAndRemember(p, mode)
	return p, nil
}

// CreatePage registers a zeroed frame for a freshly allocated page number,
// X-latched and memo'd.
func (m *MiniTx) CreatePage(id pages.PageID) *pages.Page {
	m.checkOpen()

	p := m.pool.CreatePage(id)
	m.latchAndRemember(p, Exclusive)
	return p
}

func (m *MiniTx) latchAndRemember(p *pages.Page, mode LatchMode) {
	if mode == Exclusive {
		p.WLatch()
	} else {
		p.RLatch()
	}
	m.memo = append(m.memo, memoEntry{page: p, mode: mode})
}

// Write1 applies a one byte write to an X-latched page and redo-logs it.
func (m *MiniTx) Write1(p *pages.Page, off uint16, val uint8) {
	m.apply(p, NewWrite1Rec(p.GetID(), off, val))
}

func (m *MiniTx) Write2(p *pages.Page, off uint16, val uint16) {
	m.apply(p, NewWrite2Rec(p.GetID(), off, val))
}

func (m *MiniTx) Write4(p *pages.Page, off uint16, val uint32) {
	m.apply(p, NewWrite4Rec(p.GetID(), off, val))
}

func (m *MiniTx) Write8(p *pages.Page, off uint16, val uint64) {
	m.apply(p, NewWrite8Rec(p.GetID(), off, val))
}

func (m *MiniTx) WriteBytes(p *pages.Page, off uint16, data []byte) {
	m.apply(p, NewWriteBytesRec(p.GetID(), off, data))
}

func (m *MiniTx) apply(p *pages.Page, rec *Rec) {
	m.assertX(p)
	ApplyWrite(rec, p)
	m.Record(p, rec)
}

// Record appends a redo record for a mutation the caller has already applied
// to the page bytes. Used by the undo-specific record kinds whose replay
// re-derives the full layout from a tiny payload.
func (m *MiniTx) Record(p *pages.Page, rec *Rec) {
	m.assertX(p)
	p.SetDirty()
	if !m.redoEnabled {
		return
	}
	lsn := m.sink.Append(rec)
	p.SetPageLSN(lsn)
}

func (m *MiniTx) assertX(p *pages.Page) {
	m.checkOpen()
	for _, e := range m.memo {
		if e.page == p {
			if e.mode != Exclusive {
				panic(fmt.Sprintf("write to a page held with a shared latch: %v", p.GetID()))
			}
			return
		}
	}
	panic(fmt.Sprintf("write to a page the mini-transaction does not hold: %v", p.GetID()))
}

// Commit releases every latch and pin in memo order. Committing twice is a
// contract violation.
func (m *MiniTx) Commit() {
	m.checkOpen()
	m.committed = true

	for i := len(m.memo) - 1; i >= 0; i-- {
		e := m.memo[i]
		if e.mode == Exclusive {
			e.page.WUnlatch()
		} else {
			e.page.RUnLatch()
		}
		m.pool.Unpin(e.page.GetID(), e.page.IsDirty())
	}
	m.memo = nil
}

// Release drops a single page from the memo before commit. Needed when a
// page is freed inside the mini-transaction and its frame is about to be
// forgotten by the pool.
func (m *MiniTx) Release(p *pages.Page) {
	m.checkOpen()
	for i, e := range m.memo {
		if e.page != p {
			continue
		}
		if e.mode == Exclusive {
			e.page.WUnlatch()
		} else {
			e.page.RUnLatch()
		}
		m.pool.Unpin(p.GetID(), p.IsDirty())
		m.memo = append(m.memo[:i], m.memo[i+1:]...)
		return
	}
	panic(fmt.Sprintf("released a page the mini-transaction does not hold: %v", p.GetID()))
}

func (m *MiniTx) checkOpen() {
	if m.committed {
		panic("mini-transaction used after commit")
	}
}

// RedoEnabled reports whether mutations are being redo-logged.
func (m *MiniTx) RedoEnabled() bool {
	return m.redoEnabled
}
