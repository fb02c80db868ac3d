package undo

import (
	"fmt"

	"trxundo/pages"
	"trxundo/trx"
)

// State is the lifecycle state of an undo log segment, persisted in the
// segment header. Active and Prepared segments belong to a live transaction;
// the other three are terminal dispositions chosen at commit.
type State uint16

const (
	StateActive State = 1 + iota
	// StateCached: the finished log fit one mostly-empty page, so the
	// segment is kept for reuse by a later transaction.
	StateCached
	// StateToFree: a finished insert undo log; nothing needs it anymore and
	// the whole segment can be freed.
	StateToFree
	// StateToPurge: a finished update undo log; purge owns it from now on.
	StateToPurge
	// StatePrepared: the transaction is in XA prepared state.
	StatePrepared
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCached:
		return "cached"
	case StateToFree:
		return "to-free"
	case StateToPurge:
		return "to-purge"
	case StatePrepared:
		return "prepared"
	default:
		return fmt.Sprintf("State(%d)", uint16(s))
	}
}

// Log is the in-memory image of one undo log: the per-transaction view of an
// undo segment. It caches what the owning transaction needs to grow, read
// back and finish the log without re-parsing pages, and is rebuilt from the
// pages at startup.
type Log struct {
	id    uint16
	kind  Kind
	state State

	trxID trx.TrxID
	// trxNo is the commit serialization number; meaningful only once the
	// header reached the history list.
	trxNo         trx.TrxNo
	xid           trx.XID
	dictOperation bool
	tableID       uint64
	delMarks      bool

	rseg      *RollbackSegment
	spaceID   uint32
	hdrPageNo uint32
	hdrOffset uint16
	// lastPageNo tracks the tail of the segment page list; records are only
	// ever appended there.
	lastPageNo uint32
	// size is the page count of the segment, header page included.
	size uint32

	empty     bool
	topPageNo uint32
	topOffset uint16
	topUndoNo uint64

	// guess is an advisory pointer to the frame last touched. Purely a
	// shortcut hint; anyone using it must re-resolve through the pool.
	guess *pages.Page
}

func (l *Log) ID() uint16          { return l.id }
func (l *Log) Kind() Kind          { return l.kind }
func (l *Log) State() State        { return l.state }
func (l *Log) TrxID() trx.TrxID    { return l.trxID }
func (l *Log) TrxNo() trx.TrxNo    { return l.trxNo }
func (l *Log) XID() trx.XID        { return l.xid }
func (l *Log) DictOperation() bool { return l.dictOperation }
func (l *Log) TableID() uint64     { return l.tableID }
func (l *Log) HdrPageNo() uint32   { return l.hdrPageNo }
func (l *Log) HdrOffset() uint16   { return l.hdrOffset }
func (l *Log) LastPageNo() uint32  { return l.lastPageNo }
func (l *Log) Size() uint32        { return l.size }

// Empty reports whether the log holds no records.
func (l *Log) Empty() bool { return l.empty }

// TopRec returns the position and undo number of the latest record. Valid
// only when the log is not empty.
func (l *Log) TopRec() (pageNo uint32, offset uint16, undoNo uint64) {
	return l.topPageNo, l.topOffset, l.topUndoNo
}

func memCreate(r *RollbackSegment, id uint16, kind Kind, trxID trx.TrxID, xid trx.XID,
	pageNo uint32, offset uint16) *Log {
	if id >= NSlots {
		panic(fmt.Sprintf("undo slot id %v out of range", id))
	}
	return &Log{
		id:         id,
		kind:       kind,
		state:      StateActive,
		trxID:      trxID,
		xid:        xid,
		rseg:       r,
		spaceID:    r.space.ID(),
		hdrPageNo:  pageNo,
		hdrOffset:  offset,
		lastPageNo: pageNo,
		size:       1,
		empty:      true,
		topPageNo:  pageNo,
	}
}

// memInitForReuse resets a cached log image for a new owning transaction.
// The segment identity fields stay; everything per-transaction is wiped.
func memInitForReuse(l *Log, trxID trx.TrxID, xid trx.XID, offset uint16) {
	if l.id >= NSlots {
		panic(fmt.Sprintf("undo slot id %v out of range", l.id))
	}
	l.state = StateActive
	l.trxID = trxID
	l.trxNo = 0
	l.xid = xid
	l.dictOperation = false
	l.tableID = 0
	l.delMarks = false
	l.hdrOffset = offset
	l.empty = true
	l.topPageNo = l.hdrPageNo
	l.topOffset = 0
	l.topUndoNo = 0
	l.guess = nil
}
