package undo

import (
	"fmt"

	"github.com/pkg/errors"

	"trxundo/flst"
	"trxundo/mtr"
	"trxundo/pages"
	"trxundo/trx"
)

// AddPage grows the undo log by one page appended to the segment page list.
// Returns nil without error when the space or the segment size cap is
// exhausted; callers treat that as backpressure and report the transaction
// out of space themselves.
func (r *RollbackSegment) AddPage(m *mtr.MiniTx, l *Log) (*pages.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currSize >= r.maxSize {
		return nil, nil
	}

	hdrPage, err := m.GetPage(pages.PageID{SpaceID: r.space.ID(), PageNo: l.hdrPageNo}, mtr.Exclusive)
	if err != nil {
		return nil, errors.Wrap(err, "reading the undo segment header page")
	}

	if err := r.space.ReserveExtents(1); err != nil {
		return nil, nil
	}
	newPage := r.space.AllocPage(m, hdrPage, segHdrFseg, l.topPageNo+1)
	r.space.ReleaseExtents(1)
	if newPage == nil {
		return nil, nil
	}

	pageInit(m, newPage, l.kind)
	if err := flst.AddLast(m, r.space.ID(), hdrPage, segHdrPageList, newPage, pageHdrNode); err != nil {
		return nil, err
	}

	l.lastPageNo = newPage.GetID().PageNo
	l.size++
	r.currSize++
	l.guess = newPage
	return newPage, nil
}

// freePage unlinks one page from the segment page list and returns it to the
// space, giving back the new last page number. The header page can never be
// freed this way. Caller holds the rollback segment mutex.
func (r *RollbackSegment) freePage(m *mtr.MiniTx, inHistory bool, hdrPageNo, pageNo uint32) (uint32, error) {
	if pageNo == hdrPageNo {
		panic(fmt.Sprintf("freeing the header page %v of an undo segment", pageNo))
	}

	hdrPage, err := m.GetPage(pages.PageID{SpaceID: r.space.ID(), PageNo: hdrPageNo}, mtr.Exclusive)
	if err != nil {
		return 0, errors.Wrap(err, "reading the undo segment header page")
	}
	undoPage, err := m.GetPage(pages.PageID{SpaceID: r.space.ID(), PageNo: pageNo}, mtr.Exclusive)
	if err != nil {
		return 0, errors.Wrap(err, "reading the undo page being freed")
	}

	if err := flst.Remove(m, r.space.ID(), hdrPage, segHdrPageList, undoPage, pageHdrNode); err != nil {
		return 0, err
	}
	m.Release(undoPage)
	r.space.FreePage(hdrPage, segHdrFseg, pageNo)

	if inHistory {
		rsegHdr, err := m.GetPage(r.headerID(), mtr.Exclusive)
		if err != nil {
			return 0, errors.Wrap(err, "reading the rollback segment header")
		}
		m.Write4(rsegHdr, rsegHdrHistorySize, readU32(rsegHdr, rsegHdrHistorySize)-1)
	} else {
		r.currSize--
	}

	return flst.GetLast(hdrPage, segHdrPageList).PageNo, nil
}

func (r *RollbackSegment) freeLastPage(m *mtr.MiniTx, l *Log) error {
	if l.lastPageNo == l.hdrPageNo {
		panic("freeing the last page of an undo log which is its header page")
	}
	last, err := r.freePage(m, false, l.hdrPageNo, l.lastPageNo)
	if err != nil {
		return err
	}
	l.lastPageNo = last
	l.size--
	return nil
}

// TruncateEnd removes every record with undo number >= limit from the tail
// of the log, freeing whole pages as they empty out. Each freed page gets
// its own mini-transaction so that a long rollback stays a sequence of
// small atomic mutations.
func (r *RollbackSegment) TruncateEnd(l *Log, limit uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		m := mtr.Begin(r.pool, r.sink, r.redoEnabled)

		page, err := m.GetPage(pages.PageID{SpaceID: r.space.ID(), PageNo: l.lastPageNo}, mtr.Exclusive)
		if err != nil {
			m.Commit()
			return errors.Wrap(err, "reading the last undo page")
		}

		var truncHere uint16
		stop := l.lastPageNo == l.hdrPageNo
		for rec := pageLastRec(page, l.hdrPageNo, l.hdrOffset); rec != 0; rec = pagePrevRec(page, rec, l.hdrPageNo, l.hdrOffset) {
			if recUndoNo(page, rec) < limit {
				stop = true
				break
			}
			truncHere = rec
		}

		if stop {
			if truncHere != 0 {
				m.Write2(page, pageHdrFree, truncHere)
			}
			r.refreshTop(m, l)
			m.Commit()
			return nil
		}

		if err := r.freeLastPage(m, l); err != nil {
			m.Commit()
			return err
		}
		m.Commit()
	}
}

// refreshTop recomputes the latest-record fields from the last page, which
// the mini-transaction already holds.
func (r *RollbackSegment) refreshTop(m *mtr.MiniTx, l *Log) {
	page, err := m.GetPage(pages.PageID{SpaceID: r.space.ID(), PageNo: l.lastPageNo}, mtr.Exclusive)
	if err != nil {
		panic(fmt.Sprintf("last undo page %v vanished mid-operation: %v", l.lastPageNo, err))
	}
	rec := pageLastRec(page, l.hdrPageNo, l.hdrOffset)
	if rec == 0 {
		l.empty = true
		l.topPageNo = l.hdrPageNo
		l.topOffset = 0
		l.topUndoNo = 0
		return
	}
	l.empty = false
	l.topPageNo = l.lastPageNo
	l.topOffset = rec
	l.topUndoNo = recUndoNo(page, rec)
	l.guess = page
}

// TruncateStart removes records with undo number < limit from the head of
// the log identified by its header position. Only whole pages are released;
// a page still holding a record at or past the limit is left alone, and the
// header page is never freed, only emptied by advancing the log start.
// This is the purge-driven counterpart of TruncateEnd.
func (r *RollbackSegment) TruncateStart(hdrPageNo uint32, hdrOffset uint16, limit uint64) error {
	if limit == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		m := mtr.Begin(r.pool, r.sink, r.redoEnabled)

		page, rec, err := GetFirstRec(m, r.space.ID(), hdrPageNo, hdrOffset, mtr.Exclusive)
		if err != nil {
			m.Commit()
			return err
		}
		if rec == 0 {
			m.Commit()
			return nil
		}

		lastRec := pageLastRec(page, hdrPageNo, hdrOffset)
		if recUndoNo(page, lastRec) >= limit {
			m.Commit()
			return nil
		}

		if page.GetID().PageNo == hdrPageNo {
			emptyHeaderPage(m, page, hdrPageNo, hdrOffset)
		} else if _, err := r.freePage(m, true, hdrPageNo, page.GetID().PageNo); err != nil {
			m.Commit()
			return err
		}
		m.Commit()
	}
}

// emptyHeaderPage advances the log start past every record on the header
// page without freeing anything.
func emptyHeaderPage(m *mtr.MiniTx, p *pages.Page, hdrPageNo uint32, hdrOffset uint16) {
	end := pageGetEnd(p, hdrPageNo, hdrOffset)
	m.Write2(p, hdrOffset+logHdrLogStart, end)
}

// SegFree returns the whole file segment of a finished log to the space, one
// page per mini-transaction, and clears the undo slot once the allocator
// reports the segment gone.
func (r *RollbackSegment) SegFree(l *Log) error {
	if l.state != StateToFree {
		panic(fmt.Sprintf("freeing the segment of an undo log in state %v", l.state))
	}

	for {
		m := mtr.Begin(r.pool, r.sink, r.redoEnabled)
		r.mu.Lock()

		hdrPage, err := m.GetPage(pages.PageID{SpaceID: r.space.ID(), PageNo: l.hdrPageNo}, mtr.Exclusive)
		if err != nil {
			r.mu.Unlock()
			m.Commit()
			return errors.Wrap(err, "reading the undo segment header page")
		}

		finished := r.space.FreeStep(m, hdrPage, segHdrFseg)
		if finished {
			rsegHdr, err := m.GetPage(r.headerID(), mtr.Exclusive)
			if err != nil {
				r.mu.Unlock()
				m.Commit()
				return errors.Wrap(err, "reading the rollback segment header")
			}
			r.setSlot(m, rsegHdr, l.id, pages.NullPageNo)
		}

		r.mu.Unlock()
		m.Commit()
		if finished {
			return nil
		}
	}
}

// SetStateAtFinish picks the terminal disposition of the log at transaction
// finish and persists it in the segment header. Returns the header page,
// still latched in the mini-transaction, so that update cleanup can continue
// on it atomically.
func (r *RollbackSegment) SetStateAtFinish(m *mtr.MiniTx, l *Log) (*pages.Page, error) {
	page, err := m.GetPage(pages.PageID{SpaceID: r.space.ID(), PageNo: l.hdrPageNo}, mtr.Exclusive)
	if err != nil {
		return nil, errors.Wrap(err, "reading the undo segment header page")
	}

	var state State
	switch {
	case l.size == 1 && readU16(page, pageHdrFree) < r.cfg.PageReuseLimit:
		state = StateCached
	case l.kind == KindInsert:
		state = StateToFree
	default:
		state = StateToPurge
	}

	l.state = state
	m.Write2(page, segHdrState, uint16(state))
	return page, nil
}

// SetStateAtPrepare moves the log into the prepared state and persists the
// XID, or backs out of it again when rollback is true.
func (r *RollbackSegment) SetStateAtPrepare(m *mtr.MiniTx, l *Log, xid trx.XID, rollback bool) (*pages.Page, error) {
	page, err := m.GetPage(pages.PageID{SpaceID: r.space.ID(), PageNo: l.hdrPageNo}, mtr.Exclusive)
	if err != nil {
		return nil, errors.Wrap(err, "reading the undo segment header page")
	}

	if rollback {
		if l.state != StatePrepared {
			panic(fmt.Sprintf("rolling back the prepare of an undo log in state %v", l.state))
		}
		l.state = StateActive
		m.Write2(page, segHdrState, uint16(StateActive))
		return page, nil
	}

	if l.state != StateActive {
		panic(fmt.Sprintf("preparing an undo log in state %v", l.state))
	}
	l.state = StatePrepared
	l.xid = xid
	m.Write2(page, segHdrState, uint16(StatePrepared))

	offset := readU16(page, segHdrLastLog)
	m.Write1(page, offset+logHdrXIDExists, 1)
	writeXID(m, page, offset, xid)
	return page, nil
}

// CommitCleanup disposes of a finished insert undo log: cached segments go
// back on the reuse list, everything else is physically freed right away.
func (r *RollbackSegment) CommitCleanup(l *Log) error {
	if l.kind != KindInsert {
		panic(fmt.Sprintf("commit cleanup of a %v undo log", l.kind))
	}

	r.mu.Lock()
	removeLog(&r.insertActive, l)
	if l.state == StateCached {
		addFirst(&r.insertCached, l)
		r.mu.Unlock()
		return nil
	}
	if l.state != StateToFree {
		r.mu.Unlock()
		panic(fmt.Sprintf("insert undo log finished in state %v", l.state))
	}
	r.mu.Unlock()

	if err := r.SegFree(l); err != nil {
		return err
	}

	r.mu.Lock()
	if r.currSize < l.size {
		r.mu.Unlock()
		panic(fmt.Sprintf("rollback segment size %v underflows by %v", r.currSize, l.size))
	}
	r.currSize -= l.size
	r.mu.Unlock()
	return nil
}

// UpdateCleanup disposes of a finished update undo log in the same
// mini-transaction that set its state: the header gets its commit number, the
// log is linked into the on-page history list and the purge consumer is
// notified, unless the log ended empty and cached, in which case the header
// is discarded on the spot and purge never hears about it.
func (r *RollbackSegment) UpdateCleanup(m *mtr.MiniTx, l *Log, trxNo trx.TrxNo) error {
	if l.kind != KindUpdate {
		panic(fmt.Sprintf("update cleanup of a %v undo log", l.kind))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	hdrPage, err := m.GetPage(pages.PageID{SpaceID: r.space.ID(), PageNo: l.hdrPageNo}, mtr.Exclusive)
	if err != nil {
		return errors.Wrap(err, "reading the undo log header page")
	}

	removeLog(&r.updateActive, l)

	if l.state == StateCached && l.empty {
		discardLatestLog(m, hdrPage)
		addFirst(&r.updateCached, l)
		return nil
	}

	l.trxNo = trxNo
	m.Write8(hdrPage, l.hdrOffset+logHdrTrxNo, uint64(trxNo))
	if !l.delMarks {
		m.Write2(hdrPage, l.hdrOffset+logHdrDelMarks, 0)
	}

	rsegHdr, err := m.GetPage(r.headerID(), mtr.Exclusive)
	if err != nil {
		return errors.Wrap(err, "reading the rollback segment header")
	}
	if err := flst.AddLast(m, r.space.ID(), rsegHdr, rsegHdrHistory,
		hdrPage, l.hdrOffset+logHdrHistNode); err != nil {
		return err
	}

	switch l.state {
	case StateCached:
		addFirst(&r.updateCached, l)
	case StateToPurge:
		m.Write4(rsegHdr, rsegHdrHistorySize, readU32(rsegHdr, rsegHdrHistorySize)+l.size)
		if r.currSize < l.size {
			panic(fmt.Sprintf("rollback segment size %v underflows by %v", r.currSize, l.size))
		}
		r.currSize -= l.size
	default:
		panic(fmt.Sprintf("update undo log finished in state %v", l.state))
	}

	if r.history != nil {
		r.history.Append(r, l.hdrPageNo, l.hdrOffset, trxNo)
	}
	return nil
}

// PurgeFreeSegment reclaims the file segment of a fully purged update undo
// log: the header leaves the history list, the persisted history size drops
// by the segment's page count, and the segment is freed step by step like
// any other. A log still known in memory from startup recovery is dropped
// from the lists as well.
func (r *RollbackSegment) PurgeFreeSegment(hdrPageNo uint32, hdrOffset uint16) error {
	unlinked := false

	for {
		m := mtr.Begin(r.pool, r.sink, r.redoEnabled)
		r.mu.Lock()

		rsegHdr, err := m.GetPage(r.headerID(), mtr.Exclusive)
		if err != nil {
			r.mu.Unlock()
			m.Commit()
			return errors.Wrap(err, "reading the rollback segment header")
		}
		hdrPage, err := m.GetPage(pages.PageID{SpaceID: r.space.ID(), PageNo: hdrPageNo}, mtr.Exclusive)
		if err != nil {
			r.mu.Unlock()
			m.Commit()
			return errors.Wrap(err, "reading the undo segment header page")
		}

		if !unlinked {
			if err := flst.Remove(m, r.space.ID(), rsegHdr, rsegHdrHistory,
				hdrPage, hdrOffset+logHdrHistNode); err != nil {
				r.mu.Unlock()
				m.Commit()
				return err
			}
			segSize := flst.Len(hdrPage, segHdrPageList)
			m.Write4(rsegHdr, rsegHdrHistorySize, readU32(rsegHdr, rsegHdrHistorySize)-segSize)
			r.dropRecovered(hdrPageNo)
			unlinked = true
		}

		finished := r.space.FreeStep(m, hdrPage, segHdrFseg)
		if finished {
			for i := uint16(0); i < NSlots; i++ {
				if slotPageNo(rsegHdr, i) == hdrPageNo {
					r.setSlot(m, rsegHdr, i, pages.NullPageNo)
					break
				}
			}
		}

		r.mu.Unlock()
		m.Commit()
		if finished {
			return nil
		}
	}
}

// dropRecovered forgets a to-purge log that startup recovery parked on the
// active list. Caller holds the rollback segment mutex.
func (r *RollbackSegment) dropRecovered(hdrPageNo uint32) {
	for _, l := range r.updateActive {
		if l.hdrPageNo == hdrPageNo && l.state == StateToPurge {
			removeLog(&r.updateActive, l)
			if r.currSize < l.size {
				panic(fmt.Sprintf("rollback segment size %v underflows by %v", r.currSize, l.size))
			}
			r.currSize -= l.size
			return
		}
	}
}
