package undo

import (
	"github.com/pkg/errors"

	"trxundo/flst"
	"trxundo/mtr"
	"trxundo/pages"
	"trxundo/trx"
)

// recoverLists rebuilds the in-memory log lists by scanning the undo slots
// of the header page, one mini-transaction per occupied slot. Under degraded
// startup the scan is skipped entirely and every slot is treated as unknown.
func (r *RollbackSegment) recoverLists() error {
	if r.cfg.DegradedStartup {
		log.Warnf("degraded startup: skipping the undo slot scan of rollback segment %v; "+
			"uncommitted transactions will not be resurrected", r.pageNo)
		return nil
	}

	recovered := 0
	for i := uint16(0); i < NSlots; i++ {
		m := mtr.Begin(r.pool, r.sink, r.redoEnabled)

		hdr, err := m.GetPage(r.headerID(), mtr.Shared)
		if err != nil {
			m.Commit()
			return errors.Wrap(err, "reading the rollback segment header")
		}
		pageNo := slotPageNo(hdr, i)
		if pageNo == pages.NullPageNo {
			m.Commit()
			continue
		}

		if _, err := r.recoverSegment(m, i, pageNo); err != nil {
			m.Commit()
			return err
		}
		recovered++
		m.Commit()
	}

	if recovered > 0 {
		log.Infof("rollback segment %v: recovered %v undo logs, %v pages", r.pageNo, recovered, r.currSize)
	}
	return nil
}

// recoverSegment rebuilds the in-memory image of one undo segment from its
// header page and files it on the matching list. Everything recovery needs
// lives on the undo pages themselves; allocator state is never consulted.
func (r *RollbackSegment) recoverSegment(m *mtr.MiniTx, slot uint16, pageNo uint32) (*Log, error) {
	page, err := m.GetPage(pages.PageID{SpaceID: r.space.ID(), PageNo: pageNo}, mtr.Shared)
	if err != nil {
		return nil, errors.Wrapf(err, "reading the header page of undo slot %v", slot)
	}

	kind := pageKind(page)
	state := State(readU16(page, segHdrState))
	offset := readU16(page, segHdrLastLog)

	u := memCreate(r, slot, kind, trx.TrxID(readU64(page, offset+logHdrTrxID)), trx.XID{}, pageNo, offset)
	u.state = state
	u.trxNo = trx.TrxNo(readU64(page, offset+logHdrTrxNo))
	u.delMarks = readU16(page, offset+logHdrDelMarks) != 0
	u.dictOperation = readU8(page, offset+logHdrDictTrans) != 0
	u.tableID = readU64(page, offset+logHdrTableID)
	if readU8(page, offset+logHdrXIDExists) != 0 {
		u.xid = readXID(page, offset)
	}

	u.size = flst.Len(page, segHdrPageList)

	// A to-free segment is garbage already; its record area is not to be
	// trusted and the latest-record fields stay at their header defaults.
	if state != StateToFree {
		last := flst.GetLast(page, segHdrPageList)
		u.lastPageNo = last.PageNo

		lastPage := page
		if last.PageNo != pageNo {
			if lastPage, err = m.GetPage(pages.PageID{SpaceID: r.space.ID(), PageNo: last.PageNo}, mtr.Shared); err != nil {
				return nil, errors.Wrapf(err, "reading the last page of undo slot %v", slot)
			}
		}
		if rec := pageLastRec(lastPage, pageNo, offset); rec != 0 {
			u.empty = false
			u.topPageNo = last.PageNo
			u.topOffset = rec
			u.topUndoNo = recUndoNo(lastPage, rec)
		}
	}

	if kind == KindInsert {
		if state == StateCached {
			r.insertCached = append(r.insertCached, u)
		} else {
			r.insertActive = append(r.insertActive, u)
		}
	} else {
		if state == StateCached {
			r.updateCached = append(r.updateCached, u)
		} else {
			r.updateActive = append(r.updateActive, u)
		}
	}
	r.currSize += u.size

	return u, nil
}
