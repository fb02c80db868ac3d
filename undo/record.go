package undo

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"trxundo/flst"
	"trxundo/mtr"
	"trxundo/pages"
)

// AppendRecord writes one undo record onto the last page of the log. Undo
// numbers must be strictly increasing within a log. Returns false when the
// record does not fit the page; the caller grows the log with AddPage and
// tries again.
func (r *RollbackSegment) AppendRecord(m *mtr.MiniTx, l *Log, undoNo uint64, payload []byte) (bool, error) {
	if !l.empty && undoNo <= l.topUndoNo {
		panic(fmt.Sprintf("undo number %v is not above the latest %v", undoNo, l.topUndoNo))
	}

	page, err := m.GetPage(pages.PageID{SpaceID: r.space.ID(), PageNo: l.lastPageNo}, mtr.Exclusive)
	if err != nil {
		return false, errors.Wrap(err, "reading the last undo page")
	}

	free := readU16(page, pageHdrFree)
	need := recOverhead + len(payload)
	if int(free)+need > pages.PageSize {
		return false, nil
	}
	end := free + uint16(need)

	buf := make([]byte, need)
	binary.BigEndian.PutUint16(buf, end)
	binary.BigEndian.PutUint64(buf[2:], undoNo)
	copy(buf[recHdrSize:], payload)
	binary.BigEndian.PutUint16(buf[need-2:], free)

	m.WriteBytes(page, free, buf)
	m.Write2(page, pageHdrFree, end)

	l.empty = false
	l.topPageNo = page.GetID().PageNo
	l.topOffset = free
	l.topUndoNo = undoNo
	l.guess = page
	return true, nil
}

// RecPayload copies out the payload bytes of a record.
func RecPayload(p *pages.Page, rec uint16) []byte {
	return append([]byte(nil), recPayload(p, rec)...)
}

// RecUndoNo reads the undo number of a record.
func RecUndoNo(p *pages.Page, rec uint16) uint64 {
	return recUndoNo(p, rec)
}

// GetFirstRec positions on the first record of the log, resolving past an
// emptied header page if needed. Returns a zero offset when the log has no
// records.
func GetFirstRec(m *mtr.MiniTx, space uint32, hdrPageNo uint32, hdrOffset uint16,
	mode mtr.LatchMode) (*pages.Page, uint16, error) {
	page, err := m.GetPage(pages.PageID{SpaceID: space, PageNo: hdrPageNo}, mode)
	if err != nil {
		return nil, 0, errors.Wrap(err, "reading the undo log header page")
	}
	if rec := pageFirstRec(page, hdrPageNo, hdrOffset); rec != 0 {
		return page, rec, nil
	}
	return nextPageRec(m, space, page, hdrPageNo, hdrOffset, mode)
}

// GetLastRec positions on the latest record of the log. Returns a zero
// offset when the log has no records.
func GetLastRec(m *mtr.MiniTx, space uint32, hdrPageNo uint32, hdrOffset uint16,
	mode mtr.LatchMode) (*pages.Page, uint16, error) {
	page, err := m.GetPage(pages.PageID{SpaceID: space, PageNo: hdrPageNo}, mode)
	if err != nil {
		return nil, 0, errors.Wrap(err, "reading the undo log header page")
	}

	last := flst.GetLast(page, segHdrPageList)
	if last.PageNo != hdrPageNo {
		if page, err = m.GetPage(pages.PageID{SpaceID: space, PageNo: last.PageNo}, mode); err != nil {
			return nil, 0, errors.Wrap(err, "reading the last undo page")
		}
	}
	return page, pageLastRec(page, hdrPageNo, hdrOffset), nil
}

// GetNextRec steps forward from rec, crossing to the next page of the
// segment when the current one is exhausted. Returns a zero offset at the
// end of the log.
func GetNextRec(m *mtr.MiniTx, space uint32, page *pages.Page, rec uint16,
	hdrPageNo uint32, hdrOffset uint16, mode mtr.LatchMode) (*pages.Page, uint16, error) {
	if next := pageNextRec(page, rec, hdrPageNo, hdrOffset); next != 0 {
		return page, next, nil
	}
	return nextPageRec(m, space, page, hdrPageNo, hdrOffset, mode)
}

// GetPrevRec steps backward from rec, crossing to the previous page of the
// segment when rec is the first one here. Returns a zero offset at the start
// of the log.
func GetPrevRec(m *mtr.MiniTx, space uint32, page *pages.Page, rec uint16,
	hdrPageNo uint32, hdrOffset uint16, mode mtr.LatchMode) (*pages.Page, uint16, error) {
	if prev := pagePrevRec(page, rec, hdrPageNo, hdrOffset); prev != 0 {
		return page, prev, nil
	}

	prevAddr := flst.GetPrevAddr(page, pageHdrNode)
	if prevAddr.IsNull() {
		return nil, 0, nil
	}
	prevPage, err := m.GetPage(pages.PageID{SpaceID: space, PageNo: prevAddr.PageNo}, mode)
	if err != nil {
		return nil, 0, errors.Wrap(err, "reading the previous undo page")
	}
	return prevPage, pageLastRec(prevPage, hdrPageNo, hdrOffset), nil
}

// nextPageRec moves to the first record of the next page of the same log.
// A later log header on the header page caps this log, so navigation never
// leaks into a successor's records.
func nextPageRec(m *mtr.MiniTx, space uint32, page *pages.Page,
	hdrPageNo uint32, hdrOffset uint16, mode mtr.LatchMode) (*pages.Page, uint16, error) {
	if page.GetID().PageNo == hdrPageNo && readU16(page, hdrOffset+logHdrNextLog) != 0 {
		return nil, 0, nil
	}

	nextAddr := flst.GetNextAddr(page, pageHdrNode)
	if nextAddr.IsNull() {
		return nil, 0, nil
	}
	nextPage, err := m.GetPage(pages.PageID{SpaceID: space, PageNo: nextAddr.PageNo}, mode)
	if err != nil {
		return nil, 0, errors.Wrap(err, "reading the next undo page")
	}
	return nextPage, pageFirstRec(nextPage, hdrPageNo, hdrOffset), nil
}
