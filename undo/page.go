package undo

import (
	"fmt"

	"trxundo/mtr"
	"trxundo/pages"
)

// Kind tells whether an undo segment holds insert or update undo records.
// Insert undo is only ever needed for rollback and dies with the
// transaction; update undo must survive commit for consistent reads and is
// consumed by purge.
type Kind uint16

const (
	KindInsert Kind = 1
	KindUpdate Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindUpdate:
		return "update"
	default:
		return fmt.Sprintf("Kind(%d)", uint16(k))
	}
}

// pageInit lays the undo page header on a fresh page and emits the compact
// redo record for it.
func pageInit(m *mtr.MiniTx, p *pages.Page, kind Kind) {
	applyPageInit(p, kind)
	m.Record(p, mtr.NewUndoPageInitRec(p.GetID(), uint16(kind)))
}

func applyPageInit(p *pages.Page, kind Kind) {
	writeU16(p, pageHdrKind, uint16(kind))
	writeU16(p, pageHdrStart, pageHdrEnd)
	writeU16(p, pageHdrFree, pageHdrEnd)
	p.SetPageType(pages.FilTypeUndoLog)
}

func pageKind(p *pages.Page) Kind {
	return Kind(readU16(p, pageHdrKind))
}

// pageGetStart returns the offset of the first record of the log identified
// by (hdrPageNo, hdrOffset) on this page, which is the record area start for
// any page but the header page.
func pageGetStart(p *pages.Page, hdrPageNo uint32, hdrOffset uint16) uint16 {
	if p.GetID().PageNo == hdrPageNo {
		return readU16(p, hdrOffset+logHdrLogStart)
	}
	return pageHdrEnd
}

// pageGetEnd returns the offset just past the last record of the log on this
// page. On the header page a later log header caps the record area; elsewhere
// the free cursor does.
func pageGetEnd(p *pages.Page, hdrPageNo uint32, hdrOffset uint16) uint16 {
	if p.GetID().PageNo == hdrPageNo {
		if next := readU16(p, hdrOffset+logHdrNextLog); next != 0 {
			return next
		}
	}
	return readU16(p, pageHdrFree)
}

// pageFirstRec returns the first record of the log on this page, or 0.
func pageFirstRec(p *pages.Page, hdrPageNo uint32, hdrOffset uint16) uint16 {
	start := pageGetStart(p, hdrPageNo, hdrOffset)
	if start >= pageGetEnd(p, hdrPageNo, hdrOffset) {
		return 0
	}
	return start
}

// pageLastRec returns the last record of the log on this page, or 0.
func pageLastRec(p *pages.Page, hdrPageNo uint32, hdrOffset uint16) uint16 {
	start := pageGetStart(p, hdrPageNo, hdrOffset)
	end := pageGetEnd(p, hdrPageNo, hdrOffset)
	if start >= end {
		return 0
	}
	return readU16(p, end-2)
}

// pagePrevRec returns the record before rec on this page, or 0 when rec is
// the first one here.
func pagePrevRec(p *pages.Page, rec uint16, hdrPageNo uint32, hdrOffset uint16) uint16 {
	if rec <= pageGetStart(p, hdrPageNo, hdrOffset) {
		return 0
	}
	return readU16(p, rec-2)
}

// pageNextRec returns the record after rec on this page, or 0 when rec is
// the last one here.
func pageNextRec(p *pages.Page, rec uint16, hdrPageNo uint32, hdrOffset uint16) uint16 {
	next := readU16(p, rec)
	if next >= pageGetEnd(p, hdrPageNo, hdrOffset) {
		return 0
	}
	return next
}

// recUndoNo reads the undo number of the record at rec.
func recUndoNo(p *pages.Page, rec uint16) uint64 {
	return readU64(p, rec+2)
}

// recPayload returns the payload bytes of the record at rec, aliasing the
// page frame.
func recPayload(p *pages.Page, rec uint16) []byte {
	end := readU16(p, rec)
	return p.GetData()[rec+recHdrSize : end-2]
}
