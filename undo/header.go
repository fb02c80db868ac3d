package undo

import (
	"fmt"

	"trxundo/mtr"
	"trxundo/pages"
	"trxundo/trx"
)

// headerCreate lays a new old-style log header at the free cursor of the
// segment header page, chains it to the previous latest header and makes it
// the latest one. Returns the byte offset of the new header. The header is
// redo-logged as a single compact record; its replay re-derives every byte
// written here.
func headerCreate(m *mtr.MiniTx, p *pages.Page, trxID trx.TrxID) uint16 {
	off := applyHeaderCreate(p, uint64(trxID))
	m.Record(p, mtr.NewUndoHdrCreateRec(p.GetID(), uint64(trxID)))
	return off
}

func applyHeaderCreate(p *pages.Page, trxID uint64) uint16 {
	free := readU16(p, pageHdrFree)
	if int(free)+logHdrXASize >= pages.PageSize-100 {
		panic(fmt.Sprintf("no room for an undo log header on page %v at offset %v", p.GetID(), free))
	}
	newFree := free + logHdrSize

	writeU16(p, pageHdrStart, newFree)
	writeU16(p, pageHdrFree, newFree)
	writeU16(p, segHdrState, uint16(StateActive))

	prevLog := readU16(p, segHdrLastLog)
	if prevLog != 0 {
		writeU16(p, prevLog+logHdrNextLog, free)
	}
	writeU16(p, segHdrLastLog, free)

	writeU64(p, free+logHdrTrxID, trxID)
	writeU16(p, free+logHdrDelMarks, 1)
	writeU16(p, free+logHdrLogStart, newFree)
	writeU8(p, free+logHdrXIDExists, 0)
	writeU8(p, free+logHdrDictTrans, 0)
	writeU16(p, free+logHdrNextLog, 0)
	writeU16(p, free+logHdrPrevLog, prevLog)
	return free
}

// headerAddSpaceForXID grows the latest header in place from the old-style
// size to one with room for an XID block, pushing the record area start past
// it. Must run right after the header is laid down, before any record is
// written.
func headerAddSpaceForXID(m *mtr.MiniTx, p *pages.Page, hdrOff uint16) {
	free := readU16(p, pageHdrFree)
	if free != hdrOff+logHdrSize {
		panic(fmt.Sprintf("header at %v on page %v is not the newest one", hdrOff, p.GetID()))
	}
	newFree := free + (logHdrXASize - logHdrSize)

	m.Write2(p, pageHdrStart, newFree)
	m.Write2(p, pageHdrFree, newFree)
	m.Write2(p, hdrOff+logHdrLogStart, newFree)
}

// insertHeaderReuse reinitializes a cached insert undo segment header page
// for a new transaction. Insert undo records are never needed after commit,
// so the old header and records are simply overwritten in place.
func insertHeaderReuse(m *mtr.MiniTx, p *pages.Page, trxID trx.TrxID) uint16 {
	off := applyInsertHeaderReuse(p, uint64(trxID))
	m.Record(p, mtr.NewUndoHdrReuseRec(p.GetID(), uint64(trxID)))
	return off
}

func applyInsertHeaderReuse(p *pages.Page, trxID uint64) uint16 {
	if pageKind(p) != KindInsert {
		panic(fmt.Sprintf("header reuse on a non-insert undo page %v", p.GetID()))
	}

	free := uint16(segHdrEnd)
	newFree := free + logHdrSize

	writeU16(p, pageHdrStart, newFree)
	writeU16(p, pageHdrFree, newFree)
	writeU16(p, segHdrState, uint16(StateActive))
	writeU16(p, segHdrLastLog, free)

	writeU64(p, free+logHdrTrxID, trxID)
	writeU16(p, free+logHdrLogStart, newFree)
	writeU8(p, free+logHdrXIDExists, 0)
	writeU8(p, free+logHdrDictTrans, 0)
	writeU16(p, free+logHdrNextLog, 0)
	writeU16(p, free+logHdrPrevLog, 0)
	return free
}

// discardLatestLog throws away the latest log header of a header page,
// winding the free cursor back over it and making the previous header the
// latest one again. Used when an update undo log turns out to hold nothing
// worth purging; the segment stays cached.
func discardLatestLog(m *mtr.MiniTx, p *pages.Page) {
	applyDiscardLatestLog(p)
	m.Record(p, mtr.NewUndoHdrDiscardRec(p.GetID()))
}

func applyDiscardLatestLog(p *pages.Page) {
	free := readU16(p, segHdrLastLog)
	if free == 0 {
		panic(fmt.Sprintf("discard on page %v which has no log header", p.GetID()))
	}
	prevLog := readU16(p, free+logHdrPrevLog)
	if prevLog != 0 {
		writeU16(p, pageHdrStart, readU16(p, prevLog+logHdrLogStart))
		writeU16(p, prevLog+logHdrNextLog, 0)
	}
	writeU16(p, pageHdrFree, free)
	writeU16(p, segHdrState, uint16(StateCached))
	writeU16(p, segHdrLastLog, prevLog)
}

// writeXID stores an XID into a header that was grown with
// headerAddSpaceForXID. Field writes are redo-logged individually.
func writeXID(m *mtr.MiniTx, p *pages.Page, hdrOff uint16, xid trx.XID) {
	m.Write4(p, hdrOff+logHdrXAFormat, uint32(xid.FormatID))
	m.Write4(p, hdrOff+logHdrXATridLen, uint32(len(xid.GTRID)))
	m.Write4(p, hdrOff+logHdrXABqualLen, uint32(len(xid.BQUAL)))
	data := xid.Data()
	m.WriteBytes(p, hdrOff+logHdrXAXID, data[:])
}

// readXID reconstructs the XID stored in a header.
func readXID(p *pages.Page, hdrOff uint16) trx.XID {
	tridLen := readU32(p, hdrOff+logHdrXATridLen)
	bqualLen := readU32(p, hdrOff+logHdrXABqualLen)
	if tridLen+bqualLen > trx.XIDDataSize {
		panic(fmt.Sprintf("corrupt xid lengths %v+%v on page %v", tridLen, bqualLen, p.GetID()))
	}
	data := p.GetData()[hdrOff+logHdrXAXID:]
	return trx.XID{
		FormatID: int32(readU32(p, hdrOff+logHdrXAFormat)),
		GTRID:    append([]byte(nil), data[:tridLen]...),
		BQUAL:    append([]byte(nil), data[tridLen:tridLen+bqualLen]...),
	}
}
