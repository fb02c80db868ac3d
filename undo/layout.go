// Package undo implements per-transaction undo logs inside rollback
// segments: the on-disk layout and lifecycle of undo log segments, the
// in-memory state machine of an active log, allocation and reuse within a
// rollback segment, truncation from both ends, segment freeing, and the
// reconstruction of all of it from persisted pages after a restart.
package undo

import (
	"encoding/binary"

	"trxundo/flst"
	"trxundo/fsp"
	"trxundo/pages"
	"trxundo/trx"
)

/**
 * Undo page layout. Every page of an undo segment starts with the undo page
 * header right after the fil prologue; the segment's first page additionally
 * carries the segment header, and one or more per-transaction log headers
 * chained by offset (size in bytes):
 *
 *  undo page header:
 *  ------------------------------------------------
 *  | Kind (2) | Start (2) | Free (2) | PageNode (12) |
 *  ------------------------------------------------
 *  Start is the first byte reserved for records when the latest log header
 *  was created; Free is the current write point.
 *
 *  segment header (header page only):
 *  ---------------------------------------------------------
 *  | State (2) | LastLog (2) | FsegHeader (8) | PageList (16) |
 *  ---------------------------------------------------------
 *
 *  log header (one per transaction use of the segment):
 *  --------------------------------------------------------------------
 *  | TrxID (8) | TrxNo (8) | DelMarks (2) | LogStart (2) | XIDExists (1) |
 *  | DictTrans (1) | TableID (8) | NextLog (2) | PrevLog (2)             |
 *  | HistoryNode (12) | [XAFormat (4) | TridLen (4) | BqualLen (4)       |
 *  |                     XIDData (128)]                                  |
 *  --------------------------------------------------------------------
 *  The XA block exists only in headers created with room for an XID; the
 *  old-style header ends at the history node and is extended in place.
 */
const (
	pageHdr      = pages.FilHeaderSize
	pageHdrKind  = pageHdr + 0
	pageHdrStart = pageHdr + 2
	pageHdrFree  = pageHdr + 4
	pageHdrNode  = pageHdr + 6
	pageHdrEnd   = pageHdrNode + flst.NodeSize

	segHdr         = pageHdrEnd
	segHdrState    = segHdr + 0
	segHdrLastLog  = segHdr + 2
	segHdrFseg     = segHdr + 4
	segHdrPageList = segHdrFseg + fsp.FsegHeaderSize
	segHdrEnd      = segHdrPageList + flst.BaseNodeSize

	logHdrTrxID     = 0
	logHdrTrxNo     = 8
	logHdrDelMarks  = 16
	logHdrLogStart  = 18
	logHdrXIDExists = 20
	logHdrDictTrans = 21
	logHdrTableID   = 22
	logHdrNextLog   = 30
	logHdrPrevLog   = 32
	logHdrHistNode  = 34
	logHdrSize      = logHdrHistNode + flst.NodeSize

	logHdrXAFormat   = logHdrSize + 0
	logHdrXATridLen  = logHdrSize + 4
	logHdrXABqualLen = logHdrSize + 8
	logHdrXAXID      = logHdrSize + 12
	logHdrXASize     = logHdrXAXID + trx.XIDDataSize
)

/**
 * Record framing. Records are laid contiguously from the page free cursor:
 *  -----------------------------------------------------
 *  | End (2) | UndoNo (8) | payload ... | StartBack (2) |
 *  -----------------------------------------------------
 *  End points just past the record (where the next record starts) and the
 *  trailing StartBack points back to the record start, which is what makes
 *  backward navigation possible.
 */
const (
	recHdrSize  = 10
	recOverhead = recHdrSize + 2
)

func readU8(p *pages.Page, off uint16) uint8 {
	return p.GetData()[off]
}

func readU16(p *pages.Page, off uint16) uint16 {
	return binary.BigEndian.Uint16(p.GetData()[off:])
}

func readU32(p *pages.Page, off uint16) uint32 {
	return binary.BigEndian.Uint32(p.GetData()[off:])
}

func readU64(p *pages.Page, off uint16) uint64 {
	return binary.BigEndian.Uint64(p.GetData()[off:])
}

// Raw writes bypassing the mini-transaction: used only by the apply side of
// the undo-specific redo record kinds, whose replay re-derives the same
// bytes from the record payload.
func writeU8(p *pages.Page, off uint16, v uint8) {
	p.GetData()[off] = v
}

func writeU16(p *pages.Page, off uint16, v uint16) {
	binary.BigEndian.PutUint16(p.GetData()[off:], v)
}

func writeU64(p *pages.Page, off uint16, v uint64) {
	binary.BigEndian.PutUint64(p.GetData()[off:], v)
}
