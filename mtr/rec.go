package mtr

import (
	"encoding/binary"
	"fmt"

	"trxundo/pages"
)

type RecType uint8

// Redo record kinds. The generic write kinds carry the exact bytes they
// change; the undo-specific kinds carry only the minimal payload their
// replay function needs to re-derive the full byte layout.
const (
	TypeInvalid RecType = iota
	TypeWrite1
	TypeWrite2
	TypeWrite4
	TypeWrite8
	TypeWriteBytes
	TypeUndoPageInit
	TypeUndoHdrCreate
	TypeUndoHdrReuse
	TypeUndoHdrDiscard
)

// Rec is one redo record: a compact delta describing a single structural
// mutation of a single page.
type Rec struct {
	T    RecType
	Page pages.PageID
	Lsn  pages.LSN

	// for the fixed width writes: Off is the byte offset, Val the value
	Off uint16
	Val uint64

	// for byte string writes
	Bytes []byte
}

func (r *Rec) Type() RecType {
	return r.T
}

func NewWrite1Rec(id pages.PageID, off uint16, val uint8) *Rec {
	return &Rec{T: TypeWrite1, Page: id, Off: off, Val: uint64(val)}
}

func NewWrite2Rec(id pages.PageID, off uint16, val uint16) *Rec {
	return &Rec{T: TypeWrite2, Page: id, Off: off, Val: uint64(val)}
}

func NewWrite4Rec(id pages.PageID, off uint16, val uint32) *Rec {
	return &Rec{T: TypeWrite4, Page: id, Off: off, Val: uint64(val)}
}

func NewWrite8Rec(id pages.PageID, off uint16, val uint64) *Rec {
	return &Rec{T: TypeWrite8, Page: id, Off: off, Val: val}
}

func NewWriteBytesRec(id pages.PageID, off uint16, data []byte) *Rec {
	cp := append([]byte(nil), data...)
	return &Rec{T: TypeWriteBytes, Page: id, Off: off, Bytes: cp}
}

func NewUndoPageInitRec(id pages.PageID, segKind uint16) *Rec {
	return &Rec{T: TypeUndoPageInit, Page: id, Val: uint64(segKind)}
}

func NewUndoHdrCreateRec(id pages.PageID, trxID uint64) *Rec {
	return &Rec{T: TypeUndoHdrCreate, Page: id, Val: trxID}
}

func NewUndoHdrReuseRec(id pages.PageID, trxID uint64) *Rec {
	return &Rec{T: TypeUndoHdrReuse, Page: id, Val: trxID}
}

func NewUndoHdrDiscardRec(id pages.PageID) *Rec {
	return &Rec{T: TypeUndoHdrDiscard, Page: id}
}

// ApplyWrite re-executes one of the generic byte-write records against a page
// frame. The undo-specific kinds are replayed by the undo package, which owns
// their byte layouts.
func ApplyWrite(r *Rec, p *pages.Page) {
	data := p.GetData()
	switch r.T {
	case TypeWrite1:
		data[r.Off] = uint8(r.Val)
	case TypeWrite2:
		binary.BigEndian.PutUint16(data[r.Off:], uint16(r.Val))
	case TypeWrite4:
		binary.BigEndian.PutUint32(data[r.Off:], uint32(r.Val))
	case TypeWrite8:
		binary.BigEndian.PutUint64(data[r.Off:], r.Val)
	case TypeWriteBytes:
		copy(data[r.Off:], r.Bytes)
	default:
		panic(fmt.Sprintf("ApplyWrite called with a non-write record: %v", r.T))
	}
}
