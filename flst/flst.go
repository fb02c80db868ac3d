// Package flst implements a doubly linked list threaded through byte offsets
// of file pages, the way index and undo structures chain their pages
// together. Node addresses are (page number, byte offset) pairs and every
// dereference goes back through the page pool; nothing in here holds a frame
// across a mini-transaction boundary.
package flst

import (
	"encoding/binary"

	"trxundo/mtr"
	"trxundo/pages"
)

/**
 * Base node layout (16 bytes):
 *  ----------------------------------------
 *  | Len (4) | First (4+2) | Last (4+2)   |
 *  ----------------------------------------
 * Node layout (12 bytes):
 *  --------------------------
 *  | Prev (4+2) | Next (4+2) |
 *  --------------------------
 */
const (
	BaseNodeSize = 16
	NodeSize     = 12

	addrSize = 6
	lenOff   = 0
	firstOff = 4
	lastOff  = 10
	prevOff  = 0
	nextOff  = 6
)

// Addr is an on-page pointer: the page and the byte offset of a node on it.
type Addr struct {
	PageNo uint32
	Off    uint16
}

var NullAddr = Addr{PageNo: pages.NullPageNo}

func (a Addr) IsNull() bool {
	return a.PageNo == pages.NullPageNo
}

func readAddr(data []byte, off uint16) Addr {
	return Addr{
		PageNo: binary.BigEndian.Uint32(data[off:]),
		Off:    binary.BigEndian.Uint16(data[off+4:]),
	}
}

func writeAddr(m *mtr.MiniTx, p *pages.Page, off uint16, a Addr) {
	var buf [addrSize]byte
	binary.BigEndian.PutUint32(buf[:], a.PageNo)
	binary.BigEndian.PutUint16(buf[4:], a.Off)
	m.WriteBytes(p, off, buf[:])
}

// Init resets a base node to an empty list.
func Init(m *mtr.MiniTx, base *pages.Page, baseOff uint16) {
	m.Write4(base, baseOff+lenOff, 0)
	writeAddr(m, base, baseOff+firstOff, NullAddr)
	writeAddr(m, base, baseOff+lastOff, NullAddr)
}

// Len returns the number of nodes in the list.
func Len(base *pages.Page, baseOff uint16) uint32 {
	return binary.BigEndian.Uint32(base.GetData()[baseOff+lenOff:])
}

// GetFirst returns the address of the first node, or NullAddr.
func GetFirst(base *pages.Page, baseOff uint16) Addr {
	return readAddr(base.GetData(), baseOff+firstOff)
}

// GetLast returns the address of the last node, or NullAddr.
func GetLast(base *pages.Page, baseOff uint16) Addr {
	return readAddr(base.GetData(), baseOff+lastOff)
}

// GetPrevAddr reads a node's backward pointer.
func GetPrevAddr(node *pages.Page, nodeOff uint16) Addr {
	return readAddr(node.GetData(), nodeOff+prevOff)
}

// GetNextAddr reads a node's forward pointer.
func GetNextAddr(node *pages.Page, nodeOff uint16) Addr {
	return readAddr(node.GetData(), nodeOff+nextOff)
}

// AddLast appends a node to the list. Base and node pages must be X-latched
// by the mini-transaction; the old last node's page is resolved here.
func AddLast(m *mtr.MiniTx, space uint32, base *pages.Page, baseOff uint16, node *pages.Page, nodeOff uint16) error {
	nodeAddr := Addr{PageNo: node.GetID().PageNo, Off: nodeOff}
	last := GetLast(base, baseOff)

	writeAddr(m, node, nodeOff+prevOff, last)
	writeAddr(m, node, nodeOff+nextOff, NullAddr)

	if last.IsNull() {
		writeAddr(m, base, baseOff+firstOff, nodeAddr)
	} else {
		lastPage, err := m.GetPage(pages.PageID{SpaceID: space, PageNo: last.PageNo}, mtr.Exclusive)
		if err != nil {
			return err
		}
		writeAddr(m, lastPage, last.Off+nextOff, nodeAddr)
	}

	writeAddr(m, base, baseOff+lastOff, nodeAddr)
	m.Write4(base, baseOff+lenOff, Len(base, baseOff)+1)
	return nil
}

// Remove unlinks a node from the list.
func Remove(m *mtr.MiniTx, space uint32, base *pages.Page, baseOff uint16, node *pages.Page, nodeOff uint16) error {
	prev := GetPrevAddr(node, nodeOff)
	next := GetNextAddr(node, nodeOff)

	if prev.IsNull() {
		writeAddr(m, base, baseOff+firstOff, next)
	} else {
		prevPage, err := m.GetPage(pages.PageID{SpaceID: space, PageNo: prev.PageNo}, mtr.Exclusive)
		if err != nil {
			return err
		}
		writeAddr(m, prevPage, prev.Off+nextOff, next)
	}

	if next.IsNull() {
		writeAddr(m, base, baseOff+lastOff, prev)
	} else {
		nextPage, err := m.GetPage(pages.PageID{SpaceID: space, PageNo: next.PageNo}, mtr.Exclusive)
		if err != nil {
			return err
		}
		writeAddr(m, nextPage, next.Off+prevOff, prev)
	}

	m.Write4(base, baseOff+lenOff, Len(base, baseOff)-1)
	return nil
}
