package pages

import (
	"fmt"
	"sync"
)

const PageSize int = 4096

// NullPageNo marks an unset page pointer on disk.
const NullPageNo uint32 = 0xFFFFFFFF

// PageID addresses a physical page as a (tablespace, page number) pair.
// On-disk "pointers" are always stored as such pairs, never as memory
// addresses, and must be re-resolved through the pool on every dereference.
type PageID struct {
	SpaceID uint32
	PageNo  uint32
}

func (p PageID) String() string {
	return fmt.Sprintf("%v:%v", p.SpaceID, p.PageNo)
}

// IPage is a wrapper for actual physical pages. It can provide the actual
// content of the page as a byte array and keeps some useful information
// about the page for the pool.
type IPage interface {
	GetData() []byte
	GetID() PageID
	GetPinCount() int
	IsDirty() bool
	SetDirty()
	SetClean()
	WLatch()
	WUnlatch()
	RLatch()
	RUnLatch()
	IncrPinCount()
	DecrPinCount()
}

type Page struct {
	id       PageID
	isDirty  bool
	rwLatch  sync.RWMutex
	PinCount int
	Data     []byte
}

var _ IPage = &Page{}

func NewPage(id PageID) *Page {
	p := &Page{
		id:   id,
		Data: make([]byte, PageSize),
	}
	p.format()
	return p
}

// format stamps the fil prologue so the frame is self-describing on disk.
func (p *Page) format() {
	writeUint32(p.Data, FilPageNo, p.id.PageNo)
	writeUint32(p.Data, FilSpace, p.id.SpaceID)
	PutLSN(p.Data[FilLSN:], ZeroLSN)
}

func (p *Page) GetData() []byte {
	return p.Data
}

func (p *Page) GetID() PageID {
	return p.id
}

func (p *Page) GetPinCount() int {
	return p.PinCount
}

func (p *Page) IncrPinCount() {
	p.PinCount++
}

func (p *Page) DecrPinCount() {
	p.PinCount--
}

func (p *Page) IsDirty() bool {
	return p.isDirty
}

func (p *Page) SetDirty() {
	p.isDirty = true
}

func (p *Page) SetClean() {
	p.isDirty = false
}

func (p *Page) WLatch() {
	p.rwLatch.Lock()
}

func (p *Page) WUnlatch() {
	p.rwLatch.Unlock()
}

func (p *Page) RLatch() {
	p.rwLatch.RLock()
}

func (p *Page) RUnLatch() {
	p.rwLatch.RUnlock()
}

func (p *Page) GetPageLSN() LSN {
	return ReadLSN(p.Data[FilLSN:])
}

func (p *Page) SetPageLSN(lsn LSN) {
	PutLSN(p.Data[FilLSN:], lsn)
}

func (p *Page) GetPageType() uint16 {
	return readUint16(p.Data, FilType)
}

func (p *Page) SetPageType(t uint16) {
	writeUint16(p.Data, FilType, t)
}
