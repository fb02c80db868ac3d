// Package fsp is the file-segment allocator of a tablespace: extent
// reservation, page allocation into file segments, and the bounded-work
// iterative freeing of whole segments. Undo recovery never reads allocator
// state; everything an undo segment needs to survive a restart lives on the
// undo pages themselves.
package fsp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"trxundo/buffer"
	"trxundo/mtr"
	"trxundo/pages"
)

// ExtentPages is the allocation granularity used by extent reservation.
const ExtentPages = 64

// FsegHeaderSize is the on-page footprint of a file segment header: the
// 8-byte segment id stamped into the owning structure's header area.
const FsegHeaderSize = 8

var ErrOutOfSpace = errors.New("fsp: out of file space")

type segment struct {
	id uint64
	// pages in allocation order; pages[0] carries the fseg header and is
	// always freed last
	pages []uint32
}

// Space manages page allocation for one tablespace. Page 0 is reserved for
// the space header and never handed out.
type Space struct {
	mu       sync.Mutex
	id       uint32
	capacity uint32
	nextPage uint32
	free     []uint32
	reserved uint32
	nextSeg  uint64
	segs     map[uint64]*segment
	pool     buffer.Pool
}

func NewSpace(id uint32, capacityPages uint32, pool buffer.Pool) *Space {
	return &Space{
		id:       id,
		capacity: capacityPages,
		nextPage: 1,
		nextSeg:  1,
		segs:     map[uint64]*segment{},
		pool:     pool,
	}
}

func (s *Space) ID() uint32 {
	return s.id
}

func (s *Space) Pool() buffer.Pool {
	return s.pool
}

// ReserveExtents sets aside n free extents so that a multi-page operation
// cannot run out of space halfway. Must be paired with ReleaseExtents.
func (s *Space) ReserveExtents(n uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	needed := n * ExtentPages
	if s.available() < needed {
		return ErrOutOfSpace
	}
	s.reserved += needed
	return nil
}

func (s *Space) ReleaseExtents(n uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	freed := n * ExtentPages
	if freed > s.reserved {
		panic(fmt.Sprintf("released %v reserved pages while only %v are reserved", freed, s.reserved))
	}
	s.reserved -= freed
}

func (s *Space) available() uint32 {
	return s.capacity - s.nextPage + uint32(len(s.free)) - s.reserved
}

// popPageNo returns 0 when the space is exhausted.
func (s *Space) popPageNo() uint32 {
	if n := len(s.free); n > 0 {
		pageNo := s.free[n-1]
		s.free = s.free[:n-1]
		return pageNo
	}
	if s.nextPage >= s.capacity {
		return 0
	}
	pageNo := s.nextPage
	s.nextPage++
	return pageNo
}

// AllocRawPage allocates a page that belongs to no file segment, such as a
// rollback segment header page. Returns nil when the space is full.
func (s *Space) AllocRawPage(m *mtr.MiniTx) *pages.Page {
	s.mu.Lock()
	pageNo := s.popPageNo()
	s.mu.Unlock()

	if pageNo == 0 {
		return nil
	}
	return m.CreatePage(pages.PageID{SpaceID: s.id, PageNo: pageNo})
}

// SegCreate allocates a new file segment and its first page, and stamps the
// segment id into the page at hdrOff. Returns nil when the space is full.
func (s *Space) SegCreate(m *mtr.MiniTx, hdrOff uint16) *pages.Page {
	s.mu.Lock()
	pageNo := s.popPageNo()
	if pageNo == 0 {
		s.mu.Unlock()
		return nil
	}
	seg := &segment{id: s.nextSeg, pages: []uint32{pageNo}}
	s.nextSeg++
	s.segs[seg.id] = seg
	s.mu.Unlock()

	p := m.CreatePage(pages.PageID{SpaceID: s.id, PageNo: pageNo})
	m.Write8(p, hdrOff, seg.id)
	return p
}

// SegID reads a file segment header previously written by SegCreate.
func SegID(p *pages.Page, hdrOff uint16) uint64 {
	return binary.BigEndian.Uint64(p.GetData()[hdrOff:])
}

// AllocPage allocates one more page into the segment whose header lives on
// segPage at hdrOff. The hint is the preferred page number neighborhood;
// this allocator does not chase locality, so it only records the intent.
// Returns nil when the space is full: callers must treat that as
// backpressure, not as an error.
func (s *Space) AllocPage(m *mtr.MiniTx, segPage *pages.Page, hdrOff uint16, hint uint32) *pages.Page {
	_ = hint
	segID := SegID(segPage, hdrOff)

	s.mu.Lock()
	seg := s.lookup(segID)
	pageNo := s.popPageNo()
	if pageNo == 0 {
		s.mu.Unlock()
		return nil
	}
	seg.pages = append(seg.pages, pageNo)
	s.mu.Unlock()

	return m.CreatePage(pages.PageID{SpaceID: s.id, PageNo: pageNo})
}

// FreePage returns one page of a segment to the space. The frame must
// already be unpinned; the caller releases it from its mini-transaction
// first. The page carrying the fseg header cannot be freed this way.
func (s *Space) FreePage(segPage *pages.Page, hdrOff uint16, pageNo uint32) {
	segID := SegID(segPage, hdrOff)

	s.mu.Lock()
	seg := s.lookup(segID)
	if seg.pages[0] == pageNo {
		s.mu.Unlock()
		panic(fmt.Sprintf("freed the header page %v of segment %v", pageNo, segID))
	}
	removePage(seg, pageNo)
	s.free = append(s.free, pageNo)
	s.mu.Unlock()

	s.pool.DropPage(pages.PageID{SpaceID: s.id, PageNo: pageNo})
}

// FreeStep releases one page of the segment and reports whether the segment
// is fully freed. Each call is bounded work so that a caller can give every
// step its own mini-transaction. The header page goes last; freeing it also
// releases segPage from the mini-transaction, so the caller must not touch
// the frame after FreeStep returns true.
func (s *Space) FreeStep(m *mtr.MiniTx, segPage *pages.Page, hdrOff uint16) bool {
	segID := SegID(segPage, hdrOff)

	s.mu.Lock()
	seg, ok := s.segs[segID]
	if !ok {
		s.mu.Unlock()
		return true
	}

	if len(seg.pages) > 1 {
		pageNo := seg.pages[len(seg.pages)-1]
		seg.pages = seg.pages[:len(seg.pages)-1]
		s.free = append(s.free, pageNo)
		s.mu.Unlock()

		s.pool.DropPage(pages.PageID{SpaceID: s.id, PageNo: pageNo})
		return false
	}

	pageNo := seg.pages[0]
	delete(s.segs, segID)
	s.free = append(s.free, pageNo)
	s.mu.Unlock()

	m.Release(segPage)
	s.pool.DropPage(pages.PageID{SpaceID: s.id, PageNo: pageNo})
	return true
}

// SegPageCount reports how many pages a segment currently owns. Test helper.
func (s *Space) SegPageCount(segID uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg, ok := s.segs[segID]
	if !ok {
		return 0
	}
	return len(seg.pages)
}

func (s *Space) lookup(segID uint64) *segment {
	seg, ok := s.segs[segID]
	if !ok {
		panic(fmt.Sprintf("unknown file segment: %v", segID))
	}
	return seg
}

func removePage(seg *segment, pageNo uint32) {
	for i, p := range seg.pages {
		if p == pageNo {
			seg.pages = append(seg.pages[:i], seg.pages[i+1:]...)
			return
		}
	}
	panic(fmt.Sprintf("page %v is not in segment %v", pageNo, seg.id))
}
