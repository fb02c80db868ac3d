package buffer

import (
	"errors"
	"fmt"
	"sync"

	"trxundo/pages"
)

var ErrPageNotFoundInPageMap = errors.New("page cannot be found in the page map")

// Pool resolves a (space, page) identifier to a pinned in-memory page frame.
// Latching the frame is the caller's business; mini-transactions latch every
// frame they resolve and release it at commit.
type Pool interface {
	// GetPage returns the frame of an existing page, pinned.
	GetPage(id pages.PageID) (*pages.Page, error)

	// CreatePage registers a zeroed frame for a freshly allocated page and
	// returns it pinned. Panics if the page already exists; the allocator
	// must not hand out a live page number.
	CreatePage(id pages.PageID) *pages.Page

	// Unpin releases one pin taken by GetPage or CreatePage.
	Unpin(id pages.PageID, isDirty bool)

	// DropPage forgets a freed page's frame. Panics if the page is pinned.
	DropPage(id pages.PageID)
}

var _ Pool = &PagePool{}

// PagePool keeps every resolved page resident. Eviction policy belongs to
// the surrounding engine, not to the undo log core.
type PagePool struct {
	lock    sync.Mutex
	pageMap map[pages.PageID]*pages.Page
}

func NewPagePool() *PagePool {
	return &PagePool{pageMap: map[pages.PageID]*pages.Page{}}
}

func (b *PagePool) GetPage(id pages.PageID) (*pages.Page, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	p, ok := b.pageMap[id]
	if !ok {
		return nil, ErrPageNotFoundInPageMap
	}

	p.IncrPinCount()
	return p, nil
}

func (b *PagePool) CreatePage(id pages.PageID) *pages.Page {
	b.lock.Lock()
	defer b.lock.Unlock()

	if _, ok := b.pageMap[id]; ok {
		panic(fmt.Sprintf("created a page which already exists: %v", id))
	}

	p := pages.NewPage(id)
	b.pageMap[id] = p
	p.IncrPinCount()
	return p
}

func (b *PagePool) Unpin(id pages.PageID, isDirty bool) {
	b.lock.Lock()
	defer b.lock.Unlock()

	p, ok := b.pageMap[id]
	if !ok {
		panic(fmt.Sprintf("unpinned a page which does not exist: %v", id))
	}

	if isDirty {
		p.SetDirty()
	}

	if p.GetPinCount() <= 0 {
		panic(fmt.Sprintf("buffer.Unpin is called while pin count is lte zero. PageID: %v, pin count %v", id, p.GetPinCount()))
	}

	p.DecrPinCount()
}

func (b *PagePool) DropPage(id pages.PageID) {
	b.lock.Lock()
	defer b.lock.Unlock()

	p, ok := b.pageMap[id]
	if !ok {
		return
	}
	if p.GetPinCount() > 0 {
		panic(fmt.Sprintf("dropping a pinned page, pin count: %v", p.GetPinCount()))
	}

	delete(b.pageMap, id)
}

// PageCount returns the number of resident pages. Test helper.
func (b *PagePool) PageCount() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.pageMap)
}
