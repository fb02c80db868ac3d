package undo

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"trxundo/buffer"
	"trxundo/config"
	"trxundo/flst"
	"trxundo/fsp"
	"trxundo/mtr"
	"trxundo/pages"
	"trxundo/trx"
)

// NSlots is the number of undo slots in a rollback segment header, which
// bounds the transactions concurrently holding a log of one kind here.
const NSlots = 128

/**
 * Rollback segment header page layout, after the fil prologue:
 *  --------------------------------------------------------------
 *  | MaxSize (4) | HistorySize (4) | History (16) | Slots (4*128) |
 *  --------------------------------------------------------------
 *  Each slot holds the header page number of one undo segment, or
 *  NullPageNo when free.
 */
const (
	rsegHdr            = pages.FilHeaderSize
	rsegHdrMaxSize     = rsegHdr + 0
	rsegHdrHistorySize = rsegHdr + 4
	rsegHdrHistory     = rsegHdr + 8
	rsegHdrSlots       = rsegHdrHistory + flst.BaseNodeSize
)

var (
	// ErrTooManyConcurrent means every undo slot of the needed kind is taken.
	ErrTooManyConcurrent = errors.New("undo: too many active concurrent transactions")
	// ErrOutOfSpace means the tablespace or the segment size cap is exhausted.
	ErrOutOfSpace = errors.New("undo: out of file space")
	// ErrOutOfMemory is the allocation-failure sentinel of the assignment
	// path. Kept for callers that classify assignment errors; Go heap
	// exhaustion itself surfaces as a runtime panic.
	ErrOutOfMemory = errors.New("undo: out of memory")
)

var log = logrus.WithField("component", "undo")

// HistoryList is the purge side's intake. The rollback segment links a
// finished update log header into its on-page history list itself and then
// notifies the consumer; everything after that notification belongs to purge.
type HistoryList interface {
	Append(r *RollbackSegment, hdrPageNo uint32, hdrOffset uint16, trxNo trx.TrxNo)
}

// RollbackSegment owns one rollback segment header page, its 128 undo slots
// and the in-memory lists of the undo logs living in them. One mutex covers
// the lists, the cached size and the slot map; page content is protected by
// page latches as usual.
type RollbackSegment struct {
	mu sync.Mutex

	space       *fsp.Space
	pool        buffer.Pool
	sink        mtr.Sink
	cfg         config.Config
	history     HistoryList
	redoEnabled bool

	pageNo   uint32
	maxSize  uint32
	currSize uint32

	insertActive []*Log
	insertCached []*Log
	updateActive []*Log
	updateCached []*Log
}

// CreateRollbackSegment formats a new rollback segment header page in the
// space and returns its in-memory object. All slots start free.
func CreateRollbackSegment(space *fsp.Space, sink mtr.Sink, cfg config.Config,
	history HistoryList, redoEnabled bool) (*RollbackSegment, error) {
	m := mtr.Begin(space.Pool(), sink, redoEnabled)
	defer m.Commit()

	p := space.AllocRawPage(m)
	if p == nil {
		return nil, errors.Wrap(ErrOutOfSpace, "allocating a rollback segment header page")
	}
	m.Write2(p, pages.FilType, pages.FilTypeRsegHeader)
	m.Write4(p, rsegHdrMaxSize, cfg.RsegMaxSize)
	m.Write4(p, rsegHdrHistorySize, 0)
	flst.Init(m, p, rsegHdrHistory)

	slots := make([]byte, 4*NSlots)
	for i := range slots {
		slots[i] = 0xFF
	}
	m.WriteBytes(p, rsegHdrSlots, slots)

	return &RollbackSegment{
		space:       space,
		pool:        space.Pool(),
		sink:        sink,
		cfg:         cfg,
		history:     history,
		redoEnabled: redoEnabled,
		pageNo:      p.GetID().PageNo,
		maxSize:     cfg.RsegMaxSize,
	}, nil
}

// OpenRollbackSegment rebuilds the rollback segment object from its header
// page at startup, scanning the slots and reconstructing an in-memory log for
// every undo segment found, unless degraded startup is configured.
func OpenRollbackSegment(space *fsp.Space, pageNo uint32, sink mtr.Sink, cfg config.Config,
	history HistoryList, redoEnabled bool) (*RollbackSegment, error) {
	r := &RollbackSegment{
		space:       space,
		pool:        space.Pool(),
		sink:        sink,
		cfg:         cfg,
		history:     history,
		redoEnabled: redoEnabled,
		pageNo:      pageNo,
	}

	m := mtr.Begin(r.pool, sink, redoEnabled)
	hdr, err := m.GetPage(r.headerID(), mtr.Shared)
	if err != nil {
		m.Commit()
		return nil, errors.Wrap(err, "reading the rollback segment header")
	}
	r.maxSize = readU32(hdr, rsegHdrMaxSize)
	m.Commit()

	if err := r.recoverLists(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RollbackSegment) headerID() pages.PageID {
	return pages.PageID{SpaceID: r.space.ID(), PageNo: r.pageNo}
}

// HeaderPageNo returns the page number of the rollback segment header page.
func (r *RollbackSegment) HeaderPageNo() uint32 {
	return r.pageNo
}

func (r *RollbackSegment) SpaceID() uint32 {
	return r.space.ID()
}

// CurrSize reports the undo pages currently charged to this rollback
// segment: the summed sizes of all active and cached undo segments.
func (r *RollbackSegment) CurrSize() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currSize
}

// HistorySize reads the persisted count of history-owned undo pages.
func (r *RollbackSegment) HistorySize() (uint32, error) {
	m := mtr.Begin(r.pool, r.sink, r.redoEnabled)
	defer m.Commit()

	hdr, err := m.GetPage(r.headerID(), mtr.Shared)
	if err != nil {
		return 0, errors.Wrap(err, "reading the rollback segment header")
	}
	return readU32(hdr, rsegHdrHistorySize), nil
}

// HistoryLen reads the length of the on-page history list.
func (r *RollbackSegment) HistoryLen() (uint32, error) {
	m := mtr.Begin(r.pool, r.sink, r.redoEnabled)
	defer m.Commit()

	hdr, err := m.GetPage(r.headerID(), mtr.Shared)
	if err != nil {
		return 0, errors.Wrap(err, "reading the rollback segment header")
	}
	return flst.Len(hdr, rsegHdrHistory), nil
}

func slotOffset(id uint16) uint16 {
	if id >= NSlots {
		panic(fmt.Sprintf("undo slot id %v out of range", id))
	}
	return rsegHdrSlots + 4*id
}

func slotPageNo(hdr *pages.Page, id uint16) uint32 {
	return readU32(hdr, slotOffset(id))
}

func (r *RollbackSegment) setSlot(m *mtr.MiniTx, hdr *pages.Page, id uint16, pageNo uint32) {
	m.Write4(hdr, slotOffset(id), pageNo)
}

func findFreeSlot(hdr *pages.Page) (uint16, bool) {
	for i := uint16(0); i < NSlots; i++ {
		if slotPageNo(hdr, i) == pages.NullPageNo {
			return i, true
		}
	}
	return 0, false
}

// Assign gives the transaction an undo log of the requested kind: a cached
// segment is reused when one exists, otherwise a new segment is created.
// Nothing is mutated when an error comes back.
func (r *RollbackSegment) Assign(t *trx.Trx, kind Kind) (*Log, error) {
	m := mtr.Begin(r.pool, r.sink, r.redoEnabled)
	defer m.Commit()

	r.mu.Lock()
	defer r.mu.Unlock()

	u, err := r.reuseCached(m, kind, t.ID, t.XID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		u, err = r.create(m, kind, t.ID, t.XID)
		if err != nil {
			return nil, err
		}
	}

	switch kind {
	case KindInsert:
		addFirst(&r.insertActive, u)
	case KindUpdate:
		addFirst(&r.updateActive, u)
	default:
		panic(fmt.Sprintf("assign of an unknown undo kind %v", kind))
	}

	if t.DictOp != trx.DictOpNone {
		if err := r.markDictOperation(m, u, t.DictOp, t.TableID); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// create makes a brand new undo segment with a fresh header and returns its
// log object. The slot is taken and the size charged only once nothing can
// fail anymore.
func (r *RollbackSegment) create(m *mtr.MiniTx, kind Kind, trxID trx.TrxID, xid trx.XID) (*Log, error) {
	if r.currSize >= r.maxSize {
		return nil, errors.Wrapf(ErrOutOfSpace, "rollback segment is at its size cap of %v pages", r.maxSize)
	}

	hdr, err := m.GetPage(r.headerID(), mtr.Exclusive)
	if err != nil {
		return nil, errors.Wrap(err, "reading the rollback segment header")
	}

	page, slot, err := r.segCreate(m, hdr, kind)
	if err != nil {
		return nil, err
	}
	r.currSize++

	offset := headerCreate(m, page, trxID)
	headerAddSpaceForXID(m, page, offset)

	return memCreate(r, slot, kind, trxID, xid, page.GetID().PageNo, offset), nil
}

// segCreate allocates the file segment and header page of a new undo segment
// and points a free slot at it.
func (r *RollbackSegment) segCreate(m *mtr.MiniTx, hdr *pages.Page, kind Kind) (*pages.Page, uint16, error) {
	slot, ok := findFreeSlot(hdr)
	if !ok {
		log.Warnf("cannot find a free slot for an undo log in rollback segment %v; "+
			"there may be too many active transactions", r.pageNo)
		return nil, 0, ErrTooManyConcurrent
	}

	if err := r.space.ReserveExtents(2); err != nil {
		return nil, 0, errors.Wrap(ErrOutOfSpace, "reserving extents for a new undo segment")
	}
	page := r.space.SegCreate(m, segHdrFseg)
	r.space.ReleaseExtents(2)
	if page == nil {
		return nil, 0, errors.Wrap(ErrOutOfSpace, "allocating the undo segment header page")
	}

	pageInit(m, page, kind)
	m.Write2(page, pageHdrFree, segHdrEnd)
	m.Write2(page, segHdrLastLog, 0)
	flst.Init(m, page, segHdrPageList)
	if err := flst.AddLast(m, r.space.ID(), page, segHdrPageList, page, pageHdrNode); err != nil {
		return nil, 0, err
	}

	r.setSlot(m, hdr, slot, page.GetID().PageNo)
	return page, slot, nil
}

// reuseCached pulls a cached segment of the right kind and reinitializes its
// header page for the new transaction. Returns nil when the cache is empty.
func (r *RollbackSegment) reuseCached(m *mtr.MiniTx, kind Kind, trxID trx.TrxID, xid trx.XID) (*Log, error) {
	var list *[]*Log
	switch kind {
	case KindInsert:
		list = &r.insertCached
	case KindUpdate:
		list = &r.updateCached
	default:
		panic(fmt.Sprintf("reuse of an unknown undo kind %v", kind))
	}
	if len(*list) == 0 {
		return nil, nil
	}

	u := (*list)[0]
	if u.size != 1 {
		panic(fmt.Sprintf("cached undo segment %v spans %v pages", u.id, u.size))
	}

	page, err := m.GetPage(pages.PageID{SpaceID: r.space.ID(), PageNo: u.hdrPageNo}, mtr.Exclusive)
	if err != nil {
		return nil, errors.Wrap(err, "reading a cached undo segment header page")
	}

	var offset uint16
	if kind == KindInsert {
		offset = insertHeaderReuse(m, page, trxID)
	} else {
		if pageKind(page) != KindUpdate {
			panic(fmt.Sprintf("cached update undo segment %v has page kind %v", u.id, pageKind(page)))
		}
		offset = headerCreate(m, page, trxID)
	}
	headerAddSpaceForXID(m, page, offset)

	*list = (*list)[1:]
	memInitForReuse(u, trxID, xid, offset)
	return u, nil
}

// markDictOperation flags the log header so that recovery knows this
// transaction was changing the data dictionary.
func (r *RollbackSegment) markDictOperation(m *mtr.MiniTx, l *Log, op trx.DictOp, tableID uint64) error {
	switch op {
	case trx.DictOpIndex:
		// the table stays; recovery must not drop it
		l.tableID = 0
	case trx.DictOpTable:
		l.tableID = tableID
	default:
		panic(fmt.Sprintf("marking dict operation %v", op))
	}

	page, err := m.GetPage(pages.PageID{SpaceID: r.space.ID(), PageNo: l.hdrPageNo}, mtr.Exclusive)
	if err != nil {
		return errors.Wrap(err, "reading the undo log header page")
	}
	m.Write1(page, l.hdrOffset+logHdrDictTrans, 1)
	m.Write8(page, l.hdrOffset+logHdrTableID, l.tableID)
	l.dictOperation = true
	return nil
}

// ActiveCount and CachedCount report list lengths, mostly for tests and
// status output.
func (r *RollbackSegment) ActiveCount(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if kind == KindInsert {
		return len(r.insertActive)
	}
	return len(r.updateActive)
}

func (r *RollbackSegment) CachedCount(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if kind == KindInsert {
		return len(r.insertCached)
	}
	return len(r.updateCached)
}

func addFirst(list *[]*Log, u *Log) {
	*list = append([]*Log{u}, *list...)
}

func removeLog(list *[]*Log, u *Log) {
	for i, x := range *list {
		if x == u {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return
		}
	}
	panic(fmt.Sprintf("undo log %v is not on the list", u.id))
}
