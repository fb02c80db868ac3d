package undo

import (
	"testing"

	"github.com/stretchr/testify/require"

	"trxundo/buffer"
	"trxundo/config"
	"trxundo/flst"
	"trxundo/fsp"
	"trxundo/mtr"
	"trxundo/pages"
	"trxundo/trx"
)

type historyAppend struct {
	hdrPageNo uint32
	hdrOffset uint16
	trxNo     trx.TrxNo
}

// historyRecorder stands in for the purge subsystem and just records every
// notification.
type historyRecorder struct {
	appends []historyAppend
}

func (h *historyRecorder) Append(_ *RollbackSegment, hdrPageNo uint32, hdrOffset uint16, trxNo trx.TrxNo) {
	h.appends = append(h.appends, historyAppend{hdrPageNo: hdrPageNo, hdrOffset: hdrOffset, trxNo: trxNo})
}

type env struct {
	pool  *buffer.PagePool
	space *fsp.Space
	sink  *mtr.MemSink
	hist  *historyRecorder
	rseg  *RollbackSegment
}

func newEnv(t *testing.T, cfg config.Config, capacityPages uint32) *env {
	t.Helper()

	pool := buffer.NewPagePool()
	space := fsp.NewSpace(1, capacityPages, pool)
	sink := mtr.NewMemSink()
	hist := &historyRecorder{}

	r, err := CreateRollbackSegment(space, sink, cfg, hist, true)
	require.NoError(t, err)

	return &env{pool: pool, space: space, sink: sink, hist: hist, rseg: r}
}

func defaultEnv(t *testing.T) *env {
	return newEnv(t, config.Default(), 1<<20)
}

func (e *env) assign(t *testing.T, trxID trx.TrxID, kind Kind) *Log {
	t.Helper()
	u, err := e.rseg.Assign(trx.New(trxID), kind)
	require.NoError(t, err)
	return u
}

// appendRec writes one record, growing the log when the current last page is
// full.
func (e *env) appendRec(t *testing.T, l *Log, undoNo uint64, payload []byte) {
	t.Helper()

	m := mtr.Begin(e.pool, e.sink, true)
	defer m.Commit()

	for {
		ok, err := e.rseg.AppendRecord(m, l, undoNo, payload)
		require.NoError(t, err)
		if ok {
			return
		}
		p, err := e.rseg.AddPage(m, l)
		require.NoError(t, err)
		require.NotNil(t, p, "ran out of space while appending an undo record")
	}
}

// grow forces one more page onto the log so that later records land there.
func (e *env) grow(t *testing.T, l *Log) {
	t.Helper()

	m := mtr.Begin(e.pool, e.sink, true)
	defer m.Commit()

	p, err := e.rseg.AddPage(m, l)
	require.NoError(t, err)
	require.NotNil(t, p)
}

// finish runs the commit-side disposition of a log.
func (e *env) finish(t *testing.T, l *Log, trxNo trx.TrxNo) {
	t.Helper()

	m := mtr.Begin(e.pool, e.sink, true)
	_, err := e.rseg.SetStateAtFinish(m, l)
	require.NoError(t, err)

	if l.Kind() == KindUpdate {
		require.NoError(t, e.rseg.UpdateCleanup(m, l, trxNo))
		m.Commit()
		return
	}
	m.Commit()
	require.NoError(t, e.rseg.CommitCleanup(l))
}

func (e *env) pageListLen(t *testing.T, hdrPageNo uint32) uint32 {
	t.Helper()

	m := mtr.Begin(e.pool, e.sink, true)
	defer m.Commit()

	hdr, err := m.GetPage(pageID(e, hdrPageNo), mtr.Shared)
	require.NoError(t, err)
	return flst.Len(hdr, segHdrPageList)
}

func (e *env) slotPage(t *testing.T, slot uint16) uint32 {
	t.Helper()

	m := mtr.Begin(e.pool, e.sink, true)
	defer m.Commit()

	hdr, err := m.GetPage(e.rseg.headerID(), mtr.Shared)
	require.NoError(t, err)
	return slotPageNo(hdr, slot)
}

func pageID(e *env, pageNo uint32) pages.PageID {
	return pages.PageID{SpaceID: e.space.ID(), PageNo: pageNo}
}
