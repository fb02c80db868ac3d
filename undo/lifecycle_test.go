package undo

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trxundo/mtr"
	"trxundo/pages"
	"trxundo/trx"
)

// buildSpreadLog makes an update log with records 5,6 on the header page and
// 7,8 on a second page.
func buildSpreadLog(t *testing.T, e *env) *Log {
	t.Helper()

	u := e.assign(t, 1, KindUpdate)
	e.appendRec(t, u, 5, []byte("five"))
	e.appendRec(t, u, 6, []byte("six"))
	e.grow(t, u)
	e.appendRec(t, u, 7, []byte("seven"))
	e.appendRec(t, u, 8, []byte("eight"))

	require.Equal(t, uint32(2), u.Size())
	require.NotEqual(t, u.HdrPageNo(), u.LastPageNo())
	return u
}

func collectUndoNos(t *testing.T, e *env, u *Log) []uint64 {
	t.Helper()

	m := mtr.Begin(e.pool, e.sink, true)
	defer m.Commit()

	var nos []uint64
	page, rec, err := GetFirstRec(m, e.space.ID(), u.HdrPageNo(), u.HdrOffset(), mtr.Shared)
	require.NoError(t, err)
	for rec != 0 {
		nos = append(nos, RecUndoNo(page, rec))
		page, rec, err = GetNextRec(m, e.space.ID(), page, rec, u.HdrPageNo(), u.HdrOffset(), mtr.Shared)
		require.NoError(t, err)
	}
	return nos
}

func TestTruncateEnd_Boundary(t *testing.T) {
	t.Run("limit inside the log frees the later page", func(t *testing.T) {
		e := defaultEnv(t)
		u := buildSpreadLog(t, e)
		framesBefore := e.pool.PageCount()

		require.NoError(t, e.rseg.TruncateEnd(u, 7))

		assert.Equal(t, []uint64{5, 6}, collectUndoNos(t, e, u))
		assert.Equal(t, uint32(1), u.Size())
		assert.Equal(t, u.Size(), e.pageListLen(t, u.HdrPageNo()))
		assert.Equal(t, u.HdrPageNo(), u.LastPageNo())
		assert.Equal(t, framesBefore-1, e.pool.PageCount())
		assert.Equal(t, uint32(1), e.rseg.CurrSize())

		_, _, topNo := u.TopRec()
		assert.False(t, u.Empty())
		assert.Equal(t, uint64(6), topNo)
	})

	t.Run("limit above the log leaves it untouched", func(t *testing.T) {
		e := defaultEnv(t)
		u := buildSpreadLog(t, e)

		require.NoError(t, e.rseg.TruncateEnd(u, 9))

		assert.Equal(t, []uint64{5, 6, 7, 8}, collectUndoNos(t, e, u))
		assert.Equal(t, uint32(2), u.Size())
		_, _, topNo := u.TopRec()
		assert.Equal(t, uint64(8), topNo)
	})

	t.Run("truncating everything empties the log down to its header page", func(t *testing.T) {
		e := defaultEnv(t)
		u := buildSpreadLog(t, e)

		require.NoError(t, e.rseg.TruncateEnd(u, 0))

		assert.Empty(t, collectUndoNos(t, e, u))
		assert.True(t, u.Empty())
		assert.Equal(t, uint32(1), u.Size())
	})
}

func TestTruncateStart_Boundary(t *testing.T) {
	e := defaultEnv(t)
	u := buildSpreadLog(t, e)
	hdrPageNo, hdrOffset := u.HdrPageNo(), u.HdrOffset()

	e.finish(t, u, 100) // goes to purge: size 2, free cursor past the reuse limit is not required
	require.Equal(t, StateToPurge, u.State())

	// 5 and 6 are consumed: the header page is emptied of its own records
	// but never freed
	require.NoError(t, e.rseg.TruncateStart(hdrPageNo, hdrOffset, 7))

	m := mtr.Begin(e.pool, e.sink, true)
	page, rec, err := GetFirstRec(m, e.space.ID(), hdrPageNo, hdrOffset, mtr.Shared)
	require.NoError(t, err)
	require.NotZero(t, rec)
	assert.Equal(t, uint64(7), RecUndoNo(page, rec))
	assert.NotEqual(t, hdrPageNo, page.GetID().PageNo)
	m.Commit()

	histSize, err := e.rseg.HistorySize()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), histSize, "no page was freed yet")

	// consuming the rest frees the second page but keeps the header page
	require.NoError(t, e.rseg.TruncateStart(hdrPageNo, hdrOffset, 9))

	m = mtr.Begin(e.pool, e.sink, true)
	_, rec, err = GetFirstRec(m, e.space.ID(), hdrPageNo, hdrOffset, mtr.Shared)
	require.NoError(t, err)
	assert.Zero(t, rec, "the log is logically empty now")
	hdr, err := m.GetPage(pages.PageID{SpaceID: e.space.ID(), PageNo: hdrPageNo}, mtr.Shared)
	require.NoError(t, err)
	assert.Equal(t, pages.FilTypeUndoLog, hdr.GetPageType())
	m.Commit()

	histSize, err = e.rseg.HistorySize()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), histSize)

	// running again over the empty log is "nothing to do"
	require.NoError(t, e.rseg.TruncateStart(hdrPageNo, hdrOffset, 9))
}

func TestFinish_InsertCachedAndReused(t *testing.T) {
	e := defaultEnv(t)

	u := e.assign(t, 1, KindInsert)
	e.appendRec(t, u, 1, []byte("small"))
	e.finish(t, u, 100)

	require.Equal(t, StateCached, u.State())
	assert.Equal(t, 1, e.rseg.CachedCount(KindInsert))
	assert.Equal(t, 0, e.rseg.ActiveCount(KindInsert))
	assert.Equal(t, uint32(1), e.rseg.CurrSize())
	assert.Empty(t, e.hist.appends, "insert logs never reach the history list")

	reused := e.assign(t, 2, KindInsert)
	assert.Same(t, u, reused, "the cached object itself must be handed back")
	assert.Equal(t, StateActive, reused.State())
	assert.Equal(t, trx.TrxID(2), reused.TrxID())
	assert.True(t, reused.Empty())
	assert.Equal(t, 0, e.rseg.CachedCount(KindInsert))
	assert.Equal(t, uint32(1), e.rseg.CurrSize(), "reuse allocates nothing")
}

func TestFinish_UpdateCachedAndReused(t *testing.T) {
	e := defaultEnv(t)

	u := e.assign(t, 1, KindUpdate)
	e.appendRec(t, u, 1, []byte("v1"))
	oldOffset := u.HdrOffset()
	e.finish(t, u, 100)

	require.Equal(t, StateCached, u.State())
	assert.Equal(t, 1, e.rseg.CachedCount(KindUpdate))
	// a cached update log still holds purgeable records, so purge hears
	// about it exactly once
	require.Len(t, e.hist.appends, 1)
	assert.Equal(t, u.HdrPageNo(), e.hist.appends[0].hdrPageNo)
	assert.Equal(t, oldOffset, e.hist.appends[0].hdrOffset)
	assert.Equal(t, trx.TrxNo(100), e.hist.appends[0].trxNo)

	reused := e.assign(t, 2, KindUpdate)
	assert.Same(t, u, reused)
	assert.Equal(t, StateActive, reused.State())
	assert.Greater(t, reused.HdrOffset(), oldOffset,
		"an update reuse lays a fresh header after the one purge still owns")
}

func TestFinish_EmptyUpdateLogDiscardsHeader(t *testing.T) {
	e := defaultEnv(t)

	u := e.assign(t, 1, KindUpdate)
	oldOffset := u.HdrOffset()
	e.finish(t, u, 100)

	require.Equal(t, StateCached, u.State())
	assert.Empty(t, e.hist.appends, "an empty update log has nothing to purge")

	histLen, err := e.rseg.HistoryLen()
	require.NoError(t, err)
	assert.Zero(t, histLen)

	// the discarded header was the only one, so reuse lays the new header at
	// the same offset instead of growing the chain
	reused := e.assign(t, 2, KindUpdate)
	assert.Same(t, u, reused)
	assert.Equal(t, oldOffset, reused.HdrOffset())
}

func TestFinish_InsertToFreeReleasesSegment(t *testing.T) {
	e := defaultEnv(t)

	u := e.assign(t, 1, KindInsert)
	payload := bytes.Repeat([]byte{0x11}, 900)
	for no := uint64(1); no <= 8; no++ {
		e.appendRec(t, u, no, payload)
	}
	require.Greater(t, u.Size(), uint32(1))

	slot := u.ID()
	hdrPageNo := u.HdrPageNo()
	framesBefore := e.pool.PageCount()
	size := u.Size()

	e.finish(t, u, 100)

	assert.Equal(t, StateToFree, u.State())
	assert.Equal(t, 0, e.rseg.ActiveCount(KindInsert))
	assert.Equal(t, 0, e.rseg.CachedCount(KindInsert))
	assert.Equal(t, uint32(0), e.rseg.CurrSize())
	assert.Equal(t, pages.NullPageNo, e.slotPage(t, slot))
	assert.Equal(t, framesBefore-int(size), e.pool.PageCount(), "every page frame is gone")
	assert.Empty(t, e.hist.appends)

	// the header page itself was freed with the segment
	_, err := e.pool.GetPage(pages.PageID{SpaceID: e.space.ID(), PageNo: hdrPageNo})
	assert.Error(t, err)
}

func TestFinish_UpdateToPurgeAppendsHistoryOnce(t *testing.T) {
	e := defaultEnv(t)

	u := buildSpreadLog(t, e)
	e.finish(t, u, 100)

	require.Equal(t, StateToPurge, u.State())
	require.Len(t, e.hist.appends, 1)
	assert.Equal(t, u.HdrPageNo(), e.hist.appends[0].hdrPageNo)

	histLen, err := e.rseg.HistoryLen()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), histLen)

	histSize, err := e.rseg.HistorySize()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), histSize)

	assert.Equal(t, 0, e.rseg.ActiveCount(KindUpdate))
	assert.Equal(t, 0, e.rseg.CachedCount(KindUpdate))
	assert.Equal(t, uint32(0), e.rseg.CurrSize(), "purge owns the pages now")

	// the commit number reached the header
	m := mtr.Begin(e.pool, e.sink, true)
	defer m.Commit()
	hdr, err := m.GetPage(pageID(e, u.HdrPageNo()), mtr.Shared)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), readU64(hdr, u.HdrOffset()+logHdrTrxNo))
}

func TestPurgeFreeSegment_ReclaimsPurgedLog(t *testing.T) {
	e := defaultEnv(t)

	u := buildSpreadLog(t, e)
	slot := u.ID()
	e.finish(t, u, 100)
	require.Equal(t, StateToPurge, u.State())

	require.NoError(t, e.rseg.TruncateStart(u.HdrPageNo(), u.HdrOffset(), 9))
	require.NoError(t, e.rseg.PurgeFreeSegment(u.HdrPageNo(), u.HdrOffset()))

	assert.Equal(t, pages.NullPageNo, e.slotPage(t, slot))

	histLen, err := e.rseg.HistoryLen()
	require.NoError(t, err)
	assert.Zero(t, histLen)

	histSize, err := e.rseg.HistorySize()
	require.NoError(t, err)
	assert.Zero(t, histSize)

	// only the rollback segment header page is left
	assert.Equal(t, 1, e.pool.PageCount())
}

func TestSetStateAtPrepare_RoundTrip(t *testing.T) {
	e := defaultEnv(t)
	u := e.assign(t, 1, KindUpdate)
	e.appendRec(t, u, 1, []byte("v"))

	xid := trx.RandomXID()

	m := mtr.Begin(e.pool, e.sink, true)
	hdr, err := e.rseg.SetStateAtPrepare(m, u, xid, false)
	require.NoError(t, err)
	assert.Equal(t, StatePrepared, u.State())
	assert.Equal(t, uint16(StatePrepared), readU16(hdr, segHdrState))
	assert.Equal(t, uint8(1), readU8(hdr, u.HdrOffset()+logHdrXIDExists))
	assert.Equal(t, xid, readXID(hdr, u.HdrOffset()))
	m.Commit()

	// rolling back the prepare returns the log to the active state
	m = mtr.Begin(e.pool, e.sink, true)
	hdr, err = e.rseg.SetStateAtPrepare(m, u, xid, true)
	require.NoError(t, err)
	assert.Equal(t, StateActive, u.State())
	assert.Equal(t, uint16(StateActive), readU16(hdr, segHdrState))
	m.Commit()
}
