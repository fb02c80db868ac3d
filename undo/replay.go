package undo

import (
	"trxundo/mtr"
	"trxundo/pages"
)

// Replay re-executes one redo record against a page frame. Records carrying
// an LSN are applied at most once: a frame whose page LSN has already caught
// up is left alone, which is what makes replaying the same stream twice
// land on identical bytes.
func Replay(rec *mtr.Rec, p *pages.Page) {
	if rec.Lsn != pages.ZeroLSN && p.GetPageLSN() >= rec.Lsn {
		return
	}

	switch rec.T {
	case mtr.TypeUndoPageInit:
		applyPageInit(p, Kind(rec.Val))
	case mtr.TypeUndoHdrCreate:
		applyHeaderCreate(p, rec.Val)
	case mtr.TypeUndoHdrReuse:
		applyInsertHeaderReuse(p, rec.Val)
	case mtr.TypeUndoHdrDiscard:
		applyDiscardLatestLog(p)
	default:
		mtr.ApplyWrite(rec, p)
	}

	if rec.Lsn != pages.ZeroLSN {
		p.SetPageLSN(rec.Lsn)
	}
}
