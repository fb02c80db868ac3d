// Package trx holds the transaction-side identifiers the undo log core
// persists: transaction ids, X/Open XA identification, and the dictionary
// operation marker recovery uses to undo an incomplete schema change.
package trx

import "sync"

type TrxID uint64

// TrxNo is the serialization number assigned at commit; history ordering is
// by TrxNo, not TrxID.
type TrxNo uint64

// DictOp tells whether a transaction is modifying the data dictionary.
type DictOp int

const (
	DictOpNone DictOp = iota
	// DictOpIndex creates or drops an index inside an existing table; the
	// table must not be dropped on recovery.
	DictOpIndex
	// DictOpTable creates or drops a whole table.
	DictOpTable
)

// Trx is the slice of a transaction this module needs: identity, XA state
// and the mutex serializing growth of the transaction's own undo logs.
type Trx struct {
	ID      TrxID
	XID     XID
	DictOp  DictOp
	TableID uint64

	// UndoMu serializes growth operations on this transaction's undo logs.
	// Only the owning transaction writes to them, but it may do so from
	// logically nested operations.
	UndoMu sync.Mutex
}

func New(id TrxID) *Trx {
	return &Trx{ID: id}
}
