package trx

import "github.com/google/uuid"

// XIDDataSize is the fixed on-page size of the gtrid+bqual payload.
const XIDDataSize = 128

// XID identifies a distributed transaction for two-phase commit.
type XID struct {
	FormatID int32
	GTRID    []byte
	BQUAL    []byte
}

// IsZero reports whether the XID is empty.
func (x XID) IsZero() bool {
	return len(x.GTRID) == 0 && len(x.BQUAL) == 0
}

// Data packs gtrid followed by bqual into the fixed on-page payload.
func (x XID) Data() [XIDDataSize]byte {
	var buf [XIDDataSize]byte
	n := copy(buf[:], x.GTRID)
	copy(buf[n:], x.BQUAL)
	return buf
}

// Clone deep-copies the identifier.
func (x XID) Clone() XID {
	return XID{
		FormatID: x.FormatID,
		GTRID:    append([]byte(nil), x.GTRID...),
		BQUAL:    append([]byte(nil), x.BQUAL...),
	}
}

// RandomXID makes a fresh identifier. Mostly useful to coordinators and
// tests; recovered XIDs come from the undo log header instead.
func RandomXID() XID {
	g := uuid.New()
	b := uuid.New()
	return XID{
		GTRID: g[:],
		BQUAL: b[:],
	}
}
