package pages

import "encoding/binary"

/**
 * Every page starts with the same fil prologue (size in bytes):
 *  -------------------------------------------------------
 *  | PageNo (4) | SpaceID (4) | PageLSN (8) | PageType (2) |
 *  -------------------------------------------------------
 */
const (
	FilPageNo = 0
	FilSpace  = 4
	FilLSN    = 8
	FilType   = 16

	FilHeaderSize = 18
)

// Page type tags kept in the fil prologue.
const (
	FilTypeAllocated  uint16 = 0
	FilTypeUndoLog    uint16 = 2
	FilTypeRsegHeader uint16 = 3
)

func readUint16(data []byte, off int) uint16 {
	return binary.BigEndian.Uint16(data[off:])
}

func writeUint16(data []byte, off int, v uint16) {
	binary.BigEndian.PutUint16(data[off:], v)
}

func readUint32(data []byte, off int) uint32 {
	return binary.BigEndian.Uint32(data[off:])
}

func writeUint32(data []byte, off int, v uint32) {
	binary.BigEndian.PutUint32(data[off:], v)
}
