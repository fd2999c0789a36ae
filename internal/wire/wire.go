// Package wire provides the explicit big-endian codec and address-label
// validation used by the stream framing session and transport address
// parsers.
package wire

import "encoding/binary"

// PutUint16 writes v as big-endian into b[0:2].
func PutUint16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }

// Uint16 reads a big-endian uint16 from b[0:2].
func Uint16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }

// PutUint32 writes v as big-endian into b[0:4].
func PutUint32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }

// Uint32 reads a big-endian uint32 from b[0:4].
func Uint32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

// PutUint64 writes v as big-endian into b[0:8].
func PutUint64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }

// Uint64 reads a big-endian uint64 from b[0:8].
func Uint64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

// SplitSPHeader finds the boundary between the SP header and the body in a
// raw wire frame for a header-carrying domain (REQ/REP, SURVEYOR/RESPONDENT):
// the header is a stack of 4-byte big-endian hop words, self-delimited by
// the high bit of the final word (req/surveyor always mint IDs with that
// bit set, see nextID) rather than by a declared length, so a device can
// grow the stack by prepending a word without the frame format changing.
// Returns the header length in bytes, a multiple of 4. If the frame runs
// out before a terminal word is found, the whole frame counts as header.
func SplitSPHeader(frame []byte) int {
	for off := 0; off+4 <= len(frame); off += 4 {
		if frame[off]&0x80 != 0 {
			return off + 4
		}
	}
	return len(frame)
}
