// Package wire implements the RMTP packet header codec: a fixed 12-byte,
// big-endian header shared by the multicast datagram path and the
// retransmission stream path (spec.md §6, component C1).
package wire

import (
	"encoding/binary"

	"github.com/Unidata/rmtp"
)

// Flag is a packet kind. Exactly one bit is set per valid flag; unlike a
// bitmask, flags are always compared with ==, never tested with &
// (spec.md §6 and the Open Question it resolves in favor of equality
// tests with distinct-bit encoding).
type Flag uint16

const (
	BOP      Flag = 0x0001
	EOP      Flag = 0x0002
	MemData  Flag = 0x0004
	RetxReq  Flag = 0x0008
	RetxRej  Flag = 0x0010
	RetxEnd  Flag = 0x0020
	RetxData Flag = 0x0040
	BopReq   Flag = 0x0080
	RetxBop  Flag = 0x0100
	RetxEop  Flag = 0x0200
	EopReq   Flag = 0x0400
)

// knownFlags lists every one-hot flag code; anything else is dropped
// silently per spec.md §4.1.
var knownFlags = map[Flag]bool{
	BOP: true, EOP: true, MemData: true, RetxReq: true, RetxRej: true,
	RetxEnd: true, RetxData: true, BopReq: true, RetxBop: true,
	RetxEop: true, EopReq: true,
}

// Known reports whether f is one of the flag codes defined above.
func (f Flag) Known() bool { return knownFlags[f] }

func (f Flag) String() string {
	switch f {
	case BOP:
		return "BOP"
	case EOP:
		return "EOP"
	case MemData:
		return "MEM_DATA"
	case RetxReq:
		return "RETX_REQ"
	case RetxRej:
		return "RETX_REJ"
	case RetxEnd:
		return "RETX_END"
	case RetxData:
		return "RETX_DATA"
	case BopReq:
		return "BOP_REQ"
	case RetxBop:
		return "RETX_BOP"
	case RetxEop:
		return "RETX_EOP"
	case EopReq:
		return "EOP_REQ"
	default:
		return "UNKNOWN"
	}
}

// Header is the 12-byte packet header of spec.md §6. Offsets: prodindex(4)
// seqnum(4) payloadlen(2) flags(2), all big-endian.
type Header struct {
	ProdIndex  rmtp.ProdIndex
	Seqnum     uint32
	PayloadLen uint16
	Flags      Flag
}

// Encode writes the 12-byte header into buf, which must be at least
// rmtp.HeaderLen bytes long. It never fails.
func Encode(buf []byte, h Header) {
	_ = buf[rmtp.HeaderLen-1]
	binary.BigEndian.PutUint32(buf[0:4], uint32(h.ProdIndex))
	binary.BigEndian.PutUint32(buf[4:8], h.Seqnum)
	binary.BigEndian.PutUint16(buf[8:10], h.PayloadLen)
	binary.BigEndian.PutUint16(buf[10:12], uint16(h.Flags))
}

// Decode parses a header from the first rmtp.HeaderLen bytes of buf.
// It returns rmtp.ErrTooShort if buf is shorter than that, if buf carries
// a payload inline (the datagram path passes the whole datagram; the
// stream path decodes a bare header prefix and reads payload separately,
// so this check only fires for the former) whose length doesn't match
// the declared PayloadLen, or if PayloadLen exceeds rmtp.DataLen for a
// flag kind that carries an actual inline payload (spec.md §4.1: "the
// decoder must reject any datagram whose actual payload length differs
// from header.payloadlen"). RETX_REQ/BOP_REQ/EOP_REQ/RETX_END repurpose
// PayloadLen to carry a requested byte-range length instead of an inline
// payload size, so they're excluded from the DataLen bound.
func Decode(buf []byte) (Header, error) {
	if len(buf) < rmtp.HeaderLen {
		return Header{}, rmtp.ErrTooShort
	}
	h := Header{
		ProdIndex:  rmtp.ProdIndex(binary.BigEndian.Uint32(buf[0:4])),
		Seqnum:     binary.BigEndian.Uint32(buf[4:8]),
		PayloadLen: binary.BigEndian.Uint16(buf[8:10]),
		Flags:      Flag(binary.BigEndian.Uint16(buf[10:12])),
	}
	switch h.Flags {
	case BOP, MemData, RetxData, RetxBop:
		if h.PayloadLen > rmtp.DataLen {
			return Header{}, rmtp.ErrTooShort
		}
	}
	if len(buf) > rmtp.HeaderLen && len(buf)-rmtp.HeaderLen != int(h.PayloadLen) {
		return Header{}, rmtp.ErrTooShort
	}
	return h, nil
}

// BOPPayload is the decoded body of a BOP / RETX_BOP datagram: prodsize
// (4B BE) ‖ metasize (2B BE) ‖ metadata.
type BOPPayload struct {
	ProdSize uint32
	Metadata []byte
}

// EncodeBOP serializes a BOPPayload. metadata must already be clamped to
// rmtp.MetaMax by the caller.
func EncodeBOP(prodsize uint32, metadata []byte) []byte {
	buf := make([]byte, 6+len(metadata))
	binary.BigEndian.PutUint32(buf[0:4], prodsize)
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(metadata)))
	copy(buf[6:], metadata)
	return buf
}

// DecodeBOP parses a BOP/RETX_BOP payload. payloadlen must be >= 6
// (spec.md §4.9 BOP handler); metasize is clamped to rmtp.MetaMax.
func DecodeBOP(payload []byte) (BOPPayload, error) {
	if len(payload) < 6 {
		return BOPPayload{}, rmtp.ErrTooShort
	}
	prodsize := binary.BigEndian.Uint32(payload[0:4])
	metasize := int(binary.BigEndian.Uint16(payload[4:6]))
	if metasize > rmtp.MetaMax {
		metasize = rmtp.MetaMax
	}
	if 6+metasize > len(payload) {
		return BOPPayload{}, rmtp.ErrTooShort
	}
	meta := make([]byte, metasize)
	copy(meta, payload[6:6+metasize])
	return BOPPayload{ProdSize: prodsize, Metadata: meta}, nil
}
