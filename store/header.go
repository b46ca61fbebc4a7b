package store

import (
	"encoding/binary"
	"fmt"

	"tinyssb.dev/node/wire"
)

// header is the 120-byte block-0 layout of a log file (spec §3):
//
//	reserved(4) | fid(32) | parent_fid(32) | parent_seq(4) |
//	anchor_seq(4) | anchor_mid(20) | front_seq(4) | front_mid(20)
type header struct {
	Fid        wire.FID
	ParentFid  wire.FID
	ParentSeq  uint32
	AnchorSeq  uint32
	AnchorMid  wire.MID
	FrontSeq   uint32
	FrontMid   wire.MID
}

const headerLen = blockLen // 120

func encodeHeader(h header) []byte {
	buf := make([]byte, headerLen)
	off := 4 // reserved
	off += copy(buf[off:], h.Fid[:])
	off += copy(buf[off:], h.ParentFid[:])
	binary.BigEndian.PutUint32(buf[off:], h.ParentSeq)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], h.AnchorSeq)
	off += 4
	off += copy(buf[off:], h.AnchorMid[:])
	binary.BigEndian.PutUint32(buf[off:], h.FrontSeq)
	off += 4
	off += copy(buf[off:], h.FrontMid[:])
	if off != headerLen {
		panic(fmt.Sprintf("store: header encode produced %d bytes, want %d", off, headerLen))
	}
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) != headerLen {
		return header{}, fmt.Errorf("store: header block must be %d bytes, got %d", headerLen, len(buf))
	}
	var h header
	off := 4
	copy(h.Fid[:], buf[off:off+wire.FidLen])
	off += wire.FidLen
	copy(h.ParentFid[:], buf[off:off+wire.FidLen])
	off += wire.FidLen
	h.ParentSeq = binary.BigEndian.Uint32(buf[off:])
	off += 4
	h.AnchorSeq = binary.BigEndian.Uint32(buf[off:])
	off += 4
	copy(h.AnchorMid[:], buf[off:off+wire.MidLen])
	off += wire.MidLen
	h.FrontSeq = binary.BigEndian.Uint32(buf[off:])
	off += 4
	copy(h.FrontMid[:], buf[off:off+wire.MidLen])
	return h, nil
}
