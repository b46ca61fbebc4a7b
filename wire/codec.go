// Package wire implements the tinySSB packet format: 120-byte log entries,
// their DMX/MID derivation, signing, and verification (spec §4.A).
package wire

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
)

const (
	// Prefix is the fixed wire-format version tag mixed into every hash.
	Prefix = "tinyssb-v0"

	FidLen       = 32
	SeqLen       = 4
	MidLen       = 20
	DmxLen       = 7
	PayloadLen   = 48
	SignatureLen = 64

	// PacketLen is the fixed size of every on-wire log entry.
	PacketLen = DmxLen + 1 + PayloadLen + SignatureLen // 120
)

// PacketType is the `typ` byte of a log entry (spec §3).
type PacketType byte

const (
	TypePlain48 PacketType = 0x00
	TypeChain20 PacketType = 0x01
	TypeIsChild PacketType = 0x02
	TypeIsContn PacketType = 0x03
	TypeMkChild PacketType = 0x04
	TypeContdas PacketType = 0x05
	TypeAcknldg PacketType = 0x06
	TypeSet     PacketType = 0x07
	TypeDelete  PacketType = 0x08
)

// FID names a feed: a 32-byte Ed25519 public key.
type FID [FidLen]byte

// MID is a 20-byte message id, the prev_mid of the next packet in the feed.
type MID [MidLen]byte

// DMX is the 7-byte demultiplexor prefix used to route incoming packets
// without parsing them.
type DMX [DmxLen]byte

// SignFunc signs msg with the secret key belonging to a feed. The feed
// identity and signing capability are external collaborators (spec §1):
// this package only ever calls the function it is handed.
type SignFunc func(msg []byte) [SignatureLen]byte

// VerifyFunc verifies sig over msg against the public key fid.
type VerifyFunc func(fid FID, msg []byte, sig [SignatureLen]byte) bool

// Packet is a fully decoded 120-byte log entry together with the
// bookkeeping needed to recompute its DMX and successor DMX.
type Packet struct {
	Fid     FID
	Seq     uint32
	PrevMid MID

	Dmx       DMX
	Typ       PacketType
	Payload   [PayloadLen]byte
	Signature [SignatureLen]byte

	Wire [PacketLen]byte
	Mid  MID
}

// name returns the 56-byte "nam" field: fid ‖ be32(seq) ‖ prev_mid.
func name(fid FID, seq uint32, prevMid MID) []byte {
	buf := make([]byte, 0, FidLen+SeqLen+MidLen)
	buf = append(buf, fid[:]...)
	var seqBuf [SeqLen]byte
	binary.BigEndian.PutUint32(seqBuf[:], seq)
	buf = append(buf, seqBuf[:]...)
	buf = append(buf, prevMid[:]...)
	return buf
}

func computeDmx(fid FID, seq uint32, prevMid MID) DMX {
	h := sha256.New()
	h.Write([]byte(Prefix))
	h.Write(name(fid, seq, prevMid))
	var out DMX
	copy(out[:], h.Sum(nil)[:DmxLen])
	return out
}

func computeMid(nam []byte, wire []byte) MID {
	h := sha256.New()
	h.Write(nam)
	h.Write(wire)
	var out MID
	copy(out[:], h.Sum(nil)[:MidLen])
	return out
}

// EncodeTyped builds, signs and returns a full 120-byte packet of the given
// type. payload must be at most PayloadLen bytes; it is zero-padded.
func EncodeTyped(fid FID, seq uint32, prevMid MID, typ PacketType, payload []byte, sign SignFunc) (*Packet, error) {
	if len(payload) > PayloadLen {
		return nil, newErr(ErrPayloadTooLong, "payload exceeds 48 bytes")
	}
	p := &Packet{Fid: fid, Seq: seq, PrevMid: prevMid, Typ: typ}
	copy(p.Payload[:], payload)

	nam := name(fid, seq, prevMid)
	p.Dmx = computeDmx(fid, seq, prevMid)

	msg := make([]byte, 0, DmxLen+1+PayloadLen)
	msg = append(msg, p.Dmx[:]...)
	msg = append(msg, byte(typ))
	msg = append(msg, p.Payload[:]...)

	signed := make([]byte, 0, len(nam)+len(msg))
	signed = append(signed, nam...)
	signed = append(signed, msg...)
	p.Signature = sign(signed)

	copy(p.Wire[:DmxLen], p.Dmx[:])
	p.Wire[DmxLen] = byte(typ)
	copy(p.Wire[DmxLen+1:DmxLen+1+PayloadLen], p.Payload[:])
	copy(p.Wire[DmxLen+1+PayloadLen:], p.Signature[:])

	p.Mid = computeMid(nam, p.Wire[:])
	return p, nil
}

// EncodePlain is EncodeTyped with TypePlain48.
func EncodePlain(fid FID, seq uint32, prevMid MID, payload []byte, sign SignFunc) (*Packet, error) {
	return EncodeTyped(fid, seq, prevMid, TypePlain48, payload, sign)
}

// Decode parses and verifies a 120-byte wire buffer against the feed,
// sequence, and prev_mid the caller expects to find there.
func Decode(buf []byte, fid FID, seq uint32, prevMid MID, verify VerifyFunc) (*Packet, error) {
	if len(buf) != PacketLen {
		return nil, newErr(ErrShortBuffer, "packet must be 120 bytes")
	}
	expectedDmx := computeDmx(fid, seq, prevMid)
	if !bytes.Equal(expectedDmx[:], buf[:DmxLen]) {
		return nil, newErr(ErrInvalidDmx, "dmx mismatch")
	}

	p := &Packet{Fid: fid, Seq: seq, PrevMid: prevMid, Dmx: expectedDmx}
	p.Typ = PacketType(buf[DmxLen])
	copy(p.Payload[:], buf[DmxLen+1:DmxLen+1+PayloadLen])
	copy(p.Signature[:], buf[DmxLen+1+PayloadLen:])
	copy(p.Wire[:], buf)

	nam := name(fid, seq, prevMid)
	if verify != nil {
		signed := make([]byte, 0, len(nam)+DmxLen+1+PayloadLen)
		signed = append(signed, nam...)
		signed = append(signed, buf[:DmxLen+1+PayloadLen]...)
		if !verify(fid, signed, p.Signature) {
			return nil, newErr(ErrBadSignature, "signature verify failed")
		}
	}
	p.Mid = computeMid(nam, p.Wire[:])
	return p, nil
}

// PredictNextDmx returns the DMX the packet at seq+1 (chained from this
// packet's mid) will carry — used by the engine to arm a handler before
// the next packet arrives.
func PredictNextDmx(p *Packet) DMX {
	return computeDmx(p.Fid, p.Seq+1, p.Mid)
}

// ComputeDmx exposes computeDmx for callers that need to arm a handler
// for a sequence number they have not yet decoded a packet for (e.g. the
// genesis DMX of a not-yet-existing feed).
func ComputeDmx(fid FID, seq uint32, prevMid MID) DMX {
	return computeDmx(fid, seq, prevMid)
}

// ContentComplete reports whether a packet's payload-visible content is
// fully available without consulting any sidechain state. plain48 is
// always complete; chain20 completeness is tracked by the blob package.
func (p *Packet) ContentComplete() bool {
	return p.Typ == TypePlain48
}
