// Package blob implements the tinySSB blob sidechain (spec §4.B): splitting
// an arbitrarily long payload into a chain20 head packet plus a hash-linked
// list of 120-byte blobs, and reassembling it.
package blob

import (
	"crypto/sha256"
	"fmt"

	"tinyssb.dev/node/wire"
)

const (
	// BlobLen is the fixed size of every blob record on disk and wire.
	BlobLen     = 120
	DataLen     = 100
	NextPtrLen  = 20
	HeadRoom    = 28 // bytes of head payload before the 20B trailing pointer
)

type ErrorCode string

const (
	ErrNeedBlob ErrorCode = "NEED_BLOB"
	ErrBadChain ErrorCode = "BAD_CHAIN"
)

type Error struct {
	Code ErrorCode
	// Hash is set when Code == ErrNeedBlob: the hash of the missing blob.
	Hash [20]byte
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return string(e.Code)
}

// HashPointer returns sha256(blob)[:20], the content address of a blob.
func HashPointer(blob []byte) [20]byte {
	sum := sha256.Sum256(blob)
	var out [20]byte
	copy(out[:], sum[:20])
	return out
}

// MkChain splits content into a signed chain20 head packet plus the blobs
// of its sidechain, head-first. Grounded on
// original_source/tinyssb/tinyssb/packet.py::mk_chain.
func MkChain(fid wire.FID, seq uint32, prevMid wire.MID, content []byte, sign wire.SignFunc) (*wire.Packet, [][]byte, error) {
	sz := wire.EncodeVarInt(uint64(len(content)))
	buf := append(append([]byte{}, sz...), content...)

	var blobs [][]byte
	var headPayload []byte

	if len(buf) <= HeadRoom {
		headPayload = make([]byte, HeadRoom+NextPtrLen)
		copy(headPayload, buf)
		// trailing 20 bytes stay zero: no sidechain.
	} else {
		head := buf[:HeadRoom]
		tail := append([]byte{}, buf[HeadRoom:]...)
		if rem := len(tail) % DataLen; rem != 0 {
			tail = append(tail, make([]byte, DataLen-rem)...)
		}

		ptr := make([]byte, NextPtrLen) // terminates the chain: all-zero
		for len(tail) > 0 {
			slab := tail[len(tail)-DataLen:]
			tail = tail[:len(tail)-DataLen]
			rec := make([]byte, 0, BlobLen)
			rec = append(rec, slab...)
			rec = append(rec, ptr...)
			blobs = append(blobs, rec)
			hp := HashPointer(rec)
			ptr = hp[:]
		}
		// blobs were appended tail-first; reverse to head-first order.
		for i, j := 0, len(blobs)-1; i < j; i, j = i+1, j-1 {
			blobs[i], blobs[j] = blobs[j], blobs[i]
		}
		headPayload = make([]byte, 0, HeadRoom+NextPtrLen)
		headPayload = append(headPayload, head...)
		headPayload = append(headPayload, ptr...)
	}

	head, err := wire.EncodeTyped(fid, seq, prevMid, wire.TypeChain20, headPayload, sign)
	if err != nil {
		return nil, nil, fmt.Errorf("blob: encode head: %w", err)
	}
	return head, blobs, nil
}

// Chain tracks progressive reassembly of a chain20 entry's content.
type Chain struct {
	Length  uint64
	Content []byte
	NextPtr *[20]byte // nil once complete

	// NextIndex is the zero-based position, among the sidechain blobs
	// returned by MkChain, of the next blob this chain needs — the
	// blob_index of spec §4.F's pending_chains entries.
	NextIndex int
}

// FetchFunc retrieves a blob by its content hash, or reports it is not
// locally available.
type FetchFunc func(hash [20]byte) ([]byte, bool)

// StartChain parses the VarInt length and inline head content out of a
// chain20 packet's payload, without attempting to walk the sidechain.
func StartChain(payload [wire.PayloadLen]byte) (*Chain, error) {
	length, n, err := wire.DecodeVarInt(payload[:])
	if err != nil {
		return nil, fmt.Errorf("blob: %w", err)
	}
	headContent := payload[n:min(HeadRoom, n+int(length))]
	c := &Chain{Length: length, Content: append([]byte{}, headContent...)}
	if uint64(len(c.Content)) == c.Length {
		return c, nil
	}
	var ptr [20]byte
	copy(ptr[:], payload[HeadRoom:HeadRoom+NextPtrLen])
	if ptr == ([20]byte{}) {
		return nil, &Error{Code: ErrBadChain, Msg: "chain declares more content but carries a zero pointer"}
	}
	c.NextPtr = &ptr
	return c, nil
}

// Step consumes exactly one sidechain blob (the one at c.NextPtr), updates
// the chain's reassembly state, and returns the blob's raw 120 bytes. It
// returns ErrNeedBlob without changing state if the blob isn't available,
// and does nothing if the chain has no more blobs to consume.
func (c *Chain) Step(fetch FetchFunc) ([]byte, error) {
	if c.NextPtr == nil || uint64(len(c.Content)) >= c.Length {
		return nil, nil
	}
	raw, ok := fetch(*c.NextPtr)
	if !ok {
		return nil, &Error{Code: ErrNeedBlob, Hash: *c.NextPtr}
	}
	if len(raw) != BlobLen {
		return nil, &Error{Code: ErrBadChain, Msg: "blob is not 120 bytes"}
	}
	remaining := int(c.Length) - len(c.Content)
	take := DataLen
	if remaining < take {
		take = remaining
	}
	c.Content = append(c.Content, raw[:take]...)
	c.NextIndex++

	var next [20]byte
	copy(next[:], raw[DataLen:])
	if next == ([20]byte{}) {
		c.NextPtr = nil
	} else {
		c.NextPtr = &next
	}
	return raw, nil
}

// Advance walks the sidechain as far as locally available blobs allow.
// It returns ErrNeedBlob with the missing hash when reassembly cannot
// proceed further.
func (c *Chain) Advance(fetch FetchFunc) error {
	for c.NextPtr != nil && uint64(len(c.Content)) < c.Length {
		if _, err := c.Step(fetch); err != nil {
			return err
		}
	}
	return nil
}

// Complete reports whether all declared content has been reassembled.
func (c *Chain) Complete() bool {
	return uint64(len(c.Content)) == c.Length
}

// UndoChain parses a chain20 packet and reassembles as much content as the
// fetch function can supply, in one call. It returns the chain state either
// way; callers inspect Complete() or the returned error for ErrNeedBlob.
func UndoChain(p *wire.Packet, fetch FetchFunc) (*Chain, error) {
	if p.Typ != wire.TypeChain20 {
		return nil, &Error{Code: ErrBadChain, Msg: "packet is not chain20"}
	}
	c, err := StartChain(p.Payload)
	if err != nil {
		return nil, err
	}
	if err := c.Advance(fetch); err != nil {
		return c, err
	}
	return c, nil
}

