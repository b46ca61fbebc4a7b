// Package goset implements anti-entropy over the set of known feed IDs via
// XOR-range claims and novelty gossip (spec §4.E), grounded line-for-line
// on original_source/old/tinyssb/goset.py re-expressed idiomatically.
package goset

import (
	"crypto/sha256"
	"fmt"
)

const (
	KeyLen = 32
	DmxLen = 7

	NoveltyLen = 1 + KeyLen          // 33
	ClaimLen   = 1 + KeyLen*3 + 1    // 98
	noveltyTag = 'n'
	claimTag   = 'c'
)

// Dmx is the fixed 7-byte prefix every novelty/claim frame is sent under.
var Dmx = func() [DmxLen]byte {
	sum := sha256.Sum256([]byte("tinySSB-0.1 GOset 1"))
	var out [DmxLen]byte
	copy(out[:], sum[:DmxLen])
	return out
}()

// Novelty announces a single newly-known key.
type Novelty struct {
	Key [KeyLen]byte
}

func (n Novelty) Encode() []byte {
	out := make([]byte, 0, NoveltyLen)
	out = append(out, noveltyTag)
	out = append(out, n.Key[:]...)
	return out
}

func DecodeNovelty(buf []byte) (Novelty, error) {
	if len(buf) != NoveltyLen || buf[0] != noveltyTag {
		return Novelty{}, fmt.Errorf("goset: not a novelty frame")
	}
	var n Novelty
	copy(n.Key[:], buf[1:])
	return n, nil
}

// Claim asserts the XOR of K[lo_idx..hi_idx] (inclusive), keyed by the
// boundary feed IDs rather than indices, since peers' local K orderings
// only agree on content, not position.
type Claim struct {
	Lo  [KeyLen]byte
	Hi  [KeyLen]byte
	Xor [KeyLen]byte
	Sz  byte
}

func (c Claim) Encode() []byte {
	out := make([]byte, 0, ClaimLen)
	out = append(out, claimTag)
	out = append(out, c.Lo[:]...)
	out = append(out, c.Hi[:]...)
	out = append(out, c.Xor[:]...)
	out = append(out, c.Sz)
	return out
}

func DecodeClaim(buf []byte) (Claim, error) {
	if len(buf) != ClaimLen || buf[0] != claimTag {
		return Claim{}, fmt.Errorf("goset: not a claim frame")
	}
	var c Claim
	copy(c.Lo[:], buf[1:1+KeyLen])
	copy(c.Hi[:], buf[1+KeyLen:1+2*KeyLen])
	copy(c.Xor[:], buf[1+2*KeyLen:1+3*KeyLen])
	c.Sz = buf[1+3*KeyLen]
	return c, nil
}
