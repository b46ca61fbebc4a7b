package goset

import (
	"bytes"
	"testing"
)

func TestNoveltyEncodeDecodeRoundTrip(t *testing.T) {
	var n Novelty
	n.Key[0] = 0xAB
	enc := n.Encode()
	if len(enc) != NoveltyLen {
		t.Fatalf("novelty frame is %d bytes, want %d", len(enc), NoveltyLen)
	}
	got, err := DecodeNovelty(enc)
	if err != nil {
		t.Fatalf("DecodeNovelty: %v", err)
	}
	if got != n {
		t.Fatalf("roundtrip mismatch: got %v, want %v", got, n)
	}
}

func TestClaimEncodeDecodeRoundTrip(t *testing.T) {
	c := Claim{Sz: 3}
	c.Lo[0] = 0x01
	c.Hi[0] = 0x02
	c.Xor[0] = 0x03
	enc := c.Encode()
	if len(enc) != ClaimLen {
		t.Fatalf("claim frame is %d bytes, want %d", len(enc), ClaimLen)
	}
	got, err := DecodeClaim(enc)
	if err != nil {
		t.Fatalf("DecodeClaim: %v", err)
	}
	if got != c {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", got, c)
	}
}

func TestDecodeRejectsWrongTagOrLength(t *testing.T) {
	if _, err := DecodeNovelty(bytes.Repeat([]byte{0}, NoveltyLen)); err == nil {
		t.Fatalf("expected error for wrong novelty tag")
	}
	if _, err := DecodeClaim(bytes.Repeat([]byte{0}, ClaimLen)); err == nil {
		t.Fatalf("expected error for wrong claim tag")
	}
	if _, err := DecodeNovelty(make([]byte, NoveltyLen-1)); err == nil {
		t.Fatalf("expected error for short novelty frame")
	}
}

func TestDmxIsFixedSevenBytes(t *testing.T) {
	if len(Dmx) != DmxLen {
		t.Fatalf("Dmx is %d bytes, want %d", len(Dmx), DmxLen)
	}
}
