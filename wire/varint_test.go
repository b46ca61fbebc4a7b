package wire

import "testing"

func TestVarIntRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 27, 28, 29, 128, 252, 253, 65535, 65536, 0xffffffff, 0xffffffff + 1, 1 << 40}
	for _, v := range cases {
		enc := EncodeVarInt(v)
		got, n, err := DecodeVarInt(enc)
		if err != nil {
			t.Fatalf("decode(%d): %v", v, err)
		}
		if got != v {
			t.Fatalf("roundtrip(%d) = %d", v, got)
		}
		if n != len(enc) {
			t.Fatalf("consumed %d bytes, encoded %d", n, len(enc))
		}
	}
}

func TestVarIntBoundaryEncodings(t *testing.T) {
	if got := EncodeVarInt(252); len(got) != 1 {
		t.Fatalf("252 should encode in 1 byte, got %d", len(got))
	}
	if got := EncodeVarInt(253); got[0] != 0xfd {
		t.Fatalf("253 should use 0xfd tag")
	}
	if got := EncodeVarInt(0xffff); got[0] != 0xfd {
		t.Fatalf("0xffff should use 0xfd tag")
	}
	if got := EncodeVarInt(0x10000); got[0] != 0xfe {
		t.Fatalf("0x10000 should use 0xfe tag")
	}
	if got := EncodeVarInt(0x100000000); got[0] != 0xff {
		t.Fatalf("2^32 should use 0xff tag")
	}
}

func TestVarIntDecodeKnownBytes(t *testing.T) {
	cases := []struct {
		name string
		buf  []byte
		want uint64
	}{
		{"single byte 0xfc", []byte{0xfc}, 0xfc},
		{"0xfd prefix", []byte{0xfd, 0x01, 0x00}, 1},
		{"0xfe prefix", []byte{0xfe, 0x00, 0x00, 0x01, 0x00}, 0x10000},
		{"0xff prefix", []byte{0xff, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}, 0x100000000},
	}
	for _, c := range cases {
		got, _, err := DecodeVarInt(c.buf)
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if got != c.want {
			t.Fatalf("%s: got %d, want %d", c.name, got, c.want)
		}
	}
}

func TestVarIntDecodeAcceptsNonMinimalTag(t *testing.T) {
	// Matches the reference decoder (btc_var_int_decode): tag-driven width,
	// no minimality enforcement on decode even though Encode always
	// produces the minimal form.
	got, n, err := DecodeVarInt([]byte{0xfd, 0xfc, 0x00})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 252 || n != 3 {
		t.Fatalf("got (%d, %d), want (252, 3)", got, n)
	}
}

func TestVarIntDecodeTruncated(t *testing.T) {
	if _, _, err := DecodeVarInt(nil); err == nil {
		t.Fatalf("expected error on empty buffer")
	}
	if _, _, err := DecodeVarInt([]byte{0xfd, 0x01}); err == nil {
		t.Fatalf("expected error on truncated 0xfd")
	}
}
