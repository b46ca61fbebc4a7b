package transport

import (
	"bytes"
	"net"
	"testing"
)

func TestAppendStripCRC32RoundTrip(t *testing.T) {
	frame := []byte("hello tinyssb")
	framed := appendCRC32(frame)
	body, ok := stripCRC32(framed)
	if !ok {
		t.Fatalf("expected valid CRC")
	}
	if !bytes.Equal(body, frame) {
		t.Fatalf("body mismatch: got %q want %q", body, frame)
	}
}

func TestStripCRC32RejectsCorruption(t *testing.T) {
	framed := appendCRC32([]byte("hello"))
	framed[0] ^= 0xFF
	if _, ok := stripCRC32(framed); ok {
		t.Fatalf("expected CRC mismatch to be detected")
	}
}

func TestStripCRC32RejectsShortInput(t *testing.T) {
	if _, ok := stripCRC32([]byte{0x01, 0x02}); ok {
		t.Fatalf("expected short input to be rejected")
	}
}

func TestUDPAddrEqual(t *testing.T) {
	a := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 11112}
	b := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 11112}
	c := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 11113}
	if !udpAddrEqual(a, b) {
		t.Fatalf("expected equal addresses to compare equal")
	}
	if udpAddrEqual(a, c) {
		t.Fatalf("expected different ports to compare unequal")
	}
}
