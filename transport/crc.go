package transport

import (
	"encoding/binary"
	"hash/crc32"
	"net"
)

// maxFrameLen bounds a single datagram/frame this package will read or
// write; it is generous relative to wire.PacketLen so a chnk reply frame
// (dmx + packet) always fits with headroom.
const maxFrameLen = 4096

// appendCRC32 appends a trailing big-endian CRC32 of frame, matching
// original_source/tinyssb/tinyssb/io.py's UDP_MULTICAST_NEIGHBOR.send.
func appendCRC32(frame []byte) []byte {
	sum := crc32.ChecksumIEEE(frame)
	out := make([]byte, len(frame)+4)
	copy(out, frame)
	binary.BigEndian.PutUint32(out[len(frame):], sum)
	return out
}

// stripCRC32 splits pkt into its body and verifies the trailing CRC32,
// mirroring UDP_MULTICAST.recv's verify-then-strip step.
func stripCRC32(pkt []byte) ([]byte, bool) {
	if len(pkt) < 4 {
		return nil, false
	}
	body := pkt[:len(pkt)-4]
	want := binary.BigEndian.Uint32(pkt[len(pkt)-4:])
	return body, crc32.ChecksumIEEE(body) == want
}

func udpAddrEqual(a, b *net.UDPAddr) bool {
	return a.IP.Equal(b.IP) && a.Port == b.Port
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
