package transport

import (
	"context"
	"net"
	"time"
)

// UDPUnicast is a direct point-to-point UDP link to a single peer (spec
// §4.G; original_source io.py UDP_UNICAST). Unlike multicast it carries no
// CRC framing: a unicast datagram only crosses one hop, already protected by
// the OS-level UDP checksum.
type UDPUnicast struct {
	conn *net.UDPConn
	peer *net.UDPAddr
}

func NewUDPUnicast(peerAddr string) (*UDPUnicast, error) {
	peer, err := net.ResolveUDPAddr("udp4", peerAddr)
	if err != nil {
		return nil, wrapErr(ErrDial, "resolve peer address", err)
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, wrapErr(ErrDial, "open unicast socket", err)
	}
	return &UDPUnicast{conn: conn, peer: peer}, nil
}

func (u *UDPUnicast) Broadcast(frame []byte) error {
	if _, err := u.conn.WriteToUDP(frame, u.peer); err != nil {
		return wrapErr(ErrIO, "unicast send", err)
	}
	return nil
}

func (u *UDPUnicast) Run(ctx context.Context, onRX func([]byte)) error {
	buf := make([]byte, maxFrameLen)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		_ = u.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, _, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return wrapErr(ErrIO, "unicast recv", err)
		}
		onRX(append([]byte(nil), buf[:n]...))
	}
}

func (u *UDPUnicast) Close() error { return u.conn.Close() }
