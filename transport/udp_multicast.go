package transport

import (
	"bytes"
	"context"
	"crypto/rand"
	"net"
	"sync"
	"time"
)

// UDPMulticast is a link transport over a UDP multicast group (spec §4.G,
// §6). Outbound frames get a trailing CRC32 before the datagram goes out;
// inbound datagrams are CRC-checked and stripped, and ones that bounce back
// from our own send socket are silently dropped. Grounded on
// original_source/tinyssb/tinyssb/io.py's UDP_MULTICAST / UDP_MULTICAST_NEIGHBOR.
type UDPMulticast struct {
	send  *net.UDPConn
	recv  *net.UDPConn
	group *net.UDPAddr

	mu       sync.Mutex
	selfAddr *net.UDPAddr
}

func NewUDPMulticast(groupAddr string) (*UDPMulticast, error) {
	group, err := net.ResolveUDPAddr("udp4", groupAddr)
	if err != nil {
		return nil, wrapErr(ErrDial, "resolve multicast group", err)
	}
	send, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, wrapErr(ErrDial, "open multicast send socket", err)
	}
	recv, err := net.ListenMulticastUDP("udp4", nil, group)
	if err != nil {
		send.Close()
		return nil, wrapErr(ErrDial, "join multicast group", err)
	}
	_ = recv.SetReadBuffer(maxFrameLen)

	m := &UDPMulticast{send: send, recv: recv, group: group}
	m.learnSelf()
	return m, nil
}

// learnSelf repeats a random nonce probe on the send socket until it is
// echoed back on the receive socket, recording the source address the rest
// of the group observes us as. Run's own-echo filter compares against it.
func (m *UDPMulticast) learnSelf() {
	nonce := make([]byte, 8)
	for attempt := 0; attempt < 100; attempt++ {
		if _, err := rand.Read(nonce); err != nil {
			return
		}
		if _, err := m.send.WriteToUDP(nonce, m.group); err != nil {
			return
		}
		_ = m.recv.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		buf := make([]byte, 8)
		n, src, err := m.recv.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		if n == len(nonce) && bytes.Equal(buf[:n], nonce) {
			m.mu.Lock()
			m.selfAddr = src
			m.mu.Unlock()
			break
		}
	}
	_ = m.recv.SetReadDeadline(time.Time{})
}

func (m *UDPMulticast) Broadcast(frame []byte) error {
	if len(frame) > maxFrameLen-4 {
		return newErr(ErrFrameTooLarge, "frame exceeds multicast datagram budget")
	}
	if _, err := m.send.WriteToUDP(appendCRC32(frame), m.group); err != nil {
		return wrapErr(ErrIO, "multicast send", err)
	}
	return nil
}

// Run reads datagrams until ctx is cancelled, handing each CRC-valid,
// non-self frame to onRX.
func (m *UDPMulticast) Run(ctx context.Context, onRX func([]byte)) error {
	buf := make([]byte, maxFrameLen)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		_ = m.recv.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, src, err := m.recv.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return wrapErr(ErrIO, "multicast recv", err)
		}
		m.mu.Lock()
		self := m.selfAddr
		m.mu.Unlock()
		if self != nil && udpAddrEqual(src, self) {
			continue
		}
		frame, ok := stripCRC32(buf[:n])
		if !ok {
			continue
		}
		onRX(append([]byte(nil), frame...))
	}
}

func (m *UDPMulticast) Close() error {
	_ = m.send.Close()
	return m.recv.Close()
}
