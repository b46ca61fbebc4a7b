package transport

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestUDPUnicastBroadcastAndRunRoundTrip(t *testing.T) {
	a, err := NewUDPUnicast("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewUDPUnicast a: %v", err)
	}
	defer a.Close()
	b, err := NewUDPUnicast("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewUDPUnicast b: %v", err)
	}
	defer b.Close()

	a.peer = b.conn.LocalAddr().(*net.UDPAddr)
	b.peer = a.conn.LocalAddr().(*net.UDPAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan []byte, 1)
	go b.Run(ctx, func(frame []byte) { received <- frame })

	msg := []byte("hello unicast")
	if err := a.Broadcast(msg); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != string(msg) {
			t.Fatalf("got %q want %q", got, msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
	}
}
