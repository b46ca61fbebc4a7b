package transport

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  maxFrameLen,
	WriteBufferSize: maxFrameLen,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WebSocketServer accepts a single inbound peer connection, matching spec
// §4.G's one-logical-neighbour-per-link model (original_source io.py WS
// serves exactly one websocket at a time via self.websocket).
type WebSocketServer struct {
	addr string

	mu        sync.Mutex
	conn      *websocket.Conn
	ln        net.Listener
	ready     chan struct{}
	readyOnce sync.Once
}

func NewWebSocketServer(addr string) *WebSocketServer {
	return &WebSocketServer{addr: addr, ready: make(chan struct{})}
}

// Addr blocks until Run has bound its listener, then returns the effective
// address (useful when addr requests an ephemeral port in tests).
func (s *WebSocketServer) Addr() string {
	<-s.ready
	return s.ln.Addr().String()
}

func (s *WebSocketServer) Broadcast(frame []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return newErr(ErrNoPeer, "no websocket peer connected yet")
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return wrapErr(ErrIO, "websocket send", err)
	}
	return nil
}

// Run serves the configured address until ctx is cancelled, handing every
// inbound binary message to onRX. original_source io.py's WS.recv keeps a
// legacy pre-parse block ahead of an unconditional on_rx call; every message
// reaches on_rx regardless of parse outcome, so this is a plain passthrough.
func (s *WebSocketServer) Run(ctx context.Context, onRX func([]byte)) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return wrapErr(ErrDial, "websocket listen", err)
	}
	s.ln = ln
	s.readyOnce.Do(func() { close(s.ready) })

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			onRX(append([]byte(nil), msg...))
		}
	})
	srv := &http.Server{Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return wrapErr(ErrIO, "websocket serve", err)
	}
}

// WebSocketClient dials a WebSocketServer peer, the other half of spec
// §4.G's websocket link.
type WebSocketClient struct {
	url string

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWebSocketClient(url string) *WebSocketClient {
	return &WebSocketClient{url: url}
}

func (c *WebSocketClient) dial() (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return conn, nil
}

func (c *WebSocketClient) Broadcast(frame []byte) error {
	conn, err := c.dial()
	if err != nil {
		return wrapErr(ErrDial, "websocket dial", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return wrapErr(ErrIO, "websocket send", err)
	}
	return nil
}

func (c *WebSocketClient) Run(ctx context.Context, onRX func([]byte)) error {
	conn, err := c.dial()
	if err != nil {
		return wrapErr(ErrDial, "websocket dial", err)
	}
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		_ = conn.Close()
		close(done)
	}()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				return nil
			default:
			}
			return wrapErr(ErrIO, "websocket recv", err)
		}
		onRX(append([]byte(nil), msg...))
	}
}

func (c *WebSocketClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
