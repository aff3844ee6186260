// Package testpeer provides an in-process stand-in for the session message
// router so connection behaviour can be exercised over real sockets.
package testpeer

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Errors returned by peer helpers
var (
	ErrNoConnection = errors.New("testpeer: no live connection")
	ErrTimeout      = errors.New("testpeer: timeout")
)

// Frame is one text frame received from a client
type Frame struct {
	Conn int
	Data []byte
}

// Decode unmarshals the frame as a JSON object
func (f Frame) Decode() (map[string]interface{}, error) {
	var m map[string]interface{}
	err := json.Unmarshal(f.Data, &m)
	return m, err
}

// Type returns the frame's type discriminator, or "" if it has none
func (f Frame) Type() string {
	m, err := f.Decode()
	if err != nil {
		return ""
	}
	s, _ := m["type"].(string)
	return s
}

// Peer is a WebSocket server that accepts /ws/design-thinking/{code}/
type Peer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	paths    []string
	codes    []int
	reject   bool
	attempts int
	accepted chan int
	frames   chan Frame
	wg       sync.WaitGroup
	closed   bool
}

// New starts a peer and stops it when the test ends
func New(t testing.TB) *Peer {
	p := &Peer{
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		accepted: make(chan int, 64),
		frames:   make(chan Frame, 1024),
	}
	p.server = httptest.NewServer(http.HandlerFunc(p.handle))
	t.Cleanup(p.Close)
	return p
}

func (p *Peer) handle(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.attempts++
	reject := p.reject || p.closed
	p.mu.Unlock()

	if !strings.HasPrefix(r.URL.Path, "/ws/design-thinking/") {
		http.NotFound(w, r)
		return
	}
	if reject {
		http.Error(w, "peer unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = conn.Close()
		return
	}
	p.conns = append(p.conns, conn)
	p.paths = append(p.paths, r.URL.Path)
	index := len(p.conns) - 1
	p.wg.Add(1)
	p.mu.Unlock()

	select {
	case p.accepted <- index:
	default:
	}

	defer p.wg.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				p.mu.Lock()
				p.codes = append(p.codes, closeErr.Code)
				p.mu.Unlock()
			}
			return
		}
		select {
		case p.frames <- Frame{Conn: index, Data: data}:
		default:
		}
	}
}

// Host returns host:port for endpoint construction
func (p *Peer) Host() string {
	return strings.TrimPrefix(p.server.URL, "http://")
}

// URL returns the channel endpoint for a session code
func (p *Peer) URL(sessionCode string) string {
	return fmt.Sprintf("ws://%s/ws/design-thinking/%s/", p.Host(), sessionCode)
}

// SetReject makes subsequent handshakes fail with HTTP 503
func (p *Peer) SetReject(reject bool) {
	p.mu.Lock()
	p.reject = reject
	p.mu.Unlock()
}

// Attempts counts handshake requests, accepted or not
func (p *Peer) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// Accepted counts upgraded connections
func (p *Peer) Accepted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Paths lists the request paths of accepted connections
func (p *Peer) Paths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.paths...)
}

// CloseCodes lists the close codes clients sent, in arrival order
func (p *Peer) CloseCodes() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.codes...)
}

// WaitAccepted blocks until the next connection is upgraded and returns its index
func (p *Peer) WaitAccepted(timeout time.Duration) (int, error) {
	select {
	case index := <-p.accepted:
		return index, nil
	case <-time.After(timeout):
		return -1, ErrTimeout
	}
}

// NextFrame returns the next frame from any connection
func (p *Peer) NextFrame(timeout time.Duration) (Frame, error) {
	select {
	case f := <-p.frames:
		return f, nil
	case <-time.After(timeout):
		return Frame{}, ErrTimeout
	}
}

// NextFrameOfType skips frames until one with the given type arrives
func (p *Peer) NextFrameOfType(msgType string, timeout time.Duration) (Frame, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Frame{}, ErrTimeout
		}
		f, err := p.NextFrame(remaining)
		if err != nil {
			return Frame{}, err
		}
		if f.Type() == msgType {
			return f, nil
		}
	}
}

// Drain discards frames that are already buffered
func (p *Peer) Drain() int {
	n := 0
	for {
		select {
		case <-p.frames:
			n++
		default:
			return n
		}
	}
}

func (p *Peer) latest() (*websocket.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.conns) == 0 {
		return nil, ErrNoConnection
	}
	return p.conns[len(p.conns)-1], nil
}

// SendJSON writes v to the most recent connection
func (p *Peer) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.SendRaw(data)
}

// SendRaw writes a text frame to the most recent connection
func (p *Peer) SendRaw(data []byte) error {
	conn, err := p.latest()
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// CloseLatest sends a close frame with code and closes the most recent connection
func (p *Peer) CloseLatest(code int, reason string) error {
	conn, err := p.latest()
	if err != nil {
		return err
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return conn.Close()
}

// DropLatest kills the most recent TCP connection without a close frame
func (p *Peer) DropLatest() error {
	conn, err := p.latest()
	if err != nil {
		return err
	}
	return conn.UnderlyingConn().Close()
}

// Close shuts the peer down and waits for its read loops
func (p *Peer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	conns := append([]*websocket.Conn(nil), p.conns...)
	p.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	p.wg.Wait()
	p.server.CloseClientConnections()
	p.server.Close()
}
