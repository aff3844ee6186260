package connection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"sessionlink/internal/hub"
	"sessionlink/internal/session"
	"sessionlink/internal/testpeer"
	"sessionlink/internal/websocket"
	"sessionlink/pkg/interfaces"
	"sessionlink/pkg/types"
)

const waitTimeout = 3 * time.Second

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// eventLog records hub events for assertions
type eventLog struct {
	mu     sync.Mutex
	events []hub.Event
}

func (l *eventLog) OnEvent(e hub.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) all() []hub.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]hub.Event(nil), l.events...)
}

func (l *eventLog) ofKind(kind hub.EventKind) []hub.Event {
	var out []hub.Event
	for _, e := range l.all() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) statuses() []types.Status {
	var out []types.Status
	for _, e := range l.ofKind(hub.EventStatus) {
		out = append(out, e.Status)
	}
	return out
}

func (l *eventLog) lastStatus() types.Status {
	statuses := l.statuses()
	if len(statuses) == 0 {
		return types.Status{}
	}
	return statuses[len(statuses)-1]
}

type navigator struct {
	mu      sync.Mutex
	targets []string
}

func (n *navigator) Navigate(target string) {
	n.mu.Lock()
	n.targets = append(n.targets, target)
	n.mu.Unlock()
}

func (n *navigator) visited() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.targets...)
}

// gatedDialer holds handshakes until released
type gatedDialer struct {
	inner interfaces.Dialer
	mu    sync.Mutex
	gate  chan struct{}
}

func (d *gatedDialer) hold() {
	d.mu.Lock()
	d.gate = make(chan struct{})
	d.mu.Unlock()
}

func (d *gatedDialer) release() {
	d.mu.Lock()
	if d.gate != nil {
		close(d.gate)
		d.gate = nil
	}
	d.mu.Unlock()
}

func (d *gatedDialer) Dial(ctx context.Context, endpoint string, handler interfaces.ChannelHandler) (interfaces.Channel, error) {
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return d.inner.Dial(ctx, endpoint, handler)
}

type harness struct {
	t    *testing.T
	dial *gatedDialer
	peer *testpeer.Peer
	hub  *hub.Hub
	log  *eventLog
	nav  *navigator
	sess *session.Session
	m    *Manager
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.ReconnectInterval = 20 * time.Millisecond
	opts.ReconnectCap = 80 * time.Millisecond
	opts.HeartbeatInterval = time.Hour
	opts.ConnectionTimeout = time.Hour
	opts.LivenessCheckInterval = time.Hour
	opts.DialTimeout = time.Second
	opts.RedirectDelay = 30 * time.Millisecond
	return opts
}

func newHarness(t *testing.T, tune func(*Options)) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	peer := testpeer.New(t)
	sess, err := session.NewSession("ABC123")
	require.NoError(t, err)

	events := hub.NewHub(logger)
	require.NoError(t, events.Start(context.Background()))
	log := &eventLog{}
	_, err = events.Subscribe(log)
	require.NoError(t, err)

	opts := testOptions()
	opts.Endpoint = peer.URL(sess.Code)
	if tune != nil {
		tune(&opts)
	}

	nav := &navigator{}
	dialer := &gatedDialer{inner: websocket.NewDialer(websocket.DialerConfig{WriteTimeout: time.Second}, logger)}
	m, err := NewManager(opts, sess, dialer, events, nav, logger)
	require.NoError(t, err)

	t.Cleanup(func() {
		dialer.release()
		m.Close()
		m.Wait()
		_ = events.Stop()
	})

	return &harness{t: t, dial: dialer, peer: peer, hub: events, log: log, nav: nav, sess: sess, m: m}
}

func (h *harness) waitFor(kind hub.EventKind, count int) []hub.Event {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return len(h.log.ofKind(kind)) >= count
	}, waitTimeout, 5*time.Millisecond, "waiting for %d %s event(s)", count, kind)
	return h.log.ofKind(kind)
}

func (h *harness) connect() {
	h.t.Helper()
	h.m.Connect()
	_, err := h.peer.WaitAccepted(waitTimeout)
	require.NoError(h.t, err)
	h.waitFor(hub.EventOpen, 1)
}

func (h *harness) nextFrame(msgType string) map[string]interface{} {
	h.t.Helper()
	f, err := h.peer.NextFrameOfType(msgType, waitTimeout)
	require.NoError(h.t, err, "waiting for %s frame", msgType)
	m, err := f.Decode()
	require.NoError(h.t, err)
	return m
}

func TestNewManager_Validation(t *testing.T) {
	sess, _ := session.NewSession("ABC123")
	dialer := websocket.NewDialer(websocket.DialerConfig{}, nil)
	events := hub.NewHub(nil)
	opts := Options{Endpoint: "ws://localhost/ws/design-thinking/ABC123/"}

	_, err := NewManager(opts, nil, dialer, events, nil, nil)
	assert.ErrorIs(t, err, ErrNilSession)
	_, err = NewManager(opts, sess, nil, events, nil, nil)
	assert.ErrorIs(t, err, ErrNilDialer)
	_, err = NewManager(opts, sess, dialer, nil, nil, nil)
	assert.ErrorIs(t, err, ErrNilPublisher)
	_, err = NewManager(Options{}, sess, dialer, events, nil, nil)
	assert.ErrorIs(t, err, ErrEmptyEndpoint)

	m, err := NewManager(opts, sess, dialer, events, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, 10, m.Snapshot().MaxAttempts)
}

// Scenario: connect and open
func TestManager_ConnectOpens(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	assert.Equal(t, StateOpen, h.m.State())
	assert.Equal(t, 0, h.m.Attempts())
	assert.Equal(t, []string{"/ws/design-thinking/ABC123/"}, h.peer.Paths())

	require.Eventually(t, func() bool {
		return h.log.lastStatus().Kind == types.StatusConnected
	}, waitTimeout, 5*time.Millisecond)
	status := h.log.lastStatus()
	assert.Equal(t, types.TextConnected, status.Message)
	assert.Equal(t, 3*time.Second, status.Dismiss, "connected status auto-dismisses")

	open := h.log.ofKind(hub.EventOpen)[0]
	assert.Equal(t, "ABC123", open.SessionCode)
	assert.NotZero(t, open.ConnectionID)
	assert.False(t, h.m.LastActivity().IsZero())
}

func TestManager_ConnectIsNoopWhileOpen(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	h.m.Connect()
	h.m.Connect()
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, h.peer.Attempts())
	assert.Len(t, h.log.ofKind(hub.EventOpen), 1)
}

// Scenario: a message sent before open is the first frame after open
func TestManager_SendBeforeOpenIsQueued(t *testing.T) {
	h := newHarness(t, nil)
	h.dial.hold()

	assert.False(t, h.m.Send(map[string]string{"type": "ping_app"}))
	assert.Equal(t, 1, h.m.QueueLen())
	assert.Equal(t, StateConnecting, h.m.State(), "send heals the connection")
	_, err := h.peer.NextFrame(50 * time.Millisecond)
	assert.ErrorIs(t, err, testpeer.ErrTimeout, "nothing transmitted before open")

	h.dial.release()
	h.waitFor(hub.EventOpen, 1)

	first, err := h.peer.NextFrame(waitTimeout)
	require.NoError(t, err)
	assert.Equal(t, "ping_app", first.Type())
	assert.Equal(t, 0, h.m.QueueLen())
}

// Property: every queued message appears exactly once, in call order, before
// anything sent after the open
func TestManager_FlushPreservesOrder(t *testing.T) {
	h := newHarness(t, nil)
	h.dial.hold()

	_, err := h.hub.Subscribe(hub.Callbacks{OnOpen: func() {
		h.m.Send(map[string]interface{}{"type": "after_open"})
	}})
	require.NoError(t, err)

	want := []string{"m1", "m2", "m3", "m4", "m5"}
	for _, msgType := range want {
		assert.False(t, h.m.Send(map[string]string{"type": msgType}))
	}
	assert.Equal(t, len(want), h.m.QueueLen())
	h.dial.release()
	_, err = h.peer.WaitAccepted(waitTimeout)
	require.NoError(t, err)

	var got []string
	for len(got) < len(want)+1 {
		f, err := h.peer.NextFrame(waitTimeout)
		require.NoError(t, err)
		got = append(got, f.Type())
	}
	assert.Equal(t, append(want, "after_open"), got)

	_, err = h.peer.NextFrame(50 * time.Millisecond)
	assert.ErrorIs(t, err, testpeer.ErrTimeout, "no duplicates")
}

func TestManager_SendWhenOpenTransmits(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	assert.True(t, h.m.Send(map[string]interface{}{"type": "submit_idea", "text": "hello"}))
	frame := h.nextFrame("submit_idea")
	assert.Equal(t, "hello", frame["text"])
}

func TestManager_SendRejectsUnencodable(t *testing.T) {
	h := newHarness(t, nil)

	assert.False(t, h.m.Send(map[string]interface{}{"payload": 1}))
	assert.False(t, h.m.Send([]string{"not", "an", "object"}))
	assert.False(t, h.m.Send(map[string]interface{}{"type": "x", "fn": func() {}}))

	errs := h.waitFor(hub.EventError, 3)
	for _, e := range errs {
		assert.ErrorIs(t, e.Err, ErrUnsendable)
	}
	assert.Equal(t, 0, h.m.QueueLen())
	assert.Equal(t, StateIdle, h.m.State(), "rejected messages do not trigger a connect")
}

// Property: heartbeat round-trip echoes the peer timestamp exactly once
func TestManager_HeartbeatRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	require.NoError(t, h.peer.SendJSON(map[string]interface{}{
		"type":      "heartbeat",
		"timestamp": "2025-03-01T10:00:00.123456",
	}))

	reply := h.nextFrame(types.MessageTypeHeartbeatResponse)
	assert.Equal(t, "2025-03-01T10:00:00.123456", reply["timestamp"])
	assert.NotZero(t, reply["client_time"])

	_, err := h.peer.NextFrameOfType(types.MessageTypeHeartbeatResponse, 100*time.Millisecond)
	assert.ErrorIs(t, err, testpeer.ErrTimeout, "exactly one response")
}

func TestManager_HeartbeatNumericTimestamp(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	require.NoError(t, h.peer.SendRaw([]byte(`{"type":"heartbeat","timestamp":1700000000123}`)))
	f, err := h.peer.NextFrameOfType(types.MessageTypeHeartbeatResponse, waitTimeout)
	require.NoError(t, err)
	assert.Contains(t, string(f.Data), `"timestamp":1700000000123`)
}

func TestManager_PeriodicPing(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.HeartbeatInterval = 30 * time.Millisecond })
	h.connect()

	ping := h.nextFrame(types.MessageTypePing)
	assert.Equal(t, h.sess.ClientSessionID, ping["client_session_id"])
	assert.NotZero(t, ping["timestamp"])
}

// Property: close is idempotent
func TestManager_CloseIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	h.m.Close()
	h.m.Close()
	h.m.Close()

	require.Eventually(t, func() bool {
		return len(h.peer.CloseCodes()) == 1
	}, waitTimeout, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, []int{types.CloseNormalClosure}, h.peer.CloseCodes())
	closes := h.log.ofKind(hub.EventClose)
	require.Len(t, closes, 1)
	assert.True(t, closes[0].Manual)
	assert.Empty(t, h.log.ofKind(hub.EventReconnecting))
	assert.Empty(t, h.log.ofKind(hub.EventError))
	assert.Equal(t, types.TextConnectionClose, h.log.lastStatus().Message)
	assert.Equal(t, StateClosed, h.m.State())
}

func TestManager_CloseDiscardsQueue(t *testing.T) {
	h := newHarness(t, nil)
	h.peer.SetReject(true)

	h.m.Send(map[string]string{"type": "a"})
	h.m.Send(map[string]string{"type": "b"})
	h.m.Close()

	assert.Equal(t, 0, h.m.QueueLen())
	assert.True(t, h.m.Snapshot().ManualClose)
}

// Scenario: abnormal close schedules the first retry at the base interval
func TestManager_AbnormalCloseReconnects(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	require.NoError(t, h.peer.DropLatest())

	reconnecting := h.waitFor(hub.EventReconnecting, 1)
	assert.Equal(t, 1, reconnecting[0].Attempt)
	assert.Equal(t, 20*time.Millisecond, reconnecting[0].Delay)

	closes := h.log.ofKind(hub.EventClose)
	require.NotEmpty(t, closes)
	assert.Equal(t, types.CloseAbnormalClosure, closes[0].Code)
	assert.False(t, closes[0].Manual)
	assert.NotEmpty(t, h.log.ofKind(hub.EventError), "abrupt drop reports an error first")

	h.waitFor(hub.EventOpen, 2)
	assert.Equal(t, 0, h.m.Attempts(), "attempts reset on open")
	assert.Equal(t, 2, h.peer.Accepted())
}

func TestManager_PeerCloseCodeReported(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	require.NoError(t, h.peer.CloseLatest(4004, "Session not found"))

	closes := h.waitFor(hub.EventClose, 1)
	assert.Equal(t, 4004, closes[0].Code)
	assert.Equal(t, "Session not found", closes[0].Reason)
	h.waitFor(hub.EventReconnecting, 1)
}

func TestManager_NormalPeerCloseDoesNotReconnect(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	require.NoError(t, h.peer.CloseLatest(types.CloseNormalClosure, "done"))
	h.waitFor(hub.EventClose, 1)
	time.Sleep(100 * time.Millisecond)

	assert.Empty(t, h.log.ofKind(hub.EventReconnecting))
	assert.Equal(t, StateClosed, h.m.State())
	assert.Equal(t, types.TextConnectionLost, h.log.lastStatus().Message)
}

// Scenario: a transport close after a manual close schedules nothing
func TestManager_ManualCloseSuppressesReconnect(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	h.m.Close()
	_ = h.peer.CloseLatest(types.CloseAbnormalClosure, "")
	_ = h.peer.DropLatest()
	time.Sleep(150 * time.Millisecond)

	assert.Empty(t, h.log.ofKind(hub.EventReconnecting))
	assert.Equal(t, 1, h.peer.Attempts())
	assert.False(t, h.m.Snapshot().ReconnectDue)
}

func TestManager_CloseCancelsPendingReconnect(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.ReconnectInterval = 200 * time.Millisecond
		o.ReconnectCap = time.Second
	})
	h.peer.SetReject(true)

	h.m.Connect()
	h.waitFor(hub.EventReconnecting, 1)
	assert.True(t, h.m.Snapshot().ReconnectDue)

	h.m.Close()
	assert.False(t, h.m.Snapshot().ReconnectDue)
	time.Sleep(350 * time.Millisecond)

	assert.Equal(t, 1, h.peer.Attempts(), "cancelled retry never dials")
}

// Property: attempt cap terminates retries with a failed status
func TestManager_AttemptCapTerminates(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.MaxReconnectAttempts = 3
		o.ReconnectInterval = 10 * time.Millisecond
		o.ReconnectCap = 40 * time.Millisecond
	})
	h.peer.SetReject(true)

	h.m.Connect()
	failed := h.waitFor(hub.EventFailed, 1)
	assert.Equal(t, 3, failed[0].Attempt)
	time.Sleep(150 * time.Millisecond)

	reconnecting := h.log.ofKind(hub.EventReconnecting)
	require.Len(t, reconnecting, 3)
	for i, e := range reconnecting {
		assert.Equal(t, i+1, e.Attempt)
		assert.LessOrEqual(t, e.Delay, 40*time.Millisecond)
		if i > 0 {
			assert.GreaterOrEqual(t, e.Delay, reconnecting[i-1].Delay)
		}
	}

	assert.Equal(t, 4, h.peer.Attempts(), "initial connect plus three retries")
	assert.Equal(t, StateFailed, h.m.State())
	assert.Equal(t, 3, h.m.Attempts())
	assert.Len(t, h.log.ofKind(hub.EventFailed), 1)
	status := h.log.lastStatus()
	assert.Equal(t, types.StatusFailed, status.Kind)
	assert.Equal(t, types.TextFailed, status.Message)
}

func TestManager_RecoversAfterFailedDials(t *testing.T) {
	h := newHarness(t, nil)
	h.peer.SetReject(true)

	h.m.Connect()
	h.waitFor(hub.EventReconnecting, 2)
	h.peer.SetReject(false)

	h.waitFor(hub.EventOpen, 1)
	assert.Equal(t, 0, h.m.Attempts())
	assert.Equal(t, StateOpen, h.m.State())
}

// Property: silence beyond the connection timeout schedules a reconnect
// without any transport close
func TestManager_LivenessDetectsStall(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.ConnectionTimeout = 100 * time.Millisecond
		o.LivenessCheckInterval = 20 * time.Millisecond
	})
	h.connect()

	reconnecting := h.waitFor(hub.EventReconnecting, 1)
	assert.Equal(t, 1, reconnecting[0].Attempt)

	var sawTimeout bool
	for _, s := range h.log.statuses() {
		if s.Kind == types.StatusTimeout {
			sawTimeout = true
		}
	}
	assert.True(t, sawTimeout, "stall presented as timeout")

	closes := h.log.ofKind(hub.EventClose)
	require.NotEmpty(t, closes)
	assert.Equal(t, types.CloseClientAbandoned, closes[0].Code)

	h.waitFor(hub.EventOpen, 2)
}

func TestManager_TrafficKeepsConnectionAlive(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.ConnectionTimeout = 150 * time.Millisecond
		o.LivenessCheckInterval = 20 * time.Millisecond
	})
	h.connect()

	for i := 0; i < 8; i++ {
		require.NoError(t, h.peer.SendJSON(map[string]string{"type": "pong"}))
		time.Sleep(40 * time.Millisecond)
	}
	assert.Empty(t, h.log.ofKind(hub.EventReconnecting))
	assert.Equal(t, StateOpen, h.m.State())
}

// Scenario: session expiry navigates after the delay and never retries
func TestManager_SessionExpiredRedirects(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	require.NoError(t, h.peer.SendJSON(map[string]interface{}{
		"type":            "session_expired",
		"message":         "This session has ended",
		"should_redirect": true,
		"redirect_url":    "/x",
	}))

	require.Eventually(t, func() bool {
		return len(h.nav.visited()) == 1
	}, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, []string{"/x"}, h.nav.visited())

	var expired *types.Status
	for _, s := range h.log.statuses() {
		if s.Kind == types.StatusExpired {
			s := s
			expired = &s
		}
	}
	require.NotNil(t, expired)
	assert.Equal(t, "This session has ended", expired.Message)

	require.Eventually(t, func() bool { return h.m.State() == StateClosed }, waitTimeout, 5*time.Millisecond)
	_ = h.peer.DropLatest()
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, h.log.ofKind(hub.EventReconnecting))
	assert.Equal(t, 1, h.peer.Attempts())
}

func TestManager_SessionExpiredWithoutRedirect(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	require.NoError(t, h.peer.SendJSON(map[string]interface{}{
		"type":    "session_expired",
		"message": "Session over",
	}))
	require.Eventually(t, func() bool { return h.m.Snapshot().Expired }, waitTimeout, 5*time.Millisecond)

	// The peer hangs up abnormally; an expired session stays down
	require.NoError(t, h.peer.DropLatest())
	h.waitFor(hub.EventClose, 1)
	time.Sleep(100 * time.Millisecond)

	assert.Empty(t, h.nav.visited())
	assert.Empty(t, h.log.ofKind(hub.EventReconnecting))

	assert.False(t, h.m.Send(map[string]string{"type": "late"}), "no self-heal into an expired session")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.peer.Attempts())
}

func TestManager_ConnectionTimeoutWithReconnect(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	require.NoError(t, h.peer.SendJSON(map[string]interface{}{
		"type":             "connection_timeout",
		"message":          "Connection idle too long",
		"should_reconnect": true,
	}))

	h.waitFor(hub.EventReconnecting, 1)
	h.waitFor(hub.EventOpen, 2)

	var found bool
	for _, s := range h.log.statuses() {
		if s.Kind == types.StatusTimeout && s.Message == "Connection idle too long" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestManager_ConnectionTimeoutWithoutReconnect(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	require.NoError(t, h.peer.SendJSON(map[string]interface{}{
		"type":    "connection_timeout",
		"message": "Heads up",
	}))
	require.Eventually(t, func() bool {
		return h.log.lastStatus().Message == "Heads up"
	}, waitTimeout, 5*time.Millisecond)

	assert.Equal(t, StateOpen, h.m.State())
	assert.Empty(t, h.log.ofKind(hub.EventReconnecting))
}

func TestManager_ServerErrorKeepsChannelOpen(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	require.NoError(t, h.peer.SendJSON(map[string]string{"type": "error", "message": "Team not found"}))
	require.Eventually(t, func() bool {
		s := h.log.lastStatus()
		return s.Kind == types.StatusError && s.Message == "Team not found"
	}, waitTimeout, 5*time.Millisecond)

	assert.Equal(t, StateOpen, h.m.State())
	assert.Empty(t, h.log.ofKind(hub.EventClose))
}

func TestManager_ReconnectionComplete(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	require.NoError(t, h.peer.SendRaw([]byte(`{"type":"reconnection_complete","message":"Welcome back","current_phase":4}`)))

	reconnected := h.waitFor(hub.EventReconnected, 1)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(reconnected[0].Payload, &payload))
	assert.Equal(t, float64(4), payload["current_phase"])
	assert.Equal(t, types.StatusConnected, h.log.lastStatus().Kind)
}

func TestManager_EveryFrameForwarded(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	require.NoError(t, h.peer.SendJSON(map[string]interface{}{"type": "phase_changed", "phase": 2}))
	require.NoError(t, h.peer.SendJSON(map[string]string{"type": "pong"}))

	messages := h.waitFor(hub.EventMessage, 2)
	assert.Equal(t, "phase_changed", messages[0].Envelope.Type)
	assert.Equal(t, "pong", messages[1].Envelope.Type)
}

func TestManager_MalformedFramesDropped(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	require.NoError(t, h.peer.SendRaw([]byte(`not json`)))
	require.NoError(t, h.peer.SendRaw([]byte(`[1,2,3]`)))
	require.NoError(t, h.peer.SendJSON(map[string]string{"type": "pong"}))

	messages := h.waitFor(hub.EventMessage, 1)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, h.log.ofKind(hub.EventMessage), 1)
	assert.Equal(t, "pong", messages[0].Envelope.Type)
	assert.Equal(t, StateOpen, h.m.State())
}

// Scenario: a peer that only sends junk is still alive
func TestManager_MalformedTrafficKeepsConnectionAlive(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.ConnectionTimeout = 150 * time.Millisecond
		o.LivenessCheckInterval = 20 * time.Millisecond
	})
	h.connect()

	for i := 0; i < 8; i++ {
		require.NoError(t, h.peer.SendRaw([]byte(`not json`)))
		time.Sleep(40 * time.Millisecond)
	}
	assert.Empty(t, h.log.ofKind(hub.EventReconnecting))
	assert.Equal(t, StateOpen, h.m.State())
}

// Scenario: a socket that dies mid-stream surfaces as an error before the close
func TestManager_DropReportsConnectionError(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	require.NoError(t, h.peer.DropLatest())
	h.waitFor(hub.EventReconnecting, 1)

	require.Len(t, h.log.ofKind(hub.EventError), 1)
	closes := h.log.ofKind(hub.EventClose)
	require.NotEmpty(t, closes)
	assert.Equal(t, types.CloseAbnormalClosure, closes[0].Code)

	var kinds []types.StatusKind
	for _, s := range h.log.statuses() {
		kinds = append(kinds, s.Kind)
	}
	assert.Contains(t, kinds, types.StatusError)
	errorAt, lostAt := -1, -1
	for i, k := range kinds {
		if k == types.StatusError && errorAt < 0 {
			errorAt = i
		}
		if k == types.StatusDisconnected && lostAt < 0 {
			lostAt = i
		}
	}
	assert.Less(t, errorAt, lostAt, "connection error status precedes connection lost")
}

func TestManager_MalformedBudgetReconnects(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.MaxMalformedFrames = 2
		o.MalformedWindow = time.Minute
	})
	h.connect()

	require.NoError(t, h.peer.SendRaw([]byte(`{bad`)))
	require.NoError(t, h.peer.SendRaw([]byte(`{worse`)))

	h.waitFor(hub.EventReconnecting, 1)
	var broken bool
	for _, e := range h.log.ofKind(hub.EventError) {
		if errors.Is(e.Err, ErrBrokenPeer) {
			broken = true
		}
	}
	assert.True(t, broken)
	h.waitFor(hub.EventOpen, 2)
}

func TestManager_RequestReconnection(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()
	require.NoError(t, h.sess.SetLastKnownState(map[string]interface{}{"phase": 3}))

	assert.True(t, h.m.RequestReconnection())
	req := h.nextFrame(types.MessageTypeReconnectRequest)
	assert.Equal(t, h.sess.ClientSessionID, req["client_session_id"])
	assert.Equal(t, map[string]interface{}{"phase": float64(3)}, req["last_known_state"])
	assert.NotZero(t, req["timestamp"])
}

func TestManager_ResyncAfterReconnect(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()
	require.NoError(t, h.sess.SetLastKnownState("phase-2"))

	require.NoError(t, h.peer.DropLatest())
	h.waitFor(hub.EventOpen, 2)

	req := h.nextFrame(types.MessageTypeReconnectRequest)
	assert.Equal(t, "phase-2", req["last_known_state"])
}

func TestManager_NoResyncOnFirstOpen(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	_, err := h.peer.NextFrameOfType(types.MessageTypeReconnectRequest, 100*time.Millisecond)
	assert.ErrorIs(t, err, testpeer.ErrTimeout)
}

func TestManager_SendAfterCloseReconnects(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()
	h.m.Close()

	assert.False(t, h.m.Send(map[string]string{"type": "comeback"}))
	h.waitFor(hub.EventOpen, 2)

	f := h.nextFrame("comeback")
	assert.Equal(t, "comeback", f["type"])
	assert.False(t, h.m.Snapshot().ManualClose)
}

func TestManager_CloseDuringDialIsClean(t *testing.T) {
	h := newHarness(t, nil)

	h.m.Connect()
	h.m.Close()
	h.m.Wait()

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, h.log.ofKind(hub.EventOpen))
	assert.Empty(t, h.log.ofKind(hub.EventReconnecting))
	assert.NotEqual(t, StateOpen, h.m.State())
}

func TestManager_SnapshotReflectsState(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	snap := h.m.Snapshot()
	assert.Equal(t, "ABC123", snap.SessionCode)
	assert.Equal(t, h.sess.ClientSessionID, snap.ClientSessionID)
	assert.Equal(t, "open", snap.State)
	assert.NotZero(t, snap.ChannelID)
	assert.Equal(t, h.sess, h.m.Session())
}
