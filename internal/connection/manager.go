package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"sessionlink/internal/hub"
	"sessionlink/internal/router"
	"sessionlink/internal/session"
	"sessionlink/pkg/interfaces"
	"sessionlink/pkg/types"
)

// Publisher receives the manager's lifecycle events. *hub.Hub satisfies it.
type Publisher interface {
	Publish(e hub.Event) error
}

// Manager keeps one logical connection to a session channel alive.
// ARCHITECTURAL DISCOVERY: Every state change happens under mu, and every event
// is published under mu, so observers see transitions in the order they happened.
// Observers themselves run on the hub goroutine and never hold mu.
type Manager struct {
	opts      Options
	session   *session.Session
	dialer    interfaces.Dialer
	events    Publisher
	navigator interfaces.Navigator
	router    *router.Router
	budget    *router.FrameBudget
	logger    *zap.Logger

	mu           sync.Mutex
	state        State
	current      interfaces.Channel
	generation   uint64
	attempts     int
	lastActivity time.Time
	queue        [][]byte
	manualClose  bool
	expired      bool

	// TECHNICAL DISCOVERY: Timers are tracked so Close cancels them instead of
	// leaving callbacks to notice a flag later
	reconnectTimer *time.Timer
	redirectTimer  *time.Timer
	dialCancel     context.CancelFunc
	connCancel     context.CancelFunc

	wg sync.WaitGroup
}

// NewManager wires a manager for sess. navigator may be nil, in which case
// redirect instructions are only logged.
func NewManager(opts Options, sess *session.Session, dialer interfaces.Dialer, events Publisher, navigator interfaces.Navigator, logger *zap.Logger) (*Manager, error) {
	if sess == nil {
		return nil, ErrNilSession
	}
	if dialer == nil {
		return nil, ErrNilDialer
	}
	if events == nil {
		return nil, ErrNilPublisher
	}
	if opts.Endpoint == "" {
		return nil, ErrEmptyEndpoint
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()

	m := &Manager{
		opts:      opts,
		session:   sess,
		dialer:    dialer,
		events:    events,
		navigator: navigator,
		budget:    router.NewFrameBudget(opts.MaxMalformedFrames, opts.MalformedWindow),
		logger: logger.Named("connection").With(
			zap.String("session_code", sess.Code),
			zap.String("client_session_id", sess.ClientSessionID)),
		state: StateIdle,
	}
	m.router = router.NewRouter(m.logger)
	if err := m.registerHandlers(); err != nil {
		return nil, err
	}
	return m, nil
}

// Connect opens a channel unless one is already connecting or open.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectLocked()
}

func (m *Manager) connectLocked() {
	if m.state == StateConnecting || m.state == StateOpen {
		return
	}
	m.manualClose = false
	m.expired = false
	m.stopReconnectTimerLocked()

	m.state = StateConnecting
	m.generation++
	gen := m.generation

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.DialTimeout)
	m.dialCancel = cancel

	m.logger.Info("connecting", zap.String("endpoint", m.opts.Endpoint), zap.Int("attempt", m.attempts))
	m.wg.Add(1)
	go m.dial(ctx, cancel, gen)
}

func (m *Manager) dial(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer m.wg.Done()
	defer cancel()

	// FUNCTIONAL DISCOVERY: The handshake runs without the lock so Send and Close
	// stay responsive while the peer is slow
	ch, err := m.dialer.Dial(ctx, m.opts.Endpoint, m)

	m.mu.Lock()
	if gen != m.generation || m.state != StateConnecting {
		m.mu.Unlock()
		if ch != nil {
			_ = ch.Close(types.CloseNormalClosure, "superseded")
		}
		return
	}
	m.dialCancel = nil

	if err != nil {
		m.logger.Warn("connect failed", zap.Error(err))
		m.handleErrorLocked(err)
		m.handleCloseLocked(types.CloseAbnormalClosure, "")
		m.mu.Unlock()
		return
	}

	m.current = ch
	opened := m.openLocked(ch)
	m.mu.Unlock()

	if opened {
		ch.Start()
	}
}

// openLocked performs the Open transition. It reports false when the flush
// failed and the channel was abandoned.
func (m *Manager) openLocked(ch interfaces.Channel) bool {
	reopened := m.attempts > 0

	m.state = StateOpen
	m.attempts = 0
	m.touchLocked(time.Now())
	m.budget.Reset()

	// ARCHITECTURAL DISCOVERY: The flush completes before the lock is released, so
	// no Send issued after the Open transition can overtake a queued frame
	pending := m.queue
	m.queue = nil
	for i, frame := range pending {
		if err := ch.Send(frame); err != nil {
			m.queue = append(pending[i:], m.queue...)
			m.transmitFailedLocked(err)
			return false
		}
		m.traceFrame("flushed", frame)
	}
	if len(pending) > 0 {
		m.logger.Debug("flushed queued messages", zap.Int("count", len(pending)))
	}

	if reopened && m.opts.ResyncOnReconnect {
		if frame, err := m.reconnectRequestFrame(); err == nil {
			if err := ch.Send(frame); err != nil {
				m.queue = append(m.queue, frame)
				m.transmitFailedLocked(err)
				return false
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.connCancel = cancel
	m.wg.Add(2)
	go m.heartbeatLoop(ctx, ch)
	go m.livenessLoop(ctx, ch)

	m.logger.Info("connected", zap.Uint64("channel", ch.ID()))
	m.publishLocked(hub.Event{Kind: hub.EventOpen})
	m.publishStatusLocked(types.StatusConnected, "")
	return true
}

// Send transmits msg when open and queues it otherwise. It never fails
// loudly: false means the message is queued or was rejected as unencodable.
func (m *Manager) Send(msg interface{}) bool {
	frame, err := types.Encode(msg)
	if err != nil {
		m.logger.Error("rejecting message", zap.Error(err))
		m.mu.Lock()
		m.publishLocked(hub.Event{Kind: hub.EventError, Err: fmt.Errorf("%w: %v", ErrUnsendable, err)})
		m.mu.Unlock()
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sendLocked(frame)
}

func (m *Manager) sendLocked(frame []byte) bool {
	if m.state == StateOpen && m.current != nil {
		if err := m.current.Send(frame); err != nil {
			m.queue = append(m.queue, frame)
			m.transmitFailedLocked(err)
			return false
		}
		m.traceFrame("sent", frame)
		return true
	}

	m.queue = append(m.queue, frame)
	// FUNCTIONAL DISCOVERY: Sending heals the connection, except into a session
	// the peer already declared over
	if m.state != StateConnecting && !m.expired {
		m.connectLocked()
	}
	return false
}

// RequestReconnection asks the peer to resynchronize this client's state.
func (m *Manager) RequestReconnection() bool {
	frame, err := m.reconnectRequestFrame()
	if err != nil {
		m.logger.Error("cannot build reconnect request", zap.Error(err))
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sendLocked(frame)
}

func (m *Manager) reconnectRequestFrame() ([]byte, error) {
	msg := types.ReconnectRequest(m.session.ClientSessionID, m.session.LastKnownState(), time.Now())
	return types.Encode(msg)
}

// Close tears the session down. Queued messages are discarded. Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	m.manualClose = true
	m.generation++
	m.stopReconnectTimerLocked()
	m.stopRedirectTimerLocked()
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	m.stopConnTimersLocked()
	if dropped := len(m.queue); dropped > 0 {
		m.logger.Info("discarding queued messages", zap.Int("count", dropped))
	}
	m.queue = nil

	ch := m.current
	if ch != nil {
		m.state = StateClosing
		m.publishLocked(hub.Event{
			Kind:   hub.EventClose,
			Code:   types.CloseNormalClosure,
			Reason: types.DescribeCloseCode(types.CloseNormalClosure),
			Manual: true,
		})
		m.publishStatusLocked(types.StatusDisconnected, types.TextConnectionClose)
		m.current = nil
	}
	if m.state != StateIdle {
		m.state = StateClosed
	}
	m.mu.Unlock()

	if ch != nil {
		m.logger.Info("closing connection", zap.Uint64("channel", ch.ID()))
		if err := ch.Close(types.CloseNormalClosure, "client closed"); err != nil {
			m.logger.Debug("close failed", zap.Error(err))
		}
	}
}

// Wait blocks until every background goroutine has exited. Call after Close.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// HandleMessage implements interfaces.ChannelHandler
func (m *Manager) HandleMessage(ch interfaces.Channel, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch != m.current {
		return
	}

	// FUNCTIONAL DISCOVERY: Any inbound frame proves the peer alive, even one
	// that fails to decode
	m.touchLocked(time.Now())

	env, err := types.DecodeEnvelope(data)
	if err != nil {
		m.logger.Warn("dropping malformed frame", zap.Int("bytes", len(data)))
		if !m.budget.Allow() {
			m.logger.Error("peer exceeded malformed frame budget", zap.Int("limit", m.opts.MaxMalformedFrames))
			m.publishLocked(hub.Event{Kind: hub.EventError, Err: ErrBrokenPeer})
			m.abandonLocked(ErrBrokenPeer.Error())
			m.scheduleReconnectLocked()
		}
		return
	}

	m.traceFrame("received", data)

	if _, err := m.router.Route(env); err != nil {
		m.logger.Warn("inbound handler failed", zap.Error(err))
	}
	m.publishLocked(hub.Event{Kind: hub.EventMessage, Envelope: env, ConnectionID: ch.ID()})
}

// HandleClose implements interfaces.ChannelHandler
func (m *Manager) HandleClose(ch interfaces.Channel, code int, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch != m.current {
		return
	}
	m.logger.Info("connection closed",
		zap.Int("code", code),
		zap.String("reason", reason),
		zap.String("meaning", types.DescribeCloseCode(code)))
	m.handleCloseLocked(code, reason)
}

// HandleError implements interfaces.ChannelHandler
func (m *Manager) HandleError(ch interfaces.Channel, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch != m.current {
		return
	}
	m.logger.Warn("connection error", zap.Error(err))
	m.handleErrorLocked(err)
}

func (m *Manager) handleCloseLocked(code int, reason string) {
	m.current = nil
	m.stopConnTimersLocked()
	m.state = StateClosed

	m.publishLocked(hub.Event{Kind: hub.EventClose, Code: code, Reason: reason})
	m.publishStatusLocked(types.StatusDisconnected, "")

	if !m.manualClose && !m.expired && code != types.CloseNormalClosure {
		m.scheduleReconnectLocked()
	}
}

func (m *Manager) handleErrorLocked(err error) {
	m.publishLocked(hub.Event{Kind: hub.EventError, Err: err})
	m.publishStatusLocked(types.StatusError, "")
}

// transmitFailedLocked handles a synchronous send failure. The frame has
// already been put back in the queue by the caller.
func (m *Manager) transmitFailedLocked(err error) {
	m.logger.Warn("transmit failed, reconnecting", zap.Error(err), zap.Int("queued", len(m.queue)))
	m.publishLocked(hub.Event{Kind: hub.EventError, Err: fmt.Errorf("%w: %v", ErrTransmitFailed, err)})
	m.abandonLocked("transmit failed")
	m.scheduleReconnectLocked()
}

// abandonLocked drops the current channel without waiting for the transport
// to report a close. Its late events are ignored as stale.
func (m *Manager) abandonLocked(reason string) {
	ch := m.current
	if ch == nil {
		return
	}
	m.current = nil
	m.stopConnTimersLocked()
	m.state = StateClosed

	m.publishLocked(hub.Event{
		Kind:         hub.EventClose,
		Code:         types.CloseClientAbandoned,
		Reason:       reason,
		ConnectionID: ch.ID(),
	})

	// Close may block on the close frame write, so it runs off the lock
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_ = ch.Close(types.CloseClientAbandoned, reason)
	}()
}

func (m *Manager) scheduleReconnectLocked() {
	if m.reconnectTimer != nil {
		return
	}
	if m.attempts >= m.opts.MaxReconnectAttempts {
		m.state = StateFailed
		m.logger.Error("giving up after reconnect attempts", zap.Int("attempts", m.attempts))
		m.publishLocked(hub.Event{Kind: hub.EventFailed, Attempt: m.attempts})
		m.publishStatusLocked(types.StatusFailed, "")
		return
	}

	m.attempts++
	attempt := m.attempts
	delay := Backoff(m.opts.ReconnectInterval, m.opts.ReconnectCap, attempt)

	m.logger.Info("reconnect scheduled", zap.Int("attempt", attempt), zap.Duration("delay", delay))
	m.publishLocked(hub.Event{Kind: hub.EventReconnecting, Attempt: attempt, Delay: delay})
	m.publishStatusLocked(types.StatusReconnecting, types.ReconnectingText(attempt))

	var timer *time.Timer
	m.wg.Add(1)
	timer = time.AfterFunc(delay, func() {
		defer m.wg.Done()
		m.fireReconnect(timer)
	})
	m.reconnectTimer = timer
}

func (m *Manager) fireReconnect(timer *time.Timer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reconnectTimer != timer {
		return
	}
	m.reconnectTimer = nil
	if m.manualClose || m.expired {
		return
	}
	m.connectLocked()
}

func (m *Manager) stopReconnectTimerLocked() {
	if m.reconnectTimer != nil && m.reconnectTimer.Stop() {
		m.wg.Done()
	}
	m.reconnectTimer = nil
}

func (m *Manager) stopRedirectTimerLocked() {
	if m.redirectTimer != nil && m.redirectTimer.Stop() {
		m.wg.Done()
	}
	m.redirectTimer = nil
}

// stopConnTimersLocked ends heartbeat and liveness for the current channel
func (m *Manager) stopConnTimersLocked() {
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
}

func (m *Manager) heartbeatLoop(ctx context.Context, ch interfaces.Channel) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.sendPing(ch, now)
		}
	}
}

func (m *Manager) sendPing(ch interfaces.Channel, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch != m.current {
		return
	}
	frame, err := types.Encode(types.Ping(now, m.session.ClientSessionID))
	if err != nil {
		return
	}
	if err := ch.Send(frame); err != nil {
		m.transmitFailedLocked(err)
		return
	}
	m.traceFrame("ping", frame)
}

// livenessLoop detects a silently dead peer; the transport may never report it
func (m *Manager) livenessLoop(ctx context.Context, ch interfaces.Channel) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.LivenessCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.checkLiveness(ch, now)
		}
	}
}

func (m *Manager) checkLiveness(ch interfaces.Channel, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch != m.current {
		return
	}
	idle := now.Sub(m.lastActivity)
	if idle <= m.opts.ConnectionTimeout {
		return
	}
	m.logger.Warn("no inbound traffic, treating connection as stalled", zap.Duration("idle", idle))
	m.publishStatusLocked(types.StatusTimeout, "")
	m.abandonLocked("liveness timeout")
	m.scheduleReconnectLocked()
}

func (m *Manager) touchLocked(now time.Time) {
	if now.After(m.lastActivity) {
		m.lastActivity = now
	}
}

func (m *Manager) publishLocked(e hub.Event) {
	e.SessionCode = m.session.Code
	if e.ConnectionID == 0 && m.current != nil {
		e.ConnectionID = m.current.ID()
	}
	if err := m.events.Publish(e); err != nil {
		m.logger.Debug("event not published", zap.Stringer("event", e.Kind), zap.Error(err))
	}
}

func (m *Manager) publishStatusLocked(kind types.StatusKind, msg string) {
	status := types.NewStatus(kind, msg)
	if kind == types.StatusConnected {
		status.Dismiss = m.opts.ConnectedDismiss
	}
	m.publishLocked(hub.Event{Kind: hub.EventStatus, Status: status})
}

func (m *Manager) traceFrame(direction string, frame []byte) {
	if m.opts.Debug {
		m.logger.Debug("frame", zap.String("direction", direction), zap.ByteString("data", frame))
	}
}
