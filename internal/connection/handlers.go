package connection

import (
	"time"

	"go.uber.org/zap"
	"sessionlink/internal/hub"
	"sessionlink/pkg/types"
)

// registerHandlers binds the inbound control messages. Handlers run with
// m.mu held, from HandleMessage.
func (m *Manager) registerHandlers() error {
	handlers := map[string]func(*types.Envelope) error{
		types.MessageTypeHeartbeat:            m.onHeartbeat,
		types.MessageTypeConnectionTimeout:    m.onConnectionTimeout,
		types.MessageTypeReconnectionComplete: m.onReconnectionComplete,
		types.MessageTypeSessionExpired:       m.onSessionExpired,
		types.MessageTypeError:                m.onServerError,
		// Liveness is already recorded for every frame
		types.MessageTypePong: func(*types.Envelope) error { return nil },
	}
	for msgType, h := range handlers {
		if err := m.router.Register(msgType, h); err != nil {
			return err
		}
	}
	return nil
}

// onHeartbeat answers immediately, bypassing the queue
func (m *Manager) onHeartbeat(env *types.Envelope) error {
	var hb types.HeartbeatPayload
	if err := env.Decode(&hb); err != nil {
		return err
	}
	frame, err := types.Encode(types.HeartbeatResponse(hb.Timestamp, time.Now()))
	if err != nil {
		return err
	}
	if m.current == nil {
		return nil
	}
	if err := m.current.Send(frame); err != nil {
		m.transmitFailedLocked(err)
		return nil
	}
	m.traceFrame("heartbeat_response", frame)
	return nil
}

func (m *Manager) onConnectionTimeout(env *types.Envelope) error {
	var p types.ConnectionTimeoutPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	m.logger.Warn("peer reported connection timeout",
		zap.String("message", p.Message),
		zap.Bool("should_reconnect", p.ShouldReconnect))
	m.publishStatusLocked(types.StatusTimeout, p.Message)

	if p.ShouldReconnect {
		m.abandonLocked("peer requested reconnect")
		m.scheduleReconnectLocked()
	}
	return nil
}

func (m *Manager) onReconnectionComplete(env *types.Envelope) error {
	var p types.ReconnectionCompletePayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	m.logger.Info("peer resynchronized client", zap.String("message", p.Message))
	m.publishStatusLocked(types.StatusConnected, "")
	m.publishLocked(hub.Event{Kind: hub.EventReconnected, Payload: env.Raw})
	return nil
}

// onSessionExpired stops all retries. With a redirect target, navigation
// and a normal close follow after RedirectDelay.
func (m *Manager) onSessionExpired(env *types.Envelope) error {
	var p types.SessionExpiredPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	m.logger.Warn("session expired",
		zap.String("message", p.Message),
		zap.String("redirect_url", p.RedirectURL))

	m.expired = true
	m.stopConnTimersLocked()
	m.stopReconnectTimerLocked()
	m.publishStatusLocked(types.StatusExpired, p.Message)

	if p.ShouldRedirect && p.RedirectURL != "" {
		m.scheduleRedirectLocked(p.RedirectURL)
	}
	return nil
}

func (m *Manager) scheduleRedirectLocked(target string) {
	m.stopRedirectTimerLocked()

	var timer *time.Timer
	m.wg.Add(1)
	timer = time.AfterFunc(m.opts.RedirectDelay, func() {
		defer m.wg.Done()

		m.mu.Lock()
		if m.redirectTimer != timer {
			m.mu.Unlock()
			return
		}
		m.redirectTimer = nil
		m.mu.Unlock()

		if m.navigator != nil {
			m.navigator.Navigate(target)
		} else {
			m.logger.Info("redirect requested without navigator", zap.String("target", target))
		}
		m.Close()
	})
	m.redirectTimer = timer
}

func (m *Manager) onServerError(env *types.Envelope) error {
	var p types.ErrorPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	m.logger.Warn("peer reported error", zap.String("message", p.Message))
	m.publishStatusLocked(types.StatusError, p.Message)
	return nil
}
