// Package app assembles a session link from configuration: one manager, its
// event hub and the optional observers around it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"sessionlink/internal/api"
	"sessionlink/internal/config"
	"sessionlink/internal/connection"
	"sessionlink/internal/hub"
	"sessionlink/internal/journal"
	"sessionlink/internal/metrics"
	"sessionlink/internal/session"
	"sessionlink/internal/status"
	"sessionlink/internal/websocket"
)

// Application coordinates all components for one session
type Application struct {
	config    *config.Config
	logger    *zap.Logger
	session   *session.Session
	endpoint  string
	hub       *hub.Hub
	manager   *connection.Manager
	navigator *terminalNavigator
	indicator *status.Indicator
	collector *metrics.Collector
	journal   *journal.Store
	apiServer *api.Server
	server    *http.Server

	unsubscribe []func()
	done        chan struct{}
	doneOnce    sync.Once
	stopOnce    sync.Once
}

// NewApplication builds every component in dependency order:
// Session → Endpoint → Hub → Dialer → Manager → Observers → API.
// Status lines and redirects go to out.
func NewApplication(cfg *config.Config, logger *zap.Logger, out io.Writer) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	sess, err := session.NewSession(cfg.Endpoint.SessionCode)
	if err != nil {
		return nil, err
	}

	endpoint, err := ResolveEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve endpoint: %w", err)
	}

	eventHub := hub.NewHub(logger)

	dialer := websocket.NewDialer(websocket.DialerConfig{
		HandshakeTimeout: cfg.Connection.DialTimeout,
		WriteTimeout:     cfg.Connection.WriteTimeout,
		SendBuffer:       cfg.Connection.SendBuffer,
	}, logger)

	nav := &terminalNavigator{out: out, logger: logger.Named("navigator")}

	manager, err := connection.NewManager(managerOptions(cfg.Connection, endpoint), sess, dialer, eventHub, nav, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}

	application := &Application{
		config:    cfg,
		logger:    logger.Named("app"),
		session:   sess,
		endpoint:  endpoint,
		hub:       eventHub,
		manager:   manager,
		navigator: nav,
		done:      make(chan struct{}),
	}

	if cfg.Status.Enabled && out != nil {
		application.indicator = status.NewIndicator(out, cfg.Status.NoColor)
	}

	application.collector = metrics.NewCollector(metrics.Gauges{
		QueueLength: func() float64 { return float64(manager.QueueLen()) },
		Attempts:    func() float64 { return float64(manager.Attempts()) },
	}, true)

	if cfg.Journal.Enabled {
		store, err := journal.Open(cfg.Journal, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		application.journal = store
	}

	if cfg.DebugServer.Enabled {
		// ARCHITECTURAL DISCOVERY: A nil *journal.Store must not reach the
		// interface, or the server would treat it as present
		var j api.Journal
		if application.journal != nil {
			j = application.journal
		}
		application.apiServer = api.NewServer(manager, j, application.collector.Handler(), logger)
		application.server = application.apiServer.HTTPServer(cfg.DebugServer)
	}

	return application, nil
}

// ResolveEndpoint picks the channel URL: an explicit URL, then one derived
// from the page URL, then host and scheme.
func ResolveEndpoint(cfg *config.EndpointConfig) (string, error) {
	switch {
	case cfg.URL != "":
		return cfg.URL, nil
	case cfg.PageURL != "":
		return websocket.EndpointFromPage(cfg.PageURL, cfg.SessionCode)
	default:
		return websocket.BuildEndpoint(cfg.Host, cfg.Secure, cfg.SessionCode)
	}
}

func managerOptions(c *config.ConnectionConfig, endpoint string) connection.Options {
	return connection.Options{
		Endpoint:              endpoint,
		MaxReconnectAttempts:  c.MaxReconnectAttempts,
		ReconnectInterval:     c.ReconnectInterval,
		ReconnectCap:          c.ReconnectCap,
		HeartbeatInterval:     c.HeartbeatInterval,
		ConnectionTimeout:     c.ConnectionTimeout,
		LivenessCheckInterval: c.LivenessCheckInterval,
		DialTimeout:           c.DialTimeout,
		RedirectDelay:         c.RedirectDelay,
		ConnectedDismiss:      c.ConnectedDismiss,
		ResyncOnReconnect:     c.ResyncOnReconnect,
		MaxMalformedFrames:    c.MaxMalformedFrames,
		MalformedWindow:       c.MalformedWindow,
		Debug:                 c.Debug,
	}
}

// Start runs the hub, subscribes observers, serves the debug API and dials.
func (app *Application) Start(ctx context.Context) error {
	app.logger.Info("starting session link",
		zap.String("session_code", app.session.Code),
		zap.String("client_session_id", app.session.ClientSessionID),
		zap.String("endpoint", app.endpoint))

	// STEP 1: Hub first so no event is published into a stopped hub. It
	// outlives ctx so the final close still reaches the journal in Stop.
	if err := app.hub.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start event hub: %w", err)
	}

	// STEP 2: Observers
	observers := []hub.Observer{app.collector, hub.ObserverFunc(app.watchTerminal)}
	if app.indicator != nil {
		observers = append(observers, status.Observer(app.indicator))
	}
	if app.journal != nil {
		observers = append(observers, app.journal.Observer(app.session.ClientSessionID))
	}
	for _, o := range observers {
		unsubscribe, err := app.hub.Subscribe(o)
		if err != nil {
			_ = app.hub.Stop()
			return fmt.Errorf("failed to subscribe observer: %w", err)
		}
		app.unsubscribe = append(app.unsubscribe, unsubscribe)
	}

	// STEP 3: Debug server
	if app.server != nil {
		serverErrCh := make(chan error, 1)
		go func() {
			if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrCh <- fmt.Errorf("debug server error: %w", err)
			}
		}()

		select {
		case err := <-serverErrCh:
			_ = app.hub.Stop()
			return err
		case <-time.After(100 * time.Millisecond):
			app.logger.Info("debug server listening", zap.String("addr", app.server.Addr))
		case <-ctx.Done():
			_ = app.hub.Stop()
			return ctx.Err()
		}
	}

	// STEP 4: Connect
	app.manager.Connect()
	return nil
}

// watchTerminal closes Done once the link can no longer recover on its own.
func (app *Application) watchTerminal(e hub.Event) {
	if e.Kind != hub.EventFailed && !(e.Kind == hub.EventClose && e.Manual) {
		return
	}
	app.doneOnce.Do(func() { close(app.done) })
}

// Done is closed when reconnects are exhausted or the link was closed
// deliberately, including the close that follows a session_expired redirect.
func (app *Application) Done() <-chan struct{} {
	return app.done
}

// Stop shuts down in reverse order: Manager → HTTP → Hub → Indicator → Journal.
func (app *Application) Stop(ctx context.Context) error {
	var stopErr error
	app.stopOnce.Do(func() {
		app.logger.Info("shutting down session link")

		// STEP 1: Close the channel and wait for manager goroutines
		app.manager.Close()
		waited := make(chan struct{})
		go func() {
			app.manager.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-ctx.Done():
			app.logger.Warn("manager did not stop in time", zap.Error(ctx.Err()))
			stopErr = ctx.Err()
		}

		// STEP 2: Debug server
		if app.server != nil {
			if err := app.server.Shutdown(ctx); err != nil {
				app.logger.Error("debug server shutdown error", zap.Error(err))
			}
		}

		// STEP 3: Hub delivers what is pending, then stops
		if app.hub.Running() {
			if err := app.hub.Stop(); err != nil {
				app.logger.Error("event hub shutdown error", zap.Error(err))
			}
		}
		for _, unsubscribe := range app.unsubscribe {
			unsubscribe()
		}

		if app.indicator != nil {
			app.indicator.Stop()
		}

		// STEP 4: Journal last so final events are written
		if app.journal != nil {
			if err := app.journal.Close(); err != nil {
				app.logger.Error("journal shutdown error", zap.Error(err))
			}
		}

		app.logger.Info("session link shutdown complete")
	})
	return stopErr
}

// Manager exposes the connection manager for input pumps
func (app *Application) Manager() *connection.Manager {
	return app.manager
}

// Endpoint returns the resolved channel URL
func (app *Application) Endpoint() string {
	return app.endpoint
}

// DebugAddr returns the debug server address, or "" when disabled
func (app *Application) DebugAddr() string {
	if app.server == nil {
		return ""
	}
	return app.server.Addr
}
