package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"sessionlink/internal/config"
	"sessionlink/internal/connection"
	"sessionlink/internal/journal"
	"sessionlink/internal/testpeer"
	"sessionlink/pkg/types"
)

const waitFor = 2 * time.Second

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(t *testing.T, peer *testpeer.Peer) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Endpoint.SessionCode = "ABC123"
	cfg.Endpoint.URL = peer.URL("ABC123")
	cfg.Connection.ReconnectInterval = 20 * time.Millisecond
	cfg.Connection.ReconnectCap = 80 * time.Millisecond
	cfg.Connection.RedirectDelay = 30 * time.Millisecond
	cfg.Status.NoColor = true
	cfg.Journal.Enabled = true
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")
	return cfg
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func startApp(t *testing.T, cfg *config.Config, out io.Writer) *Application {
	t.Helper()
	application, err := NewApplication(cfg, zaptest.NewLogger(t), out)
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	})
	return application
}

func TestResolveEndpoint(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.EndpointConfig
		want string
	}{
		{"explicit url", config.EndpointConfig{SessionCode: "ABC123", URL: "ws://x/ws/", PageURL: "https://ignored/"}, "ws://x/ws/"},
		{"page url", config.EndpointConfig{SessionCode: "ABC123", PageURL: "https://class.test/room"}, "wss://class.test/ws/design-thinking/ABC123/"},
		{"host", config.EndpointConfig{SessionCode: "ABC123", Host: "localhost:8000"}, "ws://localhost:8000/ws/design-thinking/ABC123/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			got, err := ResolveEndpoint(&cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewApplication_RejectsBadConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Endpoint.SessionCode = "not valid!"
	_, err := NewApplication(cfg, nil, nil)
	assert.Error(t, err)

	cfg = config.DefaultConfig()
	_, err = NewApplication(cfg, nil, nil)
	assert.Error(t, err, "a session code is required")
}

func TestApplication_ConnectsAndJournals(t *testing.T) {
	peer := testpeer.New(t)
	out := &syncBuffer{}
	application := startApp(t, testConfig(t, peer), out)

	_, err := peer.WaitAccepted(waitFor)
	require.NoError(t, err)
	assert.Equal(t, "/ws/design-thinking/ABC123/", peer.Paths()[0])

	assert.Eventually(t, func() bool {
		return application.Manager().State() == connection.StateOpen
	}, waitFor, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "[connected]")
	}, waitFor, 5*time.Millisecond)

	assert.True(t, application.Manager().Send(map[string]interface{}{"type": "student_update", "n": 1}))
	frame, err := peer.NextFrameOfType("student_update", waitFor)
	require.NoError(t, err)
	assert.Equal(t, "student_update", frame.Type())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, application.Stop(ctx))

	select {
	case <-application.Done():
	default:
		t.Fatal("Done should close after a manual close")
	}
}

func TestApplication_JournalSurvivesStop(t *testing.T) {
	peer := testpeer.New(t)
	cfg := testConfig(t, peer)
	application := startApp(t, cfg, nil)

	_, err := peer.WaitAccepted(waitFor)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return application.Manager().State() == connection.StateOpen
	}, waitFor, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, application.Stop(ctx))

	store, err := journal.Open(cfg.Journal, nil)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	entries, err := store.Recent(context.Background(), "ABC123", 50)
	require.NoError(t, err)
	kinds := make([]string, 0, len(entries))
	for _, e := range entries {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, "open")
	assert.Equal(t, "status", kinds[len(kinds)-1], "final status follows the manual close")
	assert.Contains(t, kinds, "close")
}

func TestApplication_SessionExpiredRedirect(t *testing.T) {
	peer := testpeer.New(t)
	out := &syncBuffer{}
	application := startApp(t, testConfig(t, peer), out)

	_, err := peer.WaitAccepted(waitFor)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return application.Manager().State() == connection.StateOpen
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, peer.SendJSON(map[string]interface{}{
		"type":            types.MessageTypeSessionExpired,
		"message":         "Session over",
		"should_redirect": true,
		"redirect_url":    "/design-thinking/",
	}))

	select {
	case <-application.Done():
	case <-time.After(waitFor):
		t.Fatal("Done should close after the redirect")
	}
	assert.Equal(t, "/design-thinking/", application.navigator.last())
	assert.Contains(t, out.String(), "redirect: /design-thinking/")
	assert.Contains(t, out.String(), "Session over")
}

func TestApplication_DebugServer(t *testing.T) {
	peer := testpeer.New(t)
	cfg := testConfig(t, peer)
	cfg.DebugServer.Enabled = true
	cfg.DebugServer.Port = freePort(t)
	application := startApp(t, cfg, nil)

	_, err := peer.WaitAccepted(waitFor)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return application.Manager().State() == connection.StateOpen
	}, waitFor, 5*time.Millisecond)

	base := fmt.Sprintf("http://%s", application.DebugAddr())

	resp, err := http.Post(base+"/api/send", "application/json", strings.NewReader(`{"type":"student_update"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = peer.NextFrameOfType("student_update", waitFor)
	require.NoError(t, err)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "sessionlink_connection_open 1")

	resp, err = http.Get(base + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestApplication_FailedLinkIsDone(t *testing.T) {
	peer := testpeer.New(t)
	peer.SetReject(true)
	cfg := testConfig(t, peer)
	cfg.Connection.MaxReconnectAttempts = 2
	application := startApp(t, cfg, nil)

	select {
	case <-application.Done():
	case <-time.After(waitFor):
		t.Fatal("Done should close once reconnects are exhausted")
	}
	assert.Equal(t, connection.StateFailed, application.Manager().State())
	assert.Equal(t, 3, peer.Attempts())
}
