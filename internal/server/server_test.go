package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcpconsole-go/internal/config"
	"mcpconsole-go/internal/console"
	"mcpconsole-go/internal/events"
	"mcpconsole-go/internal/profile"
	"mcpconsole-go/internal/storage"
	"mcpconsole-go/internal/upstream"
	"mcpconsole-go/internal/upstream/types"
)

type stubSession struct{}

func (stubSession) Ping(context.Context) error  { return nil }
func (stubSession) Close(context.Context) error { return nil }

type stubTransport struct {
	mu   sync.Mutex
	caps map[string]types.CapabilityFlags
	fail map[string]error
}

func (t *stubTransport) Connect(ctx context.Context, cfg *config.ServerConfig) (upstream.Session, *upstream.Handshake, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail[cfg.ID]; err != nil {
		return nil, nil, err
	}
	return stubSession{}, &upstream.Handshake{
		Capabilities:  t.caps[cfg.ID],
		ServerName:    cfg.Name,
		ServerVersion: "1.0.0",
	}, nil
}

type shell struct {
	ts       *httptest.Server
	srv      *Server
	bus      *events.Bus
	servers  *upstream.Registry
	profiles *profile.Registry
	dataDir  string
}

func stdio(id, name string) *config.ServerConfig {
	return &config.ServerConfig{
		ID:   id,
		Name: name,
		Transport: config.TransportConfig{
			Type:    types.TransportStdio,
			Command: id + "-mcp",
		},
	}
}

func newShell(t *testing.T) *shell {
	t.Helper()
	logger := zap.NewNop()
	dataDir := t.TempDir()
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	store, err := storage.NewManager(dataDir, logger.Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	transport := &stubTransport{
		caps: map[string]types.CapabilityFlags{
			"alpha": {Tools: true},
			"beta":  {Prompts: true},
		},
		fail: map[string]error{
			"gamma": errors.New("exec: \"gamma-mcp\": executable file not found in $PATH"),
		},
	}
	servers := upstream.NewRegistry(transport, logger,
		upstream.WithEventBus(bus),
		upstream.WithNotificationHandler(upstream.NewFailureFileHandler(dataDir, logger)))
	servers.Replace([]*config.ServerConfig{stdio("alpha", "Alpha"), stdio("beta", "Beta"), stdio("gamma", "Gamma")})

	profiles := profile.NewRegistry(servers, logger, profile.WithStore(store), profile.WithEventBus(bus))
	profiles.Replace([]*config.ProfileConfig{{
		ID:   "focus",
		Name: "Focus",
		Members: []config.ProfileMember{
			{ServerID: "alpha", StartupOrder: 1},
			{ServerID: "beta", StartupOrder: 2},
		},
	}})

	con := console.New(servers, profiles, logger, console.WithEventBus(bus), console.WithViewStore(store))

	cfg := config.DefaultConfig()
	cfg.CORSAllowedOrigins = []string{"http://localhost:5173"}
	srv := New(Deps{
		Console:  con,
		Servers:  servers,
		Profiles: profiles,
		Bus:      bus,
		History:  store,
		DataDir:  dataDir,
	}, cfg, logger)
	t.Cleanup(srv.Streams().Stop)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &shell{ts: ts, srv: srv, bus: bus, servers: servers, profiles: profiles, dataDir: dataDir}
}

func (s *shell) do(t *testing.T, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, s.ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func TestConsoleEndpoints_SelectFallsBackToSupportedView(t *testing.T) {
	s := newShell(t)

	code, snap := s.do(t, http.MethodGet, "/api/v1/console", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "dashboard", snap["current_view"])

	for _, id := range []string{"alpha", "beta"} {
		code, body := s.do(t, http.MethodPost, "/api/v1/servers/"+id+"/connect?wait=true", nil)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "connected", body["status"])
	}

	code, state := s.do(t, http.MethodPut, "/api/v1/console/view", map[string]string{"view": "tools"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "tools", state["current_view"])
	assert.Equal(t, "alpha", state["selected_server_id"], "selector mode picks the first capable server")

	code, result := s.do(t, http.MethodPost, "/api/v1/console/select", map[string]string{"server_id": "beta"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, result["selected"])
	assert.Equal(t, true, result["fell_back"])

	_, snap = s.do(t, http.MethodGet, "/api/v1/console", nil)
	assert.Equal(t, "prompts", snap["current_view"])
	assert.Equal(t, "beta", snap["selected_server_id"])
	assert.Equal(t, "prompts", snap["required_capability"])
	assert.Equal(t, map[string]interface{}{"shown": true, "mode": "selector"}, snap["context_bar"])
}

func TestConsoleEndpoints_RejectBadInput(t *testing.T) {
	s := newShell(t)

	code, body := s.do(t, http.MethodPut, "/api/v1/console/view", map[string]string{"view": "inspector"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "invalid request body")

	code, _ = s.do(t, http.MethodPost, "/api/v1/console/select", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, result := s.do(t, http.MethodPost, "/api/v1/console/select", map[string]string{"server_id": "ghost"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, result["selected"])
}

func TestServerEndpoints(t *testing.T) {
	s := newShell(t)

	code, list := s.do(t, http.MethodGet, "/api/v1/servers", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 3, list["total"])

	code, _ = s.do(t, http.MethodGet, "/api/v1/servers?scope=everything", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodGet, "/api/v1/servers/ghost", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(t, http.MethodPost, "/api/v1/servers/ghost/connect", nil)
	assert.Equal(t, http.StatusNotFound, code)

	t.Run("ping needs a live session", func(t *testing.T) {
		code, _ := s.do(t, http.MethodPost, "/api/v1/servers/alpha/ping", nil)
		assert.Equal(t, http.StatusConflict, code)

		code, _ = s.do(t, http.MethodPost, "/api/v1/servers/alpha/connect?wait=true", nil)
		require.Equal(t, http.StatusOK, code)

		code, body := s.do(t, http.MethodPost, "/api/v1/servers/alpha/ping", nil)
		require.Equal(t, http.StatusOK, code)
		metrics := body["metrics"].(map[string]interface{})
		assert.EqualValues(t, 1, metrics["requests_sent"])
		assert.EqualValues(t, 1, metrics["responses_received"])
	})

	t.Run("background connect", func(t *testing.T) {
		code, _ := s.do(t, http.MethodPost, "/api/v1/servers/beta/connect", nil)
		require.Equal(t, http.StatusAccepted, code)
		require.Eventually(t, func() bool {
			srv, _ := s.servers.Get("beta")
			return srv.Status == types.StatusConnected
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("disconnect", func(t *testing.T) {
		code, body := s.do(t, http.MethodPost, "/api/v1/servers/beta/disconnect", nil)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "disconnected", body["status"])
		assert.Equal(t, []interface{}{"prompts"}, body["capabilities"], "discovered capabilities survive disconnect")
	})
}

func TestServerEndpoints_WaitedConnectOutlivesClient(t *testing.T) {
	s := newShell(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/servers/alpha/connect?wait=true", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	s.srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	server, ok := s.servers.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, types.StatusConnected, server.Status)
	assert.Empty(t, server.LastError)
}

func TestServerEndpoints_ConnectFailure(t *testing.T) {
	s := newShell(t)

	code, body := s.do(t, http.MethodPost, "/api/v1/servers/gamma/connect?wait=true", nil)
	require.Equal(t, http.StatusBadGateway, code)
	assert.Contains(t, body["error"], "executable file not found")
	server := body["server"].(map[string]interface{})
	assert.Equal(t, "error", server["status"])
	assert.Contains(t, server["last_error"], "executable file not found")

	require.Eventually(t, func() bool {
		_, failures := s.do(t, http.MethodGet, "/api/v1/failures", nil)
		entries, _ := failures["entries"].([]interface{})
		return len(entries) == 1 && strings.Contains(entries[0].(string), `Server "Gamma"`)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestProfileEndpoints(t *testing.T) {
	s := newShell(t)

	code, _ := s.do(t, http.MethodPost, "/api/v1/profiles/ghost/activate", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, record := s.do(t, http.MethodPost, "/api/v1/profiles/focus/activate?wait=true", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "focus", record["profile_id"])
	assert.EqualValues(t, 2, record["success_count"])
	assert.NotEmpty(t, record["completed_at"])

	code, list := s.do(t, http.MethodGet, "/api/v1/profiles", nil)
	require.Equal(t, http.StatusOK, code)
	active := list["active"].(map[string]interface{})
	assert.Equal(t, false, active["is_activating"])
	assert.Equal(t, "focus", active["profile"].(map[string]interface{})["id"])

	code, history := s.do(t, http.MethodGet, "/api/v1/profiles/focus/activations?limit=5", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, history["activations"], 1)

	code, _ = s.do(t, http.MethodGet, "/api/v1/profiles/focus/activations?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodPost, "/api/v1/profiles/deactivate", nil)
	require.Equal(t, http.StatusNoContent, code)
	_, list = s.do(t, http.MethodGet, "/api/v1/profiles", nil)
	assert.Nil(t, list["active"])

	_, servers := s.do(t, http.MethodGet, "/api/v1/servers?scope=display", nil)
	assert.EqualValues(t, 3, servers["total"], "no active profile displays every server")
}

func TestProtocolEndpoint_WithoutLog(t *testing.T) {
	s := newShell(t)

	code, body := s.do(t, http.MethodGet, "/api/v1/protocol?server=alpha", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []interface{}{}, body["events"])
}

func TestCORSPreflight(t *testing.T) {
	s := newShell(t)

	req, err := http.NewRequest(http.MethodOptions, s.ts.URL+"/api/v1/console/view", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebSocket_StreamsFilteredEvents(t *testing.T) {
	s := newShell(t)

	url := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/ws?server=alpha"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.srv.Streams().ActiveConnections() == 1 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.servers.Connect(context.Background(), "beta"))
	require.NoError(t, s.servers.Connect(context.Background(), "alpha"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var ev events.Event
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Contains(t, []string{"", "alpha"}, ev.ServerID, "events for other servers are filtered")
		if ev.Type == events.ServerStateChanged && ev.NewState == "connected" {
			assert.Equal(t, "alpha", ev.ServerID)
			break
		}
	}

	s.srv.Streams().Stop()
	require.Eventually(t, func() bool { return s.srv.Streams().ActiveConnections() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_StopSendsGoingAway(t *testing.T) {
	s := newShell(t)

	url := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.srv.Streams().ActiveConnections() == 1 },
		2*time.Second, 10*time.Millisecond)

	s.srv.Streams().Stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected read error: %v", err)
		break
	}
}
