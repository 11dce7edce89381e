package mcp

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asteroid-belt/trophysync/internal/config"
	"github.com/asteroid-belt/trophysync/internal/engine"
	"github.com/asteroid-belt/trophysync/internal/provider"
	"github.com/asteroid-belt/trophysync/internal/telemetry"
	"github.com/asteroid-belt/trophysync/internal/testutil"
)

const account = "76561197960287930"

// mockTelemetryClient records MCP tool calls.
type mockTelemetryClient struct {
	telemetry.Client

	mu    sync.Mutex
	calls map[string][]bool
}

func newMockTelemetry() *mockTelemetryClient {
	return &mockTelemetryClient{Client: telemetry.Noop(), calls: map[string][]bool{}}
}

func (m *mockTelemetryClient) TrackMCPToolCalled(toolName string, _ int64, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[toolName] = append(m.calls[toolName], success)
}

func (m *mockTelemetryClient) results(toolName string) []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.calls[toolName]...)
}

type fixture struct {
	server    *Server
	engine    *engine.Engine
	provider  *provider.Memory
	telemetry *mockTelemetryClient
}

func setupServer(t *testing.T) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.BaseDir = t.TempDir()
	cfg.Sync.FullDelay = 0
	cfg.Sync.QuickDelay = 0
	cfg.Sync.SpecificDelay = 0

	mem := provider.NewMemory()
	eng, err := engine.New(cfg, engine.WithDB(testutil.NewTestDB(t)), engine.WithProvider(mem))
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	tc := newMockTelemetry()
	return &fixture{
		server:    NewServer(eng, tc),
		engine:    eng,
		provider:  mem,
		telemetry: tc,
	}
}

func TestNewServer(t *testing.T) {
	f := setupServer(t)
	assert.NotNil(t, f.server.server)
	assert.Same(t, f.engine, f.server.engine)
}

func TestNewServer_WithNilTelemetry(t *testing.T) {
	f := setupServer(t)
	s := NewServer(f.engine, nil)
	assert.NotNil(t, s.telemetry)
}
