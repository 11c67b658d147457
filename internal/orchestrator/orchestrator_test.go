package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-linkshare/internal/domain"
	"github.com/sirosfoundation/go-linkshare/internal/events"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestOrchestrator(t *testing.T, cfg Config, opts ...Option) *Orchestrator {
	t.Helper()
	if cfg.BindHost == "" {
		cfg.BindHost = "127.0.0.1"
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = time.Second
	}

	o, err := New(cfg, zap.NewNop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o
}

func testNetwork(t *testing.T, name string) domain.Network {
	t.Helper()

	music := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(music, "song.mp3"), []byte("la la la"), 0o644))
	books := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(books, "novel.txt"), []byte("once upon a time"), 0o644))

	return domain.Network{
		Name: name,
		LinkedPaths: []domain.LinkedPath{
			{Name: "music", Path: music},
			{Name: "books", Path: books},
		},
	}
}

func httpGet(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestStartServer_ServesManifestAndFiles(t *testing.T) {
	o := newTestOrchestrator(t, Config{})

	group, err := o.StartServer(context.Background(), domain.ModeLocalHost, testNetwork(t, "home"))
	require.NoError(t, err)
	require.NotNil(t, group)
	assert.Equal(t, uint64(1), group.ID)
	require.Len(t, group.Addresses, 1)
	assert.Equal(t, "127.0.0.1", group.Addresses[0].IP)
	assert.NotZero(t, group.Addresses[0].Port)
	assert.False(t, group.StartedAt.IsZero())

	base := group.Addresses[0].URL()

	status, body := httpGet(t, base+"/")
	require.Equal(t, http.StatusOK, status)
	var names []string
	require.NoError(t, json.Unmarshal([]byte(body), &names))
	assert.Equal(t, []string{"music", "books"}, names)

	status, body = httpGet(t, base+"/books/novel.txt")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "once upon a time", body)

	status, _ = httpGet(t, base+"/films/")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestStartServer_SameNameAppends(t *testing.T) {
	o := newTestOrchestrator(t, Config{})
	network := testNetwork(t, "home")

	g1, err := o.StartServer(context.Background(), domain.ModeLocalHost, network)
	require.NoError(t, err)
	g2, err := o.StartServer(context.Background(), domain.ModeLocalHost, network)
	require.NoError(t, err)

	assert.NotEqual(t, g1.ID, g2.ID)
	assert.NotEqual(t, g1.Addresses[0].Port, g2.Addresses[0].Port)

	groups := o.ListServers("home")
	require.Len(t, groups, 2)
	assert.Equal(t, g1.ID, groups[0].ID)
	assert.Equal(t, g2.ID, groups[1].ID)
	assert.Equal(t, 2, o.Running())
	assert.Equal(t, []string{"home"}, o.Networks())
}

func TestStartServer_ConcurrentIDsUnique(t *testing.T) {
	o := newTestOrchestrator(t, Config{})
	network := testNetwork(t, "home")

	const n = 10
	ids := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := o.StartServer(context.Background(), domain.ModeLocalHost, network)
			if assert.NoError(t, err) {
				ids <- g.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[uint64]bool{}
	for id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.Len(t, seen, n)
	assert.Len(t, o.ListServers("home"), n)
}

func TestStopServer_RemovesExactlyOne(t *testing.T) {
	o := newTestOrchestrator(t, Config{})
	network := testNetwork(t, "home")

	var started []*domain.ServerGroup
	for i := 0; i < 3; i++ {
		g, err := o.StartServer(context.Background(), domain.ModeLocalHost, network)
		require.NoError(t, err)
		started = append(started, g)
	}

	require.NoError(t, o.StopServer("home", started[1].ID))

	groups := o.ListServers("home")
	require.Len(t, groups, 2)
	assert.Equal(t, started[0].ID, groups[0].ID)
	assert.Equal(t, started[2].ID, groups[1].ID)

	// The stopped instance stops accepting connections.
	addr := started[1].Addresses[0]
	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", addr.IP, addr.Port), 100*time.Millisecond)
		if err != nil {
			return true
		}
		conn.Close()
		return false
	}, 5*time.Second, 20*time.Millisecond)

	// The others keep serving.
	status, _ := httpGet(t, started[0].Addresses[0].URL()+"/")
	assert.Equal(t, http.StatusOK, status)
}

func TestStopServer_UnknownLeavesRegistryUnchanged(t *testing.T) {
	o := newTestOrchestrator(t, Config{})

	g, err := o.StartServer(context.Background(), domain.ModeLocalHost, testNetwork(t, "home"))
	require.NoError(t, err)

	assert.ErrorIs(t, o.StopServer("home", g.ID+100), ErrServerNotFound)
	assert.ErrorIs(t, o.StopServer("work", g.ID), ErrServerNotFound)
	assert.Len(t, o.ListServers("home"), 1)

	require.NoError(t, o.StopServer("home", g.ID))
	assert.ErrorIs(t, o.StopServer("home", g.ID), ErrServerNotFound)
}

func TestListServers_UnknownNetwork(t *testing.T) {
	o := newTestOrchestrator(t, Config{})

	groups := o.ListServers("nowhere")
	assert.NotNil(t, groups)
	assert.Empty(t, groups)
}

func TestStartServer_InputErrors(t *testing.T) {
	o := newTestOrchestrator(t, Config{})
	dir := t.TempDir()

	tests := []struct {
		name    string
		network domain.Network
		wantErr error
	}{
		{
			name:    "no linked paths",
			network: domain.Network{Name: "empty"},
			wantErr: ErrNoLinkedPaths,
		},
		{
			name: "duplicate names",
			network: domain.Network{Name: "dup", LinkedPaths: []domain.LinkedPath{
				{Name: "a", Path: dir}, {Name: "a", Path: dir},
			}},
			wantErr: ErrInvalidNetwork,
		},
		{
			name:    "name with slash",
			network: domain.Network{Name: "bad", LinkedPaths: []domain.LinkedPath{{Name: "a/b", Path: dir}}},
			wantErr: ErrInvalidNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			group, err := o.StartServer(context.Background(), domain.ModeLocalHost, tt.network)
			assert.Nil(t, group)
			assert.ErrorIs(t, err, tt.wantErr)

			var startErr *StartError
			require.True(t, errors.As(err, &startErr))
			assert.Equal(t, StartKindInput, startErr.Kind)
		})
	}
	assert.Equal(t, 0, o.Running())
}

func TestStartServer_Modes(t *testing.T) {
	o := newTestOrchestrator(t, Config{})
	network := testNetwork(t, "home")

	for _, mode := range []domain.ServerMode{domain.ModeInternet, domain.ModeDarkWeb} {
		t.Run(string(mode), func(t *testing.T) {
			_, err := o.StartServer(context.Background(), mode, network)
			assert.ErrorIs(t, err, ErrModeNotImplemented)
		})
	}

	_, err := o.StartServer(context.Background(), domain.ServerMode("Carrier Pigeon"), network)
	assert.ErrorIs(t, err, ErrUnknownMode)

	assert.Empty(t, o.ListServers("home"))
}

func TestStartServer_BindFailureLeavesRegistryUntouched(t *testing.T) {
	o := newTestOrchestrator(t, Config{})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	network := testNetwork(t, "home")
	network.Port = uint16(l.Addr().(*net.TCPAddr).Port)

	group, err := o.StartServer(context.Background(), domain.ModeLocalHost, network)
	assert.Nil(t, group)
	assert.ErrorIs(t, err, ErrBind)

	var startErr *StartError
	require.True(t, errors.As(err, &startErr))
	assert.Equal(t, StartKindBind, startErr.Kind)
	assert.Equal(t, "home", startErr.Network)

	assert.Empty(t, o.ListServers("home"))
}

func TestStartServer_FixedPort(t *testing.T) {
	o := newTestOrchestrator(t, Config{})

	network := testNetwork(t, "home")
	network.Port = uint16(freePort(t))

	group, err := o.StartServer(context.Background(), domain.ModeLocalHost, network)
	require.NoError(t, err)
	assert.Equal(t, network.Port, group.Addresses[0].Port)
}

func TestStartServer_RejectPolicy(t *testing.T) {
	o := newTestOrchestrator(t, Config{NamePolicy: NamePolicyReject})
	network := testNetwork(t, "home")

	g, err := o.StartServer(context.Background(), domain.ModeLocalHost, network)
	require.NoError(t, err)

	_, err = o.StartServer(context.Background(), domain.ModeLocalHost, network)
	assert.ErrorIs(t, err, ErrNetworkBusy)
	assert.Len(t, o.ListServers("home"), 1)

	// Once stopped, the name is free again.
	require.NoError(t, o.StopServer("home", g.ID))
	_, err = o.StartServer(context.Background(), domain.ModeLocalHost, network)
	assert.NoError(t, err)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{NamePolicy: "replace"}, zap.NewNop())
	assert.Error(t, err)

	_, err = New(Config{PortMin: 9000}, zap.NewNop())
	assert.Error(t, err)
}

func TestStartServer_ManagedPortRange(t *testing.T) {
	port := freePort(t)
	o := newTestOrchestrator(t, Config{PortMin: port, PortMax: port})
	network := testNetwork(t, "home")

	g, err := o.StartServer(context.Background(), domain.ModeLocalHost, network)
	require.NoError(t, err)
	assert.Equal(t, uint16(port), g.Addresses[0].Port)

	_, err = o.StartServer(context.Background(), domain.ModeLocalHost, network)
	assert.ErrorIs(t, err, ErrPortsExhausted)

	// The port returns to the pool once the instance has exited.
	require.NoError(t, o.StopServer("home", g.ID))
	require.Eventually(t, func() bool { return o.ports.InUse() == 0 }, 5*time.Second, 10*time.Millisecond)

	g, err = o.StartServer(context.Background(), domain.ModeLocalHost, network)
	require.NoError(t, err)
	assert.Equal(t, uint16(port), g.Addresses[0].Port)
}

func TestStartServer_AllInterfacesUsesResolver(t *testing.T) {
	var gotPort uint16
	resolver := func(port uint16) []domain.Address {
		gotPort = port
		return []domain.Address{{IP: "192.0.2.10", Port: port}, {IP: "127.0.0.1", Port: port}}
	}
	o := newTestOrchestrator(t, Config{BindHost: "0.0.0.0"}, WithAddressResolver(resolver))

	g, err := o.StartServer(context.Background(), domain.ModeLocalHost, testNetwork(t, "home"))
	require.NoError(t, err)
	require.Len(t, g.Addresses, 2)
	assert.Equal(t, gotPort, g.Addresses[0].Port)
	assert.Equal(t, "192.0.2.10", g.Addresses[0].IP)
}

func TestStartServer_CanceledContext(t *testing.T) {
	o := newTestOrchestrator(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.StartServer(ctx, domain.ModeLocalHost, testNetwork(t, "home"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, o.Running())
}

func TestLifecycleEvents(t *testing.T) {
	hub := events.NewHub()
	sub, cancel := hub.Subscribe(16)
	defer cancel()

	o := newTestOrchestrator(t, Config{}, WithPublisher(hub))

	g, err := o.StartServer(context.Background(), domain.ModeLocalHost, testNetwork(t, "home"))
	require.NoError(t, err)
	require.NoError(t, o.StopServer("home", g.ID))

	want := []events.Type{events.InstanceStarted, events.InstanceStopping, events.InstanceStopped}
	for _, typ := range want {
		select {
		case e := <-sub:
			assert.Equal(t, typ, e.Type)
			assert.Equal(t, "home", e.Network)
			assert.Equal(t, g.ID, e.ServerID)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestFailedInstanceIsUnregistered(t *testing.T) {
	hub := events.NewHub()
	sub, cancel := hub.Subscribe(16)
	defer cancel()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	o := newTestOrchestrator(t, Config{}, WithPublisher(hub), WithMetrics(metrics))

	g, err := o.StartServer(context.Background(), domain.ModeLocalHost, testNetwork(t, "home"))
	require.NoError(t, err)
	<-sub // started

	inst, ok := o.Instance("home", g.ID)
	require.True(t, ok)
	require.NoError(t, inst.listener.Close())

	select {
	case e := <-sub:
		assert.Equal(t, events.InstanceFailed, e.Type)
		assert.NotEmpty(t, e.Message)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for failure event")
	}

	assert.Empty(t, o.ListServers("home"))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.failuresTotal))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.running.WithLabelValues("home")))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	o := newTestOrchestrator(t, Config{}, WithMetrics(metrics))
	network := testNetwork(t, "home")

	g, err := o.StartServer(context.Background(), domain.ModeLocalHost, network)
	require.NoError(t, err)
	_, err = o.StartServer(context.Background(), domain.ModeLocalHost, network)
	require.NoError(t, err)
	_, err = o.StartServer(context.Background(), domain.ModeLocalHost, domain.Network{Name: "empty"})
	require.Error(t, err)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.startsTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.running.WithLabelValues("home")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.startErrors.WithLabelValues("input")))

	require.NoError(t, o.StopServer("home", g.ID))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.running.WithLabelValues("home")))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.stopsTotal) == 1
	}, 5*time.Second, 10*time.Millisecond)

	count, err := testutil.GatherAndCount(reg, "linkshare_instance_starts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestShutdown(t *testing.T) {
	o := newTestOrchestrator(t, Config{})

	var groups []*domain.ServerGroup
	for _, name := range []string{"home", "work", "home"} {
		g, err := o.StartServer(context.Background(), domain.ModeLocalHost, testNetwork(t, name))
		require.NoError(t, err)
		groups = append(groups, g)
	}
	// One stopped just before shutdown is still waited for.
	require.NoError(t, o.StopServer("work", groups[1].ID))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))

	assert.Equal(t, 0, o.Running())
	for _, g := range groups {
		_, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", g.Addresses[0].Port), 100*time.Millisecond)
		assert.Error(t, err)
	}

	_, err := o.StartServer(context.Background(), domain.ModeLocalHost, testNetwork(t, "home"))
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestShutdown_DuringStartReleasesInstance(t *testing.T) {
	var (
		o         *Orchestrator
		boundPort uint16
		shutErr   error
	)
	// Shutdown lands after the listener is bound but before registration.
	resolver := func(port uint16) []domain.Address {
		boundPort = port
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutErr = o.Shutdown(ctx)
		return []domain.Address{{IP: "127.0.0.1", Port: port}}
	}
	port := freePort(t)
	o = newTestOrchestrator(t, Config{BindHost: "0.0.0.0", PortMin: port, PortMax: port}, WithAddressResolver(resolver))

	g, err := o.StartServer(context.Background(), domain.ModeLocalHost, testNetwork(t, "home"))
	assert.ErrorIs(t, err, ErrShuttingDown)
	assert.Nil(t, g)
	require.NoError(t, shutErr)
	require.NotZero(t, boundPort)

	assert.Equal(t, 0, o.Running())
	assert.Empty(t, o.ListServers("home"))
	assert.Equal(t, 0, o.ports.InUse())

	_, err = net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", boundPort), 100*time.Millisecond)
	assert.Error(t, err)
}
